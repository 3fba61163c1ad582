// Package env composes the environment handed to spawned services:
// daemon environment, then workshop-wide variables, then per-service values.
package env

import (
	"os"
	"sort"
	"strings"
)

type Var map[string]string

type Env struct {
	Var  Var // workshop-wide variables
	base Var // snapshot of the daemon environment, nil when not inherited
}

func New() *Env {
	return &Env{Var: make(Var)}
}

// FromOS snapshots the daemon environment as the base layer.
func (e *Env) FromOS() *Env {
	base := make(Var)
	for _, kv := range os.Environ() {
		if k, v, ok := split(kv); ok {
			base[k] = v
		}
	}
	e.base = base
	return e
}

// WithSet returns a copy of e with k set.
func (e *Env) WithSet(k, v string) *Env {
	c := &Env{Var: make(Var, len(e.Var)+1), base: e.base}
	for kk, vv := range e.Var {
		c.Var[kk] = vv
	}
	if k != "" {
		c.Var[k] = v
	}
	return c
}

// Set adds pairs in "K=V" form; malformed entries are skipped.
func (e *Env) Set(pairs ...string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	for _, kv := range pairs {
		if k, v, ok := split(kv); ok {
			e.Var[k] = v
		}
	}
}

// Merge layers perService over the workshop-wide variables and the base,
// expands ${VAR} references against the result and returns sorted "K=V" pairs.
func (e *Env) Merge(perService []string) []string {
	m := make(Var, len(e.base)+len(e.Var)+len(perService))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.Var {
		if k != "" {
			m[k] = v
		}
	}
	for _, kv := range perService {
		if k, v, ok := split(kv); ok {
			m[k] = v
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out
}

// expand substitutes ${VAR} one level deep; unknown names are left as is.
func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			break
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			break
		}
		name := s[i+2 : i+2+j]
		b.WriteString(s[:i])
		if v, ok := m[name]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : i+3+j])
		}
		s = s[i+3+j:]
	}
	b.WriteString(s)
	return b.String()
}

func split(kv string) (string, string, bool) {
	i := strings.IndexByte(kv, '=')
	if i <= 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}
