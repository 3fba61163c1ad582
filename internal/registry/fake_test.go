package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/loykin/workshop/internal/incident"
	"github.com/loykin/workshop/internal/process"
)

type fakeLauncher struct {
	mu         sync.Mutex
	next       int
	spawned    []string
	terminated []int
	exited     map[int]bool
	failFor    map[string]error

	// when hold is set, Spawn announces itself on entered and blocks until hold is closed
	hold    chan struct{}
	entered chan string
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{next: 1000, failFor: map[string]error{}, exited: map[int]bool{}}
}

func (f *fakeLauncher) holdSpawns(n int) {
	f.hold = make(chan struct{})
	f.entered = make(chan string, n)
}

func (f *fakeLauncher) Spawn(spec process.Spec) (int, error) {
	if f.hold != nil {
		f.entered <- spec.Name
		<-f.hold
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failFor[spec.Name]; ok {
		return 0, err
	}
	if spec.Command == "" {
		return 0, process.ErrEmptyCommand
	}
	f.next++
	f.spawned = append(f.spawned, spec.Name)
	return f.next, nil
}

func (f *fakeLauncher) Terminate(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, pid)
	f.exited[pid] = true
	return nil
}

func (f *fakeLauncher) Alive(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return pid > 0 && !f.exited[pid]
}

func (f *fakeLauncher) exit(pid int) {
	f.mu.Lock()
	f.exited[pid] = true
	f.mu.Unlock()
}

func (f *fakeLauncher) terminatedPIDs() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.terminated...)
}

func (f *fakeLauncher) spawnCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.spawned {
		if s == id {
			n++
		}
	}
	return n
}

type recorded struct {
	mu      sync.Mutex
	entries []incident.Entry
}

func (r *recorded) LogEvent(_ context.Context, e incident.Entry) incident.Incident {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return incident.Incident{AppID: e.AppID, Event: e.Event, Cause: e.Cause}
}

func (r *recorded) byEvent(ev incident.Event) []incident.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []incident.Entry
	for _, e := range r.entries {
		if e.Event == ev {
			out = append(out, e)
		}
	}
	return out
}

type failures struct {
	mu  sync.Mutex
	ids []string
}

func (f *failures) OnHealthFailure(id string) {
	f.mu.Lock()
	f.ids = append(f.ids, id)
	f.mu.Unlock()
}

func (f *failures) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ids)
}

var errLaunch = errors.New("exec: not found")

const fixture = `
services:
  - id: alpha
    name: Alpha
    group: core
    port: 5101
    start_command: ./alpha
    dependencies: [beta]
  - id: beta
    name: Beta
    group: core
    port: 5102
    start_command: ./beta
  - id: gamma
    group: tools
    port: 5103
    start_command: ./gamma
    dependencies: [beta, missing]
  - id: phantom
    group: tools
    port: 5104
    ghost: true
    ghost_eta: Q3
`

func writeRegistry(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write registry: %v", err)
	}
	return path
}

func newTestRegistry(t *testing.T, content string) (*Registry, *fakeLauncher, *recorded) {
	t.Helper()
	l := newFakeLauncher()
	rec := &recorded{}
	reg := New(Options{
		Path:         writeRegistry(t, content),
		RestartDelay: -1,
		Launcher:     l,
		Recorder:     rec,
	})
	return reg, l, rec
}
