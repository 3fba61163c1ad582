package registry

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/loykin/workshop/internal/env"
	"github.com/loykin/workshop/internal/logger"
	"github.com/loykin/workshop/internal/process"
)

// DefaultHealthEndpoint is probed when a definition does not name one.
const DefaultHealthEndpoint = "/api/health"

// Definition is one service entry of the registry file.
type Definition struct {
	ID             string            `yaml:"id" validate:"required"`
	Name           string            `yaml:"name"`
	Description    string            `yaml:"description"`
	Group          string            `yaml:"group"`
	Port           int               `yaml:"port" validate:"min=0,max=65535"`
	UIPort         *int              `yaml:"ui_port" validate:"omitempty,min=1,max=65535"`
	HealthEndpoint string            `yaml:"health_endpoint"`
	Dependencies   []string          `yaml:"dependencies"`
	Ghost          bool              `yaml:"ghost"`
	GhostETA       string            `yaml:"ghost_eta"`
	StartCommand   string            `yaml:"start_command"`
	WorkingDir     string            `yaml:"working_dir"`
	Favicon        string            `yaml:"favicon"`
	Env            map[string]string `yaml:"env"`
	LogDir         string            `yaml:"log_dir"`
}

type document struct {
	Services []Definition `yaml:"services" validate:"dive"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// LoadDefinitions reads and validates the registry file at path.
func LoadDefinitions(path string) ([]Definition, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseDefinitions(b)
}

// ParseDefinitions decodes registry YAML, applies defaults and rejects
// invalid or duplicate entries. Unknown dependency ids are tolerated.
func ParseDefinitions(b []byte) ([]Definition, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, errors.New("empty registry file")
	}
	var doc document
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("invalid registry yaml: %w", err)
	}
	if err := validatorInstance().Struct(&doc); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return nil, fmt.Errorf("invalid registry: %s", strings.Join(msgs, "; "))
		}
		return nil, err
	}
	seen := make(map[string]bool, len(doc.Services))
	for i := range doc.Services {
		d := &doc.Services[i]
		d.ID = strings.TrimSpace(d.ID)
		if seen[d.ID] {
			return nil, fmt.Errorf("invalid registry: duplicate service id %q", d.ID)
		}
		seen[d.ID] = true
		if d.Name == "" {
			d.Name = d.ID
		}
		if d.HealthEndpoint == "" {
			d.HealthEndpoint = DefaultHealthEndpoint
		} else if !strings.HasPrefix(d.HealthEndpoint, "/") {
			d.HealthEndpoint = "/" + d.HealthEndpoint
		}
		if d.Dependencies == nil {
			d.Dependencies = []string{}
		}
	}
	return doc.Services, nil
}

// processSpec converts the launch fields into a process.Spec. When shared
// is set its variables sit under the service's own env.
func (d Definition) processSpec(shared *env.Env) process.Spec {
	own := make([]string, 0, len(d.Env))
	for k, v := range d.Env {
		own = append(own, k+"="+v)
	}
	sort.Strings(own)
	if shared != nil {
		own = shared.Merge(own)
	}
	return process.Spec{
		Name:       d.ID,
		Command:    d.StartCommand,
		WorkDir:    d.WorkingDir,
		Env:        own,
		ReplaceEnv: shared != nil,
		Output:     logger.OutputConfig{Dir: d.LogDir},
	}
}
