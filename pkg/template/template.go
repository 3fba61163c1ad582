// Package template generates starter registry entries for common kinds of
// local services.
package template

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// TemplateType represents the kind of service to generate
type TemplateType string

const (
	TypeWeb     TemplateType = "web"
	TypeWebapp  TemplateType = "webapp"
	TypeAPI     TemplateType = "api"
	TypeService TemplateType = "service"
	TypeWorker  TemplateType = "worker"
	TypeGhost   TemplateType = "ghost"
	TypePlanned TemplateType = "planned"
	TypeSimple  TemplateType = "simple"
	TypeBasic   TemplateType = "basic"
)

// Entry is one service of the registry file. Field names follow the
// registry YAML keys.
type Entry struct {
	ID             string            `yaml:"id"`
	Name           string            `yaml:"name,omitempty"`
	Description    string            `yaml:"description,omitempty"`
	Group          string            `yaml:"group,omitempty"`
	Port           int               `yaml:"port,omitempty"`
	UIPort         *int              `yaml:"ui_port,omitempty"`
	HealthEndpoint string            `yaml:"health_endpoint,omitempty"`
	Dependencies   []string          `yaml:"dependencies,omitempty"`
	Ghost          bool              `yaml:"ghost,omitempty"`
	GhostETA       string            `yaml:"ghost_eta,omitempty"`
	StartCommand   string            `yaml:"start_command,omitempty"`
	WorkingDir     string            `yaml:"working_dir,omitempty"`
	Env            map[string]string `yaml:"env,omitempty"`
	LogDir         string            `yaml:"log_dir,omitempty"`
}

// Options tune a generated entry. Zero values keep the type's defaults.
type Options struct {
	Port         int
	Group        string
	Dependencies []string
}

// Generator provides template generation functionality
type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

// Generate creates a registry entry of the given type.
func (g *Generator) Generate(templateType TemplateType, id string, opts Options) (*Entry, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("service id is required")
	}
	var e *Entry
	switch templateType {
	case TypeWeb, TypeWebapp:
		e = webEntry(id)
	case TypeAPI, TypeService:
		e = apiEntry(id)
	case TypeWorker:
		e = workerEntry(id)
	case TypeGhost, TypePlanned:
		e = ghostEntry(id)
	case TypeSimple, TypeBasic:
		e = &Entry{ID: id, Port: 8080, StartCommand: "./" + id}
	default:
		return nil, fmt.Errorf("unknown template type: %s (supported: %s)", templateType, strings.Join(g.GetSupportedTypes(), ", "))
	}
	if opts.Port > 0 {
		e.Port = opts.Port
	}
	if opts.Group != "" {
		e.Group = opts.Group
	}
	if len(opts.Dependencies) > 0 {
		e.Dependencies = append([]string(nil), opts.Dependencies...)
	}
	return e, nil
}

// GenerateYAML renders the entry as a registry document with one service.
func (g *Generator) GenerateYAML(templateType TemplateType, id string, opts Options) ([]byte, error) {
	e, err := g.Generate(templateType, id, opts)
	if err != nil {
		return nil, err
	}
	doc := struct {
		Services []*Entry `yaml:"services"`
	}{Services: []*Entry{e}}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal template: %w", err)
	}
	return out, nil
}

// GetSupportedTypes returns the canonical type names; aliases are accepted too.
func (g *Generator) GetSupportedTypes() []string {
	return []string{
		string(TypeWeb),
		string(TypeAPI),
		string(TypeWorker),
		string(TypeGhost),
		string(TypeSimple),
	}
}

func webEntry(id string) *Entry {
	return &Entry{
		ID:             id,
		Name:           id,
		Description:    "Web front end",
		Group:          "web",
		Port:           8000,
		HealthEndpoint: "/",
		StartCommand:   "python -m http.server 8000",
		Env:            map[string]string{"PORT": "8000"},
		LogDir:         "logs",
	}
}

func apiEntry(id string) *Entry {
	return &Entry{
		ID:             id,
		Name:           id,
		Description:    "HTTP API",
		Group:          "core",
		Port:           5100,
		HealthEndpoint: "/api/health",
		StartCommand:   "./" + id,
		Env:            map[string]string{"PORT": "5100", "LOG_LEVEL": "info"},
		LogDir:         "logs",
	}
}

func workerEntry(id string) *Entry {
	return &Entry{
		ID:             id,
		Name:           id,
		Description:    "Background worker with a status endpoint",
		Group:          "workers",
		Port:           5200,
		HealthEndpoint: "/healthz",
		StartCommand:   "./" + id,
		Env:            map[string]string{"WORKER_THREADS": "4"},
		LogDir:         "logs",
	}
}

func ghostEntry(id string) *Entry {
	return &Entry{
		ID:          id,
		Name:        id,
		Description: "Planned service, not built yet",
		Group:       "labs",
		Ghost:       true,
		GhostETA:    "TBD",
	}
}
