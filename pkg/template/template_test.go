package template

import (
	"strings"
	"testing"

	"github.com/loykin/workshop/internal/registry"
)

func TestGenerator_Generate(t *testing.T) {
	generator := NewGenerator()

	tests := []struct {
		name         string
		templateType TemplateType
		id           string
		expectError  bool
		validate     func(*testing.T, *Entry)
	}{
		{
			name:         "web_template",
			templateType: TypeWeb,
			id:           "site",
			validate: func(t *testing.T, e *Entry) {
				if e.Port != 8000 || e.HealthEndpoint != "/" {
					t.Errorf("unexpected web entry %+v", e)
				}
				if e.Env["PORT"] != "8000" {
					t.Errorf("expected PORT env, got %v", e.Env)
				}
			},
		},
		{
			name:         "api_template_alias",
			templateType: TypeService,
			id:           "users",
			validate: func(t *testing.T, e *Entry) {
				if e.StartCommand != "./users" || e.Group != "core" {
					t.Errorf("unexpected api entry %+v", e)
				}
			},
		},
		{
			name:         "worker_template",
			templateType: TypeWorker,
			id:           "indexer",
			validate: func(t *testing.T, e *Entry) {
				if e.HealthEndpoint != "/healthz" {
					t.Errorf("unexpected health endpoint %s", e.HealthEndpoint)
				}
			},
		},
		{
			name:         "ghost_template",
			templateType: TypePlanned,
			id:           "oracle",
			validate: func(t *testing.T, e *Entry) {
				if !e.Ghost || e.StartCommand != "" {
					t.Errorf("ghost entry should have no command: %+v", e)
				}
			},
		},
		{
			name:         "simple_template",
			templateType: TypeBasic,
			id:           "tool",
			validate: func(t *testing.T, e *Entry) {
				if e.Port != 8080 {
					t.Errorf("unexpected port %d", e.Port)
				}
			},
		},
		{name: "unknown_type", templateType: "cron", id: "x", expectError: true},
		{name: "empty_id", templateType: TypeWeb, id: "  ", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := generator.Generate(tt.templateType, tt.id, Options{})
			if tt.expectError {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if e.ID != strings.TrimSpace(tt.id) {
				t.Errorf("id = %s", e.ID)
			}
			tt.validate(t, e)
		})
	}
}

func TestGenerateAppliesOptions(t *testing.T) {
	deps := []string{"db"}
	e, err := NewGenerator().Generate(TypeAPI, "api", Options{Port: 6000, Group: "edge", Dependencies: deps})
	if err != nil {
		t.Fatal(err)
	}
	deps[0] = "changed"
	if e.Port != 6000 || e.Group != "edge" || len(e.Dependencies) != 1 || e.Dependencies[0] != "db" {
		t.Errorf("options not applied: %+v", e)
	}
}

func TestGenerateYAMLLoadsAsRegistry(t *testing.T) {
	g := NewGenerator()
	for _, typ := range g.GetSupportedTypes() {
		t.Run(typ, func(t *testing.T) {
			out, err := g.GenerateYAML(TemplateType(typ), "svc-"+typ, Options{Dependencies: []string{"db"}})
			if err != nil {
				t.Fatal(err)
			}
			if !strings.HasPrefix(string(out), "services:") {
				t.Fatalf("unexpected document:\n%s", out)
			}
			defs, err := registry.ParseDefinitions(out)
			if err != nil {
				t.Fatalf("generated entry rejected: %v\n%s", err, out)
			}
			if len(defs) != 1 || defs[0].ID != "svc-"+typ || len(defs[0].Dependencies) != 1 {
				t.Errorf("unexpected definitions %+v", defs)
			}
		})
	}
}

func TestGenerateYAMLUnknownType(t *testing.T) {
	if _, err := NewGenerator().GenerateYAML("nope", "x", Options{}); err == nil {
		t.Fatal("expected error")
	}
}
