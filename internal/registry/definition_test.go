package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/workshop/internal/env"
)

func TestParseDefinitionsDefaults(t *testing.T) {
	defs, err := ParseDefinitions([]byte(`
services:
  - id: api
    port: 8080
    ui_port: 8081
    health_endpoint: status
    env:
      B: "2"
      A: "1"
    log_dir: /tmp/logs
  - id: worker
    name: Worker
    health_endpoint: /ready
`))
	require.NoError(t, err)
	require.Len(t, defs, 2)

	api := defs[0]
	assert.Equal(t, "api", api.Name)
	assert.Equal(t, "/status", api.HealthEndpoint)
	require.NotNil(t, api.UIPort)
	assert.Equal(t, 8081, *api.UIPort)
	assert.Equal(t, []string{}, api.Dependencies)

	spec := api.processSpec(nil)
	assert.Equal(t, []string{"A=1", "B=2"}, spec.Env)
	shared := env.New()
	shared.Set("A=0", "ROOT=/srv")
	assert.Equal(t, []string{"A=1", "B=2", "ROOT=/srv"}, api.processSpec(shared).Env)
	assert.True(t, api.processSpec(shared).ReplaceEnv)
	assert.False(t, spec.ReplaceEnv)
	assert.Equal(t, "api", spec.Name)
	assert.Equal(t, "/tmp/logs", spec.Output.Dir)

	assert.Equal(t, "Worker", defs[1].Name)
	assert.Equal(t, "/ready", defs[1].HealthEndpoint)

	defs, err = ParseDefinitions([]byte("services:\n  - id: x\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultHealthEndpoint, defs[0].HealthEndpoint)
}

func TestParseDefinitionsRejects(t *testing.T) {
	cases := map[string]string{
		"empty":      "  \n",
		"yaml":       "services: [:::",
		"missing id": "services:\n  - name: nameless\n",
		"bad port":   "services:\n  - id: a\n    port: 70000\n",
		"bad ui":     "services:\n  - id: a\n    ui_port: 70000\n",
		"duplicate":  "services:\n  - id: a\n  - id: a\n",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDefinitions([]byte(in))
			assert.Error(t, err)
		})
	}
}

func TestLoadDefinitionsMissingFile(t *testing.T) {
	_, err := LoadDefinitions("/nonexistent/registry.yaml")
	assert.Error(t, err)
}
