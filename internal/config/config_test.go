package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, data string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(data), 0o644))
	return p
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:5003", c.Server.Listen)
	assert.Equal(t, "/api", c.Server.BasePath)
	assert.Equal(t, "registry.yaml", c.Registry.Path)
	assert.True(t, c.Registry.Watch)
	assert.Equal(t, time.Second, c.Registry.RestartDelay)
	assert.Equal(t, 30*time.Second, c.Health.Interval)
	assert.Equal(t, 3*time.Second, c.Health.Timeout)
	assert.Equal(t, 4, c.Health.Concurrency)
	assert.Equal(t, 2, c.Health.DegradedThreshold)
	assert.True(t, c.Healing.Enabled)
	assert.Equal(t, 10*time.Second, c.Healing.SettleDelay)
	assert.Equal(t, 2*time.Second, c.Healing.DependencyPause)
	assert.Equal(t, 3*time.Second, c.Healing.StartPause)
	assert.Equal(t, "http://localhost:5000", c.Escalation.URL)
	assert.Equal(t, filepath.Join("data", "incidents.db"), c.Incidents.DSN)
	assert.Empty(t, c.Incidents.Sinks)
	assert.Equal(t, 24, c.Heartbeat.Hours)
	assert.Equal(t, 48, c.Heartbeat.KeepHours)
	assert.True(t, c.Metrics.Enabled)
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, 10, c.Log.MaxSizeMB)
}

func TestLoadFile(t *testing.T) {
	p := writeFile(t, "workshop.toml", `
use_os_env = false
env = ["ROOT=/srv"]

[server]
listen = "0.0.0.0:9000"

[health]
interval = "5s"
degraded_threshold = 3

[healing]
enabled = false
settle_delay = "250ms"

[incidents]
dsn = "postgres://u:p@localhost/db"
timezone = "Australia/Sydney"
sinks = ["clickhouse://localhost:9000", "opensearch://localhost:9200/idx"]

[log]
format = "json"
file = "/var/log/workshop.log"
`)
	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", c.Server.Listen)
	assert.Equal(t, 5*time.Second, c.Health.Interval)
	assert.Equal(t, 3, c.Health.DegradedThreshold)
	assert.False(t, c.Healing.Enabled)
	assert.Equal(t, 250*time.Millisecond, c.Healing.SettleDelay)
	assert.Equal(t, "postgres://u:p@localhost/db", c.Incidents.DSN)
	assert.Len(t, c.Incidents.Sinks, 2)
	assert.Equal(t, "json", c.Log.Format)
	assert.Equal(t, []string{"ROOT=/srv"}, c.Env)
	assert.False(t, c.UseOSEnv)

	loc, err := c.Location()
	require.NoError(t, err)
	assert.Equal(t, "Australia/Sydney", loc.String())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WORKSHOP_SERVER_LISTEN", "127.0.0.1:7777")
	t.Setenv("WORKSHOP_HEALTH_INTERVAL", "1m")
	t.Setenv("WORKSHOP_HEALING_ENABLED", "false")
	p := writeFile(t, "w.toml", "[server]\nlisten = \"127.0.0.1:6000\"\n")

	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7777", c.Server.Listen, "environment wins over the file")
	assert.Equal(t, time.Minute, c.Health.Interval)
	assert.False(t, c.Healing.Enabled)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.toml", "[server\nlisten ="))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	p := writeFile(t, "v.toml", `
[server]
listen = " "
[health]
interval = "0s"
concurrency = 0
[heartbeat]
hours = 72
keep_hours = 48
[incidents]
timezone = "Mars/Olympus"
`)
	_, err := Load(p)
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{"server.listen", "health.interval", "health.concurrency", "heartbeat.hours", "incidents.timezone"} {
		assert.True(t, strings.Contains(msg, want), "missing %q in %q", want, msg)
	}
}

func TestServiceEnv(t *testing.T) {
	dotenv := writeFile(t, ".env", "# shared\nexport A=1\nB = two\nmalformed\n")
	c := &Config{EnvFiles: []string{dotenv}, Env: []string{"B=three", "C=${A}-c"}}
	e, err := c.ServiceEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{"A=1", "B=three", "C=1-c"}, e.Merge(nil))

	c.EnvFiles = []string{filepath.Join(t.TempDir(), "nope.env")}
	_, err = c.ServiceEnv()
	assert.Error(t, err)
}
