package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestHelpMentionsWorkshop(t *testing.T) {
	out, err := runCLI(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "workshop")
	assert.Contains(t, out, "serve")
	assert.Contains(t, out, "incidents")
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version+"\n", out)
}

func TestCommandsPrintDaemonResponses(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.Method+" "+r.URL.RequestURI())
		mu.Unlock()
		switch r.URL.Path {
		case "/services", "/incidents", "/healing":
			_, _ = w.Write([]byte(`[]`))
		default:
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		}
	}))
	defer server.Close()

	cases := []struct {
		args []string
		want string
	}{
		{[]string{"services"}, "GET /services"},
		{[]string{"service", "api"}, "GET /services/api"},
		{[]string{"start", "api"}, "POST /services/api/start"},
		{[]string{"stop", "api"}, "POST /services/api/stop"},
		{[]string{"restart", "api"}, "POST /services/api/restart"},
		{[]string{"health", "api"}, "GET /services/api/health"},
		{[]string{"group", "start", "core"}, "POST /groups/core/start"},
		{[]string{"group", "stop", "core"}, "POST /groups/core/stop"},
		{[]string{"incidents", "--app", "api", "--limit", "3"}, "GET /incidents?app=api&limit=3"},
		{[]string{"annotate", "INC-0002", "restarted", "by", "hand"}, "POST /incidents/INC-0002/annotate"},
		{[]string{"briefing"}, "GET /briefing"},
		{[]string{"healing"}, "GET /healing"},
		{[]string{"reload"}, "POST /registry/reload"},
	}
	for _, tc := range cases {
		t.Run(strings.Join(tc.args, " "), func(t *testing.T) {
			mu.Lock()
			paths = nil
			mu.Unlock()
			out, err := runCLI(t, append(tc.args, "--api-url", server.URL)...)
			require.NoError(t, err)
			assert.NotEmpty(t, strings.TrimSpace(out))
			mu.Lock()
			defer mu.Unlock()
			require.Len(t, paths, 1)
			assert.Equal(t, tc.want, paths[0])
		})
	}
}

func TestCommandArgumentErrors(t *testing.T) {
	_, err := runCLI(t, "start")
	assert.Error(t, err)
	_, err = runCLI(t, "annotate", "INC-0001")
	assert.Error(t, err)
	_, err = runCLI(t, "incidents", "--limit=-1", "--api-url", "http://127.0.0.1:1")
	assert.ErrorContains(t, err, "--limit")
}

func TestStartPrintsResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"starting","dependency_chain":["db"]}`))
	}))
	defer server.Close()

	out, err := runCLI(t, "start", "api", "--api-url", server.URL)
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "starting"`)
	assert.Contains(t, out, `"db"`)
}

func TestAPIErrorsSurface(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"api is already running","status":"conflict"}`))
	}))
	defer server.Close()

	_, err := runCLI(t, "start", "api", "--api-url", server.URL)
	assert.EqualError(t, err, "API error: api is already running")
}

func TestStatusUnreachable(t *testing.T) {
	_, err := runCLI(t, "status", "--api-url", "http://127.0.0.1:1", "--api-timeout", "200ms")
	assert.ErrorContains(t, err, "not reachable")
}

func TestTemplateCommand(t *testing.T) {
	out, err := runCLI(t, "template", "api", "users", "--port", "5105", "--deps", "db,cache")
	require.NoError(t, err)
	assert.Contains(t, out, "id: users")
	assert.Contains(t, out, "port: 5105")
	assert.Contains(t, out, "- cache")

	_, err = runCLI(t, "template", "cron", "x")
	assert.ErrorContains(t, err, "unknown template type")
}
