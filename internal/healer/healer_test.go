package healer

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/workshop/internal/incident"
	"github.com/loykin/workshop/internal/process"
	"github.com/loykin/workshop/internal/registry"
)

var fast = Options{SettleDelay: time.Millisecond, DependencyPause: -1, StartPause: -1}

type fakeRegistry struct {
	mu      sync.Mutex
	deps    []string
	healthy func(call int) bool
	checks  int
	calls   []string
	gate    chan struct{}
}

func (f *fakeRegistry) note(s string) {
	f.mu.Lock()
	f.calls = append(f.calls, s)
	f.mu.Unlock()
}

func (f *fakeRegistry) Get(id string) (registry.View, error) {
	return registry.View{ID: id, Dependencies: f.deps}, nil
}

func (f *fakeRegistry) StartService(_ context.Context, id string) (registry.StartResult, error) {
	f.note("start " + id)
	return registry.StartResult{Status: registry.StatusStarting}, nil
}

func (f *fakeRegistry) StopService(_ context.Context, id string) error {
	f.note("stop " + id)
	return nil
}

func (f *fakeRegistry) RestartService(_ context.Context, id string) (int, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.note("restart " + id)
	return 1, nil
}

func (f *fakeRegistry) CheckHealth(_ context.Context, id string) (registry.HealthResult, error) {
	f.mu.Lock()
	f.checks++
	n := f.checks
	f.mu.Unlock()
	if f.healthy != nil && f.healthy(n) {
		return registry.HealthResult{Status: registry.HealthHealthy}, nil
	}
	return registry.HealthResult{Status: registry.HealthUnreachable}, nil
}

func (f *fakeRegistry) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type countingNotifier struct {
	n   atomic.Int32
	err error
}

func (c *countingNotifier) Notify(context.Context, string, string) error {
	c.n.Add(1)
	return c.err
}

func newLog(t *testing.T) *incident.Log {
	t.Helper()
	return incident.NewLog(context.Background(), nil)
}

func byCause(incs []incident.Incident, cause string) []incident.Incident {
	var out []incident.Incident
	for _, i := range incs {
		if i.Cause == cause {
			out = append(out, i)
		}
	}
	return out
}

func TestRecoversInFirstTier(t *testing.T) {
	reg := &fakeRegistry{healthy: func(int) bool { return true }}
	log := newLog(t)
	n := &countingNotifier{}
	h := New(reg, log, n, fast)

	h.OnHealthFailure("api")
	h.Wait()

	assert.Equal(t, []string{"restart api"}, reg.snapshot())
	incs := log.GetIncidents(context.Background(), incident.Query{})
	require.Len(t, incs, 2)
	assert.Equal(t, "tier_1_recovery", incs[0].Cause)
	assert.Equal(t, incident.OutcomeRecovered, incs[0].Outcome)
	assert.Equal(t, CauseHealthCheckFailed, incs[1].Cause)
	assert.Zero(t, n.n.Load())
	assert.False(t, h.Active("api"))
}

func TestRecoversInSecondTier(t *testing.T) {
	reg := &fakeRegistry{deps: []string{"db"}, healthy: func(n int) bool { return n == 2 }}
	log := newLog(t)
	h := New(reg, log, nil, fast)

	h.OnHealthFailure("api")
	h.Wait()

	assert.Equal(t, []string{"restart api", "restart db", "restart api"}, reg.snapshot())
	incs := log.GetIncidents(context.Background(), incident.Query{})
	require.NotEmpty(t, incs)
	assert.Equal(t, "tier_2_recovery", incs[0].Cause)
	assert.Len(t, byCause(incs, "tier_1_failed"), 1)
}

func TestEscalatesAfterAllTiers(t *testing.T) {
	reg := &fakeRegistry{deps: []string{"db", "cache"}}
	log := newLog(t)
	n := &countingNotifier{err: fmt.Errorf("connection refused")}
	h := New(reg, log, n, fast)

	h.OnHealthFailure("api")
	h.Wait()

	assert.Equal(t, []string{
		"restart api",
		"restart db", "restart cache", "restart api",
		"stop api", "stop db", "stop cache",
		"start db", "start cache", "start api",
	}, reg.snapshot())

	incs := log.GetIncidents(context.Background(), incident.Query{})
	escalated := byCause(incs, CauseAllTiersFailed)
	require.Len(t, escalated, 1)
	assert.Equal(t, incident.EventCrash, escalated[0].Event)
	assert.Equal(t, incident.OutcomeEscalated, escalated[0].Outcome)
	assert.Len(t, byCause(incs, "tier_2_failed"), 1)
	assert.Equal(t, int32(1), n.n.Load())
	assert.False(t, h.Active("api"))
}

func TestDuplicateFailureIsIgnored(t *testing.T) {
	reg := &fakeRegistry{gate: make(chan struct{}), healthy: func(int) bool { return true }}
	log := newLog(t)
	h := New(reg, log, nil, fast)

	h.OnHealthFailure("api")
	h.OnHealthFailure("api")
	assert.True(t, h.Active("api"))
	sessions := h.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "api", sessions[0].AppID)
	assert.NotEmpty(t, sessions[0].ID)

	close(reg.gate)
	h.Wait()

	incs := log.GetIncidents(context.Background(), incident.Query{})
	assert.Len(t, byCause(incs, CauseHealthCheckFailed), 1)
	assert.Equal(t, []string{"restart api"}, reg.snapshot())

	// a fresh failure after completion starts a new sequence
	h.OnHealthFailure("api")
	h.Wait()
	assert.Len(t, byCause(log.GetIncidents(context.Background(), incident.Query{}), CauseHealthCheckFailed), 2)
}

func TestServicesHealIndependently(t *testing.T) {
	reg := &fakeRegistry{gate: make(chan struct{}), healthy: func(int) bool { return true }}
	h := New(reg, newLog(t), nil, fast)
	h.OnHealthFailure("a")
	h.OnHealthFailure("b")
	assert.Len(t, h.Sessions(), 2)
	close(reg.gate)
	h.Wait()
	assert.Empty(t, h.Sessions())
}

func TestCloseAbortsWaits(t *testing.T) {
	reg := &fakeRegistry{}
	h := New(reg, newLog(t), nil, Options{SettleDelay: time.Hour})
	h.OnHealthFailure("api")

	done := make(chan struct{})
	go func() {
		h.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not abort the running sequence")
	}
	assert.False(t, h.Active("api"))

	h.OnHealthFailure("api")
	assert.False(t, h.Active("api"), "no sequences start after Close")
}

type stubLauncher struct {
	mu   sync.Mutex
	next int
}

func (s *stubLauncher) Spawn(process.Spec) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return 4000 + s.next, nil
}

func (s *stubLauncher) Terminate(int) error { return nil }

func (s *stubLauncher) Alive(pid int) bool { return pid > 0 }

func TestClosedPortHealsAndEscalatesEndToEnd(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	var notified atomic.Int32
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/notify" {
			notified.Add(1)
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer sink.Close()

	path := filepath.Join(t.TempDir(), "registry.yaml")
	def := fmt.Sprintf("services:\n  - id: web\n    port: %d\n    start_command: ./web\n", port)
	require.NoError(t, os.WriteFile(path, []byte(def), 0o644))

	log := newLog(t)
	reg := registry.New(registry.Options{
		Path:         path,
		RestartDelay: -1,
		ProbeTimeout: 200 * time.Millisecond,
		Launcher:     &stubLauncher{},
		Recorder:     log,
	})
	h := New(reg, log, NewHTTPNotifier(sink.URL, time.Second), fast)
	reg.SetFailureHandler(h)
	ctx := context.Background()

	_, err = reg.StartService(ctx, "web")
	require.NoError(t, err)
	res, err := reg.CheckHealth(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, registry.HealthUnreachable, res.Status)
	v, _ := reg.Get("web")
	assert.Equal(t, registry.StatusStopped, v.Status)

	h.Wait()

	incs := log.GetIncidents(ctx, incident.Query{Limit: 100, AppID: "web"})
	assert.Len(t, byCause(incs, CauseHealthCheckFailed), 1)
	escalated := 0
	for _, i := range incs {
		if i.Outcome == incident.OutcomeEscalated {
			escalated++
			assert.Equal(t, incident.EventCrash, i.Event)
		}
	}
	assert.Equal(t, 1, escalated)
	assert.Equal(t, int32(1), notified.Load())
	assert.NotEmpty(t, byCause(incs, CauseSelfHealing), "registry operations carry the healing cause")
}
