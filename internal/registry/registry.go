// Package registry owns the state of every supervised service and drives
// its lifecycle: dependency-aware start, stop, restart and health probing.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/loykin/workshop/internal/env"
	"github.com/loykin/workshop/internal/incident"
	"github.com/loykin/workshop/internal/metrics"
	"github.com/loykin/workshop/internal/process"
)

// Defaults applied by New for zero Options fields.
const (
	DefaultRestartDelay      = time.Second
	DefaultProbeTimeout      = 3 * time.Second
	DefaultProbeHost         = "127.0.0.1"
	DefaultDegradedThreshold = 2
	DefaultHeartbeatHours    = 24
)

type Options struct {
	// Path is the registry definition file.
	Path string
	// RestartDelay separates stop and start in RestartService.
	RestartDelay time.Duration
	ProbeHost    string
	ProbeTimeout time.Duration
	// DegradedThreshold is the number of consecutive degraded probes reported as a failure.
	DegradedThreshold int
	HeartbeatHours    int
	// Env holds variables shared by every spawned service.
	Env *env.Env

	Launcher   Launcher
	Recorder   Recorder
	Heartbeat  HeartbeatSource
	Resources  ResourceSource
	HTTPClient *http.Client
}

// Registry is the lock-guarded container of service records. The lock is
// held only for in-memory transitions, never across a probe or a spawn.
type Registry struct {
	opts   Options
	client *http.Client

	mu       sync.Mutex
	services map[string]*service
	order    []string

	hooksMu   sync.RWMutex
	failure   FailureHandler
	observers []HealthObserver
}

// New builds a registry and loads opts.Path. A load failure is logged and
// leaves the registry empty.
func New(opts Options) *Registry {
	if opts.RestartDelay < 0 {
		opts.RestartDelay = 0
	}
	if opts.ProbeHost == "" {
		opts.ProbeHost = DefaultProbeHost
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	if opts.DegradedThreshold <= 0 {
		opts.DegradedThreshold = DefaultDegradedThreshold
	}
	if opts.HeartbeatHours <= 0 {
		opts.HeartbeatHours = DefaultHeartbeatHours
	}
	if opts.Launcher == nil {
		opts.Launcher = process.NewLauncher()
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	r := &Registry{opts: opts, client: client, services: make(map[string]*service)}
	if opts.Path != "" {
		_ = r.Reload()
	}
	return r
}

// SetFailureHandler wires the component told about health failures.
func (r *Registry) SetFailureHandler(h FailureHandler) {
	r.hooksMu.Lock()
	r.failure = h
	r.hooksMu.Unlock()
}

// AddObserver registers o for every applied probe result.
func (r *Registry) AddObserver(o HealthObserver) {
	r.hooksMu.Lock()
	r.observers = append(r.observers, o)
	r.hooksMu.Unlock()
}

// Reload re-reads the definition file. Existing ids keep their runtime
// fields; ids missing from the file are dropped. On error the registry is
// left untouched.
func (r *Registry) Reload() error {
	defs, err := LoadDefinitions(r.opts.Path)
	if err != nil {
		slog.Error("registry load failed", "path", r.opts.Path, "error", err)
		return err
	}
	r.Replace(defs)
	return nil
}

// Replace installs defs as the new service set, preserving runtime state
// of ids that already exist.
func (r *Registry) Replace(defs []Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[string]*service, len(defs))
	order := make([]string, 0, len(defs))
	ghosts := 0
	for _, d := range defs {
		s, ok := r.services[d.ID]
		if ok {
			s.def = d
		} else {
			s = &service{def: d, status: StatusStopped, health: HealthUnknown}
		}
		if d.Ghost {
			ghosts++
			if s.status != StatusStopped {
				slog.Warn("service became ghost while active", "service", d.ID, "pid", s.pid)
			}
			s.gen++
			s.status = StatusStopped
			s.pid = 0
			s.startedAt = time.Time{}
		}
		next[d.ID] = s
		order = append(order, d.ID)
	}
	for id, s := range r.services {
		if _, ok := next[id]; !ok && s.status != StatusStopped {
			slog.Warn("service removed from registry while active", "service", id, "pid", s.pid)
		}
	}
	for _, d := range defs {
		for _, dep := range d.Dependencies {
			if _, ok := next[dep]; !ok {
				slog.Warn("unknown dependency", "service", d.ID, "dependency", dep)
			}
		}
	}
	r.services = next
	r.order = order
	slog.Info("registry loaded", "services", len(next), "active", len(next)-ghosts, "ghost", ghosts)
}

// GetAll returns a copy of every service in definition order.
func (r *Registry) GetAll() []View {
	r.mu.Lock()
	views := make([]View, 0, len(r.order))
	for _, id := range r.order {
		views = append(views, r.viewLocked(r.services[id]))
	}
	r.mu.Unlock()
	for i := range views {
		r.attach(&views[i])
	}
	return views
}

// Get returns a copy of one service.
func (r *Registry) Get(id string) (View, error) {
	r.mu.Lock()
	s, ok := r.services[id]
	if !ok {
		r.mu.Unlock()
		return View{}, fmt.Errorf("%w: service %q", ErrNotFound, id)
	}
	v := r.viewLocked(s)
	r.mu.Unlock()
	r.attach(&v)
	return v, nil
}

// GetByGroup returns copies of the members of group.
func (r *Registry) GetByGroup(group string) []View {
	r.mu.Lock()
	views := make([]View, 0)
	for _, id := range r.order {
		if s := r.services[id]; s.def.Group == group {
			views = append(views, r.viewLocked(s))
		}
	}
	r.mu.Unlock()
	for i := range views {
		r.attach(&views[i])
	}
	return views
}

// RunningCount returns the number of services in the running state.
func (r *Registry) RunningCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runningLocked()
}

// TotalCount returns the number of registered services, ghosts included.
func (r *Registry) TotalCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.services)
}

// RunningPIDs maps every active service with a known process to its PID.
func (r *Registry) RunningPIDs() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int)
	for id, s := range r.services {
		if s.status != StatusStopped && s.pid > 0 {
			out[id] = s.pid
		}
	}
	return out
}

// StartService spawns the direct dependencies that are not running, then
// the service itself. Dependencies are not resolved transitively.
func (r *Registry) StartService(ctx context.Context, id string) (StartResult, error) {
	r.mu.Lock()
	s, ok := r.services[id]
	if !ok {
		r.mu.Unlock()
		return StartResult{}, fmt.Errorf("%w: service %q", ErrNotFound, id)
	}
	if s.def.Ghost {
		r.mu.Unlock()
		return StartResult{}, fmt.Errorf("%w: cannot start %q", ErrGhost, id)
	}
	if s.status == StatusRunning {
		r.mu.Unlock()
		return StartResult{}, fmt.Errorf("%w: %q is already running", ErrConflict, id)
	}
	s.status = StatusStarting
	chain := make([]string, 0, len(s.def.Dependencies))
	for _, dep := range s.def.Dependencies {
		d, ok := r.services[dep]
		if !ok || d.def.Ghost || dep == id {
			continue
		}
		if d.status != StatusRunning {
			chain = append(chain, dep)
		}
	}
	r.mu.Unlock()

	for _, dep := range chain {
		r.spawn(dep)
	}
	r.spawn(id)

	details := ""
	if len(chain) > 0 {
		details = "dependencies: " + strings.Join(chain, ", ")
	}
	r.record(ctx, id, incident.EventStart, details)
	return StartResult{Status: StatusStarting, DependencyChain: chain}, nil
}

// StopService terminates the service process and marks it stopped.
func (r *Registry) StopService(ctx context.Context, id string) error {
	r.mu.Lock()
	s, ok := r.services[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: service %q", ErrNotFound, id)
	}
	if s.def.Ghost {
		r.mu.Unlock()
		return fmt.Errorf("%w: cannot stop %q", ErrGhost, id)
	}
	if s.status == StatusStopped {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q is already stopped", ErrConflict, id)
	}
	pid := r.markStoppedLocked(s)
	r.mu.Unlock()

	r.terminate(id, pid)
	r.record(ctx, id, incident.EventStop, "")
	return nil
}

// RestartService stops the service, waits the restart delay and spawns it
// again. It returns the new restart count.
func (r *Registry) RestartService(ctx context.Context, id string) (int, error) {
	r.mu.Lock()
	s, ok := r.services[id]
	if !ok {
		r.mu.Unlock()
		return 0, fmt.Errorf("%w: service %q", ErrNotFound, id)
	}
	if s.def.Ghost {
		r.mu.Unlock()
		return 0, fmt.Errorf("%w: cannot restart %q", ErrGhost, id)
	}
	pid := r.markStoppedLocked(s)
	r.mu.Unlock()

	r.terminate(id, pid)
	sleep(ctx, r.opts.RestartDelay)
	r.spawn(id)

	r.mu.Lock()
	s, ok = r.services[id]
	if !ok {
		r.mu.Unlock()
		return 0, fmt.Errorf("%w: service %q was removed during restart", ErrNotFound, id)
	}
	s.restarts++
	attempt := s.restarts
	r.mu.Unlock()

	r.record(ctx, id, incident.EventRestart, fmt.Sprintf("attempt %d", attempt))
	return attempt, nil
}

// StartGroup starts every non-ghost member of group that is not running.
// Dependencies are not resolved for group starts.
func (r *Registry) StartGroup(ctx context.Context, group string) (map[string]GroupOutcome, error) {
	out := make(map[string]GroupOutcome)
	var todo []string
	r.mu.Lock()
	for _, id := range r.order {
		s := r.services[id]
		if s.def.Group != group || s.def.Ghost {
			continue
		}
		if s.status == StatusRunning {
			out[id] = GroupAlreadyRunning
			continue
		}
		s.status = StatusStarting
		out[id] = GroupStarting
		todo = append(todo, id)
	}
	r.mu.Unlock()
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no services in group %q", ErrNotFound, group)
	}
	for _, id := range todo {
		r.spawn(id)
		r.record(ctx, id, incident.EventStart, "group "+group)
	}
	return out, nil
}

// StopGroup stops every non-ghost member of group that is not stopped.
func (r *Registry) StopGroup(ctx context.Context, group string) (map[string]GroupOutcome, error) {
	out := make(map[string]GroupOutcome)
	pids := make(map[string]int)
	var todo []string
	r.mu.Lock()
	for _, id := range r.order {
		s := r.services[id]
		if s.def.Group != group || s.def.Ghost {
			continue
		}
		if s.status == StatusStopped {
			out[id] = GroupAlreadyStopped
			continue
		}
		pids[id] = r.markStoppedLocked(s)
		out[id] = GroupStopped
		todo = append(todo, id)
	}
	r.mu.Unlock()
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no services in group %q", ErrNotFound, group)
	}
	for _, id := range todo {
		r.terminate(id, pids[id])
		r.record(ctx, id, incident.EventStop, "group "+group)
	}
	return out, nil
}

// spawn launches id, replacing any process it still owns. A launch failure
// leaves the service stopped; it is logged, never returned. When a later
// spawn or stop claims the service while this launch is in flight, the
// launched process is terminated instead of tracked.
func (r *Registry) spawn(id string) {
	r.mu.Lock()
	s, ok := r.services[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	spec := s.def.processSpec(r.opts.Env)
	s.gen++
	claim := s.gen
	old := s.pid
	s.pid = 0
	r.mu.Unlock()

	if old > 0 && r.opts.Launcher.Alive(old) {
		r.terminate(id, old)
	}
	pid, err := r.opts.Launcher.Spawn(spec)

	r.mu.Lock()
	if cur, ok := r.services[id]; !ok || cur != s || s.gen != claim {
		r.mu.Unlock()
		if err == nil {
			slog.Warn("discarding superseded launch", "service", id, "pid", pid)
			r.terminate(id, pid)
		}
		return
	}
	switch {
	case errors.Is(err, process.ErrEmptyCommand):
		// externally managed: the next probe decides the status
		slog.Warn("no start command, skipping spawn", "service", id)
		s.status = StatusStarting
	case err != nil:
		slog.Error("failed to start service", "service", id, "error", err)
		s.status = StatusStopped
		s.startedAt = time.Time{}
	default:
		s.pid = pid
		s.status = StatusStarting
		s.startedAt = time.Now()
		slog.Info("service started", "service", id, "pid", pid)
	}
	metrics.SetRunningServices(r.runningLocked())
	r.mu.Unlock()
}

func (r *Registry) terminate(id string, pid int) {
	if pid <= 0 {
		return
	}
	if err := r.opts.Launcher.Terminate(pid); err != nil {
		slog.Warn("error stopping service", "service", id, "pid", pid, "error", err)
		return
	}
	slog.Info("service stopped", "service", id, "pid", pid)
}

// markStoppedLocked clears the runtime process fields and returns the old pid.
func (r *Registry) markStoppedLocked(s *service) int {
	pid := s.pid
	s.gen++
	s.status = StatusStopped
	s.pid = 0
	s.startedAt = time.Time{}
	metrics.SetRunningServices(r.runningLocked())
	return pid
}

func (r *Registry) runningLocked() int {
	n := 0
	for _, s := range r.services {
		if s.status == StatusRunning {
			n++
		}
	}
	return n
}

func (r *Registry) record(ctx context.Context, id string, ev incident.Event, details string) {
	if r.opts.Recorder == nil {
		return
	}
	r.opts.Recorder.LogEvent(ctx, incident.Entry{AppID: id, Event: ev, Cause: causeFrom(ctx), Details: details})
}

func (r *Registry) viewLocked(s *service) View {
	d := s.def
	v := View{
		ID:           d.ID,
		Name:         d.Name,
		Description:  d.Description,
		Group:        d.Group,
		Port:         d.Port,
		Status:       s.status,
		Health:       s.health,
		RestartCount: s.restarts,
		Ghost:        d.Ghost,
		GhostETA:     d.GhostETA,
		Favicon:      d.Favicon,
		Dependencies: append([]string{}, d.Dependencies...),
	}
	if d.UIPort != nil {
		p := *d.UIPort
		v.UIPort = &p
	}
	if s.status != StatusStopped {
		v.PID = s.pid
	}
	if s.status != StatusStopped && !s.startedAt.IsZero() {
		up := math.Round(time.Since(s.startedAt).Seconds()*10) / 10
		v.UptimeSeconds = &up
	}
	if !s.lastCheck.IsZero() {
		t := s.lastCheck
		v.LastHealthCheck = &t
	}
	return v
}

// attach fills the collaborator-provided fields outside the registry lock.
func (r *Registry) attach(v *View) {
	hours := r.opts.HeartbeatHours
	if r.opts.Heartbeat != nil {
		v.Heartbeat = r.opts.Heartbeat.Recent(v.ID, hours)
	}
	if len(v.Heartbeat) != hours {
		v.Heartbeat = make([]int, hours)
	}
	if r.opts.Resources != nil {
		v.Resources = r.opts.Resources.Get(v.ID)
	}
	if v.Resources == nil {
		v.Resources = map[string]float64{}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
