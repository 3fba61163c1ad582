// Package healer turns health failures reported by the registry into a
// bounded, three-tier recovery attempt per service.
package healer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/workshop/internal/incident"
	"github.com/loykin/workshop/internal/metrics"
	"github.com/loykin/workshop/internal/registry"
)

// Incident causes written by the recovery sequence.
const (
	CauseHealthCheckFailed = "health_check_failed"
	CauseAllTiersFailed    = "all_tiers_failed"
	CauseSelfHealing       = "self_healing"
)

// Defaults for zero Options fields.
const (
	DefaultSettleDelay     = 10 * time.Second
	DefaultDependencyPause = 2 * time.Second
	DefaultStartPause      = 3 * time.Second
)

// Registry is the part of the lifecycle manager the healer drives.
type Registry interface {
	Get(id string) (registry.View, error)
	StartService(ctx context.Context, id string) (registry.StartResult, error)
	StopService(ctx context.Context, id string) error
	RestartService(ctx context.Context, id string) (int, error)
	CheckHealth(ctx context.Context, id string) (registry.HealthResult, error)
}

// Notifier is the escalation sink. Errors are logged, never propagated.
type Notifier interface {
	Notify(ctx context.Context, appID, message string) error
}

type Options struct {
	// SettleDelay is the tier wait base: tier N waits N times this long.
	SettleDelay time.Duration
	// DependencyPause follows each dependency restart in tier 2.
	DependencyPause time.Duration
	// StartPause follows each dependency start in tier 3.
	StartPause time.Duration
}

// Session describes one in-flight recovery.
type Session struct {
	ID        string    `json:"id"`
	AppID     string    `json:"app_id"`
	Tier      int       `json:"tier"`
	StartedAt time.Time `json:"started_at"`
}

// Healer runs at most one recovery sequence per service. Sequences for
// different services run independently.
type Healer struct {
	reg      Registry
	log      registry.Recorder
	notifier Notifier
	opts     Options

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*Session
}

func New(reg Registry, log registry.Recorder, notifier Notifier, opts Options) *Healer {
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.DependencyPause < 0 {
		opts.DependencyPause = 0
	} else if opts.DependencyPause == 0 {
		opts.DependencyPause = DefaultDependencyPause
	}
	if opts.StartPause < 0 {
		opts.StartPause = 0
	} else if opts.StartPause == 0 {
		opts.StartPause = DefaultStartPause
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Healer{
		reg:      reg,
		log:      log,
		notifier: notifier,
		opts:     opts,
		base:     ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}
}

// OnHealthFailure starts a recovery sequence for id unless one is already
// running. It never blocks.
func (h *Healer) OnHealthFailure(id string) {
	h.mu.Lock()
	if _, busy := h.sessions[id]; busy {
		h.mu.Unlock()
		slog.Debug("healing already in progress", "service", id)
		return
	}
	if h.base.Err() != nil {
		h.mu.Unlock()
		return
	}
	s := &Session{ID: uuid.NewString(), AppID: id, StartedAt: time.Now()}
	h.sessions[id] = s
	h.wg.Add(1)
	h.mu.Unlock()

	go h.heal(s)
}

// Active reports whether a recovery sequence is running for id.
func (h *Healer) Active(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.sessions[id]
	return ok
}

// Sessions returns the in-flight sequences ordered by service id.
func (h *Healer) Sessions() []Session {
	h.mu.Lock()
	out := make([]Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, *s)
	}
	h.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].AppID < out[j].AppID })
	return out
}

// Wait blocks until every running sequence has finished.
func (h *Healer) Wait() { h.wg.Wait() }

// Close aborts running sequences at their next wait and waits for them.
func (h *Healer) Close() {
	h.cancel()
	h.wg.Wait()
}

type tier struct {
	cause   string
	details string
	run     func(ctx context.Context, id string, deps []string)
}

func (h *Healer) tiers() []tier {
	return []tier{
		{CauseHealthCheckFailed, "tier 1: simple restart", h.simpleRestart},
		{"tier_1_failed", "tier 2: deep restart with dependencies", h.deepRestart},
		{"tier_2_failed", "tier 3: full recovery", h.fullRecovery},
	}
}

func (h *Healer) heal(s *Session) {
	id := s.AppID
	log := slog.With("service", id, "session", s.ID)
	outcome := "aborted"
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("healing panicked", "panic", rec)
			outcome = "failed"
		}
		metrics.ObserveHealOutcome(id, outcome, time.Since(s.StartedAt).Seconds())
		h.mu.Lock()
		delete(h.sessions, id)
		h.mu.Unlock()
		h.wg.Done()
	}()

	ctx := registry.WithCause(h.base, CauseSelfHealing)
	var deps []string
	if v, err := h.reg.Get(id); err == nil {
		deps = v.Dependencies
	}

	for i, t := range h.tiers() {
		n := i + 1
		h.mu.Lock()
		s.Tier = n
		h.mu.Unlock()

		log.Info("healing tier started", "tier", n)
		metrics.IncHealTier(id, n)
		h.record(ctx, incident.Entry{AppID: id, Event: incident.EventRestart, Cause: t.cause, Details: t.details})
		t.run(ctx, id, deps)
		if ctx.Err() != nil {
			log.Warn("healing aborted", "tier", n)
			return
		}
		if h.healthy(ctx, id) {
			log.Info("service recovered", "tier", n)
			h.record(ctx, incident.Entry{
				AppID:   id,
				Event:   incident.EventRestart,
				Cause:   fmt.Sprintf("tier_%d_recovery", n),
				Details: fmt.Sprintf("tier %d succeeded", n),
				Outcome: incident.OutcomeRecovered,
			})
			outcome = "recovered"
			return
		}
	}

	log.Error("all healing tiers failed, escalating")
	h.record(ctx, incident.Entry{
		AppID:   id,
		Event:   incident.EventCrash,
		Cause:   CauseAllTiersFailed,
		Details: "escalated after 3 recovery tiers failed",
		Outcome: incident.OutcomeEscalated,
	})
	outcome = "escalated"
	if h.notifier == nil {
		return
	}
	msg := fmt.Sprintf("The Workshop could not recover %s after 3 tiers of self-healing. Manual intervention needed.", id)
	if err := h.notifier.Notify(ctx, id, msg); err != nil {
		log.Warn("escalation notify failed", "error", err)
		return
	}
	log.Info("escalation sent")
}

func (h *Healer) simpleRestart(ctx context.Context, id string, _ []string) {
	h.restart(ctx, id)
	h.sleep(ctx, h.opts.SettleDelay)
}

func (h *Healer) deepRestart(ctx context.Context, id string, deps []string) {
	for _, dep := range deps {
		h.restart(ctx, dep)
		h.sleep(ctx, h.opts.DependencyPause)
	}
	h.restart(ctx, id)
	h.sleep(ctx, 2*h.opts.SettleDelay)
}

func (h *Healer) fullRecovery(ctx context.Context, id string, deps []string) {
	h.stop(ctx, id)
	for _, dep := range deps {
		h.stop(ctx, dep)
	}
	h.sleep(ctx, h.opts.SettleDelay)
	for _, dep := range deps {
		h.start(ctx, dep)
		h.sleep(ctx, h.opts.StartPause)
	}
	h.start(ctx, id)
	h.sleep(ctx, 3*h.opts.SettleDelay)
}

func (h *Healer) restart(ctx context.Context, id string) {
	if ctx.Err() != nil {
		return
	}
	if _, err := h.reg.RestartService(ctx, id); err != nil {
		slog.Warn("healing restart failed", "service", id, "error", err)
	}
}

func (h *Healer) stop(ctx context.Context, id string) {
	if ctx.Err() != nil {
		return
	}
	if err := h.reg.StopService(ctx, id); err != nil && !errors.Is(err, registry.ErrConflict) {
		slog.Warn("healing stop failed", "service", id, "error", err)
	}
}

func (h *Healer) start(ctx context.Context, id string) {
	if ctx.Err() != nil {
		return
	}
	if _, err := h.reg.StartService(ctx, id); err != nil && !errors.Is(err, registry.ErrConflict) {
		slog.Warn("healing start failed", "service", id, "error", err)
	}
}

func (h *Healer) healthy(ctx context.Context, id string) bool {
	res, err := h.reg.CheckHealth(ctx, id)
	if err != nil {
		slog.Debug("healing health check failed", "service", id, "error", err)
		return false
	}
	return res.Status == registry.HealthHealthy
}

func (h *Healer) record(ctx context.Context, e incident.Entry) {
	if h.log != nil {
		h.log.LogEvent(ctx, e)
	}
}

// sleep waits d; only shutdown interrupts it.
func (h *Healer) sleep(ctx context.Context, d time.Duration) {
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
