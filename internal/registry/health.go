package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loykin/workshop/internal/incident"
	"github.com/loykin/workshop/internal/metrics"
)

// CheckHealth probes one service synchronously and applies the result.
func (r *Registry) CheckHealth(ctx context.Context, id string) (HealthResult, error) {
	r.mu.Lock()
	s, ok := r.services[id]
	if !ok {
		r.mu.Unlock()
		return HealthResult{}, fmt.Errorf("%w: service %q", ErrNotFound, id)
	}
	if s.def.Ghost {
		r.mu.Unlock()
		return HealthResult{}, fmt.Errorf("%w: %q is not health checked", ErrGhost, id)
	}
	url := r.probeURL(s.def)
	r.mu.Unlock()

	res := r.probe(ctx, url)
	if err := ctx.Err(); err != nil {
		return res, err
	}
	r.apply(ctx, id, res)
	return res, nil
}

// CheckAll probes every non-ghost service once, at most concurrency at a time.
func (r *Registry) CheckAll(ctx context.Context, concurrency int) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.order))
	for _, id := range r.order {
		if !r.services[id].def.Ghost {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()

	if concurrency <= 0 {
		concurrency = 1
	}
	var g errgroup.Group
	g.SetLimit(concurrency)
	for _, id := range ids {
		g.Go(func() error {
			defer func() {
				if rec := recover(); rec != nil {
					slog.Error("health check panicked", "service", id, "panic", rec)
				}
			}()
			if ctx.Err() != nil {
				return nil
			}
			if _, err := r.CheckHealth(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
				slog.Debug("health check skipped", "service", id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Registry) probeURL(d Definition) string {
	return "http://" + net.JoinHostPort(r.opts.ProbeHost, strconv.Itoa(d.Port)) + d.HealthEndpoint
}

func (r *Registry) probe(ctx context.Context, url string) HealthResult {
	pctx, cancel := context.WithTimeout(ctx, r.opts.ProbeTimeout)
	defer cancel()

	started := time.Now()
	req, err := http.NewRequestWithContext(pctx, http.MethodGet, url, nil)
	if err != nil {
		return HealthResult{Status: HealthUnreachable, Details: map[string]any{"error": err.Error()}}
	}
	resp, err := r.client.Do(req)
	if err != nil {
		if isTimeout(err) && ctx.Err() == nil {
			ms := float64(r.opts.ProbeTimeout.Milliseconds())
			slog.Debug("health probe timed out", "url", url)
			return HealthResult{Status: HealthDegraded, LatencyMS: &ms, Details: map[string]any{"timeout": true}}
		}
		slog.Debug("health probe failed", "url", url, "error", err)
		return HealthResult{Status: HealthUnreachable, Details: map[string]any{"error": err.Error()}}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()

	ms := math.Round(float64(time.Since(started).Microseconds())/10) / 100
	res := HealthResult{Status: HealthHealthy, LatencyMS: &ms, Details: map[string]any{"http_status": resp.StatusCode}}
	if resp.StatusCode >= 400 {
		res.Status = HealthDegraded
	}
	return res
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// apply folds a probe result into the service record, then reports it to
// metrics, observers and the failure handler outside the lock.
func (r *Registry) apply(ctx context.Context, id string, res HealthResult) {
	r.mu.Lock()
	s, ok := r.services[id]
	if !ok || s.def.Ghost {
		r.mu.Unlock()
		return
	}
	prevHealth, prevStatus := s.health, s.status
	s.health = res.Status
	s.lastCheck = time.Now()

	_, timedOut := res.Details["timeout"]
	switch res.Status {
	case HealthHealthy:
		s.status = StatusRunning
	case HealthDegraded:
		if !timedOut {
			s.status = StatusRunning
		}
	case HealthUnreachable:
		s.status = StatusStopped
		s.startedAt = time.Time{}
	}
	if s.status == StatusRunning && s.startedAt.IsZero() {
		// adopted: a service that answers without having been spawned here
		s.startedAt = time.Now()
	}
	if res.Status == HealthDegraded {
		s.degradedStreak++
	} else {
		s.degradedStreak = 0
	}
	expectedUp := prevStatus == StatusStarting || prevStatus == StatusRunning
	failed := (res.Status == HealthUnreachable && prevHealth != HealthUnreachable && expectedUp) ||
		(res.Status == HealthDegraded && s.degradedStreak == r.opts.DegradedThreshold && s.status != StatusStopped)
	running := r.runningLocked()
	r.mu.Unlock()

	metrics.ObserveHealthCheck(id, string(res.Status))
	metrics.SetServiceHealth(id, string(res.Status))
	metrics.SetRunningServices(running)

	if res.Status == HealthDegraded && prevHealth != HealthDegraded && r.opts.Recorder != nil {
		cause := "health_check_error_status"
		details := ""
		if timedOut {
			cause = "health_check_timeout"
		} else if code, ok := res.Details["http_status"]; ok {
			details = fmt.Sprintf("http status %v", code)
		}
		r.opts.Recorder.LogEvent(ctx, incident.Entry{AppID: id, Event: incident.EventHealthDegraded, Cause: cause, Details: details})
	}

	r.hooksMu.RLock()
	observers := append([]HealthObserver(nil), r.observers...)
	handler := r.failure
	r.hooksMu.RUnlock()

	for _, o := range observers {
		o.ObserveHealth(id, res)
	}
	if failed && handler != nil {
		slog.Info("health failure reported", "service", id, "health", res.Status)
		handler.OnHealthFailure(id)
	}
}

// HealthLoop probes every service on a fixed interval. It is a suture service.
type HealthLoop struct {
	reg         *Registry
	interval    time.Duration
	concurrency int
}

func NewHealthLoop(reg *Registry, interval time.Duration, concurrency int) *HealthLoop {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HealthLoop{reg: reg, interval: interval, concurrency: concurrency}
}

// Serve runs one cycle immediately, then one per interval until ctx ends.
func (l *HealthLoop) Serve(ctx context.Context) error {
	slog.Info("health loop started", "interval", l.interval, "concurrency", l.concurrency)
	t := time.NewTicker(l.interval)
	defer t.Stop()
	for {
		l.reg.CheckAll(ctx, l.concurrency)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (l *HealthLoop) String() string { return "health-loop" }
