// Package workshop embeds the workshop daemon: a service registry with
// dependency-aware lifecycle, health probing, tiered self-healing and an
// incident log, served over HTTP.
package workshop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/workshop/internal/briefing"
	"github.com/loykin/workshop/internal/config"
	"github.com/loykin/workshop/internal/healer"
	"github.com/loykin/workshop/internal/heartbeat"
	"github.com/loykin/workshop/internal/history"
	historyfactory "github.com/loykin/workshop/internal/history/factory"
	"github.com/loykin/workshop/internal/incident"
	"github.com/loykin/workshop/internal/logger"
	"github.com/loykin/workshop/internal/metrics"
	"github.com/loykin/workshop/internal/registry"
	"github.com/loykin/workshop/internal/resources"
	"github.com/loykin/workshop/internal/server"
	storefactory "github.com/loykin/workshop/internal/store/factory"
	"github.com/loykin/workshop/internal/supervisor"
)

// Re-exported types. These are aliases so conversions are zero-cost.

type Config = config.Config

type Service = registry.View

type HealthResult = registry.HealthResult

type StartResult = registry.StartResult

type Incident = incident.Incident

type IncidentQuery = incident.Query

type Briefing = briefing.Briefing

type HealingSession = healer.Session

// LoadConfig reads an optional TOML file plus WORKSHOP_* overrides.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

// Workshop owns every long-lived component of a daemon run.
type Workshop struct {
	cfg       *config.Config
	version   string
	logger    *slog.Logger
	reg       *registry.Registry
	incidents *incident.Log
	exporter  *history.Exporter
	heartbeat *heartbeat.Store
	healer    *healer.Healer
	briefer   *briefing.Generator
	handler   http.Handler
	http      *server.HTTPServer
	tree      *supervisor.Tree
	closers   []io.Closer
}

// New wires the daemon from cfg and installs its logger as the slog
// default. Nothing runs until Run.
func New(ctx context.Context, cfg *Config, version string) (*Workshop, error) {
	lg, logCloser := logger.New(cfg.Log)
	slog.SetDefault(lg)
	w := &Workshop{cfg: cfg, version: version, logger: lg, closers: []io.Closer{logCloser}}
	ok := false
	defer func() {
		if !ok {
			w.Close()
		}
	}()

	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	st, err := storefactory.NewFromDSN(cfg.Incidents.DSN)
	if err != nil {
		return nil, fmt.Errorf("incident store: %w", err)
	}
	logOpts := []incident.Option{incident.WithLocation(loc)}
	if len(cfg.Incidents.Sinks) > 0 {
		w.exporter = historyfactory.NewExporter(cfg.Incidents.Sinks, history.DefaultTimeout)
		logOpts = append(logOpts, incident.WithExporter(w.exporter))
	}
	w.incidents = incident.NewLog(ctx, st, logOpts...)

	w.heartbeat, err = heartbeat.Open(cfg.Heartbeat.DSN, heartbeat.WithLocation(loc))
	if err != nil {
		return nil, fmt.Errorf("heartbeat store: %w", err)
	}

	svcEnv, err := cfg.ServiceEnv()
	if err != nil {
		return nil, err
	}

	var sampler *resources.Sampler
	opts := registry.Options{
		Path:              cfg.Registry.Path,
		RestartDelay:      cfg.Registry.RestartDelay,
		ProbeHost:         cfg.Health.Host,
		ProbeTimeout:      cfg.Health.Timeout,
		DegradedThreshold: cfg.Health.DegradedThreshold,
		HeartbeatHours:    cfg.Heartbeat.Hours,
		Env:               svcEnv,
		Recorder:          w.incidents,
		Heartbeat:         w.heartbeat,
	}
	if cfg.Resources.Enabled {
		sampler = resources.NewSampler(cfg.Resources.Interval, func() map[string]int { return w.reg.RunningPIDs() })
		opts.Resources = sampler
	}
	w.reg = registry.New(opts)
	w.reg.AddObserver(w.heartbeat)

	var healing server.Healing
	if cfg.Healing.Enabled {
		w.healer = healer.New(w.reg, w.incidents, healer.NewHTTPNotifier(cfg.Escalation.URL, cfg.Escalation.Timeout), healer.Options{
			SettleDelay:     cfg.Healing.SettleDelay,
			DependencyPause: noPauseIfZero(cfg.Healing.DependencyPause),
			StartPause:      noPauseIfZero(cfg.Healing.StartPause),
		})
		w.reg.SetFailureHandler(w.healer)
		healing = w.healer
	}

	w.briefer = briefing.New(w.reg, w.incidents, cfg.Briefing.Name, loc)
	w.handler = server.NewRouter(w.reg, w.incidents, w.briefer, healing, server.Options{
		BasePath:    cfg.Server.BasePath,
		Version:     version,
		Concurrency: cfg.Health.Concurrency,
		Metrics:     cfg.Metrics.Enabled,
	}).Handler()
	w.http = server.NewHTTPServer(cfg.Server.Listen, w.handler)

	w.tree = supervisor.NewTree(lg, supervisor.TreeConfig{})
	w.tree.AddMonitor(registry.NewHealthLoop(w.reg, cfg.Health.Interval, cfg.Health.Concurrency))
	w.tree.AddMonitor(heartbeat.NewPruner(w.heartbeat, cfg.Heartbeat.KeepHours))
	if cfg.Registry.Watch {
		w.tree.AddMonitor(registry.NewWatcher(w.reg, cfg.Registry.Path, registry.DefaultDebounce))
	}
	if sampler != nil {
		w.tree.AddMonitor(sampler)
	}
	w.tree.AddAPI(w.http)

	ok = true
	return w, nil
}

// noPauseIfZero maps a configured zero pause to the healer's "no pause".
func noPauseIfZero(d time.Duration) time.Duration {
	if d == 0 {
		return -1
	}
	return d
}

// Run blocks until ctx is done. Cancellation is a clean stop.
func (w *Workshop) Run(ctx context.Context) error {
	w.logger.Info("workshop starting",
		"version", w.version,
		"listen", w.cfg.Server.Listen,
		"base_path", w.cfg.Server.BasePath,
		"registry", w.cfg.Registry.Path,
		"services", w.reg.TotalCount(),
		"healing", w.healer != nil)
	err := w.tree.Serve(ctx)
	w.logger.Info("workshop shutting down")
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// Ready yields the API listener address once Run has bound it.
func (w *Workshop) Ready() <-chan net.Addr { return w.http.Ready() }

// Handler returns the API for mounting into another server.
func (w *Workshop) Handler() http.Handler { return w.handler }

func (w *Workshop) Services() []Service { return w.reg.GetAll() }

func (w *Workshop) Service(id string) (Service, error) { return w.reg.Get(id) }

func (w *Workshop) Start(ctx context.Context, id string) (StartResult, error) {
	return w.reg.StartService(ctx, id)
}

func (w *Workshop) Stop(ctx context.Context, id string) error { return w.reg.StopService(ctx, id) }

func (w *Workshop) Restart(ctx context.Context, id string) (int, error) {
	return w.reg.RestartService(ctx, id)
}

func (w *Workshop) CheckHealth(ctx context.Context, id string) (HealthResult, error) {
	return w.reg.CheckHealth(ctx, id)
}

func (w *Workshop) Incidents(ctx context.Context, q IncidentQuery) []Incident {
	return w.incidents.GetIncidents(ctx, q)
}

func (w *Workshop) Briefing(ctx context.Context) Briefing {
	return w.briefer.Generate(ctx, time.Now())
}

// HealingSessions is empty when healing is disabled.
func (w *Workshop) HealingSessions() []HealingSession {
	if w.healer == nil {
		return []HealingSession{}
	}
	return w.healer.Sessions()
}

// Close stops healing first so no sequence writes to closed stores. It is
// safe to call more than once.
func (w *Workshop) Close() {
	if w.healer != nil {
		w.healer.Close()
	}
	if w.exporter != nil {
		_ = w.exporter.Close()
		w.exporter = nil
	}
	if w.incidents != nil {
		if err := w.incidents.Close(); err != nil {
			w.logger.Warn("close incident store", "error", err)
		}
		w.incidents = nil
	}
	if w.heartbeat != nil {
		_ = w.heartbeat.Close()
		w.heartbeat = nil
	}
	for i := len(w.closers) - 1; i >= 0; i-- {
		_ = w.closers[i].Close()
	}
	w.closers = nil
}
