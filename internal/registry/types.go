package registry

import (
	"context"
	"errors"
	"time"

	"github.com/loykin/workshop/internal/incident"
	"github.com/loykin/workshop/internal/process"
)

// Status is the lifecycle state of a service.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
)

// Health is the result of the latest probe.
type Health string

const (
	HealthUnknown     Health = "unknown"
	HealthHealthy     Health = "healthy"
	HealthDegraded    Health = "degraded"
	HealthUnreachable Health = "unreachable"
)

// Caller-actionable errors. Everything else is absorbed into service state.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	ErrGhost    = errors.New("ghost service")
)

// GroupOutcome is the per-service result of a group operation.
type GroupOutcome string

const (
	GroupStarting       GroupOutcome = "starting"
	GroupAlreadyRunning GroupOutcome = "already_running"
	GroupStopped        GroupOutcome = "stopped"
	GroupAlreadyStopped GroupOutcome = "already_stopped"
)

// View is the public copy of a service. Mutating it never affects the registry.
type View struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	Description     string             `json:"description"`
	Group           string             `json:"group"`
	Port            int                `json:"port"`
	UIPort          *int               `json:"ui_port"`
	Status          Status             `json:"status"`
	Health          Health             `json:"health"`
	UptimeSeconds   *float64           `json:"uptime_seconds"`
	LastHealthCheck *time.Time         `json:"last_health_check"`
	RestartCount    int                `json:"restart_count"`
	Ghost           bool               `json:"ghost"`
	GhostETA        string             `json:"ghost_eta,omitempty"`
	Favicon         string             `json:"favicon,omitempty"`
	Dependencies    []string           `json:"dependencies"`
	Heartbeat       []int              `json:"heartbeat"`
	Resources       map[string]float64 `json:"resources"`
	PID             int                `json:"pid,omitempty"`
}

// HealthResult is the outcome of one probe.
type HealthResult struct {
	Status    Health         `json:"status"`
	LatencyMS *float64       `json:"latency_ms"`
	Details   map[string]any `json:"details"`
}

// StartResult reports the dependencies that were spawned ahead of the service.
type StartResult struct {
	Status          Status   `json:"status"`
	DependencyChain []string `json:"dependency_chain"`
}

// Launcher spawns and terminates service processes.
type Launcher interface {
	Spawn(spec process.Spec) (int, error)
	Terminate(pid int) error
	Alive(pid int) bool
}

// Recorder receives lifecycle incidents.
type Recorder interface {
	LogEvent(ctx context.Context, e incident.Entry) incident.Incident
}

// FailureHandler is told when a probe turns a service unhealthy.
// OnHealthFailure must return quickly.
type FailureHandler interface {
	OnHealthFailure(id string)
}

// HealthObserver sees every applied probe result.
type HealthObserver interface {
	ObserveHealth(id string, r HealthResult)
}

// HeartbeatSource supplies the recent uptime sequence of a service.
type HeartbeatSource interface {
	Recent(id string, hours int) []int
}

// ResourceSource supplies the latest resource sample of a service.
type ResourceSource interface {
	Get(id string) map[string]float64
}

// service is the mutable record behind a View. Guarded by Registry.mu.
type service struct {
	def            Definition
	status         Status
	health         Health
	pid            int
	startedAt      time.Time
	lastCheck      time.Time
	restarts       int
	degradedStreak int
	// gen changes on every spawn claim and stop; a launch holding an older
	// claim has been superseded.
	gen uint64
}

type causeKey struct{}

// CauseOperator is recorded for lifecycle calls that carry no cause.
const CauseOperator = "operator"

// WithCause tags lifecycle calls made with ctx so their incidents carry cause.
func WithCause(ctx context.Context, cause string) context.Context {
	return context.WithValue(ctx, causeKey{}, cause)
}

func causeFrom(ctx context.Context) string {
	if c, ok := ctx.Value(causeKey{}).(string); ok && c != "" {
		return c
	}
	return CauseOperator
}
