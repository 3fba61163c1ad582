package client

import "time"

// DaemonStatus is the daemon's own health report.
type DaemonStatus struct {
	Status          string  `json:"status"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
	Version         string  `json:"version"`
	ServicesRunning int     `json:"services_running"`
	ServicesTotal   int     `json:"services_total"`
}

// Service is one registry entry with its live state.
type Service struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	Description     string             `json:"description"`
	Group           string             `json:"group"`
	Port            int                `json:"port"`
	UIPort          *int               `json:"ui_port"`
	Status          string             `json:"status"` // stopped, starting, running
	Health          string             `json:"health"` // unknown, healthy, degraded, unreachable
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

type StartResult struct {
	Status          string   `json:"status"`
	DependencyChain []string `json:"dependency_chain"`
}

// ActionResult is returned by stop and restart. Attempt is set by restart only.
type ActionResult struct {
	Status  string `json:"status"`
	Attempt int    `json:"attempt,omitempty"`
}

type HealthResult struct {
	Status    string         `json:"status"`
	LatencyMS *float64       `json:"latency_ms"`
	Details   map[string]any `json:"details"`
}

// IncidentQuery filters the incident list. Zero values mean no filter and the daemon's default limit.
type IncidentQuery struct {
	App   string
	Limit int
}

type Incident struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	AppID      string    `json:"app_id"`
	Event      string    `json:"event"`
	Cause      string    `json:"cause,omitempty"`
	Details    string    `json:"details,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	Annotation string    `json:"annotation,omitempty"`
}

type AnnotateRequest struct {
	Note string `json:"note"`
}

type AnnotateResult struct {
	Status     string `json:"status"`
	IncidentID string `json:"incident_id"`
	Note       string `json:"note"`
}

type Warning struct {
	ID        string    `json:"id"`
	App       string    `json:"app"`
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
}

type Briefing struct {
	Timestamp       time.Time `json:"timestamp"`
	Greeting        string    `json:"greeting"`
	Summary         string    `json:"summary"`
	ServicesRunning int       `json:"services_running"`
	ServicesTotal   int       `json:"services_total"`
	Warnings        []Warning `json:"warnings"`
}

// HealingSession is an in-flight self-healing sequence.
type HealingSession struct {
	ID        string    `json:"id"`
	AppID     string    `json:"app_id"`
	Tier      int       `json:"tier"`
	StartedAt time.Time `json:"started_at"`
}

type ReloadResult struct {
	Status   string `json:"status"`
	Services int    `json:"services"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error  string `json:"error"`
	Status string `json:"status,omitempty"`
}
