// Package incident keeps the append-only audit trail of lifecycle and recovery events.
package incident

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Event is the kind of lifecycle or recovery event an incident records.
type Event string

const (
	EventStart          Event = "start"
	EventStop           Event = "stop"
	EventCrash          Event = "crash"
	EventRestart        Event = "restart"
	EventHealthDegraded Event = "health_degraded"
)

// Outcome is the optional result attached to an incident.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeRecovered Outcome = "recovered"
	OutcomeFailed    Outcome = "failed"
	OutcomeEscalated Outcome = "escalated"
)

// DefaultLimit is the page size used when a query does not set one.
const DefaultLimit = 50

// Incident is one immutable record. Only Annotation changes after it is written.
type Incident struct {
	ID         string    `json:"id"`
	Seq        int64     `json:"-"`
	Timestamp  time.Time `json:"timestamp"`
	AppID      string    `json:"app_id"`
	Event      Event     `json:"event"`
	Cause      string    `json:"cause,omitempty"`
	Details    string    `json:"details,omitempty"`
	Outcome    Outcome   `json:"outcome,omitempty"`
	Annotation string    `json:"annotation,omitempty"`
}

// Entry carries the caller-supplied fields of a new incident.
type Entry struct {
	AppID   string
	Event   Event
	Cause   string
	Details string
	Outcome Outcome
}

// Query selects incidents newest first. An empty AppID matches every service.
type Query struct {
	Limit int
	AppID string
}

// Store persists incidents. Implementations must be safe for concurrent use.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Insert(ctx context.Context, inc Incident) error
	// List returns at most q.Limit records ordered by timestamp, then sequence, descending.
	List(ctx context.Context, q Query) ([]Incident, error)
	// Annotate reports whether a record with the id existed.
	Annotate(ctx context.Context, id, note string) (bool, error)
	// MaxSequence returns the highest stored sequence number, or 0.
	MaxSequence(ctx context.Context) (int64, error)
	Clear(ctx context.Context) error
	Close() error
}

// Exporter receives every incident after it is logged. Export must not block.
type Exporter interface {
	Export(ctx context.Context, inc Incident)
}

// FormatID renders a sequence number as INC-0001. Numbers above 9999 widen.
func FormatID(seq int64) string {
	return fmt.Sprintf("INC-%04d", seq)
}

// ParseID extracts the sequence number from an incident id.
func ParseID(id string) (int64, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(id), "INC-")
	if !ok || rest == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
