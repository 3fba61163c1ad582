// Package history exports incidents to analytics systems.
package history

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/workshop/internal/incident"
)

// Event is the document sent to a sink for one logged incident.
type Event struct {
	Type       incident.Event    `json:"type"`
	OccurredAt time.Time         `json:"occurred_at"`
	Incident   incident.Incident `json:"incident"`
}

// NewEvent wraps inc for export.
func NewEvent(inc incident.Incident) Event {
	return Event{Type: inc.Event, OccurredAt: inc.Timestamp, Incident: inc}
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// DefaultTimeout bounds a single Send.
const DefaultTimeout = 5 * time.Second

// Exporter fans every incident out to its sinks in the background.
// It implements incident.Exporter; send failures are logged and dropped.
type Exporter struct {
	sinks   []Sink
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewExporter(timeout time.Duration, sinks ...Sink) *Exporter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Exporter{sinks: sinks, timeout: timeout}
}

// Export sends inc to every sink without blocking the caller.
func (x *Exporter) Export(ctx context.Context, inc incident.Incident) {
	if len(x.sinks) == 0 {
		return
	}
	e := NewEvent(inc)
	// detach from the caller's cancellation, the request may finish first
	base := context.WithoutCancel(ctx)
	for _, s := range x.sinks {
		x.wg.Add(1)
		go func(s Sink) {
			defer x.wg.Done()
			sctx, cancel := context.WithTimeout(base, x.timeout)
			defer cancel()
			if err := s.Send(sctx, e); err != nil {
				slog.Warn("history export failed", "incident", inc.ID, "sink", sinkName(s), "error", err)
			}
		}(s)
	}
}

// Wait blocks until in-flight sends finish.
func (x *Exporter) Wait() { x.wg.Wait() }

// Close waits for in-flight sends and closes sinks that hold connections.
func (x *Exporter) Close() error {
	x.wg.Wait()
	var first error
	for _, s := range x.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

func sinkName(s Sink) string {
	if n, ok := s.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "sink"
}
