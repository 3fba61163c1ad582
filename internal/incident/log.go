package incident

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/workshop/internal/metrics"
)

// Log assigns sequence ids, stamps and persists incidents. Storage failures
// never reach the caller: writes return a best-effort record and reads
// return an empty result.
type Log struct {
	store     Store
	loc       *time.Location
	exporters []Exporter
	now       func() time.Time

	// mu serializes id assignment with the insert so ids and timestamps grow together.
	mu  sync.Mutex
	seq int64
	// synced is false until MaxSequence has succeeded; ids are not trusted before that.
	synced bool
}

type Option func(*Log)

// WithLocation sets the zone incident timestamps are stamped and reported in.
func WithLocation(loc *time.Location) Option {
	return func(l *Log) {
		if loc != nil {
			l.loc = loc
		}
	}
}

// WithExporter forwards every logged incident to e.
func WithExporter(e Exporter) Option {
	return func(l *Log) {
		if e != nil {
			l.exporters = append(l.exporters, e)
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// NewLog prepares st and recovers the sequence counter from the highest persisted id.
func NewLog(ctx context.Context, st Store, opts ...Option) *Log {
	if st == nil {
		st = NewMemoryStore()
	}
	l := &Log{store: st, loc: time.Local, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	if err := st.EnsureSchema(ctx); err != nil {
		slog.Error("incident schema setup failed", "error", err)
	}
	l.resync(ctx)
	return l
}

// LogEvent records e and returns the incident. The record is returned even
// when it could not be persisted.
func (l *Log) LogEvent(ctx context.Context, e Entry) Incident {
	l.mu.Lock()
	if !l.synced {
		l.resync(ctx)
	}
	inc := l.assign(e)
	err := l.store.Insert(ctx, inc)
	if err != nil {
		// the id may already be persisted; move past the stored maximum and retry once
		if hi, ok := l.resync(ctx); ok && hi >= inc.Seq {
			inc = l.assign(e)
			err = l.store.Insert(ctx, inc)
		}
	}
	l.mu.Unlock()

	if err != nil {
		slog.Error("failed to persist incident", "incident", inc.ID, "service", inc.AppID, "error", err)
	} else {
		slog.Info("incident logged", "incident", inc.ID, "service", inc.AppID, "event", inc.Event, "outcome", inc.Outcome)
	}
	metrics.IncIncident(string(inc.Event), string(inc.Outcome))
	for _, ex := range l.exporters {
		ex.Export(ctx, inc)
	}
	return inc
}

// assign takes the next id. Callers hold l.mu.
func (l *Log) assign(e Entry) Incident {
	l.seq++
	return Incident{
		ID:        FormatID(l.seq),
		Seq:       l.seq,
		Timestamp: l.now().In(l.loc),
		AppID:     e.AppID,
		Event:     e.Event,
		Cause:     e.Cause,
		Details:   e.Details,
		Outcome:   e.Outcome,
	}
}

// resync raises the counter to the highest persisted sequence. It reports
// that maximum and whether the store answered. Callers hold l.mu or own l.
func (l *Log) resync(ctx context.Context) (int64, bool) {
	hi, err := l.store.MaxSequence(ctx)
	if err != nil {
		slog.Error("incident sequence recovery failed", "error", err)
		l.synced = false
		return 0, false
	}
	l.synced = true
	if hi > l.seq {
		l.seq = hi
	}
	return hi, true
}

// GetIncidents returns up to q.Limit incidents newest first (DefaultLimit when unset).
func (l *Log) GetIncidents(ctx context.Context, q Query) []Incident {
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	out, err := l.store.List(ctx, q)
	if err != nil {
		slog.Error("failed to read incidents", "error", err)
		return []Incident{}
	}
	for i := range out {
		out[i].Timestamp = out[i].Timestamp.In(l.loc)
	}
	return out
}

// Annotate sets or overwrites the note on id and reports whether id exists.
func (l *Log) Annotate(ctx context.Context, id, note string) bool {
	ok, err := l.store.Annotate(ctx, id, note)
	if err != nil {
		slog.Error("failed to annotate incident", "incident", id, "error", err)
		return false
	}
	return ok
}

// ClearAll removes every incident and resets the counter.
func (l *Log) ClearAll(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.store.Clear(ctx); err != nil {
		slog.Error("failed to clear incidents", "error", err)
		return
	}
	l.seq = 0
}

// Close releases the underlying store.
func (l *Log) Close() error { return l.store.Close() }
