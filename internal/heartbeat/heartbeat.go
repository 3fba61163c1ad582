// Package heartbeat keeps one up/down bucket per service and hour, the data
// behind the uptime sparkline of every service view.
package heartbeat

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/workshop/internal/registry"
)

// HourLayout is the bucket key format.
const HourLayout = "2006-01-02T15"

const (
	DefaultHours     = 24
	DefaultKeepHours = 48
)

// Store records heartbeats in SQLite. Storage errors are logged and
// reads fall back to all-zero sequences.
type Store struct {
	db  *sql.DB
	loc *time.Location
	now func() time.Time
	mu  sync.Mutex
}

type Option func(*Store)

// WithLocation sets the zone hour buckets are cut in.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens (creating if needed) the heartbeat database at path.
func Open(path string, opts ...Option) (*Store, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty heartbeat path")
	}
	if p != ":memory:" {
		if dir := filepath.Dir(p); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, err
			}
		}
	}
	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	_, _ = db.Exec("PRAGMA busy_timeout=3000;")
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS heartbeat(
		app_id TEXT NOT NULL,
		hour TEXT NOT NULL,
		status INTEGER NOT NULL,
		PRIMARY KEY (app_id, hour)
	);`); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Store{db: db, loc: time.Local, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) hour(t time.Time) string { return t.In(s.loc).Format(HourLayout) }

// Record upserts the current hour bucket of id.
func (s *Store) Record(ctx context.Context, id string, up bool) {
	status := 0
	if up {
		status = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO heartbeat(app_id, hour, status) VALUES(?, ?, ?)
		ON CONFLICT(app_id, hour) DO UPDATE SET status=excluded.status;`,
		id, s.hour(s.now()), status)
	if err != nil {
		slog.Error("failed to record heartbeat", "service", id, "error", err)
	}
}

// Recent returns the last hours buckets of id, oldest first. Hours without
// data read as 0.
func (s *Store) Recent(id string, hours int) []int {
	if hours <= 0 {
		hours = DefaultHours
	}
	out := make([]int, hours)
	now := s.now()
	keys := make([]string, hours)
	for i := range keys {
		keys[i] = s.hour(now.Add(-time.Duration(hours-1-i) * time.Hour))
	}
	rows, err := s.db.Query(`
		SELECT hour, status FROM heartbeat
		WHERE app_id=? AND hour>=?
		ORDER BY hour DESC LIMIT ?;`, id, keys[0], hours*2)
	if err != nil {
		slog.Error("failed to read heartbeat", "service", id, "error", err)
		return out
	}
	defer func() { _ = rows.Close() }()
	got := make(map[string]int, hours)
	for rows.Next() {
		var h string
		var st int
		if err := rows.Scan(&h, &st); err != nil {
			slog.Error("failed to read heartbeat", "service", id, "error", err)
			return out
		}
		got[h] = st
	}
	for i, k := range keys {
		out[i] = got[k]
	}
	return out
}

// Prune deletes buckets older than keepHours and returns how many went.
func (s *Store) Prune(ctx context.Context, keepHours int) int64 {
	if keepHours <= 0 {
		keepHours = DefaultKeepHours
	}
	cutoff := s.hour(s.now().Add(-time.Duration(keepHours) * time.Hour))
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM heartbeat WHERE hour < ?;`, cutoff)
	if err != nil {
		slog.Error("failed to prune heartbeat", "error", err)
		return 0
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		slog.Info("pruned heartbeat rows", "rows", n)
	}
	return n
}

// ClearAll wipes every bucket.
func (s *Store) ClearAll(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM heartbeat;`); err != nil {
		slog.Error("failed to clear heartbeat", "error", err)
	}
}

// ObserveHealth records a bucket for every applied probe; up means healthy.
func (s *Store) ObserveHealth(id string, r registry.HealthResult) {
	s.Record(context.Background(), id, r.Status == registry.HealthHealthy)
}

// Pruner trims old buckets once an hour.
type Pruner struct {
	store     *Store
	keepHours int
	interval  time.Duration
}

func NewPruner(s *Store, keepHours int) *Pruner {
	return &Pruner{store: s, keepHours: keepHours, interval: time.Hour}
}

func (p *Pruner) Serve(ctx context.Context) error {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		p.store.Prune(ctx, p.keepHours)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (p *Pruner) String() string { return "heartbeat-pruner" }
