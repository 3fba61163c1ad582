package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/workshop/internal/incident"
	"github.com/loykin/workshop/internal/store"
)

// DB implements incident.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the SQLite database file. Use ":memory:" for in-memory.
type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path, creating its parent directory.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	if p != ":memory:" {
		if dir := filepath.Dir(p); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, err
			}
		}
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// one connection keeps ":memory:" databases shared and serializes writers
	d.SetMaxOpenConns(1)
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS incidents(
			seq INTEGER PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			occurred INTEGER NOT NULL,
			app_id TEXT NOT NULL,
			event TEXT NOT NULL,
			cause TEXT NULL,
			details TEXT NULL,
			outcome TEXT NULL,
			annotation TEXT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_occurred ON incidents(occurred);`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_app ON incidents(app_id);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) Insert(ctx context.Context, inc incident.Incident) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO incidents(seq, id, occurred, app_id, event, cause, details, outcome, annotation)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		inc.Seq, inc.ID, inc.Timestamp.UnixNano(), inc.AppID, string(inc.Event),
		store.NullString(inc.Cause), store.NullString(inc.Details), store.NullString(string(inc.Outcome)), store.NullString(inc.Annotation))
	return err
}

func (s *DB) List(ctx context.Context, q incident.Query) ([]incident.Incident, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = incident.DefaultLimit
	}
	var (
		rows *sql.Rows
		err  error
	)
	if q.AppID != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+store.Columns+`
			FROM incidents
			WHERE app_id=?
			ORDER BY occurred DESC, seq DESC
			LIMIT ?;`, q.AppID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+store.Columns+`
			FROM incidents
			ORDER BY occurred DESC, seq DESC
			LIMIT ?;`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return store.ScanIncidents(rows)
}

func (s *DB) Annotate(ctx context.Context, id, note string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE incidents SET annotation=? WHERE id=?;`, store.NullString(note), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *DB) MaxSequence(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM incidents;`).Scan(&n)
	return n, err
}

func (s *DB) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM incidents;`)
	return err
}
