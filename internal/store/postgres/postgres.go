package postgres

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/workshop/internal/incident"
	"github.com/loykin/workshop/internal/store"
)

// DB implements incident.Store for PostgreSQL through the pgx stdlib driver.
type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS incidents(
			seq BIGINT PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			occurred BIGINT NOT NULL,
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
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) Insert(ctx context.Context, inc incident.Incident) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO incidents(seq, id, occurred, app_id, event, cause, details, outcome, annotation)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9);`,
		inc.Seq, inc.ID, inc.Timestamp.UnixNano(), inc.AppID, string(inc.Event),
		store.NullString(inc.Cause), store.NullString(inc.Details), store.NullString(string(inc.Outcome)), store.NullString(inc.Annotation))
	return err
}

func (p *DB) List(ctx context.Context, q incident.Query) ([]incident.Incident, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = incident.DefaultLimit
	}
	var (
		rows *sql.Rows
		err  error
	)
	if q.AppID != "" {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+store.Columns+`
			FROM incidents
			WHERE app_id=$1
			ORDER BY occurred DESC, seq DESC
			LIMIT $2;`, q.AppID, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+store.Columns+`
			FROM incidents
			ORDER BY occurred DESC, seq DESC
			LIMIT $1;`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return store.ScanIncidents(rows)
}

func (p *DB) Annotate(ctx context.Context, id, note string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE incidents SET annotation=$1 WHERE id=$2;`, store.NullString(note), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (p *DB) MaxSequence(ctx context.Context) (int64, error) {
	var n int64
	err := p.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM incidents;`).Scan(&n)
	return n, err
}

func (p *DB) Clear(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM incidents;`)
	return err
}
