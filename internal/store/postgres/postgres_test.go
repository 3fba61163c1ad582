package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/loykin/workshop/internal/incident"
)

// startPostgresContainer starts a PostgreSQL container for tests
// and returns a DSN suitable for pgx stdlib. It skips the test if Docker is unavailable.
func startPostgresContainer(t *testing.T) (dsn string, terminate func()) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
	)
	if err != nil {
		cancel()
		t.Skipf("Failed to start PostgreSQL container: %v", err)
		return "", nil // ensure container is never used below
	}

	// container is guaranteed to be non-nil here
	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		cancel()
		t.Skipf("Failed to get host info: %v", err)
		return "", nil
	}

	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		_ = container.Terminate(ctx)
		cancel()
		t.Skipf("Failed to get mapped port: %v", err)
		return "", nil
	}

	dsn = fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	terminate = func() {
		_ = container.Terminate(ctx)
		cancel()
	}

	return dsn, terminate
}

func waitForPostgres(t *testing.T, dsn string) {
	// Try to ping until timeout; helps when container reports ready but DB not yet accepting connections
	deadline := time.Now().Add(45 * time.Second)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		db, err := sql.Open("pgx", dsn)
		if err == nil {
			if err = db.PingContext(ctx); err == nil {
				_ = db.Close()
				cancel()
				return
			}
			_ = db.Close()
		}
		cancel()
		if time.Now().After(deadline) {
			t.Fatalf("postgres not ready in time: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func TestPostgresIncidentStore(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	dsn, terminate := startPostgresContainer(t)
	// Ensure DB is ready to accept connections
	waitForPostgres(t, dsn)
	defer func() {
		if terminate != nil {
			terminate()
		}
	}()

	db, err := New(dsn)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, db.EnsureSchema(ctx))

	l := incident.NewLog(ctx, db)
	first := l.LogEvent(ctx, incident.Entry{AppID: "pgsvc", Event: incident.EventStart, Cause: "operator"})
	l.LogEvent(ctx, incident.Entry{AppID: "other", Event: incident.EventStop})
	last := l.LogEvent(ctx, incident.Entry{AppID: "pgsvc", Event: incident.EventCrash, Outcome: incident.OutcomeEscalated})

	got := l.GetIncidents(ctx, incident.Query{Limit: 10, AppID: "pgsvc"})
	require.Len(t, got, 2)
	assert.Equal(t, last.ID, got[0].ID)
	assert.Equal(t, first.ID, got[1].ID)
	assert.Equal(t, "operator", got[1].Cause)

	assert.True(t, l.Annotate(ctx, first.ID, "planned"))
	assert.False(t, l.Annotate(ctx, "INC-9999", "missing"))
	require.NoError(t, l.Close())

	// reopen: the counter continues from the stored maximum
	db2, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db2.Close() })
	l2 := incident.NewLog(ctx, db2)
	next := l2.LogEvent(ctx, incident.Entry{AppID: "pgsvc", Event: incident.EventRestart})
	assert.Greater(t, next.Seq, last.Seq)

	l2.ClearAll(ctx)
	assert.Empty(t, l2.GetIncidents(ctx, incident.Query{}))
}
