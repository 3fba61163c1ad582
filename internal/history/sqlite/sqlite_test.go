package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/workshop/internal/history"
	"github.com/loykin/workshop/internal/incident"
)

func TestSQLiteSink_Integration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	sink, err := New("sqlite://" + dbPath)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	ctx := context.Background()
	for i, ev := range []incident.Event{incident.EventStart, incident.EventStop} {
		inc := incident.Incident{ID: incident.FormatID(int64(i + 1)), Seq: int64(i + 1), Timestamp: time.Now(), AppID: "api", Event: ev}
		if err := sink.Send(ctx, history.NewEvent(inc)); err != nil {
			t.Fatalf("Failed to send %s event: %v", ev, err)
		}
	}

	n, err := sink.Count(ctx, "api")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows, got %d", n)
	}
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	if _, err := New(" "); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
