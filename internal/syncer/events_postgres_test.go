package syncer_test

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/Finding-Finance-Association/website-sub000/internal/platform/config"
	"github.com/Finding-Finance-Association/website-sub000/internal/platform/database"
	"github.com/Finding-Finance-Association/website-sub000/internal/syncer"
)

func TestPostgresEventLogger(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("progress"),
		postgres.WithUsername("progress"),
		postgres.WithPassword("progress"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}

	url, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	db, err := database.New(ctx, config.DatabaseConfig{URL: url, MaxConns: 2, MinConns: 1})
	if err != nil {
		t.Fatalf("database.New() error = %v", err)
	}
	t.Cleanup(db.Close)

	if err := db.Migrate(ctx, syncer.EventSchema...); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	logger := syncer.NewPostgresEventLogger(db.Pool)
	if err := logger.LogEvent(syncer.Event{
		UserID:    "u1",
		CourseID:  "c1",
		EventType: syncer.EventWriteFailed,
		Op:        "write",
		Error:     "store unavailable",
	}); err != nil {
		t.Fatalf("LogEvent() error = %v", err)
	}
	if err := logger.LogEvent(syncer.Event{UserID: "u1"}); err == nil {
		t.Error("LogEvent() should require an event type")
	}

	var (
		count int
		msg   string
	)
	err = db.Pool.QueryRow(ctx,
		`SELECT count(*), max(error) FROM sync_events WHERE user_id = $1 AND event_type = $2`,
		"u1", syncer.EventWriteFailed,
	).Scan(&count, &msg)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if count != 1 || msg != "store unavailable" {
		t.Errorf("stored events = %d (%q), want 1", count, msg)
	}
}
