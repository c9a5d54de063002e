package docstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/Finding-Finance-Association/website-sub000/internal/docstore"
	"github.com/Finding-Finance-Association/website-sub000/internal/platform/config"
	"github.com/Finding-Finance-Association/website-sub000/internal/platform/database"
)

func TestPostgresStore(t *testing.T) {
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

	db, err := database.New(ctx, config.DatabaseConfig{URL: url, MaxConns: 4, MinConns: 1})
	if err != nil {
		t.Fatalf("database.New() error = %v", err)
	}
	t.Cleanup(db.Close)

	if err := db.Migrate(ctx, docstore.Schema...); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	runStoreTests(t, func(t *testing.T) docstore.DocumentStore {
		if _, err := db.Pool.Exec(ctx, `TRUNCATE documents`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		s, err := docstore.NewPostgresStore(db.Pool)
		if err != nil {
			t.Fatalf("NewPostgresStore() error = %v", err)
		}
		return s
	})
}
