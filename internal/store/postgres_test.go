package store_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"coinflip-backend/internal/store"
	"coinflip-backend/internal/store/storetest"
)

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("COINFLIP_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("COINFLIP_TEST_DATABASE_URL not set")
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		ctx := context.Background()
		s, err := store.OpenPostgres(ctx, url)
		if err != nil {
			t.Skipf("Postgres not available: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })

		pool, err := pgxpool.New(ctx, url)
		if err != nil {
			t.Fatalf("connect: %v", err)
		}
		defer pool.Close()
		if _, err := pool.Exec(ctx, `TRUNCATE wagers, ledger_items`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return s
	})
}
