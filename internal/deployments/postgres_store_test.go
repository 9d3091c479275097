package deployments

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestPostgresStoreLifecycle(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()
	if _, err := store.pool.Exec(ctx, `DELETE FROM contract_deployments WHERE chain_id = 1337`); err != nil {
		t.Fatalf("reset table: %v", err)
	}

	exerciseStore(t, store)
}
