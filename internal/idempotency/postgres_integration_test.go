//go:build integration

package idempotency

import (
	"context"
	"testing"
	"time"

	"oracleescrow/internal/testutil"
)

func TestPostgresStoreAgainstContainer(t *testing.T) {
	dsn, cleanup := testutil.StartPostgres(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()

	exercisePostgres(t, ctx, store)
}
