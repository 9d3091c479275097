package node

import (
	"context"
	"fmt"

	"oracleescrow/internal/config"
	"oracleescrow/internal/deployments"
	"oracleescrow/internal/idempotency"
)

// OpenDeployments returns the deployment registry: Postgres when a DSN is
// configured, deployments.json otherwise. A devchain never outlives the
// process, so its records stay in memory.
func OpenDeployments(ctx context.Context, cfg *config.AppConfig) (deployments.Store, func(), error) {
	switch {
	case cfg.Chain.Mode == config.ModeDev:
		return deployments.NewMemoryStore(), func() {}, nil
	case cfg.Service.PostgresDSN != "":
		store, err := deployments.NewPostgresStore(ctx, cfg.Service.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		store, err := deployments.NewFileStore(cfg.Paths.Deployments)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}
}

// OpenIdempotency returns the store selected by IDEMPOTENCY_BACKEND.
func OpenIdempotency(ctx context.Context, cfg *config.AppConfig) (idempotency.Store, func(), error) {
	svc := cfg.Service
	switch svc.IdempotencyBackend {
	case "memory":
		return idempotency.NewMemoryStore(), func() {}, nil
	case "file", "":
		store, err := idempotency.NewFileStore(svc.IdempotencyStorePath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	case "postgres":
		store, err := idempotency.NewPostgresStore(ctx, svc.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "redis":
		store, err := idempotency.NewRedisStore(ctx, svc.RedisAddr, svc.RedisPassword, 0)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown idempotency backend %q", svc.IdempotencyBackend)
	}
}
