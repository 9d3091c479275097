package node

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"oracleescrow/internal/config"
	"oracleescrow/internal/contracts"
	"oracleescrow/internal/deployments"
	"oracleescrow/internal/devchain"
	"oracleescrow/internal/escrow"
)

func TestOpenDev(t *testing.T) {
	cfg := &config.AppConfig{Chain: config.ChainConfig{Mode: config.ModeDev, ChainID: 31337}}
	n, err := Open(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer n.Close()

	if !n.Dev || n.ChainID.Int64() != 31337 {
		t.Fatalf("unexpected node %+v", n)
	}
	for _, role := range escrow.Roles {
		if !n.Wallet.Has(role) {
			t.Fatalf("wallet missing %s", role)
		}
	}
	if _, err := n.Artifacts.Artifact(contracts.OracleEscrowName); err != nil {
		t.Fatalf("artifact: %v", err)
	}

	chain := n.Backend.(*devchain.Backend)
	before := chain.Accounts()[0].Address
	owner, _ := n.Wallet.Address(escrow.RoleOwner)
	if owner != before {
		t.Fatalf("owner key should be the first dev account")
	}
	if err := n.Clock.IncreaseTime(context.Background(), time.Hour); err != nil {
		t.Fatalf("increase time: %v", err)
	}
}

func TestOpenUnknownMode(t *testing.T) {
	cfg := &config.AppConfig{Chain: config.ChainConfig{Mode: "ipc"}}
	if _, err := Open(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestOpenRPCWithoutURL(t *testing.T) {
	cfg := &config.AppConfig{Chain: config.ChainConfig{Mode: config.ModeRPC, RPCTimeout: time.Second}}
	if _, err := Open(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected error without rpc url")
	}
}

func TestOpenDeployments(t *testing.T) {
	ctx := context.Background()

	dev := &config.AppConfig{Chain: config.ChainConfig{Mode: config.ModeDev}}
	store, closeFn, err := OpenDeployments(ctx, dev)
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()
	if _, ok := store.(*deployments.MemoryStore); !ok {
		t.Fatalf("dev mode should keep deployments in memory, got %T", store)
	}

	path := filepath.Join(t.TempDir(), "deployments.json")
	rpc := &config.AppConfig{
		Chain: config.ChainConfig{Mode: config.ModeRPC},
		Paths: config.PathsConfig{Deployments: path},
	}
	store, closeFn, err = OpenDeployments(ctx, rpc)
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()
	if fs, ok := store.(*deployments.FileStore); !ok || fs.Path() != path {
		t.Fatalf("expected file store at %s, got %T", path, store)
	}
}

func TestOpenIdempotency(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		backend string
		want    string
		wantErr bool
	}{
		{backend: "memory", want: "*idempotency.MemoryStore"},
		{backend: "file", want: "*idempotency.FileStore"},
		{backend: "", want: "*idempotency.FileStore"},
		{backend: "etcd", wantErr: true},
	}
	for _, tc := range cases {
		cfg := &config.AppConfig{Service: config.ServiceConfig{
			IdempotencyBackend:   tc.backend,
			IdempotencyStorePath: filepath.Join(t.TempDir(), "idem.json"),
		}}
		store, closeFn, err := OpenIdempotency(ctx, cfg)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", tc.backend)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", tc.backend, err)
		}
		closeFn()
		if got := fmt.Sprintf("%T", store); got != tc.want {
			t.Fatalf("%q: got %s, want %s", tc.backend, got, tc.want)
		}
	}
}
