package deploy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"oracleescrow/internal/contracts"
	"oracleescrow/internal/deployments"
	"oracleescrow/internal/devchain"
	"oracleescrow/internal/escrow"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setup(t *testing.T) (*devchain.Backend, Params) {
	t.Helper()
	chain, err := devchain.New(devchain.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("devchain: %v", err)
	}
	accounts := chain.Accounts()
	chainID, _ := chain.ChainID(context.Background())
	opts, err := bind.NewKeyedTransactorWithChainID(accounts[0].Key, chainID)
	if err != nil {
		t.Fatalf("transactor: %v", err)
	}
	return chain, Params{
		Deployer:    opts,
		Depositor:   accounts[1].Address,
		Beneficiary: accounts[2].Address,
	}
}

func TestMigrationDeploysBothContracts(t *testing.T) {
	chain, params := setup(t)
	ctx := context.Background()
	store, err := deployments.NewFileStore(filepath.Join(t.TempDir(), "deployments.json"))
	if err != nil {
		t.Fatal(err)
	}

	res, err := NewMigrator(chain, chain.Artifacts(), store, WithLogger(quietLogger())).Run(ctx, params)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Skipped {
		t.Fatal("first run must deploy")
	}
	if res.Oracle.BlockNumber >= res.OracleEscrow.BlockNumber {
		t.Fatalf("oracle must be deployed before the escrow: %d vs %d", res.Oracle.BlockNumber, res.OracleEscrow.BlockNumber)
	}

	esc, err := escrow.NewOracleEscrow(res.OracleEscrow.Address, chain)
	if err != nil {
		t.Fatal(err)
	}
	oracleAddr, err := esc.Oracle(ctx)
	if err != nil || oracleAddr != res.Oracle.Address {
		t.Fatalf("escrow points at %s (%v), want %s", oracleAddr.Hex(), err, res.Oracle.Address.Hex())
	}
	checks := []struct {
		name string
		read func(context.Context) (common.Address, error)
		want common.Address
	}{
		{"depositor", esc.Depositor, params.Depositor},
		{"beneficiary", esc.Beneficiary, params.Beneficiary},
		{"owner", esc.Owner, params.Deployer.From},
	}
	for _, c := range checks {
		got, err := c.read(ctx)
		if err != nil || got != c.want {
			t.Fatalf("%s = %s (%v), want %s", c.name, got.Hex(), err, c.want.Hex())
		}
	}

	oracle, err := escrow.NewOracle(res.Oracle.Address, chain)
	if err != nil {
		t.Fatal(err)
	}
	if value, err := oracle.Value(ctx); err != nil || value != InitialValue {
		t.Fatalf("oracle value %q (%v)", value, err)
	}

	list, err := store.List(ctx, devchain.DefaultChainID)
	if err != nil || len(list) != 2 {
		t.Fatalf("expected two stored deployments, got %+v (%v)", list, err)
	}
	if list[1].Contract != contracts.OracleEscrowName || list[1].Migration != MigrationName {
		t.Fatalf("unexpected record %+v", list[1])
	}
}

func TestMigrationIsIdempotent(t *testing.T) {
	chain, params := setup(t)
	ctx := context.Background()
	store := deployments.NewMemoryStore()
	m := NewMigrator(chain, chain.Artifacts(), store, WithLogger(quietLogger()))

	first, err := m.Run(ctx, params)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	head, _ := chain.BlockNumber(ctx)

	second, err := m.Run(ctx, params)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !second.Skipped || second.OracleEscrow.Address != first.OracleEscrow.Address {
		t.Fatalf("expected skipped run reusing %s, got %+v", first.OracleEscrow.Address.Hex(), second)
	}
	if after, _ := chain.BlockNumber(ctx); after != head {
		t.Fatalf("skipped run mined blocks: %d -> %d", head, after)
	}
}

func TestMigrationRedeploysForOtherParties(t *testing.T) {
	chain, params := setup(t)
	ctx := context.Background()
	store := deployments.NewMemoryStore()
	m := NewMigrator(chain, chain.Artifacts(), store, WithLogger(quietLogger()))

	first, err := m.Run(ctx, params)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}

	params.Depositor = chain.Accounts()[3].Address
	second, err := m.Run(ctx, params)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Skipped || second.OracleEscrow.Address == first.OracleEscrow.Address {
		t.Fatalf("expected a fresh escrow for the new depositor, got %+v", second)
	}
	esc, err := escrow.NewOracleEscrow(second.OracleEscrow.Address, chain)
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := esc.Depositor(ctx); got != params.Depositor {
		t.Fatalf("depositor %s, want %s", got.Hex(), params.Depositor.Hex())
	}
	if rec, _ := store.Get(ctx, devchain.DefaultChainID, contracts.OracleEscrowName); rec.Address != second.OracleEscrow.Address {
		t.Fatalf("registry still points at %s", rec.Address.Hex())
	}

	third, err := m.Run(ctx, params)
	if err != nil || !third.Skipped {
		t.Fatalf("expected the new escrow to be reused, got %+v (%v)", third, err)
	}
}

func TestMigrationRedeploysWhenCodeIsGone(t *testing.T) {
	chain, params := setup(t)
	ctx := context.Background()
	store := deployments.NewMemoryStore()

	// Records left over from a chain that has since been reset.
	for _, name := range []string{contracts.OracleName, contracts.OracleEscrowName} {
		if err := store.Save(ctx, deployments.Record{
			ChainID:   devchain.DefaultChainID,
			Contract:  name,
			Address:   common.HexToAddress("0x00000000000000000000000000000000000000aa"),
			Migration: MigrationName,
		}); err != nil {
			t.Fatal(err)
		}
	}

	res, err := NewMigrator(chain, chain.Artifacts(), store, WithLogger(quietLogger())).Run(ctx, params)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Skipped {
		t.Fatal("expected a fresh deployment")
	}
	rec, _ := store.Get(ctx, devchain.DefaultChainID, contracts.OracleEscrowName)
	if rec == nil || rec.Address != res.OracleEscrow.Address {
		t.Fatalf("store not updated: %+v", rec)
	}
}

func TestMigrationValidatesParams(t *testing.T) {
	chain, params := setup(t)
	m := NewMigrator(chain, chain.Artifacts(), deployments.NewMemoryStore(), WithLogger(quietLogger()))

	bad := params
	bad.Depositor = common.Address{}
	if _, err := m.Run(context.Background(), bad); err == nil {
		t.Fatal("expected error without depositor")
	}
	bad = params
	bad.Deployer = nil
	if _, err := m.Run(context.Background(), bad); err == nil {
		t.Fatal("expected error without deployer")
	}
}

func TestMigrationMissingArtifact(t *testing.T) {
	chain, params := setup(t)
	m := NewMigrator(chain, contracts.MapSource{}, deployments.NewMemoryStore(), WithLogger(quietLogger()))
	if _, err := m.Run(context.Background(), params); !errors.Is(err, contracts.ErrArtifactNotFound) {
		t.Fatalf("expected ErrArtifactNotFound, got %v", err)
	}
}
