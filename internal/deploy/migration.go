// Package deploy runs the oracle escrow migration: an Oracle seeded with
// "no" and an OracleEscrow over it, recorded per chain.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"oracleescrow/internal/contracts"
	"oracleescrow/internal/deployments"
	"oracleescrow/internal/escrow"
	"oracleescrow/internal/retry"
)

const (
	MigrationName = "2_oracle_escrow_contract"
	InitialValue  = "no"
)

var ErrDeploymentFailed = errors.New("deployment failed")

// Params names the parties of the escrow being deployed. Deployer signs both
// deployments and becomes the owner of each contract.
type Params struct {
	Deployer     *bind.TransactOpts
	Depositor    common.Address
	Beneficiary  common.Address
	InitialValue string
}

// Result holds the records of both contracts. Skipped is set when an earlier
// run already deployed them and their code is still on chain.
type Result struct {
	Oracle       deployments.Record
	OracleEscrow deployments.Record
	Skipped      bool
}

type Migrator struct {
	backend   escrow.Backend
	artifacts contracts.ArtifactSource
	store     deployments.Store
	logger    *slog.Logger
	retry     retry.Config
	timeout   time.Duration
	now       func() time.Time
}

type Option func(*Migrator)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Migrator) { m.logger = logger }
}

func WithRetry(cfg retry.Config) Option {
	return func(m *Migrator) { m.retry = cfg }
}

// WithTimeout bounds how long each deployment waits to be mined.
func WithTimeout(d time.Duration) Option {
	return func(m *Migrator) { m.timeout = d }
}

func NewMigrator(backend escrow.Backend, artifacts contracts.ArtifactSource, store deployments.Store, opts ...Option) *Migrator {
	m := &Migrator{
		backend:   backend,
		artifacts: artifacts,
		store:     store,
		logger:    slog.Default(),
		retry:     retry.DefaultConfig(),
		timeout:   2 * time.Minute,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run deploys the oracle and then the escrow, unless the chain already has both.
func (m *Migrator) Run(ctx context.Context, p Params) (Result, error) {
	if p.Deployer == nil {
		return Result{}, errors.New("deployer transactor is required")
	}
	if p.Depositor == (common.Address{}) || p.Beneficiary == (common.Address{}) {
		return Result{}, errors.New("depositor and beneficiary are required")
	}
	if p.InitialValue == "" {
		p.InitialValue = InitialValue
	}
	deployer := *p.Deployer
	deployer.Context = ctx

	chainID, err := retry.Do(ctx, m.retry, isTransient, m.onRetry("chain id"), func() (int64, error) {
		id, err := m.backend.ChainID(ctx)
		if err != nil {
			return 0, err
		}
		return id.Int64(), nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("chain id: %w", err)
	}
	logger := m.logger.With("migration", MigrationName, "chain_id", chainID)

	if res, ok, err := m.completed(ctx, chainID, p); err != nil {
		return Result{}, err
	} else if ok {
		logger.Info("migration already applied",
			"oracle", res.Oracle.Address.Hex(),
			"escrow", res.OracleEscrow.Address.Hex(),
		)
		return res, nil
	}

	oracleArt, err := m.artifacts.Artifact(contracts.OracleName)
	if err != nil {
		return Result{}, err
	}
	escrowArt, err := m.artifacts.Artifact(contracts.OracleEscrowName)
	if err != nil {
		return Result{}, err
	}

	tx, oracle, err := escrow.DeployOracle(&deployer, m.backend, oracleArt, p.InitialValue)
	if err != nil {
		return Result{}, err
	}
	oracleRec, err := m.record(ctx, chainID, contracts.OracleName, oracle.Address(), tx)
	if err != nil {
		return Result{}, err
	}
	logger.Info("contract deployed", "contract", contracts.OracleName, "address", oracleRec.Address.Hex(), "block", oracleRec.BlockNumber)

	tx, esc, err := escrow.DeployOracleEscrow(&deployer, m.backend, escrowArt, oracle.Address(), p.Depositor, p.Beneficiary)
	if err != nil {
		return Result{}, err
	}
	escrowRec, err := m.record(ctx, chainID, contracts.OracleEscrowName, esc.Address(), tx)
	if err != nil {
		return Result{}, err
	}
	logger.Info("contract deployed", "contract", contracts.OracleEscrowName, "address", escrowRec.Address.Hex(), "block", escrowRec.BlockNumber)

	return Result{Oracle: oracleRec, OracleEscrow: escrowRec}, nil
}

// completed reports whether both contracts are recorded for this migration,
// still have code and the escrow names the requested parties. A reset dev
// chain loses the code, so it redeploys; so do new parties.
func (m *Migrator) completed(ctx context.Context, chainID int64, p Params) (Result, bool, error) {
	var recs [2]deployments.Record
	for i, name := range []string{contracts.OracleName, contracts.OracleEscrowName} {
		rec, err := m.store.Get(ctx, chainID, name)
		if err != nil {
			return Result{}, false, fmt.Errorf("read deployment %s: %w", name, err)
		}
		if rec == nil || rec.Migration != MigrationName {
			return Result{}, false, nil
		}
		code, err := m.backend.CodeAt(ctx, rec.Address, nil)
		if err != nil {
			return Result{}, false, fmt.Errorf("code at %s: %w", rec.Address.Hex(), err)
		}
		if len(code) == 0 {
			m.logger.Warn("recorded contract has no code, redeploying", "contract", name, "address", rec.Address.Hex())
			return Result{}, false, nil
		}
		recs[i] = *rec
	}

	same, err := m.sameParties(ctx, recs[1].Address, p)
	if err != nil || !same {
		return Result{}, false, err
	}
	return Result{Oracle: recs[0], OracleEscrow: recs[1], Skipped: true}, true, nil
}

func (m *Migrator) sameParties(ctx context.Context, address common.Address, p Params) (bool, error) {
	esc, err := escrow.NewOracleEscrow(address, m.backend)
	if err != nil {
		return false, err
	}
	depositor, err := esc.Depositor(ctx)
	if err != nil {
		return false, fmt.Errorf("read recorded depositor: %w", err)
	}
	beneficiary, err := esc.Beneficiary(ctx)
	if err != nil {
		return false, fmt.Errorf("read recorded beneficiary: %w", err)
	}
	if depositor != p.Depositor || beneficiary != p.Beneficiary {
		m.logger.Warn("recorded escrow has other parties, redeploying",
			"address", address.Hex(),
			"depositor", depositor.Hex(),
			"beneficiary", beneficiary.Hex(),
		)
		return false, nil
	}
	return true, nil
}

func (m *Migrator) record(ctx context.Context, chainID int64, name string, address common.Address, tx *types.Transaction) (deployments.Record, error) {
	waitCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, m.backend, tx)
	if err != nil {
		return deployments.Record{}, fmt.Errorf("wait for %s deployment: %w", name, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return deployments.Record{}, fmt.Errorf("%w: %s (tx %s)", ErrDeploymentFailed, name, tx.Hash().Hex())
	}
	code, err := m.backend.CodeAt(waitCtx, address, nil)
	if err != nil {
		return deployments.Record{}, fmt.Errorf("code at %s: %w", address.Hex(), err)
	}
	if len(code) == 0 {
		return deployments.Record{}, fmt.Errorf("%s at %s: %w", name, address.Hex(), bind.ErrNoCodeAfterDeploy)
	}

	rec := deployments.Record{
		ChainID:     chainID,
		Contract:    name,
		Address:     address,
		TxHash:      tx.Hash(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		Migration:   MigrationName,
		DeployedAt:  m.now().UTC(),
	}
	if err := m.store.Save(ctx, rec); err != nil {
		return deployments.Record{}, fmt.Errorf("save %s deployment: %w", name, err)
	}
	return rec, nil
}

func (m *Migrator) onRetry(op string) retry.OnRetryFunc {
	return func(attempt int, err error, backoff time.Duration) {
		m.logger.Warn("retrying", "op", op, "attempt", attempt, "backoff", backoff, "err", err)
	}
}

// isTransient treats everything except reverts and cancellation as worth retrying.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !escrow.IsRevert(err)
}
