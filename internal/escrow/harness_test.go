package escrow_test

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/require"

	"oracleescrow/internal/contracts"
	"oracleescrow/internal/devchain"
	"oracleescrow/internal/escrow"
)

const thirtyOneDays = 31 * 24 * time.Hour

var harnessStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

var depositAmount = big.NewInt(params.Ether)

// harness mirrors the classic truffle setup: accounts[0] owns the contracts,
// [1] deposits, [2] benefits and [3] is a stranger.
type harness struct {
	t           *testing.T
	ctx         context.Context
	chain       *devchain.Backend
	owner       devchain.Account
	depositor   devchain.Account
	beneficiary devchain.Account
	stranger    devchain.Account
	oracle      *escrow.Oracle
	escrow      *escrow.OracleEscrow
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	// a frozen wall clock leaves IncreaseTime as the only way time moves
	chain, err := devchain.New(
		devchain.WithClock(func() time.Time { return harnessStart }),
		devchain.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)

	accounts := chain.Accounts()
	h := &harness{
		t:           t,
		ctx:         context.Background(),
		chain:       chain,
		owner:       accounts[0],
		depositor:   accounts[1],
		beneficiary: accounts[2],
		stranger:    accounts[3],
	}

	art, err := chain.Artifacts().Artifact(contracts.OracleName)
	require.NoError(t, err)
	tx, oracle, err := escrow.DeployOracle(h.opts(h.owner), chain, art, "no")
	require.NoError(t, err)
	h.mined(tx)
	h.oracle = oracle

	h.newOracleEscrow()
	return h
}

func (h *harness) opts(acct devchain.Account) *bind.TransactOpts {
	h.t.Helper()
	chainID, err := h.chain.ChainID(h.ctx)
	require.NoError(h.t, err)
	opts, err := bind.NewKeyedTransactorWithChainID(acct.Key, chainID)
	require.NoError(h.t, err)
	opts.Context = h.ctx
	return opts
}

func (h *harness) valueOpts(acct devchain.Account, value *big.Int) *bind.TransactOpts {
	opts := h.opts(acct)
	opts.Value = new(big.Int).Set(value)
	return opts
}

func (h *harness) mined(tx *types.Transaction) *types.Receipt {
	h.t.Helper()
	receipt, err := bind.WaitMined(h.ctx, h.chain, tx)
	require.NoError(h.t, err)
	require.Equal(h.t, types.ReceiptStatusSuccessful, receipt.Status)
	return receipt
}

func (h *harness) newOracleEscrow() {
	h.t.Helper()
	art, err := h.chain.Artifacts().Artifact(contracts.OracleEscrowName)
	require.NoError(h.t, err)
	tx, esc, err := escrow.DeployOracleEscrow(h.opts(h.owner), h.chain, art,
		h.oracle.Address(), h.depositor.Address, h.beneficiary.Address)
	require.NoError(h.t, err)
	h.mined(tx)
	h.escrow = esc
}

func (h *harness) placeDeposit() {
	h.t.Helper()
	tx, err := h.escrow.Deposit(h.valueOpts(h.depositor, depositAmount))
	require.NoError(h.t, err)
	h.mined(tx)
}

func (h *harness) updateOracle(value string) {
	h.t.Helper()
	tx, err := h.oracle.Update(h.opts(h.owner), value)
	require.NoError(h.t, err)
	h.mined(tx)
}

func (h *harness) execute(acct devchain.Account) {
	h.t.Helper()
	h.executeReceipt(acct)
}

func (h *harness) executeReceipt(acct devchain.Account) *types.Receipt {
	h.t.Helper()
	tx, err := h.escrow.ExecuteContract(h.opts(acct))
	require.NoError(h.t, err)
	return h.mined(tx)
}

func (h *harness) blockTime(receipt *types.Receipt) uint64 {
	h.t.Helper()
	header, err := h.chain.HeaderByNumber(h.ctx, receipt.BlockNumber)
	require.NoError(h.t, err)
	return header.Time
}

func (h *harness) increaseTime() {
	h.t.Helper()
	require.NoError(h.t, h.chain.IncreaseTime(h.ctx, thirtyOneDays))
}

func (h *harness) balance(addr common.Address) *big.Int {
	h.t.Helper()
	bal, err := h.chain.BalanceAt(h.ctx, addr, nil)
	require.NoError(h.t, err)
	return bal
}

func (h *harness) escrowBalance() *big.Int {
	return h.balance(h.escrow.Address())
}

func (h *harness) executed() bool {
	h.t.Helper()
	done, err := h.escrow.ContractExecuted(h.ctx)
	require.NoError(h.t, err)
	return done
}

func (h *harness) requireLatestBlockAfterExpiration() {
	h.t.Helper()
	head, err := h.chain.HeaderByNumber(h.ctx, nil)
	require.NoError(h.t, err)
	expiration, err := h.escrow.Expiration(h.ctx)
	require.NoError(h.t, err)
	require.Greater(h.t, head.Time, expiration.Uint64())
}

func requireRevert(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	require.True(t, escrow.IsRevert(err), "expected a revert, got %v", err)
}
