package devchain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"

	"oracleescrow/internal/contracts"
)

var genesisTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New(
		WithClock(func() time.Time { return genesisTime }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	return b
}

func signTx(t *testing.T, b *Backend, from Account, nonce uint64, to *common.Address, value *big.Int, gas uint64, data []byte) *types.Transaction {
	t.Helper()
	tx, err := types.SignNewTx(from.Key, types.LatestSignerForChainID(b.chainID), &types.LegacyTx{
		Nonce:    nonce,
		To:       to,
		Value:    value,
		Gas:      gas,
		GasPrice: big.NewInt(params.GWei),
		Data:     data,
	})
	if err != nil {
		t.Fatalf("sign tx: %v", err)
	}
	return tx
}

func transactor(t *testing.T, b *Backend, acct Account) *bind.TransactOpts {
	t.Helper()
	opts, err := bind.NewKeyedTransactorWithChainID(acct.Key, b.chainID)
	if err != nil {
		t.Fatalf("transactor: %v", err)
	}
	return opts
}

// deployEscrow deploys an oracle holding initial and an escrow over it from
// account 0, with accounts 1 and 2 as depositor and beneficiary.
func deployEscrow(t *testing.T, b *Backend, initial string) (oracle, escrow common.Address) {
	t.Helper()
	accts := b.Accounts()
	opts := transactor(t, b, accts[0])

	oracle, _, _, err := bind.DeployContract(opts, contracts.MustABI(contracts.OracleName),
		programCode(contracts.OracleName), b, contracts.ToBytes32(initial))
	if err != nil {
		t.Fatalf("deploy oracle: %v", err)
	}
	escrow, _, _, err = bind.DeployContract(opts, contracts.MustABI(contracts.OracleEscrowName),
		programCode(contracts.OracleEscrowName), b, oracle, accts[1].Address, accts[2].Address)
	if err != nil {
		t.Fatalf("deploy escrow: %v", err)
	}
	return oracle, escrow
}

func TestDevAccountsAreDeterministic(t *testing.T) {
	first, err := DevAccounts(3)
	if err != nil {
		t.Fatal(err)
	}
	second, err := DevAccounts(3)
	if err != nil {
		t.Fatal(err)
	}
	seen := map[common.Address]bool{}
	for i := range first {
		if first[i].Address != second[i].Address {
			t.Fatalf("account %d differs between runs", i)
		}
		if seen[first[i].Address] {
			t.Fatalf("account %d duplicates an earlier address", i)
		}
		seen[first[i].Address] = true
	}
}

func TestValueTransferChargesGas(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	accts := b.Accounts()
	from, to := accts[0], accts[5].Address
	value := big.NewInt(params.Ether)

	tx := signTx(t, b, from, 0, &to, value, params.TxGas, nil)
	if err := b.SendTransaction(ctx, tx); err != nil {
		t.Fatalf("send: %v", err)
	}

	receipt, err := b.TransactionReceipt(ctx, tx.Hash())
	if err != nil {
		t.Fatalf("receipt: %v", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful || receipt.GasUsed != params.TxGas {
		t.Fatalf("unexpected receipt status=%d gas=%d", receipt.Status, receipt.GasUsed)
	}
	if receipt.BlockNumber.Uint64() != 1 {
		t.Fatalf("expected block 1, got %s", receipt.BlockNumber)
	}

	got, _ := b.BalanceAt(ctx, to, nil)
	if want := new(big.Int).Add(DefaultBalance, value); got.Cmp(want) != 0 {
		t.Fatalf("recipient balance %s, want %s", got, want)
	}
	fee := new(big.Int).Mul(big.NewInt(params.GWei), new(big.Int).SetUint64(params.TxGas))
	got, _ = b.BalanceAt(ctx, from.Address, nil)
	if want := new(big.Int).Sub(new(big.Int).Sub(DefaultBalance, value), fee); got.Cmp(want) != 0 {
		t.Fatalf("sender balance %s, want %s", got, want)
	}
	if nonce, _ := b.PendingNonceAt(ctx, from.Address); nonce != 1 {
		t.Fatalf("expected nonce 1, got %d", nonce)
	}
}

func TestSendTransactionValidation(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	accts := b.Accounts()
	to := accts[1].Address

	tx := signTx(t, b, accts[0], 0, &to, big.NewInt(1), params.TxGas, nil)
	if err := b.SendTransaction(ctx, tx); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := b.SendTransaction(ctx, tx); !errors.Is(err, ErrKnownTransaction) {
		t.Fatalf("expected ErrKnownTransaction, got %v", err)
	}

	stale := signTx(t, b, accts[0], 0, &to, big.NewInt(2), params.TxGas, nil)
	if err := b.SendTransaction(ctx, stale); !errors.Is(err, ErrNonceTooLow) {
		t.Fatalf("expected ErrNonceTooLow, got %v", err)
	}
	gap := signTx(t, b, accts[0], 5, &to, big.NewInt(1), params.TxGas, nil)
	if err := b.SendTransaction(ctx, gap); !errors.Is(err, ErrNonceTooHigh) {
		t.Fatalf("expected ErrNonceTooHigh, got %v", err)
	}
	short := signTx(t, b, accts[0], 1, &to, big.NewInt(1), params.TxGas-1, nil)
	if err := b.SendTransaction(ctx, short); !errors.Is(err, ErrIntrinsicGas) {
		t.Fatalf("expected ErrIntrinsicGas, got %v", err)
	}
	tooMuch := signTx(t, b, accts[0], 1, &to, new(big.Int).Mul(DefaultBalance, big.NewInt(2)), params.TxGas, nil)
	if err := b.SendTransaction(ctx, tooMuch); !errors.Is(err, ErrInsufficientForTx) {
		t.Fatalf("expected ErrInsufficientForTx, got %v", err)
	}

	if n, _ := b.BlockNumber(ctx); n != 1 {
		t.Fatalf("rejected transactions must not be mined, head is %d", n)
	}
	if _, err := b.TransactionReceipt(ctx, gap.Hash()); !errors.Is(err, ethereum.NotFound) {
		t.Fatalf("expected NotFound for rejected tx, got %v", err)
	}
}

func TestDeployAndCall(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	oracle, escrow := deployEscrow(t, b, "no")

	code, err := b.CodeAt(ctx, escrow, nil)
	if err != nil || len(code) == 0 {
		t.Fatalf("expected escrow code, got %x (%v)", code, err)
	}
	if code[0] != byte(vm.INVALID) {
		t.Fatalf("program code must start with INVALID")
	}

	bound := bind.NewBoundContract(escrow, contracts.MustABI(contracts.OracleEscrowName), b, b, b)
	var out []interface{}
	if err := bound.Call(&bind.CallOpts{Context: ctx}, &out, "oracle"); err != nil {
		t.Fatalf("call oracle: %v", err)
	}
	if got := out[0].(common.Address); got != oracle {
		t.Fatalf("escrow oracle = %s, want %s", got.Hex(), oracle.Hex())
	}

	out = nil
	if err := bound.Call(&bind.CallOpts{Context: ctx}, &out, "expiration"); err != nil {
		t.Fatalf("call expiration: %v", err)
	}
	want := genesisTime.Add(contracts.EscrowDuration).Unix()
	if got := out[0].(*big.Int); got.Int64() != want {
		t.Fatalf("expiration = %s, want %d", got, want)
	}
}

func TestRevertedTransactionIsAtomic(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	_, escrow := deployEscrow(t, b, "no")
	stranger := b.Accounts()[3]

	// A fixed gas limit skips estimation, so the revert happens on-chain.
	opts := transactor(t, b, stranger)
	opts.Value = big.NewInt(params.Ether)
	opts.GasLimit = 100_000
	bound := bind.NewBoundContract(escrow, contracts.MustABI(contracts.OracleEscrowName), b, b, b)
	tx, err := bound.Transfer(opts)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	receipt, err := b.TransactionReceipt(ctx, tx.Hash())
	if err != nil {
		t.Fatalf("receipt: %v", err)
	}
	if receipt.Status != types.ReceiptStatusFailed {
		t.Fatalf("expected failed receipt")
	}
	if bal, _ := b.BalanceAt(ctx, escrow, nil); bal.Sign() != 0 {
		t.Fatalf("escrow balance must stay zero, got %s", bal)
	}

	fee := new(big.Int).Mul(big.NewInt(params.GWei), new(big.Int).SetUint64(receipt.GasUsed))
	bal, _ := b.BalanceAt(ctx, stranger.Address, nil)
	if want := new(big.Int).Sub(DefaultBalance, fee); bal.Cmp(want) != 0 {
		t.Fatalf("stranger balance %s, want %s", bal, want)
	}
	if nonce, _ := b.NonceAt(ctx, stranger.Address, nil); nonce != 1 {
		t.Fatalf("failed transactions still use their nonce, got %d", nonce)
	}
}

func TestNonPayableMethodReverts(t *testing.T) {
	b := newTestBackend(t)
	_, escrow := deployEscrow(t, b, "no")
	parsed := contracts.MustABI(contracts.OracleEscrowName)
	input, err := parsed.Pack("executeContract")
	if err != nil {
		t.Fatal(err)
	}

	_, err = b.CallContract(context.Background(), ethereum.CallMsg{
		From:  b.Accounts()[1].Address,
		To:    &escrow,
		Value: big.NewInt(1),
		Data:  input,
	}, nil)
	var rev *RevertError
	if !errors.As(err, &rev) {
		t.Fatalf("expected RevertError, got %v", err)
	}
	if rev.Reason != errNonPayable {
		t.Fatalf("unexpected reason %q", rev.Reason)
	}
	if !errors.Is(err, vm.ErrExecutionReverted) {
		t.Fatalf("revert must unwrap to vm.ErrExecutionReverted")
	}
	reason, err := abi.UnpackRevert(rev.Data())
	if err != nil || reason != errNonPayable {
		t.Fatalf("revert payload decodes to %q (%v)", reason, err)
	}
}

func TestUnknownBytecodeIsRejected(t *testing.T) {
	b := newTestBackend(t)
	_, err := b.EstimateGas(context.Background(), ethereum.CallMsg{
		From: b.Accounts()[0].Address,
		Data: []byte{0x60, 0x80, 0x60, 0x40},
	})
	if !errors.Is(err, vm.ErrExecutionReverted) {
		t.Fatalf("expected revert, got %v", err)
	}
}

func TestIncreaseTime(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	accts := b.Accounts()
	to := accts[1].Address

	if err := b.IncreaseTime(ctx, -time.Second); err == nil {
		t.Fatal("expected error moving time backwards")
	}
	if err := b.IncreaseTime(ctx, 31*24*time.Hour); err != nil {
		t.Fatal(err)
	}
	want := uint64(genesisTime.Add(31 * 24 * time.Hour).Unix())

	// the shifted time is visible before any transaction
	shifted, err := b.HeaderByNumber(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if shifted.Number.Uint64() != 1 || shifted.Time != want {
		t.Fatalf("expected empty block 1 at %d, got block %s at %d", want, shifted.Number, shifted.Time)
	}
	genesis, err := b.HeaderByNumber(ctx, big.NewInt(0))
	if err != nil {
		t.Fatal(err)
	}
	if shifted.ParentHash != genesis.Hash() {
		t.Fatalf("empty block does not link to genesis")
	}

	if err := b.SendTransaction(ctx, signTx(t, b, accts[0], 0, &to, big.NewInt(1), params.TxGas, nil)); err != nil {
		t.Fatal(err)
	}
	head, err := b.HeaderByNumber(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if head.Number.Uint64() != 2 || head.Time != want || head.ParentHash != shifted.Hash() {
		t.Fatalf("unexpected head %d at %d", head.Number, head.Time)
	}
}

func TestDynamicFeeTipAboveCapIsRejected(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	accts := b.Accounts()
	to := accts[1].Address

	sign := func(nonce uint64, tip, feeCap int64) *types.Transaction {
		tx, err := types.SignNewTx(accts[0].Key, types.LatestSignerForChainID(b.chainID), &types.DynamicFeeTx{
			ChainID:   b.chainID,
			Nonce:     nonce,
			To:        &to,
			Value:     big.NewInt(1),
			Gas:       params.TxGas,
			GasTipCap: big.NewInt(tip),
			GasFeeCap: big.NewInt(feeCap),
		})
		if err != nil {
			t.Fatalf("sign tx: %v", err)
		}
		return tx
	}

	if err := b.SendTransaction(ctx, sign(0, 2*params.GWei, params.GWei)); !errors.Is(err, ErrTipAboveFeeCap) {
		t.Fatalf("expected ErrTipAboveFeeCap, got %v", err)
	}
	if n, _ := b.BlockNumber(ctx); n != 0 {
		t.Fatalf("rejected transaction was mined, head is %d", n)
	}

	before, _ := b.BalanceAt(ctx, accts[0].Address, nil)
	tx := sign(0, params.GWei, 3*params.GWei)
	if err := b.SendTransaction(ctx, tx); err != nil {
		t.Fatalf("send: %v", err)
	}
	receipt, err := b.TransactionReceipt(ctx, tx.Hash())
	if err != nil {
		t.Fatal(err)
	}
	if receipt.EffectiveGasPrice.Int64() != params.GWei {
		t.Fatalf("expected to pay the tip, paid %s", receipt.EffectiveGasPrice)
	}
	after, _ := b.BalanceAt(ctx, accts[0].Address, nil)
	spent := new(big.Int).Sub(before, after)
	if want := big.NewInt(1 + int64(params.TxGas)*params.GWei); spent.Cmp(want) != 0 {
		t.Fatalf("spent %s, want %s", spent, want)
	}
}

func TestBlockTimeIsMonotonic(t *testing.T) {
	now := genesisTime
	b, err := New(WithClock(func() time.Time { return now }), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	accts := b.Accounts()
	to := accts[1].Address

	now = genesisTime.Add(-time.Hour)
	if err := b.SendTransaction(ctx, signTx(t, b, accts[0], 0, &to, big.NewInt(1), params.TxGas, nil)); err != nil {
		t.Fatal(err)
	}
	head, _ := b.HeaderByNumber(ctx, nil)
	if head.Time != uint64(genesisTime.Unix()) {
		t.Fatalf("block time went backwards: %d", head.Time)
	}
}

func TestHistoricalStateIsUnavailable(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	if _, err := b.BalanceAt(ctx, b.Accounts()[0].Address, big.NewInt(7)); !errors.Is(err, ErrHistoricalState) {
		t.Fatalf("expected ErrHistoricalState, got %v", err)
	}
	if _, err := b.HeaderByNumber(ctx, big.NewInt(7)); !errors.Is(err, ethereum.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if _, err := b.SubscribeFilterLogs(ctx, ethereum.FilterQuery{}, nil); !errors.Is(err, ErrSubscriptionsOff) {
		t.Fatalf("expected ErrSubscriptionsOff, got %v", err)
	}
}
