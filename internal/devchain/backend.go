// Package devchain is an in-process, auto-mining chain for exercising the
// escrow contracts. It implements the go-ethereum binding backends, so code
// written against a JSON-RPC node runs unchanged against it.
package devchain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"

	"oracleescrow/internal/contracts"
)

const (
	DefaultChainID  = 1337
	blockGasLimit   = 30_000_000
	defaultAccounts = 10
)

var (
	ErrNonceTooLow       = errors.New("nonce too low")
	ErrNonceTooHigh      = errors.New("nonce too high")
	ErrIntrinsicGas      = errors.New("intrinsic gas too low")
	ErrKnownTransaction  = errors.New("already known")
	ErrHistoricalState   = errors.New("historical state not available")
	ErrSubscriptionsOff  = errors.New("log subscriptions are not supported")
	ErrInsufficientForTx = errors.New("insufficient funds for gas * price + value")
	ErrTipAboveFeeCap    = errors.New("max priority fee per gas higher than max fee per gas")
)

var (
	_ bind.ContractBackend = (*Backend)(nil)
	_ bind.DeployBackend   = (*Backend)(nil)
)

// Backend is the chain. Every accepted transaction is mined into its own block.
type Backend struct {
	mu       sync.Mutex
	chainID  *big.Int
	gasPrice *big.Int
	now      func() time.Time
	offset   time.Duration
	logger   *slog.Logger

	state    *state
	programs map[string]Program
	headers  []*types.Header
	receipts map[common.Hash]*types.Receipt
	accounts []Account
}

type Option func(*Backend)

func WithChainID(id int64) Option {
	return func(b *Backend) { b.chainID = big.NewInt(id) }
}

// WithGasPrice sets the price suggested to clients and charged per gas unit.
func WithGasPrice(price *big.Int) Option {
	return func(b *Backend) { b.gasPrice = new(big.Int).Set(price) }
}

func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) { b.logger = logger }
}

// New starts a chain with a genesis block and funded development accounts.
func New(opts ...Option) (*Backend, error) {
	b := &Backend{
		chainID:  big.NewInt(DefaultChainID),
		gasPrice: big.NewInt(params.GWei),
		now:      time.Now,
		logger:   slog.Default(),
		state:    newState(),
		programs: make(map[string]Program),
		receipts: make(map[common.Hash]*types.Receipt),
	}
	for _, opt := range opts {
		opt(b)
	}

	for _, prog := range []Program{newOracleProgram(), newOracleEscrowProgram()} {
		b.programs[string(programCode(prog.Name()))] = prog
	}

	accounts, err := DevAccounts(defaultAccounts)
	if err != nil {
		return nil, err
	}
	for _, acct := range accounts {
		b.state.addBalance(acct.Address, DefaultBalance)
	}
	b.accounts = accounts

	b.headers = []*types.Header{{
		Number:     new(big.Int),
		Time:       uint64(b.now().Unix()),
		GasLimit:   blockGasLimit,
		Difficulty: new(big.Int),
	}}
	return b, nil
}

// Accounts returns the funded development accounts; index 0 is the deployer.
func (b *Backend) Accounts() []Account {
	out := make([]Account, len(b.accounts))
	copy(out, b.accounts)
	return out
}

// Artifacts returns the build artifacts whose bytecode deploys the native programs.
func (b *Backend) Artifacts() contracts.ArtifactSource {
	src := contracts.MapSource{}
	for code, prog := range b.programs {
		src[prog.Name()] = contracts.Artifact{
			ContractName: prog.Name(),
			ABI:          json.RawMessage(abiDefinition(prog.Name())),
			Bytecode:     []byte(code),
		}
	}
	return src
}

func abiDefinition(name string) string {
	if name == contracts.OracleName {
		return contracts.OracleABI
	}
	return contracts.OracleEscrowABI
}

// IncreaseTime moves the chain clock forward and mines an empty block, like
// ganache's evm_increaseTime followed by evm_mine.
func (b *Backend) IncreaseTime(_ context.Context, d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("cannot move time backwards by %s", d)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.offset += d

	// mine an empty block so the new time is visible, as evm_mine does
	header := b.pendingHeader()
	b.headers = append(b.headers, header)
	b.logger.Debug("chain time increased", "by", d, "offset", b.offset, "block", header.Number)
	return nil
}

func (b *Backend) head() *types.Header {
	return b.headers[len(b.headers)-1]
}

// pendingHeader is the header the next transaction will be mined in.
func (b *Backend) pendingHeader() *types.Header {
	parent := b.head()
	ts := uint64(b.now().Add(b.offset).Unix())
	if ts < parent.Time {
		ts = parent.Time
	}
	return &types.Header{
		ParentHash: parent.Hash(),
		Number:     new(big.Int).Add(parent.Number, big.NewInt(1)),
		Time:       ts,
		GasLimit:   blockGasLimit,
		Difficulty: new(big.Int),
	}
}

func (b *Backend) newExec(st *state, header *types.Header, gasLimit uint64) *execContext {
	return &execContext{programs: b.programs, st: st, header: header, gasLimit: gasLimit}
}

func (b *Backend) checkBlock(number *big.Int) error {
	if number != nil && number.Cmp(b.head().Number) != 0 {
		return fmt.Errorf("%w: block %s", ErrHistoricalState, number)
	}
	return nil
}

func (b *Backend) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.chainID), nil
}

func (b *Backend) BlockNumber(context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.head().Number.Uint64(), nil
}

func (b *Backend) HeaderByNumber(_ context.Context, number *big.Int) (*types.Header, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if number == nil {
		return types.CopyHeader(b.head()), nil
	}
	if !number.IsUint64() || number.Uint64() >= uint64(len(b.headers)) {
		return nil, ethereum.NotFound
	}
	return types.CopyHeader(b.headers[number.Uint64()]), nil
}

func (b *Backend) BalanceAt(_ context.Context, account common.Address, number *big.Int) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkBlock(number); err != nil {
		return nil, err
	}
	return b.state.balance(account), nil
}

func (b *Backend) CodeAt(_ context.Context, contract common.Address, number *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkBlock(number); err != nil {
		return nil, err
	}
	return append([]byte(nil), b.state.code(contract)...), nil
}

func (b *Backend) PendingCodeAt(ctx context.Context, contract common.Address) ([]byte, error) {
	return b.CodeAt(ctx, contract, nil)
}

func (b *Backend) NonceAt(_ context.Context, account common.Address, number *big.Int) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkBlock(number); err != nil {
		return 0, err
	}
	return b.state.nonce(account), nil
}

func (b *Backend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return b.NonceAt(ctx, account, nil)
}

func (b *Backend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.gasPrice), nil
}

func (b *Backend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.gasPrice), nil
}

// CallContract executes a message against a throwaway copy of the latest state.
func (b *Backend) CallContract(_ context.Context, call ethereum.CallMsg, number *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkBlock(number); err != nil {
		return nil, err
	}
	out, _, err := b.dryRun(call)
	return out, err
}

// EstimateGas dry-runs the message and reports the gas it used plus a margin
// for state that moves between estimation and inclusion.
func (b *Backend) EstimateGas(_ context.Context, call ethereum.CallMsg) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, used, err := b.dryRun(call)
	if err != nil {
		return 0, err
	}
	estimate := used + used/5
	if estimate > blockGasLimit {
		estimate = blockGasLimit
	}
	return estimate, nil
}

func (b *Backend) dryRun(call ethereum.CallMsg) ([]byte, uint64, error) {
	limit := call.Gas
	if limit == 0 {
		limit = blockGasLimit
	}
	intrinsic := intrinsicGas(call.Data, call.To == nil)
	if limit < intrinsic {
		return nil, 0, ErrIntrinsicGas
	}
	value := call.Value
	if value == nil {
		value = new(big.Int)
	}
	st := b.state.copy()
	if st.balance(call.From).Cmp(value) < 0 {
		return nil, 0, ErrInsufficientForTx
	}

	x := b.newExec(st, b.pendingHeader(), limit)
	x.gasUsed = intrinsic
	var (
		out []byte
		err error
	)
	if call.To == nil {
		_, err = x.create(call.From, st.nonce(call.From), value, call.Data)
	} else {
		out, err = x.call(call.From, *call.To, value, call.Data, false, 0)
	}
	if err != nil {
		return nil, x.gasUsed, err
	}
	return out, x.gasUsed, nil
}

// SendTransaction validates a signed transaction and mines it immediately.
// A transaction that reverts is still mined, with a failed receipt, and
// only pays for gas.
func (b *Backend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	from, err := types.Sender(types.LatestSignerForChainID(b.chainID), tx)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	if _, ok := b.receipts[tx.Hash()]; ok {
		return ErrKnownTransaction
	}
	switch nonce := b.state.nonce(from); {
	case tx.Nonce() < nonce:
		return fmt.Errorf("%w: address %s, tx: %d state: %d", ErrNonceTooLow, from.Hex(), tx.Nonce(), nonce)
	case tx.Nonce() > nonce:
		return fmt.Errorf("%w: address %s, tx: %d state: %d", ErrNonceTooHigh, from.Hex(), tx.Nonce(), nonce)
	}
	intrinsic := intrinsicGas(tx.Data(), tx.To() == nil)
	if tx.Gas() < intrinsic {
		return fmt.Errorf("%w: have %d, want %d", ErrIntrinsicGas, tx.Gas(), intrinsic)
	}

	// blocks carry no base fee, so a dynamic-fee tx pays its tip
	if tx.GasTipCap().Cmp(tx.GasFeeCap()) > 0 {
		return fmt.Errorf("%w: address %s, maxPriorityFeePerGas: %s, maxFeePerGas: %s",
			ErrTipAboveFeeCap, from.Hex(), tx.GasTipCap(), tx.GasFeeCap())
	}
	price := tx.GasTipCap()
	prepaid := new(big.Int).Mul(price, new(big.Int).SetUint64(tx.Gas()))
	if b.state.balance(from).Cmp(new(big.Int).Add(prepaid, tx.Value())) < 0 {
		return fmt.Errorf("%w: address %s", ErrInsufficientForTx, from.Hex())
	}

	header := b.pendingHeader()
	st := b.state.copy()
	if err := st.subBalance(from, prepaid); err != nil {
		return err
	}
	st.account(from).nonce++

	x := b.newExec(st.copy(), header, tx.Gas())
	x.gasUsed = intrinsic
	var created common.Address
	if tx.To() == nil {
		created, err = x.create(from, tx.Nonce(), tx.Value(), tx.Data())
	} else {
		_, err = x.call(from, *tx.To(), tx.Value(), tx.Data(), false, 0)
	}

	receipt := &types.Receipt{
		Type:              tx.Type(),
		Status:            types.ReceiptStatusSuccessful,
		TxHash:            tx.Hash(),
		EffectiveGasPrice: new(big.Int).Set(price),
		BlockNumber:       new(big.Int).Set(header.Number),
		Logs:              []*types.Log{},
	}
	gasUsed := x.gasUsed
	if err != nil {
		receipt.Status = types.ReceiptStatusFailed
		if gasUsed > tx.Gas() {
			gasUsed = tx.Gas()
		}
		b.logger.Debug("transaction reverted", "hash", tx.Hash(), "from", from, "err", err)
	} else {
		st = x.st
		if tx.To() == nil {
			receipt.ContractAddress = created
		}
	}

	refund := new(big.Int).Mul(price, new(big.Int).SetUint64(tx.Gas()-gasUsed))
	st.addBalance(from, refund)
	st.addBalance(header.Coinbase, new(big.Int).Mul(price, new(big.Int).SetUint64(gasUsed)))

	header.GasUsed = gasUsed
	receipt.GasUsed = gasUsed
	receipt.CumulativeGasUsed = gasUsed
	receipt.BlockHash = header.Hash()

	b.state = st
	b.headers = append(b.headers, header)
	b.receipts[tx.Hash()] = receipt

	b.logger.Debug("transaction mined",
		"hash", tx.Hash(),
		"block", header.Number,
		"status", receipt.Status,
		"gas", gasUsed,
	)
	return nil
}

func (b *Backend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	receipt, ok := b.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	out := *receipt
	return &out, nil
}

// FilterLogs returns nothing: the escrow programs emit no events.
func (b *Backend) FilterLogs(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (b *Backend) SubscribeFilterLogs(context.Context, ethereum.FilterQuery, chan<- types.Log) (ethereum.Subscription, error) {
	return nil, ErrSubscriptionsOff
}
