package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// State is a snapshot of the escrow and the oracle it reads.
type State struct {
	Address     common.Address `json:"address"`
	Owner       common.Address `json:"owner"`
	Depositor   common.Address `json:"depositor"`
	Beneficiary common.Address `json:"beneficiary"`
	Oracle      common.Address `json:"oracle"`
	Expected    string         `json:"expected"`
	OracleValue string         `json:"oracleValue"`
	Expiration  time.Time      `json:"expiration"`
	Executed    bool           `json:"executed"`
	Balance     *big.Int       `json:"balanceWei"`
	// BlockTime is the timestamp of the latest block, the escrow's notion of now.
	BlockTime time.Time `json:"blockTime"`
}

// Expired reports whether the escrow can be refunded at the given chain time.
func (s State) Expired(now time.Time) bool {
	return now.After(s.Expiration)
}

// Matched reports whether the oracle currently holds the expected value.
func (s State) Matched() bool {
	return s.OracleValue == s.Expected
}

// Session submits escrow transactions as the wallet's roles and waits for
// them to be mined.
type Session struct {
	backend Backend
	wallet  *Wallet
	escrow  *OracleEscrow
	oracle  *Oracle
	logger  *slog.Logger
	timeout time.Duration
}

type SessionOption func(*Session)

func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

// WithReceiptTimeout bounds how long a submission waits to be mined.
func WithReceiptTimeout(d time.Duration) SessionOption {
	return func(s *Session) { s.timeout = d }
}

// NewSession binds to a deployed escrow and the oracle it points at.
func NewSession(ctx context.Context, backend Backend, wallet *Wallet, escrowAddress common.Address, opts ...SessionOption) (*Session, error) {
	esc, err := NewOracleEscrow(escrowAddress, backend)
	if err != nil {
		return nil, err
	}
	oracleAddress, err := esc.Oracle(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve oracle: %w", err)
	}
	oracle, err := NewOracle(oracleAddress, backend)
	if err != nil {
		return nil, err
	}

	s := &Session{
		backend: backend,
		wallet:  wallet,
		escrow:  esc,
		oracle:  oracle,
		logger:  slog.Default(),
		timeout: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Session) Escrow() *OracleEscrow { return s.escrow }
func (s *Session) Oracle() *Oracle       { return s.oracle }

// Ping checks that the node answers.
func (s *Session) Ping(ctx context.Context) error {
	_, err := s.backend.BlockNumber(ctx)
	return err
}

// State reads every public field of the escrow plus its balance.
func (s *Session) State(ctx context.Context) (State, error) {
	st := State{Address: s.escrow.Address(), Oracle: s.oracle.Address()}

	var err error
	if st.Owner, err = s.escrow.Owner(ctx); err != nil {
		return State{}, err
	}
	if st.Depositor, err = s.escrow.Depositor(ctx); err != nil {
		return State{}, err
	}
	if st.Beneficiary, err = s.escrow.Beneficiary(ctx); err != nil {
		return State{}, err
	}
	if st.Expected, err = s.escrow.Expected(ctx); err != nil {
		return State{}, err
	}
	if st.OracleValue, err = s.oracle.Value(ctx); err != nil {
		return State{}, err
	}
	expiration, err := s.escrow.Expiration(ctx)
	if err != nil {
		return State{}, err
	}
	st.Expiration = time.Unix(expiration.Int64(), 0).UTC()
	if st.Executed, err = s.escrow.ContractExecuted(ctx); err != nil {
		return State{}, err
	}
	if st.Balance, err = s.escrow.Balance(ctx); err != nil {
		return State{}, err
	}
	head, err := s.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return State{}, fmt.Errorf("latest header: %w", err)
	}
	st.BlockTime = time.Unix(int64(head.Time), 0).UTC()
	return st, nil
}

// RequestOracleValue reads the oracle through the escrow as its owner.
func (s *Session) RequestOracleValue(ctx context.Context) (string, error) {
	owner, err := s.wallet.Address(RoleOwner)
	if err != nil {
		return "", err
	}
	return s.escrow.RequestOracleValue(ctx, owner)
}

// Deposit pays amount into the escrow from the depositor.
func (s *Session) Deposit(ctx context.Context, amount *big.Int) (*types.Receipt, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("deposit amount must be positive")
	}
	return s.submit(ctx, RoleDepositor, "deposit", func(opts *bind.TransactOpts) (*types.Transaction, error) {
		opts.Value = new(big.Int).Set(amount)
		return s.escrow.Deposit(opts)
	})
}

// Execute triggers executeContract as one of the escrow parties.
func (s *Session) Execute(ctx context.Context, role Role) (*types.Receipt, error) {
	return s.submit(ctx, role, "executeContract", s.escrow.ExecuteContract)
}

// UpdateOracle sets the oracle value as the owner.
func (s *Session) UpdateOracle(ctx context.Context, value string) (*types.Receipt, error) {
	return s.submit(ctx, RoleOwner, "update", func(opts *bind.TransactOpts) (*types.Transaction, error) {
		return s.oracle.Update(opts, value)
	})
}

func (s *Session) submit(ctx context.Context, role Role, action string, send func(*bind.TransactOpts) (*types.Transaction, error)) (*types.Receipt, error) {
	opts, err := s.wallet.Transactor(ctx, role)
	if err != nil {
		return nil, err
	}
	tx, err := send(opts)
	if err != nil {
		return nil, fmt.Errorf("%s as %s: %w", action, role, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, s.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("wait for %s tx %s: %w", action, tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%s as %s (tx %s): %w", action, role, tx.Hash().Hex(), ErrReverted)
	}

	s.logger.Info("transaction mined",
		"action", action,
		"role", role,
		"tx", tx.Hash().Hex(),
		"block", receipt.BlockNumber,
		"gas", receipt.GasUsed,
	)
	return receipt, nil
}
