package escrow

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"oracleescrow/internal/contracts"
)

type boundContract struct {
	address  common.Address
	abi      abi.ABI
	contract *bind.BoundContract
}

func bindContract(name string, address common.Address, backend Backend) (boundContract, error) {
	parsed, err := contracts.ABIFor(name)
	if err != nil {
		return boundContract{}, err
	}
	return boundContract{
		address:  address,
		abi:      parsed,
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
	}, nil
}

func (b boundContract) call(ctx context.Context, from common.Address, method string) (interface{}, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx, From: from}
	if err := b.contract.Call(opts, &out, method); err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("call %s: empty result", method)
	}
	return out[0], nil
}

func (b boundContract) bytes32(ctx context.Context, from common.Address, method string) ([32]byte, error) {
	v, err := b.call(ctx, from, method)
	if err != nil {
		return [32]byte{}, err
	}
	return *abi.ConvertType(v, new([32]byte)).(*[32]byte), nil
}

func (b boundContract) addressOf(ctx context.Context, method string) (common.Address, error) {
	v, err := b.call(ctx, common.Address{}, method)
	if err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(v, new(common.Address)).(*common.Address), nil
}

// transact refuses value on non-payable methods before anything is signed.
func (b boundContract) transact(opts *bind.TransactOpts, method string, params ...interface{}) (*types.Transaction, error) {
	if m, ok := b.abi.Methods[method]; ok && !m.IsPayable() && opts.Value != nil && opts.Value.Sign() > 0 {
		return nil, fmt.Errorf("%s: %w", method, ErrNonPayable)
	}
	return b.contract.Transact(opts, method, params...)
}

// Oracle is a binding to the single-value oracle contract.
type Oracle struct {
	boundContract
}

func NewOracle(address common.Address, backend Backend) (*Oracle, error) {
	b, err := bindContract(contracts.OracleName, address, backend)
	if err != nil {
		return nil, err
	}
	return &Oracle{b}, nil
}

func (o *Oracle) Address() common.Address { return o.address }

func (o *Oracle) Value(ctx context.Context) (string, error) {
	word, err := o.bytes32(ctx, common.Address{}, "value")
	if err != nil {
		return "", err
	}
	return contracts.FromBytes32(word), nil
}

func (o *Oracle) Owner(ctx context.Context) (common.Address, error) {
	return o.addressOf(ctx, "owner")
}

// Update sets the oracle value; only the oracle owner may do this.
func (o *Oracle) Update(opts *bind.TransactOpts, value string) (*types.Transaction, error) {
	return o.transact(opts, "update", contracts.ToBytes32(value))
}

// OracleEscrow is a binding to the escrow contract.
type OracleEscrow struct {
	boundContract
	backend Backend
}

func NewOracleEscrow(address common.Address, backend Backend) (*OracleEscrow, error) {
	b, err := bindContract(contracts.OracleEscrowName, address, backend)
	if err != nil {
		return nil, err
	}
	return &OracleEscrow{boundContract: b, backend: backend}, nil
}

func (e *OracleEscrow) Address() common.Address { return e.address }

// Expected returns the EXPECTED constant as text.
func (e *OracleEscrow) Expected(ctx context.Context) (string, error) {
	word, err := e.bytes32(ctx, common.Address{}, "EXPECTED")
	if err != nil {
		return "", err
	}
	return contracts.FromBytes32(word), nil
}

func (e *OracleEscrow) Owner(ctx context.Context) (common.Address, error) {
	return e.addressOf(ctx, "owner")
}

func (e *OracleEscrow) Depositor(ctx context.Context) (common.Address, error) {
	return e.addressOf(ctx, "depositor")
}

func (e *OracleEscrow) Beneficiary(ctx context.Context) (common.Address, error) {
	return e.addressOf(ctx, "beneficiary")
}

func (e *OracleEscrow) Oracle(ctx context.Context) (common.Address, error) {
	return e.addressOf(ctx, "oracle")
}

// Expiration returns the unix timestamp after which the deposit can be refunded.
func (e *OracleEscrow) Expiration(ctx context.Context) (*big.Int, error) {
	v, err := e.call(ctx, common.Address{}, "expiration")
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(v, new(*big.Int)).(**big.Int), nil
}

func (e *OracleEscrow) ContractExecuted(ctx context.Context) (bool, error) {
	v, err := e.call(ctx, common.Address{}, "contractExecuted")
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(v, new(bool)).(*bool), nil
}

// RequestOracleValue reads the oracle through the escrow. The contract only
// answers its owner, so from must be the owner's address.
func (e *OracleEscrow) RequestOracleValue(ctx context.Context, from common.Address) (string, error) {
	word, err := e.bytes32(ctx, from, "requestOracleValue")
	if err != nil {
		return "", err
	}
	return contracts.FromBytes32(word), nil
}

// Balance is the wei currently held by the escrow.
func (e *OracleEscrow) Balance(ctx context.Context) (*big.Int, error) {
	return e.backend.BalanceAt(ctx, e.address, nil)
}

// Deposit sends opts.Value to the escrow as a plain payment.
func (e *OracleEscrow) Deposit(opts *bind.TransactOpts) (*types.Transaction, error) {
	return e.contract.Transfer(opts)
}

// ExecuteContract settles the escrow if the oracle or the clock allows it.
func (e *OracleEscrow) ExecuteContract(opts *bind.TransactOpts) (*types.Transaction, error) {
	return e.transact(opts, "executeContract")
}

// DeployOracle deploys the oracle with its initial value.
func DeployOracle(opts *bind.TransactOpts, backend Backend, art contracts.Artifact, initial string) (*types.Transaction, *Oracle, error) {
	address, tx, err := deploy(opts, backend, art, contracts.ToBytes32(initial))
	if err != nil {
		return nil, nil, err
	}
	oracle, err := NewOracle(address, backend)
	return tx, oracle, err
}

// DeployOracleEscrow deploys the escrow; opts.From becomes its owner.
func DeployOracleEscrow(opts *bind.TransactOpts, backend Backend, art contracts.Artifact, oracle, depositor, beneficiary common.Address) (*types.Transaction, *OracleEscrow, error) {
	address, tx, err := deploy(opts, backend, art, oracle, depositor, beneficiary)
	if err != nil {
		return nil, nil, err
	}
	escrow, err := NewOracleEscrow(address, backend)
	return tx, escrow, err
}

func deploy(opts *bind.TransactOpts, backend Backend, art contracts.Artifact, params ...interface{}) (common.Address, *types.Transaction, error) {
	parsed, err := art.ParsedABI()
	if err != nil {
		return common.Address{}, nil, err
	}
	address, tx, _, err := bind.DeployContract(opts, parsed, art.Bytecode, backend, params...)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("deploy %s: %w", art.ContractName, err)
	}
	return address, tx, nil
}
