package devchain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"oracleescrow/internal/contracts"
)

const (
	escrowSlotOwner uint64 = iota
	escrowSlotOracle
	escrowSlotDepositor
	escrowSlotBeneficiary
	escrowSlotExpiration
	escrowSlotExecuted
)

// oracleEscrowProgram holds a single deposit until the oracle reports the
// expected value or the escrow expires.
type oracleEscrowProgram struct {
	abi       abi.ABI
	oracleABI abi.ABI
}

func newOracleEscrowProgram() *oracleEscrowProgram {
	return &oracleEscrowProgram{
		abi:       contracts.MustABI(contracts.OracleEscrowName),
		oracleABI: contracts.MustABI(contracts.OracleName),
	}
}

func (p *oracleEscrowProgram) Name() string  { return contracts.OracleEscrowName }
func (p *oracleEscrowProgram) ABI() *abi.ABI { return &p.abi }

func (p *oracleEscrowProgram) Construct(env *Env, args []interface{}) error {
	oracle := args[0].(common.Address)
	depositor := args[1].(common.Address)
	beneficiary := args[2].(common.Address)
	if oracle == (common.Address{}) || depositor == (common.Address{}) || beneficiary == (common.Address{}) {
		return Revert("oracle, depositor and beneficiary are required")
	}

	expiration := new(big.Int).SetUint64(env.Time() + uint64(contracts.EscrowDuration.Seconds()))
	for _, step := range []func() error{
		func() error { return env.StoreAddress(escrowSlotOwner, env.Caller()) },
		func() error { return env.StoreAddress(escrowSlotOracle, oracle) },
		func() error { return env.StoreAddress(escrowSlotDepositor, depositor) },
		func() error { return env.StoreAddress(escrowSlotBeneficiary, beneficiary) },
		func() error { return env.StoreUint(escrowSlotExpiration, expiration) },
	} {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

func (p *oracleEscrowProgram) Invoke(env *Env, method string, args []interface{}) ([]interface{}, error) {
	switch method {
	case "EXPECTED":
		return []interface{}{contracts.Expected()}, nil
	case "owner":
		return loadAddressResult(env, escrowSlotOwner)
	case "oracle":
		return loadAddressResult(env, escrowSlotOracle)
	case "depositor":
		return loadAddressResult(env, escrowSlotDepositor)
	case "beneficiary":
		return loadAddressResult(env, escrowSlotBeneficiary)
	case "expiration":
		expiration, err := env.LoadUint(escrowSlotExpiration)
		return []interface{}{expiration}, err
	case "contractExecuted":
		executed, err := env.LoadBool(escrowSlotExecuted)
		return []interface{}{executed}, err
	case "requestOracleValue":
		owner, err := env.LoadAddress(escrowSlotOwner)
		if err != nil {
			return nil, err
		}
		if env.Caller() != owner {
			return nil, Revert("only the owner may request the oracle value")
		}
		value, err := p.oracleValue(env)
		return []interface{}{value}, err
	case "executeContract":
		return nil, p.execute(env)
	}
	return nil, Revertf("escrow: unhandled method %s", method)
}

// Receive accepts the one deposit, and only from the depositor.
func (p *oracleEscrowProgram) Receive(env *Env) error {
	depositor, err := env.LoadAddress(escrowSlotDepositor)
	if err != nil {
		return err
	}
	if env.Caller() != depositor {
		return Revert("only the depositor may fund the escrow")
	}
	if env.Value().Sign() == 0 {
		return Revert("deposit must carry value")
	}
	executed, err := env.LoadBool(escrowSlotExecuted)
	if err != nil {
		return err
	}
	if executed {
		return Revert("escrow already executed")
	}
	// The value has already been credited, so anything above it is an earlier deposit.
	if env.Balance(env.Self()).Cmp(env.Value()) != 0 {
		return Revert("escrow already funded")
	}
	return nil
}

func (p *oracleEscrowProgram) execute(env *Env) error {
	var parties [3]common.Address
	for i, slot := range []uint64{escrowSlotOwner, escrowSlotDepositor, escrowSlotBeneficiary} {
		addr, err := env.LoadAddress(slot)
		if err != nil {
			return err
		}
		parties[i] = addr
	}
	owner, depositor, beneficiary := parties[0], parties[1], parties[2]
	if caller := env.Caller(); caller != owner && caller != depositor && caller != beneficiary {
		return Revert("caller is not a party to the escrow")
	}

	executed, err := env.LoadBool(escrowSlotExecuted)
	if err != nil || executed {
		return err
	}

	value, err := p.oracleValue(env)
	if err != nil {
		return err
	}
	expiration, err := env.LoadUint(escrowSlotExpiration)
	if err != nil {
		return err
	}

	var recipient common.Address
	switch {
	case value == contracts.Expected():
		recipient = beneficiary
	case new(big.Int).SetUint64(env.Time()).Cmp(expiration) > 0:
		recipient = depositor
	default:
		return nil
	}

	if err := env.StoreBool(escrowSlotExecuted, true); err != nil {
		return err
	}
	return env.Transfer(recipient, env.Balance(env.Self()))
}

func (p *oracleEscrowProgram) oracleValue(env *Env) ([32]byte, error) {
	oracle, err := env.LoadAddress(escrowSlotOracle)
	if err != nil {
		return [32]byte{}, err
	}
	input, err := p.oracleABI.Pack("value")
	if err != nil {
		return [32]byte{}, err
	}
	out, err := env.StaticCall(oracle, input)
	if err != nil {
		return [32]byte{}, err
	}
	results, err := p.oracleABI.Unpack("value", out)
	if err != nil {
		return [32]byte{}, Revertf("decode oracle value: %v", err)
	}
	return results[0].([32]byte), nil
}

func loadAddressResult(env *Env, slot uint64) ([]interface{}, error) {
	addr, err := env.LoadAddress(slot)
	return []interface{}{addr}, err
}
