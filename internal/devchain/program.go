package devchain

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
)

const maxCallDepth = 1024

// Program is native contract code. The backend decodes calldata against ABI,
// enforces payability and hands typed arguments to the program.
type Program interface {
	Name() string
	ABI() *abi.ABI
	Construct(env *Env, args []interface{}) error
	Invoke(env *Env, method string, args []interface{}) ([]interface{}, error)
	Receive(env *Env) error
}

// programCode is the bytecode under which a program is deployed. The leading
// INVALID opcode makes it unusable on a real chain.
func programCode(name string) []byte {
	return append([]byte{byte(vm.INVALID)}, []byte("devchain:"+name)...)
}

// execContext is one top-level message execution.
type execContext struct {
	programs map[string]Program
	st       *state
	header   *types.Header
	gasLimit uint64
	gasUsed  uint64
}

func (x *execContext) useGas(amount uint64) error {
	x.gasUsed += amount
	if x.gasUsed > x.gasLimit {
		return vm.ErrOutOfGas
	}
	return nil
}

func (x *execContext) program(code []byte) (Program, bool) {
	p, ok := x.programs[string(code)]
	return p, ok
}

func (x *execContext) call(caller, to common.Address, value *big.Int, data []byte, readOnly bool, depth int) ([]byte, error) {
	if depth > maxCallDepth {
		return nil, Revert("max call depth exceeded")
	}
	if value == nil {
		value = new(big.Int)
	}
	if value.Sign() > 0 {
		if readOnly {
			return nil, Revert("static call cannot transfer value")
		}
		if err := x.useGas(params.CallValueTransferGas); err != nil {
			return nil, err
		}
		if err := x.st.transfer(caller, to, value); err != nil {
			return nil, err
		}
	}

	code := x.st.code(to)
	if len(code) == 0 {
		return nil, nil
	}
	prog, ok := x.program(code)
	if !ok {
		return nil, Revertf("no program deployed at %s", to.Hex())
	}

	env := &Env{x: x, self: to, caller: caller, value: value, readOnly: readOnly, depth: depth}
	out, err := dispatch(env, prog, data)
	return out, asRevert(err)
}

func (x *execContext) create(caller common.Address, nonce uint64, value *big.Int, data []byte) (common.Address, error) {
	if value == nil {
		value = new(big.Int)
	}
	var (
		prog Program
		code []byte
	)
	// Longest match wins: one program's code may prefix another's.
	for c, p := range x.programs {
		if bytes.HasPrefix(data, []byte(c)) && len(c) > len(code) {
			prog, code = p, []byte(c)
		}
	}
	if prog == nil {
		return common.Address{}, Revert("unknown contract bytecode")
	}

	addr := crypto.CreateAddress(caller, nonce)
	if len(x.st.code(addr)) > 0 || x.st.nonce(addr) > 0 {
		return common.Address{}, Revert("contract address collision")
	}
	constructor := prog.ABI().Constructor
	if value.Sign() > 0 && !constructor.IsPayable() {
		return common.Address{}, Revert(errNonPayable)
	}
	if err := x.st.transfer(caller, addr, value); err != nil {
		return common.Address{}, err
	}

	acct := x.st.account(addr)
	acct.code = code
	acct.nonce = 1

	args, err := constructor.Inputs.Unpack(data[len(code):])
	if err != nil {
		return common.Address{}, Revertf("decode %s constructor: %v", prog.Name(), err)
	}
	env := &Env{x: x, self: addr, caller: caller, value: value}
	if err := prog.Construct(env, args); err != nil {
		return common.Address{}, asRevert(err)
	}
	return addr, nil
}

const errNonPayable = "Cannot send value to non-payable function"

func dispatch(env *Env, prog Program, data []byte) ([]byte, error) {
	contractABI := prog.ABI()
	if len(data) == 0 {
		if !contractABI.HasReceive() {
			return nil, Revertf("%s does not accept plain payments", prog.Name())
		}
		return nil, prog.Receive(env)
	}
	if len(data) < 4 {
		return nil, Revert("calldata too short")
	}
	method, err := contractABI.MethodById(data[:4])
	if err != nil {
		return nil, Revertf("%s: unknown selector %x", prog.Name(), data[:4])
	}
	if env.value.Sign() > 0 && !method.IsPayable() {
		return nil, Revert(errNonPayable)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, Revertf("decode %s arguments: %v", method.Name, err)
	}
	results, err := prog.Invoke(env, method.Name, args)
	if err != nil {
		return nil, err
	}
	out, err := method.Outputs.Pack(results...)
	if err != nil {
		return nil, fmt.Errorf("encode %s results: %w", method.Name, err)
	}
	return out, nil
}

// Env is the execution environment a program sees for one call frame.
type Env struct {
	x        *execContext
	self     common.Address
	caller   common.Address
	value    *big.Int
	readOnly bool
	depth    int
}

func (e *Env) Self() common.Address   { return e.self }
func (e *Env) Caller() common.Address { return e.caller }
func (e *Env) Value() *big.Int        { return new(big.Int).Set(e.value) }

// Time is the timestamp of the block being executed.
func (e *Env) Time() uint64 { return e.x.header.Time }

func (e *Env) Balance(addr common.Address) *big.Int {
	return e.x.st.balance(addr)
}

func (e *Env) Load(slot uint64) (common.Hash, error) {
	if err := e.x.useGas(params.SloadGasEIP2200); err != nil {
		return common.Hash{}, err
	}
	return e.x.st.load(e.self, slotKey(slot)), nil
}

func (e *Env) Store(slot uint64, value common.Hash) error {
	if e.readOnly {
		return Revert("static state change")
	}
	if err := e.x.useGas(params.SstoreSetGas); err != nil {
		return err
	}
	e.x.st.store(e.self, slotKey(slot), value)
	return nil
}

func (e *Env) LoadAddress(slot uint64) (common.Address, error) {
	word, err := e.Load(slot)
	return common.BytesToAddress(word.Bytes()), err
}

func (e *Env) StoreAddress(slot uint64, addr common.Address) error {
	return e.Store(slot, common.BytesToHash(addr.Bytes()))
}

func (e *Env) LoadBool(slot uint64) (bool, error) {
	word, err := e.Load(slot)
	return word != (common.Hash{}), err
}

func (e *Env) StoreBool(slot uint64, v bool) error {
	var word common.Hash
	if v {
		word[common.HashLength-1] = 1
	}
	return e.Store(slot, word)
}

func (e *Env) LoadUint(slot uint64) (*big.Int, error) {
	word, err := e.Load(slot)
	return word.Big(), err
}

func (e *Env) StoreUint(slot uint64, v *big.Int) error {
	return e.Store(slot, common.BigToHash(v))
}

// Transfer sends wei from the executing contract, running the recipient's
// receive hook when it is a contract.
func (e *Env) Transfer(to common.Address, amount *big.Int) error {
	if e.readOnly {
		return Revert("static state change")
	}
	_, err := e.x.call(e.self, to, amount, nil, false, e.depth+1)
	return err
}

// StaticCall invokes another contract without allowing state changes.
func (e *Env) StaticCall(to common.Address, data []byte) ([]byte, error) {
	return e.x.call(e.self, to, nil, data, true, e.depth+1)
}

func slotKey(slot uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(slot))
}

func intrinsicGas(data []byte, creation bool) uint64 {
	gas := params.TxGas
	if creation {
		gas = params.TxGasContractCreation
	}
	for _, b := range data {
		if b == 0 {
			gas += params.TxDataZeroGas
		} else {
			gas += params.TxDataNonZeroGasEIP2028
		}
	}
	return gas
}
