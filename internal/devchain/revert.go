package devchain

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
)

var revertSelector = crypto.Keccak256([]byte("Error(string)"))[:4]

// RevertError is returned when a program aborts. It mirrors the JSON-RPC error
// a node returns for a reverted eth_call or gas estimation.
type RevertError struct {
	Reason string
	data   []byte
}

// Revert builds a RevertError carrying an Error(string) payload.
func Revert(reason string) *RevertError {
	return &RevertError{Reason: reason, data: packRevert(reason)}
}

// Revertf is Revert with formatting.
func Revertf(format string, args ...any) *RevertError {
	return Revert(fmt.Sprintf(format, args...))
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return vm.ErrExecutionReverted.Error()
	}
	return vm.ErrExecutionReverted.Error() + ": " + e.Reason
}

func (e *RevertError) Unwrap() error {
	return vm.ErrExecutionReverted
}

// ErrorCode matches the code geth uses for reverts.
func (e *RevertError) ErrorCode() int {
	return 3
}

// ErrorData returns the hex-encoded revert payload.
func (e *RevertError) ErrorData() interface{} {
	return hexutil.Encode(e.data)
}

// Data returns the raw revert payload.
func (e *RevertError) Data() []byte {
	return append([]byte(nil), e.data...)
}

func packRevert(reason string) []byte {
	if reason == "" {
		return nil
	}
	stringType, err := abi.NewType("string", "", nil)
	if err != nil {
		return nil
	}
	packed, err := abi.Arguments{{Type: stringType}}.Pack(reason)
	if err != nil {
		return nil
	}
	return append(append([]byte(nil), revertSelector...), packed...)
}

// asRevert turns any execution failure into a RevertError so callers see a
// single failure shape.
func asRevert(err error) error {
	if err == nil {
		return nil
	}
	var rev *RevertError
	if errors.As(err, &rev) {
		return rev
	}
	if errors.Is(err, ErrInsufficientFunds) || errors.Is(err, vm.ErrOutOfGas) {
		return err
	}
	return Revert(err.Error())
}
