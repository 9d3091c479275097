package escrow

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/vm"
)

var (
	// ErrReverted is returned when a mined transaction has a failed receipt.
	ErrReverted = errors.New("transaction reverted")
	// ErrNonPayable mirrors web3's client-side check on non-payable methods.
	ErrNonPayable  = errors.New("cannot send value to non-payable function")
	ErrUnknownRole = errors.New("unknown role")
	ErrMissingKey  = errors.New("no key for role")
)

// IsRevert reports whether err is a contract revert, either from a failed
// receipt or from a node rejecting the call or gas estimate.
func IsRevert(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrReverted) || errors.Is(err, vm.ErrExecutionReverted) {
		return true
	}
	return strings.Contains(err.Error(), vm.ErrExecutionReverted.Error())
}

// RevertReason extracts the Error(string) reason attached to a revert, if any.
func RevertReason(err error) string {
	var dataErr interface{ ErrorData() interface{} }
	if !errors.As(err, &dataErr) {
		return ""
	}
	encoded, ok := dataErr.ErrorData().(string)
	if !ok {
		return ""
	}
	data, decodeErr := hexutil.Decode(encoded)
	if decodeErr != nil {
		return ""
	}
	reason, unpackErr := abi.UnpackRevert(data)
	if unpackErr != nil {
		return ""
	}
	return reason
}
