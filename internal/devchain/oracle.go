package devchain

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"oracleescrow/internal/contracts"
)

const (
	oracleSlotOwner uint64 = iota
	oracleSlotValue
)

// oracleProgram holds a single bytes32 value that only its owner may update.
type oracleProgram struct {
	abi abi.ABI
}

func newOracleProgram() *oracleProgram {
	return &oracleProgram{abi: contracts.MustABI(contracts.OracleName)}
}

func (p *oracleProgram) Name() string  { return contracts.OracleName }
func (p *oracleProgram) ABI() *abi.ABI { return &p.abi }

func (p *oracleProgram) Construct(env *Env, args []interface{}) error {
	value := args[0].([32]byte)
	if err := env.StoreAddress(oracleSlotOwner, env.Caller()); err != nil {
		return err
	}
	return env.Store(oracleSlotValue, common.Hash(value))
}

func (p *oracleProgram) Invoke(env *Env, method string, args []interface{}) ([]interface{}, error) {
	switch method {
	case "owner":
		owner, err := env.LoadAddress(oracleSlotOwner)
		return []interface{}{owner}, err
	case "value":
		word, err := env.Load(oracleSlotValue)
		return []interface{}{[32]byte(word)}, err
	case "update":
		owner, err := env.LoadAddress(oracleSlotOwner)
		if err != nil {
			return nil, err
		}
		if env.Caller() != owner {
			return nil, Revert("only the owner may update the oracle")
		}
		return nil, env.Store(oracleSlotValue, common.Hash(args[0].([32]byte)))
	}
	return nil, Revertf("oracle: unhandled method %s", method)
}

func (p *oracleProgram) Receive(*Env) error {
	return Revert("oracle does not accept payments")
}
