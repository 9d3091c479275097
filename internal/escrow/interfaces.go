package escrow

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// Backend is everything the escrow tooling needs from a chain. Both
// *ethclient.Client and *devchain.Backend satisfy it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Clock moves chain time on development nodes.
type Clock interface {
	IncreaseTime(ctx context.Context, d time.Duration) error
}

// HealthChecker is implemented by clients that can ping their node.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
