package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Dial connects to a JSON-RPC node.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	cli, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return cli, nil
}

// RPCClock drives time on ganache, hardhat and anvil nodes.
type RPCClock struct {
	client *rpc.Client
}

func NewRPCClock(client *ethclient.Client) RPCClock {
	return RPCClock{client: client.Client()}
}

// IncreaseTime shifts the node clock and mines a block so the new time is
// visible to the next call.
func (c RPCClock) IncreaseTime(ctx context.Context, d time.Duration) error {
	var shifted interface{}
	if err := c.client.CallContext(ctx, &shifted, "evm_increaseTime", int64(d/time.Second)); err != nil {
		return fmt.Errorf("evm_increaseTime: %w", err)
	}
	if err := c.client.CallContext(ctx, nil, "evm_mine"); err != nil {
		return fmt.Errorf("evm_mine: %w", err)
	}
	return nil
}
