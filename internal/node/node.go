// Package node opens the chain the commands talk to: a JSON-RPC node or the
// in-process devchain, together with the keys and artifacts that go with it.
package node

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"oracleescrow/internal/config"
	"oracleescrow/internal/contracts"
	"oracleescrow/internal/devchain"
	"oracleescrow/internal/escrow"
)

type Node struct {
	Backend   escrow.Backend
	ChainID   *big.Int
	Wallet    *escrow.Wallet
	Artifacts contracts.ArtifactSource
	Clock     escrow.Clock
	// Dev is set when the chain lives in this process.
	Dev bool

	close func()
}

func (n *Node) Close() {
	if n.close != nil {
		n.close()
	}
}

// Open connects according to cfg.Chain.Mode.
func Open(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Chain.Mode {
	case config.ModeDev:
		return openDev(cfg, logger)
	case config.ModeRPC, "":
		return openRPC(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown chain mode %q", cfg.Chain.Mode)
	}
}

func openDev(cfg *config.AppConfig, logger *slog.Logger) (*Node, error) {
	opts := []devchain.Option{devchain.WithLogger(logger)}
	if cfg.Chain.ChainID > 0 {
		opts = append(opts, devchain.WithChainID(cfg.Chain.ChainID))
	}
	chain, err := devchain.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("start devchain: %w", err)
	}
	chainID, _ := chain.ChainID(context.Background())

	// accounts[0..2] play the migration's roles, as on ganache
	accounts := chain.Accounts()
	wallet := escrow.NewWallet(chainID)
	for i, role := range escrow.Roles {
		wallet.Add(role, accounts[i].Key)
	}
	logger.Info("devchain started", "chain_id", chainID, "owner", accounts[0].Address.Hex())

	return &Node{
		Backend:   chain,
		ChainID:   chainID,
		Wallet:    wallet,
		Artifacts: chain.Artifacts(),
		Clock:     chain,
		Dev:       true,
	}, nil
}

func openRPC(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*Node, error) {
	dialCtx, cancel := context.WithTimeout(ctx, cfg.Chain.RPCTimeout)
	defer cancel()

	client, err := escrow.Dial(dialCtx, cfg.Chain.RPCURL)
	if err != nil {
		return nil, err
	}
	chainID, err := client.ChainID(dialCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("chain id: %w", err)
	}
	if cfg.Chain.ChainID > 0 && chainID.Int64() != cfg.Chain.ChainID {
		client.Close()
		return nil, fmt.Errorf("node at %s reports chain id %s, network.json expects %d", cfg.Chain.RPCURL, chainID, cfg.Chain.ChainID)
	}

	wallet := escrow.NewWallet(chainID)
	keys := map[escrow.Role]string{
		escrow.RoleOwner:       cfg.Chain.OwnerKey,
		escrow.RoleDepositor:   cfg.Chain.DepositorKey,
		escrow.RoleBeneficiary: cfg.Chain.BeneficiaryKey,
	}
	for role, key := range keys {
		if key == "" {
			logger.Warn("no private key configured", "role", role)
			continue
		}
		if err := wallet.AddHex(role, key); err != nil {
			client.Close()
			return nil, err
		}
	}
	logger.Info("connected to node", "rpc", cfg.Chain.RPCURL, "chain_id", chainID)

	return &Node{
		Backend:   client,
		ChainID:   chainID,
		Wallet:    wallet,
		Artifacts: contracts.DirSource{Dir: cfg.Paths.Artifacts},
		Clock:     escrow.NewRPCClock(client),
		close:     client.Close,
	}, nil
}
