package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"oracleescrow/internal/config"
	"oracleescrow/internal/contracts"
	"oracleescrow/internal/deploy"
	"oracleescrow/internal/escrow"
	"oracleescrow/internal/idempotency"
	"oracleescrow/internal/node"
	"oracleescrow/internal/server"
)

// ServeCmd runs the escrow HTTP API until interrupted.
func ServeCmd() *cobra.Command {
	return newServeCmd(&serveCmd{})
}

func newServeCmd(c *serveCmd) *cobra.Command {
	return &cobra.Command{
		Use:          "serve",
		Short:        "Serve the escrow API",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         c.run,
	}
}

type serveCmd struct {
	// listening is closed once the server goroutine has started.
	listening chan struct{}
}

func (c *serveCmd) run(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return c.serve(ctx, cfg, logger)
}

func (c *serveCmd) serve(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) error {
	store, closeStore, err := node.OpenIdempotency(ctx, cfg)
	if err != nil {
		return fmt.Errorf("idempotency store: %w", err)
	}
	defer closeStore()

	n, err := node.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer n.Close()

	address, err := escrowAddress(ctx, cfg, n, logger)
	if err != nil {
		return err
	}
	session, err := escrow.NewSession(ctx, n.Backend, n.Wallet, address,
		escrow.WithLogger(logger),
		escrow.WithReceiptTimeout(cfg.Chain.ReceiptTimeout),
	)
	if err != nil {
		return err
	}
	apiServer := server.NewServer(cfg, session, store, logger)

	pruneCtx, stopPruning := context.WithCancel(ctx)
	defer stopPruning()
	var wg sync.WaitGroup
	if pruner, ok := store.(idempotency.Pruner); ok {
		wg.Add(1)
		go func() {
			defer wg.Done()
			idempotency.RunPruner(pruneCtx, pruner, cfg.Service.IdempotencyPruneInterval, logger)
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start()
	}()
	if c.listening != nil {
		close(c.listening)
	}

	var serveErr error
	select {
	case serveErr = <-errCh:
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown", "err", err)
		}
		cancel()
		serveErr = <-errCh
	}
	stopPruning()
	wg.Wait()

	if errors.Is(serveErr, http.ErrServerClosed) {
		logger.Info("server stopped")
		return nil
	}
	return serveErr
}

// escrowAddress picks the configured address, else the recorded deployment.
// A devchain has neither, so the migration runs against it first.
func escrowAddress(ctx context.Context, cfg *config.AppConfig, n *node.Node, logger *slog.Logger) (common.Address, error) {
	if cfg.Chain.EscrowAddress != "" && !n.Dev {
		if !common.IsHexAddress(cfg.Chain.EscrowAddress) {
			return common.Address{}, fmt.Errorf("invalid ESCROW_ADDRESS %q", cfg.Chain.EscrowAddress)
		}
		return common.HexToAddress(cfg.Chain.EscrowAddress), nil
	}

	registry, closeRegistry, err := node.OpenDeployments(ctx, cfg)
	if err != nil {
		return common.Address{}, err
	}
	defer closeRegistry()

	if n.Dev {
		deployer, err := n.Wallet.Transactor(ctx, escrow.RoleOwner)
		if err != nil {
			return common.Address{}, err
		}
		depositor, _ := n.Wallet.Address(escrow.RoleDepositor)
		beneficiary, _ := n.Wallet.Address(escrow.RoleBeneficiary)
		res, err := deploy.NewMigrator(n.Backend, n.Artifacts, registry, deploy.WithLogger(logger)).
			Run(ctx, deploy.Params{
				Deployer:     deployer,
				Depositor:    depositor,
				Beneficiary:  beneficiary,
				InitialValue: cfg.Chain.InitialValue,
			})
		if err != nil {
			return common.Address{}, err
		}
		return res.OracleEscrow.Address, nil
	}

	rec, err := registry.Get(ctx, n.ChainID.Int64(), contracts.OracleEscrowName)
	if err != nil {
		return common.Address{}, err
	}
	if rec == nil {
		return common.Address{}, fmt.Errorf("no %s deployment recorded for chain %s; run migrate or set ESCROW_ADDRESS", contracts.OracleEscrowName, n.ChainID)
	}
	return rec.Address, nil
}
