package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"oracleescrow/internal/config"
	"oracleescrow/internal/deploy"
	"oracleescrow/internal/escrow"
	"oracleescrow/internal/node"
)

var errClockOnDevchain = errors.New("--increase-time needs an RPC node; the in-process devchain exits with this command")

// MigrateCmd deploys the oracle and escrow contracts.
func MigrateCmd() *cobra.Command {
	c := &migrateCmd{}
	cmd := &cobra.Command{
		Use:          "migrate",
		Short:        "Deploy Oracle and OracleEscrow and record their addresses",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         c.run,
	}
	cmd.Flags().StringVar(&c.depositor, "depositor", "", "depositor address (default: DEPOSITOR_PRIVATE_KEY's address)")
	cmd.Flags().StringVar(&c.beneficiary, "beneficiary", "", "beneficiary address (default: BENEFICIARY_PRIVATE_KEY's address)")
	cmd.Flags().DurationVar(&c.increaseTime, "increase-time", 0, "advance the node clock after migrating, e.g. 721h (RPC nodes only)")
	return cmd
}

type migrateCmd struct {
	depositor    string
	beneficiary  string
	increaseTime time.Duration
}

func (c *migrateCmd) run(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	if c.increaseTime < 0 {
		return fmt.Errorf("--increase-time must not be negative, got %s", c.increaseTime)
	}
	if c.increaseTime > 0 && cfg.Chain.Mode == config.ModeDev {
		return errClockOnDevchain
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return c.migrate(ctx, cfg, logger)
}

func (c *migrateCmd) migrate(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) error {
	n, err := node.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer n.Close()

	store, closeStore, err := node.OpenDeployments(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	deployer, err := n.Wallet.Transactor(ctx, escrow.RoleOwner)
	if err != nil {
		return err
	}
	depositor, err := party(n.Wallet, escrow.RoleDepositor, c.depositor)
	if err != nil {
		return err
	}
	beneficiary, err := party(n.Wallet, escrow.RoleBeneficiary, c.beneficiary)
	if err != nil {
		return err
	}

	migrator := deploy.NewMigrator(n.Backend, n.Artifacts, store,
		deploy.WithLogger(logger),
		deploy.WithRetry(cfg.Retry),
		deploy.WithTimeout(cfg.Chain.ReceiptTimeout),
	)
	res, err := migrator.Run(ctx, deploy.Params{
		Deployer:     deployer,
		Depositor:    depositor,
		Beneficiary:  beneficiary,
		InitialValue: cfg.Chain.InitialValue,
	})
	if err != nil {
		return err
	}
	logger.Info("migration complete",
		"oracle", res.Oracle.Address.Hex(),
		"escrow", res.OracleEscrow.Address.Hex(),
		"skipped", res.Skipped,
	)

	recorded, err := store.List(ctx, n.ChainID.Int64())
	if err != nil {
		return fmt.Errorf("list deployments: %w", err)
	}
	for _, rec := range recorded {
		logger.Info("recorded deployment",
			"contract", rec.Contract,
			"address", rec.Address.Hex(),
			"block", rec.BlockNumber,
			"migration", rec.Migration,
		)
	}

	if c.increaseTime > 0 {
		if err := n.Clock.IncreaseTime(ctx, c.increaseTime); err != nil {
			return err
		}
		logger.Info("advanced node clock", "by", c.increaseTime)
	}
	return nil
}

// party resolves a role's address from a flag, falling back to its key.
func party(wallet *escrow.Wallet, role escrow.Role, override string) (common.Address, error) {
	if override != "" {
		if !common.IsHexAddress(override) {
			return common.Address{}, fmt.Errorf("invalid %s address %q", role, override)
		}
		return common.HexToAddress(override), nil
	}
	return wallet.Address(role)
}
