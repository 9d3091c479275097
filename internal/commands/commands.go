// Package commands holds the cobra commands behind the oracleescrow binaries.
package commands

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"oracleescrow/internal/config"
)

// setup loads configuration and builds a logger writing to the command's output.
func setup(cmd *cobra.Command) (*config.AppConfig, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, cfg.Log.NewLogger(cmd.OutOrStdout()), nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
