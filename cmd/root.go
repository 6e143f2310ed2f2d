package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/climatehealth/fusion-cli/internal/config"
	"github.com/climatehealth/fusion-cli/internal/store"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "fusion-cli",
	Short: "Climate and mortality data fusion pipeline",
	Long:  "Normalizes NOAA GSOM observations, WHO mortality tables, and CMIP5 projection grids onto shared spatial and temporal keys, fuses them into analysis-ready records, and gates the output for plausibility.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("validate config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// openStore opens and migrates the configured store backend.
func openStore(ctx context.Context) (store.Store, error) {
	return store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL, &store.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
