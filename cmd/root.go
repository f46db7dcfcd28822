package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bstandal/NorConnect/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "norconnect",
	Short: "Norwegian aid-network reconciliation pipeline",
	Long:  "Harvests IATI, Norad, and OECD funding data, reconciles it with workbook research into a canonical Postgres graph, and serves the network API.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
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

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
