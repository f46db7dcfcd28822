package main

import (
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bstandal/NorConnect/internal/mirror"
)

var (
	mirrorInitOnly  bool
	mirrorPurge     bool
	mirrorBatchSize int
)

var mirrorCmd = &cobra.Command{
	Use:   "mirror",
	Short: "Mirror the canonical graph into Neo4j",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, "mirror")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		driver, err := neo4j.NewDriverWithContext(
			cfg.Neo4j.URI,
			neo4j.BasicAuth(cfg.Neo4j.Username, cfg.Neo4j.Password, ""),
		)
		if err != nil {
			return eris.Wrap(err, "mirror: create driver")
		}
		defer driver.Close(ctx) //nolint:errcheck

		if err := driver.VerifyConnectivity(ctx); err != nil {
			return eris.Wrap(err, "mirror: verify connectivity")
		}

		session := driver.NewSession(ctx, neo4j.SessionConfig{
			DatabaseName: cfg.Neo4j.Database,
		})
		defer session.Close(ctx) //nolint:errcheck

		m := mirror.New(mirror.NewRunner(session), st, initRunLog(st))
		runID, counters, err := m.Run(ctx, mirror.Options{
			InitOnly:  mirrorInitOnly,
			Purge:     mirrorPurge,
			BatchSize: mirrorBatchSize,
		})
		if err != nil {
			return err
		}
		if mirrorInitOnly {
			zap.L().Info("mirror constraints applied")
			return nil
		}

		zap.L().Info("mirror complete",
			zap.String("run_id", runID),
			zap.Int64("persons", counters["persons"]),
			zap.Int64("organizations", counters["organizations"]),
			zap.Int64("funding_flows", counters["funding_flows"]),
		)
		return nil
	},
}

func init() {
	mirrorCmd.Flags().BoolVar(&mirrorInitOnly, "init-only", false, "apply constraints and exit")
	mirrorCmd.Flags().BoolVar(&mirrorPurge, "purge", false, "delete managed nodes before syncing")
	mirrorCmd.Flags().IntVar(&mirrorBatchSize, "batch-size", 0, "rows per UNWIND batch (default 500)")
	rootCmd.AddCommand(mirrorCmd)
}
