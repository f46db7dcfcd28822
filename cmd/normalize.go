package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bstandal/NorConnect/internal/normalize"
)

var (
	normalizeRunID   string
	normalizeMaxRows int
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize",
	Short: "Promote staged rows into the canonical graph",
}

var normalizeExcelCmd = &cobra.Command{
	Use:   "excel",
	Short: "Normalize staged workbook rows",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, "batch")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		n := normalize.NewExcelNormalizer(st, initRunLog(st))
		runID, counters, err := n.Run(ctx, normalize.ExcelOptions{
			OrgThreshold: cfg.Resolve.RecipientThreshold,
		})
		if err != nil {
			return err
		}

		zap.L().Info("workbook normalized",
			zap.String("run_id", runID),
			zap.Int64("roles_written", counters["roles_written"]),
			zap.Int64("flows_written", counters["flows_written"]),
		)
		return nil
	},
}

var normalizeIATICmd = &cobra.Command{
	Use:   "iati",
	Short: "Normalize staged IATI transactions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, "batch")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		n := normalize.NewIATINormalizer(st, initRunLog(st))
		runID, counters, err := n.Run(ctx, normalize.IATIOptions{
			IngestRunID:        normalizeRunID,
			MaxRows:            normalizeMaxRows,
			RecipientThreshold: cfg.Resolve.RecipientThreshold,
		})
		if err != nil {
			return err
		}

		zap.L().Info("iati normalized",
			zap.String("run_id", runID),
			zap.Int64("flows_created", counters["flows_created"]),
			zap.Int64("skipped_existing", counters["skipped_existing"]),
		)
		return nil
	},
}

func init() {
	normalizeIATICmd.Flags().StringVar(&normalizeRunID, "harvest-run", "", "limit to one harvest run id")
	normalizeIATICmd.Flags().IntVar(&normalizeMaxRows, "max-rows", 0, "cap processed rows")

	normalizeCmd.AddCommand(normalizeExcelCmd)
	normalizeCmd.AddCommand(normalizeIATICmd)
	rootCmd.AddCommand(normalizeCmd)
}
