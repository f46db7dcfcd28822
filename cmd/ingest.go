package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bstandal/NorConnect/internal/normalize"
)

var (
	ingestExcelPath    string
	ingestRolesSheet   string
	ingestFundingSheet string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load raw source material into the staging tables",
}

var ingestExcelCmd = &cobra.Command{
	Use:   "excel",
	Short: "Stage the research workbook",
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

		ing := normalize.NewWorkbookIngester(st, initRunLog(st))
		runID, counters, err := ing.Run(ctx, normalize.WorkbookOptions{
			Path:         ingestExcelPath,
			RolesSheet:   ingestRolesSheet,
			FundingSheet: ingestFundingSheet,
		})
		if err != nil {
			return err
		}

		zap.L().Info("workbook staged",
			zap.String("run_id", runID),
			zap.Int64("roles", counters["roles_staged"]),
			zap.Int64("funding", counters["funding_staged"]),
		)
		return nil
	},
}

func init() {
	ingestExcelCmd.Flags().StringVar(&ingestExcelPath, "file", "", "path to the XLSX workbook (required)")
	ingestExcelCmd.Flags().StringVar(&ingestRolesSheet, "roles-sheet", "", "roles sheet name (default "+normalize.DefaultRolesSheet+")")
	ingestExcelCmd.Flags().StringVar(&ingestFundingSheet, "funding-sheet", "", "funding sheet name (default "+normalize.DefaultFundingSheet+")")
	_ = ingestExcelCmd.MarkFlagRequired("file")

	ingestCmd.AddCommand(ingestExcelCmd)
	rootCmd.AddCommand(ingestCmd)
}
