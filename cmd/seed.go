package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bstandal/NorConnect/internal/curated"
)

var (
	seedPersons []string
	seedGroups  []string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed curated profiles into the canonical graph",
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

		set, err := loadProfiles()
		if err != nil {
			return err
		}

		seeder := curated.NewSeeder(st, initRunLog(st))
		runID, counters, err := seeder.Run(ctx, set, curated.SeedOptions{
			PersonKeys: seedPersons,
			Groups:     seedGroups,
		})
		if err != nil {
			return err
		}

		zap.L().Info("curated seed complete",
			zap.String("run_id", runID),
			zap.Int64("persons", counters["persons_written"]),
			zap.Int64("roles", counters["roles_written"]),
			zap.Int64("links", counters["links_written"]),
		)
		return nil
	},
}

func init() {
	seedCmd.Flags().StringSliceVar(&seedPersons, "person", nil, "profile keys to seed (default the seed set)")
	seedCmd.Flags().StringSliceVar(&seedGroups, "group", nil, "profile groups to seed")
	rootCmd.AddCommand(seedCmd)
}
