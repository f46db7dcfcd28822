package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bstandal/NorConnect/internal/iati"
)

var (
	harvestPublishers []string
	harvestSlugs      []string
	harvestDiscover   bool
	harvestMaxPkgs    int
	harvestMaxRes     int
	harvestWorkers    int
)

var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Harvest upstream registries into the staging tables",
}

var harvestIATICmd = &cobra.Command{
	Use:   "iati",
	Short: "Harvest IATI registry activity files",
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

		dl := initFetcher(nil)
		registry := iati.NewRegistryClient(dl, cfg.IATI.RegistryBaseURL, cfg.IATI.DatasetBaseURL, cfg.IATI.RowsPerPage)
		harvester := iati.NewHarvester(registry, dl, st, initRunLog(st))

		slugs := harvestSlugs
		if len(slugs) == 0 {
			slugs = cfg.IATI.OrganizationSlugs
		}
		maxPkgs := harvestMaxPkgs
		if maxPkgs == 0 {
			maxPkgs = cfg.IATI.MaxPackages
		}
		maxRes := harvestMaxRes
		if maxRes == 0 {
			maxRes = cfg.IATI.MaxResources
		}
		workers := harvestWorkers
		if workers == 0 {
			workers = cfg.IATI.DownloadWorkers
		}

		runID, counters, err := harvester.Run(ctx, iati.HarvestOptions{
			PublisherIDs:      harvestPublishers,
			OrganizationSlugs: slugs,
			DiscoverNorwegian: harvestDiscover,
			MaxPackages:       maxPkgs,
			MaxResources:      maxRes,
			Workers:           workers,
		})
		if err != nil {
			return err
		}

		zap.L().Info("harvest complete",
			zap.String("run_id", runID),
			zap.Int64("staged", counters["staged"]),
			zap.Int64("resources_failed", counters["resources_failed"]),
		)
		return nil
	},
}

func init() {
	harvestIATICmd.Flags().StringSliceVar(&harvestPublishers, "publisher", nil, "registry publisher ids to harvest")
	harvestIATICmd.Flags().StringSliceVar(&harvestSlugs, "org", nil, "registry organization slugs (default from config)")
	harvestIATICmd.Flags().BoolVar(&harvestDiscover, "discover-norwegian", false, "discover Norwegian publishers from the registry")
	harvestIATICmd.Flags().IntVar(&harvestMaxPkgs, "max-packages", 0, "cap harvested packages (default from config)")
	harvestIATICmd.Flags().IntVar(&harvestMaxRes, "max-resources", 0, "cap downloaded resources (default from config)")
	harvestIATICmd.Flags().IntVar(&harvestWorkers, "workers", 0, "parallel downloads (default from config)")

	harvestCmd.AddCommand(harvestIATICmd)
	rootCmd.AddCommand(harvestCmd)
}
