package main

import (
	"github.com/spf13/cobra"

	"github.com/bstandal/NorConnect/internal/enrich"
)

var (
	enrichYearFrom int
	enrichYearTo   int
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Attach statistical funding data to canonical organizations",
}

var enrichNoradCmd = &cobra.Command{
	Use:   "norad",
	Short: "Enrich from the Norad results portal",
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

		var headers map[string]string
		if cfg.Norad.FunctionsKey != "" {
			headers = map[string]string{"x-functions-key": cfg.Norad.FunctionsKey}
		}
		client := enrich.NewNoradClient(initFetcher(headers), cfg.Norad.BaseURL)
		e := enrich.NewNoradEnricher(client, st, initRunLog(st))

		// The enricher logs its own completion summary.
		_, _, err = e.Run(ctx, enrich.NoradOptions{
			StartYear: yearOr(enrichYearFrom, cfg.Norad.YearFrom),
			EndYear:   yearOr(enrichYearTo, cfg.Norad.YearTo),
			Threshold: cfg.Norad.MatchThreshold,
		})
		return err
	},
}

var enrichOECDCmd = &cobra.Command{
	Use:   "oecd",
	Short: "Enrich from OECD DAC2A disbursements",
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

		client := enrich.NewOECDClient(initFetcher(nil), cfg.OECD.BaseURL)
		e := enrich.NewOECDEnricher(client, st, initRunLog(st))

		_, _, err = e.Run(ctx, enrich.OECDOptions{
			StartYear: yearOr(enrichYearFrom, cfg.OECD.YearFrom),
			EndYear:   yearOr(enrichYearTo, cfg.OECD.YearTo),
			Threshold: cfg.OECD.MatchThreshold,
		})
		return err
	},
}

var enrichWhitelist string

var enrichPalestineCmd = &cobra.Command{
	Use:   "palestine",
	Short: "Resolve UD's Palestine recipients against Norad partners",
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

		var headers map[string]string
		if cfg.Norad.FunctionsKey != "" {
			headers = map[string]string{"x-functions-key": cfg.Norad.FunctionsKey}
		}
		client := enrich.NewNoradClient(initFetcher(headers), cfg.Norad.BaseURL)
		loader := enrich.NewPalestineLoader(client, st, initRunLog(st))

		whitelist := enrichWhitelist
		if whitelist == "" {
			whitelist = cfg.Palestine.WhitelistFile
		}
		_, _, err = loader.Run(ctx, enrich.PalestineOptions{
			WhitelistPath: whitelist,
			Threshold:     cfg.Palestine.MatchThreshold,
			StartYear:     yearOr(enrichYearFrom, cfg.Palestine.StartYear),
			EndYear:       enrichYearTo,
		})
		return err
	},
}

func yearOr(flag, fallback int) int {
	if flag != 0 {
		return flag
	}
	return fallback
}

func init() {
	for _, c := range []*cobra.Command{enrichNoradCmd, enrichOECDCmd, enrichPalestineCmd} {
		c.Flags().IntVar(&enrichYearFrom, "year-from", 0, "first year to enrich (default from config)")
		c.Flags().IntVar(&enrichYearTo, "year-to", 0, "last year to enrich (default from config)")
	}
	enrichPalestineCmd.Flags().StringVar(&enrichWhitelist, "whitelist", "", "curated recipient mapping CSV (default from config)")

	enrichCmd.AddCommand(enrichNoradCmd)
	enrichCmd.AddCommand(enrichOECDCmd)
	enrichCmd.AddCommand(enrichPalestineCmd)
	rootCmd.AddCommand(enrichCmd)
}
