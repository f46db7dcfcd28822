package main

import (
	"context"
	"time"

	"github.com/bstandal/NorConnect/internal/curated"
	"github.com/bstandal/NorConnect/internal/fetcher"
	"github.com/bstandal/NorConnect/internal/runlog"
	"github.com/bstandal/NorConnect/internal/store"
)

// initStore validates the configuration for the given command mode and
// connects to Postgres. Callers must Close the returned store.
func initStore(ctx context.Context, mode string) (*store.PostgresStore, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	return store.NewPostgres(ctx, cfg.Store.DatabaseURL, store.PoolConfig{
		MaxConns: int32(cfg.Store.MaxConns),
	})
}

// initRunLog builds the ingest-run log over the store's pool.
func initRunLog(st *store.PostgresStore) *runlog.Log {
	return runlog.New(st.Pool())
}

// initFetcher builds the shared HTTP fetcher with the default per-host
// rate limiters. extraHeaders carries upstream API keys.
func initFetcher(extraHeaders map[string]string) *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:    cfg.Ingest.UserAgent,
		Timeout:      60 * time.Second,
		Headers:      extraHeaders,
		RateLimiters: fetcher.DefaultRateLimiters(),
	})
}

// loadProfiles loads the curated network, falling back to the embedded
// default set when no file is configured.
func loadProfiles() (*curated.Set, error) {
	if cfg.Curated.NetworkFile != "" {
		return curated.Load(cfg.Curated.NetworkFile)
	}
	return curated.DefaultSet()
}
