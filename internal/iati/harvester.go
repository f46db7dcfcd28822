package iati

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bstandal/NorConnect/internal/fetcher"
	"github.com/bstandal/NorConnect/internal/model"
	"github.com/bstandal/NorConnect/internal/runlog"
)

// Staging is the store surface the harvester writes to.
type Staging interface {
	InsertIATITransactions(ctx context.Context, rows []model.IATITransaction) (int64, error)
}

// RunLog is the audit surface the harvester records runs in.
type RunLog interface {
	Start(ctx context.Context, sourceSystem string) (string, error)
	Complete(ctx context.Context, runID string, counters runlog.Counters) error
	Fail(ctx context.Context, runID string, counters runlog.Counters, errMsg string) error
}

// HarvestOptions bound a harvest run. Zero caps mean unlimited.
type HarvestOptions struct {
	PublisherIDs      []string
	OrganizationSlugs []string
	DiscoverNorwegian bool
	MaxPackages       int
	MaxResources      int
	MaxActivities     int
	Workers           int
}

// Harvester drives a full registry harvest: discovery, package search,
// resource download, and staged insertion.
type Harvester struct {
	registry *RegistryClient
	dl       Downloader
	staging  Staging
	runs     RunLog
}

// NewHarvester wires a harvester.
func NewHarvester(registry *RegistryClient, dl Downloader, staging Staging, runs RunLog) *Harvester {
	return &Harvester{registry: registry, dl: dl, staging: staging, runs: runs}
}

// SourceSystem identifies harvest runs in the run log.
const SourceSystem = "iati_registry"

// Run executes a harvest and returns the ingest run id and its counters.
// Individual resource failures are counted, logged, and skipped; the run
// fails only when the registry itself is unreachable.
func (h *Harvester) Run(ctx context.Context, opts HarvestOptions) (string, runlog.Counters, error) {
	publisherIDs := dedupe(opts.PublisherIDs)
	if opts.DiscoverNorwegian {
		discovered, err := h.registry.DiscoverNorwegianPublishers(ctx)
		if err != nil {
			return "", nil, err
		}
		publisherIDs = dedupe(append(publisherIDs, discovered...))
	}
	if len(publisherIDs) == 0 && len(opts.OrganizationSlugs) == 0 {
		return "", nil, eris.New("iati: no registry filters selected")
	}

	entries, err := h.registry.CollectPackages(ctx, publisherIDs, opts.OrganizationSlugs)
	if err != nil {
		return "", nil, err
	}
	resources := h.registry.XMLResources(entries, opts.MaxPackages, opts.MaxResources)

	runID, err := h.runs.Start(ctx, SourceSystem)
	if err != nil {
		return "", nil, err
	}

	counters := runlog.Counters{
		"publishers": int64(len(publisherIDs)),
		"packages":   int64(len(entries)),
		"resources":  int64(len(resources)),
	}
	if len(resources) == 0 {
		zap.L().Info("no xml resources found for selected filters")
		if err := h.runs.Complete(ctx, runID, counters); err != nil {
			return runID, counters, err
		}
		return runID, counters, nil
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, meta := range resources {
		g.Go(func() error {
			seen, staged, err := h.harvestResource(gctx, runID, meta, opts.MaxActivities)

			mu.Lock()
			defer mu.Unlock()
			counters.Inc("resources_attempted")
			counters.Add("activities_seen", seen)
			counters.Add("staged", staged)
			if err != nil {
				counters.Inc("resources_failed")
				zap.L().Warn("resource harvest failed",
					zap.String("resource_url", meta.ResourceURL),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		_ = h.runs.Fail(ctx, runID, counters, err.Error())
		return runID, counters, err
	}

	if err := h.runs.Complete(ctx, runID, counters); err != nil {
		return runID, counters, err
	}
	zap.L().Info("iati harvest complete",
		zap.String("run_id", runID),
		zap.Int64("resources", counters["resources_attempted"]),
		zap.Int64("activities", counters["activities_seen"]),
		zap.Int64("staged", counters["staged"]),
		zap.Int64("failed_resources", counters["resources_failed"]),
	)
	return runID, counters, nil
}

func (h *Harvester) harvestResource(ctx context.Context, runID string, meta ResourceMeta, maxActivities int) (seen, staged int64, err error) {
	body, err := h.dl.Download(ctx, meta.ResourceURL)
	if err != nil {
		return 0, 0, err
	}
	defer body.Close() //nolint:errcheck

	var batch []model.IATITransaction
	err = fetcher.StreamXML(body, "iati-activity", func(activity *Activity) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		seen++
		for _, row := range ExtractTransactions(activity, meta) {
			row.IngestRunID = runID
			batch = append(batch, row)
		}
		if maxActivities > 0 && seen >= int64(maxActivities) {
			return fetcher.ErrStopStreaming
		}
		return nil
	})
	// A malformed document mid-file still stages what decoded before it.
	if err != nil && len(batch) == 0 {
		return seen, 0, err
	}

	n, insErr := h.staging.InsertIATITransactions(ctx, batch)
	if insErr != nil {
		return seen, 0, insErr
	}
	return seen, n, err
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
