package curated

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/bstandal/NorConnect/internal/model"
	"github.com/bstandal/NorConnect/internal/resolve"
	"github.com/bstandal/NorConnect/internal/runlog"
)

const (
	// seedSourceSystem tags aliases written by the curated seeder.
	seedSourceSystem = "curated_drilldown"
	// seedConfidence applies to curated role events and person links.
	seedConfidence = 0.8

	defaultDocType        = "profile"
	defaultSourceRelation = "curated_reference"
)

// SeedStore is the persistence surface the curated seeder needs.
type SeedStore interface {
	UpsertEntity(ctx context.Context, kind resolve.Kind, name string, attrs map[string]any) (int64, bool, error)
	RegisterAlias(ctx context.Context, kind resolve.Kind, entityID int64, alias, sourceSystem string) error
	EnsureRoleEvent(ctx context.Context, ev model.RoleEvent) (int64, error)
	UpsertPersonLink(ctx context.Context, link model.PersonLink) (int64, error)
	UpsertSourceDocument(ctx context.Context, doc model.SourceDocument) (int64, error)
	LinkRoleSource(ctx context.Context, roleEventID, sourceDocumentID int64, relationType string) error
	LinkPersonLinkSource(ctx context.Context, personLinkID, sourceDocumentID int64, relationType string) error
}

// RunLog records seeding runs.
type RunLog interface {
	Start(ctx context.Context, jobName string) (string, error)
	Complete(ctx context.Context, runID string, counters runlog.Counters) error
	Fail(ctx context.Context, runID string, counters runlog.Counters, message string) error
}

// SeedOptions select which profiles to seed. Empty selectors fall back to
// the network's seed defaults.
type SeedOptions struct {
	PersonKeys []string
	Groups     []string
}

// Seeder writes curated profiles into the canonical store: persons and
// their aliases, institution bindings as role events, and person links,
// each with provenance.
type Seeder struct {
	store SeedStore
	runs  RunLog

	personIDs map[string]int64
}

// NewSeeder wires a curated seeder.
func NewSeeder(store SeedStore, runs RunLog) *Seeder {
	return &Seeder{store: store, runs: runs}
}

// Run seeds the selected profiles. Role events and links dedupe in the
// store, so reruns are safe; confidence only ever ratchets up.
func (s *Seeder) Run(ctx context.Context, set *Set, opts SeedOptions) (string, runlog.Counters, error) {
	keys, err := set.Select(opts.PersonKeys, opts.Groups)
	if err != nil {
		return "", nil, err
	}

	runID, err := s.runs.Start(ctx, "seed_curated")
	if err != nil {
		return "", nil, err
	}
	counters := runlog.Counters{}
	s.personIDs = make(map[string]int64)

	fail := func(err error) (string, runlog.Counters, error) {
		_ = s.runs.Fail(ctx, runID, counters, err.Error())
		return runID, counters, err
	}

	// Persons first, so links can point at any selected profile.
	for _, key := range keys {
		if _, err := s.ensurePerson(ctx, set, key, counters); err != nil {
			return fail(err)
		}
	}

	for _, key := range keys {
		profile := set.Profiles[key]
		personID := s.personIDs[key]

		for _, binding := range profile.Bindings {
			if err := s.seedBinding(ctx, personID, binding, counters); err != nil {
				return fail(err)
			}
		}
		for _, link := range profile.Links {
			if err := s.seedLink(ctx, set, personID, link, counters); err != nil {
				return fail(err)
			}
		}
	}

	if err := s.runs.Complete(ctx, runID, counters); err != nil {
		return runID, counters, err
	}
	zap.L().Info("curated seeding complete",
		zap.String("run_id", runID),
		zap.Int("profiles", len(keys)),
		zap.Int64("roles", counters["roles_written"]),
		zap.Int64("links", counters["links_written"]),
	)
	return runID, counters, nil
}

// ensurePerson upserts a profile's person and registers its aliases. The
// result is memoized so link targets resolve to the same row.
func (s *Seeder) ensurePerson(ctx context.Context, set *Set, key string, counters runlog.Counters) (int64, error) {
	if id, ok := s.personIDs[key]; ok {
		return id, nil
	}
	profile := set.Profiles[key]

	id, created, err := s.store.UpsertEntity(ctx, resolve.KindPerson, profile.DisplayName, nil)
	if err != nil {
		return 0, err
	}
	if created {
		counters.Inc("persons_created")
	}
	counters.Inc("persons_written")

	for _, alias := range profile.Aliases {
		if err := s.store.RegisterAlias(ctx, resolve.KindPerson, id, alias, seedSourceSystem); err != nil {
			return 0, err
		}
		counters.Inc("aliases_written")
	}

	s.personIDs[key] = id
	return id, nil
}

func (s *Seeder) seedBinding(ctx context.Context, personID int64, binding Binding, counters runlog.Counters) error {
	var attrs map[string]any
	if binding.InstitutionType != "" {
		attrs = map[string]any{"org_type": binding.InstitutionType}
	}
	orgID, created, err := s.store.UpsertEntity(ctx, resolve.KindOrganization, binding.InstitutionName, attrs)
	if err != nil {
		return err
	}
	if created {
		counters.Inc("orgs_created")
	}

	ev := model.RoleEvent{
		PersonID:       personID,
		OrganizationID: orgID,
		RoleTitle:      binding.RoleTitle,
		StartOn:        yearStart(binding.StartYear),
		EndOn:          yearEnd(binding.EndYear),
		Confidence:     seedConfidence,
	}
	if binding.Notes != "" {
		notes := binding.Notes
		ev.SourceQuote = &notes
	}
	roleID, err := s.store.EnsureRoleEvent(ctx, ev)
	if err != nil {
		return err
	}
	counters.Inc("roles_written")

	return s.linkSources(ctx, binding.Sources, counters, func(docID int64, relation string) error {
		return s.store.LinkRoleSource(ctx, roleID, docID, relation)
	})
}

func (s *Seeder) seedLink(ctx context.Context, set *Set, personID int64, link Link, counters runlog.Counters) error {
	targetKey, _, ok := set.Find(link.TargetKey)
	if !ok {
		counters.Inc("links_skipped")
		zap.L().Warn("curated link target has no profile", zap.String("target", link.TargetKey))
		return nil
	}
	targetID, err := s.ensurePerson(ctx, set, targetKey, counters)
	if err != nil {
		return err
	}
	if targetID == personID {
		counters.Inc("links_skipped")
		return nil
	}

	relation := link.RelationType
	if relation == "" {
		relation = "associate"
	}
	pl := model.PersonLink{
		PersonAID:    personID,
		PersonBID:    targetID,
		RelationType: relation,
		StartYear:    link.StartYear,
		EndYear:      link.EndYear,
		Confidence:   seedConfidence,
	}
	if desc := firstNonEmpty(link.Label, link.Notes); desc != "" {
		pl.Description = &desc
	}
	linkID, err := s.store.UpsertPersonLink(ctx, pl)
	if err != nil {
		return err
	}
	counters.Inc("links_written")

	return s.linkSources(ctx, link.Sources, counters, func(docID int64, relation string) error {
		return s.store.LinkPersonLinkSource(ctx, linkID, docID, relation)
	})
}

// linkSources upserts each source document and attaches it through the
// caller-supplied link function.
func (s *Seeder) linkSources(ctx context.Context, sources []SourceRef, counters runlog.Counters, attach func(docID int64, relation string) error) error {
	for _, src := range sources {
		if src.URL == "" {
			continue
		}
		docType := src.DocType
		if docType == "" {
			docType = defaultDocType
		}
		doc := model.SourceDocument{URL: src.URL, DocType: &docType}
		if src.SourceName != "" {
			name := src.SourceName
			doc.SourceName = &name
		}
		docID, err := s.store.UpsertSourceDocument(ctx, doc)
		if err != nil {
			return err
		}

		relation := src.RelationType
		if relation == "" {
			relation = defaultSourceRelation
		}
		if err := attach(docID, relation); err != nil {
			return err
		}
		counters.Inc("source_links")
	}
	return nil
}

func yearStart(year *int) *time.Time {
	if year == nil {
		return nil
	}
	t := time.Date(*year, time.January, 1, 0, 0, 0, 0, time.UTC)
	return &t
}

func yearEnd(year *int) *time.Time {
	if year == nil {
		return nil
	}
	t := time.Date(*year, time.December, 31, 0, 0, 0, 0, time.UTC)
	return &t
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
