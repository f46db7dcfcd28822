package resolve

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bstandal/NorConnect/internal/model"
)

// Kind selects which canonical entity table a resolution targets.
type Kind string

const (
	KindOrganization Kind = "organization"
	KindPerson       Kind = "person"
)

// Match modes recorded on resolutions.
const (
	ModeRef     = "ref"
	ModeExact   = "exact"
	ModeAlias   = "alias"
	ModeFuzzy   = "fuzzy"
	ModeCreated = "created"
)

// EntityRecord is the slim view of a canonical entity the resolver works with.
type EntityRecord struct {
	ID   int64
	Name string
	Ref  *string
}

// Directory is the persistence surface the resolver needs. The store
// implements it once per entity kind behind a shared SQL shape:
// fill-if-null upserts and ON CONFLICT DO NOTHING alias registration.
type Directory interface {
	FindEntity(ctx context.Context, kind Kind, normalizedName string) (*EntityRecord, error)
	FindEntityByAlias(ctx context.Context, kind Kind, normalizedAlias string) (*EntityRecord, error)
	UpsertEntity(ctx context.Context, kind Kind, name string, attrs map[string]any) (int64, bool, error)
	RegisterAlias(ctx context.Context, kind Kind, entityID int64, alias, sourceSystem string) error
}

// Resolution is the outcome of resolving a raw name.
type Resolution struct {
	ID      int64
	Name    string
	Mode    string
	Score   float64
	Created bool
}

// Resolver maps raw source names onto canonical entities of one kind:
// exact normalized-name match, then learned alias, then optional fuzzy
// matching, then creation. Fuzzy hits learn an alias so the next run
// resolves exactly.
type Resolver struct {
	dir          Directory
	kind         Kind
	matcher      *Matcher
	threshold    float64
	sourceSystem string
}

// NewResolver builds a resolver for one entity kind. matcher may be nil to
// disable the fuzzy pass.
func NewResolver(dir Directory, kind Kind, matcher *Matcher, threshold float64, sourceSystem string) *Resolver {
	return &Resolver{dir: dir, kind: kind, matcher: matcher, threshold: threshold, sourceSystem: sourceSystem}
}

// Resolve maps name to a canonical entity, creating one when nothing
// matches. A name that normalizes to nothing resolves to nil (callers count
// it as a validation skip).
func (r *Resolver) Resolve(ctx context.Context, name string, attrs map[string]any) (*Resolution, error) {
	norm := NormalizeName(name)
	if norm == "" {
		return nil, nil
	}

	if rec, err := r.dir.FindEntity(ctx, r.kind, norm); err != nil {
		return nil, eris.Wrapf(err, "resolve: find %s", r.kind)
	} else if rec != nil {
		return &Resolution{ID: rec.ID, Name: rec.Name, Mode: ModeExact, Score: 1}, nil
	}

	if rec, err := r.dir.FindEntityByAlias(ctx, r.kind, norm); err != nil {
		return nil, eris.Wrapf(err, "resolve: find %s alias", r.kind)
	} else if rec != nil {
		return &Resolution{ID: rec.ID, Name: rec.Name, Mode: ModeAlias, Score: 1}, nil
	}

	if r.matcher != nil {
		if m := r.matcher.Best(name); m != nil && m.Score >= r.threshold {
			if err := r.dir.RegisterAlias(ctx, r.kind, m.CandidateID, name, r.sourceSystem); err != nil {
				return nil, eris.Wrapf(err, "resolve: register %s alias", r.kind)
			}
			zap.L().Debug("fuzzy resolution",
				zap.String("kind", string(r.kind)),
				zap.String("name", name),
				zap.String("matched", m.Name),
				zap.Float64("score", m.Score),
				zap.String("reason", m.Reason),
			)
			return &Resolution{ID: m.CandidateID, Name: m.Name, Mode: ModeFuzzy, Score: m.Score}, nil
		}
	}

	id, created, err := r.dir.UpsertEntity(ctx, r.kind, name, attrs)
	if err != nil {
		return nil, eris.Wrapf(err, "resolve: upsert %s", r.kind)
	}
	return &Resolution{ID: id, Name: name, Mode: ModeCreated, Created: created}, nil
}

// Lookup is an in-memory organization directory for high-volume mapping
// passes (staged IATI transactions, enrichment). Refs win over names; fuzzy
// matching is the last resort. Learned aliases are first-mapping-wins and
// live only for the run.
type Lookup struct {
	byName    map[string]EntityRecord
	byRef     map[string]EntityRecord
	matcher   *Matcher
	threshold float64
}

// NewLookup indexes organizations and their aliases by normalized name and
// normalized ref, and prepares the fuzzy matcher over the same entries.
func NewLookup(orgs []model.Organization, aliases []model.OrganizationAlias, opts MatcherOptions, threshold float64) *Lookup {
	l := &Lookup{
		byName:    make(map[string]EntityRecord, len(orgs)+len(aliases)),
		byRef:     make(map[string]EntityRecord, len(orgs)),
		threshold: threshold,
	}

	variants := make(map[int64][]string)
	recs := make(map[int64]EntityRecord, len(orgs))
	for _, o := range orgs {
		rec := EntityRecord{ID: o.ID, Name: o.Name, Ref: o.OrgRef}
		recs[o.ID] = rec
		if norm := NormalizeName(o.Name); norm != "" {
			if _, ok := l.byName[norm]; !ok {
				l.byName[norm] = rec
			}
		}
		if o.OrgRef != nil {
			if ref := NormalizeRef(*o.OrgRef); ref != "" {
				if _, ok := l.byRef[ref]; !ok {
					l.byRef[ref] = rec
				}
			}
		}
	}
	for _, a := range aliases {
		rec, ok := recs[a.OrganizationID]
		if !ok {
			continue
		}
		if norm := NormalizeName(a.Alias); norm != "" {
			if _, ok := l.byName[norm]; !ok {
				l.byName[norm] = rec
			}
		}
		variants[a.OrganizationID] = append(variants[a.OrganizationID], a.Alias)
	}

	candidates := make([]Candidate, 0, len(orgs))
	for _, o := range orgs {
		candidates = append(candidates, Candidate{ID: o.ID, Name: o.Name, Variants: variants[o.ID]})
	}
	l.matcher = NewMatcher(candidates, opts)
	return l
}

// MapOrganization resolves an organization by ref first, then by exact
// normalized name, then fuzzily. Returns the record, the match mode, and
// whether anything matched.
func (l *Lookup) MapOrganization(ref, name string) (EntityRecord, string, bool) {
	if ref != "" {
		if rec, ok := l.byRef[NormalizeRef(ref)]; ok {
			return rec, ModeRef, true
		}
	}
	if name == "" {
		return EntityRecord{}, "", false
	}
	if rec, ok := l.byName[NormalizeName(name)]; ok {
		return rec, ModeExact, true
	}
	if m := l.matcher.Best(name); m != nil && m.Score >= l.threshold {
		rec := EntityRecord{ID: m.CandidateID, Name: m.Name}
		l.Learn(name, rec)
		return rec, ModeFuzzy, true
	}
	return EntityRecord{}, "", false
}

// Learn records an in-run alias. The first mapping for a normalized
// spelling wins; later conflicting mappings are ignored.
func (l *Lookup) Learn(name string, rec EntityRecord) {
	norm := NormalizeName(name)
	if norm == "" {
		return
	}
	if _, ok := l.byName[norm]; !ok {
		l.byName[norm] = rec
	}
}

// Size reports how many distinct normalized names the lookup resolves.
func (l *Lookup) Size() int { return len(l.byName) }
