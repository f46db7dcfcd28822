package curated

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bstandal/NorConnect/internal/model"
	"github.com/bstandal/NorConnect/internal/resolve"
	"github.com/bstandal/NorConnect/internal/runlog"
)

type seededAlias struct {
	kind         resolve.Kind
	entityID     int64
	alias        string
	sourceSystem string
}

type seededRef struct {
	ownerID  int64
	docID    int64
	relation string
}

type fakeSeedStore struct {
	nextID   int64
	entities map[string]int64
	orgAttrs map[string]map[string]any
	aliases  []seededAlias
	events   []model.RoleEvent
	links    []model.PersonLink
	docs     map[string]model.SourceDocument
	docIDs   map[string]int64
	roleRefs []seededRef
	linkRefs []seededRef
}

func newFakeSeedStore() *fakeSeedStore {
	return &fakeSeedStore{
		entities: make(map[string]int64),
		orgAttrs: make(map[string]map[string]any),
		docs:     make(map[string]model.SourceDocument),
		docIDs:   make(map[string]int64),
	}
}

func (f *fakeSeedStore) UpsertEntity(_ context.Context, kind resolve.Kind, name string, attrs map[string]any) (int64, bool, error) {
	key := string(kind) + "|" + resolve.NormalizeName(name)
	if id, ok := f.entities[key]; ok {
		return id, false, nil
	}
	f.nextID++
	f.entities[key] = f.nextID
	if kind == resolve.KindOrganization {
		f.orgAttrs[name] = attrs
	}
	return f.nextID, true, nil
}

func (f *fakeSeedStore) RegisterAlias(_ context.Context, kind resolve.Kind, entityID int64, alias, sourceSystem string) error {
	f.aliases = append(f.aliases, seededAlias{kind: kind, entityID: entityID, alias: alias, sourceSystem: sourceSystem})
	return nil
}

func (f *fakeSeedStore) EnsureRoleEvent(_ context.Context, ev model.RoleEvent) (int64, error) {
	f.events = append(f.events, ev)
	return int64(len(f.events)), nil
}

func (f *fakeSeedStore) UpsertPersonLink(_ context.Context, link model.PersonLink) (int64, error) {
	f.links = append(f.links, link)
	return int64(len(f.links)), nil
}

func (f *fakeSeedStore) UpsertSourceDocument(_ context.Context, doc model.SourceDocument) (int64, error) {
	if id, ok := f.docIDs[doc.URL]; ok {
		return id, nil
	}
	id := int64(len(f.docIDs) + 100)
	f.docIDs[doc.URL] = id
	f.docs[doc.URL] = doc
	return id, nil
}

func (f *fakeSeedStore) LinkRoleSource(_ context.Context, roleEventID, docID int64, relation string) error {
	f.roleRefs = append(f.roleRefs, seededRef{ownerID: roleEventID, docID: docID, relation: relation})
	return nil
}

func (f *fakeSeedStore) LinkPersonLinkSource(_ context.Context, linkID, docID int64, relation string) error {
	f.linkRefs = append(f.linkRefs, seededRef{ownerID: linkID, docID: docID, relation: relation})
	return nil
}

type fakeSeedRunLog struct {
	completed runlog.Counters
	failed    string
}

func (f *fakeSeedRunLog) Start(context.Context, string) (string, error) { return "run-1", nil }

func (f *fakeSeedRunLog) Complete(_ context.Context, _ string, counters runlog.Counters) error {
	f.completed = counters
	return nil
}

func (f *fakeSeedRunLog) Fail(_ context.Context, _ string, _ runlog.Counters, msg string) error {
	f.failed = msg
	return nil
}

func intP(v int) *int { return &v }

func testSet() *Set {
	return &Set{
		DefaultKey:   "anna-aas",
		SeedDefaults: []string{"anna-aas"},
		Profiles: map[string]Profile{
			"anna-aas": {
				DisplayName: "Anna Aas",
				Aliases:     []string{"A. Aas"},
				Bindings: []Binding{{
					InstitutionName: "Stiftelsen Nordlys",
					InstitutionType: "foundation",
					RoleTitle:       "Styreleder",
					RelationType:    "office",
					StartYear:       intP(2010),
					EndYear:         intP(2015),
					Notes:           "Fra stiftelsens årsrapport.",
					Sources: []SourceRef{{
						SourceName: "nordlys.no",
						URL:        "https://nordlys.example/om",
					}},
				}},
				Links: []Link{
					{
						TargetKey:    "bernt-berg",
						RelationType: "family",
						Label:        "Søsken",
						Sources: []SourceRef{{
							URL:     "https://snl.example/anna-aas",
							DocType: "biography",
						}},
					},
					{TargetKey: "nobody-known", RelationType: "colleague"},
				},
			},
			"bernt-berg": {DisplayName: "Bernt Berg"},
		},
	}
}

func TestSeeder_Run(t *testing.T) {
	store := newFakeSeedStore()
	runs := &fakeSeedRunLog{}
	s := NewSeeder(store, runs)

	runID, counters, err := s.Run(context.Background(), testSet(), SeedOptions{
		PersonKeys: []string{"anna-aas", "bernt-berg"},
	})
	require.NoError(t, err)
	assert.Equal(t, "run-1", runID)
	assert.Empty(t, runs.failed)
	assert.NotNil(t, runs.completed)

	assert.Equal(t, int64(2), counters["persons_written"])
	assert.Equal(t, int64(2), counters["persons_created"])
	assert.Equal(t, int64(1), counters["aliases_written"])
	assert.Equal(t, int64(1), counters["orgs_created"])
	assert.Equal(t, int64(1), counters["roles_written"])
	assert.Equal(t, int64(1), counters["links_written"])
	assert.Equal(t, int64(1), counters["links_skipped"])
	assert.Equal(t, int64(2), counters["source_links"])

	require.Len(t, store.aliases, 1)
	assert.Equal(t, "A. Aas", store.aliases[0].alias)
	assert.Equal(t, seedSourceSystem, store.aliases[0].sourceSystem)

	require.Len(t, store.events, 1)
	ev := store.events[0]
	assert.Equal(t, "Styreleder", ev.RoleTitle)
	assert.Equal(t, time.Date(2010, time.January, 1, 0, 0, 0, 0, time.UTC), *ev.StartOn)
	assert.Equal(t, time.Date(2015, time.December, 31, 0, 0, 0, 0, time.UTC), *ev.EndOn)
	assert.Equal(t, "Fra stiftelsens årsrapport.", *ev.SourceQuote)
	assert.Equal(t, seedConfidence, ev.Confidence)
	assert.Equal(t, map[string]any{"org_type": "foundation"}, store.orgAttrs["Stiftelsen Nordlys"])

	require.Len(t, store.links, 1)
	link := store.links[0]
	assert.Equal(t, "family", link.RelationType)
	assert.Equal(t, "Søsken", *link.Description)
	assert.Nil(t, link.StartYear)
	assert.Equal(t, seedConfidence, link.Confidence)
	assert.NotEqual(t, link.PersonAID, link.PersonBID)

	// Binding source: doc type and relation default.
	require.Len(t, store.roleRefs, 1)
	assert.Equal(t, defaultSourceRelation, store.roleRefs[0].relation)
	bindingDoc := store.docs["https://nordlys.example/om"]
	assert.Equal(t, defaultDocType, *bindingDoc.DocType)
	assert.Equal(t, "nordlys.no", *bindingDoc.SourceName)

	// Link source keeps its explicit doc type and has no source name.
	require.Len(t, store.linkRefs, 1)
	linkDoc := store.docs["https://snl.example/anna-aas"]
	assert.Equal(t, "biography", *linkDoc.DocType)
	assert.Nil(t, linkDoc.SourceName)
}

func TestSeeder_LinkTargetCreatedOnDemand(t *testing.T) {
	store := newFakeSeedStore()
	s := NewSeeder(store, &fakeSeedRunLog{})

	// Only Anna is selected; Bernt exists solely as a link target and is
	// created during the link pass.
	_, counters, err := s.Run(context.Background(), testSet(), SeedOptions{
		PersonKeys: []string{"anna-aas"},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(2), counters["persons_written"])
	assert.Equal(t, int64(1), counters["links_written"])
	require.Len(t, store.links, 1)

	var names []string
	for key := range store.entities {
		if strings.HasPrefix(key, string(resolve.KindPerson)+"|") {
			names = append(names, key)
		}
	}
	assert.Len(t, names, 2)
}

func TestSeeder_DefaultsWhenUnselected(t *testing.T) {
	store := newFakeSeedStore()
	s := NewSeeder(store, &fakeSeedRunLog{})

	_, counters, err := s.Run(context.Background(), testSet(), SeedOptions{})
	require.NoError(t, err)

	// Seed defaults name only Anna; Bernt still arrives via her link.
	assert.Equal(t, int64(1), counters["roles_written"])
	assert.Equal(t, int64(2), counters["persons_written"])
}
