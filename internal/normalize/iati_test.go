package normalize

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bstandal/NorConnect/internal/model"
	"github.com/bstandal/NorConnect/internal/resolve"
	"github.com/bstandal/NorConnect/internal/runlog"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeRunLog struct {
	completed runlog.Counters
	failed    string
}

func (f *fakeRunLog) Start(context.Context, string) (string, error) { return "run-1", nil }

func (f *fakeRunLog) Complete(_ context.Context, _ string, counters runlog.Counters) error {
	f.completed = counters
	return nil
}

func (f *fakeRunLog) Fail(_ context.Context, _ string, _ runlog.Counters, msg string) error {
	f.failed = msg
	return nil
}

type insertedFlow struct {
	flow   model.FundingFlow
	key    model.IngestKey
	docID  *int64
	relate string
}

type fakeIATIStore struct {
	orgs    []model.Organization
	aliases []model.OrganizationAlias
	staged  []model.IATITransaction

	existingKeys map[string]int64

	docUpserts int
	docIDs     map[string]int64
	flows      []insertedFlow
	learned    []string
}

func (f *fakeIATIStore) ListOrganizations(context.Context) ([]model.Organization, error) {
	return f.orgs, nil
}

func (f *fakeIATIStore) ListOrganizationAliases(context.Context) ([]model.OrganizationAlias, error) {
	return f.aliases, nil
}

func (f *fakeIATIStore) ListIATITransactions(context.Context, string) ([]model.IATITransaction, error) {
	return f.staged, nil
}

func (f *fakeIATIStore) GetFlowIDByIngestKey(_ context.Context, _, eventKey string) (*int64, error) {
	if id, ok := f.existingKeys[eventKey]; ok {
		return &id, nil
	}
	return nil, nil
}

func (f *fakeIATIStore) UpsertSourceDocument(_ context.Context, doc model.SourceDocument) (int64, error) {
	f.docUpserts++
	if f.docIDs == nil {
		f.docIDs = make(map[string]int64)
	}
	if id, ok := f.docIDs[doc.URL]; ok {
		return id, nil
	}
	id := int64(len(f.docIDs) + 100)
	f.docIDs[doc.URL] = id
	return id, nil
}

func (f *fakeIATIStore) InsertFundingFlowWithKey(_ context.Context, flow model.FundingFlow, key model.IngestKey, docID *int64, relationType string) (int64, error) {
	f.flows = append(f.flows, insertedFlow{flow: flow, key: key, docID: docID, relate: relationType})
	return int64(len(f.flows)), nil
}

func (f *fakeIATIStore) RegisterAlias(_ context.Context, _ resolve.Kind, _ int64, alias, _ string) error {
	f.learned = append(f.learned, alias)
	return nil
}

func day(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &t
}

func sp(s string) *string { return &s }

func TestIATINormalizer_Run(t *testing.T) {
	nrcRef := "NO-BRC-971277882"
	noradRef := "NO-GOV-1"
	store := &fakeIATIStore{
		orgs: []model.Organization{
			{ID: 1, Name: "Flyktninghjelpen", OrgRef: &nrcRef},
			{ID: 2, Name: "Norad", OrgRef: &noradRef},
		},
		existingKeys: map[string]int64{"key-dup": 41},
		staged: []model.IATITransaction{
			{
				ResourceURL:            "https://x/norad.xml",
				ActivityIATIIdentifier: "NO-GOV-1-QZA-2021",
				TransactionTypeCode:    sp("3"),
				TransactionDate:        day("2021-05-01"),
				ValueDate:              day("2021-05-03"),
				ValueAmount:            125000.50,
				ValueCurrency:          sp("USD"),
				ReceiverOrgRef:         sp(nrcRef),
				ReceiverOrgName:        sp("Flyktninghjelpen"),
				ProviderOrgRef:         sp(noradRef),
				ProviderOrgName:        sp("Norad"),
				EventKey:               "key-a",
			},
			{
				// No receiver at all: a validation skip.
				ResourceURL:            "https://x/norad.xml",
				ActivityIATIIdentifier: "NO-GOV-1-QZA-2022",
				ValueAmount:            1000,
				EventKey:               "key-b",
			},
			{
				// Already normalized in a prior run.
				ResourceURL:            "https://x/norad.xml",
				ActivityIATIIdentifier: "NO-GOV-1-QZA-2021",
				ValueAmount:            500,
				ReceiverOrgName:        sp("Flyktninghjelpen"),
				EventKey:               "key-dup",
			},
			{
				// Unknown recipient kept as raw name, NOK amount, value date only.
				ResourceURL:            "https://x/other.xml",
				ActivityIATIIdentifier: "NO-GOV-1-QZA-2023",
				ValueDate:              day("2023-01-15"),
				ValueAmount:            98000,
				ValueCurrency:          sp("NOK"),
				ReceiverOrgName:        sp("Al-Quds Society"),
				ReportingOrgRef:        sp(noradRef),
				ReportingOrgName:       sp("Norad"),
				EventKey:               "key-c",
			},
		},
	}
	runs := &fakeRunLog{}
	n := NewIATINormalizer(store, runs)

	runID, counters, err := n.Run(context.Background(), IATIOptions{})
	require.NoError(t, err)
	assert.Equal(t, "run-1", runID)

	assert.Equal(t, int64(4), counters["processed"])
	assert.Equal(t, int64(2), counters["flows_created"])
	assert.Equal(t, int64(1), counters["skipped_existing"])
	assert.Equal(t, int64(1), counters["skipped_no_recipient"])
	assert.Equal(t, int64(1), counters["recipient_mapped"])
	assert.Equal(t, int64(2), counters["donor_mapped"])
	assert.NotNil(t, runs.completed)
	assert.Empty(t, runs.failed)

	require.Len(t, store.flows, 2)

	first := store.flows[0]
	require.NotNil(t, first.flow.RecipientOrgID)
	assert.Equal(t, int64(1), *first.flow.RecipientOrgID)
	assert.Nil(t, first.flow.RecipientNameRaw)
	require.NotNil(t, first.flow.DonorOrgID)
	assert.Equal(t, int64(2), *first.flow.DonorOrgID)
	assert.Equal(t, "NO", *first.flow.DonorCountryCode)
	// Foreign currency stays original.
	assert.Nil(t, first.flow.AmountNOK)
	assert.Equal(t, 125000.50, *first.flow.AmountOriginal)
	assert.Equal(t, "USD", *first.flow.CurrencyCode)
	assert.Equal(t, 2021, *first.flow.FiscalYear)
	// The fiscal date bounds both ends of the reporting period.
	assert.Equal(t, *day("2021-05-01"), *first.flow.PeriodStart)
	assert.Equal(t, *day("2021-05-01"), *first.flow.PeriodEnd)
	assert.Equal(t, "IATI transaction type 3", *first.flow.FundingChannel)
	// 0.68 + 0.16 + 0.08 + 0.04 + 0.03 clamps at the ceiling.
	assert.Equal(t, 0.95, first.flow.Confidence)
	assert.Contains(t, *first.flow.Notes, "match_recipient=ref")
	assert.Contains(t, *first.flow.Notes, "match_donor=ref")
	assert.Contains(t, *first.flow.Notes, "event_key=key-a")
	assert.Equal(t, model.IngestKey{SourceSystem: "iati_registry", EventKey: "key-a"}, first.key)
	require.NotNil(t, first.docID)
	assert.Equal(t, "iati_xml", first.relate)

	second := store.flows[1]
	assert.Nil(t, second.flow.RecipientOrgID)
	assert.Equal(t, "Al-Quds Society", *second.flow.RecipientNameRaw)
	// NOK amounts land in amount_nok without a currency code.
	assert.Equal(t, 98000.0, *second.flow.AmountNOK)
	assert.Nil(t, second.flow.AmountOriginal)
	assert.Nil(t, second.flow.CurrencyCode)
	// No transaction date: the value date supplies the fiscal year.
	assert.Equal(t, 2023, *second.flow.FiscalYear)
	assert.Equal(t, *day("2023-01-15"), *second.flow.PeriodStart)
	assert.Equal(t, *day("2023-01-15"), *second.flow.PeriodEnd)
	assert.Equal(t, "IATI transaction", *second.flow.FundingChannel)
	assert.Contains(t, *second.flow.Notes, "match_recipient=none")
	// 0.68 + donor 0.08 + date 0.04.
	assert.InDelta(t, 0.80, second.flow.Confidence, 1e-9)

	// Mapped refs are learned as aliases for the next run.
	assert.Contains(t, store.learned, nrcRef)
	assert.Contains(t, store.learned, noradRef)

	// One source document per distinct resource URL.
	assert.Len(t, store.docIDs, 2)
}

func TestIATINormalizer_MaxRows(t *testing.T) {
	store := &fakeIATIStore{
		staged: []model.IATITransaction{
			{ResourceURL: "https://x/a.xml", ValueAmount: 1, ReceiverOrgName: sp("A"), EventKey: "k1"},
			{ResourceURL: "https://x/a.xml", ValueAmount: 2, ReceiverOrgName: sp("B"), EventKey: "k2"},
		},
	}
	n := NewIATINormalizer(store, &fakeRunLog{})

	_, counters, err := n.Run(context.Background(), IATIOptions{MaxRows: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), counters["processed"])
	assert.Len(t, store.flows, 1)
}

func TestIATIConfidence(t *testing.T) {
	assert.InDelta(t, 0.68, iatiConfidence(false, false, false, false), 1e-9)
	assert.InDelta(t, 0.84, iatiConfidence(true, false, false, false), 1e-9)
	assert.Equal(t, 0.95, iatiConfidence(true, true, true, true))
}
