package enrich

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bstandal/NorConnect/internal/model"
	"github.com/bstandal/NorConnect/internal/runlog"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeDownloader struct {
	responses map[string]string
	requested []string
}

func (f *fakeDownloader) Download(_ context.Context, rawURL string) (io.ReadCloser, error) {
	f.requested = append(f.requested, rawURL)
	body, ok := f.responses[rawURL]
	if !ok {
		return nil, fmt.Errorf("unexpected url %s", rawURL)
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

type linkedSource struct {
	flowID   int64
	docID    int64
	relation string
}

type fakeEnrichStore struct {
	orgs  []model.Organization
	flows []model.FundingFlow
	docs  map[string]int64
	links []linkedSource
}

func (f *fakeEnrichStore) ListOrganizations(context.Context) ([]model.Organization, error) {
	return f.orgs, nil
}

func (f *fakeEnrichStore) UpsertSourceDocument(_ context.Context, doc model.SourceDocument) (int64, error) {
	if f.docs == nil {
		f.docs = make(map[string]int64)
	}
	if id, ok := f.docs[doc.URL]; ok {
		return id, nil
	}
	id := int64(len(f.docs) + 100)
	f.docs[doc.URL] = id
	return id, nil
}

func (f *fakeEnrichStore) UpsertCompositeFundingFlow(_ context.Context, flow model.FundingFlow) (int64, bool, error) {
	f.flows = append(f.flows, flow)
	return int64(len(f.flows)), true, nil
}

func (f *fakeEnrichStore) LinkFundingSource(_ context.Context, flowID, docID int64, relationType string) error {
	f.links = append(f.links, linkedSource{flowID: flowID, docID: docID, relation: relationType})
	return nil
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

func intP(v int) *int { return &v }

func TestNoradEnricher_Run(t *testing.T) {
	base := "https://norad.test"
	dl := &fakeDownloader{responses: map[string]string{
		base + "/partnercode?level=2": `[
			{"code": 12345, "english": "NRC - Norwegian Refugee Council", "norwegian": "Flyktninghjelpen"},
			{"code": null, "english": "Orphan"},
			{"code": 9, "english": ""}
		]`,
		base + "/money?agreement_partner_sid=12345&from_year=2010&selection=data_year&to_year=2023": `[
			{"data_year": 2022, "disbursement_earmarked_nok": 1000000},
			{"data_year": 2023, "disbursement_earmarked_nok": 0},
			{"data_year": null, "disbursement_earmarked_nok": 5}
		]`,
	}}
	store := &fakeEnrichStore{orgs: []model.Organization{
		{ID: 1, Name: "Flyktninghjelpen"},
		{ID: 2, Name: "Zzz Unrelated Entity"},
	}}
	runs := &fakeRunLog{}
	e := NewNoradEnricher(NewNoradClient(dl, base), store, runs)

	runID, counters, err := e.Run(context.Background(), NoradOptions{EndYear: 2023})
	require.NoError(t, err)
	assert.Equal(t, "run-1", runID)

	assert.Equal(t, int64(1), counters["matches"])
	assert.Equal(t, int64(1), counters["funding_rows"])
	assert.Equal(t, int64(1), counters["source_links"])
	assert.NotNil(t, runs.completed)
	assert.Empty(t, runs.failed)

	require.Len(t, store.flows, 1)
	flow := store.flows[0]
	assert.Equal(t, "NO", *flow.DonorCountryCode)
	assert.Equal(t, int64(1), *flow.RecipientOrgID)
	assert.Equal(t, 2022, *flow.FiscalYear)
	assert.Equal(t, 1000000.0, *flow.AmountNOK)
	assert.Equal(t, "NORAD partner_sid=12345", *flow.FundingChannel)
	assert.Equal(t, enrichConfidence, flow.Confidence)
	assert.Contains(t, *flow.Notes, "'Flyktninghjelpen' -> 'NRC - Norwegian Refugee Council'")

	require.Len(t, store.links, 1)
	assert.Equal(t, "norad_api", store.links[0].relation)
	assert.Len(t, store.docs, 1)
}

func TestNoradClient_LatestDataYear(t *testing.T) {
	base := "https://norad.test"
	dl := &fakeDownloader{responses: map[string]string{
		base + "/latestdatayear": `[{"latest_historic_data_year": 2023}]`,
	}}
	c := NewNoradClient(dl, base)

	year, err := c.LatestDataYear(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2023, year)
}

func TestBestNoradMatch_AcronymSuffix(t *testing.T) {
	partners := []NoradPartner{
		{Code: intP(12345), English: "NRC - Norwegian Refugee Council", Norwegian: "Flyktninghjelpen"},
		{Code: intP(67890), English: "Save the Children Norway", Norwegian: "Redd Barna"},
	}

	m := BestNoradMatch("Norwegian Refugee Council", partners)
	require.NotNil(t, m)
	assert.Equal(t, "12345", m.Code)
	assert.Equal(t, 1.0, m.Score)

	m = BestNoradMatch("Redd Barna", partners)
	require.NotNil(t, m)
	assert.Equal(t, "67890", m.Code)
}

func TestCountryHintToISO3(t *testing.T) {
	assert.Equal(t, "NOR", countryHintToISO3("Norway"))
	assert.Equal(t, "CHE", countryHintToISO3("Genève, Sveits"))
	assert.Equal(t, "KEN", countryHintToISO3("Nairobi, Kenya"))
	assert.Equal(t, "", countryHintToISO3("Atlantis"))
	assert.Equal(t, "", countryHintToISO3(""))
}
