package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bstandal/NorConnect/internal/curated"
	"github.com/bstandal/NorConnect/internal/model"
	"github.com/bstandal/NorConnect/internal/resolve"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeStore struct {
	pingErr   error
	persons   []model.Person
	roles     []model.RoleRow
	funding   []model.FundingRow
	links     []model.PersonLinkRow
	palestine []model.PalestineFlowRow
	fetchErr  error
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) ListPersons(context.Context) ([]model.Person, error) {
	return f.persons, f.fetchErr
}

func (f *fakeStore) FetchRoleRows(context.Context) ([]model.RoleRow, error) {
	return f.roles, f.fetchErr
}

func (f *fakeStore) FetchRoleRow(_ context.Context, id int64) (*model.RoleRow, error) {
	for i := range f.roles {
		if f.roles[i].RoleEventID == id {
			return &f.roles[i], nil
		}
	}
	return nil, nil
}

func (f *fakeStore) FetchFundingRows(context.Context) ([]model.FundingRow, error) {
	return f.funding, f.fetchErr
}

func (f *fakeStore) FetchFundingRow(_ context.Context, id int64) (*model.FundingRow, error) {
	for i := range f.funding {
		if f.funding[i].FlowID == id {
			return &f.funding[i], nil
		}
	}
	return nil, nil
}

func (f *fakeStore) FetchPersonLinkRows(context.Context) ([]model.PersonLinkRow, error) {
	return f.links, f.fetchErr
}

func (f *fakeStore) FetchPalestineFundingRows(context.Context) ([]model.PalestineFlowRow, error) {
	return f.palestine, f.fetchErr
}

func intP(v int) *int           { return &v }
func int64P(v int64) *int64     { return &v }
func strP(s string) *string     { return &s }
func floatP(v float64) *float64 { return &v }

func testStore() *fakeStore {
	start := time.Date(2013, time.October, 16, 0, 0, 0, 0, time.UTC)
	return &fakeStore{
		persons: []model.Person{
			{ID: 1, FullName: "Børge Brende", NormalizedName: resolve.NormalizeName("Børge Brende")},
		},
		roles: []model.RoleRow{{
			RoleEventID: 1, PersonID: 1, PersonName: "Børge Brende",
			OrganizationID: 2, OrganizationName: "Utenriksdepartementet",
			RoleTitle: "Utenriksminister", StartOn: &start, Confidence: 0.9,
			Sources: []model.SourceRef{{URL: "https://regjeringen.no/ud"}},
		}},
		funding: []model.FundingRow{{
			FlowID:         2,
			RecipientOrgID: int64P(3), RecipientOrgName: strP("UNICEF"),
			FiscalYear: intP(2020), AmountNOK: floatP(1_000_000),
			FundingChannel: strP("IATI transaction type 3"), Confidence: 0.95,
		}},
		palestine: []model.PalestineFlowRow{{
			FlowID:           7,
			RecipientNameRaw: strP("Palestinian Medical Relief Society"),
			AmountNOK:        floatP(750_000),
			TransactionDate:  &start,
			FiscalYear:       intP(2013),
			ActivityTitle:    strP("Helsehjelp Gaza"),
			Confidence:       0.9,
		}},
	}
}

func testProfiles(t *testing.T) *curated.Set {
	t.Helper()
	set, err := curated.DefaultSet()
	require.NoError(t, err)
	return set
}

func get(t *testing.T, handler http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload
}

func TestHealth(t *testing.T) {
	store := testStore()
	router := New(store, testProfiles(t)).Router()

	rec := get(t, router, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	store.pingErr = errors.New("down")
	rec = get(t, router, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decode(t, rec)["status"])
}

func TestGraphEndpoint(t *testing.T) {
	router := New(testStore(), testProfiles(t)).Router()

	rec := get(t, router, "/api/graph?year_from=2019&year_to=2021&q=unicef")
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decode(t, rec)

	edges := payload["edges"].([]any)
	require.Len(t, edges, 1)
	edge := edges[0].(map[string]any)
	assert.Equal(t, "funding:2", edge["id"])
	assert.Equal(t, "1.0 mill", edge["label"])

	stats := payload["stats"].(map[string]any)
	assert.Equal(t, float64(1), stats["funding_edges"])
	assert.Equal(t, float64(0), stats["role_edges"])
}

func TestGraphEndpoint_BadYear(t *testing.T) {
	router := New(testStore(), testProfiles(t)).Router()
	rec := get(t, router, "/api/graph?year_from=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGraphEndpoint_StoreError(t *testing.T) {
	store := testStore()
	store.fetchErr = errors.New("boom")
	router := New(store, testProfiles(t)).Router()

	rec := get(t, router, "/api/graph")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestTimelineEndpoint(t *testing.T) {
	router := New(testStore(), testProfiles(t)).Router()

	rec := get(t, router, "/api/timeline")
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decode(t, rec)
	assert.Equal(t, []any{float64(2013), float64(2020)}, payload["years"].([]any))
}

func TestToplistsEndpoint(t *testing.T) {
	router := New(testStore(), testProfiles(t)).Router()

	rec := get(t, router, "/api/toplists")
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decode(t, rec)
	top := payload["org_funding_top"].([]any)
	require.Len(t, top, 1)
	assert.Equal(t, "UNICEF", top[0].(map[string]any)["org_name"])
}

func TestCoboardEndpoint(t *testing.T) {
	router := New(testStore(), testProfiles(t)).Router()

	rec := get(t, router, "/api/coboard")
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decode(t, rec)
	// One person at one org: no co-occurrence pairs.
	assert.Empty(t, payload["edges"])
}

func TestDrilldownEndpoint(t *testing.T) {
	router := New(testStore(), testProfiles(t)).Router()

	rec := get(t, router, "/api/person-drilldown?person_key=borge-brende")
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decode(t, rec)

	person := payload["person"].(map[string]any)
	assert.Equal(t, "borge-brende", person["key"])
	// The canonical person matched by name, so the dataset role shows up.
	stats := payload["stats"].(map[string]any)
	assert.GreaterOrEqual(t, stats["dataset_edges"].(float64), float64(1))

	// Missing person_key falls back to the default profile.
	rec = get(t, router, "/api/person-drilldown")
	require.Equal(t, http.StatusOK, rec.Code)
	person = decode(t, rec)["person"].(map[string]any)
	assert.Equal(t, "torbjorn-jagland", person["key"])
}

func TestUDPalestinaEndpoint(t *testing.T) {
	router := New(testStore(), testProfiles(t)).Router()

	rec := get(t, router, "/api/ud-palestina")
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decode(t, rec)

	edges := payload["edges"].([]any)
	require.Len(t, edges, 1)
	edge := edges[0].(map[string]any)
	assert.Equal(t, "funding:7", edge["id"])
	assert.Equal(t, "ud:source", edge["from"])
	assert.Equal(t, "Helsehjelp Gaza", edge["title"])

	top := payload["top_recipients"].([]any)
	require.Len(t, top, 1)
	assert.Equal(t, "Palestinian Medical Relief Society", top[0].(map[string]any)["name"])

	latest := payload["latest_transactions"].([]any)
	require.Len(t, latest, 1)
	assert.Equal(t, "2013-10-16", latest[0].(map[string]any)["date"])

	stats := payload["stats"].(map[string]any)
	assert.Equal(t, float64(1), stats["funding_edges"])
	assert.Equal(t, float64(1), stats["recipients"])
	assert.Equal(t, false, stats["funding_edges_truncated"])
}

func TestUDPalestinaEndpoint_EdgeCapBounds(t *testing.T) {
	router := New(testStore(), testProfiles(t)).Router()

	rec := get(t, router, "/api/ud-palestina?max_funding_edges=50")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, router, "/api/ud-palestina?max_funding_edges=10")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(t, router, "/api/ud-palestina?max_funding_edges=20000")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(t, router, "/api/ud-palestina?max_funding_edges=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUDPalestinaEndpoint_StoreError(t *testing.T) {
	store := testStore()
	store.fetchErr = errors.New("boom")
	router := New(store, testProfiles(t)).Router()

	rec := get(t, router, "/api/ud-palestina")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestEdgeEndpoint(t *testing.T) {
	router := New(testStore(), testProfiles(t)).Router()

	rec := get(t, router, "/api/edge/role:1")
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decode(t, rec)
	assert.Equal(t, "role", payload["kind"])
	assert.Equal(t, "Utenriksminister", payload["title"])
	assert.Equal(t, "Børge Brende -> Utenriksdepartementet", payload["summary"])
	metadata := payload["metadata"].(map[string]any)
	assert.Equal(t, "2013-10-16", metadata["start_on"])

	rec = get(t, router, "/api/edge/funding:2")
	require.Equal(t, http.StatusOK, rec.Code)
	payload = decode(t, rec)
	assert.Equal(t, "Norge -> UNICEF", payload["summary"])
	assert.Equal(t, "1.0 mill", payload["metadata"].(map[string]any)["amount"])

	rec = get(t, router, "/api/edge/role:999")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(t, router, "/api/edge/funding:abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(t, router, "/api/edge/mystery:1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
