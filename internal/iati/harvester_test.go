package iati

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
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

// fakeStaging captures staged rows, deduplicating on event key like the
// store does.
type fakeStaging struct {
	mu   sync.Mutex
	rows []model.IATITransaction
	keys map[string]struct{}
}

func (f *fakeStaging) InsertIATITransactions(_ context.Context, rows []model.IATITransaction) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys == nil {
		f.keys = make(map[string]struct{})
	}
	var n int64
	for _, r := range rows {
		key := r.IngestRunID + "|" + r.EventKey
		if _, ok := f.keys[key]; ok {
			continue
		}
		f.keys[key] = struct{}{}
		f.rows = append(f.rows, r)
		n++
	}
	return n, nil
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

func TestHarvester_Run(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/organization_list", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(organizationListResponse{
			Success: true,
			Result: []RegistryOrg{
				{PublisherIATIID: "NO-GOV-1", PublisherCountry: "NO", PackageCount: 1},
			},
		})
	})
	var srvURL string
	mux.HandleFunc("/package_search", func(w http.ResponseWriter, _ *http.Request) {
		resp := packageSearchResponse{Success: true}
		resp.Result.Count = 1
		resp.Result.Results = []Package{{
			Name:            "norad-activities",
			PublisherIATIID: "NO-GOV-1",
			Resources: []Resource{
				{Format: "IATI-XML", URL: srvURL + "/norad.xml"},
				{Format: "IATI-XML", URL: srvURL + "/broken.xml"},
			},
		}}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/norad.xml", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.Copy(w, strings.NewReader(sampleActivityXML))
	})
	mux.HandleFunc("/broken.xml", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<iati-activities><iati-activity><unclosed"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	registry := newTestRegistry(t, mux)
	staging := &fakeStaging{}
	runs := &fakeRunLog{}
	h := NewHarvester(registry, registry.dl, staging, runs)

	runID, counters, err := h.Run(context.Background(), HarvestOptions{
		DiscoverNorwegian: true,
		Workers:           2,
	})
	require.NoError(t, err)
	assert.Equal(t, "run-1", runID)

	assert.Equal(t, int64(1), counters["publishers"])
	assert.Equal(t, int64(2), counters["resources_attempted"])
	assert.Equal(t, int64(1), counters["resources_failed"])
	assert.Equal(t, int64(2), counters["staged"])
	assert.NotNil(t, runs.completed)
	assert.Empty(t, runs.failed)

	require.Len(t, staging.rows, 2)
	for _, row := range staging.rows {
		assert.Equal(t, "run-1", row.IngestRunID)
	}
}

func TestHarvester_MaxActivitiesStopsScan(t *testing.T) {
	var sb strings.Builder
	sb.WriteString(`<iati-activities version="2.03">`)
	for i := range 5 {
		sb.WriteString(`<iati-activity default-currency="NOK">
			<iati-identifier>NO-GOV-1-ACT-` + strconv.Itoa(i) + `</iati-identifier>
			<transaction>
				<transaction-type code="3"/>
				<transaction-date iso-date="2022-03-01"/>
				<value>1000</value>
			</transaction>
		</iati-activity>`)
	}
	sb.WriteString(`</iati-activities>`)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.Copy(w, strings.NewReader(sb.String()))
	}))
	defer srv.Close()

	registry := newTestRegistry(t, http.NewServeMux())
	staging := &fakeStaging{}
	h := NewHarvester(registry, registry.dl, staging, &fakeRunLog{})

	seen, staged, err := h.harvestResource(context.Background(), "run-1", ResourceMeta{
		ResourceURL: srv.URL + "/many.xml",
	}, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), seen)
	assert.Equal(t, int64(2), staged)
	require.Len(t, staging.rows, 2)
	assert.Equal(t, "NO-GOV-1-ACT-0", staging.rows[0].ActivityIATIIdentifier)
	assert.Equal(t, "NO-GOV-1-ACT-1", staging.rows[1].ActivityIATIIdentifier)
}

func TestHarvester_Run_NoFilters(t *testing.T) {
	h := NewHarvester(nil, nil, &fakeStaging{}, &fakeRunLog{})
	_, _, err := h.Run(context.Background(), HarvestOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no registry filters")
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, dedupe([]string{"a", "", "b", "a"}))
	assert.Empty(t, dedupe(nil))
}
