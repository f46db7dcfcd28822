package enrich

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/bstandal/NorConnect/internal/fetcher"
	"github.com/bstandal/NorConnect/internal/model"
	"github.com/bstandal/NorConnect/internal/runlog"
)

// DefaultNoradBaseURL is the public results-portal API gateway.
const DefaultNoradBaseURL = "https://apim-br-online-prod.azure-api.net/resultatportal-prod-api-dotnet"

// NoradPartner is one level-2 agreement partner from the partner-code list.
type NoradPartner struct {
	Code      *int   `json:"code"`
	English   string `json:"english"`
	Norwegian string `json:"norwegian"`
}

// NoradMoneyRow is one disbursement data point per partner and year.
type NoradMoneyRow struct {
	DataYear                 *int     `json:"data_year"`
	DisbursementEarmarkedNOK *float64 `json:"disbursement_earmarked_nok"`
}

// NoradClient calls the results-portal API. The function key travels as a
// request header on the downloader.
type NoradClient struct {
	dl      Downloader
	baseURL string
}

// NewNoradClient wires a Norad API client. baseURL falls back to the public
// gateway.
func NewNoradClient(dl Downloader, baseURL string) *NoradClient {
	if baseURL == "" {
		baseURL = DefaultNoradBaseURL
	}
	return &NoradClient{dl: dl, baseURL: strings.TrimRight(baseURL, "/")}
}

func noradCollect[T any](ctx context.Context, c *NoradClient, path string, params url.Values) ([]T, error) {
	rawURL := c.baseURL + path
	if len(params) > 0 {
		rawURL += "?" + params.Encode()
	}
	body, err := c.dl.Download(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck

	return fetcher.DecodeJSONArray[T](body)
}

// Partners lists level-2 agreement partners. Entries without a code or an
// English name are dropped; a missing Norwegian name mirrors the English.
func (c *NoradClient) Partners(ctx context.Context) ([]NoradPartner, error) {
	params := url.Values{"level": {"2"}}
	raw, err := noradCollect[NoradPartner](ctx, c, "/partnercode", params)
	if err != nil {
		return nil, err
	}
	partners := make([]NoradPartner, 0, len(raw))
	for _, p := range raw {
		p.English = strings.TrimSpace(p.English)
		p.Norwegian = strings.TrimSpace(p.Norwegian)
		if p.Code == nil || p.English == "" {
			continue
		}
		if p.Norwegian == "" {
			p.Norwegian = p.English
		}
		partners = append(partners, p)
	}
	return partners, nil
}

// LatestDataYear reports the newest year with historic data, or 0 when the
// endpoint returns nothing.
func (c *NoradClient) LatestDataYear(ctx context.Context) (int, error) {
	type row struct {
		LatestHistoricDataYear *int `json:"latest_historic_data_year"`
	}
	rows, err := noradCollect[row](ctx, c, "/latestdatayear", nil)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 || rows[0].LatestHistoricDataYear == nil {
		return 0, nil
	}
	return *rows[0].LatestHistoricDataYear, nil
}

// moneyURL builds the per-partner disbursement query, also recorded as the
// source-document URL.
func (c *NoradClient) moneyURL(partnerSID string, startYear, endYear int) string {
	params := url.Values{
		"selection":             {"data_year"},
		"agreement_partner_sid": {partnerSID},
		"from_year":             {strconv.Itoa(startYear)},
		"to_year":               {strconv.Itoa(endYear)},
	}
	return c.baseURL + "/money?" + params.Encode()
}

// Money lists yearly earmarked disbursements for one agreement partner.
func (c *NoradClient) Money(ctx context.Context, partnerSID string, startYear, endYear int) ([]NoradMoneyRow, string, error) {
	rawURL := c.moneyURL(partnerSID, startYear, endYear)
	body, err := c.dl.Download(ctx, rawURL)
	if err != nil {
		return nil, rawURL, err
	}
	defer body.Close() //nolint:errcheck

	rows, err := fetcher.DecodeJSONArray[NoradMoneyRow](body)
	if err != nil {
		return nil, rawURL, err
	}
	return rows, rawURL, nil
}

// BestNoradMatch scores an organization name against every partner's name
// variants (English, Norwegian, and acronym-stripped forms) and returns the
// highest-scoring partner.
func BestNoradMatch(orgName string, partners []NoradPartner) *MatchResult {
	codes := make([]string, 0, len(partners))
	variants := make(map[string][]string, len(partners))
	names := make(map[string]string, len(partners))
	for _, p := range partners {
		code := strconv.Itoa(*p.Code)
		codes = append(codes, code)
		variants[code] = nameVariants(p.English, p.Norwegian)
		names[code] = p.English
	}
	return bestVariantMatch(orgName, codes, variants, names)
}

// NoradOptions bound one enrichment pass.
type NoradOptions struct {
	StartYear int
	// EndYear falls back to the API's latest data year.
	EndYear   int
	Threshold float64
}

// NoradEnricher matches canonical organizations against Norad agreement
// partners and records their yearly disbursements as funding flows.
type NoradEnricher struct {
	client *NoradClient
	store  Store
	runs   RunLog
}

// NewNoradEnricher wires a Norad enricher.
func NewNoradEnricher(client *NoradClient, store Store, runs RunLog) *NoradEnricher {
	return &NoradEnricher{client: client, store: store, runs: runs}
}

// Run enriches every canonical organization that matches an agreement
// partner at or above the threshold. Flows dedupe on their composite
// identity, so reruns only fill missing notes.
func (e *NoradEnricher) Run(ctx context.Context, opts NoradOptions) (string, runlog.Counters, error) {
	if opts.StartYear == 0 {
		opts.StartYear = 2010
	}
	if opts.Threshold == 0 {
		opts.Threshold = DefaultNoradThreshold
	}
	if opts.EndYear == 0 {
		latest, err := e.client.LatestDataYear(ctx)
		if err != nil {
			return "", nil, err
		}
		opts.EndYear = latest
	}

	orgs, err := e.store.ListOrganizations(ctx)
	if err != nil {
		return "", nil, err
	}
	partners, err := e.client.Partners(ctx)
	if err != nil {
		return "", nil, err
	}

	runID, err := e.runs.Start(ctx, "enrich_norad")
	if err != nil {
		return "", nil, err
	}
	counters := runlog.Counters{}

	for _, org := range orgs {
		match := BestNoradMatch(org.Name, partners)
		if match == nil || match.Score < opts.Threshold {
			continue
		}
		counters.Inc("matches")

		if err := e.enrichOrganization(ctx, org, match, opts, counters); err != nil {
			_ = e.runs.Fail(ctx, runID, counters, err.Error())
			return runID, counters, err
		}
	}

	if err := e.runs.Complete(ctx, runID, counters); err != nil {
		return runID, counters, err
	}
	zap.L().Info("norad enrichment complete",
		zap.String("run_id", runID),
		zap.Int64("matches", counters["matches"]),
		zap.Int64("funding_rows", counters["funding_rows"]),
	)
	return runID, counters, nil
}

func (e *NoradEnricher) enrichOrganization(ctx context.Context, org model.Organization, match *MatchResult, opts NoradOptions, counters runlog.Counters) error {
	rows, sourceURL, err := e.client.Money(ctx, match.Code, opts.StartYear, opts.EndYear)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	docID, err := e.store.UpsertSourceDocument(ctx, model.SourceDocument{
		URL:        sourceURL,
		SourceName: strPtr("norad-resultatportal-api"),
		DocType:    strPtr("api"),
	})
	if err != nil {
		return err
	}

	donorCountry := "NO"
	channel := "NORAD partner_sid=" + match.Code
	notes := fmt.Sprintf("Norad match '%s' -> '%s' (score=%.3f)", org.Name, match.Name, match.Score)

	for _, row := range rows {
		if row.DataYear == nil || row.DisbursementEarmarkedNOK == nil || *row.DisbursementEarmarkedNOK <= 0 {
			continue
		}
		flowID, _, err := e.store.UpsertCompositeFundingFlow(ctx, model.FundingFlow{
			DonorCountryCode: &donorCountry,
			RecipientOrgID:   &org.ID,
			FiscalYear:       row.DataYear,
			AmountNOK:        row.DisbursementEarmarkedNOK,
			FundingChannel:   &channel,
			Confidence:       enrichConfidence,
			Notes:            &notes,
		})
		if err != nil {
			return err
		}
		counters.Inc("funding_rows")

		if err := e.store.LinkFundingSource(ctx, flowID, docID, "norad_api"); err != nil {
			return err
		}
		counters.Inc("source_links")
	}
	return nil
}
