package enrich

import (
	"bufio"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bstandal/NorConnect/internal/model"
	"github.com/bstandal/NorConnect/internal/runlog"
)

// DefaultOECDBaseURL is the public SDMX REST endpoint.
const DefaultOECDBaseURL = "https://sdmx.oecd.org/public/rest"

// dac2aFlow is the DAC2A dataflow identity used in every query.
const dac2aFlow = "OECD.DCD.FSD,DSD_DAC2@DF_DAC2A,1.4"

// ObsPoint is one yearly observation, already scaled by the series unit
// multiplier.
type ObsPoint struct {
	Year      int
	AmountUSD float64
}

// OECDClient reads the DAC2A dataset over SDMX-ML.
type OECDClient struct {
	dl      Downloader
	baseURL string
}

// NewOECDClient wires an OECD SDMX client. baseURL falls back to the public
// endpoint.
func NewOECDClient(dl Downloader, baseURL string) *OECDClient {
	if baseURL == "" {
		baseURL = DefaultOECDBaseURL
	}
	return &OECDClient{dl: dl, baseURL: strings.TrimRight(baseURL, "/")}
}

// RecipientCodes lists the recipient dimension values the dataset actually
// covers.
func (c *OECDClient) RecipientCodes(ctx context.Context) (map[string]struct{}, error) {
	body, err := c.dl.Download(ctx, c.baseURL+"/availableconstraint/"+dac2aFlow)
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck

	r, empty := sdmxBody(body)
	if empty {
		return map[string]struct{}{}, nil
	}
	return ParseRecipientCodes(r)
}

// AreaOrgNames maps CL_AREA_ORG codes to their English display names.
func (c *OECDClient) AreaOrgNames(ctx context.Context) (map[string]string, error) {
	body, err := c.dl.Download(ctx, c.baseURL+"/datastructure/OECD.DCD.FSD/DSD_DAC2/1.5?references=all")
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck

	r, empty := sdmxBody(body)
	if empty {
		return map[string]string{}, nil
	}
	return ParseAreaOrgNames(r)
}

// dataURL builds the generic-data query for one series key, also recorded
// as the source-document URL.
func (c *OECDClient) dataURL(key string, startYear, endYear int) string {
	return fmt.Sprintf("%s/data/%s/%s?startPeriod=%d&endPeriod=%d", c.baseURL, dac2aFlow, key, startYear, endYear)
}

// Observations fetches and parses one series. A NoRecordsFound body yields
// an empty point list.
func (c *OECDClient) Observations(ctx context.Context, key string, startYear, endYear int) (int, []ObsPoint, string, error) {
	rawURL := c.dataURL(key, startYear, endYear)
	body, err := c.dl.Download(ctx, rawURL)
	if err != nil {
		return 0, nil, rawURL, err
	}
	defer body.Close() //nolint:errcheck

	r, empty := sdmxBody(body)
	if empty {
		return 0, nil, rawURL, nil
	}
	unitMult, points, err := ParseObservations(r)
	return unitMult, points, rawURL, err
}

// sdmxBody detects the plain-text "NoRecordsFound"/"NoResultsFound" replies
// the endpoint sends instead of an SDMX error document.
func sdmxBody(body io.Reader) (io.Reader, bool) {
	br := bufio.NewReader(body)
	prefix, _ := br.Peek(len("NoRecordsFound"))
	s := string(prefix)
	if strings.HasPrefix(s, "NoRecords") || strings.HasPrefix(s, "NoResults") {
		return nil, true
	}
	return br, false
}

func xmlAttr(el xml.StartElement, name string) string {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// ParseRecipientCodes extracts the RECIPIENT key values from an
// availableconstraint document. Element matching ignores namespaces.
func ParseRecipientCodes(r io.Reader) (map[string]struct{}, error) {
	dec := xml.NewDecoder(r)
	codes := make(map[string]struct{})

	inRecipient, inValue := false, false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "oecd: parse constraint")
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "KeyValue":
				inRecipient = xmlAttr(t, "id") == "RECIPIENT"
			case "Value":
				inValue = inRecipient
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "KeyValue":
				inRecipient = false
			case "Value":
				inValue = false
			}
		case xml.CharData:
			if inValue {
				if v := strings.TrimSpace(string(t)); v != "" {
					codes[v] = struct{}{}
				}
			}
		}
	}
	return codes, nil
}

// ParseAreaOrgNames extracts the CL_AREA_ORG codelist from a datastructure
// document, preferring English names.
func ParseAreaOrgNames(r io.Reader) (map[string]string, error) {
	dec := xml.NewDecoder(r)
	names := make(map[string]string)

	var (
		inCodelist  bool
		currentCode string
		lockedEN    bool
		inName      bool
		nameLang    string
		nameText    strings.Builder
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "oecd: parse codelist")
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "Codelist":
				inCodelist = xmlAttr(t, "id") == "CL_AREA_ORG"
			case "Code":
				if inCodelist {
					currentCode = xmlAttr(t, "id")
					lockedEN = false
				}
			case "Name":
				if inCodelist && currentCode != "" {
					inName = true
					nameLang = xmlAttr(t, "lang")
					nameText.Reset()
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "Codelist":
				inCodelist = false
			case "Code":
				currentCode = ""
			case "Name":
				if inName {
					text := strings.TrimSpace(nameText.String())
					if text != "" && !lockedEN {
						if _, ok := names[currentCode]; !ok || nameLang == "en" {
							names[currentCode] = text
						}
						if nameLang == "en" {
							lockedEN = true
						}
					}
					inName = false
				}
			}
		case xml.CharData:
			if inName {
				nameText.Write(t)
			}
		}
	}
	return names, nil
}

// ParseObservations reads the first generic-data series: its UNIT_MULT
// attribute and yearly observations, with amounts scaled by 10^UNIT_MULT.
func ParseObservations(r io.Reader) (int, []ObsPoint, error) {
	dec := xml.NewDecoder(r)

	var (
		inSeries bool
		done     bool
		unitMult int
		year     string
		amount   string
		points   []ObsPoint
	)
	for !done {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, nil, eris.Wrap(err, "oecd: parse data")
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "Series":
				inSeries = true
			case "Value":
				if inSeries && xmlAttr(t, "id") == "UNIT_MULT" {
					if m, err := strconv.Atoi(xmlAttr(t, "value")); err == nil {
						unitMult = m
					}
				}
			case "Obs":
				year, amount = "", ""
			case "ObsDimension":
				if inSeries {
					year = xmlAttr(t, "value")
				}
			case "ObsValue":
				if inSeries {
					amount = xmlAttr(t, "value")
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "Obs":
				if inSeries {
					y, yErr := strconv.Atoi(year)
					v, vErr := strconv.ParseFloat(amount, 64)
					if yErr == nil && vErr == nil {
						points = append(points, ObsPoint{Year: y, AmountUSD: v * math.Pow10(unitMult)})
					}
				}
			case "Series":
				// Only the first series matters for a fully-specified key.
				done = true
			}
		}
	}
	return unitMult, points, nil
}

// BestOECDMatch scores an organization name against every recipient code's
// display name, restricted to codes the dataset covers. Candidates are
// visited in sorted code order so ties resolve deterministically.
func BestOECDMatch(orgName string, recipientCodes map[string]struct{}, areaOrgNames map[string]string) *MatchResult {
	codes := make([]string, 0, len(areaOrgNames))
	variants := make(map[string][]string, len(areaOrgNames))
	for code, name := range areaOrgNames {
		if _, ok := recipientCodes[code]; !ok {
			continue
		}
		codes = append(codes, code)
		variants[code] = []string{name}
	}
	sort.Strings(codes)
	return bestVariantMatch(orgName, codes, variants, areaOrgNames)
}

// OECDOptions bound one enrichment pass.
type OECDOptions struct {
	StartYear int
	EndYear   int
	Threshold float64
}

// OECDEnricher attributes country-level DAC2A disbursements to canonical
// organizations: a fuzzy name match against the recipient codelist, with
// the organization's HQ country as the fallback proxy.
type OECDEnricher struct {
	client *OECDClient
	store  Store
	runs   RunLog
}

// NewOECDEnricher wires an OECD enricher.
func NewOECDEnricher(client *OECDClient, store Store, runs RunLog) *OECDEnricher {
	return &OECDEnricher{client: client, store: store, runs: runs}
}

// Run enriches organizations with DAC2A proxy flows. Flows dedupe on their
// composite identity, so reruns only fill missing notes.
func (e *OECDEnricher) Run(ctx context.Context, opts OECDOptions) (string, runlog.Counters, error) {
	if opts.StartYear == 0 {
		opts.StartYear = 2010
	}
	if opts.Threshold == 0 {
		opts.Threshold = DefaultOECDThreshold
	}

	orgs, err := e.store.ListOrganizations(ctx)
	if err != nil {
		return "", nil, err
	}
	recipientCodes, err := e.client.RecipientCodes(ctx)
	if err != nil {
		return "", nil, err
	}
	areaOrgNames, err := e.client.AreaOrgNames(ctx)
	if err != nil {
		return "", nil, err
	}

	runID, err := e.runs.Start(ctx, "enrich_oecd")
	if err != nil {
		return "", nil, err
	}
	counters := runlog.Counters{}

	for _, org := range orgs {
		match := e.matchOrg(org, recipientCodes, areaOrgNames, opts.Threshold)
		if match == nil {
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
	zap.L().Info("oecd enrichment complete",
		zap.String("run_id", runID),
		zap.Int64("matches", counters["matches"]),
		zap.Int64("funding_rows", counters["funding_rows"]),
	)
	return runID, counters, nil
}

// matchOrg picks the recipient code for one organization: the fuzzy name
// match when it clears the threshold, otherwise the HQ-country proxy with a
// zero score.
func (e *OECDEnricher) matchOrg(org model.Organization, recipientCodes map[string]struct{}, areaOrgNames map[string]string, threshold float64) *MatchResult {
	if m := BestOECDMatch(org.Name, recipientCodes, areaOrgNames); m != nil && m.Score >= threshold {
		return m
	}
	iso3 := countryHintToISO3(deref(org.CountryCode))
	if iso3 == "" {
		return nil
	}
	if _, ok := recipientCodes[iso3]; !ok {
		return nil
	}
	name := areaOrgNames[iso3]
	if name == "" {
		name = iso3
	}
	return &MatchResult{Score: 0, Code: iso3, Name: name}
}

func (e *OECDEnricher) enrichOrganization(ctx context.Context, org model.Organization, match *MatchResult, opts OECDOptions, counters runlog.Counters) error {
	key := fmt.Sprintf("NOR.%s.206.USD.V", match.Code)
	unitMult, points, sourceURL, err := e.client.Observations(ctx, key, opts.StartYear, opts.EndYear)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}

	docID, err := e.store.UpsertSourceDocument(ctx, model.SourceDocument{
		URL:        sourceURL,
		SourceName: strPtr("oecd-dac2a-api"),
		DocType:    strPtr("api"),
	})
	if err != nil {
		return err
	}

	donorCountry := "NO"
	currency := "USD"
	channel := "OECD DAC2A recipient proxy"
	notes := fmt.Sprintf("OECD DAC2A proxy recipient=%s (%s); unit_mult=%d; match_score=%.3f",
		match.Code, match.Name, unitMult, match.Score)

	for _, p := range points {
		year := p.Year
		amount := p.AmountUSD
		flowID, _, err := e.store.UpsertCompositeFundingFlow(ctx, model.FundingFlow{
			DonorCountryCode: &donorCountry,
			RecipientOrgID:   &org.ID,
			FiscalYear:       &year,
			AmountOriginal:   &amount,
			CurrencyCode:     &currency,
			FundingChannel:   &channel,
			Confidence:       enrichConfidence,
			Notes:            &notes,
		})
		if err != nil {
			return err
		}
		counters.Inc("funding_rows")

		if err := e.store.LinkFundingSource(ctx, flowID, docID, "oecd_dac2a_api"); err != nil {
			return err
		}
		counters.Inc("source_links")
	}
	return nil
}
