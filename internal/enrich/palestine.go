package enrich

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bstandal/NorConnect/internal/model"
	"github.com/bstandal/NorConnect/internal/resolve"
	"github.com/bstandal/NorConnect/internal/runlog"
)

// Palestine loader tuning. Unresolved recipient names from UD's Palestine
// flows match against Norad agreement partners at a stricter floor than the
// general enrichers, and attached flows only gain a bounded confidence
// boost. Historical partner disbursements backfill at reduced confidence
// since the partner match, not the transaction, ties them to the recipient.
const (
	DefaultPalestineThreshold = 0.84
	DefaultPalestineStartYear = 1990

	palestineConfidenceBoost      = 0.12
	palestineMaxConfidence        = 0.98
	palestineHistoricalConfidence = 0.78

	palestineOrgType = "recipient_open_data"
)

// palestineHints mark names that are unmistakably about Palestine aid.
// A hinted name skips the fuzzy floor so transliteration-heavy spellings
// still land on their partner.
var palestineHints = []string{
	"palestin", "gaza", "west bank", "jerusalem", "hebron", "ramallah",
	"bethlehem", "nablus", "rafah", "khan yunis", "opt", "occupied palestinian",
}

// whitelist match reason; fuzzy and hint reasons come from resolve.
const reasonStrictWhitelist = "strict_whitelist"

// PalestineStore is the persistence surface the Palestine loader needs on
// top of the shared enricher store.
type PalestineStore interface {
	Store
	FetchPalestineFundingRows(ctx context.Context) ([]model.PalestineFlowRow, error)
	UpsertEntity(ctx context.Context, kind resolve.Kind, name string, attrs map[string]any) (int64, bool, error)
	RegisterAlias(ctx context.Context, kind resolve.Kind, entityID int64, alias, sourceSystem string) error
	AttachFlowRecipient(ctx context.Context, recipientNameRaw string, orgID int64, confidenceBoost, maxConfidence float64) (int64, error)
	LinkOrganizationSource(ctx context.Context, organizationID, sourceDocumentID int64, relationType string) error
}

// PalestineOptions bound a loader run. Zero values fall back to the
// defaults; a zero EndYear asks the Norad API for its latest data year.
type PalestineOptions struct {
	WhitelistPath string
	Threshold     float64
	StartYear     int
	EndYear       int
}

// whitelistEntry is one curated recipient-to-partner mapping. Whitelisted
// names bypass fuzzy matching entirely.
type whitelistEntry struct {
	PartnerSID  string
	PartnerName string
	IATIName    string
}

// PalestineLoader resolves the external recipients of UD's Palestine
// funding onto canonical organizations, matching their IATI names against
// Norad agreement partners, and backfills each matched partner's historical
// disbursements.
type PalestineLoader struct {
	client *NoradClient
	store  PalestineStore
	runs   RunLog
}

// NewPalestineLoader wires a Palestine recipient loader.
func NewPalestineLoader(client *NoradClient, store PalestineStore, runs RunLog) *PalestineLoader {
	return &PalestineLoader{client: client, store: store, runs: runs}
}

// Run matches the unresolved recipient names of Palestine flows against
// agreement partners, creates canonical organizations for the matches,
// attaches the flows, and backfills partner history. Reruns are idempotent:
// organizations and aliases upsert, attached flows stop matching the
// unresolved filter, and historical flows dedupe on composite identity.
func (l *PalestineLoader) Run(ctx context.Context, opts PalestineOptions) (string, runlog.Counters, error) {
	if opts.Threshold == 0 {
		opts.Threshold = DefaultPalestineThreshold
	}
	if opts.StartYear == 0 {
		opts.StartYear = DefaultPalestineStartYear
	}
	if opts.EndYear == 0 {
		latest, err := l.client.LatestDataYear(ctx)
		if err != nil {
			return "", nil, err
		}
		opts.EndYear = latest
	}

	whitelist, err := loadPalestineWhitelist(opts.WhitelistPath)
	if err != nil {
		return "", nil, err
	}

	flowRows, err := l.store.FetchPalestineFundingRows(ctx)
	if err != nil {
		return "", nil, err
	}
	recipients := unresolvedRecipients(flowRows)

	partners, err := l.client.Partners(ctx)
	if err != nil {
		return "", nil, err
	}
	matcher, partnersByCode := palestineMatcher(partners)

	runID, err := l.runs.Start(ctx, "enrich_palestine")
	if err != nil {
		return "", nil, err
	}
	counters := runlog.Counters{
		"flow_rows":             int64(len(flowRows)),
		"unresolved_recipients": int64(len(recipients)),
	}

	for _, rec := range recipients {
		match := matchRecipient(rec.name, matcher, whitelist, partnersByCode, opts.Threshold)
		if match == nil {
			continue
		}
		counters.Inc("matches")
		if match.reason == reasonStrictWhitelist {
			counters.Inc("whitelist_matches")
		}
		if match.reason == resolve.ReasonHintKeyword {
			counters.Inc("hint_matches")
		}

		if err := l.loadRecipient(ctx, rec, match, opts, counters); err != nil {
			_ = l.runs.Fail(ctx, runID, counters, err.Error())
			return runID, counters, err
		}
	}

	if err := l.runs.Complete(ctx, runID, counters); err != nil {
		return runID, counters, err
	}
	zap.L().Info("palestine recipient load complete",
		zap.String("run_id", runID),
		zap.Int64("unresolved_recipients", counters["unresolved_recipients"]),
		zap.Int64("matches", counters["matches"]),
		zap.Int64("flows_attached", counters["flows_attached"]),
		zap.Int64("historical_rows", counters["historical_rows"]),
	)
	return runID, counters, nil
}

// recipientRef is one distinct unresolved recipient name with the IATI
// resource it was first seen in.
type recipientRef struct {
	name        string
	resourceURL string
}

// unresolvedRecipients collects the distinct raw recipient names of flows
// without a resolved organization, sorted for deterministic runs.
func unresolvedRecipients(rows []model.PalestineFlowRow) []recipientRef {
	byName := make(map[string]recipientRef)
	for _, row := range rows {
		if row.RecipientOrgID != nil || row.RecipientNameRaw == nil {
			continue
		}
		name := strings.TrimSpace(*row.RecipientNameRaw)
		if name == "" {
			continue
		}
		if _, ok := byName[name]; ok {
			continue
		}
		ref := recipientRef{name: name}
		if row.ResourceURL != nil {
			ref.resourceURL = *row.ResourceURL
		}
		byName[name] = ref
	}

	out := make([]recipientRef, 0, len(byName))
	for _, ref := range byName {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// palestineMatcher builds the hinted partner matcher and a code lookup.
func palestineMatcher(partners []NoradPartner) (*resolve.Matcher, map[string]NoradPartner) {
	byCode := make(map[string]NoradPartner, len(partners))
	candidates := make([]resolve.Candidate, 0, len(partners))
	for _, p := range partners {
		code := strconv.Itoa(*p.Code)
		byCode[code] = p
		candidates = append(candidates, resolve.Candidate{
			ID:       int64(*p.Code),
			Name:     p.English,
			Variants: []string{p.Norwegian},
		})
	}
	return resolve.NewMatcher(candidates, resolve.MatcherOptions{HintKeywords: palestineHints}), byCode
}

// recipientMatch is one accepted recipient-to-partner mapping.
type recipientMatch struct {
	partnerSID  string
	partnerName string
	score       float64
	reason      string
}

func matchRecipient(name string, matcher *resolve.Matcher, whitelist map[string]whitelistEntry, partners map[string]NoradPartner, threshold float64) *recipientMatch {
	if entry, ok := whitelist[resolve.NormalizeName(name)]; ok {
		partnerName := entry.PartnerName
		if p, ok := partners[entry.PartnerSID]; ok && partnerName == "" {
			partnerName = p.English
		}
		return &recipientMatch{
			partnerSID:  entry.PartnerSID,
			partnerName: partnerName,
			score:       1.0,
			reason:      reasonStrictWhitelist,
		}
	}

	best := matcher.Best(name)
	if best == nil || best.Score < threshold {
		return nil
	}
	return &recipientMatch{
		partnerSID:  strconv.FormatInt(best.CandidateID, 10),
		partnerName: best.Name,
		score:       best.Score,
		reason:      best.Reason,
	}
}

// loadRecipient creates the canonical organization for one matched
// recipient, attaches its unresolved flows, and backfills the partner's
// historical disbursements.
func (l *PalestineLoader) loadRecipient(ctx context.Context, rec recipientRef, match *recipientMatch, opts PalestineOptions, counters runlog.Counters) error {
	notes := fmt.Sprintf("Palestina-mottaker '%s' -> partner '%s' (score=%.3f, reason=%s)",
		rec.name, match.partnerName, match.score, match.reason)
	orgID, created, err := l.store.UpsertEntity(ctx, resolve.KindOrganization, rec.name, map[string]any{
		"org_type": palestineOrgType,
		"notes":    notes,
	})
	if err != nil {
		return err
	}
	if created {
		counters.Inc("organizations_created")
	}

	// The learned spellings: the IATI recipient name, the partner's display
	// name, and the bare partner code for registry lookups.
	if err := l.store.RegisterAlias(ctx, resolve.KindOrganization, orgID, rec.name, "palestine_iati"); err != nil {
		return err
	}
	if err := l.store.RegisterAlias(ctx, resolve.KindOrganization, orgID, match.partnerName, "palestine_iati_ref"); err != nil {
		return err
	}
	if err := l.store.RegisterAlias(ctx, resolve.KindOrganization, orgID, match.partnerSID, "norad_partnercode"); err != nil {
		return err
	}

	attached, err := l.store.AttachFlowRecipient(ctx, rec.name, orgID, palestineConfidenceBoost, palestineMaxConfidence)
	if err != nil {
		return err
	}
	counters.Add("flows_attached", attached)

	if rec.resourceURL != "" {
		docID, err := l.store.UpsertSourceDocument(ctx, model.SourceDocument{
			URL:        rec.resourceURL,
			SourceName: strPtr("iati-registry"),
			DocType:    strPtr("xml"),
		})
		if err != nil {
			return err
		}
		if err := l.store.LinkOrganizationSource(ctx, orgID, docID, "recipient_reference"); err != nil {
			return err
		}
	}

	return l.backfillHistory(ctx, orgID, match, opts, counters)
}

// backfillHistory records the partner's yearly disbursements since the
// start year as reduced-confidence flows onto the recipient organization.
func (l *PalestineLoader) backfillHistory(ctx context.Context, orgID int64, match *recipientMatch, opts PalestineOptions, counters runlog.Counters) error {
	rows, sourceURL, err := l.client.Money(ctx, match.partnerSID, opts.StartYear, opts.EndYear)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	docID, err := l.store.UpsertSourceDocument(ctx, model.SourceDocument{
		URL:        sourceURL,
		SourceName: strPtr("norad-resultatportal-api"),
		DocType:    strPtr("api"),
	})
	if err != nil {
		return err
	}
	if err := l.store.LinkOrganizationSource(ctx, orgID, docID, "partner_registry"); err != nil {
		return err
	}

	donorCountry := "NO"
	channel := "NORAD historical partner_sid=" + match.partnerSID
	notes := fmt.Sprintf("Historisk utbetaling til partner '%s' (sid=%s)", match.partnerName, match.partnerSID)

	for _, row := range rows {
		if row.DataYear == nil || row.DisbursementEarmarkedNOK == nil || *row.DisbursementEarmarkedNOK <= 0 {
			continue
		}
		flowID, _, err := l.store.UpsertCompositeFundingFlow(ctx, model.FundingFlow{
			DonorCountryCode: &donorCountry,
			RecipientOrgID:   &orgID,
			FiscalYear:       row.DataYear,
			AmountNOK:        row.DisbursementEarmarkedNOK,
			FundingChannel:   &channel,
			Confidence:       palestineHistoricalConfidence,
			Notes:            &notes,
		})
		if err != nil {
			return err
		}
		counters.Inc("historical_rows")

		if err := l.store.LinkFundingSource(ctx, flowID, docID, "norad_api"); err != nil {
			return err
		}
	}
	return nil
}

// loadPalestineWhitelist reads the curated recipient mapping CSV. The file
// carries a header with partner_sid, partner_name, and matched_iati_name
// columns; entries key on the normalized IATI name. An empty path means no
// whitelist.
func loadPalestineWhitelist(path string) (map[string]whitelistEntry, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: open palestine whitelist")
	}
	defer f.Close() //nolint:errcheck
	return parsePalestineWhitelist(f)
}

func parsePalestineWhitelist(r io.Reader) (map[string]whitelistEntry, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "enrich: read palestine whitelist header")
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"partner_sid", "partner_name", "matched_iati_name"} {
		if _, ok := col[required]; !ok {
			return nil, eris.Errorf("enrich: palestine whitelist misses column %q", required)
		}
	}

	out := make(map[string]whitelistEntry)
	for {
		record, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, eris.Wrap(err, "enrich: read palestine whitelist row")
		}
		entry := whitelistEntry{
			PartnerSID:  strings.TrimSpace(record[col["partner_sid"]]),
			PartnerName: strings.TrimSpace(record[col["partner_name"]]),
			IATIName:    strings.TrimSpace(record[col["matched_iati_name"]]),
		}
		if entry.PartnerSID == "" || entry.IATIName == "" {
			continue
		}
		out[resolve.NormalizeName(entry.IATIName)] = entry
	}
}
