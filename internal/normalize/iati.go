// Package normalize turns staged source rows into canonical records:
// workbook staging rows become persons, organizations, role events, and
// manual funding flows; staged IATI transactions become idempotent funding
// flows keyed by their event identity.
package normalize

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/bstandal/NorConnect/internal/model"
	"github.com/bstandal/NorConnect/internal/resolve"
	"github.com/bstandal/NorConnect/internal/runlog"
)

// RunLog is the audit surface normalizers record runs in.
type RunLog interface {
	Start(ctx context.Context, sourceSystem string) (string, error)
	Complete(ctx context.Context, runID string, counters runlog.Counters) error
	Fail(ctx context.Context, runID string, counters runlog.Counters, errMsg string) error
}

// IATIStore is the store surface the IATI normalizer needs.
type IATIStore interface {
	ListOrganizations(ctx context.Context) ([]model.Organization, error)
	ListOrganizationAliases(ctx context.Context) ([]model.OrganizationAlias, error)
	ListIATITransactions(ctx context.Context, ingestRunID string) ([]model.IATITransaction, error)
	GetFlowIDByIngestKey(ctx context.Context, sourceSystem, eventKey string) (*int64, error)
	UpsertSourceDocument(ctx context.Context, doc model.SourceDocument) (int64, error)
	InsertFundingFlowWithKey(ctx context.Context, flow model.FundingFlow, key model.IngestKey, sourceDocumentID *int64, relationType string) (int64, error)
	RegisterAlias(ctx context.Context, kind resolve.Kind, entityID int64, alias, sourceSystem string) error
}

// IATIOptions bound one normalization pass.
type IATIOptions struct {
	// IngestRunID limits the pass to one harvest run; empty processes all
	// staged transactions.
	IngestRunID string
	// MaxRows caps processed rows. Zero means unlimited.
	MaxRows int
	// SourceSystem keys the funding ingest keys. Defaults to
	// IATISourceSystem.
	SourceSystem string
	// RecipientThreshold gates fuzzy organization mapping. Defaults to
	// DefaultRecipientThreshold.
	RecipientThreshold float64
}

const (
	// IATISourceSystem keys funding flows normalized from staged IATI
	// transactions.
	IATISourceSystem = "iati_registry"

	// DefaultRecipientThreshold is the fuzzy-match floor for mapping staged
	// receiver and provider names onto canonical organizations.
	DefaultRecipientThreshold = 0.84
)

// IATINormalizer maps staged IATI transactions onto funding flows. Each
// staged event normalizes at most once: the (source_system, event_key)
// ingest key suppresses duplicates across reruns.
type IATINormalizer struct {
	store IATIStore
	runs  RunLog
}

// NewIATINormalizer wires an IATI normalizer.
func NewIATINormalizer(store IATIStore, runs RunLog) *IATINormalizer {
	return &IATINormalizer{store: store, runs: runs}
}

// Run normalizes staged transactions and returns the run id and counters.
func (n *IATINormalizer) Run(ctx context.Context, opts IATIOptions) (string, runlog.Counters, error) {
	if opts.SourceSystem == "" {
		opts.SourceSystem = IATISourceSystem
	}
	if opts.RecipientThreshold == 0 {
		opts.RecipientThreshold = DefaultRecipientThreshold
	}

	lookup, err := n.buildLookup(ctx, opts.RecipientThreshold)
	if err != nil {
		return "", nil, err
	}

	staged, err := n.store.ListIATITransactions(ctx, opts.IngestRunID)
	if err != nil {
		return "", nil, err
	}

	runID, err := n.runs.Start(ctx, "normalize_iati")
	if err != nil {
		return "", nil, err
	}

	counters := runlog.Counters{}
	docIDByURL := make(map[string]int64)

	for _, row := range staged {
		if opts.MaxRows > 0 && counters["processed"] >= int64(opts.MaxRows) {
			break
		}
		counters.Inc("processed")

		existing, err := n.store.GetFlowIDByIngestKey(ctx, opts.SourceSystem, row.EventKey)
		if err != nil {
			_ = n.runs.Fail(ctx, runID, counters, err.Error())
			return runID, counters, err
		}
		if existing != nil {
			counters.Inc("skipped_existing")
			continue
		}

		docID, ok := docIDByURL[row.ResourceURL]
		if !ok {
			docID, err = n.store.UpsertSourceDocument(ctx, model.SourceDocument{
				URL:        row.ResourceURL,
				Title:      row.PackageName,
				SourceName: strPtr("iati-registry"),
				DocType:    strPtr("iati_xml"),
			})
			if err != nil {
				_ = n.runs.Fail(ctx, runID, counters, err.Error())
				return runID, counters, err
			}
			docIDByURL[row.ResourceURL] = docID
		}

		receiverRef := deref(row.ReceiverOrgRef)
		recipient, recipientMode, recipientOK := lookup.MapOrganization(receiverRef, deref(row.ReceiverOrgName))
		var recipientOrgID *int64
		var recipientNameRaw *string
		if recipientOK {
			counters.Inc("recipient_mapped")
			recipientOrgID = &recipient.ID
			if err := n.learnAlias(ctx, recipient.ID, receiverRef); err != nil {
				_ = n.runs.Fail(ctx, runID, counters, err.Error())
				return runID, counters, err
			}
		} else {
			raw := strings.TrimSpace(deref(row.ReceiverOrgName))
			if raw == "" {
				counters.Inc("skipped_no_recipient")
				continue
			}
			recipientMode = "none"
			recipientNameRaw = &raw
		}

		donorRef := deref(row.ProviderOrgRef)
		donorName := deref(row.ProviderOrgName)
		if donorRef == "" && donorName == "" {
			donorRef = deref(row.ReportingOrgRef)
			donorName = deref(row.ReportingOrgName)
		}
		donor, donorMode, donorOK := lookup.MapOrganization(donorRef, donorName)
		var donorOrgID *int64
		if donorOK {
			counters.Inc("donor_mapped")
			donorOrgID = &donor.ID
			if err := n.learnAlias(ctx, donor.ID, donorRef); err != nil {
				_ = n.runs.Fail(ctx, runID, counters, err.Error())
				return runID, counters, err
			}
		} else {
			donorMode = "none"
		}

		flow := buildIATIFlow(row, recipientOrgID, recipientNameRaw, donorOrgID, donorRef, recipientMode, donorMode)
		key := model.IngestKey{SourceSystem: opts.SourceSystem, EventKey: row.EventKey}
		if _, err := n.store.InsertFundingFlowWithKey(ctx, flow, key, &docID, "iati_xml"); err != nil {
			_ = n.runs.Fail(ctx, runID, counters, err.Error())
			return runID, counters, err
		}
		counters.Inc("flows_created")
	}

	if err := n.runs.Complete(ctx, runID, counters); err != nil {
		return runID, counters, err
	}
	zap.L().Info("iati normalization complete",
		zap.String("run_id", runID),
		zap.Int64("processed", counters["processed"]),
		zap.Int64("flows_created", counters["flows_created"]),
		zap.Int64("skipped_existing", counters["skipped_existing"]),
		zap.Int64("skipped_no_recipient", counters["skipped_no_recipient"]),
	)
	return runID, counters, nil
}

func (n *IATINormalizer) buildLookup(ctx context.Context, threshold float64) (*resolve.Lookup, error) {
	orgs, err := n.store.ListOrganizations(ctx)
	if err != nil {
		return nil, err
	}
	aliases, err := n.store.ListOrganizationAliases(ctx)
	if err != nil {
		return nil, err
	}
	return resolve.NewLookup(orgs, aliases, resolve.MatcherOptions{}, threshold), nil
}

// learnAlias persists the source ref so the next run resolves it without
// the fuzzy pass. Blank refs are skipped.
func (n *IATINormalizer) learnAlias(ctx context.Context, orgID int64, ref string) error {
	if strings.TrimSpace(ref) == "" {
		return nil
	}
	return n.store.RegisterAlias(ctx, resolve.KindOrganization, orgID, ref, "iati_ref")
}

// buildIATIFlow applies the currency and fiscal-date policy: NOK (or
// unlabelled) amounts land in amount_nok, everything else keeps its original
// currency; the fiscal year comes from the transaction date, falling back to
// the value date, and that same date bounds both ends of the reporting period.
func buildIATIFlow(row model.IATITransaction, recipientOrgID *int64, recipientNameRaw *string, donorOrgID *int64, donorRef, recipientMode, donorMode string) model.FundingFlow {
	flow := model.FundingFlow{
		DonorOrgID:       donorOrgID,
		DonorCountryCode: resolve.CountryFromRef(donorRef),
		RecipientOrgID:   recipientOrgID,
		RecipientNameRaw: recipientNameRaw,
	}

	currency := strings.ToUpper(strings.TrimSpace(deref(row.ValueCurrency)))
	if currency == "" || currency == "NOK" {
		flow.AmountNOK = &row.ValueAmount
	} else {
		flow.AmountOriginal = &row.ValueAmount
		flow.CurrencyCode = &currency
	}

	fiscalDate := row.TransactionDate
	if fiscalDate == nil {
		fiscalDate = row.ValueDate
	}
	if fiscalDate != nil {
		year := fiscalDate.Year()
		flow.FiscalYear = &year
		flow.PeriodStart = fiscalDate
		flow.PeriodEnd = fiscalDate
	}

	channel := "IATI transaction"
	txType := strings.TrimSpace(deref(row.TransactionTypeCode))
	if txType != "" {
		channel = "IATI transaction type " + txType
	}
	flow.FundingChannel = &channel

	notes := fmt.Sprintf("IATI activity=%s; match_recipient=%s; match_donor=%s; event_key=%s",
		row.ActivityIATIIdentifier, recipientMode, donorMode, row.EventKey)
	flow.Notes = &notes

	flow.Confidence = iatiConfidence(
		recipientOrgID != nil,
		donorOrgID != nil,
		fiscalDate != nil,
		txType != "",
	)
	return flow
}

// iatiConfidence scores a normalized flow from what could be resolved,
// clamped to [0.50, 0.95].
func iatiConfidence(recipientMapped, donorMapped, hasDate, hasType bool) float64 {
	score := 0.68
	if recipientMapped {
		score += 0.16
	}
	if donorMapped {
		score += 0.08
	}
	if hasDate {
		score += 0.04
	}
	if hasType {
		score += 0.03
	}
	if score < 0.50 {
		return 0.50
	}
	if score > 0.95 {
		return 0.95
	}
	return score
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
