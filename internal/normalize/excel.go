package normalize

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/bstandal/NorConnect/internal/model"
	"github.com/bstandal/NorConnect/internal/resolve"
	"github.com/bstandal/NorConnect/internal/runlog"
)

// ExcelStore is the store surface the workbook normalizer needs.
type ExcelStore interface {
	resolve.Directory

	ListOrganizations(ctx context.Context) ([]model.Organization, error)
	ListOrganizationAliases(ctx context.Context) ([]model.OrganizationAlias, error)
	ListStagedPersonRoles(ctx context.Context) ([]model.StagedPersonRole, error)
	ListStagedFunding(ctx context.Context) ([]model.StagedFunding, error)
	UpsertSourceDocument(ctx context.Context, doc model.SourceDocument) (int64, error)
	EnsureRoleEvent(ctx context.Context, ev model.RoleEvent) (int64, error)
	UpsertCompositeFundingFlow(ctx context.Context, flow model.FundingFlow) (int64, bool, error)
	LinkRoleSource(ctx context.Context, roleEventID, sourceDocumentID int64, relationType string) error
	LinkFundingSource(ctx context.Context, fundingFlowID, sourceDocumentID int64, relationType string) error
}

// ExcelOptions bound one workbook normalization pass.
type ExcelOptions struct {
	// OrgThreshold gates fuzzy organization resolution before a new
	// organization is created. Defaults to DefaultRecipientThreshold.
	OrgThreshold float64
}

const (
	// excelSourceSystem labels aliases learned while resolving workbook names.
	excelSourceSystem = "excel"

	// Workbook rows carry hand-checked primary sources, so role events and
	// manual flows start above the fuzzy-derived baseline.
	excelRoleConfidence = 0.9
	excelFlowConfidence = 0.7
)

// ExcelNormalizer turns staged workbook rows into canonical persons,
// organizations, role events, and manual funding flows. Reruns are
// idempotent: entities upsert fill-if-null, role events dedupe on their
// identity, and flows dedupe on their full composite identity.
type ExcelNormalizer struct {
	store ExcelStore
	runs  RunLog
}

// NewExcelNormalizer wires a workbook normalizer.
func NewExcelNormalizer(store ExcelStore, runs RunLog) *ExcelNormalizer {
	return &ExcelNormalizer{store: store, runs: runs}
}

// Run normalizes all staged workbook rows and returns the run id and
// counters.
func (n *ExcelNormalizer) Run(ctx context.Context, opts ExcelOptions) (string, runlog.Counters, error) {
	if opts.OrgThreshold == 0 {
		opts.OrgThreshold = DefaultRecipientThreshold
	}

	matcher, err := n.buildOrgMatcher(ctx)
	if err != nil {
		return "", nil, err
	}
	persons := resolve.NewResolver(n.store, resolve.KindPerson, nil, 0, excelSourceSystem)
	orgs := resolve.NewResolver(n.store, resolve.KindOrganization, matcher, opts.OrgThreshold, excelSourceSystem)

	roleRows, err := n.store.ListStagedPersonRoles(ctx)
	if err != nil {
		return "", nil, err
	}
	fundingRows, err := n.store.ListStagedFunding(ctx)
	if err != nil {
		return "", nil, err
	}

	runID, err := n.runs.Start(ctx, "normalize_excel")
	if err != nil {
		return "", nil, err
	}

	counters := runlog.Counters{}
	if err := n.normalizeRoles(ctx, persons, orgs, roleRows, counters); err != nil {
		_ = n.runs.Fail(ctx, runID, counters, err.Error())
		return runID, counters, err
	}
	if err := n.normalizeFunding(ctx, orgs, fundingRows, counters); err != nil {
		_ = n.runs.Fail(ctx, runID, counters, err.Error())
		return runID, counters, err
	}

	if err := n.runs.Complete(ctx, runID, counters); err != nil {
		return runID, counters, err
	}
	zap.L().Info("excel normalization complete",
		zap.String("run_id", runID),
		zap.Int64("roles_written", counters["roles_written"]),
		zap.Int64("flows_written", counters["flows_written"]),
		zap.Int64("skipped_invalid", counters["skipped_invalid"]),
	)
	return runID, counters, nil
}

func (n *ExcelNormalizer) normalizeRoles(ctx context.Context, persons, orgs *resolve.Resolver, rows []model.StagedPersonRole, counters runlog.Counters) error {
	for _, row := range rows {
		counters.Inc("roles_processed")

		if strings.TrimSpace(row.RoleTitle) == "" {
			counters.Inc("skipped_invalid")
			continue
		}
		person, err := persons.Resolve(ctx, row.FullName, nil)
		if err != nil {
			return err
		}
		org, err := orgs.Resolve(ctx, row.OrgName, nil)
		if err != nil {
			return err
		}
		if person == nil || org == nil {
			counters.Inc("skipped_invalid")
			continue
		}
		if person.Created {
			counters.Inc("persons_created")
		}
		if org.Created {
			counters.Inc("orgs_created")
		}

		roleID, err := n.store.EnsureRoleEvent(ctx, model.RoleEvent{
			PersonID:       person.ID,
			OrganizationID: org.ID,
			RoleTitle:      strings.TrimSpace(row.RoleTitle),
			StartOn:        row.StartOn,
			EndOn:          row.EndOn,
			SourceQuote:    row.SourceQuote,
			Confidence:     excelRoleConfidence,
		})
		if err != nil {
			return err
		}
		counters.Inc("roles_written")

		docID, err := n.ensureHTTPSource(ctx, row.SourceURL, row.SourceTitle, row.SourceName, "appointment")
		if err != nil {
			return err
		}
		if docID != nil {
			if err := n.store.LinkRoleSource(ctx, roleID, *docID, "appointment"); err != nil {
				return err
			}
			counters.Inc("source_links")
		}
	}
	return nil
}

func (n *ExcelNormalizer) normalizeFunding(ctx context.Context, orgs *resolve.Resolver, rows []model.StagedFunding, counters runlog.Counters) error {
	donorCountry := "NO"
	for _, row := range rows {
		counters.Inc("funding_processed")

		recipient, err := orgs.Resolve(ctx, row.RecipientName, nil)
		if err != nil {
			return err
		}
		if recipient == nil {
			counters.Inc("skipped_invalid")
			continue
		}
		if recipient.Created {
			counters.Inc("orgs_created")
		}

		flowID, created, err := n.store.UpsertCompositeFundingFlow(ctx, model.FundingFlow{
			DonorCountryCode: &donorCountry,
			RecipientOrgID:   &recipient.ID,
			FiscalYear:       row.FiscalYear,
			AmountNOK:        row.AmountNOK,
			FundingChannel:   row.FundingChannel,
			Confidence:       excelFlowConfidence,
			Notes:            row.Notes,
		})
		if err != nil {
			return err
		}
		counters.Inc("flows_written")
		if created {
			counters.Inc("flows_created")
		}

		docID, err := n.ensureHTTPSource(ctx, row.SourceURL, nil, nil, "funding")
		if err != nil {
			return err
		}
		if docID != nil {
			if err := n.store.LinkFundingSource(ctx, flowID, *docID, "donor_report"); err != nil {
				return err
			}
			counters.Inc("source_links")
		}
	}
	return nil
}

// ensureHTTPSource upserts a source document for an http(s) URL. Blank and
// non-http values return nil without error.
func (n *ExcelNormalizer) ensureHTTPSource(ctx context.Context, rawURL, title, sourceName *string, docType string) (*int64, error) {
	u := strings.TrimSpace(deref(rawURL))
	if !strings.HasPrefix(u, "http") {
		return nil, nil
	}
	name := deref(sourceName)
	if name == "" {
		name = hostOf(u)
	}
	id, err := n.store.UpsertSourceDocument(ctx, model.SourceDocument{
		URL:        u,
		Title:      title,
		SourceName: strPtr(name),
		DocType:    &docType,
	})
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (n *ExcelNormalizer) buildOrgMatcher(ctx context.Context) (*resolve.Matcher, error) {
	orgs, err := n.store.ListOrganizations(ctx)
	if err != nil {
		return nil, err
	}
	aliases, err := n.store.ListOrganizationAliases(ctx)
	if err != nil {
		return nil, err
	}

	variants := make(map[int64][]string)
	for _, a := range aliases {
		variants[a.OrganizationID] = append(variants[a.OrganizationID], a.Alias)
	}
	candidates := make([]resolve.Candidate, 0, len(orgs))
	for _, o := range orgs {
		candidates = append(candidates, resolve.Candidate{ID: o.ID, Name: o.Name, Variants: variants[o.ID]})
	}
	return resolve.NewMatcher(candidates, resolve.MatcherOptions{}), nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}
