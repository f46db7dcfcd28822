package graph

import (
	"fmt"
	"sort"
	"time"

	"github.com/bstandal/NorConnect/internal/model"
	"github.com/bstandal/NorConnect/internal/resolve"
)

// Bounds on the funding-edge cap of the ud-palestina view. The view is
// denser than the general network, so its default cap sits lower.
const (
	DefaultPalestineMaxEdges = 1200
	MinPalestineMaxEdges     = 50
	MaxPalestineMaxEdges     = 10000

	palestineTopRecipients      = 15
	palestineLatestTransactions = 20
)

// PalestineRecipient is one aggregated recipient in the toplist.
type PalestineRecipient struct {
	Name        string  `json:"name"`
	NOKTotal    float64 `json:"nok_total"`
	USDTotal    float64 `json:"usd_total"`
	FlowCount   int     `json:"flow_count"`
	AmountLabel string  `json:"amount_label"`
}

// PalestineTransaction is one recent transaction in the sidebar list.
type PalestineTransaction struct {
	Date      *string `json:"date,omitempty"`
	Amount    string  `json:"amount"`
	Currency  string  `json:"currency"`
	Recipient string  `json:"recipient"`
	Title     string  `json:"title"`
}

// PalestineNetwork is the ud-palestina payload: the UD-to-recipient funding
// star, board roles at resolved recipients, and the aggregate sidebars.
type PalestineNetwork struct {
	Nodes              []Node                 `json:"nodes"`
	Edges              []Edge                 `json:"edges"`
	TopRecipients      []PalestineRecipient   `json:"top_recipients"`
	LatestTransactions []PalestineTransaction `json:"latest_transactions"`
	Stats              Stats                  `json:"stats"`
}

// palestineRecipientNode derives the node identity for one flow row:
// resolved recipients land on their canonical organization node, external
// ones on a view-scoped key so they never collide with the general
// network's external nodes.
func palestineRecipientNode(row model.PalestineFlowRow) (id, name, nodeType string) {
	name = deref(row.RecipientOrgName)
	if name == "" {
		name = deref(row.RecipientNameRaw)
	}
	if name == "" {
		name = "Ukjent mottaker"
	}
	if row.RecipientOrgID != nil {
		return fmt.Sprintf("org:%d", *row.RecipientOrgID), name, "organization"
	}
	return "udpal-recipient:" + resolve.ExternalRecipientKey(name), name, "external_recipient"
}

// palestineRowDate anchors a row in time: the transaction date when the
// staged event carries one, otherwise the reporting period bounds.
func palestineRowDate(row model.PalestineFlowRow) *time.Time {
	switch {
	case row.TransactionDate != nil:
		return row.TransactionDate
	case row.PeriodStart != nil:
		return row.PeriodStart
	default:
		return row.PeriodEnd
	}
}

// BuildPalestineNetwork assembles the ud-palestina view. rows arrive
// newest-first from the store; edges beyond maxEdges are counted but not
// emitted, aggregates always cover every row. roleRows contribute board
// edges for resolved recipient organizations.
func BuildPalestineNetwork(rows []model.PalestineFlowRow, roleRows []model.RoleRow, maxEdges int) *PalestineNetwork {
	if maxEdges <= 0 {
		maxEdges = DefaultPalestineMaxEdges
	}

	nodes := newNodeSet()
	donorID := "ud:source"
	donorName := "Utenriksdepartementet"
	for _, row := range rows {
		if row.DonorOrgID != nil {
			donorID = fmt.Sprintf("org:%d", *row.DonorOrgID)
			if n := deref(row.DonorOrgName); n != "" {
				donorName = n
			}
			break
		}
	}
	donorSubtitle := "Donor"
	nodes.add(donorID, donorName, "organization", &donorSubtitle)

	var edges []Edge
	fundingEdges := 0
	recipientIDs := make(map[string]bool)
	totals := make(map[string]*PalestineRecipient)
	var totalNOK float64
	var firstTx, lastTx *time.Time

	for _, row := range rows {
		recipientID, recipientName, recipientType := palestineRecipientNode(row)
		recipientIDs[recipientID] = true

		agg := totals[recipientID]
		if agg == nil {
			agg = &PalestineRecipient{Name: recipientName}
			totals[recipientID] = agg
		}
		agg.FlowCount++
		if row.AmountNOK != nil {
			agg.NOKTotal += *row.AmountNOK
			totalNOK += *row.AmountNOK
		}
		if row.AmountOriginal != nil && deref(row.CurrencyCode) == "USD" {
			agg.USDTotal += *row.AmountOriginal
		}
		if d := palestineRowDate(row); d != nil {
			if firstTx == nil || d.Before(*firstTx) {
				firstTx = d
			}
			if lastTx == nil || d.After(*lastTx) {
				lastTx = d
			}
		}

		if fundingEdges >= maxEdges {
			continue
		}
		nodes.add(recipientID, recipientName, recipientType, nil)

		amount, currency := row.AmountNOK, "NOK"
		if amount == nil && row.AmountOriginal != nil {
			amount, currency = row.AmountOriginal, deref(row.CurrencyCode)
		}
		title := deref(row.ActivityTitle)
		if title == "" {
			title = deref(row.FundingChannel)
		}
		if title == "" {
			title = "Funding"
		}
		edges = append(edges, Edge{
			ID:         fmt.Sprintf("funding:%d", row.FlowID),
			From:       donorID,
			To:         recipientID,
			Type:       "funding",
			SourceKind: "dataset",
			Label:      FormatAmount(amount, currency),
			Title:      title,
			Year:       row.FiscalYear,
		})
		fundingEdges++
	}

	// Board roles at resolved recipient organizations.
	roleEdges := 0
	people := make(map[int64]bool)
	for _, row := range roleRows {
		orgID := fmt.Sprintf("org:%d", row.OrganizationID)
		if !recipientIDs[orgID] || nodes.byID[orgID] == nil {
			continue
		}
		personID := fmt.Sprintf("person:%d", row.PersonID)
		nodes.add(personID, row.PersonName, "person", nil)
		people[row.PersonID] = true

		_, _, anchor := roleWindow(row)
		edges = append(edges, Edge{
			ID:         fmt.Sprintf("role:%d", row.RoleEventID),
			From:       personID,
			To:         orgID,
			Type:       "role",
			SourceKind: "dataset",
			Label:      ShortLabel(row.RoleTitle, DefaultLabelLimit),
			Title:      row.RoleTitle,
			Year:       anchor,
			Sources:    row.Sources,
		})
		roleEdges++
	}

	filteredNodes := nodes.connected(edges, map[string]bool{donorID: true})
	return &PalestineNetwork{
		Nodes:              filteredNodes,
		Edges:              edges,
		TopRecipients:      topPalestineRecipients(totals),
		LatestTransactions: latestPalestineTransactions(rows),
		Stats: Stats{
			"nodes":                       len(filteredNodes),
			"edges":                       len(edges),
			"funding_edges":               fundingEdges,
			"role_edges":                  roleEdges,
			"funding_edges_total_matched": len(rows),
			"funding_edges_truncated":     len(rows) > maxEdges,
			"recipients":                  len(recipientIDs),
			"people":                      len(people),
			"first_tx":                    isoDate(firstTx),
			"last_tx":                     isoDate(lastTx),
			"amount_nok_total":            totalNOK,
			"amount_nok_label":            FormatAmount(&totalNOK, "NOK"),
		},
	}
}

func topPalestineRecipients(totals map[string]*PalestineRecipient) []PalestineRecipient {
	out := make([]PalestineRecipient, 0, len(totals))
	for _, agg := range totals {
		agg.AmountLabel = FormatAmount(&agg.NOKTotal, "NOK")
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].NOKTotal != out[j].NOKTotal {
			return out[i].NOKTotal > out[j].NOKTotal
		}
		if out[i].FlowCount != out[j].FlowCount {
			return out[i].FlowCount > out[j].FlowCount
		}
		if out[i].USDTotal != out[j].USDTotal {
			return out[i].USDTotal > out[j].USDTotal
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > palestineTopRecipients {
		out = out[:palestineTopRecipients]
	}
	return out
}

func latestPalestineTransactions(rows []model.PalestineFlowRow) []PalestineTransaction {
	n := min(len(rows), palestineLatestTransactions)
	out := make([]PalestineTransaction, 0, n)
	for _, row := range rows[:n] {
		amount, currency := row.AmountNOK, "NOK"
		if amount == nil && row.AmountOriginal != nil {
			amount, currency = row.AmountOriginal, deref(row.CurrencyCode)
		}
		_, recipientName, _ := palestineRecipientNode(row)
		title := deref(row.ActivityTitle)
		if title == "" {
			title = deref(row.FundingChannel)
		}
		out = append(out, PalestineTransaction{
			Date:      isoDate(palestineRowDate(row)),
			Amount:    FormatAmount(amount, currency),
			Currency:  currency,
			Recipient: recipientName,
			Title:     title,
		})
	}
	return out
}

func isoDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format("2006-01-02")
	return &s
}
