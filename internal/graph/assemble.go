package graph

import (
	"fmt"

	"github.com/bstandal/NorConnect/internal/model"
	"github.com/bstandal/NorConnect/internal/resolve"
)

// Node is one graph vertex. IDs are namespaced ("person:7", "org:12",
// "external:<key>", "country:NO") so dataset and curated entities collapse
// onto the same node when they name the same thing.
type Node struct {
	ID       string  `json:"id"`
	Label    string  `json:"label"`
	Type     string  `json:"type"`
	Subtitle *string `json:"subtitle,omitempty"`
	Degree   int     `json:"degree,omitempty"`
}

// Edge is one graph relation with provenance.
type Edge struct {
	ID             string            `json:"id"`
	From           string            `json:"from"`
	To             string            `json:"to"`
	Type           string            `json:"type"`
	Label          string            `json:"label"`
	Title          string            `json:"title"`
	Year           *int              `json:"year,omitempty"`
	SourceKind     string            `json:"source_kind,omitempty"`
	OutsideDataset bool              `json:"outside_dataset,omitempty"`
	Metadata       map[string]any    `json:"metadata,omitempty"`
	Sources        []model.SourceRef `json:"sources,omitempty"`
}

// Stats carries per-view counters alongside nodes and edges.
type Stats map[string]any

// Network is the assembled graph payload.
type Network struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
	Stats Stats  `json:"stats"`
}

// nodeSet accumulates nodes keyed by id, first add wins.
type nodeSet struct {
	byID  map[string]*Node
	order []string
}

func newNodeSet() *nodeSet {
	return &nodeSet{byID: make(map[string]*Node)}
}

func (ns *nodeSet) add(id, label, nodeType string, subtitle *string) *Node {
	if n, ok := ns.byID[id]; ok {
		return n
	}
	n := &Node{ID: id, Label: label, Type: nodeType, Subtitle: subtitle}
	ns.byID[id] = n
	ns.order = append(ns.order, id)
	return n
}

// connected returns the nodes touched by at least one edge, plus any ids
// the caller always keeps, in insertion order.
func (ns *nodeSet) connected(edges []Edge, keep map[string]bool) []Node {
	touched := make(map[string]bool, len(keep))
	for id := range keep {
		touched[id] = true
	}
	for _, e := range edges {
		touched[e.From] = true
		touched[e.To] = true
	}
	out := make([]Node, 0, len(touched))
	for _, id := range ns.order {
		if touched[id] {
			out = append(out, *ns.byID[id])
		}
	}
	return out
}

const (
	donorNodeID = "country:NO"
	// DefaultMaxFundingEdges caps funding edges per response.
	DefaultMaxFundingEdges = 5000
)

// AssembleOptions select which edge kinds the network view includes.
type AssembleOptions struct {
	Filters
	IncludeRoles    bool
	IncludeFunding  bool
	MaxFundingEdges int
}

// recipientNode derives the node identity for a funding recipient: the
// canonical organization when resolved, otherwise an external node keyed
// by the normalized raw name.
func recipientNode(row model.FundingRow) (id, name, nodeType string) {
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
	return "external:" + resolve.ExternalRecipientKey(name), name, "external_recipient"
}

// Assemble builds the role/funding network over snapshots of the canonical
// rows, applying the query and year-window filters first. Funding edges
// beyond the cap are counted but not emitted; nodes with no retained edge
// are pruned.
func Assemble(roleRows []model.RoleRow, fundingRows []model.FundingRow, opts AssembleOptions) *Network {
	if opts.MaxFundingEdges <= 0 {
		opts.MaxFundingEdges = DefaultMaxFundingEdges
	}
	roleRows = FilterRoles(roleRows, opts.Filters)
	fundingRows = FilterFunding(fundingRows, opts.Filters)

	nodes := newNodeSet()
	var edges []Edge

	roleEdges := 0
	if opts.IncludeRoles {
		for _, row := range roleRows {
			personID := fmt.Sprintf("person:%d", row.PersonID)
			orgID := fmt.Sprintf("org:%d", row.OrganizationID)
			nodes.add(personID, row.PersonName, "person", nil)
			nodes.add(orgID, row.OrganizationName, "organization", nil)

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
	}

	fundingEdges := 0
	fundingTotal := 0
	if opts.IncludeFunding {
		donorSubtitle := "Donor"
		nodes.add(donorNodeID, "Norge", "country", &donorSubtitle)

		for _, row := range fundingRows {
			fundingTotal++
			if fundingEdges >= opts.MaxFundingEdges {
				continue
			}
			recipientID, recipientName, recipientType := recipientNode(row)
			nodes.add(recipientID, recipientName, recipientType, nil)

			amount, currency := labelAmount(row)
			title := deref(row.FundingChannel)
			if title == "" {
				title = "Funding"
			}
			edges = append(edges, Edge{
				ID:         fmt.Sprintf("funding:%d", row.FlowID),
				From:       donorNodeID,
				To:         recipientID,
				Type:       "funding",
				SourceKind: "dataset",
				Label:      FormatAmount(amount, currency),
				Title:      title,
				Year:       row.FiscalYear,
				Sources:    row.Sources,
			})
			fundingEdges++
		}
	}

	filteredNodes := nodes.connected(edges, nil)
	return &Network{
		Nodes: filteredNodes,
		Edges: edges,
		Stats: Stats{
			"nodes":                       len(filteredNodes),
			"edges":                       len(edges),
			"role_edges":                  roleEdges,
			"funding_edges":               fundingEdges,
			"funding_edges_total_matched": fundingTotal,
			"funding_edges_truncated":     opts.IncludeFunding && fundingTotal > opts.MaxFundingEdges,
		},
	}
}
