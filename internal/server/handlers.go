package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bstandal/NorConnect/internal/graph"
	"github.com/bstandal/NorConnect/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Warn("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string) (*int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return &v, nil
}

// queryBool parses an optional boolean query parameter with a default.
func queryBool(r *http.Request, name string, fallback bool) bool {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

func queryFilters(r *http.Request) (graph.Filters, error) {
	yearFrom, err := queryInt(r, "year_from")
	if err != nil {
		return graph.Filters{}, err
	}
	yearTo, err := queryInt(r, "year_to")
	if err != nil {
		return graph.Filters{}, err
	}
	return graph.Filters{
		Q:        r.URL.Query().Get("q"),
		YearFrom: yearFrom,
		YearTo:   yearTo,
	}, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	filters, err := queryFilters(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	maxEdges, err := queryInt(r, "max_funding_edges")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts := graph.AssembleOptions{
		Filters:         filters,
		IncludeRoles:    queryBool(r, "include_roles", true),
		IncludeFunding:  queryBool(r, "include_funding", true),
		MaxFundingEdges: s.maxFundingEdges,
	}
	if maxEdges != nil {
		opts.MaxFundingEdges = *maxEdges
	}

	roleRows, err := s.store.FetchRoleRows(r.Context())
	if err != nil {
		s.internalError(w, "fetch role rows", err)
		return
	}
	fundingRows, err := s.store.FetchFundingRows(r.Context())
	if err != nil {
		s.internalError(w, "fetch funding rows", err)
		return
	}
	writeJSON(w, http.StatusOK, graph.Assemble(roleRows, fundingRows, opts))
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	filters, err := queryFilters(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	roleRows, err := s.store.FetchRoleRows(r.Context())
	if err != nil {
		s.internalError(w, "fetch role rows", err)
		return
	}
	fundingRows, err := s.store.FetchFundingRows(r.Context())
	if err != nil {
		s.internalError(w, "fetch funding rows", err)
		return
	}
	writeJSON(w, http.StatusOK, graph.BuildTimeline(roleRows, fundingRows, filters))
}

func (s *Server) handleToplists(w http.ResponseWriter, r *http.Request) {
	filters, err := queryFilters(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	roleRows, err := s.store.FetchRoleRows(r.Context())
	if err != nil {
		s.internalError(w, "fetch role rows", err)
		return
	}
	fundingRows, err := s.store.FetchFundingRows(r.Context())
	if err != nil {
		s.internalError(w, "fetch funding rows", err)
		return
	}
	writeJSON(w, http.StatusOK, graph.BuildToplists(roleRows, fundingRows, filters))
}

func (s *Server) handleCoboard(w http.ResponseWriter, r *http.Request) {
	filters, err := queryFilters(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	roleRows, err := s.store.FetchRoleRows(r.Context())
	if err != nil {
		s.internalError(w, "fetch role rows", err)
		return
	}
	writeJSON(w, http.StatusOK, graph.BuildCoboard(roleRows, filters))
}

func (s *Server) handleDrilldown(w http.ResponseWriter, r *http.Request) {
	filters, err := queryFilters(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	personKey := r.URL.Query().Get("person_key")

	persons, err := s.store.ListPersons(r.Context())
	if err != nil {
		s.internalError(w, "list persons", err)
		return
	}
	roleRows, err := s.store.FetchRoleRows(r.Context())
	if err != nil {
		s.internalError(w, "fetch role rows", err)
		return
	}
	linkRows, err := s.store.FetchPersonLinkRows(r.Context())
	if err != nil {
		s.internalError(w, "fetch person links", err)
		return
	}

	in := graph.DrilldownInput{Persons: persons, RoleRows: roleRows, LinkRows: linkRows}
	writeJSON(w, http.StatusOK, graph.BuildDrilldown(s.profiles, personKey, in, filters))
}

// handleUDPalestina serves the UD-to-Palestine funding view. The edge cap
// is bounded so a client cannot request an unrenderable payload.
func (s *Server) handleUDPalestina(w http.ResponseWriter, r *http.Request) {
	maxEdges := graph.DefaultPalestineMaxEdges
	if v, err := queryInt(r, "max_funding_edges"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	} else if v != nil {
		if *v < graph.MinPalestineMaxEdges || *v > graph.MaxPalestineMaxEdges {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("max_funding_edges must be within [%d, %d]",
				graph.MinPalestineMaxEdges, graph.MaxPalestineMaxEdges))
			return
		}
		maxEdges = *v
	}

	rows, err := s.store.FetchPalestineFundingRows(r.Context())
	if err != nil {
		s.internalError(w, "fetch palestine funding rows", err)
		return
	}
	roleRows, err := s.store.FetchRoleRows(r.Context())
	if err != nil {
		s.internalError(w, "fetch role rows", err)
		return
	}
	writeJSON(w, http.StatusOK, graph.BuildPalestineNetwork(rows, roleRows, maxEdges))
}

// handleEdge serves provenance details for one dataset edge. Edge ids use
// the "<kind>:<numeric id>" scheme the graph endpoint emits.
func (s *Server) handleEdge(w http.ResponseWriter, r *http.Request) {
	edgeID := chi.URLParam(r, "edgeID")
	kind, rawID, ok := strings.Cut(edgeID, ":")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid edge id")
		return
	}
	rowID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid edge id")
		return
	}

	switch kind {
	case "role":
		row, err := s.store.FetchRoleRow(r.Context(), rowID)
		if err != nil {
			s.internalError(w, "fetch role row", err)
			return
		}
		if row == nil {
			writeError(w, http.StatusNotFound, "role edge not found")
			return
		}
		writeJSON(w, http.StatusOK, roleEdgeDetails(edgeID, row))
	case "funding":
		row, err := s.store.FetchFundingRow(r.Context(), rowID)
		if err != nil {
			s.internalError(w, "fetch funding row", err)
			return
		}
		if row == nil {
			writeError(w, http.StatusNotFound, "funding edge not found")
			return
		}
		writeJSON(w, http.StatusOK, fundingEdgeDetails(edgeID, row))
	default:
		writeError(w, http.StatusNotFound, "edge type not supported")
	}
}

// EdgeDetails is the per-edge provenance payload.
type EdgeDetails struct {
	EdgeID   string            `json:"edge_id"`
	Kind     string            `json:"kind"`
	Title    string            `json:"title"`
	Summary  string            `json:"summary"`
	Metadata map[string]any    `json:"metadata"`
	Sources  []model.SourceRef `json:"sources"`
}

func roleEdgeDetails(edgeID string, row *model.RoleRow) EdgeDetails {
	metadata := map[string]any{
		"confidence": row.Confidence,
	}
	if row.StartOn != nil {
		metadata["start_on"] = row.StartOn.Format("2006-01-02")
	}
	if row.EndOn != nil {
		metadata["end_on"] = row.EndOn.Format("2006-01-02")
	}
	if row.SourceQuote != nil {
		metadata["source_quote"] = *row.SourceQuote
	}
	return EdgeDetails{
		EdgeID:   edgeID,
		Kind:     "role",
		Title:    row.RoleTitle,
		Summary:  fmt.Sprintf("%s -> %s", row.PersonName, row.OrganizationName),
		Metadata: metadata,
		Sources:  row.Sources,
	}
}

func fundingEdgeDetails(edgeID string, row *model.FundingRow) EdgeDetails {
	amount := row.AmountNOK
	currency := "NOK"
	if amount == nil && row.AmountOriginal != nil {
		amount = row.AmountOriginal
		currency = "USD"
		if row.CurrencyCode != nil && *row.CurrencyCode != "" {
			currency = *row.CurrencyCode
		}
	}

	recipient := ""
	if row.RecipientOrgName != nil {
		recipient = *row.RecipientOrgName
	} else if row.RecipientNameRaw != nil {
		recipient = *row.RecipientNameRaw
	}

	title := "Funding"
	if row.FundingChannel != nil && *row.FundingChannel != "" {
		title = *row.FundingChannel
	}

	metadata := map[string]any{
		"amount":     graph.FormatAmount(amount, currency),
		"currency":   currency,
		"confidence": row.Confidence,
	}
	if row.FiscalYear != nil {
		metadata["fiscal_year"] = *row.FiscalYear
	}
	if row.FlowType != nil {
		metadata["flow_type"] = *row.FlowType
	}
	return EdgeDetails{
		EdgeID:   edgeID,
		Kind:     "funding",
		Title:    title,
		Summary:  "Norge -> " + recipient,
		Metadata: metadata,
		Sources:  row.Sources,
	}
}

func (s *Server) internalError(w http.ResponseWriter, action string, err error) {
	zap.L().Error(action, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}
