// Package server exposes the read-only graph API over HTTP: the network
// view, timelines, toplists, board co-occurrence, person drilldowns, and
// per-edge detail lookups.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/bstandal/NorConnect/internal/curated"
	"github.com/bstandal/NorConnect/internal/model"
)

// Store is the read surface the API serves from.
type Store interface {
	Ping(ctx context.Context) error
	ListPersons(ctx context.Context) ([]model.Person, error)
	FetchRoleRows(ctx context.Context) ([]model.RoleRow, error)
	FetchRoleRow(ctx context.Context, roleEventID int64) (*model.RoleRow, error)
	FetchFundingRows(ctx context.Context) ([]model.FundingRow, error)
	FetchFundingRow(ctx context.Context, flowID int64) (*model.FundingRow, error)
	FetchPersonLinkRows(ctx context.Context) ([]model.PersonLinkRow, error)
	FetchPalestineFundingRows(ctx context.Context) ([]model.PalestineFlowRow, error)
}

// Server wires the HTTP API over the store and the curated profile set.
type Server struct {
	store           Store
	profiles        *curated.Set
	origins         []string
	maxFundingEdges int
}

// New builds a server. profiles must be non-nil; the drilldown endpoint
// serves from it. origins restrict CORS; none means any origin.
func New(store Store, profiles *curated.Set, origins ...string) *Server {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Server{store: store, profiles: profiles, origins: origins}
}

// WithMaxFundingEdges sets the funding-edge cap applied when a request
// does not override it.
func (s *Server) WithMaxFundingEdges(n int) *Server {
	if n > 0 {
		s.maxFundingEdges = n
	}
	return s
}

// Router assembles the chi routing tree with logging, panic recovery, and
// permissive CORS for the visualization frontend.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/graph", s.handleGraph)
		r.Get("/timeline", s.handleTimeline)
		r.Get("/toplists", s.handleToplists)
		r.Get("/coboard", s.handleCoboard)
		r.Get("/person-drilldown", s.handleDrilldown)
		r.Get("/ud-palestina", s.handleUDPalestina)
		r.Get("/edge/{edgeID}", s.handleEdge)
	})
	return r
}

// requestLogger logs one line per request through the global zap logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
