package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-ledger/internal/schema"
	"github.com/JakeFAU/scrape-ledger/internal/store"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// RowLister pages through stored rows.
type RowLister interface {
	List(ctx context.Context, entity *schema.Entity, limit, offset int) ([]*store.Row, error)
}

// PendingLister lists frontier entries that still need a fetch.
type PendingLister interface {
	List(ctx context.Context, crawl string, limit int) ([]store.FrontierEntry, error)
}

// MetricsHandler exposes a scrape handler and request instrumentation.
type MetricsHandler interface {
	Handler() http.Handler
	Middleware(next http.Handler) http.Handler
}

// Config holds server options.
type Config struct {
	// APIKey, when set, is required on every /v1 request.
	APIKey string
	// Timeout bounds each request; zero means 30 seconds.
	Timeout time.Duration
}

// Server wires HTTP handlers to the registry and stores.
type Server struct {
	router   chi.Router
	registry *schema.Registry
	rows     RowLister
	pending  PendingLister
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. m may be nil.
func NewServer(
	registry *schema.Registry,
	rows RowLister,
	pending PendingLister,
	m MetricsHandler,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	s := &Server{
		registry: registry,
		rows:     rows,
		pending:  pending,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	if m != nil {
		r.Use(m.Middleware)
	}
	r.Use(timeoutMiddleware(cfg.Timeout))

	r.Get("/healthz", s.healthz)
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Get("/entities", s.listEntities)
		r.Get("/entities/{entity}", s.listRows)
		r.Get("/crawls/{crawl}/pending", s.listPending)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type entityView struct {
	Name       string   `json:"name"`
	Columns    []string `json:"columns"`
	LookupKeys []string `json:"lookup_keys"`
	Relations  []string `json:"relations,omitempty"`
}

func (s *Server) listEntities(w http.ResponseWriter, _ *http.Request) {
	ordered := s.registry.Ordered()
	out := make([]entityView, 0, len(ordered))
	for _, e := range ordered {
		view := entityView{Name: e.Name(), Columns: e.Columns(), LookupKeys: e.LookupKeys()}
		for _, rel := range e.Relations() {
			view.Relations = append(view.Relations, rel.Slot)
		}
		out = append(out, view)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"entities": out})
}

func (s *Server) listRows(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "entity")
	entity, ok := s.registry.Get(name)
	if !ok {
		s.writeError(w, http.StatusNotFound, "entity not found")
		return
	}
	limit, err := queryInt(r, "limit", defaultLimit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := s.rows.List(r.Context(), entity, clampLimit(limit), offset)
	if err != nil {
		s.logger.Error("list rows", zap.String("entity", name), zap.Error(err))
		s.writeError(w, statusFor(err), "failed to list rows")
		return
	}
	items := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.Map())
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"entity": name,
		"offset": offset,
		"rows":   items,
	})
}

type pendingView struct {
	Target     string    `json:"target"`
	TargetHash string    `json:"target_hash"`
	ResumeTag  string    `json:"resume_tag"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (s *Server) listPending(w http.ResponseWriter, r *http.Request) {
	crawl := chi.URLParam(r, "crawl")
	limit, err := queryInt(r, "limit", defaultLimit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := s.pending.List(r.Context(), crawl, clampLimit(limit))
	if err != nil {
		s.logger.Error("list pending", zap.String("crawl", crawl), zap.Error(err))
		s.writeError(w, statusFor(err), "failed to list pending targets")
		return
	}
	out := make([]pendingView, 0, len(entries))
	for _, e := range entries {
		out = append(out, pendingView{
			Target:     e.Target,
			TargetHash: e.TargetHash,
			ResumeTag:  e.ResumeTag,
			UpdatedAt:  e.UpdatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"crawl": crawl, "pending": out})
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(key + " must be a non-negative integer")
	}
	return n, nil
}

func clampLimit(n int) int {
	if n == 0 || n > maxLimit {
		return maxLimit
	}
	return n
}

func statusFor(err error) int {
	if errors.Is(err, store.ErrTransient) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
