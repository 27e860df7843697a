package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"hybriddb/internal/domain"
	"hybriddb/internal/etl"
	"hybriddb/internal/logger"
	"hybriddb/internal/pipeline"
	"hybriddb/internal/report"
)

// RunLister reads stream run history.
type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]etl.RunLog, error)
}

// Handler serves field metadata and reports. Quarantine, Runs and Stats
// are optional.
type Handler struct {
	Engine     *pipeline.Engine
	Quarantine domain.QuarantineStore
	Runs       RunLister
	Stats      func() any
	Now        func() time.Time
}

type errorResponse struct {
	Ok      bool   `json:"ok"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type fieldResponse struct {
	Summary  report.FieldSummary  `json:"summary"`
	Metadata domain.FieldMetadata `json:"metadata"`
}

// NewRouter builds the HTTP router with the standard middleware stack.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))
	h.RegisterRoutes(r)
	return r
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.handleHealth)
	r.Route("/fields", func(r chi.Router) {
		r.Get("/", h.handleFieldsList)
		r.Get("/{name}", h.handleFieldGet)
		r.Post("/{name}/reevaluate", h.handleFieldReevaluate)
		r.Get("/{name}/quarantine", h.handleFieldQuarantine)
	})
	r.Get("/summary", h.handleSummary)
	r.Get("/recommendations", h.handleRecommendations)
	r.Get("/export", h.handleExport)
	r.Get("/runs", h.handleRuns)
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now().UTC()
}

// ── Handlers ───────────────────────────────────────────────

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"ok":        true,
		"fields":    h.Engine.Metadata().Len(),
		"processed": h.Engine.Processed(),
	}
	if h.Stats != nil {
		resp["stats"] = h.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleFieldsList(w http.ResponseWriter, r *http.Request) {
	all := h.Engine.Metadata().All()
	out := make([]report.FieldSummary, 0, len(all))
	for _, m := range all {
		out = append(out, report.Field(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleFieldGet(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	m, ok := h.Engine.Metadata().Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "unknown field: "+name)
		return
	}
	writeJSON(w, http.StatusOK, fieldResponse{Summary: report.Field(m), Metadata: m})
}

func (h *Handler) handleFieldReevaluate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	d, err := h.Engine.Reevaluate(name)
	if errors.Is(err, pipeline.ErrUnknownField) {
		writeError(w, http.StatusNotFound, "not_found", "unknown field: "+name)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reevaluate_failed", err.Error())
		return
	}
	if err := h.Engine.Flush(r.Context()); err != nil {
		log := logger.Get("api")
		log.Error().Err(err).Str("field", name).Msg("flush after reevaluate failed")
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) handleFieldQuarantine(w http.ResponseWriter, r *http.Request) {
	if h.Quarantine == nil {
		writeError(w, http.StatusNotImplemented, "unavailable", "quarantine store not configured")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	held, err := h.Quarantine.ListHeld(r.Context(), chi.URLParam(r, "name"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	if held == nil {
		held = []domain.QuarantinedValue{}
	}
	writeJSON(w, http.StatusOK, held)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, report.Summarize(h.Engine.Metadata().All(), h.now()))
}

func (h *Handler) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, report.Recommend(h.Engine.Metadata().All(), h.now()))
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if err := h.Engine.Metadata().Export(w); err != nil {
		log := logger.Get("api")
		log.Error().Err(err).Msg("export failed")
	}
}

func (h *Handler) handleRuns(w http.ResponseWriter, r *http.Request) {
	if h.Runs == nil {
		writeError(w, http.StatusNotImplemented, "unavailable", "run history not configured")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	runs, err := h.Runs.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	if runs == nil {
		runs = []etl.RunLog{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// ── Helpers ────────────────────────────────────────────────

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 50, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 1000 {
		writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 1000")
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Ok: false, Code: code, Message: message})
}
