// Package httptransport exposes the incident service over HTTP.
package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/incident"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/logging"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/orchestrator"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/pipeline"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/retrieval"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/store"
	"github.com/danielpatrickdp/incident-pipeline/go-controller/internal/transport/incidentdto"
)

// maxBody bounds request bodies; clips arrive base64-encoded.
const maxBody = 64 << 20

// IncidentService is the part of the orchestrator the transport calls.
type IncidentService interface {
	CreateIncident(ctx context.Context, req orchestrator.CreateRequest) (*incident.State, error)
	SubmitDecision(ctx context.Context, incidentID, decision string) (*incident.State, error)
	Get(ctx context.Context, incidentID string) (*incident.State, error)
	List(ctx context.Context, storeID string, limit int) ([]store.Summary, error)
	Decisions(ctx context.Context, incidentID string) ([]logging.DecisionEntry, error)
}

// PolicyIndex loads and clears per-store policy documents.
type PolicyIndex interface {
	Ingest(ctx context.Context, tenant, text string, metadata map[string]any) bool
	DeleteTenantData(ctx context.Context, tenant string) bool
}

// StepStatsSource reports per-node step aggregates.
type StepStatsSource interface {
	Snapshot() []pipeline.NodeStats
}

// Handler serves the incident API.
type Handler struct {
	svc      IncidentService
	policies PolicyIndex
	stats    StepStatsSource
	graphDOT string
	logger   *zap.Logger
}

// NewHandler builds a handler. graphDOT is served verbatim at /graph.
func NewHandler(svc IncidentService, policies PolicyIndex, graphDOT string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, policies: policies, graphDOT: graphDOT, logger: logger.Named("http")}
}

// WithStepStats adds step aggregates to /info.
func (h *Handler) WithStepStats(s StepStatsSource) *Handler {
	h.stats = s
	return h
}

// Routes registers every endpoint on a new mux.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /info", h.Info)
	mux.HandleFunc("GET /graph", h.Graph)
	mux.HandleFunc("POST /incidents", h.CreateIncident)
	mux.HandleFunc("GET /incidents", h.ListIncidents)
	mux.HandleFunc("GET /incidents/{id}", h.GetIncident)
	mux.HandleFunc("GET /incidents/{id}/decisions", h.ListDecisions)
	mux.HandleFunc("POST /incidents/{id}/decision", h.SubmitDecision)
	mux.HandleFunc("POST /stores/{id}/policies", h.IngestPolicy)
	mux.HandleFunc("DELETE /stores/{id}/policies", h.DeletePolicies)
	return h.logRequests(mux)
}

// #region system

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"description": "Retail incident pipeline: perception, risk assessment, human review and response dispatch.",
		"available_endpoints": []string{
			"POST /incidents", "GET /incidents", "GET /incidents/{id}", "GET /incidents/{id}/decisions",
			"POST /incidents/{id}/decision", "POST /stores/{id}/policies", "DELETE /stores/{id}/policies",
			"GET /graph", "GET /health", "GET /info",
		},
	}
	if h.stats != nil {
		info["step_stats"] = h.stats.Snapshot()
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handler) Graph(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/vnd.graphviz")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(h.graphDOT))
}

// #endregion system

// #region incidents

func (h *Handler) CreateIncident(w http.ResponseWriter, r *http.Request) {
	var in incidentdto.CreateIncidentRequest
	if !decode(w, r, &in) {
		return
	}
	req, err := in.Decode()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid media", err)
		return
	}
	st, err := h.svc.CreateIncident(r.Context(), req)
	if err != nil {
		h.fail(w, "create incident failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, incidentdto.NewIncidentResponse(st))
}

func (h *Handler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit", err)
			return
		}
		limit = n
	}
	list, err := h.svc.List(r.Context(), r.URL.Query().Get("store_id"), limit)
	if err != nil {
		h.fail(w, "list incidents failed", err)
		return
	}
	if list == nil {
		list = []store.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"incidents": list})
}

func (h *Handler) GetIncident(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, "get incident failed", err)
		return
	}
	writeJSON(w, http.StatusOK, incidentdto.NewIncidentResponse(st))
}

func (h *Handler) ListDecisions(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Decisions(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, "list decisions failed", err)
		return
	}
	if entries == nil {
		entries = []logging.DecisionEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": entries})
}

func (h *Handler) SubmitDecision(w http.ResponseWriter, r *http.Request) {
	var in incidentdto.DecisionRequest
	if !decode(w, r, &in) {
		return
	}
	st, err := h.svc.SubmitDecision(r.Context(), r.PathValue("id"), in.Decision)
	if err != nil {
		h.fail(w, "decision rejected", err)
		return
	}
	writeJSON(w, http.StatusOK, incidentdto.NewIncidentResponse(st))
}

// #endregion incidents

// #region policies

func (h *Handler) IngestPolicy(w http.ResponseWriter, r *http.Request) {
	if h.policies == nil {
		writeError(w, http.StatusServiceUnavailable, "policy index not configured", nil)
		return
	}
	var in incidentdto.PolicyRequest
	if !decode(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.Text) == "" {
		writeError(w, http.StatusBadRequest, "policy text is empty", nil)
		return
	}
	source := in.Source
	if source == "" {
		source = retrieval.SourcePolicy
	}
	storeID := r.PathValue("id")
	meta := map[string]any{
		retrieval.MetaStoreID:    storeID,
		retrieval.MetaSource:     source,
		retrieval.MetaRecordedAt: time.Now().Unix(),
	}
	if !h.policies.Ingest(r.Context(), storeID, in.Text, meta) {
		writeError(w, http.StatusInternalServerError, "policy ingest failed", nil)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "ingested", "store_id": storeID})
}

func (h *Handler) DeletePolicies(w http.ResponseWriter, r *http.Request) {
	if h.policies == nil {
		writeError(w, http.StatusServiceUnavailable, "policy index not configured", nil)
		return
	}
	storeID := r.PathValue("id")
	if !h.policies.DeleteTenantData(r.Context(), storeID) {
		writeError(w, http.StatusInternalServerError, "policy delete failed", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "store_id": storeID})
}

// #endregion policies

// #region helpers

// StatusFor maps service errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrNotAwaitingDecision):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrEmptyDecision), errors.Is(err, orchestrator.ErrMissingStoreID):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err))
	}
	writeError(w, status, msg, err)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	body := incidentdto.ErrorBody{Error: msg}
	if err != nil {
		body.Details = err.Error()
	}
	writeJSON(w, status, body)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(started)),
		)
	})
}

// #endregion helpers
