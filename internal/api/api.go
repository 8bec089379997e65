// Package api exposes the pipeline as an HTTP trigger surface. Every
// route kicks off or inspects one pipeline step; scheduling is left to
// whatever calls the API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/echofix/echofix/internal/models"
	"github.com/echofix/echofix/internal/pipeline"
	"github.com/echofix/echofix/internal/source"
	"github.com/echofix/echofix/internal/store"
)

// Server provides the REST API handlers.
type Server struct {
	store       store.Store
	ingester    *pipeline.Ingester
	refresher   *pipeline.Refresher
	grouper     *pipeline.Grouper
	synthesizer *pipeline.Synthesizer
	publisher   *pipeline.Publisher
	gate        *pipeline.ApprovalGate
	runner      *pipeline.Runner
}

// NewServer creates a new API server over the assembled pipeline.
func NewServer(st store.Store, ing *pipeline.Ingester, ref *pipeline.Refresher, grp *pipeline.Grouper, syn *pipeline.Synthesizer, pub *pipeline.Publisher, gate *pipeline.ApprovalGate, runner *pipeline.Runner) *Server {
	return &Server{
		store:       st,
		ingester:    ing,
		refresher:   ref,
		grouper:     grp,
		synthesizer: syn,
		publisher:   pub,
		gate:        gate,
		runner:      runner,
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.health)

	mux.HandleFunc("POST /api/v1/ingest", s.ingest)
	mux.HandleFunc("GET /api/v1/feedback", s.listFeedback)
	mux.HandleFunc("POST /api/v1/refresh-scores", s.refreshScores)

	mux.HandleFunc("POST /api/v1/insights/generate", s.generateInsights)
	mux.HandleFunc("GET /api/v1/insights", s.listInsights)
	mux.HandleFunc("GET /api/v1/insights/{id}", s.getInsight)
	mux.HandleFunc("PUT /api/v1/insights/{id}/status", s.updateInsightStatus)
	mux.HandleFunc("POST /api/v1/insights/{id}/analyze", s.analyzeInsight)
	mux.HandleFunc("POST /api/v1/insights/{id}/ticket", s.createTicket)
	mux.HandleFunc("POST /api/v1/insights/{id}/pr", s.createPR)
	mux.HandleFunc("POST /api/v1/insights/{id}/ask-community", s.askCommunity)

	mux.HandleFunc("POST /api/v1/workflows/approve", s.approveWorkflow)
	mux.HandleFunc("POST /api/v1/pipeline/run", s.runPipeline)

	mux.HandleFunc("GET /api/v1/stats", s.stats)
	mux.HandleFunc("GET /api/v1/repo-config", s.getRepoConfig)
	mux.HandleFunc("POST /api/v1/repo-config", s.saveRepoConfig)

	mux.HandleFunc("DELETE /api/v1/admin/purge", s.purge)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writePipelineError maps pipeline failure modes to HTTP statuses.
func writePipelineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, pipeline.ErrAlreadyClaimed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, source.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func queryInt(r *http.Request, key, fallback string) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		v = fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// --- Feedback ---

func (s *Server) ingest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL      string `json:"url"`
		MaxItems int    `json:"max_items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	result, err := s.ingester.Ingest(r.Context(), req.URL, req.MaxItems)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) listFeedback(w http.ResponseWriter, r *http.Request) {
	filter := store.FeedbackFilter{
		Status:    models.FeedbackStatus(r.URL.Query().Get("status")),
		InsightID: r.URL.Query().Get("insight_id"),
		Forum:     r.URL.Query().Get("forum"),
		Limit:     queryInt(r, "limit", "0"),
	}
	items, err := s.store.ListFeedbackItems(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) refreshScores(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", "25")
	result, err := s.refresher.RefreshScores(r.Context(), limit)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- Insights ---

func (s *Server) generateInsights(w http.ResponseWriter, r *http.Request) {
	result, err := s.grouper.GroupReady(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) listInsights(w http.ResponseWriter, r *http.Request) {
	filter := store.InsightFilter{
		Status: models.InsightStatus(r.URL.Query().Get("status")),
		Theme:  r.URL.Query().Get("theme"),
		Limit:  queryInt(r, "limit", "0"),
	}
	insights, err := s.store.ListInsights(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, insights)
}

// insightDetail is the expanded single-insight response.
type insightDetail struct {
	Insight *models.Insight             `json:"insight"`
	Items   []*models.FeedbackItem      `json:"items"`
	Logs    []*models.ExecutionLogEntry `json:"logs"`
}

func (s *Server) getInsight(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	insight, err := s.store.GetInsight(r.Context(), id)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	items, err := s.store.ListInsightItems(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	logs, err := s.store.ListExecutionLogs(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, insightDetail{Insight: insight, Items: items, Logs: logs})
}

// settableStatuses are the statuses an operator may assign directly.
// The analyzing state is claim-only and the pending state is where
// insights start; neither is reachable through this endpoint.
var settableStatuses = map[models.InsightStatus]bool{
	models.InsightApproved:   true,
	models.InsightInProgress: true,
	models.InsightCompleted:  true,
	models.InsightClosed:     true,
}

func (s *Server) updateInsightStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Status models.InsightStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if !settableStatuses[req.Status] {
		writeError(w, http.StatusBadRequest, "status must be one of approved, in_progress, completed, closed")
		return
	}
	insight, err := s.store.GetInsight(r.Context(), id)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	insight.Status = req.Status
	if req.Status == models.InsightApproved && insight.ApprovedAt == nil {
		now := time.Now().UTC()
		insight.ApprovedAt = &now
	}
	if err := s.store.UpdateInsight(r.Context(), insight); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, insight)
}

func (s *Server) analyzeInsight(w http.ResponseWriter, r *http.Request) {
	insight, err := s.synthesizer.Analyze(r.Context(), r.PathValue("id"))
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, insight)
}

func (s *Server) createTicket(w http.ResponseWriter, r *http.Request) {
	result, err := s.publisher.PublishTicket(r.Context(), r.PathValue("id"))
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) createPR(w http.ResponseWriter, r *http.Request) {
	result, err := s.publisher.PublishPR(r.Context(), r.PathValue("id"))
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) askCommunity(w http.ResponseWriter, r *http.Request) {
	insight, err := s.gate.AskCommunity(r.Context(), r.PathValue("id"))
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, insight)
}

// --- Workflows ---

func (s *Server) approveWorkflow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InsightID string `json:"insight_id"`
		Action    string `json:"action"`
		Comment   string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.InsightID == "" {
		writeError(w, http.StatusBadRequest, "insight_id is required")
		return
	}

	switch req.Action {
	case "", "approve":
		insight, err := s.gate.Approve(r.Context(), req.InsightID)
		if err != nil {
			writePipelineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, insight)
	case "reject":
		insight, err := s.store.GetInsight(r.Context(), req.InsightID)
		if err != nil {
			writePipelineError(w, err)
			return
		}
		insight.Status = models.InsightClosed
		if err := s.store.UpdateInsight(r.Context(), insight); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, insight)
	default:
		writeError(w, http.StatusBadRequest, "action must be approve or reject")
	}
}

func (s *Server) runPipeline(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshLimit int `json:"refresh_limit"`
		InsightLimit int `json:"insight_limit"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	if req.RefreshLimit <= 0 {
		req.RefreshLimit = 25
	}
	if req.InsightLimit <= 0 {
		req.InsightLimit = 10
	}
	result, err := s.runner.Run(r.Context(), req.RefreshLimit, req.InsightLimit)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- Admin ---

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) getRepoConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.store.GetRepoConfig(r.Context())
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) saveRepoConfig(w http.ResponseWriter, r *http.Request) {
	var cfg models.RepoConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if cfg.Owner == "" || cfg.Repo == "" {
		writeError(w, http.StatusBadRequest, "owner and repo are required")
		return
	}
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	if err := s.store.SaveRepoConfig(r.Context(), &cfg); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) purge(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Purge(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
