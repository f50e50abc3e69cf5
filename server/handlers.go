package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/searchit/searchit"
	"github.com/searchit/searchit/observer"
)

// ServiceName appears in the root and health payloads.
const ServiceName = "searchit-gateway"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": ServiceName,
		"endpoints": []string{
			"GET /search", "POST /ask", "POST /feedback",
			"GET /feedback/stats", "GET /health", "GET /metrics",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": ServiceName,
	})
}

// handleSearch serves GET /search?q=...&top_k=...&filters=...
// Validation failures are 400; backend failures inside retrieval degrade to
// empty result lists, never to a 5xx.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}

	topK := s.params.DefaultTopK
	if raw := r.URL.Query().Get("top_k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "top_k must be an integer")
			return
		}
		topK = n
	}
	if topK < 1 || topK > s.params.MaxTopK {
		writeError(w, http.StatusBadRequest,
			"top_k must be between 1 and "+strconv.Itoa(s.params.MaxTopK))
		return
	}

	filters := searchit.ParseFilters(r.URL.Query().Get("filters"))
	// with_highlights is accepted for wire compatibility; highlighting is
	// an index-side concern and the flag carries no effect here.
	_ = r.URL.Query().Get("with_highlights")

	ctx, span := observer.Tracer().Start(r.Context(), "search")
	defer span.End()

	// Facets always ride along with the same filters.
	resp := s.searcher.Search(ctx, q, topK, filters, true)

	if s.events != nil {
		s.events.SearchQuery(context.WithoutCancel(r.Context()), q, topK, resp.Total)
	}
	writeJSON(w, http.StatusOK, resp)
}

type askRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
	Filters  string `json:"filters"`
	// Ground defaults to true: answers must carry valid citations.
	Ground *bool `json:"ground"`
}

// askCandidatePool is the fused candidate budget handed to the reranker,
// independent of the caller's top_k.
const askCandidatePool = 100

// handleAsk serves POST /ask: rate limit, hybrid retrieve, rerank, generate.
// The response is the AskResponse verbatim.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	topK := req.TopK
	if topK <= 0 {
		topK = s.params.FinalTopK
	}
	if topK > s.params.RerankTopK {
		topK = s.params.RerankTopK
	}
	ground := req.Ground == nil || *req.Ground

	if !s.limiter.Allow(clientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	ctx, span := observer.Tracer().Start(r.Context(), "ask")
	defer span.End()

	retrieved := s.searcher.Search(ctx, req.Question, askCandidatePool,
		searchit.ParseFilters(req.Filters), false)
	contexts := s.reranker.Rerank(ctx, req.Question, retrieved.Results, topK)
	answer := s.generator.Generate(ctx, req.Question, contexts, ground)

	if s.events != nil {
		s.events.AskAnswer(context.WithoutCancel(ctx), req.Question, answer)
	}
	writeJSON(w, http.StatusOK, answer)
}

// handleFeedback serves POST /feedback. An invalid payload writes nothing
// and emits nothing; a storage failure is a 500.
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var fb searchit.Feedback
	if err := json.NewDecoder(r.Body).Decode(&fb); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	fb.Query = strings.TrimSpace(fb.Query)
	if fb.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if !searchit.ValidLabel(fb.Label) {
		writeError(w, http.StatusBadRequest,
			"label must be one of: "+strings.Join(searchit.FeedbackLabels, ", "))
		return
	}

	id, err := s.store.StoreFeedback(r.Context(), fb)
	if err != nil {
		s.logger.Error("feedback store failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to record feedback")
		return
	}

	if s.events != nil {
		s.events.FeedbackEvent(context.WithoutCancel(r.Context()), fb)
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "success",
		"feedback_id": id,
		"message":     "feedback recorded",
	})
}

// handleFeedbackStats serves GET /feedback/stats with per-label counts.
func (s *Server) handleFeedbackStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.FeedbackStats(r.Context())
	if err != nil {
		s.logger.Error("feedback stats failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read feedback stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"labels": stats})
}
