// Package server exposes the gateway HTTP API: hybrid search, grounded
// question answering, and feedback capture, plus health and Prometheus
// endpoints.
package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/searchit/searchit"
	"github.com/searchit/searchit/metrics"
)

// Searcher is the hybrid retrieval entry point.
type Searcher interface {
	Search(ctx context.Context, query string, topK int, filters searchit.Filters, withFacets bool) searchit.SearchResponse
}

// Generator produces grounded answers or abstentions.
type Generator interface {
	Generate(ctx context.Context, question string, contexts []searchit.RetrievedChunk, forceCitations bool) searchit.AskResponse
}

// FeedbackStore persists feedback rows.
type FeedbackStore interface {
	StoreFeedback(ctx context.Context, fb searchit.Feedback) (string, error)
	FeedbackStats(ctx context.Context) (map[string]int, error)
}

// EventPublisher emits analytics events. Implementations must not block the
// request path on broker failures.
type EventPublisher interface {
	SearchQuery(ctx context.Context, query string, topK, results int)
	FeedbackEvent(ctx context.Context, fb searchit.Feedback)
	AskAnswer(ctx context.Context, query string, resp searchit.AskResponse)
}

// Limiter admits or denies a request for a client key.
type Limiter interface {
	Allow(client string) bool
}

// Params are the tunables the handlers need from configuration.
type Params struct {
	DefaultTopK int
	MaxTopK     int
	RerankTopK  int
	FinalTopK   int
}

// Server wires the query-time pipeline behind the HTTP surface.
type Server struct {
	searcher  Searcher
	reranker  searchit.Reranker
	generator Generator
	store     FeedbackStore
	events    EventPublisher
	limiter   Limiter
	params    Params
	logger    *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithEvents sets the analytics publisher. Without one, events are skipped.
func WithEvents(p EventPublisher) Option {
	return func(s *Server) { s.events = p }
}

// New creates a Server. searcher, reranker, generator, store and limiter are
// required; events are optional.
func New(searcher Searcher, reranker searchit.Reranker, generator Generator, store FeedbackStore, limiter Limiter, params Params, opts ...Option) *Server {
	s := &Server{
		searcher:  searcher,
		reranker:  reranker,
		generator: generator,
		store:     store,
		limiter:   limiter,
		params:    params,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Router builds the chi router with the full route table.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(s.observe)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Get("/search", s.handleSearch)
	r.Post("/ask", s.handleAsk)
	r.Post("/feedback", s.handleFeedback)
	r.Get("/feedback/stats", s.handleFeedbackStats)

	return r
}

// observe records per-route request counts and latency. The chi route
// pattern keeps label cardinality bounded.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		metrics.RequestTotal.WithLabelValues(route, r.Method).Inc()
		metrics.RequestLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// clientIP extracts the client key for rate limiting. RealIP middleware has
// already folded X-Forwarded-For into RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
