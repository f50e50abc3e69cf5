package searchit

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/searchit/searchit/metrics"
)

// LexicalSearcher is the read contract of the BM25 backend (C1).
type LexicalSearcher interface {
	// Search returns up to size chunks ordered by descending BM25 score.
	Search(ctx context.Context, query string, size int, filters Filters) ([]ScoredChunk, error)
	// Facets returns value counts for the lang and tags fields, restricted
	// by the same conjunctive filters.
	Facets(ctx context.Context, filters Filters) (map[string]map[string]int, error)
}

// DenseSearcher is the read contract of the vector backend (C2). Scores are
// cosine similarities, higher is better.
type DenseSearcher interface {
	Search(ctx context.Context, vector []float32, size int, filters Filters) ([]ScoredChunk, error)
}

// Embedder turns query text into the fixed-dimension vector the dense index
// was built with.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// HybridRetriever fans a query out to the lexical and dense backends in
// parallel and fuses the two rank lists with RRF. Backend failures degrade
// to empty lists and a failure counter; retrieval never errors to the
// caller.
type HybridRetriever struct {
	lexical  LexicalSearcher
	dense    DenseSearcher
	embedder Embedder
	rrfK     int
	logger   *slog.Logger
}

// RetrieverOption configures a HybridRetriever.
type RetrieverOption func(*HybridRetriever)

// WithRRFK overrides the RRF smoothing constant (default 60).
func WithRRFK(k int) RetrieverOption {
	return func(r *HybridRetriever) {
		if k > 0 {
			r.rrfK = k
		}
	}
}

// WithRetrieverLogger sets the logger.
func WithRetrieverLogger(l *slog.Logger) RetrieverOption {
	return func(r *HybridRetriever) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewHybridRetriever composes the two search adapters and the query
// embedder.
func NewHybridRetriever(lexical LexicalSearcher, dense DenseSearcher, embedder Embedder, opts ...RetrieverOption) *HybridRetriever {
	r := &HybridRetriever{
		lexical:  lexical,
		dense:    dense,
		embedder: embedder,
		rrfK:     DefaultRRFK,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Search runs hybrid retrieval: both backends are queried concurrently with
// size 2*topK, fused to topK, and (when withFacets is set) facet counts are
// fetched with the same filters. The response reflects one consistent fusion
// of the two snapshots taken when each call returned.
func (r *HybridRetriever) Search(ctx context.Context, query string, topK int, filters Filters, withFacets bool) SearchResponse {
	fetch := 2 * topK

	var lex, dense []ScoredChunk
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := r.lexical.Search(gctx, query, fetch, filters)
		if err != nil {
			r.logger.Warn("lexical search degraded", "error", err, "query", query)
			metrics.BackendFailures.WithLabelValues("opensearch").Inc()
			return nil
		}
		lex = res
		return nil
	})
	g.Go(func() error {
		vec, err := r.embedder.Embed(gctx, query)
		if err != nil {
			r.logger.Warn("query embedding degraded", "error", err)
			metrics.BackendFailures.WithLabelValues("embed").Inc()
			return nil
		}
		res, err := r.dense.Search(gctx, vec, fetch, filters)
		if err != nil {
			r.logger.Warn("dense search degraded", "error", err, "query", query)
			metrics.BackendFailures.WithLabelValues("qdrant").Inc()
			return nil
		}
		dense = res
		return nil
	})
	_ = g.Wait() // branches swallow their own failures

	metrics.StageLatency.WithLabelValues("retrieve").Observe(time.Since(start).Seconds())
	metrics.RetrievedSources.WithLabelValues("bm25").Add(float64(len(lex)))
	metrics.RetrievedSources.WithLabelValues("dense").Add(float64(len(dense)))

	results := Fuse(lex, dense, topK, r.rrfK)

	var facets map[string]map[string]int
	if withFacets {
		var err error
		facets, err = r.lexical.Facets(ctx, filters)
		if err != nil {
			r.logger.Warn("facets degraded", "error", err)
			metrics.BackendFailures.WithLabelValues("opensearch").Inc()
			facets = map[string]map[string]int{}
		}
	}

	r.logger.Info("hybrid search done",
		"query", query,
		"bm25_candidates", len(lex),
		"dense_candidates", len(dense),
		"fused", len(results))

	return SearchResponse{
		Query:   query,
		Results: results,
		Facets:  facets,
		Total:   len(results),
	}
}
