package searchit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/searchit/searchit/metrics"
)

// Reranker re-scores fused candidates with a pairwise (query, text) relevance
// model. Implementations never fail the caller: when the model is
// unavailable they return the first topK candidates in input order with
// RerankScore 0 and record the degradation.
//
// The returned ordering is deterministic: descending RerankScore with input
// order preserved on ties (stable sort), truncated to min(topK, len(cands)).
type Reranker interface {
	Rerank(ctx context.Context, query string, cands []RetrievedChunk, topK int) []RetrievedChunk
}

// sortByRerankScore orders candidates by score descending, stable on ties,
// and truncates to topK.
func sortByRerankScore(cands []RetrievedChunk, topK int) []RetrievedChunk {
	out := make([]RetrievedChunk, len(cands))
	copy(out, cands)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RerankScore > out[j].RerankScore
	})
	if topK >= 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

// passthrough returns the first topK candidates in input order with
// RerankScore zeroed. Used when the model cannot score.
func passthrough(cands []RetrievedChunk, topK int) []RetrievedChunk {
	n := len(cands)
	if topK >= 0 && n > topK {
		n = topK
	}
	out := make([]RetrievedChunk, n)
	copy(out, cands[:n])
	for i := range out {
		out[i].RerankScore = 0
	}
	return out
}

// --- CrossEncoder ---

// CrossEncoder scores (query, text) pairs against an HTTP reranking endpoint
// speaking the text-embeddings-inference protocol: POST /rerank with
// {"query": ..., "texts": [...]} answered by [{"index": i, "score": s}].
// The model is loaded once by the serving process; this client is safe for
// concurrent use.
type CrossEncoder struct {
	endpoint   string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ Reranker = (*CrossEncoder)(nil)

// CrossEncoderOption configures a CrossEncoder.
type CrossEncoderOption func(*CrossEncoder)

// WithCrossEncoderHTTPClient swaps the HTTP client (timeouts, proxies).
func WithCrossEncoderHTTPClient(c *http.Client) CrossEncoderOption {
	return func(ce *CrossEncoder) {
		if c != nil {
			ce.httpClient = c
		}
	}
}

// NewCrossEncoder creates a reranker backed by the given endpoint and model
// name.
func NewCrossEncoder(endpoint, model string, opts ...CrossEncoderOption) *CrossEncoder {
	ce := &CrossEncoder{
		endpoint:   strings.TrimRight(endpoint, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(ce)
	}
	return ce
}

type rerankRequest struct {
	Model string   `json:"model,omitempty"`
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

type rerankResult struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Rerank scores each (query, candidate.Text) pair and sorts descending by
// score. On any transport or protocol failure it degrades to passthrough.
func (ce *CrossEncoder) Rerank(ctx context.Context, query string, cands []RetrievedChunk, topK int) []RetrievedChunk {
	if len(cands) == 0 {
		return []RetrievedChunk{}
	}

	start := time.Now()
	scores, err := ce.predict(ctx, query, cands)
	metrics.StageLatency.WithLabelValues("rerank").Observe(time.Since(start).Seconds())
	if err != nil {
		ce.logger.Warn("rerank degraded to passthrough", "error", err, "candidates", len(cands))
		metrics.RerankDegraded.Inc()
		return passthrough(cands, topK)
	}

	scored := make([]RetrievedChunk, len(cands))
	copy(scored, cands)
	for i := range scored {
		scored[i].RerankScore = scores[i]
	}
	return sortByRerankScore(scored, topK)
}

// predict returns one score per candidate, in candidate order.
func (ce *CrossEncoder) predict(ctx context.Context, query string, cands []RetrievedChunk) ([]float64, error) {
	texts := make([]string, len(cands))
	for i, c := range cands {
		texts[i] = c.Text
	}
	payload, err := json.Marshal(rerankRequest{Model: ce.model, Query: query, Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ce.endpoint+"/rerank", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ce.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &ErrHTTP{Status: resp.StatusCode, Body: string(body)}
	}

	var results []rerankResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}

	scores := make([]float64, len(cands))
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(scores) {
			return nil, fmt.Errorf("rerank result index %d out of range", r.Index)
		}
		scores[r.Index] = r.Score
	}
	return scores, nil
}

// --- OverlapReranker ---

// OverlapReranker is the deterministic stub model for dev and tests: it
// scores each candidate by query-term overlap. Scoring is CPU-bound and runs
// on a bounded worker pool; results do not depend on scheduling order.
type OverlapReranker struct {
	workers int
}

var _ Reranker = (*OverlapReranker)(nil)

// NewOverlapReranker creates the stub reranker. workers bounds the scoring
// pool; values below 1 mean a sensible default.
func NewOverlapReranker(workers int) *OverlapReranker {
	if workers < 1 {
		workers = 4
	}
	return &OverlapReranker{workers: workers}
}

// Rerank scores candidates by term overlap with the query and sorts
// descending, stable on ties.
func (r *OverlapReranker) Rerank(ctx context.Context, query string, cands []RetrievedChunk, topK int) []RetrievedChunk {
	if len(cands) == 0 {
		return []RetrievedChunk{}
	}

	start := time.Now()
	defer func() {
		metrics.StageLatency.WithLabelValues("rerank").Observe(time.Since(start).Seconds())
	}()

	queryTerms := termSet(query)
	scored := make([]RetrievedChunk, len(cands))
	copy(scored, cands)

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i := range scored {
		g.Go(func() error {
			scored[i].RerankScore = overlapScore(queryTerms, scored[i].Text)
			return nil
		})
	}
	_ = g.Wait() // workers never error

	return sortByRerankScore(scored, topK)
}

// overlapScore is |query terms present in text| / |query terms|, in [0,1].
func overlapScore(queryTerms map[string]struct{}, text string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	textTerms := termSet(text)
	matched := 0
	for t := range queryTerms {
		if _, ok := textTerms[t]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTerms))
}

func termSet(s string) map[string]struct{} {
	terms := make(map[string]struct{})
	for _, f := range strings.Fields(strings.ToLower(s)) {
		f = strings.Trim(f, ".,;:!?\"'()[]")
		if f != "" {
			terms[f] = struct{}{}
		}
	}
	return terms
}
