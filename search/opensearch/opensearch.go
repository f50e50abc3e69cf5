// Package opensearch implements the lexical (BM25) read path against an
// OpenSearch index. Documents are keyed by chunk_id in the index named
// "chunks"; a missing index is created lazily from the published mapping.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	opensearchgo "github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/searchit/searchit"
)

// DefaultIndex is the chunk index name.
const DefaultIndex = "chunks"

// Adapter is the lexical search adapter. It is safe for concurrent use; the
// underlying client pools connections.
type Adapter struct {
	client *opensearchgo.Client
	index  string
	dim    int
	logger *slog.Logger
}

var _ searchit.LexicalSearcher = (*Adapter)(nil)

// Option configures an Adapter.
type Option func(*Adapter)

// WithIndex overrides the index name (default "chunks").
func WithIndex(name string) Option {
	return func(a *Adapter) {
		if name != "" {
			a.index = name
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates an adapter for the OpenSearch node at url. dim is the
// embedding dimension published in the index mapping.
func New(url string, dim int, opts ...Option) (*Adapter, error) {
	client, err := opensearchgo.NewClient(opensearchgo.Config{
		Addresses: []string{url},
	})
	if err != nil {
		return nil, fmt.Errorf("opensearch client: %w", err)
	}
	a := &Adapter{
		client: client,
		index:  DefaultIndex,
		dim:    dim,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Search performs a BM25 multi-match over title (weight 2) and text,
// best-of-fields, with conjunctive term filters on lang and tags. Results
// are ordered by descending score. A missing index is created from the
// published mapping and the search retried once.
func (a *Adapter) Search(ctx context.Context, query string, size int, filters searchit.Filters) ([]searchit.ScoredChunk, error) {
	body := map[string]any{
		"query":   a.boolQuery(query, filters),
		"size":    size,
		"_source": []string{"doc_id", "chunk_id", "title", "text", "url", "section", "lang", "tags", "tokens"},
	}

	var out searchResponse
	if err := a.doSearch(ctx, body, &out); err != nil {
		return nil, err
	}

	results := make([]searchit.ScoredChunk, 0, len(out.Hits.Hits))
	for _, hit := range out.Hits.Hits {
		results = append(results, searchit.ScoredChunk{Chunk: hit.Source, Score: hit.Score})
	}
	return results, nil
}

// Facets returns value counts for lang (top 10) and tags (top 20),
// restricted by the same conjunctive filters as Search.
func (a *Adapter) Facets(ctx context.Context, filters searchit.Filters) (map[string]map[string]int, error) {
	body := map[string]any{
		"size": 0,
		"aggs": map[string]any{
			"lang": map[string]any{"terms": map[string]any{"field": "lang", "size": 10}},
			"tags": map[string]any{"terms": map[string]any{"field": "tags", "size": 20}},
		},
	}
	if clauses := filterClauses(filters); len(clauses) > 0 {
		body["query"] = map[string]any{"bool": map[string]any{"filter": clauses}}
	}

	var out searchResponse
	if err := a.doSearch(ctx, body, &out); err != nil {
		return nil, err
	}

	facets := make(map[string]map[string]int, len(out.Aggregations))
	for name, agg := range out.Aggregations {
		counts := make(map[string]int, len(agg.Buckets))
		for _, b := range agg.Buckets {
			counts[b.Key] = b.DocCount
		}
		facets[name] = counts
	}
	return facets, nil
}

// boolQuery builds the multi-match query with optional filter clauses.
func (a *Adapter) boolQuery(query string, filters searchit.Filters) map[string]any {
	boolQ := map[string]any{
		"must": []any{
			map[string]any{
				"multi_match": map[string]any{
					"query":  query,
					"fields": []string{"title^2", "text"},
					"type":   "best_fields",
				},
			},
		},
	}
	if clauses := filterClauses(filters); len(clauses) > 0 {
		boolQ["filter"] = clauses
	}
	return map[string]any{"bool": boolQ}
}

// filterClauses maps the lang and tags filter keys to term clauses.
// Unknown keys are silently ignored.
func filterClauses(filters searchit.Filters) []any {
	var clauses []any
	for _, field := range []string{"lang", "tags"} {
		if v, ok := filters[field]; ok {
			clauses = append(clauses, map[string]any{"term": map[string]any{field: v}})
		}
	}
	return clauses
}

// doSearch executes the search body, lazily creating the index and retrying
// once when it does not exist yet.
func (a *Adapter) doSearch(ctx context.Context, body map[string]any, out *searchResponse) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	status, err := a.execSearch(ctx, payload, out)
	if err == nil {
		return nil
	}
	if status != 404 {
		return err
	}

	// Index missing: create from the published mapping, retry once.
	if cerr := a.ensureIndex(ctx); cerr != nil {
		return fmt.Errorf("create index %q: %w", a.index, cerr)
	}
	_, err = a.execSearch(ctx, payload, out)
	return err
}

func (a *Adapter) execSearch(ctx context.Context, payload []byte, out *searchResponse) (int, error) {
	req := opensearchapi.SearchRequest{
		Index: []string{a.index},
		Body:  bytes.NewReader(payload),
	}
	res, err := req.Do(ctx, a.client)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return res.StatusCode, &searchit.ErrHTTP{Status: res.StatusCode, Body: string(body)}
	}
	return res.StatusCode, json.NewDecoder(res.Body).Decode(out)
}

// ensureIndex creates the chunk index with the published mapping when it is
// missing. Safe to race: a concurrent creation error is ignored when the
// index turns out to exist.
func (a *Adapter) ensureIndex(ctx context.Context) error {
	exists := opensearchapi.IndicesExistsRequest{Index: []string{a.index}}
	res, err := exists.Do(ctx, a.client)
	if err != nil {
		return err
	}
	res.Body.Close()
	if res.StatusCode == 200 {
		return nil
	}

	create := opensearchapi.IndicesCreateRequest{
		Index: a.index,
		Body:  strings.NewReader(a.mapping()),
	}
	cres, err := create.Do(ctx, a.client)
	if err != nil {
		return err
	}
	defer cres.Body.Close()
	if cres.IsError() && cres.StatusCode != 400 { // 400: created concurrently
		body, _ := io.ReadAll(io.LimitReader(cres.Body, 4096))
		return &searchit.ErrHTTP{Status: cres.StatusCode, Body: string(body)}
	}
	a.logger.Info("opensearch index created", "index", a.index)
	return nil
}

// mapping is the published chunk mapping: keyword facets, weighted text
// fields, and a knn_vector sized to the configured embedding dimension.
func (a *Adapter) mapping() string {
	return fmt.Sprintf(`{
  "settings": {"index": {"knn": true}},
  "mappings": {
    "properties": {
      "doc_id":   {"type": "keyword"},
      "chunk_id": {"type": "keyword"},
      "title":    {"type": "text"},
      "text":     {"type": "text"},
      "url":      {"type": "keyword"},
      "section":  {"type": "keyword"},
      "lang":     {"type": "keyword"},
      "tags":     {"type": "keyword"},
      "tokens":   {"type": "integer"},
      "embedding": {
        "type": "knn_vector",
        "dimension": %d,
        "method": {"name": "hnsw", "space_type": "cosinesimil", "engine": "nmslib"}
      }
    }
  }
}`, a.dim)
}

// searchResponse is the subset of the OpenSearch reply the adapter reads.
type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source searchit.Chunk `json:"_source"`
			Score  float64        `json:"_score"`
		} `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]struct {
		Buckets []struct {
			Key      string `json:"key"`
			DocCount int    `json:"doc_count"`
		} `json:"buckets"`
	} `json:"aggregations"`
}
