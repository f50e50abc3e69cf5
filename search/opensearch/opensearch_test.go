package opensearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/searchit/searchit"
)

func TestBoolQuery(t *testing.T) {
	a := &Adapter{index: DefaultIndex}

	q := a.boolQuery("go race detector", searchit.Filters{"lang": "en", "tags": "golang"})
	boolQ := q["bool"].(map[string]any)

	must := boolQ["must"].([]any)
	mm := must[0].(map[string]any)["multi_match"].(map[string]any)
	if mm["query"] != "go race detector" {
		t.Errorf("query = %v", mm["query"])
	}
	fields := mm["fields"].([]string)
	if fields[0] != "title^2" || fields[1] != "text" {
		t.Errorf("fields = %v", fields)
	}
	if mm["type"] != "best_fields" {
		t.Errorf("type = %v", mm["type"])
	}

	filter := boolQ["filter"].([]any)
	if len(filter) != 2 {
		t.Fatalf("filter clauses = %d, want 2", len(filter))
	}
}

func TestBoolQueryNoFilters(t *testing.T) {
	a := &Adapter{index: DefaultIndex}
	q := a.boolQuery("x", nil)
	boolQ := q["bool"].(map[string]any)
	if _, ok := boolQ["filter"]; ok {
		t.Error("empty filters produced a filter clause")
	}
}

func TestFilterClausesIgnoresUnknownKeys(t *testing.T) {
	clauses := filterClauses(searchit.Filters{"lang": "en", "author": "x"})
	if len(clauses) != 1 {
		t.Fatalf("clauses = %d, want 1 (unknown keys ignored)", len(clauses))
	}
	term := clauses[0].(map[string]any)["term"].(map[string]any)
	if term["lang"] != "en" {
		t.Errorf("term = %v", term)
	}
}

func TestSearchParsesHits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"hits": map[string]any{
				"hits": []map[string]any{
					{
						"_score": 9.4,
						"_source": map[string]any{
							"doc_id":   "d1",
							"chunk_id": "c1",
							"title":    "Race Detector",
							"text":     "The race detector finds data races.",
							"lang":     "en",
							"tags":     []string{"golang", "tools"},
							"tokens":   7,
						},
					},
					{
						"_score":  4.1,
						"_source": map[string]any{"doc_id": "d2", "chunk_id": "c2", "text": "other"},
					},
				},
			},
		})
	}))
	defer srv.Close()

	a, err := New(srv.URL, 768)
	if err != nil {
		t.Fatal(err)
	}

	results, err := a.Search(context.Background(), "race detector", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("len = %d, want 2", len(results))
	}
	first := results[0]
	if first.ChunkID != "c1" || first.Score != 9.4 || first.Lang != "en" {
		t.Errorf("first = %+v", first)
	}
	if len(first.Tags) != 2 || first.Tags[0] != "golang" {
		t.Errorf("tags = %v", first.Tags)
	}
}

func TestSearchCreatesMissingIndexAndRetries(t *testing.T) {
	searches := 0
	created := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodHead: // index exists check
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPut: // index creation
			created = true
			_ = json.NewEncoder(w).Encode(map[string]any{"acknowledged": true})
		default: // search
			searches++
			if !created {
				w.WriteHeader(http.StatusNotFound)
				_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"type": "index_not_found_exception"}})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"hits": map[string]any{"hits": []any{}}})
		}
	}))
	defer srv.Close()

	a, err := New(srv.URL, 768)
	if err != nil {
		t.Fatal(err)
	}

	results, err := a.Search(context.Background(), "x", 10, nil)
	if err != nil {
		t.Fatalf("search after lazy creation failed: %v", err)
	}
	if !created {
		t.Error("missing index was not created")
	}
	if searches != 2 {
		t.Errorf("searches = %d, want initial attempt plus one retry", searches)
	}
	if len(results) != 0 {
		t.Errorf("results = %v, want empty", results)
	}
}

func TestFacetsParsesAggregations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"hits": map[string]any{"hits": []any{}},
			"aggregations": map[string]any{
				"lang": map[string]any{"buckets": []map[string]any{
					{"key": "en", "doc_count": 12},
					{"key": "de", "doc_count": 3},
				}},
				"tags": map[string]any{"buckets": []map[string]any{
					{"key": "golang", "doc_count": 7},
				}},
			},
		})
	}))
	defer srv.Close()

	a, err := New(srv.URL, 768)
	if err != nil {
		t.Fatal(err)
	}

	facets, err := a.Facets(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if facets["lang"]["en"] != 12 || facets["lang"]["de"] != 3 {
		t.Errorf("lang facet = %v", facets["lang"])
	}
	if facets["tags"]["golang"] != 7 {
		t.Errorf("tags facet = %v", facets["tags"])
	}
}

func TestSearchBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	a, err := New(srv.URL, 768)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := a.Search(context.Background(), "x", 10, nil); err == nil {
		t.Fatal("want error from 500 response")
	}
}
