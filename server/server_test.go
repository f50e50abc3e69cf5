package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/searchit/searchit"
)

type fakeSearcher struct {
	resp      searchit.SearchResponse
	gotTopK   int
	gotFacets bool
}

func (f *fakeSearcher) Search(_ context.Context, query string, topK int, _ searchit.Filters, withFacets bool) searchit.SearchResponse {
	f.gotTopK = topK
	f.gotFacets = withFacets
	f.resp.Query = query
	return f.resp
}

type fakeReranker struct{}

func (fakeReranker) Rerank(_ context.Context, _ string, cands []searchit.RetrievedChunk, topK int) []searchit.RetrievedChunk {
	if len(cands) > topK {
		cands = cands[:topK]
	}
	return cands
}

type fakeGenerator struct {
	resp searchit.AskResponse
}

func (f fakeGenerator) Generate(context.Context, string, []searchit.RetrievedChunk, bool) searchit.AskResponse {
	return f.resp
}

type fakeStore struct {
	id       string
	err      error
	stored   []searchit.Feedback
	statsErr error
}

func (f *fakeStore) StoreFeedback(_ context.Context, fb searchit.Feedback) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.stored = append(f.stored, fb)
	return f.id, nil
}

func (f *fakeStore) FeedbackStats(context.Context) (map[string]int, error) {
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	return map[string]int{"click": 3}, nil
}

type fakeEvents struct {
	searches  int
	feedbacks int
	asks      int
}

func (f *fakeEvents) SearchQuery(context.Context, string, int, int)      { f.searches++ }
func (f *fakeEvents) FeedbackEvent(context.Context, searchit.Feedback)   { f.feedbacks++ }
func (f *fakeEvents) AskAnswer(context.Context, string, searchit.AskResponse) { f.asks++ }

type allowAll struct{}

func (allowAll) Allow(string) bool { return true }

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

func testParams() Params {
	return Params{DefaultTopK: 10, MaxTopK: 100, RerankTopK: 50, FinalTopK: 8}
}

func newTestServer(t *testing.T, searcher Searcher, gen Generator, store FeedbackStore, limiter Limiter, events EventPublisher) http.Handler {
	t.Helper()
	if searcher == nil {
		searcher = &fakeSearcher{}
	}
	if gen == nil {
		gen = fakeGenerator{}
	}
	if store == nil {
		store = &fakeStore{id: "fb-1"}
	}
	if limiter == nil {
		limiter = allowAll{}
	}
	s := New(searcher, fakeReranker{}, gen, store, limiter, testParams(), WithEvents(events))
	return s.Router()
}

func TestSearchValidation(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want int
	}{
		{"missing q", "/search", http.StatusBadRequest},
		{"blank q", "/search?q=%20", http.StatusBadRequest},
		{"top_k zero", "/search?q=x&top_k=0", http.StatusBadRequest},
		{"top_k negative", "/search?q=x&top_k=-1", http.StatusBadRequest},
		{"top_k over max", "/search?q=x&top_k=101", http.StatusBadRequest},
		{"top_k not a number", "/search?q=x&top_k=ten", http.StatusBadRequest},
		{"valid", "/search?q=x", http.StatusOK},
		{"valid with top_k", "/search?q=x&top_k=100", http.StatusOK},
	}

	h := newTestServer(t, nil, nil, nil, nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.url, nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestSearchResponseShape(t *testing.T) {
	searcher := &fakeSearcher{resp: searchit.SearchResponse{
		Results: []searchit.RetrievedChunk{
			{Chunk: searchit.Chunk{DocID: "d1", ChunkID: "c1", Text: "hit"}, FusionScore: 0.03},
		},
		Facets: map[string]map[string]int{"lang": {"en": 4}},
		Total:  1,
	}}
	events := &fakeEvents{}
	h := newTestServer(t, searcher, nil, nil, nil, events)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search?q=race+detector", nil))

	var resp searchit.SearchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Query != "race detector" || resp.Total != 1 {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Facets["lang"]["en"] != 4 {
		t.Errorf("facets = %v", resp.Facets)
	}
	if searcher.gotTopK != 10 {
		t.Errorf("default top_k = %d, want 10", searcher.gotTopK)
	}
	if events.searches != 1 {
		t.Errorf("search events = %d, want 1", events.searches)
	}
}

func TestSearchAlwaysFetchesFacets(t *testing.T) {
	urls := []string{
		"/search?q=x",
		"/search?q=x&with_highlights=true",
		"/search?q=x&filters=lang:en",
	}
	for _, url := range urls {
		searcher := &fakeSearcher{}
		h := newTestServer(t, searcher, nil, nil, nil, nil)

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", url, rec.Code)
		}
		if !searcher.gotFacets {
			t.Errorf("%s: facets not requested", url)
		}
	}
}

func TestAskRateLimited(t *testing.T) {
	h := newTestServer(t, nil, nil, nil, denyAll{}, nil)

	body := strings.NewReader(`{"question":"what is rrf?"}`)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ask", body))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
}

func TestAskValidation(t *testing.T) {
	h := newTestServer(t, nil, nil, nil, nil, nil)

	tests := []struct {
		name string
		body string
	}{
		{"empty body", ``},
		{"missing question", `{}`},
		{"blank question", `{"question":"  "}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(tt.body)))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestAskAnsweredFlow(t *testing.T) {
	searcher := &fakeSearcher{resp: searchit.SearchResponse{
		Results: []searchit.RetrievedChunk{
			{Chunk: searchit.Chunk{ChunkID: "c1", Text: "evidence"}, RerankScore: 0.9},
		},
		Total: 1,
	}}
	gen := fakeGenerator{resp: searchit.Answered("the answer",
		[]searchit.Citation{{ChunkID: "c1", Span: searchit.Span{Start: 0, End: 8}}}, 0.2)}
	events := &fakeEvents{}
	h := newTestServer(t, searcher, gen, nil, nil, events)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ask",
		strings.NewReader(`{"question":"what is rrf?"}`)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var reply searchit.AskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatal(err)
	}
	if reply.Abstained || reply.Answer != "the answer" || len(reply.Citations) != 1 {
		t.Errorf("reply = %+v", reply)
	}
	// The body is the AskResponse verbatim, no envelope fields.
	var raw map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &raw)
	if _, ok := raw["query"]; ok {
		t.Error("response carries extra query field")
	}
	// Retrieval always uses the fused candidate pool, not the user top_k.
	if searcher.gotTopK != 100 {
		t.Errorf("retrieve top_k = %d, want 100", searcher.gotTopK)
	}
	if events.asks != 1 {
		t.Errorf("ask events = %d, want 1", events.asks)
	}
}

func TestAskAbstainedIsOK(t *testing.T) {
	gen := fakeGenerator{resp: searchit.Abstained(searchit.AbstainNoResults)}
	h := newTestServer(t, nil, gen, nil, nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ask",
		strings.NewReader(`{"question":"anything"}`)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for abstention", rec.Code)
	}
	var reply searchit.AskResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &reply)
	if !reply.Abstained || reply.Reason != searchit.AbstainNoResults {
		t.Errorf("reply = %+v", reply)
	}
}

func TestFeedbackRecorded(t *testing.T) {
	store := &fakeStore{id: "fb-42"}
	events := &fakeEvents{}
	h := newTestServer(t, nil, nil, store, nil, events)

	body, _ := json.Marshal(searchit.Feedback{Query: "go generics", ChunkID: "c1", Label: "click"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/feedback", bytes.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var resp map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["status"] != "success" {
		t.Errorf("status = %q, want success", resp["status"])
	}
	if resp["feedback_id"] != "fb-42" {
		t.Errorf("feedback_id = %q", resp["feedback_id"])
	}
	if resp["message"] == "" {
		t.Error("message missing")
	}
	if len(store.stored) != 1 || events.feedbacks != 1 {
		t.Errorf("stored = %d, events = %d, want 1 each", len(store.stored), events.feedbacks)
	}
}

func TestFeedbackInvalidLabel(t *testing.T) {
	store := &fakeStore{id: "x"}
	events := &fakeEvents{}
	h := newTestServer(t, nil, nil, store, nil, events)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/feedback",
		strings.NewReader(`{"query":"q","label":"love it"}`)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	// Rejected feedback writes nothing and emits nothing.
	if len(store.stored) != 0 {
		t.Error("invalid feedback was stored")
	}
	if events.feedbacks != 0 {
		t.Error("invalid feedback emitted an event")
	}
}

func TestFeedbackMissingQuery(t *testing.T) {
	h := newTestServer(t, nil, nil, nil, nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/feedback",
		strings.NewReader(`{"label":"click"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestFeedbackStoreError(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	events := &fakeEvents{}
	h := newTestServer(t, nil, nil, store, nil, events)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/feedback",
		strings.NewReader(`{"query":"q","label":"click"}`)))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if events.feedbacks != 0 {
		t.Error("failed store still emitted an event")
	}
}

func TestFeedbackStats(t *testing.T) {
	h := newTestServer(t, nil, nil, nil, nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/feedback/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Labels map[string]int `json:"labels"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Labels["click"] != 3 {
		t.Errorf("labels = %v", resp.Labels)
	}
}

func TestHealthAndRoot(t *testing.T) {
	h := newTestServer(t, nil, nil, nil, nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
	var health map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &health)
	if health["status"] != "healthy" {
		t.Errorf("health = %v", health)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("root status = %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t, nil, nil, nil, nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "rag_request_total") {
		t.Error("metrics exposition missing request counter")
	}
}
