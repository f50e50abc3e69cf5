package searchit

import (
	"strings"
	"time"
)

// Chunk is the unit of retrieval: an addressable piece of text belonging to
// a parent document. ChunkID is the primary key across both search backends
// and the metadata store; two chunks with equal ChunkID refer to identical
// text.
type Chunk struct {
	DocID   string   `json:"doc_id"`
	ChunkID string   `json:"chunk_id"`
	Title   string   `json:"title,omitempty"`
	Text    string   `json:"text"`
	URL     string   `json:"url,omitempty"`
	Section string   `json:"section,omitempty"`
	Lang    string   `json:"lang,omitempty"`
	Tags    []string `json:"tags,omitempty"`
	Tokens  int      `json:"tokens,omitempty"`
}

// ScoredChunk is a chunk with its backend-native relevance score
// (BM25 for the lexical backend, cosine similarity for the dense backend).
type ScoredChunk struct {
	Chunk
	Score float64 `json:"score"`
}

// RetrievedChunk is a chunk carrying per-query scoring after fusion and
// (optionally) reranking. Ranks are 1-based; a zero rank means the chunk was
// absent from that backend's result list.
type RetrievedChunk struct {
	Chunk
	FusionScore float64 `json:"fusion_score"`
	BM25Rank    int     `json:"bm25_rank,omitempty"`
	BM25Score   float64 `json:"bm25_score,omitempty"`
	DenseRank   int     `json:"dense_rank,omitempty"`
	DenseScore  float64 `json:"dense_score,omitempty"`
	RerankScore float64 `json:"rerank_score"`
}

// SearchResponse is the payload of the search operation.
type SearchResponse struct {
	Query   string                    `json:"query"`
	Results []RetrievedChunk          `json:"results"`
	Facets  map[string]map[string]int `json:"facets"`
	Total   int                       `json:"total"`
}

// Span is a half-open byte range [Start, End) into a context's text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Citation references a span of one of the contexts supplied to the
// generator for the current request.
type Citation struct {
	ChunkID string `json:"chunk_id"`
	Span    Span   `json:"span"`
}

// AbstainReason is the machine-readable reason attached to an abstention.
type AbstainReason string

const (
	AbstainNoResults      AbstainReason = "no_results"
	AbstainLowCoverage    AbstainReason = "low_coverage"
	AbstainValidationFail AbstainReason = "validation_fail"
	AbstainNoContext      AbstainReason = "no_context"
)

// AskResponse is either a grounded answer (Abstained=false, with Answer,
// ordered Citations and EvidenceCoverage in [0,1]) or an abstention
// (Abstained=true with a populated Reason and no answer fields).
// Construct via Answered or Abstained to keep the two shapes disjoint.
type AskResponse struct {
	Abstained        bool          `json:"abstained"`
	Reason           AbstainReason `json:"reason,omitempty"`
	Answer           string        `json:"answer,omitempty"`
	Citations        []Citation    `json:"citations,omitempty"`
	EvidenceCoverage float64       `json:"evidence_coverage,omitempty"`
}

// Answered builds the answer variant of AskResponse.
func Answered(answer string, citations []Citation, coverage float64) AskResponse {
	return AskResponse{
		Answer:           answer,
		Citations:        citations,
		EvidenceCoverage: coverage,
	}
}

// Abstained builds the abstention variant of AskResponse.
func Abstained(reason AbstainReason) AskResponse {
	return AskResponse{Abstained: true, Reason: reason}
}

// Feedback is a user interaction record. DocID, ChunkID and UserID are
// optional; Label must be one of the closed label set.
type Feedback struct {
	Query   string `json:"query"`
	DocID   string `json:"doc_id,omitempty"`
	ChunkID string `json:"chunk_id,omitempty"`
	Label   string `json:"label"`
	UserID  string `json:"user_id,omitempty"`
}

// FeedbackLabels is the closed set of accepted feedback labels.
var FeedbackLabels = []string{"click", "relevant", "not_relevant", "thumbs_up", "thumbs_down"}

// ValidLabel reports whether label belongs to the closed feedback label set.
func ValidLabel(label string) bool {
	for _, l := range FeedbackLabels {
		if label == l {
			return true
		}
	}
	return false
}

// Document is parent-document metadata kept in the metadata store.
type Document struct {
	DocID     string    `json:"doc_id"`
	Title     string    `json:"title,omitempty"`
	URL       string    `json:"url,omitempty"`
	Lang      string    `json:"lang,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	Source    string    `json:"source,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Filters is a conjunctive field->value filter map applied to both search
// backends. Only the lang and tags fields are interpreted; unknown keys are
// carried but ignored by the adapters.
type Filters map[string]string

// ParseFilters parses the "k1:v1,k2:v2" filter grammar. Whitespace around
// tokens is stripped; items without a colon are skipped. An empty string
// yields a nil map.
func ParseFilters(s string) Filters {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	f := make(Filters)
	for _, item := range strings.Split(s, ",") {
		key, value, ok := strings.Cut(item, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		f[key] = value
	}
	if len(f) == 0 {
		return nil
	}
	return f
}
