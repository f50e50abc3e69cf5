package searchit

import (
	"sort"
)

// DefaultRRFK is the standard RRF smoothing constant. k=60 is empirically
// validated across domains (Azure AI Search, OpenSearch, Elastic all default
// to it).
const DefaultRRFK = 60

// Fuse merges a lexical and a dense result list with Reciprocal Rank Fusion.
//
// Every distinct (doc_id, chunk_id) key contributes 1/(k+rank) per list it
// appears in, with 1-based ranks. The merged list is sorted by fusion score
// descending; ties break by (bm25_rank, dense_rank) ascending with a missing
// rank treated as +inf, then by lexicographic chunk_id, so the ordering is
// fully deterministic. Display fields come from whichever list provided the
// chunk first, lexical winning on conflict because it carries
// highlight-ready text. The result is truncated to topK.
func Fuse(lex, dense []ScoredChunk, topK, kRRF int) []RetrievedChunk {
	if kRRF <= 0 {
		kRRF = DefaultRRFK
	}
	if len(lex) == 0 && len(dense) == 0 {
		return []RetrievedChunk{}
	}

	type key struct{ docID, chunkID string }
	fused := make(map[key]*RetrievedChunk, len(lex)+len(dense))
	order := make([]key, 0, len(lex)+len(dense))

	for i, sc := range lex {
		rank := i + 1
		k := key{sc.DocID, sc.ChunkID}
		e, ok := fused[k]
		if !ok {
			e = &RetrievedChunk{Chunk: sc.Chunk}
			fused[k] = e
			order = append(order, k)
		}
		e.BM25Rank = rank
		e.BM25Score = sc.Score
		e.FusionScore += 1.0 / float64(kRRF+rank)
	}
	for i, sc := range dense {
		rank := i + 1
		k := key{sc.DocID, sc.ChunkID}
		e, ok := fused[k]
		if !ok {
			e = &RetrievedChunk{Chunk: sc.Chunk}
			fused[k] = e
			order = append(order, k)
		}
		e.DenseRank = rank
		e.DenseScore = sc.Score
		e.FusionScore += 1.0 / float64(kRRF+rank)
	}

	results := make([]RetrievedChunk, 0, len(order))
	for _, k := range order {
		results = append(results, *fused[k])
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.FusionScore != b.FusionScore {
			return a.FusionScore > b.FusionScore
		}
		if ra, rb := rankOrInf(a.BM25Rank), rankOrInf(b.BM25Rank); ra != rb {
			return ra < rb
		}
		if ra, rb := rankOrInf(a.DenseRank), rankOrInf(b.DenseRank); ra != rb {
			return ra < rb
		}
		return a.ChunkID < b.ChunkID
	})

	if topK >= 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}

// rankOrInf maps the zero "absent" rank to a sentinel larger than any real
// rank so missing ranks sort last.
func rankOrInf(rank int) int {
	if rank == 0 {
		return int(^uint(0) >> 1)
	}
	return rank
}
