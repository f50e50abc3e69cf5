// Package searchit implements the query-time core of a hybrid
// retrieval-augmented question-answering service: concurrent BM25 and dense
// retrieval fused by Reciprocal Rank Fusion, cross-encoder reranking, and
// grounded answer generation with an explicit abstain policy.
//
// Backend adapters (OpenSearch, Qdrant, PostgreSQL, Kafka) live in
// subpackages; the HTTP gateway binary is cmd/gateway.
package searchit
