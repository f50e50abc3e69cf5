// Package embed provides query embedders for the dense retrieval path.
//
// The static embedder is deterministic and dependency-free, suitable for
// dev and tests; the API embedder calls an OpenAI-compatible embeddings
// endpoint serving the configured model. Either way the output dimension
// must match the dense index, which the gateway verifies at startup.
package embed

import "context"

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// New selects an embedder for the configured model. The reserved model name
// "static" (or an empty endpoint) yields the deterministic hash embedder;
// anything else is served via the OpenAI-compatible API at endpoint.
func New(model string, dim int, endpoint, apiKey string) Embedder {
	if model == "static" || endpoint == "" {
		return NewStatic(dim)
	}
	return NewAPI(endpoint, apiKey, model, dim)
}
