// Package qdrant implements the dense (vector) read path against a Qdrant
// collection. Points are chunk embeddings; the full chunk rides along in the
// payload so dense hits need no secondary lookup.
package qdrant

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/qdrant/go-client/qdrant"

	"github.com/searchit/searchit"
)

// DefaultCollection is the chunk collection name.
const DefaultCollection = "chunks"

// Adapter is the dense search adapter.
type Adapter struct {
	client     *qdrant.Client
	collection string
	dim        int
}

var _ searchit.DenseSearcher = (*Adapter)(nil)

// Option configures an Adapter.
type Option func(*Adapter)

// WithCollection overrides the collection name (default "chunks").
func WithCollection(name string) Option {
	return func(a *Adapter) {
		if name != "" {
			a.collection = name
		}
	}
}

// New creates an adapter for the Qdrant instance at rawURL. dim is the
// vector dimension the collection must carry.
func New(rawURL string, dim int, opts ...Option) (*Adapter, error) {
	host, port, useTLS, err := parseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid qdrant url: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant client: %w", err)
	}

	a := &Adapter{
		client:     client,
		collection: DefaultCollection,
		dim:        dim,
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// parseURL extracts host, gRPC port, and TLS setting. The gRPC port
// defaults to 6334 when the URL does not name one.
func parseURL(rawURL string) (host string, port int, useTLS bool, err error) {
	port = 6334

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", 0, false, err
	}
	useTLS = u.Scheme == "https"

	host = u.Hostname()
	if host == "" {
		return "", 0, false, fmt.Errorf("missing host in %q", rawURL)
	}
	if portStr := u.Port(); portStr != "" {
		port, err = strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("invalid port: %w", err)
		}
	}
	return host, port, useTLS, nil
}

// Init ensures the collection exists with cosine distance at the configured
// dimension. An existing collection with a different vector size returns
// ErrDimensionMismatch; the gateway treats that as fatal at startup.
func (a *Adapter) Init(ctx context.Context) error {
	collections, err := a.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}

	for _, c := range collections {
		if c != a.collection {
			continue
		}
		info, err := a.client.GetCollectionInfo(ctx, a.collection)
		if err != nil {
			return fmt.Errorf("collection info: %w", err)
		}
		if params := info.GetConfig().GetParams().GetVectorsConfig().GetParams(); params != nil {
			if got := int(params.GetSize()); got != a.dim {
				return &searchit.ErrDimensionMismatch{Want: a.dim, Got: got}
			}
		}
		return nil
	}

	err = a.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: a.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(a.dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	return nil
}

// Search runs a similarity query over the chunk collection, restricted by
// conjunctive payload matches on lang and tags. Results arrive in descending
// similarity order.
func (a *Adapter) Search(ctx context.Context, vector []float32, size int, filters searchit.Filters) ([]searchit.ScoredChunk, error) {
	if len(vector) != a.dim {
		return nil, &searchit.ErrDimensionMismatch{Want: a.dim, Got: len(vector)}
	}

	var conditions []*qdrant.Condition
	for _, field := range []string{"lang", "tags"} {
		if v, ok := filters[field]; ok {
			conditions = append(conditions, qdrant.NewMatch(field, v))
		}
	}
	var filter *qdrant.Filter
	if len(conditions) > 0 {
		filter = &qdrant.Filter{Must: conditions}
	}

	points, err := a.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: a.collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         filter,
		WithPayload:    qdrant.NewWithPayload(true),
		Limit:          qdrant.PtrOf(uint64(size)),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}

	results := make([]searchit.ScoredChunk, 0, len(points))
	for _, p := range points {
		results = append(results, searchit.ScoredChunk{
			Chunk: payloadToChunk(p.Payload),
			Score: float64(p.Score),
		})
	}
	return results, nil
}

// Close releases the gRPC connection.
func (a *Adapter) Close() error {
	return a.client.Close()
}

func payloadToChunk(payload map[string]*qdrant.Value) searchit.Chunk {
	var c searchit.Chunk
	if payload == nil {
		return c
	}
	if v, ok := payload["doc_id"]; ok {
		c.DocID = v.GetStringValue()
	}
	if v, ok := payload["chunk_id"]; ok {
		c.ChunkID = v.GetStringValue()
	}
	if v, ok := payload["title"]; ok {
		c.Title = v.GetStringValue()
	}
	if v, ok := payload["text"]; ok {
		c.Text = v.GetStringValue()
	}
	if v, ok := payload["url"]; ok {
		c.URL = v.GetStringValue()
	}
	if v, ok := payload["section"]; ok {
		c.Section = v.GetStringValue()
	}
	if v, ok := payload["lang"]; ok {
		c.Lang = v.GetStringValue()
	}
	if v, ok := payload["tags"]; ok {
		if list := v.GetListValue(); list != nil {
			for _, item := range list.Values {
				if s := item.GetStringValue(); s != "" {
					c.Tags = append(c.Tags, s)
				}
			}
		}
	}
	if v, ok := payload["tokens"]; ok {
		c.Tokens = int(v.GetIntegerValue())
	}
	return c
}
