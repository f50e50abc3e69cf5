// Package postgres implements the metadata store: parent documents, chunk
// text, and user feedback.
//
// Store accepts an externally-owned *pgxpool.Pool via constructor injection.
// The caller creates and closes the pool.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/searchit/searchit"
)

// Store is the PostgreSQL metadata store.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates all required tables and indexes.
// Safe to call multiple times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			doc_id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			lang TEXT NOT NULL DEFAULT '',
			tags TEXT[] NOT NULL DEFAULT '{}',
			source TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		`CREATE TABLE IF NOT EXISTS chunks (
			chunk_id TEXT PRIMARY KEY,
			doc_id TEXT NOT NULL REFERENCES documents(doc_id) ON DELETE CASCADE,
			section TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL,
			tokens INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS chunks_doc_idx ON chunks(doc_id)`,

		`CREATE TABLE IF NOT EXISTS feedback (
			id TEXT PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL DEFAULT now(),
			query TEXT NOT NULL,
			doc_id TEXT,
			chunk_id TEXT,
			label TEXT NOT NULL,
			user_id TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS feedback_label_idx ON feedback(label)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	return nil
}

// StoreDocument inserts or replaces a parent document.
func (s *Store) StoreDocument(ctx context.Context, doc searchit.Document) error {
	tags := doc.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (doc_id, title, url, lang, tags, source, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (doc_id) DO UPDATE SET
		   title = EXCLUDED.title,
		   url = EXCLUDED.url,
		   lang = EXCLUDED.lang,
		   tags = EXCLUDED.tags,
		   source = EXCLUDED.source,
		   updated_at = EXCLUDED.updated_at`,
		doc.DocID, doc.Title, doc.URL, doc.Lang, tags, doc.Source, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: store document: %w", err)
	}
	return nil
}

// GetDocument returns a document by id. A missing document is an error.
func (s *Store) GetDocument(ctx context.Context, docID string) (searchit.Document, error) {
	var d searchit.Document
	err := s.pool.QueryRow(ctx,
		`SELECT doc_id, title, url, lang, tags, source, updated_at FROM documents WHERE doc_id = $1`,
		docID,
	).Scan(&d.DocID, &d.Title, &d.URL, &d.Lang, &d.Tags, &d.Source, &d.UpdatedAt)
	if err != nil {
		return searchit.Document{}, fmt.Errorf("postgres: get document: %w", err)
	}
	return d, nil
}

// StoreChunk inserts or replaces a chunk's canonical text.
func (s *Store) StoreChunk(ctx context.Context, chunk searchit.Chunk) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chunks (chunk_id, doc_id, section, text, tokens)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (chunk_id) DO UPDATE SET
		   doc_id = EXCLUDED.doc_id,
		   section = EXCLUDED.section,
		   text = EXCLUDED.text,
		   tokens = EXCLUDED.tokens`,
		chunk.ChunkID, chunk.DocID, chunk.Section, chunk.Text, chunk.Tokens)
	if err != nil {
		return fmt.Errorf("postgres: store chunk: %w", err)
	}
	return nil
}

// StoreFeedback records a feedback event and returns its generated id.
// Optional fields persist as NULL rather than empty strings so that
// aggregate queries can distinguish absent from blank.
func (s *Store) StoreFeedback(ctx context.Context, fb searchit.Feedback) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO feedback (id, ts, query, doc_id, chunk_id, label, user_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		searchit.NewID(), searchit.NowUTC(), fb.Query,
		nullable(fb.DocID), nullable(fb.ChunkID), fb.Label, nullable(fb.UserID),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("postgres: store feedback: %w", err)
	}
	return id, nil
}

// FeedbackStats returns per-label feedback counts.
func (s *Store) FeedbackStats(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT label, count(*) FROM feedback GROUP BY label`)
	if err != nil {
		return nil, fmt.Errorf("postgres: feedback stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var label string
		var count int
		if err := rows.Scan(&label, &count); err != nil {
			return nil, fmt.Errorf("postgres: scan feedback stats: %w", err)
		}
		stats[label] = count
	}
	return stats, rows.Err()
}

// Close is a no-op. The caller owns the pool and manages its lifecycle.
func (s *Store) Close() error {
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
