package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iammorganparry/clive/apps/tutor/internal/models"
)

// PageEmbeddingStore keeps one embedding per (document, page).
type PageEmbeddingStore struct {
	db *DB
}

func NewPageEmbeddingStore(db *DB) *PageEmbeddingStore {
	return &PageEmbeddingStore{db: db}
}

// Upsert writes the page's embedding, replacing any earlier one for the
// same page.
func (s *PageEmbeddingStore) Upsert(ctx context.Context, p *models.PageEmbedding) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO page_embeddings (id, pdf_url, page_number, content_hash, embedding, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pdf_url, page_number) DO UPDATE SET
			content_hash = excluded.content_hash,
			embedding = excluded.embedding,
			model = excluded.model,
			created_at = excluded.created_at
	`, p.ID, p.PDFURL, p.PageNumber, p.ContentHash, encodeVector(p.Embedding), p.Model, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert page embedding: %w", err)
	}
	return nil
}

// Get returns the stored embedding for a page, or nil if none.
func (s *PageEmbeddingStore) Get(ctx context.Context, pdfURL string, page int) (*models.PageEmbedding, error) {
	var (
		p   models.PageEmbedding
		raw []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, pdf_url, page_number, content_hash, embedding, model, created_at
		FROM page_embeddings WHERE pdf_url = ? AND page_number = ?
	`, pdfURL, page).Scan(&p.ID, &p.PDFURL, &p.PageNumber, &p.ContentHash, &raw, &p.Model, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get page embedding: %w", err)
	}
	p.Embedding = decodeVector(raw)
	return &p, nil
}

// Count returns the number of embedded pages for a document.
func (s *PageEmbeddingStore) Count(ctx context.Context, pdfURL string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM page_embeddings WHERE pdf_url = ?`, pdfURL).Scan(&n)
	return n, err
}
