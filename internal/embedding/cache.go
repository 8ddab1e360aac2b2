// Package embedding turns page text into vectors and writes them to the
// page stores. Vectors are cached by content hash so re-opening a document
// does not re-embed unchanged pages.
package embedding

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/zeebo/blake3"

	"github.com/iammorganparry/clive/apps/tutor/internal/models"
)

// Provider generates embeddings.
type Provider interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
}

// Cache stores embeddings by content hash.
type Cache interface {
	Get(ctx context.Context, contentHash string) (*models.EmbeddingCacheEntry, error)
	Put(ctx context.Context, entry *models.EmbeddingCacheEntry) error
}

// CachedEmbedder wraps a Provider with content-hash caching.
type CachedEmbedder struct {
	client Provider
	cache  Cache
	model  string
	dim    int
	logger *slog.Logger
}

func NewCachedEmbedder(client Provider, cache Cache, model string, dim int, logger *slog.Logger) *CachedEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedEmbedder{
		client: client,
		cache:  cache,
		model:  model,
		dim:    dim,
		logger: logger,
	}
}

// Model returns the embedding model name.
func (e *CachedEmbedder) Model() string { return e.model }

// Embed returns the embedding for text and whether it came from the cache.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, bool, error) {
	hash := ContentHash(e.model, text)

	entry, err := e.cache.Get(ctx, hash)
	if err != nil {
		return nil, false, fmt.Errorf("cache lookup: %w", err)
	}
	if entry != nil && entry.Model == e.model && len(entry.Embedding) == entry.Dimension {
		return entry.Embedding, true, nil
	}

	vec, err := e.client.Embed(ctx, e.model, text)
	if err != nil {
		return nil, false, err
	}
	if e.dim > 0 && len(vec) != e.dim {
		return nil, false, fmt.Errorf("embedding model %s returned %d dimensions, expected %d", e.model, len(vec), e.dim)
	}

	if err := e.cache.Put(ctx, &models.EmbeddingCacheEntry{
		ContentHash: hash,
		Embedding:   vec,
		Dimension:   len(vec),
		Model:       e.model,
	}); err != nil {
		e.logger.Warn("persistence warning: embedding cache write failed", "hash", hash, "error", err)
	}
	return vec, false, nil
}

// ContentHash is the BLAKE3 digest of the model name and text. Two models
// never share a cache entry.
func ContentHash(model, text string) string {
	h := blake3.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}
