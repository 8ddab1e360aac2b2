package vectorstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const collectionPrefix = "tutor_pages_"

// pageNamespace scopes page point IDs.
var pageNamespace = uuid.MustParse("6f1d8a52-3c0e-4b7a-9d61-2a8e5c4b9f07")

// CollectionManager maps embedding models to Qdrant collections and
// ensures they are created on first use. Vectors from different models
// never share a collection.
type CollectionManager struct {
	client *QdrantClient
	known  map[string]bool
	mu     sync.RWMutex
}

func NewCollectionManager(client *QdrantClient) *CollectionManager {
	return &CollectionManager{
		client: client,
		known:  make(map[string]bool),
	}
}

// CollectionName returns the Qdrant collection for an embedding model.
func CollectionName(model string) string {
	var b strings.Builder
	b.WriteString(collectionPrefix)
	for _, r := range strings.ToLower(model) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// PagePointID returns the stable point ID of a document page.
func PagePointID(pdfURL string, page int) string {
	return uuid.NewSHA1(pageNamespace, []byte(fmt.Sprintf("%s#%d", pdfURL, page))).String()
}

// EnsureForModel creates the collection for a model if it doesn't already
// exist. Results are cached in-memory.
func (m *CollectionManager) EnsureForModel(ctx context.Context, model string) (string, error) {
	name := CollectionName(model)

	m.mu.RLock()
	if m.known[name] {
		m.mu.RUnlock()
		return name, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if m.known[name] {
		return name, nil
	}

	if err := m.client.EnsureCollection(ctx, name); err != nil {
		return "", fmt.Errorf("ensure collection %s: %w", name, err)
	}

	m.known[name] = true
	return name, nil
}

// UpsertPage writes one page vector with its document coordinates as
// payload.
func (m *CollectionManager) UpsertPage(ctx context.Context, model, pdfURL string, page int, vector []float32, contentHash string) error {
	name, err := m.EnsureForModel(ctx, model)
	if err != nil {
		return err
	}
	return m.client.Upsert(ctx, name, []Point{{
		ID:     PagePointID(pdfURL, page),
		Vector: vector,
		Payload: map[string]any{
			"pdf_url":      pdfURL,
			"page_number":  page,
			"content_hash": contentHash,
		},
	}})
}

// HealthCheck verifies Qdrant connectivity.
func (m *CollectionManager) HealthCheck(ctx context.Context) error {
	return m.client.HealthCheck(ctx)
}
