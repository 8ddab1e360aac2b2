package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/iammorganparry/clive/apps/tutor/internal/models"
	"github.com/iammorganparry/clive/apps/tutor/internal/vectorstore"
)

// ErrInvalidPage is returned for page requests missing a document, a
// positive page number or text.
var ErrInvalidPage = errors.New("invalid page")

// PageStore persists page embeddings.
type PageStore interface {
	Upsert(ctx context.Context, p *models.PageEmbedding) error
}

// VectorSink mirrors page vectors to an external index.
type VectorSink interface {
	UpsertPage(ctx context.Context, model, pdfURL string, page int, vector []float32, contentHash string) error
}

// Indexer embeds page text and writes it to the page store and, if set, a
// vector sink. Nothing reads these back when building a turn.
type Indexer struct {
	embedder *CachedEmbedder
	pages    PageStore
	sink     VectorSink
	logger   *slog.Logger
	now      func() time.Time
}

// NewIndexer creates an Indexer. sink may be nil.
func NewIndexer(embedder *CachedEmbedder, pages PageStore, sink VectorSink, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{embedder: embedder, pages: pages, sink: sink, logger: logger, now: time.Now}
}

// IndexPage embeds and stores one page. A sink failure is logged and
// reported through VectorSent, not returned.
func (ix *Indexer) IndexPage(ctx context.Context, req models.EmbedPageRequest) (*models.EmbedPageResponse, error) {
	text := strings.TrimSpace(req.Text)
	switch {
	case req.PDFURL == "":
		return nil, fmt.Errorf("%w: pdfUrl is required", ErrInvalidPage)
	case req.PageNumber < 1:
		return nil, fmt.Errorf("%w: pageNumber must be positive, got %d", ErrInvalidPage, req.PageNumber)
	case text == "":
		return nil, fmt.Errorf("%w: page text is empty", ErrInvalidPage)
	}

	vec, cached, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed page %d: %w", req.PageNumber, err)
	}

	model := ix.embedder.Model()
	hash := ContentHash(model, text)
	page := &models.PageEmbedding{
		ID:          vectorstore.PagePointID(req.PDFURL, req.PageNumber),
		PDFURL:      req.PDFURL,
		PageNumber:  req.PageNumber,
		ContentHash: hash,
		Embedding:   vec,
		Model:       model,
		CreatedAt:   ix.now().Unix(),
	}
	if err := ix.pages.Upsert(ctx, page); err != nil {
		return nil, fmt.Errorf("store page %d: %w", req.PageNumber, err)
	}

	resp := &models.EmbedPageResponse{ID: page.ID, Cached: cached, Dimension: len(vec)}
	if ix.sink != nil {
		if err := ix.sink.UpsertPage(ctx, model, req.PDFURL, req.PageNumber, vec, hash); err != nil {
			ix.logger.Warn("vector sink write failed",
				"pdf_url", req.PDFURL, "page", req.PageNumber, "error", err)
		} else {
			resp.VectorSent = true
		}
	}
	return resp, nil
}
