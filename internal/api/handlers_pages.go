package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/iammorganparry/clive/apps/tutor/internal/embedding"
	"github.com/iammorganparry/clive/apps/tutor/internal/models"
)

// PageIndexer embeds page text.
type PageIndexer interface {
	IndexPage(ctx context.Context, req models.EmbedPageRequest) (*models.EmbedPageResponse, error)
}

type PageHandler struct {
	indexer PageIndexer
}

func NewPageHandler(indexer PageIndexer) *PageHandler {
	return &PageHandler{indexer: indexer}
}

// Embed handles POST /pages/embeddings
func (h *PageHandler) Embed(w http.ResponseWriter, r *http.Request) {
	if h.indexer == nil {
		writeError(w, http.StatusServiceUnavailable, "page embeddings are disabled")
		return
	}

	var req models.EmbedPageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	resp, err := h.indexer.IndexPage(r.Context(), req)
	if errors.Is(err, embedding.ErrInvalidPage) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
