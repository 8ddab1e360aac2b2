package models

// MemoryState is the token accounting snapshot shown by the UI.
type MemoryState struct {
	SessionID    string `json:"sessionId"`
	TotalTokens  int    `json:"totalTokens"`
	WasTruncated bool   `json:"wasTruncated"`
	MessageCount int    `json:"messageCount"`
}

// PageEmbedding is a stored embedding for the text of one PDF page.
type PageEmbedding struct {
	ID          string    `json:"id"`
	PDFURL      string    `json:"pdfUrl"`
	PageNumber  int       `json:"pageNumber"`
	ContentHash string    `json:"contentHash"`
	Embedding   []float32 `json:"-"`
	Model       string    `json:"model"`
	CreatedAt   int64     `json:"createdAt"`
}

// EmbeddingCacheEntry caches an embedding by content hash.
type EmbeddingCacheEntry struct {
	ContentHash string
	Embedding   []float32
	Dimension   int
	Model       string
	UpdatedAt   int64
}
