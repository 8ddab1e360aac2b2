package models

// SubmitTurnRequest is the payload for POST /sessions/{id}/turns.
type SubmitTurnRequest struct {
	Content     string   `json:"content"`
	Images      []string `json:"images"`
	PageNumbers []int    `json:"pageNumbers"`
	PDFURL      string   `json:"pdfUrl"`
}

// EmbedPageRequest is the payload for POST /pages/embeddings.
type EmbedPageRequest struct {
	PDFURL     string `json:"pdfUrl"`
	PageNumber int    `json:"pageNumber"`
	Text       string `json:"text"`
}

// EmbedPageResponse is returned from POST /pages/embeddings.
type EmbedPageResponse struct {
	ID         string `json:"id"`
	Cached     bool   `json:"cached"`
	Dimension  int    `json:"dimension"`
	VectorSent bool   `json:"vectorSent"`
}

// ErrorResponse is the body of every non-streaming error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned from GET /health.
type HealthResponse struct {
	Status string       `json:"status"`
	Ollama ServiceCheck `json:"ollama"`
	Model  ServiceCheck `json:"model"`
	Qdrant ServiceCheck `json:"qdrant"`
	DB     ServiceCheck `json:"db"`

	SessionCount int `json:"sessionCount"`
}

// ServiceCheck is the health of a single dependency.
type ServiceCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
