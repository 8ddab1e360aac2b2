package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/iammorganparry/clive/apps/tutor/internal/chat"
	"github.com/iammorganparry/clive/apps/tutor/internal/memory"
)

// NewRouter creates the Chi router with all routes and middleware. indexer
// may be nil when page embeddings are disabled.
func NewRouter(
	orch *chat.Orchestrator,
	mem *memory.Memory,
	indexer PageIndexer,
	healthH *HealthHandler,
	apiKey string,
	logger *slog.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (runs on ALL routes including /health)
	r.Use(CORS)
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))

	turnH := NewTurnHandler(orch, logger)
	sessionH := NewSessionHandler(orch, mem)
	pageH := NewPageHandler(indexer)

	// Unauthenticated routes
	r.Get("/health", healthH.Health)

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(apiKey))

		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", sessionH.GetSession)
			r.Get("/memory", sessionH.Memory)
			r.Post("/turns", turnH.Submit)
		})

		r.Post("/pages/embeddings", pageH.Embed)
	})

	return r
}
