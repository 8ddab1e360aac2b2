package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/iammorganparry/clive/apps/tutor/internal/models"
	"github.com/iammorganparry/clive/apps/tutor/internal/ollama"
)

// ModelLister probes the model backend.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// Pinger checks an optional dependency.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// SessionCounter reports persisted sessions.
type SessionCounter interface {
	SessionCount() (int, error)
}

// LiveSessions reports sessions held in-process.
type LiveSessions interface {
	SessionCount() int
}

type HealthHandler struct {
	backend ModelLister
	model   string
	db      SessionCounter
	qdrant  Pinger
	live    LiveSessions
}

// NewHealthHandler creates the health handler. db and qdrant may be nil
// when those dependencies are disabled.
func NewHealthHandler(backend ModelLister, model string, db SessionCounter, qdrant Pinger, live LiveSessions) *HealthHandler {
	return &HealthHandler{backend: backend, model: model, db: db, qdrant: qdrant, live: live}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := models.HealthResponse{
		Status: "ok",
	}
	ctx := r.Context()

	// Check Ollama and the configured model
	names, err := h.backend.ListModels(ctx)
	if err != nil {
		resp.Ollama = models.ServiceCheck{Status: "error", Message: err.Error()}
		resp.Model = models.ServiceCheck{Status: "unknown"}
		resp.Status = "degraded"
	} else {
		resp.Ollama = models.ServiceCheck{Status: "ok"}
		if ollama.HasModel(names, h.model) {
			resp.Model = models.ServiceCheck{Status: "ok", Message: h.model}
		} else {
			resp.Model = models.ServiceCheck{Status: "error", Message: fmt.Sprintf("%s is not installed; run `ollama pull %s`", h.model, h.model)}
			resp.Status = "degraded"
		}
	}

	// Check Qdrant
	if h.qdrant == nil {
		resp.Qdrant = models.ServiceCheck{Status: "disabled"}
	} else if err := h.qdrant.HealthCheck(ctx); err != nil {
		resp.Qdrant = models.ServiceCheck{Status: "error", Message: err.Error()}
		resp.Status = "degraded"
	} else {
		resp.Qdrant = models.ServiceCheck{Status: "ok"}
	}

	// Check DB
	if h.db == nil {
		resp.DB = models.ServiceCheck{Status: "disabled"}
	} else if _, err := h.db.SessionCount(); err != nil {
		resp.DB = models.ServiceCheck{Status: "error", Message: err.Error()}
		resp.Status = "degraded"
	} else {
		resp.DB = models.ServiceCheck{Status: "ok"}
	}

	if h.live != nil {
		resp.SessionCount = h.live.SessionCount()
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
