package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iammorganparry/clive/apps/tutor/internal/chat"
	"github.com/iammorganparry/clive/apps/tutor/internal/memory"
)

// SessionHandler serves session transcripts and token accounting.
type SessionHandler struct {
	orch *chat.Orchestrator
	mem  *memory.Memory
}

func NewSessionHandler(orch *chat.Orchestrator, mem *memory.Memory) *SessionHandler {
	return &SessionHandler{orch: orch, mem: mem}
}

// GetSession handles GET /sessions/{id}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.mem.Session(r.Context(), chi.URLParam(r, "id")))
}

// Memory handles GET /sessions/{id}/memory
func (h *SessionHandler) Memory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orch.MemoryState(r.Context(), chi.URLParam(r, "id")))
}
