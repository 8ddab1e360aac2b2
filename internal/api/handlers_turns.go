package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/iammorganparry/clive/apps/tutor/internal/chat"
	"github.com/iammorganparry/clive/apps/tutor/internal/models"
	"github.com/iammorganparry/clive/apps/tutor/internal/sse"
)

const userTokenCountHeader = "X-User-Token-Count"

// TurnHandler relays tutoring turns as server-sent events.
type TurnHandler struct {
	orch   *chat.Orchestrator
	logger *slog.Logger
}

func NewTurnHandler(orch *chat.Orchestrator, logger *slog.Logger) *TurnHandler {
	return &TurnHandler{orch: orch, logger: logger}
}

// Submit handles POST /sessions/{id}/turns. The user message's token cost
// is returned in a header before the first event.
func (h *TurnHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitTurnRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	turn, err := h.orch.SubmitTurn(r.Context(), chat.TurnRequest{
		SessionID:   chi.URLParam(r, "id"),
		Content:     req.Content,
		Images:      req.Images,
		PageNumbers: req.PageNumbers,
		PDFURL:      req.PDFURL,
	})
	switch {
	case errors.Is(err, chat.ErrTurnInFlight):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, chat.ErrEmptyTurn), errors.Is(err, chat.ErrMissingSession):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "submit turn: "+err.Error())
		return
	}

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	hdr.Set(userTokenCountHeader, strconv.Itoa(turn.TokenCount))
	hdr.Set("X-Message-ID", turn.UserMessage.ID)
	w.WriteHeader(http.StatusOK)

	enc := sse.NewEncoder(w)
	var writeErr error
	for ev := range turn.Events {
		if writeErr != nil {
			continue // keep draining so the turn can finish
		}
		if writeErr = enc.Encode(ev); writeErr != nil {
			h.logger.Info("client went away mid-turn",
				"request_id", GetRequestID(r), "error", writeErr)
		}
	}
}
