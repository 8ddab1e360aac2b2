package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/iammorganparry/clive/apps/tutor/internal/models"
	"github.com/iammorganparry/clive/apps/tutor/internal/ollama"
)

var (
	// ErrTurnInFlight is returned by SubmitTurn while the session already
	// has an unfinished turn.
	ErrTurnInFlight = errors.New("a turn is already in progress for this session")

	// ErrEmptyTurn is returned for a turn with neither text nor images.
	ErrEmptyTurn = errors.New("turn has no content or images")

	// ErrMissingSession is returned when no session ID is given.
	ErrMissingSession = errors.New("session id is required")
)

// payloadFor maps a turn failure to what the UI shows. op is the phase
// that failed.
func (o *Orchestrator) payloadFor(op string, err error) models.ErrorPayload {
	p := models.ErrorPayload{
		Kind:      models.ErrorKindInternal,
		Message:   err.Error(),
		Hint:      "Retry later.",
		Operation: op,
	}

	var oe *ollama.Error
	if !errors.As(err, &oe) {
		if errors.Is(err, context.DeadlineExceeded) {
			p.Kind = models.ErrorKindConnectivity
			p.Target = o.backendURL
			p.Hint = fmt.Sprintf("The model backend at %s did not answer in time. Retry later.", o.backendURL)
		}
		return p
	}

	p.Target = oe.Target
	switch {
	case oe.Kind == ollama.KindModelUnavailable, oe.Op == "chat" && oe.StatusCode == http.StatusNotFound:
		p.Kind = models.ErrorKindModelUnavailable
		p.Target = o.cfg.Model
		p.Hint = fmt.Sprintf("Pull the model with `ollama pull %s`, then retry.", o.cfg.Model)
	case oe.Kind == ollama.KindConnectivity:
		p.Kind = models.ErrorKindConnectivity
		p.Hint = fmt.Sprintf("Start the model backend (`ollama serve`) and check that it listens on %s.", oe.Target)
	default:
		p.Kind = models.ErrorKindBackendProtocol
		p.Hint = "The model backend returned an unexpected reply. Retry later."
	}
	return p
}
