package ollama

import (
	"errors"
	"fmt"

	"github.com/iammorganparry/clive/apps/tutor/internal/models"
)

// Kind classifies a backend failure.
type Kind = models.ErrorKind

const (
	KindConnectivity     = models.ErrorKindConnectivity
	KindModelUnavailable = models.ErrorKindModelUnavailable
	KindProtocol         = models.ErrorKindBackendProtocol
)

// Error is returned by every Client call that reaches, or fails to reach,
// the backend.
type Error struct {
	Kind       Kind
	Op         string // "health", "chat", "embed"
	Target     string // base URL, or model name for availability failures
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ollama %s %s: status %d: %v", e.Op, e.Target, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("ollama %s %s: %v", e.Op, e.Target, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus exposes the response status to the retry classifier. Zero
// means no status was received.
func (e *Error) HTTPStatus() int { return e.StatusCode }

// ErrModelNotFound is wrapped by model availability failures.
var ErrModelNotFound = errors.New("model not found")

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var oe *Error
	return errors.As(err, &oe) && oe.Kind == kind
}
