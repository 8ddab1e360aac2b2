package models

// StreamEventType discriminates the events relayed to the UI during a turn.
type StreamEventType string

const (
	EventContent StreamEventType = "content"
	EventError   StreamEventType = "error"
	EventDone    StreamEventType = "done"
)

// ErrorKind categorizes a failed turn so the UI can offer a specific remedy.
type ErrorKind string

const (
	ErrorKindConnectivity     ErrorKind = "connectivity"
	ErrorKindModelUnavailable ErrorKind = "model_unavailable"
	ErrorKindBackendProtocol  ErrorKind = "backend_protocol"
	ErrorKindInternal         ErrorKind = "internal"
)

// StreamEvent is one event of a turn's live output. Exactly one of
// Content or Error is meaningful, depending on Type. A done event carries
// neither.
type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	Content string          `json:"content,omitempty"`
	Error   *ErrorPayload   `json:"error,omitempty"`
}

// ErrorPayload describes a failed turn with enough detail to render
// actionable guidance.
type ErrorPayload struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Hint      string    `json:"hint,omitempty"`
	Operation string    `json:"operation,omitempty"`
	Target    string    `json:"target,omitempty"`
}

// ContentEvent builds a content fragment event.
func ContentEvent(fragment string) StreamEvent {
	return StreamEvent{Type: EventContent, Content: fragment}
}

// ErrorEvent builds an error event.
func ErrorEvent(p ErrorPayload) StreamEvent {
	return StreamEvent{Type: EventError, Error: &p}
}

// DoneEvent builds the terminal completion marker.
func DoneEvent() StreamEvent {
	return StreamEvent{Type: EventDone}
}
