// Package chat runs tutoring turns: it records the user's message, checks
// the model backend, streams a single-turn generation back to the caller
// and commits the finished reply to conversation memory.
package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/iammorganparry/clive/apps/tutor/internal/memory"
	"github.com/iammorganparry/clive/apps/tutor/internal/models"
	"github.com/iammorganparry/clive/apps/tutor/internal/ollama"
	"github.com/iammorganparry/clive/apps/tutor/internal/retry"
)

// Stream yields generated fragments until io.EOF.
type Stream interface {
	Next() (string, error)
	Close() error
}

// Backend is the model server as seen by the orchestrator.
type Backend interface {
	BaseURL() string
	CheckModel(ctx context.Context, model string) error
	Chat(ctx context.Context, req ollama.ChatRequest) (Stream, error)
}

type ollamaBackend struct {
	*ollama.Client
}

func (b ollamaBackend) Chat(ctx context.Context, req ollama.ChatRequest) (Stream, error) {
	s, err := b.Client.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewOllamaBackend adapts an ollama client to Backend.
func NewOllamaBackend(c *ollama.Client) Backend {
	return ollamaBackend{Client: c}
}

// Config controls request assembly and retry budgets.
type Config struct {
	Model           string
	Stream          bool
	ContextSize     int
	MaxOutputTokens int

	// HealthMaxAttempts bounds the liveness and model probe.
	HealthMaxAttempts int

	// Retry is the policy for opening the generation call. Its OnRetry
	// hook is replaced by the orchestrator's own.
	Retry retry.Policy
}

// TurnRequest is one user submission.
type TurnRequest struct {
	SessionID   string
	Content     string
	Images      []string
	PageNumbers []int
	PDFURL      string
}

// Turn is a submitted turn. Events delivers content fragments, at most
// one error, and always a final done event, after which it is closed.
// Callers must drain Events.
type Turn struct {
	UserMessage *models.Message
	TokenCount  int
	Events      <-chan models.StreamEvent

	state stateCell
}

// State returns the turn's lifecycle stage. It is terminal once Events
// has been closed.
func (t *Turn) State() State { return t.state.load() }

const eventBuffer = 16

// Orchestrator is process-scoped and safe for concurrent use.
type Orchestrator struct {
	backend    Backend
	backendURL string
	mem        *memory.Memory
	cfg        Config
	logger     *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

func New(backend Backend, mem *memory.Memory, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HealthMaxAttempts < 1 {
		cfg.HealthMaxAttempts = 1
	}
	return &Orchestrator{
		backend:    backend,
		backendURL: backend.BaseURL(),
		mem:        mem,
		cfg:        cfg,
		logger:     logger,
		inflight:   make(map[string]struct{}),
	}
}

// SubmitTurn appends the user message and returns before any backend call
// is made. The rest of the turn runs in the background until ctx is
// cancelled or the turn finishes.
func (o *Orchestrator) SubmitTurn(ctx context.Context, req TurnRequest) (*Turn, error) {
	if req.SessionID == "" {
		return nil, ErrMissingSession
	}
	if strings.TrimSpace(req.Content) == "" && len(req.Images) == 0 {
		return nil, ErrEmptyTurn
	}
	if !o.acquire(req.SessionID) {
		return nil, ErrTurnInFlight
	}

	o.mem.SetCurrentPDF(ctx, req.SessionID, req.PDFURL)
	msg := &models.Message{
		Role:           models.RoleUser,
		Content:        req.Content,
		Images:         req.Images,
		PageReferences: req.PageNumbers,
	}
	cost, err := o.mem.Append(ctx, req.SessionID, msg)
	if err != nil {
		o.release(req.SessionID)
		return nil, err
	}
	o.mem.Enforce(ctx, req.SessionID)

	events := make(chan models.StreamEvent, eventBuffer)
	turn := &Turn{UserMessage: msg, TokenCount: cost, Events: events}
	turn.state.store(StateAwaitingBackendHealth)

	go func() {
		defer close(events)
		defer o.release(req.SessionID)
		o.run(ctx, turn, req, events)
	}()
	return turn, nil
}

// MemoryState reports the session's token accounting.
func (o *Orchestrator) MemoryState(ctx context.Context, sessionID string) models.MemoryState {
	return o.mem.State(ctx, sessionID)
}

func (o *Orchestrator) acquire(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inflight[sessionID]; busy {
		return false
	}
	o.inflight[sessionID] = struct{}{}
	return true
}

func (o *Orchestrator) release(sessionID string) {
	o.mu.Lock()
	delete(o.inflight, sessionID)
	o.mu.Unlock()
}

func (o *Orchestrator) run(ctx context.Context, turn *Turn, req TurnRequest, events chan<- models.StreamEvent) {
	log := o.logger.With("session_id", req.SessionID, "message_id", turn.UserMessage.ID)

	fail := func(op string, err error) {
		if ctx.Err() != nil {
			turn.state.store(StateAborted)
			log.Info("turn aborted", "phase", op)
			events <- models.DoneEvent()
			return
		}
		turn.state.store(StateFailed)
		payload := o.payloadFor(op, err)
		log.Error("turn failed", "phase", op, "kind", payload.Kind, "error", err)
		events <- models.ErrorEvent(payload)
		events <- models.DoneEvent()
	}

	healthPolicy := o.cfg.Retry.WithMaxAttempts(o.cfg.HealthMaxAttempts)
	healthPolicy.OnRetry = o.onRetry(log, "health")
	if _, err := retry.Do(ctx, healthPolicy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.backend.CheckModel(ctx, o.cfg.Model)
	}); err != nil {
		fail("health", err)
		return
	}

	turn.state.store(StateAwaitingModel)
	genPolicy := o.cfg.Retry
	genPolicy.OnRetry = o.onRetry(log, "chat")
	stream, err := retry.Do(ctx, genPolicy, func(ctx context.Context) (Stream, error) {
		return o.backend.Chat(ctx, o.buildRequest(req))
	})
	if err != nil {
		fail("chat", err)
		return
	}
	defer stream.Close()

	turn.state.store(StateStreaming)
	var reply strings.Builder
	for {
		fragment, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			fail("stream", err)
			return
		}
		if ctx.Err() != nil {
			fail("stream", ctx.Err())
			return
		}
		reply.WriteString(fragment)
		events <- models.ContentEvent(fragment)
	}

	if ctx.Err() != nil {
		fail("commit", ctx.Err())
		return
	}
	commitCtx := context.WithoutCancel(ctx)
	if _, err := o.mem.Append(commitCtx, req.SessionID, &models.Message{
		Role:    models.RoleAssistant,
		Content: reply.String(),
	}); err != nil {
		fail("commit", err)
		return
	}
	o.mem.Enforce(commitCtx, req.SessionID)

	turn.state.store(StateCommitted)
	log.Info("turn committed", "reply_chars", reply.Len())
	events <- models.DoneEvent()
}

func (o *Orchestrator) buildRequest(req TurnRequest) ollama.ChatRequest {
	cr := ollama.ChatRequest{
		Model: o.cfg.Model,
		Messages: []ollama.ChatMessage{
			{Role: string(models.RoleSystem), Content: SystemPrompt},
			{Role: string(models.RoleUser), Content: req.Content, Images: req.Images},
		},
		Stream: o.cfg.Stream,
	}
	if o.cfg.ContextSize > 0 || o.cfg.MaxOutputTokens > 0 {
		cr.Options = &ollama.Options{NumCtx: o.cfg.ContextSize, NumPredict: o.cfg.MaxOutputTokens}
	}
	return cr
}

// onRetry logs each failed attempt and stops early on permanent failures.
func (o *Orchestrator) onRetry(log *slog.Logger, op string) func(int, error) error {
	return func(attempt int, err error) error {
		if abort := retry.AbortUnlessRetryable(attempt, err); abort != nil {
			return abort
		}
		log.Warn("backend call failed, retrying", "op", op, "attempt", attempt, "error", err)
		return nil
	}
}
