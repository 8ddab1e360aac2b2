// Package memory owns the per-session message lists, their token
// accounting, and the summarizing truncation that keeps them within a
// budget.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/iammorganparry/clive/apps/tutor/internal/models"
)

// Estimator prices message content in tokens.
type Estimator interface {
	MessageCost(content string, imageCount int) int
}

// SessionStore persists sessions and their messages. Both calls are
// best-effort from the memory's point of view.
type SessionStore interface {
	GetOrCreate(ctx context.Context, sessionID string) (*models.Session, error)
	AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error
}

// Budget is the token budget applied by Enforce.
type Budget struct {
	MaxTokens       int
	BufferThreshold int
}

// ErrInvalidRole is returned by Append for unknown message roles.
var ErrInvalidRole = errors.New("invalid message role")

const persistTimeout = 30 * time.Second

type sessionState struct {
	mu           sync.Mutex
	session      *models.Session
	wasTruncated bool
}

// Memory is the process-wide session table. Appends to different sessions
// may run concurrently; appends to one session should be serialized by the
// caller.
type Memory struct {
	estimator Estimator
	store     SessionStore
	budget    Budget
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*sessionState
	pending  sync.WaitGroup
}

// New creates a Memory. store may be nil to keep sessions in-process only.
func New(estimator Estimator, store SessionStore, budget Budget, logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{
		estimator: estimator,
		store:     store,
		budget:    budget,
		logger:    logger,
		now:       time.Now,
		sessions:  make(map[string]*sessionState),
	}
}

// Budget returns the configured token budget.
func (m *Memory) Budget() Budget { return m.budget }

// state returns the session's state, creating it on first reference. With a
// store configured, a new session is rehydrated from it.
func (m *Memory) state(ctx context.Context, sessionID string) *sessionState {
	m.mu.Lock()
	st, ok := m.sessions[sessionID]
	if ok {
		m.mu.Unlock()
		return st
	}
	now := m.now()
	st = &sessionState{session: &models.Session{ID: sessionID, CreatedAt: now, UpdatedAt: now}}
	st.mu.Lock()
	m.sessions[sessionID] = st
	m.mu.Unlock()

	defer st.mu.Unlock()
	if m.store != nil {
		stored, err := m.store.GetOrCreate(ctx, sessionID)
		if err != nil {
			m.logger.Warn("persistence warning: load session failed, starting empty",
				"session_id", sessionID, "error", err)
		} else if stored != nil {
			st.session = stored
			if st.session.Messages == nil {
				st.session.Messages = []*models.Message{}
			}
		}
	}
	return st
}

// Session returns a snapshot of the session, creating it if unseen.
func (m *Memory) Session(ctx context.Context, sessionID string) *models.Session {
	st := m.state(ctx, sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()

	snap := *st.session
	snap.Messages = append([]*models.Message(nil), st.session.Messages...)
	return &snap
}

// SetCurrentPDF records the document the session is currently reading.
func (m *Memory) SetCurrentPDF(ctx context.Context, sessionID, pdfURL string) {
	if pdfURL == "" {
		return
	}
	st := m.state(ctx, sessionID)
	st.mu.Lock()
	changed := st.session.CurrentPDFURL != pdfURL
	st.session.CurrentPDFURL = pdfURL
	st.mu.Unlock()

	rec, ok := m.store.(pdfRecorder)
	if !changed || !ok {
		return
	}
	m.background(ctx, func(ctx context.Context) {
		if err := rec.SetCurrentPDF(ctx, sessionID, pdfURL); err != nil {
			m.logger.Warn("persistence warning: record current pdf failed",
				"session_id", sessionID, "error", err)
		}
	})
}

// pdfRecorder is implemented by stores that remember the session's
// current document.
type pdfRecorder interface {
	SetCurrentPDF(ctx context.Context, sessionID, pdfURL string) error
}

// Append prices msg, caches its TokenCount, and appends it to the session.
// It fills in a missing ID and timestamp, and clamps the timestamp so it
// never precedes the previous message. Persistence happens in the
// background; its failure is logged and never returned.
func (m *Memory) Append(ctx context.Context, sessionID string, msg *models.Message) (int, error) {
	if !msg.Role.IsValid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRole, msg.Role)
	}

	st := m.state(ctx, sessionID)
	st.mu.Lock()
	sess := st.session

	if msg.ID == "" {
		msg.ID = newMessageID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = m.now()
	}
	if n := len(sess.Messages); n > 0 && msg.Timestamp.Before(sess.Messages[n-1].Timestamp) {
		msg.Timestamp = sess.Messages[n-1].Timestamp
	}
	msg.TokenCount = m.estimator.MessageCost(msg.Content, msg.NumImages())

	sess.Messages = append(sess.Messages, msg)
	sess.UpdatedAt = msg.Timestamp
	if sess.Title == "" && msg.Role == models.RoleUser {
		sess.Title = summaryTitle(msg.Content)
	}
	st.mu.Unlock()

	m.persist(ctx, sessionID, msg)
	return msg.TokenCount, nil
}

func (m *Memory) persist(ctx context.Context, sessionID string, msg *models.Message) {
	if m.store == nil {
		return
	}
	m.background(ctx, func(ctx context.Context) {
		if err := m.store.AppendMessage(ctx, sessionID, msg); err != nil {
			m.logger.Warn("persistence warning: append message failed",
				"session_id", sessionID,
				"message_id", msg.ID,
				"error", err,
			)
		}
	})
}

// background runs a store write detached from the caller's cancellation.
func (m *Memory) background(ctx context.Context, write func(context.Context)) {
	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer cancel()
		write(pctx)
	}()
}

// Flush waits for background persistence to finish.
func (m *Memory) Flush() {
	m.pending.Wait()
}

// TotalTokens sums the cached token counts of every message in the
// session, including any summary message.
func (m *Memory) TotalTokens(ctx context.Context, sessionID string) int {
	st := m.state(ctx, sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return SumTokens(st.session.Messages)
}

// Enforce truncates the session against the configured budget and
// replaces its message list with the result.
func (m *Memory) Enforce(ctx context.Context, sessionID string) Result {
	st := m.state(ctx, sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()

	res := m.Truncate(st.session.Messages, m.budget.MaxTokens, m.budget.BufferThreshold)
	if res.WasTruncated {
		m.logger.Info("conversation truncated",
			"session_id", sessionID,
			"before", len(st.session.Messages),
			"after", len(res.Messages),
			"summary_tokens", res.SummaryTokens,
		)
		st.session.Messages = res.Messages
	}
	st.wasTruncated = res.WasTruncated
	return res
}

// State reports the session's token accounting for display.
func (m *Memory) State(ctx context.Context, sessionID string) models.MemoryState {
	st := m.state(ctx, sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return models.MemoryState{
		SessionID:    sessionID,
		TotalTokens:  SumTokens(st.session.Messages),
		WasTruncated: st.wasTruncated,
		MessageCount: len(st.session.Messages),
	}
}

// SessionCount returns the number of sessions held in-process.
func (m *Memory) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
