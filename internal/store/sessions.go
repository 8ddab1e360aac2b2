package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/iammorganparry/clive/apps/tutor/internal/models"
)

// SessionStore persists sessions and their append-only message log.
// Image payloads are not stored, only their count.
type SessionStore struct {
	db  *DB
	now func() time.Time
}

func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db, now: time.Now}
}

// GetOrCreate loads a session with its messages in order, creating an
// empty one if it does not exist.
func (s *SessionStore) GetOrCreate(ctx context.Context, sessionID string) (*models.Session, error) {
	now := s.now().UnixMilli()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, title, created_at, updated_at) VALUES (?, '', ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, sessionID, now, now); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	var (
		sess             models.Session
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, created_at, updated_at, current_pdf_url
		FROM sessions WHERE id = ?
	`, sessionID).Scan(&sess.ID, &sess.Title, &created, &updated, &sess.CurrentPDFURL)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	sess.CreatedAt = time.UnixMilli(created)
	sess.UpdatedAt = time.UnixMilli(updated)

	msgs, err := s.messages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess.Messages = msgs
	return &sess, nil
}

func (s *SessionStore) messages(ctx context.Context, sessionID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, image_count, page_refs, token_count, created_at
		FROM messages WHERE session_id = ?
		ORDER BY created_at, id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	msgs := []*models.Message{}
	for rows.Next() {
		var (
			m        models.Message
			role     string
			pageRefs sql.NullString
			ts       int64
		)
		if err := rows.Scan(&m.ID, &role, &m.Content, &m.ImageCount, &pageRefs, &m.TokenCount, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = models.Role(role)
		m.Timestamp = time.UnixMilli(ts)
		if pageRefs.Valid && pageRefs.String != "" {
			_ = json.Unmarshal([]byte(pageRefs.String), &m.PageReferences)
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

// AppendMessage records a message. Re-appending the same message ID is a
// no-op. The session row is created if needed and its title is taken from
// the first user message.
func (s *SessionStore) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	var pageRefs any
	if len(msg.PageReferences) > 0 {
		b, _ := json.Marshal(msg.PageReferences)
		pageRefs = string(b)
	}
	ts := msg.Timestamp.UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id, title, created_at, updated_at) VALUES (?, '', ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, sessionID, ts, ts); err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, role, content, image_count, page_refs, token_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, msg.ID, sessionID, string(msg.Role), msg.Content, msg.NumImages(), pageRefs, msg.TokenCount, ts); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	title := ""
	if msg.Role == models.RoleUser {
		title = sessionTitle(msg.Content)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET
			updated_at = MAX(updated_at, ?),
			title = CASE WHEN title = '' THEN ? ELSE title END
		WHERE id = ?
	`, ts, title, sessionID); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// SetCurrentPDF records the document the session is reading.
func (s *SessionStore) SetCurrentPDF(ctx context.Context, sessionID, pdfURL string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET current_pdf_url = ? WHERE id = ?`, pdfURL, sessionID)
	if err != nil {
		return fmt.Errorf("set current pdf: %w", err)
	}
	return nil
}

// MessageCount returns the number of stored messages for a session.
func (s *SessionStore) MessageCount(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

const maxTitleRunes = 60

func sessionTitle(content string) string {
	r := []rune(content)
	if len(r) > maxTitleRunes {
		r = r[:maxTitleRunes]
	}
	return string(r)
}
