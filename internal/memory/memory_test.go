package memory

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iammorganparry/clive/apps/tutor/internal/models"
	"github.com/iammorganparry/clive/apps/tutor/internal/store"
	"github.com/iammorganparry/clive/apps/tutor/internal/tokens"
)

func newTestMemory(store SessionStore, budget Budget) *Memory {
	return New(tokens.NewEstimator(nil), store, budget, nil)
}

// fixedMessages builds n alternating user/assistant messages of the given
// cached cost.
func fixedMessages(n, cost int) []*models.Message {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	msgs := make([]*models.Message, n)
	for i := range msgs {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		msgs[i] = &models.Message{
			ID:         fmt.Sprintf("m%02d", i),
			Role:       role,
			Content:    fmt.Sprintf("message number %d", i),
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
			TokenCount: cost,
		}
	}
	return msgs
}

type fakeStore struct {
	mu       sync.Mutex
	appended []*models.Message
	stored   *models.Session
	failGet  bool
	failPut  bool
}

func (f *fakeStore) GetOrCreate(ctx context.Context, id string) (*models.Session, error) {
	if f.failGet {
		return nil, errors.New("db locked")
	}
	if f.stored != nil {
		return f.stored, nil
	}
	return &models.Session{ID: id}, nil
}

func (f *fakeStore) AppendMessage(ctx context.Context, id string, msg *models.Message) error {
	if f.failPut {
		return errors.New("disk full")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, msg)
	return nil
}

func TestScenarioFirstMessage(t *testing.T) {
	mem := newTestMemory(nil, Budget{MaxTokens: 1000, BufferThreshold: 900})
	ctx := context.Background()

	cost, err := mem.Append(ctx, "s1", &models.Message{Role: models.RoleUser, Content: strings.Repeat("x", 200)})
	require.NoError(t, err)
	assert.Equal(t, 54, cost)
	assert.Equal(t, 54, mem.TotalTokens(ctx, "s1"))

	res := mem.Enforce(ctx, "s1")
	assert.False(t, res.WasTruncated)

	state := mem.State(ctx, "s1")
	assert.Equal(t, 54, state.TotalTokens)
	assert.False(t, state.WasTruncated)
	assert.Equal(t, 1, state.MessageCount)
}

func TestScenarioLongHistory(t *testing.T) {
	mem := newTestMemory(nil, Budget{})
	msgs := fixedMessages(20, 100)
	require.Equal(t, 2000, SumTokens(msgs))

	res := mem.Truncate(msgs, 500, 400)

	require.True(t, res.WasTruncated)
	summary := res.Messages[0]
	assert.Equal(t, models.RoleSystem, summary.Role)
	assert.Equal(t, res.SummaryTokens, summary.TokenCount)
	assert.LessOrEqual(t, SumTokens(res.Messages), 500)

	kept := res.Messages[1:]
	require.NotEmpty(t, kept)
	assert.Equal(t, msgs[len(msgs)-1], kept[len(kept)-1], "newest message kept")
	assert.Equal(t, msgs[len(msgs)-len(kept):], kept, "kept messages in original order")

	// Dropped messages only survive as summary bullets, and only the
	// first three are summarized.
	assert.Contains(t, summary.Content, "message number 0")
	assert.Contains(t, summary.Content, "message number 1")
	assert.Contains(t, summary.Content, "message number 2")
	assert.NotContains(t, summary.Content, "message number 3")
	assert.Equal(t, 3, strings.Count(summary.Content, "\n- "))
}

func TestTruncateUnderThresholdIsIdentity(t *testing.T) {
	mem := newTestMemory(nil, Budget{})
	msgs := fixedMessages(4, 100)

	res := mem.Truncate(msgs, 500, 400)

	assert.False(t, res.WasTruncated)
	assert.Equal(t, msgs, res.Messages)
	assert.Zero(t, res.SummaryTokens)
}

func TestTruncateEmpty(t *testing.T) {
	mem := newTestMemory(nil, Budget{})
	res := mem.Truncate(nil, 10, 5)
	assert.False(t, res.WasTruncated)
	assert.Empty(t, res.Messages)
}

func TestTruncateKeepsNewestEvenWhenSummaryCrowdsIt(t *testing.T) {
	mem := newTestMemory(nil, Budget{})
	msgs := fixedMessages(5, 100)

	// The summary costs more than the 10 tokens of headroom left next to
	// the newest message; the newest is still kept.
	res := mem.Truncate(msgs, 110, 50)

	require.True(t, res.WasTruncated)
	require.Len(t, res.Messages, 2)
	assert.Equal(t, msgs[4], res.Messages[1])
	assert.LessOrEqual(t, SumTokens(res.Messages[1:]), 110)
}

func TestTruncateDegenerateSummary(t *testing.T) {
	mem := newTestMemory(nil, Budget{})
	msgs := fixedMessages(3, 50)

	res := mem.Truncate(msgs, 5, 1)

	require.True(t, res.WasTruncated)
	require.Len(t, res.Messages, 1)
	assert.Greater(t, res.Messages[0].TokenCount, 5)
}

func TestTruncateProperties(t *testing.T) {
	mem := newTestMemory(nil, Budget{})
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 200; i++ {
		n := rng.Intn(30)
		msgs := make([]*models.Message, n)
		for j := range msgs {
			msgs[j] = &models.Message{
				ID:         fmt.Sprintf("m%d", j),
				Role:       models.RoleUser,
				Content:    "q",
				TokenCount: 1 + rng.Intn(300),
			}
		}
		maxTokens := 50 + rng.Intn(1500)
		threshold := maxTokens - rng.Intn(50) - 1

		res := mem.Truncate(msgs, maxTokens, threshold)

		if SumTokens(msgs) <= threshold {
			require.False(t, res.WasTruncated)
			require.Equal(t, msgs, res.Messages)
			continue
		}
		require.True(t, res.WasTruncated)
		require.Equal(t, models.RoleSystem, res.Messages[0].Role)
		kept := res.Messages[1:]
		require.LessOrEqual(t, SumTokens(kept), maxTokens)
		if n > 0 && msgs[n-1].TokenCount <= maxTokens {
			require.NotEmpty(t, kept)
			require.Equal(t, msgs[n-1], kept[len(kept)-1])
		}
		require.Equal(t, msgs[n-len(kept):], kept)
	}
}

func TestAdditivity(t *testing.T) {
	est := tokens.NewEstimator(nil)
	mem := New(est, nil, Budget{MaxTokens: 1 << 20, BufferThreshold: 1 << 19}, nil)
	ctx := context.Background()

	inputs := []struct {
		content string
		images  int
	}{
		{"What does this theorem say?", 1},
		{"## Statement\nFor every epsilon...", 0},
		{"", 2},
	}
	want := 0
	for _, in := range inputs {
		_, err := mem.Append(ctx, "s", &models.Message{
			Role:    models.RoleUser,
			Content: in.content,
			Images:  make([]string, in.images),
		})
		require.NoError(t, err)
		want += est.Estimate(in.content) + in.images*tokens.ImageTokenCost + tokens.MessageOverhead
	}
	assert.Equal(t, want, mem.TotalTokens(ctx, "s"))
}

func TestEnforceReplacesSessionList(t *testing.T) {
	mem := newTestMemory(nil, Budget{MaxTokens: 60, BufferThreshold: 40})
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		_, err := mem.Append(ctx, "s", &models.Message{Role: models.RoleUser, Content: strings.Repeat("y", 40)})
		require.NoError(t, err)
	}
	require.Equal(t, 84, mem.TotalTokens(ctx, "s"))

	res := mem.Enforce(ctx, "s")
	require.True(t, res.WasTruncated)

	sess := mem.Session(ctx, "s")
	assert.Equal(t, res.Messages, sess.Messages)
	assert.Equal(t, models.RoleSystem, sess.Messages[0].Role)
	assert.True(t, mem.State(ctx, "s").WasTruncated)
}

func TestAppendFillsIdentityAndClampsTime(t *testing.T) {
	mem := newTestMemory(nil, Budget{MaxTokens: 100, BufferThreshold: 90})
	ctx := context.Background()
	later := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	_, err := mem.Append(ctx, "s", &models.Message{Role: models.RoleUser, Content: "first", Timestamp: later})
	require.NoError(t, err)
	second := &models.Message{Role: models.RoleAssistant, Content: "second", Timestamp: later.Add(-time.Hour)}
	_, err = mem.Append(ctx, "s", second)
	require.NoError(t, err)

	assert.NotEmpty(t, second.ID)
	assert.Equal(t, later, second.Timestamp)

	sess := mem.Session(ctx, "s")
	assert.Equal(t, "first", sess.Title)
	assert.Less(t, sess.Messages[0].ID, sess.Messages[1].ID, "ids sort in generation order")
}

func TestAppendRejectsUnknownRole(t *testing.T) {
	mem := newTestMemory(nil, Budget{})
	_, err := mem.Append(context.Background(), "s", &models.Message{Role: "tool"})
	require.ErrorIs(t, err, ErrInvalidRole)
}

func TestAppendPersistsBestEffort(t *testing.T) {
	ctx := context.Background()

	t.Run("writes reach the store", func(t *testing.T) {
		store := &fakeStore{}
		mem := newTestMemory(store, Budget{MaxTokens: 100, BufferThreshold: 90})
		_, err := mem.Append(ctx, "s", &models.Message{Role: models.RoleUser, Content: "hi"})
		require.NoError(t, err)
		mem.Flush()
		assert.Len(t, store.appended, 1)
	})

	t.Run("write failures do not surface", func(t *testing.T) {
		mem := newTestMemory(&fakeStore{failPut: true}, Budget{MaxTokens: 100, BufferThreshold: 90})
		_, err := mem.Append(ctx, "s", &models.Message{Role: models.RoleUser, Content: "hi"})
		require.NoError(t, err)
		mem.Flush()
		assert.Equal(t, 1, mem.State(ctx, "s").MessageCount)
	})

	t.Run("load failures start an empty session", func(t *testing.T) {
		mem := newTestMemory(&fakeStore{failGet: true}, Budget{})
		assert.Empty(t, mem.Session(ctx, "s").Messages)
	})
}

func TestSessionRehydratesFromStore(t *testing.T) {
	stored := &models.Session{
		ID:    "s",
		Title: "Chapter 2",
		Messages: []*models.Message{
			{ID: "a", Role: models.RoleUser, Content: "old", TokenCount: 77, ImageCount: 1},
		},
	}
	mem := newTestMemory(&fakeStore{stored: stored}, Budget{})
	ctx := context.Background()

	sess := mem.Session(ctx, "s")
	assert.Equal(t, "Chapter 2", sess.Title)
	require.Len(t, sess.Messages, 1)
	assert.Equal(t, 77, mem.TotalTokens(ctx, "s"), "stored counts are not recomputed")
}

func TestConcurrentAppendsAcrossSessions(t *testing.T) {
	mem := newTestMemory(nil, Budget{MaxTokens: 1 << 20, BufferThreshold: 1 << 19})
	ctx := context.Background()

	var wg sync.WaitGroup
	for s := 0; s < 8; s++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, err := mem.Append(ctx, id, &models.Message{Role: models.RoleUser, Content: "ping"})
				assert.NoError(t, err)
			}
		}(fmt.Sprintf("session-%d", s))
	}
	wg.Wait()

	assert.Equal(t, 8, mem.SessionCount())
	for s := 0; s < 8; s++ {
		assert.Equal(t, 50, mem.State(ctx, fmt.Sprintf("session-%d", s)).MessageCount)
	}
}

func TestRestartRehydratesFromSQLite(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "tutor.db"))
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	first := newTestMemory(store.NewSessionStore(db), Budget{})
	first.SetCurrentPDF(ctx, "s", "file:///notes.pdf")
	cost, err := first.Append(ctx, "s", &models.Message{
		Role:           models.RoleUser,
		Content:        "what is this diagram?",
		Images:         []string{"aW1n"},
		PageReferences: []int{7},
	})
	require.NoError(t, err)
	_, err = first.Append(ctx, "s", &models.Message{Role: models.RoleAssistant, Content: "A commutative square."})
	require.NoError(t, err)
	total := first.TotalTokens(ctx, "s")
	first.Flush()

	second := newTestMemory(store.NewSessionStore(db), Budget{})
	sess := second.Session(ctx, "s")
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, "what is this diagram?", sess.Title)
	assert.Equal(t, "file:///notes.pdf", sess.CurrentPDFURL)
	assert.Equal(t, cost, sess.Messages[0].TokenCount)
	assert.Equal(t, 1, sess.Messages[0].NumImages())
	assert.Empty(t, sess.Messages[0].Images)
	assert.Equal(t, []int{7}, sess.Messages[0].PageReferences)
	assert.Equal(t, total, second.TotalTokens(ctx, "s"))
}
