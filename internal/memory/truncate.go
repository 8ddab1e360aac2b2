package memory

import (
	"github.com/google/uuid"

	"github.com/iammorganparry/clive/apps/tutor/internal/models"
)

// Result is the outcome of a truncation pass.
type Result struct {
	Messages      []*models.Message
	WasTruncated  bool
	SummaryTokens int
}

// SumTokens adds up the cached token counts of messages.
func SumTokens(messages []*models.Message) int {
	total := 0
	for _, msg := range messages {
		total += msg.TokenCount
	}
	return total
}

// Truncate fits messages into maxTokens once their total passes
// bufferThreshold. The result is one synthetic summary of the oldest
// messages followed by as many of the newest messages as fit, in their
// original order. The summary's cost counts against the budget, but the
// newest message is always kept if it fits on its own. If the summary
// alone exceeds maxTokens it is still returned; maxTokens is a soft target.
func (m *Memory) Truncate(messages []*models.Message, maxTokens, bufferThreshold int) Result {
	if SumTokens(messages) <= bufferThreshold {
		return Result{Messages: messages}
	}

	summary := m.summaryMessage(messages)
	if summary.TokenCount > maxTokens {
		m.logger.Warn("budget degeneracy: summary alone exceeds token budget",
			"summary_tokens", summary.TokenCount,
			"max_tokens", maxTokens,
		)
	}

	total := summary.TokenCount
	start := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		cost := messages[i].TokenCount
		newestAlone := i == len(messages)-1 && cost <= maxTokens
		if total+cost > maxTokens && !newestAlone {
			break
		}
		total += cost
		start = i
	}

	kept := make([]*models.Message, 0, 1+len(messages)-start)
	kept = append(kept, summary)
	kept = append(kept, messages[start:]...)
	return Result{Messages: kept, WasTruncated: true, SummaryTokens: summary.TokenCount}
}

func (m *Memory) summaryMessage(messages []*models.Message) *models.Message {
	content := Summarize(messages)
	msg := &models.Message{
		ID:         newMessageID(),
		Role:       models.RoleSystem,
		Content:    content,
		TokenCount: m.estimator.MessageCost(content, 0),
	}
	if len(messages) > 0 {
		msg.Timestamp = messages[0].Timestamp
	}
	return msg
}

func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
