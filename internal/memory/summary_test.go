package memory

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/iammorganparry/clive/apps/tutor/internal/models"
)

func TestExtractHeadings(t *testing.T) {
	md := "# Overview\nintro\n\n## The *key* step\ntext\n\n```\n# not a heading\n```\n\n### Third\n\n#### Fourth"
	assert.Equal(t, []string{"Overview", "The key step", "Third"}, ExtractHeadings(md, 3))
	assert.Empty(t, ExtractHeadings("plain prose only", 3))
}

func TestSummarize(t *testing.T) {
	long := strings.Repeat("a", 250)
	msgs := []*models.Message{
		{Role: models.RoleUser, Content: long, PageReferences: []int{3, 4}},
		{Role: models.RoleAssistant, Content: "# Limits\nbody\n## Continuity\nmore"},
		{Role: models.RoleAssistant, Content: strings.Repeat("b", 200)},
		{Role: models.RoleUser, Content: "fourth is never summarized"},
	}

	got := Summarize(msgs)
	lines := strings.Split(got, "\n")

	assert.Equal(t, summaryHeader, lines[0])
	assert.Len(t, lines, 4)
	assert.Equal(t, "- User asked: "+strings.Repeat("a", 100)+"... (pages 3, 4)", lines[1])
	assert.Equal(t, "- Assistant covered: Limits; Continuity", lines[2])
	assert.Equal(t, "- Assistant explained: "+strings.Repeat("b", 150)+"...", lines[3])
}

func TestSummarizeSkipsSystemMessages(t *testing.T) {
	msgs := []*models.Message{
		{Role: models.RoleSystem, Content: "earlier summary"},
		{Role: models.RoleUser, Content: "short"},
	}
	got := Summarize(msgs)
	assert.NotContains(t, got, "earlier summary")
	assert.Contains(t, got, "- User asked: short")
}
