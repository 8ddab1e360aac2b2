package memory

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/iammorganparry/clive/apps/tutor/internal/models"
)

const (
	summaryHeader       = "Summary of earlier conversation:"
	summarySourceCount  = 3
	userExcerptLen      = 100
	assistantExcerptLen = 150
	maxHeadings         = 3
)

// Summarize builds the digest text for the oldest messages. Only the first
// three messages contribute, one bullet each, so the summary stays small
// however long the originals were.
func Summarize(messages []*models.Message) string {
	var b strings.Builder
	b.WriteString(summaryHeader)
	for i := 0; i < len(messages) && i < summarySourceCount; i++ {
		if line := summaryLine(messages[i]); line != "" {
			b.WriteString("\n- ")
			b.WriteString(line)
		}
	}
	return b.String()
}

func summaryLine(msg *models.Message) string {
	switch msg.Role {
	case models.RoleUser:
		line := "User asked: " + excerpt(msg.Content, userExcerptLen)
		if len(msg.PageReferences) > 0 {
			line += " (pages " + joinPages(msg.PageReferences) + ")"
		}
		return line
	case models.RoleAssistant:
		if headings := ExtractHeadings(msg.Content, maxHeadings); len(headings) > 0 {
			return "Assistant covered: " + strings.Join(headings, "; ")
		}
		return "Assistant explained: " + excerpt(msg.Content, assistantExcerptLen)
	default:
		return ""
	}
}

// ExtractHeadings returns the text of up to limit markdown headings, in
// document order.
func ExtractHeadings(markdown string, limit int) []string {
	source := []byte(markdown)
	doc := goldmark.DefaultParser().Parse(text.NewReader(source))

	var headings []string
	for n := doc.FirstChild(); n != nil && len(headings) < limit; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok {
			continue
		}
		if t := strings.TrimSpace(inlineText(h, source)); t != "" {
			headings = append(headings, t)
		}
	}
	return headings
}

func inlineText(node ast.Node, source []byte) string {
	var buf bytes.Buffer
	for c := node.FirstChild(); c != nil; c = c.NextSibling() {
		switch n := c.(type) {
		case *ast.Text:
			buf.Write(n.Segment.Value(source))
			if n.SoftLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(n.Value)
		default:
			buf.WriteString(inlineText(n, source))
		}
	}
	return buf.String()
}

func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

func joinPages(pages []int) string {
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ", ")
}

// summaryTitle derives a session title from the first user question.
func summaryTitle(content string) string {
	t := excerpt(content, 60)
	if t == "" {
		return "Untitled session"
	}
	return t
}
