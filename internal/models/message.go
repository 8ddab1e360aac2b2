package models

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

var ValidRoles = map[Role]bool{
	RoleUser:      true,
	RoleAssistant: true,
	RoleSystem:    true,
}

func (r Role) IsValid() bool {
	return ValidRoles[r]
}

// Message is one turn in a conversation. TokenCount is set once when the
// message is appended to memory and is never recomputed.
type Message struct {
	ID             string    `json:"id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	Images         []string  `json:"images,omitempty"` // base64-encoded, opaque
	PageReferences []int     `json:"pageReferences,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	TokenCount     int       `json:"tokenCount"`

	// ImageCount is populated for messages rehydrated from persistence,
	// where the image payloads themselves are not stored.
	ImageCount int `json:"imageCount,omitempty"`
}

// NumImages returns the number of images attached to the message,
// whether or not the payloads are still held in memory.
func (m *Message) NumImages() int {
	if len(m.Images) > 0 {
		return len(m.Images)
	}
	return m.ImageCount
}

// Session is a named, ordered conversation.
type Session struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	CurrentPDFURL string     `json:"currentPdfUrl,omitempty"`
	Messages      []*Message `json:"messages"`
}
