package models

import (
	"strings"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Pinned reports whether messages with this role survive history trimming.
func (r Role) Pinned() bool {
	return r == RoleSystem
}

// AttachmentKind distinguishes text uploads from images.
type AttachmentKind string

const (
	AttachmentText  AttachmentKind = "text"
	AttachmentImage AttachmentKind = "image"
)

// Attachment is a file uploaded alongside a user message.
// Payload holds decoded text for text files and base64 data for images.
type Attachment struct {
	Filename string         `json:"filename"`
	Kind     AttachmentKind `json:"type"`
	MimeType string         `json:"mime_type,omitempty"`
	Payload  string         `json:"content"`
}

// Turn is one message in a conversation. Turns are never modified after
// they are appended to a session.
type Turn struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// NewTurn builds a turn stamped with the current time.
func NewTurn(role Role, content string, attachments ...Attachment) Turn {
	return Turn{
		Role:        role,
		Content:     content,
		Attachments: cloneAttachments(attachments),
		CreatedAt:   time.Now(),
	}
}

// AttachmentNames returns the filenames of the turn's attachments in order.
func (t Turn) AttachmentNames() []string {
	if len(t.Attachments) == 0 {
		return nil
	}
	names := make([]string, 0, len(t.Attachments))
	for _, att := range t.Attachments {
		name := strings.TrimSpace(att.Filename)
		if name == "" {
			name = "unknown"
		}
		names = append(names, name)
	}
	return names
}

// CloneTurns returns a deep copy of the given turns.
func CloneTurns(turns []Turn) []Turn {
	if turns == nil {
		return nil
	}
	out := make([]Turn, len(turns))
	for i, turn := range turns {
		out[i] = turn
		out[i].Attachments = cloneAttachments(turn.Attachments)
	}
	return out
}

func cloneAttachments(in []Attachment) []Attachment {
	if len(in) == 0 {
		return nil
	}
	out := make([]Attachment, len(in))
	copy(out, in)
	return out
}
