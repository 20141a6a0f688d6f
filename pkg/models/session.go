package models

import "time"

// Session is the state of a single conversation.
type Session struct {
	ID           string    `json:"id"`
	Owner        string    `json:"owner"`
	History      []Turn    `json:"history"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`

	// Dirty is set when History holds turns that have not been persisted.
	Dirty bool `json:"-"`
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	clone := *s
	clone.History = CloneTurns(s.History)
	return &clone
}

// Metadata returns the durable ownership record for the session.
func (s *Session) Metadata() *SessionMetadata {
	if s == nil {
		return nil
	}
	return &SessionMetadata{
		SessionID:    s.ID,
		Owner:        s.Owner,
		CreatedAt:    s.CreatedAt,
		LastAccessed: s.LastAccessed,
	}
}

// SessionMetadata is the durable ownership record stored next to a
// session's history.
type SessionMetadata struct {
	SessionID    string    `json:"session_id"`
	Owner        string    `json:"user_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
}

// SessionSummary is a listing entry for an owner's sessions.
type SessionSummary struct {
	ID           string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	Resident     bool      `json:"resident"`
	Turns        int       `json:"turns"`
}
