// Package storage provides durable backends for session history and
// ownership metadata.
package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/haasonsaas/chatcore/pkg/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrInvalidID = errors.New("invalid session id")
)

// SessionBackend persists session history and ownership metadata.
//
// Writes replace the stored record as a whole: a concurrent reader observes
// either the previous record or the new one, never a partial write.
// Reads of absent records return ErrNotFound. Delete operations report
// whether anything was removed and are safe to repeat.
type SessionBackend interface {
	ReadHistory(ctx context.Context, sessionID string) ([]models.Turn, error)
	WriteHistory(ctx context.Context, sessionID string, turns []models.Turn) error
	DeleteHistory(ctx context.Context, sessionID string) (bool, error)

	ReadMetadata(ctx context.Context, sessionID string) (*models.SessionMetadata, error)
	WriteMetadata(ctx context.Context, meta *models.SessionMetadata) error
	DeleteMetadata(ctx context.Context, sessionID string) (bool, error)

	// ListMetadata returns the metadata of every durable session owned by owner.
	ListMetadata(ctx context.Context, owner string) ([]*models.SessionMetadata, error)

	Close() error
}

// ValidSessionID reports whether id is a canonical session identifier: a
// lowercase hyphenated UUID with no surrounding whitespace.
func ValidSessionID(id string) bool {
	canonical, ok := CanonicalSessionID(id)
	return ok && canonical == id
}

// CanonicalSessionID maps any accepted spelling of a session id (padded,
// uppercase, braced or urn:uuid:) to its canonical form.
func CanonicalSessionID(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", false
	}
	u, err := uuid.Parse(id)
	if err != nil {
		return "", false
	}
	return u.String(), true
}

// DeleteSession removes both the history and the metadata of a session.
func DeleteSession(ctx context.Context, backend SessionBackend, sessionID string) (bool, error) {
	removedHistory, err := backend.DeleteHistory(ctx, sessionID)
	if err != nil {
		return false, err
	}
	removedMeta, err := backend.DeleteMetadata(ctx, sessionID)
	if err != nil {
		return removedHistory, err
	}
	return removedHistory || removedMeta, nil
}
