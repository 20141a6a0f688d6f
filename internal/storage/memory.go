package storage

import (
	"context"
	"sync"

	"github.com/haasonsaas/chatcore/pkg/models"
)

// MemoryStore is an in-process SessionBackend for tests and local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	history  map[string][]models.Turn
	metadata map[string]models.SessionMetadata
}

// NewMemoryStore creates an empty in-memory backend.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		history:  map[string][]models.Turn{},
		metadata: map[string]models.SessionMetadata{},
	}
}

func (m *MemoryStore) ReadHistory(ctx context.Context, sessionID string) ([]models.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	turns, ok := m.history[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return models.CloneTurns(turns), nil
}

func (m *MemoryStore) WriteHistory(ctx context.Context, sessionID string, turns []models.Turn) error {
	if sessionID == "" {
		return ErrInvalidID
	}
	clone := models.CloneTurns(turns)
	if clone == nil {
		clone = []models.Turn{}
	}
	m.mu.Lock()
	m.history[sessionID] = clone
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) DeleteHistory(ctx context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.history[sessionID]
	delete(m.history, sessionID)
	return ok, nil
}

func (m *MemoryStore) ReadMetadata(ctx context.Context, sessionID string) (*models.SessionMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta, ok := m.metadata[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return &meta, nil
}

func (m *MemoryStore) WriteMetadata(ctx context.Context, meta *models.SessionMetadata) error {
	if meta == nil || meta.SessionID == "" {
		return ErrInvalidID
	}
	m.mu.Lock()
	m.metadata[meta.SessionID] = *meta
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) DeleteMetadata(ctx context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.metadata[sessionID]
	delete(m.metadata, sessionID)
	return ok, nil
}

func (m *MemoryStore) ListMetadata(ctx context.Context, owner string) ([]*models.SessionMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.SessionMetadata
	for _, meta := range m.metadata {
		if meta.Owner != owner {
			continue
		}
		meta := meta
		out = append(out, &meta)
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
