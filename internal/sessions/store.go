// Package sessions owns the resident registry of conversations: creation with
// per-owner quotas, read-through rehydration from durable storage, ownership
// checks, idempotent deletion, atomic snapshots and idle expiry.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/haasonsaas/chatcore/internal/observability"
	"github.com/haasonsaas/chatcore/internal/storage"
	"github.com/haasonsaas/chatcore/pkg/models"
)

var (
	// ErrNotFound is returned when a session has no resident or durable record.
	ErrNotFound = errors.New("session not found")

	// ErrOwnerRequired is returned when a session is created without an owner.
	ErrOwnerRequired = errors.New("session owner is required")
)

// Config controls session lifetime and quotas.
type Config struct {
	// Timeout is how long a session may stay idle before the sweep evicts it.
	Timeout time.Duration

	// MaxSessionsPerOwner caps concurrent sessions per owner. Zero disables the cap.
	MaxSessionsPerOwner int
}

// DefaultConfig returns the default session settings.
func DefaultConfig() Config {
	return Config{
		Timeout:             24 * time.Hour,
		MaxSessionsPerOwner: 5,
	}
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Store) { s.metrics = metrics }
}

// WithTracer sets the tracer used for storage spans.
func WithTracer(tracer *observability.Tracer) Option {
	return func(s *Store) { s.tracer = tracer }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store is the authoritative in-memory registry of sessions backed by a
// storage.SessionBackend.
//
// The map lock guards only map manipulation and timestamp updates. Durable
// I/O for a session (snapshot, delete, sweep, rehydration) is ordered by a
// separate per-session key lock so that a delete or sweep never races past
// an in-flight write.
type Store struct {
	backend storage.SessionBackend
	cfg     Config
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	now     func() time.Time

	keys      *LocalLocker
	rehydrate singleflight.Group

	mu       sync.Mutex
	sessions map[string]*models.Session
}

// NewStore creates a Store over backend.
func NewStore(backend storage.SessionBackend, cfg Config, opts ...Option) *Store {
	defaults := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxSessionsPerOwner < 0 {
		cfg.MaxSessionsPerOwner = 0
	}
	s := &Store{
		backend:  backend,
		cfg:      cfg,
		logger:   slog.Default(),
		now:      time.Now,
		keys:     NewLocalLocker(),
		sessions: make(map[string]*models.Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "sessions")
	return s
}

// Config returns the effective store configuration.
func (s *Store) Config() Config {
	return s.cfg
}

type quotaCandidate struct {
	id           string
	lastAccessed time.Time
}

// Create registers a new session for owner and records its ownership durably.
//
// When owner already holds MaxSessionsPerOwner sessions, the least recently
// accessed ones are evicted first. Resident timestamps take precedence over
// durable metadata for sessions that are in memory.
func (s *Store) Create(ctx context.Context, owner string) (*models.Session, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, ErrOwnerRequired
	}

	var durable []*models.SessionMetadata
	if s.cfg.MaxSessionsPerOwner > 0 {
		var err error
		durable, err = s.backend.ListMetadata(ctx, owner)
		if err != nil {
			s.logger.WarnContext(ctx, "list durable sessions for quota failed", "owner", owner, "error", err)
			s.metrics.RecordError("sessions", "list_failed")
		}
	}

	now := s.now()
	session := &models.Session{
		ID:           uuid.NewString(),
		Owner:        owner,
		History:      []models.Turn{},
		CreatedAt:    now,
		LastAccessed: now,
	}

	s.mu.Lock()
	var evicted []string
	if s.cfg.MaxSessionsPerOwner > 0 {
		candidates := make(map[string]time.Time, len(durable))
		for _, meta := range durable {
			accessed := meta.LastAccessed
			if accessed.IsZero() {
				accessed = meta.CreatedAt
			}
			candidates[meta.SessionID] = accessed
		}
		for id, resident := range s.sessions {
			if resident.Owner == owner {
				candidates[id] = resident.LastAccessed
			}
		}
		for len(candidates) >= s.cfg.MaxSessionsPerOwner {
			oldest := oldestCandidate(candidates)
			delete(candidates, oldest)
			delete(s.sessions, oldest)
			evicted = append(evicted, oldest)
		}
	}
	s.sessions[session.ID] = session
	resident := len(s.sessions)
	snapshot := session.Clone()
	s.mu.Unlock()

	s.metrics.SetResidentSessions(resident)
	s.metrics.SessionCreated()

	for _, id := range evicted {
		if _, err := s.deleteDurable(ctx, id); err != nil {
			s.logger.ErrorContext(ctx, "delete evicted session failed", "session_id", id, "error", err)
		}
		s.logger.InfoContext(ctx, "evicted session over quota", "session_id", id, "owner", owner)
	}
	s.metrics.SessionEvicted("quota", len(evicted))

	if err := s.writeMetadata(ctx, snapshot.Metadata()); err != nil {
		s.logger.ErrorContext(ctx, "record session ownership failed", "session_id", snapshot.ID, "error", err)
		s.markDirty(snapshot.ID)
	}
	return snapshot, nil
}

func oldestCandidate(candidates map[string]time.Time) string {
	var oldestID string
	var oldest time.Time
	for id, accessed := range candidates {
		if oldestID == "" || accessed.Before(oldest) || (accessed.Equal(oldest) && id < oldestID) {
			oldestID = id
			oldest = accessed
		}
	}
	return oldestID
}

// Get returns a snapshot of the session, refreshing its last access time.
// Sessions that are not resident are rehydrated from durable storage.
func (s *Store) Get(ctx context.Context, id string) (*models.Session, error) {
	id = CanonicalID(id)
	if session, ok := s.touch(id); ok {
		return session, nil
	}
	if !storage.ValidSessionID(id) {
		return nil, ErrNotFound
	}

	v, err, _ := s.rehydrate.Do(id, func() (any, error) {
		return s.load(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Session).Clone(), nil
}

// CanonicalID maps id to the canonical form sessions are keyed by. Ids that
// do not parse are returned unchanged and never match a session.
func CanonicalID(id string) string {
	if canonical, ok := storage.CanonicalSessionID(id); ok {
		return canonical
	}
	return id
}

func (s *Store) touch(id string) (*models.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	session.LastAccessed = s.now()
	return session.Clone(), true
}

func (s *Store) load(ctx context.Context, id string) (*models.Session, error) {
	if err := s.keys.Lock(ctx, id); err != nil {
		return nil, err
	}
	defer s.keys.Unlock(id)

	// A concurrent Create or rehydration may have won the race.
	if session, ok := s.touch(id); ok {
		return session, nil
	}

	ctx, span := s.tracer.TraceStorage(ctx, "rehydrate", id)
	defer span.End()

	meta, err := s.backend.ReadMetadata(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidID) {
			s.metrics.SessionRehydrated("miss")
			return nil, ErrNotFound
		}
		s.metrics.SessionRehydrated("error")
		s.tracer.RecordError(span, err)
		s.logger.ErrorContext(ctx, "read session metadata failed", "session_id", id, "error", err)
		return nil, ErrNotFound
	}

	history, err := s.backend.ReadHistory(ctx, id)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.metrics.SessionRehydrated("error")
		s.tracer.RecordError(span, err)
		s.logger.ErrorContext(ctx, "read session history failed", "session_id", id, "error", err)
		return nil, ErrNotFound
	}
	if history == nil {
		history = []models.Turn{}
	}

	now := s.now()
	session := &models.Session{
		ID:           id,
		Owner:        meta.Owner,
		History:      history,
		CreatedAt:    meta.CreatedAt,
		LastAccessed: now,
	}

	s.mu.Lock()
	s.sessions[id] = session
	resident := len(s.sessions)
	snapshot := session.Clone()
	s.mu.Unlock()

	s.metrics.SetResidentSessions(resident)
	s.metrics.SessionRehydrated("hit")
	s.logger.DebugContext(ctx, "rehydrated session", "session_id", id, "turns", len(history))
	return snapshot, nil
}

// Exists reports whether the session has a resident or durable record.
// It does not refresh the last access time.
func (s *Store) Exists(ctx context.Context, id string) bool {
	id = CanonicalID(id)
	s.mu.Lock()
	_, ok := s.sessions[id]
	s.mu.Unlock()
	if ok {
		return true
	}
	if !storage.ValidSessionID(id) {
		return false
	}
	_, err := s.backend.ReadMetadata(ctx, id)
	return err == nil
}

// ValidateOwner reports whether owner owns the session. Unknown sessions and
// storage errors both yield false.
func (s *Store) ValidateOwner(ctx context.Context, id, owner string) bool {
	id = CanonicalID(id)
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return false
	}
	s.mu.Lock()
	session, ok := s.sessions[id]
	var residentOwner string
	if ok {
		residentOwner = session.Owner
	}
	s.mu.Unlock()
	if ok {
		return residentOwner == owner
	}

	if !storage.ValidSessionID(id) {
		return false
	}
	meta, err := s.backend.ReadMetadata(ctx, id)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.WarnContext(ctx, "read session metadata failed", "session_id", id, "error", err)
		}
		return false
	}
	return meta.Owner == owner
}

// Append adds turns to a resident session and marks it dirty.
func (s *Store) Append(ctx context.Context, id string, turns ...models.Turn) error {
	id = CanonicalID(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	session.History = append(session.History, models.CloneTurns(turns)...)
	session.LastAccessed = s.now()
	session.Dirty = true
	return nil
}

// Delete removes the session from memory and durable storage. It reports
// whether anything was removed and is safe to call repeatedly.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	id = CanonicalID(id)
	if err := s.keys.Lock(ctx, id); err != nil {
		return false, err
	}
	defer s.keys.Unlock(id)

	s.mu.Lock()
	_, resident := s.sessions[id]
	delete(s.sessions, id)
	count := len(s.sessions)
	s.mu.Unlock()
	s.metrics.SetResidentSessions(count)

	var durable bool
	var err error
	if storage.ValidSessionID(id) {
		durable, err = s.deleteDurableLocked(ctx, id)
	}
	removed := resident || durable
	if removed {
		s.metrics.SessionEvicted("deleted", 1)
	}
	return removed, err
}

// Persist writes the resident history and metadata of the session as a full
// snapshot. It returns ErrNotFound if the session is no longer resident.
func (s *Store) Persist(ctx context.Context, id string) error {
	id = CanonicalID(id)
	if err := s.keys.Lock(ctx, id); err != nil {
		return err
	}
	defer s.keys.Unlock(id)

	s.mu.Lock()
	session, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	snapshot := session.Clone()
	session.Dirty = false
	s.mu.Unlock()

	start := time.Now()
	ctx, span := s.tracer.TraceStorage(ctx, "persist", id)
	defer span.End()

	err := s.backend.WriteHistory(ctx, id, snapshot.History)
	if err == nil {
		err = s.backend.WriteMetadata(ctx, snapshot.Metadata())
	}
	if err != nil {
		s.markDirty(id)
		s.tracer.RecordError(span, err)
		s.metrics.RecordPersist("error", time.Since(start).Seconds())
		s.metrics.RecordError("sessions", "persist_failed")
		return fmt.Errorf("persist session %s: %w", id, err)
	}
	s.metrics.RecordPersist("success", time.Since(start).Seconds())
	return nil
}

// Flush persists every dirty resident session. It stops early when ctx is done.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	var dirty []string
	for id, session := range s.sessions {
		if session.Dirty {
			dirty = append(dirty, id)
		}
	}
	s.mu.Unlock()

	var errs []error
	for _, id := range dirty {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := s.Persist(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SweepExpired evicts every resident session idle for longer than timeout
// and deletes its durable record. A non-positive timeout uses the configured
// one. It returns the number of sessions evicted.
func (s *Store) SweepExpired(ctx context.Context, timeout time.Duration) (int, error) {
	if timeout <= 0 {
		timeout = s.cfg.Timeout
	}

	cutoff := s.now().Add(-timeout)
	s.mu.Lock()
	var candidates []string
	for id, session := range s.sessions {
		if session.LastAccessed.Before(cutoff) {
			candidates = append(candidates, id)
		}
	}
	s.mu.Unlock()

	evicted := 0
	var errs []error
	for _, id := range candidates {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		removed, err := s.sweepOne(ctx, id, timeout)
		if err != nil {
			errs = append(errs, err)
		}
		if removed {
			evicted++
		}
	}

	s.metrics.SessionEvicted("expired", evicted)
	if evicted > 0 {
		s.logger.InfoContext(ctx, "swept expired sessions", "count", evicted, "timeout", timeout.String())
	}
	return evicted, errors.Join(errs...)
}

func (s *Store) sweepOne(ctx context.Context, id string, timeout time.Duration) (bool, error) {
	if err := s.keys.Lock(ctx, id); err != nil {
		return false, err
	}
	defer s.keys.Unlock(id)

	// Re-check under the map lock: the session may have been used since the scan.
	s.mu.Lock()
	session, ok := s.sessions[id]
	if !ok || !session.LastAccessed.Before(s.now().Add(-timeout)) {
		s.mu.Unlock()
		return false, nil
	}
	delete(s.sessions, id)
	count := len(s.sessions)
	s.mu.Unlock()
	s.metrics.SetResidentSessions(count)

	if _, err := s.deleteDurableLocked(ctx, id); err != nil {
		return true, fmt.Errorf("delete expired session %s: %w", id, err)
	}
	return true, nil
}

// ListByOwner returns summaries of every resident and durable session owned
// by owner, newest first.
func (s *Store) ListByOwner(ctx context.Context, owner string) ([]models.SessionSummary, error) {
	durable, err := s.backend.ListMetadata(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	byID := make(map[string]models.SessionSummary, len(durable))
	for _, meta := range durable {
		byID[meta.SessionID] = models.SessionSummary{
			ID:           meta.SessionID,
			CreatedAt:    meta.CreatedAt,
			LastAccessed: meta.LastAccessed,
		}
	}

	s.mu.Lock()
	for id, session := range s.sessions {
		if session.Owner != owner {
			continue
		}
		byID[id] = models.SessionSummary{
			ID:           id,
			CreatedAt:    session.CreatedAt,
			LastAccessed: session.LastAccessed,
			Resident:     true,
			Turns:        len(session.History),
		}
	}
	s.mu.Unlock()

	out := make([]models.SessionSummary, 0, len(byID))
	for _, summary := range byID {
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// History returns a copy of the resident history without refreshing the
// session's last access time.
func (s *Store) History(id string) ([]models.Turn, error) {
	id = CanonicalID(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return models.CloneTurns(session.History), nil
}

// Len returns the number of resident sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Store) markDirty(id string) {
	s.mu.Lock()
	if session, ok := s.sessions[id]; ok {
		session.Dirty = true
	}
	s.mu.Unlock()
}

func (s *Store) writeMetadata(ctx context.Context, meta *models.SessionMetadata) error {
	if err := s.keys.Lock(ctx, meta.SessionID); err != nil {
		return err
	}
	defer s.keys.Unlock(meta.SessionID)

	// Skip if the session was deleted or evicted while unlocked.
	s.mu.Lock()
	_, ok := s.sessions[meta.SessionID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.backend.WriteMetadata(ctx, meta)
}

func (s *Store) deleteDurable(ctx context.Context, id string) (bool, error) {
	if err := s.keys.Lock(ctx, id); err != nil {
		return false, err
	}
	defer s.keys.Unlock(id)
	return s.deleteDurableLocked(ctx, id)
}

func (s *Store) deleteDurableLocked(ctx context.Context, id string) (bool, error) {
	ctx, span := s.tracer.TraceStorage(ctx, "delete", id)
	defer span.End()
	removed, err := storage.DeleteSession(ctx, s.backend, id)
	if err != nil {
		s.tracer.RecordError(span, err)
		s.metrics.RecordError("sessions", "delete_failed")
	}
	return removed, err
}
