// Package chat is the exposed surface of the assistant: session creation,
// message handling and deletion, with ownership checks, per-session turn
// ordering and asynchronous persistence.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/chatcore/internal/agent"
	"github.com/haasonsaas/chatcore/internal/buildlog"
	"github.com/haasonsaas/chatcore/internal/observability"
	"github.com/haasonsaas/chatcore/internal/sanitize"
	"github.com/haasonsaas/chatcore/internal/sessions"
	"github.com/haasonsaas/chatcore/pkg/models"
)

var (
	// ErrSessionNotFound is returned for sessions with no resident or durable record.
	ErrSessionNotFound = errors.New("session not found")

	// ErrForbidden is returned when the caller does not own the session.
	ErrForbidden = errors.New("session belongs to another user")

	// ErrEmptyMessage is returned for a message with no text and no files.
	ErrEmptyMessage = errors.New("either message or files must be provided")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("chat service closed")
)

// logAnalysisPattern matches messages sent by the build-failure helper.
var logAnalysisPattern = regexp.MustCompile("(?s)Here are the last \\d+ characters of the log:\\s*```\\s*(.*?)\\s*```\\s*(.*)")

// Answerer runs the answer pipeline.
type Answerer interface {
	Answer(ctx context.Context, in agent.Input) (*agent.Run, error)
	SummarizeLog(ctx context.Context, log string) (string, buildlog.Analysis)
}

// Config configures a Service.
type Config struct {
	MaxTextBytes  int
	MaxImageBytes int
	MaxTextChars  int

	// PersistTimeout bounds each background snapshot.
	PersistTimeout time.Duration
}

// DefaultConfig returns the default service settings.
func DefaultConfig() Config {
	return Config{
		MaxTextBytes:   DefaultMaxTextBytes,
		MaxImageBytes:  DefaultMaxImageBytes,
		MaxTextChars:   DefaultMaxTextChars,
		PersistTimeout: 30 * time.Second,
	}
}

// Reply is the result of one message.
type Reply struct {
	SessionID      string   `json:"session_id"`
	Reply          string   `json:"reply"`
	ProcessedFiles []string `json:"processed_files,omitempty"`

	Run *agent.Run `json:"-"`
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithLocker replaces the in-process turn locker, for example with a
// sessions.DBLocker shared between replicas.
func WithLocker(l sessions.Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.turns = l
		}
	}
}

// Service implements the chat operations.
type Service struct {
	store     *sessions.Store
	answerer  Answerer
	sanitizer *sanitize.Sanitizer
	turns     sessions.Locker
	cfg       Config

	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
}

// NewService creates a Service. A nil sanitizer uses the default patterns.
func NewService(store *sessions.Store, answerer Answerer, sanitizer *sanitize.Sanitizer, cfg Config, opts ...Option) *Service {
	def := DefaultConfig()
	if cfg.MaxTextBytes <= 0 {
		cfg.MaxTextBytes = def.MaxTextBytes
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = def.MaxImageBytes
	}
	if cfg.MaxTextChars <= 0 {
		cfg.MaxTextChars = def.MaxTextChars
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = def.PersistTimeout
	}
	if sanitizer == nil {
		sanitizer = sanitize.Default()
	}
	s := &Service{
		store:     store,
		answerer:  answerer,
		sanitizer: sanitizer,
		turns:     sessions.NewLocalLocker(),
		cfg:       cfg,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "chat")
	return s
}

// CreateSession starts a session for owner and returns its id.
func (s *Service) CreateSession(ctx context.Context, owner string) (string, error) {
	session, err := s.store.Create(ctx, owner)
	if err != nil {
		return "", err
	}
	return session.ID, nil
}

// PostMessage answers text in the session.
func (s *Service) PostMessage(ctx context.Context, sessionID, owner, text string, attachments []models.Attachment) (*Reply, error) {
	return s.handle(ctx, sessionID, owner, text, attachments, nil)
}

// StreamMessage is PostMessage with the answer delivered to onToken as it
// is generated.
func (s *Service) StreamMessage(ctx context.Context, sessionID, owner, text string, attachments []models.Attachment, onToken func(string)) (*Reply, error) {
	if onToken == nil {
		onToken = func(string) {}
	}
	return s.handle(ctx, sessionID, owner, text, attachments, onToken)
}

// Authorize checks that the session exists and belongs to owner.
func (s *Service) Authorize(ctx context.Context, sessionID, owner string) error {
	if !s.store.Exists(ctx, sessionID) {
		return ErrSessionNotFound
	}
	if !s.store.ValidateOwner(ctx, sessionID, owner) {
		return ErrForbidden
	}
	return nil
}

func (s *Service) handle(ctx context.Context, sessionID, owner, text string, attachments []models.Attachment, onToken func(string)) (*Reply, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	if strings.TrimSpace(text) == "" && len(attachments) == 0 {
		return nil, ErrEmptyMessage
	}
	sessionID = sessions.CanonicalID(sessionID)
	ctx = observability.AddSessionID(ctx, sessionID)
	if err := s.Authorize(ctx, sessionID, owner); err != nil {
		return nil, err
	}
	files, err := s.prepareAttachments(attachments)
	if err != nil {
		return nil, err
	}

	ctx, span := s.tracer.TraceTurn(ctx, sessionID)
	defer span.End()

	if err := s.turns.Lock(ctx, sessionID); err != nil {
		return nil, err
	}
	defer s.turns.Unlock(sessionID)

	session, err := s.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	query, extra := s.buildInput(ctx, text, files)
	s.logger.InfoContext(ctx, "handling message", "files", len(files), "history", len(session.History))

	run, err := s.answerer.Answer(ctx, agent.Input{
		Query:        query,
		History:      session.History,
		ExtraContext: extra,
		OnToken:      onToken,
	})
	if err != nil {
		s.tracer.RecordError(span, err)
		return nil, err
	}

	userTurn := models.NewTurn(models.RoleUser, userTurnContent(text, files), storedAttachments(files)...)
	botTurn := models.NewTurn(models.RoleAssistant, run.Answer)
	if err := s.store.Append(ctx, sessionID, userTurn, botTurn); err != nil {
		// Deleted or swept while the answer was generated.
		if errors.Is(err, sessions.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	s.persistAsync(ctx, sessionID)

	reply := &Reply{SessionID: sessionID, Reply: run.Answer, Run: run}
	for _, f := range files {
		reply.ProcessedFiles = append(reply.ProcessedFiles, f.Filename)
	}
	return reply, nil
}

// buildInput derives the pipeline query and the extra context. A pasted
// build log is sanitized, reduced to a search query, and attached as
// context; uploaded text files are sanitized before they reach the prompt.
func (s *Service) buildInput(ctx context.Context, text string, files []models.Attachment) (string, string) {
	query := strings.TrimSpace(text)
	var extra []string

	if m := logAnalysisPattern.FindStringSubmatch(text); m != nil {
		log, kinds := s.sanitizer.Sanitize(m[1])
		if len(kinds) > 0 {
			s.logger.InfoContext(ctx, "secrets masked in build log", "kinds", kinds)
		}
		question := strings.TrimSpace(m[2])
		signature, analysis := s.answerer.SummarizeLog(ctx, log)
		switch {
		case question == "" && signature != "":
			query = signature
		case question == "":
			query = "Why did this Jenkins build fail?"
		case signature != "":
			query = question + "\nError signature: " + signature
		default:
			query = question
		}
		excerpt := analysis.Excerpt
		if excerpt == "" {
			excerpt = buildlog.Truncate(log, buildlog.DefaultContextTokens*4)
		}
		extra = append(extra, "[Build Log]\n"+excerpt)
	}

	if len(files) > 0 {
		clean := make([]models.Attachment, len(files))
		for i, f := range files {
			clean[i] = f
			if f.Kind != models.AttachmentText {
				continue
			}
			var kinds []string
			clean[i].Payload, kinds = s.sanitizer.Sanitize(f.Payload)
			if len(kinds) > 0 {
				s.logger.InfoContext(ctx, "secrets masked in upload", "filename", f.Filename, "kinds", kinds)
			}
		}
		extra = append(extra, FormatFileContext(clean))
		if query == "" {
			query = "Please review the attached files."
		}
	}
	return query, strings.Join(extra, "\n\n")
}

// persistAsync snapshots the session in the background. Once Close has
// started the snapshot runs inline instead.
func (s *Service) persistAsync(ctx context.Context, sessionID string) {
	ctx = context.WithoutCancel(ctx)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.persist(ctx, sessionID)
		return
	}
	s.pending.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.pending.Done()
		s.persist(ctx, sessionID)
	}()
}

func (s *Service) persist(ctx context.Context, sessionID string) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.PersistTimeout)
	defer cancel()
	if err := s.store.Persist(ctx, sessionID); err != nil && !errors.Is(err, sessions.ErrNotFound) {
		s.logger.WarnContext(ctx, "persist session failed", "error", err)
	}
}

// DeleteSession removes the session. It reports false, without error, when
// there was nothing to delete.
func (s *Service) DeleteSession(ctx context.Context, sessionID, owner string) (bool, error) {
	sessionID = sessions.CanonicalID(sessionID)
	if err := s.Authorize(ctx, sessionID, owner); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := s.turns.Lock(ctx, sessionID); err != nil {
		return false, err
	}
	defer s.turns.Unlock(sessionID)

	removed, err := s.store.Delete(ctx, sessionID)
	if err != nil {
		return removed, fmt.Errorf("delete session: %w", err)
	}
	if removed {
		s.logger.InfoContext(ctx, "session deleted", "session_id", sessionID)
	}
	return removed, nil
}

// ListSessions lists owner's sessions, newest first.
func (s *Service) ListSessions(ctx context.Context, owner string) ([]models.SessionSummary, error) {
	return s.store.ListByOwner(ctx, owner)
}

// Close rejects new messages and waits for pending persistence, then
// flushes anything still dirty.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.store.Flush(ctx)
}

func (s *Service) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
