package sessions

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// DefaultSweepSchedule runs the expiry sweep hourly.
const DefaultSweepSchedule = "@every 1h"

// Sweeper runs Store.SweepExpired on a cron schedule.
type Sweeper struct {
	store    *Store
	schedule cron.Schedule
	expr     string
	logger   *slog.Logger

	mu  sync.Mutex
	ctx context.Context
}

// NewSweeper parses expr (a cron expression or descriptor such as
// "@every 1h") and returns a sweeper for store.
func NewSweeper(store *Store, expr string, logger *slog.Logger) (*Sweeper, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		expr = DefaultSweepSchedule
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", expr, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:    store,
		schedule: schedule,
		expr:     expr,
		logger:   logger.With("component", "sweeper"),
	}, nil
}

// Run blocks until ctx is done, sweeping on schedule. On return any sweep in
// progress has been cancelled and has finished; sessions already written to
// durable storage are untouched.
func (s *Sweeper) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	c := cron.New(cron.WithParser(cronParser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(s.schedule, cron.FuncJob(s.sweep))
	c.Start()
	s.logger.Info("session sweeper started", "schedule", s.expr, "timeout", s.store.Config().Timeout.String())

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("session sweeper stopped")
	return nil
}

// Next returns the next scheduled sweep after now.
func (s *Sweeper) Next(now time.Time) time.Time {
	return s.schedule.Next(now)
}

func (s *Sweeper) sweep() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	start := time.Now()
	count, err := s.store.SweepExpired(ctx, 0)
	if err != nil {
		s.logger.Warn("session sweep incomplete", "evicted", count, "error", err)
		return
	}
	s.logger.Debug("session sweep finished", "evicted", count, "duration", time.Since(start).String())
}
