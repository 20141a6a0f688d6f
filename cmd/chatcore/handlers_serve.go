package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/chatcore/internal/rag/index"
	"github.com/haasonsaas/chatcore/internal/sessions"
)

const shutdownTimeout = 30 * time.Second

// runServe runs the HTTP server, the session sweeper and the index loader
// until ctx is cancelled or one of them fails.
func runServe(ctx context.Context) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	a := newApp(cfg)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			a.logger.Error("shutdown failed", "error", err)
		}
	}()

	a.logger.Info("starting chatcore",
		"version", version,
		"commit", commit,
		"config", configPath,
		"llm_provider", cfg.LLM.Provider,
		"storage", cfg.Storage.Backend,
	)

	chatService, err := a.openChat(ctx)
	if err != nil {
		return err
	}
	_, loader, err := a.openIndex()
	if err != nil {
		return err
	}
	sweeper, err := sessions.NewSweeper(a.store, cfg.Session.SweepSchedule, a.logger)
	if err != nil {
		return err
	}
	server := a.httpServer(chatService)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		return loadIndex(gctx, a, loader, cfg.Retrieval.Watch, cfg.Retrieval.WatchDebounce)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server stopped: %w", err)
	}
	a.logger.Info("chatcore stopped gracefully")
	return nil
}

// loadIndex loads the documents once and, when watch is set, keeps the
// index in sync. A missing document directory is not fatal; the search
// tools then report that nothing was found.
func loadIndex(ctx context.Context, a *app, loader *index.Loader, watch bool, debounce time.Duration) error {
	if _, err := os.Stat(loader.Dir()); err != nil {
		a.logger.Warn("document directory unavailable; index not loaded", "dir", loader.Dir(), "error", err)
		return nil
	}
	stats, err := loader.Load(ctx)
	if err != nil {
		a.logger.Error("index load failed", "error", err)
	} else {
		a.logger.Info("index loaded", "files", stats.Files, "chunks", stats.Chunks, "failed", len(stats.Failed))
	}
	if !watch {
		return nil
	}
	return index.NewWatcher(loader, debounce, a.logger).Run(ctx)
}
