package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/haasonsaas/chatcore/internal/agent"
	"github.com/haasonsaas/chatcore/internal/auth"
	"github.com/haasonsaas/chatcore/internal/chat"
	"github.com/haasonsaas/chatcore/internal/config"
	"github.com/haasonsaas/chatcore/internal/httpapi"
	"github.com/haasonsaas/chatcore/internal/llm"
	"github.com/haasonsaas/chatcore/internal/llm/providers"
	"github.com/haasonsaas/chatcore/internal/observability"
	"github.com/haasonsaas/chatcore/internal/rag/index"
	"github.com/haasonsaas/chatcore/internal/rag/store"
	"github.com/haasonsaas/chatcore/internal/ratelimit"
	"github.com/haasonsaas/chatcore/internal/sanitize"
	"github.com/haasonsaas/chatcore/internal/sessions"
	"github.com/haasonsaas/chatcore/internal/storage"
	"github.com/haasonsaas/chatcore/internal/tools"
)

// app holds the components a command needs. Components are opened on
// demand so light commands such as "sessions list" never touch the model
// or the index.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics
	tracer   *observability.Tracer

	backend storage.SessionBackend
	store   *sessions.Store
	locker  sessions.Locker

	index  store.Index
	loader *index.Loader

	chat *chat.Service

	closers []func(context.Context) error
}

// loadConfig reads the config file. A missing file at the default path
// runs on defaults.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && path == defaultConfigPath() {
		slog.Warn("config file not found, using defaults", "path", path)
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func newApp(cfg *config.Config) *app {
	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:          level,
		Format:         cfg.Logging.Format,
		Output:         os.Stderr,
		AddSource:      cfg.Logging.AddSource,
		RedactPatterns: cfg.Logging.RedactPatterns,
	})
	slog.SetDefault(logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	tracer, shutdown, err := observability.NewTracer(context.Background(), observability.TraceConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Attributes:     cfg.Tracing.Attributes,
		EnableInsecure: cfg.Tracing.Insecure,
	})
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics:  observability.NewMetrics(registry),
		tracer:   tracer,
		closers:  []func(context.Context) error{shutdown},
	}
}

func (a *app) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases components in reverse order of opening.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *app) openSessions(ctx context.Context) (*sessions.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	cfg := a.cfg
	switch cfg.Storage.Backend {
	case storage.BackendFile:
		if err := os.MkdirAll(cfg.Storage.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create session dir: %w", err)
		}
	case storage.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQL.DSN), 0o755); err != nil {
			return nil, fmt.Errorf("create session db dir: %w", err)
		}
	}
	backend, err := storage.Open(ctx, storageConfig(cfg.Storage))
	if err != nil {
		return nil, fmt.Errorf("open session storage: %w", err)
	}
	a.backend = backend
	a.onClose(func(context.Context) error { return backend.Close() })

	a.store = sessions.NewStore(backend, sessions.Config{
		Timeout:             cfg.Session.Timeout,
		MaxSessionsPerOwner: cfg.Session.MaxPerOwner,
	},
		sessions.WithLogger(a.logger),
		sessions.WithMetrics(a.metrics),
		sessions.WithTracer(a.tracer),
	)

	a.locker = sessions.NewLocalLocker()
	if cfg.Session.Locks.Backend == "db" {
		sqlStore, ok := backend.(*storage.SQLStore)
		if !ok {
			return nil, fmt.Errorf("db session locks need postgres storage")
		}
		locker, err := sessions.NewDBLocker(sqlStore.DB(), sessions.DBLockerConfig{
			OwnerID:         cfg.Session.Locks.OwnerID,
			TTL:             cfg.Session.Locks.TTL,
			RefreshInterval: cfg.Session.Locks.RefreshInterval,
			AcquireTimeout:  cfg.Session.Locks.AcquireTimeout,
			PollInterval:    cfg.Session.Locks.PollInterval,
		})
		if err != nil {
			return nil, err
		}
		a.locker = locker
		a.onClose(func(context.Context) error { return locker.Close() })
	}
	return a.store, nil
}

func storageConfig(c config.StorageConfig) storage.Config {
	sqlCfg := storage.DefaultSQLConfig()
	sqlCfg.DSN = c.SQL.DSN
	if c.SQL.MaxOpenConns > 0 {
		sqlCfg.MaxOpenConns = c.SQL.MaxOpenConns
	}
	if c.SQL.MaxIdleConns > 0 {
		sqlCfg.MaxIdleConns = c.SQL.MaxIdleConns
	}
	if c.SQL.ConnMaxLifetime > 0 {
		sqlCfg.ConnMaxLifetime = c.SQL.ConnMaxLifetime
	}
	if c.SQL.ConnMaxIdleTime > 0 {
		sqlCfg.ConnMaxIdleTime = c.SQL.ConnMaxIdleTime
	}
	if c.SQL.ConnectTimeout > 0 {
		sqlCfg.ConnectTimeout = c.SQL.ConnectTimeout
	}
	return storage.Config{
		Backend: c.Backend,
		Dir:     c.Dir,
		SQL:     sqlCfg,
		S3: &storage.S3Config{
			Bucket:          c.S3.Bucket,
			Region:          c.S3.Region,
			Endpoint:        c.S3.Endpoint,
			Prefix:          c.S3.Prefix,
			AccessKeyID:     c.S3.AccessKeyID,
			SecretAccessKey: c.S3.SecretAccessKey,
			UsePathStyle:    c.S3.UsePathStyle,
		},
	}
}

func (a *app) openIndex() (store.Index, *index.Loader, error) {
	if a.index != nil {
		return a.index, a.loader, nil
	}
	r := a.cfg.Retrieval
	if err := os.MkdirAll(filepath.Dir(r.IndexPath), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create index dir: %w", err)
	}
	keyword, err := store.NewSQLiteIndex(r.IndexPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open keyword index: %w", err)
	}
	var idx store.Index = keyword

	if r.Vector.Enabled {
		embed := store.EmbeddingFunc(store.EmbeddingConfig{
			BaseURL: r.Vector.BaseURL,
			APIKey:  r.Vector.APIKey,
			Model:   r.Vector.Model,
		})
		vector, err := store.NewVectorIndex(r.Vector.Path, embed)
		if err != nil {
			_ = keyword.Close()
			return nil, nil, fmt.Errorf("open vector index: %w", err)
		}
		idx = store.NewHybrid(keyword, vector, store.HybridConfig{
			KeywordWeight:  r.Vector.KeywordWeight,
			SemanticWeight: r.Vector.SemanticWeight,
		}, a.logger)
	}

	a.index = idx
	a.loader = index.NewLoader(idx, r.DocsDir, r.Chunking, a.logger)
	a.onClose(func(context.Context) error { return idx.Close() })
	return a.index, a.loader, nil
}

// openChat wires the full answer path: model, tools, pipeline, sanitizer
// and the chat service on top of the session store.
func (a *app) openChat(ctx context.Context) (*chat.Service, error) {
	if a.chat != nil {
		return a.chat, nil
	}
	cfg := a.cfg
	sessionStore, err := a.openSessions(ctx)
	if err != nil {
		return nil, err
	}
	idx, _, err := a.openIndex()
	if err != nil {
		return nil, err
	}

	provider, err := a.openProvider(ctx)
	if err != nil {
		return nil, err
	}
	if provider == nil {
		a.logger.Warn("no llm provider configured; answers will report the model as unavailable")
	}
	gen := llm.NewGenerator(provider, llm.GeneratorConfig{
		Model:       cfg.LLM.Model,
		Timeout:     cfg.LLM.Timeout,
		Temperature: cfg.LLM.Temperature,
	},
		llm.WithLogger(a.logger),
		llm.WithMetrics(a.metrics),
		llm.WithTracer(a.tracer),
	)

	registry := tools.NewRegistry(
		tools.WithLogger(a.logger),
		tools.WithMetrics(a.metrics),
		tools.WithTracer(a.tracer),
		tools.WithConcurrency(cfg.Retrieval.ToolConcurrency),
	)
	searchCfg := tools.SearchConfig{
		TopK:       cfg.Retrieval.TopK,
		TopKByTool: cfg.Retrieval.TopKByTool,
		Sources:    cfg.Retrieval.Sources,
	}
	for _, tool := range tools.NewSearchTools(idx, searchCfg, a.logger) {
		if err := registry.Register(tool); err != nil {
			return nil, err
		}
	}

	pipeline := agent.NewPipeline(gen, registry, agent.Config{
		MaxIterations:     cfg.Pipeline.MaxIterations,
		HistoryTokens:     cfg.Pipeline.HistoryTokens,
		SystemInstruction: cfg.Pipeline.SystemInstruction,
		Budgets:           cfg.Pipeline.Budgets,
	},
		agent.WithLogger(a.logger),
		agent.WithMetrics(a.metrics),
		agent.WithTracer(a.tracer),
	)

	sanitizer, err := sanitize.New(cfg.Sanitizer)
	if err != nil {
		return nil, err
	}

	a.chat = chat.NewService(sessionStore, pipeline, sanitizer, chat.Config{
		MaxTextBytes:   cfg.Attachments.MaxTextBytes,
		MaxImageBytes:  cfg.Attachments.MaxImageBytes,
		MaxTextChars:   cfg.Attachments.MaxTextChars,
		PersistTimeout: cfg.Session.PersistTimeout,
	},
		chat.WithLogger(a.logger),
		chat.WithMetrics(a.metrics),
		chat.WithTracer(a.tracer),
		chat.WithLocker(a.locker),
	)
	a.onClose(a.chat.Close)
	return a.chat, nil
}

func (a *app) httpServer(chatService *chat.Service) *httpapi.Server {
	cfg := a.cfg
	var gatherer prometheus.Gatherer
	if cfg.Metrics.Enabled {
		gatherer = a.registry
	}
	opts := []httpapi.Option{
		httpapi.WithLogger(a.logger),
		httpapi.WithMetrics(a.metrics, gatherer),
		httpapi.WithTracer(a.tracer),
	}
	if cfg.RateLimit.Enabled {
		opts = append(opts, httpapi.WithRateLimiter(ratelimit.NewLimiter(cfg.RateLimit)))
	}
	return httpapi.New(httpapi.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		Prefix:          cfg.Server.Prefix,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, chatService, auth.NewService(cfg.Auth), opts...)
}

// openProvider builds the configured provider, wrapped in a failover chain
// when fallbacks are configured.
func (a *app) openProvider(ctx context.Context) (llm.Provider, error) {
	cfg := a.cfg.LLM
	primary, err := providers.New(ctx, providers.Config{
		Kind:            cfg.Provider,
		APIKey:          cfg.APIKey,
		BaseURL:         cfg.BaseURL,
		Model:           cfg.Model,
		Region:          cfg.Region,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		MaxRetries:      cfg.MaxRetries,
		RetryDelay:      cfg.RetryDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}
	if primary == nil || len(cfg.Fallbacks) == 0 {
		return primary, nil
	}

	fallbacks := make([]llm.Provider, 0, len(cfg.Fallbacks))
	for i, fb := range cfg.Fallbacks {
		p, err := providers.New(ctx, providers.Config{
			Kind:            fb.Provider,
			APIKey:          fb.APIKey,
			BaseURL:         fb.BaseURL,
			Model:           fb.Model,
			Region:          fb.Region,
			AccessKeyID:     fb.AccessKeyID,
			SecretAccessKey: fb.SecretAccessKey,
			MaxRetries:      cfg.MaxRetries,
			RetryDelay:      cfg.RetryDelay,
		})
		if err != nil {
			return nil, fmt.Errorf("llm fallback %d: %w", i, err)
		}
		if p != nil {
			fallbacks = append(fallbacks, p)
		}
	}
	chain := providers.NewFailover(providers.FailoverConfig{
		CircuitThreshold: cfg.CircuitThreshold,
		CircuitTimeout:   cfg.CircuitTimeout,
	}, primary, fallbacks...)
	a.logger.Info("llm failover enabled", "chain", chain.Name())
	return chain, nil
}
