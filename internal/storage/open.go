package storage

import (
	"context"
	"fmt"
	"strings"
)

// Backend names accepted by Open.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendS3       = "s3"
	BackendMemory   = "memory"
)

// Config selects and configures a session backend.
type Config struct {
	Backend string
	Dir     string
	SQL     *SQLConfig
	S3      *S3Config
}

// Open constructs the backend named by cfg.Backend.
func Open(ctx context.Context, cfg Config) (SessionBackend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendFile:
		return NewFileStore(cfg.Dir)
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite, BackendPostgres:
		sqlCfg := DefaultSQLConfig()
		if cfg.SQL != nil {
			copied := *cfg.SQL
			sqlCfg = &copied
		}
		sqlCfg.Driver = strings.ToLower(strings.TrimSpace(cfg.Backend))
		return NewSQLStore(sqlCfg)
	case BackendS3:
		return NewS3Store(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
