package config

import (
	"fmt"
	"strings"
	"time"
)

type SessionConfig struct {
	// Timeout is how long a session may stay idle before the sweep
	// evicts it.
	Timeout time.Duration `yaml:"timeout"`

	// MaxPerOwner caps live sessions per user. Zero disables the cap.
	MaxPerOwner int `yaml:"max_per_owner"`

	// SweepSchedule is a cron expression or descriptor such as "@every 1h".
	SweepSchedule string `yaml:"sweep_schedule"`

	// PersistTimeout bounds each background snapshot.
	PersistTimeout time.Duration `yaml:"persist_timeout"`

	Locks SessionLockConfig `yaml:"locks"`
}

// SessionLockConfig configures the per-session turn lock.
type SessionLockConfig struct {
	// Backend is "local" or "db". The db locker needs postgres storage.
	Backend string `yaml:"backend"`

	// OwnerID identifies this replica; empty generates one.
	OwnerID string `yaml:"owner_id"`

	// TTL is the lock lease duration.
	TTL time.Duration `yaml:"ttl"`

	// RefreshInterval is how often leases are renewed.
	RefreshInterval time.Duration `yaml:"refresh_interval"`

	// AcquireTimeout is how long to wait for a lock.
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`

	// PollInterval controls backoff when another replica holds the lock.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// StorageConfig selects where session snapshots are persisted.
type StorageConfig struct {
	// Backend is one of file, memory, sqlite, postgres, s3.
	Backend string `yaml:"backend"`

	// Dir is the snapshot directory for the file backend.
	Dir string `yaml:"dir"`

	SQL SQLConfig `yaml:"sql"`
	S3  S3Config  `yaml:"s3"`
}

type SQLConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

func applySessionDefaults(cfg *SessionConfig) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 24 * time.Hour
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = "@every 1h"
	}
	if cfg.PersistTimeout == 0 {
		cfg.PersistTimeout = 30 * time.Second
	}
	if cfg.Locks.Backend == "" {
		cfg.Locks.Backend = "local"
	}
	if cfg.Locks.TTL == 0 {
		cfg.Locks.TTL = 2 * time.Minute
	}
	if cfg.Locks.RefreshInterval == 0 {
		cfg.Locks.RefreshInterval = cfg.Locks.TTL / 3
	}
	if cfg.Locks.AcquireTimeout == 0 {
		cfg.Locks.AcquireTimeout = 30 * time.Second
	}
	if cfg.Locks.PollInterval == 0 {
		cfg.Locks.PollInterval = 200 * time.Millisecond
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Backend == "" {
		cfg.Backend = "file"
	}
	if cfg.Dir == "" {
		cfg.Dir = "data/sessions"
	}
	if strings.EqualFold(cfg.Backend, "sqlite") && cfg.SQL.DSN == "" {
		cfg.SQL.DSN = "data/sessions.db"
	}
}

func (c SessionConfig) validate() []error {
	var errs []error
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("session.timeout must not be negative"))
	}
	if c.MaxPerOwner < 0 {
		errs = append(errs, fmt.Errorf("session.max_per_owner must not be negative"))
	}
	switch strings.ToLower(c.Locks.Backend) {
	case "local", "db":
	default:
		errs = append(errs, fmt.Errorf("session.locks.backend %q must be local or db", c.Locks.Backend))
	}
	if c.Locks.RefreshInterval >= c.Locks.TTL {
		errs = append(errs, fmt.Errorf("session.locks.refresh_interval must be shorter than ttl"))
	}
	return errs
}

func (c StorageConfig) validate() []error {
	var errs []error
	switch strings.ToLower(c.Backend) {
	case "file", "memory", "sqlite":
	case "postgres":
		if strings.TrimSpace(c.SQL.DSN) == "" {
			errs = append(errs, fmt.Errorf("storage.sql.dsn is required for postgres"))
		}
	case "s3":
		if strings.TrimSpace(c.S3.Bucket) == "" {
			errs = append(errs, fmt.Errorf("storage.s3.bucket is required for s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not one of file, memory, sqlite, postgres, s3", c.Backend))
	}
	return errs
}
