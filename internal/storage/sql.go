package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/haasonsaas/chatcore/pkg/models"
)

// Supported SQL drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// SQLConfig configures a SQL-backed session store.
type SQLConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultSQLConfig returns default connection pool settings.
func DefaultSQLConfig() *SQLConfig {
	return &SQLConfig{
		Driver:          DriverSQLite,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// SQLStore implements SessionBackend on SQLite or PostgreSQL.
type SQLStore struct {
	db     *sql.DB
	driver string

	stmtUpsertHistory  *sql.Stmt
	stmtGetHistory     *sql.Stmt
	stmtDeleteHistory  *sql.Stmt
	stmtUpsertMetadata *sql.Stmt
	stmtGetMetadata    *sql.Stmt
	stmtDeleteMetadata *sql.Stmt
	stmtListMetadata   *sql.Stmt
}

// NewSQLStore opens the database, creates the schema and prepares statements.
func NewSQLStore(cfg *SQLConfig) (*SQLStore, error) {
	if cfg == nil {
		cfg = DefaultSQLConfig()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = DriverSQLite
	}
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported sql driver %q", cfg.Driver)
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("dsn is required")
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if driver == DriverSQLite {
		// SQLite serializes writers; a single connection also keeps
		// ":memory:" databases visible to every query.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", describeDBError(err))
	}
	if err := migrate(ctx, db, driver); err != nil {
		_ = db.Close()
		return nil, err
	}

	store, err := newSQLStore(db, driver)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// DB exposes the connection pool for related stores such as lease locks.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Driver returns the SQL driver name.
func (s *SQLStore) Driver() string {
	return s.driver
}

func newSQLStore(db *sql.DB, driver string) (*SQLStore, error) {
	s := &SQLStore{db: db, driver: driver}
	if err := s.prepareStatements(); err != nil {
		return nil, fmt.Errorf("prepare statements: %w", err)
	}
	return s, nil
}

func schema(driver string) []string {
	turnsType := "TEXT"
	if driver == DriverPostgres {
		turnsType = "JSONB"
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS chat_sessions (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			last_accessed BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS chat_sessions_owner_idx ON chat_sessions (owner)`,
		`CREATE TABLE IF NOT EXISTS chat_history (
			session_id TEXT PRIMARY KEY,
			turns ` + turnsType + ` NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
	}
}

func migrate(ctx context.Context, db *sql.DB, driver string) error {
	for _, stmt := range schema(driver) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate schema: %w", describeDBError(err))
		}
	}
	return nil
}

func (s *SQLStore) prepareStatements() error {
	statements := []struct {
		dst   **sql.Stmt
		name  string
		query string
	}{
		{&s.stmtUpsertHistory, "upsert history", `
			INSERT INTO chat_history (session_id, turns, updated_at) VALUES (?, ?, ?)
			ON CONFLICT (session_id) DO UPDATE SET turns = excluded.turns, updated_at = excluded.updated_at`},
		{&s.stmtGetHistory, "get history", `SELECT turns FROM chat_history WHERE session_id = ?`},
		{&s.stmtDeleteHistory, "delete history", `DELETE FROM chat_history WHERE session_id = ?`},
		{&s.stmtUpsertMetadata, "upsert metadata", `
			INSERT INTO chat_sessions (id, owner, created_at, last_accessed) VALUES (?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET owner = excluded.owner, last_accessed = excluded.last_accessed`},
		{&s.stmtGetMetadata, "get metadata", `SELECT id, owner, created_at, last_accessed FROM chat_sessions WHERE id = ?`},
		{&s.stmtDeleteMetadata, "delete metadata", `DELETE FROM chat_sessions WHERE id = ?`},
		{&s.stmtListMetadata, "list metadata", `
			SELECT id, owner, created_at, last_accessed FROM chat_sessions
			WHERE owner = ? ORDER BY created_at`},
	}
	for _, st := range statements {
		stmt, err := s.db.Prepare(rebind(s.driver, st.query))
		if err != nil {
			return fmt.Errorf("%s: %w", st.name, describeDBError(err))
		}
		*st.dst = stmt
	}
	return nil
}

// rebind rewrites ? placeholders into the numbered form PostgreSQL expects.
func rebind(driver, query string) string {
	if driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// describeDBError annotates PostgreSQL errors with their condition name.
func describeDBError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fmt.Errorf("%s (%s): %w", pqErr.Code.Name(), pqErr.Code, err)
	}
	return err
}

func (s *SQLStore) ReadHistory(ctx context.Context, sessionID string) ([]models.Turn, error) {
	var raw string
	if err := s.stmtGetHistory.QueryRowContext(ctx, sessionID).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get history: %w", describeDBError(err))
	}
	var turns []models.Turn
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return turns, nil
}

func (s *SQLStore) WriteHistory(ctx context.Context, sessionID string, turns []models.Turn) error {
	if !ValidSessionID(sessionID) {
		return ErrInvalidID
	}
	if turns == nil {
		turns = []models.Turn{}
	}
	data, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if _, err := s.stmtUpsertHistory.ExecContext(ctx, sessionID, string(data), time.Now().UnixNano()); err != nil {
		return fmt.Errorf("write history: %w", describeDBError(err))
	}
	return nil
}

func (s *SQLStore) DeleteHistory(ctx context.Context, sessionID string) (bool, error) {
	return s.execDelete(ctx, s.stmtDeleteHistory, "delete history", sessionID)
}

func (s *SQLStore) ReadMetadata(ctx context.Context, sessionID string) (*models.SessionMetadata, error) {
	meta, err := scanMetadata(s.stmtGetMetadata.QueryRowContext(ctx, sessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get metadata: %w", describeDBError(err))
	}
	return meta, nil
}

func (s *SQLStore) WriteMetadata(ctx context.Context, meta *models.SessionMetadata) error {
	if meta == nil || !ValidSessionID(meta.SessionID) {
		return ErrInvalidID
	}
	_, err := s.stmtUpsertMetadata.ExecContext(ctx,
		meta.SessionID,
		meta.Owner,
		meta.CreatedAt.UnixNano(),
		meta.LastAccessed.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("write metadata: %w", describeDBError(err))
	}
	return nil
}

func (s *SQLStore) DeleteMetadata(ctx context.Context, sessionID string) (bool, error) {
	return s.execDelete(ctx, s.stmtDeleteMetadata, "delete metadata", sessionID)
}

func (s *SQLStore) ListMetadata(ctx context.Context, owner string) ([]*models.SessionMetadata, error) {
	rows, err := s.stmtListMetadata.QueryContext(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list metadata: %w", describeDBError(err))
	}
	defer rows.Close()

	var out []*models.SessionMetadata
	for rows.Next() {
		meta, err := scanMetadata(rows)
		if err != nil {
			return nil, fmt.Errorf("scan metadata: %w", err)
		}
		out = append(out, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list metadata: %w", describeDBError(err))
	}
	return out, nil
}

// Close releases prepared statements and the connection pool.
func (s *SQLStore) Close() error {
	for _, stmt := range []*sql.Stmt{
		s.stmtUpsertHistory, s.stmtGetHistory, s.stmtDeleteHistory,
		s.stmtUpsertMetadata, s.stmtGetMetadata, s.stmtDeleteMetadata, s.stmtListMetadata,
	} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
	return s.db.Close()
}

func (s *SQLStore) execDelete(ctx context.Context, stmt *sql.Stmt, op, sessionID string) (bool, error) {
	res, err := stmt.ExecContext(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, describeDBError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMetadata(row rowScanner) (*models.SessionMetadata, error) {
	var meta models.SessionMetadata
	var created, accessed int64
	if err := row.Scan(&meta.SessionID, &meta.Owner, &created, &accessed); err != nil {
		return nil, err
	}
	meta.CreatedAt = time.Unix(0, created).UTC()
	meta.LastAccessed = time.Unix(0, accessed).UTC()
	return &meta, nil
}
