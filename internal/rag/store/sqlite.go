package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/haasonsaas/chatcore/pkg/models"
)

// SQLiteIndex is a keyword index over an FTS5 table ranked with bm25().
type SQLiteIndex struct {
	db *sql.DB

	mu     sync.RWMutex
	closed bool
}

// NewSQLiteIndex opens (or creates) the index at path. Use ":memory:" for a
// transient index.
func NewSQLiteIndex(path string) (*SQLiteIndex, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open keyword index: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
			id UNINDEXED,
			source UNINDEXED,
			plugin_name UNINDEXED,
			url UNINDEXED,
			data_source UNINDEXED,
			code_blocks UNINDEXED,
			title,
			chunk_text,
			tokenize = 'porter unicode61'
		)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create keyword index: %w", err)
	}
	return &SQLiteIndex{db: db}, nil
}

// Upsert replaces chunks by ID in a single transaction.
func (s *SQLiteIndex) Upsert(ctx context.Context, chunks []*models.Chunk) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	del, err := tx.PrepareContext(ctx, `DELETE FROM chunks_fts WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("prepare delete: %w", err)
	}
	defer del.Close()
	ins, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks_fts (id, source, plugin_name, url, data_source, code_blocks, title, chunk_text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer ins.Close()

	for _, chunk := range chunks {
		if chunk == nil || chunk.ID == "" {
			continue
		}
		code, err := json.Marshal(chunk.CodeBlocks)
		if err != nil {
			return fmt.Errorf("encode code blocks for %s: %w", chunk.ID, err)
		}
		if _, err := del.ExecContext(ctx, chunk.ID); err != nil {
			return fmt.Errorf("delete chunk %s: %w", chunk.ID, err)
		}
		if _, err := ins.ExecContext(ctx,
			chunk.ID,
			chunk.Source,
			chunk.Metadata.PluginName,
			chunk.Metadata.URL,
			chunk.Metadata.DataSource,
			string(code),
			chunk.Metadata.Title,
			chunk.Text,
		); err != nil {
			return fmt.Errorf("insert chunk %s: %w", chunk.ID, err)
		}
	}
	return tx.Commit()
}

// Search ranks chunks matching any term of the query text or keywords.
// Scores are negated bm25 values, so higher is better.
func (s *SQLiteIndex) Search(ctx context.Context, q Query) ([]models.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	match := ftsQuery(q.Text + " " + q.Keywords)
	if match == "" {
		return nil, nil
	}

	query := `
		SELECT id, source, plugin_name, url, data_source, code_blocks, title, chunk_text, bm25(chunks_fts)
		FROM chunks_fts
		WHERE chunks_fts MATCH ?`
	args := []any{match}
	if q.Source != "" {
		query += ` AND source = ?`
		args = append(args, q.Source)
	}
	if q.PluginName != "" {
		query += ` AND plugin_name = ?`
		args = append(args, q.PluginName)
	}
	query += ` ORDER BY bm25(chunks_fts) LIMIT ?`
	args = append(args, q.limit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		var chunk models.Chunk
		var code string
		var rank float64
		if err := rows.Scan(
			&chunk.ID,
			&chunk.Source,
			&chunk.Metadata.PluginName,
			&chunk.Metadata.URL,
			&chunk.Metadata.DataSource,
			&code,
			&chunk.Metadata.Title,
			&chunk.Text,
			&rank,
		); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if code != "" && code != "null" {
			if err := json.Unmarshal([]byte(code), &chunk.CodeBlocks); err != nil {
				return nil, fmt.Errorf("decode code blocks for %s: %w", chunk.ID, err)
			}
		}
		results = append(results, models.SearchResult{Chunk: &chunk, Score: float32(-rank)})
	}
	return results, rows.Err()
}

// Count returns the number of indexed chunks.
func (s *SQLiteIndex) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks_fts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

var termPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// ftsQuery turns free text into an FTS5 expression that ORs every distinct
// term. Terms are quoted so that FTS5 operators in user input are inert.
func ftsQuery(text string) string {
	seen := make(map[string]struct{})
	var terms []string
	for _, term := range termPattern.FindAllString(strings.ToLower(text), -1) {
		if len([]rune(term)) < 2 {
			continue
		}
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		terms = append(terms, `"`+term+`"`)
	}
	return strings.Join(terms, " OR ")
}
