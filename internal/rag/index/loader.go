// Package index loads knowledge-base files into a retrieval index and keeps
// the index current as the files change.
//
// Two file kinds are recognized under the index directory:
//
//   - *.json: pre-chunked output, an array of {id, chunk_text, code_blocks,
//     metadata} objects. The source is taken from each chunk, or from the
//     file name when absent (plugins.json holds plugin docs).
//   - *.md: markdown pages, chunked on load. The source is the first path
//     element below the directory (plugins/git.md), or docs at the top level.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/chatcore/internal/rag/chunker"
	"github.com/haasonsaas/chatcore/internal/rag/store"
	"github.com/haasonsaas/chatcore/pkg/models"
)

// Stats reports the outcome of a load.
type Stats struct {
	Files   int
	Chunks  int
	Skipped int
	Failed  []string
}

// Loader reads chunk files from a directory into an index.
type Loader struct {
	index    store.Index
	dir      string
	chunking chunker.Config
	logger   *slog.Logger
}

// NewLoader creates a loader for dir.
func NewLoader(idx store.Index, dir string, chunking chunker.Config, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		index:    idx,
		dir:      dir,
		chunking: chunking,
		logger:   logger.With("component", "index"),
	}
}

// Dir returns the directory the loader reads.
func (l *Loader) Dir() string { return l.dir }

// Load walks the directory and upserts every chunk it finds. A file that
// fails to parse is logged and recorded in Stats.Failed; the rest still
// load. Only index write failures abort the load.
func (l *Loader) Load(ctx context.Context) (Stats, error) {
	var stats Stats
	err := filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != l.dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		chunks, err := l.readFile(path)
		if err != nil {
			l.logger.Warn("skipping unreadable knowledge file", "path", path, "error", err)
			stats.Failed = append(stats.Failed, path)
			return nil
		}
		if chunks == nil {
			return nil
		}
		stats.Files++

		valid := chunks[:0]
		for _, c := range chunks {
			if c.ID == "" || strings.TrimSpace(c.Text) == "" {
				stats.Skipped++
				continue
			}
			valid = append(valid, c)
		}
		if len(valid) == 0 {
			return nil
		}
		if err := l.index.Upsert(ctx, valid); err != nil {
			return fmt.Errorf("index %s: %w", path, err)
		}
		stats.Chunks += len(valid)
		return nil
	})
	if err != nil {
		return stats, err
	}

	l.logger.Info("knowledge base loaded",
		"dir", l.dir,
		"files", stats.Files,
		"chunks", stats.Chunks,
		"skipped", stats.Skipped,
		"failed", len(stats.Failed),
	)
	return stats, nil
}

// readFile returns nil, nil for files the loader does not handle.
func (l *Loader) readFile(path string) ([]*models.Chunk, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ReadChunkFile(path)
	case ".md", ".markdown":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		rel, err := filepath.Rel(l.dir, path)
		if err != nil {
			rel = path
		}
		rel = filepath.ToSlash(rel)
		return chunker.Markdown(chunker.Document{
			Path:    rel,
			Source:  sourceForPath(rel),
			Content: string(data),
		}, l.chunking, l.logger)
	default:
		return nil, nil
	}
}

func sourceForPath(rel string) string {
	if dir, _, ok := strings.Cut(rel, "/"); ok {
		return normalizeSource(dir)
	}
	return models.SourceJenkinsDocs
}

// normalizeSource maps file and directory names onto source names.
func normalizeSource(name string) string {
	name = strings.ToLower(name)
	switch {
	case strings.Contains(name, "plugin"):
		return models.SourcePluginDocs
	case strings.Contains(name, "discourse"), strings.Contains(name, "community"):
		return models.SourceDiscourse
	case strings.Contains(name, "stack"):
		return models.SourceStackOverflow
	case strings.Contains(name, "doc"):
		return models.SourceJenkinsDocs
	default:
		return name
	}
}

// chunkRecord is the on-disk chunk shape. Older exports name the page URL
// source_url and carry the plugin name only in the title.
type chunkRecord struct {
	ID         string   `json:"id"`
	Source     string   `json:"source"`
	Text       string   `json:"chunk_text"`
	CodeBlocks []string `json:"code_blocks"`
	Metadata   struct {
		Title      string `json:"title"`
		URL        string `json:"url"`
		SourceURL  string `json:"source_url"`
		PluginName string `json:"plugin_name"`
		DataSource string `json:"data_source"`
	} `json:"metadata"`
}

// ReadChunkFile decodes a JSON chunk file.
func ReadChunkFile(path string) ([]*models.Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []chunkRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}

	fileSource := normalizeSource(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	chunks := make([]*models.Chunk, 0, len(records))
	for _, r := range records {
		c := &models.Chunk{
			ID:         r.ID,
			Source:     r.Source,
			Text:       r.Text,
			CodeBlocks: r.CodeBlocks,
			Metadata: models.ChunkMetadata{
				Title:      r.Metadata.Title,
				URL:        r.Metadata.URL,
				PluginName: r.Metadata.PluginName,
				DataSource: r.Metadata.DataSource,
			},
		}
		if c.Source == "" {
			c.Source = fileSource
		}
		if c.Metadata.URL == "" {
			c.Metadata.URL = r.Metadata.SourceURL
		}
		if c.Metadata.PluginName == "" && c.Source == models.SourcePluginDocs {
			c.Metadata.PluginName = c.Metadata.Title
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}
