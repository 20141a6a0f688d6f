package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/chatcore/pkg/models"
)

const (
	historySuffix  = ".json"
	metadataSuffix = ".metadata.json"
)

// FileStore keeps one history file and one metadata file per session in a
// single directory:
//
//	<dir>/<id>.json           conversation turns
//	<dir>/<id>.metadata.json  owner and timestamps
//
// Every write goes to a temporary file in the same directory, is synced, and
// is then renamed over the target.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("storage directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the root directory of the store.
func (f *FileStore) Dir() string { return f.dir }

func (f *FileStore) path(sessionID, suffix string) (string, error) {
	if !ValidSessionID(sessionID) {
		return "", ErrInvalidID
	}
	return filepath.Join(f.dir, sessionID+suffix), nil
}

func (f *FileStore) ReadHistory(ctx context.Context, sessionID string) ([]models.Turn, error) {
	p, err := f.path(sessionID, historySuffix)
	if err != nil {
		return nil, err
	}
	var turns []models.Turn
	if err := readJSON(p, &turns); err != nil {
		return nil, err
	}
	return turns, nil
}

func (f *FileStore) WriteHistory(ctx context.Context, sessionID string, turns []models.Turn) error {
	p, err := f.path(sessionID, historySuffix)
	if err != nil {
		return err
	}
	if turns == nil {
		turns = []models.Turn{}
	}
	return writeJSONAtomic(p, turns)
}

func (f *FileStore) DeleteHistory(ctx context.Context, sessionID string) (bool, error) {
	p, err := f.path(sessionID, historySuffix)
	if err != nil {
		return false, err
	}
	return removeFile(p)
}

func (f *FileStore) ReadMetadata(ctx context.Context, sessionID string) (*models.SessionMetadata, error) {
	p, err := f.path(sessionID, metadataSuffix)
	if err != nil {
		return nil, err
	}
	var meta models.SessionMetadata
	if err := readJSON(p, &meta); err != nil {
		return nil, err
	}
	if meta.SessionID == "" {
		meta.SessionID = sessionID
	}
	return &meta, nil
}

func (f *FileStore) WriteMetadata(ctx context.Context, meta *models.SessionMetadata) error {
	if meta == nil {
		return ErrInvalidID
	}
	p, err := f.path(meta.SessionID, metadataSuffix)
	if err != nil {
		return err
	}
	return writeJSONAtomic(p, meta)
}

func (f *FileStore) DeleteMetadata(ctx context.Context, sessionID string) (bool, error) {
	p, err := f.path(sessionID, metadataSuffix)
	if err != nil {
		return false, err
	}
	return removeFile(p)
}

func (f *FileStore) ListMetadata(ctx context.Context, owner string) ([]*models.SessionMetadata, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("list storage directory: %w", err)
	}
	var out []*models.SessionMetadata
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, metadataSuffix) {
			continue
		}
		id := strings.TrimSuffix(name, metadataSuffix)
		if !ValidSessionID(id) {
			continue
		}
		meta, err := f.ReadMetadata(ctx, id)
		if err != nil {
			// A concurrent delete can remove the file between ReadDir and here.
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if meta.Owner == owner {
			out = append(out, meta)
		}
	}
	return out, nil
}

func (f *FileStore) Close() error { return nil }

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func removeFile(path string) (bool, error) {
	err := os.Remove(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("remove %s: %w", filepath.Base(path), err)
}
