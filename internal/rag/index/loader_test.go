package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/haasonsaas/chatcore/internal/rag/chunker"
	"github.com/haasonsaas/chatcore/internal/rag/store"
	"github.com/haasonsaas/chatcore/pkg/models"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func newIndex(t *testing.T) *store.SQLiteIndex {
	t.Helper()
	idx, err := store.NewSQLiteIndex(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteIndex() error = %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestLoader_Load(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "plugins.json"), `[
		{"id": "p1", "chunk_text": "The git plugin clones repositories.", "metadata": {"title": "git", "data_source": "jenkins_plugins_documentation"}},
		{"id": "", "chunk_text": "no id"},
		{"id": "p2", "chunk_text": "   "}
	]`)
	writeFile(t, filepath.Join(dir, "docs_chunks.json"), `[
		{"id": "d1", "chunk_text": "Run [[CODE_BLOCK_0]] to start.", "code_blocks": ["java -jar jenkins.war"], "metadata": {"title": "Install", "source_url": "https://jenkins.io/doc/install"}}
	]`)
	writeFile(t, filepath.Join(dir, "discourse", "thread.md"), "# Agent offline\n\nThe agent went offline after the upgrade, restarting fixed it.")
	writeFile(t, filepath.Join(dir, "broken.json"), `{not json`)
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")
	writeFile(t, filepath.Join(dir, ".cache", "x.json"), `[{"id": "hidden", "chunk_text": "hidden"}]`)

	idx := newIndex(t)
	loader := NewLoader(idx, dir, chunker.DefaultConfig(), nil)
	stats, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if stats.Files != 3 || stats.Chunks != 3 || stats.Skipped != 2 || len(stats.Failed) != 1 {
		t.Errorf("stats = %+v", stats)
	}

	ctx := context.Background()
	results, _ := idx.Search(ctx, store.Query{Text: "git", Source: models.SourcePluginDocs, PluginName: "git"})
	if len(results) != 1 || results[0].Chunk.ID != "p1" {
		t.Errorf("plugin chunk not indexed with plugin name: %+v", results)
	}
	results, _ = idx.Search(ctx, store.Query{Text: "start", Source: models.SourceJenkinsDocs})
	if len(results) != 1 || results[0].Chunk.Metadata.URL != "https://jenkins.io/doc/install" {
		t.Errorf("docs chunk = %+v", results)
	}
	results, _ = idx.Search(ctx, store.Query{Text: "offline", Source: models.SourceDiscourse})
	if len(results) != 1 || results[0].Chunk.Metadata.Title != "Agent offline" {
		t.Errorf("markdown chunk = %+v", results)
	}
	if results, _ := idx.Search(ctx, store.Query{Text: "hidden"}); len(results) != 0 {
		t.Errorf("hidden directory was indexed")
	}
}

func TestLoader_MissingDir(t *testing.T) {
	loader := NewLoader(newIndex(t), filepath.Join(t.TempDir(), "absent"), chunker.DefaultConfig(), nil)
	if _, err := loader.Load(context.Background()); err == nil {
		t.Fatal("Load() on a missing directory should fail")
	}
}

func TestNormalizeSource(t *testing.T) {
	tests := map[string]string{
		"plugins":           models.SourcePluginDocs,
		"jenkins_docs":      models.SourceJenkinsDocs,
		"discourse_threads": models.SourceDiscourse,
		"community":         models.SourceDiscourse,
		"StackOverflow":     models.SourceStackOverflow,
		"custom":            "custom",
	}
	for in, want := range tests {
		if got := normalizeSource(in); got != want {
			t.Errorf("normalizeSource(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	idx := newIndex(t)
	loader := NewLoader(idx, dir, chunker.DefaultConfig(), nil)

	reloaded := make(chan Stats, 4)
	w := NewWatcher(loader, 20*time.Millisecond, nil)
	w.OnReload = func(s Stats, err error) {
		if err != nil {
			return
		}
		select {
		case reloaded <- s:
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Close()

	writeFile(t, filepath.Join(dir, "stackoverflow.json"), `[{"id": "s1", "chunk_text": "NoSuchMethodError after plugin update"}]`)

	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload")
	}

	results, err := idx.Search(context.Background(), store.Query{Text: "NoSuchMethodError", Source: models.SourceStackOverflow})
	if err != nil || len(results) != 1 {
		t.Fatalf("Search() = %v, %v", results, err)
	}
}

func TestWatcher_CloseIsIdempotent(t *testing.T) {
	w := NewWatcher(NewLoader(newIndex(t), t.TempDir(), chunker.DefaultConfig(), nil), 0, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}

func TestRelevant(t *testing.T) {
	tests := map[string]bool{
		"/kb/a.json":    true,
		"/kb/b.md":      true,
		"/kb/newdir":    true,
		"/kb/.a.json":   false,
		"/kb/a.json~":   false,
		"/kb/image.png": false,
	}
	for path, want := range tests {
		if got := relevant(path); got != want {
			t.Errorf("relevant(%q) = %v, want %v", path, got, want)
		}
	}
}
