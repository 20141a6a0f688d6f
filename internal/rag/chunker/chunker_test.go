package chunker

import (
	"strings"
	"testing"
)

func TestSplitter_RespectsChunkSize(t *testing.T) {
	s := NewSplitter(Config{ChunkSize: 50, ChunkOverlap: 0, MinChunkSize: 1})
	text := strings.Repeat("Jenkins runs pipelines. ", 20)

	pieces := s.Split(text)
	if len(pieces) < 2 {
		t.Fatalf("Split() returned %d pieces, want several", len(pieces))
	}
	for i, p := range pieces {
		if len(p) > 50 {
			t.Errorf("piece %d has %d chars: %q", i, len(p), p)
		}
	}
}

func TestSplitter_Overlap(t *testing.T) {
	s := NewSplitter(Config{ChunkSize: 40, ChunkOverlap: 12, MinChunkSize: 1})
	pieces := s.Split("alpha beta gamma delta\n\nepsilon zeta eta theta\n\niota kappa lambda mu")
	if len(pieces) != 3 {
		t.Fatalf("Split() = %q, want 3 pieces", pieces)
	}
	if !strings.HasPrefix(pieces[1], "gamma delta ") {
		t.Errorf("piece 1 = %q, want overlap from piece 0", pieces[1])
	}
}

func TestSplitter_Empty(t *testing.T) {
	if got := NewSplitter(DefaultConfig()).Split(" \n "); got != nil {
		t.Errorf("Split() = %q, want nil", got)
	}
}

func TestNewSplitter_Defaults(t *testing.T) {
	s := NewSplitter(Config{ChunkSize: 10, ChunkOverlap: 50})
	if s.config.ChunkOverlap != 2 {
		t.Errorf("overlap = %d, want 2", s.config.ChunkOverlap)
	}
	if s.config.MinChunkSize != DefaultConfig().MinChunkSize {
		t.Errorf("min chunk size = %d", s.config.MinChunkSize)
	}
}

func TestExtractCode(t *testing.T) {
	md := "Install:\n```bash\napt install jenkins\n```\nThen:\n~~~\nsystemctl start jenkins\n~~~\n"
	text, blocks := ExtractCode(md)

	if want := "Install:\n[[CODE_BLOCK_0]]\nThen:\n[[CODE_BLOCK_1]]\n"; text != want {
		t.Errorf("text = %q, want %q", text, want)
	}
	if len(blocks) != 2 || blocks[0] != "apt install jenkins" || blocks[1] != "systemctl start jenkins" {
		t.Errorf("blocks = %q", blocks)
	}
}

func TestAssignCode(t *testing.T) {
	blocks := []string{"zero", "one", "two"}
	pieces := AssignCode([]string{
		"see [[CODE_BLOCK_2]] and [[CODE_BLOCK_0]] and [[CODE_BLOCK_2]]",
		"none here",
		"bad [[CODE_BLOCK_9]] good [[CODE_SNIPPET_1]]",
	}, blocks, nil)

	want := [][]string{{"zero", "two"}, nil, {"one"}}
	for i, p := range pieces {
		if strings.Join(p.CodeBlocks, ",") != strings.Join(want[i], ",") {
			t.Errorf("piece %d code = %q, want %q", i, p.CodeBlocks, want[i])
		}
	}
}

func TestMarkdown(t *testing.T) {
	doc := Document{
		Path:   "plugins/git.md",
		Source: "plugins",
		Content: "---\ntitle: Git plugin\nurl: https://plugins.jenkins.io/git\nplugin_name: git\n---\n" +
			"# Ignored heading\n\nCheck out a repository:\n```groovy\ncheckout scm\n```\n",
	}
	chunks, err := Markdown(doc, Config{ChunkSize: 200, MinChunkSize: 1}, nil)
	if err != nil {
		t.Fatalf("Markdown() error = %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	c := chunks[0]
	if c.ID != ChunkID("plugins/git.md", 0) || c.Source != "plugins" {
		t.Errorf("id/source = %s/%s", c.ID, c.Source)
	}
	if c.Metadata.Title != "Git plugin" || c.Metadata.PluginName != "git" || c.Metadata.URL == "" {
		t.Errorf("metadata = %+v", c.Metadata)
	}
	if !strings.Contains(c.Text, "[[CODE_BLOCK_0]]") || len(c.CodeBlocks) != 1 || c.CodeBlocks[0] != "checkout scm" {
		t.Errorf("chunk = %q code = %q", c.Text, c.CodeBlocks)
	}
}

func TestMarkdown_TitleFromHeading(t *testing.T) {
	chunks, err := Markdown(Document{Path: "a.md", Content: "intro\n\n## Agents\n\nAgents run builds."}, DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("Markdown() error = %v", err)
	}
	if len(chunks) == 0 || chunks[0].Metadata.Title != "Agents" {
		t.Fatalf("chunks = %+v", chunks)
	}
}

func TestChunkID_Stable(t *testing.T) {
	if ChunkID("a.md", 1) != ChunkID("a.md", 1) {
		t.Error("ChunkID not deterministic")
	}
	if ChunkID("a.md", 1) == ChunkID("a.md", 2) {
		t.Error("ChunkID collides across positions")
	}
}
