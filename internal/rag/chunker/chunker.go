// Package chunker splits documentation into retrievable chunks.
//
// Fenced code is lifted out of the text before splitting and replaced by
// numbered [[CODE_BLOCK_n]] placeholders, so code never straddles a chunk
// boundary. Each chunk carries only the code blocks its placeholders
// reference.
package chunker

import (
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Config controls chunk sizes, in characters.
type Config struct {
	// ChunkSize is the target chunk size.
	// Default: 500
	ChunkSize int `yaml:"chunk_size" json:"chunk_size,omitempty"`

	// ChunkOverlap is carried from the end of one chunk into the next.
	// Default: 100
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap,omitempty"`

	// MinChunkSize drops fragments shorter than this.
	// Default: 20
	MinChunkSize int `yaml:"min_chunk_size" json:"min_chunk_size,omitempty"`
}

// DefaultConfig returns the default chunking configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    500,
		ChunkOverlap: 100,
		MinChunkSize: 20,
	}
}

// DefaultSeparators are tried from the largest semantic unit down.
var DefaultSeparators = []string{"\n\n", "\n", ". ", "? ", "! ", "; ", ", ", " ", ""}

// MarkdownSeparators prefer heading boundaries.
var MarkdownSeparators = []string{"\n## ", "\n### ", "\n#### ", "\n\n", "\n", ". ", " ", ""}

// Splitter is a recursive character splitter.
type Splitter struct {
	config     Config
	separators []string
}

// NewSplitter creates a splitter using DefaultSeparators.
func NewSplitter(cfg Config) *Splitter {
	def := DefaultConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = def.ChunkOverlap
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 5
	}
	if cfg.MinChunkSize <= 0 {
		cfg.MinChunkSize = def.MinChunkSize
	}
	return &Splitter{config: cfg, separators: DefaultSeparators}
}

// NewMarkdownSplitter creates a splitter using MarkdownSeparators.
func NewMarkdownSplitter(cfg Config) *Splitter {
	s := NewSplitter(cfg)
	s.separators = MarkdownSeparators
	return s
}

// Split splits text into pieces of at most ChunkSize characters, each
// prefixed with up to ChunkOverlap characters of its predecessor.
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.overlap(s.split(text, s.separators))
}

func (s *Splitter) split(text string, separators []string) []string {
	separator := ""
	var rest []string
	for i, sep := range separators {
		if sep == "" || strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	var splits []string
	if separator == "" {
		for _, r := range text {
			splits = append(splits, string(r))
		}
	} else {
		splits = strings.Split(text, separator)
	}

	var out []string
	var current strings.Builder
	flush := func() {
		if piece := strings.TrimSpace(current.String()); len(piece) >= s.config.MinChunkSize {
			out = append(out, piece)
		}
		current.Reset()
	}

	for i, split := range splits {
		piece := split
		if separator != "" && i < len(splits)-1 {
			piece += separator
		}
		if current.Len() > 0 && current.Len()+len(piece) > s.config.ChunkSize {
			flush()
		}
		if len(piece) > s.config.ChunkSize && len(rest) > 0 {
			out = append(out, s.split(piece, rest)...)
			continue
		}
		current.WriteString(piece)
	}
	if current.Len() > 0 {
		flush()
	}
	return out
}

func (s *Splitter) overlap(pieces []string) []string {
	if len(pieces) <= 1 || s.config.ChunkOverlap <= 0 {
		return pieces
	}
	out := make([]string, len(pieces))
	out[0] = pieces[0]
	for i := 1; i < len(pieces); i++ {
		prev := pieces[i-1]
		tail := prev[len(prev)-min(s.config.ChunkOverlap, len(prev)):]
		// Start the overlap on a word boundary.
		if idx := strings.IndexByte(tail, ' '); idx >= 0 {
			tail = tail[idx+1:]
		}
		// Never carry half a placeholder.
		if open := strings.LastIndex(tail, "[["); open >= 0 && !strings.Contains(tail[open:], "]]") {
			tail = tail[:open]
		}
		if tail = strings.TrimSpace(tail); tail == "" {
			out[i] = pieces[i]
			continue
		}
		out[i] = tail + " " + pieces[i]
	}
	return out
}

var (
	fencePattern       = regexp.MustCompile("(?ms)^[ \t]*(?:```|~~~)[^\n]*\n(.*?)^[ \t]*(?:```|~~~)[ \t]*$")
	placeholderPattern = regexp.MustCompile(`\[\[(?:CODE_BLOCK|CODE_SNIPPET)_(\d+)\]\]`)
)

// CodePlaceholder returns the placeholder for the i-th code block.
func CodePlaceholder(i int) string {
	return "[[CODE_BLOCK_" + strconv.Itoa(i) + "]]"
}

// ExtractCode replaces fenced code blocks with numbered placeholders and
// returns the rewritten text with the code in order of appearance.
func ExtractCode(markdown string) (string, []string) {
	var blocks []string
	text := fencePattern.ReplaceAllStringFunc(markdown, func(fence string) string {
		m := fencePattern.FindStringSubmatch(fence)
		blocks = append(blocks, strings.TrimSpace(m[1]))
		return CodePlaceholder(len(blocks) - 1)
	})
	return text, blocks
}

// Piece is one chunk of text with the code blocks it references.
type Piece struct {
	Text       string
	CodeBlocks []string
}

// AssignCode attaches to each piece the code blocks its placeholders
// reference, in index order. Out of range placeholders are logged and get
// no code.
func AssignCode(pieces []string, blocks []string, logger *slog.Logger) []Piece {
	out := make([]Piece, 0, len(pieces))
	for _, text := range pieces {
		seen := make(map[int]struct{})
		for _, m := range placeholderPattern.FindAllStringSubmatch(text, -1) {
			idx, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			if idx >= len(blocks) {
				if logger != nil {
					logger.Warn("placeholder index out of range", "index", idx, "blocks", len(blocks))
				}
				continue
			}
			seen[idx] = struct{}{}
		}
		indices := make([]int, 0, len(seen))
		for idx := range seen {
			indices = append(indices, idx)
		}
		sort.Ints(indices)

		piece := Piece{Text: text}
		for _, idx := range indices {
			piece.CodeBlocks = append(piece.CodeBlocks, blocks[idx])
		}
		out = append(out, piece)
	}
	return out
}
