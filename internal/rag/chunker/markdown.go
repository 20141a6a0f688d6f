package chunker

import (
	"bufio"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/chatcore/pkg/models"
)

// Document is a markdown page to be chunked.
type Document struct {
	// Path identifies the page; chunk ids derive from it.
	Path string

	// Source is the retrieval source the chunks belong to.
	Source string

	Content string
}

// Frontmatter holds the page metadata recognized in a leading YAML block.
type Frontmatter struct {
	Title      string `yaml:"title"`
	URL        string `yaml:"url"`
	PluginName string `yaml:"plugin_name"`
	DataSource string `yaml:"data_source"`
}

var headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

// chunkNamespace scopes the name-based chunk ids.
var chunkNamespace = uuid.MustParse("3f1d9c2e-7b4a-5e61-9a0d-2c8e4b6f1a37")

// Markdown splits a markdown document into chunks. Chunk ids are stable for
// a given path and position, so re-indexing a page replaces its chunks.
func Markdown(doc Document, cfg Config, logger *slog.Logger) ([]*models.Chunk, error) {
	fm, body, err := splitFrontmatter(doc.Content)
	if err != nil {
		return nil, err
	}
	if fm.Title == "" {
		fm.Title = firstHeading(body)
	}

	text, blocks := ExtractCode(body)
	pieces := AssignCode(NewMarkdownSplitter(cfg).Split(text), blocks, logger)

	chunks := make([]*models.Chunk, 0, len(pieces))
	for i, piece := range pieces {
		chunks = append(chunks, &models.Chunk{
			ID:         ChunkID(doc.Path, i),
			Source:     doc.Source,
			Text:       piece.Text,
			CodeBlocks: piece.CodeBlocks,
			Metadata: models.ChunkMetadata{
				Title:      fm.Title,
				URL:        fm.URL,
				PluginName: fm.PluginName,
				DataSource: fm.DataSource,
			},
		})
	}
	return chunks, nil
}

// ChunkID returns the stable id of the i-th chunk of path.
func ChunkID(path string, i int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(path+"#"+strconv.Itoa(i))).String()
}

// splitFrontmatter separates a leading "---" delimited YAML block from the
// body. Without a closing delimiter the whole input is body.
func splitFrontmatter(content string) (Frontmatter, string, error) {
	var fm Frontmatter
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "---") {
		return fm, content, nil
	}
	lines := strings.Split(trimmed, "\n")
	end := -1
	for i := 1; i < len(lines); i++ {
		if l := strings.TrimSpace(lines[i]); l == "---" || l == "..." {
			end = i
			break
		}
	}
	if end == -1 {
		return fm, content, nil
	}
	if err := yaml.Unmarshal([]byte(strings.Join(lines[1:end], "\n")), &fm); err != nil {
		return fm, "", err
	}
	return fm, strings.Join(lines[end+1:], "\n"), nil
}

func firstHeading(content string) string {
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		if m := headingPattern.FindStringSubmatch(strings.TrimSpace(scanner.Text())); m != nil {
			return strings.TrimSpace(m[2])
		}
	}
	return ""
}
