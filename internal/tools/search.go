package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/chatcore/internal/rag"
	"github.com/haasonsaas/chatcore/internal/rag/store"
	"github.com/haasonsaas/chatcore/pkg/models"
)

// Search tool names.
const (
	SearchJenkinsDocs         = "search_jenkins_docs"
	SearchPluginDocs          = "search_plugin_docs"
	SearchCommunityThreads    = "search_community_threads"
	SearchStackOverflowThread = "search_stackoverflow_threads"
)

// SearchConfig configures the search tools.
type SearchConfig struct {
	// TopK is the number of chunks each tool retrieves.
	TopK int

	// TopKByTool overrides TopK for individual tools.
	TopKByTool map[string]int

	// Sources overrides the index source a tool searches.
	Sources map[string]string

	// EmptyMessage is returned when nothing relevant is found.
	EmptyMessage string
}

func (c SearchConfig) topK(tool string) int {
	if k := c.TopKByTool[tool]; k > 0 {
		return k
	}
	if c.TopK > 0 {
		return c.TopK
	}
	return store.DefaultTopK
}

func (c SearchConfig) source(tool, def string) string {
	if s := c.Sources[tool]; s != "" {
		return s
	}
	return def
}

// SearchTool retrieves chunks of one knowledge source.
type SearchTool struct {
	name        string
	description string
	params      []Param
	source      string
	topK        int
	empty       string

	index  store.Index
	logger *slog.Logger
}

var (
	queryParam = Param{
		Name:        "query",
		Description: "A self-contained natural language search query.",
		Required:    true,
	}
	keywordsParam = Param{
		Name:        "keywords",
		Description: "Space separated keywords for exact term matching.",
		Required:    true,
		Keywords:    true,
	}
	pluginNameParam = Param{
		Name:        "plugin_name",
		Description: "Restrict results to one plugin, or null for all plugins.",
		Nullable:    true,
	}
)

// NewSearchTools returns the four knowledge-base search tools over idx.
func NewSearchTools(idx store.Index, cfg SearchConfig, logger *slog.Logger) []Tool {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.EmptyMessage == "" {
		cfg.EmptyMessage = rag.DefaultEmptyContextMessage
	}
	mk := func(name, description, source string, params ...Param) Tool {
		return &SearchTool{
			name:        name,
			description: description,
			params:      params,
			source:      cfg.source(name, source),
			topK:        cfg.topK(name),
			empty:       cfg.EmptyMessage,
			index:       idx,
			logger:      logger.With("tool", name),
		}
	}
	return []Tool{
		mk(SearchJenkinsDocs,
			"Search the official Jenkins documentation: installation, configuration, pipelines, agents, security.",
			models.SourceJenkinsDocs, queryParam, keywordsParam),
		mk(SearchPluginDocs,
			"Search Jenkins plugin documentation, optionally for one named plugin.",
			models.SourcePluginDocs, queryParam, keywordsParam, pluginNameParam),
		mk(SearchCommunityThreads,
			"Search Jenkins community forum threads for user-reported problems and their resolutions.",
			models.SourceDiscourse, queryParam, keywordsParam),
		mk(SearchStackOverflowThread,
			"Search StackOverflow questions and answers about Jenkins.",
			models.SourceStackOverflow, queryParam),
	}
}

// RegisterSearchTools registers the search tools over idx with r.
func RegisterSearchTools(r *Registry, idx store.Index, cfg SearchConfig, logger *slog.Logger) error {
	for _, t := range NewSearchTools(idx, cfg, logger) {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func (t *SearchTool) Name() string        { return t.name }
func (t *SearchTool) Description() string { return t.description }
func (t *SearchTool) Params() []Param     { return t.params }

// Invoke searches the tool's source. A blank query returns the empty
// context message without touching the index. Tools without a keywords
// parameter search with the query as keywords.
func (t *SearchTool) Invoke(ctx context.Context, params map[string]any) (string, error) {
	query := strings.TrimSpace(stringParam(params, "query"))
	if query == "" {
		return t.empty, nil
	}
	keywords := stringParam(params, "keywords")
	if keywords == "" {
		keywords = query
	}

	results, err := t.index.Search(ctx, store.Query{
		Text:       query,
		Keywords:   keywords,
		Source:     t.source,
		PluginName: strings.TrimSpace(stringParam(params, "plugin_name")),
		TopK:       t.topK,
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", t.name, err)
	}
	return rag.RenderChunks(results, t.empty, t.logger), nil
}
