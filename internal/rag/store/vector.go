package store

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/haasonsaas/chatcore/pkg/models"
)

// EmbeddingConfig selects the remote service that computes embeddings.
type EmbeddingConfig struct {
	// BaseURL targets an OpenAI-compatible embeddings endpoint. Empty uses
	// the OpenAI API.
	BaseURL string
	APIKey  string
	Model   string
}

// EmbeddingFunc builds the chromem embedding function for cfg.
func EmbeddingFunc(cfg EmbeddingConfig) chromem.EmbeddingFunc {
	model := cfg.Model
	if model == "" {
		model = string(chromem.EmbeddingModelOpenAI3Small)
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		return chromem.NewEmbeddingFuncOpenAICompat(cfg.BaseURL, cfg.APIKey, model, nil)
	}
	return chromem.NewEmbeddingFuncOpenAI(cfg.APIKey, chromem.EmbeddingModelOpenAI(model))
}

// VectorIndex is a semantic index with one chromem collection per source.
type VectorIndex struct {
	db    *chromem.DB
	embed chromem.EmbeddingFunc

	mu          sync.Mutex
	collections map[string]*chromem.Collection
}

// NewVectorIndex opens a vector index. An empty path keeps it in memory;
// otherwise collections persist under path.
func NewVectorIndex(path string, embed chromem.EmbeddingFunc) (*VectorIndex, error) {
	if embed == nil {
		return nil, fmt.Errorf("vector index: embedding function is required")
	}
	db := chromem.NewDB()
	if path != "" {
		var err error
		db, err = chromem.NewPersistentDB(path, true)
		if err != nil {
			return nil, fmt.Errorf("open vector index: %w", err)
		}
	}
	return &VectorIndex{
		db:          db,
		embed:       embed,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func (v *VectorIndex) collection(source string) (*chromem.Collection, error) {
	if source == "" {
		source = "default"
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if c, ok := v.collections[source]; ok {
		return c, nil
	}
	c, err := v.db.GetOrCreateCollection("chunks_"+source, map[string]string{"source": source}, v.embed)
	if err != nil {
		return nil, fmt.Errorf("open collection %s: %w", source, err)
	}
	v.collections[source] = c
	return c, nil
}

// Upsert embeds and stores chunks, grouped by source.
func (v *VectorIndex) Upsert(ctx context.Context, chunks []*models.Chunk) error {
	bySource := make(map[string][]chromem.Document)
	for _, chunk := range chunks {
		if chunk == nil || chunk.ID == "" || strings.TrimSpace(chunk.Text) == "" {
			continue
		}
		code, err := json.Marshal(chunk.CodeBlocks)
		if err != nil {
			return fmt.Errorf("encode code blocks for %s: %w", chunk.ID, err)
		}
		bySource[chunk.Source] = append(bySource[chunk.Source], chromem.Document{
			ID:      chunk.ID,
			Content: chunk.Text,
			Metadata: map[string]string{
				"source":      chunk.Source,
				"plugin_name": chunk.Metadata.PluginName,
				"title":       chunk.Metadata.Title,
				"url":         chunk.Metadata.URL,
				"data_source": chunk.Metadata.DataSource,
				"code_blocks": string(code),
			},
		})
	}

	for source, docs := range bySource {
		c, err := v.collection(source)
		if err != nil {
			return err
		}
		if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			return fmt.Errorf("embed %d chunks for %s: %w", len(docs), source, err)
		}
	}
	return nil
}

// Search ranks chunks by cosine similarity to the query text.
func (v *VectorIndex) Search(ctx context.Context, q Query) ([]models.SearchResult, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, nil
	}

	var sources []string
	if q.Source != "" {
		sources = []string{q.Source}
	} else {
		for name := range v.db.ListCollections() {
			sources = append(sources, strings.TrimPrefix(name, "chunks_"))
		}
	}

	var where map[string]string
	if q.PluginName != "" {
		where = map[string]string{"plugin_name": q.PluginName}
	}

	var results []models.SearchResult
	for _, source := range sources {
		c, err := v.collection(source)
		if err != nil {
			return nil, err
		}
		n := min(q.limit(), c.Count())
		if n == 0 {
			continue
		}
		hits, err := c.Query(ctx, q.Text, n, where, nil)
		if err != nil {
			return nil, fmt.Errorf("semantic search %s: %w", source, err)
		}
		for _, hit := range hits {
			results = append(results, models.SearchResult{
				Chunk: chunkFromDocument(hit.ID, hit.Content, hit.Metadata),
				Score: hit.Similarity,
			})
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > q.limit() {
		results = results[:q.limit()]
	}
	return results, nil
}

func chunkFromDocument(id, content string, meta map[string]string) *models.Chunk {
	chunk := &models.Chunk{
		ID:     id,
		Source: meta["source"],
		Text:   content,
		Metadata: models.ChunkMetadata{
			Title:      meta["title"],
			URL:        meta["url"],
			PluginName: meta["plugin_name"],
			DataSource: meta["data_source"],
		},
	}
	if code := meta["code_blocks"]; code != "" && code != "null" {
		_ = json.Unmarshal([]byte(code), &chunk.CodeBlocks)
	}
	return chunk
}

// Count returns the number of chunks across all collections.
func (v *VectorIndex) Count(ctx context.Context) (int, error) {
	total := 0
	for _, c := range v.db.ListCollections() {
		total += c.Count()
	}
	return total, nil
}

// Close is a no-op; persistent collections are written on every upsert.
func (v *VectorIndex) Close() error {
	return nil
}
