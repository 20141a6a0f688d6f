package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/chatcore/pkg/models"
)

// HybridConfig weights the two rankings. Weights need not sum to one.
type HybridConfig struct {
	KeywordWeight  float32
	SemanticWeight float32
}

// DefaultHybridConfig favours semantic similarity.
func DefaultHybridConfig() HybridConfig {
	return HybridConfig{KeywordWeight: 0.3, SemanticWeight: 0.7}
}

// Hybrid merges keyword and semantic rankings. Each ranking is normalized by
// its best score before weighting, and chunks found by both are summed.
type Hybrid struct {
	keyword  Index
	semantic Index
	cfg      HybridConfig
	logger   *slog.Logger
}

// NewHybrid combines keyword and semantic. Either may be nil.
func NewHybrid(keyword, semantic Index, cfg HybridConfig, logger *slog.Logger) *Hybrid {
	if cfg.KeywordWeight <= 0 && cfg.SemanticWeight <= 0 {
		cfg = DefaultHybridConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hybrid{
		keyword:  keyword,
		semantic: semantic,
		cfg:      cfg,
		logger:   logger.With("component", "hybrid_index"),
	}
}

func (h *Hybrid) indexes() []Index {
	var out []Index
	for _, idx := range []Index{h.keyword, h.semantic} {
		if idx != nil {
			out = append(out, idx)
		}
	}
	return out
}

// Upsert writes chunks to both indexes.
func (h *Hybrid) Upsert(ctx context.Context, chunks []*models.Chunk) error {
	var errs []error
	for _, idx := range h.indexes() {
		if err := idx.Upsert(ctx, chunks); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Search queries both indexes concurrently. A failing index is logged and
// skipped; the search fails only when every index fails.
func (h *Hybrid) Search(ctx context.Context, q Query) ([]models.SearchResult, error) {
	var keywordHits, semanticHits []models.SearchResult
	var keywordErr, semanticErr error

	g, gctx := errgroup.WithContext(ctx)
	if h.keyword != nil {
		g.Go(func() error {
			keywordHits, keywordErr = h.keyword.Search(gctx, q)
			return nil
		})
	}
	if h.semantic != nil {
		g.Go(func() error {
			semanticHits, semanticErr = h.semantic.Search(gctx, q)
			return nil
		})
	}
	_ = g.Wait()

	if keywordErr != nil {
		h.logger.WarnContext(ctx, "keyword search failed", "error", keywordErr)
	}
	if semanticErr != nil {
		h.logger.WarnContext(ctx, "semantic search failed", "error", semanticErr)
	}
	if (h.keyword == nil || keywordErr != nil) && (h.semantic == nil || semanticErr != nil) {
		if err := errors.Join(keywordErr, semanticErr); err != nil {
			return nil, fmt.Errorf("hybrid search: %w", err)
		}
		return nil, nil
	}

	return Merge(q.limit(), weighted(keywordHits, h.cfg.KeywordWeight), weighted(semanticHits, h.cfg.SemanticWeight)), nil
}

// Count reports the larger of the two index sizes.
func (h *Hybrid) Count(ctx context.Context) (int, error) {
	best := 0
	for _, idx := range h.indexes() {
		n, err := idx.Count(ctx)
		if err != nil {
			return 0, err
		}
		best = max(best, n)
	}
	return best, nil
}

// Close closes both indexes.
func (h *Hybrid) Close() error {
	var errs []error
	for _, idx := range h.indexes() {
		errs = append(errs, idx.Close())
	}
	return errors.Join(errs...)
}

func weighted(results []models.SearchResult, weight float32) []models.SearchResult {
	if len(results) == 0 || weight <= 0 {
		return nil
	}
	var best float32
	for _, r := range results {
		best = max(best, r.Score)
	}
	out := make([]models.SearchResult, len(results))
	for i, r := range results {
		score := weight
		if best > 0 {
			score = weight * r.Score / best
		}
		out[i] = models.SearchResult{Chunk: r.Chunk, Score: score}
	}
	return out
}

// Merge sums scores of results sharing a chunk ID across rankings and returns
// the top limit results, best first. Ties keep first-seen order.
func Merge(limit int, rankings ...[]models.SearchResult) []models.SearchResult {
	index := make(map[string]int)
	var merged []models.SearchResult
	for _, ranking := range rankings {
		for _, r := range ranking {
			if r.Chunk == nil {
				continue
			}
			if i, ok := index[r.Chunk.ID]; ok {
				merged[i].Score += r.Score
				continue
			}
			index[r.Chunk.ID] = len(merged)
			merged = append(merged, r)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}
