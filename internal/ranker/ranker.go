// Package ranker scores candidate items for relevance against query terms.
// The primary path uses embedding similarity; a term-overlap fallback keeps
// the pipeline running when the semantic backend is unavailable.
package ranker

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"feedpilot/internal/embedding"
	"feedpilot/internal/feed"
	"feedpilot/internal/logging"
)

// ScoredItem is an item with its relevance score in [0,1].
type ScoredItem struct {
	Item        feed.Item
	Score       float64
	Explanation string
}

// Ranker scores items against query terms.
type Ranker struct {
	engine embedding.Engine // nil = fallback scoring only
}

// New creates a ranker. A nil engine is allowed; scoring then uses the
// term-overlap fallback exclusively.
func New(engine embedding.Engine) *Ranker {
	return &Ranker{engine: engine}
}

// Available reports whether the semantic backend is usable.
func (r *Ranker) Available() bool {
	return r.engine != nil
}

// Score ranks items against the query terms and returns those scoring at
// least minScore, sorted descending by score. Ties keep input order.
func (r *Ranker) Score(ctx context.Context, items []feed.Item, queries []string, minScore float64) []ScoredItem {
	if len(items) == 0 {
		return nil
	}

	timer := logging.StartTimer(logging.CategoryRanker, "Score")
	defer timer.Stop()

	if r.engine == nil {
		return r.overlapScore(items, queries, minScore)
	}

	scored, err := r.semanticScore(ctx, items, queries, minScore)
	if err != nil {
		logging.Get(logging.CategoryRanker).Warn("semantic scoring failed, using term overlap: %v", err)
		return r.overlapScore(items, queries, minScore)
	}
	return scored
}

func (r *Ranker) semanticScore(ctx context.Context, items []feed.Item, queries []string, minScore float64) ([]ScoredItem, error) {
	texts := make([]string, len(items))
	for i, item := range items {
		texts[i] = item.Text
	}

	itemVecs, err := r.engine.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding items: %w", err)
	}
	if len(itemVecs) != len(items) {
		return nil, fmt.Errorf("embedding count mismatch: %d vectors for %d items", len(itemVecs), len(items))
	}

	queryVec, err := r.engine.Embed(ctx, strings.Join(queries, " "))
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	scored := make([]ScoredItem, 0, len(items))
	for i, item := range items {
		sim, err := embedding.CosineSimilarity(itemVecs[i], queryVec)
		if err != nil {
			return nil, fmt.Errorf("similarity for item %s: %w", item.ID, err)
		}
		score := clamp01(sim)
		if score >= minScore {
			scored = append(scored, ScoredItem{
				Item:        item,
				Score:       score,
				Explanation: explain(score),
			})
		}
	}

	sortByScore(scored)
	logging.Ranker("Scored %d items semantically, %d above threshold %.2f", len(items), len(scored), minScore)
	return scored, nil
}

// overlapScore is the fallback path: the fraction of query terms found in
// the item text, case-insensitive.
func (r *Ranker) overlapScore(items []feed.Item, queries []string, minScore float64) []ScoredItem {
	scored := make([]ScoredItem, 0, len(items))
	for _, item := range items {
		score := clamp01(termOverlap(item.Text, queries))
		if score >= minScore {
			scored = append(scored, ScoredItem{
				Item:        item,
				Score:       score,
				Explanation: fmt.Sprintf("Text matches %.2f of query terms", score),
			})
		}
	}

	sortByScore(scored)
	logging.Ranker("Scored %d items by term overlap, %d above threshold %.2f", len(items), len(scored), minScore)
	return scored
}

func termOverlap(text string, queries []string) float64 {
	if len(queries) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	matches := 0
	for _, term := range queries {
		if strings.Contains(lower, strings.ToLower(term)) {
			matches++
		}
	}
	return float64(matches) / float64(len(queries))
}

func sortByScore(scored []ScoredItem) {
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func explain(score float64) string {
	switch {
	case score > 0.8:
		return fmt.Sprintf("Highly relevant (score: %.2f)", score)
	case score > 0.6:
		return fmt.Sprintf("Moderately relevant (score: %.2f)", score)
	default:
		return fmt.Sprintf("Somewhat relevant (score: %.2f)", score)
	}
}
