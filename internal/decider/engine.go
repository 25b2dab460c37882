// Package decider turns ranked feed items into a bounded, prioritized
// batch of actions by consulting the decision oracle.
package decider

import (
	"context"
	"sort"

	"feedpilot/internal/logging"
	"feedpilot/internal/oracle"
	"feedpilot/internal/ranker"
)

// ===== ORACLE CONTRACT =====

// Oracle is the decision surface the engine consumes. *oracle.Adapter
// satisfies it; tests substitute a scripted implementation.
type Oracle interface {
	Decide(ctx context.Context, itemText, relevanceContext string, extra map[string]string) (*oracle.Decision, error)
}

// ===== TYPES =====

// Action pairs a scored item with the decision the oracle made for it.
type Action struct {
	Item     ranker.ScoredItem
	Decision oracle.Decision
}

// Engine applies the confidence threshold and per-cycle action cap on
// top of raw oracle decisions.
type Engine struct {
	oracle     Oracle
	threshold  float64
	maxActions int
}

func New(o Oracle, threshold float64, maxActions int) *Engine {
	return &Engine{oracle: o, threshold: threshold, maxActions: maxActions}
}

// ===== EVALUATION =====

// Evaluate asks the oracle about each item and keeps decisions at or
// above the confidence threshold. Items the oracle fails on, returns
// nothing for, or scores below the threshold are dropped; one bad item
// never aborts the batch.
func (e *Engine) Evaluate(ctx context.Context, items []ranker.ScoredItem) []Action {
	var kept []Action
	for _, it := range items {
		if ctx.Err() != nil {
			logging.Decider("evaluation interrupted after %d/%d items: %v", len(kept), len(items), ctx.Err())
			break
		}

		d, err := e.oracle.Decide(ctx, it.Item.Text, it.Explanation, nil)
		if err != nil {
			logging.Decider("oracle failed for item %s: %v", it.Item.ID, err)
			continue
		}
		if d == nil {
			logging.DeciderDebug("no usable decision for item %s", it.Item.ID)
			continue
		}
		if d.Confidence < e.threshold {
			logging.DeciderDebug("item %s: %s at %.2f below threshold %.2f", it.Item.ID, d.Kind, d.Confidence, e.threshold)
			continue
		}

		logging.Decider("item %s: %s (confidence %.2f)", it.Item.ID, d.Kind, d.Confidence)
		kept = append(kept, Action{Item: it, Decision: *d})
	}
	return kept
}

// Group buckets actions by decision kind.
func Group(actions []Action) map[oracle.DecisionKind][]Action {
	groups := make(map[oracle.DecisionKind][]Action)
	for _, a := range actions {
		groups[a.Decision.Kind] = append(groups[a.Decision.Kind], a)
	}
	return groups
}

// dispatchOrder sequences buckets so exploration is never starved by
// the cycle cap, then replies, likes, and notes.
var dispatchOrder = []oracle.DecisionKind{oracle.KindExplore, oracle.KindReply, oracle.KindLike, oracle.KindNote}

// Prioritize flattens grouped actions into dispatch order: buckets by
// kind precedence, confidence descending within each bucket, truncated
// to the per-cycle cap. Sorting is stable so equal-confidence items
// keep their arrival order.
func (e *Engine) Prioritize(groups map[oracle.DecisionKind][]Action) []Action {
	var ordered []Action
	for _, kind := range dispatchOrder {
		bucket := append([]Action(nil), groups[kind]...)
		sort.SliceStable(bucket, func(i, j int) bool {
			return bucket[i].Decision.Confidence > bucket[j].Decision.Confidence
		})
		ordered = append(ordered, bucket...)
	}

	if e.maxActions > 0 && len(ordered) > e.maxActions {
		logging.Decider("capping dispatch at %d of %d actions", e.maxActions, len(ordered))
		ordered = ordered[:e.maxActions]
	}
	return ordered
}
