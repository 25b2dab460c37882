// Package thread follows explore decisions one level down: it pulls a
// conversation's replies, ranks them against the seed, and asks the
// oracle which are worth engaging.
package thread

import (
	"context"
	"math/rand"
	"sort"

	"feedpilot/internal/decider"
	"feedpilot/internal/feed"
	"feedpilot/internal/logging"
	"feedpilot/internal/oracle"
	"feedpilot/internal/ranker"
	"feedpilot/internal/store"
)

// Config bounds one level of expansion.
type Config struct {
	// MaxReplies caps how many replies are fetched per conversation.
	MaxReplies int
	// MaxDecisions caps how many ranked replies reach the oracle.
	MaxDecisions int
	// MinScore filters replies with no semantic tie to the seed.
	MinScore float64
	// ConfidenceThreshold gates which decisions survive.
	ConfidenceThreshold float64
}

// Expander performs depth-one thread expansion for explore seeds.
type Expander struct {
	client feed.Client
	ranker *ranker.Ranker
	oracle decider.Oracle
	store  *store.Store
	cfg    Config
	rng    *rand.Rand
}

func NewExpander(client feed.Client, rk *ranker.Ranker, o decider.Oracle, st *store.Store, cfg Config, seed int64) *Expander {
	return &Expander{
		client: client,
		ranker: rk,
		oracle: o,
		store:  st,
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Expand walks each explore seed's conversation and returns the
// engagement actions the oracle endorsed, ordered by confidence.
// Nested explore decisions are discarded; expansion never recurses.
func (e *Expander) Expand(ctx context.Context, seeds []ranker.ScoredItem, maxDepth int) []decider.Action {
	if maxDepth < 1 || len(seeds) == 0 {
		return nil
	}

	var all []decider.Action
	for _, seed := range seeds {
		if ctx.Err() != nil {
			logging.Threads("expansion interrupted: %v", ctx.Err())
			break
		}
		all = append(all, e.expandOne(ctx, seed)...)
	}
	return e.prioritize(all)
}

func (e *Expander) expandOne(ctx context.Context, seed ranker.ScoredItem) []decider.Action {
	conversationID := seed.Item.ConversationID
	if conversationID == "" {
		conversationID = seed.Item.ID
	}

	replies, err := e.client.FetchThread(ctx, conversationID, e.cfg.MaxReplies)
	if err != nil {
		logging.Threads("fetch failed for conversation %s: %v", conversationID, err)
		return nil
	}

	candidates := e.filterNew(seed.Item.ID, replies)
	if len(candidates) == 0 {
		logging.ThreadsDebug("conversation %s: no new replies", conversationID)
		return nil
	}

	ranked := e.ranker.Score(ctx, candidates, []string{seed.Item.Text}, e.cfg.MinScore)
	if len(ranked) > e.cfg.MaxDecisions {
		ranked = ranked[:e.cfg.MaxDecisions]
	}
	logging.Threads("conversation %s: %d replies, %d candidates after ranking",
		conversationID, len(replies), len(ranked))

	extra := map[string]string{"conversation_seed": seed.Item.Text}

	var kept []decider.Action
	for _, reply := range ranked {
		d, err := e.oracle.Decide(ctx, reply.Item.Text, reply.Explanation, extra)
		if err != nil {
			logging.Threads("oracle failed for reply %s: %v", reply.Item.ID, err)
			continue
		}
		if d == nil || d.Confidence < e.cfg.ConfidenceThreshold {
			continue
		}
		// Only direct engagement survives inside a thread.
		if d.Kind != oracle.KindLike && d.Kind != oracle.KindReply {
			logging.ThreadsDebug("discarding %s for reply %s inside thread", d.Kind, reply.Item.ID)
			continue
		}
		kept = append(kept, decider.Action{Item: reply, Decision: *d})
	}
	return kept
}

// filterNew drops the seed itself and anything already processed, and
// marks the survivors processed so a later cycle never re-judges them.
func (e *Expander) filterNew(seedID string, replies []feed.Item) []feed.Item {
	var fresh []feed.Item
	for _, r := range replies {
		if r.ID == seedID {
			continue
		}
		seen, err := e.store.HasProcessed(r.ID)
		if err != nil {
			logging.Threads("dedup check failed for %s: %v", r.ID, err)
			continue
		}
		if seen {
			continue
		}
		if err := e.store.MarkProcessed(store.ProcessedRecord{ID: r.ID, Action: "thread_pending"}); err != nil {
			logging.Threads("failed to mark %s: %v", r.ID, err)
		}
		fresh = append(fresh, r)
	}
	return fresh
}

// prioritize orders actions by confidence descending. Ties on the exact
// confidence value are broken by a pre-drawn random key so no author
// position is systematically favored.
func (e *Expander) prioritize(actions []decider.Action) []decider.Action {
	if len(actions) == 0 {
		return nil
	}

	tieKeys := make([]float64, len(actions))
	for i := range tieKeys {
		tieKeys[i] = e.rng.Float64()
	}

	order := make([]int, len(actions))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		i, j := order[a], order[b]
		if actions[i].Decision.Confidence != actions[j].Decision.Confidence {
			return actions[i].Decision.Confidence > actions[j].Decision.Confidence
		}
		return tieKeys[i] < tieKeys[j]
	})

	ordered := make([]decider.Action, len(actions))
	for i, idx := range order {
		ordered[i] = actions[idx]
	}
	return ordered
}
