// Package agent orchestrates one full engagement cycle: search, dedup,
// rank, decide, act, expand.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"feedpilot/internal/actions"
	"feedpilot/internal/decider"
	"feedpilot/internal/feed"
	"feedpilot/internal/logging"
	"feedpilot/internal/oracle"
	"feedpilot/internal/ranker"
	"feedpilot/internal/store"
	"feedpilot/internal/thread"
)

// searchFilter narrows feed search to original posts.
const searchFilter = " -is:retweet -is:reply"

// ===== TYPES =====

// Config bounds one cycle.
type Config struct {
	MaxResultsPerQuery int
	MinScore           float64
	MaxThreadDepth     int
}

// CycleResult summarizes what one cycle did.
type CycleResult struct {
	ID        string
	StartedAt time.Time
	Duration  time.Duration

	Fetched int // items returned by search, after in-batch dedup
	Fresh   int // items surviving the processed-store filter
	Ranked  int // items at or above the relevance floor
	Decided int // decisions surviving the confidence threshold

	Actions       *actions.BatchResult
	ThreadActions *actions.BatchResult

	Err error
}

// Supervisor wires the pipeline stages together and owns cycle flow.
type Supervisor struct {
	client   feed.Client
	ranker   *ranker.Ranker
	engine   *decider.Engine
	executor *actions.Executor
	expander *thread.Expander
	store    *store.Store
	cfg      Config
}

func NewSupervisor(client feed.Client, rk *ranker.Ranker, engine *decider.Engine,
	executor *actions.Executor, expander *thread.Expander, st *store.Store, cfg Config) *Supervisor {
	return &Supervisor{
		client:   client,
		ranker:   rk,
		engine:   engine,
		executor: executor,
		expander: expander,
		store:    st,
		cfg:      cfg,
	}
}

// ===== CYCLE =====

// RunCycle executes one engagement cycle over the given query terms. It
// never panics out: a panic in any stage is captured into the result so
// the scheduler survives. The returned result is always non-nil.
func (s *Supervisor) RunCycle(ctx context.Context, queries []string) (result *CycleResult) {
	result = &CycleResult{ID: uuid.NewString(), StartedAt: time.Now()}
	defer func() {
		result.Duration = time.Since(result.StartedAt)
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("cycle panicked: %v", r)
			logging.Search("cycle %s panicked: %v", result.ID, r)
			if err := s.store.AddDailyStats(store.DailyStats{Errors: 1}); err != nil {
				logging.Search("failed to record panic in daily stats: %v", err)
			}
		}
	}()

	logging.Search("cycle %s starting with %d queries", result.ID, len(queries))

	items := s.search(ctx, queries)
	result.Fetched = len(items)

	fresh := s.dedup(items)
	result.Fresh = len(fresh)
	if len(fresh) == 0 {
		logging.Search("cycle %s: nothing new to judge", result.ID)
		s.recordStats(result, nil)
		return result
	}

	scored := s.ranker.Score(ctx, fresh, queries, s.cfg.MinScore)
	result.Ranked = len(scored)

	decided := s.engine.Evaluate(ctx, scored)
	result.Decided = len(decided)
	batch := s.engine.Prioritize(decider.Group(decided))

	var execErr error
	result.Actions, execErr = s.executor.Execute(ctx, batch)
	if execErr != nil {
		result.Err = fmt.Errorf("executing batch: %w", execErr)
		s.finalize(batch, result.Actions)
		s.recordStats(result, nil)
		return result
	}

	seeds := exploreSeeds(batch)
	var threadBatch []decider.Action
	if len(seeds) > 0 {
		threadBatch = s.expander.Expand(ctx, seeds, s.cfg.MaxThreadDepth)
		result.ThreadActions, execErr = s.executor.Execute(ctx, threadBatch)
		if execErr != nil {
			result.Err = fmt.Errorf("executing thread batch: %w", execErr)
		}
	}

	s.finalize(batch, result.Actions)
	s.finalize(threadBatch, result.ThreadActions)
	s.recordStats(result, seeds)

	logging.Search("cycle %s done in %s: %d fetched, %d fresh, %d decided",
		result.ID, time.Since(result.StartedAt).Round(time.Millisecond),
		result.Fetched, result.Fresh, result.Decided)
	return result
}

// search runs every query and merges results, dropping in-batch
// duplicates (the same item often matches several terms).
func (s *Supervisor) search(ctx context.Context, queries []string) []feed.Item {
	seen := make(map[string]bool)
	var items []feed.Item
	for _, q := range queries {
		found, err := s.client.Search(ctx, q+searchFilter, s.cfg.MaxResultsPerQuery)
		if err != nil {
			logging.Search("search %q failed: %v", q, err)
			continue
		}
		logging.SearchDebug("query %q returned %d items", q, len(found))
		for _, it := range found {
			if !seen[it.ID] {
				seen[it.ID] = true
				items = append(items, it)
			}
		}
	}
	return items
}

// dedup drops items a previous cycle already judged and marks the
// survivors pending so a crash mid-cycle cannot re-judge them.
func (s *Supervisor) dedup(items []feed.Item) []feed.Item {
	var fresh []feed.Item
	for _, it := range items {
		seen, err := s.store.HasProcessed(it.ID)
		if err != nil {
			logging.Search("dedup check failed for %s: %v", it.ID, err)
			continue
		}
		if seen {
			continue
		}
		if err := s.store.MarkProcessed(store.ProcessedRecord{ID: it.ID, Action: "pending"}); err != nil {
			logging.Search("failed to mark %s pending: %v", it.ID, err)
		}
		fresh = append(fresh, it)
	}
	return fresh
}

// finalize rewrites each item's processed row with its actual outcome.
func (s *Supervisor) finalize(batch []decider.Action, res *actions.BatchResult) {
	if res == nil {
		return
	}

	byID := make(map[string]decider.Action, len(batch))
	for _, a := range batch {
		byID[a.Item.Item.ID] = a
	}

	write := func(r actions.ActionResult, success bool, errMsg string) {
		a, ok := byID[r.ItemID]
		if !ok {
			return
		}
		rec := store.ProcessedRecord{
			ID:         r.ItemID,
			Action:     string(a.Decision.Kind),
			Confidence: a.Decision.Confidence,
			Reasoning:  a.Decision.Rationale,
			Success:    success,
			Error:      errMsg,
		}
		if err := s.store.MarkProcessed(rec); err != nil {
			logging.Search("failed to finalize %s: %v", r.ItemID, err)
		}
	}

	for _, r := range res.Successful {
		write(r, true, "")
	}
	for _, r := range res.Failed {
		write(r, false, r.Reason)
	}
	for _, r := range res.Skipped {
		write(r, false, r.Reason)
	}
}

func (s *Supervisor) recordStats(result *CycleResult, seeds []ranker.ScoredItem) {
	delta := store.DailyStats{Processed: result.Fresh, Threads: len(seeds)}
	for _, res := range []*actions.BatchResult{result.Actions, result.ThreadActions} {
		if res == nil {
			continue
		}
		for _, r := range res.Successful {
			switch r.Action {
			case oracle.KindLike:
				delta.Likes++
			case oracle.KindReply:
				delta.Replies++
			}
		}
		delta.Errors += len(res.Failed)
	}
	if result.Err != nil {
		delta.Errors++
	}

	if err := s.store.AddDailyStats(delta); err != nil {
		logging.Search("failed to update daily stats: %v", err)
	}
}

// exploreSeeds pulls the scored items behind the batch's explore
// decisions for thread expansion.
func exploreSeeds(batch []decider.Action) []ranker.ScoredItem {
	var seeds []ranker.ScoredItem
	for _, a := range batch {
		if a.Decision.Kind == oracle.KindExplore {
			seeds = append(seeds, a.Item)
		}
	}
	return seeds
}
