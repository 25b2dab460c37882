// Package actions dispatches engagement decisions against the platform
// under daily and hourly rate ceilings.
package actions

import (
	"context"
	"strings"
	"time"

	"feedpilot/internal/decider"
	"feedpilot/internal/feed"
	"feedpilot/internal/logging"
	"feedpilot/internal/oracle"
	"feedpilot/internal/store"
)

// fallbackReply is sent when a reply decision carries no text.
const fallbackReply = "Thanks for sharing!"

// ===== TYPES =====

// Limits holds the dispatch ceilings for quota-consuming actions.
type Limits struct {
	MaxLikesPerDay    int
	MaxRepliesPerDay  int
	MaxLikesPerHour   int
	MaxRepliesPerHour int
}

// ActionResult is the outcome of one dispatch attempt.
type ActionResult struct {
	ItemID    string
	Action    oracle.DecisionKind
	Reason    string
	ReplyText string
}

// BatchResult partitions a batch into what was dispatched, what the
// platform rejected, and what quota exhaustion skipped.
type BatchResult struct {
	Successful []ActionResult
	Failed     []ActionResult
	Skipped    []ActionResult
}

// Executor runs a prioritized action batch. Notes and explore handoffs
// never touch the platform; likes and replies consume quota.
type Executor struct {
	client feed.Client
	store  *store.Store
	limits Limits
	pause  time.Duration

	// sleep is swappable in tests.
	sleep func(time.Duration)
}

func NewExecutor(client feed.Client, st *store.Store, limits Limits, pause time.Duration) *Executor {
	return &Executor{client: client, store: st, limits: limits, pause: pause, sleep: time.Sleep}
}

// ===== QUOTA =====

// budget tracks remaining quota for one action type over a batch. The
// store counters are snapshotted once at batch start; dispatches within
// the batch decrement locally.
type budget struct {
	daily  int
	hourly int
}

func (b *budget) exhausted() bool {
	return b.daily <= 0 || b.hourly <= 0
}

func (b *budget) consume() {
	b.daily--
	b.hourly--
}

func (e *Executor) snapshotBudget(actionType string, maxDaily, maxHourly int) (*budget, error) {
	u, err := e.store.CurrentUsage(actionType)
	if err != nil {
		return nil, err
	}
	return &budget{daily: maxDaily - u.DailyCount, hourly: maxHourly - u.HourlyCount}, nil
}

// DailyUsage reports consumed-vs-allowed quota for the status surface.
func (e *Executor) DailyUsage() (likes, maxLikes, replies, maxReplies int, err error) {
	lu, err := e.store.CurrentUsage("like")
	if err != nil {
		return 0, 0, 0, 0, err
	}
	ru, err := e.store.CurrentUsage("reply")
	if err != nil {
		return 0, 0, 0, 0, err
	}
	return lu.DailyCount, e.limits.MaxLikesPerDay, ru.DailyCount, e.limits.MaxRepliesPerDay, nil
}

// ===== EXECUTION =====

// Execute dispatches each action in order. One failure never aborts the
// batch; quota counters advance only when a call actually goes out.
func (e *Executor) Execute(ctx context.Context, batch []decider.Action) (*BatchResult, error) {
	likeBudget, err := e.snapshotBudget("like", e.limits.MaxLikesPerDay, e.limits.MaxLikesPerHour)
	if err != nil {
		return nil, err
	}
	replyBudget, err := e.snapshotBudget("reply", e.limits.MaxRepliesPerDay, e.limits.MaxRepliesPerHour)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{}
	for _, action := range batch {
		if ctx.Err() != nil {
			logging.Actions("batch interrupted: %v", ctx.Err())
			break
		}
		e.executeOne(ctx, action, likeBudget, replyBudget, result)
		if e.pause > 0 {
			e.sleep(e.pause)
		}
	}

	logging.Actions("batch done: %d dispatched, %d failed, %d skipped",
		len(result.Successful), len(result.Failed), len(result.Skipped))
	return result, nil
}

func (e *Executor) executeOne(ctx context.Context, action decider.Action, likeBudget, replyBudget *budget, result *BatchResult) {
	id := action.Item.Item.ID
	res := ActionResult{ItemID: id, Action: action.Decision.Kind}

	switch action.Decision.Kind {
	case oracle.KindNote:
		res.Reason = "noted"
		e.record(id, "note", "", true, "")
		result.Successful = append(result.Successful, res)

	case oracle.KindExplore:
		// Thread expansion happens upstream; the executor just records
		// the handoff.
		res.Reason = "handed off for thread expansion"
		e.record(id, "explore", "", true, "")
		result.Successful = append(result.Successful, res)

	case oracle.KindLike:
		if likeBudget.exhausted() {
			res.Reason = "like quota exhausted"
			logging.Actions("skipping like for %s: quota exhausted", id)
			result.Skipped = append(result.Skipped, res)
			return
		}
		likeBudget.consume()
		liked, err := e.client.Like(ctx, id)
		if err != nil {
			res.Reason = err.Error()
			e.record(id, "like", "", false, err.Error())
			result.Failed = append(result.Failed, res)
			return
		}
		if !liked {
			res.Reason = "platform rejected like"
			e.record(id, "like", "", false, res.Reason)
			result.Failed = append(result.Failed, res)
			return
		}
		e.bump("like")
		e.record(id, "like", "", true, "")
		result.Successful = append(result.Successful, res)

	case oracle.KindReply:
		if replyBudget.exhausted() {
			res.Reason = "reply quota exhausted"
			logging.Actions("skipping reply for %s: quota exhausted", id)
			result.Skipped = append(result.Skipped, res)
			return
		}
		text := strings.TrimSpace(action.Decision.ReplyText)
		if text == "" {
			text = fallbackReply
		}
		res.ReplyText = text
		replyBudget.consume()
		posted, err := e.client.Reply(ctx, id, text)
		if err != nil {
			res.Reason = err.Error()
			e.record(id, "reply", text, false, err.Error())
			result.Failed = append(result.Failed, res)
			return
		}
		if !posted {
			res.Reason = "platform rejected reply"
			e.record(id, "reply", text, false, res.Reason)
			result.Failed = append(result.Failed, res)
			return
		}
		e.bump("reply")
		e.record(id, "reply", text, true, "")
		result.Successful = append(result.Successful, res)

	default:
		res.Reason = "unrecognized decision kind"
		result.Failed = append(result.Failed, res)
	}
}

func (e *Executor) bump(actionType string) {
	if err := e.store.IncrementRateLimit(actionType); err != nil {
		logging.Actions("failed to bump %s counter: %v", actionType, err)
	}
}

func (e *Executor) record(itemID, actionType, detail string, success bool, errMsg string) {
	err := e.store.LogAction(store.ActionEntry{
		ItemID:     itemID,
		ActionType: actionType,
		Detail:     detail,
		Success:    success,
		Error:      errMsg,
	})
	if err != nil {
		logging.Actions("failed to log %s for %s: %v", actionType, itemID, err)
	}
}
