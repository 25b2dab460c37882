package decider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedpilot/internal/feed"
	"feedpilot/internal/oracle"
	"feedpilot/internal/ranker"
)

// mapOracle answers from a fixed id->decision table. A nil entry means
// "no usable decision"; a missing entry is a transport error.
type mapOracle struct {
	decisions map[string]*oracle.Decision
}

func (m *mapOracle) Decide(_ context.Context, itemText, _ string, _ map[string]string) (*oracle.Decision, error) {
	d, ok := m.decisions[itemText]
	if !ok {
		return nil, errors.New("oracle unavailable")
	}
	return d, nil
}

func scored(id, text string) ranker.ScoredItem {
	return ranker.ScoredItem{Item: feed.Item{ID: id, Text: text}, Score: 0.8}
}

func dec(kind oracle.DecisionKind, confidence float64) *oracle.Decision {
	return &oracle.Decision{Kind: kind, Confidence: confidence, Rationale: "r"}
}

func TestEvaluateFiltersByConfidence(t *testing.T) {
	o := &mapOracle{decisions: map[string]*oracle.Decision{
		"a": dec(oracle.KindLike, 0.9),
		"b": dec(oracle.KindReply, 0.65),
		"c": dec(oracle.KindNote, 0.7),
	}}
	e := New(o, 0.7, 10)

	actions := e.Evaluate(context.Background(), []ranker.ScoredItem{
		scored("1", "a"), scored("2", "b"), scored("3", "c"),
	})

	require.Len(t, actions, 2)
	assert.Equal(t, "1", actions[0].Item.Item.ID)
	assert.Equal(t, "3", actions[1].Item.Item.ID, "confidence exactly at threshold is kept")
}

func TestEvaluateSkipsFailuresAndNilDecisions(t *testing.T) {
	o := &mapOracle{decisions: map[string]*oracle.Decision{
		"good": dec(oracle.KindLike, 0.9),
		"nil":  nil,
		// "broken" missing: transport error
	}}
	e := New(o, 0.7, 10)

	actions := e.Evaluate(context.Background(), []ranker.ScoredItem{
		scored("1", "broken"), scored("2", "nil"), scored("3", "good"),
	})

	require.Len(t, actions, 1)
	assert.Equal(t, "3", actions[0].Item.Item.ID)
}

func TestGroupBucketsByKind(t *testing.T) {
	actions := []Action{
		{Item: scored("1", "a"), Decision: *dec(oracle.KindLike, 0.8)},
		{Item: scored("2", "b"), Decision: *dec(oracle.KindExplore, 0.9)},
		{Item: scored("3", "c"), Decision: *dec(oracle.KindLike, 0.7)},
	}

	groups := Group(actions)
	assert.Len(t, groups[oracle.KindLike], 2)
	assert.Len(t, groups[oracle.KindExplore], 1)
	assert.Empty(t, groups[oracle.KindReply])
}

func TestPrioritizeKindPrecedenceAndConfidence(t *testing.T) {
	groups := Group([]Action{
		{Item: scored("note-hi", "a"), Decision: *dec(oracle.KindNote, 0.99)},
		{Item: scored("like-lo", "b"), Decision: *dec(oracle.KindLike, 0.71)},
		{Item: scored("explore", "c"), Decision: *dec(oracle.KindExplore, 0.72)},
		{Item: scored("reply", "d"), Decision: *dec(oracle.KindReply, 0.8)},
		{Item: scored("like-hi", "e"), Decision: *dec(oracle.KindLike, 0.95)},
	})

	ordered := New(nil, 0.7, 10).Prioritize(groups)

	var ids []string
	for _, a := range ordered {
		ids = append(ids, a.Item.Item.ID)
	}
	assert.Equal(t, []string{"explore", "reply", "like-hi", "like-lo", "note-hi"}, ids,
		"kind precedence outranks confidence; confidence orders within a kind")
}

func TestPrioritizeTruncatesToCap(t *testing.T) {
	groups := Group([]Action{
		{Item: scored("1", "a"), Decision: *dec(oracle.KindNote, 0.9)},
		{Item: scored("2", "b"), Decision: *dec(oracle.KindReply, 0.8)},
		{Item: scored("3", "c"), Decision: *dec(oracle.KindLike, 0.85)},
	})

	ordered := New(nil, 0.7, 2).Prioritize(groups)

	require.Len(t, ordered, 2)
	assert.Equal(t, "2", ordered[0].Item.Item.ID)
	assert.Equal(t, "3", ordered[1].Item.Item.ID, "the lowest-precedence bucket is cut first")
}

func TestPrioritizeStableOnEqualConfidence(t *testing.T) {
	groups := Group([]Action{
		{Item: scored("first", "a"), Decision: *dec(oracle.KindLike, 0.8)},
		{Item: scored("second", "b"), Decision: *dec(oracle.KindLike, 0.8)},
	})

	ordered := New(nil, 0.7, 10).Prioritize(groups)

	require.Len(t, ordered, 2)
	assert.Equal(t, "first", ordered[0].Item.Item.ID)
	assert.Equal(t, "second", ordered[1].Item.Item.ID)
}
