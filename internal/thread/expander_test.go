package thread

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedpilot/internal/decider"
	"feedpilot/internal/feed"
	"feedpilot/internal/oracle"
	"feedpilot/internal/ranker"
	"feedpilot/internal/store"
)

// threadClient serves canned conversations.
type threadClient struct {
	conversations map[string][]feed.Item
	fetches       []string
}

func (c *threadClient) Search(context.Context, string, int) ([]feed.Item, error) {
	return nil, nil
}

func (c *threadClient) FetchThread(_ context.Context, conversationID string, maxResults int) ([]feed.Item, error) {
	c.fetches = append(c.fetches, conversationID)
	items := c.conversations[conversationID]
	if len(items) > maxResults {
		items = items[:maxResults]
	}
	return items, nil
}

func (c *threadClient) Like(context.Context, string) (bool, error)          { return true, nil }
func (c *threadClient) Reply(context.Context, string, string) (bool, error) { return true, nil }

// textOracle maps item text to a decision; unmapped text gets nil.
type textOracle struct {
	decisions map[string]*oracle.Decision
	contexts  []map[string]string
}

func (o *textOracle) Decide(_ context.Context, itemText, _ string, extra map[string]string) (*oracle.Decision, error) {
	o.contexts = append(o.contexts, extra)
	return o.decisions[itemText], nil
}

func testConfig() Config {
	return Config{MaxReplies: 20, MaxDecisions: 10, MinScore: 0.2, ConfidenceThreshold: 0.7}
}

func newTestExpander(t *testing.T, client feed.Client, o decider.Oracle, cfg Config) (*Expander, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewExpander(client, ranker.New(nil), o, st, cfg, 42), st
}

func seedItem(id, text string) ranker.ScoredItem {
	return ranker.ScoredItem{Item: feed.Item{ID: id, Text: text, ConversationID: "conv-" + id}, Score: 0.9}
}

func reply(id, text string) feed.Item {
	return feed.Item{ID: id, Text: text, ConversationID: "conv"}
}

func TestExpandDepthZeroReturnsNothing(t *testing.T) {
	client := &threadClient{}
	e, _ := newTestExpander(t, client, &textOracle{}, testConfig())

	assert.Nil(t, e.Expand(context.Background(), []ranker.ScoredItem{seedItem("s1", "errors")}, 0))
	assert.Empty(t, client.fetches, "depth zero must not touch the platform")
}

func TestExpandKeepsEngagementAboveThreshold(t *testing.T) {
	client := &threadClient{conversations: map[string][]feed.Item{
		"conv-s1": {
			reply("r1", "agreed, errors are values"),
			reply("r2", "errors should wrap context"),
			reply("r3", "low confidence take on errors"),
		},
	}}
	o := &textOracle{decisions: map[string]*oracle.Decision{
		"agreed, errors are values":     {Kind: oracle.KindLike, Confidence: 0.8},
		"errors should wrap context":    {Kind: oracle.KindReply, ReplyText: "yes", Confidence: 0.95},
		"low confidence take on errors": {Kind: oracle.KindLike, Confidence: 0.5},
	}}
	e, _ := newTestExpander(t, client, o, testConfig())

	actions := e.Expand(context.Background(), []ranker.ScoredItem{seedItem("s1", "errors")}, 1)

	require.Len(t, actions, 2)
	assert.Equal(t, "r2", actions[0].Item.Item.ID, "highest confidence first")
	assert.Equal(t, "r1", actions[1].Item.Item.ID)
}

func TestExpandDiscardsNestedExploreAndNotes(t *testing.T) {
	client := &threadClient{conversations: map[string][]feed.Item{
		"conv-s1": {
			reply("r1", "deep thread about errors here"),
			reply("r2", "interesting errors point"),
			reply("r3", "please like this errors post"),
		},
	}}
	o := &textOracle{decisions: map[string]*oracle.Decision{
		"deep thread about errors here": {Kind: oracle.KindExplore, Confidence: 0.99},
		"interesting errors point":      {Kind: oracle.KindNote, Confidence: 0.9},
		"please like this errors post":  {Kind: oracle.KindLike, Confidence: 0.85},
	}}
	e, _ := newTestExpander(t, client, o, testConfig())

	actions := e.Expand(context.Background(), []ranker.ScoredItem{seedItem("s1", "errors")}, 1)

	require.Len(t, actions, 1)
	assert.Equal(t, "r3", actions[0].Item.Item.ID, "expansion never recurses or takes notes")
}

func TestExpandExcludesSeedAndProcessedReplies(t *testing.T) {
	seed := seedItem("s1", "errors")
	client := &threadClient{conversations: map[string][]feed.Item{
		"conv-s1": {
			{ID: "s1", Text: "errors", ConversationID: "conv-s1"},
			reply("seen", "already judged errors take"),
			reply("fresh", "new errors take"),
		},
	}}
	o := &textOracle{decisions: map[string]*oracle.Decision{
		"already judged errors take": {Kind: oracle.KindLike, Confidence: 0.9},
		"new errors take":            {Kind: oracle.KindLike, Confidence: 0.9},
	}}
	e, st := newTestExpander(t, client, o, testConfig())
	require.NoError(t, st.MarkProcessed(store.ProcessedRecord{ID: "seen", Action: "like"}))

	actions := e.Expand(context.Background(), []ranker.ScoredItem{seed}, 1)

	require.Len(t, actions, 1)
	assert.Equal(t, "fresh", actions[0].Item.Item.ID)

	marked, err := st.HasProcessed("fresh")
	require.NoError(t, err)
	assert.True(t, marked, "judged replies are marked before the oracle sees them")
}

func TestExpandFiltersRepliesBelowMinScore(t *testing.T) {
	client := &threadClient{conversations: map[string][]feed.Item{
		"conv-s1": {
			reply("r1", "great point about generics"),
			reply("r2", "totally unrelated lunch photo"),
		},
	}}
	o := &textOracle{decisions: map[string]*oracle.Decision{
		"great point about generics":    {Kind: oracle.KindLike, Confidence: 0.9},
		"totally unrelated lunch photo": {Kind: oracle.KindLike, Confidence: 0.9},
	}}
	e, _ := newTestExpander(t, client, o, testConfig())

	actions := e.Expand(context.Background(), []ranker.ScoredItem{seedItem("s1", "generics")}, 1)

	require.Len(t, actions, 1)
	assert.Equal(t, "r1", actions[0].Item.Item.ID)
	require.Len(t, o.contexts, 1, "filtered replies never reach the oracle")
	assert.Equal(t, "generics", o.contexts[0]["conversation_seed"])
}

func TestExpandCapsDecisionsPerConversation(t *testing.T) {
	var replies []feed.Item
	decisions := map[string]*oracle.Decision{}
	for i := 0; i < 6; i++ {
		text := "rust rust rust " + string(rune('a'+i))
		replies = append(replies, reply(string(rune('a'+i)), text))
		decisions[text] = &oracle.Decision{Kind: oracle.KindLike, Confidence: 0.9}
	}
	client := &threadClient{conversations: map[string][]feed.Item{"conv-s1": replies}}
	cfg := testConfig()
	cfg.MaxDecisions = 3
	e, _ := newTestExpander(t, client, &textOracle{decisions: decisions}, cfg)

	actions := e.Expand(context.Background(), []ranker.ScoredItem{seedItem("s1", "rust")}, 1)

	assert.Len(t, actions, 3)
}

func TestExpandTieBreakIsSeedDeterministic(t *testing.T) {
	build := func() (*Expander, []ranker.ScoredItem) {
		client := &threadClient{conversations: map[string][]feed.Item{
			"conv-s1": {
				reply("r1", "errors take one"),
				reply("r2", "errors take two"),
				reply("r3", "errors take three"),
			},
		}}
		o := &textOracle{decisions: map[string]*oracle.Decision{
			"errors take one":   {Kind: oracle.KindLike, Confidence: 0.8},
			"errors take two":   {Kind: oracle.KindLike, Confidence: 0.8},
			"errors take three": {Kind: oracle.KindLike, Confidence: 0.8},
		}}
		st, err := store.Open(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { st.Close() })
		return NewExpander(client, ranker.New(nil), o, st, testConfig(), 42),
			[]ranker.ScoredItem{seedItem("s1", "errors")}
	}

	e1, seeds1 := build()
	e2, seeds2 := build()

	first := e1.Expand(context.Background(), seeds1, 1)
	second := e2.Expand(context.Background(), seeds2, 1)

	require.Len(t, first, 3)
	require.Len(t, second, 3)
	for i := range first {
		assert.Equal(t, first[i].Item.Item.ID, second[i].Item.Item.ID,
			"equal confidence ordering replays under the same seed")
	}
}
