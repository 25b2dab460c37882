package ranker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedpilot/internal/feed"
)

// fakeEngine returns canned vectors keyed by text.
type fakeEngine struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEngine) Embed(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vectors[text], nil
}

func (f *fakeEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vectors[t]
	}
	return out, nil
}

func (f *fakeEngine) Dimensions() int { return 3 }
func (f *fakeEngine) Name() string    { return "fake" }

func items(texts ...string) []feed.Item {
	out := make([]feed.Item, len(texts))
	for i, t := range texts {
		out[i] = feed.Item{ID: t, Text: t}
	}
	return out
}

func TestFallbackTermOverlap(t *testing.T) {
	r := New(nil)
	scored := r.Score(context.Background(), items("I love python", "cats are great"), []string{"python"}, 0.3)

	require.Len(t, scored, 1)
	assert.Equal(t, "I love python", scored[0].Item.Text)
	assert.Equal(t, 1.0, scored[0].Score)
}

func TestFallbackPartialOverlap(t *testing.T) {
	r := New(nil)
	scored := r.Score(context.Background(), items("python rocks"), []string{"python", "rust"}, 0.3)

	require.Len(t, scored, 1)
	assert.Equal(t, 0.5, scored[0].Score)
}

func TestThresholdFiltering(t *testing.T) {
	r := New(nil)
	scored := r.Score(context.Background(), items("go talk", "unrelated"), []string{"go", "concurrency", "channels"}, 0.5)
	assert.Empty(t, scored, "items below min_score must be dropped")

	for _, s := range r.Score(context.Background(), items("go concurrency channels"), []string{"go", "concurrency"}, 0.5) {
		assert.GreaterOrEqual(t, s.Score, 0.5)
	}
}

func TestSemanticScoringAndOrdering(t *testing.T) {
	engine := &fakeEngine{vectors: map[string][]float32{
		"close":    {1, 0, 0},
		"mid":      {1, 1, 0},
		"far":      {0, 0, 1},
		"querytxt": {1, 0, 0},
	}}
	r := New(engine)

	scored := r.Score(context.Background(), items("far", "mid", "close"), []string{"querytxt"}, 0.3)
	require.Len(t, scored, 2, "orthogonal item must be filtered")
	assert.Equal(t, "close", scored[0].Item.Text)
	assert.Equal(t, "mid", scored[1].Item.Text)
	assert.InDelta(t, 1.0, scored[0].Score, 1e-9)
}

func TestNegativeSimilarityClampedToZero(t *testing.T) {
	engine := &fakeEngine{vectors: map[string][]float32{
		"opposite": {-1, 0, 0},
		"q":        {1, 0, 0},
	}}
	r := New(engine)

	scored := r.Score(context.Background(), items("opposite"), []string{"q"}, 0.0)
	require.Len(t, scored, 1)
	assert.Equal(t, 0.0, scored[0].Score)
}

func TestEngineErrorFallsBack(t *testing.T) {
	r := New(&fakeEngine{err: errors.New("backend down")})

	scored := r.Score(context.Background(), items("I love python"), []string{"python"}, 0.3)
	require.Len(t, scored, 1, "fallback must produce the same output shape")
	assert.Equal(t, 1.0, scored[0].Score)
}

func TestStableTieOrdering(t *testing.T) {
	r := New(nil)
	scored := r.Score(context.Background(), items("python a", "python b", "python c"), []string{"python"}, 0.3)

	require.Len(t, scored, 3)
	assert.Equal(t, "python a", scored[0].Item.Text)
	assert.Equal(t, "python b", scored[1].Item.Text)
	assert.Equal(t, "python c", scored[2].Item.Text)
}
