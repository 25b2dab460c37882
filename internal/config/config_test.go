package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	pause, err := cfg.ActionPause()
	require.NoError(t, err)
	assert.Equal(t, time.Second, pause)

	grace, err := cfg.MisfireGrace()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, grace)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "feedpilot", cfg.Name)
	assert.Equal(t, 0.7, cfg.Engine.ConfidenceThreshold)
}

func TestLoadLayersOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedpilot.yaml")
	content := `
search:
  queries: [rust, zig]
  min_score: 0.5
limits:
  max_likes_per_day: 3
schedule:
  hours: "*/6"
  minute: 15
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"rust", "zig"}, cfg.Search.Queries)
	assert.Equal(t, 0.5, cfg.Search.MinScore)
	assert.Equal(t, 3, cfg.Limits.MaxLikesPerDay)
	assert.Equal(t, "*/6", cfg.Schedule.Hours)
	require.NotNil(t, cfg.Schedule.Minute)
	assert.Equal(t, 15, *cfg.Schedule.Minute)

	// Untouched sections keep defaults
	assert.Equal(t, 10, cfg.Engine.MaxActionsPerCycle)
	assert.Equal(t, "feedpilot.db", cfg.Database.Path)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("X_BEARER_TOKEN", "tok-123")
	t.Setenv("GEMINI_API_KEY", "gk-456")
	t.Setenv("FEEDPILOT_QUERIES", "python , llm ,")
	t.Setenv("FEEDPILOT_SCHEDULE_MINUTE", "42")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "tok-123", cfg.Platform.BearerToken)
	assert.Equal(t, "gk-456", cfg.LLM.APIKey)
	assert.Equal(t, "gk-456", cfg.Embedding.GenAIAPIKey)
	assert.Equal(t, []string{"python", "llm"}, cfg.Search.Queries)
	require.NotNil(t, cfg.Schedule.Minute)
	assert.Equal(t, 42, *cfg.Schedule.Minute)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Search.Queries = nil
	cfg.Engine.ConfidenceThreshold = 1.5
	minute := 99
	cfg.Schedule.Minute = &minute
	cfg.Limits.ActionPause = "not-a-duration"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search.queries")
	assert.Contains(t, err.Error(), "confidence_threshold")
	assert.Contains(t, err.Error(), "schedule.minute")
	assert.Contains(t, err.Error(), "action_pause")
}

func TestValidateRejectsBadLimitsAndThread(t *testing.T) {
	cfg := Default()
	cfg.Limits.MaxLikesPerHour = -1
	cfg.Thread.MaxDecisions = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hourly ceilings")
	assert.Contains(t, err.Error(), "thread.max_decisions")
}
