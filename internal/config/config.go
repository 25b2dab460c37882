// Package config loads feedpilot configuration from feedpilot.yaml with
// environment-variable overrides for secrets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all feedpilot configuration.
type Config struct {
	Name string `yaml:"name"`

	// Platform holds social-platform API settings.
	Platform PlatformConfig `yaml:"platform"`

	// Search configures feed retrieval and relevance scoring.
	Search SearchConfig `yaml:"search"`

	// LLM configures the decision oracle.
	LLM LLMConfig `yaml:"llm"`

	// Embedding configures the relevance scorer's semantic backend.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Engine configures the decision engine.
	Engine EngineConfig `yaml:"engine"`

	// Limits configures action quotas.
	Limits LimitsConfig `yaml:"limits"`

	// Thread configures conversation expansion.
	Thread ThreadConfig `yaml:"thread"`

	// Schedule configures the recurring run.
	Schedule ScheduleConfig `yaml:"schedule"`

	// Database configures the persistence store.
	Database DatabaseConfig `yaml:"database"`

	// Logging configures categorized file logging.
	Logging LoggingConfig `yaml:"logging"`
}

// PlatformConfig configures the social platform client.
type PlatformConfig struct {
	BaseURL     string `yaml:"base_url"`
	BearerToken string `yaml:"bearer_token"`
	UserID      string `yaml:"user_id"`
	Timeout     string `yaml:"timeout"`
}

// SearchConfig configures feed retrieval.
type SearchConfig struct {
	Queries            []string `yaml:"queries"`
	MaxResultsPerQuery int      `yaml:"max_results_per_query"`
	MinScore           float64  `yaml:"min_score"`
}

// LLMConfig configures the decision oracle backend.
type LLMConfig struct {
	Provider string `yaml:"provider"` // gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// EmbeddingConfig configures the embedding engine.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"` // ollama or genai
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
	GenAIAPIKey    string `yaml:"genai_api_key"`
	GenAIModel     string `yaml:"genai_model"`
}

// EngineConfig configures decision filtering and prioritization.
type EngineConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	MaxActionsPerCycle  int     `yaml:"max_actions_per_cycle"`
}

// LimitsConfig configures per-action quotas and pacing.
type LimitsConfig struct {
	MaxLikesPerDay    int    `yaml:"max_likes_per_day"`
	MaxRepliesPerDay  int    `yaml:"max_replies_per_day"`
	MaxLikesPerHour   int    `yaml:"max_likes_per_hour"`
	MaxRepliesPerHour int    `yaml:"max_replies_per_hour"`
	ActionPause       string `yaml:"action_pause"`
}

// ThreadConfig configures conversation thread expansion.
type ThreadConfig struct {
	MaxDepth     int     `yaml:"max_depth"`
	MaxReplies   int     `yaml:"max_replies"`
	MaxDecisions int     `yaml:"max_decisions"`
	MinScore     float64 `yaml:"min_score"`
	RandomSeed   int64   `yaml:"random_seed"` // 0 = derive from clock
}

// ScheduleConfig configures the recurring scheduler.
type ScheduleConfig struct {
	Hours        string `yaml:"hours"`  // cron hour field, e.g. "*/3"
	Minute       *int   `yaml:"minute"` // nil = jittered per arming
	MisfireGrace string `yaml:"misfire_grace"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
	// RetentionDays bounds how long processed rows and log entries are
	// kept. 0 disables pruning.
	RetentionDays int `yaml:"retention_days"`
}

// LoggingConfig configures categorized file logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
}

// Default returns a config with sensible defaults for everything except
// credentials.
func Default() *Config {
	return &Config{
		Name: "feedpilot",
		Platform: PlatformConfig{
			BaseURL: "https://api.twitter.com/2",
			Timeout: "30s",
		},
		Search: SearchConfig{
			Queries:            []string{"golang", "ai agents"},
			MaxResultsPerQuery: 10,
			MinScore:           0.3,
		},
		LLM: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-2.0-flash",
			BaseURL:  "https://generativelanguage.googleapis.com/v1beta",
			Timeout:  "120s",
		},
		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			GenAIModel:     "gemini-embedding-001",
		},
		Engine: EngineConfig{
			ConfidenceThreshold: 0.7,
			MaxActionsPerCycle:  10,
		},
		Limits: LimitsConfig{
			MaxLikesPerDay:    20,
			MaxRepliesPerDay:  10,
			MaxLikesPerHour:   6,
			MaxRepliesPerHour: 4,
			ActionPause:       "1s",
		},
		Thread: ThreadConfig{
			MaxDepth:     1,
			MaxReplies:   20,
			MaxDecisions: 10,
			MinScore:     0.2,
		},
		Schedule: ScheduleConfig{
			Hours:        "*/3",
			MisfireGrace: "5m",
		},
		Database: DatabaseConfig{
			Path:          "feedpilot.db",
			RetentionDays: 30,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the given path, layered over defaults, then
// applies environment overrides. A missing file is not an error; defaults
// plus environment are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides layers environment variables over file values.
// Secrets should normally come from the environment, not the file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("X_BEARER_TOKEN"); v != "" {
		c.Platform.BearerToken = v
	}
	if v := os.Getenv("X_USER_ID"); v != "" {
		c.Platform.UserID = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.LLM.APIKey = v
		if c.Embedding.GenAIAPIKey == "" {
			c.Embedding.GenAIAPIKey = v
		}
	}
	if v := os.Getenv("FEEDPILOT_QUERIES"); v != "" {
		var queries []string
		for _, q := range strings.Split(v, ",") {
			if q = strings.TrimSpace(q); q != "" {
				queries = append(queries, q)
			}
		}
		if len(queries) > 0 {
			c.Search.Queries = queries
		}
	}
	if v := os.Getenv("FEEDPILOT_DB"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("FEEDPILOT_SCHEDULE_HOURS"); v != "" {
		c.Schedule.Hours = v
	}
	if v := os.Getenv("FEEDPILOT_SCHEDULE_MINUTE"); v != "" {
		if m, err := strconv.Atoi(v); err == nil {
			c.Schedule.Minute = &m
		}
	}
	if v := os.Getenv("FEEDPILOT_DEBUG"); v != "" {
		c.Logging.DebugMode = v == "1" || strings.EqualFold(v, "true")
	}
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if len(c.Search.Queries) == 0 {
		problems = append(problems, "search.queries must not be empty")
	}
	if c.Search.MaxResultsPerQuery < 1 {
		problems = append(problems, "search.max_results_per_query must be >= 1")
	}
	if c.Search.MinScore < 0 || c.Search.MinScore > 1 {
		problems = append(problems, "search.min_score must be in [0,1]")
	}
	if c.Engine.ConfidenceThreshold < 0 || c.Engine.ConfidenceThreshold > 1 {
		problems = append(problems, "engine.confidence_threshold must be in [0,1]")
	}
	if c.Engine.MaxActionsPerCycle < 1 {
		problems = append(problems, "engine.max_actions_per_cycle must be >= 1")
	}
	if c.Limits.MaxLikesPerDay < 0 || c.Limits.MaxRepliesPerDay < 0 {
		problems = append(problems, "limits daily ceilings must be >= 0")
	}
	if c.Limits.MaxLikesPerHour < 0 || c.Limits.MaxRepliesPerHour < 0 {
		problems = append(problems, "limits hourly ceilings must be >= 0")
	}
	if c.Thread.MaxReplies < 1 {
		problems = append(problems, "thread.max_replies must be >= 1")
	}
	if c.Thread.MaxDecisions < 1 {
		problems = append(problems, "thread.max_decisions must be >= 1")
	}
	if c.Schedule.Hours == "" {
		problems = append(problems, "schedule.hours must be set")
	}
	if c.Schedule.Minute != nil && (*c.Schedule.Minute < 0 || *c.Schedule.Minute > 59) {
		problems = append(problems, "schedule.minute must be in [0,59]")
	}
	if c.Database.Path == "" {
		problems = append(problems, "database.path must be set")
	}
	if _, err := c.PlatformTimeout(); err != nil {
		problems = append(problems, fmt.Sprintf("platform.timeout: %v", err))
	}
	if _, err := c.LLMTimeout(); err != nil {
		problems = append(problems, fmt.Sprintf("llm.timeout: %v", err))
	}
	if _, err := c.ActionPause(); err != nil {
		problems = append(problems, fmt.Sprintf("limits.action_pause: %v", err))
	}
	if _, err := c.MisfireGrace(); err != nil {
		problems = append(problems, fmt.Sprintf("schedule.misfire_grace: %v", err))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// PlatformTimeout parses the platform HTTP timeout.
func (c *Config) PlatformTimeout() (time.Duration, error) {
	return parseDuration(c.Platform.Timeout, 30*time.Second)
}

// LLMTimeout parses the oracle HTTP timeout.
func (c *Config) LLMTimeout() (time.Duration, error) {
	return parseDuration(c.LLM.Timeout, 120*time.Second)
}

// ActionPause parses the inter-action pause.
func (c *Config) ActionPause() (time.Duration, error) {
	return parseDuration(c.Limits.ActionPause, time.Second)
}

// MisfireGrace parses the scheduler's missed-firing grace window.
func (c *Config) MisfireGrace() (time.Duration, error) {
	return parseDuration(c.Schedule.MisfireGrace, 5*time.Minute)
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}
