package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"feedpilot/internal/actions"
	"feedpilot/internal/agent"
	"feedpilot/internal/config"
	"feedpilot/internal/decider"
	"feedpilot/internal/embedding"
	"feedpilot/internal/feed"
	"feedpilot/internal/logging"
	"feedpilot/internal/oracle"
	"feedpilot/internal/ranker"
	"feedpilot/internal/scheduler"
	"feedpilot/internal/store"
	"feedpilot/internal/thread"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose    bool
	configPath string
	workspace  string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "feedpilot",
	Short: "feedpilot - autonomous feed engagement agent",
	Long: `feedpilot watches a social feed for posts matching configured interest
queries, scores them for relevance, asks an LLM oracle how to engage
(note, like, reply, or explore the thread), and dispatches the chosen
actions under daily and hourly rate ceilings.

Run 'feedpilot run' for a single cycle or 'feedpilot schedule' to keep
cycles firing on a cron cadence.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if err := logging.Initialize(workspaceDir()); err != nil {
			return fmt.Errorf("failed to initialize category logs: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Close()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// runCmd fires a single engagement cycle
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single engagement cycle and exit",
	Long: `Executes one full cycle immediately:
  1. Search: pull recent posts for each configured query
  2. Dedup: drop posts already judged in earlier cycles
  3. Rank: score survivors for relevance, filter below the floor
  4. Decide: ask the oracle for note/like/reply/explore verdicts
  5. Act: dispatch under rate ceilings, expanding explore threads`,
	RunE: runOnce,
}

// scheduleCmd keeps cycles firing on the configured cadence
var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run cycles continuously on the configured cadence",
	Long: `Starts the scheduler and blocks until SIGINT or SIGTERM. Cycles fire
at the configured hours on a per-install jittered minute; a cycle that
is still running when the next firing arrives wins, and the firing is
dropped. A firing delayed past the misfire grace window is skipped.`,
	RunE: runSchedule,
}

// statusCmd reports quota usage and recent activity
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show today's stats, quota usage, and recent actions",
	RunE:  showStatus,
}

// validateCmd checks config and credentials without acting
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and platform credentials",
	RunE:  validateSetup,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "feedpilot.yaml", "Path to config file")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(validateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func workspaceDir() string {
	if workspace != "" {
		return workspace
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return cwd
}

// ===== WIRING =====

// pipeline bundles the constructed components for one process.
type pipeline struct {
	cfg        *config.Config
	client     feed.Client
	store      *store.Store
	supervisor *agent.Supervisor
	executor   *actions.Executor
}

func (p *pipeline) close() {
	if p.store != nil {
		p.store.Close()
	}
}

func buildPipeline() (*pipeline, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logging.Configure(logging.Settings{
		DebugMode:  cfg.Logging.DebugMode,
		Level:      cfg.Logging.Level,
		Categories: cfg.Logging.Categories,
	})

	// Durations were already vetted by Validate.
	platformTimeout, _ := cfg.PlatformTimeout()
	llmTimeout, _ := cfg.LLMTimeout()
	actionPause, _ := cfg.ActionPause()

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	client := feed.NewXClientWithConfig(feed.XConfig{
		BaseURL:     cfg.Platform.BaseURL,
		BearerToken: cfg.Platform.BearerToken,
		UserID:      cfg.Platform.UserID,
		Timeout:     platformTimeout,
	})

	var engine embedding.Engine
	engine, err = embedding.NewEngine(embedding.Config{
		Provider:       cfg.Embedding.Provider,
		OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
		OllamaModel:    cfg.Embedding.OllamaModel,
		GenAIAPIKey:    cfg.Embedding.GenAIAPIKey,
		GenAIModel:     cfg.Embedding.GenAIModel,
	})
	if err != nil {
		// Degraded but operational: the ranker falls back to term overlap.
		logger.Warn("embedding engine unavailable, using term-overlap ranking", zap.Error(err))
		engine = nil
	}
	rk := ranker.New(engine)

	oracleClient, err := oracle.NewClient(oracle.ClientConfig{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey,
		Model:    cfg.LLM.Model,
		BaseURL:  cfg.LLM.BaseURL,
		Timeout:  llmTimeout,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("building oracle client: %w", err)
	}
	adapter := oracle.NewAdapter(oracleClient)

	deciderEngine := decider.New(adapter, cfg.Engine.ConfidenceThreshold, cfg.Engine.MaxActionsPerCycle)

	executor := actions.NewExecutor(client, st, actions.Limits{
		MaxLikesPerDay:    cfg.Limits.MaxLikesPerDay,
		MaxRepliesPerDay:  cfg.Limits.MaxRepliesPerDay,
		MaxLikesPerHour:   cfg.Limits.MaxLikesPerHour,
		MaxRepliesPerHour: cfg.Limits.MaxRepliesPerHour,
	}, actionPause)

	seed := cfg.Thread.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	expander := thread.NewExpander(client, rk, adapter, st, thread.Config{
		MaxReplies:          cfg.Thread.MaxReplies,
		MaxDecisions:        cfg.Thread.MaxDecisions,
		MinScore:            cfg.Thread.MinScore,
		ConfidenceThreshold: cfg.Engine.ConfidenceThreshold,
	}, seed)

	supervisor := agent.NewSupervisor(client, rk, deciderEngine, executor, expander, st, agent.Config{
		MaxResultsPerQuery: cfg.Search.MaxResultsPerQuery,
		MinScore:           cfg.Search.MinScore,
		MaxThreadDepth:     cfg.Thread.MaxDepth,
	})

	return &pipeline{cfg: cfg, client: client, store: st, supervisor: supervisor, executor: executor}, nil
}

// ===== COMMANDS =====

func runOnce(cmd *cobra.Command, args []string) error {
	p, err := buildPipeline()
	if err != nil {
		return err
	}
	defer p.close()

	ctx, cancel := signalContext()
	defer cancel()

	logger.Info("Running single cycle", zap.Strings("queries", p.cfg.Search.Queries))
	result := p.supervisor.RunCycle(ctx, p.cfg.Search.Queries)
	printCycleResult(result)
	return result.Err
}

func runSchedule(cmd *cobra.Command, args []string) error {
	p, err := buildPipeline()
	if err != nil {
		return err
	}
	defer p.close()

	if days := p.cfg.Database.RetentionDays; days > 0 {
		if pruned, err := p.store.CleanupOldData(days); err != nil {
			logger.Warn("Store cleanup failed", zap.Error(err))
		} else if pruned > 0 {
			logger.Info("Pruned old store rows", zap.Int64("rows", pruned))
		}
	}

	grace, _ := p.cfg.MisfireGrace()
	sched, err := scheduler.New(p.supervisor, scheduler.Config{
		Hours:        p.cfg.Schedule.Hours,
		Minute:       p.cfg.Schedule.Minute,
		MisfireGrace: grace,
		Queries:      p.cfg.Search.Queries,
	})
	if err != nil {
		return fmt.Errorf("building scheduler: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	sched.Start(ctx)
	st := sched.Status()
	logger.Info("Scheduler started",
		zap.String("job_id", st.JobID),
		zap.String("spec", st.Spec),
		zap.Time("next_run", st.NextRun))
	fmt.Printf("Scheduler running (next cycle at %s). Ctrl-C to stop.\n",
		st.NextRun.Format("15:04:05"))

	<-ctx.Done()
	logger.Info("Shutting down, waiting for in-flight cycle")
	sched.Stop()
	return nil
}

func showStatus(cmd *cobra.Command, args []string) error {
	p, err := buildPipeline()
	if err != nil {
		return err
	}
	defer p.close()

	stats, err := p.store.GetDailyStats("")
	if err != nil {
		return fmt.Errorf("reading daily stats: %w", err)
	}
	likes, maxLikes, replies, maxReplies, err := p.executor.DailyUsage()
	if err != nil {
		return fmt.Errorf("reading quota usage: %w", err)
	}

	fmt.Printf("Today (%s)\n", stats.Date)
	fmt.Printf("  Processed:  %d\n", stats.Processed)
	fmt.Printf("  Likes:      %d (%d/%d quota)\n", stats.Likes, likes, maxLikes)
	fmt.Printf("  Replies:    %d (%d/%d quota)\n", stats.Replies, replies, maxReplies)
	fmt.Printf("  Threads:    %d\n", stats.Threads)
	fmt.Printf("  Errors:     %d\n", stats.Errors)

	recent, err := p.store.RecentActions(10)
	if err != nil {
		return fmt.Errorf("reading action log: %w", err)
	}
	if len(recent) > 0 {
		fmt.Println("\nRecent actions:")
		for _, e := range recent {
			outcome := "ok"
			if !e.Success {
				outcome = "failed: " + e.Error
			}
			fmt.Printf("  %s  %-7s %s  (%s)\n",
				e.CreatedAt.Format("15:04:05"), e.ActionType, e.ItemID, outcome)
		}
	}
	return nil
}

func validateSetup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	fmt.Println("Config: ok")

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	st.Close()
	fmt.Println("Database: ok")

	llmTimeout, _ := cfg.LLMTimeout()
	if _, err := oracle.NewClient(oracle.ClientConfig{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey,
		Model:    cfg.LLM.Model,
		BaseURL:  cfg.LLM.BaseURL,
		Timeout:  llmTimeout,
	}); err != nil {
		return fmt.Errorf("oracle: %w", err)
	}
	fmt.Println("Oracle: ok")

	ctx, cancel := signalContext()
	defer cancel()

	engine, err := embedding.NewEngine(embedding.Config{
		Provider:       cfg.Embedding.Provider,
		OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
		OllamaModel:    cfg.Embedding.OllamaModel,
		GenAIAPIKey:    cfg.Embedding.GenAIAPIKey,
		GenAIModel:     cfg.Embedding.GenAIModel,
	})
	switch {
	case err != nil:
		fmt.Printf("Embedding: unavailable (%v), ranking will fall back to term overlap\n", err)
	default:
		if hc, ok := engine.(embedding.HealthChecker); ok {
			if err := hc.HealthCheck(ctx); err != nil {
				fmt.Printf("Embedding: %s unreachable (%v), ranking will fall back to term overlap\n", engine.Name(), err)
				break
			}
		}
		fmt.Printf("Embedding: ok (%s)\n", engine.Name())
	}

	platformTimeout, _ := cfg.PlatformTimeout()
	client := feed.NewXClientWithConfig(feed.XConfig{
		BaseURL:     cfg.Platform.BaseURL,
		BearerToken: cfg.Platform.BearerToken,
		UserID:      cfg.Platform.UserID,
		Timeout:     platformTimeout,
	})
	if err := client.ValidateCredentials(ctx); err != nil {
		return fmt.Errorf("platform credentials: %w", err)
	}
	fmt.Println("Platform credentials: ok")
	return nil
}

// ===== HELPERS =====

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func printCycleResult(r *agent.CycleResult) {
	fmt.Printf("Cycle %s finished in %s\n", r.ID, r.Duration.Round(time.Millisecond))
	fmt.Printf("  Fetched: %d  Fresh: %d  Ranked: %d  Decided: %d\n",
		r.Fetched, r.Fresh, r.Ranked, r.Decided)
	printBatch("Actions", r.Actions)
	printBatch("Thread actions", r.ThreadActions)
	if r.Err != nil {
		fmt.Printf("  Error: %v\n", r.Err)
	}
}

func printBatch(label string, b *actions.BatchResult) {
	if b == nil {
		return
	}
	fmt.Printf("  %s: %d dispatched, %d failed, %d skipped\n",
		label, len(b.Successful), len(b.Failed), len(b.Skipped))
}
