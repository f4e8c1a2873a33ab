package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/hivemind/internal/brain"
	"github.com/nextlevelbuilder/hivemind/internal/bus"
	"github.com/nextlevelbuilder/hivemind/internal/config"
	"github.com/nextlevelbuilder/hivemind/internal/goals"
	"github.com/nextlevelbuilder/hivemind/internal/orchestrator"
	"github.com/nextlevelbuilder/hivemind/internal/pool"
	"github.com/nextlevelbuilder/hivemind/internal/prompt"
	"github.com/nextlevelbuilder/hivemind/internal/scheduler"
	"github.com/nextlevelbuilder/hivemind/internal/store"
	"github.com/nextlevelbuilder/hivemind/internal/store/pg"
	"github.com/nextlevelbuilder/hivemind/internal/tracing"
	"github.com/nextlevelbuilder/hivemind/internal/vcs"
	"github.com/nextlevelbuilder/hivemind/internal/workspace"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator daemon",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("config load failed", "path", cfgPath, "error", err)
		os.Exit(1)
	}
	if cfg.Database.PostgresDSN == "" {
		slog.Error("HIVEMIND_POSTGRES_DSN environment variable is not set")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing.Endpoint, cfg.Tracing.Protocol, cfg.Tracing.Insecure)
	if err != nil {
		slog.Error("tracing init failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	stores, db, err := pg.NewPGStores(store.StoreConfig{PostgresDSN: cfg.Database.PostgresDSN})
	if err != nil {
		slog.Error("store init failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	publisher := bus.NewMessageBus()
	defer publisher.Close()

	registry := brain.NewPidRegistry()
	runner := brain.NewRunner(registry, cfg.Brain.InvokesPerMinute)
	workspaces := workspace.NewManager(time.Duration(cfg.Workspace.GitTimeoutSec) * time.Second)
	injector := prompt.NewInjector(stores.Documents, cfg.Knowledge.MaxDocuments)
	taskPool := pool.New(stores.Tasks,
		time.Duration(cfg.Pool.FileAffinityWindowHours)*time.Hour,
		cfg.Orchestrator.ClaimAttempts)
	prs := vcs.NewGHProvider(time.Duration(cfg.Workspace.GitTimeoutSec) * time.Second)

	brainSettings := orchestrator.BrainSettings{
		Command:            cfg.Brain.Command,
		Args:               cfg.Brain.Args,
		Timeout:            time.Duration(cfg.Brain.TimeoutSec) * time.Second,
		ContextLimitTokens: cfg.Brain.ContextLimitTokens,
	}
	escalator := orchestrator.NewEscalator(stores, publisher, cfg.Orchestrator.MaxRetry)
	delegator := orchestrator.NewDelegator(stores, runner, brainSettings,
		cfg.Orchestrator.ComplexityTokens, cfg.Orchestrator.MaxTempDepth)
	distributor := orchestrator.NewDistributor(stores, runner, brainSettings)
	reviewer := orchestrator.NewReviewer(stores, runner, injector, escalator, delegator,
		brainSettings, cfg.Orchestrator.MaxReviewCount)
	gate := orchestrator.NewQualityGate(cfg.Orchestrator.QualityGateCommand,
		time.Duration(cfg.Brain.TimeoutSec)*time.Second)

	orch := orchestrator.New(orchestrator.Options{
		Stores:      stores,
		Pool:        taskPool,
		Runner:      runner,
		Workspaces:  workspaces,
		Injector:    injector,
		Distributor: distributor,
		Reviewer:    reviewer,
		Escalator:   escalator,
		Delegator:   delegator,
		Gate:        gate,
		PullRequest: prs,
		Publisher:   publisher,
		Brain:       brainSettings,
		Budget:      budgetSettings(cfg),
		InputRate:   cfg.Brain.InputRatePerM,
		OutputRate:  cfg.Brain.OutputRatePerM,
		MaxRetry:    cfg.Orchestrator.MaxRetry,
	})

	decomposer := goals.NewDecomposer(stores, runner, cfg.Brain.Command, cfg.Brain.Args,
		time.Duration(cfg.Brain.TimeoutSec)*time.Second)

	sched := scheduler.New(scheduler.Options{
		Stores:      stores,
		Orch:        orch,
		Distributor: distributor,
		Escalator:   escalator,
		Decomposer:  decomposer,
		Workspaces:  workspaces,
		Registry:    registry,
		PullRequest: prs,
		Publisher:   publisher,
		Consumer:    publisher,
		Periods: scheduler.Periods{
			Decompose:      time.Duration(cfg.Scheduler.DecomposePeriodSec) * time.Second,
			Execute:        time.Duration(cfg.Scheduler.ExecutePeriodSec) * time.Second,
			Review:         time.Duration(cfg.Scheduler.ReviewPeriodSec) * time.Second,
			Distribute:     time.Duration(cfg.Scheduler.DistributePeriodSec) * time.Second,
			StuckSweep:     time.Duration(cfg.Scheduler.StuckSweepPeriodMin) * time.Minute,
			ProgressReport: time.Duration(cfg.Scheduler.ProgressReportPeriodMin) * time.Minute,
			StuckThreshold: time.Duration(cfg.Scheduler.StuckThresholdHours) * time.Hour,
			OrphanSweep:    time.Duration(cfg.Workspace.OrphanSweepHours) * time.Hour,
			LevelTimeout:   time.Duration(cfg.Escalation.LevelTimeoutHours) * time.Hour,
		},
		MaxAgents: cfg.Limits.MaxConcurrentAgents,
	})

	// Budget fields hot-reload; cadence changes need a restart.
	if err := config.Watch(ctx, cfgPath, func(fresh *config.Config) {
		orch.SetBudget(budgetSettings(fresh))
	}); err != nil {
		slog.Warn("config watcher disabled", "error", err)
	}

	slog.Info("hivemind serving", "version", Version, "config", cfgPath)
	if err := sched.Run(ctx); err != nil {
		slog.Error("scheduler stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

func budgetSettings(cfg *config.Config) orchestrator.BudgetSettings {
	return orchestrator.BudgetSettings{
		DailyCents:   cfg.Budget.DailyCents,
		MonthlyCents: cfg.Budget.MonthlyCents,
		AlertPercent: cfg.Budget.AlertPercent,
		StopPercent:  cfg.Budget.StopPercent,
	}
}
