package config

// Config is the root configuration for the hivemind daemon.
type Config struct {
	Database     DatabaseConfig     `json:"database"`
	Brain        BrainConfig        `json:"brain"`
	Scheduler    SchedulerConfig    `json:"scheduler"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Pool         PoolConfig         `json:"pool"`
	Workspace    WorkspaceConfig    `json:"workspace"`
	Limits       LimitsConfig       `json:"limits"`
	Budget       BudgetConfig       `json:"budget"`
	Escalation   EscalationConfig   `json:"escalation"`
	Knowledge    KnowledgeConfig    `json:"knowledge"`
	Tracing      TracingConfig      `json:"tracing"`
}

// DatabaseConfig holds backend connection settings. The DSN comes from the
// environment only, never from the config file.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
}

// BrainConfig describes the external LLM command.
type BrainConfig struct {
	Command            string   `json:"command"`
	Args               []string `json:"args"`
	TimeoutSec         int      `json:"timeout_sec"`
	ContextLimitTokens int      `json:"context_limit_tokens"`
	InputRatePerM      float64  `json:"input_rate_per_million"`  // cents per 1M input tokens
	OutputRatePerM     float64  `json:"output_rate_per_million"` // cents per 1M output tokens
	InvokesPerMinute   int      `json:"invokes_per_minute"`      // per-org rate limit, 0 = unlimited
}

// SchedulerConfig sets driver cadences.
type SchedulerConfig struct {
	DecomposePeriodSec      int `json:"decompose_period_sec"`
	ExecutePeriodSec        int `json:"execute_period_sec"`
	ReviewPeriodSec         int `json:"review_period_sec"`
	DistributePeriodSec     int `json:"distribute_period_sec"`
	StuckSweepPeriodMin     int `json:"stuck_sweep_period_min"`
	ProgressReportPeriodMin int `json:"progress_report_period_min"`
	StuckThresholdHours     int `json:"stuck_threshold_hours"`
}

// OrchestratorConfig bounds the per-agent cycle.
type OrchestratorConfig struct {
	MaxRetry           int    `json:"max_retry"`
	MaxReviewCount     int    `json:"max_review_count"`
	MaxTempDepth       int    `json:"max_temp_depth"`
	ComplexityTokens   int    `json:"complexity_tokens"`    // prompt token estimate above which delegation kicks in
	ClaimAttempts      int    `json:"claim_attempts"`       // bounded retry on claim races
	QualityGateCommand string `json:"quality_gate_command"` // external lint/type/test hook, run in the worktree
}

// PoolConfig tunes the task pool.
type PoolConfig struct {
	FileAffinityWindowHours int `json:"file_affinity_window_hours"`
}

// WorkspaceConfig tunes worktree lifecycle.
type WorkspaceConfig struct {
	OrphanSweepHours int `json:"orphan_sweep_hours"`
	GitTimeoutSec    int `json:"git_timeout_sec"`
}

// LimitsConfig caps concurrency.
type LimitsConfig struct {
	MaxConcurrentAgents int `json:"max_concurrent_agents"`
}

// BudgetConfig caps spend. Zero values mean "no cap".
type BudgetConfig struct {
	DailyCents   float64 `json:"daily_cents"`
	MonthlyCents float64 `json:"monthly_cents"`
	AlertPercent int     `json:"alert_percent"`
	StopPercent  int     `json:"stop_percent"`
}

// EscalationConfig tunes the recovery ladder.
type EscalationConfig struct {
	LevelTimeoutHours int `json:"level_timeout_hours"`
}

// KnowledgeConfig tunes document injection.
type KnowledgeConfig struct {
	MaxDocuments int `json:"max_documents"`
}

// TracingConfig configures the OTLP exporter. Protocol is "grpc" or "http";
// empty endpoint disables tracing.
type TracingConfig struct {
	Endpoint string `json:"endpoint"`
	Protocol string `json:"protocol"`
	Insecure bool   `json:"insecure"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Brain: BrainConfig{
			Command:            "claude",
			Args:               []string{"-p"},
			TimeoutSec:         600,
			ContextLimitTokens: 200000,
			InputRatePerM:      300,
			OutputRatePerM:     1500,
			InvokesPerMinute:   30,
		},
		Scheduler: SchedulerConfig{
			DecomposePeriodSec:      60,
			ExecutePeriodSec:        120,
			ReviewPeriodSec:         180,
			DistributePeriodSec:     30,
			StuckSweepPeriodMin:     30,
			ProgressReportPeriodMin: 30,
			StuckThresholdHours:     2,
		},
		Orchestrator: OrchestratorConfig{
			MaxRetry:         3,
			MaxReviewCount:   3,
			MaxTempDepth:     1,
			ComplexityTokens: 12000,
			ClaimAttempts:    3,
		},
		Pool: PoolConfig{
			FileAffinityWindowHours: 24,
		},
		Workspace: WorkspaceConfig{
			OrphanSweepHours: 24,
			GitTimeoutSec:    120,
		},
		Limits: LimitsConfig{
			MaxConcurrentAgents: 10,
		},
		Budget: BudgetConfig{
			AlertPercent: 80,
			StopPercent:  100,
		},
		Escalation: EscalationConfig{
			LevelTimeoutHours: 24,
		},
		Knowledge: KnowledgeConfig{
			MaxDocuments: 8,
		},
		Tracing: TracingConfig{
			Protocol: "grpc",
		},
	}
}
