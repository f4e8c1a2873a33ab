package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestLoad_MissingFileUsesDefaults verifies a missing config file falls back
// to defaults instead of failing startup.
func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json5"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Brain.Command != "claude" {
		t.Errorf("Brain.Command = %q, want default", cfg.Brain.Command)
	}
	if cfg.Orchestrator.MaxRetry != 3 {
		t.Errorf("MaxRetry = %d, want 3", cfg.Orchestrator.MaxRetry)
	}
	if cfg.Budget.StopPercent != 100 {
		t.Errorf("StopPercent = %d, want 100", cfg.Budget.StopPercent)
	}
}

// TestLoad_JSON5File verifies comments and trailing commas parse and file
// values overlay defaults without clobbering unset sections.
func TestLoad_JSON5File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	content := `{
  // cadence tuning for a small org
  scheduler: {
    execute_period_sec: 30,
  },
  budget: {
    daily_cents: 5000,
  },
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.ExecutePeriodSec != 30 {
		t.Errorf("ExecutePeriodSec = %d, want 30", cfg.Scheduler.ExecutePeriodSec)
	}
	if cfg.Budget.DailyCents != 5000 {
		t.Errorf("DailyCents = %v, want 5000", cfg.Budget.DailyCents)
	}
	// Untouched sections keep defaults.
	if cfg.Scheduler.ReviewPeriodSec != 180 {
		t.Errorf("ReviewPeriodSec = %d, want default 180", cfg.Scheduler.ReviewPeriodSec)
	}
}

// TestLoad_MalformedFile verifies a broken file is an error, not a silent
// fallback to defaults.
func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json5")
	if err := os.WriteFile(path, []byte("{scheduler:"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load accepted malformed config")
	}
}

// TestLoad_EnvOverridesFile verifies env vars beat file values and that the
// DSN only ever comes from the environment.
func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	content := `{brain: {command: "from-file", timeout_sec: 60}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HIVEMIND_BRAIN_COMMAND", "from-env")
	t.Setenv("HIVEMIND_POSTGRES_DSN", "postgres://test")
	t.Setenv("HIVEMIND_BUDGET_DAILY_CENTS", "123.5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Brain.Command != "from-env" {
		t.Errorf("Brain.Command = %q, want env override", cfg.Brain.Command)
	}
	if cfg.Brain.TimeoutSec != 60 {
		t.Errorf("TimeoutSec = %d, want file value 60", cfg.Brain.TimeoutSec)
	}
	if cfg.Database.PostgresDSN != "postgres://test" {
		t.Errorf("PostgresDSN = %q, want env value", cfg.Database.PostgresDSN)
	}
	if cfg.Budget.DailyCents != 123.5 {
		t.Errorf("DailyCents = %v, want 123.5", cfg.Budget.DailyCents)
	}
}

// TestLoad_BadEnvIntIgnored verifies an unparseable numeric env var leaves
// the existing value alone.
func TestLoad_BadEnvIntIgnored(t *testing.T) {
	t.Setenv("HIVEMIND_MAX_CONCURRENT_AGENTS", "not-a-number")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json5"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Limits.MaxConcurrentAgents != 10 {
		t.Errorf("MaxConcurrentAgents = %d, want default 10", cfg.Limits.MaxConcurrentAgents)
	}
}
