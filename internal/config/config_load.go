package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error: defaults plus env are enough to run.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	envFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}

	envStr("HIVEMIND_POSTGRES_DSN", &c.Database.PostgresDSN)

	envStr("HIVEMIND_BRAIN_COMMAND", &c.Brain.Command)
	envInt("HIVEMIND_BRAIN_TIMEOUT_SEC", &c.Brain.TimeoutSec)
	envFloat("HIVEMIND_BRAIN_INPUT_RATE", &c.Brain.InputRatePerM)
	envFloat("HIVEMIND_BRAIN_OUTPUT_RATE", &c.Brain.OutputRatePerM)

	envInt("HIVEMIND_MAX_CONCURRENT_AGENTS", &c.Limits.MaxConcurrentAgents)
	envFloat("HIVEMIND_BUDGET_DAILY_CENTS", &c.Budget.DailyCents)
	envFloat("HIVEMIND_BUDGET_MONTHLY_CENTS", &c.Budget.MonthlyCents)

	envStr("HIVEMIND_OTLP_ENDPOINT", &c.Tracing.Endpoint)
	envStr("HIVEMIND_OTLP_PROTOCOL", &c.Tracing.Protocol)
	envStr("HIVEMIND_QUALITY_GATE", &c.Orchestrator.QualityGateCommand)
}
