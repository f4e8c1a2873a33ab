package orchestrator

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"
)

// QualityGate runs the configured lint/type/test hook inside a worktree.
// An empty command means no gate is configured and everything passes.
type QualityGate struct {
	command string
	timeout time.Duration
}

func NewQualityGate(command string, timeout time.Duration) *QualityGate {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &QualityGate{command: command, timeout: timeout}
}

// Run executes the hook in dir. A non-zero exit returns a KindQualityGate
// error carrying the hook's combined output tail.
func (g *QualityGate) Run(ctx context.Context, dir string) error {
	if g.command == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", g.command)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return Errf(KindQualityGate, "quality gate failed: %v: %s", err, tail(out.String(), 2000))
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
