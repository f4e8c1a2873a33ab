package brain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// termGrace is how long a signalled child gets before the forced kill.
const termGrace = 5 * time.Second

// Invocation failure classes. Timeout is distinct from a non-zero exit.
var (
	ErrTimeout = errors.New("brain: invocation timed out")
	ErrSpawn   = errors.New("brain: executable could not be spawned")
)

// InvokeRequest describes one external LLM command invocation.
type InvokeRequest struct {
	Command string
	Args    []string
	Input   string // fed on stdin
	Dir     string
	Timeout time.Duration
}

// InvokeResult carries the collected output of a finished invocation.
type InvokeResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner launches the external LLM command, time-bounds it, and tracks live
// children so an emergency stop can broadcast a kill.
type Runner struct {
	registry *PidRegistry

	mu       sync.Mutex
	limiters map[uuid.UUID]*rate.Limiter
	perMin   int
}

// NewRunner creates a runner. invokesPerMinute caps invocations per org;
// zero disables the limiter.
func NewRunner(registry *PidRegistry, invokesPerMinute int) *Runner {
	return &Runner{
		registry: registry,
		limiters: make(map[uuid.UUID]*rate.Limiter),
		perMin:   invokesPerMinute,
	}
}

// Invoke runs the command to completion. A context deadline produces
// ErrTimeout; a missing executable produces ErrSpawn. A non-zero exit is
// not an error here — callers inspect ExitCode and stderr.
func (r *Runner) Invoke(ctx context.Context, orgID uuid.UUID, req InvokeRequest) (*InvokeResult, error) {
	if lim := r.limiter(orgID); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return nil, fmt.Errorf("brain: rate limiter: %w", err)
		}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, req.Command, req.Args...)
	cmd.Dir = req.Dir
	cmd.Stdin = strings.NewReader(req.Input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Graceful termination: SIGTERM on cancel, forced kill once the grace
	// window lapses.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = termGrace

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSpawn, req.Command, err)
	}

	pid := cmd.Process.Pid
	r.registry.Add(pid, cmd.Process)
	defer r.registry.Remove(pid)

	err := cmd.Wait()
	duration := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}

	result := &InvokeResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("brain: wait: %w", err)
		}
	}
	return result, nil
}

func (r *Runner) limiter(orgID uuid.UUID) *rate.Limiter {
	if r.perMin <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	lim, ok := r.limiters[orgID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(r.perMin)/60.0), r.perMin)
		r.limiters[orgID] = lim
	}
	return lim
}

// PidRegistry tracks live child processes. Emergency stop iterates it and
// signals every outstanding child.
type PidRegistry struct {
	mu    sync.Mutex
	procs map[int]*os.Process
}

func NewPidRegistry() *PidRegistry {
	return &PidRegistry{procs: make(map[int]*os.Process)}
}

// Add registers a live child.
func (r *PidRegistry) Add(pid int, proc *os.Process) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.procs[pid] = proc
}

// Remove drops a finished child.
func (r *PidRegistry) Remove(pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.procs, pid)
}

// Live returns the number of tracked children.
func (r *PidRegistry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

// KillAll signals every tracked child with SIGTERM, then force-kills any
// survivor after the grace window. Used by the scheduler's emergency stop.
func (r *PidRegistry) KillAll() {
	r.mu.Lock()
	signalled := make([]int, 0, len(r.procs))
	for pid, proc := range r.procs {
		if err := proc.Signal(syscall.SIGTERM); err != nil {
			slog.Debug("sigterm failed", "pid", pid, "error", err)
		}
		signalled = append(signalled, pid)
	}
	r.mu.Unlock()

	if len(signalled) == 0 {
		return
	}
	slog.Warn("signalled live brain processes", "count", len(signalled))

	time.AfterFunc(termGrace, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for _, pid := range signalled {
			proc, still := r.procs[pid]
			if !still {
				continue
			}
			if err := proc.Kill(); err != nil {
				slog.Debug("kill failed", "pid", pid, "error", err)
			}
		}
	})
}
