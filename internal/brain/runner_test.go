package brain

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

// TestInvoke_CapturesOutput verifies stdout, stderr, and exit code flow back
// through the result rather than through the error.
func TestInvoke_CapturesOutput(t *testing.T) {
	r := NewRunner(NewPidRegistry(), 0)

	res, err := r.Invoke(context.Background(), uuid.New(), InvokeRequest{
		Command: "sh",
		Args:    []string{"-c", "echo out; echo err 1>&2"},
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "out" {
		t.Errorf("Stdout = %q, want out", res.Stdout)
	}
	if strings.TrimSpace(res.Stderr) != "err" {
		t.Errorf("Stderr = %q, want err", res.Stderr)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
}

// TestInvoke_StdinFeedsInput verifies the prompt arrives on the child's
// stdin.
func TestInvoke_StdinFeedsInput(t *testing.T) {
	r := NewRunner(NewPidRegistry(), 0)

	res, err := r.Invoke(context.Background(), uuid.New(), InvokeRequest{
		Command: "cat",
		Input:   "the prompt",
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Stdout != "the prompt" {
		t.Errorf("Stdout = %q, want the prompt", res.Stdout)
	}
}

// TestInvoke_NonZeroExitIsNotAnError verifies callers get the exit code back
// instead of an error for failed commands.
func TestInvoke_NonZeroExitIsNotAnError(t *testing.T) {
	r := NewRunner(NewPidRegistry(), 0)

	res, err := r.Invoke(context.Background(), uuid.New(), InvokeRequest{
		Command: "sh",
		Args:    []string{"-c", "exit 3"},
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
}

// TestInvoke_SpawnFailure verifies a missing executable maps to ErrSpawn.
func TestInvoke_SpawnFailure(t *testing.T) {
	r := NewRunner(NewPidRegistry(), 0)

	_, err := r.Invoke(context.Background(), uuid.New(), InvokeRequest{
		Command: "/definitely/not/a/binary",
		Timeout: 5 * time.Second,
	})
	if !errors.Is(err, ErrSpawn) {
		t.Errorf("err = %v, want ErrSpawn", err)
	}
}

// TestInvoke_Timeout verifies a deadline overrun maps to ErrTimeout.
func TestInvoke_Timeout(t *testing.T) {
	r := NewRunner(NewPidRegistry(), 0)

	_, err := r.Invoke(context.Background(), uuid.New(), InvokeRequest{
		Command: "sleep",
		Args:    []string{"10"},
		Timeout: 100 * time.Millisecond,
	})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

// TestPidRegistry verifies add/remove bookkeeping behind Live.
func TestPidRegistry(t *testing.T) {
	reg := NewPidRegistry()
	if reg.Live() != 0 {
		t.Fatalf("fresh registry Live = %d", reg.Live())
	}
	reg.Add(123, nil)
	reg.Add(456, nil)
	if reg.Live() != 2 {
		t.Errorf("Live = %d, want 2", reg.Live())
	}
	reg.Remove(123)
	reg.Remove(999) // unknown pid is a no-op
	if reg.Live() != 1 {
		t.Errorf("Live = %d, want 1", reg.Live())
	}
}
