package orchestrator

import (
	"errors"
	"fmt"

	"github.com/nextlevelbuilder/hivemind/internal/brain"
	"github.com/nextlevelbuilder/hivemind/internal/workspace"
)

// Kind discriminates cycle failures. Routing policy hangs off the kind, not
// off error strings.
type Kind int

const (
	KindTransient Kind = iota
	KindProvider
	KindQualityGate
	KindParseError
	KindDependencyCycle
	KindDepthExceeded
	KindBudgetExceeded
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindProvider:
		return "provider"
	case KindQualityGate:
		return "quality_gate"
	case KindParseError:
		return "parse_error"
	case KindDependencyCycle:
		return "dependency_cycle"
	case KindDepthExceeded:
		return "depth_exceeded"
	case KindBudgetExceeded:
		return "budget_exceeded"
	case KindFatal:
		return "fatal"
	}
	return "unknown"
}

// CycleError wraps a failure with its kind so the cycle can route it.
type CycleError struct {
	Kind Kind
	Err  error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *CycleError) Unwrap() error { return e.Err }

// Errf builds a CycleError from a format string.
func Errf(kind Kind, format string, args ...any) *CycleError {
	return &CycleError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Classify maps an arbitrary error to its failure kind. Already-classified
// errors keep their kind; known sentinels map per the routing table; anything
// else is treated as transient and retried.
func Classify(err error) Kind {
	var ce *CycleError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	switch {
	case errors.Is(err, brain.ErrTimeout), errors.Is(err, brain.ErrSpawn):
		return KindTransient
	case errors.Is(err, workspace.ErrCreate):
		return KindTransient
	}
	return KindTransient
}
