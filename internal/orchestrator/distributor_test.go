package orchestrator

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/hivemind/internal/store"
)

func kindOf(t *testing.T, err error) Kind {
	t.Helper()
	var ce *CycleError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *CycleError, got %T: %v", err, err)
	}
	return ce.Kind
}

// TestDecodePlan verifies JSON extraction tolerates prose before the object
// and classifies garbage as a parse error.
func TestDecodePlan(t *testing.T) {
	t.Run("clean object", func(t *testing.T) {
		pl, err := decodePlan(`{"subtasks":[{"title":"a"}],"reasoning":"r"}`)
		if err != nil {
			t.Fatalf("decodePlan: %v", err)
		}
		if len(pl.Subtasks) != 1 || pl.Subtasks[0].Title != "a" {
			t.Errorf("unexpected plan: %+v", pl)
		}
	})

	t.Run("prose prefix", func(t *testing.T) {
		pl, err := decodePlan("Here is the plan:\n{\"subtasks\":[{\"title\":\"a\"}]}")
		if err != nil {
			t.Fatalf("decodePlan: %v", err)
		}
		if len(pl.Subtasks) != 1 {
			t.Errorf("unexpected plan: %+v", pl)
		}
	})

	t.Run("no json", func(t *testing.T) {
		_, err := decodePlan("I could not produce a plan")
		if got := kindOf(t, err); got != KindParseError {
			t.Errorf("kind = %v, want %v", got, KindParseError)
		}
	})
}

// TestValidatePlan exercises the rejection rules: size bounds, duplicate and
// empty titles, off-team roles, unknown dependencies, and cycles.
func TestValidatePlan(t *testing.T) {
	backend := uuid.New()
	frontend := uuid.New()
	members := []store.AgentData{
		{Name: "ada", RoleID: backend},
		{Name: "lin", RoleID: frontend},
	}
	spec := func(title string, deps ...string) SubtaskSpec {
		return SubtaskSpec{Title: title, RoleID: backend.String(), Dependencies: deps}
	}

	tests := []struct {
		name     string
		subtasks []SubtaskSpec
		wantKind Kind
		wantOK   bool
	}{
		{
			name:     "valid linear chain",
			subtasks: []SubtaskSpec{spec("a"), spec("b", "a"), spec("c", "b")},
			wantOK:   true,
		},
		{
			name:     "too few",
			subtasks: []SubtaskSpec{spec("a"), spec("b")},
			wantKind: KindParseError,
		},
		{
			name: "too many",
			subtasks: []SubtaskSpec{
				spec("a"), spec("b"), spec("c"), spec("d"),
				spec("e"), spec("f"), spec("g"), spec("h"),
			},
			wantKind: KindParseError,
		},
		{
			name:     "empty title",
			subtasks: []SubtaskSpec{spec("a"), spec(""), spec("c")},
			wantKind: KindParseError,
		},
		{
			name:     "duplicate title",
			subtasks: []SubtaskSpec{spec("a"), spec("a"), spec("c")},
			wantKind: KindParseError,
		},
		{
			name: "role not on team",
			subtasks: []SubtaskSpec{
				spec("a"), spec("b"),
				{Title: "c", RoleID: uuid.New().String()},
			},
			wantKind: KindParseError,
		},
		{
			name:     "unknown dependency",
			subtasks: []SubtaskSpec{spec("a"), spec("b", "ghost"), spec("c")},
			wantKind: KindParseError,
		},
		{
			name:     "two-node cycle",
			subtasks: []SubtaskSpec{spec("a", "b"), spec("b", "a"), spec("c")},
			wantKind: KindDependencyCycle,
		},
		{
			name:     "self cycle",
			subtasks: []SubtaskSpec{spec("a", "a"), spec("b"), spec("c")},
			wantKind: KindDependencyCycle,
		},
		{
			name:     "diamond is acyclic",
			subtasks: []SubtaskSpec{spec("a"), spec("b", "a"), spec("c", "a"), spec("d", "b", "c")},
			wantOK:   true,
		},
		{
			name: "empty role matches any member",
			subtasks: []SubtaskSpec{
				{Title: "a"}, {Title: "b"}, {Title: "c"},
			},
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePlan(&plan{Subtasks: tt.subtasks}, members)
			if tt.wantOK {
				if err != nil {
					t.Fatalf("validatePlan: unexpected error %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("validatePlan: expected error, got nil")
			}
			if got := kindOf(t, err); got != tt.wantKind {
				t.Errorf("kind = %v, want %v", got, tt.wantKind)
			}
		})
	}
}
