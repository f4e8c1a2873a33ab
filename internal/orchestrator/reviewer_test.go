package orchestrator

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/hivemind/internal/store"
)

// TestDecodeDecision verifies verdict parsing, including brains that wrap the
// object in prose, and that garbage classifies as a parse error.
func TestDecodeDecision(t *testing.T) {
	tests := []struct {
		name       string
		stdout     string
		wantAction string
		wantErr    bool
	}{
		{
			name:       "complete",
			stdout:     `{"action":"complete","reasoning":"all subtasks pass"}`,
			wantAction: ActionComplete,
		},
		{
			name:       "rework with targets",
			stdout:     `{"action":"rework","reasoning":"tests missing","targets":["abc"]}`,
			wantAction: ActionRework,
		},
		{
			name:       "prose wrapped",
			stdout:     "After reviewing the work:\n{\"action\":\"redirect\",\"targets\":[\"x\"],\"newTasks\":[]}",
			wantAction: ActionRedirect,
		},
		{
			name:    "plain prose",
			stdout:  "looks good to me",
			wantErr: true,
		},
		{
			name:    "truncated json",
			stdout:  `{"action":"comp`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := decodeDecision(tt.stdout)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if got := kindOf(t, err); got != KindParseError {
					t.Errorf("kind = %v, want %v", got, KindParseError)
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeDecision: %v", err)
			}
			if d.Action != tt.wantAction {
				t.Errorf("Action = %q, want %q", d.Action, tt.wantAction)
			}
		})
	}
}

// TestDecodeDecision_NewTasks verifies add_tasks payloads carry subtask specs
// through intact.
func TestDecodeDecision_NewTasks(t *testing.T) {
	d, err := decodeDecision(`{
		"action": "add_tasks",
		"reasoning": "edge cases uncovered",
		"newTasks": [{"title": "handle empty input", "type": "bug"}]
	}`)
	if err != nil {
		t.Fatalf("decodeDecision: %v", err)
	}
	if len(d.NewTasks) != 1 {
		t.Fatalf("NewTasks = %d, want 1", len(d.NewTasks))
	}
	if d.NewTasks[0].Title != "handle empty input" || d.NewTasks[0].Type != "bug" {
		t.Errorf("unexpected spec: %+v", d.NewTasks[0])
	}
}

// TestApplyRework_ParentWaitState verifies the parent's post-rework status: a
// team epic waits in in_progress so the distribute driver does not plan it
// again, while a delegated parent returns to pending.
func TestApplyRework_ParentWaitState(t *testing.T) {
	agentID := uuid.New()
	teamID := uuid.New()

	tests := []struct {
		name       string
		parent     store.TaskData
		wantStatus string
	}{
		{
			name: "team epic stays in progress",
			parent: store.TaskData{
				ID:             uuid.New(),
				Type:           store.TaskTypeTeamEpic,
				Status:         store.TaskStatusInReview,
				AssignedTeamID: &teamID,
			},
			wantStatus: store.TaskStatusInProgress,
		},
		{
			name: "delegated parent back to pending",
			parent: store.TaskData{
				ID:              uuid.New(),
				Type:            store.TaskTypeStandard,
				Status:          store.TaskStatusInReview,
				AssignedAgentID: &agentID,
			},
			wantStatus: store.TaskStatusPending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks := newFakeTasks()
			r := NewReviewer(&store.Stores{Tasks: tasks}, nil, nil, nil, nil, BrainSettings{}, 3)
			child := store.TaskData{ID: uuid.New(), Status: store.TaskStatusCompleted}
			decision := &Decision{
				Action:    ActionRework,
				Reasoning: "tests missing",
				Targets:   []string{child.ID.String()},
			}

			err := r.apply(context.Background(), &tt.parent, nil, []store.TaskData{child}, decision)
			if err != nil {
				t.Fatalf("apply: %v", err)
			}
			childUpdate := tasks.lastUpdate(child.ID)
			if childUpdate == nil || childUpdate["status"] != store.TaskStatusReady {
				t.Errorf("child update = %v, want ready", childUpdate)
			}
			parentUpdate := tasks.lastUpdate(tt.parent.ID)
			if parentUpdate == nil || parentUpdate["status"] != tt.wantStatus {
				t.Errorf("parent update = %v, want status %q", parentUpdate, tt.wantStatus)
			}
		})
	}
}
