package goals

import (
	"testing"

	"github.com/nextlevelbuilder/hivemind/internal/store"
)

// TestDecodeGoalPlan verifies plan decoding tolerates prose before the JSON
// object and rejects non-JSON output.
func TestDecodeGoalPlan(t *testing.T) {
	t.Run("full plan", func(t *testing.T) {
		plan, err := decodeGoalPlan(`{
			"projects": [{"name": "api", "workingDirectory": "/srv/api"}],
			"epics": [{"title": "auth", "teamId": "t1", "priority": 2}],
			"tasks": [{"title": "write readme"}],
			"reasoning": "split by surface"
		}`)
		if err != nil {
			t.Fatalf("decodeGoalPlan: %v", err)
		}
		if len(plan.Projects) != 1 || plan.Projects[0].WorkingDirectory != "/srv/api" {
			t.Errorf("projects = %+v", plan.Projects)
		}
		if len(plan.Epics) != 1 || plan.Epics[0].TeamID != "t1" {
			t.Errorf("epics = %+v", plan.Epics)
		}
		if len(plan.Tasks) != 1 {
			t.Errorf("tasks = %+v", plan.Tasks)
		}
	})

	t.Run("prose prefix", func(t *testing.T) {
		plan, err := decodeGoalPlan("Sure, here is the breakdown:\n{\"epics\":[{\"title\":\"x\"}]}")
		if err != nil {
			t.Fatalf("decodeGoalPlan: %v", err)
		}
		if len(plan.Epics) != 1 {
			t.Errorf("epics = %+v", plan.Epics)
		}
	})

	t.Run("garbage", func(t *testing.T) {
		if _, err := decodeGoalPlan("no plan today"); err == nil {
			t.Error("expected decode error")
		}
	})
}

// TestClampPriority verifies out-of-range priorities land on P3.
func TestClampPriority(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{in: store.TaskPriorityP1, want: store.TaskPriorityP1},
		{in: store.TaskPriorityP4, want: store.TaskPriorityP4},
		{in: 0, want: store.TaskPriorityP3},
		{in: -1, want: store.TaskPriorityP3},
		{in: 5, want: store.TaskPriorityP3},
	}
	for _, tt := range tests {
		if got := clampPriority(tt.in); got != tt.want {
			t.Errorf("clampPriority(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
