package prompt

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/hivemind/internal/store"
)

// TestTaskKeywords verifies tokenization of title and description plus the
// union with declared skills and tags, with short tokens dropped.
func TestTaskKeywords(t *testing.T) {
	tests := []struct {
		name string
		task store.TaskData
		want []string
	}{
		{
			name: "title and description tokens",
			task: store.TaskData{Title: "Fix login flow", Description: "OAuth redirect loops"},
			want: []string{"fix", "login", "flow", "oauth", "redirect", "loops"},
		},
		{
			name: "short tokens dropped",
			task: store.TaskData{Title: "go up to v2 of db"},
			want: nil,
		},
		{
			name: "punctuation splits",
			task: store.TaskData{Title: "auth/session: refresh-token"},
			want: []string{"auth", "session", "refresh", "token"},
		},
		{
			name: "skills and tags union, deduplicated",
			task: store.TaskData{
				Title:          "migrate schema",
				RequiredSkills: []string{"postgres", "Schema"},
				Tags:           []string{"migration", "postgres"},
			},
			want: []string{"migrate", "schema", "postgres", "migration"},
		},
		{
			name: "case folded",
			task: store.TaskData{Title: "Deploy DEPLOY deploy"},
			want: []string{"deploy"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TaskKeywords(&tt.task)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("TaskKeywords() = %v, want %v", got, tt.want)
			}
		})
	}
}

type fakeDocs struct {
	store.DocumentStore
	docs []store.DocumentData
}

func (f *fakeDocs) Search(ctx context.Context, orgID uuid.UUID, scopes []store.ScopeRef, keywords []string, limit int) ([]store.DocumentData, error) {
	return f.docs, nil
}

// TestSelect_EnforcesBudget verifies the injector bounds the combined size of
// returned documents: oversized tails are dropped, and the kept content never
// exceeds the character budget.
func TestSelect_EnforcesBudget(t *testing.T) {
	big := strings.Repeat("x", 1000)
	inj := NewInjector(&fakeDocs{docs: []store.DocumentData{
		{Title: "a", Content: big},
		{Title: "b", Content: big},
		{Title: "c", Content: big},
	}}, 0)
	task := &store.TaskData{Title: "payments refactor"}
	agent := &store.AgentData{ID: uuid.New(), OrgID: uuid.New()}

	got, err := inj.Select(context.Background(), task, agent, nil, 2500)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Select kept %d docs, want 2", len(got))
	}
	total := 0
	for _, d := range got {
		total += len(d.Content)
	}
	if total > 2500 {
		t.Errorf("injected %d chars, budget was 2500", total)
	}
}

// TestTrimToBudget verifies tail-first dropping until the combined content
// fits, and that a non-positive budget disables trimming.
func TestTrimToBudget(t *testing.T) {
	docs := []store.DocumentData{
		{Title: "a", Content: "aaaaaaaaaa"}, // 10
		{Title: "b", Content: "bbbbbbbbbb"}, // 10
		{Title: "c", Content: "cccccccccc"}, // 10
	}

	tests := []struct {
		name   string
		budget int
		want   int
	}{
		{name: "all fit", budget: 30, want: 3},
		{name: "drop last", budget: 25, want: 2},
		{name: "drop two", budget: 15, want: 1},
		{name: "nothing fits", budget: 5, want: 0},
		{name: "zero budget means unlimited", budget: 0, want: 3},
		{name: "negative budget means unlimited", budget: -1, want: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := trimToBudget(append([]store.DocumentData(nil), docs...), tt.budget)
			if len(got) != tt.want {
				t.Errorf("trimToBudget(budget=%d) kept %d docs, want %d", tt.budget, len(got), tt.want)
			}
			// Kept docs must be the head of the original ordering.
			for i := range got {
				if got[i].Title != docs[i].Title {
					t.Errorf("doc %d = %q, want %q (head-preserving trim)", i, got[i].Title, docs[i].Title)
				}
			}
		})
	}
}
