package vcs

import "testing"

// TestMapStatus verifies state takes precedence over review decision and
// unknown combinations stay open.
func TestMapStatus(t *testing.T) {
	tests := []struct {
		name     string
		state    string
		decision string
		want     string
	}{
		{name: "merged", state: "MERGED", want: "merged"},
		{name: "merged ignores decision", state: "MERGED", decision: "CHANGES_REQUESTED", want: "merged"},
		{name: "closed", state: "CLOSED", want: "closed"},
		{name: "open approved", state: "OPEN", decision: "APPROVED", want: "approved"},
		{name: "open changes requested", state: "OPEN", decision: "CHANGES_REQUESTED", want: "changes_requested"},
		{name: "open no decision", state: "OPEN", want: "open"},
		{name: "lowercase state", state: "merged", want: "merged"},
		{name: "empty", want: "open"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapStatus(tt.state, tt.decision); got != tt.want {
				t.Errorf("mapStatus(%q, %q) = %q, want %q", tt.state, tt.decision, got, tt.want)
			}
		})
	}
}
