package brain

import "testing"

// TestParse_ErrorPrefixes verifies that only a leading error/fatal prefix
// flags the response; the same words mid-text are ordinary content.
func TestParse_ErrorPrefixes(t *testing.T) {
	tests := []struct {
		name    string
		stdout  string
		wantErr bool
	}{
		{name: "leading error", stdout: "Error: model overloaded", wantErr: true},
		{name: "leading fatal", stdout: "FATAL: out of credits", wantErr: true},
		{name: "leading whitespace then error", stdout: "  error: boom", wantErr: true},
		{name: "error mid-text", stdout: "handled the error: retried once", wantErr: false},
		{name: "plain output", stdout: "done, pushed branch", wantErr: false},
		{name: "empty", stdout: "", wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.stdout)
			if got.HasError != tt.wantErr {
				t.Errorf("Parse(%q).HasError = %v, want %v", tt.stdout, got.HasError, tt.wantErr)
			}
		})
	}
}

// TestParse_Metadata verifies JSON object detection and that malformed or
// non-object output leaves Metadata nil.
func TestParse_Metadata(t *testing.T) {
	tests := []struct {
		name     string
		stdout   string
		wantMeta bool
		wantKey  string
	}{
		{name: "json object", stdout: `{"action":"complete","reasoning":"ok"}`, wantMeta: true, wantKey: "action"},
		{name: "json object with surrounding whitespace", stdout: "\n  {\"status\": \"done\"}\n", wantMeta: true, wantKey: "status"},
		{name: "truncated json", stdout: `{"action":"comp`, wantMeta: false},
		{name: "json array", stdout: `[1,2,3]`, wantMeta: false},
		{name: "prose", stdout: "all good", wantMeta: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.stdout)
			if (got.Metadata != nil) != tt.wantMeta {
				t.Fatalf("Parse(%q).Metadata presence = %v, want %v", tt.stdout, got.Metadata != nil, tt.wantMeta)
			}
			if tt.wantMeta {
				if _, ok := got.Metadata[tt.wantKey]; !ok {
					t.Errorf("Metadata missing key %q: %v", tt.wantKey, got.Metadata)
				}
			}
		})
	}
}

// TestParse_TrimsText verifies stdout is whitespace-trimmed before any
// interpretation.
func TestParse_TrimsText(t *testing.T) {
	got := Parse("\n\n  result text \t\n")
	if got.Text != "result text" {
		t.Errorf("Parse trimmed text = %q, want %q", got.Text, "result text")
	}
}
