package vcs

import (
	"context"
)

// PullRequest is the provider-neutral view of a review artifact.
type PullRequest struct {
	ID     string
	Branch string
	Title  string
	Status string // open, approved, changes_requested, merged, closed
	URL    string
}

// CreateRequest describes a new pull request against the integration branch.
type CreateRequest struct {
	Dir    string // worktree or project root to run in
	Branch string
	Base   string
	Title  string
	Body   string
}

// PullRequestAPI is the pull-request lifecycle the orchestrator consumes.
// Implementations wrap a forge CLI or HTTP API; the core never touches git
// internals beyond this surface.
type PullRequestAPI interface {
	Create(ctx context.Context, req CreateRequest) (*PullRequest, error)
	Get(ctx context.Context, dir, id string) (*PullRequest, error)
	SubmitReview(ctx context.Context, dir, id string, approve bool, body string) error
	Merge(ctx context.Context, dir, id string) error
}
