package vcs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// GHProvider implements PullRequestAPI on top of the GitHub CLI. Each call
// shells out to gh inside the given directory so repo detection follows the
// worktree's origin remote.
type GHProvider struct {
	timeout time.Duration
}

func NewGHProvider(timeout time.Duration) *GHProvider {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &GHProvider{timeout: timeout}
}

func (p *GHProvider) Create(ctx context.Context, req CreateRequest) (*PullRequest, error) {
	base := req.Base
	if base == "" {
		base = "main"
	}
	out, err := p.gh(ctx, req.Dir, "pr", "create",
		"--head", req.Branch, "--base", base,
		"--title", req.Title, "--body", req.Body)
	if err != nil {
		return nil, err
	}
	// gh prints the PR URL; the trailing path element is the number.
	url := strings.TrimSpace(out)
	id := url
	if i := strings.LastIndex(url, "/"); i >= 0 {
		id = url[i+1:]
	}
	return &PullRequest{ID: id, Branch: req.Branch, Title: req.Title, Status: "open", URL: url}, nil
}

func (p *GHProvider) Get(ctx context.Context, dir, id string) (*PullRequest, error) {
	out, err := p.gh(ctx, dir, "pr", "view", id, "--json", "number,state,reviewDecision,headRefName,title,url")
	if err != nil {
		return nil, err
	}
	var v struct {
		Number         int    `json:"number"`
		State          string `json:"state"`
		ReviewDecision string `json:"reviewDecision"`
		HeadRefName    string `json:"headRefName"`
		Title          string `json:"title"`
		URL            string `json:"url"`
	}
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		return nil, fmt.Errorf("vcs: parse gh pr view: %w", err)
	}
	return &PullRequest{
		ID:     fmt.Sprintf("%d", v.Number),
		Branch: v.HeadRefName,
		Title:  v.Title,
		Status: mapStatus(v.State, v.ReviewDecision),
		URL:    v.URL,
	}, nil
}

func (p *GHProvider) SubmitReview(ctx context.Context, dir, id string, approve bool, body string) error {
	verdict := "--request-changes"
	if approve {
		verdict = "--approve"
	}
	_, err := p.gh(ctx, dir, "pr", "review", id, verdict, "--body", body)
	return err
}

func (p *GHProvider) Merge(ctx context.Context, dir, id string) error {
	_, err := p.gh(ctx, dir, "pr", "merge", id, "--squash", "--delete-branch")
	return err
}

func mapStatus(state, reviewDecision string) string {
	switch strings.ToUpper(state) {
	case "MERGED":
		return "merged"
	case "CLOSED":
		return "closed"
	}
	switch strings.ToUpper(reviewDecision) {
	case "APPROVED":
		return "approved"
	case "CHANGES_REQUESTED":
		return "changes_requested"
	}
	return "open"
}

func (p *GHProvider) gh(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "gh", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("gh %s: %v: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
