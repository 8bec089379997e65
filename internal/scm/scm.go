// Package scm wraps source-control operations: GitHub issues and pull
// requests via the gh CLI, and repository clones via go-git.
package scm

import (
	"context"
	"errors"
)

// ErrPRExists is returned when a pull request for the branch is already open.
// Callers recover by looking up the existing PR instead of failing the run.
var ErrPRExists = errors.New("scm: pull request already exists")

// Issue is a created GitHub issue.
type Issue struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
}

// PullRequest is a GitHub pull request.
type PullRequest struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	State  string `json:"state"`
	Branch string `json:"headRefName"`
	URL    string `json:"url"`
}

// SCM is the source-control capability used by the publisher.
type SCM interface {
	// CreateBranch creates branch from base. Creating a branch that already
	// exists is not an error.
	CreateBranch(ctx context.Context, owner, repo, branch, base string) error
	// CommitFile creates or updates one file on a branch.
	CommitFile(ctx context.Context, owner, repo, branch, path string, content []byte, message string) error
	// OpenTicket files a GitHub issue.
	OpenTicket(ctx context.Context, owner, repo, title, body string, labels []string) (*Issue, error)
	// OpenPullRequest opens a PR from head into base. Returns ErrPRExists if
	// one is already open for the branch.
	OpenPullRequest(ctx context.Context, owner, repo, head, base, title, body string) (*PullRequest, error)
	// FindOpenPR returns the open PR for a head branch, or nil.
	FindOpenPR(ctx context.Context, owner, repo, head string) (*PullRequest, error)
	// MergePR merges an open pull request.
	MergePR(ctx context.Context, owner, repo string, number int) error
}
