package scm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// GitHubClient implements SCM using the gh CLI. It relies on gh's own
// authentication (gh auth login or GH_TOKEN).
type GitHubClient struct{}

// NewGitHubClient returns a new GitHubClient.
func NewGitHubClient() *GitHubClient {
	return &GitHubClient{}
}

func ghCmd(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "gh", args...).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("gh %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("gh %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *GitHubClient) CreateBranch(ctx context.Context, owner, repo, branch, base string) error {
	sha, err := ghCmd(ctx, "api",
		fmt.Sprintf("repos/%s/%s/git/ref/heads/%s", owner, repo, base),
		"--jq", ".object.sha",
	)
	if err != nil {
		return fmt.Errorf("resolve base branch %s: %w", base, err)
	}

	_, err = ghCmd(ctx, "api", "-X", "POST",
		fmt.Sprintf("repos/%s/%s/git/refs", owner, repo),
		"-f", "ref=refs/heads/"+branch,
		"-f", "sha="+sha,
	)
	if err != nil {
		// A 422 here means the ref already exists, which is fine: reruns
		// reuse the branch.
		if strings.Contains(err.Error(), "Reference already exists") {
			return nil
		}
		return fmt.Errorf("create branch %s: %w", branch, err)
	}
	return nil
}

func (c *GitHubClient) CommitFile(ctx context.Context, owner, repo, branch, path string, content []byte, message string) error {
	contentPath := fmt.Sprintf("repos/%s/%s/contents/%s", owner, repo, path)

	args := []string{"api", "-X", "PUT", contentPath,
		"-f", "message=" + message,
		"-f", "branch=" + branch,
		"-f", "content=" + base64.StdEncoding.EncodeToString(content),
	}

	// Updating an existing file needs its current blob SHA.
	sha, err := ghCmd(ctx, "api", contentPath+"?ref="+branch, "--jq", ".sha")
	if err == nil && sha != "" {
		args = append(args, "-f", "sha="+sha)
	}

	if _, err := ghCmd(ctx, args...); err != nil {
		return fmt.Errorf("commit %s: %w", path, err)
	}
	return nil
}

func (c *GitHubClient) OpenTicket(ctx context.Context, owner, repo, title, body string, labels []string) (*Issue, error) {
	args := []string{"issue", "create",
		"--repo", fmt.Sprintf("%s/%s", owner, repo),
		"--title", title,
		"--body", body,
	}
	for _, label := range labels {
		args = append(args, "--label", label)
	}

	url, err := ghCmd(ctx, args...)
	if err != nil {
		return nil, err
	}

	return &Issue{URL: url, Number: numberFromURL(url)}, nil
}

// numberFromURL extracts the trailing issue or PR number from a GitHub URL.
func numberFromURL(url string) int {
	idx := strings.LastIndex(url, "/")
	if idx < 0 {
		return 0
	}
	var n int
	if _, err := fmt.Sscanf(url[idx+1:], "%d", &n); err != nil {
		return 0
	}
	return n
}

func (c *GitHubClient) OpenPullRequest(ctx context.Context, owner, repo, head, base, title, body string) (*PullRequest, error) {
	url, err := ghCmd(ctx, "pr", "create",
		"--repo", fmt.Sprintf("%s/%s", owner, repo),
		"--head", head,
		"--base", base,
		"--title", title,
		"--body", body,
	)
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return nil, ErrPRExists
		}
		return nil, err
	}

	return &PullRequest{Title: title, Branch: head, State: "open", URL: url, Number: numberFromURL(url)}, nil
}

func (c *GitHubClient) FindOpenPR(ctx context.Context, owner, repo, head string) (*PullRequest, error) {
	out, err := ghCmd(ctx, "pr", "list",
		"--repo", fmt.Sprintf("%s/%s", owner, repo),
		"--head", head,
		"--state", "open",
		"--json", "number,title,state,headRefName,url",
	)
	if err != nil {
		return nil, err
	}

	var prs []PullRequest
	if err := json.Unmarshal([]byte(out), &prs); err != nil {
		return nil, fmt.Errorf("parse PRs: %w", err)
	}
	if len(prs) == 0 {
		return nil, nil
	}
	return &prs[0], nil
}

func (c *GitHubClient) MergePR(ctx context.Context, owner, repo string, number int) error {
	_, err := ghCmd(ctx, "pr", "merge",
		fmt.Sprintf("%d", number),
		"--repo", fmt.Sprintf("%s/%s", owner, repo),
		"--squash",
	)
	return err
}
