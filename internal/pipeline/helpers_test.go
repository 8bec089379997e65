package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/echofix/echofix/internal/models"
	"github.com/echofix/echofix/internal/scm"
	"github.com/echofix/echofix/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

// fakeSource serves canned threads and scores and records calls.
type fakeSource struct {
	threads     map[string][]*models.FeedbackItem
	scores      map[string]int
	scoreErr    error
	fetchCalls  int
	replyErr    error
	replies     []string
	nextReplyID string
}

func (f *fakeSource) FetchThread(ctx context.Context, threadURL string, maxItems int) ([]*models.FeedbackItem, error) {
	items, ok := f.threads[threadURL]
	if !ok {
		return nil, fmt.Errorf("unknown thread %s", threadURL)
	}
	return items, nil
}

func (f *fakeSource) FetchScore(ctx context.Context, permalink, externalID string) (int, error) {
	f.fetchCalls++
	if f.scoreErr != nil {
		return 0, f.scoreErr
	}
	score, ok := f.scores[externalID]
	if !ok {
		return 0, fmt.Errorf("unknown entry %s", externalID)
	}
	return score, nil
}

func (f *fakeSource) PostReply(ctx context.Context, parentExternalID, text string) (string, error) {
	if f.replyErr != nil {
		return "", f.replyErr
	}
	f.replies = append(f.replies, parentExternalID)
	if f.nextReplyID == "" {
		f.nextReplyID = "reply1"
	}
	return f.nextReplyID, nil
}

// fakeSCM records branch, commit, issue, and PR operations.
type fakeSCM struct {
	branches    []string
	commits     map[string]string
	issues      int
	issueErr    error
	prs         int
	prExists    bool
	merged      []int
	mergeErr    error
	existingPR  *scm.PullRequest
	nextIssueNo int
	nextPRNo    int
}

func newFakeSCM() *fakeSCM {
	return &fakeSCM{commits: make(map[string]string), nextIssueNo: 100, nextPRNo: 200}
}

func (f *fakeSCM) CreateBranch(ctx context.Context, owner, repo, branch, base string) error {
	f.branches = append(f.branches, branch)
	return nil
}

func (f *fakeSCM) CommitFile(ctx context.Context, owner, repo, branch, path string, content []byte, message string) error {
	f.commits[path] = string(content)
	return nil
}

func (f *fakeSCM) OpenTicket(ctx context.Context, owner, repo, title, body string, labels []string) (*scm.Issue, error) {
	if f.issueErr != nil {
		return nil, f.issueErr
	}
	f.issues++
	n := f.nextIssueNo
	f.nextIssueNo++
	return &scm.Issue{Number: n, URL: fmt.Sprintf("https://github.com/%s/%s/issues/%d", owner, repo, n)}, nil
}

func (f *fakeSCM) OpenPullRequest(ctx context.Context, owner, repo, head, base, title, body string) (*scm.PullRequest, error) {
	if f.prExists {
		return nil, scm.ErrPRExists
	}
	f.prs++
	n := f.nextPRNo
	f.nextPRNo++
	return &scm.PullRequest{
		Number: n, Title: title, State: "open", Branch: head,
		URL: fmt.Sprintf("https://github.com/%s/%s/pull/%d", owner, repo, n),
	}, nil
}

func (f *fakeSCM) FindOpenPR(ctx context.Context, owner, repo, head string) (*scm.PullRequest, error) {
	return f.existingPR, nil
}

func (f *fakeSCM) MergePR(ctx context.Context, owner, repo string, number int) error {
	if f.mergeErr != nil {
		return f.mergeErr
	}
	f.merged = append(f.merged, number)
	return nil
}

// fakeProvider returns a fixed ticket or error.
type fakeProvider struct {
	name      string
	ticket    *models.Ticket
	patchPlan *models.PatchPlan
	err       error
	fixErr    error
	fix       string
	calls     int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) SynthesizeTicket(ctx context.Context, insight *models.Insight, items []*models.FeedbackItem) (*models.Ticket, *models.PatchPlan, error) {
	f.calls++
	if f.err != nil {
		return nil, nil, f.err
	}
	plan := f.patchPlan
	if plan == nil {
		plan = &models.PatchPlan{Summary: "plan from " + f.name}
	}
	return f.ticket, plan, nil
}

func (f *fakeProvider) GenerateFileFix(ctx context.Context, ticket *models.Ticket, path, current string) (string, error) {
	f.calls++
	if f.fixErr != nil {
		return "", f.fixErr
	}
	if f.fix != "" {
		return f.fix, nil
	}
	return "content from " + f.name, nil
}

// fakeCloner either fails or materializes the given file set.
type fakeCloner struct {
	err   error
	files map[string]string
}

func (f *fakeCloner) Clone(ctx context.Context, url, branch, dir string) error {
	if f.err != nil {
		return f.err
	}
	for rel, content := range f.files {
		if err := writeTreeFile(dir, rel, content); err != nil {
			return err
		}
	}
	return nil
}

func writeTreeFile(root, rel, content string) error {
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0644)
}

func seedReadyItems(t *testing.T, s store.Store, specs ...*models.FeedbackItem) []*models.FeedbackItem {
	t.Helper()
	ctx := context.Background()
	for _, item := range specs {
		if item.Status == "" {
			item.Status = models.FeedbackReady
		}
		_, err := s.UpsertFeedbackItem(ctx, item)
		require.NoError(t, err)
	}
	return specs
}

func seedRepoConfig(t *testing.T, s store.Store, mutate func(*models.RepoConfig)) *models.RepoConfig {
	t.Helper()
	cfg := &models.RepoConfig{
		Owner:             "acme",
		Repo:              "app",
		Branch:            "main",
		Forums:            []string{"acmeapp"},
		AutoCreateTickets: true,
	}
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, s.SaveRepoConfig(context.Background(), cfg))
	return cfg
}
