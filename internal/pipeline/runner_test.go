package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echofix/echofix/internal/models"
	"github.com/echofix/echofix/internal/reasoning"
	"github.com/echofix/echofix/internal/store"
	"github.com/echofix/echofix/internal/taxonomy"
)

func newRunner(t *testing.T, s store.Store, src *fakeSource, client *fakeSCM) *Runner {
	t.Helper()
	cfg := testConfig()
	cfg.PlanDir = t.TempDir()
	cfg.PRAutomation = true

	codegen := NewCodeGenerator(&fakeCloner{files: map[string]string{}}, cfg,
		reasoning.NewDeterministicProvider())

	return NewRunner(s,
		NewRefresher(s, src, cfg),
		NewGrouper(s, taxonomy.DefaultRules()),
		NewSynthesizer(s, reasoning.NewDeterministicProvider()),
		NewPublisher(s, client, codegen, cfg),
		NewApprovalGate(s, src, client, cfg),
	)
}

// Full pass: a pending item gets promoted, grouped with an already-ready
// report, analyzed into a ticket, and published as an issue.
func TestRun_EndToEnd(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedRepoConfig(t, s, nil)

	seedReadyItems(t, s,
		&models.FeedbackItem{ExternalID: "hot", Title: "login broken", Permalink: "/hot", Score: 5},
		&models.FeedbackItem{ExternalID: "warm", Title: "password reset fails", Permalink: "/warm",
			Score: 1, Status: models.FeedbackPending},
	)

	src := &fakeSource{scores: map[string]int{"warm": 3}}
	client := newFakeSCM()

	r := newRunner(t, s, src, client)
	result, err := r.Run(ctx, 50, 10)
	require.NoError(t, err)
	assert.Empty(t, result.Errors)

	assert.Equal(t, 1, result.Refresh.Promoted)
	assert.Equal(t, 2, result.Group.ItemsGrouped)
	assert.Equal(t, 1, result.Group.InsightsCreated)
	assert.Equal(t, 1, result.Analyzed)
	require.Len(t, result.Tickets, 1)
	assert.Equal(t, 2, result.Tickets[0].ItemsProcessed)
	assert.Equal(t, 1, client.issues)

	insight, err := s.GetOpenInsightByTheme(ctx, "Authentication Issues")
	require.NoError(t, err)
	assert.Equal(t, models.InsightInProgress, insight.Status)
	require.NotNil(t, insight.Ticket)
	assert.Len(t, insight.Ticket.Evidence, 2)
}

func TestRun_SecondPassIsQuiet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedRepoConfig(t, s, nil)
	seedReadyItems(t, s,
		&models.FeedbackItem{ExternalID: "hot", Title: "login broken", Permalink: "/hot", Score: 5},
	)

	src := &fakeSource{scores: map[string]int{}}
	client := newFakeSCM()
	r := newRunner(t, s, src, client)

	_, err := r.Run(ctx, 50, 10)
	require.NoError(t, err)

	// Rerunning the whole pass does not duplicate any side effects
	result, err := r.Run(ctx, 50, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Group.ItemsGrouped)
	assert.Equal(t, 0, result.Analyzed)
	assert.Equal(t, 1, client.issues)
}

func TestRun_AutoPRWhenApprovalNotRequired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedRepoConfig(t, s, func(cfg *models.RepoConfig) {
		cfg.AutoCreatePRs = true
		cfg.RequireApproval = false
	})
	seedReadyItems(t, s,
		&models.FeedbackItem{ExternalID: "hot", Title: "login broken", Permalink: "/hot", Score: 5},
	)

	client := newFakeSCM()
	r := newRunner(t, s, &fakeSource{scores: map[string]int{}}, client)

	result, err := r.Run(ctx, 50, 10)
	require.NoError(t, err)
	require.Len(t, result.PRs, 1)
	assert.Equal(t, 1, client.prs)

	insight, err := s.GetOpenInsightByTheme(ctx, "Authentication Issues")
	require.NoError(t, err)
	assert.Equal(t, models.InsightInProgress, insight.Status)
}

func TestRun_NoRepoConfigStopsAtAnalysis(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedReadyItems(t, s,
		&models.FeedbackItem{ExternalID: "hot", Title: "login broken", Permalink: "/hot", Score: 5},
	)

	client := newFakeSCM()
	r := newRunner(t, s, &fakeSource{scores: map[string]int{}}, client)

	result, err := r.Run(ctx, 50, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Analyzed)
	assert.Empty(t, result.Tickets)
	assert.Equal(t, 0, client.issues)
}
