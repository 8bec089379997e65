package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echofix/echofix/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Running migrate again should be a no-op
	err := s.Migrate(ctx)
	assert.NoError(t, err)
}

// --- Feedback items ---

func newFeedbackItem(externalID string) *models.FeedbackItem {
	return &models.FeedbackItem{
		ExternalID: externalID,
		Kind:       models.KindPost,
		Title:      "Login fails after password reset",
		Body:       "After resetting my password I can no longer sign in",
		Author:     "frustrated_user",
		Forum:      "acmeapp",
		Permalink:  "/r/acmeapp/comments/" + externalID,
		Score:      5,
		Status:     models.FeedbackPending,
	}
}

func TestUpsertFeedbackItem_InsertThenUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item := newFeedbackItem("t3_abc123")
	created, err := s.UpsertFeedbackItem(ctx, item)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, item.ID)

	// Same external ID again: no duplicate, content refreshed
	again := newFeedbackItem("t3_abc123")
	again.Score = 9
	again.Title = "Login fails after password reset (still broken)"
	created, err = s.UpsertFeedbackItem(ctx, again)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, item.ID, again.ID)

	got, err := s.GetFeedbackItemByExternalID(ctx, "t3_abc123")
	require.NoError(t, err)
	assert.Equal(t, 9, got.Score)
	assert.Equal(t, "Login fails after password reset (still broken)", got.Title)

	items, err := s.ListFeedbackItems(ctx, FeedbackFilter{})
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestUpsertFeedbackItem_StatusNeverRegresses(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item := newFeedbackItem("t3_ready1")
	item.Status = models.FeedbackReady
	_, err := s.UpsertFeedbackItem(ctx, item)
	require.NoError(t, err)

	// Re-ingest with a pending candidate must not demote ready
	again := newFeedbackItem("t3_ready1")
	again.Score = 1
	again.Status = models.FeedbackPending
	_, err = s.UpsertFeedbackItem(ctx, again)
	require.NoError(t, err)

	got, err := s.GetFeedbackItemByExternalID(ctx, "t3_ready1")
	require.NoError(t, err)
	assert.Equal(t, models.FeedbackReady, got.Status)

	// Processed stays processed too
	got.Status = models.FeedbackProcessed
	require.NoError(t, s.UpdateFeedbackItem(ctx, got))

	third := newFeedbackItem("t3_ready1")
	third.Status = models.FeedbackReady
	_, err = s.UpsertFeedbackItem(ctx, third)
	require.NoError(t, err)

	got, err = s.GetFeedbackItemByExternalID(ctx, "t3_ready1")
	require.NoError(t, err)
	assert.Equal(t, models.FeedbackProcessed, got.Status)
}

func TestUpsertFeedbackItem_PendingPromotesToReady(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item := newFeedbackItem("t3_promote")
	_, err := s.UpsertFeedbackItem(ctx, item)
	require.NoError(t, err)

	again := newFeedbackItem("t3_promote")
	again.Status = models.FeedbackReady
	_, err = s.UpsertFeedbackItem(ctx, again)
	require.NoError(t, err)

	got, err := s.GetFeedbackItemByExternalID(ctx, "t3_promote")
	require.NoError(t, err)
	assert.Equal(t, models.FeedbackReady, got.Status)
}

func TestClaimFeedbackItem_Exclusive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item := newFeedbackItem("t3_claim")
	item.Status = models.FeedbackReady
	_, err := s.UpsertFeedbackItem(ctx, item)
	require.NoError(t, err)

	ok, err := s.ClaimFeedbackItem(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second claim sees processing, not ready
	ok, err = s.ClaimFeedbackItem(ctx, item.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetFeedbackItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FeedbackProcessing, got.Status)
}

func TestClaimFeedbackItem_PendingNotClaimable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item := newFeedbackItem("t3_pending")
	_, err := s.UpsertFeedbackItem(ctx, item)
	require.NoError(t, err)

	ok, err := s.ClaimFeedbackItem(ctx, item.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListFeedbackItems_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, status := range []models.FeedbackStatus{
		models.FeedbackPending, models.FeedbackReady, models.FeedbackReady,
	} {
		item := newFeedbackItem("t3_filter" + string(rune('a'+i)))
		item.Status = status
		_, err := s.UpsertFeedbackItem(ctx, item)
		require.NoError(t, err)
	}

	ready, err := s.ListFeedbackItems(ctx, FeedbackFilter{Status: models.FeedbackReady})
	require.NoError(t, err)
	assert.Len(t, ready, 2)

	limited, err := s.ListFeedbackItems(ctx, FeedbackFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestUpdateFeedbackItem_PersistsTimestamps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item := newFeedbackItem("t3_ts")
	_, err := s.UpsertFeedbackItem(ctx, item)
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	item.LastScoreCheckAt = &now
	item.ProcessedAt = &now
	item.Status = models.FeedbackProcessed
	item.TicketURL = "https://github.com/acme/app/issues/42"
	item.PlanPath = "docs/echofix_plans/t3_ts.md"
	require.NoError(t, s.UpdateFeedbackItem(ctx, item))

	got, err := s.GetFeedbackItem(ctx, item.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastScoreCheckAt)
	assert.WithinDuration(t, now, *got.LastScoreCheckAt, time.Second)
	require.NotNil(t, got.ProcessedAt)
	assert.Equal(t, "https://github.com/acme/app/issues/42", got.TicketURL)
	assert.Equal(t, "docs/echofix_plans/t3_ts.md", got.PlanPath)
}

// --- Insights ---

func TestInsightCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := &models.Insight{
		Theme:       "Authentication Issues",
		Description: "Multiple reports of login failures",
	}
	err := s.CreateInsight(ctx, in)
	require.NoError(t, err)
	assert.NotEmpty(t, in.ID)
	assert.Equal(t, models.InsightPending, in.Status)
	assert.Equal(t, models.PriorityMedium, in.Priority)

	got, err := s.GetInsight(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, "Authentication Issues", got.Theme)
	assert.Nil(t, got.Ticket)

	// Attach a ticket and patch plan
	got.Ticket = &models.Ticket{
		Title:            "Fix login after password reset",
		ProblemStatement: "Users cannot sign in after resetting their password",
		Priority:         models.PriorityHigh,
		Labels:           []string{"bug", "auth"},
		Evidence: []models.EvidenceRef{
			{ExternalID: "t3_abc123", Permalink: "/r/acmeapp/comments/t3_abc123", Score: 9},
		},
	}
	got.PatchPlan = &models.PatchPlan{
		Summary:       "Invalidate stale session tokens on password reset",
		FilesImpacted: []string{"auth/session.go"},
		RiskLevel:     "low",
	}
	got.Status = models.InsightReady
	require.NoError(t, s.UpdateInsight(ctx, got))

	got2, err := s.GetInsight(ctx, in.ID)
	require.NoError(t, err)
	require.NotNil(t, got2.Ticket)
	assert.Equal(t, "Fix login after password reset", got2.Ticket.Title)
	assert.Equal(t, models.PriorityHigh, got2.Ticket.Priority)
	require.NotNil(t, got2.PatchPlan)
	assert.Equal(t, []string{"auth/session.go"}, got2.PatchPlan.FilesImpacted)
	assert.Equal(t, models.InsightReady, got2.Status)

	_, err = s.GetInsight(ctx, "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetOpenInsightByTheme(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	closed := &models.Insight{Theme: "Performance Issues", Status: models.InsightCompleted}
	require.NoError(t, s.CreateInsight(ctx, closed))

	open := &models.Insight{Theme: "Performance Issues"}
	require.NoError(t, s.CreateInsight(ctx, open))

	got, err := s.GetOpenInsightByTheme(ctx, "Performance Issues")
	require.NoError(t, err)
	assert.Equal(t, open.ID, got.ID)

	time.Sleep(5 * time.Millisecond) // ensure distinct created_at
	newer := &models.Insight{Theme: "Performance Issues"}
	require.NoError(t, s.CreateInsight(ctx, newer))

	got, err = s.GetOpenInsightByTheme(ctx, "Performance Issues")
	require.NoError(t, err)
	assert.Equal(t, open.ID, got.ID, "earliest open insight wins")

	_, err = s.GetOpenInsightByTheme(ctx, "Dark Mode Requests")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClaimInsightForAnalysis(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := &models.Insight{Theme: "UI/UX Issues"}
	require.NoError(t, s.CreateInsight(ctx, in))

	ok, err := s.ClaimInsightForAnalysis(ctx, in.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ClaimInsightForAnalysis(ctx, in.ID)
	require.NoError(t, err)
	assert.False(t, ok, "second claim should lose")

	got, err := s.GetInsight(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InsightAnalyzing, got.Status)
}

func TestMarkCommunityApproved_AtMostOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := &models.Insight{Theme: "File Upload Issues"}
	require.NoError(t, s.CreateInsight(ctx, in))

	now := time.Now().UTC()
	ok, err := s.MarkCommunityApproved(ctx, in.ID, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.MarkCommunityApproved(ctx, in.ID, now)
	require.NoError(t, err)
	assert.False(t, ok, "approval already recorded")

	got, err := s.GetInsight(ctx, in.ID)
	require.NoError(t, err)
	assert.True(t, got.CommunityApproved)
	require.NotNil(t, got.CommunityApprovedAt)
}

func TestAttachItemToInsight_KeepsCountInSync(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := &models.Insight{Theme: "Authentication Issues"}
	require.NoError(t, s.CreateInsight(ctx, in))

	for _, ext := range []string{"t3_one", "t3_two", "t3_three"} {
		item := newFeedbackItem(ext)
		_, err := s.UpsertFeedbackItem(ctx, item)
		require.NoError(t, err)
		require.NoError(t, s.AttachItemToInsight(ctx, item.ID, in.ID))
	}

	got, err := s.GetInsight(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.EntryCount)

	items, err := s.ListInsightItems(ctx, in.ID)
	require.NoError(t, err)
	assert.Len(t, items, 3)
	for _, item := range items {
		assert.Equal(t, in.ID, item.InsightID)
	}
}

func TestCreateInsightWithItem(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item := newFeedbackItem("t3_first")
	_, err := s.UpsertFeedbackItem(ctx, item)
	require.NoError(t, err)

	in := &models.Insight{Theme: "Authentication Issues"}
	require.NoError(t, s.CreateInsightWithItem(ctx, in, item.ID))
	assert.Equal(t, 1, in.EntryCount)

	got, err := s.GetInsight(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.EntryCount)

	items, err := s.ListInsightItems(ctx, in.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, item.ID, items[0].ID)
}

func TestCreateInsightWithItem_RollsBackOnMissingItem(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := &models.Insight{Theme: "Authentication Issues"}
	err := s.CreateInsightWithItem(ctx, in, "nonexistent")
	require.Error(t, err)

	// The insight insert was rolled back with the failed attach.
	_, err = s.GetOpenInsightByTheme(ctx, "Authentication Issues")
	assert.ErrorIs(t, err, ErrNotFound)
}

// --- Repo configuration ---

func TestSaveRepoConfig_Upserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetRepoConfig(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	cfg := &models.RepoConfig{
		Owner:             "acme",
		Repo:              "app",
		Branch:            "main",
		Forums:            []string{"acmeapp"},
		Keywords:          []string{"bug", "broken"},
		AutoCreateTickets: true,
		RequireApproval:   true,
	}
	require.NoError(t, s.SaveRepoConfig(ctx, cfg))
	assert.NotEmpty(t, cfg.ID)

	// Saving again replaces the single config instead of adding a second one
	cfg2 := &models.RepoConfig{
		Owner:  "acme",
		Repo:   "app",
		Branch: "develop",
		Forums: []string{"acmeapp", "acmebeta"},
	}
	require.NoError(t, s.SaveRepoConfig(ctx, cfg2))
	assert.Equal(t, cfg.ID, cfg2.ID)

	got, err := s.GetRepoConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "develop", got.Branch)
	assert.Equal(t, []string{"acmeapp", "acmebeta"}, got.Forums)
}

// --- Execution logs ---

func TestExecutionLogs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := &models.Insight{Theme: "General Feedback"}
	require.NoError(t, s.CreateInsight(ctx, in))

	entries := []*models.ExecutionLogEntry{
		{InsightID: in.ID, Message: "analysis started", StepName: "analyze"},
		{InsightID: in.ID, Level: models.LogWarn, Message: "primary provider quota exhausted", StepName: "codegen",
			Metadata: map[string]any{"provider": "anthropic"}},
	}
	for _, e := range entries {
		require.NoError(t, s.AppendExecutionLog(ctx, e))
		assert.NotEmpty(t, e.ID)
	}

	got, err := s.ListExecutionLogs(ctx, in.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.LogInfo, got[0].Level)
	assert.Equal(t, "analysis started", got[0].Message)
	assert.Equal(t, models.LogWarn, got[1].Level)
	assert.Equal(t, "anthropic", got[1].Metadata["provider"])
}

// --- Stats and purge ---

func TestGetStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, status := range []models.FeedbackStatus{
		models.FeedbackPending, models.FeedbackReady, models.FeedbackProcessed,
	} {
		item := newFeedbackItem("t3_stats" + string(rune('a'+i)))
		item.Status = status
		_, err := s.UpsertFeedbackItem(ctx, item)
		require.NoError(t, err)
	}

	in := &models.Insight{Theme: "Authentication Issues", TicketURL: "https://github.com/acme/app/issues/1"}
	require.NoError(t, s.CreateInsight(ctx, in))
	in.TicketURL = "https://github.com/acme/app/issues/1"
	in.PRURL = "https://github.com/acme/app/pull/2"
	in.PRMerged = true
	require.NoError(t, s.UpdateInsight(ctx, in))

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.FeedbackTotal)
	assert.Equal(t, 1, stats.FeedbackByStatus[models.FeedbackReady])
	assert.Equal(t, 1, stats.InsightTotal)
	assert.Equal(t, 1, stats.TicketsCreated)
	assert.Equal(t, 1, stats.PRsCreated)
	assert.Equal(t, 1, stats.PRsMerged)
}

func TestPurge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item := newFeedbackItem("t3_purge")
	_, err := s.UpsertFeedbackItem(ctx, item)
	require.NoError(t, err)

	in := &models.Insight{Theme: "General Feedback"}
	require.NoError(t, s.CreateInsight(ctx, in))

	cfg := &models.RepoConfig{Owner: "acme", Repo: "app", Branch: "main"}
	require.NoError(t, s.SaveRepoConfig(ctx, cfg))

	require.NoError(t, s.Purge(ctx))

	items, err := s.ListFeedbackItems(ctx, FeedbackFilter{})
	require.NoError(t, err)
	assert.Empty(t, items)

	insights, err := s.ListInsights(ctx, InsightFilter{})
	require.NoError(t, err)
	assert.Empty(t, insights)

	// Repo config survives a purge
	_, err = s.GetRepoConfig(ctx)
	assert.NoError(t, err)
}
