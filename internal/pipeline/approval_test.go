package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echofix/echofix/internal/models"
	"github.com/echofix/echofix/internal/scm"
	"github.com/echofix/echofix/internal/store"
)

func newGate(t *testing.T, s store.Store, src *fakeSource, client scm.SCM) *ApprovalGate {
	t.Helper()
	return NewApprovalGate(s, src, client, testConfig())
}

func TestApprove_Human(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insight := analyzedInsight(t, s)

	gate := newGate(t, s, &fakeSource{}, newFakeSCM())
	got, err := gate.Approve(ctx, insight.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InsightApproved, got.Status)
	require.NotNil(t, got.ApprovedAt)

	// Approving again keeps the original timestamp
	first := *got.ApprovedAt
	again, err := gate.Approve(ctx, insight.ID)
	require.NoError(t, err)
	assert.Equal(t, first, *again.ApprovedAt)
}

func TestAskCommunity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insight := analyzedInsight(t, s)
	src := &fakeSource{nextReplyID: "reply42"}

	gate := newGate(t, s, src, newFakeSCM())
	got, err := gate.AskCommunity(ctx, insight.ID)
	require.NoError(t, err)
	assert.True(t, got.CommunityApprovalRequested)
	assert.Equal(t, "reply42", got.CommunityReplyID)
	require.Len(t, src.replies, 1)

	// Asking again does not post a second reply
	_, err = gate.AskCommunity(ctx, insight.ID)
	require.NoError(t, err)
	assert.Len(t, src.replies, 1)
}

func TestAskCommunity_RequiresTicket(t *testing.T) {
	s := newTestStore(t)
	insight := seedInsightWithItems(t, s, "auth", 1)

	gate := newGate(t, s, &fakeSource{}, newFakeSCM())
	_, err := gate.AskCommunity(context.Background(), insight.ID)
	assert.ErrorContains(t, err, "no ticket")
}

func TestRefreshCommunityApprovals_ThresholdMergesPR(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insight := analyzedInsight(t, s)
	seedRepoConfig(t, s, nil)

	// PR open, community approval requested
	got, err := s.GetInsight(ctx, insight.ID)
	require.NoError(t, err)
	got.PRNumber = 55
	got.PRURL = "https://github.com/acme/app/pull/55"
	got.CommunityApprovalRequested = true
	got.CommunityReplyID = "reply42"
	require.NoError(t, s.UpdateInsight(ctx, got))

	src := &fakeSource{scores: map[string]int{"reply42": 4}}
	client := newFakeSCM()

	gate := newGate(t, s, src, client)
	result, err := gate.RefreshCommunityApprovals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Checked)
	assert.Equal(t, 1, result.Approved)
	assert.Equal(t, 1, result.Merged)
	assert.Equal(t, []int{55}, client.merged)

	final, err := s.GetInsight(ctx, insight.ID)
	require.NoError(t, err)
	assert.True(t, final.CommunityApproved)
	assert.True(t, final.PRMerged)
	assert.Equal(t, models.InsightCompleted, final.Status)
	assert.Equal(t, 4, final.CommunityReplyScore)

	// Second poll: terminal insight is no longer awaiting approval
	result, err = gate.RefreshCommunityApprovals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Checked)
	assert.Len(t, client.merged, 1, "merge fires at most once")
}

func TestRefreshCommunityApprovals_BelowThreshold(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insight := analyzedInsight(t, s)

	got, err := s.GetInsight(ctx, insight.ID)
	require.NoError(t, err)
	got.CommunityApprovalRequested = true
	got.CommunityReplyID = "reply42"
	require.NoError(t, s.UpdateInsight(ctx, got))

	src := &fakeSource{scores: map[string]int{"reply42": 1}}
	gate := newGate(t, s, src, newFakeSCM())

	result, err := gate.RefreshCommunityApprovals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Checked)
	assert.Equal(t, 0, result.Approved)

	final, err := s.GetInsight(ctx, insight.ID)
	require.NoError(t, err)
	assert.False(t, final.CommunityApproved)
	assert.Equal(t, 1, final.CommunityReplyScore, "score recorded even below threshold")
}

func TestRefreshCommunityApprovals_FetchErrorCounted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insight := analyzedInsight(t, s)

	got, err := s.GetInsight(ctx, insight.ID)
	require.NoError(t, err)
	got.CommunityApprovalRequested = true
	got.CommunityReplyID = "reply42"
	require.NoError(t, s.UpdateInsight(ctx, got))

	src := &fakeSource{scoreErr: errors.New("down")}
	gate := newGate(t, s, src, newFakeSCM())

	result, err := gate.RefreshCommunityApprovals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Errors)
	assert.Equal(t, 0, result.Approved)
}
