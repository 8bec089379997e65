package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echofix/echofix/internal/models"
	"github.com/echofix/echofix/internal/store"
	"github.com/echofix/echofix/internal/taxonomy"
)

func TestGroupReady_CreatesThemedInsights(t *testing.T) {
	s := newTestStore(t)
	seedReadyItems(t, s,
		&models.FeedbackItem{ExternalID: "a1", Title: "login broken", Score: 5},
		&models.FeedbackItem{ExternalID: "a2", Title: "cannot sign in", Score: 3},
		&models.FeedbackItem{ExternalID: "d1", Title: "dark mode please", Score: 4},
	)

	g := NewGrouper(s, taxonomy.DefaultRules())
	result, err := g.GroupReady(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.ItemsGrouped)
	assert.Equal(t, 2, result.InsightsCreated)
	assert.Equal(t, 0, result.InsightsUpdated)

	insights, err := s.ListInsights(context.Background(), store.InsightFilter{})
	require.NoError(t, err)
	require.Len(t, insights, 2)

	auth, err := s.GetOpenInsightByTheme(context.Background(), "Authentication Issues")
	require.NoError(t, err)
	assert.Equal(t, 2, auth.EntryCount)

	dark, err := s.GetOpenInsightByTheme(context.Background(), "Dark Mode Requests")
	require.NoError(t, err)
	assert.Equal(t, 1, dark.EntryCount)
}

func TestGroupReady_AppendsToExistingOpenInsight(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	existing := &models.Insight{Theme: "Authentication Issues"}
	require.NoError(t, s.CreateInsight(ctx, existing))

	seedReadyItems(t, s, &models.FeedbackItem{ExternalID: "a1", Title: "login broken", Score: 5})

	g := NewGrouper(s, taxonomy.DefaultRules())
	result, err := g.GroupReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.InsightsCreated)
	assert.Equal(t, 1, result.InsightsUpdated)

	got, err := s.GetInsight(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.EntryCount)
}

func TestGroupReady_SkipsAssignedAndClosedThemes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// A completed insight for the theme must not receive new items
	closed := &models.Insight{Theme: "Authentication Issues", Status: models.InsightCompleted}
	require.NoError(t, s.CreateInsight(ctx, closed))

	seedReadyItems(t, s, &models.FeedbackItem{ExternalID: "a1", Title: "login broken", Score: 5})

	g := NewGrouper(s, taxonomy.DefaultRules())
	result, err := g.GroupReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.InsightsCreated, "new insight opened instead of reusing the completed one")

	// Second pass: item already assigned, nothing to do
	result, err = g.GroupReady(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ItemsGrouped)
}

func TestGroupReady_DoesNotMutateItemStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedReadyItems(t, s, &models.FeedbackItem{ExternalID: "a1", Title: "login broken", Score: 5})

	g := NewGrouper(s, taxonomy.DefaultRules())
	_, err := g.GroupReady(ctx)
	require.NoError(t, err)

	item, err := s.GetFeedbackItemByExternalID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, models.FeedbackReady, item.Status)
	assert.NotEmpty(t, item.InsightID)
}

func TestGroupReady_EntryCountMatchesMembers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedReadyItems(t, s,
		&models.FeedbackItem{ExternalID: "a1", Title: "login broken", Score: 5},
		&models.FeedbackItem{ExternalID: "a2", Title: "password reset fails", Score: 2},
		&models.FeedbackItem{ExternalID: "a3", Title: "2fa locked me out", Score: 2},
	)

	g := NewGrouper(s, taxonomy.DefaultRules())
	_, err := g.GroupReady(ctx)
	require.NoError(t, err)

	insight, err := s.GetOpenInsightByTheme(ctx, "Authentication Issues")
	require.NoError(t, err)

	members, err := s.ListInsightItems(ctx, insight.ID)
	require.NoError(t, err)
	assert.Equal(t, insight.EntryCount, len(members))
}
