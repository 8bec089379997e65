package pipeline

import (
	"context"
	"errors"

	"github.com/echofix/echofix/internal/models"
	"github.com/echofix/echofix/internal/store"
	"github.com/echofix/echofix/internal/taxonomy"
)

// GroupResult summarizes one grouping pass.
type GroupResult struct {
	ItemsGrouped    int `json:"items_grouped"`
	InsightsCreated int `json:"insights_created"`
	InsightsUpdated int `json:"insights_updated"`
}

// Grouper clusters READY feedback items into themed insights.
type Grouper struct {
	store store.Store
	rules []taxonomy.Rule
}

// NewGrouper builds a Grouper.
func NewGrouper(st store.Store, rules []taxonomy.Rule) *Grouper {
	if len(rules) == 0 {
		rules = taxonomy.DefaultRules()
	}
	return &Grouper{store: st, rules: rules}
}

// GroupReady attaches every unassigned READY item to the open insight for
// its theme, creating the insight if none exists. Item status is not
// touched; ownership is the only mutation.
func (g *Grouper) GroupReady(ctx context.Context) (*GroupResult, error) {
	items, err := g.store.ListFeedbackItems(ctx, store.FeedbackFilter{
		Status: models.FeedbackReady,
	})
	if err != nil {
		return nil, err
	}

	result := &GroupResult{}
	// Insights created or touched this pass, so one run groups same-theme
	// items together without refetching.
	seen := make(map[string]*models.Insight)

	for _, item := range items {
		if item.InsightID != "" {
			continue
		}

		theme, description := taxonomy.Match(g.rules, item.Title, item.Body)

		insight, ok := seen[theme]
		if !ok {
			insight, err = g.store.GetOpenInsightByTheme(ctx, theme)
			if errors.Is(err, store.ErrNotFound) {
				// Create and attach atomically: a zero-member insight
				// must never exist, even across a crash.
				insight = &models.Insight{
					Theme:        theme,
					Description:  description,
					RepoConfigID: item.RepoConfigID,
				}
				if err := g.store.CreateInsightWithItem(ctx, insight, item.ID); err != nil {
					return result, err
				}
				result.InsightsCreated++
				result.ItemsGrouped++
				seen[theme] = insight
				continue
			} else if err != nil {
				return result, err
			} else {
				result.InsightsUpdated++
			}
			seen[theme] = insight
		}

		if err := g.store.AttachItemToInsight(ctx, item.ID, insight.ID); err != nil {
			return result, err
		}
		result.ItemsGrouped++
	}
	return result, nil
}
