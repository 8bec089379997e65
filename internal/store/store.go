// Package store defines the persistence interface for feedback items,
// insights, repo configuration, and execution logs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/echofix/echofix/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// FeedbackFilter narrows ListFeedbackItems.
type FeedbackFilter struct {
	Status    models.FeedbackStatus
	InsightID string
	Forum     string
	Limit     int
}

// InsightFilter narrows ListInsights.
type InsightFilter struct {
	Status models.InsightStatus
	Theme  string
	Limit  int
}

// Stats summarizes pipeline state for the stats endpoint and CLI.
type Stats struct {
	FeedbackTotal    int                           `json:"feedback_total"`
	FeedbackByStatus map[models.FeedbackStatus]int `json:"feedback_by_status"`
	InsightTotal     int                           `json:"insight_total"`
	InsightByStatus  map[models.InsightStatus]int  `json:"insight_by_status"`
	TicketsCreated   int                           `json:"tickets_created"`
	PRsCreated       int                           `json:"prs_created"`
	PRsMerged        int                           `json:"prs_merged"`
}

// Store is the persistence interface for the pipeline.
type Store interface {
	// Feedback items
	UpsertFeedbackItem(ctx context.Context, item *models.FeedbackItem) (created bool, err error)
	GetFeedbackItem(ctx context.Context, id string) (*models.FeedbackItem, error)
	GetFeedbackItemByExternalID(ctx context.Context, externalID string) (*models.FeedbackItem, error)
	ListFeedbackItems(ctx context.Context, filter FeedbackFilter) ([]*models.FeedbackItem, error)
	UpdateFeedbackItem(ctx context.Context, item *models.FeedbackItem) error
	// ClaimFeedbackItem moves a ready item to processing. Returns false if
	// the item was not in the ready state (already claimed or terminal).
	ClaimFeedbackItem(ctx context.Context, id string) (bool, error)

	// Insights
	CreateInsight(ctx context.Context, insight *models.Insight) error
	// CreateInsightWithItem creates the insight and attaches its first
	// member item atomically; an insight never exists without a member.
	CreateInsightWithItem(ctx context.Context, insight *models.Insight, itemID string) error
	GetInsight(ctx context.Context, id string) (*models.Insight, error)
	// GetOpenInsightByTheme returns the earliest-created non-terminal
	// insight for a theme, or ErrNotFound.
	GetOpenInsightByTheme(ctx context.Context, theme string) (*models.Insight, error)
	ListInsights(ctx context.Context, filter InsightFilter) ([]*models.Insight, error)
	UpdateInsight(ctx context.Context, insight *models.Insight) error
	// ClaimInsightForAnalysis moves a pending insight to analyzing. Returns
	// false if the insight was not pending.
	ClaimInsightForAnalysis(ctx context.Context, id string) (bool, error)
	// MarkCommunityApproved flips the approval flag at most once. Returns
	// false if approval was already recorded.
	MarkCommunityApproved(ctx context.Context, id string, at time.Time) (bool, error)
	// AttachItemToInsight links a feedback item to an insight and keeps the
	// insight's entry count equal to the number of linked items.
	AttachItemToInsight(ctx context.Context, itemID, insightID string) error
	ListInsightItems(ctx context.Context, insightID string) ([]*models.FeedbackItem, error)

	// Repo configuration
	SaveRepoConfig(ctx context.Context, cfg *models.RepoConfig) error
	GetRepoConfig(ctx context.Context) (*models.RepoConfig, error)

	// Execution logs
	AppendExecutionLog(ctx context.Context, entry *models.ExecutionLogEntry) error
	ListExecutionLogs(ctx context.Context, insightID string) ([]*models.ExecutionLogEntry, error)

	// Maintenance
	GetStats(ctx context.Context) (*Stats, error)
	Purge(ctx context.Context) error

	Migrate(ctx context.Context) error
	Close() error
}
