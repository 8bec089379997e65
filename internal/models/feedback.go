package models

import "time"

// FeedbackStatus represents the lifecycle state of a feedback item.
type FeedbackStatus string

const (
	FeedbackPending    FeedbackStatus = "pending"
	FeedbackReady      FeedbackStatus = "ready"
	FeedbackProcessing FeedbackStatus = "processing"
	FeedbackProcessed  FeedbackStatus = "processed"
	FeedbackFailed     FeedbackStatus = "failed"
	FeedbackSkipped    FeedbackStatus = "skipped"
)

// Terminal reports whether the status is a terminal lifecycle state.
func (s FeedbackStatus) Terminal() bool {
	switch s {
	case FeedbackProcessed, FeedbackFailed, FeedbackSkipped:
		return true
	}
	return false
}

// FeedbackKind distinguishes top-level posts from comments.
type FeedbackKind string

const (
	KindPost    FeedbackKind = "post"
	KindComment FeedbackKind = "comment"
)

// FeedbackItem is one unit of ingested raw user feedback.
type FeedbackItem struct {
	ID         string
	ExternalID string // stable identifier from the feedback source, unique
	Kind       FeedbackKind
	Title      string
	Body       string
	Author     string
	Forum      string // source forum identifier, e.g. subreddit name
	Permalink  string

	Score       int
	NumComments int

	Status           FeedbackStatus
	LastScoreCheckAt *time.Time
	ProcessedAt      *time.Time

	// Links to generated artifacts, set when processing completes.
	TicketURL string
	PRURL     string
	PlanPath  string

	InsightID string // owning insight, empty until grouped

	RepoConfigID    string
	SourceCreatedAt *time.Time
	CreatedAt       time.Time
}
