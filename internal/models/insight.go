package models

import "time"

// InsightStatus represents the workflow state of an insight.
type InsightStatus string

const (
	InsightPending    InsightStatus = "pending"     // grouped, not yet analyzed
	InsightAnalyzing  InsightStatus = "analyzing"   // reasoning provider working
	InsightReady      InsightStatus = "ready"       // ticket synthesized, awaiting action
	InsightApproved   InsightStatus = "approved"    // human approved
	InsightInProgress InsightStatus = "in_progress" // ticket published
	InsightCompleted  InsightStatus = "completed"   // PR published
	InsightClosed     InsightStatus = "closed"      // rejected, no action
)

// Open reports whether the insight can still accept new feedback items.
func (s InsightStatus) Open() bool {
	return s != InsightCompleted && s != InsightClosed
}

// Insight groups related feedback items under a common theme.
type Insight struct {
	ID          string
	Theme       string
	Description string
	EntryCount  int

	Status   InsightStatus
	Priority Priority

	// Synthesized artifacts, nil until the analysis step runs.
	Ticket    *Ticket
	PatchPlan *PatchPlan

	TicketNumber int
	TicketURL    string
	PRNumber     int
	PRURL        string
	PRMerged     bool
	PRMergedAt   *time.Time

	// Community approval sub-state: not requested until
	// CommunityApprovalRequested is set, approved once the reply
	// score crosses the threshold. There is no path backward.
	CommunityApprovalRequested bool
	CommunityReplyID           string
	CommunityReplyScore        int
	CommunityApproved          bool
	CommunityApprovedAt        *time.Time

	RepoConfigID string
	ApprovedAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
