package models

import "time"

// RepoConfig is the collaborator target: which repository and branch
// tickets and pull requests are opened against. Immutable within a
// single pipeline run.
type RepoConfig struct {
	ID     string
	Owner  string
	Repo   string
	Branch string

	// Feedback source monitoring settings.
	Forums   []string
	Keywords []string

	// Automation flags.
	AutoCreateTickets bool
	AutoCreatePRs     bool
	RequireApproval   bool

	CreatedAt time.Time
	UpdatedAt time.Time
}
