package models

// Priority represents the urgency of a synthesized ticket.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// ValidPriority reports whether p is one of the known priority levels.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// EvidenceRef links a ticket back to a member feedback item.
type EvidenceRef struct {
	ExternalID string `json:"external_id"`
	Permalink  string `json:"permalink"`
	Excerpt    string `json:"excerpt"`
	Score      int    `json:"score"`
}

// Ticket is the structured engineering artifact synthesized from an insight.
type Ticket struct {
	Title              string        `json:"title"`
	ProblemStatement   string        `json:"problem_statement"`
	ReproSteps         []string      `json:"repro_steps,omitempty"`
	ExpectedBehavior   string        `json:"expected_behavior,omitempty"`
	ActualBehavior     string        `json:"actual_behavior,omitempty"`
	SuspectedRootCause string        `json:"suspected_root_cause,omitempty"`
	AcceptanceCriteria []string      `json:"acceptance_criteria"`
	Priority           Priority      `json:"priority"`
	Labels             []string      `json:"labels,omitempty"`
	Evidence           []EvidenceRef `json:"evidence"`
}

// PatchPlan outlines the code changes needed to resolve a ticket.
type PatchPlan struct {
	Summary       string   `json:"summary"`
	FilesImpacted []string `json:"files_impacted,omitempty"`
	ChangeOutline []string `json:"change_outline"`
	RiskLevel     string   `json:"risk_level,omitempty"`
	TestPlan      string   `json:"test_plan,omitempty"`
}
