package reasoning

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/echofix/echofix/internal/models"
)

const excerptLimit = 280

// ticketPayload is the JSON shape both providers are asked to return.
type ticketPayload struct {
	Ticket    models.Ticket    `json:"ticket"`
	PatchPlan models.PatchPlan `json:"patch_plan"`
}

// buildTicketPrompt constructs the system and user prompts for ticket synthesis.
func buildTicketPrompt(insight *models.Insight, items []*models.FeedbackItem) (system string, user string) {
	system = `You turn grouped user feedback into a structured engineering ticket. Return ONLY a JSON object with two fields, "ticket" and "patch_plan".

"ticket" fields:
- "title": concise, actionable issue title
- "problem_statement": what is broken or requested, citing concrete evidence from the feedback
- "repro_steps": ordered list of reproduction steps (empty array for feature requests)
- "expected_behavior": what should happen
- "actual_behavior": what happens instead (empty string for feature requests)
- "suspected_root_cause": best guess at the cause, or empty string
- "acceptance_criteria": ordered list, at least one item
- "priority": one of "critical", "high", "medium", "low"
- "labels": short lowercase labels like "bug", "auth", "ui"
- "evidence": array of {"external_id", "permalink", "excerpt", "score"} referencing every feedback item

"patch_plan" fields:
- "summary": one-paragraph description of the fix
- "files_impacted": likely file paths, relative to the repository root
- "change_outline": ordered list of concrete changes
- "risk_level": one of "low", "medium", "high"
- "test_plan": how to verify the fix

Rules:
- Every feedback item must appear in the evidence array
- Priority reflects severity and how many users are affected
- Return valid JSON only, no markdown fencing or explanation`

	var sb strings.Builder
	sb.WriteString("Theme: ")
	sb.WriteString(insight.Theme)
	sb.WriteString("\n")
	if insight.Description != "" {
		sb.WriteString("Theme description: ")
		sb.WriteString(insight.Description)
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "Feedback items (%d):\n\n", len(items))
	for _, item := range items {
		fmt.Fprintf(&sb, "- id: %s\n  permalink: %s\n  score: %d\n", item.ExternalID, item.Permalink, item.Score)
		if item.Title != "" {
			fmt.Fprintf(&sb, "  title: %s\n", item.Title)
		}
		if item.Body != "" {
			fmt.Fprintf(&sb, "  body: %s\n", truncate(item.Body, excerptLimit))
		}
	}
	user = sb.String()
	return
}

// buildFixPrompt constructs the system and user prompts for a single-file fix.
func buildFixPrompt(ticket *models.Ticket, path, current string) (system string, user string) {
	system = `You are implementing a fix for the ticket below. You will be given one file. Return the COMPLETE new content of that file with the fix applied.

Rules:
- Return ONLY the file content, no markdown fencing, no explanation
- Preserve the existing style and structure of the file
- If the current content is empty, write the file from scratch
- Never truncate: the output must be the entire file`

	var sb strings.Builder
	sb.WriteString("Ticket: ")
	sb.WriteString(ticket.Title)
	sb.WriteString("\n\n")
	sb.WriteString(ticket.ProblemStatement)
	sb.WriteString("\n")
	if len(ticket.AcceptanceCriteria) > 0 {
		sb.WriteString("\nAcceptance criteria:\n")
		for i, criterion := range ticket.AcceptanceCriteria {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, criterion)
		}
	}
	fmt.Fprintf(&sb, "\nFile: %s\n", path)
	if current == "" {
		sb.WriteString("\nThe file does not exist yet. Create it.\n")
	} else {
		sb.WriteString("\nCurrent content:\n")
		sb.WriteString(current)
		sb.WriteString("\n")
	}
	user = sb.String()
	return
}

// stripMarkdownFences removes a surrounding ``` block if the model added one.
func stripMarkdownFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}

func parseTicketPayload(text string) (*models.Ticket, *models.PatchPlan, error) {
	text = stripMarkdownFences(text)
	var payload ticketPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, nil, fmt.Errorf("parse ticket response as JSON: %w\nraw response: %s", err, text)
	}
	if payload.Ticket.Title == "" {
		return nil, nil, fmt.Errorf("ticket response missing title")
	}
	if !models.ValidPriority(payload.Ticket.Priority) {
		payload.Ticket.Priority = models.PriorityMedium
	}
	if len(payload.Ticket.AcceptanceCriteria) == 0 {
		payload.Ticket.AcceptanceCriteria = []string{"The reported behavior no longer occurs."}
	}
	return &payload.Ticket, &payload.PatchPlan, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
