package reasoning

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echofix/echofix/internal/models"
)

func TestBuildTicketPrompt(t *testing.T) {
	insight := &models.Insight{
		Theme:       "Authentication Issues",
		Description: "Users report login and authentication failures.",
	}
	items := []*models.FeedbackItem{
		{ExternalID: "abc123", Title: "Login broken", Body: "cannot sign in", Permalink: "/r/acmeapp/comments/abc123", Score: 7},
		{ExternalID: "com1", Body: "same here", Permalink: "/r/acmeapp/comments/abc123/com1", Score: 3},
	}

	system, user := buildTicketPrompt(insight, items)

	assert.Contains(t, system, "JSON")
	assert.Contains(t, user, "Authentication Issues")
	assert.Contains(t, user, "abc123")
	assert.Contains(t, user, "com1")
	assert.Contains(t, user, "cannot sign in")
	assert.Contains(t, user, "Feedback items (2)")
}

func TestBuildTicketPrompt_TruncatesLongBodies(t *testing.T) {
	insight := &models.Insight{Theme: "General Feedback"}
	items := []*models.FeedbackItem{
		{ExternalID: "long1", Body: strings.Repeat("x", 1000), Permalink: "/p"},
	}

	_, user := buildTicketPrompt(insight, items)
	assert.NotContains(t, user, strings.Repeat("x", 300))
	assert.Contains(t, user, strings.Repeat("x", excerptLimit)+"...")
}

func TestBuildFixPrompt(t *testing.T) {
	ticket := &models.Ticket{
		Title:              "Add dark mode",
		ProblemStatement:   "Users want a dark theme",
		AcceptanceCriteria: []string{"Theme persists across sessions"},
	}

	system, user := buildFixPrompt(ticket, "static/style.css", "body { color: black; }")
	assert.Contains(t, system, "COMPLETE")
	assert.Contains(t, user, "static/style.css")
	assert.Contains(t, user, "body { color: black; }")
	assert.Contains(t, user, "1. Theme persists across sessions")

	_, user = buildFixPrompt(ticket, "static/theme.js", "")
	assert.Contains(t, user, "does not exist yet")
}

func TestStripMarkdownFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripMarkdownFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripMarkdownFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripMarkdownFences(`  {"a":1}  `))
}

func TestParseTicketPayload(t *testing.T) {
	raw := "```json\n" + `{
		"ticket": {
			"title": "Fix login",
			"problem_statement": "users cannot log in",
			"acceptance_criteria": ["login works"],
			"priority": "high",
			"labels": ["bug"],
			"evidence": [{"external_id": "abc123", "permalink": "/p", "score": 7}]
		},
		"patch_plan": {
			"summary": "fix token parsing",
			"files_impacted": ["auth/session.go"],
			"risk_level": "low"
		}
	}` + "\n```"

	ticket, plan, err := parseTicketPayload(raw)
	require.NoError(t, err)
	assert.Equal(t, "Fix login", ticket.Title)
	assert.Equal(t, models.PriorityHigh, ticket.Priority)
	require.Len(t, ticket.Evidence, 1)
	assert.Equal(t, []string{"auth/session.go"}, plan.FilesImpacted)
}

func TestParseTicketPayload_Defaults(t *testing.T) {
	ticket, _, err := parseTicketPayload(`{"ticket": {"title": "Fix it", "priority": "urgent"}, "patch_plan": {}}`)
	require.NoError(t, err)
	assert.Equal(t, models.PriorityMedium, ticket.Priority, "unknown priority falls back to medium")
	assert.NotEmpty(t, ticket.AcceptanceCriteria)
}

func TestParseTicketPayload_Errors(t *testing.T) {
	_, _, err := parseTicketPayload("not json at all")
	assert.Error(t, err)

	_, _, err = parseTicketPayload(`{"ticket": {}, "patch_plan": {}}`)
	assert.ErrorContains(t, err, "missing title")
}
