// Package plan renders the markdown plan-of-attack document that accompanies
// each synthesized ticket.
package plan

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/echofix/echofix/internal/models"
)

var wordRe = regexp.MustCompile(`\b[a-zA-Z]{4,}\b`)

// ExtractKeywords returns the most frequent words of four letters or more,
// lowercased, up to limit. Ties resolve alphabetically so output is stable.
func ExtractKeywords(text string, limit int) []string {
	words := wordRe.FindAllString(strings.ToLower(text), -1)
	counts := make(map[string]int)
	for _, w := range words {
		counts[w]++
	}

	unique := make([]string, 0, len(counts))
	for w := range counts {
		unique = append(unique, w)
	}
	sort.Slice(unique, func(i, j int) bool {
		if counts[unique[i]] != counts[unique[j]] {
			return counts[unique[i]] > counts[unique[j]]
		}
		return unique[i] < unique[j]
	})

	if limit > 0 && len(unique) > limit {
		unique = unique[:limit]
	}
	return unique
}

// Build renders the plan markdown for an insight's ticket and patch plan.
// items are the insight's member feedback items, strongest evidence first.
func Build(insight *models.Insight, ticket *models.Ticket, patchPlan *models.PatchPlan, items []*models.FeedbackItem, now time.Time) string {
	keywords := ExtractKeywords(strings.Join([]string{
		ticket.Title, ticket.ProblemStatement, ticket.ExpectedBehavior,
	}, " "), 5)

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Plan: %s\n\n", ticket.Title)
	fmt.Fprintf(&sb, "_Generated for insight `%s` on %s_\n\n", insight.ID, now.UTC().Format(time.RFC3339))

	sb.WriteString("## Overview\n")
	fmt.Fprintf(&sb, "- **Problem**: %s\n", ticket.ProblemStatement)
	fmt.Fprintf(&sb, "- **Theme**: %s (%d reports)\n\n", insight.Theme, insight.EntryCount)

	sb.WriteString("## Evidence\n")
	if len(items) > 0 {
		lead := items[0]
		fmt.Fprintf(&sb, "- Score: **%d** upvotes\n", lead.Score)
		fmt.Fprintf(&sb, "- Author: %s\n", lead.Author)
		fmt.Fprintf(&sb, "- Forum: %s\n", lead.Forum)
		fmt.Fprintf(&sb, "- Link: %s\n", lead.Permalink)
		for _, extra := range rest(items, 2) {
			fmt.Fprintf(&sb, "- Related: [%s](%s) (%d upvotes)\n", extra.Permalink, extra.Permalink, extra.Score)
		}
	}
	sb.WriteString("\n")

	sb.WriteString("## Observed Signals\n")
	fmt.Fprintf(&sb, "- Keywords: %s\n", orNA(strings.Join(keywords, ", ")))
	fmt.Fprintf(&sb, "- Acceptance criteria: %d items\n\n", len(ticket.AcceptanceCriteria))

	sb.WriteString("## Proposed Fix Approach\n")
	steps := patchPlan.ChangeOutline
	if len(steps) == 0 {
		steps = ticket.AcceptanceCriteria
	}
	if len(steps) == 0 {
		steps = []string{"Analyze logs & reproduce locally."}
	}
	for i, step := range steps {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, step)
	}
	sb.WriteString("\n")

	sb.WriteString("## Acceptance Criteria\n")
	for _, criterion := range ticket.AcceptanceCriteria {
		fmt.Fprintf(&sb, "- %s\n", criterion)
	}
	sb.WriteString("\n")

	sb.WriteString("## Risks & Edge Cases\n")
	risk := ticket.SuspectedRootCause
	if risk == "" {
		risk = "Risk details pending."
	}
	fmt.Fprintf(&sb, "- %s\n", risk)
	if patchPlan.RiskLevel != "" {
		fmt.Fprintf(&sb, "- Risk level: %s\n", patchPlan.RiskLevel)
	}
	sb.WriteString("\n")

	sb.WriteString("## Owner Suggestions\n")
	fmt.Fprintf(&sb, "- Suggested component: %s\n", insight.Theme)
	fmt.Fprintf(&sb, "- Suggested priority: %s\n", ticket.Priority)

	return sb.String()
}

// RepoPath returns the in-repo location for a plan document.
func RepoPath(template, externalID string) string {
	if template == "" {
		template = "docs/echofix_plans/{id}.md"
	}
	return strings.ReplaceAll(template, "{id}", externalID)
}

// Save writes the plan locally and returns its path.
func Save(content, dir, externalID string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create plan dir: %w", err)
	}
	path := filepath.Join(dir, externalID+".md")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("write plan: %w", err)
	}
	return path, nil
}

func rest(items []*models.FeedbackItem, limit int) []*models.FeedbackItem {
	if len(items) <= 1 {
		return nil
	}
	tail := items[1:]
	if len(tail) > limit {
		tail = tail[:limit]
	}
	return tail
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
