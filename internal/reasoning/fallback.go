package reasoning

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/echofix/echofix/internal/models"
)

// DeterministicProvider is the terminal tier of the fallback chain. It never
// calls out and never fails for a well-formed ticket, so the pipeline cannot
// block on an unavailable reasoning dependency.
type DeterministicProvider struct{}

// NewDeterministicProvider returns the rule-based provider.
func NewDeterministicProvider() *DeterministicProvider {
	return &DeterministicProvider{}
}

func (p *DeterministicProvider) Name() string { return "deterministic" }

// SynthesizeTicket builds a minimally valid ticket from the insight's theme
// and member items, without any model call.
func (p *DeterministicProvider) SynthesizeTicket(ctx context.Context, insight *models.Insight, items []*models.FeedbackItem) (*models.Ticket, *models.PatchPlan, error) {
	if len(items) == 0 {
		return nil, nil, fmt.Errorf("insight %s has no member items", insight.ID)
	}

	// Highest-scored items first so the strongest evidence leads.
	sorted := append([]*models.FeedbackItem(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	evidence := make([]models.EvidenceRef, 0, len(sorted))
	totalScore := 0
	for _, item := range sorted {
		excerpt := item.Body
		if excerpt == "" {
			excerpt = item.Title
		}
		evidence = append(evidence, models.EvidenceRef{
			ExternalID: item.ExternalID,
			Permalink:  item.Permalink,
			Excerpt:    truncate(excerpt, excerptLimit),
			Score:      item.Score,
		})
		totalScore += item.Score
	}

	featureRequest := isFeatureTheme(insight.Theme)

	ticket := &models.Ticket{
		Title: ticketTitle(insight.Theme, featureRequest),
		ProblemStatement: fmt.Sprintf("%d user reports grouped under %q (combined score %d). Strongest report: %q (%s).",
			len(items), insight.Theme, totalScore,
			truncate(firstNonEmpty(sorted[0].Title, sorted[0].Body), 120), sorted[0].Permalink),
		ExpectedBehavior: fmt.Sprintf("The behavior described under %q works as users expect.", insight.Theme),
		AcceptanceCriteria: []string{
			fmt.Sprintf("The reports grouped under %q are addressed.", insight.Theme),
			"A regression test covers the reported scenario.",
		},
		Priority: priorityFromEngagement(len(items), totalScore),
		Labels:   labelsForTheme(insight.Theme, featureRequest),
		Evidence: evidence,
	}
	if !featureRequest {
		ticket.ActualBehavior = fmt.Sprintf("Users report failures matching the %q theme.", insight.Theme)
	}

	plan := &models.PatchPlan{
		Summary:   fmt.Sprintf("Address the %q reports starting from the highest-scored evidence.", insight.Theme),
		RiskLevel: "low",
		ChangeOutline: []string{
			"Reproduce the reported behavior using the evidence links.",
			"Apply the smallest change that satisfies the acceptance criteria.",
			"Add a regression test.",
		},
		TestPlan: "Verify each acceptance criterion manually, then run the test suite.",
	}
	return ticket, plan, nil
}

// GenerateFileFix produces deterministic, syntactically plausible content for
// the file's extension. Existing content is preserved and extended; missing
// files are written from scratch.
func (p *DeterministicProvider) GenerateFileFix(ctx context.Context, ticket *models.Ticket, path, current string) (string, error) {
	marker := fmt.Sprintf("echofix: %s", ticket.Title)
	if strings.Contains(current, marker) {
		return current, nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".css":
		return appendBlock(current, cssBlock(marker)), nil
	case ".js", ".ts":
		return appendBlock(current, jsBlock(marker)), nil
	case ".html", ".htm":
		return htmlWithToggle(current, marker), nil
	case ".py":
		return appendBlock(current, pyBlock(marker)), nil
	case ".go":
		return appendBlock(current, goBlock(marker, current == "")), nil
	default:
		return appendBlock(current, noteBlock(marker, ticket)), nil
	}
}

func ticketTitle(theme string, featureRequest bool) string {
	if featureRequest {
		return "Implement " + theme
	}
	return "Fix " + theme
}

func isFeatureTheme(theme string) bool {
	lower := strings.ToLower(theme)
	return strings.Contains(lower, "request") || strings.Contains(lower, "feature")
}

func priorityFromEngagement(count, totalScore int) models.Priority {
	switch {
	case totalScore >= 50 || count >= 10:
		return models.PriorityCritical
	case totalScore >= 20 || count >= 5:
		return models.PriorityHigh
	case totalScore >= 5 || count >= 2:
		return models.PriorityMedium
	default:
		return models.PriorityLow
	}
}

func labelsForTheme(theme string, featureRequest bool) []string {
	labels := []string{"echofix"}
	if featureRequest {
		labels = append(labels, "enhancement")
	} else {
		labels = append(labels, "bug")
	}
	lower := strings.ToLower(theme)
	switch {
	case strings.Contains(lower, "auth"):
		labels = append(labels, "auth")
	case strings.Contains(lower, "upload") || strings.Contains(lower, "file"):
		labels = append(labels, "uploads")
	case strings.Contains(lower, "dark"):
		labels = append(labels, "ui")
	case strings.Contains(lower, "performance"):
		labels = append(labels, "performance")
	case strings.Contains(lower, "ui") || strings.Contains(lower, "ux"):
		labels = append(labels, "ui")
	}
	return labels
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func appendBlock(current, block string) string {
	if current == "" {
		return block
	}
	return strings.TrimRight(current, "\n") + "\n\n" + block
}

func cssBlock(marker string) string {
	return fmt.Sprintf(`/* %s */
:root[data-theme="dark"] {
  color-scheme: dark;
  --bg-color: #1e1e2e;
  --fg-color: #e0e0e6;
  --accent-color: #89b4fa;
}

:root[data-theme="dark"] body {
  background-color: var(--bg-color);
  color: var(--fg-color);
}

:root[data-theme="dark"] a {
  color: var(--accent-color);
}
`, marker)
}

func jsBlock(marker string) string {
	return fmt.Sprintf(`// %s
(function () {
  const stored = localStorage.getItem("theme") || "light";
  document.documentElement.setAttribute("data-theme", stored);

  const toggle = document.getElementById("theme-toggle");
  if (toggle) {
    toggle.addEventListener("click", function () {
      const current = document.documentElement.getAttribute("data-theme");
      const next = current === "dark" ? "light" : "dark";
      document.documentElement.setAttribute("data-theme", next);
      localStorage.setItem("theme", next);
      fetch("/api/preferences/theme", {
        method: "POST",
        headers: { "Content-Type": "application/json" },
        body: JSON.stringify({ theme: next }),
      }).catch(function () {});
    });
  }
})();
`, marker)
}

func htmlWithToggle(current, marker string) string {
	button := fmt.Sprintf(`  <!-- %s -->
  <button id="theme-toggle" type="button" aria-label="Toggle theme">Toggle theme</button>
`, marker)
	if idx := strings.Index(current, "</body>"); idx >= 0 {
		return current[:idx] + button + current[idx:]
	}
	if current == "" {
		return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>Settings</title>
</head>
<body>
%s</body>
</html>
`, button)
	}
	return strings.TrimRight(current, "\n") + "\n" + button
}

func pyBlock(marker string) string {
	return fmt.Sprintf(`# %s
@app.route("/api/preferences/theme", methods=["POST"])
def set_theme_preference():
    payload = request.get_json(silent=True) or {}
    theme = payload.get("theme", "light")
    if theme not in ("light", "dark"):
        return jsonify({"error": "invalid theme"}), 400
    session["theme"] = theme
    return jsonify({"theme": theme})
`, marker)
}

func goBlock(marker string, fromScratch bool) string {
	handler := fmt.Sprintf(`// %s
func handleThemePreference(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Theme string `+"`json:\"theme\"`"+`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if payload.Theme != "light" && payload.Theme != "dark" {
		http.Error(w, "invalid theme", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
`, marker)
	if fromScratch {
		return "package main\n\nimport (\n\t\"encoding/json\"\n\t\"net/http\"\n)\n\n" + handler
	}
	return handler
}

func noteBlock(marker string, ticket *models.Ticket) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<!-- %s -->\n\n", marker)
	fmt.Fprintf(&sb, "# %s\n\n%s\n\n", ticket.Title, ticket.ProblemStatement)
	sb.WriteString("## Acceptance criteria\n\n")
	for i, criterion := range ticket.AcceptanceCriteria {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, criterion)
	}
	return sb.String()
}
