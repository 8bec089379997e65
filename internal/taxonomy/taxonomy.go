// Package taxonomy classifies feedback text into themes using ordered
// keyword rules. Matching is a pure function over the rule list, so results
// are deterministic for a given rule configuration.
package taxonomy

import "strings"

// Rule pairs a theme label with the keywords that select it.
type Rule struct {
	Theme       string   `json:"theme" yaml:"theme"`
	Description string   `json:"description" yaml:"description"`
	Keywords    []string `json:"keywords" yaml:"keywords"`
}

// DefaultTheme is assigned when no rule matches.
const DefaultTheme = "General Feedback"

// DefaultDescription accompanies the default theme.
const DefaultDescription = "Mixed feedback without a dominant theme yet."

// DefaultRules is the built-in rule set, in priority order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Theme:       "Authentication Issues",
			Description: "Users report login and authentication failures.",
			Keywords:    []string{"auth", "login", "log in", "sign in", "signin", "password", "2fa", "mfa", "oauth"},
		},
		{
			Theme:       "File Upload Issues",
			Description: "Users report problems uploading or importing files.",
			Keywords:    []string{"upload", "file", "attachment", "import", "csv"},
		},
		{
			Theme:       "Dark Mode Requests",
			Description: "Users request a dark mode option.",
			Keywords:    []string{"dark mode", "dark theme", "night mode"},
		},
		{
			Theme:       "Performance Issues",
			Description: "Users report slowness or performance regressions.",
			Keywords:    []string{"slow", "lag", "performance", "timeout", "loading", "freeze"},
		},
		{
			Theme:       "UI/UX Issues",
			Description: "Users report usability or interface issues.",
			Keywords:    []string{"ui", "ux", "layout", "button", "design", "navigation"},
		},
	}
}

// Match classifies a title and body against the rules. Each rule scores one
// point per distinct keyword found in the text; the highest score wins and
// ties go to the earlier rule. Text with no keyword hits gets DefaultTheme.
func Match(rules []Rule, title, body string) (theme, description string) {
	text := strings.ToLower(title + "\n" + body)

	bestScore := 0
	theme = DefaultTheme
	description = DefaultDescription

	for _, rule := range rules {
		score := 0
		for _, keyword := range rule.Keywords {
			if strings.Contains(text, strings.ToLower(keyword)) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			theme = rule.Theme
			description = rule.Description
		}
	}
	return theme, description
}
