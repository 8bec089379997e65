package pipeline

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/echofix/echofix/internal/models"
	"github.com/echofix/echofix/internal/reasoning"
	"github.com/echofix/echofix/internal/scm"
)

// RepoCloner checks out a repository for code generation.
type RepoCloner interface {
	Clone(ctx context.Context, url, branch, dir string) error
}

// GenerateResult is the outcome of one code generation run.
type GenerateResult struct {
	// Files maps repo-relative paths to complete new file contents.
	Files map[string]string `json:"files"`
	// Provider names the tier that produced each run's output.
	Provider string `json:"provider"`
	// Cloned reports whether a repository checkout was available.
	Cloned bool `json:"cloned"`
}

// CodeGenerator produces file edits for a ticket using an ordered fallback
// chain. The deterministic tier terminates the chain and always yields at
// least one file.
type CodeGenerator struct {
	providers []reasoning.Provider
	cloner    RepoCloner
	cfg       Config
}

// NewCodeGenerator builds a CodeGenerator. providers must end with the
// deterministic tier.
func NewCodeGenerator(cloner RepoCloner, cfg Config, providers ...reasoning.Provider) *CodeGenerator {
	return &CodeGenerator{providers: providers, cloner: cloner, cfg: cfg}
}

const maxTargets = 4

// Generate clones repoURL (bounded by the configured timeout), picks target
// files from the patch plan or by scanning the tree, and generates complete
// replacement contents. Clone failure is not fatal: generation proceeds
// without a checkout and the deterministic tier works from scratch.
func (g *CodeGenerator) Generate(ctx context.Context, ticket *models.Ticket, patchPlan *models.PatchPlan, repoURL, branch string) (*GenerateResult, error) {
	result := &GenerateResult{Files: make(map[string]string)}

	var checkout string
	if repoURL != "" && g.cloner != nil {
		dir, err := os.MkdirTemp("", "echofix-clone-*")
		if err != nil {
			return nil, fmt.Errorf("create clone dir: %w", err)
		}
		defer func() { _ = os.RemoveAll(dir) }()

		if err := g.cloner.Clone(ctx, repoURL, branch, dir); err == nil {
			checkout = dir
			result.Cloned = true
		}
	}

	targets := g.pickTargets(ticket, patchPlan, checkout)

	for _, target := range targets {
		current := ""
		if checkout != "" {
			content, err := scm.ReadFileBounded(checkout, target, g.cfg.MaxFileBytes)
			if err == nil {
				current = content
			}
		}

		content, provider, err := g.generateOne(ctx, ticket, target, current)
		if err != nil {
			return nil, err
		}
		result.Files[target] = content
		result.Provider = provider
	}

	if len(result.Files) == 0 {
		return nil, fmt.Errorf("no files generated for ticket %q", ticket.Title)
	}
	return result, nil
}

func (g *CodeGenerator) generateOne(ctx context.Context, ticket *models.Ticket, target, current string) (string, string, error) {
	var lastErr error
	for _, provider := range g.providers {
		content, err := provider.GenerateFileFix(ctx, ticket, target, current)
		if err != nil {
			lastErr = err
			continue
		}
		if content == "" {
			lastErr = fmt.Errorf("provider %s returned empty content for %s", provider.Name(), target)
			continue
		}
		return content, provider.Name(), nil
	}
	return "", "", fmt.Errorf("generate %s: %w", target, lastErr)
}

// pickTargets resolves which files to touch: the patch plan's list when it
// has one, otherwise a scan of the checkout guided by ticket keywords, and
// finally a canonical default set so the deterministic tier always has work.
func (g *CodeGenerator) pickTargets(ticket *models.Ticket, patchPlan *models.PatchPlan, checkout string) []string {
	if patchPlan != nil && len(patchPlan.FilesImpacted) > 0 {
		targets := patchPlan.FilesImpacted
		if len(targets) > maxTargets {
			targets = targets[:maxTargets]
		}
		return targets
	}

	class := classifyTicket(ticket)

	if checkout != "" {
		if files, err := scm.ListFiles(checkout); err == nil {
			if targets := matchTreeTargets(files, class); len(targets) > 0 {
				return targets
			}
		}
	}

	return defaultTargets(ticket, class)
}

type ticketClass int

const (
	classGeneric ticketClass = iota
	classVisual
	classAuth
	classUpload
)

func classifyTicket(ticket *models.Ticket) ticketClass {
	text := strings.ToLower(ticket.Title)
	switch {
	case strings.Contains(text, "dark") || strings.Contains(text, "theme") ||
		strings.Contains(text, "ui") || strings.Contains(text, "design"):
		return classVisual
	case strings.Contains(text, "auth") || strings.Contains(text, "login") ||
		strings.Contains(text, "password") || strings.Contains(text, "sign in"):
		return classAuth
	case strings.Contains(text, "upload") || strings.Contains(text, "import") ||
		strings.Contains(text, "attachment"):
		return classUpload
	default:
		return classGeneric
	}
}

// matchTreeTargets scans the file list for paths matching the class
// heuristics: visual tickets want a stylesheet, markup, and an entry point;
// other classes want files named after their concern.
func matchTreeTargets(files []string, class ticketClass) []string {
	var targets []string
	add := func(p string) {
		if len(targets) < maxTargets && !contains(targets, p) {
			targets = append(targets, p)
		}
	}

	switch class {
	case classVisual:
		for _, want := range []func(string) bool{
			func(f string) bool { return strings.HasSuffix(f, ".css") },
			func(f string) bool { return strings.HasSuffix(f, ".html") || strings.HasSuffix(f, ".htm") },
			func(f string) bool { return strings.HasSuffix(f, ".js") || strings.HasSuffix(f, ".ts") },
			func(f string) bool { base := path.Base(f); return base == "app.py" || base == "main.go" || base == "server.js" },
		} {
			for _, f := range files {
				if want(f) {
					add(f)
					break
				}
			}
		}
	case classAuth:
		for _, f := range files {
			name := strings.ToLower(path.Base(f))
			if strings.Contains(name, "auth") || strings.Contains(name, "login") || strings.Contains(name, "session") {
				add(f)
			}
		}
	case classUpload:
		for _, f := range files {
			name := strings.ToLower(path.Base(f))
			if strings.Contains(name, "upload") || strings.Contains(name, "file") || strings.Contains(name, "import") {
				add(f)
			}
		}
	}
	return targets
}

func defaultTargets(ticket *models.Ticket, class ticketClass) []string {
	if class == classVisual {
		return []string{"static/style.css", "static/theme.js", "index.html"}
	}
	return []string{"docs/echofix/" + slugify(ticket.Title) + ".md"}
}

func slugify(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			sb.WriteRune('-')
		}
	}
	slug := strings.Trim(sb.String(), "-")
	if slug == "" {
		slug = "fix"
	}
	if len(slug) > 48 {
		slug = slug[:48]
	}
	return slug
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
