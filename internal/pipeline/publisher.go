package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/echofix/echofix/internal/models"
	"github.com/echofix/echofix/internal/plan"
	"github.com/echofix/echofix/internal/scm"
	"github.com/echofix/echofix/internal/store"
)

// PublishTicketResult reports the ticket publish outcome.
type PublishTicketResult struct {
	IssueNumber    int    `json:"issue_number"`
	IssueURL       string `json:"issue_url"`
	AlreadyExisted bool   `json:"already_existed"`
	ItemsProcessed int    `json:"items_processed"`
	ItemsSkipped   int    `json:"items_skipped"`
	PlanPath       string `json:"plan_path,omitempty"`
}

// PublishPRResult reports the pull request publish outcome.
type PublishPRResult struct {
	PRNumber       int    `json:"pr_number"`
	PRURL          string `json:"pr_url"`
	Branch         string `json:"branch"`
	FilesCommitted int    `json:"files_committed"`
	Provider       string `json:"provider"`
	AlreadyExisted bool   `json:"already_existed"`
}

// Publisher files tickets and pull requests for analyzed insights.
type Publisher struct {
	store   store.Store
	scm     scm.SCM
	codegen *CodeGenerator
	cfg     Config
	now     func() time.Time
}

// NewPublisher builds a Publisher.
func NewPublisher(st store.Store, client scm.SCM, codegen *CodeGenerator, cfg Config) *Publisher {
	return &Publisher{store: st, scm: client, codegen: codegen, cfg: cfg, now: time.Now}
}

// PublishTicket files the insight's ticket as a GitHub issue and marks the
// member items processed. Publishing is idempotent: an insight that already
// carries a ticket URL returns it without filing a duplicate.
func (p *Publisher) PublishTicket(ctx context.Context, insightID string) (*PublishTicketResult, error) {
	insight, err := p.store.GetInsight(ctx, insightID)
	if err != nil {
		return nil, err
	}
	if insight.Ticket == nil {
		return nil, fmt.Errorf("insight %s has no ticket; run analysis first", insightID)
	}
	if insight.TicketURL != "" {
		return &PublishTicketResult{
			IssueNumber:    insight.TicketNumber,
			IssueURL:       insight.TicketURL,
			AlreadyExisted: true,
		}, nil
	}

	repoCfg, err := p.store.GetRepoConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("repo config required: %w", err)
	}

	items, err := p.store.ListInsightItems(ctx, insightID)
	if err != nil {
		return nil, err
	}

	result := &PublishTicketResult{}

	if !repoCfg.AutoCreateTickets {
		for _, item := range items {
			item.Status = models.FeedbackSkipped
			_ = p.store.UpdateFeedbackItem(ctx, item)
			result.ItemsSkipped++
		}
		p.log(ctx, insightID, models.LogInfo, "publish_ticket", "ticket creation disabled, items skipped", nil)
		return result, nil
	}

	body := FormatTicketBody(insight.Ticket, items)
	issue, err := p.scm.OpenTicket(ctx, repoCfg.Owner, repoCfg.Repo, insight.Ticket.Title, body, insight.Ticket.Labels)
	if err != nil {
		p.log(ctx, insightID, models.LogError, "publish_ticket", fmt.Sprintf("open ticket: %v", err), nil)
		return nil, err
	}

	insight.TicketNumber = issue.Number
	insight.TicketURL = issue.URL
	insight.Status = models.InsightInProgress
	if err := p.store.UpdateInsight(ctx, insight); err != nil {
		return nil, err
	}
	result.IssueNumber = issue.Number
	result.IssueURL = issue.URL

	// Each member item is claimed individually so overlapping runs never
	// double-process.
	now := p.now().UTC()
	for _, item := range items {
		claimed, err := p.store.ClaimFeedbackItem(ctx, item.ID)
		if err != nil {
			return result, err
		}
		if !claimed {
			result.ItemsSkipped++
			continue
		}
		item.Status = models.FeedbackProcessed
		item.ProcessedAt = &now
		item.TicketURL = issue.URL
		if err := p.store.UpdateFeedbackItem(ctx, item); err != nil {
			return result, err
		}
		result.ItemsProcessed++
	}

	if p.cfg.PRAutomation && len(items) > 0 {
		planPath, err := p.commitPlan(ctx, insight, items, repoCfg)
		if err != nil {
			p.log(ctx, insightID, models.LogWarn, "publish_ticket", fmt.Sprintf("plan commit failed: %v", err), nil)
		} else {
			result.PlanPath = planPath
		}
	}

	p.log(ctx, insightID, models.LogInfo, "publish_ticket",
		fmt.Sprintf("issue #%d filed", issue.Number),
		map[string]any{"issue_url": issue.URL})
	return result, nil
}

// commitPlan renders the plan document, saves it locally, and commits it to
// the insight's work branch.
func (p *Publisher) commitPlan(ctx context.Context, insight *models.Insight, items []*models.FeedbackItem, repoCfg *models.RepoConfig) (string, error) {
	lead := leadItem(items)
	content := plan.Build(insight, insight.Ticket, patchPlanOrEmpty(insight), items, p.now())
	repoPath := plan.RepoPath(p.cfg.PlanPathTemplate, lead.ExternalID)

	localPath, err := plan.Save(content, p.cfg.PlanDir, lead.ExternalID)
	if err != nil {
		return "", err
	}

	branch := branchName(lead.ExternalID)
	if err := p.scm.CreateBranch(ctx, repoCfg.Owner, repoCfg.Repo, branch, repoCfg.Branch); err != nil {
		return localPath, err
	}
	if err := p.scm.CommitFile(ctx, repoCfg.Owner, repoCfg.Repo, branch, repoPath,
		[]byte(content), "Add EchoFix plan for "+lead.ExternalID); err != nil {
		return localPath, err
	}

	// Record the plan location on the member items.
	for _, item := range items {
		if item.PlanPath != repoPath {
			item.PlanPath = repoPath
			_ = p.store.UpdateFeedbackItem(ctx, item)
		}
	}
	return repoPath, nil
}

// PublishPR generates file fixes and opens a pull request. An already-open
// PR for the branch is picked up instead of treated as a failure.
func (p *Publisher) PublishPR(ctx context.Context, insightID string) (*PublishPRResult, error) {
	insight, err := p.store.GetInsight(ctx, insightID)
	if err != nil {
		return nil, err
	}
	if insight.Ticket == nil {
		return nil, fmt.Errorf("insight %s has no ticket; run analysis first", insightID)
	}
	if insight.PRURL != "" {
		return &PublishPRResult{
			PRNumber:       insight.PRNumber,
			PRURL:          insight.PRURL,
			AlreadyExisted: true,
		}, nil
	}

	repoCfg, err := p.store.GetRepoConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("repo config required: %w", err)
	}

	items, err := p.store.ListInsightItems(ctx, insightID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("insight %s has no member items", insightID)
	}

	lead := leadItem(items)
	branch := branchName(lead.ExternalID)
	repoURL := fmt.Sprintf("https://github.com/%s/%s.git", repoCfg.Owner, repoCfg.Repo)

	generated, err := p.codegen.Generate(ctx, insight.Ticket, patchPlanOrEmpty(insight), repoURL, repoCfg.Branch)
	if err != nil {
		p.log(ctx, insightID, models.LogError, "publish_pr", fmt.Sprintf("codegen: %v", err), nil)
		return nil, err
	}

	if err := p.scm.CreateBranch(ctx, repoCfg.Owner, repoCfg.Repo, branch, repoCfg.Branch); err != nil {
		return nil, err
	}

	result := &PublishPRResult{Branch: branch, Provider: generated.Provider}
	for path, content := range generated.Files {
		if err := p.scm.CommitFile(ctx, repoCfg.Owner, repoCfg.Repo, branch, path,
			[]byte(content), fmt.Sprintf("%s (%s)", insight.Ticket.Title, path)); err != nil {
			return result, fmt.Errorf("commit %s: %w", path, err)
		}
		result.FilesCommitted++
	}

	title := insight.Ticket.Title
	body := formatPRBody(insight)
	pr, err := p.scm.OpenPullRequest(ctx, repoCfg.Owner, repoCfg.Repo, branch, repoCfg.Branch, title, body)
	if errors.Is(err, scm.ErrPRExists) {
		pr, err = p.scm.FindOpenPR(ctx, repoCfg.Owner, repoCfg.Repo, branch)
		if err == nil && pr != nil {
			result.AlreadyExisted = true
		}
	}
	if err != nil {
		p.log(ctx, insightID, models.LogError, "publish_pr", fmt.Sprintf("open PR: %v", err), nil)
		return result, err
	}
	if pr == nil {
		return result, fmt.Errorf("no PR found for branch %s", branch)
	}

	insight.PRNumber = pr.Number
	insight.PRURL = pr.URL
	insight.Status = models.InsightInProgress
	if err := p.store.UpdateInsight(ctx, insight); err != nil {
		return result, err
	}

	for _, item := range items {
		if item.PRURL != pr.URL {
			item.PRURL = pr.URL
			_ = p.store.UpdateFeedbackItem(ctx, item)
		}
	}

	result.PRNumber = pr.Number
	result.PRURL = pr.URL
	p.log(ctx, insightID, models.LogInfo, "publish_pr",
		fmt.Sprintf("PR #%d opened from %s", pr.Number, branch),
		map[string]any{"pr_url": pr.URL, "provider": generated.Provider})
	return result, nil
}

// FormatTicketBody renders the GitHub issue body for a ticket.
func FormatTicketBody(ticket *models.Ticket, items []*models.FeedbackItem) string {
	var sb strings.Builder

	sb.WriteString("## Problem Statement\n")
	sb.WriteString(ticket.ProblemStatement)
	sb.WriteString("\n\n")

	if len(ticket.ReproSteps) > 0 {
		sb.WriteString("## Steps to Reproduce\n")
		for i, step := range ticket.ReproSteps {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, step)
		}
		sb.WriteString("\n")
	}

	if ticket.ExpectedBehavior != "" {
		sb.WriteString("## Expected Behavior\n")
		sb.WriteString(ticket.ExpectedBehavior)
		sb.WriteString("\n\n")
	}
	if ticket.ActualBehavior != "" {
		sb.WriteString("## Actual Behavior\n")
		sb.WriteString(ticket.ActualBehavior)
		sb.WriteString("\n\n")
	}
	if ticket.SuspectedRootCause != "" {
		sb.WriteString("## Suspected Root Cause\n")
		sb.WriteString(ticket.SuspectedRootCause)
		sb.WriteString("\n\n")
	}

	sb.WriteString("## Acceptance Criteria\n")
	for _, criterion := range ticket.AcceptanceCriteria {
		fmt.Fprintf(&sb, "- [ ] %s\n", criterion)
	}
	sb.WriteString("\n")

	sb.WriteString("## User Feedback\n")
	fmt.Fprintf(&sb, "Based on %d posts/comments:\n\n", len(items))
	shown := items
	if len(shown) > 5 {
		shown = shown[:5]
	}
	for i, item := range shown {
		fmt.Fprintf(&sb, "%d. [%d upvotes](%s)\n", i+1, item.Score, item.Permalink)
	}
	if len(items) > 5 {
		fmt.Fprintf(&sb, "\n...and %d more\n", len(items)-5)
	}

	return sb.String()
}

func formatPRBody(insight *models.Insight) string {
	var sb strings.Builder
	sb.WriteString(insight.Ticket.ProblemStatement)
	sb.WriteString("\n\n")
	if insight.TicketURL != "" {
		fmt.Fprintf(&sb, "Closes %s\n\n", insight.TicketURL)
	}
	if insight.PatchPlan != nil && insight.PatchPlan.Summary != "" {
		sb.WriteString("## Approach\n")
		sb.WriteString(insight.PatchPlan.Summary)
		sb.WriteString("\n")
	}
	return sb.String()
}

// branchName is the work branch for an insight, keyed by its lead item.
func branchName(externalID string) string {
	return "echofix/" + externalID
}

// leadItem is the highest-scored member, the anchor for branches and plans.
func leadItem(items []*models.FeedbackItem) *models.FeedbackItem {
	lead := items[0]
	for _, item := range items[1:] {
		if item.Score > lead.Score {
			lead = item
		}
	}
	return lead
}

func patchPlanOrEmpty(insight *models.Insight) *models.PatchPlan {
	if insight.PatchPlan != nil {
		return insight.PatchPlan
	}
	return &models.PatchPlan{}
}

func (p *Publisher) log(ctx context.Context, insightID string, level models.LogLevel, step, message string, metadata map[string]any) {
	_ = p.store.AppendExecutionLog(ctx, &models.ExecutionLogEntry{
		InsightID: insightID,
		Level:     level,
		StepName:  step,
		Message:   message,
		Metadata:  metadata,
	})
}
