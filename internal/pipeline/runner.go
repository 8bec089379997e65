package pipeline

import (
	"context"
	"errors"

	"github.com/echofix/echofix/internal/models"
	"github.com/echofix/echofix/internal/store"
)

// RunResult aggregates one full pipeline pass.
type RunResult struct {
	Refresh   *RefreshResult         `json:"refresh"`
	Group     *GroupResult           `json:"group"`
	Analyzed  int                    `json:"analyzed"`
	Tickets   []*PublishTicketResult `json:"tickets,omitempty"`
	PRs       []*PublishPRResult     `json:"prs,omitempty"`
	Approvals *ApprovalResult        `json:"approvals"`
	Errors    []string               `json:"errors,omitempty"`
}

// Runner wires the pipeline steps into one end-to-end pass.
type Runner struct {
	store       store.Store
	refresher   *Refresher
	grouper     *Grouper
	synthesizer *Synthesizer
	publisher   *Publisher
	gate        *ApprovalGate
}

// NewRunner builds a Runner from already-constructed components.
func NewRunner(st store.Store, refresher *Refresher, grouper *Grouper, synthesizer *Synthesizer, publisher *Publisher, gate *ApprovalGate) *Runner {
	return &Runner{
		store:       st,
		refresher:   refresher,
		grouper:     grouper,
		synthesizer: synthesizer,
		publisher:   publisher,
		gate:        gate,
	}
}

// Run executes one full pass: refresh scores, group ready items, analyze
// pending insights, publish tickets and PRs per repo configuration, and
// poll community approvals. Individual step failures are collected rather
// than aborting the pass; a later run picks up where this one left off.
func (r *Runner) Run(ctx context.Context, refreshLimit, insightLimit int) (*RunResult, error) {
	result := &RunResult{}

	refresh, err := r.refresher.RefreshScores(ctx, refreshLimit)
	if err != nil {
		return nil, err
	}
	result.Refresh = refresh

	group, err := r.grouper.GroupReady(ctx)
	if err != nil {
		return nil, err
	}
	result.Group = group

	repoCfg, err := r.store.GetRepoConfig(ctx)
	if errors.Is(err, store.ErrNotFound) {
		repoCfg = nil
	} else if err != nil {
		return nil, err
	}

	pending, err := r.store.ListInsights(ctx, store.InsightFilter{
		Status: models.InsightPending,
		Limit:  insightLimit,
	})
	if err != nil {
		return nil, err
	}

	for _, insight := range pending {
		analyzed, err := r.synthesizer.Analyze(ctx, insight.ID)
		if err != nil {
			if !errors.Is(err, ErrAlreadyClaimed) {
				result.Errors = append(result.Errors, err.Error())
			}
			continue
		}
		result.Analyzed++

		if repoCfg == nil {
			continue
		}

		ticket, err := r.publisher.PublishTicket(ctx, analyzed.ID)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.Tickets = append(result.Tickets, ticket)

		if repoCfg.AutoCreatePRs && !repoCfg.RequireApproval {
			pr, err := r.publisher.PublishPR(ctx, analyzed.ID)
			if err != nil {
				result.Errors = append(result.Errors, err.Error())
				continue
			}
			result.PRs = append(result.PRs, pr)
		}
	}

	approvals, err := r.gate.RefreshCommunityApprovals(ctx)
	if err != nil {
		return result, err
	}
	result.Approvals = approvals

	return result, nil
}
