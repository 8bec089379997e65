package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/echofix/echofix/internal/models"
	"github.com/echofix/echofix/internal/scm"
	"github.com/echofix/echofix/internal/source"
	"github.com/echofix/echofix/internal/store"
)

// ApprovalResult summarizes a community approval poll.
type ApprovalResult struct {
	Checked  int `json:"checked"`
	Approved int `json:"approved"`
	Merged   int `json:"merged"`
	Errors   int `json:"errors"`
}

// ApprovalGate manages human and community approval for insights.
type ApprovalGate struct {
	store store.Store
	src   source.Source
	scm   scm.SCM
	cfg   Config
	now   func() time.Time
}

// NewApprovalGate builds an ApprovalGate.
func NewApprovalGate(st store.Store, src source.Source, client scm.SCM, cfg Config) *ApprovalGate {
	return &ApprovalGate{store: st, src: src, scm: client, cfg: cfg, now: time.Now}
}

// Approve records a human approval. Human approval is sufficient on its own
// to authorize publishing.
func (g *ApprovalGate) Approve(ctx context.Context, insightID string) (*models.Insight, error) {
	insight, err := g.store.GetInsight(ctx, insightID)
	if err != nil {
		return nil, err
	}
	if insight.ApprovedAt != nil {
		return insight, nil
	}

	now := g.now().UTC()
	insight.ApprovedAt = &now
	insight.Status = models.InsightApproved
	if err := g.store.UpdateInsight(ctx, insight); err != nil {
		return nil, err
	}
	g.log(ctx, insightID, "approve", "human approval recorded")
	return insight, nil
}

// AskCommunity posts a public summary reply under the insight's lead item
// and starts polling its score. Asking twice is a no-op.
func (g *ApprovalGate) AskCommunity(ctx context.Context, insightID string) (*models.Insight, error) {
	insight, err := g.store.GetInsight(ctx, insightID)
	if err != nil {
		return nil, err
	}
	if insight.Ticket == nil {
		return nil, fmt.Errorf("insight %s has no ticket; run analysis first", insightID)
	}
	if insight.CommunityApprovalRequested {
		return insight, nil
	}

	items, err := g.store.ListInsightItems(ctx, insightID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("insight %s has no member items", insightID)
	}
	lead := leadItem(items)

	text := communityReplyText(insight, len(items))
	replyID, err := g.src.PostReply(ctx, lead.ExternalID, text)
	if err != nil {
		g.log(ctx, insightID, "ask_community", fmt.Sprintf("post reply failed: %v", err))
		return nil, err
	}

	insight.CommunityApprovalRequested = true
	insight.CommunityReplyID = replyID
	if err := g.store.UpdateInsight(ctx, insight); err != nil {
		return nil, err
	}
	g.log(ctx, insightID, "ask_community", "community approval requested, reply "+replyID)
	return insight, nil
}

// RefreshCommunityApprovals polls the reply score for every insight awaiting
// community approval. When a reply's score reaches the threshold the
// approval flips exactly once, and an open PR is merged automatically.
func (g *ApprovalGate) RefreshCommunityApprovals(ctx context.Context) (*ApprovalResult, error) {
	result := &ApprovalResult{}

	insights, err := g.openInsightsAwaitingApproval(ctx)
	if err != nil {
		return nil, err
	}

	for _, insight := range insights {
		items, err := g.store.ListInsightItems(ctx, insight.ID)
		if err != nil || len(items) == 0 {
			result.Errors++
			continue
		}
		lead := leadItem(items)

		score, err := g.src.FetchScore(ctx, lead.Permalink, insight.CommunityReplyID)
		if err != nil {
			result.Errors++
			continue
		}
		result.Checked++

		insight.CommunityReplyScore = score
		if err := g.store.UpdateInsight(ctx, insight); err != nil {
			return result, err
		}
		if score < g.cfg.MinScore {
			continue
		}

		// Conditional flip makes the approval at-most-once even with
		// overlapping polls.
		flipped, err := g.store.MarkCommunityApproved(ctx, insight.ID, g.now())
		if err != nil {
			return result, err
		}
		if !flipped {
			continue
		}
		result.Approved++
		g.log(ctx, insight.ID, "community_approval",
			fmt.Sprintf("reply score %d reached threshold %d", score, g.cfg.MinScore))

		if merged, err := g.mergePR(ctx, insight); err != nil {
			result.Errors++
			g.log(ctx, insight.ID, "community_approval", fmt.Sprintf("auto-merge failed: %v", err))
		} else if merged {
			result.Merged++
		}
	}
	return result, nil
}

func (g *ApprovalGate) openInsightsAwaitingApproval(ctx context.Context) ([]*models.Insight, error) {
	all, err := g.store.ListInsights(ctx, store.InsightFilter{})
	if err != nil {
		return nil, err
	}
	var awaiting []*models.Insight
	for _, insight := range all {
		if insight.Status.Open() && insight.CommunityApprovalRequested &&
			!insight.CommunityApproved && insight.CommunityReplyID != "" {
			awaiting = append(awaiting, insight)
		}
	}
	return awaiting, nil
}

func (g *ApprovalGate) mergePR(ctx context.Context, insight *models.Insight) (bool, error) {
	if insight.PRNumber == 0 || insight.PRMerged {
		return false, nil
	}
	repoCfg, err := g.store.GetRepoConfig(ctx)
	if err != nil {
		return false, err
	}

	if err := g.scm.MergePR(ctx, repoCfg.Owner, repoCfg.Repo, insight.PRNumber); err != nil {
		return false, err
	}

	now := g.now().UTC()
	insight.PRMerged = true
	insight.PRMergedAt = &now
	insight.Status = models.InsightCompleted
	if err := g.store.UpdateInsight(ctx, insight); err != nil {
		return true, err
	}
	g.log(ctx, insight.ID, "community_approval", fmt.Sprintf("PR #%d merged", insight.PRNumber))
	return true, nil
}

func communityReplyText(insight *models.Insight, memberCount int) string {
	return fmt.Sprintf(
		"We grouped %d reports under %q and drafted a fix: %s\n\n%s\n\nUpvote this comment if you want us to ship it.",
		memberCount, insight.Theme, insight.Ticket.Title, insight.TicketURL)
}

func (g *ApprovalGate) log(ctx context.Context, insightID, step, message string) {
	_ = g.store.AppendExecutionLog(ctx, &models.ExecutionLogEntry{
		InsightID: insightID,
		StepName:  step,
		Message:   message,
	})
}
