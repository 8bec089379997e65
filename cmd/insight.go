package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/echofix/echofix/internal/models"
	"github.com/echofix/echofix/internal/output"
	"github.com/echofix/echofix/internal/pipeline"
	"github.com/echofix/echofix/internal/store"
)

var insightStatus string

var insightCmd = &cobra.Command{
	Use:   "insight",
	Short: "Manage feedback insights",
	Long:  "Group feedback into insights, synthesize tickets, and publish issues and PRs.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return insightListRun()
	},
}

var insightListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List insights",
	RunE: func(cmd *cobra.Command, args []string) error {
		return insightListRun()
	},
}

var insightShowCmd = &cobra.Command{
	Use:   "show <insight-id>",
	Short: "Show insight details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return insightShowRun(args[0])
	},
}

var insightGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Group ready feedback items into themed insights",
	RunE: func(cmd *cobra.Command, args []string) error {
		return insightGenerateRun()
	},
}

var insightAnalyzeCmd = &cobra.Command{
	Use:   "analyze <insight-id>",
	Short: "Synthesize a ticket for a pending insight",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return insightAnalyzeRun(args[0])
	},
}

var insightApproveCmd = &cobra.Command{
	Use:   "approve <insight-id>",
	Short: "Approve an insight for publishing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return insightApproveRun(args[0])
	},
}

var insightRejectCmd = &cobra.Command{
	Use:   "reject <insight-id>",
	Short: "Close an insight without action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return insightRejectRun(args[0])
	},
}

var insightTicketCmd = &cobra.Command{
	Use:   "ticket <insight-id>",
	Short: "File a GitHub issue for an analyzed insight",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return insightTicketRun(args[0])
	},
}

var insightPRCmd = &cobra.Command{
	Use:   "pr <insight-id>",
	Short: "Generate candidate fixes and open a pull request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return insightPRRun(args[0])
	},
}

var insightAskCommunityCmd = &cobra.Command{
	Use:   "ask-community <insight-id>",
	Short: "Ask the feedback thread to vote on the proposed fix",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return insightAskCommunityRun(args[0])
	},
}

func init() {
	insightListCmd.Flags().StringVar(&insightStatus, "status", "", "Filter by status: pending, analyzing, ready, approved, in_progress, completed, closed")

	insightCmd.AddCommand(insightListCmd)
	insightCmd.AddCommand(insightShowCmd)
	insightCmd.AddCommand(insightGenerateCmd)
	insightCmd.AddCommand(insightAnalyzeCmd)
	insightCmd.AddCommand(insightApproveCmd)
	insightCmd.AddCommand(insightRejectCmd)
	insightCmd.AddCommand(insightTicketCmd)
	insightCmd.AddCommand(insightPRCmd)
	insightCmd.AddCommand(insightAskCommunityCmd)
	rootCmd.AddCommand(insightCmd)
}

func insightListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	insights, err := s.ListInsights(ctx, store.InsightFilter{
		Status: models.InsightStatus(insightStatus),
	})
	if err != nil {
		return err
	}

	if len(insights) == 0 {
		ui.Info("No insights. Use 'echofix insight generate' after ingesting feedback.")
		return nil
	}

	table := ui.Table([]string{"ID", "Theme", "Entries", "Status", "Priority", "Ticket", "PR"})
	for _, ins := range insights {
		ticket := ""
		if ins.TicketNumber > 0 {
			ticket = fmt.Sprintf("#%d", ins.TicketNumber)
		}
		pr := ""
		if ins.PRNumber > 0 {
			pr = fmt.Sprintf("#%d", ins.PRNumber)
			if ins.PRMerged {
				pr += " (merged)"
			}
		}
		table.Append([]string{
			output.Cyan(shortID(ins.ID)),
			ins.Theme,
			fmt.Sprintf("%d", ins.EntryCount),
			output.StatusColor(string(ins.Status)),
			output.PriorityColor(string(ins.Priority)),
			ticket,
			pr,
		})
	}
	table.Render()
	return nil
}

func insightShowRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	ins, err := resolveInsight(ctx, s, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s %s\n", output.Cyan(ins.ID), ins.Theme)
	fmt.Fprintf(ui.Out, "  Status:    %s\n", output.StatusColor(string(ins.Status)))
	fmt.Fprintf(ui.Out, "  Priority:  %s\n", output.PriorityColor(string(ins.Priority)))
	fmt.Fprintf(ui.Out, "  Entries:   %d\n", ins.EntryCount)
	if ins.Description != "" {
		fmt.Fprintf(ui.Out, "  About:     %s\n", ins.Description)
	}
	if ins.TicketURL != "" {
		fmt.Fprintf(ui.Out, "  Ticket:    %s\n", ins.TicketURL)
	}
	if ins.PRURL != "" {
		merged := ""
		if ins.PRMerged {
			merged = " (merged)"
		}
		fmt.Fprintf(ui.Out, "  PR:        %s%s\n", ins.PRURL, merged)
	}
	if ins.CommunityApprovalRequested {
		state := fmt.Sprintf("requested, score %d", ins.CommunityReplyScore)
		if ins.CommunityApproved {
			state = "approved"
		}
		fmt.Fprintf(ui.Out, "  Community: %s\n", state)
	}

	if ins.Ticket != nil {
		fmt.Fprintln(ui.Out)
		fmt.Fprintf(ui.Out, "  %s\n", output.Green(ins.Ticket.Title))
		fmt.Fprintf(ui.Out, "  %s\n", ins.Ticket.ProblemStatement)
	}

	items, err := s.ListInsightItems(ctx, ins.ID)
	if err != nil {
		return err
	}
	if len(items) > 0 {
		fmt.Fprintln(ui.Out)
		table := ui.Table([]string{"Item", "Score", "Status", "Excerpt"})
		for _, item := range items {
			excerpt := item.Title
			if excerpt == "" {
				excerpt = item.Body
			}
			if len(excerpt) > 60 {
				excerpt = excerpt[:57] + "..."
			}
			table.Append([]string{
				item.ExternalID,
				fmt.Sprintf("%d", item.Score),
				output.StatusColor(string(item.Status)),
				excerpt,
			})
		}
		table.Render()
	}

	if verbose {
		logs, err := s.ListExecutionLogs(ctx, ins.ID)
		if err != nil {
			return err
		}
		for _, entry := range logs {
			ui.VerboseLog("[%s] %s: %s", entry.Level, entry.StepName, entry.Message)
		}
	}
	return nil
}

func insightGenerateRun() error {
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}

	result, err := a.grouper.GroupReady(ctx)
	if err != nil {
		return err
	}
	ui.Success("Grouped %d items (%d new insights, %d updated)",
		result.ItemsGrouped, result.InsightsCreated, result.InsightsUpdated)
	return nil
}

func insightAnalyzeRun(id string) error {
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}

	ins, err := resolveInsight(ctx, a.store, id)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would analyze insight %s (%s)", shortID(ins.ID), ins.Theme)
		return nil
	}

	analyzed, err := a.synthesizer.Analyze(ctx, ins.ID)
	if err != nil {
		if errors.Is(err, pipeline.ErrAlreadyClaimed) {
			return fmt.Errorf("insight %s is not pending (already analyzed or in progress)", shortID(ins.ID))
		}
		return err
	}

	ui.Success("Synthesized ticket: %s [%s]", analyzed.Ticket.Title, analyzed.Priority)
	return nil
}

func insightApproveRun(id string) error {
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}

	ins, err := resolveInsight(ctx, a.store, id)
	if err != nil {
		return err
	}

	approved, err := a.gate.Approve(ctx, ins.ID)
	if err != nil {
		return err
	}
	ui.Success("Approved insight %s (%s)", shortID(approved.ID), approved.Theme)
	return nil
}

func insightRejectRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	ins, err := resolveInsight(ctx, s, id)
	if err != nil {
		return err
	}

	ins.Status = models.InsightClosed
	if err := s.UpdateInsight(ctx, ins); err != nil {
		return err
	}
	ui.Success("Closed insight %s (%s)", shortID(ins.ID), ins.Theme)
	return nil
}

func insightTicketRun(id string) error {
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}

	ins, err := resolveInsight(ctx, a.store, id)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would file a GitHub issue for insight %s", shortID(ins.ID))
		return nil
	}

	result, err := a.publisher.PublishTicket(ctx, ins.ID)
	if err != nil {
		return err
	}
	if result.AlreadyExisted {
		ui.Info("Ticket already exists: %s", result.IssueURL)
		return nil
	}
	ui.Success("Filed issue #%d (%d items processed): %s",
		result.IssueNumber, result.ItemsProcessed, result.IssueURL)
	return nil
}

func insightPRRun(id string) error {
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}

	ins, err := resolveInsight(ctx, a.store, id)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would open a pull request for insight %s", shortID(ins.ID))
		return nil
	}

	result, err := a.publisher.PublishPR(ctx, ins.ID)
	if err != nil {
		return err
	}
	if result.AlreadyExisted {
		ui.Info("PR already exists: %s", result.PRURL)
		return nil
	}
	ui.Success("Opened PR #%d from %s (%d files, %s tier): %s",
		result.PRNumber, result.Branch, result.FilesCommitted, result.Provider, result.PRURL)
	return nil
}

func insightAskCommunityRun(id string) error {
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}

	ins, err := resolveInsight(ctx, a.store, id)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would post a community vote reply for insight %s", shortID(ins.ID))
		return nil
	}

	updated, err := a.gate.AskCommunity(ctx, ins.ID)
	if err != nil {
		return err
	}
	ui.Success("Posted community vote reply %s for insight %s",
		updated.CommunityReplyID, shortID(updated.ID))
	return nil
}

// resolveInsight looks an insight up by full ID or unique prefix.
func resolveInsight(ctx context.Context, s store.Store, ref string) (*models.Insight, error) {
	ins, err := s.GetInsight(ctx, ref)
	if err == nil {
		return ins, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	all, err := s.ListInsights(ctx, store.InsightFilter{})
	if err != nil {
		return nil, err
	}
	var match *models.Insight
	for _, candidate := range all {
		if strings.HasPrefix(candidate.ID, ref) {
			if match != nil {
				return nil, fmt.Errorf("ambiguous insight ID prefix: %s", ref)
			}
			match = candidate
		}
	}
	if match == nil {
		return nil, fmt.Errorf("insight not found: %s", ref)
	}
	return match, nil
}

// shortID trims a ULID to a displayable prefix.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
