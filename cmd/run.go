package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var (
	runRefreshLimit int
	runInsightLimit int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one full pipeline pass",
	Long: `Run the end-to-end pipeline once: refresh scores, group ready items
into insights, analyze pending insights, publish tickets and pull
requests per the repo automation flags, and poll community approvals.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRun()
	},
}

func init() {
	runCmd.Flags().IntVar(&runRefreshLimit, "refresh-limit", 25, "Maximum pending items to re-score")
	runCmd.Flags().IntVar(&runInsightLimit, "insight-limit", 10, "Maximum insights to analyze")
	rootCmd.AddCommand(runCmd)
}

func runRun() error {
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would run a full pipeline pass (refresh %d, analyze %d)",
			runRefreshLimit, runInsightLimit)
		return nil
	}

	result, err := a.runner.Run(ctx, runRefreshLimit, runInsightLimit)
	if err != nil {
		return err
	}

	if result.Refresh != nil {
		ui.Info("Scores: %d checked, %d promoted", result.Refresh.Checked, result.Refresh.Promoted)
	}
	if result.Group != nil {
		ui.Info("Grouped: %d items into %d new / %d existing insights",
			result.Group.ItemsGrouped, result.Group.InsightsCreated, result.Group.InsightsUpdated)
	}
	ui.Info("Analyzed: %d insights", result.Analyzed)
	for _, t := range result.Tickets {
		ui.Success("Issue #%d (%d items): %s", t.IssueNumber, t.ItemsProcessed, t.IssueURL)
	}
	for _, pr := range result.PRs {
		ui.Success("PR #%d (%d files): %s", pr.PRNumber, pr.FilesCommitted, pr.PRURL)
	}
	if result.Approvals != nil && result.Approvals.Checked > 0 {
		ui.Info("Approvals: %d checked, %d approved, %d merged",
			result.Approvals.Checked, result.Approvals.Approved, result.Approvals.Merged)
	}
	for _, msg := range result.Errors {
		ui.Warning("%s", msg)
	}
	return nil
}
