package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var refreshLimit int

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh engagement scores and community approvals",
	Long: `Re-check engagement scores for pending feedback items, promoting the
ones that crossed min_score, then poll community approval replies and
merge approved pull requests.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return refreshRun()
	},
}

func init() {
	refreshCmd.Flags().IntVar(&refreshLimit, "limit", 25, "Maximum pending items to re-check")
	rootCmd.AddCommand(refreshCmd)
}

func refreshRun() error {
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would refresh up to %d pending items", refreshLimit)
		return nil
	}

	scores, err := a.refresher.RefreshScores(ctx, refreshLimit)
	if err != nil {
		return err
	}
	ui.Success("Scores: %d checked, %d promoted, %d throttled, %d errors",
		scores.Checked, scores.Promoted, scores.Throttled, scores.Errors)

	approvals, err := a.gate.RefreshCommunityApprovals(ctx)
	if err != nil {
		return err
	}
	ui.Success("Approvals: %d checked, %d approved, %d merged",
		approvals.Checked, approvals.Approved, approvals.Merged)
	return nil
}
