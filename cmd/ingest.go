package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var ingestMaxItems int

var ingestCmd = &cobra.Command{
	Use:   "ingest <thread-url>",
	Short: "Ingest a feedback thread",
	Long: `Fetch a feedback thread (post plus comments) and store each entry as a
feedback item. Items at or above min_score are immediately ready for
grouping; the rest wait for score refreshes.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return ingestRun(args[0])
	},
}

func init() {
	ingestCmd.Flags().IntVar(&ingestMaxItems, "max-items", 0, "Maximum items to fetch (0 = source default)")
	rootCmd.AddCommand(ingestCmd)
}

func ingestRun(threadURL string) error {
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would ingest thread: %s", threadURL)
		return nil
	}

	result, err := a.ingester.Ingest(ctx, threadURL, ingestMaxItems)
	if err != nil {
		return err
	}

	ui.Success("Ingested %d items (%d new, %d updated, %d ready)",
		result.Fetched, result.Created, result.Updated, result.Ready)
	return nil
}
