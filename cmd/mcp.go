package cmd

import (
	"github.com/spf13/cobra"

	"github.com/echofix/echofix/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This exposes the pipeline trigger operations as tools an agent can call
natively. Configure with:

  {
    "mcpServers": {
      "echofix": { "command": "echofix", "args": ["mcp"] }
    }
  }

Available tools: echofix_ingest, echofix_refresh_scores,
echofix_list_feedback, echofix_generate_insights, echofix_list_insights,
echofix_analyze_insight, echofix_create_ticket, echofix_create_pr,
echofix_ask_community, echofix_run_pipeline, echofix_stats`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}

		srv := mcp.NewServer(a.store, a.ingester, a.refresher, a.grouper,
			a.synthesizer, a.publisher, a.gate, a.runner)
		return srv.ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
