// Package mcp exposes the pipeline as MCP tools so an agent can drive
// ingestion, analysis, and publishing over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/echofix/echofix/internal/models"
	"github.com/echofix/echofix/internal/pipeline"
	"github.com/echofix/echofix/internal/store"
)

// Server wraps the pipeline and exposes it as MCP tools.
type Server struct {
	store       store.Store
	ingester    *pipeline.Ingester
	refresher   *pipeline.Refresher
	grouper     *pipeline.Grouper
	synthesizer *pipeline.Synthesizer
	publisher   *pipeline.Publisher
	gate        *pipeline.ApprovalGate
	runner      *pipeline.Runner
}

// NewServer creates the MCP server wrapper over the assembled pipeline.
func NewServer(st store.Store, ing *pipeline.Ingester, ref *pipeline.Refresher, grp *pipeline.Grouper, syn *pipeline.Synthesizer, pub *pipeline.Publisher, gate *pipeline.ApprovalGate, runner *pipeline.Runner) *Server {
	return &Server{
		store:       st,
		ingester:    ing,
		refresher:   ref,
		grouper:     grp,
		synthesizer: syn,
		publisher:   pub,
		gate:        gate,
		runner:      runner,
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("echofix", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.ingestTool())
	srv.AddTool(s.refreshScoresTool())
	srv.AddTool(s.listFeedbackTool())
	srv.AddTool(s.generateInsightsTool())
	srv.AddTool(s.listInsightsTool())
	srv.AddTool(s.analyzeInsightTool())
	srv.AddTool(s.createTicketTool())
	srv.AddTool(s.createPRTool())
	srv.AddTool(s.askCommunityTool())
	srv.AddTool(s.runPipelineTool())
	srv.AddTool(s.statsTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// echofix_ingest
func (s *Server) ingestTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("echofix_ingest",
		mcp.WithDescription("Ingest a feedback thread by URL. Fetches the post and its comments, stores them as feedback items, and reports how many were created, updated, and immediately ready for grouping."),
		mcp.WithString("url", mcp.Required(), mcp.Description("Thread URL or permalink")),
		mcp.WithNumber("max_items", mcp.Description("Maximum number of items to fetch")),
	)
	return tool, s.handleIngest
}

func (s *Server) handleIngest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, err := request.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: url"), nil
	}
	maxItems := request.GetInt("max_items", 0)

	result, err := s.ingester.Ingest(ctx, url, maxItems)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("ingest failed: %v", err)), nil
	}
	return jsonResult(result)
}

// echofix_refresh_scores
func (s *Server) refreshScoresTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("echofix_refresh_scores",
		mcp.WithDescription("Re-check engagement scores for pending feedback items and promote the ones that crossed the threshold."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of items to check (default 25)")),
	)
	return tool, s.handleRefreshScores
}

func (s *Server) handleRefreshScores(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := request.GetInt("limit", 25)
	result, err := s.refresher.RefreshScores(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("refresh failed: %v", err)), nil
	}
	return jsonResult(result)
}

// echofix_list_feedback
func (s *Server) listFeedbackTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("echofix_list_feedback",
		mcp.WithDescription("List stored feedback items. Each item has external_id, title, body, score, status (pending/ready/processing/processed/failed/skipped), and the insight it belongs to once grouped."),
		mcp.WithString("status", mcp.Description("Status filter: pending, ready, processing, processed, failed, skipped")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of items to return")),
	)
	return tool, s.handleListFeedback
}

func (s *Server) handleListFeedback(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.FeedbackFilter{
		Status: models.FeedbackStatus(request.GetString("status", "")),
		Limit:  request.GetInt("limit", 0),
	}
	items, err := s.store.ListFeedbackItems(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list feedback: %v", err)), nil
	}

	type itemOut struct {
		ID         string `json:"id"`
		ExternalID string `json:"external_id"`
		Title      string `json:"title,omitempty"`
		Body       string `json:"body"`
		Score      int    `json:"score"`
		Status     string `json:"status"`
		InsightID  string `json:"insight_id,omitempty"`
	}
	out := make([]itemOut, len(items))
	for i, item := range items {
		out[i] = itemOut{
			ID:         item.ID,
			ExternalID: item.ExternalID,
			Title:      item.Title,
			Body:       item.Body,
			Score:      item.Score,
			Status:     string(item.Status),
			InsightID:  item.InsightID,
		}
	}
	return jsonResult(out)
}

// echofix_generate_insights
func (s *Server) generateInsightsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("echofix_generate_insights",
		mcp.WithDescription("Group ready feedback items into themed insights. Items join an existing open insight for their theme or start a new one."),
	)
	return tool, s.handleGenerateInsights
}

func (s *Server) handleGenerateInsights(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := s.grouper.GroupReady(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("grouping failed: %v", err)), nil
	}
	return jsonResult(result)
}

// echofix_list_insights
func (s *Server) listInsightsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("echofix_list_insights",
		mcp.WithDescription("List insights. Each insight has id, theme, entry_count, status (pending/analyzing/ready/approved/in_progress/completed/closed), priority, and ticket/PR links once published."),
		mcp.WithString("status", mcp.Description("Status filter")),
	)
	return tool, s.handleListInsights
}

func (s *Server) handleListInsights(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.InsightFilter{
		Status: models.InsightStatus(request.GetString("status", "")),
	}
	insights, err := s.store.ListInsights(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list insights: %v", err)), nil
	}

	type insightOut struct {
		ID         string `json:"id"`
		Theme      string `json:"theme"`
		EntryCount int    `json:"entry_count"`
		Status     string `json:"status"`
		Priority   string `json:"priority,omitempty"`
		TicketURL  string `json:"ticket_url,omitempty"`
		PRURL      string `json:"pr_url,omitempty"`
	}
	out := make([]insightOut, len(insights))
	for i, ins := range insights {
		out[i] = insightOut{
			ID:         ins.ID,
			Theme:      ins.Theme,
			EntryCount: ins.EntryCount,
			Status:     string(ins.Status),
			Priority:   string(ins.Priority),
			TicketURL:  ins.TicketURL,
			PRURL:      ins.PRURL,
		}
	}
	return jsonResult(out)
}

// echofix_analyze_insight
func (s *Server) analyzeInsightTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("echofix_analyze_insight",
		mcp.WithDescription("Run ticket synthesis for a pending insight. Produces a structured ticket and patch plan via the reasoning provider chain."),
		mcp.WithString("insight_id", mcp.Required(), mcp.Description("Insight ID")),
	)
	return tool, s.handleAnalyzeInsight
}

func (s *Server) handleAnalyzeInsight(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("insight_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: insight_id"), nil
	}
	insight, err := s.synthesizer.Analyze(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("analysis failed: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"id":       insight.ID,
		"status":   string(insight.Status),
		"priority": string(insight.Priority),
		"ticket":   insight.Ticket,
	})
}

// echofix_create_ticket
func (s *Server) createTicketTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("echofix_create_ticket",
		mcp.WithDescription("File a GitHub issue for an analyzed insight and mark its member feedback items processed. Idempotent: re-running returns the existing ticket."),
		mcp.WithString("insight_id", mcp.Required(), mcp.Description("Insight ID")),
	)
	return tool, s.handleCreateTicket
}

func (s *Server) handleCreateTicket(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("insight_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: insight_id"), nil
	}
	result, err := s.publisher.PublishTicket(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("ticket creation failed: %v", err)), nil
	}
	return jsonResult(result)
}

// echofix_create_pr
func (s *Server) createPRTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("echofix_create_pr",
		mcp.WithDescription("Generate candidate file fixes for an insight's ticket and open a pull request. Idempotent: re-running returns the existing PR."),
		mcp.WithString("insight_id", mcp.Required(), mcp.Description("Insight ID")),
	)
	return tool, s.handleCreatePR
}

func (s *Server) handleCreatePR(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("insight_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: insight_id"), nil
	}
	result, err := s.publisher.PublishPR(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("PR creation failed: %v", err)), nil
	}
	return jsonResult(result)
}

// echofix_ask_community
func (s *Server) askCommunityTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("echofix_ask_community",
		mcp.WithDescription("Post a reply on the insight's lead feedback thread asking the community to vote on the proposed fix. The reply's score is polled later to grant community approval."),
		mcp.WithString("insight_id", mcp.Required(), mcp.Description("Insight ID")),
	)
	return tool, s.handleAskCommunity
}

func (s *Server) handleAskCommunity(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("insight_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: insight_id"), nil
	}
	insight, err := s.gate.AskCommunity(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("ask-community failed: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"id":       insight.ID,
		"reply_id": insight.CommunityReplyID,
	})
}

// echofix_run_pipeline
func (s *Server) runPipelineTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("echofix_run_pipeline",
		mcp.WithDescription("Run one full pipeline pass: refresh scores, group ready items, analyze pending insights, publish tickets and PRs per the repo automation flags, and poll community approvals."),
		mcp.WithNumber("refresh_limit", mcp.Description("Maximum pending items to re-score (default 25)")),
		mcp.WithNumber("insight_limit", mcp.Description("Maximum insights to analyze (default 10)")),
	)
	return tool, s.handleRunPipeline
}

func (s *Server) handleRunPipeline(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	refreshLimit := request.GetInt("refresh_limit", 25)
	insightLimit := request.GetInt("insight_limit", 10)
	result, err := s.runner.Run(ctx, refreshLimit, insightLimit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("pipeline run failed: %v", err)), nil
	}
	return jsonResult(result)
}

// echofix_stats
func (s *Server) statsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("echofix_stats",
		mcp.WithDescription("Summarize pipeline state: feedback and insight counts by status, tickets created, PRs created and merged."),
	)
	return tool, s.handleStats
}

func (s *Server) handleStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.store.GetStats(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to gather stats: %v", err)), nil
	}
	return jsonResult(stats)
}
