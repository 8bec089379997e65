package cmd

import (
	"context"
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/echofix/echofix/internal/models"
	"github.com/echofix/echofix/internal/output"
	"github.com/echofix/echofix/internal/store"
)

var (
	repoOwner           string
	repoName            string
	repoBranch          string
	repoForums          string
	repoKeywords        string
	repoAutoTickets     bool
	repoAutoPRs         bool
	repoRequireApproval bool
)

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Manage the target repository configuration",
	Long:  "Configure which GitHub repository tickets and pull requests are opened against.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return repoShowRun()
	},
}

var repoSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set the target repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		return repoSetRun()
	},
}

var repoShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the target repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		return repoShowRun()
	},
}

func init() {
	repoSetCmd.Flags().StringVar(&repoOwner, "owner", "", "Repository owner (required)")
	repoSetCmd.Flags().StringVar(&repoName, "repo", "", "Repository name (required)")
	repoSetCmd.Flags().StringVar(&repoBranch, "branch", "main", "Base branch")
	repoSetCmd.Flags().StringVar(&repoForums, "forums", "", "Comma-separated source forums to monitor")
	repoSetCmd.Flags().StringVar(&repoKeywords, "keywords", "", "Comma-separated keywords to watch for")
	repoSetCmd.Flags().BoolVar(&repoAutoTickets, "auto-tickets", true, "File GitHub issues automatically")
	repoSetCmd.Flags().BoolVar(&repoAutoPRs, "auto-prs", false, "Open pull requests automatically")
	repoSetCmd.Flags().BoolVar(&repoRequireApproval, "require-approval", false, "Hold PRs until an insight is approved")
	_ = repoSetCmd.MarkFlagRequired("owner")
	_ = repoSetCmd.MarkFlagRequired("repo")

	repoCmd.AddCommand(repoSetCmd)
	repoCmd.AddCommand(repoShowCmd)
	rootCmd.AddCommand(repoCmd)
}

func repoSetRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	cfg := &models.RepoConfig{
		Owner:             repoOwner,
		Repo:              repoName,
		Branch:            repoBranch,
		Forums:            splitList(repoForums),
		Keywords:          splitList(repoKeywords),
		AutoCreateTickets: repoAutoTickets,
		AutoCreatePRs:     repoAutoPRs,
		RequireApproval:   repoRequireApproval,
	}

	if dryRun {
		ui.DryRunMsg("Would set target repo: %s/%s (base %s)", cfg.Owner, cfg.Repo, cfg.Branch)
		return nil
	}

	if err := s.SaveRepoConfig(ctx, cfg); err != nil {
		return err
	}
	ui.Success("Target repo set: %s/%s (base %s)", cfg.Owner, cfg.Repo, cfg.Branch)
	return nil
}

func repoShowRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	cfg, err := s.GetRepoConfig(ctx)
	if errors.Is(err, store.ErrNotFound) {
		ui.Info("No target repo configured. Use 'echofix repo set --owner <o> --repo <r>'.")
		return nil
	}
	if err != nil {
		return err
	}

	ui.Info("Target repo: %s", output.Cyan(cfg.Owner+"/"+cfg.Repo))
	ui.Info("Base branch: %s", cfg.Branch)
	if len(cfg.Forums) > 0 {
		ui.Info("Forums:      %s", strings.Join(cfg.Forums, ", "))
	}
	if len(cfg.Keywords) > 0 {
		ui.Info("Keywords:    %s", strings.Join(cfg.Keywords, ", "))
	}
	ui.Info("Automation:  tickets=%t prs=%t require-approval=%t",
		cfg.AutoCreateTickets, cfg.AutoCreatePRs, cfg.RequireApproval)
	return nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
