package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/echofix/echofix/internal/output"
	"github.com/echofix/echofix/internal/pipeline"
	"github.com/echofix/echofix/internal/reasoning"
	"github.com/echofix/echofix/internal/scm"
	"github.com/echofix/echofix/internal/source"
	"github.com/echofix/echofix/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "echofix",
	Short: "EchoFix - turn community feedback into tickets and fixes",
	Long: `echofix ingests user feedback threads, groups them into themed
insights, synthesizes actionable tickets with an LLM fallback chain,
and publishes GitHub issues and candidate-fix pull requests.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/echofix/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "echofix")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("ECHOFIX")
	viper.AutomaticEnv()

	// Defaults via viper.SetDefault()
	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "echofix")

	viper.SetDefault("state_dir", defaultConfigDir)
	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "echofix.db"))
	viper.SetDefault("min_score", 2)
	viper.SetDefault("score_refresh_seconds", 600)
	viper.SetDefault("demo_mode", false)
	viper.SetDefault("reddit.token", "")
	viper.SetDefault("reddit.user_agent", "echofix/1.0")
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	viper.SetDefault("gemini.api_key", "")
	viper.SetDefault("gemini.model", "gemini-2.5-flash")
	viper.SetDefault("github.token", "")
	viper.SetDefault("plan.enabled", true)
	viper.SetDefault("plan.dir", filepath.Join(defaultConfigDir, "plans"))
	viper.SetDefault("plan.path_template", "docs/echofix_plans/{id}.md")
	viper.SetDefault("pr_automation.enabled", false)
	viper.SetDefault("clone.timeout_seconds", 120)
	viper.SetDefault("codegen.max_file_bytes", 48*1024)
	viper.SetDefault("port", 8080)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// pipelineConfig assembles the pipeline tunables from viper.
func pipelineConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.MinScore = viper.GetInt("min_score")
	cfg.RefreshInterval = time.Duration(viper.GetInt("score_refresh_seconds")) * time.Second
	cfg.PlanDir = viper.GetString("plan.dir")
	cfg.PlanPathTemplate = viper.GetString("plan.path_template")
	cfg.PRAutomation = viper.GetBool("pr_automation.enabled")
	cfg.CloneTimeout = time.Duration(viper.GetInt("clone.timeout_seconds")) * time.Second
	cfg.MaxFileBytes = viper.GetInt64("codegen.max_file_bytes")
	cfg.DemoMode = viper.GetBool("demo_mode")
	return cfg
}

// app bundles the assembled pipeline components shared by the serve,
// mcp, run, and insight commands.
type app struct {
	store       store.Store
	cfg         pipeline.Config
	ingester    *pipeline.Ingester
	refresher   *pipeline.Refresher
	grouper     *pipeline.Grouper
	synthesizer *pipeline.Synthesizer
	publisher   *pipeline.Publisher
	gate        *pipeline.ApprovalGate
	runner      *pipeline.Runner
}

// buildApp wires the full pipeline from configuration.
func buildApp(ctx context.Context) (*app, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	cfg := pipelineConfig()

	if token := viper.GetString("github.token"); token != "" && os.Getenv("GH_TOKEN") == "" {
		os.Setenv("GH_TOKEN", token)
	}

	src := source.NewRedditClient(
		source.WithToken(viper.GetString("reddit.token")),
		source.WithUserAgent(viper.GetString("reddit.user_agent")),
		source.WithScoreCacheTTL(cfg.RefreshInterval),
	)
	client := scm.NewGitHubClient()
	providers := buildProviders(ctx, cfg)
	cloner := scm.NewCloner(cfg.CloneTimeout)
	codegen := pipeline.NewCodeGenerator(cloner, cfg, providers...)

	ing := pipeline.NewIngester(s, src, cfg)
	ref := pipeline.NewRefresher(s, src, cfg)
	grp := pipeline.NewGrouper(s, cfg.Rules)
	syn := pipeline.NewSynthesizer(s, providers...)
	pub := pipeline.NewPublisher(s, client, codegen, cfg)
	gate := pipeline.NewApprovalGate(s, src, client, cfg)
	runner := pipeline.NewRunner(s, ref, grp, syn, pub, gate)

	return &app{
		store:       s,
		cfg:         cfg,
		ingester:    ing,
		refresher:   ref,
		grouper:     grp,
		synthesizer: syn,
		publisher:   pub,
		gate:        gate,
		runner:      runner,
	}, nil
}

// buildProviders returns the reasoning chain: configured LLM tiers first,
// the deterministic tier always last. Demo mode skips the LLM tiers so
// runs are reproducible without credentials.
func buildProviders(ctx context.Context, cfg pipeline.Config) []reasoning.Provider {
	var providers []reasoning.Provider

	if !cfg.DemoMode {
		if key := viper.GetString("anthropic.api_key"); key != "" {
			providers = append(providers, reasoning.NewAnthropicProvider(key, viper.GetString("anthropic.model")))
		}
		if key := viper.GetString("gemini.api_key"); key != "" {
			gp, err := reasoning.NewGeminiProvider(ctx, key, viper.GetString("gemini.model"))
			if err != nil {
				ui.Warning("gemini provider unavailable: %v", err)
			} else {
				providers = append(providers, gp)
			}
		}
	}

	return append(providers, reasoning.NewDeterministicProvider())
}
