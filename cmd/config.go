package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "echofix"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage echofix configuration.

Running bare 'echofix config' is the same as 'echofix config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# echofix configuration
# See: echofix config show (for effective values and sources)

# State/data directory (default: ~/.config/echofix)
# state_dir: {{ .StateDir }}

# SQLite database path (default: ~/.config/echofix/echofix.db)
# db_path: {{ .DBPath }}

# Engagement score gating feedback into the pipeline (default: 2)
# min_score: {{ .MinScore }}

# Minimum seconds between score re-checks for the same item (default: 600)
# score_refresh_seconds: {{ .ScoreRefreshSeconds }}

# Demo mode: deterministic reasoning only, no LLM calls (default: false)
# demo_mode: {{ .DemoMode }}

# Reddit API access
reddit:
  # OAuth token for posting replies (read-only works without it)
  token: ""
  user_agent: "{{ .RedditUserAgent }}"

# Anthropic (primary reasoning provider)
anthropic:
  api_key: ""
  model: "{{ .AnthropicModel }}"

# Gemini (secondary reasoning provider)
gemini:
  api_key: ""
  model: "{{ .GeminiModel }}"

# GitHub token for the gh CLI (falls back to gh auth login)
github:
  token: ""

# Plan documents committed alongside tickets
plan:
  enabled: {{ .PlanEnabled }}
  # path_template: "docs/echofix_plans/{id}.md"

# Open candidate-fix pull requests automatically
pr_automation:
  enabled: {{ .PRAutomation }}
`

type configTemplateData struct {
	StateDir            string
	DBPath              string
	MinScore            int
	ScoreRefreshSeconds int
	DemoMode            bool
	RedditUserAgent     string
	AnthropicModel      string
	GeminiModel         string
	PlanEnabled         bool
	PRAutomation        bool
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		StateDir:            viper.GetString("state_dir"),
		DBPath:              viper.GetString("db_path"),
		MinScore:            viper.GetInt("min_score"),
		ScoreRefreshSeconds: viper.GetInt("score_refresh_seconds"),
		DemoMode:            viper.GetBool("demo_mode"),
		RedditUserAgent:     viper.GetString("reddit.user_agent"),
		AnthropicModel:      viper.GetString("anthropic.model"),
		GeminiModel:         viper.GetString("gemini.model"),
		PlanEnabled:         viper.GetBool("plan.enabled"),
		PRAutomation:        viper.GetBool("pr_automation.enabled"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "ECHOFIX_STATE_DIR"},
	{Key: "db_path", EnvVar: "ECHOFIX_DB_PATH"},
	{Key: "min_score", EnvVar: "ECHOFIX_MIN_SCORE"},
	{Key: "score_refresh_seconds", EnvVar: "ECHOFIX_SCORE_REFRESH_SECONDS"},
	{Key: "demo_mode", EnvVar: "ECHOFIX_DEMO_MODE"},
	{Key: "reddit.user_agent", EnvVar: "ECHOFIX_REDDIT_USER_AGENT"},
	{Key: "anthropic.model", EnvVar: "ECHOFIX_ANTHROPIC_MODEL"},
	{Key: "gemini.model", EnvVar: "ECHOFIX_GEMINI_MODEL"},
	{Key: "plan.enabled", EnvVar: "ECHOFIX_PLAN_ENABLED"},
	{Key: "plan.path_template", EnvVar: "ECHOFIX_PLAN_PATH_TEMPLATE"},
	{Key: "pr_automation.enabled", EnvVar: "ECHOFIX_PR_AUTOMATION_ENABLED"},
	{Key: "clone.timeout_seconds", EnvVar: "ECHOFIX_CLONE_TIMEOUT_SECONDS"},
	{Key: "codegen.max_file_bytes", EnvVar: "ECHOFIX_CODEGEN_MAX_FILE_BYTES"},
	{Key: "port", EnvVar: "ECHOFIX_PORT"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-24s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set — set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'echofix config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
