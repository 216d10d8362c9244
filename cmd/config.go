package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
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
	return filepath.Join(home, ".config", "bugflow"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage bugflow configuration.

Running bare 'bugflow config' is the same as 'bugflow config show'.`,
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
const configTemplate = `# bugflow configuration
# See: bugflow config show (for effective values and sources)

# SQLite database path (default: ~/.config/bugflow/bugflow.db)
# db_path: {{ .DBPath }}

# Prefix of bug IDs, e.g. BUG-12
bug_prefix: "{{ .BugPrefix }}"

# Acting user when --as/--role are not given
user:
  email: "{{ .UserEmail }}"
  role: "{{ .UserRole }}"

# HTTP port for 'bugflow serve'
port: {{ .Port }}

# How often 'bugflow serve' sweeps for alerting bugs
sweep_interval: "{{ .SweepInterval }}"

# Alert notifications (empty webhook_url logs alerts only)
notify:
  webhook_url: "{{ .WebhookURL }}"
  per_minute: {{ .PerMinute }}

# Alert thresholds: elapsed time strictly above a tier raises that level.
# Edits are picked up by a running 'bugflow serve'.
alerts:
  unassigned:
    low: "{{ .UnassignedLow }}"
    medium: "{{ .UnassignedMedium }}"
    high: "{{ .UnassignedHigh }}"
  stale:
    low: "{{ .StaleLow }}"
    medium: "{{ .StaleMedium }}"
    high: "{{ .StaleHigh }}"
  # Critical bugs waiting longer than this in Ready For Closure alert HIGH
  critical_closure: "{{ .CriticalClosure }}"

# Hour budgets per priority for 'bugflow report sla'
sla:
  developer:
    critical: {{ index .SLA "sla.developer.critical" }}
    high: {{ index .SLA "sla.developer.high" }}
    medium: {{ index .SLA "sla.developer.medium" }}
    low: {{ index .SLA "sla.developer.low" }}
  tester:
    critical: {{ index .SLA "sla.tester.critical" }}
    high: {{ index .SLA "sla.tester.high" }}
    medium: {{ index .SLA "sla.tester.medium" }}
    low: {{ index .SLA "sla.tester.low" }}

# Reopen requests: how long after closing, and whether a bug may reopen more than once
reopen:
  window: "{{ .ReopenWindow }}"
  single: {{ .ReopenSingle }}

# Anthropic API for priority suggestions (falls back to keyword rules)
anthropic:
  # api_key: ""
  model: "{{ .AnthropicModel }}"
`

type configTemplateData struct {
	DBPath           string
	BugPrefix        string
	UserEmail        string
	UserRole         string
	Port             int
	SweepInterval    string
	WebhookURL       string
	PerMinute        int
	UnassignedLow    string
	UnassignedMedium string
	UnassignedHigh   string
	StaleLow         string
	StaleMedium      string
	StaleHigh        string
	CriticalClosure  string
	SLA              map[string]float64
	ReopenWindow     string
	ReopenSingle     bool
	AnthropicModel   string
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
		DBPath:           viper.GetString("db_path"),
		BugPrefix:        viper.GetString("bug_prefix"),
		UserEmail:        viper.GetString("user.email"),
		UserRole:         viper.GetString("user.role"),
		Port:             viper.GetInt("port"),
		SweepInterval:    viper.GetString("sweep_interval"),
		WebhookURL:       viper.GetString("notify.webhook_url"),
		PerMinute:        viper.GetInt("notify.per_minute"),
		UnassignedLow:    viper.GetString("alerts.unassigned.low"),
		UnassignedMedium: viper.GetString("alerts.unassigned.medium"),
		UnassignedHigh:   viper.GetString("alerts.unassigned.high"),
		StaleLow:         viper.GetString("alerts.stale.low"),
		StaleMedium:      viper.GetString("alerts.stale.medium"),
		StaleHigh:        viper.GetString("alerts.stale.high"),
		CriticalClosure:  viper.GetString("alerts.critical_closure"),
		SLA:              map[string]float64{},
		ReopenWindow:     viper.GetString("reopen.window"),
		ReopenSingle:     viper.GetBool("reopen.single"),
		AnthropicModel:   viper.GetString("anthropic.model"),
	}
	for _, role := range []string{"developer", "tester"} {
		for _, p := range []string{"critical", "high", "medium", "low"} {
			key := "sla." + role + "." + p
			data.SLA[key] = viper.GetFloat64(key)
		}
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

	if err := os.MkdirAll(filepath.Dir(cfgPath), 0755); err != nil {
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

// configKeys lists the displayed keys in a stable order: fixed keys first,
// then every registered policy key.
func configKeys() []string {
	fixed := []string{
		"state_dir", "db_path", "bug_prefix", "user.email", "user.role", "port",
		"sweep_interval", "notify.webhook_url", "notify.per_minute", "anthropic.model",
	}
	seen := map[string]bool{}
	for _, k := range fixed {
		seen[k] = true
	}
	var rest []string
	for _, k := range viper.AllKeys() {
		if seen[k] || k == "anthropic.api_key" {
			continue
		}
		if strings.HasPrefix(k, "alerts.") || strings.HasPrefix(k, "sla.") || strings.HasPrefix(k, "reopen.") {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(fixed, rest...)
}

// envVar returns the environment variable that overrides key.
func envVar(key string) string {
	return "BUGFLOW_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys() {
		val := viper.Get(k)
		source := detectSource(k, envVar(k), fileValues)
		fmt.Fprintf(ui.Out, "  %-28s %v  %s\n", k, val, source)
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
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'bugflow config init' first)", cfgPath)
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
