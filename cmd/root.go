package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/bugflow/internal/classify"
	"github.com/joescharf/bugflow/internal/models"
	"github.com/joescharf/bugflow/internal/output"
	"github.com/joescharf/bugflow/internal/policy"
	"github.com/joescharf/bugflow/internal/store"
	"github.com/joescharf/bugflow/internal/workflow"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store
	engine    *workflow.Engine

	verbose bool
	dryRun  bool
	asUser  string
	asRole  string

	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "bugflow",
	Short: "Bug workflow engine - track bugs from report to closure",
	Long: `bugflow tracks bugs through a fixed lifecycle, from Open through fix and
verification to Closed, with reallocation and reopen requests reviewed by
team leads and live alerts for bugs left unassigned or stale.`,
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

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(ui.Out, "bugflow %s (commit %s, built %s)\n", buildVersion, buildCommit, buildDate)
	},
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/bugflow/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&asUser, "as", "", "Act as this user email (default user.email)")
	rootCmd.PersistentFlags().StringVar(&asRole, "role", "", "Act in this role: reporter, developer, tester, teamlead, admin (default user.role)")

	rootCmd.AddCommand(versionCmd)
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

		viper.AddConfigPath(filepath.Join(home, ".config", "bugflow"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("BUGFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	home, _ := os.UserHomeDir()
	setDefaults(filepath.Join(home, ".config", "bugflow"))

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every configuration key rooted at stateDir.
func setDefaults(stateDir string) {
	viper.SetDefault("state_dir", stateDir)
	viper.SetDefault("db_path", filepath.Join(stateDir, "bugflow.db"))
	viper.SetDefault("bug_prefix", store.DefaultBugPrefix)
	viper.SetDefault("user.email", "")
	viper.SetDefault("user.role", string(models.RoleReporter))
	viper.SetDefault("port", 8080)
	viper.SetDefault("sweep_interval", "15m")
	viper.SetDefault("notify.webhook_url", "")
	viper.SetDefault("notify.per_minute", 30)
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	policy.SetDefaults(viper.GetViper())
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// The store opens lazily so config/version commands run without a db.
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath, store.WithBugPrefix(viper.GetString("bug_prefix")))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// getEngine returns the shared engine over the store, with the configured policy.
func getEngine() (*workflow.Engine, error) {
	if engine != nil {
		return engine, nil
	}
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	pol, err := policy.Load(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	engine = workflow.NewEngine(s, nil, pol)
	return engine, nil
}

// actingUser resolves --as/--role against the user.* config keys.
func actingUser() (models.ActingUser, error) {
	email := asUser
	if email == "" {
		email = viper.GetString("user.email")
	}
	roleName := asRole
	if roleName == "" {
		roleName = viper.GetString("user.role")
	}
	role, ok := models.ParseRole(roleName)
	if !ok {
		return models.ActingUser{}, fmt.Errorf("unknown role %q (use reporter, developer, tester, teamlead or admin)", roleName)
	}
	return models.ActingUser{Email: email, Role: role}, nil
}

// requireUser is actingUser for commands that record who acted.
func requireUser() (models.ActingUser, error) {
	u, err := actingUser()
	if err != nil {
		return u, err
	}
	if u.Email == "" {
		return u, fmt.Errorf("no acting user: pass --as or set user.email (bugflow config init)")
	}
	return u, nil
}

// newClassifier returns the LLM classifier when an API key is configured,
// otherwise the keyword rules.
func newClassifier() classify.Classifier {
	apiKey := viper.GetString("anthropic.api_key")
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return classify.KeywordClassifier{}
	}
	return classify.NewLLM(apiKey, viper.GetString("anthropic.model"))
}
