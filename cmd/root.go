package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"mssql-backup-verify/internal/config"
	"mssql-backup-verify/internal/controlplane"
	"mssql-backup-verify/internal/display"
	"mssql-backup-verify/internal/logging"
	"mssql-backup-verify/internal/verifier"
)

var cfgFile string

// CLI flag variables
var (
	// Engine flags
	server         string
	username       string
	password       string
	trustedAuth    bool
	sqlcmdPath     string
	dataDir        string
	grantUser      string
	commandTimeout time.Duration
	restoreTimeout time.Duration

	// Job flags
	archivePath string
	patterns    []string
	retain      bool
	workRoot    string

	// Operation flags
	verbose bool
	quiet   bool
	logFile string

	// Display flags
	noColor      bool
	noProgress   bool
	outputFormat string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mssql-backup-verify",
	Short: "Prove SQL Server backups are restorable by restoring them",
	Long: `mssql-backup-verify takes a nightly backup archive, extracts the .bak
inside, restores it against a scratch SQL Server engine through sqlcmd,
verifies the restored database comes online and inspects its tables, then
drops everything it created.

The archive can be a local path or an object URL (s3://, gs://, azblob://).
Remote archives are downloaded before extraction.

Examples:
  # Verify a local nightly archive
  mssql-backup-verify --archive /backups/nightly_20260830.zip --server db-verify-01

  # Verify straight from object storage, keep the database for inspection
  mssql-backup-verify --archive s3://backups/nightly_20260830.zip --retain

  # Only analyze tables matching the given name fragments
  mssql-backup-verify --archive nightly.zip --patterns GWSCANNER,AUDIT

  # Machine-readable result for the scheduler that runs this nightly
  mssql-backup-verify --archive nightly.zip --format json --no-progress`,
	RunE: runVerify,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	// Configuration file flag
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./mssql-backup-verify.yaml)")

	// Engine flags
	rootCmd.Flags().StringVar(&server, "server", "", "engine host for sqlcmd -S")
	rootCmd.Flags().StringVar(&username, "user", "", "engine username for sqlcmd -U")
	rootCmd.Flags().StringVar(&password, "password", "", "engine password for sqlcmd -P")
	rootCmd.Flags().BoolVar(&trustedAuth, "trusted-auth", false, "use Windows authentication (sqlcmd -E)")
	rootCmd.Flags().StringVar(&sqlcmdPath, "sqlcmd", "", "path to the sqlcmd binary")
	rootCmd.Flags().StringVar(&dataDir, "data-dir", "", "engine directory for relocated data and log files")
	rootCmd.Flags().StringVar(&grantUser, "grant-user", "", "engine user granted db_owner on the restored database")
	rootCmd.Flags().DurationVar(&commandTimeout, "timeout", 30*time.Second, "timeout for individual statements")
	rootCmd.Flags().DurationVar(&restoreTimeout, "restore-timeout", 5*time.Minute, "timeout for the restore statement")

	// Job flags
	rootCmd.Flags().StringVar(&archivePath, "archive", "", "backup archive: local path, s3://, gs:// or azblob:// URL")
	rootCmd.Flags().StringSliceVar(&patterns, "patterns", nil, "table name fragments to analyze (default GWSCANNER)")
	rootCmd.Flags().BoolVar(&retain, "retain", false, "keep the restored database instead of dropping it")
	rootCmd.Flags().StringVar(&workRoot, "work-dir", "", "root directory for extraction working directories")

	// Operation flags
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	rootCmd.Flags().StringVar(&logFile, "log-file", "", "write logs to file in addition to stdout")

	// Display flags
	rootCmd.Flags().BoolVar(&noColor, "no-color", false, "disable color output")
	rootCmd.Flags().BoolVar(&noProgress, "no-progress", false, "disable progress lines")
	rootCmd.Flags().StringVar(&outputFormat, "format", "text", "result format (text, json, yaml)")

	// Bind flags to viper
	viper.BindPFlag("engine.server", rootCmd.Flags().Lookup("server"))
	viper.BindPFlag("engine.username", rootCmd.Flags().Lookup("user"))
	viper.BindPFlag("engine.password", rootCmd.Flags().Lookup("password"))
	viper.BindPFlag("engine.trusted_auth", rootCmd.Flags().Lookup("trusted-auth"))
	viper.BindPFlag("engine.sqlcmd_path", rootCmd.Flags().Lookup("sqlcmd"))
	viper.BindPFlag("engine.data_dir", rootCmd.Flags().Lookup("data-dir"))
	viper.BindPFlag("engine.grant_user", rootCmd.Flags().Lookup("grant-user"))
	viper.BindPFlag("engine.command_timeout", rootCmd.Flags().Lookup("timeout"))
	viper.BindPFlag("engine.restore_timeout", rootCmd.Flags().Lookup("restore-timeout"))

	viper.BindPFlag("patterns", rootCmd.Flags().Lookup("patterns"))
	viper.BindPFlag("retain", rootCmd.Flags().Lookup("retain"))
	viper.BindPFlag("archive.work_root", rootCmd.Flags().Lookup("work-dir"))

	viper.BindPFlag("log_file", rootCmd.Flags().Lookup("log-file"))
	viper.BindPFlag("display.output_format", rootCmd.Flags().Lookup("format"))

	rootCmd.MarkFlagRequired("archive")
}

// runVerify is the main execution function for the CLI
func runVerify(cmd *cobra.Command, args []string) error {
	if verbose && quiet {
		return fmt.Errorf("--verbose and --quiet flags are mutually exclusive")
	}

	cfg, err := config.Load(viper.GetViper(), cfgFile)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if cmd.Flags().Changed("no-color") {
		cfg.Display.ColorEnabled = !noColor
	}
	if cmd.Flags().Changed("no-progress") {
		cfg.Display.ShowProgress = !noProgress
	}
	applyLogLevelFlags(cfg)

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	term := display.NewService(os.Stdout, cfg.Display.ColorEnabled, cfg.Display.ShowProgress)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := controlplane.NewSqlcmdClient(
		cfg.Engine.SqlcmdPath, cfg.Engine.Server,
		cfg.Engine.Username, cfg.Engine.Password,
		cfg.Engine.TrustedAuth, logger)

	runner := verifier.NewRunner(cfg, client, logger)
	result := runner.Run(ctx, verifier.Job{
		ArchivePath: archivePath,
		Patterns:    cfg.Patterns,
		Retain:      cfg.Retain,
		Progress:    term.Step,
	})

	if err := printResult(term, result, cfg.Display.OutputFormat); err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("verification failed: %s", result.Error)
	}
	return nil
}

func applyLogLevelFlags(cfg *config.Config) {
	if verbose {
		cfg.LogLevel = "verbose"
	}
	if quiet {
		cfg.LogLevel = "quiet"
	}
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	return logging.NewLogger(logging.Config{
		Level:   logging.LogLevel(cfg.LogLevel),
		Format:  "text",
		LogFile: cfg.LogFile,
	})
}

func printResult(term *display.Service, result verifier.JobResult, format string) error {
	if format != "text" {
		return term.PrintReport(result, format)
	}

	if result.Success {
		term.Successf("Verification succeeded: %s restored as [%s], %d tables analyzed",
			result.PayloadFile, result.DatabaseName, result.TablesFound)
	} else {
		term.Errorf("Verification failed: %s", result.Error)
	}
	for _, table := range result.TableDetails {
		if table.Err != "" {
			term.Warnf("  %s.%s: %s", table.Schema, table.Name, table.Err)
			continue
		}
		term.Infof("  %s.%s: %d rows, %d columns", table.Schema, table.Name, table.RowCount, len(table.Columns))
		for col, latest := range table.LatestDates {
			term.Infof("    latest %s: %s", col, latest)
		}
	}
	if result.DatabaseKept {
		term.Infof("Database [%s] was kept for inspection", result.DatabaseName)
	}
	if !result.CleanupPerformed && !result.DatabaseKept {
		term.Warnf("Cleanup left artifacts behind; check the engine and work directories")
	}
	return nil
}

// Version information (set by main package)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc, gv string) {
	version = v
	buildTime = bt
	gitCommit = gc
	goVersion = gv
}

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Long:  "Print the version information for mssql-backup-verify",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mssql-backup-verify version %s\n", version)
			fmt.Printf("Built: %s\n", buildTime)
			fmt.Printf("Commit: %s\n", gitCommit)
			fmt.Printf("Go version: %s\n", goVersion)
		},
	}
}

// createConfigCommand creates the config subcommand for generating sample config
func createConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Generate a sample configuration file",
		Long: `Generate a sample configuration file that can be used with the --config flag.

Examples:
  mssql-backup-verify config > mssql-backup-verify.yaml`,
		Run: func(cmd *cobra.Command, args []string) {
			sampleConfig := `# mssql-backup-verify configuration file

# Scratch engine reached through sqlcmd. Everything on it gets dropped
# before each restore; never point this at a production server.
engine:
  server: db-verify-01
  username: sa
  password: ""              # prefer MSSQL_VERIFY_ENGINE_PASSWORD
  trusted_auth: false       # use Windows authentication instead of user/password
  sqlcmd_path: sqlcmd
  data_dir: 'C:\Data'       # where relocated .mdf/.ldf files land
  grant_user: ""            # optional user granted db_owner after restore
  command_timeout: 30s
  restore_timeout: 5m
  poll_attempts: 5
  poll_interval: 2s

# Archive handling
archive:
  work_root: ""             # extraction root (empty = system temp)
  s3:
    region: us-east-1
    access_key_id: ""
    secret_access_key: ""
  gcs:
    credentials_file: ""
  azure:
    account_name: ""
    account_key: ""

patterns: [GWSCANNER]       # table name fragments to analyze
retain: false               # keep the restored database after verification

log_level: normal           # quiet, normal, verbose, debug
log_file: ""

display:
  color_enabled: true
  show_progress: true
  output_format: text       # text, json, yaml

# All keys can be set via environment variables with the MSSQL_VERIFY_ prefix:
#   MSSQL_VERIFY_ENGINE_SERVER=db-verify-01
#   MSSQL_VERIFY_ENGINE_PASSWORD=...
`
			fmt.Print(sampleConfig)
		},
	}
}

func init() {
	// Add subcommands
	rootCmd.AddCommand(createVersionCommand())
	rootCmd.AddCommand(createConfigCommand())
}
