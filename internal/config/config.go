package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EngineConfig describes how to reach the SQL Server engine through sqlcmd.
type EngineConfig struct {
	Server          string        `mapstructure:"server"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	TrustedAuth     bool          `mapstructure:"trusted_auth"`
	SqlcmdPath      string        `mapstructure:"sqlcmd_path"`
	DataDir         string        `mapstructure:"data_dir"`
	CommandTimeout  time.Duration `mapstructure:"command_timeout"`
	RestoreTimeout  time.Duration `mapstructure:"restore_timeout"`
	GrantUser       string        `mapstructure:"grant_user"`
	PollAttempts    int           `mapstructure:"poll_attempts"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	SystemDatabases []string      `mapstructure:"system_databases"`
}

// ArchiveConfig describes where archives come from and where they unpack.
type ArchiveConfig struct {
	WorkRoot string      `mapstructure:"work_root"`
	S3       S3Config    `mapstructure:"s3"`
	GCS      GCSConfig   `mapstructure:"gcs"`
	Azure    AzureConfig `mapstructure:"azure"`
}

// S3Config holds credentials for s3:// archive sources.
type S3Config struct {
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Endpoint        string `mapstructure:"endpoint"`
}

// GCSConfig holds credentials for gs:// archive sources.
type GCSConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
}

// AzureConfig holds credentials for azblob:// archive sources.
type AzureConfig struct {
	AccountName string `mapstructure:"account_name"`
	AccountKey  string `mapstructure:"account_key"`
}

// DisplayConfig controls terminal output.
type DisplayConfig struct {
	ColorEnabled bool   `mapstructure:"color_enabled"`
	ShowProgress bool   `mapstructure:"show_progress"`
	OutputFormat string `mapstructure:"output_format"`
}

// Config is the root configuration for the verification pipeline.
type Config struct {
	Engine   EngineConfig  `mapstructure:"engine"`
	Archive  ArchiveConfig `mapstructure:"archive"`
	Display  DisplayConfig `mapstructure:"display"`
	Patterns []string      `mapstructure:"patterns"`
	Retain   bool          `mapstructure:"retain"`
	LogLevel string        `mapstructure:"log_level"`
	LogFile  string        `mapstructure:"log_file"`
}

// SetDefaults registers default values on a viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("engine.server", "localhost")
	v.SetDefault("engine.sqlcmd_path", "sqlcmd")
	v.SetDefault("engine.trusted_auth", false)
	v.SetDefault("engine.data_dir", "C:\\Data")
	v.SetDefault("engine.command_timeout", 30*time.Second)
	v.SetDefault("engine.restore_timeout", 5*time.Minute)
	v.SetDefault("engine.poll_attempts", 5)
	v.SetDefault("engine.poll_interval", 2*time.Second)
	v.SetDefault("engine.system_databases", []string{"master", "model", "msdb", "tempdb"})
	v.SetDefault("archive.work_root", "")
	v.SetDefault("display.color_enabled", true)
	v.SetDefault("display.show_progress", true)
	v.SetDefault("display.output_format", "text")
	v.SetDefault("patterns", []string{"GWSCANNER"})
	v.SetDefault("retain", false)
	v.SetDefault("log_level", "normal")
}

// Load reads configuration from an optional YAML file plus environment
// variables, applies defaults and validates the result.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix("MSSQL_VERIFY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("mssql-backup-verify")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/mssql-backup-verify")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Engine.Server == "" {
		return fmt.Errorf("engine.server must not be empty")
	}
	if c.Engine.SqlcmdPath == "" {
		return fmt.Errorf("engine.sqlcmd_path must not be empty")
	}
	if !c.Engine.TrustedAuth && c.Engine.Username == "" {
		return fmt.Errorf("engine.username is required unless trusted_auth is enabled")
	}
	if c.Engine.CommandTimeout <= 0 {
		return fmt.Errorf("engine.command_timeout must be positive")
	}
	if c.Engine.RestoreTimeout <= 0 {
		return fmt.Errorf("engine.restore_timeout must be positive")
	}
	if c.Engine.PollAttempts < 1 {
		return fmt.Errorf("engine.poll_attempts must be at least 1")
	}
	if c.Engine.PollInterval <= 0 {
		return fmt.Errorf("engine.poll_interval must be positive")
	}
	switch c.Display.OutputFormat {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("display.output_format must be one of text, json, yaml (got %q)", c.Display.OutputFormat)
	}
	switch c.LogLevel {
	case "quiet", "normal", "verbose", "debug":
	default:
		return fmt.Errorf("log_level must be one of quiet, normal, verbose, debug (got %q)", c.LogLevel)
	}
	return nil
}
