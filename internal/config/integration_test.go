package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigIntegration_EnvironmentOverrides(t *testing.T) {
	tests := []struct {
		name       string
		fileConfig string
		env        map[string]string
		check      func(t *testing.T, cfg *Config)
	}{
		{
			name: "env password overrides file",
			fileConfig: `engine:
  server: db-verify-01
  username: sa
  password: from-file`,
			env: map[string]string{
				"MSSQL_VERIFY_ENGINE_PASSWORD": "from-env",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "from-env", cfg.Engine.Password)
				assert.Equal(t, "db-verify-01", cfg.Engine.Server)
			},
		},
		{
			name: "env timeouts parse as durations",
			fileConfig: `engine:
  server: db-verify-01
  username: sa`,
			env: map[string]string{
				"MSSQL_VERIFY_ENGINE_COMMAND_TIMEOUT": "45s",
				"MSSQL_VERIFY_ENGINE_RESTORE_TIMEOUT": "10m",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 45*time.Second, cfg.Engine.CommandTimeout)
				assert.Equal(t, 10*time.Minute, cfg.Engine.RestoreTimeout)
			},
		},
		{
			name: "env log level feeds validation",
			fileConfig: `engine:
  server: db-verify-01
  username: sa`,
			env: map[string]string{
				"MSSQL_VERIFY_LOG_LEVEL": "verbose",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "verbose", cfg.LogLevel)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(t.TempDir(), "config.yaml")
			err := os.WriteFile(configPath, []byte(tt.fileConfig), 0644)
			require.NoError(t, err)

			for key, value := range tt.env {
				t.Setenv(key, value)
			}

			cfg, err := Load(viper.New(), configPath)
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestConfigIntegration_InvalidEnvValueFailsValidation(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	err := os.WriteFile(configPath, []byte("engine:\n  server: db-verify-01\n  username: sa\n"), 0644)
	require.NoError(t, err)

	t.Setenv("MSSQL_VERIFY_LOG_LEVEL", "shouting")

	_, err = Load(viper.New(), configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
}
