package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "storehub"}
	cmd.Flags().String("config", "", "")
	cmd.Flags().String("env-file", "", "")
	cmd.Flags().String("listen", ":8080", "")
	cmd.Flags().String("data-dir", "", "")
	cmd.Flags().String("log-level", "info", "")
	cmd.Flags().String("tls-cert", "", "")
	cmd.Flags().String("tls-key", "", "")
	return cmd
}

func TestSetDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	assert.Equal(t, ":8080", v.GetString("listen"))
	assert.Equal(t, "info", v.GetString("log_level"))
	assert.False(t, v.GetBool("enable_tls"))
	assert.Equal(t, 100, v.GetInt("log.max_size_mb"))
	assert.Equal(t, 5, v.GetInt("log.max_backups"))
	assert.Equal(t, 30, v.GetInt("log.max_age_days"))
	assert.Equal(t, 10*time.Second, v.GetDuration("connectivity.timeout"))
	assert.True(t, v.GetBool("auth.enable_auth"))
	assert.True(t, v.GetBool("metrics.enable"))
	assert.Equal(t, "/metrics", v.GetString("metrics.path"))
	assert.True(t, v.GetBool("audit.enable"))
	assert.Equal(t, 90, v.GetInt("audit.retention_days"))
	assert.Equal(t, 256, v.GetInt("keyvault.cache_size"))
}

func TestLoad_DerivesPathsFromDataDir(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")
	cmd := newTestCommand()
	require.NoError(t, cmd.Flags().Set("data-dir", dataDir))

	cfg, err := Load(cmd)
	require.NoError(t, err)

	assert.Equal(t, dataDir, cfg.DataDir)
	assert.Equal(t, filepath.Join(dataDir, "objects"), cfg.Storage.LocalRoot)
	assert.Equal(t, filepath.Join(dataDir, "spool"), cfg.Storage.SpoolDir)
	assert.Equal(t, filepath.Join(dataDir, "audit.db"), cfg.Audit.DBPath)
	assert.Equal(t, 10*time.Second, cfg.Connectivity.Timeout)
	assert.Equal(t, 12*time.Hour, cfg.Auth.TokenTTL)
	assert.Len(t, cfg.Auth.JWTSecret, 64)

	assert.DirExists(t, cfg.Storage.LocalRoot)
	assert.DirExists(t, cfg.Storage.SpoolDir)
}

func TestLoad_RequiresDataDir(t *testing.T) {
	t.Setenv("STOREHUB_DATA_DIR", "")
	_, err := Load(newTestCommand())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data_dir is required")
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "storehub.yaml")
	content := "data_dir: " + filepath.Join(dir, "data") + "\n" +
		"log_level: debug\n" +
		"connectivity:\n  timeout: 3s\n" +
		"audit:\n  retention_days: 7\n" +
		"auth:\n  jwt_secret: configured-secret\n"
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	cmd := newTestCommand()
	require.NoError(t, cmd.Flags().Set("config", configPath))

	cfg, err := Load(cmd)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 3*time.Second, cfg.Connectivity.Timeout)
	assert.Equal(t, 7, cfg.Audit.RetentionDays)
	assert.Equal(t, "configured-secret", cfg.Auth.JWTSecret)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STOREHUB_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("STOREHUB_CONNECTIVITY_TIMEOUT", "2s")
	t.Setenv("STOREHUB_KEYVAULT_CACHE_SIZE", "32")

	cfg, err := Load(newTestCommand())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "data"), cfg.DataDir)
	assert.Equal(t, 2*time.Second, cfg.Connectivity.Timeout)
	assert.Equal(t, 32, cfg.KeyVault.CacheSize)
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "storehub.env")
	require.NoError(t, os.WriteFile(envPath, []byte("STOREHUB_LOG_LEVEL=warn\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("STOREHUB_LOG_LEVEL") })

	cmd := newTestCommand()
	require.NoError(t, cmd.Flags().Set("data-dir", filepath.Join(dir, "data")))
	require.NoError(t, cmd.Flags().Set("env-file", envPath))

	cfg, err := Load(cmd)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoad_MissingEnvFile(t *testing.T) {
	cmd := newTestCommand()
	require.NoError(t, cmd.Flags().Set("data-dir", t.TempDir()))
	require.NoError(t, cmd.Flags().Set("env-file", filepath.Join(t.TempDir(), "missing.env")))

	_, err := Load(cmd)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func(t *testing.T) *Config {
		return &Config{
			DataDir:      t.TempDir(),
			Connectivity: ConnectivityConfig{Timeout: time.Second},
			Audit:        AuditConfig{RetentionDays: 1},
			KeyVault:     KeyVaultConfig{CacheSize: 16},
		}
	}

	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{"valid", func(cfg *Config) {}, ""},
		{"zero timeout", func(cfg *Config) { cfg.Connectivity.Timeout = 0 }, "connectivity.timeout"},
		{"negative retention", func(cfg *Config) { cfg.Audit.RetentionDays = -1 }, "audit.retention_days"},
		{"negative upload limit", func(cfg *Config) { cfg.Storage.MaxUploadSize = -1 }, "storage.max_upload_size"},
		{"zero cache", func(cfg *Config) { cfg.KeyVault.CacheSize = 0 }, "keyvault.cache_size"},
		{"tls without cert", func(cfg *Config) { cfg.EnableTLS = true }, "TLS enabled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid(t)
			tt.mutate(cfg)
			err := validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_KeepsConfiguredSecret(t *testing.T) {
	cfg := &Config{
		DataDir:      t.TempDir(),
		Connectivity: ConnectivityConfig{Timeout: time.Second},
		KeyVault:     KeyVaultConfig{CacheSize: 1},
		Auth:         AuthConfig{EnableAuth: true, JWTSecret: "fixed"},
	}
	require.NoError(t, validate(cfg))
	assert.Equal(t, "fixed", cfg.Auth.JWTSecret)
}

func TestGenerateSecret(t *testing.T) {
	a, err := generateSecret(16)
	require.NoError(t, err)
	b, err := generateSecret(16)
	require.NoError(t, err)
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}
