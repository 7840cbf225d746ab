package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. STOREHUB_DATA_DIR
const EnvPrefix = "STOREHUB"

// Config holds all configuration for StoreHub
type Config struct {
	// Server configuration
	Listen   string `mapstructure:"listen"`
	DataDir  string `mapstructure:"data_dir"`
	LogLevel string `mapstructure:"log_level"`

	// TLS configuration
	EnableTLS bool   `mapstructure:"enable_tls"`
	CertFile  string `mapstructure:"cert_file"`
	KeyFile   string `mapstructure:"key_file"`

	Log          LogConfig          `mapstructure:"log"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Audit        AuditConfig        `mapstructure:"audit"`
	KeyVault     KeyVaultConfig     `mapstructure:"keyvault"`
}

// LogConfig defines the optional rotating log file
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// StorageConfig defines where the local provider and upload spool live
type StorageConfig struct {
	LocalRoot string `mapstructure:"local_root"`
	SpoolDir  string `mapstructure:"spool_dir"`
	// MaxUploadSize in bytes, 0 means unlimited
	MaxUploadSize int64 `mapstructure:"max_upload_size"`
}

// ConnectivityConfig bounds provider probes
type ConnectivityConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// AuthConfig defines admin API authentication
type AuthConfig struct {
	EnableAuth bool          `mapstructure:"enable_auth"`
	JWTSecret  string        `mapstructure:"jwt_secret"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
}

// MetricsConfig defines metrics configuration
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// AuditConfig defines the audit log store
type AuditConfig struct {
	Enable        bool   `mapstructure:"enable"`
	DBPath        string `mapstructure:"db_path"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// KeyVaultConfig defines the generated key store
type KeyVaultConfig struct {
	CacheSize int `mapstructure:"cache_size"`
}

// Load loads configuration from flags, an optional config file, an optional
// .env file and STOREHUB_* environment variables
func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if err := bindFlags(cmd, v); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	if err := loadEnvFile(cmd); err != nil {
		return nil, err
	}

	if configFile, _ := cmd.Flags().GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile loads --env-file, or ./.env when present. Variables already
// set in the environment win.
func loadEnvFile(cmd *cobra.Command) error {
	envFile, _ := cmd.Flags().GetString("env-file")
	if envFile == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", envFile, err)
	}
	logrus.Debugf("Loaded environment from %s", envFile)
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":8080")
	// NO default for data_dir - must be explicitly configured
	v.SetDefault("log_level", "info")

	v.SetDefault("enable_tls", false)

	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)

	// Empty by default, derived from data_dir
	v.SetDefault("storage.local_root", "")
	v.SetDefault("storage.spool_dir", "")
	v.SetDefault("storage.max_upload_size", 0)

	v.SetDefault("connectivity.timeout", "10s")

	v.SetDefault("auth.enable_auth", true)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "12h")

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("audit.enable", true)
	v.SetDefault("audit.db_path", "")
	v.SetDefault("audit.retention_days", 90)

	v.SetDefault("keyvault.cache_size", 256)
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := map[string]string{
		"listen":    "listen",
		"data-dir":  "data_dir",
		"log-level": "log_level",
		"tls-cert":  "cert_file",
		"tls-key":   "key_file",
	}

	for flag, key := range flags {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}

	return nil
}

func validate(cfg *Config) error {
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir is required: specify via --data-dir flag, config file, or %s_DATA_DIR environment variable", EnvPrefix)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if cfg.Storage.LocalRoot == "" {
		cfg.Storage.LocalRoot = filepath.Join(cfg.DataDir, "objects")
	}
	if cfg.Storage.SpoolDir == "" {
		cfg.Storage.SpoolDir = filepath.Join(cfg.DataDir, "spool")
	}
	if cfg.Audit.DBPath == "" {
		cfg.Audit.DBPath = filepath.Join(cfg.DataDir, "audit.db")
	}

	for _, dir := range []*string{&cfg.Storage.LocalRoot, &cfg.Storage.SpoolDir} {
		if !filepath.IsAbs(*dir) {
			if abs, err := filepath.Abs(*dir); err == nil {
				*dir = abs
			}
		}
		if err := os.MkdirAll(*dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", *dir, err)
		}
	}

	if cfg.Connectivity.Timeout <= 0 {
		return errors.New("connectivity.timeout must be positive")
	}
	if cfg.Audit.RetentionDays < 0 {
		return errors.New("audit.retention_days must not be negative")
	}
	if cfg.Storage.MaxUploadSize < 0 {
		return errors.New("storage.max_upload_size must not be negative")
	}
	if cfg.KeyVault.CacheSize <= 0 {
		return errors.New("keyvault.cache_size must be positive")
	}

	if cfg.EnableTLS {
		if cfg.CertFile == "" || cfg.KeyFile == "" {
			return fmt.Errorf("TLS enabled but cert-file or key-file not specified")
		}
	}

	if cfg.Auth.EnableAuth && cfg.Auth.JWTSecret == "" {
		secret, err := generateSecret(32)
		if err != nil {
			return fmt.Errorf("failed to generate JWT secret: %w", err)
		}
		cfg.Auth.JWTSecret = secret
		logrus.Warn("auth.jwt_secret not set, generated a random secret; tokens will not survive a restart")
	}

	return nil
}

func generateSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
