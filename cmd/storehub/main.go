package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/maxiofs/storehub/internal/config"
	"github.com/maxiofs/storehub/internal/logging"
	"github.com/maxiofs/storehub/internal/middleware"
	"github.com/maxiofs/storehub/internal/server"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "storehub",
		Short: "StoreHub - multi-provider storage routing service",
		Long: `StoreHub routes uploaded files to one of several configured storage
providers (local disk, S3, R2, B2, Wasabi, MinIO and friends) based on
per-provider routing rules, with optional encryption at rest.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
		RunE:         runServer,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "Configuration file path")
	flags.String("env-file", "", "Dotenv file with STOREHUB_* variables (default ./.env)")
	flags.StringP("data-dir", "d", "./data", "Data directory path")
	flags.StringP("listen", "l", ":8080", "Listen address")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("tls-cert", "", "TLS certificate file")
	flags.String("tls-key", "", "TLS key file")

	rootCmd.AddCommand(newTokenCmd())
	return rootCmd
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	closer := logging.Setup(logrus.StandardLogger(), cfg.LogLevel, cfg.Log)
	defer closer.Close()

	logrus.WithFields(logrus.Fields{
		"version": version,
		"commit":  commit,
		"date":    date,
	}).Info("Starting StoreHub")

	srv, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	logrus.Info("StoreHub stopped")
	return nil
}

// newTokenCmd issues an admin bearer token signed with the configured secret
func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin API token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			subject, _ := cmd.Flags().GetString("subject")
			name, _ := cmd.Flags().GetString("name")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL
			}

			token, err := middleware.IssueToken([]byte(cfg.Auth.JWTSecret), subject, name, ttl)
			if err != nil {
				return fmt.Errorf("failed to issue token: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().String("subject", "admin", "Token subject (actor id recorded in audit logs)")
	cmd.Flags().String("name", "Administrator", "Actor display name")
	cmd.Flags().Duration("ttl", 0, "Token lifetime (defaults to auth.token_ttl)")
	return cmd
}
