// Command provkit signs assets with C2PA manifests and reads manifest stores.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/remiblancher/provkit/internal/audit"
	"github.com/remiblancher/provkit/internal/config"
	"github.com/remiblancher/provkit/internal/logging"
)

// Build-time variables (injected by GoReleaser)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags
var (
	configPath   string
	auditLogPath string
	logLevel     string
	logFormat    string
)

// Loaded by the root PersistentPreRunE.
var (
	appConfig *config.Config
	logger    = zerolog.Nop()
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "provkit",
	Short: "C2PA content provenance toolkit",
	Long: `provkit embeds signed C2PA manifests into assets and reads them back.

Signing keys stay in a key vault (PEM file, Azure Key Vault or a PKCS#11
HSM); provkit only asks the vault to sign digests. An RFC 3161 timestamp
authority can countersign each claim.

Supported formats: JPEG, PNG
Supported algorithms: es256, es384, es512, ps256, ps384, ps512, ed25519

Examples:
  # Read the manifest store of an image
  provkit read photo.jpg

  # Sign an image with a local key
  provkit sign photo.jpg --out signed.jpg --cert chain.pem --key key.pem

  # Run the REST API
  provkit serve --config provkit.yaml`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if auditLogPath != "" {
			cfg.Audit.Path = auditLogPath
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		if logFormat != "" {
			cfg.Log.Format = logFormat
		}
		if err := cfg.Log.Validate(); err != nil {
			return err
		}

		l, err := logging.Setup(logging.Options{
			Level:  cfg.Log.Level,
			Format: cfg.Log.Format,
			Output: cmd.ErrOrStderr(),
		})
		if err != nil {
			return err
		}

		if err := audit.InitFile(cfg.Audit.Path); err != nil {
			return fmt.Errorf("failed to initialize audit log: %w", err)
		}

		appConfig = cfg
		logger = l
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return audit.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&auditLogPath, "audit-log", "",
		"Path to audit log file (or set PROVKIT_AUDIT_LOG env var)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Log format: console or json")

	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tsaCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(versionCmd)
}

// commandContext returns the command context carrying the process logger.
func commandContext(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return logger.WithContext(ctx)
}
