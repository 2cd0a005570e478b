package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/remiblancher/provkit/internal/api/router"
	"github.com/remiblancher/provkit/internal/api/server"
	"github.com/remiblancher/provkit/internal/keyvault"
)

// Serve command flags
var (
	servePort    int
	serveHost    string
	serveTLSCert string
	serveTLSKey  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the provenance REST API",
	Long: `Start the REST API.

Endpoints:
  GET  /health                        Liveness
  GET  /ready                         Readiness (checks the key vault)
  GET  /api/openapi.yaml              OpenAPI document
  POST /api/v1/manifests/read         Read an embedded manifest store
  POST /api/v1/manifests/read-sidecar Validate a detached manifest store
  POST /api/v1/assets/sign            Sign an asset (needs a signing section)
  POST /api/v1/tsa/request            Build an RFC 3161 request
  POST /api/v1/tsa/inspect            Decode an RFC 3161 request

Without signing.certificates in the configuration the server is read-only.

Environment variables:
  PROVKIT_HOST      Bind address
  PROVKIT_PORT      Port
  PROVKIT_TLS_CERT  TLS certificate file
  PROVKIT_TLS_KEY   TLS private key file

Examples:
  provkit serve --config provkit.yaml
  provkit serve --port 8443 --tls-cert server.crt --tls-key server.key`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port (default: 8443)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default: all interfaces)")
	serveCmd.Flags().StringVar(&serveTLSCert, "tls-cert", "", "TLS certificate file")
	serveCmd.Flags().StringVar(&serveTLSKey, "tls-key", "", "TLS private key file")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	cfg := *appConfig
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if serveTLSCert != "" {
		cfg.Server.TLSCert = serveTLSCert
	}
	if serveTLSKey != "" {
		cfg.Server.TLSKey = serveTLSKey
	}
	if err := cfg.ValidateServer(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	var bundle *keyvault.Bundle
	if cfg.SigningConfigured() {
		if err := cfg.ValidateSigning(); err != nil {
			return fmt.Errorf("invalid signing configuration: %w", err)
		}
		b, err := keyvault.FromConfig(ctx, &cfg.Signing)
		if err != nil {
			return fmt.Errorf("failed to open key vault: %w", err)
		}
		defer func() { _ = b.Close() }()
		bundle = b
	} else {
		logger.Warn().Msg("no signing certificates configured, serving reads only")
	}

	handler := router.New(&router.Config{
		Version:      version,
		Logger:       logger,
		Bundle:       bundle,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})
	return server.New(server.FromServerConfig(&cfg.Server), handler, logger).Run(ctx)
}
