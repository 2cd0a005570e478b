// Package router provides HTTP routing configuration using Chi.
package router

import (
	"context"
	_ "embed"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/remiblancher/provkit/internal/api/handler"
	"github.com/remiblancher/provkit/internal/api/middleware"
	"github.com/remiblancher/provkit/internal/api/service"
	"github.com/remiblancher/provkit/internal/keyvault"
)

//go:embed openapi.yaml
var openapiSpec []byte

// Config holds router configuration.
type Config struct {
	Version string
	Logger  zerolog.Logger

	// Bundle enables the sign endpoint. Nil serves reads only.
	Bundle *keyvault.Bundle

	// MaxBodyBytes caps request bodies; zero disables the limit.
	MaxBodyBytes int64
}

// Services lists the API groups served for cfg.
func (c *Config) Services() []string {
	services := []string{"read", "tsa"}
	if c.Bundle != nil {
		services = append(services, "sign")
	}
	return services
}

// New creates a new Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.CORS)

	checks := map[string]handler.ReadyCheck{}
	if cfg.Bundle != nil {
		vault := cfg.Bundle.Vault
		checks["key_vault"] = func(ctx context.Context) bool {
			_, err := vault.Random(ctx, 1)
			return err == nil
		}
	}
	healthHandler := handler.NewHealthHandler(cfg.Version, cfg.Services(), checks)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	r.Get("/api/openapi.yaml", serveOpenAPISpec)

	svc := service.NewProvenanceService(cfg.Bundle)
	manifestHandler := handler.NewManifestHandler(svc)
	tsaHandler := handler.NewTSAHandler(svc)

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.MaxBodyBytes > 0 {
			r.Use(middleware.MaxBody(cfg.MaxBodyBytes))
		}

		r.Route("/manifests", func(r chi.Router) {
			r.Post("/read", manifestHandler.Read)
			r.Post("/read-sidecar", manifestHandler.ReadSidecar)
		})
		r.Post("/assets/sign", manifestHandler.Sign)
		r.Route("/tsa", func(r chi.Router) {
			r.Post("/request", tsaHandler.Request)
			r.Post("/inspect", tsaHandler.Inspect)
		})
	})

	return r
}

// serveOpenAPISpec serves the OpenAPI specification file.
func serveOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openapiSpec)
}
