package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Server runs the REST API until its context is cancelled.
type Server struct {
	cfg    *Config
	logger zerolog.Logger
	srv    *http.Server
}

// New creates a Server serving handler.
func New(cfg *Config, handler http.Handler, logger zerolog.Logger) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
		srv: &http.Server{
			Addr:         cfg.Address(),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
			BaseContext:  func(net.Listener) context.Context { return logger.WithContext(context.Background()) },
		},
	}
}

// Run listens on the configured address and blocks until ctx is cancelled
// or the server fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Address(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln, then shuts down gracefully within
// ShutdownTimeout once ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info().
			Str("address", ln.Addr().String()).
			Bool("tls", s.cfg.TLSEnabled()).
			Msg("server listening")

		var err error
		if s.cfg.TLSEnabled() {
			err = s.srv.ServeTLS(ln, s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			err = s.srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()

		s.logger.Info().Msg("shutting down")
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		s.logger.Info().Msg("server stopped gracefully")
		return nil
	})

	return g.Wait()
}
