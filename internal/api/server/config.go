// Package server provides HTTP server configuration and lifecycle management.
package server

import (
	"fmt"
	"time"

	"github.com/remiblancher/provkit/internal/config"
)

// Config holds the server configuration.
type Config struct {
	// Host is the address to bind to (default: all interfaces).
	Host string
	Port int

	// TLS is enabled when both are set.
	TLSCert string
	TLSKey  string

	MaxBodyBytes int64

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return FromServerConfig(&config.Default().Server)
}

// FromServerConfig maps the file configuration onto a server Config.
func FromServerConfig(sc *config.ServerConfig) *Config {
	return &Config{
		Host:            sc.Host,
		Port:            sc.Port,
		TLSCert:         sc.TLSCert,
		TLSKey:          sc.TLSKey,
		MaxBodyBytes:    sc.MaxBodyBytes,
		ReadTimeout:     sc.ReadTimeout,
		WriteTimeout:    sc.WriteTimeout,
		IdleTimeout:     sc.IdleTimeout,
		ShutdownTimeout: sc.ShutdownTimeout,
	}
}

// Address returns the listen address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}
