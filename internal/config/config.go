// Package config loads provkit configuration from YAML with PROVKIT_*
// environment overrides. Secrets are never stored in the file: the file
// names the environment variable that holds them.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	pcrypto "github.com/remiblancher/provkit/pkg/crypto"
)

// Key vault types.
const (
	VaultSoftware = "software"
	VaultAzure    = "azure"
	VaultPKCS11   = "pkcs11"
)

// Config is the root configuration document.
type Config struct {
	Signing SigningConfig `yaml:"signing"`
	Server  ServerConfig  `yaml:"server"`
	Audit   AuditConfig   `yaml:"audit"`
	Log     LogConfig     `yaml:"log"`
}

// SigningConfig selects the algorithm, certificate chain, key vault and
// optional timestamp authority used to sign assets.
type SigningConfig struct {
	Alg          string         `yaml:"alg"`
	Certificates string         `yaml:"certificates"` // PEM or DER chain, leaf first
	TSAURL       string         `yaml:"tsa_url"`
	TSATimeout   time.Duration  `yaml:"tsa_timeout"`
	KeyVault     KeyVaultConfig `yaml:"key_vault"`
}

type KeyVaultConfig struct {
	Type     string           `yaml:"type"`
	Software SoftwareSettings `yaml:"software"`
	Azure    AzureSettings    `yaml:"azure"`
	PKCS11   PKCS11Settings   `yaml:"pkcs11"`
}

// SoftwareSettings points at a PEM private key on disk.
type SoftwareSettings struct {
	KeyFile string `yaml:"key_file"`

	// PassphraseEnv names the variable holding the passphrase of an
	// encrypted key file.
	PassphraseEnv string `yaml:"passphrase_env"`
}

// AzureSettings addresses a key in an Azure Key Vault.
type AzureSettings struct {
	VaultURL   string `yaml:"vault_url"`
	KeyName    string `yaml:"key_name"`
	KeyVersion string `yaml:"key_version"`

	// TokenEnv names the variable holding the OAuth bearer token.
	TokenEnv string `yaml:"token_env"`

	// RemoteRandom draws nonce entropy from the vault RNG endpoint.
	RemoteRandom bool          `yaml:"remote_random"`
	Timeout      time.Duration `yaml:"timeout"`
}

// PKCS11Settings addresses a key on an HSM token.
type PKCS11Settings struct {
	Lib         string `yaml:"lib"`
	Token       string `yaml:"token"`
	TokenSerial string `yaml:"token_serial"`
	Slot        *uint  `yaml:"slot"`
	PinEnv      string `yaml:"pin_env"`
	KeyLabel    string `yaml:"key_label"`
	KeyID       string `yaml:"key_id"` // hex
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	TLSCert         string        `yaml:"tls_cert"`
	TLSKey          string        `yaml:"tls_key"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AuditConfig enables the hash-chained audit log when Path is set.
type AuditConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // trace, debug, info, warn, error
	Format string `yaml:"format"` // json or console
}

// Default returns a configuration with every optional field filled.
func Default() *Config {
	return &Config{
		Signing: SigningConfig{
			Alg:        "es256",
			TSATimeout: 10 * time.Second,
			KeyVault: KeyVaultConfig{
				Type:  VaultSoftware,
				Azure: AzureSettings{Timeout: 30 * time.Second},
			},
		},
		Server: ServerConfig{
			Port:            8443,
			MaxBodyBytes:    64 << 20,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path yields defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides fields from PROVKIT_* variables.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("PROVKIT_ALG", &c.Signing.Alg)
	str("PROVKIT_CERTIFICATES", &c.Signing.Certificates)
	str("PROVKIT_TSA_URL", &c.Signing.TSAURL)
	str("PROVKIT_KEY_VAULT", &c.Signing.KeyVault.Type)
	str("PROVKIT_KEY_FILE", &c.Signing.KeyVault.Software.KeyFile)
	str("PROVKIT_AZURE_VAULT_URL", &c.Signing.KeyVault.Azure.VaultURL)
	str("PROVKIT_AZURE_KEY_NAME", &c.Signing.KeyVault.Azure.KeyName)
	str("PROVKIT_AZURE_KEY_VERSION", &c.Signing.KeyVault.Azure.KeyVersion)
	str("PROVKIT_HOST", &c.Server.Host)
	str("PROVKIT_TLS_CERT", &c.Server.TLSCert)
	str("PROVKIT_TLS_KEY", &c.Server.TLSKey)
	str("PROVKIT_AUDIT_LOG", &c.Audit.Path)
	str("PROVKIT_LOG_LEVEL", &c.Log.Level)
	str("PROVKIT_LOG_FORMAT", &c.Log.Format)

	if v, ok := lookup("PROVKIT_PORT"); ok && v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PROVKIT_PORT: %w", err)
		}
		c.Server.Port = p
	}
	return nil
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	if err := c.ValidateSigning(); err != nil {
		return err
	}
	if err := c.ValidateServer(); err != nil {
		return err
	}
	return c.Log.Validate()
}

// ValidateServer checks the server section.
func (c *Config) ValidateServer() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return errors.New("server.tls_cert and server.tls_key must be set together")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return errors.New("server.max_body_bytes must be positive")
	}
	return nil
}

// SigningConfigured reports whether a certificate chain is configured; a
// server without one serves reads only.
func (c *Config) SigningConfigured() bool {
	return c.Signing.Certificates != ""
}

// ValidateSigning checks only what signing needs.
func (c *Config) ValidateSigning() error {
	if _, err := pcrypto.ParseSigningAlgorithm(c.Signing.Alg); err != nil {
		return fmt.Errorf("signing.alg: %w", err)
	}
	if c.Signing.Certificates == "" {
		return errors.New("signing.certificates is required")
	}
	return c.Signing.KeyVault.Validate()
}

// Validate checks the settings of the selected vault type.
func (k *KeyVaultConfig) Validate() error {
	switch k.Type {
	case VaultSoftware:
		if k.Software.KeyFile == "" {
			return errors.New("key_vault.software.key_file is required")
		}
	case VaultAzure:
		a := k.Azure
		if a.VaultURL == "" || a.KeyName == "" {
			return errors.New("key_vault.azure.vault_url and key_vault.azure.key_name are required")
		}
		if a.TokenEnv == "" {
			return errors.New("key_vault.azure.token_env is required (token must be provided via environment variable)")
		}
	case VaultPKCS11:
		p := k.PKCS11
		if p.Lib == "" {
			return errors.New("key_vault.pkcs11.lib is required")
		}
		if p.Token == "" && p.TokenSerial == "" && p.Slot == nil {
			return errors.New("at least one of key_vault.pkcs11.token, token_serial or slot is required")
		}
		if p.KeyLabel == "" && p.KeyID == "" {
			return errors.New("key_vault.pkcs11.key_label or key_id is required")
		}
		if p.PinEnv == "" {
			return errors.New("key_vault.pkcs11.pin_env is required (PIN must be provided via environment variable)")
		}
	default:
		return fmt.Errorf("unsupported key vault type: %q", k.Type)
	}
	return nil
}

func (l *LogConfig) Validate() error {
	if _, err := zerolog.ParseLevel(l.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch l.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", l.Format)
	}
	return nil
}

// Address is the server listen address.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Secret reads the environment variable named by envName.
func Secret(envName string) (string, error) {
	if envName == "" {
		return "", errors.New("no environment variable configured")
	}
	v := os.Getenv(envName)
	if v == "" {
		return "", fmt.Errorf("environment variable %s is not set or empty", envName)
	}
	return v, nil
}
