package keyvault

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"

	pcrypto "github.com/remiblancher/provkit/pkg/crypto"
)

// AzureAPIVersion is the Key Vault REST API version spoken by Azure.
const AzureAPIVersion = "7.4"

const maxAzureResponse = 1 << 20

// azureVaultDomains are the registrable domains of the Key Vault and
// Managed HSM endpoints across Azure clouds.
var azureVaultDomains = map[string]bool{
	"azure.net":         true,
	"azure.cn":          true,
	"usgovcloudapi.net": true,
	"microsoftazure.de": true,
}

// AzureConfig addresses one Key Vault key.
type AzureConfig struct {
	VaultURL   string // https://<name>.vault.azure.net
	KeyName    string
	KeyVersion string // empty means the current version
	Token      string // OAuth bearer token

	// RemoteRandom draws entropy from the vault RNG instead of crypto/rand.
	RemoteRandom bool
	Timeout      time.Duration

	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// Azure signs through the Azure Key Vault REST API. ECDSA signatures come
// back as r||s and PS* as RSASSA-PSS with hash-length salt, which is the
// form COSE expects.
type Azure struct {
	base         *url.URL
	keyPath      string
	token        string
	remoteRandom bool
	client       *http.Client

	mu     sync.RWMutex
	closed bool
}

var _ KeyVault = (*Azure)(nil)

// AzureError is an error document returned by the vault.
type AzureError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *AzureError) Error() string {
	return fmt.Sprintf("azure key vault: %d %s: %s", e.Status, e.Code, e.Message)
}

// NewAzure validates cfg and builds a client.
func NewAzure(cfg AzureConfig) (*Azure, error) {
	if cfg.VaultURL == "" || cfg.KeyName == "" {
		return nil, errors.New("azure: vault URL and key name are required")
	}
	if cfg.Token == "" {
		return nil, errors.New("azure: bearer token is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.VaultURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("azure: invalid vault URL: %w", err)
	}
	if err := checkVaultURL(base); err != nil {
		return nil, err
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	keyPath := "/keys/" + url.PathEscape(cfg.KeyName)
	if cfg.KeyVersion != "" {
		keyPath += "/" + url.PathEscape(cfg.KeyVersion)
	}

	return &Azure{
		base:         base,
		keyPath:      keyPath,
		token:        cfg.Token,
		remoteRandom: cfg.RemoteRandom,
		client:       client,
	}, nil
}

// checkVaultURL accepts https://<name>.vault.<domain> and
// https://<name>.managedhsm.<domain> on an Azure cloud domain. Plain http is
// only allowed against loopback hosts.
func checkVaultURL(u *url.URL) error {
	host := strings.ToLower(u.Hostname())
	switch u.Scheme {
	case "http":
		if ip := net.ParseIP(host); host == "localhost" || (ip != nil && ip.IsLoopback()) {
			return nil
		}
		return fmt.Errorf("azure: plain http vault URL only allowed for loopback, got %q", host)
	case "https":
	default:
		return fmt.Errorf("azure: invalid vault URL scheme %q", u.Scheme)
	}

	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return fmt.Errorf("azure: invalid vault host %q: %w", host, err)
	}
	if !azureVaultDomains[domain] {
		return fmt.Errorf("azure: %q is not a key vault host", host)
	}
	name, service, ok := strings.Cut(strings.TrimSuffix(host, "."+domain), ".")
	if !ok || name == "" || (service != "vault" && service != "managedhsm") {
		return fmt.Errorf("azure: %q is not a key vault host", host)
	}
	return nil
}

func (a *Azure) KeyID() string {
	return a.base.String() + a.keyPath
}

type azureSignRequest struct {
	Alg   string `json:"alg"`
	Value string `json:"value"`
}

type azureValue struct {
	KID   string `json:"kid,omitempty"`
	Value string `json:"value"`
}

// Sign posts digest to the key's sign operation.
func (a *Azure) Sign(ctx context.Context, alg pcrypto.SigningAlgorithm, digest []byte) ([]byte, error) {
	if alg == pcrypto.ED25519 {
		return nil, fmt.Errorf("%w: azure has no %s keys", ErrUnsupported, alg)
	}
	if d := pcrypto.DigestOf(alg); d == 0 || len(digest) != d.Size() {
		return nil, fmt.Errorf("azure: digest length %d does not match %s", len(digest), alg)
	}

	var out azureValue
	err := a.call(ctx, a.keyPath+"/sign", azureSignRequest{
		Alg:   alg.Upper(),
		Value: base64.RawURLEncoding.EncodeToString(digest),
	}, &out)
	if err != nil {
		return nil, err
	}
	return decodeB64URL(out.Value)
}

// Random draws n bytes from the vault RNG when enabled, locally otherwise.
func (a *Azure) Random(ctx context.Context, n int) ([]byte, error) {
	if !a.remoteRandom {
		return randomBytes(ctx, n)
	}
	var out azureValue
	if err := a.call(ctx, "/rng", struct {
		Count int `json:"count"`
	}{n}, &out); err != nil {
		return nil, err
	}
	b, err := decodeB64URL(out.Value)
	if err != nil {
		return nil, err
	}
	if len(b) != n {
		return nil, fmt.Errorf("azure: rng returned %d bytes, want %d", len(b), n)
	}
	return b, nil
}

func (a *Azure) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.client.CloseIdleConnections()
	return nil
}

func (a *Azure) call(ctx context.Context, path string, in, out any) error {
	a.mu.RLock()
	closed := a.closed
	a.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	u := *a.base
	u.Path += path
	u.RawQuery = url.Values{"api-version": {AzureAPIVersion}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("azure: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAzureResponse))
	if err != nil {
		return fmt.Errorf("azure: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var doc struct {
			Error AzureError `json:"error"`
		}
		_ = json.Unmarshal(data, &doc)
		doc.Error.Status = resp.StatusCode
		if doc.Error.Message == "" {
			doc.Error.Message = http.StatusText(resp.StatusCode)
		}
		return &doc.Error
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("azure: decode response: %w", err)
	}
	return nil
}

func decodeB64URL(s string) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return nil, fmt.Errorf("azure: invalid base64url value: %w", err)
	}
	return b, nil
}
