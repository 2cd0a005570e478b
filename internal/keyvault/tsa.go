package keyvault

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/remiblancher/provkit/internal/audit"
	"github.com/remiblancher/provkit/pkg/tsa"
)

const (
	ContentTypeTimestampQuery = "application/timestamp-query"
	ContentTypeTimestampReply = "application/timestamp-reply"

	maxTimestampResponse = 1 << 20
)

// TSAClient posts RFC 3161 requests to a timestamp authority over HTTP.
type TSAClient struct {
	url    string
	client *http.Client
}

type TSAOption func(*TSAClient)

// WithTSATimeout bounds each exchange; zero keeps the default.
func WithTSATimeout(d time.Duration) TSAOption {
	return func(c *TSAClient) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

func WithTSAHTTPClient(client *http.Client) TSAOption {
	return func(c *TSAClient) { c.client = client }
}

func NewTSAClient(url string, opts ...TSAOption) *TSAClient {
	c := &TSAClient{url: url, client: &http.Client{Timeout: 10 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *TSAClient) URL() string { return c.url }

// Timestamp sends a DER TimeStampReq and returns the DER TimeStampResp.
// It matches the remote signer's timestamp callback.
func (c *TSAClient) Timestamp(ctx context.Context, request []byte) ([]byte, error) {
	resp, err := c.exchange(ctx, request)
	if aerr := audit.LogTimestampRequested(c.url, request, err); aerr != nil {
		return nil, aerr
	}
	if err != nil {
		return nil, err
	}

	if parsed, perr := tsa.ParseResponse(resp); perr == nil {
		zerolog.Ctx(ctx).Debug().Str("tsa", c.url).Str("status", parsed.StatusString()).Msg("timestamp response")
	}
	return resp, nil
}

func (c *TSAClient) exchange(ctx context.Context, request []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(request))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", ContentTypeTimestampQuery)
	req.Header.Set("Accept", ContentTypeTimestampReply)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tsa %s: %w", c.url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tsa %s: HTTP %d", c.url, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err != nil || mt != ContentTypeTimestampReply {
			return nil, fmt.Errorf("tsa %s: unexpected content type %q", c.url, ct)
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTimestampResponse+1))
	if err != nil {
		return nil, fmt.Errorf("tsa %s: read response: %w", c.url, err)
	}
	if len(body) > maxTimestampResponse {
		return nil, fmt.Errorf("tsa %s: response too large", c.url)
	}
	return body, nil
}
