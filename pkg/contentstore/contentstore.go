package contentstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gravitational/trace"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dwsnet/roost/pkg/log"
)

// UploadOptions carries the metadata the store associates with a blob.
type UploadOptions struct {
	Filename  string
	Permanent bool
}

// UploadResult is the store's reference for an uploaded blob.
type UploadResult struct {
	CID string `json:"cid"`
	URL string `json:"url"`
}

// DownloadResult carries a blob and the backend that served it.
type DownloadResult struct {
	Content []byte
	Backend string
}

// Store is the content-addressed storage contract consumed by the worker
// supervisor and the backup worker.
type Store interface {
	Upload(ctx context.Context, data []byte, opts UploadOptions) (UploadResult, error)
	Download(ctx context.Context, cid string) (DownloadResult, error)
	Exists(ctx context.Context, cid string) (bool, error)
	HealthCheck(ctx context.Context) bool
}

// Config holds content store client configuration.
type Config struct {
	// Primary is the read/write backend.
	Primary string

	// Gateways are read-only fallbacks tried in order when the primary
	// cannot serve a download.
	Gateways []string

	// RequestTimeout bounds individual HTTP requests.
	RequestTimeout time.Duration

	// MaxRetries is the per-backend retry budget for downloads.
	MaxRetries uint64
}

// Client talks to a content-addressed storage service over HTTP, falling
// back to alternate gateways when the primary fails.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a content store client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Primary == "" {
		return nil, trace.BadParameter("content store primary backend is required")
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		logger:     log.WithComponent("contentstore"),
	}, nil
}

// Upload stores a blob on the primary backend and returns its content-hash.
func (c *Client) Upload(ctx context.Context, data []byte, opts UploadOptions) (UploadResult, error) {
	endpoint := fmt.Sprintf("%s/upload?filename=%s&permanent=%t",
		c.cfg.Primary, url.QueryEscape(opts.Filename), opts.Permanent)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return UploadResult{}, trace.Wrap(err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return UploadResult{}, trace.ConnectionProblem(err, "content store upload failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return UploadResult{}, trace.ConnectionProblem(nil, "content store upload returned %d: %s", resp.StatusCode, body)
	}

	var result UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return UploadResult{}, trace.Wrap(err, "decoding upload response")
	}
	if result.CID == "" {
		return UploadResult{}, trace.ConnectionProblem(nil, "content store returned an empty cid")
	}

	c.logger.Debug().Str("cid", result.CID).Int("bytes", len(data)).Msg("blob uploaded")
	return result, nil
}

// Download fetches a blob by content-hash from the primary, then from each
// alternate gateway. Each backend gets a small exponential retry budget.
// Fails with a ConnectionProblem error when every backend is exhausted.
func (c *Client) Download(ctx context.Context, cid string) (DownloadResult, error) {
	backends := append([]string{c.cfg.Primary}, c.cfg.Gateways...)

	var lastErr error
	for _, backend := range backends {
		var content []byte
		op := func() error {
			var err error
			content, err = c.fetch(ctx, backend, cid)
			return err
		}
		policy := backoff.WithContext(
			backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.cfg.MaxRetries), ctx)
		if err := backoff.Retry(op, policy); err != nil {
			lastErr = err
			c.logger.Warn().Err(err).Str("backend", backend).Str("cid", cid).Msg("download failed, trying next backend")
			continue
		}
		return DownloadResult{Content: content, Backend: backend}, nil
	}

	return DownloadResult{}, trace.ConnectionProblem(lastErr, "content %q unavailable on all backends", cid)
}

func (c *Client) fetch(ctx context.Context, backend, cid string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, backend+"/content/"+cid, nil)
	if err != nil {
		return nil, backoff.Permanent(trace.Wrap(err))
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "fetching %q from %s", cid, backend)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return io.ReadAll(resp.Body)
	case http.StatusNotFound:
		// Retrying a missing cid on the same backend is pointless.
		return nil, backoff.Permanent(trace.NotFound("content %q not found on %s", cid, backend))
	default:
		return nil, trace.ConnectionProblem(nil, "backend %s returned %d for %q", backend, resp.StatusCode, cid)
	}
}

// Exists reports whether the primary backend can serve the cid.
func (c *Client) Exists(ctx context.Context, cid string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.cfg.Primary+"/content/"+cid, nil)
	if err != nil {
		return false, trace.Wrap(err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, trace.ConnectionProblem(err, "content store exists check failed")
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

// HealthCheck probes every backend concurrently and reports whether at least
// one is serving.
func (c *Client) HealthCheck(ctx context.Context) bool {
	backends := append([]string{c.cfg.Primary}, c.cfg.Gateways...)
	healthy := make([]bool, len(backends))

	g, ctx := errgroup.WithContext(ctx)
	for i, backend := range backends {
		g.Go(func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, backend+"/health", nil)
			if err != nil {
				return nil
			}
			resp, err := c.httpClient.Do(req)
			if err != nil {
				return nil
			}
			resp.Body.Close()
			healthy[i] = resp.StatusCode == http.StatusOK
			return nil
		})
	}
	g.Wait()

	for _, ok := range healthy {
		if ok {
			return true
		}
	}
	return false
}
