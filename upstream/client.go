// Package upstream implements the engine's CodeValidator and CodeIssuer
// ports against a remote JSON service, for deployments where code delivery
// and secret checks live in another system.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	goVerify "github.com/MrEthical07/goVerify"
)

const (
	validatePath    = "/validate"
	issuePath       = "/issue"
	maxResponseBody = 64 << 10
)

var (
	ErrInvalidConfig = errors.New("invalid upstream configuration")
	// ErrUpstreamStatus wraps non-2xx responses.
	ErrUpstreamStatus = errors.New("upstream returned error status")
)

// Config configures a Client.
type Config struct {
	BaseURL string
	// APIKey is sent as the Api-Key header when set.
	APIKey  string
	Timeout time.Duration
}

// Client calls the remote service. Every failure is returned as an error,
// which the engine reports as TransientUpstream without consuming an
// attempt.
type Client struct {
	base       *url.URL
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: base url %q", ErrInvalidConfig, cfg.BaseURL)
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{base: base, apiKey: cfg.APIKey, httpClient: httpClient, logger: logger}, nil
}

type validateRequest struct {
	Principal string `json:"principal"`
	Kind      string `json:"kind"`
	Value     string `json:"value"`
}

type validateResponse struct {
	Valid *bool `json:"valid"`
}

type issueRequest struct {
	Principal   string `json:"principal"`
	Kind        string `json:"kind"`
	Channel     string `json:"channel"`
	Destination string `json:"destination,omitempty"`
}

func (c *Client) Validate(ctx context.Context, principal string, kind goVerify.FlowKind, value string) (bool, error) {
	var out validateResponse
	err := c.post(ctx, validatePath, validateRequest{Principal: principal, Kind: string(kind), Value: value}, &out)
	if err != nil {
		return false, err
	}
	if out.Valid == nil {
		return false, fmt.Errorf("upstream validate: response missing \"valid\"")
	}
	return *out.Valid, nil
}

func (c *Client) Issue(ctx context.Context, principal string, kind goVerify.FlowKind, channel, destination string) (goVerify.IssueReceipt, error) {
	var out goVerify.IssueReceipt
	in := issueRequest{Principal: principal, Kind: string(kind), Channel: channel, Destination: destination}
	if err := c.post(ctx, issuePath, in, &out); err != nil {
		return goVerify.IssueReceipt{}, err
	}
	if out.Channel == "" {
		out.Channel = channel
	}
	if out.Destination == "" {
		out.Destination = destination
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("upstream %s: encode: %w", path, err)
	}

	endpoint := c.base.JoinPath(path).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("upstream %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Api-Key", c.apiKey)
	}
	if id := goVerify.RequestIDFromContext(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "upstream call failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("upstream %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
		c.logger.WarnContext(ctx, "upstream returned error status",
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
		)
		return fmt.Errorf("%w: %s %d", ErrUpstreamStatus, path, resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(out); err != nil {
		return fmt.Errorf("upstream %s: decode: %w", path, err)
	}
	return nil
}

var (
	_ goVerify.CodeValidator = (*Client)(nil)
	_ goVerify.CodeIssuer    = (*Client)(nil)
)
