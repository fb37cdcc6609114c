// Package client talks to the fleet control-plane REST API.
//
// # Operations
//
//   - List: fetch the endpoint or tunnel collection
//   - mutate-one: rename, reconnect, disconnect, start/stop/restart, create, update
//   - DeleteOne: single deletion (tunnels optionally to the recycle bin)
//   - BatchAction / BatchDelete: one request for a whole selection
//   - WhoAmI / Login / Logout: session endpoints
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/passdeck/passdeck/internal/resource"
)

const maxErrorBody = 4 << 10

// APIError is a non-2xx response from the control plane.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// IsAPIError reports whether err carries a structured API response.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// Client communicates with the control plane.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Config for the client.
type Config struct {
	BaseURL            string
	APIKey             string
	HTTPClient         *http.Client
	InsecureSkipVerify bool
	Timeout            time.Duration
	// RateLimit caps outgoing requests per second; zero means unlimited.
	RateLimit float64
	Burst     int
}

// New creates a control plane client. A cookie jar is attached so the
// session cookie set by login is sent on later calls.
func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		transport := &http.Transport{Proxy: http.ProxyFromEnvironment}
		if cfg.InsecureSkipVerify {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		jar, _ := cookiejar.New(nil)
		cfg.HTTPClient = &http.Client{
			Timeout:   timeout,
			Transport: transport,
			Jar:       jar,
		}
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: cfg.HTTPClient,
		limiter:    rate.NewLimiter(limit, burst),
	}
}

// BaseURL returns the control plane address.
func (c *Client) BaseURL() string { return c.baseURL }

// List fetches the full collection of kind.
func (c *Client) List(ctx context.Context, kind resource.Kind) ([]resource.Resource, error) {
	switch kind {
	case resource.KindEndpoint:
		records, err := c.ListEndpoints(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]resource.Resource, len(records))
		for i, rec := range records {
			out[i] = rec.Resource()
		}
		return out, nil
	case resource.KindTunnel:
		records, err := c.ListTunnels(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]resource.Resource, len(records))
		for i, rec := range records {
			out[i] = rec.Resource()
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown resource kind %q", kind)
}

// ListEndpoints returns all registered endpoints.
func (c *Client) ListEndpoints(ctx context.Context) ([]resource.EndpointRecord, error) {
	var out []resource.EndpointRecord
	if err := c.doJSON(ctx, http.MethodGet, "/api/endpoints", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListTunnels returns all tunnels across endpoints.
func (c *Client) ListTunnels(ctx context.Context) ([]resource.TunnelRecord, error) {
	var out []resource.TunnelRecord
	if err := c.doJSON(ctx, http.MethodGet, "/api/tunnels", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// doJSON sends body (if any) and decodes a 2xx response into out (if any).
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.readError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// doRequest performs an HTTP request with standard headers.
func (c *Client) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", "passdeck/1.0")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

// readError extracts an error message from a failed response. The
// control plane uses both {"error": ...} and {"message": ...}.
func (c *Client) readError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &payload) == nil {
		apiErr.Message = payload.Error
		if apiErr.Message == "" {
			apiErr.Message = payload.Message
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}
