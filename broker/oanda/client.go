// Package oanda is a broker gateway for the OANDA v20 REST and streaming
// APIs.
package oanda

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// Client is a thin v20 REST client.
type Client struct {
	baseURL    string
	streamURL  string
	token      string
	httpClient *http.Client
	// streamClient has no overall timeout; streams live until cancelled.
	streamClient *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	rest, stream, err := cfg.URLs()
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:      strings.TrimRight(rest, "/"),
		streamURL:    strings.TrimRight(stream, "/"),
		token:        cfg.Token,
		httpClient:   &http.Client{Timeout: timeout},
		streamClient: &http.Client{},
	}, nil
}

// APIError is a non-2xx v20 response.
type APIError struct {
	Status  int
	Code    string `json:"errorCode"`
	Message string `json:"errorMessage"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("oanda API error (status %d)", e.Status)
	}
	return fmt.Sprintf("oanda API error (status %d): %s", e.Status, e.Message)
}

func (c *Client) newRequest(ctx context.Context, base, method, path string, query url.Values, body any) (*http.Request, error) {
	u := base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rd io.Reader
	if body != nil {
		b, err := sonic.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept-Datetime-Format", "RFC3339")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do sends a REST request and decodes a 2xx body into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	req, err := c.newRequest(ctx, c.baseURL, method, path, query, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		if sonic.Unmarshal(b, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(b))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := sonic.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// stream opens a long-lived GET on the streaming host.
func (c *Client) stream(ctx context.Context, path string, query url.Values) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, c.streamURL, http.MethodGet, path, query, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		return nil, fmt.Errorf("oanda pricing stream http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return resp.Body, nil
}

// parseFloat reads v20's decimal strings; empty is zero.
func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

func mustFloat(s string) float64 {
	f, _ := parseFloat(s)
	return f
}
