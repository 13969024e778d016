// Package apiclient is the shared JSON-over-HTTP transport used by the
// generator and publisher clients.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/developingchet/replybot/internal/metrics"
	"github.com/rs/zerolog"
)

// maxErrorBody bounds how much of a failed response body is kept in ErrStatus.
const maxErrorBody = 512

// Config holds parameters for constructing a Client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// Headers are set on every request, e.g. auth and version headers.
	Headers map[string]string
	Debug   bool
}

// Client sends JSON requests to a single upstream API.
type Client struct {
	base    string
	headers map[string]string
	http    *http.Client
	debug   bool
	log     zerolog.Logger
}

// New builds a Client with a transport derived from net/http defaults.
func New(cfg Config, log zerolog.Logger) *Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	return &Client{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		headers: headers,
		http:    &http.Client{Transport: transport, Timeout: cfg.Timeout},
		debug:   cfg.Debug,
		log:     log,
	}
}

// DoJSON sends in as a JSON body to path and decodes a 2xx response into out.
// A nil in sends no body; a nil out discards the response body. endpoint
// labels the request in metrics.
func (c *Client) DoJSON(ctx context.Context, method, path, endpoint string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", endpoint, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(ctx, req, endpoint)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

// do executes an HTTP request, handling headers, metrics, and typed error translation.
func (c *Client) do(ctx context.Context, req *http.Request, endpoint string) (*http.Response, error) {
	start := time.Now()
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	if c.debug {
		c.log.Debug().Str("method", req.Method).Str("url", req.URL.String()).Msg("api request")
	}

	resp, err := c.http.Do(req.WithContext(ctx))
	elapsed := time.Since(start)

	if err != nil {
		if c.debug {
			c.log.Debug().Str("method", req.Method).Str("url", req.URL.String()).
				Err(err).Dur("elapsed", elapsed).Msg("api request failed")
		}
		metrics.APICalls.WithLabelValues(endpoint, "error").Inc()
		return nil, err
	}

	statusLabel := fmt.Sprintf("%dxx", resp.StatusCode/100)
	metrics.APICalls.WithLabelValues(endpoint, statusLabel).Inc()
	metrics.APIDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())

	if c.debug {
		c.log.Debug().Str("method", req.Method).Str("url", req.URL.String()).
			Int("status", resp.StatusCode).Dur("elapsed", elapsed).Msg("api response")
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		_ = resp.Body.Close()
		return nil, &ErrUnauthorized{Msg: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		_ = resp.Body.Close()
		return nil, &ErrRateLimit{RetryAfter: retryAfter}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		return nil, &ErrStatus{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return resp, nil
}

func parseRetryAfter(v string) time.Duration {
	const fallback = 10 * time.Second
	if v == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
		return 0
	}
	return fallback
}
