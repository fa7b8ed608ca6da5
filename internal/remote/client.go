package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultMaxBodyBytes = 8 << 20
)

// Client performs single-attempt, bearer-authenticated calls against a
// gateway's HTTP surface. It never retries.
type Client struct {
	httpClient   *http.Client
	maxBodyBytes int64
	logger       *zap.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithMaxBodyBytes caps how much of a response body is read.
func WithMaxBodyBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBodyBytes = n
		}
	}
}

func NewClient(timeout time.Duration, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &Client{
		httpClient:   &http.Client{Timeout: timeout},
		maxBodyBytes: defaultMaxBodyBytes,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) ListSessions(ctx context.Context, ep Endpoint) ([]Session, error) {
	var resp sessionsResponse
	if err := c.getJSON(ctx, ep, "/sessions", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

func (c *Client) ListCron(ctx context.Context, ep Endpoint) ([]CronJob, error) {
	query := url.Values{}
	query.Set("includeDisabled", "true")

	var resp cronResponse
	if err := c.getJSON(ctx, ep, "/cron", query, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

func (c *Client) FetchHistory(ctx context.Context, ep Endpoint, sessionKey string, limit int) ([]Message, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp historyResponse
	path := "/sessions/" + url.PathEscape(sessionKey) + "/history"
	if err := c.getJSON(ctx, ep, path, query, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) FetchStatus(ctx context.Context, ep Endpoint) (*Status, error) {
	var resp Status
	if err := c.getJSON(ctx, ep, "/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Do forwards an arbitrary request to the gateway. On a non-2xx answer both
// the raw response and a *CallFailedError are returned so callers can relay
// the gateway's own body.
func (c *Client) Do(ctx context.Context, ep Endpoint, method, endpoint string, body json.RawMessage) (*Response, error) {
	if method == "" {
		method = http.MethodGet
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	target := joinURL(ep.BaseURL, endpoint, nil)

	var reader io.Reader
	if len(body) > 0 && method != http.MethodGet {
		reader = bytes.NewReader(body)
	}

	raw, status, err := c.do(ctx, ep, method, target, reader)
	if err != nil {
		return nil, err
	}

	resp := &Response{StatusCode: status}
	if len(bytes.TrimSpace(raw)) > 0 {
		if !json.Valid(raw) {
			return nil, &ProtocolError{URL: target, Cause: fmt.Errorf("response is not valid JSON")}
		}
		resp.Body = json.RawMessage(raw)
	}

	if status < 200 || status >= 300 {
		return resp, &CallFailedError{URL: target, StatusCode: status}
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, ep Endpoint, path string, query url.Values, out interface{}) error {
	target := joinURL(ep.BaseURL, path, query)

	raw, status, err := c.do(ctx, ep, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return &CallFailedError{URL: target, StatusCode: status}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &ProtocolError{URL: target, Cause: err}
	}
	return nil
}

func (c *Client) do(ctx context.Context, ep Endpoint, method, target string, body io.Reader) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, 0, &UnreachableError{URL: target, Cause: fmt.Errorf("build request: %w", err)}
	}
	if ep.Token != "" {
		req.Header.Set("Authorization", "Bearer "+ep.Token)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("gateway request failed",
			zap.String("method", method),
			zap.String("url", target),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return nil, 0, &UnreachableError{URL: target, Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	if err != nil {
		return nil, resp.StatusCode, &UnreachableError{URL: target, Cause: fmt.Errorf("read response: %w", err)}
	}
	if int64(len(raw)) > c.maxBodyBytes {
		return nil, resp.StatusCode, &ProtocolError{URL: target, Cause: fmt.Errorf("response exceeds %d bytes", c.maxBodyBytes)}
	}

	c.logger.Debug("gateway request complete",
		zap.String("method", method),
		zap.String("url", target),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	return raw, resp.StatusCode, nil
}

func joinURL(base, path string, query url.Values) string {
	target := strings.TrimRight(base, "/") + path
	if len(query) > 0 {
		if strings.Contains(target, "?") {
			target += "&" + query.Encode()
		} else {
			target += "?" + query.Encode()
		}
	}
	return target
}
