// Package client is a Go client for the workshop daemon API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const DefaultBaseURL = "http://127.0.0.1:5003/api"

// Client provides HTTP client functionality to communicate with the workshop daemon
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: DefaultBaseURL,
		Timeout: 10 * time.Second,
	}
}

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	StatusCode int
	Message    string
	// Kind is the daemon's error class, e.g. "not_found", "conflict" or "ghost".
	Kind string
}

func (e *APIError) Error() string { return "API error: " + e.Message }

func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// BaseURL returns the API root requests are sent to.
func (c *Client) BaseURL() string { return c.baseURL }

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	_, err := c.Status(ctx)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	return true
}

func (c *Client) Status(ctx context.Context) (*DaemonStatus, error) {
	var out DaemonStatus
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Refresh asks the daemon to probe every service in the background.
func (c *Client) Refresh(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/health/refresh", nil, nil, nil)
}

func (c *Client) Services(ctx context.Context) ([]Service, error) {
	var out []Service
	if err := c.do(ctx, http.MethodGet, "/services", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Service(ctx context.Context, id string) (*Service, error) {
	var out Service
	if err := c.do(ctx, http.MethodGet, servicePath(id, ""), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Start starts a service and any stopped dependencies.
func (c *Client) Start(ctx context.Context, id string) (*StartResult, error) {
	var out StartResult
	if err := c.do(ctx, http.MethodPost, servicePath(id, "start"), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Stop(ctx context.Context, id string) (*ActionResult, error) {
	var out ActionResult
	if err := c.do(ctx, http.MethodPost, servicePath(id, "stop"), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Restart(ctx context.Context, id string) (*ActionResult, error) {
	var out ActionResult
	if err := c.do(ctx, http.MethodPost, servicePath(id, "restart"), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health probes a service now and returns the result.
func (c *Client) Health(ctx context.Context, id string) (*HealthResult, error) {
	var out HealthResult
	if err := c.do(ctx, http.MethodGet, servicePath(id, "health"), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GroupStart(ctx context.Context, group string) (map[string]string, error) {
	return c.group(ctx, group, "start")
}

func (c *Client) GroupStop(ctx context.Context, group string) (map[string]string, error) {
	return c.group(ctx, group, "stop")
}

func (c *Client) group(ctx context.Context, group, action string) (map[string]string, error) {
	var out map[string]string
	if err := c.do(ctx, http.MethodPost, "/groups/"+url.PathEscape(group)+"/"+action, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Incidents lists incidents newest first.
func (c *Client) Incidents(ctx context.Context, q IncidentQuery) ([]Incident, error) {
	v := url.Values{}
	if q.App != "" {
		v.Set("app", q.App)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	var out []Incident
	if err := c.do(ctx, http.MethodGet, "/incidents", v, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Annotate(ctx context.Context, id, note string) (*AnnotateResult, error) {
	var out AnnotateResult
	if err := c.do(ctx, http.MethodPost, "/incidents/"+url.PathEscape(id)+"/annotate", nil, AnnotateRequest{Note: note}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Briefing(ctx context.Context) (*Briefing, error) {
	var out Briefing
	if err := c.do(ctx, http.MethodGet, "/briefing", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Healing(ctx context.Context) ([]HealingSession, error) {
	var out []HealingSession
	if err := c.do(ctx, http.MethodGet, "/healing", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Reload makes the daemon re-read its registry file.
func (c *Client) Reload(ctx context.Context) (*ReloadResult, error) {
	var out ReloadResult
	if err := c.do(ctx, http.MethodPost, "/registry/reload", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func servicePath(id, action string) string {
	p := "/services/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.logger.Debug("API request", "method", method, "url", u)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
		var er ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&er) == nil && er.Error != "" {
			apiErr.Message, apiErr.Kind = er.Error, er.Status
		}
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
