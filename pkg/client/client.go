// Package client is a typed HTTP client for the corelauncher daemon.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to a running daemon.
type Client struct {
	baseURL string
	client  *http.Client
	stream  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	// Timeout bounds non-streaming requests. Startup waits make launch and
	// bulk calls slow, so the default is generous.
	Timeout time.Duration
	Logger  *slog.Logger
}

// DefaultConfig returns default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8765/api",
		Timeout: 2 * time.Minute,
	}
}

// APIError is returned when the daemon answers with a non-2xx status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// IsConflict reports whether err is a 409 from the daemon, i.e. the role was
// already running, not running, or busy.
func IsConflict(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusConflict
}

func New(config Config) *Client {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
		stream:  &http.Client{},
	}
}

// IsReachable checks if the daemon is running and reachable.
func (c *Client) IsReachable(ctx context.Context) bool {
	_, err := c.Status(ctx)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	return true
}

// Launch starts one role and returns its status once it is Running.
func (c *Client) Launch(ctx context.Context, role string) (RoleStatus, error) {
	return c.roleOp(ctx, "/launch", role)
}

// Stop terminates one role.
func (c *Client) Stop(ctx context.Context, role string) (RoleStatus, error) {
	return c.roleOp(ctx, "/stop", role)
}

// Restart replaces the process of one role.
func (c *Client) Restart(ctx context.Context, role string) (RoleStatus, error) {
	return c.roleOp(ctx, "/restart", role)
}

func (c *Client) roleOp(ctx context.Context, path, role string) (RoleStatus, error) {
	c.logger.Debug("Role operation", "op", strings.TrimPrefix(path, "/"), "role", role)
	var st RoleStatus
	err := c.do(ctx, http.MethodPost, path+"?role="+url.QueryEscape(role), &st)
	return st, err
}

// StartAll starts db, auth and world in order.
func (c *Client) StartAll(ctx context.Context) (Report, error) { return c.bulk(ctx, "/start-all") }

// StopAll stops world, auth and db in order.
func (c *Client) StopAll(ctx context.Context) (Report, error) { return c.bulk(ctx, "/stop-all") }

// RestartAll stops and then starts every ordered role.
func (c *Client) RestartAll(ctx context.Context) (Report, error) { return c.bulk(ctx, "/restart-all") }

func (c *Client) bulk(ctx context.Context, path string) (Report, error) {
	var rep Report
	err := c.do(ctx, http.MethodPost, path, &rep)
	return rep, err
}

// Status returns the state of every role.
func (c *Client) Status(ctx context.Context) ([]RoleStatus, error) {
	var sts []RoleStatus
	err := c.do(ctx, http.MethodGet, "/status", &sts)
	return sts, err
}

// StatusOf returns the state of one role.
func (c *Client) StatusOf(ctx context.Context, role string) (RoleStatus, error) {
	var st RoleStatus
	err := c.do(ctx, http.MethodGet, "/status?role="+url.QueryEscape(role), &st)
	return st, err
}

// Config returns the effective daemon configuration as raw JSON.
func (c *Client) Config(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	err := c.do(ctx, http.MethodGet, "/config", &raw)
	return raw, err
}

// History returns persisted status transitions, newest first.
func (c *Client) History(ctx context.Context, role string, limit int) ([]HistoryEvent, error) {
	q := url.Values{}
	if role != "" {
		q.Set("role", role)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/history"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var evs []HistoryEvent
	err := c.do(ctx, http.MethodGet, path, &evs)
	return evs, err
}

// Schedules returns the cron jobs registered with the daemon.
func (c *Client) Schedules(ctx context.Context) ([]Schedule, error) {
	var out []Schedule
	err := c.do(ctx, http.MethodGet, "/schedules", &out)
	return out, err
}

// Events streams daemon events to fn until ctx is done, the stream ends or fn
// returns an error. An empty role subscribes to every role.
func (c *Client) Events(ctx context.Context, role string, fn func(Event) error) error {
	u := c.baseURL + "/events"
	if role != "" {
		u += "?role=" + url.QueryEscape(role)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	var name string
	var data strings.Builder
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if name == "" && data.Len() == 0 {
				continue
			}
			ev := Event{Name: name, Raw: json.RawMessage(data.String())}
			if name == "status" || name == "log" {
				if err := json.Unmarshal(ev.Raw, &ev); err != nil {
					return fmt.Errorf("decode %s event: %w", name, err)
				}
			}
			if err := fn(ev); err != nil {
				return err
			}
			name = ""
			data.Reset()
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return ctx.Err()
}

// do performs a request and decodes a JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "path", path)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 != 2 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var er ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return &APIError{StatusCode: resp.StatusCode}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: er.Error}
}
