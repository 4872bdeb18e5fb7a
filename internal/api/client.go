package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shakedasido/AutoLink/internal/controller"
	"github.com/shakedasido/AutoLink/internal/db"
	"github.com/shakedasido/AutoLink/internal/httputil"
)

// Error is a non-2xx answer from the API.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api: %d %s", e.StatusCode, e.Message)
}

// Client talks to a running autolink over HTTP. It backs the command-line
// verbs (status, dock, stop, disconnect, sessions).
type Client struct {
	BaseURL string
	HTTP    httputil.HTTPClient
}

// NewClient returns a client for addr, which may be "host:port" or a URL.
// A nil hc uses http.DefaultClient.
func NewClient(addr string, hc httputil.HTTPClient) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	base := strings.TrimRight(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{BaseURL: base, HTTP: hc}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &Error{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) Status(ctx context.Context) (controller.Status, error) {
	var st controller.Status
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &st)
	return st, err
}

func (c *Client) Dock(ctx context.Context) (controller.Status, error) {
	var st controller.Status
	err := c.do(ctx, http.MethodPost, "/api/dock", nil, &st)
	return st, err
}

func (c *Client) Stop(ctx context.Context, reason string) (controller.Status, error) {
	var st controller.Status
	err := c.do(ctx, http.MethodPost, "/api/stop", stopRequest{Reason: reason}, &st)
	return st, err
}

func (c *Client) Disconnect(ctx context.Context) (controller.Status, error) {
	var st controller.Status
	err := c.do(ctx, http.MethodPost, "/api/disconnect", nil, &st)
	return st, err
}

func (c *Client) Sessions(ctx context.Context, limit int) ([]db.SessionRecord, error) {
	var out []db.SessionRecord
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/sessions?limit=%d", limit), nil, &out)
	return out, err
}
