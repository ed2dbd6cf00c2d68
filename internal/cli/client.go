package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bbernstein/lacylights-wifi/internal/api"
)

// APIError is a non-2xx reply from the daemon.
type APIError struct {
	Code    int
	Status  string
	Message string
}

// Error reports the daemon message and, when present, its driver status.
func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Status)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Message)
}

// Client talks to the wifid HTTP API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient creates a client for the daemon at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 90 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", c.BaseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		var e api.Error
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return &APIError{Code: resp.StatusCode, Status: e.Status, Message: e.Error}
		}
		return &APIError{Code: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func call[T any](ctx context.Context, c *Client, method, path string, in any) (*T, error) {
	var out T
	if err := c.do(ctx, method, path, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status returns the driver state.
func (c *Client) Status(ctx context.Context) (*api.Status, error) {
	return call[api.Status](ctx, c, http.MethodGet, "/api/status", nil)
}

// Start starts the driver in kind. profile is only used for AP mode.
func (c *Client) Start(ctx context.Context, kind string, profile *api.APProfile) (*api.Status, error) {
	return call[api.Status](ctx, c, http.MethodPost, "/api/start", api.StartRequest{Kind: kind, AP: profile})
}

// Stop stops the driver.
func (c *Client) Stop(ctx context.Context) (*api.Status, error) {
	return call[api.Status](ctx, c, http.MethodPost, "/api/stop", nil)
}

// Scan requests a scan; results arrive later.
func (c *Client) Scan(ctx context.Context, req api.ScanRequest) (*api.Status, error) {
	return call[api.Status](ctx, c, http.MethodPost, "/api/scan", req)
}

// Results fetches the last scan results.
func (c *Client) Results(ctx context.Context) (*api.ScanResults, error) {
	return call[api.ScanResults](ctx, c, http.MethodGet, "/api/scan/results", nil)
}

// Join starts joining a network.
func (c *Client) Join(ctx context.Context, req api.JoinRequest) (*api.Status, error) {
	return call[api.Status](ctx, c, http.MethodPost, "/api/join", req)
}

// Leave disconnects from the current network.
func (c *Client) Leave(ctx context.Context) (*api.Status, error) {
	return call[api.Status](ctx, c, http.MethodPost, "/api/leave", nil)
}

// TxPower reads the transmit power.
func (c *Client) TxPower(ctx context.Context) (*api.TxPower, error) {
	return call[api.TxPower](ctx, c, http.MethodGet, "/api/txpower", nil)
}

// SetTxPower stores the transmit power.
func (c *Client) SetTxPower(ctx context.Context, dbm int) (*api.TxPower, error) {
	return call[api.TxPower](ctx, c, http.MethodPut, "/api/txpower", api.TxPower{DBm: dbm})
}

// Country reads the country code.
func (c *Client) Country(ctx context.Context) (*api.Country, error) {
	return call[api.Country](ctx, c, http.MethodGet, "/api/country", nil)
}

// SetCountry stores the country code.
func (c *Client) SetCountry(ctx context.Context, code string) (*api.Country, error) {
	return call[api.Country](ctx, c, http.MethodPut, "/api/country", api.Country{Code: code})
}

// Value reads one of the scalar link values: mac, rssi or channel.
func (c *Client) Value(ctx context.Context, name string) (*api.Value, error) {
	return call[api.Value](ctx, c, http.MethodGet, "/api/"+name, nil)
}

// Save writes the supplicant configuration file.
func (c *Client) Save(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/save", nil, nil)
}

// Panic forces a firmware crash.
func (c *Client) Panic(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/panic", nil, nil)
}

// Interfaces lists host interfaces, wireless only unless all is set.
func (c *Client) Interfaces(ctx context.Context, all bool) (*api.Interfaces, error) {
	path := "/api/interfaces"
	if all {
		path += "?all=true"
	}
	return call[api.Interfaces](ctx, c, http.MethodGet, path, nil)
}

// Events streams notifications to fn until ctx ends, fn returns false or the
// connection drops.
func (c *Client) Events(ctx context.Context, topics []string, fn func(api.Event) bool) error {
	u, err := url.Parse(c.BaseURL + "/api/events")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	if len(topics) > 0 {
		u.RawQuery = url.Values{"topics": {strings.Join(topics, ",")}}.Encode()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("failed to open event stream: %w", err)
	}
	defer func() { _ = conn.Close() }()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		var ev api.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("event stream closed: %w", err)
		}
		if !fn(ev) {
			return nil
		}
	}
}
