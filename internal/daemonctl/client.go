package daemonctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"vinscan/internal/api"
	"vinscan/internal/config"
	"vinscan/internal/services"
	"vinscan/internal/vin"
)

// ErrDaemonNotRunning indicates the daemon API is unreachable.
var ErrDaemonNotRunning = errors.New("daemon not running")

// Client talks to the daemon HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a client for baseURL. token may be empty.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// NewClientFromConfig targets the configured API bind address.
func NewClientFromConfig(cfg *config.Config) (*Client, error) {
	base := cfg.APIBaseURL()
	if base == "" {
		return nil, services.Wrap(services.ErrConfiguration, "daemonctl", "client", "paths.api_bind is empty", nil)
	}
	return NewClient(base, cfg.Paths.APIToken), nil
}

// BaseURL reports the API root the client targets.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Status retrieves the daemon status.
func (c *Client) Status(ctx context.Context) (*api.DaemonStatus, error) {
	var resp api.DaemonStatus
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Devices lists capture devices as seen by the daemon.
func (c *Client) Devices(ctx context.Context) ([]api.Device, error) {
	var resp api.DevicesResponse
	if err := c.do(ctx, http.MethodGet, "/api/devices", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Devices, nil
}

// StartSession opens a capture session on device, or the configured one.
func (c *Client) StartSession(ctx context.Context, device string) (*api.SessionStatus, error) {
	var resp api.SessionResponse
	if err := c.do(ctx, http.MethodPost, "/api/session", api.StartSessionRequest{Device: device}, &resp); err != nil {
		return nil, err
	}
	return &resp.Session, nil
}

// Decode dispatches one decode and returns its task id.
func (c *Client) Decode(ctx context.Context) (uint64, error) {
	var resp api.DecodeResponse
	if err := c.do(ctx, http.MethodPost, "/api/session/decode", nil, &resp); err != nil {
		return 0, err
	}
	return resp.TaskID, nil
}

// StopSession drains and releases the running session.
func (c *Client) StopSession(ctx context.Context) (*api.SessionStatus, error) {
	var resp api.SessionResponse
	if err := c.do(ctx, http.MethodDelete, "/api/session", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Session, nil
}

// History lists stored scans.
func (c *Client) History(ctx context.Context, limit int, sessionID string, foundOnly bool) (*api.HistoryResponse, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if sessionID != "" {
		q.Set("session", sessionID)
	}
	if foundOnly {
		q.Set("found", "1")
	}
	var resp api.HistoryResponse
	if err := c.do(ctx, http.MethodGet, "/api/history?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ValidateVIN asks the daemon for a VIN verdict.
func (c *Client) ValidateVIN(ctx context.Context, value string) (*vin.Info, error) {
	var resp vin.Info
	if err := c.do(ctx, http.MethodPost, "/api/vin", api.VINRequest{Value: value}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stream subscribes to the results stream and calls fn for each message
// until ctx is done, fn returns false or the connection drops.
func (c *Client) Stream(ctx context.Context, fn func(api.StreamMessage) bool) error {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/api/results/stream"
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return classifyTransport(err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.SetReadDeadline(time.Now())
	}()
	for {
		var msg api.StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read stream: %w", err)
		}
		if !fn(msg) {
			return nil
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr api.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return statusError(resp.StatusCode, apiErr)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// statusError restores the sentinel marker the daemon reported.
func statusError(code int, apiErr api.ErrorResponse) error {
	message := strings.TrimSpace(apiErr.Error)
	if message == "" {
		message = http.StatusText(code)
	}
	var marker error
	switch {
	case apiErr.Kind == services.ErrRejected.Error():
		marker = services.ErrRejected
	case apiErr.Kind == services.ErrProtocol.Error():
		marker = services.ErrProtocol
	case apiErr.Kind == services.ErrValidation.Error(), apiErr.Kind == services.ErrConfiguration.Error():
		marker = services.ErrValidation
	case apiErr.Kind == services.ErrTimeout.Error():
		marker = services.ErrTimeout
	case apiErr.Kind == services.ErrDevice.Error():
		marker = services.ErrDevice
	case code == http.StatusNotFound:
		marker = services.ErrNotFound
	case code == http.StatusUnauthorized:
		marker = services.ErrConfiguration
		message = "unauthorized: check paths.api_token"
	default:
		marker = services.ErrTransient
	}
	return fmt.Errorf("%w: daemon: %s", marker, message)
}

func classifyTransport(err error) error {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", services.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrDaemonNotRunning, err)
}
