package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/verdant-os/verdantd/pkg/errors"
)

// Client talks to a running daemon over its control socket
type Client struct {
	httpClient *http.Client
	socketPath string
}

// NewClient creates a control client for the daemon listening on
// socketPath. No connection is made until the first request.
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var dialer net.Dialer
					return dialer.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

// Status returns the status of every loaded instance
func (c *Client) Status(ctx context.Context) ([]InstanceStatus, error) {
	var statuses []InstanceStatus
	if err := c.get(ctx, "/v1/status", &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

// StatusOf returns the status of a single instance by name
func (c *Client) StatusOf(ctx context.Context, name string) (*InstanceStatus, error) {
	var status InstanceStatus
	if err := c.get(ctx, "/v1/status/"+url.PathEscape(name), &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Units lists loaded instances, optionally filtered by tag
func (c *Client) Units(ctx context.Context, tag string) ([]InstanceStatus, error) {
	path := "/v1/units"
	if tag != "" {
		path += "?tag=" + url.QueryEscape(tag)
	}
	var statuses []InstanceStatus
	if err := c.get(ctx, path, &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

// Start asks the daemon to start a stopped instance
func (c *Client) Start(ctx context.Context, name string) (*InstanceStatus, error) {
	var status InstanceStatus
	if err := c.post(ctx, "/v1/units/"+url.PathEscape(name)+"/start", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Stop asks the daemon to stop a running instance
func (c *Client) Stop(ctx context.Context, name string) (*InstanceStatus, error) {
	var status InstanceStatus
	if err := c.post(ctx, "/v1/units/"+url.PathEscape(name)+"/stop", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Shutdown asks the daemon to stop all instances and exit
func (c *Client) Shutdown(ctx context.Context) error {
	var ack ShutdownResponse
	return c.post(ctx, "/v1/shutdown", &ack)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, out)
}

func (c *Client) post(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, out)
}

func (c *Client) do(ctx context.Context, method, path string, out interface{}) error {
	// The host is arbitrary: the transport always dials the socket.
	req, err := http.NewRequestWithContext(ctx, method, "http://verdantd"+path, bytes.NewReader(nil))
	if err != nil {
		return errors.NewInternalError("failed to build control request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.NewIOError("control request failed", err).
			WithContext("socket", c.socketPath).
			WithContext("path", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.NewIOError("failed to decode control response", err).WithContext("path", path)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var remote errorResponse
	message := ""
	if err := json.Unmarshal(body, &remote); err == nil {
		message = remote.Error
	}
	if message == "" {
		message = fmt.Sprintf("control request failed with status %d", resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return errors.NewNotFoundError(message, nil)
	case http.StatusConflict:
		return errors.NewConflictError(message, nil)
	case http.StatusBadRequest:
		return errors.NewValidationError(message, nil)
	case http.StatusGatewayTimeout:
		return errors.NewTimeoutError(message, nil)
	default:
		return errors.NewInternalError(message, nil)
	}
}
