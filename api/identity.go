// Package api is the HTTP client for the remote identity and network API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"relay-client/core/errs"
	"relay-client/internal/debuglog"
)

var ErrUnauthenticated = errors.New("no session credential")

// AuthNetworkClientArgs describes this installation to the identity API.
type AuthNetworkClientArgs struct {
	Description string `json:"description"`
	DeviceSpec  string `json:"device_spec"`
}

// AuthNetworkClientResult carries the client credential issued for this installation.
type AuthNetworkClientResult struct {
	ByClientJwt string `json:"by_client_jwt"`
}

type apiError struct {
	Message string `json:"message"`
}

// Client talks to the identity API. Authenticated calls use the session credential set
// with SetByJwt.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu        sync.RWMutex
	byJwt     string
	logWriter io.Writer
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = NetworkRequestTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: CreateHTTPClient(timeout),
	}
}

// SetLogWriter mirrors request and response lines to w, e.g. the api.log file.
func (c *Client) SetLogWriter(w io.Writer) {
	c.mu.Lock()
	c.logWriter = w
	c.mu.Unlock()
}

func (c *Client) SetByJwt(byJwt string) {
	c.mu.Lock()
	c.byJwt = byJwt
	c.mu.Unlock()
}

func (c *Client) ByJwt() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byJwt
}

func (c *Client) logf(format string, args ...interface{}) {
	c.mu.RLock()
	w := c.logWriter
	c.mu.RUnlock()
	if w == nil {
		return
	}
	fmt.Fprintf(w, "[%s] %s\n", time.Now().Format("2006-01-02 15:04:05"), fmt.Sprintf(format, args...))
}

// post sends body as JSON and decodes the response into out. Every failure is a Transport
// error: unreachable server, non-2xx status, or an error object in the response.
func (c *Client) post(ctx context.Context, op, path, bearer string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errs.Transport(op, fmt.Errorf("encode request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errs.Transport(op, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	c.logf("POST %s request started", path)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logf("POST %s failed: %v", path, err)
		if IsNetworkError(err) {
			debuglog.WarnLog("%s: %s", op, NetworkErrorMessage(err))
		}
		return errs.Transport(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errs.Transport(op, fmt.Errorf("read response: %w", err))
	}
	c.logf("POST %s response status: %d", path, resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		debuglog.LogTextFragment("TRACE", debuglog.LevelTrace, debuglog.UseGlobal, op+" error body", string(data), 200)
		return errs.Transport(op, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, strings.TrimSpace(string(data))))
	}

	var envelope struct {
		Error *apiError `json:"error"`
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &envelope); err != nil {
			return errs.Transport(op, fmt.Errorf("decode response: %w", err))
		}
	}
	if envelope.Error != nil {
		return errs.Transport(op, fmt.Errorf("rejected: %s", envelope.Error.Message))
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return errs.Transport(op, fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}

func (c *Client) sessionBearer(op string) (string, error) {
	byJwt := c.ByJwt()
	if byJwt == "" {
		return "", errs.Transport(op, ErrUnauthenticated)
	}
	return byJwt, nil
}

// AuthNetworkClient registers this installation and returns its client credential.
func (c *Client) AuthNetworkClient(ctx context.Context, args AuthNetworkClientArgs) (*AuthNetworkClientResult, error) {
	const op = "AuthNetworkClient"
	bearer, err := c.sessionBearer(op)
	if err != nil {
		return nil, err
	}
	var result AuthNetworkClientResult
	if err := c.post(ctx, op, "/auth/network-client", bearer, args, &result); err != nil {
		return nil, err
	}
	if result.ByClientJwt == "" {
		return nil, errs.Transport(op, errors.New("empty client credential"))
	}
	return &result, nil
}

// ExchangeClientJwt trades a client credential for a session credential.
func (c *Client) ExchangeClientJwt(ctx context.Context, clientJwt string) (string, error) {
	const op = "ExchangeClientJwt"
	var result struct {
		ByJwt string `json:"by_jwt"`
	}
	if err := c.post(ctx, op, "/auth/client-session", clientJwt, struct{}{}, &result); err != nil {
		return "", err
	}
	if result.ByJwt == "" {
		return "", errs.Transport(op, errors.New("empty session credential"))
	}
	return result.ByJwt, nil
}

// Logout invalidates the session remotely. It returns nil only when the server confirmed.
func (c *Client) Logout(ctx context.Context) error {
	const op = "Logout"
	bearer, err := c.sessionBearer(op)
	if err != nil {
		return err
	}
	return c.post(ctx, op, "/auth/logout", bearer, struct{}{}, nil)
}

// NetworkDelete deletes the network (account) the session belongs to.
func (c *Client) NetworkDelete(ctx context.Context) error {
	const op = "NetworkDelete"
	bearer, err := c.sessionBearer(op)
	if err != nil {
		return err
	}
	return c.post(ctx, op, "/network/delete", bearer, struct{}{}, nil)
}
