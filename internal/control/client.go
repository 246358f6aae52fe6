package control

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

	"relay-client/api"
)

// StatusError is a non-2xx reply from the control API.
type StatusError struct {
	Code    int
	Kind    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("control API %d (%s): %s", e.Code, e.Kind, e.Message)
	}
	return fmt.Sprintf("control API %d: %s", e.Code, e.Message)
}

// Client talks to a running client's control API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient targets addr ("host:port" or a full URL).
func NewClient(addr string, timeout time.Duration) *Client {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{baseURL: strings.TrimRight(base, "/"), http: api.CreateHTTPClient(timeout)}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
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
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e ErrorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return &StatusError{Code: resp.StatusCode, Kind: e.Kind, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var st StatusResponse
	if err := c.do(ctx, http.MethodGet, "/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) Login(ctx context.Context, byJwt string) error {
	return c.do(ctx, http.MethodPost, "/login", LoginRequest{ByJwt: byJwt}, nil)
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/logout", nil, nil)
}

func (c *Client) DeleteAccount(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/account/delete", nil, nil)
}

// WaitReady blocks server side until the client is Ready or timeout passes.
func (c *Client) WaitReady(ctx context.Context, timeout time.Duration) error {
	path := "/wait/ready"
	if timeout > 0 {
		path += "?timeout=" + url.QueryEscape(timeout.String())
	}
	return c.do(ctx, http.MethodGet, path, nil, nil)
}

// SetPreference sends value as the JSON value of the named preference.
func (c *Client) SetPreference(ctx context.Context, name string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return c.do(ctx, http.MethodPut, "/preferences/"+url.PathEscape(name), PreferenceRequest{Value: raw}, nil)
}
