package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

const (
	// NetworkDialTimeout bounds connection establishment.
	NetworkDialTimeout = 5 * time.Second
	// NetworkRequestTimeout bounds a whole API request.
	NetworkRequestTimeout = 15 * time.Second
)

// CreateHTTPClient returns an HTTP client with dial, handshake and overall timeouts set.
func CreateHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   NetworkDialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// IsNetworkError reports whether err came from the network rather than the server.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// NetworkErrorMessage returns a short human readable description of a network failure.
func NetworkErrorMessage(err error) string {
	if err == nil {
		return "Unknown network error"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Sprintf("DNS error: cannot resolve hostname (%s)", dnsErr.Name)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return "Network error: cannot connect to server"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Network timeout: connection timed out"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "Request timeout: operation took too long"
	}
	if errors.Is(err, context.Canceled) {
		return "Request canceled"
	}
	return fmt.Sprintf("Network error: %s", err.Error())
}
