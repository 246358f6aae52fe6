package tunnel

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/txthinking/socks5"

	"relay-client/core/errs"
)

// ProbeResult describes a request sent through the tunnel's local SOCKS endpoint.
type ProbeResult struct {
	Target  string        `json:"target"`
	Status  string        `json:"status"`
	Latency time.Duration `json:"latency"`
}

// ProbeSOCKS issues an HTTP HEAD to target ("host:port") through the SOCKS5 proxy at
// socksAddr and reports the response status line.
func ProbeSOCKS(ctx context.Context, socksAddr, target string) (ProbeResult, error) {
	deadline := 10 * time.Second
	if d, ok := ctx.Deadline(); ok {
		deadline = time.Until(d)
	}
	timeoutSec := int(deadline / time.Second)
	if timeoutSec < 1 {
		timeoutSec = 1
	}

	client, err := socks5.NewClient(socksAddr, "", "", timeoutSec, timeoutSec)
	if err != nil {
		return ProbeResult{}, errs.Transport("tunnel.ProbeSOCKS", err)
	}

	start := time.Now()
	conn, err := client.Dial("tcp", target)
	if err != nil {
		return ProbeResult{}, errs.Transport("tunnel.ProbeSOCKS", fmt.Errorf("dial %s via %s: %w", target, socksAddr, err))
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	host, _, err := net.SplitHostPort(target)
	if err != nil {
		host = target
	}
	req := fmt.Sprintf("HEAD / HTTP/1.1\r\nHost: %s\r\nConnection: close\r\n\r\n", host)
	if _, err := io.WriteString(conn, req); err != nil {
		return ProbeResult{}, errs.Transport("tunnel.ProbeSOCKS", err)
	}

	buf := make([]byte, 512)
	n, err := conn.Read(buf)
	if err != nil && n == 0 {
		if ctx.Err() != nil {
			return ProbeResult{}, errs.Timeout("tunnel.ProbeSOCKS", ctx.Err())
		}
		return ProbeResult{}, errs.Transport("tunnel.ProbeSOCKS", err)
	}
	statusLine, _, _ := strings.Cut(string(buf[:n]), "\r\n")
	if !strings.HasPrefix(statusLine, "HTTP/") {
		return ProbeResult{}, errs.Transport("tunnel.ProbeSOCKS", fmt.Errorf("unexpected response %q", statusLine))
	}
	_, status, _ := strings.Cut(statusLine, " ")
	return ProbeResult{
		Target:  target,
		Status:  status,
		Latency: time.Since(start),
	}, nil
}
