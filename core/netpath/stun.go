package netpath

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/pion/stun"
)

const stunTimeout = 5 * time.Second

// ProbeMappedAddress sends a STUN binding request and returns the public IP it reports.
func ProbeMappedAddress(ctx context.Context, serverAddr string) (string, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", serverAddr)
	if err != nil {
		return "", fmt.Errorf("failed to dial STUN server: %w", err)
	}
	defer conn.Close()

	c, err := stun.NewClient(conn)
	if err != nil {
		return "", fmt.Errorf("failed to create STUN client: %w", err)
	}
	defer c.Close()

	message := stun.MustBuild(stun.TransactionID, stun.BindingRequest)

	type result struct {
		addr string
		err  error
	}
	done := make(chan result, 1)

	go func() {
		var xorAddr stun.XORMappedAddress
		var resErr error
		err := c.Do(message, func(res stun.Event) {
			if res.Error != nil {
				resErr = res.Error
				return
			}
			resErr = xorAddr.GetFrom(res.Message)
		})
		if err != nil {
			resErr = err
		}
		if resErr != nil {
			done <- result{err: resErr}
			return
		}
		done <- result{addr: xorAddr.IP.String()}
	}()

	timer := time.NewTimer(stunTimeout)
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			return "", fmt.Errorf("STUN request failed: %w", r.err)
		}
		return r.addr, nil
	case <-timer.C:
		return "", fmt.Errorf("STUN request timed out")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
