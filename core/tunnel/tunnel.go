// Package tunnel drives the external tunnel resource.
//
// A Controller is a single process-wide resource. Configure, Start and Stop are each
// idempotent: repeating a call that matches the current state does nothing.
package tunnel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/google/uuid"

	"relay-client/core/observe"
)

var (
	ErrEngineMissing = errors.New("tunnel engine binary not found")
	ErrNotConfigured = errors.New("tunnel not configured")
)

// Config is the blob handed to the tunnel engine.
type Config struct {
	ByJwt         string          `json:"by_jwt"`
	NetworkSpace  json.RawMessage `json:"network_space"`
	InstanceID    uuid.UUID       `json:"instance_id"`
	Description   string          `json:"description"`
	ServerAddress string          `json:"server_address,omitempty"`
	SOCKSAddr     string          `json:"socks_addr,omitempty"`
}

// Equal compares configs field by field. The network space is compared as compacted
// JSON, so formatting differences do not count.
func (c Config) Equal(o Config) bool {
	return c.ByJwt == o.ByJwt &&
		sameJSON(c.NetworkSpace, o.NetworkSpace) &&
		c.InstanceID == o.InstanceID &&
		c.Description == o.Description &&
		c.ServerAddress == o.ServerAddress &&
		c.SOCKSAddr == o.SOCKSAddr
}

func sameJSON(a, b json.RawMessage) bool {
	if bytes.Equal(a, b) {
		return true
	}
	var ca, cb bytes.Buffer
	if json.Compact(&ca, a) != nil || json.Compact(&cb, b) != nil {
		return false
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}

// Description formats the tunnel name shown by the OS, e.g. "URnetwork [ur.network main]".
func Description(app, hostName, envName string) string {
	return fmt.Sprintf("%s [%s %s]", app, hostName, envName)
}

// Controller starts and stops the tunnel.
type Controller interface {
	Configure(ctx context.Context, cfg Config) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Running() bool
}

// Notifier is implemented by controllers that report running-state changes on their own,
// e.g. after a crash.
type Notifier interface {
	SubscribeRunning(func(bool)) observe.Subscription
}

// writeFileAtomic writes data to a temp file in the same directory, syncs it, renames it
// into place and syncs the directory.
func writeFileAtomic(filePath string, data []byte, perm os.FileMode) error {
	dir := path.Dir(filePath)
	tmp, err := os.CreateTemp(dir, "*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, filePath); err != nil {
		return err
	}

	dfd, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer dfd.Close()
	return dfd.Sync()
}
