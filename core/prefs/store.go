// Package prefs persists user and device preferences as JSON values keyed by name.
package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Preference keys.
const (
	KeyRouteLocal               = "route_local"
	KeyProvideNetworkMode       = "provide_network_mode"
	KeyProvideControlMode       = "provide_control_mode"
	KeyProvideMode              = "provide_mode"
	KeyInstanceID               = "instance_id"
	KeyByJwt                    = "by_jwt"
	KeyByClientJwt              = "by_client_jwt"
	KeyProvideSecretKeys        = "provide_secret_keys"
	KeyCanShowRatingDialog      = "can_show_rating_dialog"
	KeyCanRefer                 = "can_refer"
	KeyVpnInterfaceWhileOffline = "vpn_interface_while_offline"
	KeyConnectLocation          = "connect_location"
	KeyDefaultLocation          = "default_location"
)

var ErrClosed = errors.New("preference store closed")

// Store is a durable key/value store. A nil error from a write means the value is committed.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	// SetIfAbsent writes value only when key has no value yet. It returns the value now
	// stored and whether this call wrote it.
	SetIfAbsent(ctx context.Context, key string, value []byte) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	// Apply writes every entry of b in one transaction: either all of them commit or none.
	Apply(ctx context.Context, b Batch) error
	Close() error
}

// Batch maps keys to raw values. A nil value deletes the key.
type Batch map[string][]byte

// Put encodes value as JSON into the batch under key.
func Put[T any](b Batch, key string, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	b[key] = raw
	return nil
}

// Get decodes the JSON value stored under key.
func Get[T any](ctx context.Context, s Store, key string) (T, bool, error) {
	var out T
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return out, ok, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return out, true, nil
}

// Set encodes value as JSON and writes it under key.
func Set[T any](ctx context.Context, s Store, key string, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, raw)
}

// SetIfAbsent encodes value and writes it only when key is empty. It returns the decoded
// value that ends up stored.
func SetIfAbsent[T any](ctx context.Context, s Store, key string, value T) (T, bool, error) {
	var out T
	raw, err := json.Marshal(value)
	if err != nil {
		return out, false, fmt.Errorf("encode %s: %w", key, err)
	}
	stored, written, err := s.SetIfAbsent(ctx, key, raw)
	if err != nil {
		return out, false, err
	}
	if written {
		return value, true, nil
	}
	if err := json.Unmarshal(stored, &out); err != nil {
		return out, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return out, false, nil
}
