package prefs

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"relay-client/core/engine"
)

// Preferences is the full set of values pushed onto a freshly constructed device handle.
type Preferences struct {
	RouteLocal               bool                      `json:"route_local"`
	ProvideNetworkMode       engine.ProvideNetworkMode `json:"provide_network_mode"`
	ProvideControlMode       engine.ProvideControlMode `json:"provide_control_mode"`
	ProvideMode              engine.ProvideMode        `json:"provide_mode"`
	CanShowRatingDialog      bool                      `json:"can_show_rating_dialog"`
	CanRefer                 bool                      `json:"can_refer"`
	VpnInterfaceWhileOffline bool                      `json:"vpn_interface_while_offline"`
	ConnectLocation          *engine.Location          `json:"connect_location,omitempty"`
	DefaultLocation          *engine.Location          `json:"default_location,omitempty"`
}

// Defaults returns the values used for keys that were never written.
func Defaults() Preferences {
	return Preferences{
		ProvideNetworkMode:  engine.ProvideNetworkModeWiFi,
		ProvideControlMode:  engine.ProvideControlModeAuto,
		ProvideMode:         engine.ProvideModeNetwork,
		CanShowRatingDialog: true,
	}
}

// Load reads every preference, filling unset keys from Defaults. A stored enum that does
// not parse is reported with engine.ErrUnknownEnum alongside the otherwise loaded values.
func Load(ctx context.Context, s Store) (Preferences, error) {
	p := Defaults()
	var enumErrs []error

	if v, ok, err := Get[bool](ctx, s, KeyRouteLocal); err != nil {
		return p, err
	} else if ok {
		p.RouteLocal = v
	}

	if raw, ok, err := Get[string](ctx, s, KeyProvideNetworkMode); err != nil {
		return p, err
	} else if ok {
		if mode, err := engine.ParseProvideNetworkMode(raw); err != nil {
			enumErrs = append(enumErrs, err)
		} else {
			p.ProvideNetworkMode = mode
		}
	}

	if raw, ok, err := Get[string](ctx, s, KeyProvideControlMode); err != nil {
		return p, err
	} else if ok {
		if mode, err := engine.ParseProvideControlMode(raw); err != nil {
			enumErrs = append(enumErrs, err)
		} else {
			p.ProvideControlMode = mode
		}
	}

	if raw, ok, err := Get[int](ctx, s, KeyProvideMode); err != nil {
		return p, err
	} else if ok {
		if mode, err := engine.ParseProvideMode(raw); err != nil {
			enumErrs = append(enumErrs, err)
		} else {
			p.ProvideMode = mode
		}
	}

	for key, dst := range map[string]*bool{
		KeyCanShowRatingDialog:      &p.CanShowRatingDialog,
		KeyCanRefer:                 &p.CanRefer,
		KeyVpnInterfaceWhileOffline: &p.VpnInterfaceWhileOffline,
	} {
		v, ok, err := Get[bool](ctx, s, key)
		if err != nil {
			return p, err
		}
		if ok {
			*dst = v
		}
	}

	if loc, ok, err := Get[*engine.Location](ctx, s, KeyConnectLocation); err != nil {
		return p, err
	} else if ok {
		p.ConnectLocation = loc
	}
	if loc, ok, err := Get[*engine.Location](ctx, s, KeyDefaultLocation); err != nil {
		return p, err
	} else if ok {
		p.DefaultLocation = loc
	}

	return p, errors.Join(enumErrs...)
}

// InstanceID returns the persisted instance id, creating it on first use. Concurrent or
// repeated calls always return the first id written.
func InstanceID(ctx context.Context, s Store) (uuid.UUID, error) {
	if id, ok, err := Get[uuid.UUID](ctx, s, KeyInstanceID); err != nil {
		return uuid.Nil, err
	} else if ok && id != uuid.Nil {
		return id, nil
	}

	candidate, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate instance id: %w", err)
	}
	id, _, err := SetIfAbsent(ctx, s, KeyInstanceID, candidate)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// ProvideSecretKeys returns the persisted key material, if any.
func ProvideSecretKeys(ctx context.Context, s Store) (engine.ProvideSecretKeys, bool, error) {
	keys, ok, err := Get[engine.ProvideSecretKeys](ctx, s, KeyProvideSecretKeys)
	if err != nil || !ok || len(keys) == 0 {
		return nil, false, err
	}
	return keys, true, nil
}

// SaveProvideSecretKeysOnce persists keys unless key material already exists. It reports
// whether this call wrote them.
func SaveProvideSecretKeysOnce(ctx context.Context, s Store, keys engine.ProvideSecretKeys) (bool, error) {
	_, written, err := SetIfAbsent(ctx, s, KeyProvideSecretKeys, keys)
	return written, err
}
