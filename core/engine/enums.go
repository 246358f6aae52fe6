package engine

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrUnknownEnum is returned when a raw value crossing the engine boundary has no typed counterpart.
var ErrUnknownEnum = errors.New("unknown enum value")

// ProvideNetworkMode restricts on which network paths this device relays traffic.
type ProvideNetworkMode string

const (
	ProvideNetworkModeWiFi ProvideNetworkMode = "WiFi"
	ProvideNetworkModeAll  ProvideNetworkMode = "All"
)

func ParseProvideNetworkMode(raw string) (ProvideNetworkMode, error) {
	switch ProvideNetworkMode(raw) {
	case ProvideNetworkModeWiFi, ProvideNetworkModeAll:
		return ProvideNetworkMode(raw), nil
	default:
		return "", fmt.Errorf("provide network mode %q: %w", raw, ErrUnknownEnum)
	}
}

// ProvideControlMode selects who decides whether providing is on.
type ProvideControlMode string

const (
	ProvideControlModeAuto   ProvideControlMode = "Auto"
	ProvideControlModeAlways ProvideControlMode = "Always"
	ProvideControlModeNever  ProvideControlMode = "Never"
)

func ParseProvideControlMode(raw string) (ProvideControlMode, error) {
	switch ProvideControlMode(raw) {
	case ProvideControlModeAuto, ProvideControlModeAlways, ProvideControlModeNever:
		return ProvideControlMode(raw), nil
	default:
		return "", fmt.Errorf("provide control mode %q: %w", raw, ErrUnknownEnum)
	}
}

// ProvideMode is the audience this device relays for. The engine carries it as an integer.
type ProvideMode int

const (
	ProvideModeNone             ProvideMode = 0
	ProvideModeNetwork          ProvideMode = 1
	ProvideModeFriendsAndFamily ProvideMode = 2
	ProvideModePublic           ProvideMode = 3
	ProvideModeStream           ProvideMode = 4
)

// ParseProvideMode converts the engine's integer representation.
func ParseProvideMode(raw int) (ProvideMode, error) {
	switch m := ProvideMode(raw); m {
	case ProvideModeNone, ProvideModeNetwork, ProvideModeFriendsAndFamily, ProvideModePublic, ProvideModeStream:
		return m, nil
	default:
		return 0, fmt.Errorf("provide mode %d: %w", raw, ErrUnknownEnum)
	}
}

func (m ProvideMode) String() string {
	switch m {
	case ProvideModeNone:
		return "none"
	case ProvideModeNetwork:
		return "network"
	case ProvideModeFriendsAndFamily:
		return "friends_and_family"
	case ProvideModePublic:
		return "public"
	case ProvideModeStream:
		return "stream"
	default:
		return "provide_mode(" + strconv.Itoa(int(m)) + ")"
	}
}

// EffectiveProvideMode forces Public when the user pinned providing on.
func EffectiveProvideMode(control ProvideControlMode, stored ProvideMode) ProvideMode {
	if control == ProvideControlModeAlways {
		return ProvideModePublic
	}
	return stored
}
