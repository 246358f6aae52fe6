// Package engine is the boundary to the network engine.
//
// The engine itself (packet forwarding, contracts, cryptography) is opaque. This package
// defines the handle the session core holds, the typed values that cross the boundary,
// and LocalDevice, an in-process engine used when no native engine is linked.
package engine

import (
	"github.com/google/uuid"

	"relay-client/core/observe"
)

// State is a point-in-time read of the handle's signals. All fields are captured together.
type State struct {
	ProvideEnabled     bool               `json:"provide_enabled"`
	ProvidePaused      bool               `json:"provide_paused"`
	ConnectEnabled     bool               `json:"connect_enabled"`
	RouteLocal         bool               `json:"route_local"`
	Offline            bool               `json:"offline"`
	TunnelStarted      bool               `json:"tunnel_started"`
	ProvideNetworkMode ProvideNetworkMode `json:"provide_network_mode"`
	ProvideControlMode ProvideControlMode `json:"provide_control_mode"`
	ProvideMode        ProvideMode        `json:"provide_mode"`
	ContractStatus     ContractStatus     `json:"contract_status"`
}

// Device is a live, authenticated installation on the network.
//
// Listener callbacks are invoked from an engine goroutine, never from the caller of a
// setter. Every Add*Listener returns a Subscription the caller must close.
type Device interface {
	InstanceID() uuid.UUID
	ClientJwt() string
	NetworkSpace() *NetworkSpace

	// Signals returns a consistent snapshot of every toggle.
	Signals() State

	SetRouteLocal(bool)
	SetProvideMode(ProvideMode)
	SetProvideControlMode(ProvideControlMode)
	SetProvideNetworkMode(ProvideNetworkMode)
	SetCanShowRatingDialog(bool)
	SetCanRefer(bool)
	SetVpnInterfaceWhileOffline(bool)
	ConnectLocation() *Location
	SetConnectLocation(*Location)
	DefaultLocation() *Location
	SetDefaultLocation(*Location)

	AddProvideChangeListener(func(provideEnabled bool)) observe.Subscription
	AddProvidePausedChangeListener(func(providePaused bool)) observe.Subscription
	AddConnectChangeListener(func(connectEnabled bool)) observe.Subscription
	AddRouteLocalChangeListener(func(routeLocal bool)) observe.Subscription
	AddOfflineChangeListener(func(offline bool)) observe.Subscription
	AddTunnelChangeListener(func(tunnelStarted bool)) observe.Subscription
	AddContractStatusChangeListener(func(ContractStatus)) observe.Subscription
	AddProvideSecretKeysListener(func(ProvideSecretKeys)) observe.Subscription

	LoadProvideSecretKeys(ProvideSecretKeys)
	// InitProvideSecretKeys asks the engine to issue fresh key material. The result is
	// delivered to provide-secret-keys listeners.
	InitProvideSecretKeys()

	// Sync flushes pending state to the network.
	Sync()
	Close()
}

// Factory constructs a device handle bound to a network space, client credential and instance.
type Factory func(ns *NetworkSpace, clientJwt string, instanceID uuid.UUID) (Device, error)
