package engine

import (
	"encoding/json"
	"fmt"
)

// ContractStatus is the engine's view of this device's ability to open contracts.
type ContractStatus struct {
	InsufficientBalance bool `json:"insufficient_balance"`
	NoPermission        bool `json:"no_permission"`
	Premium             bool `json:"premium"`
}

// Location is an opaque connect target chosen by the user.
type Location struct {
	LocationID  string `json:"location_id,omitempty"`
	ClientID    string `json:"client_id,omitempty"`
	Name        string `json:"name,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
}

// Equal treats two nil locations as equal.
func (l *Location) Equal(other *Location) bool {
	if l == nil || other == nil {
		return l == nil && other == nil
	}
	return *l == *other
}

// ProvideSecretKey is the signing key for one provide mode, hex-encoded.
type ProvideSecretKey struct {
	ProvideMode ProvideMode `json:"provide_mode"`
	SecretKey   string      `json:"provide_secret_key"`
}

// ProvideSecretKeys is the full key material issued to one installation.
type ProvideSecretKeys []ProvideSecretKey

// NetworkSpaceValues are the per-environment endpoints of a network space.
type NetworkSpaceValues struct {
	EnvSecret          string `json:"env_secret,omitempty"`
	Bundled            bool   `json:"bundled"`
	NetExposeServerIps bool   `json:"net_expose_server_ips"`
	LinkHostName       string `json:"link_host_name"`
	MigrationHostName  string `json:"migration_host_name"`
	Store              string `json:"store,omitempty"`
	Wallet             string `json:"wallet"`
	APIURL             string `json:"api_url"`
}

// NetworkSpace binds a storage location to one logical environment of the network.
type NetworkSpace struct {
	HostName    string             `json:"host_name"`
	EnvName     string             `json:"env_name"`
	StoragePath string             `json:"-"`
	Values      NetworkSpaceValues `json:"values"`
}

// Key identifies the space for session caching.
func (ns *NetworkSpace) Key() string {
	return fmt.Sprintf("%s|%s|%s", ns.StoragePath, ns.HostName, ns.EnvName)
}

// ToJSON serializes the descriptor handed to the tunnel.
func (ns *NetworkSpace) ToJSON() (json.RawMessage, error) {
	data, err := json.Marshal(ns)
	if err != nil {
		return nil, fmt.Errorf("serialize network space: %w", err)
	}
	return data, nil
}
