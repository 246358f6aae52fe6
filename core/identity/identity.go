// Package identity owns the credentials of one network space and sequences them against
// the remote identity API.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"relay-client/api"
	"relay-client/core/engine"
	"relay-client/core/errs"
	"relay-client/core/prefs"
	"relay-client/internal/constants"
	"relay-client/internal/debuglog"
)

var ErrDeleteInProgress = errors.New("account deletion already in progress")

// API is the remote identity service. *api.Client implements it.
type API interface {
	SetByJwt(byJwt string)
	AuthNetworkClient(ctx context.Context, args api.AuthNetworkClientArgs) (*api.AuthNetworkClientResult, error)
	ExchangeClientJwt(ctx context.Context, clientJwt string) (string, error)
	Logout(ctx context.Context) error
	NetworkDelete(ctx context.Context) error
}

// APIFactory builds the API client for a network space.
type APIFactory func(ns *engine.NetworkSpace) API

// DefaultValues returns the endpoints used for a host and environment before any update.
func DefaultValues(hostName, envName string) engine.NetworkSpaceValues {
	apiURL := "https://api." + hostName
	if hostName == constants.DefaultHostName {
		apiURL = constants.DefaultAPIURL
	}
	return engine.NetworkSpaceValues{
		LinkHostName:      constants.DefaultLinkHostName,
		MigrationHostName: constants.DefaultMigrationHostName,
		Wallet:            constants.DefaultWallet,
		APIURL:            apiURL,
	}
}

// Manager resolves one Session per (storage path, host, env).
type Manager struct {
	store  prefs.Store
	newAPI APIFactory

	mu       sync.Mutex
	sessions map[string]*Session
	updates  map[string][]func(*engine.NetworkSpaceValues)
}

func NewManager(store prefs.Store, newAPI APIFactory) *Manager {
	return &Manager{
		store:    store,
		newAPI:   newAPI,
		sessions: make(map[string]*Session),
		updates:  make(map[string][]func(*engine.NetworkSpaceValues)),
	}
}

func spaceKey(hostName, envName string) string {
	return hostName + "|" + envName
}

// UpdateNetworkSpace registers a change to the values of a host/env pair. It applies to
// existing sessions at once and to sessions created later.
func (m *Manager) UpdateNetworkSpace(hostName, envName string, update func(*engine.NetworkSpaceValues)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := spaceKey(hostName, envName)
	m.updates[key] = append(m.updates[key], update)
	for _, s := range m.sessions {
		if s.ns.HostName == hostName && s.ns.EnvName == envName {
			s.updateValues(update, m.newAPI)
		}
	}
}

// Initialize returns the session for the network space, creating it on first use. The
// same arguments always return the same *Session.
func (m *Manager) Initialize(ctx context.Context, storagePath, hostName, envName string) (*Session, error) {
	if hostName == "" || envName == "" {
		return nil, errs.InvalidState("identity.Initialize", fmt.Errorf("host %q and env %q are required", hostName, envName))
	}

	m.mu.Lock()
	ns := &engine.NetworkSpace{
		HostName:    hostName,
		EnvName:     envName,
		StoragePath: storagePath,
		Values:      DefaultValues(hostName, envName),
	}
	if s, ok := m.sessions[ns.Key()]; ok {
		m.mu.Unlock()
		return s, nil
	}
	for _, update := range m.updates[spaceKey(hostName, envName)] {
		update(&ns.Values)
	}
	s := &Session{ns: ns, store: m.store, api: m.newAPI(ns)}
	m.sessions[ns.Key()] = s
	m.mu.Unlock()

	byJwt, ok, err := prefs.Get[string](ctx, m.store, prefs.KeyByJwt)
	if err != nil {
		return nil, err
	}
	if ok {
		s.api.SetByJwt(byJwt)
	}
	debuglog.InfoLog("identity.Initialize: network space %s/%s (api %s)", hostName, envName, ns.Values.APIURL)
	return s, nil
}

// Session holds the credentials of one network space.
type Session struct {
	ns    *engine.NetworkSpace
	store prefs.Store

	apiMu sync.RWMutex
	api   API

	deleting atomic.Bool
}

func (s *Session) client() API {
	s.apiMu.RLock()
	defer s.apiMu.RUnlock()
	return s.api
}

func (s *Session) updateValues(update func(*engine.NetworkSpaceValues), newAPI APIFactory) {
	s.apiMu.Lock()
	defer s.apiMu.Unlock()
	update(&s.ns.Values)
	s.api = newAPI(s.ns)
}

// NetworkSpace returns the space this session is bound to.
func (s *Session) NetworkSpace() *engine.NetworkSpace {
	return s.ns
}

// CachedClientJwt reads the previously issued client credential.
func (s *Session) CachedClientJwt(ctx context.Context) (string, bool, error) {
	jwt, ok, err := prefs.Get[string](ctx, s.store, prefs.KeyByClientJwt)
	if err != nil || !ok || jwt == "" {
		return "", false, err
	}
	return jwt, true, nil
}

// ByJwt reads the persisted session credential.
func (s *Session) ByJwt(ctx context.Context) (string, bool, error) {
	jwt, ok, err := prefs.Get[string](ctx, s.store, prefs.KeyByJwt)
	if err != nil || !ok || jwt == "" {
		return "", false, err
	}
	return jwt, true, nil
}

// SetByJwt persists the session credential and uses it for subsequent API calls.
func (s *Session) SetByJwt(ctx context.Context, byJwt string) error {
	if err := prefs.Set(ctx, s.store, prefs.KeyByJwt, byJwt); err != nil {
		return err
	}
	s.client().SetByJwt(byJwt)
	return nil
}

// ExchangeForSessionCredential trades the client credential for a session credential and
// persists it. Failures are Transport or Persistence errors; callers treat them as guest.
func (s *Session) ExchangeForSessionCredential(ctx context.Context, clientJwt string) (string, error) {
	byJwt, err := s.client().ExchangeClientJwt(ctx, clientJwt)
	if err != nil {
		return "", err
	}
	if err := s.SetByJwt(ctx, byJwt); err != nil {
		return "", err
	}
	return byJwt, nil
}

// AuthenticateNetworkClient registers this installation and returns the issued client
// credential. It does not persist it; see CommitCredentials.
func (s *Session) AuthenticateNetworkClient(ctx context.Context, description, deviceSpec string) (string, error) {
	res, err := s.client().AuthNetworkClient(ctx, api.AuthNetworkClientArgs{
		Description: description,
		DeviceSpec:  deviceSpec,
	})
	if err != nil {
		return "", err
	}
	return res.ByClientJwt, nil
}

// Credentials is a copy of the stored session and client credentials. An empty field
// was absent.
type Credentials struct {
	ByJwt     string
	ClientJwt string
}

// Credentials reads both stored credentials.
func (s *Session) Credentials(ctx context.Context) (Credentials, error) {
	byJwt, _, err := s.ByJwt(ctx)
	if err != nil {
		return Credentials{}, err
	}
	clientJwt, _, err := s.CachedClientJwt(ctx)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{ByJwt: byJwt, ClientJwt: clientJwt}, nil
}

// StageByJwt uses byJwt for subsequent API calls without persisting it.
func (s *Session) StageByJwt(byJwt string) {
	s.client().SetByJwt(byJwt)
}

// CommitCredentials writes both credentials in one transaction and reads them back. It
// returns nil only when the stored values match.
func (s *Session) CommitCredentials(ctx context.Context, creds Credentials) error {
	if err := s.store.Apply(ctx, credentialBatch(creds)); err != nil {
		return err
	}
	stored, err := s.Credentials(ctx)
	if err != nil {
		return err
	}
	if stored != creds {
		return errs.Persistence("identity.CommitCredentials", errors.New("credentials not confirmed after write"))
	}
	s.client().SetByJwt(creds.ByJwt)
	return nil
}

// RestoreCredentials puts prev back in storage and as the API bearer. The bearer is reset
// even when the write fails.
func (s *Session) RestoreCredentials(ctx context.Context, prev Credentials) error {
	s.client().SetByJwt(prev.ByJwt)
	return s.store.Apply(ctx, credentialBatch(prev))
}

func credentialBatch(creds Credentials) prefs.Batch {
	b := prefs.Batch{prefs.KeyByJwt: nil, prefs.KeyByClientJwt: nil}
	if creds.ByJwt != "" {
		_ = prefs.Put(b, prefs.KeyByJwt, creds.ByJwt)
	}
	if creds.ClientJwt != "" {
		_ = prefs.Put(b, prefs.KeyByClientJwt, creds.ClientJwt)
	}
	return b
}

// Logout invalidates the session remotely first. Local credentials are removed only after
// the identity API confirmed; on failure nothing changes.
func (s *Session) Logout(ctx context.Context) error {
	if _, ok, err := s.ByJwt(ctx); err != nil {
		return err
	} else if ok {
		if err := s.client().Logout(ctx); err != nil {
			debuglog.WarnLog("identity.Logout: remote logout not confirmed: %v", err)
			return err
		}
	}

	if err := s.store.Apply(ctx, credentialBatch(Credentials{})); err != nil {
		return err
	}
	s.client().SetByJwt("")
	debuglog.InfoLog("identity.Logout: session cleared for %s/%s", s.ns.HostName, s.ns.EnvName)
	return nil
}

// ParsedJwt returns the claims of the current session credential.
func (s *Session) ParsedJwt(ctx context.Context) (Claims, bool, error) {
	byJwt, ok, err := s.ByJwt(ctx)
	if err != nil || !ok {
		return Claims{}, false, err
	}
	claims, err := ParseClaims(byJwt)
	if err != nil {
		return Claims{}, false, err
	}
	return claims, true, nil
}

// DeleteAccount deletes the network remotely. A second call while one is in flight is
// rejected with an InvalidState error.
func (s *Session) DeleteAccount(ctx context.Context) error {
	if !s.deleting.CompareAndSwap(false, true) {
		return errs.InvalidState("identity.DeleteAccount", ErrDeleteInProgress)
	}
	defer s.deleting.Store(false)

	if err := s.client().NetworkDelete(ctx); err != nil {
		return err
	}
	debuglog.InfoLog("identity.DeleteAccount: network deleted")
	return nil
}

// Deleting reports whether an account deletion is in flight.
func (s *Session) Deleting() bool {
	return s.deleting.Load()
}
