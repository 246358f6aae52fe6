package engine

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"relay-client/core/observe"
	"relay-client/internal/debuglog"
)

var ErrMissingClientJwt = errors.New("client jwt is required")

var _ Device = (*LocalDevice)(nil)

type eventKind uint8

const (
	eventProvide eventKind = iota
	eventProvidePaused
	eventConnect
	eventRouteLocal
	eventOffline
	eventTunnel
	eventContractStatus
	eventProvideSecretKeys
)

type event struct {
	kind  eventKind
	value any
}

// LocalDevice is an in-process engine handle. It keeps the toggles a native engine would
// own and delivers change events in order on its own goroutine.
type LocalDevice struct {
	instanceID uuid.UUID
	clientJwt  string
	ns         *NetworkSpace

	mu                       sync.Mutex
	state                    State
	canShowRatingDialog      bool
	canRefer                 bool
	vpnInterfaceWhileOffline bool
	connectLocation          *Location
	defaultLocation          *Location
	secretKeys               ProvideSecretKeys
	syncs                    int
	closed                   bool

	nextID    uint64
	listeners map[eventKind]map[uint64]func(any)

	queue  []event
	signal chan struct{}
	done   chan struct{}
}

// NewLocalDevice starts an in-process engine bound to ns.
func NewLocalDevice(ns *NetworkSpace, clientJwt string, instanceID uuid.UUID) (*LocalDevice, error) {
	if ns == nil {
		return nil, errors.New("network space is required")
	}
	if clientJwt == "" {
		return nil, ErrMissingClientJwt
	}
	if instanceID == uuid.Nil {
		return nil, errors.New("instance id is required")
	}
	d := &LocalDevice{
		instanceID: instanceID,
		clientJwt:  clientJwt,
		ns:         ns,
		state: State{
			RouteLocal:         true,
			ProvideNetworkMode: ProvideNetworkModeWiFi,
			ProvideControlMode: ProvideControlModeAuto,
			ProvideMode:        ProvideModeNetwork,
		},
		listeners: make(map[eventKind]map[uint64]func(any)),
		signal:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go d.dispatch()
	debuglog.DebugLog("NewLocalDevice: instance %s on %s/%s", instanceID, ns.HostName, ns.EnvName)
	return d, nil
}

// LocalFactory is a Factory producing LocalDevice handles.
func LocalFactory(ns *NetworkSpace, clientJwt string, instanceID uuid.UUID) (Device, error) {
	d, err := NewLocalDevice(ns, clientJwt, instanceID)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (d *LocalDevice) InstanceID() uuid.UUID       { return d.instanceID }
func (d *LocalDevice) ClientJwt() string           { return d.clientJwt }
func (d *LocalDevice) NetworkSpace() *NetworkSpace { return d.ns }

func (d *LocalDevice) Signals() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// update mutates state under the lock and queues an event when the field changed.
func (d *LocalDevice) update(kind eventKind, apply func(s *State) (any, bool)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if value, changed := apply(&d.state); changed {
		d.enqueueLocked(event{kind: kind, value: value})
	}
}

func (d *LocalDevice) enqueueLocked(ev event) {
	d.queue = append(d.queue, ev)
	select {
	case d.signal <- struct{}{}:
	default:
	}
}

func setBool(field *bool, v bool) (any, bool) {
	if *field == v {
		return v, false
	}
	*field = v
	return v, true
}

func (d *LocalDevice) SetRouteLocal(routeLocal bool) {
	d.update(eventRouteLocal, func(s *State) (any, bool) { return setBool(&s.RouteLocal, routeLocal) })
}

// SetProvideEnabled toggles providing. A native engine drives this from its control mode.
func (d *LocalDevice) SetProvideEnabled(enabled bool) {
	d.update(eventProvide, func(s *State) (any, bool) { return setBool(&s.ProvideEnabled, enabled) })
}

func (d *LocalDevice) SetProvidePaused(paused bool) {
	d.update(eventProvidePaused, func(s *State) (any, bool) { return setBool(&s.ProvidePaused, paused) })
}

func (d *LocalDevice) SetConnectEnabled(enabled bool) {
	d.update(eventConnect, func(s *State) (any, bool) { return setBool(&s.ConnectEnabled, enabled) })
}

func (d *LocalDevice) SetOffline(offline bool) {
	d.update(eventOffline, func(s *State) (any, bool) { return setBool(&s.Offline, offline) })
}

func (d *LocalDevice) SetTunnelStarted(started bool) {
	d.update(eventTunnel, func(s *State) (any, bool) { return setBool(&s.TunnelStarted, started) })
}

func (d *LocalDevice) SetContractStatus(status ContractStatus) {
	d.update(eventContractStatus, func(s *State) (any, bool) {
		if s.ContractStatus == status {
			return status, false
		}
		s.ContractStatus = status
		return status, true
	})
}

func (d *LocalDevice) SetProvideMode(mode ProvideMode) {
	d.mu.Lock()
	d.state.ProvideMode = mode
	d.mu.Unlock()
}

// SetProvideControlMode pins providing on or off for Always and Never. Auto leaves the
// current provide toggle alone.
func (d *LocalDevice) SetProvideControlMode(mode ProvideControlMode) {
	d.update(eventProvide, func(s *State) (any, bool) {
		s.ProvideControlMode = mode
		switch mode {
		case ProvideControlModeAlways:
			return setBool(&s.ProvideEnabled, true)
		case ProvideControlModeNever:
			return setBool(&s.ProvideEnabled, false)
		default:
			return s.ProvideEnabled, false
		}
	})
}

func (d *LocalDevice) SetProvideNetworkMode(mode ProvideNetworkMode) {
	d.mu.Lock()
	d.state.ProvideNetworkMode = mode
	d.mu.Unlock()
}

func (d *LocalDevice) SetCanShowRatingDialog(v bool) {
	d.mu.Lock()
	d.canShowRatingDialog = v
	d.mu.Unlock()
}

func (d *LocalDevice) SetCanRefer(v bool) {
	d.mu.Lock()
	d.canRefer = v
	d.mu.Unlock()
}

func (d *LocalDevice) SetVpnInterfaceWhileOffline(v bool) {
	d.mu.Lock()
	d.vpnInterfaceWhileOffline = v
	d.mu.Unlock()
}

func (d *LocalDevice) ConnectLocation() *Location {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connectLocation
}

// SetConnectLocation selects a connect target. A non-nil location enables connect.
func (d *LocalDevice) SetConnectLocation(loc *Location) {
	d.mu.Lock()
	d.connectLocation = loc
	d.mu.Unlock()
	d.SetConnectEnabled(loc != nil)
}

func (d *LocalDevice) DefaultLocation() *Location {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.defaultLocation
}

func (d *LocalDevice) SetDefaultLocation(loc *Location) {
	d.mu.Lock()
	d.defaultLocation = loc
	d.mu.Unlock()
}

// Flags returns the UI eligibility flags last pushed to the handle.
func (d *LocalDevice) Flags() (canShowRatingDialog, canRefer, vpnInterfaceWhileOffline bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.canShowRatingDialog, d.canRefer, d.vpnInterfaceWhileOffline
}

func (d *LocalDevice) LoadProvideSecretKeys(keys ProvideSecretKeys) {
	d.mu.Lock()
	d.secretKeys = append(ProvideSecretKeys(nil), keys...)
	d.mu.Unlock()
}

// ProvideSecretKeys returns the loaded or issued key material.
func (d *LocalDevice) ProvideSecretKeys() ProvideSecretKeys {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append(ProvideSecretKeys(nil), d.secretKeys...)
}

// InitProvideSecretKeys issues one ed25519 key per relaying provide mode.
func (d *LocalDevice) InitProvideSecretKeys() {
	keys := make(ProvideSecretKeys, 0, 2)
	for _, mode := range []ProvideMode{ProvideModeNetwork, ProvideModePublic} {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			debuglog.ErrorLog("InitProvideSecretKeys: generate key for %s: %v", mode, err)
			return
		}
		keys = append(keys, ProvideSecretKey{ProvideMode: mode, SecretKey: hex.EncodeToString(priv)})
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.secretKeys = keys
	d.enqueueLocked(event{kind: eventProvideSecretKeys, value: append(ProvideSecretKeys(nil), keys...)})
}

func (d *LocalDevice) Sync() {
	d.mu.Lock()
	d.syncs++
	d.mu.Unlock()
}

// SyncCount reports how many times Sync was called.
func (d *LocalDevice) SyncCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.syncs
}

// Close stops event delivery and drops every listener. Further setters are ignored.
func (d *LocalDevice) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.queue = nil
	d.listeners = make(map[eventKind]map[uint64]func(any))
	d.mu.Unlock()
	close(d.done)
	debuglog.DebugLog("LocalDevice.Close: instance %s closed", d.instanceID)
}

func (d *LocalDevice) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *LocalDevice) dispatch() {
	for {
		select {
		case <-d.done:
			return
		case <-d.signal:
		}
		for {
			d.mu.Lock()
			if d.closed || len(d.queue) == 0 {
				d.mu.Unlock()
				break
			}
			ev := d.queue[0]
			d.queue = d.queue[1:]
			fns := make([]func(any), 0, len(d.listeners[ev.kind]))
			for _, fn := range d.listeners[ev.kind] {
				fns = append(fns, fn)
			}
			d.mu.Unlock()

			for _, fn := range fns {
				fn(ev.value)
			}
		}
	}
}

func (d *LocalDevice) addListener(kind eventKind, fn func(any)) observe.Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return observe.SubFunc(func() {})
	}
	id := d.nextID
	d.nextID++
	if d.listeners[kind] == nil {
		d.listeners[kind] = make(map[uint64]func(any))
	}
	d.listeners[kind][id] = fn
	return observe.SubFunc(func() {
		d.mu.Lock()
		delete(d.listeners[kind], id)
		d.mu.Unlock()
	})
}

// ListenerCount reports live listeners across all event kinds.
func (d *LocalDevice) ListenerCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, m := range d.listeners {
		n += len(m)
	}
	return n
}

func boolListener(fn func(bool)) func(any) {
	return func(v any) { fn(v.(bool)) }
}

func (d *LocalDevice) AddProvideChangeListener(fn func(bool)) observe.Subscription {
	return d.addListener(eventProvide, boolListener(fn))
}

func (d *LocalDevice) AddProvidePausedChangeListener(fn func(bool)) observe.Subscription {
	return d.addListener(eventProvidePaused, boolListener(fn))
}

func (d *LocalDevice) AddConnectChangeListener(fn func(bool)) observe.Subscription {
	return d.addListener(eventConnect, boolListener(fn))
}

func (d *LocalDevice) AddRouteLocalChangeListener(fn func(bool)) observe.Subscription {
	return d.addListener(eventRouteLocal, boolListener(fn))
}

func (d *LocalDevice) AddOfflineChangeListener(fn func(bool)) observe.Subscription {
	return d.addListener(eventOffline, boolListener(fn))
}

func (d *LocalDevice) AddTunnelChangeListener(fn func(bool)) observe.Subscription {
	return d.addListener(eventTunnel, boolListener(fn))
}

func (d *LocalDevice) AddContractStatusChangeListener(fn func(ContractStatus)) observe.Subscription {
	return d.addListener(eventContractStatus, func(v any) { fn(v.(ContractStatus)) })
}

func (d *LocalDevice) AddProvideSecretKeysListener(fn func(ProvideSecretKeys)) observe.Subscription {
	return d.addListener(eventProvideSecretKeys, func(v any) { fn(v.(ProvideSecretKeys)) })
}

func (d *LocalDevice) String() string {
	return fmt.Sprintf("LocalDevice(%s)", d.instanceID)
}
