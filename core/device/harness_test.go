package device

import (
	"bytes"
	"context"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"relay-client/core/engine"
	"relay-client/core/identity"
	"relay-client/core/identity/identitytest"
	"relay-client/core/netpath"
	"relay-client/core/prefs"
	"relay-client/core/tunnel"
)

type fakeIdle struct {
	mu       sync.Mutex
	disabled bool
}

func (f *fakeIdle) SetIdleTimerDisabled(disabled bool) {
	f.mu.Lock()
	f.disabled = disabled
	f.mu.Unlock()
}

func (f *fakeIdle) Disabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disabled
}

// logBuffer collects log output written from any goroutine.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func captureLog(t *testing.T) *logBuffer {
	t.Helper()
	buf := &logBuffer{}
	prev := log.Writer()
	log.SetOutput(buf)
	t.Cleanup(func() { log.SetOutput(prev) })
	return buf
}

type harness struct {
	t     *testing.T
	store *prefs.MemoryStore
	api   *identitytest.FakeAPI
	tun   *tunnel.DryRunController
	path  *netpath.StaticMonitor
	idle  *fakeIdle
	coord *Coordinator

	mu         sync.Mutex
	devices    []*engine.LocalDevice
	factoryErr error
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithStore(t, prefs.NewMemoryStore())
}

func newHarnessWithStore(t *testing.T, store *prefs.MemoryStore) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		store: store,
		api:   identitytest.New(),
		tun:   tunnel.NewDryRunController(),
		path:  netpath.NewStaticMonitor(netpath.Path{Interfaces: "wlan0"}),
		idle:  &fakeIdle{},
	}
	h.coord = NewCoordinator(Options{
		Store:       store,
		Identity:    identity.NewManager(store, func(*engine.NetworkSpace) identity.API { return h.api }),
		Factory:     h.factory,
		Tunnel:      h.tun,
		Path:        h.path,
		Idle:        h.idle,
		StoragePath: t.TempDir(),
		HostName:    "ur.network",
		EnvName:     "main",
		DeviceSpec:  "test-spec",
		WaitTimeout: time.Second,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.coord.Close(ctx)
	})
	return h
}

func (h *harness) factory(ns *engine.NetworkSpace, clientJwt string, instanceID uuid.UUID) (engine.Device, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.factoryErr != nil {
		return nil, h.factoryErr
	}
	d, err := engine.NewLocalDevice(ns, clientJwt, instanceID)
	if err != nil {
		return nil, err
	}
	h.devices = append(h.devices, d)
	return d, nil
}

func (h *harness) failFactory(err error) {
	h.mu.Lock()
	h.factoryErr = err
	h.mu.Unlock()
}

func (h *harness) deviceCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.devices)
}

func (h *harness) device(i int) *engine.LocalDevice {
	h.mu.Lock()
	defer h.mu.Unlock()
	require.Greater(h.t, len(h.devices), i)
	return h.devices[i]
}

func (h *harness) lastDevice() *engine.LocalDevice {
	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(h.t, h.devices)
	return h.devices[len(h.devices)-1]
}

// seedCredential stores a client credential as if a previous run had logged in.
func (h *harness) seedCredential() {
	require.NoError(h.t, prefs.Set(context.Background(), h.store, prefs.KeyByClientJwt, "cached-client-jwt"))
}

// initReady initializes with a cached credential and waits for the device.
func (h *harness) initReady() *engine.LocalDevice {
	h.t.Helper()
	h.seedCredential()
	require.NoError(h.t, h.coord.InitializeNetworkSpace(context.Background()))
	require.True(h.t, h.coord.Status().Ready())
	return h.lastDevice()
}

func (h *harness) eventuallyRunning(want bool) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return h.tun.Running() == want && h.coord.TunnelRunning() == want
	}, 2*time.Second, 5*time.Millisecond, "tunnel running should become %v", want)
}
