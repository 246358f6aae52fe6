package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay-client/core/device"
	"relay-client/core/engine"
	"relay-client/core/errs"
	"relay-client/core/identity"
)

type fakeBackend struct {
	mu sync.Mutex

	snapshot device.Snapshot
	claims   *identity.Claims
	err      error
	waitErr  error

	byJwt       string
	logouts     int
	deletes     int
	waited      time.Duration
	routeLocal  *bool
	networkMode engine.ProvideNetworkMode
	controlMode engine.ProvideControlMode
	location    *engine.Location
	locationSet bool
}

func (f *fakeBackend) Snapshot(context.Context) (device.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot, f.err
}

func (f *fakeBackend) Claims(context.Context) (*identity.Claims, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claims == nil {
		return nil, errors.New("no session")
	}
	return f.claims, nil
}

func (f *fakeBackend) Login(_ context.Context, byJwt string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byJwt = byJwt
	return f.err
}

func (f *fakeBackend) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
	return f.err
}

func (f *fakeBackend) DeleteAccount(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	return f.err
}

func (f *fakeBackend) WaitUntilReady(_ context.Context, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waited = timeout
	return f.waitErr
}

func (f *fakeBackend) SetRouteLocal(_ context.Context, v bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routeLocal = &v
	return f.err
}

func (f *fakeBackend) SetProvideNetworkMode(_ context.Context, mode engine.ProvideNetworkMode) error {
	if _, err := engine.ParseProvideNetworkMode(string(mode)); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.networkMode = mode
	return f.err
}

func (f *fakeBackend) SetProvideControlMode(_ context.Context, mode engine.ProvideControlMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controlMode = mode
	return f.err
}

func (f *fakeBackend) SetConnectLocation(_ context.Context, loc *engine.Location) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.location = loc
	f.locationSet = true
	return f.err
}

func serve(t *testing.T, b Backend, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	NewServer(b).Handler().ServeHTTP(w, req)
	return w
}

func TestStatusHandler(t *testing.T) {
	signals := device.Signals{State: engine.State{ConnectEnabled: true, RouteLocal: true}}
	b := &fakeBackend{
		snapshot: device.Snapshot{
			Status:        device.Status{State: device.StateReady, HasDevice: true},
			TunnelRunning: true,
			InstanceID:    "0191-test",
			Signals:       &signals,
			ShouldRun:     true,
		},
		claims: &identity.Claims{NetworkName: "home"},
	}

	w := serve(t, b, http.MethodGet, "/status", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp StatusResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "ready", resp.State)
	assert.True(t, resp.HasDevice)
	assert.True(t, resp.TunnelRunning)
	assert.Equal(t, "0191-test", resp.InstanceID)
	require.NotNil(t, resp.Signals)
	assert.True(t, resp.Signals.ConnectEnabled)
	require.NotNil(t, resp.Claims)
	assert.Equal(t, "home", resp.Claims.NetworkName)
}

func TestStatusHandler_GuestHasNoClaims(t *testing.T) {
	b := &fakeBackend{snapshot: device.Snapshot{Status: device.Status{State: device.StateReady}}}

	w := serve(t, b, http.MethodGet, "/status", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "claims")
}

func TestLoginHandler(t *testing.T) {
	b := &fakeBackend{}

	w := serve(t, b, http.MethodPost, "/login", LoginRequest{ByJwt: "jwt"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "jwt", b.byJwt)

	w = serve(t, b, http.MethodPost, "/login", LoginRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestErrorKindsMapToStatus(t *testing.T) {
	tests := []struct {
		err  error
		code int
		kind string
	}{
		{errs.Transport("op", errors.New("refused")), http.StatusBadGateway, "transport"},
		{errs.Timeout("op", nil), http.StatusGatewayTimeout, "timeout"},
		{errs.Persistence("op", errors.New("disk full")), http.StatusInternalServerError, "persistence"},
		{errs.InvalidState("op", errors.New("busy")), http.StatusConflict, "invalid_state"},
		{errs.Engine("op", errors.New("down")), http.StatusServiceUnavailable, "engine"},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			b := &fakeBackend{err: tt.err}

			w := serve(t, b, http.MethodPost, "/logout", nil)

			assert.Equal(t, tt.code, w.Code)
			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, tt.kind, resp.Kind)
		})
	}
}

func TestPreferenceHandler(t *testing.T) {
	b := &fakeBackend{}

	w := serve(t, b, http.MethodPut, "/preferences/route-local", map[string]interface{}{"value": true})
	require.Equal(t, http.StatusNoContent, w.Code)
	require.NotNil(t, b.routeLocal)
	assert.True(t, *b.routeLocal)

	w = serve(t, b, http.MethodPut, "/preferences/provide-network-mode", map[string]interface{}{"value": "All"})
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, engine.ProvideNetworkModeAll, b.networkMode)

	w = serve(t, b, http.MethodPut, "/preferences/provide-network-mode", map[string]interface{}{"value": "Satellite"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(t, b, http.MethodPut, "/preferences/provide-control-mode", map[string]interface{}{"value": "Always"})
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, engine.ProvideControlModeAlways, b.controlMode)

	w = serve(t, b, http.MethodPut, "/preferences/connect-location", map[string]interface{}{"value": map[string]string{"location_id": "de"}})
	require.Equal(t, http.StatusNoContent, w.Code)
	require.NotNil(t, b.location)
	assert.Equal(t, "de", b.location.LocationID)

	w = serve(t, b, http.MethodPut, "/preferences/connect-location", map[string]interface{}{"value": nil})
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Nil(t, b.location)

	w = serve(t, b, http.MethodPut, "/preferences/route-local", map[string]interface{}{"value": "yes"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(t, b, http.MethodPut, "/preferences/theme", map[string]interface{}{"value": "dark"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWaitReadyHandler(t *testing.T) {
	b := &fakeBackend{}

	w := serve(t, b, http.MethodGet, "/wait/ready?timeout=250ms", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 250*time.Millisecond, b.waited)

	w = serve(t, b, http.MethodGet, "/wait/ready?timeout=later", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	b.waitErr = errs.Timeout("WaitUntilReady", nil)
	w = serve(t, b, http.MethodGet, "/wait/ready", nil)
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
}

func TestClient_RoundTrip(t *testing.T) {
	b := &fakeBackend{snapshot: device.Snapshot{Status: device.Status{State: device.StateInitializing}}}
	srv := httptest.NewServer(NewServer(b).Handler())
	defer srv.Close()
	c := NewClient(srv.URL, 5*time.Second)
	ctx := context.Background()

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "initializing", st.State)

	require.NoError(t, c.Login(ctx, "jwt"))
	require.NoError(t, c.SetPreference(ctx, PrefRouteLocal, false))
	require.NoError(t, c.WaitReady(ctx, time.Second))
	require.NoError(t, c.DeleteAccount(ctx))

	b.mu.Lock()
	assert.Equal(t, 1, b.deletes)
	assert.Equal(t, time.Second, b.waited)
	b.err = errs.InvalidState("Logout", errors.New("busy"))
	b.mu.Unlock()
	err = c.Logout(ctx)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusConflict, se.Code)
	assert.Equal(t, "invalid_state", se.Kind)
}

func TestServer_StartAndShutdown(t *testing.T) {
	s := NewServer(&fakeBackend{})
	require.NoError(t, s.Start("127.0.0.1:0"))
	require.NotEmpty(t, s.Addr())

	_, err := NewClient(s.Addr(), time.Second).Status(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}
