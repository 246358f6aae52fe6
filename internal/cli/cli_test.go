package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay-client/core/device"
	"relay-client/core/engine"
	"relay-client/core/identity"
	"relay-client/internal/constants"
	"relay-client/internal/control"
)

// stubBackend answers status and preference calls; anything else panics.
type stubBackend struct {
	control.Backend
	routeLocal *bool
}

func (s *stubBackend) Snapshot(context.Context) (device.Snapshot, error) {
	return device.Snapshot{Status: device.Status{State: device.StateReady, HasDevice: true}, TunnelRunning: true}, nil
}

func (s *stubBackend) Claims(context.Context) (*identity.Claims, error) {
	return nil, errors.New("guest")
}

func (s *stubBackend) SetRouteLocal(_ context.Context, v bool) error {
	s.routeLocal = &v
	return nil
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, constants.AppVersion)
}

func TestStatusCmd(t *testing.T) {
	srv := httptest.NewServer(control.NewServer(&stubBackend{}).Handler())
	defer srv.Close()

	out, err := execute(t, "status", "--control", srv.URL)
	require.NoError(t, err)

	var st control.StatusResponse
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "ready", st.State)
	assert.True(t, st.TunnelRunning)
}

func TestSetCmd(t *testing.T) {
	b := &stubBackend{}
	srv := httptest.NewServer(control.NewServer(b).Handler())
	defer srv.Close()

	_, err := execute(t, "set", "route-local", "true", "--control", srv.URL)
	require.NoError(t, err)
	require.NotNil(t, b.routeLocal)
	assert.True(t, *b.routeLocal)

	_, err = execute(t, "set", "route-local", "maybe", "--control", srv.URL)
	assert.Error(t, err)
}

func TestDeleteAccountRequiresConfirmation(t *testing.T) {
	_, err := execute(t, "delete-account", "--control", "127.0.0.1:1")
	assert.Error(t, err)
}

func TestParsePreferenceValue(t *testing.T) {
	v, err := parsePreferenceValue(control.PrefProvideNetworkMode, "All")
	require.NoError(t, err)
	assert.Equal(t, "All", v)

	_, err = parsePreferenceValue(control.PrefProvideControlMode, "Sometimes")
	assert.True(t, errors.Is(err, engine.ErrUnknownEnum))

	v, err = parsePreferenceValue(control.PrefConnectLocation, "none")
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = parsePreferenceValue(control.PrefConnectLocation, "de")
	require.NoError(t, err)
	assert.Equal(t, engine.Location{LocationID: "de"}, v)

	_, err = parsePreferenceValue("theme", "dark")
	assert.Error(t, err)
}
