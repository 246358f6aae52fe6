package tunnel

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/txthinking/socks5"

	"relay-client/core/errs"
	"relay-client/internal/constants"
)

func testConfig() Config {
	return Config{
		ByJwt:        "by-jwt",
		NetworkSpace: json.RawMessage(`{"host_name":"ur.network","env_name":"main"}`),
		InstanceID:   uuid.MustParse("0190c1a2-7b3c-7def-8abc-0123456789ab"),
		Description:  Description(constants.AppDescription, "ur.network", "main"),
	}
}

func TestDescription(t *testing.T) {
	assert.Equal(t, "URnetwork [ur.network main]", Description("URnetwork", "ur.network", "main"))
}

func TestConfig_Equal(t *testing.T) {
	a := testConfig()
	b := testConfig()
	assert.True(t, a.Equal(b))

	b.NetworkSpace = json.RawMessage(`{"host_name":"other"}`)
	assert.False(t, a.Equal(b))
}

func TestConfig_EqualIgnoresNetworkSpaceFormatting(t *testing.T) {
	a := testConfig()
	b := testConfig()
	b.NetworkSpace = json.RawMessage("{\n    \"host_name\": \"ur.network\",\n    \"env_name\": \"main\"\n  }")
	assert.True(t, a.Equal(b))

	b.NetworkSpace = json.RawMessage(`{"host_name": "ur.network", "env_name": "test"}`)
	assert.False(t, a.Equal(b))

	b.NetworkSpace = json.RawMessage(`{not json`)
	assert.False(t, a.Equal(b))
}

func TestDryRun_Idempotent(t *testing.T) {
	ctx := context.Background()
	c := NewDryRunController()

	err := c.Start(ctx)
	assert.True(t, errors.Is(err, errs.ErrInvalidState))

	require.NoError(t, c.Configure(ctx, testConfig()))
	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.Start(ctx))
	assert.True(t, c.Running())

	require.NoError(t, c.Stop(ctx))
	require.NoError(t, c.Stop(ctx))
	assert.False(t, c.Running())
	assert.Equal(t, 2, c.Transitions())
}

func TestDryRun_FailStart(t *testing.T) {
	ctx := context.Background()
	c := NewDryRunController()
	require.NoError(t, c.Configure(ctx, testConfig()))
	c.FailStart(errors.New("tunnel permission denied"))

	err := c.Start(ctx)

	assert.True(t, errors.Is(err, errs.ErrEngine))
	assert.False(t, c.Running())
}

func TestProcessController_ConfigureWritesAtomically(t *testing.T) {
	dir := t.TempDir()
	pc := NewProcessController(ProcessOptions{EnginePath: filepath.Join(dir, "missing"), StateDir: dir})
	cfg := testConfig()

	require.NoError(t, pc.Configure(context.Background(), cfg))
	path := filepath.Join(dir, constants.TunnelConfigFileName)
	info, err := os.Stat(path)
	require.NoError(t, err)
	firstMod := info.ModTime()

	var got Config
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &got))
	assert.True(t, cfg.Equal(got))

	// Unchanged config does not rewrite the file.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, pc.Configure(context.Background(), cfg))
	info, err = os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, firstMod, info.ModTime())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "leftover temp file %s", e.Name())
	}
}

func TestProcessController_StartErrors(t *testing.T) {
	dir := t.TempDir()
	pc := NewProcessController(ProcessOptions{EnginePath: filepath.Join(dir, "missing"), StateDir: dir})
	ctx := context.Background()

	err := pc.Start(ctx)
	assert.True(t, errors.Is(err, ErrNotConfigured))

	require.NoError(t, pc.Configure(ctx, testConfig()))
	err = pc.Start(ctx)
	assert.True(t, errors.Is(err, ErrEngineMissing))
	assert.True(t, errors.Is(err, errs.ErrEngine))
	assert.False(t, pc.Running())

	require.NoError(t, pc.Stop(ctx))
}

func TestProcessController_StartStop(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script as the engine")
	}
	dir := t.TempDir()
	engine := filepath.Join(dir, "fake-engine")
	require.NoError(t, os.WriteFile(engine, []byte("#!/bin/sh\nexec sleep 30\n"), 0o755))

	rotations := 0
	pc := NewProcessController(ProcessOptions{
		EnginePath:  engine,
		StateDir:    dir,
		BeforeStart: func() { rotations++ },
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var states []bool
	sub := pc.SubscribeRunning(func(v bool) { states = append(states, v) })
	defer sub.Close()

	require.NoError(t, pc.Configure(ctx, testConfig()))
	require.NoError(t, pc.Start(ctx))
	require.NoError(t, pc.Start(ctx))
	assert.True(t, pc.Running())
	assert.Equal(t, 1, rotations)

	require.NoError(t, pc.Stop(ctx))
	require.Eventually(t, func() bool { return !pc.Running() }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, pc.Stop(ctx))

	require.NoError(t, pc.Close(ctx))
	assert.Equal(t, []bool{true, false}, states)
}

func TestProcessController_RunningUntilRestartsGiveUp(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script as the engine")
	}
	if testing.Short() {
		t.Skip("waits through the crash restart delays")
	}
	dir := t.TempDir()
	engine := filepath.Join(dir, "fake-engine")
	require.NoError(t, os.WriteFile(engine, []byte("#!/bin/sh\nexit 1\n"), 0o755))

	pc := NewProcessController(ProcessOptions{EnginePath: engine, StateDir: dir})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	defer func() { _ = pc.Close(ctx) }()

	var (
		mu     sync.Mutex
		states []bool
	)
	sub := pc.SubscribeRunning(func(v bool) {
		mu.Lock()
		states = append(states, v)
		mu.Unlock()
	})
	defer sub.Close()

	require.NoError(t, pc.Configure(ctx, testConfig()))
	require.NoError(t, pc.Start(ctx))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) > 0 && !states[len(states)-1]
	}, time.Duration(restartAttempts+2)*restartDelay, 50*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, states, "crash restarts are not reported as stops")
}

func freePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestProbeSOCKS(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer target.Close()

	socksAddr := freePort(t)
	server, err := socks5.NewClassicServer(socksAddr, "127.0.0.1", "", "", 5, 5)
	require.NoError(t, err)
	go func() { _ = server.ListenAndServe(nil) }()
	defer server.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var res ProbeResult
	require.Eventually(t, func() bool {
		res, err = ProbeSOCKS(ctx, socksAddr, strings.TrimPrefix(target.URL, "http://"))
		return err == nil
	}, 3*time.Second, 50*time.Millisecond)
	assert.Equal(t, "204 No Content", res.Status)
}

func TestProbeSOCKS_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := ProbeSOCKS(ctx, freePort(t), "example.com:80")

	assert.True(t, errors.Is(err, errs.ErrTransport))
}
