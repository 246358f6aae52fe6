package netpath

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		ifaces    []Interface
		expensive bool
		active    string
	}{
		{
			name:   "wifi only",
			ifaces: []Interface{{Name: "wlan0", Up: true, HasAddr: true}, {Name: "lo", Up: true, Loopback: true, HasAddr: true}},
			active: "wlan0",
		},
		{
			name:      "cellular only",
			ifaces:    []Interface{{Name: "rmnet_data0", Up: true, HasAddr: true}},
			expensive: true,
			active:    "rmnet_data0",
		},
		{
			name:   "cellular with ethernet",
			ifaces: []Interface{{Name: "wwan0", Up: true, HasAddr: true}, {Name: "eth0", Up: true, HasAddr: true}},
			active: "eth0,wwan0",
		},
		{
			name:      "tunnel interfaces ignored",
			ifaces:    []Interface{{Name: "wwan0", Up: true, HasAddr: true}, {Name: "utun3", Up: true, HasAddr: true}},
			expensive: true,
			active:    "wwan0",
		},
		{
			name:   "no active interfaces",
			ifaces: []Interface{{Name: "eth0", Up: false, HasAddr: true}, {Name: "wlan0", Up: true}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Classify(tt.ifaces)
			assert.Equal(t, tt.expensive, p.Expensive)
			assert.Equal(t, tt.active, p.Interfaces)
		})
	}
}

type fakeInterfaces struct {
	mu     sync.Mutex
	ifaces []Interface
	err    error
}

func (f *fakeInterfaces) set(ifaces ...Interface) {
	f.mu.Lock()
	f.ifaces = ifaces
	f.mu.Unlock()
}

func (f *fakeInterfaces) list() ([]Interface, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ifaces, f.err
}

func TestInterfaceMonitor_PublishesChanges(t *testing.T) {
	fake := &fakeInterfaces{}
	fake.set(Interface{Name: "wlan0", Up: true, HasAddr: true})
	m := NewInterfaceMonitor(InterfaceMonitorOptions{List: fake.list})

	var got []Path
	sub := m.Subscribe(func(p Path) { got = append(got, p) })
	defer sub.Close()

	require.NoError(t, m.Refresh(context.Background()))
	require.NoError(t, m.Refresh(context.Background()))
	fake.set(Interface{Name: "wwan0", Up: true, HasAddr: true})
	require.NoError(t, m.Refresh(context.Background()))

	require.Len(t, got, 2)
	assert.False(t, got[0].Expensive)
	assert.True(t, got[1].Expensive)
	assert.True(t, m.Current().Expensive)
}

func TestInterfaceMonitor_ForceExpensive(t *testing.T) {
	fake := &fakeInterfaces{}
	fake.set(Interface{Name: "eth0", Up: true, HasAddr: true})
	force := true
	m := NewInterfaceMonitor(InterfaceMonitorOptions{List: fake.list, ForceExpensive: &force})

	require.NoError(t, m.Refresh(context.Background()))

	assert.True(t, m.Current().Expensive)
}

func TestInterfaceMonitor_ProbesOnlyOnInterfaceChange(t *testing.T) {
	fake := &fakeInterfaces{}
	fake.set(Interface{Name: "eth0", Up: true, HasAddr: true})
	m := NewInterfaceMonitor(InterfaceMonitorOptions{List: fake.list, STUNServer: "stun.invalid:3478"})
	probes := 0
	m.probe = func(context.Context, string) (string, error) {
		probes++
		return "203.0.113.7", nil
	}

	require.NoError(t, m.Refresh(context.Background()))
	require.NoError(t, m.Refresh(context.Background()))

	assert.Equal(t, 1, probes)
	assert.Equal(t, "203.0.113.7", m.Current().MappedAddr)
}

func TestInterfaceMonitor_ListError(t *testing.T) {
	fake := &fakeInterfaces{err: errors.New("netlink unavailable")}
	m := NewInterfaceMonitor(InterfaceMonitorOptions{List: fake.list})

	assert.Error(t, m.Refresh(context.Background()))
	assert.Equal(t, Path{}, m.Current())
}

func TestStaticMonitor(t *testing.T) {
	m := NewStaticMonitor(Path{Interfaces: "eth0"})
	var got []bool
	sub := m.Subscribe(func(p Path) { got = append(got, p.Expensive) })

	m.SetExpensive(true)
	m.SetExpensive(true)
	sub.Close()
	m.SetExpensive(false)

	assert.Equal(t, []bool{true}, got)
	assert.Zero(t, m.Listeners())
}
