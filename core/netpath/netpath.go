// Package netpath classifies the host's current network path as cheap or expensive.
package netpath

import (
	"context"
	"net"
	"sort"
	"strings"
	"time"

	"relay-client/core/observe"
	"relay-client/internal/debuglog"
)

// Path is a snapshot of the host network path. It is never persisted.
type Path struct {
	// Expensive is true on metered links such as cellular.
	Expensive bool `json:"expensive"`
	// Interfaces lists the active interfaces, comma separated and sorted.
	Interfaces string `json:"interfaces"`
	// MappedAddr is the public address reported by STUN, when probed.
	MappedAddr string `json:"mapped_addr,omitempty"`
}

// Monitor reports the current path and notifies on change.
type Monitor interface {
	Current() Path
	Subscribe(func(Path)) observe.Subscription
}

// Interface is the subset of an OS interface the classifier looks at.
type Interface struct {
	Name     string
	Up       bool
	Loopback bool
	HasAddr  bool
}

var meteredPrefixes = []string{"wwan", "rmnet", "ppp", "pdp_ip", "ccmni", "wwp", "cdc-wdm"}

var virtualPrefixes = []string{"utun", "tun", "tap", "wg", "docker", "veth", "br-", "virbr", "awdl", "llw", "bridge", "anpi"}

func hasAnyPrefix(name string, prefixes []string) bool {
	lower := strings.ToLower(name)
	for _, p := range prefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// Classify decides whether the physical path is metered. The path is expensive only when
// every active physical interface is a cellular-style link.
func Classify(ifaces []Interface) Path {
	var active []string
	metered := 0
	for _, iface := range ifaces {
		if !iface.Up || iface.Loopback || !iface.HasAddr || hasAnyPrefix(iface.Name, virtualPrefixes) {
			continue
		}
		active = append(active, iface.Name)
		if hasAnyPrefix(iface.Name, meteredPrefixes) {
			metered++
		}
	}
	sort.Strings(active)
	return Path{
		Expensive:  len(active) > 0 && metered == len(active),
		Interfaces: strings.Join(active, ","),
	}
}

// SystemInterfaces lists the host interfaces through the net package.
func SystemInterfaces() ([]Interface, error) {
	sys, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make([]Interface, 0, len(sys))
	for _, iface := range sys {
		addrs, err := iface.Addrs()
		out = append(out, Interface{
			Name:     iface.Name,
			Up:       iface.Flags&net.FlagUp != 0,
			Loopback: iface.Flags&net.FlagLoopback != 0,
			HasAddr:  err == nil && len(addrs) > 0,
		})
	}
	return out, nil
}

// StaticMonitor reports a fixed path that can be changed by hand.
type StaticMonitor struct {
	value *observe.Value[Path]
}

func NewStaticMonitor(initial Path) *StaticMonitor {
	return &StaticMonitor{value: observe.NewValue(initial)}
}

func (m *StaticMonitor) Current() Path { return m.value.Get() }

func (m *StaticMonitor) Subscribe(fn func(Path)) observe.Subscription {
	return m.value.Subscribe(fn)
}

// SetExpensive flips the path cost.
func (m *StaticMonitor) SetExpensive(expensive bool) {
	p := m.value.Get()
	p.Expensive = expensive
	m.value.Set(p)
}

// Listeners reports live subscriptions.
func (m *StaticMonitor) Listeners() int { return m.value.Listeners() }

// InterfaceMonitor polls the host interfaces and publishes path changes.
type InterfaceMonitor struct {
	value          *observe.Value[Path]
	interval       time.Duration
	stunServer     string
	forceExpensive *bool
	list           func() ([]Interface, error)
	probe          func(ctx context.Context, server string) (string, error)
}

// InterfaceMonitorOptions configures an InterfaceMonitor.
type InterfaceMonitorOptions struct {
	Interval time.Duration
	// STUNServer enables a mapped-address probe whenever the interface set changes.
	STUNServer string
	// ForceExpensive overrides classification when non-nil.
	ForceExpensive *bool
	// List replaces SystemInterfaces.
	List func() ([]Interface, error)
}

func NewInterfaceMonitor(opts InterfaceMonitorOptions) *InterfaceMonitor {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.List == nil {
		opts.List = SystemInterfaces
	}
	return &InterfaceMonitor{
		value:          observe.NewValue(Path{}),
		interval:       opts.Interval,
		stunServer:     opts.STUNServer,
		forceExpensive: opts.ForceExpensive,
		list:           opts.List,
		probe:          ProbeMappedAddress,
	}
}

func (m *InterfaceMonitor) Current() Path { return m.value.Get() }

func (m *InterfaceMonitor) Subscribe(fn func(Path)) observe.Subscription {
	return m.value.Subscribe(fn)
}

// Refresh classifies the interfaces once and publishes the result if it changed.
func (m *InterfaceMonitor) Refresh(ctx context.Context) error {
	ifaces, err := m.list()
	if err != nil {
		return err
	}
	next := Classify(ifaces)
	if m.forceExpensive != nil {
		next.Expensive = *m.forceExpensive
	}

	prev := m.value.Get()
	if next.Interfaces == prev.Interfaces {
		next.MappedAddr = prev.MappedAddr
	} else {
		debuglog.DebugLog("InterfaceMonitor: active interfaces [%s], expensive=%v", next.Interfaces, next.Expensive)
		if m.stunServer != "" && next.Interfaces != "" {
			addr, err := m.probe(ctx, m.stunServer)
			if err != nil {
				debuglog.WarnLog("InterfaceMonitor: STUN probe via %s failed: %v", m.stunServer, err)
			} else {
				next.MappedAddr = addr
			}
		}
	}

	if m.value.Set(next) {
		debuglog.InfoLog("InterfaceMonitor: path changed: expensive=%v interfaces=[%s] mapped=%s", next.Expensive, next.Interfaces, next.MappedAddr)
	}
	return nil
}

// Run polls until ctx is done.
func (m *InterfaceMonitor) Run(ctx context.Context) {
	if err := m.Refresh(ctx); err != nil {
		debuglog.WarnLog("InterfaceMonitor: initial refresh failed: %v", err)
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Refresh(ctx); err != nil {
				debuglog.WarnLog("InterfaceMonitor: refresh failed: %v", err)
			}
		}
	}
}
