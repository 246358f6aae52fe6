package device

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"relay-client/core/tunnel"
	"relay-client/internal/debuglog"
)

// decision is one start-or-stop unit for the tunnel.
type decision struct {
	gen uint64
	run bool
	cfg tunnel.Config
}

// applier is the only caller of the tunnel controller. It holds a single pending slot:
// a newer decision replaces an older one that has not started, so after a burst the
// last decision is always the last one applied.
type applier struct {
	ctl       tunnel.Controller
	timeout   time.Duration
	onApplied func(d decision, err error)

	mu      sync.Mutex
	pending *decision
	// wantRun is the last decision handed to the controller.
	wantRun atomic.Bool

	signal chan struct{}
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newApplier(ctl tunnel.Controller, timeout time.Duration, onApplied func(decision, error)) *applier {
	a := &applier{
		ctl:       ctl,
		timeout:   timeout,
		onApplied: onApplied,
		signal:    make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *applier) submit(d decision) {
	a.mu.Lock()
	a.pending = &d
	a.mu.Unlock()
	select {
	case a.signal <- struct{}{}:
	default:
	}
}

func (a *applier) run() {
	defer close(a.done)
	for {
		select {
		case <-a.signal:
			a.drain()
		case <-a.stop:
			a.drain()
			return
		}
	}
}

func (a *applier) drain() {
	for {
		a.mu.Lock()
		d := a.pending
		a.pending = nil
		a.mu.Unlock()
		if d == nil {
			return
		}
		a.apply(*d)
	}
}

func (a *applier) apply(d decision) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	a.wantRun.Store(d.run)
	var err error
	if d.run {
		if err = a.ctl.Configure(ctx, d.cfg); err == nil {
			err = a.ctl.Start(ctx)
		}
	} else {
		err = a.ctl.Stop(ctx)
	}
	if err != nil {
		debuglog.WarnLog("applyTunnel: run=%v failed: %v", d.run, err)
	}
	if a.onApplied != nil {
		a.onApplied(d, err)
	}
}

// wantsRun reports whether the last decision handed to the controller was to run.
func (a *applier) wantsRun() bool {
	return a.wantRun.Load()
}

// close applies whatever is pending and stops the goroutine.
func (a *applier) close(ctx context.Context) error {
	a.once.Do(func() { close(a.stop) })
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
