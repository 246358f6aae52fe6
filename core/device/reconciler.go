package device

import (
	"relay-client/core/engine"
	"relay-client/core/netpath"
	"relay-client/core/observe"
	"relay-client/core/tunnel"
	"relay-client/internal/debuglog"
)

// IdleSuppressor keeps the host awake while the tunnel is needed.
type IdleSuppressor interface {
	SetIdleTimerDisabled(disabled bool)
}

type noIdle struct{}

func (noIdle) SetIdleTimerDisabled(bool) {}

// Reconciler turns device and path signals into tunnel start/stop decisions. All of its
// methods run on the coordinator's actor goroutine.
type Reconciler struct {
	path  netpath.Monitor
	idle  IdleSuppressor
	apply *applier
	// post hands a closure to the actor, dropping it if gen is stale by then.
	post func(gen uint64, fn func())

	subs   observe.Registry
	device engine.Device
	gen    uint64
	cfg    tunnel.Config

	last    *bool
	retried bool
}

func newReconciler(path netpath.Monitor, idle IdleSuppressor, apply *applier, post func(uint64, func())) *Reconciler {
	if idle == nil {
		idle = noIdle{}
	}
	return &Reconciler{path: path, idle: idle, apply: apply, post: post}
}

// Attach subscribes to every input on dev and the path monitor and evaluates once.
// Subscriptions from a previous handle are closed first.
func (r *Reconciler) Attach(dev engine.Device, gen uint64, cfg tunnel.Config) {
	r.subs.CloseAll()
	r.device = dev
	r.gen = gen
	r.cfg = cfg

	onChange := func(bool) { r.post(gen, r.Evaluate) }

	r.subs.Add(dev.AddProvideChangeListener(onChange))
	r.subs.Add(dev.AddProvidePausedChangeListener(onChange))
	r.subs.Add(dev.AddConnectChangeListener(onChange))
	r.subs.Add(dev.AddRouteLocalChangeListener(onChange))
	r.subs.Add(dev.AddOfflineChangeListener(func(offline bool) {
		r.post(gen, func() {
			debuglog.InfoLog("reconcile: device offline=%v", offline)
			r.Evaluate()
		})
	}))
	r.subs.Add(dev.AddTunnelChangeListener(func(started bool) {
		r.post(gen, func() { debuglog.InfoLog("reconcile: engine reports tunnel started=%v", started) })
	}))
	r.subs.Add(dev.AddContractStatusChangeListener(func(status engine.ContractStatus) {
		r.post(gen, func() {
			debuglog.InfoLog("reconcile: contract status insufficient_balance=%v no_permission=%v premium=%v",
				status.InsufficientBalance, status.NoPermission, status.Premium)
		})
	}))
	if r.path != nil {
		r.subs.Add(r.path.Subscribe(func(p netpath.Path) {
			r.post(gen, func() {
				debuglog.DebugLog("reconcile: path expensive=%v", p.Expensive)
				r.Evaluate()
			})
		}))
	}

	r.Evaluate()
}

// Detach closes every subscription, releases idle suppression and stops the tunnel.
func (r *Reconciler) Detach() {
	r.subs.CloseAll()
	if r.device == nil {
		return
	}
	r.device = nil
	r.last = nil
	r.idle.SetIdleTimerDisabled(false)
	r.apply.submit(decision{gen: r.gen, run: false})
}

// Signals reads the current inputs. ok is false without a device.
func (r *Reconciler) Signals() (Signals, bool) {
	if r.device == nil {
		return Signals{}, false
	}
	s := Signals{State: r.device.Signals()}
	if r.path != nil {
		s.PathExpensive = r.path.Current().Expensive
	}
	return s, true
}

// Evaluate recomputes the decision from a fresh read of every input and submits it.
func (r *Reconciler) Evaluate() {
	s, ok := r.Signals()
	if !ok {
		return
	}
	should := s.ShouldRun()

	if r.last == nil || *r.last != should {
		debuglog.InfoLog("reconcile: shouldRun=%v (provide=%v paused=%v connect=%v routeLocal=%v mode=%s expensive=%v)",
			should, s.ProvideEnabled, s.ProvidePaused, s.ConnectEnabled, s.RouteLocal, s.ProvideNetworkMode, s.PathExpensive)
		r.retried = false
	}
	r.last = &should

	r.idle.SetIdleTimerDisabled(should && !s.ProvidePaused)
	r.apply.submit(decision{gen: r.gen, run: should, cfg: r.cfg})
}

// RetryStopped re-applies a run decision after the tunnel stopped without being asked to.
// It retries once per decision; a second exit leaves the tunnel stopped until the
// decision changes.
func (r *Reconciler) RetryStopped() {
	if r.device == nil || r.last == nil || !*r.last {
		return
	}
	if r.retried {
		debuglog.ErrorLog("reconcile: tunnel stopped again while it should run, leaving it stopped until inputs change")
		return
	}
	r.retried = true
	debuglog.WarnLog("reconcile: tunnel stopped while it should run, reapplying")
	r.Evaluate()
}

// Subscriptions reports how many subscriptions the reconciler owns.
func (r *Reconciler) Subscriptions() int {
	return r.subs.Len()
}
