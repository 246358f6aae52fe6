package device

import (
	"context"

	"relay-client/core/engine"
	"relay-client/core/prefs"
	"relay-client/internal/debuglog"
)

// writeThrough persists value under key and, only once the write is committed, pushes it
// to the installed device on the actor. A failed write changes nothing.
func writeThrough[T any](ctx context.Context, c *Coordinator, op, key string, value T, push func(dev engine.Device)) error {
	c.prefMu.Lock()
	defer c.prefMu.Unlock()

	if err := prefs.Set(ctx, c.opts.Store, key, value); err != nil {
		debuglog.WarnLog("%s: persisting %s failed: %v", op, key, err)
		return err
	}
	return c.call(ctx, op, func() {
		if c.device == nil {
			return
		}
		push(c.device)
	})
}

// SetRouteLocal stores the route-local flag. The device reports the change and the
// reconciler re-evaluates from that event.
func (c *Coordinator) SetRouteLocal(ctx context.Context, routeLocal bool) error {
	return writeThrough(ctx, c, "SetRouteLocal", prefs.KeyRouteLocal, routeLocal, func(dev engine.Device) {
		dev.SetRouteLocal(routeLocal)
	})
}

// SetProvideNetworkMode stores the mode and re-evaluates the tunnel decision.
func (c *Coordinator) SetProvideNetworkMode(ctx context.Context, mode engine.ProvideNetworkMode) error {
	if _, err := engine.ParseProvideNetworkMode(string(mode)); err != nil {
		return err
	}
	return writeThrough(ctx, c, "SetProvideNetworkMode", prefs.KeyProvideNetworkMode, string(mode), func(dev engine.Device) {
		dev.SetProvideNetworkMode(mode)
		c.reconciler.Evaluate()
	})
}

// SetProvideControlMode stores the control mode. Always forces the Public provide mode on
// the device.
func (c *Coordinator) SetProvideControlMode(ctx context.Context, mode engine.ProvideControlMode) error {
	if _, err := engine.ParseProvideControlMode(string(mode)); err != nil {
		return err
	}
	stored, _, err := prefs.Get[int](ctx, c.opts.Store, prefs.KeyProvideMode)
	if err != nil {
		return err
	}
	provideMode, err := engine.ParseProvideMode(stored)
	if err != nil {
		provideMode = prefs.Defaults().ProvideMode
	}
	return writeThrough(ctx, c, "SetProvideControlMode", prefs.KeyProvideControlMode, string(mode), func(dev engine.Device) {
		dev.SetProvideMode(engine.EffectiveProvideMode(mode, provideMode))
		dev.SetProvideControlMode(mode)
	})
}

func (c *Coordinator) SetProvideMode(ctx context.Context, mode engine.ProvideMode) error {
	if _, err := engine.ParseProvideMode(int(mode)); err != nil {
		return err
	}
	return writeThrough(ctx, c, "SetProvideMode", prefs.KeyProvideMode, int(mode), func(dev engine.Device) {
		dev.SetProvideMode(engine.EffectiveProvideMode(dev.Signals().ProvideControlMode, mode))
	})
}

func (c *Coordinator) SetCanShowRatingDialog(ctx context.Context, v bool) error {
	return writeThrough(ctx, c, "SetCanShowRatingDialog", prefs.KeyCanShowRatingDialog, v, func(dev engine.Device) {
		dev.SetCanShowRatingDialog(v)
	})
}

func (c *Coordinator) SetCanRefer(ctx context.Context, v bool) error {
	return writeThrough(ctx, c, "SetCanRefer", prefs.KeyCanRefer, v, func(dev engine.Device) {
		dev.SetCanRefer(v)
	})
}

func (c *Coordinator) SetVpnInterfaceWhileOffline(ctx context.Context, v bool) error {
	return writeThrough(ctx, c, "SetVpnInterfaceWhileOffline", prefs.KeyVpnInterfaceWhileOffline, v, func(dev engine.Device) {
		dev.SetVpnInterfaceWhileOffline(v)
	})
}

// SetConnectLocation stores the connect target. A nil location disconnects.
func (c *Coordinator) SetConnectLocation(ctx context.Context, loc *engine.Location) error {
	return writeThrough(ctx, c, "SetConnectLocation", prefs.KeyConnectLocation, loc, func(dev engine.Device) {
		if !dev.ConnectLocation().Equal(loc) {
			dev.SetConnectLocation(loc)
		}
	})
}

func (c *Coordinator) SetDefaultLocation(ctx context.Context, loc *engine.Location) error {
	return writeThrough(ctx, c, "SetDefaultLocation", prefs.KeyDefaultLocation, loc, func(dev engine.Device) {
		dev.SetDefaultLocation(loc)
	})
}
