package tunnel

import (
	"context"
	"sync"
	"time"

	"relay-client/core/errs"
	"relay-client/core/observe"
	"relay-client/internal/debuglog"
)

// DryRunController tracks the tunnel state without launching anything. It is used when no
// engine binary is installed and by tests.
type DryRunController struct {
	running *observe.Value[bool]

	mu          sync.Mutex
	cfg         *Config
	delay       time.Duration
	failStart   error
	transitions int
	inFlight    int
	maxInFlight int
}

func NewDryRunController() *DryRunController {
	return &DryRunController{running: observe.NewValue(false)}
}

// SetDelay makes each call take d, to widen race windows in tests.
func (c *DryRunController) SetDelay(d time.Duration) {
	c.mu.Lock()
	c.delay = d
	c.mu.Unlock()
}

// FailStart makes Start return err until cleared with nil.
func (c *DryRunController) FailStart(err error) {
	c.mu.Lock()
	c.failStart = err
	c.mu.Unlock()
}

func (c *DryRunController) enter(ctx context.Context) error {
	c.mu.Lock()
	c.inFlight++
	if c.inFlight > c.maxInFlight {
		c.maxInFlight = c.inFlight
	}
	delay := c.delay
	c.mu.Unlock()

	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return errs.Timeout("tunnel.dryRun", ctx.Err())
	}
}

func (c *DryRunController) leave() {
	c.mu.Lock()
	c.inFlight--
	c.mu.Unlock()
}

func (c *DryRunController) Configure(ctx context.Context, cfg Config) error {
	if err := c.enter(ctx); err != nil {
		return err
	}
	defer c.leave()

	c.mu.Lock()
	defer c.mu.Unlock()
	cp := cfg
	c.cfg = &cp
	return nil
}

func (c *DryRunController) Start(ctx context.Context) error {
	if err := c.enter(ctx); err != nil {
		return err
	}
	defer c.leave()

	c.mu.Lock()
	if c.failStart != nil {
		err := c.failStart
		c.mu.Unlock()
		return errs.Engine("tunnel.Start", err)
	}
	if c.cfg == nil {
		c.mu.Unlock()
		return errs.InvalidState("tunnel.Start", ErrNotConfigured)
	}
	if !c.running.Get() {
		c.transitions++
	}
	c.mu.Unlock()

	if c.running.Set(true) {
		debuglog.InfoLog("dryRunTunnel: started (instance %s)", c.Config().InstanceID)
	}
	return nil
}

func (c *DryRunController) Stop(ctx context.Context) error {
	if err := c.enter(ctx); err != nil {
		return err
	}
	defer c.leave()

	c.mu.Lock()
	if c.running.Get() {
		c.transitions++
	}
	c.mu.Unlock()

	if c.running.Set(false) {
		debuglog.InfoLog("dryRunTunnel: stopped")
	}
	return nil
}

// Crash marks the tunnel stopped as if the engine exited on its own.
func (c *DryRunController) Crash() {
	if c.running.Set(false) {
		debuglog.WarnLog("dryRunTunnel: engine exited")
	}
}

func (c *DryRunController) Running() bool {
	return c.running.Get()
}

func (c *DryRunController) SubscribeRunning(fn func(bool)) observe.Subscription {
	return c.running.Subscribe(fn)
}

// Config returns the last configuration, or the zero Config.
func (c *DryRunController) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg == nil {
		return Config{}
	}
	return *c.cfg
}

// Transitions counts real start and stop state changes.
func (c *DryRunController) Transitions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transitions
}

// MaxConcurrentCalls reports the highest number of calls observed in flight at once.
func (c *DryRunController) MaxConcurrentCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxInFlight
}
