// Package observe provides observable values and explicit subscription handles.
//
// A Subscription must be closed by whoever created it. Components that hold several
// subscriptions keep them in a Registry and close the whole registry on teardown.
package observe

import (
	"context"
	"sync"
	"time"

	"relay-client/core/errs"
)

// Subscription is a cancellable listener registration. Close is idempotent.
type Subscription interface {
	Close()
}

type onceSub struct {
	once sync.Once
	fn   func()
}

func (s *onceSub) Close() {
	s.once.Do(s.fn)
}

// SubFunc wraps a cancel function as a Subscription that runs it at most once.
func SubFunc(fn func()) Subscription {
	return &onceSub{fn: fn}
}

// Registry owns a set of subscriptions created against one source.
type Registry struct {
	mu   sync.Mutex
	subs []Subscription
}

// Add takes ownership of sub.
func (r *Registry) Add(sub Subscription) {
	if sub == nil {
		return
	}
	r.mu.Lock()
	r.subs = append(r.subs, sub)
	r.mu.Unlock()
}

// CloseAll cancels every owned subscription and empties the registry.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
}

// Len reports how many subscriptions are currently owned.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Value is a concurrency-safe observable value. Listeners run on the goroutine that
// changed the value, after the lock is released, and only when the value actually changed.
type Value[T comparable] struct {
	mu        sync.Mutex
	val       T
	nextID    uint64
	listeners map[uint64]func(T)
}

// NewValue returns a Value holding initial.
func NewValue[T comparable](initial T) *Value[T] {
	return &Value[T]{val: initial, listeners: make(map[uint64]func(T))}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.val
}

// Set stores val and notifies listeners. Setting the current value is a no-op.
// It reports whether the value changed.
func (v *Value[T]) Set(val T) bool {
	v.mu.Lock()
	if v.val == val {
		v.mu.Unlock()
		return false
	}
	v.val = val
	fns := make([]func(T), 0, len(v.listeners))
	for _, fn := range v.listeners {
		fns = append(fns, fn)
	}
	v.mu.Unlock()

	for _, fn := range fns {
		fn(val)
	}
	return true
}

// Subscribe registers fn for future changes. It does not replay the current value.
func (v *Value[T]) Subscribe(fn func(T)) Subscription {
	v.mu.Lock()
	if v.listeners == nil {
		v.listeners = make(map[uint64]func(T))
	}
	id := v.nextID
	v.nextID++
	v.listeners[id] = fn
	v.mu.Unlock()

	return SubFunc(func() {
		v.mu.Lock()
		delete(v.listeners, id)
		v.mu.Unlock()
	})
}

// Listeners reports the number of live subscriptions.
func (v *Value[T]) Listeners() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.listeners)
}

// WaitFor blocks until pred holds for the value, the timeout expires or ctx is done.
// It returns immediately when pred already holds. The subscription it creates is
// always closed before returning.
func (v *Value[T]) WaitFor(ctx context.Context, timeout time.Duration, pred func(T) bool) (T, error) {
	matched := make(chan T, 1)
	sub := v.Subscribe(func(val T) {
		if pred(val) {
			select {
			case matched <- val:
			default:
			}
		}
	})
	defer sub.Close()

	if cur := v.Get(); pred(cur) {
		return cur, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case val := <-matched:
		return val, nil
	case <-timer.C:
		var zero T
		return zero, errs.Timeout("WaitFor", nil)
	case <-ctx.Done():
		var zero T
		return zero, errs.Timeout("WaitFor", ctx.Err())
	}
}
