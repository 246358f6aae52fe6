package debuglog

import (
	"context"
	"io"
	"time"
)

// RunAndLog executes fn and logs a label-prefixed error if it fails.
func RunAndLog(label string, fn func() error) {
	if err := fn(); err != nil {
		WarnLog("%s: %v", label, err)
	}
}

// CloseWithLog closes the provided io.Closer and logs an error with context if closing fails.
// Safe to call with a nil closer.
func CloseWithLog(name string, c io.Closer) {
	if c == nil {
		return
	}
	RunAndLog(name, c.Close)
}

// ShutdownWithLog runs a context-aware shutdown step bounded by timeout and logs its failure.
func ShutdownWithLog(name string, timeout time.Duration, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	RunAndLog(name, func() error { return fn(ctx) })
}
