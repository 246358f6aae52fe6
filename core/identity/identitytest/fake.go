// Package identitytest provides an in-memory identity API for tests.
package identitytest

import (
	"context"
	"errors"
	"sync"

	"relay-client/api"
	"relay-client/core/errs"
)

// FakeAPI records calls and returns configurable results.
type FakeAPI struct {
	mu sync.Mutex

	ByJwtSet     string
	ClientJwt    string
	SessionJwt   string
	AuthErr      error
	ExchangeErr  error
	LogoutErr    error
	DeleteErr    error
	DeleteBlock  chan struct{}
	Calls        []string
	LastAuthArgs api.AuthNetworkClientArgs
	// AfterAuth runs once a successful AuthNetworkClient has produced its result.
	AfterAuth func()
}

func New() *FakeAPI {
	return &FakeAPI{ClientJwt: "client-jwt", SessionJwt: "session-jwt"}
}

func (f *FakeAPI) record(call string) {
	f.Calls = append(f.Calls, call)
}

// CallLog returns the calls made so far, in order.
func (f *FakeAPI) CallLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Calls...)
}

// Set mutates the fake under its lock.
func (f *FakeAPI) Set(fn func(f *FakeAPI)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *FakeAPI) SetByJwt(byJwt string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ByJwtSet = byJwt
}

func (f *FakeAPI) CurrentByJwt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ByJwtSet
}

func (f *FakeAPI) AuthNetworkClient(_ context.Context, args api.AuthNetworkClientArgs) (*api.AuthNetworkClientResult, error) {
	f.mu.Lock()
	f.record("AuthNetworkClient")
	f.LastAuthArgs = args
	authErr, clientJwt, after := f.AuthErr, f.ClientJwt, f.AfterAuth
	f.mu.Unlock()

	if authErr != nil {
		return nil, errs.Transport("AuthNetworkClient", authErr)
	}
	if after != nil {
		after()
	}
	return &api.AuthNetworkClientResult{ByClientJwt: clientJwt}, nil
}

func (f *FakeAPI) ExchangeClientJwt(_ context.Context, clientJwt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ExchangeClientJwt")
	if f.ExchangeErr != nil {
		return "", errs.Transport("ExchangeClientJwt", f.ExchangeErr)
	}
	if clientJwt == "" {
		return "", errs.Transport("ExchangeClientJwt", errors.New("empty client jwt"))
	}
	return f.SessionJwt, nil
}

func (f *FakeAPI) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Logout")
	if f.LogoutErr != nil {
		return errs.Transport("Logout", f.LogoutErr)
	}
	return nil
}

func (f *FakeAPI) NetworkDelete(ctx context.Context) error {
	f.mu.Lock()
	f.record("NetworkDelete")
	block := f.DeleteBlock
	err := f.DeleteErr
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return errs.Timeout("NetworkDelete", ctx.Err())
		}
	}
	if err != nil {
		return errs.Transport("NetworkDelete", err)
	}
	return nil
}
