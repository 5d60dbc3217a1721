package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

var errNetwork = errors.New("network unreachable")

// fakeIdentity is an in-memory identity store with scriptable acquisitions.
type fakeIdentity struct {
	mu       sync.Mutex
	accounts []Account
	calls    map[string]int

	silent      func(ctx context.Context, account Account) (Result, error)
	interactive func(ctx context.Context) (Result, error)
	deviceCode  func(ctx context.Context) (DeviceCodeFlow, error)
	removeErr   error
	accountsErr error
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{calls: make(map[string]int)}
}

func (f *fakeIdentity) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeIdentity) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
}

// remember mimics the identity library caching the signed-in account.
func (f *fakeIdentity) remember(res Result, err error) (Result, error) {
	if err == nil {
		f.mu.Lock()
		f.accounts = []Account{res.Account}
		f.mu.Unlock()
	}
	return res, err
}

func (f *fakeIdentity) Accounts(context.Context) ([]Account, error) {
	f.record("accounts")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.accountsErr != nil {
		return nil, f.accountsErr
	}
	return append([]Account(nil), f.accounts...), nil
}

func (f *fakeIdentity) AcquireTokenSilent(ctx context.Context, _ []string, account Account) (Result, error) {
	f.record("silent")
	if f.silent == nil {
		return Result{}, errors.New("no refresh token")
	}
	return f.silent(ctx, account)
}

func (f *fakeIdentity) AcquireTokenInteractive(ctx context.Context, _ []string) (Result, error) {
	f.record("interactive")
	if f.interactive == nil {
		return Result{}, ErrInteractiveUnsupported
	}
	return f.remember(f.interactive(ctx))
}

func (f *fakeIdentity) AcquireTokenByDeviceCode(ctx context.Context, _ []string) (DeviceCodeFlow, error) {
	f.record("device_code")
	if f.deviceCode == nil {
		return nil, errNetwork
	}
	flow, err := f.deviceCode(ctx)
	if err != nil {
		return nil, err
	}
	return rememberingFlow{DeviceCodeFlow: flow, identity: f}, nil
}

func (f *fakeIdentity) RemoveAccount(_ context.Context, account Account) error {
	f.record("remove")
	if f.removeErr != nil {
		return f.removeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.accounts[:0]
	for _, a := range f.accounts {
		if a.HomeAccountID != account.HomeAccountID {
			kept = append(kept, a)
		}
	}
	f.accounts = kept
	return nil
}

type rememberingFlow struct {
	DeviceCodeFlow
	identity *fakeIdentity
}

func (r rememberingFlow) Wait(ctx context.Context) (Result, error) {
	return r.identity.remember(r.DeviceCodeFlow.Wait(ctx))
}

type fakeFlow struct {
	prompt DeviceCodePrompt
	wait   func(ctx context.Context) (Result, error)
}

func (f fakeFlow) Prompt() DeviceCodePrompt { return f.prompt }

func (f fakeFlow) Wait(ctx context.Context) (Result, error) { return f.wait(ctx) }

// recorder collects notifications in emission order.
type recorder struct {
	mu     sync.Mutex
	events []string
	states []State
}

func (r *recorder) OnAuthenticationChanged(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s.String())
	r.states = append(r.states, s)
}

func (r *recorder) OnPresentDeviceCode(p DeviceCodePrompt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "DeviceCode:"+p.UserCode)
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) Count(s State) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, got := range r.states {
		if got == s {
			n++
		}
	}
	return n
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func alice() Account {
	return Account{HomeAccountID: "uid.utid", Username: "alice@contoso.com"}
}

func freshResult() Result {
	return Result{AccessToken: "access-token", ExpiresOn: testNow.Add(time.Hour), Account: alice()}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
