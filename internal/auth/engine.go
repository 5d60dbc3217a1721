package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger for transitions and recovered failures.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithClock overrides the time source used for token validity.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Engine owns the sign-in state machine and the current access token.
// All methods are safe for concurrent use.
type Engine struct {
	client IdentityClient
	scopes []string
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	token TokenRecord

	observersMu sync.RWMutex
	observers   []subscription
	nextID      int

	// collapses concurrent interactive attempts into one
	signIn singleflight.Group
}

type subscription struct {
	id       int
	observer Observer
}

// New creates an Engine requesting scopes through client.
func New(client IdentityClient, scopes []string, opts ...Option) (*Engine, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: missing identity client", ErrConfiguration)
	}

	cleaned := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("%w: at least one scope is required", ErrConfiguration)
	}

	e := &Engine{
		client: client,
		scopes: cleaned,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Scopes returns the permission scopes requested on every acquisition.
func (e *Engine) Scopes() []string {
	return append([]string(nil), e.scopes...)
}

// Subscribe registers o for all future notifications. The returned function
// removes the subscription and may be called more than once.
func (e *Engine) Subscribe(o Observer) (unsubscribe func()) {
	e.observersMu.Lock()
	defer e.observersMu.Unlock()

	e.nextID++
	id := e.nextID
	e.observers = append(e.observers, subscription{id: id, observer: o})

	var once sync.Once
	return func() {
		once.Do(func() {
			e.observersMu.Lock()
			defer e.observersMu.Unlock()
			for i, s := range e.observers {
				if s.id == id {
					e.observers = append(e.observers[:i:i], e.observers[i+1:]...)
					return
				}
			}
		})
	}
}

// Accounts lists every account known to the identity store. The first one is
// the primary account.
func (e *Engine) Accounts(ctx context.Context) ([]Account, error) {
	return e.client.Accounts(ctx)
}

// PrimaryAccount returns the first account known to the identity store.
func (e *Engine) PrimaryAccount(ctx context.Context) (Account, bool) {
	accounts, err := e.client.Accounts(ctx)
	if err != nil {
		e.logger.WarnContext(ctx, "listing accounts failed", "error", err)
		return Account{}, false
	}
	if len(accounts) == 0 {
		return Account{}, false
	}
	if len(accounts) > 1 {
		e.logger.DebugContext(ctx, "several accounts cached, using the first", "count", len(accounts))
	}
	return accounts[0], true
}

// NeedsSignIn reports whether no account is known and no valid token is held.
func (e *Engine) NeedsSignIn(ctx context.Context) bool {
	if _, ok := e.PrimaryAccount(ctx); ok {
		return false
	}
	return !e.IsConnected()
}

// IsConnected reports whether the held token is valid beyond ConnectionMargin.
func (e *Engine) IsConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.token.Valid(e.now())
}

// Token returns the held token, which may be empty or expired.
func (e *Engine) Token() TokenRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.token
}

// Invalidate drops the held token without notifying observers. The next
// acquisition goes back to the identity store.
func (e *Engine) Invalidate() {
	e.setToken(TokenRecord{})
}

// AcquireTokenSilently refreshes the token for account without user
// interaction. On failure the held token is cleared and the error wraps
// ErrSilentRefreshUnavailable; no retry happens here.
func (e *Engine) AcquireTokenSilently(ctx context.Context, account Account) (TokenRecord, error) {
	res, err := e.client.AcquireTokenSilent(ctx, e.scopes, account)
	if err != nil {
		e.setToken(TokenRecord{})
		return TokenRecord{}, fmt.Errorf("%w: %w", ErrSilentRefreshUnavailable, err)
	}

	record := e.setResult(res)
	e.emit(ctx, StateCompleted)
	return record, nil
}

// ForceInteractiveSignIn signs the user in through the system browser, falling
// back to device code when the browser flow is unavailable. Failures are
// reported as StateFailed and returned wrapped in ErrAuthenticationFailed.
// Concurrent calls share one attempt.
func (e *Engine) ForceInteractiveSignIn(ctx context.Context) error {
	ch := e.signIn.DoChan("sign-in", func() (any, error) {
		return nil, e.signInInteractive(ctx)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AcquireTokenForCurrentUser returns a valid token, trying silent refresh for
// the primary account first and interactive sign-in after that. It never
// panics; every failure ends in ErrNotConnected.
func (e *Engine) AcquireTokenForCurrentUser(ctx context.Context) (record TokenRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "token acquisition panicked", "panic", r)
			e.setToken(TokenRecord{})
			e.emit(ctx, StateFailed)
			record, err = TokenRecord{}, fmt.Errorf("%w: %v", ErrNotConnected, r)
		}
	}()

	if account, ok := e.PrimaryAccount(ctx); ok {
		silent, silentErr := e.AcquireTokenSilently(ctx, account)
		if silentErr == nil {
			return silent, nil
		}
		e.logger.DebugContext(ctx, "silent token acquisition failed", "error", silentErr)
	}

	if !e.IsConnected() {
		if err := e.ForceInteractiveSignIn(ctx); err != nil {
			return TokenRecord{}, fmt.Errorf("%w: %w", ErrNotConnected, err)
		}
	}

	record = e.Token()
	if !record.Valid(e.now()) {
		return TokenRecord{}, ErrNotConnected
	}
	return record, nil
}

// SignOut removes every known account from the identity store, clears the held
// token and emits StateSignOut. Removal errors are joined and returned after
// the state has been reset.
func (e *Engine) SignOut(ctx context.Context) error {
	var errs []error

	accounts, err := e.client.Accounts(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("listing accounts: %w", err))
	}
	for _, account := range accounts {
		if err := e.client.RemoveAccount(ctx, account); err != nil {
			errs = append(errs, fmt.Errorf("removing account %s: %w", account.Username, err))
		}
	}

	e.setToken(TokenRecord{})
	e.emit(ctx, StateSignOut)
	e.logger.InfoContext(ctx, "signed out", "accounts", len(accounts))

	return errors.Join(errs...)
}

func (e *Engine) signInInteractive(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during sign-in: %v", r)
		}
		if err != nil {
			e.setToken(TokenRecord{})
			e.emit(ctx, StateFailed)
			e.logger.WarnContext(ctx, "sign-in failed", "error", err)
			err = fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
		}
	}()

	e.emit(ctx, StateStartedInteractive)

	res, err := e.client.AcquireTokenInteractive(ctx, e.scopes)
	if errors.Is(err, ErrInteractiveUnsupported) || errors.Is(err, ErrUserActionRequired) {
		e.logger.InfoContext(ctx, "interactive sign-in unavailable, falling back to device code", "reason", err)
		res, err = e.signInWithDeviceCode(ctx)
	}
	if err != nil {
		return err
	}

	e.setResult(res)
	e.emit(ctx, StateCompleted)
	e.logger.InfoContext(ctx, "signed in", "username", res.Account.Username)
	return nil
}

func (e *Engine) signInWithDeviceCode(ctx context.Context) (Result, error) {
	flow, err := e.client.AcquireTokenByDeviceCode(ctx, e.scopes)
	if err != nil {
		return Result{}, fmt.Errorf("starting device code flow: %w", err)
	}

	prompt := flow.Prompt()
	e.emit(ctx, StateFallbackToDeviceCode)
	e.presentDeviceCode(ctx, prompt)

	waitCtx := ctx
	if !prompt.ExpiresOn.IsZero() {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithDeadline(ctx, prompt.ExpiresOn)
		defer cancel()
	}

	res, err := flow.Wait(waitCtx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("%w: %w", ErrDeviceCodeExpired, err)
		}
		return Result{}, fmt.Errorf("device code sign-in: %w", err)
	}
	return res, nil
}

func (e *Engine) setToken(record TokenRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.token = record
}

func (e *Engine) setResult(res Result) TokenRecord {
	record := TokenRecord{AccessToken: res.AccessToken, ExpiresOn: res.ExpiresOn}
	e.setToken(record)
	return record
}

func (e *Engine) snapshotObservers() []Observer {
	e.observersMu.RLock()
	defer e.observersMu.RUnlock()

	out := make([]Observer, len(e.observers))
	for i, s := range e.observers {
		out[i] = s.observer
	}
	return out
}

func (e *Engine) emit(ctx context.Context, state State) {
	e.logger.DebugContext(ctx, "authentication state changed", "state", state)
	for _, o := range e.snapshotObservers() {
		e.notify(ctx, func() { o.OnAuthenticationChanged(state) })
	}
}

func (e *Engine) presentDeviceCode(ctx context.Context, prompt DeviceCodePrompt) {
	for _, o := range e.snapshotObservers() {
		e.notify(ctx, func() { o.OnPresentDeviceCode(prompt) })
	}
}

// notify shields the state machine from observer panics.
func (e *Engine) notify(ctx context.Context, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "authentication observer panicked", "panic", r)
		}
	}()
	fn()
}
