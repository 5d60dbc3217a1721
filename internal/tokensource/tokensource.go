package tokensource

import (
	"context"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/florianilch/graphauth/internal/auth"
)

// Acquirer returns a valid token for the signed-in user.
type Acquirer interface {
	AcquireTokenForCurrentUser(ctx context.Context) (auth.TokenRecord, error)
}

// AcquirerFunc adapts a function to Acquirer.
type AcquirerFunc func(ctx context.Context) (auth.TokenRecord, error)

func (f AcquirerFunc) AcquireTokenForCurrentUser(ctx context.Context) (auth.TokenRecord, error) {
	return f(ctx)
}

// Option configures a TokenSource.
type Option func(*TokenSource)

// WithContext sets the parent context of every acquisition. oauth2.TokenSource
// has no context parameter, so this is the only way to cancel a pending sign-in.
func WithContext(ctx context.Context) Option {
	return func(ts *TokenSource) {
		ts.ctx = ctx
	}
}

// WithTimeout bounds each acquisition. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(ts *TokenSource) {
		ts.timeout = d
	}
}

// TokenSource hands out the engine's access token as an oauth2 Bearer token.
type TokenSource struct {
	acquirer Acquirer
	ctx      context.Context
	timeout  time.Duration

	mu    sync.Mutex
	reuse oauth2.TokenSource
}

// Compile-time checks
var (
	_ oauth2.TokenSource = (*TokenSource)(nil)
	_ auth.Observer      = (*TokenSource)(nil)
)

// New creates a TokenSource backed by acquirer.
func New(acquirer Acquirer, opts ...Option) *TokenSource {
	ts := &TokenSource{
		acquirer: acquirer,
		ctx:      context.Background(),
	}
	for _, opt := range opts {
		opt(ts)
	}
	ts.Reset()
	return ts
}

// Token returns the reused token while it is valid beyond the connection
// margin, acquiring a fresh one otherwise.
func (ts *TokenSource) Token() (*oauth2.Token, error) {
	ts.mu.Lock()
	reuse := ts.reuse
	ts.mu.Unlock()

	return reuse.Token()
}

// Reset forgets the reused token.
func (ts *TokenSource) Reset() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.reuse = oauth2.ReuseTokenSourceWithExpiry(nil, acquiringSource{ts}, auth.ConnectionMargin)
}

// OnAuthenticationChanged resets the reused token on sign-out.
func (ts *TokenSource) OnAuthenticationChanged(state auth.State) {
	if state == auth.StateSignOut {
		ts.Reset()
	}
}

func (ts *TokenSource) OnPresentDeviceCode(auth.DeviceCodePrompt) {}

type acquiringSource struct {
	ts *TokenSource
}

func (s acquiringSource) Token() (*oauth2.Token, error) {
	ctx := s.ts.ctx
	if s.ts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.ts.timeout)
		defer cancel()
	}

	record, err := s.ts.acquirer.AcquireTokenForCurrentUser(ctx)
	if err != nil {
		return nil, err
	}

	return &oauth2.Token{
		AccessToken: record.AccessToken,
		TokenType:   "Bearer",
		Expiry:      record.ExpiresOn,
	}, nil
}
