package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/florianilch/graphauth/internal/auth"
	"github.com/florianilch/graphauth/internal/dispatch"
	"github.com/florianilch/graphauth/internal/graph"
	"github.com/florianilch/graphauth/internal/proxy"
	"github.com/florianilch/graphauth/internal/tokencache"
	"github.com/florianilch/graphauth/internal/tokensource"
)

// proxyAcquireTimeout bounds token acquisition for a single proxied request.
const proxyAcquireTimeout = 30 * time.Second

// Identity is the sign-in stack built from configuration: the protected
// token cache, the engine on top of it, and the consumers of its tokens.
type Identity struct {
	Engine      *auth.Engine
	Cache       *tokencache.Cache
	TokenSource *tokensource.TokenSource
	Queue       *dispatch.Queue
	Session     *SessionView

	logger *slog.Logger
}

// NewIdentity wires the sign-in stack. Opening a sealed cache reads or
// creates its key, so this may touch the keyring.
func NewIdentity(ctx context.Context, cfg *Config) (*Identity, error) {
	logger := slog.Default()

	protector, err := cfg.Cache.NewProtector(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache protector: %w", err)
	}

	cache, err := tokencache.New(cfg.Cache.Dir, protector, tokencache.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to open token cache: %w", err)
	}

	client, err := auth.NewMSALClient(auth.MSALConfig{
		ClientID:    cfg.Auth.ClientID,
		Authority:   cfg.Auth.Authority,
		RedirectURI: cfg.Auth.RedirectURI,
		Interactive: cfg.Auth.Interactive,
		Cache:       cache,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create identity client: %w", err)
	}

	engine, err := auth.New(client, cfg.Auth.Scopes, auth.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create sign-in engine: %w", err)
	}

	return newIdentity(ctx, engine, cache, logger), nil
}

func newIdentity(ctx context.Context, engine *auth.Engine, cache *tokencache.Cache, logger *slog.Logger) *Identity {
	id := &Identity{
		Engine:      engine,
		Cache:       cache,
		TokenSource: tokensource.New(engine, tokensource.WithContext(ctx)),
		Queue:       dispatch.NewQueue(),
		Session:     NewSessionView(),
		logger:      logger,
	}

	// Token reuse is thread-safe, drop it synchronously on sign-out
	engine.Subscribe(id.TokenSource)
	engine.Subscribe(auth.Deferred(id.Queue, id.Session))

	return id
}

// GraphClient creates a Graph client authorised by the engine.
func (id *Identity) GraphClient(cfg GraphConfig) *graph.Client {
	return graph.New(id.TokenSource,
		graph.WithBaseURL(cfg.BaseURL),
		graph.WithRateLimit(cfg.RequestsPerSecond, cfg.Burst),
		graph.WithLogger(id.logger),
	)
}

// HandleCacheChange drops in-memory tokens after another process changed or
// removed the cache file, so the next request reloads it.
func (id *Identity) HandleCacheChange(change tokencache.Change) {
	id.Engine.Invalidate()
	id.TokenSource.Reset()
	id.logger.Info("token cache changed on disk, dropped in-memory token", "change", change.Kind)
}

// proxyTokenSource only ever refreshes silently. A user who has not signed
// in, or whose refresh token was revoked, gets ErrNotConnected; proxy clients
// use /_auth/signin to prompt.
func (id *Identity) proxyTokenSource(ctx context.Context) *tokensource.TokenSource {
	ts := tokensource.New(tokensource.AcquirerFunc(func(ctx context.Context) (auth.TokenRecord, error) {
		account, ok := id.Engine.PrimaryAccount(ctx)
		if !ok {
			if record := id.Engine.Token(); record.Valid(time.Now()) {
				return record, nil
			}
			return auth.TokenRecord{}, auth.ErrNotConnected
		}

		record, err := id.Engine.AcquireTokenSilently(ctx, account)
		if err != nil {
			id.logger.InfoContext(ctx, "silent refresh failed, proxy needs a new sign-in", "error", err)
			return auth.TokenRecord{}, fmt.Errorf("%w: %w", auth.ErrNotConnected, err)
		}
		return record, nil
	}), tokensource.WithContext(ctx), tokensource.WithTimeout(proxyAcquireTimeout))
	id.Engine.Subscribe(ts)
	return ts
}

// Status implements proxy.Authenticator.
func (id *Identity) Status(ctx context.Context) proxy.Status {
	snapshot := id.Session.Snapshot()
	status := proxy.Status{
		Connected:  id.Engine.IsConnected(),
		State:      snapshot.State,
		DeviceCode: snapshot.DeviceCode,
	}
	if account, ok := id.Engine.PrimaryAccount(ctx); ok {
		status.Account = account.Username
	}
	return status
}

// ForceInteractiveSignIn implements proxy.Authenticator.
func (id *Identity) ForceInteractiveSignIn(ctx context.Context) error {
	return id.Engine.ForceInteractiveSignIn(ctx)
}

// SignOut implements proxy.Authenticator.
func (id *Identity) SignOut(ctx context.Context) error {
	return id.Engine.SignOut(ctx)
}

// Compile-time check to ensure Identity implements proxy.Authenticator
var _ proxy.Authenticator = (*Identity)(nil)
