package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/florianilch/graphauth/internal/proxy"
)

// App orchestrates the lifecycle of the local Graph proxy and the services
// keeping the sign-in state current.
type App struct {
	cfg      *Config
	identity *Identity
	proxy    *proxy.Proxy
}

// New creates a new App instance.
func New(ctx context.Context, cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	identity, err := NewIdentity(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return newApp(ctx, cfg, identity)
}

func newApp(ctx context.Context, cfg *Config, identity *Identity) (*App, error) {
	upstream, err := url.Parse(cfg.Graph.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid graph base URL: %w", err)
	}
	upstream.Path = ""

	proxyServer, err := proxy.New(identity.proxyTokenSource(ctx), identity,
		proxy.WithUpstream(upstream.String()),
		proxy.WithLogger(slog.Default()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create proxy: %w", err)
	}

	return &App{
		cfg:      cfg,
		identity: identity,
		proxy:    proxyServer,
	}, nil
}

// Identity returns the sign-in stack the app runs on.
func (a *App) Identity() *Identity {
	return a.identity
}

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	address := a.cfg.Server.Host + ":" + strconv.FormatUint(uint64(a.cfg.Server.Port), 10)
	var shutdownFuncs []func(context.Context) error

	// Startup phase: Start services
	watcher, err := a.identity.Cache.NewWatcher()
	if err != nil {
		return fmt.Errorf("token cache watcher startup failed: %w", err)
	}
	g.Go(func() error {
		return watcher.Run(gCtx, a.identity.HandleCacheChange)
	})

	// Notifications reach the session view on this goroutine only
	g.Go(func() error {
		return a.identity.Queue.Run(gCtx, a.cfg.Dispatch.Interval)
	})

	slog.InfoContext(gCtx, "starting proxy server", "address", address)
	proxyErrCh, err := a.proxy.Start(gCtx, address)
	if err != nil {
		return errors.Join(fmt.Errorf("proxy startup failed: %w", err), a.stopEarly(g))
	}
	shutdownFuncs = append(shutdownFuncs, a.proxy.Shutdown)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-proxyErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "proxy runtime error", "error", err)
				return fmt.Errorf("proxy: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if account, ok := a.identity.Engine.PrimaryAccount(gCtx); ok {
		slog.InfoContext(gCtx, "cached account found", "username", account.Username)
	} else {
		slog.InfoContext(gCtx, "no cached account, sign in via POST /_auth/signin", "address", address)
	}

	slog.InfoContext(gCtx, "application ready", "address", address, "cache", a.identity.Cache.Path())

	runtimeErr := g.Wait()

	slog.InfoContext(ctx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}

// stopEarly unwinds the background services when startup fails halfway.
func (a *App) stopEarly(g *errgroup.Group) error {
	g.Go(func() error { return errStartupAborted })
	if err := g.Wait(); !errors.Is(err, errStartupAborted) {
		return err
	}
	return nil
}

var errStartupAborted = errors.New("startup aborted")
