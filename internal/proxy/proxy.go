package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// DefaultUpstream is the Graph host; the API version comes from the request path.
const DefaultUpstream = "https://graph.microsoft.com"

// ErrTokenUnavailable marks a request that could not be authorised.
var ErrTokenUnavailable = errors.New("proxy: access token unavailable")

// Option configures a Proxy.
type Option func(*Proxy)

// WithUpstream sets the Graph host requests are forwarded to. Any path on
// the URL is ignored.
func WithUpstream(rawURL string) Option {
	return func(p *Proxy) {
		p.upstreamURL = rawURL
	}
}

// WithTransport sets the transport used for upstream requests.
func WithTransport(rt http.RoundTripper) Option {
	return func(p *Proxy) {
		p.base = rt
	}
}

// WithLogger sets the request and sign-in logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Proxy) {
		p.logger = logger
	}
}

// Proxy is a local Graph endpoint that attaches the signed-in user's token
// to every forwarded request.
type Proxy struct {
	upstreamURL string
	base        http.RoundTripper
	logger      *slog.Logger
	auth        Authenticator

	mux    *http.ServeMux
	server *http.Server

	addrMu sync.Mutex
	addr   string

	// parent of background sign-ins; replaced by the Start context
	background context.Context
}

// Compile-time check that Proxy implements http.Handler
var _ http.Handler = (*Proxy)(nil)

// New creates a proxy authorising upstream requests with tokens from ts.
func New(ts oauth2.TokenSource, authenticator Authenticator, opts ...Option) (*Proxy, error) {
	if ts == nil {
		return nil, errors.New("missing token source")
	}
	if authenticator == nil {
		return nil, errors.New("missing authenticator")
	}

	p := &Proxy{
		upstreamURL: DefaultUpstream,
		base:        http.DefaultTransport,
		logger:      slog.Default(),
		auth:        authenticator,
		background:  context.Background(),
	}
	for _, opt := range opts {
		opt(p)
	}

	upstream, err := url.Parse(p.upstreamURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}
	if upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("invalid upstream URL %q: scheme and host required", p.upstreamURL)
	}
	upstream.Path, upstream.RawPath = "", ""

	reverseProxyHandler := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			// Caller credentials never reach Graph; the transport sets its own
			pr.Out.Header.Del("Authorization")
			pr.Out.Header.Del("Cookie")
		},
		Transport: &oauth2.Transport{
			Source: tokenSource{ts},
			Base:   p.base,
		},
		ErrorHandler: p.upstreamError,
	}

	common := []func(http.Handler) http.Handler{
		Logging(p.logger),
		Recovery,
	}

	mux := http.NewServeMux()
	mux.Handle("/v1.0/", applyMiddlewares(reverseProxyHandler, common...))
	mux.Handle("/beta/", applyMiddlewares(reverseProxyHandler, common...))
	mux.Handle("GET /_auth/status", applyMiddlewares(http.HandlerFunc(p.handleStatus), common...))
	mux.Handle("POST /_auth/signin", applyMiddlewares(http.HandlerFunc(p.handleSignIn), common...))
	mux.Handle("POST /_auth/signout", applyMiddlewares(http.HandlerFunc(p.handleSignOut), common...))
	p.mux = mux

	return p, nil
}

// ServeHTTP implements http.Handler interface
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mux.ServeHTTP(w, r)
}

func (p *Proxy) upstreamError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, ErrTokenUnavailable):
		p.logger.WarnContext(ctx, "request not authorised", "error", err)
		writeJSONError(ctx, w, "not signed in: POST /_auth/signin to connect", http.StatusUnauthorized)
	case errors.Is(err, context.Canceled):
		// client went away; nobody is left to read a response
	default:
		p.logger.ErrorContext(ctx, "upstream request failed", "error", err)
		writeJSONError(ctx, w, "upstream request failed", http.StatusBadGateway)
	}
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors are sent to the error channel. The caller is responsible for
// calling Shutdown().
func (p *Proxy) Start(ctx context.Context, address string) (<-chan error, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	p.background = ctx
	p.addrMu.Lock()
	p.addr = listener.Addr().String()
	p.addrMu.Unlock()
	p.server = &http.Server{
		Handler:      p,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // large drive downloads pass through
		IdleTimeout:  90 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := p.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Addr returns the listening address once started.
func (p *Proxy) Addr() string {
	p.addrMu.Lock()
	defer p.addrMu.Unlock()
	return p.addr
}

// Shutdown performs graceful shutdown of the HTTP server.
// Returns error if shutdown fails or times out.
func (p *Proxy) Shutdown(ctx context.Context) error {
	if p.server == nil {
		return nil
	}

	if err := p.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = p.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}

// tokenSource tags acquisition failures so they can be told apart from
// upstream network errors.
type tokenSource struct {
	ts oauth2.TokenSource
}

func (s tokenSource) Token() (*oauth2.Token, error) {
	token, err := s.ts.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenUnavailable, err)
	}
	return token, nil
}
