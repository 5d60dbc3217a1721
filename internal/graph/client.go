package graph

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

// DefaultBaseURL is the Graph v1.0 endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 16 << 20

// DefaultRequestTimeout bounds one Graph exchange once a token is in hand.
const DefaultRequestTimeout = 60 * time.Second

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the Graph endpoint, e.g. the beta API or a test server.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithTransport sets the transport beneath the auth and request-id layers.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.base = rt
	}
}

// WithRequestTimeout bounds each upstream exchange. Token acquisition, which
// may wait for a user to sign in, is not part of it. Zero disables the bound.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithRateLimit sets the client-side request rate.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		c.limiter = NewRateLimiter(rps, burst)
	}
}

// WithLogger sets the logger for throttling and paging diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// Client calls Graph on behalf of the signed-in user.
type Client struct {
	baseURL string
	base    http.RoundTripper
	timeout time.Duration
	limiter *RateLimiter
	logger  *slog.Logger

	http *http.Client
}

// New creates a Client authorising requests with tokens from ts.
func New(ts oauth2.TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		base:    http.DefaultTransport,
		timeout: DefaultRequestTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.limiter == nil {
		c.limiter = NewRateLimiter(DefaultRequestsPerSecond, DefaultBurst)
	}

	c.http = &http.Client{
		Transport: &oauth2.Transport{
			Source: ts,
			Base: &requestIDTransport{
				base: &deadlineTransport{base: c.base, timeout: c.timeout},
			},
		},
	}
	return c
}

// BaseURL returns the Graph endpoint requests are sent to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// get fetches url (absolute, or relative to the base URL) and returns the
// body of a 200 response. Absolute URLs must point at the base URL's origin.
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	if !strings.HasPrefix(url, "https://") && !strings.HasPrefix(url, "http://") {
		url = c.baseURL + url
	} else if err := c.sameOrigin(url); err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		c.limiter.Backoff(time.Duration(retryAfter) * time.Second)
		c.logger.WarnContext(ctx, "graph throttled request", "retry_after_seconds", retryAfter)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Code:       gjson.GetBytes(body, "error.code").String(),
			Message:    gjson.GetBytes(body, "error.message").String(),
		}
	}
	return body, nil
}

// sameOrigin rejects links that would carry the bearer token elsewhere.
func (c *Client) sameOrigin(rawURL string) error {
	target, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrForeignLink, err)
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("parsing base URL: %w", err)
	}
	if !strings.EqualFold(target.Scheme, base.Scheme) || !strings.EqualFold(target.Host, base.Host) {
		return fmt.Errorf("%w: %s://%s", ErrForeignLink, target.Scheme, target.Host)
	}
	return nil
}

// topLevel returns a top-level member of a JSON object by exact key. OData
// annotation keys contain '@' and '.', which gjson paths treat specially.
func topLevel(body []byte, key string) gjson.Result {
	var found gjson.Result
	gjson.ParseBytes(body).ForEach(func(k, v gjson.Result) bool {
		if k.String() == key {
			found = v
			return false
		}
		return true
	})
	return found
}
