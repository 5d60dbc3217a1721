package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/florianilch/graphauth/internal/auth"
)

type fakeAuthenticator struct {
	mu         sync.Mutex
	status     Status
	signIns    int
	signOutErr error
	signedIn   chan struct{}
}

func newFakeAuthenticator() *fakeAuthenticator {
	return &fakeAuthenticator{signedIn: make(chan struct{}, 1)}
}

func (f *fakeAuthenticator) ForceInteractiveSignIn(context.Context) error {
	f.mu.Lock()
	f.signIns++
	f.mu.Unlock()
	f.signedIn <- struct{}{}
	return nil
}

func (f *fakeAuthenticator) SignOut(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signOutErr != nil {
		return f.signOutErr
	}
	f.status = Status{State: auth.StateSignOut.String()}
	return nil
}

func (f *fakeAuthenticator) Status(context.Context) Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

type errSource struct{ err error }

func (s errSource) Token() (*oauth2.Token, error) { return nil, s.err }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func staticSource() oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "graph-token", TokenType: "Bearer"})
}

func newTestProxy(t *testing.T, ts oauth2.TokenSource, authenticator Authenticator, upstream string) *Proxy {
	t.Helper()
	p, err := New(ts, authenticator, WithUpstream(upstream), WithLogger(discardLogger()))
	require.NoError(t, err)
	return p
}

func TestProxy_ForwardsWithBearerToken(t *testing.T) {
	type seen struct {
		path, query, authorization, cookie string
	}
	got := make(chan seen, 1)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- seen{r.URL.Path, r.URL.RawQuery, r.Header.Get("Authorization"), r.Header.Get("Cookie")}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"displayName":"Alice"}`)
	}))
	defer upstream.Close()

	p := newTestProxy(t, staticSource(), newFakeAuthenticator(), upstream.URL+"/ignored")

	tests := []struct {
		path      string
		wantPath  string
		wantQuery string
	}{
		{path: "/v1.0/me?$select=displayName", wantPath: "/v1.0/me", wantQuery: "$select=displayName"},
		{path: "/beta/me/drive", wantPath: "/beta/me/drive"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Header.Set("Authorization", "Bearer client-supplied")
			req.Header.Set("Cookie", "session=1")
			rec := httptest.NewRecorder()

			p.ServeHTTP(rec, req)

			require.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, `{"displayName":"Alice"}`, rec.Body.String())

			s := <-got
			assert.Equal(t, tt.wantPath, s.path)
			assert.Equal(t, tt.wantQuery, s.query)
			assert.Equal(t, "Bearer graph-token", s.authorization)
			assert.Empty(t, s.cookie)
		})
	}
}

func TestProxy_UnknownPath(t *testing.T) {
	p := newTestProxy(t, staticSource(), newFakeAuthenticator(), DefaultUpstream)

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v2.0/me", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProxy_TokenFailureIsUnauthorized(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be called without a token")
	}))
	defer upstream.Close()

	p := newTestProxy(t, errSource{err: auth.ErrNotConnected}, newFakeAuthenticator(), upstream.URL)

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1.0/me", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Error, "not signed in")
}

func TestProxy_UpstreamUnreachable(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	addr := upstream.URL
	upstream.Close()

	p := newTestProxy(t, staticSource(), newFakeAuthenticator(), addr)

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1.0/me", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, newFakeAuthenticator())
	assert.Error(t, err)

	_, err = New(staticSource(), nil)
	assert.Error(t, err)

	_, err = New(staticSource(), newFakeAuthenticator(), WithUpstream("graph.microsoft.com"))
	assert.Error(t, err)
}

func TestAuthStatus(t *testing.T) {
	authenticator := newFakeAuthenticator()
	authenticator.status = Status{
		State: auth.StateFallbackToDeviceCode.String(),
		DeviceCode: &auth.DeviceCodePrompt{
			VerificationURL: "https://microsoft.com/devicelogin",
			UserCode:        "ABCD-1234",
			ExpiresOn:       time.Date(2026, 3, 1, 12, 15, 0, 0, time.UTC),
		},
	}
	p := newTestProxy(t, staticSource(), authenticator, DefaultUpstream)

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/_auth/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"connected": false,
		"state": "FallbackToDeviceCode",
		"device_code": {
			"verification_url": "https://microsoft.com/devicelogin",
			"user_code": "ABCD-1234",
			"expires_on": "2026-03-01T12:15:00Z"
		}
	}`, rec.Body.String())
}

func TestAuthSignIn_RunsInBackground(t *testing.T) {
	authenticator := newFakeAuthenticator()
	p := newTestProxy(t, staticSource(), authenticator, DefaultUpstream)

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/_auth/signin", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case <-authenticator.signedIn:
	case <-time.After(time.Second):
		t.Fatal("sign-in was not started")
	}
}

func TestAuthSignIn_MethodNotAllowed(t *testing.T) {
	p := newTestProxy(t, staticSource(), newFakeAuthenticator(), DefaultUpstream)

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/_auth/signin", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAuthSignOut(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "success", status: http.StatusNoContent},
		{name: "failure", err: errors.New("keychain locked"), status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authenticator := newFakeAuthenticator()
			authenticator.signOutErr = tt.err
			p := newTestProxy(t, staticSource(), authenticator, DefaultUpstream)

			rec := httptest.NewRecorder()
			p.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/_auth/signout", nil))
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json"))
}

func TestStartShutdown(t *testing.T) {
	p := newTestProxy(t, staticSource(), newFakeAuthenticator(), DefaultUpstream)

	errCh, err := p.Start(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	require.NotEmpty(t, p.Addr())

	resp, err := http.Get("http://" + p.Addr() + "/_auth/status")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))

	_, open := <-errCh
	assert.False(t, open)
}

func TestStart_AddressInUse(t *testing.T) {
	first := newTestProxy(t, staticSource(), newFakeAuthenticator(), DefaultUpstream)
	_, err := first.Start(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = first.Shutdown(context.Background()) }()

	second := newTestProxy(t, staticSource(), newFakeAuthenticator(), DefaultUpstream)
	_, err = second.Start(context.Background(), first.Addr())
	assert.Error(t, err)
}
