package graph

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const requestIDHeader = "client-request-id"

// requestIDTransport stamps every request with a fresh client-request-id.
type requestIDTransport struct {
	base http.RoundTripper
}

// Compile-time check that requestIDTransport implements http.RoundTripper.
var _ http.RoundTripper = (*requestIDTransport)(nil)

func (t *requestIDTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request
	clone := req.Clone(req.Context())
	clone.Header.Set(requestIDHeader, uuid.NewString())
	return t.base.RoundTrip(clone)
}

// deadlineTransport bounds a single upstream exchange. It sits beneath the
// auth layer so the time spent obtaining a token is not counted.
type deadlineTransport struct {
	base    http.RoundTripper
	timeout time.Duration
}

// Compile-time check that deadlineTransport implements http.RoundTripper.
var _ http.RoundTripper = (*deadlineTransport)(nil)

func (t *deadlineTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.timeout <= 0 {
		return t.base.RoundTrip(req)
	}

	ctx, cancel := context.WithTimeout(req.Context(), t.timeout)
	resp, err := t.base.RoundTrip(req.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, err
	}
	// the deadline also covers reading the body
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	defer b.cancel()
	return b.ReadCloser.Close()
}
