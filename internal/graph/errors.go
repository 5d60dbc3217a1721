package graph

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnauthorised = errors.New("graph: unauthorised")
	ErrForbidden    = errors.New("graph: forbidden")
	ErrNotFound     = errors.New("graph: not found")
	ErrRateLimited  = errors.New("graph: rate limited")
	ErrBadRequest   = errors.New("graph: bad request")
	ErrServerError  = errors.New("graph: server error")

	// ErrEmptyQuery is returned by SearchDrive for a blank query.
	ErrEmptyQuery = errors.New("graph: empty search query")

	// ErrForeignLink is returned for a paging link outside the Graph endpoint.
	ErrForeignLink = errors.New("graph: link outside the graph endpoint")
)

// StatusError is a non-2xx Graph response. It unwraps to the sentinel
// matching its status code, if any.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("graph: status %d: %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("graph: status %d", e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	return sentinelFor(e.StatusCode)
}

func sentinelFor(statusCode int) error {
	switch statusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorised
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusBadRequest:
		return ErrBadRequest
	default:
		if statusCode >= 500 {
			return ErrServerError
		}
		return nil
	}
}
