package proxy

import (
	"context"
	"net/http"
	"time"

	"github.com/florianilch/graphauth/internal/auth"
)

// signInTimeout bounds a background sign-in started over HTTP. Device codes
// expire sooner, so this only matters for a stuck browser flow.
const signInTimeout = 20 * time.Minute

// Status is the session document served at /_auth/status.
type Status struct {
	Connected  bool                   `json:"connected"`
	Account    string                 `json:"account,omitempty"`
	State      string                 `json:"state,omitempty"`
	DeviceCode *auth.DeviceCodePrompt `json:"device_code,omitempty"`
}

// Authenticator drives sign-in on behalf of proxy clients.
type Authenticator interface {
	ForceInteractiveSignIn(ctx context.Context) error
	SignOut(ctx context.Context) error
	Status(ctx context.Context) Status
}

func (p *Proxy) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, p.auth.Status(r.Context()), http.StatusOK)
}

// handleSignIn starts a sign-in and returns without waiting for the user.
// Progress, including the device code to enter, shows up in the status.
func (p *Proxy) handleSignIn(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(p.background, signInTimeout)
	go func() {
		defer cancel()
		if err := p.auth.ForceInteractiveSignIn(ctx); err != nil {
			p.logger.WarnContext(ctx, "background sign-in failed", "error", err)
		}
	}()

	writeJSON(r.Context(), w, p.auth.Status(r.Context()), http.StatusAccepted)
}

func (p *Proxy) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := p.auth.SignOut(r.Context()); err != nil {
		p.logger.ErrorContext(r.Context(), "sign-out failed", "error", err)
		writeJSONError(r.Context(), w, "sign-out failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
