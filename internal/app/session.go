package app

import (
	"sync"
	"time"

	"github.com/florianilch/graphauth/internal/auth"
)

// Session is a point-in-time view of sign-in progress.
type Session struct {
	State      string
	DeviceCode *auth.DeviceCodePrompt
	ChangedAt  time.Time
}

// SessionView tracks engine notifications for status reporting. It is meant
// to be subscribed through auth.Deferred so updates happen on the host's
// dispatch goroutine; reads are safe from any goroutine.
type SessionView struct {
	now func() time.Time

	mu      sync.RWMutex
	session Session
}

// Compile-time check to ensure SessionView implements auth.Observer
var _ auth.Observer = (*SessionView)(nil)

// NewSessionView creates an empty view.
func NewSessionView() *SessionView {
	return &SessionView{now: time.Now}
}

func (v *SessionView) OnAuthenticationChanged(state auth.State) {
	v.mu.Lock()
	defer v.mu.Unlock()

	// every silent refresh reports Completed again
	if state == auth.StateCompleted && v.session.State == state.String() {
		return
	}

	v.session.State = state.String()
	v.session.ChangedAt = v.now()
	switch state {
	case auth.StateCompleted, auth.StateFailed, auth.StateSignOut, auth.StateStartedInteractive:
		// a displayed code is only meaningful while its attempt is pending
		v.session.DeviceCode = nil
	}
}

func (v *SessionView) OnPresentDeviceCode(prompt auth.DeviceCodePrompt) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.session.DeviceCode = &prompt
	v.session.ChangedAt = v.now()
}

// Snapshot returns the current session. A device code past its expiry is
// omitted.
func (v *SessionView) Snapshot() Session {
	v.mu.RLock()
	defer v.mu.RUnlock()

	s := v.session
	if s.DeviceCode != nil {
		if !s.DeviceCode.ExpiresOn.IsZero() && !v.now().Before(s.DeviceCode.ExpiresOn) {
			s.DeviceCode = nil
		} else {
			prompt := *s.DeviceCode
			s.DeviceCode = &prompt
		}
	}
	return s
}
