package auth

import (
	"errors"
	"strings"
)

var (
	// ErrConfiguration reports a missing client ID, scopes or identity client.
	ErrConfiguration = errors.New("auth: invalid configuration")

	// ErrSilentRefreshUnavailable means no stored credential could be used
	// without user interaction.
	ErrSilentRefreshUnavailable = errors.New("auth: silent token refresh unavailable")

	// ErrInteractiveUnsupported means the platform cannot show the interactive
	// sign-in UI (no browser or no graphical session).
	ErrInteractiveUnsupported = errors.New("auth: interactive sign-in unsupported on this platform")

	// ErrUserActionRequired means interactive sign-in needs user action it
	// cannot collect itself.
	ErrUserActionRequired = errors.New("auth: additional user action required")

	// ErrDeviceCodeExpired means the user did not complete device-code sign-in
	// before the code expired.
	ErrDeviceCodeExpired = errors.New("auth: device code expired")

	// ErrAuthenticationFailed wraps every other sign-in failure.
	ErrAuthenticationFailed = errors.New("auth: authentication failed")

	// ErrNotConnected is returned by AcquireTokenForCurrentUser when no valid
	// token could be obtained.
	ErrNotConnected = errors.New("auth: not connected")
)

// userActionCodes are AAD error codes asking for interaction the current UI
// cannot provide.
var userActionCodes = []string{"interaction_required", "consent_required", "login_required"}

func requiresUserAction(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, code := range userActionCodes {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return false
}
