// Package tokensource adapts the sign-in engine to golang.org/x/oauth2.
//
// The engine keeps its own notion of the current user; this package exposes
// it as an oauth2.TokenSource so any oauth2-aware HTTP client can attach a
// just-in-time Bearer token:
//
//	ts := tokensource.New(engine)
//	client := &http.Client{Transport: &oauth2.Transport{Source: ts}}
//
// Tokens are reused until they come within auth.ConnectionMargin of expiry,
// so steady-state requests never reach the identity store or the disk cache.
//
// # Sign-out
//
// A TokenSource is also an auth.Observer. Subscribed to the engine, it drops
// its reuse cache when the user signs out, so the next request goes back to
// the engine instead of presenting a token for an account that is gone:
//
//	engine.Subscribe(ts)
package tokensource
