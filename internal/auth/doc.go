// Package auth implements the Microsoft Graph sign-in state machine on top of
// the Microsoft Authentication Library (MSAL) for Go.
//
// An attempt moves through silent refresh, interactive (system browser) sign-in
// and device-code sign-in:
//
//	Idle -> Silent -> {Completed | Interactive} -> {Completed | DeviceCode} -> {Completed | Failed}
//
// SignOut is reachable from anywhere and returns to Idle. Every transition is
// reported to subscribed observers as a State; the device-code flow additionally
// publishes a DeviceCodePrompt right after StateFallbackToDeviceCode.
//
// Operational failures (no cached credential, revoked consent, no browser,
// expired device code) never escape AcquireTokenForCurrentUser as panics; they
// end in StateFailed and ErrNotConnected. Only configuration errors are fatal.
//
// The engine tracks a single primary account: the first one the identity
// store returns. The store does not guarantee an order, so caches holding
// several accounts are not supported.
package auth
