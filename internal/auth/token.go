package auth

import "time"

// ConnectionMargin is how long before expiry a token stops counting as valid,
// absorbing clock skew and request latency.
const ConnectionMargin = time.Minute

// TokenRecord is the access token currently held by the engine.
type TokenRecord struct {
	AccessToken string
	ExpiresOn   time.Time
}

// Valid reports whether the token is present and outlives now by more than
// ConnectionMargin.
func (r TokenRecord) Valid(now time.Time) bool {
	return r.AccessToken != "" && r.ExpiresOn.After(now.Add(ConnectionMargin))
}
