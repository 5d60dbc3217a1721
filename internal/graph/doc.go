// Package graph is a small Microsoft Graph client for the signed-in user.
//
// Requests carry a just-in-time Bearer token from an oauth2.TokenSource and
// a fresh client-request-id for correlation with Graph's server logs.
// A client-side token bucket keeps bursts below Graph's throttling limits;
// a 429 response additionally pauses the client for the Retry-After period.
package graph
