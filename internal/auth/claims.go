package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrOpaqueToken is returned for access tokens that are not JWTs, which is
// normal for personal Microsoft accounts.
var ErrOpaqueToken = errors.New("auth: access token is opaque")

// Claims is the displayable subset of an access token's claims. Signatures
// are not verified; the values are informational only.
type Claims struct {
	Subject   string
	Issuer    string
	Audience  []string
	Name      string
	Username  string
	Scopes    []string
	ExpiresAt time.Time
}

// InspectClaims decodes the claims of a JWT access token.
func InspectClaims(accessToken string) (Claims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrOpaqueToken, err)
	}

	var c Claims
	c.Subject, _ = claims.GetSubject()
	c.Issuer, _ = claims.GetIssuer()
	if aud, err := claims.GetAudience(); err == nil {
		c.Audience = aud
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	c.Name, _ = claims["name"].(string)
	for _, key := range []string{"upn", "preferred_username", "unique_name"} {
		if v, ok := claims[key].(string); ok && v != "" {
			c.Username = v
			break
		}
	}
	if scp, ok := claims["scp"].(string); ok {
		c.Scopes = strings.Fields(scp)
	}
	return c, nil
}
