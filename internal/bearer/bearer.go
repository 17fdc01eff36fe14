// Package bearer inspects API bearer tokens without verifying them, so the
// client can warn about expired credentials before connecting.
package bearer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrExpired is returned by Check for a token whose exp claim has passed.
var ErrExpired = errors.New("bearer token expired")

// Info is what can be learned from a token without its signing key.
type Info struct {
	// Opaque is true for tokens that are not JWTs; no other field is set.
	Opaque    bool
	Subject   string
	Issuer    string
	ExpiresAt time.Time
}

// Inspect parses token without verifying its signature. Tokens that are not
// three-part JWTs are reported as opaque rather than as errors.
func Inspect(token string) (Info, error) {
	if token == "" {
		return Info{}, errors.New("empty token")
	}
	if strings.Count(token, ".") != 2 {
		return Info{Opaque: true}, nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Info{}, fmt.Errorf("malformed bearer token: %w", err)
	}
	var info Info
	info.Subject, _ = claims.GetSubject()
	info.Issuer, _ = claims.GetIssuer()
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time
	}
	return info, nil
}

// Check reports ErrExpired when token carries an exp claim earlier than now.
// Opaque tokens and tokens without expiry pass.
func Check(token string, now time.Time) (Info, error) {
	info, err := Inspect(token)
	if err != nil {
		return info, err
	}
	if !info.ExpiresAt.IsZero() && now.After(info.ExpiresAt) {
		return info, fmt.Errorf("%w at %s", ErrExpired, info.ExpiresAt.Format(time.RFC3339))
	}
	return info, nil
}
