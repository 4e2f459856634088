// Package identity carries the logged-in user's session context as an
// explicitly owned object. The engine receives it at construction; its
// lifecycle is tied to login/logout by the embedding client, never to
// ambient global state.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenInvalid means the access token could not be parsed.
	ErrTokenInvalid = errors.New("invalid access token")
	// ErrTokenExpired means the access token is past its expiry.
	ErrTokenExpired = errors.New("access token expired")
)

// Claims extends JWT registered claims with the portal's user fields.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id,omitempty"`
	Name   string `json:"name,omitempty"`
	Role   string `json:"role,omitempty"`
}

// Session is the resolved session context for one logged-in user.
type Session struct {
	UserID    string
	Name      string
	Role      string
	Token     string
	ExpiresAt time.Time
}

// FromToken extracts the session context from the portal's access token.
// The signature is the server's concern; the client only reads identity
// from the claims, but refuses tokens that are already expired.
func FromToken(tokenStr string) (*Session, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: no user id claim", ErrTokenInvalid)
	}

	s := &Session{
		UserID: userID,
		Name:   claims.Name,
		Role:   claims.Role,
		Token:  tokenStr,
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
		if time.Now().After(s.ExpiresAt) {
			return nil, ErrTokenExpired
		}
	}
	return s, nil
}

// Static builds a session context without a token, for embedding clients
// that authenticate out of band.
func Static(userID, name string) *Session {
	return &Session{UserID: userID, Name: name}
}

// Valid reports whether the session is usable at now.
func (s *Session) Valid(now time.Time) bool {
	if s == nil || s.UserID == "" {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt)
}
