// Package identity supplies the authenticated session identity the sync
// engine treats as an external fact. Identity equality is id-based only;
// display names are presentation data and never used for matching.
package identity

import (
	"time"

	"github.com/lotmarket/chatsync/pkg/errcode"
	"github.com/lotmarket/chatsync/pkg/jwt"
)

// Session is the current authenticated user plus the bearer token that
// authorizes every REST call and the channel handshake.
type Session struct {
	UserId   string
	Nickname string
	token    string
}

// FromToken builds a Session from a bearer token issued by the backend.
// The claims are decoded without local verification; the backend rejects
// forged tokens at every call site anyway.
func FromToken(token string) (*Session, error) {
	if token == "" {
		return nil, errcode.ErrTokenMissing
	}
	claims, err := jwt.DecodeClaims(token)
	if err != nil {
		return nil, err
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return nil, errcode.ErrTokenExpired
	}
	return &Session{
		UserId:   claims.UserId,
		Nickname: claims.Nickname,
		token:    token,
	}, nil
}

// Token returns the bearer token
func (s *Session) Token() string {
	return s.token
}

// IsSelf reports whether userId is the session user. This is the single
// canonical identity comparison used everywhere a sender or recipient is
// matched against the current user.
func (s *Session) IsSelf(userId string) bool {
	return userId != "" && userId == s.UserId
}
