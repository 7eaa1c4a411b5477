package jwt

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lotmarket/chatsync/pkg/errcode"
)

// Claims represents JWT claims
type Claims struct {
	UserId   string `json:"user_id"`
	Nickname string `json:"nickname"`
	jwt.RegisteredClaims
}

// GenerateToken generates a new JWT token
func GenerateToken(userId, nickname, secret string, expireHours int) (string, error) {
	claims := Claims{
		UserId:   userId,
		Nickname: nickname,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Duration(expireHours) * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "lotmarket-chat",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken parses and validates a JWT token
func ParseToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})

	if err != nil {
		return nil, errcode.ErrTokenInvalid.Wrap(err)
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errcode.ErrTokenInvalid
}

// DecodeClaims decodes token claims without signature verification.
// The client never holds the signing secret; the backend is the verifier.
// This only extracts the identity the server already vouched for at login.
func DecodeClaims(tokenString string) (*Claims, error) {
	var claims Claims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, &claims); err != nil {
		return nil, errcode.ErrTokenInvalid.Wrap(err)
	}
	if claims.UserId == "" {
		return nil, errcode.ErrTokenInvalid
	}
	return &claims, nil
}
