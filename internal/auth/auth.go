package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/accordvoice/accord/internal/shared"
)

// Claims bind an authentication token to one identity on one virtual
// server.
type Claims struct {
	jwt.RegisteredClaims
	ClientUID string          `json:"uid"`
	Nickname  string          `json:"nick,omitempty"`
	Server    shared.ServerID `json:"srv"`
}

// Issuer mints and verifies the signed tokens handed out through the
// authentication-token request. Tokens are HS256 with a per-deployment
// secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

func NewIssuer(secret []byte, ttl time.Duration) *Issuer {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: secret, ttl: ttl}
}

func (i *Issuer) Issue(server shared.ServerID, uid, nickname string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			ID:        shared.NewID("at_"),
		},
		ClientUID: uid,
		Nickname:  nickname,
		Server:    server,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning its claims. Expired,
// malformed and foreign-key tokens all fail with a permission error.
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.CodePermissionDenied, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, shared.CodePermissionDenied
	}
	return claims, nil
}
