package krypto

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrIdentityToken is returned for identity tokens that fail verification.
var ErrIdentityToken = errors.New("krypto: invalid identity token")

// IdentityClaims carries the opaque identity a session belongs to.
type IdentityClaims struct {
	Identity string `json:"idn"`
	jwt.RegisteredClaims
}

// IdentitySigner issues and verifies HS256 identity tokens.
type IdentitySigner struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewIdentitySigner returns a signer. A zero ttl issues tokens without expiry.
func NewIdentitySigner(key []byte, issuer string, ttl time.Duration) (*IdentitySigner, error) {
	if len(key) < 32 {
		return nil, fmt.Errorf("krypto: HS256 key must be at least 32 bytes, got %d", len(key))
	}
	return &IdentitySigner{key: key, issuer: issuer, ttl: ttl, now: time.Now}, nil
}

func (s *IdentitySigner) Sign(identity string) (string, error) {
	if identity == "" {
		return "", fmt.Errorf("%w: empty identity", ErrIdentityToken)
	}

	now := s.now()
	claims := IdentityClaims{
		Identity: identity,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   s.issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

// Verify returns the identity carried by token.
func (s *IdentitySigner) Verify(token string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	claims := &IdentityClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.key, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIdentityToken, err)
	}
	if !parsed.Valid || claims.Identity == "" {
		return "", ErrIdentityToken
	}
	return claims.Identity, nil
}
