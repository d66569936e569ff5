package oauth

import (
	"context"
	"time"
)

// Vault persists access credentials beyond the session lifetime. The vault
// package provides a GORM implementation.
type Vault interface {
	// Load returns ok=false when nothing is stored.
	Load(ctx context.Context, identity, providerName string) (c Credential, ok bool, err error)
	Store(ctx context.Context, identity, providerName string, c Credential) error
	Delete(ctx context.Context, identity, providerName string) error
}

// Credential is the stored form of an access token.
type Credential struct {
	Token        string
	Secret       string
	Type         string
	RefreshToken string
	Expiry       time.Time
}

// CredentialOf returns the stored form of t. Raw response fields are not
// kept.
func CredentialOf(t Token) Credential {
	return Credential{
		Token:        t.value,
		Secret:       t.secret,
		Type:         t.tokenType,
		RefreshToken: t.refreshToken,
		Expiry:       t.expiry,
	}
}

// restore rebuilds the access token from base, the provider's token for
// the stored strings.
func (c Credential) restore(base Token) Token {
	base.tokenType = c.Type
	base.refreshToken = c.RefreshToken
	base.expiry = c.Expiry
	return base
}
