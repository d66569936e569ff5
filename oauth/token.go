package oauth

import (
	"fmt"
	"maps"
	"time"
)

// Token is an immutable request or access token. The zero Token means
// "absent".
type Token struct {
	value        string
	secret       string
	tokenType    string
	refreshToken string
	expiry       time.Time
	raw          map[string]string
}

// NewToken builds a token from raw strings, e.g. when restoring persisted
// credentials.
func NewToken(value, secret string) Token {
	return Token{value: value, secret: secret}
}

func (t Token) Value() string        { return t.value }
func (t Token) Secret() string       { return t.secret }
func (t Token) Type() string         { return t.tokenType }
func (t Token) RefreshToken() string { return t.refreshToken }
func (t Token) Expiry() time.Time    { return t.expiry }

// Raw returns a copy of the extra fields of the provider response
// (screen_name, user_id, scope, id_token, ...).
func (t Token) Raw() map[string]string {
	return maps.Clone(t.raw)
}

// IsZero reports whether the token is absent.
func (t Token) IsZero() bool {
	return t.value == ""
}

// Expired reports whether the token has an expiry at or before now.
func (t Token) Expired(now time.Time) bool {
	return !t.expiry.IsZero() && !now.Before(t.expiry)
}

// String never prints the secret.
func (t Token) String() string {
	if t.IsZero() {
		return "Token{}"
	}
	v := t.value
	if len(v) > 4 {
		v = v[:4] + "..."
	}
	return fmt.Sprintf("Token{value=%s, secret=%t}", v, t.secret != "")
}

// TokenSnapshot is the serializable image of a Token.
type TokenSnapshot struct {
	Value        string            `json:"value"`
	Secret       string            `json:"secret,omitempty"`
	Type         string            `json:"type,omitempty"`
	RefreshToken string            `json:"refresh_token,omitempty"`
	Expiry       time.Time         `json:"expiry,omitzero"`
	Raw          map[string]string `json:"raw,omitempty"`
}

func (t Token) snapshot() *TokenSnapshot {
	if t.IsZero() {
		return nil
	}
	return &TokenSnapshot{
		Value:        t.value,
		Secret:       t.secret,
		Type:         t.tokenType,
		RefreshToken: t.refreshToken,
		Expiry:       t.expiry,
		Raw:          maps.Clone(t.raw),
	}
}

func (s *TokenSnapshot) token() Token {
	if s == nil {
		return Token{}
	}
	return Token{
		value:        s.Value,
		secret:       s.Secret,
		tokenType:    s.Type,
		refreshToken: s.RefreshToken,
		expiry:       s.Expiry,
		raw:          maps.Clone(s.Raw),
	}
}
