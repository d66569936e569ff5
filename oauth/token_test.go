package oauth

import (
	"strings"
	"testing"
	"time"
)

func TestToken(t *testing.T) {
	var zero Token
	if !zero.IsZero() {
		t.Error("zero Token should be absent")
	}
	if zero.String() != "Token{}" {
		t.Errorf("zero String() = %q", zero.String())
	}

	tok := NewToken("abcdefgh", "s3cret")
	if tok.IsZero() || tok.Value() != "abcdefgh" || tok.Secret() != "s3cret" {
		t.Fatalf("NewToken() = %+v", tok)
	}
	if s := tok.String(); strings.Contains(s, "s3cret") || strings.Contains(s, "abcdefgh") {
		t.Errorf("String() leaks token material: %s", s)
	}
}

func TestTokenExpired(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		expiry time.Time
		want   bool
	}{
		{"no expiry", time.Time{}, false},
		{"future", now.Add(time.Minute), false},
		{"exact", now, true},
		{"past", now.Add(-time.Minute), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := Token{value: "v", expiry: tt.expiry}
			if got := tok.Expired(now); got != tt.want {
				t.Errorf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTokenRawIsCopied(t *testing.T) {
	tok := Token{value: "v", raw: map[string]string{"screen_name": "tester"}}
	raw := tok.Raw()
	raw["screen_name"] = "changed"
	if tok.Raw()["screen_name"] != "tester" {
		t.Error("Raw() exposes the token's internal map")
	}
}

func TestTokenSnapshot(t *testing.T) {
	if (Token{}).snapshot() != nil {
		t.Error("zero token should have no snapshot")
	}
	var nilSnap *TokenSnapshot
	if !nilSnap.token().IsZero() {
		t.Error("nil snapshot should restore to the zero token")
	}

	tok := Token{value: "v", secret: "s", tokenType: "Bearer", refreshToken: "r",
		expiry: time.Unix(1700000000, 0).UTC(), raw: map[string]string{"scope": "read"}}
	got := tok.snapshot().token()
	if got.Value() != "v" || got.Secret() != "s" || got.Type() != "Bearer" ||
		got.RefreshToken() != "r" || !got.Expiry().Equal(tok.Expiry()) || got.Raw()["scope"] != "read" {
		t.Errorf("snapshot round trip = %+v", got)
	}
}
