package krypto

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestGenerateSecureToken(t *testing.T) {
	tok, err := GenerateSecureToken(16)
	if err != nil {
		t.Fatalf("GenerateSecureToken() error = %v", err)
	}
	if len(tok) != 32 {
		t.Errorf("len = %d, want 32 hex characters", len(tok))
	}

	other, _ := GenerateSecureToken(16)
	if tok == other {
		t.Error("two tokens should differ")
	}

	if _, err := GenerateSecureToken(0); err == nil {
		t.Error("GenerateSecureToken(0) should fail")
	}
}

func TestIdentitySigner(t *testing.T) {
	key := []byte(strings.Repeat("k", 32))

	if _, err := NewIdentitySigner([]byte("short"), "", 0); err == nil {
		t.Fatal("NewIdentitySigner() should reject short keys")
	}

	s, err := NewIdentitySigner(key, "beaver-social", time.Hour)
	if err != nil {
		t.Fatalf("NewIdentitySigner() error = %v", err)
	}

	token, err := s.Sign("user-1")
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	identity, err := s.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if identity != "user-1" {
		t.Errorf("Verify() = %q, want user-1", identity)
	}

	t.Run("empty identity", func(t *testing.T) {
		if _, err := s.Sign(""); !errors.Is(err, ErrIdentityToken) {
			t.Errorf("Sign(\"\") error = %v", err)
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		other, _ := NewIdentitySigner([]byte(strings.Repeat("x", 32)), "beaver-social", time.Hour)
		if _, err := other.Verify(token); !errors.Is(err, ErrIdentityToken) {
			t.Errorf("Verify() error = %v, want ErrIdentityToken", err)
		}
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other, _ := NewIdentitySigner(key, "someone-else", time.Hour)
		if _, err := other.Verify(token); !errors.Is(err, ErrIdentityToken) {
			t.Errorf("Verify() error = %v, want ErrIdentityToken", err)
		}
	})

	t.Run("expired", func(t *testing.T) {
		s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		defer func() { s.now = time.Now }()
		if _, err := s.Verify(token); !errors.Is(err, ErrIdentityToken) {
			t.Errorf("Verify() error = %v, want ErrIdentityToken", err)
		}
	})

	t.Run("garbage", func(t *testing.T) {
		if _, err := s.Verify("not.a.jwt"); !errors.Is(err, ErrIdentityToken) {
			t.Errorf("Verify() error = %v, want ErrIdentityToken", err)
		}
	})
}
