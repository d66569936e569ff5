package oauth

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorIs(t *testing.T) {
	cause := context.DeadlineExceeded
	err := fmt.Errorf("outer: %w", newError(ErrTokenExchange, "twitter", "access token", cause))

	if !errors.Is(err, ErrTokenExchange) {
		t.Error("errors.Is(err, ErrTokenExchange) = false")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("cause is not reachable through Unwrap")
	}
	if errors.Is(err, ErrSignedRequest) {
		t.Error("error matches a foreign kind")
	}

	var oauthErr *Error
	if !errors.As(err, &oauthErr) || oauthErr.Provider != "twitter" {
		t.Errorf("errors.As() = %v", oauthErr)
	}
}

func TestAsKind(t *testing.T) {
	inner := newError(ErrTokenExchange, "p", "op", nil)
	if got := asKind(ErrTokenExchange, "p", "other", inner); got != error(inner) {
		t.Error("asKind wrapped an error that already had the kind")
	}
	wrapped := asKind(ErrConfiguration, "p", "op", errors.New("boom"))
	if !errors.Is(wrapped, ErrConfiguration) {
		t.Error("asKind did not apply the kind")
	}
}

func TestStatusError(t *testing.T) {
	err := &StatusError{Provider: "github", StatusCode: 404, Body: []byte(`{"message":"Not Found"}`)}
	if !errors.Is(err, ErrUnexpectedStatus) {
		t.Error("StatusError should match ErrUnexpectedStatus")
	}
	want := `oauth [github]: unexpected response status: 404 Not Found: {"message":"Not Found"}`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", newError(ErrRateLimited, "p", "send", nil), true},
		{"circuit open", ErrCircuitOpen, true},
		{"429", &StatusError{StatusCode: 429}, true},
		{"503", &StatusError{StatusCode: 503}, true},
		{"404", &StatusError{StatusCode: 404}, false},
		{"server_error", &Error{Kind: ErrTokenExchange, Code: "server_error"}, true},
		{"invalid_grant", &Error{Kind: ErrTokenExchange, Code: "invalid_grant"}, false},
		{"network", newError(ErrSignedRequest, "p", "GET", errors.New("reset")), true},
		{"not connected", newError(ErrNotConnected, "p", "send", nil), false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}
