package oauth

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Every error returned by this package matches one of them
// through errors.Is.
var (
	// ErrConfiguration indicates an unresolvable provider or missing credentials
	ErrConfiguration = errors.New("oauth configuration error")

	// ErrUninitialized indicates a provider used before Initialize
	ErrUninitialized = errors.New("oauth provider not initialized")

	// ErrSessionIdentity indicates a resolved session that belongs to someone else
	ErrSessionIdentity = errors.New("session identity mismatch")

	// ErrTokenExchange indicates a failed request or access token fetch
	ErrTokenExchange = errors.New("token exchange failed")

	// ErrSignedRequest indicates a network failure during an API call
	ErrSignedRequest = errors.New("signed request failed")

	// ErrNotConnected indicates a signed request without an access token
	ErrNotConnected = errors.New("session has no access token")

	// ErrDecode indicates a response body that could not be mapped
	ErrDecode = errors.New("response decode failed")

	// ErrUnexpectedStatus indicates a non-2xx response to a typed call
	ErrUnexpectedStatus = errors.New("unexpected response status")

	// ErrRateLimited indicates the request limiter refused to wait
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrCircuitOpen indicates the provider circuit breaker is open
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrInvalidState indicates state parameter mismatch (CSRF protection)
	ErrInvalidState = errors.New("invalid state parameter")
)

// Error carries the context of a failed operation.
type Error struct {
	Kind        error  // One of the Err* kinds above
	Provider    string // Provider where error occurred
	Op          string // Operation, e.g. "access token"
	Code        string // Provider error code or HTTP status
	Description string // Provider error description or response body
	Err         error  // Underlying error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := fmt.Sprintf("oauth [%s] %s: %v", e.Provider, e.Op, e.Kind)
	switch {
	case e.Description != "" && e.Code != "":
		msg += fmt.Sprintf(": %s (%s)", e.Description, e.Code)
	case e.Description != "":
		msg += ": " + e.Description
	case e.Code != "":
		msg += " (" + e.Code + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the error kind.
func (e *Error) Is(target error) bool {
	return e.Kind != nil && e.Kind == target
}

func newError(kind error, provider, op string, err error) *Error {
	return &Error{Kind: kind, Provider: provider, Op: op, Err: err}
}

// asKind returns err unchanged when it already matches kind, otherwise it
// wraps it.
func asKind(kind error, provider, op string, err error) error {
	if errors.Is(err, kind) {
		return err
	}
	return newError(kind, provider, op, err)
}

// StatusError is returned by the typed helpers for non-2xx responses.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	body := string(e.Body)
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	return fmt.Sprintf("oauth [%s]: %v: %d %s: %s", e.Provider, ErrUnexpectedStatus,
		e.StatusCode, http.StatusText(e.StatusCode), body)
}

func (e *StatusError) Unwrap() error {
	return ErrUnexpectedStatus
}

// IsRetryable reports whether restarting the failed operation may succeed.
// Nothing in this package retries on its own.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrCircuitOpen) {
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}

	var oauthErr *Error
	if errors.As(err, &oauthErr) {
		switch oauthErr.Code {
		case "temporarily_unavailable", "server_error", "429", "502", "503", "504":
			return true
		}
		return errors.Is(oauthErr.Kind, ErrSignedRequest) && oauthErr.Code == ""
	}

	return false
}
