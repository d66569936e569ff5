package oauth

import (
	"context"
	"time"
)

// EventKind names an event.
type EventKind string

const (
	// EventOAuthComplete fires after every access token exchange attempt.
	EventOAuthComplete EventKind = "oauth.complete"
	// EventDisconnect fires when a session is disconnected.
	EventDisconnect EventKind = "oauth.disconnect"
)

// Status of an exchange.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// Event describes a session state change.
type Event struct {
	ID       string    `json:"id"`
	Kind     EventKind `json:"kind"`
	Status   Status    `json:"status"`
	Provider string    `json:"provider"`
	Identity string    `json:"identity"`
	Message  string    `json:"message,omitempty"`
	Time     time.Time `json:"time"`

	// Session is the affected session. It is not serialized.
	Session *Session `json:"-"`
}

// Publisher receives events. Publishing is fire-and-forget: implementations
// must not block the caller for long and report their own failures.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, e Event)

func (f PublisherFunc) Publish(ctx context.Context, e Event) { f(ctx, e) }

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) {}
