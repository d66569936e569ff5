// Package notify delivers oauth session events to other systems.
//
// Bus fans events out to in-process listeners, NATSPublisher puts them on a
// NATS subject and Slack posts them to an incoming webhook. All of them plug
// into oauth.WithPublisher:
//
//	bus := notify.NewBus(log)
//	bus.Subscribe(slack)
//	svc, err := oauth.New(provider, resolver, settings,
//	    oauth.WithPublisher(notify.Multi{bus, natsPublisher}))
package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/gobeaver/beaver-social/oauth"
	"go.uber.org/zap"
)

// Listener handles a single event.
type Listener interface {
	Handle(ctx context.Context, e oauth.Event) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, e oauth.Event) error

func (f ListenerFunc) Handle(ctx context.Context, e oauth.Event) error { return f(ctx, e) }

// Bus is an oauth.Publisher that hands every event to its listeners, each in
// its own goroutine. Listener errors and panics are logged and dropped.
type Bus struct {
	mu        sync.RWMutex
	listeners map[int]Listener
	next      int
	closed    bool
	wg        sync.WaitGroup
	logger    *zap.Logger
}

// NewBus returns an empty bus. A nil logger discards output.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{listeners: make(map[int]Listener), logger: logger}
}

// Subscribe adds l and returns a function removing it again.
func (b *Bus) Subscribe(l Listener) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.listeners[id] = l
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// Len returns the number of subscribed listeners.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Publish implements oauth.Publisher. It returns immediately; listeners run
// with a context that is not canceled together with ctx.
func (b *Bus) Publish(ctx context.Context, e oauth.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	ctx = context.WithoutCancel(ctx)
	for _, l := range b.listeners {
		b.wg.Add(1)
		go b.deliver(ctx, l, e)
	}
}

func (b *Bus) deliver(ctx context.Context, l Listener, e oauth.Event) {
	defer b.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event listener panicked",
				zap.String("event_id", e.ID),
				zap.String("kind", string(e.Kind)),
				zap.Any("panic", r))
		}
	}()

	if err := l.Handle(ctx, e); err != nil {
		b.logger.Warn("event listener failed",
			zap.String("event_id", e.ID),
			zap.String("kind", string(e.Kind)),
			zap.String("provider", e.Provider),
			zap.Error(err))
	}
}

// Close stops accepting events and waits for running deliveries, or for ctx.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for event listeners: %w", ctx.Err())
	}
}

// Multi publishes every event to each of its publishers in order.
type Multi []oauth.Publisher

func (m Multi) Publish(ctx context.Context, e oauth.Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, e)
		}
	}
}
