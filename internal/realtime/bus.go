package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/rheeghang/docent/internal/session"
)

// Bus carries session events from the replica that produced them to every
// replica's monitor room.
type Bus interface {
	Publish(ctx context.Context, ev session.Event) error
	StartForwarder(ctx context.Context, onMsg func(ev session.Event)) error
	Close() error
}

// LocalBus is an in-process Bus for single-replica deployments.
type LocalBus struct {
	mu       sync.RWMutex
	handlers map[int]func(session.Event)
	next     int
	closed   bool
}

// NewLocalBus returns an empty in-process bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{handlers: make(map[int]func(session.Event))}
}

// Publish delivers ev synchronously to every forwarder.
func (b *LocalBus) Publish(ctx context.Context, ev session.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("local bus closed")
	}
	handlers := make([]func(session.Event), 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
	return nil
}

// StartForwarder registers onMsg until ctx is done.
func (b *LocalBus) StartForwarder(ctx context.Context, onMsg func(ev session.Event)) error {
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("local bus closed")
	}
	id := b.next
	b.next++
	b.handlers[id] = onMsg
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}()
	return nil
}

// Close drops every forwarder.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = make(map[int]func(session.Event))
	return nil
}
