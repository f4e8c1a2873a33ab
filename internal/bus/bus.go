package bus

import (
	"context"
	"log/slog"
	"sync"
)

const defaultQueueSize = 256

// MessageBus is the in-process implementation of Publisher and Consumer.
// Send never blocks the caller: subscribers run on the sender goroutine
// (they must be fast), the consume queue drops when full.
type MessageBus struct {
	mu          sync.RWMutex
	subscribers map[string]Handler
	queue       chan Message
	closed      bool
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		subscribers: make(map[string]Handler),
		queue:       make(chan Message, defaultQueueSize),
	}
}

func (b *MessageBus) Send(msg Message) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	handlers := make([]Handler, 0, len(b.subscribers))
	for _, h := range b.subscribers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(msg)
	}

	select {
	case b.queue <- msg:
	default:
		slog.Warn("bus queue full, dropping message", "kind", msg.Kind, "org_id", msg.OrgID)
	}
}

func (b *MessageBus) Subscribe(id string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[id] = handler
}

func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// Consume blocks until a message arrives or ctx is done. The second return
// is false when the context ended.
func (b *MessageBus) Consume(ctx context.Context) (Message, bool) {
	select {
	case <-ctx.Done():
		return Message{}, false
	case msg := <-b.queue:
		return msg, true
	}
}

// Close stops accepting new messages.
func (b *MessageBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}
