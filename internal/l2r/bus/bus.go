// Package bus is the in-process event bus that connects the chat bridge,
// the conversation session, the move resolver and the admin surface.
//
// Publish delivers synchronously to every subscriber of a topic, in the order
// they subscribed. A handler that panics is recovered and logged; the
// remaining handlers still run.
package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sourcegraph/conc/panics"
)

// Topic names an event stream.
type Topic string

const (
	TopicChatText       Topic = "chat.text"
	TopicSessionBusy    Topic = "session.busy"
	TopicNotice         Topic = "notice"
	TopicApprovalAdded  Topic = "approval.added"
	TopicChessBoard     Topic = "chess.board"
	TopicChessOver      Topic = "chess.over"
	TopicImageGenerated Topic = "image.generated"
)

// Handler receives the payload published on a topic.
type Handler func(ctx context.Context, payload any)

type subscription struct {
	id int
	fn Handler
}

// Bus is safe for concurrent use. The zero value is ready to use.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[Topic][]subscription
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[Topic][]subscription)}
}

// Subscribe registers fn for topic and returns a function that removes it.
// Calling the returned function more than once is harmless.
func (b *Bus) Subscribe(topic Topic, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[Topic][]subscription)
	}
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(topic, id) })
	}
}

func (b *Bus) remove(topic Topic, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[topic]
	for i, s := range list {
		if s.id == id {
			b.subs[topic] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Publish delivers payload to the current subscribers of topic. Handlers
// added or removed during delivery take effect on the next Publish.
func (b *Bus) Publish(ctx context.Context, topic Topic, payload any) {
	b.mu.RLock()
	list := append([]subscription(nil), b.subs[topic]...)
	b.mu.RUnlock()

	for _, s := range list {
		var pc panics.Catcher
		pc.Try(func() { s.fn(ctx, payload) })
		if r := pc.Recovered(); r != nil {
			slog.Error("bus: handler panicked",
				"topic", string(topic), "panic", r.Value, "stack", string(r.Stack))
		}
	}
}

// On subscribes a handler for payloads of type T. Payloads of any other type
// published on the same topic are ignored.
func On[T any](b *Bus, topic Topic, fn func(ctx context.Context, payload T)) (unsubscribe func()) {
	return b.Subscribe(topic, func(ctx context.Context, payload any) {
		if v, ok := payload.(T); ok {
			fn(ctx, v)
		}
	})
}
