// Package bridge connects l2r to the chat where the counterpart lives.
//
// The core only sees the Bridge interface: a stream of normalised,
// deduplicated counterpart messages and a way to post a reply. The Matrix
// implementation is used in production; Memory backs tests and dry runs.
package bridge

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrComposerUnavailable is returned by InjectAndSend when there is no
// destination to post to (no linked room, client not started).
var ErrComposerUnavailable = errors.New("bridge: chat composer unavailable")

// Message is one counterpart message.
type Message struct {
	// ID is the transport-level identity used for deduplication.
	ID   string
	Text string
}

// Handler receives counterpart messages.
type Handler func(ctx context.Context, msg Message)

// Bridge is the chat-side contract consumed by the core.
type Bridge interface {
	// Observe registers h and returns a function that removes it. Each
	// counterpart message reaches h at most once.
	Observe(h Handler) (unsubscribe func())
	// InjectAndSend posts text as the operator's reply.
	InjectAndSend(ctx context.Context, text string) error
}

// Normalize strips zero-width spaces and squashes whitespace.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\u200b", "")
	return strings.Join(strings.Fields(s), " ")
}

// observers is the handler registry shared by the implementations. It also
// owns deduplication so every implementation gets it for free.
type observers struct {
	mu       sync.Mutex
	nextID   int
	handlers map[int]Handler
	order    []int
	seen     *seenSet
}

func newObservers() *observers {
	return &observers{handlers: make(map[int]Handler), seen: newSeenSet(4096)}
}

func (o *observers) add(h Handler) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nextID++
	id := o.nextID
	o.handlers[id] = h
	o.order = append(o.order, id)
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if _, ok := o.handlers[id]; !ok {
			return
		}
		delete(o.handlers, id)
		for i, v := range o.order {
			if v == id {
				o.order = append(o.order[:i:i], o.order[i+1:]...)
				break
			}
		}
	}
}

// dispatch normalises and deduplicates msg, then calls every handler. It
// reports whether the message was delivered.
func (o *observers) dispatch(ctx context.Context, msg Message) bool {
	msg.Text = Normalize(msg.Text)
	if msg.Text == "" {
		return false
	}
	o.mu.Lock()
	if msg.ID != "" && !o.seen.add(msg.ID) {
		o.mu.Unlock()
		return false
	}
	hs := make([]Handler, 0, len(o.order))
	for _, id := range o.order {
		hs = append(hs, o.handlers[id])
	}
	o.mu.Unlock()

	for _, h := range hs {
		h(ctx, msg)
	}
	return true
}

// seenSet remembers the most recent ids up to a fixed capacity.
type seenSet struct {
	cap   int
	ids   map[string]struct{}
	queue []string
}

func newSeenSet(capacity int) *seenSet {
	return &seenSet{cap: capacity, ids: make(map[string]struct{}, capacity)}
}

// add returns false when id was already present.
func (s *seenSet) add(id string) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	s.queue = append(s.queue, id)
	if len(s.queue) > s.cap {
		delete(s.ids, s.queue[0])
		s.queue = s.queue[1:]
	}
	return true
}
