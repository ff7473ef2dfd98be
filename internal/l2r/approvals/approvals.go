// Package approvals holds generated replies that wait for the operator to
// send or discard them.
//
// Entries live in memory only: a pending reply is meaningful for the current
// run and is not worth restoring after a restart.
package approvals

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/l2r/internal/l2r/bus"
)

// Sender posts text to the chat (bridge.Bridge satisfies it).
type Sender interface {
	InjectAndSend(ctx context.Context, text string) error
}

// Publisher is the subset of *bus.Bus used here.
type Publisher interface {
	Publish(ctx context.Context, topic bus.Topic, payload any)
}

// Pending is a reply awaiting a decision.
type Pending struct {
	ID        string
	Text      string
	CreatedAt time.Time
}

// Queue is the approval queue. Methods are safe for concurrent use.
type Queue struct {
	sender Sender
	pub    Publisher
	now    func() time.Time

	mu    sync.Mutex
	items []Pending
}

// New returns an empty queue. pub may be nil.
func New(sender Sender, pub Publisher) *Queue {
	return &Queue{sender: sender, pub: pub, now: time.Now}
}

// Add enqueues text and announces it on the bus.
func (q *Queue) Add(ctx context.Context, text string) Pending {
	p := Pending{ID: uuid.NewString()[:8], Text: text, CreatedAt: q.now()}
	q.mu.Lock()
	q.items = append(q.items, p)
	q.mu.Unlock()
	if q.pub != nil {
		q.pub.Publish(ctx, bus.TopicApprovalAdded, bus.ApprovalAdded{ID: p.ID, Text: p.Text})
	}
	return p
}

// List returns the pending entries, oldest first.
func (q *Queue) List() []Pending {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Pending(nil), q.items...)
}

// Len reports the number of pending entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Accept sends the entry through the bridge and removes it. When sending
// fails the entry stays queued and the error is returned.
func (q *Queue) Accept(ctx context.Context, id string) (Pending, error) {
	p, ok := q.get(id)
	if !ok {
		return Pending{}, fmt.Errorf("no pending reply with id %q", id)
	}
	if err := q.sender.InjectAndSend(ctx, p.Text); err != nil {
		return p, fmt.Errorf("send pending reply %s: %w", id, err)
	}
	q.remove(id)
	return p, nil
}

// Discard drops the entry without sending it.
func (q *Queue) Discard(id string) (Pending, error) {
	p, ok := q.remove(id)
	if !ok {
		return Pending{}, fmt.Errorf("no pending reply with id %q", id)
	}
	return p, nil
}

func (q *Queue) get(id string) (Pending, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range q.items {
		if p.ID == id {
			return p, true
		}
	}
	return Pending{}, false
}

func (q *Queue) remove(id string) (Pending, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, p := range q.items {
		if p.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return p, true
		}
	}
	return Pending{}, false
}
