package bridge

import (
	"context"
	"sync"
)

// Memory is an in-process Bridge. Deliver simulates a counterpart message;
// InjectAndSend records replies in Sent.
type Memory struct {
	obs *observers

	mu   sync.Mutex
	sent []string
	// fail, when set, is returned by InjectAndSend.
	fail error
}

// NewMemory returns an empty in-memory bridge.
func NewMemory() *Memory {
	return &Memory{obs: newObservers()}
}

// Observe implements Bridge.
func (m *Memory) Observe(h Handler) func() { return m.obs.add(h) }

// Deliver pushes a counterpart message through the observers. It reports
// false when the message was dropped as a duplicate or blank.
func (m *Memory) Deliver(ctx context.Context, id, text string) bool {
	return m.obs.dispatch(ctx, Message{ID: id, Text: text})
}

// InjectAndSend implements Bridge.
func (m *Memory) InjectAndSend(_ context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.sent = append(m.sent, text)
	return nil
}

// FailWith makes subsequent InjectAndSend calls return err. Pass nil to
// restore normal behaviour.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}

// Sent returns a copy of every successfully injected reply.
func (m *Memory) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}
