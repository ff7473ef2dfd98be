// Package session implements the conversation turn-taking pipeline: it
// records every counterpart message, decides whether to reply, runs at most
// one LLM call at a time and routes the reply to the chat or the approval
// queue.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bdobrica/l2r/common/trace"
	"github.com/bdobrica/l2r/internal/l2r/approvals"
	"github.com/bdobrica/l2r/internal/l2r/bus"
	"github.com/bdobrica/l2r/internal/l2r/kv"
	"github.com/bdobrica/l2r/internal/l2r/llm"
	"github.com/bdobrica/l2r/internal/l2r/observability"
)

// Store keys.
const (
	KeyEnabled  = "l2r.enabled"
	KeyApprove  = "l2r.approve"
	KeyMaxTurns = "l2r.max_turns"
	KeyHistory  = "l2r.history"
	KeyTurns    = "l2r.turns"
)

// Sender posts a reply into the chat.
type Sender interface {
	InjectAndSend(ctx context.Context, text string) error
}

// Approver holds replies for operator approval.
type Approver interface {
	Add(ctx context.Context, text string) approvals.Pending
}

// SystemSource supplies the system messages for each request.
type SystemSource interface {
	Effective() []string
	SetGlobal(ctx context.Context, text string) error
}

// Publisher is the subset of *bus.Bus used here.
type Publisher interface {
	Publish(ctx context.Context, topic bus.Topic, payload any)
}

// Config tunes the session.
type Config struct {
	Limits Limits
	// Temperature for conversation replies. Nil selects 0.7; zero is honoured.
	Temperature *float64
	// MaxOutputChars bounds the reply length; zero leaves the provider default.
	MaxOutputChars int
	// DefaultMaxTurns applies until the operator sets one. Default: 2000.
	DefaultMaxTurns int
}

// Deps are the collaborators of a Session. Store, LLM, Sender, Approvals and
// Bus are required; System may be nil.
type Deps struct {
	Store     kv.Store
	LLM       llm.Provider
	Sender    Sender
	Approvals Approver
	System    SystemSource
	Bus       Publisher
}

// Status is a read-out of the session state.
type Status struct {
	Enabled  bool
	Approve  bool
	Busy     bool
	Turns    int
	MaxTurns int
	History  int
	Provider string
}

// Session is the single conversation context. It is safe for concurrent use.
type Session struct {
	cfg  Config
	deps Deps
	now  func() time.Time

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	enabled  bool
	approve  bool
	maxTurns int
	turns    int
	busy     bool
	epoch    uint64
	history  []Entry
	histSeq  uint64

	// writeMu orders history writes made after mu is released.
	writeMu sync.Mutex
	written uint64
}

// New creates a session with default settings. Call Load to restore
// persisted state.
func New(cfg Config, deps Deps) *Session {
	cfg.Limits = cfg.Limits.withDefaults()
	if cfg.Temperature == nil {
		t := 0.7
		cfg.Temperature = &t
	}
	if cfg.DefaultMaxTurns <= 0 {
		cfg.DefaultMaxTurns = 2000
	}
	base, cancel := context.WithCancel(context.Background())
	return &Session{
		cfg:      cfg,
		deps:     deps,
		now:      time.Now,
		base:     base,
		cancel:   cancel,
		maxTurns: cfg.DefaultMaxTurns,
	}
}

// Load restores settings, history and the turn counter from the store.
// Malformed values are logged and replaced by defaults.
func (s *Session) Load(ctx context.Context) error {
	rec, err := s.deps.Store.Get(ctx, KeyEnabled, KeyApprove, KeyMaxTurns, KeyHistory, KeyTurns)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	decode := func(key string, dst any) {
		if _, err := rec.Decode(key, dst); err != nil {
			slog.Warn("session: ignoring malformed stored value", "key", key, "err", err)
		}
	}
	decode(KeyEnabled, &s.enabled)
	decode(KeyApprove, &s.approve)
	decode(KeyMaxTurns, &s.maxTurns)
	decode(KeyTurns, &s.turns)
	var h []Entry
	decode(KeyHistory, &h)
	s.history = Clamp(h, s.cfg.Limits)

	if s.maxTurns < 1 {
		s.maxTurns = 1
	}
	if s.turns < 0 {
		s.turns = 0
	}
	return nil
}

// OnIncomingText records a counterpart message and, when a reply is due,
// starts generating it in the background. It reports whether generation was
// started.
func (s *Session) OnIncomingText(ctx context.Context, text string) bool {
	s.mu.Lock()

	s.history = Clamp(append(s.history, Entry{Role: llm.RoleUser, Content: text, Timestamp: s.now()}), s.cfg.Limits)
	rec, seq := s.historyRecordLocked()

	if !s.enabled || s.busy {
		s.mu.Unlock()
		s.writeHistory(ctx, rec, seq)
		return false
	}
	if s.turns >= s.maxTurns {
		s.mu.Unlock()
		s.writeHistory(ctx, rec, seq)
		s.notify(ctx, bus.LevelInfo, "Max turns reached")
		return false
	}
	if !s.deps.LLM.HasCredential() {
		s.mu.Unlock()
		s.writeHistory(ctx, rec, seq)
		s.notify(ctx, bus.LevelError, fmt.Sprintf("No API key configured for %s", s.deps.LLM.Name()))
		return false
	}

	s.busy = true
	epoch := s.epoch
	req := s.buildRequestLocked()
	approve := s.approve
	s.mu.Unlock()
	s.writeHistory(ctx, rec, seq)

	s.publish(ctx, bus.TopicSessionBusy, bus.SessionBusy{Busy: true})

	_, traceID := trace.Ensure(ctx)
	genCtx := trace.WithTraceID(s.base, traceID)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.generate(genCtx, epoch, req, approve)
	}()
	return true
}

// buildRequestLocked assembles system messages followed by the recent
// history window.
func (s *Session) buildRequestLocked() llm.Request {
	var msgs []llm.Message
	if s.deps.System != nil {
		for _, text := range s.deps.System.Effective() {
			msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: text})
		}
	}
	window := s.history
	if len(window) > s.cfg.Limits.RequestWindow {
		window = window[len(window)-s.cfg.Limits.RequestWindow:]
	}
	for _, e := range window {
		msgs = append(msgs, llm.Message{Role: e.Role, Content: e.Content})
	}
	return llm.Request{
		Messages:       msgs,
		Temperature:    *s.cfg.Temperature,
		MaxOutputChars: s.cfg.MaxOutputChars,
	}
}

func (s *Session) generate(ctx context.Context, epoch uint64, req llm.Request, approve bool) {
	log := observability.WithTrace(ctx)
	start := s.now()

	defer func() {
		if r := recover(); r != nil {
			log.Error("session: reply generation panicked", "panic", r)
			s.notify(ctx, bus.LevelError, fmt.Sprintf("Reply failed: %v", r))
		}
		s.mu.Lock()
		current := s.epoch == epoch
		if current {
			s.busy = false
		}
		s.mu.Unlock()
		if current {
			s.publish(ctx, bus.TopicSessionBusy, bus.SessionBusy{Busy: false})
		}
	}()

	reply, err := s.deps.LLM.Complete(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		log.Warn("session: completion failed", "provider", s.deps.LLM.Name(), "err", err)
		s.notify(ctx, bus.LevelError, err.Error())
		return
	}
	if reply == "" {
		s.notify(ctx, bus.LevelWarn, "Empty reply from "+s.deps.LLM.Name())
		return
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		log.Info("session: discarding reply that completed after stop or reset")
		return
	}
	s.history = Clamp(append(s.history, Entry{Role: llm.RoleAssistant, Content: reply, Timestamp: s.now()}), s.cfg.Limits)
	s.turns++
	rec, seq := s.historyRecordLocked()
	s.mu.Unlock()
	s.writeHistory(ctx, rec, seq)

	log.Info("session: reply generated", "chars", len(reply), "duration", s.now().Sub(start))

	if approve {
		s.deps.Approvals.Add(ctx, reply)
		return
	}
	if err := s.deps.Sender.InjectAndSend(ctx, reply); err != nil {
		p := s.deps.Approvals.Add(ctx, reply)
		log.Warn("session: inject failed, reply held for approval", "pending_id", p.ID, "err", err)
		s.notify(ctx, bus.LevelError, fmt.Sprintf("Inject failed: %v (reply held as %s)", err, p.ID))
	}
}

// Wait blocks until any in-flight generation has finished.
func (s *Session) Wait() { s.wg.Wait() }

// Close cancels in-flight generation and waits for it to end.
func (s *Session) Close() {
	s.cancel()
	s.wg.Wait()
}

// Stop clears busy without waiting for the in-flight call. Its result, when
// it arrives, is discarded.
func (s *Session) Stop(ctx context.Context) {
	s.mu.Lock()
	s.epoch++
	wasBusy := s.busy
	s.busy = false
	s.mu.Unlock()
	if wasBusy {
		s.publish(ctx, bus.TopicSessionBusy, bus.SessionBusy{Busy: false})
	}
}

// Reset wipes history and the turn counter. Like Stop, it clears busy and
// any reply still in flight is discarded.
func (s *Session) Reset(ctx context.Context) {
	s.mu.Lock()
	s.epoch++
	wasBusy := s.busy
	s.busy = false
	s.history = nil
	s.turns = 0
	rec, seq := s.historyRecordLocked()
	s.mu.Unlock()

	s.writeHistory(ctx, rec, seq)
	if wasBusy {
		s.publish(ctx, bus.TopicSessionBusy, bus.SessionBusy{Busy: false})
	}
}

// SetEnabled toggles auto-replies.
func (s *Session) SetEnabled(ctx context.Context, on bool) error {
	s.mu.Lock()
	s.enabled = on
	s.mu.Unlock()
	return kv.Save(ctx, s.deps.Store, KeyEnabled, on)
}

// SetApproveBeforeSend toggles routing replies through the approval queue.
func (s *Session) SetApproveBeforeSend(ctx context.Context, on bool) error {
	s.mu.Lock()
	s.approve = on
	s.mu.Unlock()
	return kv.Save(ctx, s.deps.Store, KeyApprove, on)
}

// SetMaxTurns sets the reply budget, clamped to at least 1. The stored
// value is returned.
func (s *Session) SetMaxTurns(ctx context.Context, n int) (int, error) {
	n = max(n, 1)
	s.mu.Lock()
	s.maxTurns = n
	s.mu.Unlock()
	return n, kv.Save(ctx, s.deps.Store, KeyMaxTurns, n)
}

// SetSystemPrompt replaces the global system message.
func (s *Session) SetSystemPrompt(ctx context.Context, text string) error {
	if s.deps.System == nil {
		return errors.New("no system message library configured")
	}
	return s.deps.System.SetGlobal(ctx, text)
}

// Snapshot returns the current status.
func (s *Session) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Enabled:  s.enabled,
		Approve:  s.approve,
		Busy:     s.busy,
		Turns:    s.turns,
		MaxTurns: s.maxTurns,
		History:  len(s.history),
		Provider: s.deps.LLM.Name(),
	}
}

// History returns a copy of the stored history.
func (s *Session) History() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.history...)
}

// Transcript renders the last n history entries.
func (s *Session) Transcript(n int) string {
	return Transcript(s.History(), n)
}

// historyRecordLocked encodes history and turns for a later writeHistory.
// The sequence number lets writeHistory drop a record older than one
// already written.
func (s *Session) historyRecordLocked() (kv.Record, uint64) {
	s.histSeq++
	rec := kv.Record{}
	if err := rec.Put(KeyHistory, s.history); err != nil {
		slog.Error("session: encode history", "err", err)
		return nil, s.histSeq
	}
	if err := rec.Put(KeyTurns, s.turns); err != nil {
		slog.Error("session: encode turns", "err", err)
		return nil, s.histSeq
	}
	return rec, s.histSeq
}

// writeHistory stores rec. It must be called without mu held.
func (s *Session) writeHistory(ctx context.Context, rec kv.Record, seq uint64) {
	if rec == nil {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if seq <= s.written {
		return
	}
	if err := s.deps.Store.Set(ctx, rec); err != nil {
		slog.Warn("session: persist history failed", "err", err)
		return
	}
	s.written = seq
}

func (s *Session) notify(ctx context.Context, level bus.Level, text string) {
	s.publish(ctx, bus.TopicNotice, bus.Notice{Level: level, Text: text})
}

func (s *Session) publish(ctx context.Context, topic bus.Topic, payload any) {
	if s.deps.Bus != nil {
		s.deps.Bus.Publish(ctx, topic, payload)
	}
}
