package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/l2r/internal/l2r/kv"
)

// MatrixConfig holds the Matrix connection and room routing.
type MatrixConfig struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// ChatRoom is the linked room shared with the counterpart.
	ChatRoom string
	// Counterpart restricts observed messages to one sender. Empty accepts
	// anyone except ourselves.
	Counterpart string
	// AdminRoom receives notices and accepts commands from Operator.
	AdminRoom string
	Operator  string
	// Store persists the sync position. Nil replays history on restart.
	Store kv.Store
	// Log is handed to mautrix.
	Log zerolog.Logger
}

// AdminHandler receives operator messages from the admin room.
type AdminHandler func(ctx context.Context, sender, text string)

// Matrix implements Bridge on top of a mautrix client.
type Matrix struct {
	cfg    MatrixConfig
	client *mautrix.Client
	obs    *observers

	mu      sync.RWMutex
	admin   AdminHandler
	started bool
	stopCh  chan struct{}
	done    chan struct{}
}

// NewMatrix creates the client; call Start to begin syncing.
func NewMatrix(cfg MatrixConfig) (*Matrix, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("create Matrix client: %w", err)
	}
	client.Log = cfg.Log
	if cfg.Store != nil {
		client.Store = &kvSyncStore{store: cfg.Store}
	} else {
		slog.Warn("matrix: no store configured, room history will replay on restart")
	}
	return &Matrix{
		cfg:    cfg,
		client: client,
		obs:    newObservers(),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Observe implements Bridge.
func (m *Matrix) Observe(h Handler) func() { return m.obs.add(h) }

// OnAdmin registers the handler for operator commands.
func (m *Matrix) OnAdmin(h AdminHandler) {
	m.mu.Lock()
	m.admin = h
	m.mu.Unlock()
}

// Start joins the configured rooms and syncs in the background, reconnecting
// with exponential backoff until Stop is called.
func (m *Matrix) Start(ctx context.Context) error {
	syncer := m.client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnSync(m.client.DontProcessOldEvents)
	syncer.OnEventType(event.EventMessage, m.handleMessage)

	for _, room := range []string{m.cfg.ChatRoom, m.cfg.AdminRoom} {
		if room == "" {
			continue
		}
		if err := m.joinRoom(ctx, id.RoomID(room)); err != nil {
			return fmt.Errorf("join room %s: %w", room, err)
		}
	}

	m.mu.Lock()
	m.started = true
	m.mu.Unlock()

	go m.syncLoop(ctx)
	return nil
}

func (m *Matrix) syncLoop(ctx context.Context) {
	defer close(m.done)
	const (
		backoffMin = 2 * time.Second
		backoffMax = 5 * time.Minute
	)
	backoff := backoffMin
	for {
		err := m.client.SyncWithContext(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}
		select {
		case <-m.stopCh:
			return
		default:
		}
		slog.Error("matrix: sync stopped, reconnecting", "err", err, "backoff", backoff)
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, backoffMax)
	}
}

// Stop ends the sync loop and waits for it to exit.
func (m *Matrix) Stop() {
	m.mu.Lock()
	started := m.started
	m.started = false
	m.mu.Unlock()
	if !started {
		return
	}
	close(m.stopCh)
	m.client.StopSync()
	<-m.done
}

// InjectAndSend implements Bridge by posting a plain text message to the
// linked room.
func (m *Matrix) InjectAndSend(ctx context.Context, text string) error {
	m.mu.RLock()
	started := m.started
	m.mu.RUnlock()
	if m.cfg.ChatRoom == "" || !started {
		return ErrComposerUnavailable
	}
	content := event.MessageEventContent{MsgType: event.MsgText, Body: text}
	if _, err := m.client.SendMessageEvent(ctx, id.RoomID(m.cfg.ChatRoom), event.EventMessage, &content); err != nil {
		return fmt.Errorf("send to chat room: %w", err)
	}
	return nil
}

// Notify posts a notice to the admin room. It is a no-op without one.
func (m *Matrix) Notify(ctx context.Context, text string) error {
	if m.cfg.AdminRoom == "" {
		return nil
	}
	content := event.MessageEventContent{MsgType: event.MsgNotice, Body: text}
	if _, err := m.client.SendMessageEvent(ctx, id.RoomID(m.cfg.AdminRoom), event.EventMessage, &content); err != nil {
		return fmt.Errorf("send notice: %w", err)
	}
	return nil
}

// NotifyFormatted posts a notice with an HTML body alongside the plain one.
func (m *Matrix) NotifyFormatted(ctx context.Context, text, html string) error {
	if m.cfg.AdminRoom == "" {
		return nil
	}
	content := event.MessageEventContent{
		MsgType:       event.MsgNotice,
		Body:          text,
		Format:        event.FormatHTML,
		FormattedBody: html,
	}
	if _, err := m.client.SendMessageEvent(ctx, id.RoomID(m.cfg.AdminRoom), event.EventMessage, &content); err != nil {
		return fmt.Errorf("send notice: %w", err)
	}
	return nil
}

func (m *Matrix) handleMessage(ctx context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(m.cfg.UserID) {
		return
	}
	msg := evt.Content.AsMessage()
	if msg == nil || msg.MsgType != event.MsgText {
		return
	}
	// Edits carry the original event's text again.
	if msg.RelatesTo != nil && msg.RelatesTo.Type == event.RelReplace {
		return
	}

	switch evt.RoomID.String() {
	case m.cfg.ChatRoom:
		if m.cfg.Counterpart != "" && evt.Sender.String() != m.cfg.Counterpart {
			return
		}
		m.obs.dispatch(ctx, Message{ID: evt.ID.String(), Text: msg.Body})
	case m.cfg.AdminRoom:
		if m.cfg.Operator != "" && evt.Sender.String() != m.cfg.Operator {
			return
		}
		m.mu.RLock()
		h := m.admin
		m.mu.RUnlock()
		if h != nil {
			h(ctx, evt.Sender.String(), msg.Body)
		}
	}
}

func (m *Matrix) joinRoom(ctx context.Context, roomID id.RoomID) error {
	_, err := m.client.JoinRoomByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, mautrix.MForbidden) {
			slog.Warn("matrix: join refused, assuming membership", "room", roomID)
			return nil
		}
		return err
	}
	return nil
}
