// Package app wires the l2r components together and runs them.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bdobrica/l2r/common/retry"
	"github.com/bdobrica/l2r/common/trace"
	"github.com/bdobrica/l2r/internal/l2r/approvals"
	"github.com/bdobrica/l2r/internal/l2r/bridge"
	"github.com/bdobrica/l2r/internal/l2r/bus"
	"github.com/bdobrica/l2r/internal/l2r/commands"
	"github.com/bdobrica/l2r/internal/l2r/config"
	"github.com/bdobrica/l2r/internal/l2r/images"
	"github.com/bdobrica/l2r/internal/l2r/kv"
	"github.com/bdobrica/l2r/internal/l2r/llm"
	"github.com/bdobrica/l2r/internal/l2r/observability"
	"github.com/bdobrica/l2r/internal/l2r/prompts"
	"github.com/bdobrica/l2r/internal/l2r/resolver"
	"github.com/bdobrica/l2r/internal/l2r/session"
)

// moveQueueSize bounds the chat lines waiting for the move resolver.
const moveQueueSize = 64

// AdminChannel posts operator-facing notices. *bridge.Matrix satisfies it.
type AdminChannel interface {
	Notify(ctx context.Context, text string) error
	NotifyFormatted(ctx context.Context, text, html string) error
}

// Options overrides the transports New would otherwise build from the
// configuration. Zero fields are built from the configuration.
type Options struct {
	Chat  bridge.Bridge
	Admin AdminChannel
	Store kv.Store
}

// App is the main l2r application
type App struct {
	cfg     config.Config
	secrets []string

	store  kv.Store
	closer io.Closer
	bus    *bus.Bus
	matrix *bridge.Matrix
	chat   bridge.Bridge
	admin  AdminChannel

	selector  *llm.Selector
	prompts   *prompts.Library
	approvals *approvals.Queue
	session   *session.Session
	chess     *resolver.Resolver
	images    *images.Lab
	router    *commands.Router
	health    *HealthServer

	moves  chan string
	unsubs []func()
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// New creates a new l2r application from cfg.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	return NewWith(ctx, cfg, Options{})
}

// NewWith is New with some transports supplied by the caller.
func NewWith(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	a := &App{
		cfg:     cfg,
		secrets: cfg.Secrets(),
		bus:     bus.New(),
		moves:   make(chan string, moveQueueSize),
	}

	store := opts.Store
	if store == nil {
		if cfg.Store.Memory() {
			slog.Warn("no store path configured, state will not survive a restart")
			store = kv.NewMemory()
		} else {
			db, err := kv.OpenSQLite(cfg.Store.Path)
			if err != nil {
				return nil, fmt.Errorf("failed to open store: %w", err)
			}
			a.closer = db
			store = db
		}
	}
	a.store = kv.NewFallback(store)

	a.chat, a.admin = opts.Chat, opts.Admin
	if a.chat == nil {
		m, err := bridge.NewMatrix(bridge.MatrixConfig{
			Homeserver:  cfg.Matrix.Homeserver,
			UserID:      cfg.Matrix.UserID,
			AccessToken: cfg.Matrix.AccessToken,
			ChatRoom:    cfg.Matrix.ChatRoom,
			Counterpart: cfg.Matrix.Counterpart,
			AdminRoom:   cfg.Matrix.AdminRoom,
			Operator:    cfg.Matrix.Operator,
			Store:       a.store,
			Log:         observability.Zerolog(os.Stdout, cfg.Log.Level, cfg.Log.Format),
		})
		if err != nil {
			a.closeStore()
			return nil, err
		}
		a.matrix = m
		a.chat = m
		if a.admin == nil {
			a.admin = m
		}
		m.OnAdmin(a.handleAdmin)
	}

	policy := retry.Policy{
		MaxAttempts: cfg.LLM.Retry.MaxAttempts,
		BaseDelay:   cfg.LLM.Retry.BaseDelay,
		Jitter:      cfg.LLM.Retry.Jitter,
	}
	openaiClient := llm.NewOpenAI(llm.OpenAIConfig{
		APIKey:  cfg.LLM.OpenAI.APIKey,
		BaseURL: cfg.LLM.OpenAI.BaseURL,
		Model:   cfg.LLM.OpenAI.Model,
		Timeout: cfg.LLM.OpenAI.Timeout,
	})
	geminiClient := llm.NewGemini(llm.GeminiConfig{
		APIKey:  cfg.LLM.Gemini.APIKey,
		BaseURL: cfg.LLM.Gemini.BaseURL,
		Model:   cfg.LLM.Gemini.Model,
		Timeout: cfg.LLM.Gemini.Timeout,
	})
	a.selector = llm.NewSelector(a.store, llm.Kind(strings.ToLower(cfg.LLM.Provider)), map[llm.Kind]llm.Provider{
		llm.KindOpenAI: llm.WithRetry(openaiClient, policy),
		llm.KindGemini: llm.WithRetry(geminiClient, policy),
	})

	a.prompts = prompts.New(a.store)
	a.approvals = approvals.New(a.chat, a.bus)
	a.session = session.New(session.Config{
		Limits: session.Limits{
			MaxMessages:   cfg.Session.MaxMessages,
			MaxChars:      cfg.Session.MaxChars,
			MinMessages:   cfg.Session.MinMessages,
			RequestWindow: cfg.Session.RequestWindow,
		},
		Temperature:     &cfg.Session.Temperature,
		MaxOutputChars:  cfg.Session.MaxOutputChars,
		DefaultMaxTurns: cfg.Session.MaxTurns,
	}, session.Deps{
		Store:     a.store,
		LLM:       a.selector,
		Sender:    a.chat,
		Approvals: a.approvals,
		System:    a.prompts,
		Bus:       a.bus,
	})
	a.chess = resolver.New(resolver.Config{
		PlayerName:      cfg.Chess.PlayerName,
		CounterpartName: cfg.Chess.CounterpartName,
		Commentary:      cfg.Chess.Commentary,
	}, resolver.Deps{
		Store:  a.store,
		LLM:    a.selector,
		Sender: a.chat,
		Bus:    a.bus,
	})
	a.images = images.New(images.Config{MaxGallery: cfg.Images.MaxGallery}, images.Deps{
		Store:  a.store,
		LLM:    a.selector,
		Images: openaiClient,
		Chat:   a.session,
		Bus:    a.bus,
	})

	if err := a.load(ctx); err != nil {
		a.closeStore()
		return nil, err
	}

	a.router = commands.NewRouter(commands.Prefix)
	commands.NewHandlers(commands.Deps{
		Session:   a.session,
		Approvals: a.approvals,
		Prompts:   a.prompts,
		Provider:  a.selector,
		Chess:     a.chess,
		Images:    a.images,
		Chat:      a.chat,
	}).Register(a.router)

	if cfg.HTTP.Addr != "" {
		a.health = NewHealthServer(cfg.HTTP.Addr, a)
	}

	a.subscribe()
	return a, nil
}

func (a *App) load(ctx context.Context) error {
	if err := a.selector.Load(ctx); err != nil {
		return fmt.Errorf("load provider: %w", err)
	}
	if err := a.prompts.EnsureDefaults(ctx, a.cfg.Session.SystemPrompt); err != nil {
		return fmt.Errorf("load system messages: %w", err)
	}
	if err := a.session.Load(ctx); err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if err := a.images.Load(ctx); err != nil {
		return fmt.Errorf("load image lab: %w", err)
	}
	return nil
}

// subscribe connects the chat bridge to the bus and the bus to its
// consumers.
func (a *App) subscribe() {
	a.unsubs = append(a.unsubs,
		a.chat.Observe(func(ctx context.Context, msg bridge.Message) {
			ctx, _ = trace.Ensure(ctx)
			a.bus.Publish(ctx, bus.TopicChatText, bus.ChatText{ID: msg.ID, Text: msg.Text})
		}),
		bus.On(a.bus, bus.TopicChatText, func(ctx context.Context, t bus.ChatText) {
			a.session.OnIncomingText(ctx, t.Text)
		}),
		bus.On(a.bus, bus.TopicChatText, func(ctx context.Context, t bus.ChatText) {
			a.enqueueMove(t.Text)
		}),
		bus.On(a.bus, bus.TopicNotice, a.relayNotice),
		bus.On(a.bus, bus.TopicApprovalAdded, func(ctx context.Context, p bus.ApprovalAdded) {
			a.notifyAdmin(ctx, fmt.Sprintf("Reply **%s** awaits approval:\n%s\n\nUse `%s accept %s` or `%s discard %s`.",
				p.ID, p.Text, commands.Prefix, p.ID, commands.Prefix, p.ID))
		}),
		bus.On(a.bus, bus.TopicChessBoard, func(ctx context.Context, b bus.ChessBoard) {
			a.notifyAdmin(ctx, fmt.Sprintf("**%s**\n```\n%s\n```", b.SAN, b.Board))
		}),
		bus.On(a.bus, bus.TopicChessOver, func(ctx context.Context, o bus.ChessOver) {
			a.notifyAdmin(ctx, fmt.Sprintf("%s (%s)", o.Summary, o.Result))
		}),
		bus.On(a.bus, bus.TopicImageGenerated, func(ctx context.Context, img bus.ImageGenerated) {
			a.notifyAdmin(ctx, "New image: "+img.URL)
		}),
		bus.On(a.bus, bus.TopicSessionBusy, func(ctx context.Context, b bus.SessionBusy) {
			slog.Debug("session busy changed", "busy", b.Busy)
		}),
	)
}

// enqueueMove hands a chat line to the move worker. Lines are dropped when
// the worker falls too far behind.
func (a *App) enqueueMove(text string) {
	select {
	case a.moves <- text:
	default:
		slog.Warn("move queue full, dropping chat line")
	}
}

// runMoves feeds the resolver one line at a time, in arrival order.
func (a *App) runMoves(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-a.moves:
			a.chess.OnIncomingText(ctx, text)
		}
	}
}

func (a *App) relayNotice(ctx context.Context, n bus.Notice) {
	text := observability.RedactSecrets(n.Text, a.secrets...)
	log := observability.WithTrace(ctx)
	switch n.Level {
	case bus.LevelError:
		log.Error("notice", "text", text)
	case bus.LevelWarn:
		log.Warn("notice", "text", text)
	default:
		log.Info("notice", "text", text)
	}
	prefix := "ℹ️ "
	switch n.Level {
	case bus.LevelError:
		prefix = "❌ "
	case bus.LevelWarn:
		prefix = "⚠️ "
	}
	a.notifyAdmin(ctx, prefix+text)
}

// handleAdmin routes an operator message and replies in the admin room.
func (a *App) handleAdmin(ctx context.Context, sender, text string) {
	ctx, traceID := trace.Ensure(ctx)
	response, err := a.router.Route(ctx, text, sender)
	if err != nil {
		if errors.Is(err, commands.ErrNotACommand) {
			return
		}
		slog.Warn("command failed", "trace_id", traceID, "sender", sender,
			"err", observability.RedactSecrets(err.Error(), a.secrets...))
		a.notifyAdmin(ctx, fmt.Sprintf("❌ Error: %s", err))
		return
	}
	if response != "" {
		a.notifyAdmin(ctx, response)
	}
}

// notifyAdmin posts markdown-ish text to the admin room with an HTML
// rendering. Failures are logged only.
func (a *App) notifyAdmin(ctx context.Context, text string) {
	if a.admin == nil {
		return
	}
	text = observability.RedactSecrets(text, a.secrets...)
	if err := a.admin.NotifyFormatted(ctx, text, markdownToHTML(text)); err != nil {
		slog.Warn("admin notice not sent", "err", observability.RedactSecrets(err.Error(), a.secrets...))
		if err := a.admin.Notify(ctx, text); err != nil {
			slog.Warn("admin plain notice not sent", "err", observability.RedactSecrets(err.Error(), a.secrets...))
		}
	}
}

// Start begins syncing and processing in the background.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}

	if a.health != nil {
		if err := a.health.Start(ctx); err != nil {
			slog.Warn("health server failed to start; continuing without it", "err", err)
		}
	}

	a.wg.Add(1)
	go a.runMoves(ctx)

	if a.matrix != nil {
		slog.Info("starting Matrix sync")
		if err := a.matrix.Start(ctx); err != nil {
			return fmt.Errorf("failed to start Matrix client: %w", err)
		}
	}
	a.started = true
	return nil
}

// Run starts the application and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.Start(ctx); err != nil {
		cancel()
		a.Stop()
		return err
	}
	slog.Info("l2r is running", "chat_room", a.cfg.Matrix.ChatRoom, "admin_room", a.cfg.Matrix.AdminRoom)
	<-ctx.Done()

	slog.Info("shutting down")
	cancel()
	a.Stop()
	return nil
}

// Stop gracefully shuts down the application. ctx passed to Start must be
// cancelled first for the move worker to exit.
func (a *App) Stop() {
	if a.matrix != nil {
		slog.Info("stopping Matrix client")
		a.matrix.Stop()
	}
	if a.health != nil {
		slog.Info("stopping health server")
		a.health.Stop()
	}
	for _, u := range a.unsubs {
		u()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		slog.Warn("move worker did not stop in time")
	}

	a.session.Close()
	slog.Info("closing store")
	a.closeStore()
}

func (a *App) closeStore() {
	if a.closer == nil {
		return
	}
	if err := a.closer.Close(); err != nil {
		slog.Warn("close store", "err", err)
	}
}

// RuntimeStatus implements the health server's status source.
func (a *App) RuntimeStatus() RuntimeStatus {
	s := a.session.Snapshot()
	g := a.chess.Status()
	out := RuntimeStatus{
		Linked:   s.Enabled,
		Approve:  s.Approve,
		Busy:     s.Busy,
		Turns:    s.Turns,
		MaxTurns: s.MaxTurns,
		Provider: s.Provider,
		Pending:  a.approvals.Len(),
		Images:   len(a.images.Gallery()),
		Chess:    string(g.Status),
	}
	if g.Status != resolver.StatusNotStarted {
		out.ChessTurn = string(g.Turn)
		out.FEN = g.FEN
	}
	return out
}
