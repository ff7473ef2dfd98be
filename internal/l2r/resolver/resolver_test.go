package resolver_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bdobrica/l2r/internal/l2r/bridge"
	"github.com/bdobrica/l2r/internal/l2r/bus"
	"github.com/bdobrica/l2r/internal/l2r/chess"
	"github.com/bdobrica/l2r/internal/l2r/kv"
	"github.com/bdobrica/l2r/internal/l2r/llm"
	"github.com/bdobrica/l2r/internal/l2r/resolver"
)

// fakeLLM answers every call with reply and counts calls.
type fakeLLM struct {
	mu    sync.Mutex
	reply string
	err   error
	calls int
}

func (f *fakeLLM) Name() string        { return "openai" }
func (f *fakeLLM) HasCredential() bool { return true }

func (f *fakeLLM) Complete(context.Context, llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.reply, f.err
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type harness struct {
	r      *resolver.Resolver
	llm    *fakeLLM
	bridge *bridge.Memory
	store  *kv.Memory
	boards []bus.ChessBoard
	overs  []bus.ChessOver
}

func newHarness(t *testing.T, f *fakeLLM) *harness {
	t.Helper()
	if f == nil {
		f = &fakeLLM{}
	}
	b := bus.New()
	h := &harness{llm: f, bridge: bridge.NewMemory(), store: kv.NewMemory()}
	bus.On(b, bus.TopicChessBoard, func(_ context.Context, e bus.ChessBoard) { h.boards = append(h.boards, e) })
	bus.On(b, bus.TopicChessOver, func(_ context.Context, e bus.ChessOver) { h.overs = append(h.overs, e) })
	h.r = resolver.New(resolver.Config{}, resolver.Deps{Store: h.store, LLM: f, Sender: h.bridge, Bus: b})
	return h
}

func (h *harness) sentContaining(sub string) int {
	n := 0
	for _, s := range h.bridge.Sent() {
		if strings.Contains(s, sub) {
			n++
		}
	}
	return n
}

func TestOnIncomingText_LocalMatchSkipsModel(t *testing.T) {
	ctx := context.Background()
	for _, text := range []string{"let's go e2e4", "I play e4", "e4", "E2E4!"} {
		t.Run(text, func(t *testing.T) {
			h := newHarness(t, &fakeLLM{reply: `{"move":"d4","notation":"san"}`})
			if err := h.r.Start(ctx, chess.White); err != nil {
				t.Fatalf("Start: %v", err)
			}
			mv, ok := h.r.OnIncomingText(ctx, text)
			if !ok || mv.SAN != "e4" {
				t.Fatalf("OnIncomingText = %+v, %v; want e4", mv, ok)
			}
			if n := h.llm.callCount(); n != 0 {
				t.Fatalf("model called %d times, want 0", n)
			}
		})
	}
}

func TestOnIncomingText_LongestSANWins(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	if err := h.r.StartFrom(ctx, chess.White, "4k3/8/8/8/8/8/4P1B1/4K3 w - - 0 1"); err != nil {
		t.Fatalf("StartFrom: %v", err)
	}
	mv, ok := h.r.OnIncomingText(ctx, "I'll play Be4 now")
	if !ok || mv.SAN != "Be4" {
		t.Fatalf("got %+v, %v; want Be4", mv, ok)
	}
}

func TestOnIncomingText_ModelFallback(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeLLM{reply: "```json\n{\"move\":\"g1f3\",\"notation\":\"uci\"}\n```"})
	if err := h.r.Start(ctx, chess.White); err != nil {
		t.Fatalf("Start: %v", err)
	}
	mv, ok := h.r.OnIncomingText(ctx, "knight to the kingside, the usual")
	if !ok || mv.SAN != "Nf3" {
		t.Fatalf("got %+v, %v; want Nf3", mv, ok)
	}
	if n := h.llm.callCount(); n != 1 {
		t.Fatalf("model called %d times, want 1", n)
	}
}

func TestOnIncomingText_ModelIllegalMoveIsRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeLLM{reply: `{"move":"Ke2","notation":"san"}`})
	if err := h.r.Start(ctx, chess.White); err != nil {
		t.Fatalf("Start: %v", err)
	}
	before := h.r.Status().FEN

	if _, ok := h.r.OnIncomingText(ctx, "do something clever"); ok {
		t.Fatal("illegal model move was applied")
	}
	if after := h.r.Status().FEN; after != before {
		t.Fatalf("position changed: %s -> %s", before, after)
	}
	if h.sentContaining("not a legal move") != 1 {
		t.Fatalf("expected one legal-moves message, sent %q", h.bridge.Sent())
	}
	if !strings.Contains(h.bridge.Sent()[0], "Nf3") {
		t.Fatalf("message does not list legal moves: %q", h.bridge.Sent()[0])
	}
}

func TestOnIncomingText_ModelFailureIsNoMatch(t *testing.T) {
	ctx := context.Background()
	for name, f := range map[string]*fakeLLM{
		"transport error": {err: &llm.StatusError{Provider: "openai", StatusCode: 500, Message: "boom"}},
		"malformed":       {reply: "Nf3 I guess"},
		"empty move":      {reply: `{"move":""}`},
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, f)
			if err := h.r.Start(ctx, chess.White); err != nil {
				t.Fatalf("Start: %v", err)
			}
			if _, ok := h.r.OnIncomingText(ctx, "hmm, let me think"); ok {
				t.Fatal("expected no move")
			}
			if len(h.bridge.Sent()) != 0 {
				t.Fatalf("nothing should be sent, got %q", h.bridge.Sent())
			}
		})
	}
}

func TestOnIncomingText_SideGate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	if err := h.r.Start(ctx, chess.Black); err != nil {
		t.Fatalf("Start: %v", err)
	}
	before := h.r.Status().FEN
	if _, ok := h.r.OnIncomingText(ctx, "e4"); ok {
		t.Fatal("move applied on the human's turn")
	}
	if h.r.Status().FEN != before || h.llm.callCount() != 0 {
		t.Fatal("side gate should reject before any work")
	}
}

func TestOnIncomingText_CastleWord(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	if err := h.r.StartFrom(ctx, chess.White, "4k3/8/8/8/8/8/8/4K2R w K - 0 1"); err != nil {
		t.Fatalf("StartFrom: %v", err)
	}
	mv, ok := h.r.OnIncomingText(ctx, "I'll castle")
	if !ok || mv.SAN != "O-O" {
		t.Fatalf("got %+v, %v; want O-O", mv, ok)
	}
}

func TestOnIncomingText_IgnoredUnlessRunning(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	if _, ok := h.r.OnIncomingText(ctx, "e4"); ok {
		t.Fatal("move applied before Start")
	}
	if err := h.r.Start(ctx, chess.White); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.r.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if _, ok := h.r.OnIncomingText(ctx, "e4"); ok {
		t.Fatal("move applied while paused")
	}
	if st, err := h.r.TogglePause(); err != nil || st != resolver.StatusRunning {
		t.Fatalf("TogglePause = %v, %v", st, err)
	}
	if _, ok := h.r.OnIncomingText(ctx, "e4"); !ok {
		t.Fatal("move not applied after resume")
	}
}

func TestGameOver_FoolsMate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	if err := h.r.Start(ctx, chess.White); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, ok := h.r.OnIncomingText(ctx, "f3"); !ok {
		t.Fatal("f3 not applied")
	}
	clicks := func(squares ...string) {
		t.Helper()
		for _, sq := range squares {
			if _, err := h.r.Click(ctx, sq); err != nil {
				t.Fatalf("Click(%s): %v", sq, err)
			}
		}
	}
	clicks("e7", "e5")
	if _, ok := h.r.OnIncomingText(ctx, "g4"); !ok {
		t.Fatal("g4 not applied")
	}
	clicks("d8", "h4")

	st := h.r.Status()
	if st.Status != resolver.StatusOver || st.Reason != resolver.ReasonCheckmate || st.Winner != chess.Black {
		t.Fatalf("state = %+v, want over by checkmate for black", st)
	}
	if st.Result != "0-1" {
		t.Fatalf("Result header = %q, want 0-1", st.Result)
	}
	if n := h.sentContaining("Game over"); n != 1 {
		t.Fatalf("summary sent %d times, want 1: %q", n, h.bridge.Sent())
	}
	if len(h.overs) != 1 || h.overs[0].Result != "0-1" {
		t.Fatalf("chess.over events = %+v", h.overs)
	}

	// Nothing more happens once the game is over.
	if _, ok := h.r.OnIncomingText(ctx, "a3"); ok {
		t.Fatal("move applied after game over")
	}
	if _, err := h.r.Click(ctx, "a7"); !errors.Is(err, resolver.ErrGameOver) {
		t.Fatalf("Click after game over: %v", err)
	}
	if n := h.sentContaining("Game over"); n != 1 {
		t.Fatalf("summary repeated: %q", h.bridge.Sent())
	}
}

func TestClick(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	if err := h.r.Start(ctx, chess.Black); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := h.r.Click(ctx, "e4"); err == nil {
		t.Fatal("selecting an empty square should fail")
	}
	if _, err := h.r.Click(ctx, "e7"); err == nil {
		t.Fatal("selecting an opponent piece should fail")
	}
	out, err := h.r.Click(ctx, "g1")
	if err != nil || out.Selected != "g1" {
		t.Fatalf("Click(g1) = %+v, %v", out, err)
	}
	out, err = h.r.Click(ctx, "e2")
	if err != nil || out.Selected != "e2" {
		t.Fatalf("reselect = %+v, %v", out, err)
	}
	if _, err := h.r.Click(ctx, "e5"); !errors.Is(err, chess.ErrIllegalMove) {
		t.Fatalf("illegal target: %v", err)
	}
	if h.r.Status().Selected != "" {
		t.Fatal("selection should clear after a failed move")
	}
	h.r.Click(ctx, "e2")
	out, err = h.r.Click(ctx, "e4")
	if err != nil || !out.Moved || out.Move.SAN != "e4" {
		t.Fatalf("move = %+v, %v", out, err)
	}

	sent := h.bridge.Sent()
	if len(sent) != 1 || !strings.HasPrefix(sent[0], "My move: e4.") || !strings.Contains(sent[0], "Nf6") {
		t.Fatalf("broadcast = %q", sent)
	}
	if _, err := h.r.Click(ctx, "d2"); !errors.Is(err, resolver.ErrNotYourTurn) {
		t.Fatalf("Click on the counterpart's turn: %v", err)
	}
	if len(h.boards) != 2 || h.boards[1].SAN != "e4" {
		t.Fatalf("board events = %+v", h.boards)
	}
}

func TestPlayHuman(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	if _, err := h.r.PlayHuman(ctx, "e4"); !errors.Is(err, resolver.ErrNotStarted) {
		t.Fatalf("PlayHuman before start: %v", err)
	}
	if err := h.r.Start(ctx, chess.Black); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if mv, err := h.r.PlayHuman(ctx, "g1f3"); err != nil || mv.SAN != "Nf3" {
		t.Fatalf("PlayHuman(uci) = %+v, %v", mv, err)
	}
	if _, ok := h.r.OnIncomingText(ctx, "d5"); !ok {
		t.Fatal("counterpart move not applied")
	}
	if mv, err := h.r.PlayHuman(ctx, "d4"); err != nil || mv.UCI != "d2d4" {
		t.Fatalf("PlayHuman(san) = %+v, %v", mv, err)
	}
}

func TestHeaders(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	if err := h.r.Start(ctx, chess.Black); err != nil {
		t.Fatalf("Start: %v", err)
	}
	pgn := h.r.PGN()
	for _, want := range []string{`[White "Player"]`, `[Black "Partner"]`, `[Event "Casual game"]`} {
		if !strings.Contains(pgn, want) {
			t.Errorf("PGN missing %s:\n%s", want, pgn)
		}
	}
}

func TestSlots(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	if _, err := h.r.Save(ctx, "x"); !errors.Is(err, resolver.ErrNotStarted) {
		t.Fatalf("Save before start: %v", err)
	}
	if err := h.r.Start(ctx, chess.White); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.r.OnIncomingText(ctx, "e4")
	saved, err := h.r.Save(ctx, "opening")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	h.r.PlayHuman(ctx, "c5")
	if err := h.r.Load(ctx, "opening"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	st := h.r.Status()
	if st.FEN != saved.FEN || st.Status != resolver.StatusRunning || st.Turn != chess.Black {
		t.Fatalf("after Load: %+v", st)
	}

	if err := h.r.Rename(ctx, "opening", "sicilian?"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, err := h.r.Save(ctx, "other"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := h.r.Rename(ctx, "other", "sicilian?"); !errors.Is(err, resolver.ErrSlotExists) {
		t.Fatalf("Rename onto existing: %v", err)
	}
	if err := h.r.Load(ctx, "opening"); !errors.Is(err, resolver.ErrNoSlot) {
		t.Fatalf("Load old name: %v", err)
	}
	if err := h.r.Delete(ctx, "other"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	slots, err := h.r.Slots(ctx)
	if err != nil || len(slots) != 1 || slots[0].Name != "sicilian?" || slots[0].AssistantSide != chess.White {
		t.Fatalf("Slots = %+v, %v", slots, err)
	}

	// Slots live in the store and survive a new resolver.
	other := resolver.New(resolver.Config{}, resolver.Deps{Store: h.store, Sender: bridge.NewMemory()})
	if err := other.Load(ctx, "sicilian?"); err != nil {
		t.Fatalf("Load from fresh resolver: %v", err)
	}
	if got := other.Status().FEN; got != saved.FEN {
		t.Fatalf("restored FEN = %s, want %s", got, saved.FEN)
	}
}

func TestStartFrom_RejectsDecidedPosition(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.r.StartFrom(context.Background(), chess.White, "7k/5Q2/6K1/8/8/8/8/8 b - - 0 1"); err == nil {
		t.Fatal("expected an error for a stalemate position")
	}
	if h.r.Status().Status != resolver.StatusNotStarted {
		t.Fatal("status should be unchanged")
	}
}

func TestBoard(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.r.Start(context.Background(), chess.White); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := h.r.Board(); !strings.HasSuffix(got, "running, white to move") {
		t.Fatalf("Board() = %q", got)
	}
}

// gatedLLM blocks every call until release is closed.
type gatedLLM struct {
	reply   string
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedLLM(reply string) *gatedLLM {
	return &gatedLLM{reply: reply, started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedLLM) Name() string        { return "openai" }
func (g *gatedLLM) HasCredential() bool { return true }

func (g *gatedLLM) Complete(ctx context.Context, _ llm.Request) (string, error) {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
		return g.reply, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func startModelCall(t *testing.T, g *gatedLLM) (*resolver.Resolver, *bridge.Memory, chan bool) {
	t.Helper()
	ctx := context.Background()
	chat := bridge.NewMemory()
	r := resolver.New(resolver.Config{}, resolver.Deps{Store: kv.NewMemory(), LLM: g, Sender: chat, Bus: bus.New()})
	if err := r.Start(ctx, chess.White); err != nil {
		t.Fatalf("Start: %v", err)
	}
	done := make(chan bool, 1)
	go func() {
		_, ok := r.OnIncomingText(ctx, "the knight goes out first")
		done <- ok
	}()
	select {
	case <-g.started:
	case <-time.After(2 * time.Second):
		t.Fatal("model was never called")
	}
	return r, chat, done
}

func TestOnIncomingText_ModelCallDoesNotBlockReaders(t *testing.T) {
	g := newGatedLLM(`{"move":"g1f3","notation":"uci"}`)
	r, _, done := startModelCall(t, g)

	read := make(chan resolver.State, 1)
	go func() { read <- r.Status() }()
	select {
	case st := <-read:
		if st.Status != resolver.StatusRunning || st.Turn != chess.White {
			t.Fatalf("state = %+v", st)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Status blocked while the model call was in flight")
	}

	if err := r.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := r.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	close(g.release)
	if ok := <-done; !ok {
		t.Fatal("model answer was not applied")
	}
}

func TestOnIncomingText_StaleModelAnswerIsDiscarded(t *testing.T) {
	g := newGatedLLM(`{"move":"g1f3","notation":"uci"}`)
	r, chat, done := startModelCall(t, g)

	if err := r.Start(context.Background(), chess.Black); err != nil {
		t.Fatalf("restart: %v", err)
	}
	close(g.release)

	select {
	case ok := <-done:
		if ok {
			t.Fatal("answer for the previous game was applied")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnIncomingText did not return")
	}
	st := r.Status()
	if st.AssistantSide != chess.Black || st.Turn != chess.White {
		t.Fatalf("state = %+v", st)
	}
	if len(chat.Sent()) != 0 {
		t.Fatalf("sent = %v", chat.Sent())
	}
}

func TestOnIncomingText_ModelAnswerAppliedAfterUnrelatedRead(t *testing.T) {
	g := newGatedLLM(`{"move":"g1f3","notation":"uci"}`)
	r, _, done := startModelCall(t, g)

	_ = r.Board()
	close(g.release)
	if ok := <-done; !ok {
		t.Fatal("model answer was not applied")
	}
	if st := r.Status(); st.Turn != chess.Black {
		t.Fatalf("turn = %s, want black", st.Turn)
	}
}
