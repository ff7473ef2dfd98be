// Package resolver turns the counterpart's chat messages into chess moves and
// drives the game lifecycle around them.
//
// Incoming text is matched locally first (UCI, SAN spellings, "castle"); only
// when nothing legal is found does the resolver ask the LLM. Whatever the
// source, a move reaches the board only after the engine confirms it is
// legal for the side to move.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bdobrica/l2r/internal/l2r/bus"
	"github.com/bdobrica/l2r/internal/l2r/chess"
	"github.com/bdobrica/l2r/internal/l2r/kv"
	"github.com/bdobrica/l2r/internal/l2r/llm"
)

var (
	ErrNotRunning  = errors.New("resolver: game is not running")
	ErrNotYourTurn = errors.New("resolver: it is not your turn")
	ErrGameOver    = errors.New("resolver: game is over, start a new one")
	ErrNotStarted  = errors.New("resolver: no game has been started")
)

// Status is the lifecycle state of the game.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusRunning    Status = "running"
	StatusPaused     Status = "paused"
	StatusOver       Status = "over"
)

// Reason explains why a game is over.
type Reason string

const (
	ReasonCheckmate            Reason = "checkmate"
	ReasonStalemate            Reason = "stalemate"
	ReasonThreefoldRepetition  Reason = "threefold_repetition"
	ReasonInsufficientMaterial Reason = "insufficient_material"
	ReasonDraw                 Reason = "draw"
)

// Sender posts a message into the chat.
type Sender interface {
	InjectAndSend(ctx context.Context, text string) error
}

// Publisher is the subset of *bus.Bus used here.
type Publisher interface {
	Publish(ctx context.Context, topic bus.Topic, payload any)
}

// Config names the players in PGN headers and toggles move commentary.
type Config struct {
	// PlayerName is the human operator. Default: "Player".
	PlayerName string
	// CounterpartName is the chat partner playing the assistant side.
	// Default: "Partner".
	CounterpartName string
	// Commentary adds a one-sentence LLM remark to the human's moves.
	Commentary bool
}

// Deps are the collaborators of a Resolver. LLM may be nil, in which case
// only local matching is used.
type Deps struct {
	Store  kv.Store
	LLM    llm.Provider
	Sender Sender
	Bus    Publisher
}

// State is a read-out of the game.
type State struct {
	Status Status
	Reason Reason
	// Winner is set for checkmates only.
	Winner        chess.Side
	AssistantSide chess.Side
	Turn          chess.Side
	Selected      string
	FEN           string
	Result        string
}

// ClickOutcome reports what a board click did.
type ClickOutcome struct {
	Selected string
	Moved    bool
	Move     chess.Move
}

// Resolver owns one game. State is guarded by a mutex that is never held
// across an LLM call or a chat send: those are queued in the outbox and run
// by unlock.
type Resolver struct {
	cfg  Config
	deps Deps
	now  func() time.Time

	mu        sync.Mutex
	game      *chess.Game
	assistant chess.Side
	status    Status
	reason    Reason
	winner    chess.Side
	selected  string
	// gen changes whenever the position does (new game, load, any move).
	gen    uint64
	outbox []func(context.Context)
}

// New returns a resolver with no game started.
func New(cfg Config, deps Deps) *Resolver {
	if cfg.PlayerName == "" {
		cfg.PlayerName = "Player"
	}
	if cfg.CounterpartName == "" {
		cfg.CounterpartName = "Partner"
	}
	return &Resolver{
		cfg:       cfg,
		deps:      deps,
		now:       time.Now,
		game:      chess.NewGame(),
		assistant: chess.White,
		status:    StatusNotStarted,
	}
}

// OnIncomingText tries to read a move for the assistant side out of text and
// play it. It does nothing unless a game is running and the assistant side is
// to move.
func (r *Resolver) OnIncomingText(ctx context.Context, text string) (chess.Move, bool) {
	r.mu.Lock()
	if r.status != StatusRunning || r.game.Turn() != r.assistant {
		r.mu.Unlock()
		return chess.Move{}, false
	}
	legal := r.game.LegalMoves()

	if m, ok := MatchLegalMove(text, legal); ok {
		mv, err := r.apply(m)
		if err == nil {
			slog.Info("resolver: move matched", "san", mv.SAN, "notation", m.Notation)
			r.afterMove(ctx, mv)
			r.unlock(ctx)
			return mv, true
		}
		slog.Warn("resolver: local match rejected by engine", "move", m.Move, "err", err)
	}
	gen, fen, side := r.gen, r.game.FEN(), r.assistant
	r.mu.Unlock()

	m, ok := askModel(ctx, r.deps.LLM, fen, side, text)
	if !ok {
		return chess.Move{}, false
	}

	r.mu.Lock()
	defer r.unlock(ctx)
	if r.gen != gen || r.status != StatusRunning {
		slog.Info("resolver: position changed during model call, discarding", "move", m.Move)
		return chess.Move{}, false
	}
	if !legalMatch(m, legal) {
		slog.Info("resolver: model proposed an illegal move", "move", m.Move)
		r.say(ctx, fmt.Sprintf("%s is not a legal move here. Legal moves: %s.", m.Move, sanList(legal)))
		return chess.Move{}, false
	}
	mv, err := r.apply(m)
	if err != nil {
		slog.Warn("resolver: model move rejected by engine", "move", m.Move, "err", err)
		return chess.Move{}, false
	}
	slog.Info("resolver: move extracted by model", "san", mv.SAN)
	r.afterMove(ctx, mv)
	return mv, true
}

func (r *Resolver) apply(m Match) (chess.Move, error) {
	if m.Notation == NotationUCI {
		return r.game.ApplyUCI(m.Move)
	}
	return r.game.ApplySAN(m.Move)
}

func (r *Resolver) afterMove(ctx context.Context, mv chess.Move) {
	r.gen++
	r.selected = ""
	r.publishBoard(ctx, mv.SAN)
	r.checkOver(ctx, mv)
}

// checkOver ends the game when the position is terminal. The summary is sent
// once because the status leaves Running here.
func (r *Resolver) checkOver(ctx context.Context, last chess.Move) bool {
	reason, winner, ok := r.terminal()
	if !ok {
		return false
	}
	if reason == ReasonThreefoldRepetition {
		if err := r.game.ClaimDraw(); err != nil {
			slog.Debug("resolver: draw claim", "err", err)
		}
	}
	result := "1/2-1/2"
	summary := ""
	switch reason {
	case ReasonCheckmate:
		result = "0-1"
		if winner == chess.White {
			result = "1-0"
		}
		summary = fmt.Sprintf("Game over. Checkmate — %s wins. Final move: %s.", sideTitle(winner), last.SAN)
	case ReasonStalemate:
		summary = "Game over. Stalemate."
	case ReasonThreefoldRepetition:
		summary = "Game over. Draw by threefold repetition."
	case ReasonInsufficientMaterial:
		summary = "Game over. Draw by insufficient material."
	default:
		summary = "Game over. Draw."
	}

	r.status, r.reason, r.winner, r.selected = StatusOver, reason, winner, ""
	r.game.SetHeader("Result", result)
	slog.Info("resolver: game over", "reason", reason, "result", result)

	r.say(ctx, summary)
	r.publish(ctx, bus.TopicChessOver, bus.ChessOver{Reason: string(reason), Result: result, Summary: summary})
	return true
}

// terminal classifies the position: checkmate, stalemate, threefold,
// insufficient material, then any other draw.
func (r *Resolver) terminal() (Reason, chess.Side, bool) {
	g := r.game
	switch {
	case g.IsCheckmate():
		return ReasonCheckmate, g.Turn().Opposite(), true
	case g.IsStalemate():
		return ReasonStalemate, "", true
	case g.IsThreefoldRepetition():
		return ReasonThreefoldRepetition, "", true
	case g.IsInsufficientMaterial():
		return ReasonInsufficientMaterial, "", true
	case g.IsDraw():
		return ReasonDraw, "", true
	}
	return "", "", false
}

// Click selects a piece of the human's side or, with a piece selected, moves
// it to square. Promotions default to a queen.
func (r *Resolver) Click(ctx context.Context, square string) (ClickOutcome, error) {
	r.mu.Lock()
	defer r.unlock(ctx)

	if err := r.humanGate(); err != nil {
		return ClickOutcome{}, err
	}
	square = strings.ToLower(strings.TrimSpace(square))
	if !chess.ValidSquare(square) {
		return ClickOutcome{}, fmt.Errorf("resolver: %q is not a square", square)
	}

	human := r.assistant.Opposite()
	piece, occupied := r.game.PieceAt(square)
	own := occupied && piece.Side == human

	if r.selected == "" || (own && square != r.selected) {
		if !own {
			return ClickOutcome{}, fmt.Errorf("resolver: no %s piece on %s", human, square)
		}
		r.selected = square
		return ClickOutcome{Selected: square}, nil
	}

	from := r.selected
	r.selected = ""
	if from == square {
		return ClickOutcome{}, nil
	}
	mv, err := r.game.Apply(from, square, "")
	if err != nil {
		return ClickOutcome{}, err
	}
	r.humanMoved(ctx, mv)
	return ClickOutcome{Moved: true, Move: mv}, nil
}

// PlayHuman plays a UCI or SAN move for the human side.
func (r *Resolver) PlayHuman(ctx context.Context, move string) (chess.Move, error) {
	r.mu.Lock()
	defer r.unlock(ctx)

	if err := r.humanGate(); err != nil {
		return chess.Move{}, err
	}
	move = strings.TrimSpace(move)
	var (
		mv  chess.Move
		err error
	)
	if uciPattern.MatchString(strings.ToLower(move)) && len(move) <= 5 {
		mv, err = r.game.ApplyUCI(move)
	} else {
		mv, err = r.game.ApplySAN(move)
	}
	if err != nil {
		return chess.Move{}, err
	}
	r.selected = ""
	r.humanMoved(ctx, mv)
	return mv, nil
}

func (r *Resolver) humanGate() error {
	switch r.status {
	case StatusNotStarted:
		return ErrNotStarted
	case StatusOver:
		return ErrGameOver
	case StatusPaused:
		return ErrNotRunning
	}
	if r.game.Turn() != r.assistant.Opposite() {
		return ErrNotYourTurn
	}
	return nil
}

func (r *Resolver) humanMoved(ctx context.Context, mv chess.Move) {
	r.gen++
	r.publishBoard(ctx, mv.SAN)

	fen := r.game.FEN()
	var tail string
	if !r.game.IsGameOver() {
		if legal := r.game.LegalMoves(); len(legal) > 0 {
			tail = " Your legal moves: " + sanList(legal) + "."
		}
	}
	r.queue(func(ctx context.Context) {
		msg := fmt.Sprintf("My move: %s.", mv.SAN)
		if c := r.commentary(ctx, mv, fen); c != "" {
			msg += " " + c
		}
		r.send(ctx, msg + tail)
	})
	r.checkOver(ctx, mv)
}

func (r *Resolver) commentary(ctx context.Context, mv chess.Move, fen string) string {
	p := r.deps.LLM
	if !r.cfg.Commentary || p == nil || !p.HasCredential() {
		return ""
	}
	out, err := p.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You are a friendly chess partner. Comment on the move just played in one short sentence. No move lists."},
			{Role: llm.RoleUser, Content: fmt.Sprintf("Move: %s\nPosition after the move (FEN): %s", mv.SAN, fen)},
		},
		Temperature:    0.7,
		MaxOutputChars: 160,
	})
	if err != nil {
		slog.Warn("resolver: commentary failed", "err", err)
		return ""
	}
	return strings.Join(strings.Fields(out), " ")
}

// Start begins a new game from the standard position. side is the colour the
// counterpart plays.
func (r *Resolver) Start(ctx context.Context, side chess.Side) error {
	return r.StartFrom(ctx, side, "")
}

// StartFrom begins a new game at fen, or the standard position when fen is
// empty.
func (r *Resolver) StartFrom(ctx context.Context, side chess.Side, fen string) error {
	if side != chess.White && side != chess.Black {
		return fmt.Errorf("resolver: unknown side %q", side)
	}
	r.mu.Lock()
	defer r.unlock(ctx)

	game := chess.NewGame()
	if fen = strings.TrimSpace(fen); fen != "" {
		if err := game.LoadFEN(fen); err != nil {
			return err
		}
		if game.IsGameOver() {
			return fmt.Errorf("resolver: position %q is already decided", fen)
		}
	}
	r.game = game
	r.gen++
	r.assistant = side
	r.setHeaders()
	r.status, r.reason, r.winner, r.selected = StatusRunning, "", "", ""
	slog.Info("resolver: game started", "assistant_side", side, "fen", game.FEN())

	r.publishBoard(ctx, "")
	return nil
}

func (r *Resolver) setHeaders() {
	white, black := r.cfg.PlayerName, r.cfg.CounterpartName
	if r.assistant == chess.White {
		white, black = black, white
	}
	r.game.SetHeader("Event", "Casual game")
	r.game.SetHeader("Site", "l2r")
	r.game.SetHeader("Date", r.now().Format("2006.01.02"))
	r.game.SetHeader("White", white)
	r.game.SetHeader("Black", black)
	r.game.SetHeader("Result", "*")
}

// Pause stops move resolution until Resume.
func (r *Resolver) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != StatusRunning {
		return ErrNotRunning
	}
	r.status = StatusPaused
	return nil
}

// Resume continues a paused game.
func (r *Resolver) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != StatusPaused {
		return fmt.Errorf("resolver: game is %s, not paused", r.status)
	}
	r.status = StatusRunning
	return nil
}

// TogglePause flips between running and paused and returns the new status.
func (r *Resolver) TogglePause() (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.status {
	case StatusRunning:
		r.status = StatusPaused
	case StatusPaused:
		r.status = StatusRunning
	default:
		return r.status, ErrNotRunning
	}
	return r.status, nil
}

// Status returns a snapshot of the game state.
func (r *Resolver) Status() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return State{
		Status:        r.status,
		Reason:        r.reason,
		Winner:        r.winner,
		AssistantSide: r.assistant,
		Turn:          r.game.Turn(),
		Selected:      r.selected,
		FEN:           r.game.FEN(),
		Result:        r.game.Header("Result"),
	}
}

// Board renders the position followed by a one-line status.
func (r *Resolver) Board() string {
	st := r.Status()
	r.mu.Lock()
	drawing := r.game.Draw()
	r.mu.Unlock()

	line := fmt.Sprintf("%s, %s to move", st.Status, st.Turn)
	if st.Status == StatusOver {
		line = fmt.Sprintf("over (%s) %s", st.Reason, st.Result)
	}
	if st.Selected != "" {
		line += ", selected " + st.Selected
	}
	return strings.TrimRight(drawing, "\n") + "\n" + line
}

// PGN returns the current game record.
func (r *Resolver) PGN() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.game.PGN()
}

func (r *Resolver) publishBoard(ctx context.Context, san string) {
	r.publish(ctx, bus.TopicChessBoard, bus.ChessBoard{FEN: r.game.FEN(), Board: r.game.Draw(), SAN: san})
}

// queue defers fn until the mutex is released. Callers hold r.mu.
func (r *Resolver) queue(fn func(context.Context)) {
	r.outbox = append(r.outbox, fn)
}

// unlock releases r.mu, then delivers whatever was queued while it was held,
// in order.
func (r *Resolver) unlock(ctx context.Context) {
	out := r.outbox
	r.outbox = nil
	r.mu.Unlock()
	for _, fn := range out {
		fn(ctx)
	}
}

// publish queues a bus event. Callers hold r.mu.
func (r *Resolver) publish(ctx context.Context, topic bus.Topic, payload any) {
	if r.deps.Bus == nil {
		return
	}
	r.queue(func(ctx context.Context) { r.deps.Bus.Publish(ctx, topic, payload) })
}

// say queues a chat message. Callers hold r.mu.
func (r *Resolver) say(ctx context.Context, text string) {
	r.queue(func(ctx context.Context) { r.send(ctx, text) })
}

func (r *Resolver) send(ctx context.Context, text string) {
	if err := r.deps.Sender.InjectAndSend(ctx, text); err != nil {
		slog.Error("resolver: chat send failed", "err", err)
		if r.deps.Bus != nil {
			r.deps.Bus.Publish(ctx, bus.TopicNotice, bus.Notice{Level: bus.LevelError, Text: "Chess message not sent: " + err.Error()})
		}
	}
}

func sanList(moves []chess.Move) string {
	out := make([]string, len(moves))
	for i, m := range moves {
		out[i] = m.SAN
	}
	return strings.Join(out, ", ")
}

func sideTitle(s chess.Side) string {
	if s == chess.Black {
		return "Black"
	}
	return "White"
}
