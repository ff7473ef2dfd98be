// Package chess adapts github.com/notnil/chess to the small surface the move
// resolver needs: side to move, the legal move list in SAN and UCI, move
// application, terminal-state queries and FEN/PGN interchange.
//
// The adapter owns no rules of its own; every legality decision is the
// engine's.
package chess

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	notnil "github.com/notnil/chess"
)

// ErrIllegalMove is returned when the engine rejects a move.
var ErrIllegalMove = errors.New("chess: illegal move")

// Side is a player colour.
type Side string

const (
	White Side = "white"
	Black Side = "black"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == White {
		return Black
	}
	return White
}

// ParseSide accepts "white"/"w" and "black"/"b".
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w":
		return White, nil
	case "black", "b":
		return Black, nil
	}
	return "", fmt.Errorf("unknown side %q (want white or black)", s)
}

func sideOf(c notnil.Color) Side {
	if c == notnil.Black {
		return Black
	}
	return White
}

// Move describes a legal (or applied) move.
type Move struct {
	From      string
	To        string
	SAN       string
	UCI       string
	Promotion string // "q", "r", "b", "n" or ""
}

// Piece is the occupant of a square.
type Piece struct {
	Side Side
	// Kind is the lower-case piece letter: k, q, r, b, n, p.
	Kind string
}

// Game wraps one engine game.
type Game struct {
	g *notnil.Game
}

// NewGame returns a game at the standard starting position.
func NewGame() *Game {
	return &Game{g: notnil.NewGame()}
}

// Reset returns to the starting position and drops all headers.
func (g *Game) Reset() {
	g.g = notnil.NewGame()
}

// Turn returns the side to move.
func (g *Game) Turn() Side {
	return sideOf(g.g.Position().Turn())
}

// LegalMoves lists the moves available to the side to move.
func (g *Game) LegalMoves() []Move {
	pos := g.g.Position()
	valid := g.g.ValidMoves()
	out := make([]Move, 0, len(valid))
	for _, m := range valid {
		out = append(out, describe(pos, m))
	}
	return out
}

func describe(pos *notnil.Position, m *notnil.Move) Move {
	promo := ""
	if m.Promo() != notnil.NoPieceType {
		promo = strings.ToLower(m.Promo().String())
	}
	from, to := m.S1().String(), m.S2().String()
	return Move{
		From:      from,
		To:        to,
		SAN:       notnil.AlgebraicNotation{}.Encode(pos, m),
		UCI:       from + to + promo,
		Promotion: promo,
	}
}

// Apply plays from→to. When the move is a promotion and promo is empty, a
// queen is chosen.
func (g *Game) Apply(from, to, promo string) (Move, error) {
	from, to, promo = strings.ToLower(from), strings.ToLower(to), strings.ToLower(promo)
	pos := g.g.Position()
	var fallback *notnil.Move
	for _, m := range g.g.ValidMoves() {
		if m.S1().String() != from || m.S2().String() != to {
			continue
		}
		p := ""
		if m.Promo() != notnil.NoPieceType {
			p = strings.ToLower(m.Promo().String())
		}
		if p == promo {
			return g.play(pos, m)
		}
		if promo == "" && p == "q" {
			fallback = m
		}
	}
	if fallback != nil {
		return g.play(pos, fallback)
	}
	return Move{}, fmt.Errorf("%w: %s%s%s", ErrIllegalMove, from, to, promo)
}

// ApplyUCI plays a move written as <from><to>[promotion].
func (g *Game) ApplyUCI(uci string) (Move, error) {
	uci = strings.ToLower(strings.TrimSpace(uci))
	if len(uci) < 4 || len(uci) > 5 {
		return Move{}, fmt.Errorf("%w: %q", ErrIllegalMove, uci)
	}
	promo := ""
	if len(uci) == 5 {
		promo = uci[4:]
	}
	return g.Apply(uci[:2], uci[2:4], promo)
}

// ApplySAN plays a move in standard algebraic notation. Check and mate
// markers are optional and castling may be written with zeros.
func (g *Game) ApplySAN(san string) (Move, error) {
	want := CanonicalSAN(san)
	pos := g.g.Position()
	for _, m := range g.g.ValidMoves() {
		if CanonicalSAN(notnil.AlgebraicNotation{}.Encode(pos, m)) == want {
			return g.play(pos, m)
		}
	}
	return Move{}, fmt.Errorf("%w: %q", ErrIllegalMove, san)
}

// CanonicalSAN strips check/mate markers and rewrites 0-0 castling as O-O.
func CanonicalSAN(san string) string {
	s := strings.TrimRight(strings.TrimSpace(san), "+#")
	switch s {
	case "0-0":
		return "O-O"
	case "0-0-0":
		return "O-O-O"
	}
	return s
}

func (g *Game) play(pos *notnil.Position, m *notnil.Move) (Move, error) {
	mv := describe(pos, m)
	if err := g.g.Move(m); err != nil {
		return Move{}, fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}
	return mv, nil
}

// IsCheckmate reports whether the side to move is mated.
func (g *Game) IsCheckmate() bool { return g.g.Method() == notnil.Checkmate }

// IsStalemate reports whether the side to move has no legal move and is not
// in check.
func (g *Game) IsStalemate() bool { return g.g.Method() == notnil.Stalemate }

// IsThreefoldRepetition reports whether the current position has occurred
// at least three times.
func (g *Game) IsThreefoldRepetition() bool {
	switch g.g.Method() {
	case notnil.ThreefoldRepetition, notnil.FivefoldRepetition:
		return true
	}
	return slices.Contains(g.g.EligibleDraws(), notnil.ThreefoldRepetition)
}

// IsInsufficientMaterial reports whether neither side can mate.
func (g *Game) IsInsufficientMaterial() bool {
	return g.g.Method() == notnil.InsufficientMaterial
}

// IsDraw reports any drawn state: stalemate, repetition, insufficient
// material or the fifty-move rule.
func (g *Game) IsDraw() bool {
	if g.g.Outcome() == notnil.Draw {
		return true
	}
	return g.IsThreefoldRepetition() || slices.Contains(g.g.EligibleDraws(), notnil.FiftyMoveRule)
}

// IsGameOver reports whether the game has reached a terminal state.
func (g *Game) IsGameOver() bool {
	return g.IsCheckmate() || g.IsDraw()
}

// ClaimDraw records a claimable draw (threefold repetition or fifty-move
// rule) as the game outcome so that the PGN carries it.
func (g *Game) ClaimDraw() error {
	for _, m := range []notnil.Method{notnil.ThreefoldRepetition, notnil.FiftyMoveRule} {
		if slices.Contains(g.g.EligibleDraws(), m) {
			return g.g.Draw(m)
		}
	}
	return errors.New("chess: no draw can be claimed")
}

// FEN returns the current position.
func (g *Game) FEN() string { return g.g.FEN() }

// PGN returns the game record with its headers.
func (g *Game) PGN() string { return g.g.String() }

// LoadFEN replaces the game with a fresh one at fen. Headers are dropped.
func (g *Game) LoadFEN(fen string) error {
	opt, err := notnil.FEN(fen)
	if err != nil {
		return fmt.Errorf("load FEN: %w", err)
	}
	g.g = notnil.NewGame(opt)
	return nil
}

// LoadPGN replaces the game with the one recorded in pgn, keeping its move
// history and headers.
func (g *Game) LoadPGN(pgn string) error {
	opt, err := notnil.PGN(strings.NewReader(pgn))
	if err != nil {
		return fmt.Errorf("load PGN: %w", err)
	}
	g.g = notnil.NewGame(opt)
	return nil
}

// SetHeader sets a PGN tag pair.
func (g *Game) SetHeader(key, value string) {
	g.g.AddTagPair(key, value)
}

// Header returns a PGN tag value, or "" when unset.
func (g *Game) Header(key string) string {
	if tp := g.g.GetTagPair(key); tp != nil {
		return tp.Value
	}
	return ""
}

// PieceAt returns the piece on square (e.g. "e4").
func (g *Game) PieceAt(square string) (Piece, bool) {
	sq, ok := parseSquare(square)
	if !ok {
		return Piece{}, false
	}
	p := g.g.Position().Board().Piece(sq)
	if p == notnil.NoPiece {
		return Piece{}, false
	}
	return Piece{Side: sideOf(p.Color()), Kind: strings.ToLower(p.Type().String())}, true
}

// Draw renders the board as text, rank 8 at the top.
func (g *Game) Draw() string {
	return g.g.Position().Board().Draw()
}

// ValidSquare reports whether s names a board square.
func ValidSquare(s string) bool {
	_, ok := parseSquare(s)
	return ok
}

func parseSquare(s string) (notnil.Square, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return notnil.NoSquare, false
	}
	return notnil.Square(int(s[1]-'1')*8 + int(s[0]-'a')), true
}
