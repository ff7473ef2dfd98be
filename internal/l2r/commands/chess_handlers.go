package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bdobrica/l2r/internal/l2r/chess"
	"github.com/bdobrica/l2r/internal/l2r/resolver"
)

func chessLine(st resolver.State) string {
	switch st.Status {
	case resolver.StatusNotStarted:
		return "not started"
	case resolver.StatusOver:
		line := fmt.Sprintf("over (%s) %s", st.Reason, st.Result)
		if st.Winner != "" {
			line += ", " + string(st.Winner) + " won"
		}
		return line
	}
	return fmt.Sprintf("%s, %s to move (partner plays %s)", st.Status, st.Turn, st.AssistantSide)
}

// HandleChessStart begins a game: chess start [white|black] [fen].
func (h *Handlers) HandleChessStart(ctx context.Context, cmd *Command, sender string) (string, error) {
	side := chess.White
	skip := 1
	if arg, ok := cmd.GetArg(0); ok {
		s, err := chess.ParseSide(arg)
		if err != nil {
			return "", err
		}
		side = s
		skip = 2
	}
	if err := h.d.Chess.StartFrom(ctx, side, cmd.Text(skip)); err != nil {
		return "", err
	}
	return fmt.Sprintf("♟️ New game, partner plays %s\n```\n%s\n```", side, h.d.Chess.Board()), nil
}

// HandleChessPause pauses move resolution.
func (h *Handlers) HandleChessPause(ctx context.Context, cmd *Command, sender string) (string, error) {
	if err := h.d.Chess.Pause(); err != nil {
		return "", err
	}
	return "⏸️ Paused", nil
}

// HandleChessResume resumes a paused game.
func (h *Handlers) HandleChessResume(ctx context.Context, cmd *Command, sender string) (string, error) {
	if err := h.d.Chess.Resume(); err != nil {
		return "", err
	}
	return "▶️ Resumed", nil
}

// HandleChessClick selects a piece or moves the selected one.
func (h *Handlers) HandleChessClick(ctx context.Context, cmd *Command, sender string) (string, error) {
	sq, ok := cmd.GetArg(0)
	if !ok {
		return "", errors.New("usage: !l2r chess click <square>")
	}
	out, err := h.d.Chess.Click(ctx, sq)
	if err != nil {
		return "", err
	}
	switch {
	case out.Moved:
		return fmt.Sprintf("Played %s\n```\n%s\n```", out.Move.SAN, h.d.Chess.Board()), nil
	case out.Selected != "":
		return "Selected " + out.Selected, nil
	}
	return "Selection cleared", nil
}

// HandleChessMove plays the operator's move.
func (h *Handlers) HandleChessMove(ctx context.Context, cmd *Command, sender string) (string, error) {
	mv := cmd.Text(1)
	if mv == "" {
		return "", errors.New("usage: !l2r chess move <move>")
	}
	played, err := h.d.Chess.PlayHuman(ctx, mv)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Played %s\n```\n%s\n```", played.SAN, h.d.Chess.Board()), nil
}

// HandleChessBoard renders the position.
func (h *Handlers) HandleChessBoard(ctx context.Context, cmd *Command, sender string) (string, error) {
	return "```\n" + h.d.Chess.Board() + "\n```", nil
}

// HandleChessStatus reports the game state.
func (h *Handlers) HandleChessStatus(ctx context.Context, cmd *Command, sender string) (string, error) {
	st := h.d.Chess.Status()
	reply := "Chess: " + chessLine(st)
	if st.Status != resolver.StatusNotStarted {
		reply += "\nFEN: `" + st.FEN + "`"
	}
	return reply, nil
}

// HandleChessPGN prints the game record.
func (h *Handlers) HandleChessPGN(ctx context.Context, cmd *Command, sender string) (string, error) {
	return "```\n" + strings.TrimSpace(h.d.Chess.PGN()) + "\n```", nil
}

// HandleChessSave stores the game under a name.
func (h *Handlers) HandleChessSave(ctx context.Context, cmd *Command, sender string) (string, error) {
	slot, err := h.d.Chess.Save(ctx, cmd.Text(1))
	if err != nil {
		return "", err
	}
	return "💾 Saved " + slot.Name, nil
}

// HandleChessLoad restores a saved game.
func (h *Handlers) HandleChessLoad(ctx context.Context, cmd *Command, sender string) (string, error) {
	name := cmd.Text(1)
	if err := h.d.Chess.Load(ctx, name); err != nil {
		return "", err
	}
	return fmt.Sprintf("Loaded %s\n```\n%s\n```", name, h.d.Chess.Board()), nil
}

// HandleChessRename renames a slot: chess rename <old> <new>.
func (h *Handlers) HandleChessRename(ctx context.Context, cmd *Command, sender string) (string, error) {
	oldName, ok := cmd.GetArg(0)
	newName := cmd.Text(2)
	if !ok || newName == "" {
		return "", errors.New("usage: !l2r chess rename <old> <new>")
	}
	if err := h.d.Chess.Rename(ctx, oldName, newName); err != nil {
		return "", err
	}
	return fmt.Sprintf("Renamed %s to %s", oldName, newName), nil
}

// HandleChessDelete removes a slot.
func (h *Handlers) HandleChessDelete(ctx context.Context, cmd *Command, sender string) (string, error) {
	name := cmd.Text(1)
	if err := h.d.Chess.Delete(ctx, name); err != nil {
		return "", err
	}
	return "🗑️ Deleted " + name, nil
}

// HandleChessSlots lists saved games.
func (h *Handlers) HandleChessSlots(ctx context.Context, cmd *Command, sender string) (string, error) {
	slots, err := h.d.Chess.Slots(ctx)
	if err != nil {
		return "", err
	}
	if len(slots) == 0 {
		return "No saved games", nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "**Saved games (%d)**\n\n", len(slots))
	for _, s := range slots {
		fmt.Fprintf(&sb, "• **%s** (%s, partner plays %s)\n", s.Name, s.Timestamp.Format("2006-01-02 15:04"), s.AssistantSide)
	}
	return sb.String(), nil
}
