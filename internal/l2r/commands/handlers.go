package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bdobrica/l2r/common/version"
	"github.com/bdobrica/l2r/internal/l2r/approvals"
	"github.com/bdobrica/l2r/internal/l2r/images"
	"github.com/bdobrica/l2r/internal/l2r/llm"
	"github.com/bdobrica/l2r/internal/l2r/prompts"
	"github.com/bdobrica/l2r/internal/l2r/resolver"
	"github.com/bdobrica/l2r/internal/l2r/session"
)

// Sender posts text into the counterpart chat.
type Sender interface {
	InjectAndSend(ctx context.Context, text string) error
}

// Deps are the components the commands operate on.
type Deps struct {
	Session   *session.Session
	Approvals *approvals.Queue
	Prompts   *prompts.Library
	Provider  *llm.Selector
	Chess     *resolver.Resolver
	Images    *images.Lab
	Chat      Sender
}

// Handlers holds all command handlers and dependencies
type Handlers struct {
	d Deps
}

// NewHandlers creates a new Handlers instance
func NewHandlers(d Deps) *Handlers {
	return &Handlers{d: d}
}

// Register wires every handler into r.
func (h *Handlers) Register(r *Router) {
	r.Register("help", h.HandleHelp)
	r.Register("version", h.HandleVersion)
	r.Register("status", h.HandleStatus)
	r.Register("link", h.HandleLink)
	r.Register("approve", h.HandleApprove)
	r.Register("maxturns", h.HandleMaxTurns)
	r.Register("system", h.HandleSystem)
	r.Register("provider", h.HandleProvider)
	r.Register("stop", h.HandleStop)
	r.Register("reset", h.HandleReset)
	r.Register("send", h.HandleSend)
	r.Register("pending", h.HandlePending)
	r.Register("accept", h.HandleAccept)
	r.Register("discard", h.HandleDiscard)

	r.Register("sets", h.HandleSetsList)
	r.Register("sets.list", h.HandleSetsList)
	r.Register("sets.show", h.HandleSetsShow)
	r.Register("sets.create", h.HandleSetsCreate)
	r.Register("sets.rename", h.HandleSetsRename)
	r.Register("sets.duplicate", h.HandleSetsDuplicate)
	r.Register("sets.activate", h.HandleSetsActivate)
	r.Register("sets.deactivate", h.HandleSetsDeactivate)
	r.Register("sets.add", h.HandleSetsAdd)
	r.Register("sets.remove", h.HandleSetsRemove)
	r.Register("sets.move", h.HandleSetsMove)
	r.Register("sets.delete", h.HandleSetsDelete)

	r.Register("chess", h.HandleChessStatus)
	r.Register("chess.start", h.HandleChessStart)
	r.Register("chess.pause", h.HandleChessPause)
	r.Register("chess.resume", h.HandleChessResume)
	r.Register("chess.click", h.HandleChessClick)
	r.Register("chess.move", h.HandleChessMove)
	r.Register("chess.board", h.HandleChessBoard)
	r.Register("chess.status", h.HandleChessStatus)
	r.Register("chess.pgn", h.HandleChessPGN)
	r.Register("chess.save", h.HandleChessSave)
	r.Register("chess.load", h.HandleChessLoad)
	r.Register("chess.rename", h.HandleChessRename)
	r.Register("chess.delete", h.HandleChessDelete)
	r.Register("chess.slots", h.HandleChessSlots)

	r.Register("image", h.HandleImage)
	r.Register("image.style", h.HandleImageStyle)
	r.Register("image.options", h.HandleImageOptions)
	r.Register("images", h.HandleImages)
}

// HandleHelp shows available commands
func (h *Handlers) HandleHelp(ctx context.Context, cmd *Command, sender string) (string, error) {
	help := `**l2r**

**Conversation:**
• !l2r status - Show link, turn and provider state
• !l2r link on|off - Enable or disable auto-replies
• !l2r approve on|off - Hold replies for approval before sending
• !l2r maxturns <n> - Set the reply budget
• !l2r system <text> - Replace the global system message
• !l2r provider [openai|gemini] - Show or switch the LLM provider
• !l2r stop - Abandon the reply in flight
• !l2r reset - Clear history and the turn counter
• !l2r send <text> - Send a message to the chat yourself

**Approvals:**
• !l2r pending - List held replies
• !l2r accept <id> - Send a held reply
• !l2r discard <id> - Drop a held reply

**System message sets:**
• !l2r sets list | show <set>
• !l2r sets create <name> | rename <set> <name> | duplicate <set> | delete <set>
• !l2r sets activate <set> | deactivate <set>
• !l2r sets add <set> <text> | remove <set> <msg> | move <set> <msg> up|down

**Chess:**
• !l2r chess start [white|black] [fen] - New game; the side is the partner's
• !l2r chess pause | resume | board | status | pgn
• !l2r chess click <square> - Select a piece, then its target
• !l2r chess move <move> - Play your move (UCI or SAN)
• !l2r chess save|load|delete <name> | rename <old> <new> | slots

**Images:**
• !l2r image [prompt] - Generate an image (from the chat when no prompt)
• !l2r image style [text] - Show or set the style recipe
• !l2r image options [--size s] [--quality q] [--style s] [--model m]
• !l2r images - List the gallery
`
	return help, nil
}

// HandleVersion shows version information
func (h *Handlers) HandleVersion(ctx context.Context, cmd *Command, sender string) (string, error) {
	return fmt.Sprintf("**l2r**\nVersion: %s\nCommit: %s", version.Version, version.GitCommit), nil
}

// HandleStatus summarises every component.
func (h *Handlers) HandleStatus(ctx context.Context, cmd *Command, sender string) (string, error) {
	st := h.d.Session.Snapshot()

	var sb strings.Builder
	sb.WriteString("**l2r status**\n")
	fmt.Fprintf(&sb, "Link: %s | Approve: %s | Busy: %s\n", onOff(st.Enabled), onOff(st.Approve), yesNo(st.Busy))
	fmt.Fprintf(&sb, "Turns: %d/%d | History: %d\n", st.Turns, st.MaxTurns, st.History)
	fmt.Fprintf(&sb, "Provider: %s (key: %s)\n", st.Provider, yesNo(h.d.Provider.HasCredential()))
	fmt.Fprintf(&sb, "Pending approvals: %d\n", h.d.Approvals.Len())

	var active []string
	for _, id := range h.d.Prompts.ActiveSetIDs() {
		if s, ok := h.d.Prompts.FindSet(id); ok {
			active = append(active, s.Name)
		}
	}
	if len(active) == 0 {
		active = []string{"none"}
	}
	fmt.Fprintf(&sb, "Active sets: %s\n", strings.Join(active, ", "))

	cs := h.d.Chess.Status()
	fmt.Fprintf(&sb, "Chess: %s", chessLine(cs))
	return sb.String(), nil
}

// HandleLink toggles auto-replies.
func (h *Handlers) HandleLink(ctx context.Context, cmd *Command, sender string) (string, error) {
	on, err := parseOnOff(cmd)
	if err != nil {
		return "", err
	}
	if err := h.d.Session.SetEnabled(ctx, on); err != nil {
		return "", fmt.Errorf("failed to save link setting: %w", err)
	}
	return "🔗 Link " + onOff(on), nil
}

// HandleApprove toggles approve-before-send.
func (h *Handlers) HandleApprove(ctx context.Context, cmd *Command, sender string) (string, error) {
	on, err := parseOnOff(cmd)
	if err != nil {
		return "", err
	}
	if err := h.d.Session.SetApproveBeforeSend(ctx, on); err != nil {
		return "", fmt.Errorf("failed to save approve setting: %w", err)
	}
	return "Approve before send " + onOff(on), nil
}

// HandleMaxTurns sets the reply budget.
func (h *Handlers) HandleMaxTurns(ctx context.Context, cmd *Command, sender string) (string, error) {
	p := cmd.Params()
	if len(p) == 0 {
		return "", errors.New("usage: !l2r maxturns <n>")
	}
	n, err := strconv.Atoi(p[0])
	if err != nil {
		return "", fmt.Errorf("maxturns: %q is not a number", p[0])
	}
	got, err := h.d.Session.SetMaxTurns(ctx, n)
	if err != nil {
		return "", fmt.Errorf("failed to save max turns: %w", err)
	}
	return fmt.Sprintf("Max turns set to %d", got), nil
}

// HandleSystem replaces the global system message.
func (h *Handlers) HandleSystem(ctx context.Context, cmd *Command, sender string) (string, error) {
	text := cmd.Text(0)
	if text == "" {
		return "**Global system message:**\n" + h.d.Prompts.Global(), nil
	}
	if err := h.d.Session.SetSystemPrompt(ctx, text); err != nil {
		return "", fmt.Errorf("failed to save system message: %w", err)
	}
	return "System message updated", nil
}

// HandleProvider shows or switches the LLM provider.
func (h *Handlers) HandleProvider(ctx context.Context, cmd *Command, sender string) (string, error) {
	p := cmd.Params()
	if len(p) == 0 {
		return fmt.Sprintf("Provider: %s (key: %s)", h.d.Provider.Active(), yesNo(h.d.Provider.HasCredential())), nil
	}
	k, err := llm.ParseKind(strings.ToLower(p[0]))
	if err != nil {
		return "", err
	}
	if err := h.d.Provider.SetActive(ctx, k); err != nil {
		return "", err
	}
	reply := "Provider set to " + string(k)
	if !h.d.Provider.HasCredential() {
		reply += " ⚠️ no API key configured"
	}
	return reply, nil
}

// HandleStop abandons the reply in flight.
func (h *Handlers) HandleStop(ctx context.Context, cmd *Command, sender string) (string, error) {
	h.d.Session.Stop(ctx)
	return "⏹️ Stopped", nil
}

// HandleReset clears history and turns.
func (h *Handlers) HandleReset(ctx context.Context, cmd *Command, sender string) (string, error) {
	h.d.Session.Reset(ctx)
	return "History and turn counter cleared", nil
}

// HandleSend posts the operator's own text into the chat.
func (h *Handlers) HandleSend(ctx context.Context, cmd *Command, sender string) (string, error) {
	text := cmd.Text(0)
	if text == "" {
		return "", errors.New("usage: !l2r send <text>")
	}
	if err := h.d.Chat.InjectAndSend(ctx, text); err != nil {
		return "", fmt.Errorf("send failed: %w", err)
	}
	return "✅ Sent", nil
}

// HandlePending lists held replies.
func (h *Handlers) HandlePending(ctx context.Context, cmd *Command, sender string) (string, error) {
	items := h.d.Approvals.List()
	if len(items) == 0 {
		return "No pending replies", nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "**Pending replies (%d)**\n\n", len(items))
	for _, p := range items {
		fmt.Fprintf(&sb, "• `%s` (%s): %s\n", p.ID, p.CreatedAt.Format("15:04:05"), p.Text)
	}
	return sb.String(), nil
}

// HandleAccept sends a held reply.
func (h *Handlers) HandleAccept(ctx context.Context, cmd *Command, sender string) (string, error) {
	p := cmd.Params()
	if len(p) == 0 {
		return "", errors.New("usage: !l2r accept <id>")
	}
	if _, err := h.d.Approvals.Accept(ctx, p[0]); err != nil {
		return "", err
	}
	return "✅ Sent " + p[0], nil
}

// HandleDiscard drops a held reply.
func (h *Handlers) HandleDiscard(ctx context.Context, cmd *Command, sender string) (string, error) {
	p := cmd.Params()
	if len(p) == 0 {
		return "", errors.New("usage: !l2r discard <id>")
	}
	if _, err := h.d.Approvals.Discard(p[0]); err != nil {
		return "", err
	}
	return "🗑️ Discarded " + p[0], nil
}

func parseOnOff(cmd *Command) (bool, error) {
	p := cmd.Params()
	if len(p) == 1 {
		switch strings.ToLower(p[0]) {
		case "on", "true", "yes", "1":
			return true, nil
		case "off", "false", "no", "0":
			return false, nil
		}
	}
	return false, fmt.Errorf("usage: !l2r %s on|off", cmd.Name)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
