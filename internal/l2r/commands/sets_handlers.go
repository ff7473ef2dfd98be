package commands

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/bdobrica/l2r/internal/l2r/prompts"
)

// set resolves a set reference (id or name) from the command text.
func (h *Handlers) set(ref string) (prompts.Set, error) {
	if ref == "" {
		return prompts.Set{}, errors.New("missing set id or name")
	}
	s, ok := h.d.Prompts.FindSet(ref)
	if !ok {
		return prompts.Set{}, fmt.Errorf("no set %q", ref)
	}
	return s, nil
}

// HandleSetsList lists the system message sets.
func (h *Handlers) HandleSetsList(ctx context.Context, cmd *Command, sender string) (string, error) {
	sets := h.d.Prompts.Sets()
	if len(sets) == 0 {
		return "No sets. Create one with !l2r sets create <name>", nil
	}
	active := h.d.Prompts.ActiveSetIDs()

	var sb strings.Builder
	fmt.Fprintf(&sb, "**Sets (%d)**\n\n", len(sets))
	for _, s := range sets {
		mark := "⬜"
		if slices.Contains(active, s.ID) {
			mark = "✅"
		}
		fmt.Fprintf(&sb, "%s **%s** `%s` (%d messages)\n", mark, s.Name, s.ID, len(s.Messages))
	}
	return sb.String(), nil
}

// HandleSetsShow prints the messages of one set.
func (h *Handlers) HandleSetsShow(ctx context.Context, cmd *Command, sender string) (string, error) {
	s, err := h.set(cmd.Text(1))
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "**%s** `%s`\n\n", s.Name, s.ID)
	if len(s.Messages) == 0 {
		sb.WriteString("(empty)")
	}
	for i, m := range s.Messages {
		fmt.Fprintf(&sb, "%d. `%s` **%s**: %s\n", i+1, m.ID, m.Title, m.Text)
	}
	return sb.String(), nil
}

// HandleSetsCreate creates an empty set.
func (h *Handlers) HandleSetsCreate(ctx context.Context, cmd *Command, sender string) (string, error) {
	s, err := h.d.Prompts.CreateSet(ctx, cmd.Text(1))
	if err != nil {
		return "", fmt.Errorf("failed to create set: %w", err)
	}
	return fmt.Sprintf("Created set **%s** `%s`", s.Name, s.ID), nil
}

// HandleSetsRename renames a set: sets rename <set> <new name>.
func (h *Handlers) HandleSetsRename(ctx context.Context, cmd *Command, sender string) (string, error) {
	ref, _ := cmd.GetArg(0)
	name := cmd.Text(2)
	if name == "" {
		return "", errors.New("usage: !l2r sets rename <set> <new name>")
	}
	s, err := h.set(ref)
	if err != nil {
		return "", err
	}
	if err := h.d.Prompts.RenameSet(ctx, s.ID, name); err != nil {
		return "", err
	}
	return fmt.Sprintf("Renamed `%s` to **%s**", s.ID, name), nil
}

// HandleSetsDuplicate copies a set.
func (h *Handlers) HandleSetsDuplicate(ctx context.Context, cmd *Command, sender string) (string, error) {
	s, err := h.set(cmd.Text(1))
	if err != nil {
		return "", err
	}
	cp, err := h.d.Prompts.DuplicateSet(ctx, s.ID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Created **%s** `%s`", cp.Name, cp.ID), nil
}

// HandleSetsActivate adds a set to the active list.
func (h *Handlers) HandleSetsActivate(ctx context.Context, cmd *Command, sender string) (string, error) {
	s, err := h.set(cmd.Text(1))
	if err != nil {
		return "", err
	}
	if err := h.d.Prompts.Activate(ctx, s.ID); err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ **%s** active", s.Name), nil
}

// HandleSetsDeactivate removes a set from the active list.
func (h *Handlers) HandleSetsDeactivate(ctx context.Context, cmd *Command, sender string) (string, error) {
	s, err := h.set(cmd.Text(1))
	if err != nil {
		return "", err
	}
	if err := h.d.Prompts.Deactivate(ctx, s.ID); err != nil {
		return "", err
	}
	return fmt.Sprintf("⬜ **%s** inactive", s.Name), nil
}

// HandleSetsAdd appends a message: sets add <set> <text>.
func (h *Handlers) HandleSetsAdd(ctx context.Context, cmd *Command, sender string) (string, error) {
	ref, _ := cmd.GetArg(0)
	text := cmd.Text(2)
	if text == "" {
		return "", errors.New("usage: !l2r sets add <set> <text>")
	}
	s, err := h.set(ref)
	if err != nil {
		return "", err
	}
	m, err := h.d.Prompts.AddMessage(ctx, s.ID, "", text)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Added `%s` to **%s**", m.ID, s.Name), nil
}

// HandleSetsRemove deletes a message: sets remove <set> <msg>.
func (h *Handlers) HandleSetsRemove(ctx context.Context, cmd *Command, sender string) (string, error) {
	ref, _ := cmd.GetArg(0)
	msgID, ok := cmd.GetArg(1)
	if !ok {
		return "", errors.New("usage: !l2r sets remove <set> <msg>")
	}
	s, err := h.set(ref)
	if err != nil {
		return "", err
	}
	if err := h.d.Prompts.RemoveMessage(ctx, s.ID, msgID); err != nil {
		return "", err
	}
	return fmt.Sprintf("Removed `%s` from **%s**", msgID, s.Name), nil
}

// HandleSetsMove reorders a message: sets move <set> <msg> up|down.
func (h *Handlers) HandleSetsMove(ctx context.Context, cmd *Command, sender string) (string, error) {
	ref, _ := cmd.GetArg(0)
	msgID, _ := cmd.GetArg(1)
	dirArg, ok := cmd.GetArg(2)
	if !ok {
		return "", errors.New("usage: !l2r sets move <set> <msg> up|down")
	}
	var dir prompts.Direction
	switch strings.ToLower(dirArg) {
	case "up":
		dir = prompts.Up
	case "down":
		dir = prompts.Down
	default:
		return "", fmt.Errorf("direction %q must be up or down", dirArg)
	}
	s, err := h.set(ref)
	if err != nil {
		return "", err
	}
	if err := h.d.Prompts.MoveMessage(ctx, s.ID, msgID, dir); err != nil {
		return "", err
	}
	return fmt.Sprintf("Moved `%s` %s", msgID, strings.ToLower(dirArg)), nil
}

// HandleSetsDelete removes a set.
func (h *Handlers) HandleSetsDelete(ctx context.Context, cmd *Command, sender string) (string, error) {
	s, err := h.set(cmd.Text(1))
	if err != nil {
		return "", err
	}
	if err := h.d.Prompts.DeleteSet(ctx, s.ID); err != nil {
		return "", err
	}
	return fmt.Sprintf("🗑️ Deleted **%s**", s.Name), nil
}
