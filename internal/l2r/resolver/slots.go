package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/bdobrica/l2r/internal/l2r/chess"
	"github.com/bdobrica/l2r/internal/l2r/kv"
)

// KeySlots holds every saved game as a map keyed by slot name.
const KeySlots = "l2r.chess.slots"

var (
	ErrNoSlot     = errors.New("resolver: no such saved game")
	ErrSlotExists = errors.New("resolver: a saved game with that name exists")
)

// Slot is a saved game.
type Slot struct {
	Name          string     `json:"name"`
	FEN           string     `json:"fen"`
	PGN           string     `json:"pgn"`
	Timestamp     time.Time  `json:"ts"`
	AssistantSide chess.Side `json:"assistantSide"`
}

func (r *Resolver) loadSlots(ctx context.Context) (map[string]Slot, error) {
	slots := map[string]Slot{}
	if _, err := kv.Load(ctx, r.deps.Store, KeySlots, &slots); err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	return slots, nil
}

func (r *Resolver) storeSlots(ctx context.Context, slots map[string]Slot) error {
	if err := kv.Save(ctx, r.deps.Store, KeySlots, slots); err != nil {
		return fmt.Errorf("save slots: %w", err)
	}
	return nil
}

func slotName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("resolver: slot name is empty")
	}
	return name, nil
}

// Save stores the current game under name, replacing any slot with that name.
func (r *Resolver) Save(ctx context.Context, name string) (Slot, error) {
	name, err := slotName(name)
	if err != nil {
		return Slot{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status == StatusNotStarted {
		return Slot{}, ErrNotStarted
	}
	slots, err := r.loadSlots(ctx)
	if err != nil {
		return Slot{}, err
	}
	slot := Slot{
		Name:          name,
		FEN:           r.game.FEN(),
		PGN:           r.game.PGN(),
		Timestamp:     r.now().UTC(),
		AssistantSide: r.assistant,
	}
	slots[name] = slot
	if err := r.storeSlots(ctx, slots); err != nil {
		return Slot{}, err
	}
	slog.Info("resolver: game saved", "slot", name)
	return slot, nil
}

// Load replaces the current game with a saved one and resumes play. A game
// that is already over must be restarted first.
func (r *Resolver) Load(ctx context.Context, name string) error {
	name, err := slotName(name)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.unlock(ctx)

	if r.status == StatusOver {
		return ErrGameOver
	}
	slots, err := r.loadSlots(ctx)
	if err != nil {
		return err
	}
	slot, ok := slots[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoSlot, name)
	}

	game := chess.NewGame()
	if err := game.LoadPGN(slot.PGN); err != nil || game.FEN() != slot.FEN {
		slog.Debug("resolver: restoring slot from FEN", "slot", name, "pgn_err", err)
		game = chess.NewGame()
		if err := game.LoadFEN(slot.FEN); err != nil {
			return fmt.Errorf("slot %q: %w", name, err)
		}
	}

	r.game = game
	r.gen++
	r.assistant = slot.AssistantSide
	if r.assistant != chess.Black {
		r.assistant = chess.White
	}
	if r.game.Header("White") == "" {
		r.setHeaders()
	}
	r.status, r.reason, r.winner, r.selected = StatusRunning, "", "", ""
	if reason, winner, over := r.terminal(); over {
		r.status, r.reason, r.winner = StatusOver, reason, winner
	}
	slog.Info("resolver: game loaded", "slot", name, "status", r.status)
	r.publishBoard(ctx, "")
	return nil
}

// Rename moves a slot to a new name.
func (r *Resolver) Rename(ctx context.Context, oldName, newName string) error {
	oldName, err := slotName(oldName)
	if err != nil {
		return err
	}
	if newName, err = slotName(newName); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	slots, err := r.loadSlots(ctx)
	if err != nil {
		return err
	}
	slot, ok := slots[oldName]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoSlot, oldName)
	}
	if oldName == newName {
		return nil
	}
	if _, taken := slots[newName]; taken {
		return fmt.Errorf("%w: %q", ErrSlotExists, newName)
	}
	delete(slots, oldName)
	slot.Name = newName
	slots[newName] = slot
	return r.storeSlots(ctx, slots)
}

// Delete removes a slot.
func (r *Resolver) Delete(ctx context.Context, name string) error {
	name, err := slotName(name)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	slots, err := r.loadSlots(ctx)
	if err != nil {
		return err
	}
	if _, ok := slots[name]; !ok {
		return fmt.Errorf("%w: %q", ErrNoSlot, name)
	}
	delete(slots, name)
	return r.storeSlots(ctx, slots)
}

// Slots lists saved games, newest first.
func (r *Resolver) Slots(ctx context.Context) ([]Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slots, err := r.loadSlots(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Slot, 0, len(slots))
	for _, s := range slots {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}
