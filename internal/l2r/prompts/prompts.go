// Package prompts manages the system messages sent ahead of every
// conversation request: one global message plus named sets of messages, any
// number of which can be active at once.
package prompts

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/bdobrica/l2r/internal/l2r/kv"
)

// Store keys.
const (
	KeyGlobal = "l2r.sys.global"
	KeySets   = "l2r.sys.sets"
	KeyActive = "l2r.sys.active"
	// KeyLegacyPrompt held the single system prompt before sets existed.
	KeyLegacyPrompt = "l2r.system_prompt"
)

// Message is one entry of a set.
type Message struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Set is a named, ordered group of messages.
type Set struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Messages []Message `json:"messages"`
}

// Direction for MoveMessage.
type Direction int

const (
	Up Direction = iota
	Down
)

// Library is the persisted system message collection. Methods are safe for
// concurrent use.
type Library struct {
	store kv.Store

	mu     sync.RWMutex
	global string
	sets   []Set
	active []string
}

// New returns an empty library backed by store. Call EnsureDefaults before
// use.
func New(store kv.Store) *Library {
	return &Library{store: store}
}

func newID() string { return uuid.NewString()[:8] }

// EnsureDefaults loads the library and fills in anything missing: the global
// message (migrated from the legacy prompt key, else defaultGlobal) and a
// "Default" set that starts out active.
func (l *Library) EnsureDefaults(ctx context.Context, defaultGlobal string) error {
	rec, err := l.store.Get(ctx, KeyGlobal, KeySets, KeyActive, KeyLegacyPrompt)
	if err != nil {
		return fmt.Errorf("load system messages: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	out := kv.Record{}

	var global string
	hasGlobal, err := rec.Decode(KeyGlobal, &global)
	if err != nil {
		hasGlobal = false
	}
	if !hasGlobal {
		var legacy string
		if ok, _ := rec.Decode(KeyLegacyPrompt, &legacy); ok {
			global = legacy
		} else {
			global = defaultGlobal
		}
		if err := out.Put(KeyGlobal, global); err != nil {
			return err
		}
	}
	l.global = global

	var sets []Set
	hasSets, err := rec.Decode(KeySets, &sets)
	if err != nil || !hasSets || sets == nil {
		def := Set{ID: newID(), Name: "Default", Messages: []Message{}}
		l.sets = []Set{def}
		l.active = []string{def.ID}
		if err := out.Put(KeySets, l.sets); err != nil {
			return err
		}
		if err := out.Put(KeyActive, l.active); err != nil {
			return err
		}
		return l.store.Set(ctx, out)
	}
	l.sets = sets

	var active []string
	hasActive, err := rec.Decode(KeyActive, &active)
	if err != nil || !hasActive || active == nil {
		active = make([]string, 0, len(sets))
		for _, s := range sets {
			active = append(active, s.ID)
		}
		if err := out.Put(KeyActive, active); err != nil {
			return err
		}
	}
	l.active = active

	if len(out) == 0 {
		return nil
	}
	return l.store.Set(ctx, out)
}

// Global returns the global system message.
func (l *Library) Global() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.global
}

// SetGlobal replaces the global system message.
func (l *Library) SetGlobal(ctx context.Context, text string) error {
	l.mu.Lock()
	l.global = text
	l.mu.Unlock()
	return kv.Save(ctx, l.store, KeyGlobal, text)
}

// Sets returns a deep copy of all sets.
func (l *Library) Sets() []Set {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Set, len(l.sets))
	for i, s := range l.sets {
		s.Messages = slices.Clone(s.Messages)
		out[i] = s
	}
	return out
}

// ActiveSetIDs returns the ids of the active sets.
func (l *Library) ActiveSetIDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.active)
}

// SetActiveSetIDs replaces the active list, dropping duplicates.
func (l *Library) SetActiveSetIDs(ctx context.Context, ids []string) error {
	uniq := make([]string, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(uniq, id) {
			uniq = append(uniq, id)
		}
	}
	l.mu.Lock()
	l.active = uniq
	l.mu.Unlock()
	return kv.Save(ctx, l.store, KeyActive, uniq)
}

// Activate adds id to the active list.
func (l *Library) Activate(ctx context.Context, id string) error {
	if _, ok := l.find(id); !ok {
		return fmt.Errorf("no set with id %q", id)
	}
	return l.SetActiveSetIDs(ctx, append(l.ActiveSetIDs(), id))
}

// Deactivate removes id from the active list.
func (l *Library) Deactivate(ctx context.Context, id string) error {
	ids := slices.DeleteFunc(l.ActiveSetIDs(), func(s string) bool { return s == id })
	return l.SetActiveSetIDs(ctx, ids)
}

// CreateSet appends an empty set. A blank name becomes "New Set".
func (l *Library) CreateSet(ctx context.Context, name string) (Set, error) {
	if strings.TrimSpace(name) == "" {
		name = "New Set"
	}
	s := Set{ID: newID(), Name: name, Messages: []Message{}}
	err := l.mutate(ctx, func(sets []Set) ([]Set, error) {
		return append(sets, s), nil
	})
	return s, err
}

// RenameSet changes a set's name.
func (l *Library) RenameSet(ctx context.Context, id, name string) error {
	return l.mutate(ctx, func(sets []Set) ([]Set, error) {
		i := indexOf(sets, id)
		if i < 0 {
			return nil, fmt.Errorf("no set with id %q", id)
		}
		sets[i].Name = name
		return sets, nil
	})
}

// DuplicateSet copies a set with fresh ids and a "(copy)" suffix.
func (l *Library) DuplicateSet(ctx context.Context, id string) (Set, error) {
	var cp Set
	err := l.mutate(ctx, func(sets []Set) ([]Set, error) {
		i := indexOf(sets, id)
		if i < 0 {
			return nil, fmt.Errorf("no set with id %q", id)
		}
		cp = Set{ID: newID(), Name: sets[i].Name + " (copy)", Messages: make([]Message, 0, len(sets[i].Messages))}
		for _, m := range sets[i].Messages {
			cp.Messages = append(cp.Messages, Message{ID: newID(), Title: m.Title, Text: m.Text})
		}
		return append(sets, cp), nil
	})
	return cp, err
}

// DeleteSet removes a set and deactivates it.
func (l *Library) DeleteSet(ctx context.Context, id string) error {
	if err := l.mutate(ctx, func(sets []Set) ([]Set, error) {
		return slices.DeleteFunc(sets, func(s Set) bool { return s.ID == id }), nil
	}); err != nil {
		return err
	}
	return l.Deactivate(ctx, id)
}

// AddMessage appends a message to a set. A blank title becomes
// "Untitled message".
func (l *Library) AddMessage(ctx context.Context, setID, title, text string) (Message, error) {
	if strings.TrimSpace(title) == "" {
		title = "Untitled message"
	}
	m := Message{ID: newID(), Title: title, Text: text}
	err := l.mutate(ctx, func(sets []Set) ([]Set, error) {
		i := indexOf(sets, setID)
		if i < 0 {
			return nil, fmt.Errorf("no set with id %q", setID)
		}
		sets[i].Messages = append(sets[i].Messages, m)
		return sets, nil
	})
	return m, err
}

// UpdateMessage changes the title and/or text of a message. Nil fields are
// left unchanged.
func (l *Library) UpdateMessage(ctx context.Context, setID, msgID string, title, text *string) error {
	return l.mutate(ctx, func(sets []Set) ([]Set, error) {
		si, mi, err := locate(sets, setID, msgID)
		if err != nil {
			return nil, err
		}
		if title != nil {
			sets[si].Messages[mi].Title = *title
		}
		if text != nil {
			sets[si].Messages[mi].Text = *text
		}
		return sets, nil
	})
}

// RemoveMessage deletes a message from a set.
func (l *Library) RemoveMessage(ctx context.Context, setID, msgID string) error {
	return l.mutate(ctx, func(sets []Set) ([]Set, error) {
		si := indexOf(sets, setID)
		if si < 0 {
			return nil, fmt.Errorf("no set with id %q", setID)
		}
		sets[si].Messages = slices.DeleteFunc(sets[si].Messages, func(m Message) bool { return m.ID == msgID })
		return sets, nil
	})
}

// MoveMessage swaps a message with its neighbour. Moving past either end is
// a no-op.
func (l *Library) MoveMessage(ctx context.Context, setID, msgID string, dir Direction) error {
	return l.mutate(ctx, func(sets []Set) ([]Set, error) {
		si, mi, err := locate(sets, setID, msgID)
		if err != nil {
			return nil, err
		}
		j := mi + 1
		if dir == Up {
			j = mi - 1
		}
		msgs := sets[si].Messages
		if j < 0 || j >= len(msgs) {
			return sets, nil
		}
		msgs[mi], msgs[j] = msgs[j], msgs[mi]
		return sets, nil
	})
}

// Effective returns the texts to send as system messages: the global
// message, then the non-blank messages of every active set in set order.
func (l *Library) Effective() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []string
	if strings.TrimSpace(l.global) != "" {
		out = append(out, l.global)
	}
	for _, s := range l.sets {
		if !slices.Contains(l.active, s.ID) {
			continue
		}
		for _, m := range s.Messages {
			if strings.TrimSpace(m.Text) != "" {
				out = append(out, m.Text)
			}
		}
	}
	return out
}

// FindSet resolves a set by id or, failing that, by case-insensitive name.
func (l *Library) FindSet(ref string) (Set, bool) {
	if s, ok := l.find(ref); ok {
		return s, true
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, s := range l.sets {
		if strings.EqualFold(s.Name, ref) {
			return s, true
		}
	}
	return Set{}, false
}

func (l *Library) find(id string) (Set, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if i := indexOf(l.sets, id); i >= 0 {
		return l.sets[i], true
	}
	return Set{}, false
}

// mutate applies fn to a working copy of the sets and persists the result.
func (l *Library) mutate(ctx context.Context, fn func([]Set) ([]Set, error)) error {
	l.mu.Lock()
	work := make([]Set, len(l.sets))
	for i, s := range l.sets {
		s.Messages = slices.Clone(s.Messages)
		work[i] = s
	}
	next, err := fn(work)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	l.sets = next
	l.mu.Unlock()
	return kv.Save(ctx, l.store, KeySets, next)
}

func indexOf(sets []Set, id string) int {
	return slices.IndexFunc(sets, func(s Set) bool { return s.ID == id })
}

func locate(sets []Set, setID, msgID string) (int, int, error) {
	si := indexOf(sets, setID)
	if si < 0 {
		return 0, 0, fmt.Errorf("no set with id %q", setID)
	}
	mi := slices.IndexFunc(sets[si].Messages, func(m Message) bool { return m.ID == msgID })
	if mi < 0 {
		return 0, 0, fmt.Errorf("no message %q in set %q", msgID, setID)
	}
	return si, mi, nil
}
