package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bdobrica/l2r/internal/l2r/kv"
)

// Kind identifies a provider in the closed set this client supports.
type Kind string

const (
	KindOpenAI Kind = "openai"
	KindGemini Kind = "gemini"
)

// ParseKind maps user input to a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindOpenAI, KindGemini:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown provider %q (want openai or gemini)", s)
}

// KeyProvider is the store key holding the active provider kind.
const KeyProvider = "l2r.provider"

// Selector routes completions to the active provider and implements Provider
// itself.
type Selector struct {
	mu        sync.RWMutex
	active    Kind
	providers map[Kind]Provider
	store     kv.Store
}

// NewSelector returns a selector over the given providers, starting with
// initial as active. store may be nil.
func NewSelector(store kv.Store, initial Kind, providers map[Kind]Provider) *Selector {
	if initial == "" {
		initial = KindOpenAI
	}
	return &Selector{active: initial, providers: providers, store: store}
}

// Load restores the persisted provider choice. Unknown values are ignored.
func (s *Selector) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	var raw string
	ok, err := kv.Load(ctx, s.store, KeyProvider, &raw)
	if err != nil || !ok {
		return err
	}
	k, err := ParseKind(raw)
	if err != nil {
		slog.Warn("llm: ignoring persisted provider", "value", raw)
		return nil
	}
	s.mu.Lock()
	s.active = k
	s.mu.Unlock()
	return nil
}

// Active returns the selected provider kind.
func (s *Selector) Active() Kind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// SetActive switches providers and persists the choice.
func (s *Selector) SetActive(ctx context.Context, k Kind) error {
	if _, ok := s.providers[k]; !ok {
		return fmt.Errorf("provider %q is not configured", k)
	}
	s.mu.Lock()
	s.active = k
	s.mu.Unlock()
	if s.store == nil {
		return nil
	}
	return kv.Save(ctx, s.store, KeyProvider, string(k))
}

func (s *Selector) current() Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.providers[s.active]
}

// Name implements Provider.
func (s *Selector) Name() string { return string(s.Active()) }

// HasCredential implements Provider.
func (s *Selector) HasCredential() bool {
	p := s.current()
	return p != nil && p.HasCredential()
}

// Complete implements Provider.
func (s *Selector) Complete(ctx context.Context, req Request) (string, error) {
	p := s.current()
	if p == nil || !p.HasCredential() {
		return "", ErrNoCredential
	}
	return p.Complete(ctx, req)
}
