package llm_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/bdobrica/l2r/common/retry"
	"github.com/bdobrica/l2r/internal/l2r/kv"
	"github.com/bdobrica/l2r/internal/l2r/llm"
)

// scripted returns queued results in order.
type scripted struct {
	name    string
	key     bool
	results []error
	calls   int
}

func (s *scripted) Name() string        { return s.name }
func (s *scripted) HasCredential() bool { return s.key }
func (s *scripted) Complete(context.Context, llm.Request) (string, error) {
	i := s.calls
	s.calls++
	if i < len(s.results) && s.results[i] != nil {
		return "", s.results[i]
	}
	return s.name + " reply", nil
}

func fastPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}
}

func TestWithRetry_RetriesTransient(t *testing.T) {
	p := &scripted{name: "openai", key: true, results: []error{
		&llm.StatusError{Provider: "openai", StatusCode: 429, Message: "slow"},
		&llm.StatusError{Provider: "openai", StatusCode: 502, Message: "bad gateway"},
	}}
	out, err := llm.WithRetry(p, fastPolicy()).Complete(context.Background(), llm.Request{})
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if out != "openai reply" || p.calls != 3 {
		t.Errorf("out=%q calls=%d", out, p.calls)
	}
}

func TestWithRetry_DoesNotRetryClientErrors(t *testing.T) {
	p := &scripted{name: "openai", key: true, results: []error{
		&llm.StatusError{Provider: "openai", StatusCode: 401, Message: "bad key"},
	}}
	_, err := llm.WithRetry(p, fastPolicy()).Complete(context.Background(), llm.Request{})
	if err == nil || p.calls != 1 {
		t.Fatalf("expected single failing call, got err=%v calls=%d", err, p.calls)
	}
	if err.Error() != "OpenAI error 401: bad key" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&llm.StatusError{StatusCode: http.StatusTooManyRequests}, true},
		{&llm.StatusError{StatusCode: http.StatusInternalServerError}, true},
		{&llm.StatusError{StatusCode: http.StatusBadRequest}, false},
		{errors.New("plain"), false},
		{llm.ErrNoCredential, false},
	}
	for _, tc := range tests {
		if got := llm.IsTransient(tc.err); got != tc.want {
			t.Errorf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestTokensForChars(t *testing.T) {
	tests := []struct{ chars, want int }{
		{0, 64},
		{200, 64},
		{2000, 526},
		{1_000_000, 4096},
	}
	for _, tc := range tests {
		if got := llm.TokensForChars(tc.chars); got != tc.want {
			t.Errorf("TokensForChars(%d) = %d, want %d", tc.chars, got, tc.want)
		}
	}
}

func TestSelector_SwitchAndPersist(t *testing.T) {
	store := kv.NewMemory()
	oa := &scripted{name: "openai", key: true}
	gm := &scripted{name: "gemini", key: false}
	sel := llm.NewSelector(store, llm.KindOpenAI, map[llm.Kind]llm.Provider{
		llm.KindOpenAI: oa, llm.KindGemini: gm,
	})
	ctx := context.Background()

	if !sel.HasCredential() {
		t.Fatal("openai should have a credential")
	}
	if err := sel.SetActive(ctx, llm.KindGemini); err != nil {
		t.Fatal(err)
	}
	if sel.HasCredential() {
		t.Error("gemini has no key configured")
	}
	if _, err := sel.Complete(ctx, llm.Request{}); !errors.Is(err, llm.ErrNoCredential) {
		t.Errorf("expected ErrNoCredential, got %v", err)
	}

	restored := llm.NewSelector(store, llm.KindOpenAI, map[llm.Kind]llm.Provider{
		llm.KindOpenAI: oa, llm.KindGemini: gm,
	})
	if err := restored.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if restored.Active() != llm.KindGemini {
		t.Errorf("persisted provider not restored, got %s", restored.Active())
	}
}

func TestParseKind(t *testing.T) {
	if k, err := llm.ParseKind("gemini"); err != nil || k != llm.KindGemini {
		t.Errorf("ParseKind(gemini) = %v, %v", k, err)
	}
	if _, err := llm.ParseKind("claude"); err == nil {
		t.Error("expected error for unknown provider")
	}
}
