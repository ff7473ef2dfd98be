package bridge_test

import (
	"context"
	"errors"
	"testing"

	"github.com/bdobrica/l2r/internal/l2r/bridge"
)

func TestNormalize(t *testing.T) {
	tests := []struct{ in, want string }{
		{"  hello   world ", "hello world"},
		{"e2\u200be4", "e2e4"},
		{"line one\n\tline two", "line one line two"},
		{"\u200b", ""},
	}
	for _, tc := range tests {
		if got := bridge.Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMemory_DeduplicatesByID(t *testing.T) {
	b := bridge.NewMemory()
	var got []string
	b.Observe(func(_ context.Context, m bridge.Message) { got = append(got, m.Text) })

	ctx := context.Background()
	if !b.Deliver(ctx, "message-1", "hi  there") {
		t.Fatal("first delivery should pass")
	}
	if b.Deliver(ctx, "message-1", "hi there") {
		t.Fatal("duplicate delivery should be dropped")
	}
	b.Deliver(ctx, "message-2", "again")

	if len(got) != 2 || got[0] != "hi there" || got[1] != "again" {
		t.Fatalf("unexpected deliveries %q", got)
	}
}

func TestMemory_BlankMessagesDropped(t *testing.T) {
	b := bridge.NewMemory()
	calls := 0
	b.Observe(func(context.Context, bridge.Message) { calls++ })
	b.Deliver(context.Background(), "m", "   \u200b ")
	if calls != 0 {
		t.Fatalf("blank message reached observer")
	}
}

func TestMemory_Unsubscribe(t *testing.T) {
	b := bridge.NewMemory()
	calls := 0
	unsub := b.Observe(func(context.Context, bridge.Message) { calls++ })
	b.Deliver(context.Background(), "a", "one")
	unsub()
	b.Deliver(context.Background(), "b", "two")
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestMemory_InjectAndSend(t *testing.T) {
	b := bridge.NewMemory()
	ctx := context.Background()
	if err := b.InjectAndSend(ctx, "reply"); err != nil {
		t.Fatal(err)
	}
	b.FailWith(bridge.ErrComposerUnavailable)
	if err := b.InjectAndSend(ctx, "lost"); !errors.Is(err, bridge.ErrComposerUnavailable) {
		t.Fatalf("expected ErrComposerUnavailable, got %v", err)
	}
	if sent := b.Sent(); len(sent) != 1 || sent[0] != "reply" {
		t.Fatalf("unexpected sent log %q", sent)
	}
}

func TestMatrix_InjectBeforeStart(t *testing.T) {
	m, err := bridge.NewMatrix(bridge.MatrixConfig{
		Homeserver:  "https://matrix.example.org",
		UserID:      "@l2r:example.org",
		AccessToken: "syt_x",
		ChatRoom:    "!chat:example.org",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.InjectAndSend(context.Background(), "hi"); !errors.Is(err, bridge.ErrComposerUnavailable) {
		t.Fatalf("expected ErrComposerUnavailable before Start, got %v", err)
	}
	m.Stop()
}
