package redact_test

import (
	"errors"
	"testing"

	"github.com/bdobrica/l2r/common/redact"
)

func TestString(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		secrets []string
		want    string
	}{
		{"bearer", "Authorization: Bearer sk-abcdef123", []string{"sk-abcdef123"}, "Authorization: Bearer [REDACTED]"},
		{"short value skipped", "abc token", []string{"abc"}, "abc token"},
		{"multiple", "k=sk-1111 t=syt_2222", []string{"sk-1111", "syt_2222"}, "k=[REDACTED] t=[REDACTED]"},
		{"no secrets", "plain", nil, "plain"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := redact.String(tc.in, tc.secrets...); got != tc.want {
				t.Errorf("String() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestError(t *testing.T) {
	if got := redact.Error(nil, "whatever"); got != "" {
		t.Errorf("nil error should render empty, got %q", got)
	}
	err := errors.New(`OpenAI error 401: invalid key "sk-live-9999"`)
	if got := redact.Error(err, "sk-live-9999"); got != `OpenAI error 401: invalid key "[REDACTED]"` {
		t.Errorf("unexpected redaction: %q", got)
	}
}

func TestSecrets(t *testing.T) {
	var s redact.Secrets
	s.Add("", "ab", "gemini-key-1", "syt_token")
	if len(s) != 2 {
		t.Fatalf("expected 2 secrets kept, got %v", s)
	}
	if got := s.Apply("gemini-key-1 / syt_token"); got != "[REDACTED] / [REDACTED]" {
		t.Errorf("Apply() = %q", got)
	}
}

func TestMap(t *testing.T) {
	m := map[string]any{
		"user":         "@op:example.org",
		"access_token": "syt_123",
		"api_key":      "sk-1",
		"turns":        3,
	}
	out := redact.Map(m)
	if out["user"] != "@op:example.org" {
		t.Errorf("user should be untouched, got %v", out["user"])
	}
	if out["access_token"] != "[REDACTED]" || out["api_key"] != "[REDACTED]" {
		t.Errorf("secrets not redacted: %v", out)
	}
	if out["turns"] != 3 {
		t.Errorf("non-string value changed: %v", out["turns"])
	}
	if m["access_token"] != "syt_123" {
		t.Error("Map mutated its input")
	}
}
