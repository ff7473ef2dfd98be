// Package llm is the text-in/text-out client used by the conversation
// session, the move resolver and the image lab.
//
// Two providers are supported (OpenAI and Gemini). Selector switches between
// them at runtime and persists the choice; WithRetry adds bounded backoff for
// rate limits and upstream failures.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Role is the role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a chat completion request.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is the input to a single completion call.
type Request struct {
	Messages    []Message
	Temperature float64
	// MaxOutputChars bounds the reply length. It is translated to a token
	// budget with TokensForChars; zero leaves the provider default.
	MaxOutputChars int
}

// Provider produces one completion for a request.
type Provider interface {
	// Name is the short provider id ("openai", "gemini").
	Name() string
	// HasCredential reports whether an API key is configured.
	HasCredential() bool
	// Complete returns the trimmed completion text.
	Complete(ctx context.Context, req Request) (string, error)
}

// ErrNoCredential is returned when the active provider has no API key.
var ErrNoCredential = errors.New("llm: no API key configured for the active provider")

// StatusError is a non-2xx answer from a provider.
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s error %d: %s", displayName(e.Provider), e.StatusCode, e.Message)
}

// IsTransient reports whether err is worth retrying: HTTP 429 or any 5xx.
func IsTransient(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
}

// TokensForChars converts a character budget to an approximate token budget,
// clamped to [64, 4096].
func TokensForChars(chars int) int {
	n := int(float64(chars) / 3.8)
	return max(64, min(4096, n))
}

func displayName(provider string) string {
	switch provider {
	case "openai":
		return "OpenAI"
	case "gemini":
		return "Gemini"
	}
	return provider
}
