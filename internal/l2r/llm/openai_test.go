package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bdobrica/l2r/internal/l2r/llm"
)

func TestOpenAI_Complete(t *testing.T) {
	var got struct {
		Model       string        `json:"model"`
		Messages    []llm.Message `json:"messages"`
		Temperature float64       `json:"temperature"`
		MaxTokens   int           `json:"max_tokens"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"  Hello there!  "},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	p := llm.NewOpenAI(llm.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	out, err := p.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "be brief"},
			{Role: llm.RoleUser, Content: "hi"},
		},
		Temperature:    0.7,
		MaxOutputChars: 2000,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "Hello there!" {
		t.Errorf("expected trimmed reply, got %q", out)
	}
	if got.Model != "gpt-4o-mini" {
		t.Errorf("expected default model, got %q", got.Model)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != llm.RoleSystem {
		t.Errorf("unexpected messages %+v", got.Messages)
	}
	if got.MaxTokens != llm.TokensForChars(2000) {
		t.Errorf("max_tokens = %d, want %d", got.MaxTokens, llm.TokensForChars(2000))
	}
}

func TestOpenAI_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit_exceeded"}}`))
	}))
	defer srv.Close()

	p := llm.NewOpenAI(llm.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	_, err := p.Complete(context.Background(), llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}})

	var se *llm.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %T %v", err, err)
	}
	if se.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", se.StatusCode)
	}
	if !llm.IsTransient(err) {
		t.Error("429 should be transient")
	}
}

func TestOpenAI_NoCredential(t *testing.T) {
	p := llm.NewOpenAI(llm.OpenAIConfig{})
	if p.HasCredential() {
		t.Fatal("expected no credential")
	}
	if _, err := p.Complete(context.Background(), llm.Request{}); !errors.Is(err, llm.ErrNoCredential) {
		t.Errorf("expected ErrNoCredential, got %v", err)
	}
	if _, err := p.GenerateImage(context.Background(), llm.ImageRequest{Prompt: "x"}); !errors.Is(err, llm.ErrNoCredential) {
		t.Errorf("expected ErrNoCredential from GenerateImage, got %v", err)
	}
}

func TestOpenAI_GenerateImage(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/images/generations" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"created":1,"data":[{"url":"https://img.example/1.png"}]}`))
	}))
	defer srv.Close()

	p := llm.NewOpenAI(llm.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	url, err := p.GenerateImage(context.Background(), llm.ImageRequest{
		Prompt: "a lighthouse", Model: "dall-e-3", Size: "1024x1024", Quality: "hd", Style: "vivid",
	})
	if err != nil {
		t.Fatalf("GenerateImage: %v", err)
	}
	if url != "https://img.example/1.png" {
		t.Errorf("url = %q", url)
	}
	if got["prompt"] != "a lighthouse" || got["model"] != "dall-e-3" || got["style"] != "vivid" {
		t.Errorf("unexpected request body %v", got)
	}
}
