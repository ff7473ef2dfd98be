package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bdobrica/l2r/common/version"
)

const (
	defaultGeminiBase  = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel = "gemini-1.5-pro-latest"
)

// GeminiConfig configures the Gemini provider.
type GeminiConfig struct {
	APIKey string
	// BaseURL defaults to the public v1beta endpoint.
	BaseURL string
	// Model defaults to gemini-1.5-pro-latest.
	Model string
	// Timeout for each HTTP request. Defaults to 120s.
	Timeout time.Duration
}

// Gemini implements Provider using the generateContent REST endpoint.
type Gemini struct {
	cfg    GeminiConfig
	client *http.Client
}

// NewGemini returns a Gemini provider.
func NewGemini(cfg GeminiConfig) *Gemini {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGeminiBase
	}
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Gemini{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// --- wire types (subset of the Gemini API) ---

type gemPart struct {
	Text string `json:"text"`
}

type gemContent struct {
	Role  string    `json:"role,omitempty"`
	Parts []gemPart `json:"parts"`
}

type gemGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type gemRequest struct {
	Contents          []gemContent        `json:"contents"`
	SystemInstruction *gemContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  gemGenerationConfig `json:"generationConfig"`
}

type gemResponse struct {
	Candidates []struct {
		Content gemContent `json:"content"`
	} `json:"candidates"`
}

// Name implements Provider.
func (p *Gemini) Name() string { return "gemini" }

// HasCredential implements Provider.
func (p *Gemini) HasCredential() bool { return p.cfg.APIKey != "" }

// Complete implements Provider. System messages are joined into the
// systemInstruction; assistant turns are sent with the "model" role.
func (p *Gemini) Complete(ctx context.Context, req Request) (string, error) {
	if !p.HasCredential() {
		return "", ErrNoCredential
	}

	body := gemRequest{GenerationConfig: gemGenerationConfig{Temperature: req.Temperature}}
	if req.MaxOutputChars > 0 {
		body.GenerationConfig.MaxOutputTokens = TokensForChars(req.MaxOutputChars)
	}

	var system []string
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			if strings.TrimSpace(m.Content) != "" {
				system = append(system, m.Content)
			}
		case RoleAssistant:
			body.Contents = append(body.Contents, gemContent{Role: "model", Parts: []gemPart{{Text: m.Content}}})
		default:
			body.Contents = append(body.Contents, gemContent{Role: "user", Parts: []gemPart{{Text: m.Content}}})
		}
	}
	if len(system) > 0 {
		body.SystemInstruction = &gemContent{Role: "system", Parts: []gemPart{{Text: strings.Join(system, "\n\n")}}}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent",
		strings.TrimRight(p.cfg.BaseURL, "/"), url.PathEscape(p.cfg.Model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.cfg.APIKey)
	httpReq.Header.Set("User-Agent", version.UserAgent())

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("gemini: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("gemini: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(respBody))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return "", &StatusError{Provider: p.Name(), StatusCode: resp.StatusCode, Message: msg}
	}

	var gr gemResponse
	if err := json.Unmarshal(respBody, &gr); err != nil {
		return "", fmt.Errorf("gemini: decode response: %w", err)
	}
	if len(gr.Candidates) == 0 {
		return "", nil
	}
	var sb strings.Builder
	for _, part := range gr.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return strings.TrimSpace(sb.String()), nil
}
