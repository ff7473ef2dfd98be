package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/bdobrica/l2r/common/version"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIConfig configures the OpenAI provider.
type OpenAIConfig struct {
	APIKey string
	// BaseURL overrides the API endpoint. Defaults to the SDK's.
	BaseURL string
	// Model defaults to gpt-4o-mini.
	Model string
	// Timeout for each HTTP request. Defaults to 120s.
	Timeout time.Duration
}

// OpenAI implements Provider with github.com/sashabaranov/go-openai. It also
// serves image generation for the image lab.
type OpenAI struct {
	cfg    OpenAIConfig
	client *openai.Client
}

// NewOpenAI returns an OpenAI provider. An empty API key is allowed; the
// provider then reports HasCredential() == false.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	sdk := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		sdk.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	sdk.HTTPClient = &http.Client{
		Timeout:   cfg.Timeout,
		Transport: userAgentTransport{base: http.DefaultTransport},
	}
	return &OpenAI{cfg: cfg, client: openai.NewClientWithConfig(sdk)}
}

// Name implements Provider.
func (p *OpenAI) Name() string { return "openai" }

// HasCredential implements Provider.
func (p *OpenAI) HasCredential() bool { return p.cfg.APIKey != "" }

// Complete implements Provider.
func (p *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	if !p.HasCredential() {
		return "", ErrNoCredential
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}

	// The SDK omits a zero temperature, which the API reads as 1.
	temp := float32(req.Temperature)
	if temp == 0 {
		temp = math.SmallestNonzeroFloat32
	}

	sdkReq := openai.ChatCompletionRequest{
		Model:       p.cfg.Model,
		Messages:    msgs,
		Temperature: temp,
	}
	if req.MaxOutputChars > 0 {
		sdkReq.MaxTokens = TokensForChars(req.MaxOutputChars)
	}

	resp, err := p.client.CreateChatCompletion(ctx, sdkReq)
	if err != nil {
		return "", p.wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// ImageRequest describes one image generation.
type ImageRequest struct {
	Prompt  string
	Model   string
	Size    string
	Quality string
	Style   string
}

// GenerateImage creates one image and returns its URL.
func (p *OpenAI) GenerateImage(ctx context.Context, req ImageRequest) (string, error) {
	if !p.HasCredential() {
		return "", ErrNoCredential
	}
	resp, err := p.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         req.Prompt,
		Model:          req.Model,
		N:              1,
		Size:           req.Size,
		Quality:        req.Quality,
		Style:          req.Style,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return "", p.wrapError(err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", &StatusError{Provider: p.Name(), StatusCode: http.StatusBadGateway, Message: "no image URL returned"}
	}
	return resp.Data[0].URL, nil
}

// wrapError maps SDK errors onto StatusError so callers see the HTTP status.
func (p *OpenAI) wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &StatusError{Provider: p.Name(), StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := strings.TrimSpace(string(reqErr.Body))
		if msg == "" && reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &StatusError{Provider: p.Name(), StatusCode: reqErr.HTTPStatusCode, Message: msg}
	}
	return fmt.Errorf("openai: %w", err)
}

// userAgentTransport stamps outbound requests with the l2r user agent.
type userAgentTransport struct {
	base http.RoundTripper
}

func (t userAgentTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("User-Agent", version.UserAgent())
	return t.base.RoundTrip(r)
}
