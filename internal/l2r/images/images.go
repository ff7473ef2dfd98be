// Package images is the image lab: it condenses the recent conversation into
// an image prompt, renders it through the OpenAI image endpoint and keeps a
// capped gallery of the results.
package images

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bdobrica/l2r/internal/l2r/bus"
	"github.com/bdobrica/l2r/internal/l2r/kv"
	"github.com/bdobrica/l2r/internal/l2r/llm"
)

// Store keys.
const (
	KeyCollection = "l2r.img.collection"
	KeyStyle      = "l2r.img.style"
	KeyOptions    = "l2r.img.opts"
)

// DefaultStyle is the style recipe used until the operator sets one.
const DefaultStyle = "Ultra-sharp anime lines with impressionistic micro-textures. " +
	"Volumetric lighting, HDR colors, cinematic bloom (sparingly), motion trails for energy, " +
	"painterly periphery with razor-sharp focal subject. Emphasize ray-traced speculars, " +
	"layered background/foreground depth, and a composition that keeps primary focus " +
	"tack-sharp while edges soften."

const promptSystem = `You are an expert prompt-writer for image models.
Given a conversation transcript and a style recipe, produce ONE concise, vivid, concrete image prompt.
Rules:
- 1-4 sentences. <= 2500 characters total.
- Describe subject, setting, background, foreground, lighting, mood, and camera.
- Avoid copyrighted characters/logos and explicit sexual content.
- Do NOT include disclaimers or the transcript itself. Output only the prompt.`

// transcriptWindow is how many recent history entries feed the prompt.
const transcriptWindow = 16

// ErrNoConversation is returned by PromptFromChat when there is no history.
var ErrNoConversation = errors.New("images: no conversation to draw from")

// Options are the image endpoint parameters.
type Options struct {
	Model   string `json:"model"`
	Size    string `json:"size"`
	Quality string `json:"quality"`
	Style   string `json:"style"`
}

// DefaultOptions returns dall-e-3, 1024x1024, hd, vivid.
func DefaultOptions() Options {
	return Options{Model: "dall-e-3", Size: "1024x1024", Quality: "hd", Style: "vivid"}
}

var (
	validSizes     = []string{"1024x1024", "1792x1024", "1024x1792", "512x512", "256x256"}
	validQualities = []string{"standard", "hd"}
	validStyles    = []string{"vivid", "natural"}
)

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Model == "" {
		o.Model = d.Model
	}
	if o.Size == "" {
		o.Size = d.Size
	}
	if o.Quality == "" {
		o.Quality = d.Quality
	}
	if o.Style == "" {
		o.Style = d.Style
	}
	return o
}

// Validate checks size, quality and style against the values the endpoint
// accepts.
func (o Options) Validate() error {
	var errs []error
	if !oneOf(o.Size, validSizes) {
		errs = append(errs, fmt.Errorf("size %q must be one of %s", o.Size, strings.Join(validSizes, ", ")))
	}
	if !oneOf(o.Quality, validQualities) {
		errs = append(errs, fmt.Errorf("quality %q must be one of %s", o.Quality, strings.Join(validQualities, ", ")))
	}
	if !oneOf(o.Style, validStyles) {
		errs = append(errs, fmt.Errorf("style %q must be one of %s", o.Style, strings.Join(validStyles, ", ")))
	}
	return errors.Join(errs...)
}

func oneOf(v string, set []string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Record is one generated image.
type Record struct {
	URL     string    `json:"url"`
	Prompt  string    `json:"prompt"`
	Size    string    `json:"size"`
	Quality string    `json:"quality"`
	Style   string    `json:"style"`
	At      time.Time `json:"at"`
}

// Generator renders a prompt into an image URL. *llm.OpenAI satisfies it.
type Generator interface {
	HasCredential() bool
	GenerateImage(ctx context.Context, req llm.ImageRequest) (string, error)
}

// Transcripter exposes recent conversation lines. *session.Session
// satisfies it.
type Transcripter interface {
	Transcript(n int) string
}

// Publisher is the subset of *bus.Bus used here.
type Publisher interface {
	Publish(ctx context.Context, topic bus.Topic, payload any)
}

// Config tunes the lab.
type Config struct {
	// MaxGallery caps the stored collection; the oldest entries go first.
	// Default: 9999.
	MaxGallery int
}

// Deps are the collaborators of a Lab.
type Deps struct {
	Store  kv.Store
	LLM    llm.Provider
	Images Generator
	Chat   Transcripter
	Bus    Publisher
}

// Lab is safe for concurrent use.
type Lab struct {
	cfg  Config
	deps Deps
	now  func() time.Time

	mu      sync.Mutex
	style   string
	opts    Options
	gallery []Record
}

// New returns a lab with default style and options. Call Load to restore
// persisted state.
func New(cfg Config, deps Deps) *Lab {
	if cfg.MaxGallery <= 0 {
		cfg.MaxGallery = 9999
	}
	return &Lab{cfg: cfg, deps: deps, now: time.Now, style: DefaultStyle, opts: DefaultOptions()}
}

// Load restores the gallery, style and options.
func (l *Lab) Load(ctx context.Context) error {
	rec, err := l.deps.Store.Get(ctx, KeyCollection, KeyStyle, KeyOptions)
	if err != nil {
		return fmt.Errorf("load image lab: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var gallery []Record
	if _, err := rec.Decode(KeyCollection, &gallery); err != nil {
		slog.Warn("images: ignoring malformed gallery", "err", err)
	} else if len(gallery) > l.cfg.MaxGallery {
		gallery = gallery[len(gallery)-l.cfg.MaxGallery:]
	}
	l.gallery = gallery

	var style string
	if _, err := rec.Decode(KeyStyle, &style); err != nil {
		slog.Warn("images: ignoring malformed style", "err", err)
	}
	if strings.TrimSpace(style) != "" {
		l.style = style
	}

	var opts Options
	if ok, err := rec.Decode(KeyOptions, &opts); err != nil {
		slog.Warn("images: ignoring malformed options", "err", err)
	} else if ok {
		l.opts = opts.withDefaults()
	}
	return nil
}

// PromptFromChat asks the LLM for one image prompt describing the recent
// conversation in the current style.
func (l *Lab) PromptFromChat(ctx context.Context) (string, error) {
	convo := strings.TrimSpace(l.deps.Chat.Transcript(transcriptWindow))
	if convo == "" {
		return "", ErrNoConversation
	}
	if !l.deps.LLM.HasCredential() {
		return "", llm.ErrNoCredential
	}
	user := fmt.Sprintf("Style recipe:\n%s\n\nConversation (recent):\n%s\n\nWrite the single best image prompt now.", l.Style(), convo)
	out, err := l.deps.LLM.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: promptSystem},
			{Role: llm.RoleUser, Content: user},
		},
		Temperature:    0.9,
		MaxOutputChars: 2500,
	})
	if err != nil {
		return "", fmt.Errorf("image prompt: %w", err)
	}
	out = strings.TrimSpace(out)
	if r := []rune(out); len(r) > 2500 {
		out = string(r[:2500])
	}
	return out, nil
}

// Generate renders prompt with the current options, stores the result and
// publishes image.generated.
func (l *Lab) Generate(ctx context.Context, prompt string) (Record, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Record{}, errors.New("images: prompt is empty")
	}
	if !l.deps.Images.HasCredential() {
		l.publish(ctx, bus.TopicNotice, bus.Notice{Level: bus.LevelWarn, Text: "Add an OpenAI API key to generate images."})
		return Record{}, llm.ErrNoCredential
	}
	opts := l.Options()

	url, err := l.deps.Images.GenerateImage(ctx, llm.ImageRequest{
		Prompt:  prompt,
		Model:   opts.Model,
		Size:    opts.Size,
		Quality: opts.Quality,
		Style:   opts.Style,
	})
	if err != nil {
		l.publish(ctx, bus.TopicNotice, bus.Notice{Level: bus.LevelError, Text: "Image generation failed: " + err.Error()})
		return Record{}, fmt.Errorf("generate image: %w", err)
	}

	rec := Record{URL: url, Prompt: prompt, Size: opts.Size, Quality: opts.Quality, Style: opts.Style, At: l.now().UTC()}
	l.mu.Lock()
	l.gallery = append(l.gallery, rec)
	if over := len(l.gallery) - l.cfg.MaxGallery; over > 0 {
		l.gallery = append([]Record(nil), l.gallery[over:]...)
	}
	snapshot := append([]Record(nil), l.gallery...)
	l.mu.Unlock()

	if err := kv.Save(ctx, l.deps.Store, KeyCollection, snapshot); err != nil {
		slog.Warn("images: gallery not persisted", "err", err)
	}
	slog.Info("images: generated", "url", url, "size", opts.Size)
	l.publish(ctx, bus.TopicImageGenerated, bus.ImageGenerated{URL: url, Prompt: prompt})
	return rec, nil
}

// Gallery returns the stored images, newest first.
func (l *Lab) Gallery() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.gallery))
	for i, r := range l.gallery {
		out[len(out)-1-i] = r
	}
	return out
}

// Style returns the current style recipe.
func (l *Lab) Style() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.style
}

// SetStyle replaces the style recipe; a blank recipe restores the default.
func (l *Lab) SetStyle(ctx context.Context, style string) error {
	style = strings.TrimSpace(style)
	if style == "" {
		style = DefaultStyle
	}
	l.mu.Lock()
	l.style = style
	l.mu.Unlock()
	return kv.Save(ctx, l.deps.Store, KeyStyle, style)
}

// Options returns the current endpoint parameters.
func (l *Lab) Options() Options {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opts
}

// SetOptions validates and stores endpoint parameters. Blank fields take
// their defaults.
func (l *Lab) SetOptions(ctx context.Context, o Options) (Options, error) {
	o = o.withDefaults()
	if err := o.Validate(); err != nil {
		return Options{}, err
	}
	l.mu.Lock()
	l.opts = o
	l.mu.Unlock()
	return o, kv.Save(ctx, l.deps.Store, KeyOptions, o)
}

func (l *Lab) publish(ctx context.Context, topic bus.Topic, payload any) {
	if l.deps.Bus != nil {
		l.deps.Bus.Publish(ctx, topic, payload)
	}
}
