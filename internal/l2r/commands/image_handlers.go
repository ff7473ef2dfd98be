package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/bdobrica/l2r/internal/l2r/images"
)

// HandleImage generates an image from the given prompt, or from the recent
// conversation when none is given.
func (h *Handlers) HandleImage(ctx context.Context, cmd *Command, sender string) (string, error) {
	prompt := cmd.Text(0)
	if prompt == "" {
		p, err := h.d.Images.PromptFromChat(ctx)
		if err != nil {
			return "", err
		}
		prompt = p
	}
	rec, err := h.d.Images.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("🖼️ %s\n\n> %s", rec.URL, rec.Prompt), nil
}

// HandleImageStyle shows or replaces the style recipe. "default" restores
// the built-in recipe.
func (h *Handlers) HandleImageStyle(ctx context.Context, cmd *Command, sender string) (string, error) {
	text := cmd.Text(1)
	if text == "" {
		return "**Style recipe:**\n" + h.d.Images.Style(), nil
	}
	if strings.EqualFold(text, "default") {
		text = ""
	}
	if err := h.d.Images.SetStyle(ctx, text); err != nil {
		return "", fmt.Errorf("failed to save style: %w", err)
	}
	return "Style recipe updated", nil
}

// HandleImageOptions shows or changes the endpoint parameters.
func (h *Handlers) HandleImageOptions(ctx context.Context, cmd *Command, sender string) (string, error) {
	cur := h.d.Images.Options()
	if len(cmd.Flags) > 0 {
		next := images.Options{
			Model:   cmd.GetFlag("model", cur.Model),
			Size:    cmd.GetFlag("size", cur.Size),
			Quality: cmd.GetFlag("quality", cur.Quality),
			Style:   cmd.GetFlag("style", cur.Style),
		}
		saved, err := h.d.Images.SetOptions(ctx, next)
		if err != nil {
			return "", err
		}
		cur = saved
	}
	return fmt.Sprintf("Model: %s | Size: %s | Quality: %s | Style: %s", cur.Model, cur.Size, cur.Quality, cur.Style), nil
}

// HandleImages lists the gallery, newest first.
func (h *Handlers) HandleImages(ctx context.Context, cmd *Command, sender string) (string, error) {
	gallery := h.d.Images.Gallery()
	if len(gallery) == 0 {
		return "No images yet", nil
	}
	limit := 10
	var sb strings.Builder
	fmt.Fprintf(&sb, "**Images (%d)**\n\n", len(gallery))
	for i, r := range gallery {
		if i == limit {
			fmt.Fprintf(&sb, "… and %d more\n", len(gallery)-limit)
			break
		}
		fmt.Fprintf(&sb, "• %s %s (%s)\n", r.At.Format("2006-01-02 15:04"), r.URL, r.Size)
	}
	return sb.String(), nil
}
