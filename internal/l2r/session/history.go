package session

import (
	"strings"
	"time"

	"github.com/bdobrica/l2r/internal/l2r/llm"
)

// Entry is one message of the conversation history.
type Entry struct {
	Role      llm.Role  `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"ts"`
}

// Limits bounds the stored history and the slice sent with each request.
type Limits struct {
	// MaxMessages caps the number of stored entries. Default: 32.
	MaxMessages int
	// MaxChars caps the cumulative content length. Default: 15000.
	MaxChars int
	// MinMessages is the floor MaxChars trimming never goes below. Default: 8.
	MinMessages int
	// RequestWindow is how many recent entries accompany each request.
	// Default: 16.
	RequestWindow int
}

// DefaultLimits returns the documented defaults.
func DefaultLimits() Limits {
	return Limits{MaxMessages: 32, MaxChars: 15000, MinMessages: 8, RequestWindow: 16}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxMessages <= 0 {
		l.MaxMessages = d.MaxMessages
	}
	if l.MaxChars <= 0 {
		l.MaxChars = d.MaxChars
	}
	if l.MinMessages <= 0 {
		l.MinMessages = d.MinMessages
	}
	if l.RequestWindow <= 0 {
		l.RequestWindow = d.RequestWindow
	}
	return l
}

// Clamp keeps the newest MaxMessages entries, then drops from the oldest end
// while the content exceeds MaxChars and more than MinMessages remain.
func Clamp(h []Entry, lim Limits) []Entry {
	lim = lim.withDefaults()
	if len(h) > lim.MaxMessages {
		h = h[len(h)-lim.MaxMessages:]
	}
	total := 0
	for _, e := range h {
		total += len(e.Content)
	}
	for total > lim.MaxChars && len(h) > lim.MinMessages {
		total -= len(h[0].Content)
		h = h[1:]
	}
	return append([]Entry(nil), h...)
}

// Transcript renders the last n user/assistant entries as
// "User: ..." / "Assistant: ..." lines.
func Transcript(h []Entry, n int) string {
	if n > 0 && len(h) > n {
		h = h[len(h)-n:]
	}
	lines := make([]string, 0, len(h))
	for _, e := range h {
		who := "Assistant"
		if e.Role == llm.RoleUser {
			who = "User"
		}
		lines = append(lines, who+": "+e.Content)
	}
	return strings.Join(lines, "\n")
}
