package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/bdobrica/l2r/internal/l2r/chess"
	"github.com/bdobrica/l2r/internal/l2r/llm"
)

const extractSystemPrompt = `You extract a single chess move from a chat message.
Reply with strict JSON only: {"move": "<move>", "notation": "san" | "uci"}.
If the message does not contain a move, reply {"move": ""}.
Do not add commentary or code fences.`

const moveSchema = `{
	"type": "object",
	"required": ["move"],
	"properties": {
		"move": {"type": "string", "maxLength": 16},
		"notation": {"enum": ["san", "uci"]}
	}
}`

var (
	compiledMoveSchema = jsonschema.MustCompileString("move.json", moveSchema)
	fencePattern       = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
	uciSanitizer       = regexp.MustCompile(`[^a-h1-8qrbn]`)
)

type extracted struct {
	Move     string   `json:"move"`
	Notation Notation `json:"notation"`
}

// askModel asks the LLM which move the counterpart meant. A transport error,
// malformed JSON or an empty move all yield ok=false.
func askModel(ctx context.Context, p llm.Provider, fen string, side chess.Side, text string) (Match, bool) {
	if p == nil || !p.HasCredential() {
		return Match{}, false
	}
	user := fmt.Sprintf("Position (FEN): %s\nSide to move: %s\nMessage: %s", fen, side, text)
	raw, err := p.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: extractSystemPrompt},
			{Role: llm.RoleUser, Content: user},
		},
		Temperature:    0,
		MaxOutputChars: 200,
	})
	if err != nil {
		slog.Warn("resolver: move extraction failed", "err", err)
		return Match{}, false
	}
	return parseExtraction(raw)
}

// parseExtraction validates the model output against the move schema.
func parseExtraction(raw string) (Match, bool) {
	raw = stripFences(raw)
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		slog.Debug("resolver: extraction is not JSON", "raw", raw)
		return Match{}, false
	}
	if err := compiledMoveSchema.Validate(doc); err != nil {
		slog.Debug("resolver: extraction fails schema", "err", err)
		return Match{}, false
	}
	var out extracted
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return Match{}, false
	}
	mv := strings.TrimSpace(out.Move)
	if mv == "" {
		return Match{}, false
	}
	if out.Notation == NotationUCI {
		return Match{Notation: NotationUCI, Move: uciSanitizer.ReplaceAllString(strings.ToLower(mv), "")}, true
	}
	return Match{Notation: NotationSAN, Move: chess.CanonicalSAN(mv)}, true
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// legalMatch reports whether m names a move in legal.
func legalMatch(m Match, legal []chess.Move) bool {
	for _, l := range legal {
		switch m.Notation {
		case NotationUCI:
			if l.UCI == m.Move {
				return true
			}
		default:
			if chess.CanonicalSAN(l.SAN) == m.Move {
				return true
			}
		}
	}
	return false
}
