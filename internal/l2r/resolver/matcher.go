package resolver

import (
	"regexp"
	"sort"
	"strings"

	"github.com/bdobrica/l2r/internal/l2r/chess"
)

// Notation of a matched move.
type Notation string

const (
	NotationSAN Notation = "san"
	NotationUCI Notation = "uci"
)

// Match is a move found in chat text.
type Match struct {
	Notation Notation
	// Move is a UCI string or a SAN without check markers.
	Move string
}

var (
	uciPattern    = regexp.MustCompile(`\b([a-h][1-8][a-h][1-8][qrbn]?)\b`)
	castlePattern = regexp.MustCompile(`(?i)\bcastl(e|es|ing)\b`)
	shortPattern  = regexp.MustCompile(`(?i)\b(king[- ]?side|short)\b`)
	longPattern   = regexp.MustCompile(`(?i)\b(queen[- ]?side|long)\b`)

	textReplacer = strings.NewReplacer(
		"‒", "-", "–", "-", "—", "-", "―", "-",
		"‘", "'", "’", "'",
		"“", `"`, "”", `"`,
	)
)

// normalizeText maps unicode dashes and smart quotes to ASCII and collapses
// whitespace.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(textReplacer.Replace(s)), " ")
}

// sanVariants lists the spellings accepted for one SAN: as written, without
// check/mate marker, and castling with zeros.
func sanVariants(san string) []string {
	base := strings.TrimRight(san, "+#")
	out := []string{san}
	if base != san {
		out = append(out, base)
	}
	switch base {
	case "O-O":
		out = append(out, "0-0")
	case "O-O-O":
		out = append(out, "0-0-0")
	}
	return out
}

// MatchLegalMove looks for a legal move mentioned in text without any LLM
// help. UCI tokens win over SAN; among SAN spellings the longest wins so that
// "Be4" is not read as "e4"; "castle" with an optional side qualifier maps to
// the matching castling move.
func MatchLegalMove(text string, legal []chess.Move) (Match, bool) {
	text = normalizeText(text)
	if text == "" || len(legal) == 0 {
		return Match{}, false
	}

	uciSet := make(map[string]bool, len(legal))
	for _, m := range legal {
		uciSet[m.UCI] = true
	}
	for _, sm := range uciPattern.FindAllStringSubmatch(strings.ToLower(text), -1) {
		if uciSet[sm[1]] {
			return Match{Notation: NotationUCI, Move: sm[1]}, true
		}
	}

	// lower-cased variant -> canonical SANs sharing it (bxc3 vs Bxc3)
	variants := make(map[string][]string)
	for _, m := range legal {
		canon := chess.CanonicalSAN(m.SAN)
		for _, v := range sanVariants(m.SAN) {
			key := strings.ToLower(v)
			if !containsString(variants[key], canon) {
				variants[key] = append(variants[key], canon)
			}
		}
	}
	if m, ok := matchSAN(text, variants); ok {
		return m, true
	}

	if castlePattern.MatchString(text) {
		if m, ok := matchCastle(text, legal); ok {
			return m, true
		}
	}
	return Match{}, false
}

func matchSAN(text string, variants map[string][]string) (Match, bool) {
	tokens := make([]string, 0, len(variants))
	for k := range variants {
		tokens = append(tokens, k)
	}
	sort.Slice(tokens, func(i, j int) bool {
		if len(tokens[i]) != len(tokens[j]) {
			return len(tokens[i]) > len(tokens[j])
		}
		return tokens[i] < tokens[j]
	})
	for i, t := range tokens {
		tokens[i] = regexp.QuoteMeta(t)
	}

	re, err := regexp.Compile(`(?i)(^|[^a-z0-9])(` + strings.Join(tokens, "|") + `)([^a-z0-9]|$)`)
	if err != nil {
		return Match{}, false
	}
	written := ""
	for _, idx := range re.FindAllStringSubmatchIndex(text, -1) {
		if partOfLongerCastle(text, idx[4], idx[5]) {
			continue
		}
		written = text[idx[4]:idx[5]]
		break
	}
	if written == "" {
		return Match{}, false
	}
	candidates := variants[strings.ToLower(written)]
	if len(candidates) == 0 {
		return Match{}, false
	}
	chosen := candidates[0]
	for _, c := range candidates {
		if c == chess.CanonicalSAN(written) {
			chosen = c
			break
		}
	}
	return Match{Notation: NotationSAN, Move: chosen}, true
}

// partOfLongerCastle reports whether the castling token text[start:end] is
// dash-joined to a further O or 0, like the "O-O" inside "O-O-O".
func partOfLongerCastle(text string, start, end int) bool {
	isO := func(b byte) bool { return b == 'O' || b == 'o' || b == '0' }
	if !isO(text[start]) {
		return false
	}
	if end+1 < len(text) && text[end] == '-' && isO(text[end+1]) {
		return true
	}
	return start >= 2 && text[start-1] == '-' && isO(text[start-2])
}

func matchCastle(text string, legal []chess.Move) (Match, bool) {
	var castles []string
	for _, m := range legal {
		if c := chess.CanonicalSAN(m.SAN); c == "O-O" || c == "O-O-O" {
			castles = append(castles, c)
		}
	}
	if len(castles) == 0 {
		return Match{}, false
	}

	var wanted []string
	if shortPattern.MatchString(text) {
		wanted = append(wanted, "O-O")
	}
	if longPattern.MatchString(text) {
		wanted = append(wanted, "O-O-O")
	}
	for _, w := range wanted {
		if containsString(castles, w) {
			return Match{Notation: NotationSAN, Move: w}, true
		}
	}
	if len(wanted) == 0 && len(castles) == 1 {
		return Match{Notation: NotationSAN, Move: castles[0]}, true
	}
	return Match{}, false
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
