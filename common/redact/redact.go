// Package redact strips secrets (LLM API keys, Matrix access tokens) from
// strings before they are logged or echoed into a chat room.
//
// Redaction is best-effort: it relies on callers passing the right set of
// sensitive values.
package redact

import (
	"strings"
)

const placeholder = "[REDACTED]"

// String replaces every occurrence of each sensitive value in s with
// [REDACTED]. Values shorter than 4 characters are skipped.
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// Error renders err with sensitive values removed. A nil error yields "".
func Error(err error, sensitiveValues ...string) string {
	if err == nil {
		return ""
	}
	return String(err.Error(), sensitiveValues...)
}

// Secrets collects the non-empty values worth redacting. It exists so call
// sites can build the list once from configuration.
type Secrets []string

// Add appends v when it is long enough to be redacted.
func (s *Secrets) Add(v ...string) {
	for _, x := range v {
		if len(x) >= 4 {
			*s = append(*s, x)
		}
	}
}

// Apply redacts every collected secret from text.
func (s Secrets) Apply(text string) string {
	return String(text, s...)
}

// Map returns a shallow copy of m with string values replaced by
// [REDACTED] for keys that look like they hold a secret.
func Map(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if isSensitiveKey(k) {
			if str, ok := v.(string); ok && str != "" {
				out[k] = placeholder
				continue
			}
		}
		out[k] = v
	}
	return out
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, word := range []string{"password", "token", "secret", "api_key", "apikey", "credential", "auth"} {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}
