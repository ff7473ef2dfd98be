// Package trace carries a per-turn correlation id through context so that log
// lines from the session, the LLM transport and the chat bridge can be joined.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"
)

type traceKey struct{}

// GenerateID returns a fresh "t_"-prefixed random id.
func GenerateID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "t_" + strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return "t_" + hex.EncodeToString(b)
}

// WithTraceID returns a child context carrying id.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// Ensure returns ctx unchanged when it already carries a trace id, otherwise
// a child context with a newly generated one. The id in effect is returned.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := GenerateID()
	return WithTraceID(ctx, id), id
}

// FromContext extracts the trace id from ctx, or "" when absent.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok {
		return v
	}
	return ""
}
