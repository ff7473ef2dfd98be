package kv

import (
	"context"
	"log/slog"
)

// Fallback wraps a Store and swallows its errors after logging them. Reads
// that fail yield an empty Record, so callers start from defaults; writes
// that fail leave the caller's in-memory state as the only copy.
type Fallback struct {
	inner Store
}

// NewFallback wraps s. A nil s falls back to a fresh Memory store.
func NewFallback(s Store) *Fallback {
	if s == nil {
		s = NewMemory()
	}
	return &Fallback{inner: s}
}

// Get implements Store and never returns an error.
func (f *Fallback) Get(ctx context.Context, keys ...string) (Record, error) {
	rec, err := f.inner.Get(ctx, keys...)
	if err != nil {
		slog.Warn("kv: read failed, using defaults", "keys", keys, "err", err)
		return Record{}, nil
	}
	return rec, nil
}

// Set implements Store and never returns an error.
func (f *Fallback) Set(ctx context.Context, rec Record) error {
	if err := f.inner.Set(ctx, rec); err != nil {
		keys := make([]string, 0, len(rec))
		for k := range rec {
			keys = append(keys, k)
		}
		slog.Warn("kv: write failed, keeping in-memory state", "keys", keys, "err", err)
	}
	return nil
}
