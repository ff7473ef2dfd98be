// Package kv is the persistence layer: a flat, namespaced key-value store
// whose values are JSON documents.
//
// Two implementations are provided. SQLite persists to disk and survives
// restarts; Memory keeps everything in process. Fallback wraps any Store and
// turns persistence failures into log lines so that callers can treat their
// in-memory state as authoritative.
package kv

import (
	"context"
	"encoding/json"
	"fmt"
)

// Record maps keys to JSON-encoded values. Missing keys are simply absent.
type Record map[string]json.RawMessage

// Store reads and writes batches of keys.
type Store interface {
	// Get returns the subset of keys that exist. Absent keys are not an error.
	Get(ctx context.Context, keys ...string) (Record, error)
	// Set writes every key in rec, replacing previous values.
	Set(ctx context.Context, rec Record) error
}

// Encode builds a single-key Record from an arbitrary value.
func Encode(key string, v any) (Record, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", key, err)
	}
	return Record{key: raw}, nil
}

// Put adds the JSON encoding of v under key. Encoding errors are returned.
func (r Record) Put(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	r[key] = raw
	return nil
}

// Decode unmarshals the value stored under key into dst. It reports false
// when the key is absent; a malformed value is returned as an error.
func (r Record) Decode(key string, dst any) (bool, error) {
	raw, ok := r[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// Load is a convenience for reading a single key into dst.
func Load(ctx context.Context, s Store, key string, dst any) (bool, error) {
	rec, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	return rec.Decode(key, dst)
}

// Save is a convenience for writing a single key.
func Save(ctx context.Context, s Store, key string, v any) error {
	rec, err := Encode(key, v)
	if err != nil {
		return err
	}
	return s.Set(ctx, rec)
}
