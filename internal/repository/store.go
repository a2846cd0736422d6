package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound = errors.New("key not found")
	// ErrUnavailable wraps every backend failure so callers can tell an
	// unreachable store apart from a missing key.
	ErrUnavailable = errors.New("store unavailable")
	ErrConflict    = errors.New("too many concurrent modifications")
)

// UpdateFunc receives the current value (exists=false when absent or
// expired) and returns the replacement. A nil next deletes the key; a
// non-positive ttl stores it without expiry.
type UpdateFunc func(current []byte, exists bool) (next []byte, ttl time.Duration, err error)

// Store is the key-value contract shared by the attempt-record tables and
// the session table. Update is atomic per key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Update(ctx context.Context, key string, fn UpdateFunc) error
}

// GetJSON loads and decodes key into a new T.
func GetJSON[T any](ctx context.Context, s Store, key string) (*T, error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &v, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON[T any](ctx context.Context, s Store, key string, v *T, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, raw, ttl)
}

// UpdateJSON is Update with JSON (de)serialization. fn gets nil when the key
// is absent and returns nil to delete it.
func UpdateJSON[T any](ctx context.Context, s Store, key string, fn func(current *T) (*T, time.Duration, error)) error {
	return s.Update(ctx, key, func(raw []byte, exists bool) ([]byte, time.Duration, error) {
		var cur *T
		if exists {
			cur = new(T)
			if err := json.Unmarshal(raw, cur); err != nil {
				// Undecodable records are treated as absent and overwritten.
				cur = nil
			}
		}
		next, ttl, err := fn(cur)
		if err != nil || next == nil {
			return nil, 0, err
		}
		out, err := json.Marshal(next)
		if err != nil {
			return nil, 0, fmt.Errorf("encode %s: %w", key, err)
		}
		return out, ttl, nil
	})
}
