// Package storage holds the durable key-value store shared by every process
// of one user: the daemon and all CLI invocations.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

const (
	KeyTracking = "tracking"
	KeyQueue    = "queue"
	KeyWorklogs = "worklogs"
	KeyIssues   = "issues"
)

// UpdateFunc receives the current raw value (nil when absent) and returns the
// value to write. Returning an error aborts the update without writing.
type UpdateFunc func(current []byte) ([]byte, error)

type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Update(ctx context.Context, key string, fn UpdateFunc) error
}

// GetJSON decodes the value stored under key into a T. A missing key yields the zero value.
func GetJSON[T any](ctx context.Context, s Store, key string) (T, error) {
	var value T
	raw, ok, err := s.Get(ctx, key)
	if err != nil {
		return value, err
	}
	if !ok || len(raw) == 0 {
		return value, nil
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return value, fmt.Errorf("decode %s: %w", key, err)
	}
	return value, nil
}

func SetJSON(ctx context.Context, s Store, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, raw)
}

// UpdateJSON runs a typed read-modify-write of key.
func UpdateJSON[T any](ctx context.Context, s Store, key string, fn func(*T) error) error {
	return s.Update(ctx, key, func(current []byte) ([]byte, error) {
		var value T
		if len(current) > 0 {
			if err := json.Unmarshal(current, &value); err != nil {
				return nil, fmt.Errorf("decode %s: %w", key, err)
			}
		}
		if err := fn(&value); err != nil {
			return nil, err
		}
		next, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		return next, nil
	})
}

// MemoryStore keeps values in process memory. Updates are atomic.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string][]byte)}
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var current []byte
	if value, ok := m.values[key]; ok {
		current = append([]byte(nil), value...)
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	m.values[key] = next
	return nil
}
