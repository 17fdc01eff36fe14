// Package pebble provides an on-disk implementation of storage.Storage
// backed by github.com/cockroachdb/pebble.
package pebble

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/fuelrats/rescue-api-go/storage"
)

// Storage implements storage.Storage on a pebble database.
type Storage struct {
	db *pebble.DB
}

type storedItem struct {
	Data      []byte     `json:"data"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Open opens or creates the database at path.
func Open(path string) (*Storage, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", path, err)
	}
	return &Storage{db: db}, nil
}

// Get retrieves data for a specific key within the given namespace.
func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.Item, error) {
	o := storage.Resolve(opts...)
	k := []byte(storage.Key(o.Namespace, key))

	raw, closer, err := s.db.Get(k)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get key %s: %w", k, err)
	}
	var stored storedItem
	err = json.Unmarshal(raw, &stored)
	closer.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal stored data: %w", err)
	}

	item := &storage.Item{Data: stored.Data, CreatedAt: stored.CreatedAt, ExpiresAt: stored.ExpiresAt}
	if item.IsExpired() {
		_ = s.db.Delete(k, pebble.NoSync)
		return nil, nil
	}
	return item, nil
}

// Set stores data for a specific key within the given namespace.
func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	o := storage.Resolve(opts...)

	now := time.Now()
	stored := storedItem{Data: data, CreatedAt: now}
	if o.TTL != nil {
		expiresAt := now.Add(*o.TTL)
		stored.ExpiresAt = &expiresAt
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal storage item: %w", err)
	}
	if err := s.db.Set([]byte(storage.Key(o.Namespace, key)), raw, pebble.Sync); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

// Delete removes one key or, without WithKey, the whole namespace.
func (s *Storage) Delete(ctx context.Context, opts ...storage.Option) error {
	o := storage.Resolve(opts...)

	if o.Key != nil {
		if err := s.db.Delete([]byte(storage.Key(o.Namespace, *o.Key)), pebble.Sync); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", *o.Key, err)
		}
		return nil
	}

	prefix := []byte(storage.Prefix(o.Namespace))
	if err := s.db.DeleteRange(prefix, upperBound(prefix), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete namespace %s: %w", prefix, err)
	}
	return nil
}

// Close flushes and closes the database.
func (s *Storage) Close() error {
	return s.db.Close()
}

// upperBound returns the smallest key greater than every key with prefix.
func upperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

var _ storage.Storage = (*Storage)(nil)
