// Package badger implements registry.KV on an embedded Badger database via
// badgerhold.
package badger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"github.com/TomaszPielecki/Snaply/internal/registry"
)

type record struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// Store is a badgerhold-backed registry.
type Store struct {
	store *badgerhold.Store
}

// Open opens or creates the database in dir.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("badger directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create badger dir: %w", err)
	}
	options := badgerhold.DefaultOptions
	options.Dir = dir
	options.ValueDir = dir
	options.Logger = nil
	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open badger registry: %w", err)
	}
	return &Store{store: store}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s.store == nil {
		return nil
	}
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("close badger registry: %w", err)
	}
	return nil
}

// Create implements registry.KV.
func (s *Store) Create(_ context.Context, key, value string) error {
	if key == "" {
		return registry.ErrInvalidKey
	}
	err := s.store.Insert(key, record{Key: key, Value: value, UpdatedAt: time.Now().UTC()})
	if errors.Is(err, badgerhold.ErrKeyExists) {
		return registry.ErrExists
	}
	if err != nil {
		return fmt.Errorf("insert %s: %w", key, err)
	}
	return nil
}

// Read implements registry.KV.
func (s *Store) Read(_ context.Context, key string) (string, error) {
	var rec record
	err := s.store.Get(key, &rec)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return "", registry.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return rec.Value, nil
}

// Update implements registry.KV.
func (s *Store) Update(_ context.Context, key, value string) error {
	err := s.store.Update(key, record{Key: key, Value: value, UpdatedAt: time.Now().UTC()})
	if errors.Is(err, badgerhold.ErrNotFound) {
		return registry.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update %s: %w", key, err)
	}
	return nil
}

// Delete implements registry.KV.
func (s *Store) Delete(_ context.Context, key string) error {
	err := s.store.Delete(key, &record{})
	if errors.Is(err, badgerhold.ErrNotFound) {
		return registry.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// List implements registry.KV.
func (s *Store) List(_ context.Context) ([]registry.Entry, error) {
	var recs []record
	if err := s.store.Find(&recs, nil); err != nil {
		return nil, fmt.Errorf("list registry: %w", err)
	}
	out := make([]registry.Entry, 0, len(recs))
	for _, r := range recs {
		out = append(out, registry.Entry{Key: r.Key, Value: r.Value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
