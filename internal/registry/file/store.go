// Package file implements registry.KV as a single JSON document on disk.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/TomaszPielecki/Snaply/internal/registry"
)

type document struct {
	Entries map[string]string `json:"entries"`
}

// Store keeps every entry in one file; each write replaces it atomically.
type Store struct {
	mu   sync.Mutex
	path string
}

// New returns a Store at path, creating its parent directory.
func New(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("registry path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}
	return &Store{path: path}, nil
}

// Create implements registry.KV.
func (s *Store) Create(_ context.Context, key, value string) error {
	if key == "" {
		return registry.ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := doc.Entries[key]; ok {
		return registry.ErrExists
	}
	doc.Entries[key] = value
	return s.save(doc)
}

// Read implements registry.KV.
func (s *Store) Read(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return "", err
	}
	v, ok := doc.Entries[key]
	if !ok {
		return "", registry.ErrNotFound
	}
	return v, nil
}

// Update implements registry.KV.
func (s *Store) Update(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := doc.Entries[key]; !ok {
		return registry.ErrNotFound
	}
	doc.Entries[key] = value
	return s.save(doc)
}

// Delete implements registry.KV.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := doc.Entries[key]; !ok {
		return registry.ErrNotFound
	}
	delete(doc.Entries, key)
	return s.save(doc)
}

// List implements registry.KV.
func (s *Store) List(_ context.Context) ([]registry.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]registry.Entry, 0, len(doc.Entries))
	for k, v := range doc.Entries {
		out = append(out, registry.Entry{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// load reads the document; a missing file is an empty registry.
func (s *Store) load() (document, error) {
	doc := document{Entries: map[string]string{}}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("read registry: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("decode registry %s: %w", s.path, err)
	}
	if doc.Entries == nil {
		doc.Entries = map[string]string{}
	}
	return doc, nil
}

func (s *Store) save(doc document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".registry-*")
	if err != nil {
		return fmt.Errorf("create temp registry: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // removed by rename on success
	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck,gosec // write error takes precedence
		return fmt.Errorf("write registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close registry: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace registry: %w", err)
	}
	return nil
}
