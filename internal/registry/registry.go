// Package registry stores small named collections, such as the tracked
// domain list, behind a key-value interface with swappable backends.
package registry

import (
	"context"
	"errors"
)

// Errors returned by KV implementations.
var (
	ErrExists     = errors.New("key already exists")
	ErrNotFound   = errors.New("key not found")
	ErrInvalidKey = errors.New("invalid key")
)

// Entry is one key-value pair.
type Entry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// KV is a string key-value store. List returns entries sorted by key.
type KV interface {
	Create(ctx context.Context, key, value string) error
	Read(ctx context.Context, key string) (string, error)
	Update(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]Entry, error)
}
