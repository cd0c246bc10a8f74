package registry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/TomaszPielecki/Snaply/internal/capture"
)

// Domain is a tracked site. Name is the normalized host used as the key;
// Address is what the user entered.
type Domain struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Domains manages the tracked domain list.
type Domains struct {
	kv KV
}

// NewDomains returns a Domains service over kv.
func NewDomains(kv KV) *Domains {
	return &Domains{kv: kv}
}

// DomainKey validates raw as a URL and returns its lowercased host.
func DomainKey(raw string) (string, error) {
	normalized, err := capture.ValidateURL(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	u, err := url.Parse(normalized)
	if err != nil {
		return "", fmt.Errorf("%w: %v", capture.ErrInvalidURL, err)
	}
	return strings.ToLower(u.Host), nil
}

// Add registers raw. Adding a host twice fails with ErrExists.
func (d *Domains) Add(ctx context.Context, raw string) (Domain, error) {
	key, err := DomainKey(raw)
	if err != nil {
		return Domain{}, err
	}
	dom := Domain{Name: key, Address: strings.TrimSpace(raw)}
	if err := d.kv.Create(ctx, key, dom.Address); err != nil {
		return Domain{}, fmt.Errorf("add domain %s: %w", key, err)
	}
	return dom, nil
}

// Get returns the domain registered under name.
func (d *Domains) Get(ctx context.Context, name string) (Domain, error) {
	key, err := DomainKey(name)
	if err != nil {
		return Domain{}, err
	}
	addr, err := d.kv.Read(ctx, key)
	if err != nil {
		return Domain{}, fmt.Errorf("get domain %s: %w", key, err)
	}
	return Domain{Name: key, Address: addr}, nil
}

// Remove deletes name.
func (d *Domains) Remove(ctx context.Context, name string) error {
	key, err := DomainKey(name)
	if err != nil {
		return err
	}
	if err := d.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("remove domain %s: %w", key, err)
	}
	return nil
}

// Rename replaces oldName with raw. When both normalize to the same host only
// the stored address changes.
func (d *Domains) Rename(ctx context.Context, oldName, raw string) (Domain, error) {
	oldKey, err := DomainKey(oldName)
	if err != nil {
		return Domain{}, err
	}
	newKey, err := DomainKey(raw)
	if err != nil {
		return Domain{}, err
	}
	dom := Domain{Name: newKey, Address: strings.TrimSpace(raw)}
	if oldKey == newKey {
		if err := d.kv.Update(ctx, oldKey, dom.Address); err != nil {
			return Domain{}, fmt.Errorf("rename domain %s: %w", oldKey, err)
		}
		return dom, nil
	}
	if _, err := d.kv.Read(ctx, oldKey); err != nil {
		return Domain{}, fmt.Errorf("rename domain %s: %w", oldKey, err)
	}
	if err := d.kv.Create(ctx, newKey, dom.Address); err != nil {
		return Domain{}, fmt.Errorf("rename domain %s to %s: %w", oldKey, newKey, err)
	}
	if err := d.kv.Delete(ctx, oldKey); err != nil {
		if rbErr := d.kv.Delete(ctx, newKey); rbErr != nil {
			err = errors.Join(err, rbErr)
		}
		return Domain{}, fmt.Errorf("rename domain %s to %s: %w", oldKey, newKey, err)
	}
	return dom, nil
}

// List returns every domain sorted by name.
func (d *Domains) List(ctx context.Context) ([]Domain, error) {
	entries, err := d.kv.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	out := make([]Domain, 0, len(entries))
	for _, e := range entries {
		out = append(out, Domain{Name: e.Key, Address: e.Value})
	}
	return out, nil
}
