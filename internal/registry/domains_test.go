package registry_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TomaszPielecki/Snaply/internal/capture"
	"github.com/TomaszPielecki/Snaply/internal/registry"
	"github.com/TomaszPielecki/Snaply/internal/registry/file"
)

func newDomains(t *testing.T) *registry.Domains {
	t.Helper()
	store, err := file.New(filepath.Join(t.TempDir(), "domains.json"))
	require.NoError(t, err)
	return registry.NewDomains(store)
}

func TestDomainKey(t *testing.T) {
	t.Parallel()

	key, err := registry.DomainKey("WWW.Example.com/path")
	require.NoError(t, err)
	assert.Equal(t, "www.example.com", key)

	key, err = registry.DomainKey("https://example.com:8443")
	require.NoError(t, err)
	assert.Equal(t, "example.com:8443", key)

	_, err = registry.DomainKey("javascript:alert(1)")
	require.ErrorIs(t, err, capture.ErrInvalidURL)
}

func TestDomainsLifecycle(t *testing.T) {
	t.Parallel()

	domains := newDomains(t)
	ctx := context.Background()

	dom, err := domains.Add(ctx, " Example.com ")
	require.NoError(t, err)
	assert.Equal(t, registry.Domain{Name: "example.com", Address: "Example.com"}, dom)

	_, err = domains.Add(ctx, "http://example.com")
	require.ErrorIs(t, err, registry.ErrExists)
	_, err = domains.Add(ctx, "bad<host")
	require.ErrorIs(t, err, capture.ErrInvalidURL)

	_, err = domains.Add(ctx, "zeta.example")
	require.NoError(t, err)

	got, err := domains.Get(ctx, "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "Example.com", got.Address)

	renamed, err := domains.Rename(ctx, "example.com", "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", renamed.Address)

	moved, err := domains.Rename(ctx, "example.com", "alpha.example")
	require.NoError(t, err)
	assert.Equal(t, "alpha.example", moved.Name)

	_, err = domains.Rename(ctx, "missing.example", "other.example")
	require.ErrorIs(t, err, registry.ErrNotFound)
	_, err = domains.Rename(ctx, "alpha.example", "zeta.example")
	require.ErrorIs(t, err, registry.ErrExists)

	list, err := domains.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []registry.Domain{
		{Name: "alpha.example", Address: "alpha.example"},
		{Name: "zeta.example", Address: "zeta.example"},
	}, list)

	require.NoError(t, domains.Remove(ctx, "zeta.example"))
	require.ErrorIs(t, domains.Remove(ctx, "zeta.example"), registry.ErrNotFound)
}
