package file

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TomaszPielecki/Snaply/internal/capture"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newTestStore(t *testing.T) (*JobStore, *fakeClock, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "tasks")
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	store, err := NewJobStore(dir, clock, nil)
	require.NoError(t, err)
	return store, clock, dir
}

func TestSaveAndRead(t *testing.T) {
	t.Parallel()

	store, clock, dir := newTestStore(t)
	ctx := context.Background()

	info := map[string]string{capture.InfoDomain: "example.com", capture.InfoDevice: "desktop"}
	saved, err := store.Save(ctx, "job-1", capture.StatePending, info)
	require.NoError(t, err)
	assert.Equal(t, clock.Now(), saved.UpdatedAt)

	info[capture.InfoDomain] = "mutated"
	got := store.Read(ctx, "job-1")
	assert.Equal(t, capture.StatePending, got.State)
	assert.Equal(t, "example.com", got.Info[capture.InfoDomain])
	assert.FileExists(t, filepath.Join(dir, "job-1.json"))
}

func TestSaveReplacesWholeRecord(t *testing.T) {
	t.Parallel()

	store, clock, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Save(ctx, "job-1", capture.StateProcessing, map[string]string{"status": "working", "extra": "x"})
	require.NoError(t, err)
	clock.Set(clock.Now().Add(time.Minute))
	_, err = store.Save(ctx, "job-1", capture.StateSuccess, map[string]string{"status": "Completed successfully"})
	require.NoError(t, err)

	got := store.Read(ctx, "job-1")
	assert.Equal(t, capture.StateSuccess, got.State)
	assert.Equal(t, map[string]string{"status": "Completed successfully"}, got.Info)
	assert.Equal(t, clock.Now(), got.UpdatedAt)
}

func TestReadUnknownID(t *testing.T) {
	t.Parallel()

	store, _, _ := newTestStore(t)
	got := store.Read(context.Background(), "never-created")
	assert.Equal(t, capture.StateUnknown, got.State)
	assert.Equal(t, "never-created", got.ID)
	assert.Equal(t, "Task not found", got.Info[capture.InfoError])
}

func TestReadTraversalIDIsUnknown(t *testing.T) {
	t.Parallel()

	store, _, _ := newTestStore(t)
	got := store.Read(context.Background(), "../etc/passwd")
	assert.Equal(t, capture.StateUnknown, got.State)

	_, err := store.Save(context.Background(), "../escape", capture.StatePending, nil)
	assert.ErrorIs(t, err, capture.ErrStore)
}

func TestReadCorruptRecordIsError(t *testing.T) {
	t.Parallel()

	store, _, dir := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0o600))

	got := store.Read(context.Background(), "bad")
	assert.Equal(t, capture.StateError, got.State)
	assert.NotEmpty(t, got.Info[capture.InfoError])
}

func TestListOrdersNewestFirst(t *testing.T) {
	t.Parallel()

	store, clock, dir := newTestStore(t)
	ctx := context.Background()
	_, err := store.Save(ctx, "old", capture.StateSuccess, nil)
	require.NoError(t, err)
	clock.Set(clock.Now().Add(time.Hour))
	_, err = store.Save(ctx, "new", capture.StatePending, nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("]"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	recs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "broken", recs[0].ID)
	assert.Equal(t, capture.StateError, recs[0].State)
	assert.Equal(t, "new", recs[1].ID)
	assert.Equal(t, "old", recs[2].ID)
}

func TestSweepRemovesOnlyStaleRecords(t *testing.T) {
	t.Parallel()

	store, clock, _ := newTestStore(t)
	ctx := context.Background()
	now := clock.Now()

	clock.Set(now.Add(-48 * time.Hour))
	_, err := store.Save(ctx, "stale", capture.StateProcessing, nil)
	require.NoError(t, err)
	clock.Set(now.Add(-time.Hour))
	_, err = store.Save(ctx, "fresh", capture.StatePending, nil)
	require.NoError(t, err)
	clock.Set(now)

	removed, err := store.Sweep(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, capture.StateUnknown, store.Read(ctx, "stale").State)
	assert.Equal(t, capture.StatePending, store.Read(ctx, "fresh").State)
}

func TestSweepFallsBackToModTime(t *testing.T) {
	t.Parallel()

	store, clock, dir := newTestStore(t)
	path := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o600))
	old := clock.Now().Add(-72 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	removed, err := store.Sweep(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, path)
}

func TestNewJobStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewJobStore("", &fakeClock{}, nil)
	require.Error(t, err)
	_, err = NewJobStore(t.TempDir(), nil, nil)
	require.Error(t, err)
}
