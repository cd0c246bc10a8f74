package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/TomaszPielecki/Snaply/internal/capture"
)

// JobStore provides an in-memory implementation for development/testing.
type JobStore struct {
	mu    sync.RWMutex
	clock capture.Clock
	jobs  map[string]capture.JobRecord
}

var _ capture.JobStore = (*JobStore)(nil)

// NewJobStore constructs a JobStore.
func NewJobStore(clock capture.Clock) *JobStore {
	return &JobStore{
		clock: clock,
		jobs:  make(map[string]capture.JobRecord),
	}
}

// Save replaces the record for id.
func (s *JobStore) Save(_ context.Context, id string, state capture.JobState, info map[string]string) (capture.JobRecord, error) {
	rec := capture.JobRecord{ID: id, State: state, UpdatedAt: s.clock.Now(), Info: info}.Clone()
	if rec.Info == nil {
		rec.Info = map[string]string{}
	}
	s.mu.Lock()
	s.jobs[id] = rec
	s.mu.Unlock()
	return rec.Clone(), nil
}

// Read returns a copy of the record or the UNKNOWN sentinel.
func (s *JobStore) Read(_ context.Context, id string) capture.JobRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.jobs[id]
	if !ok {
		return capture.UnknownRecord(id, s.clock.Now())
	}
	return rec.Clone()
}

// List returns copies of all records, newest first.
func (s *JobStore) List(_ context.Context) ([]capture.JobRecord, error) {
	s.mu.RLock()
	out := make([]capture.JobRecord, 0, len(s.jobs))
	for _, rec := range s.jobs {
		out = append(out, rec.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Sweep removes records older than maxAge.
func (s *JobStore) Sweep(_ context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.clock.Now().Add(-maxAge)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, rec := range s.jobs {
		if rec.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed, nil
}
