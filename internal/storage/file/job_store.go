// Package file implements the default job store: one JSON document per job.
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
	"time"

	"go.uber.org/zap"

	"github.com/TomaszPielecki/Snaply/internal/capture"
)

const recordExt = ".json"

// JobStore keeps each job record in <dir>/<id>.json. Writes go through a
// temporary file and a rename so readers never observe a partial record.
type JobStore struct {
	dir    string
	clock  capture.Clock
	logger *zap.Logger
}

var _ capture.JobStore = (*JobStore)(nil)

// NewJobStore creates dir if needed and returns a store rooted there.
func NewJobStore(dir string, clock capture.Clock, logger *zap.Logger) (*JobStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("job store directory is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create job store directory: %w", err)
	}
	return &JobStore{dir: dir, clock: clock, logger: logger}, nil
}

func (s *JobStore) path(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("%w: invalid job id %q", capture.ErrStore, id)
	}
	return filepath.Join(s.dir, id+recordExt), nil
}

// Save replaces the record for id, stamping it with the current time.
func (s *JobStore) Save(_ context.Context, id string, state capture.JobState, info map[string]string) (capture.JobRecord, error) {
	target, err := s.path(id)
	if err != nil {
		return capture.JobRecord{}, err
	}
	rec := capture.JobRecord{ID: id, State: state, UpdatedAt: s.clock.Now(), Info: info}.Clone()
	if rec.Info == nil {
		rec.Info = map[string]string{}
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return capture.JobRecord{}, fmt.Errorf("%w: encode record: %v", capture.ErrStore, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+id+".*.tmp")
	if err != nil {
		return capture.JobRecord{}, fmt.Errorf("%w: create temp file: %v", capture.ErrStore, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return capture.JobRecord{}, fmt.Errorf("%w: write record: %v", capture.ErrStore, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return capture.JobRecord{}, fmt.Errorf("%w: close record: %v", capture.ErrStore, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return capture.JobRecord{}, fmt.Errorf("%w: replace record: %v", capture.ErrStore, err)
	}
	return rec, nil
}

// Read returns the stored record, the UNKNOWN sentinel for missing ids, or
// the ERROR sentinel when the file cannot be decoded.
func (s *JobStore) Read(_ context.Context, id string) capture.JobRecord {
	target, err := s.path(id)
	if err != nil {
		return capture.UnknownRecord(id, s.clock.Now())
	}
	rec, err := readRecord(target)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return capture.UnknownRecord(id, s.clock.Now())
	case err != nil:
		s.logger.Warn("read job record failed", zap.String("job_id", id), zap.Error(err))
		return capture.ErrorRecord(id, s.clock.Now(), err)
	}
	return rec
}

func readRecord(path string) (capture.JobRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return capture.JobRecord{}, err
	}
	var rec capture.JobRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return capture.JobRecord{}, fmt.Errorf("%w: decode %s: %v", capture.ErrStore, filepath.Base(path), err)
	}
	return rec, nil
}

// List returns every record, most recently updated first. Unreadable files
// are reported as ERROR sentinels.
func (s *JobStore) List(_ context.Context) ([]capture.JobRecord, error) {
	paths, err := s.recordPaths()
	if err != nil {
		return nil, err
	}
	out := make([]capture.JobRecord, 0, len(paths))
	for _, p := range paths {
		id := strings.TrimSuffix(filepath.Base(p), recordExt)
		rec, err := readRecord(p)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			continue
		case err != nil:
			rec = capture.ErrorRecord(id, s.clock.Now(), err)
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Sweep deletes records older than maxAge regardless of state and returns
// how many were removed. Age is taken from updated_at, or from the file's
// modification time when the record cannot be decoded.
func (s *JobStore) Sweep(_ context.Context, maxAge time.Duration) (int, error) {
	paths, err := s.recordPaths()
	if err != nil {
		return 0, err
	}
	cutoff := s.clock.Now().Add(-maxAge)
	removed := 0
	for _, p := range paths {
		modified, ok := s.lastModified(p)
		if !ok || !modified.Before(cutoff) {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("remove stale job record failed", zap.String("path", p), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

func (s *JobStore) lastModified(path string) (time.Time, bool) {
	if rec, err := readRecord(path); err == nil && !rec.UpdatedAt.IsZero() {
		return rec.UpdatedAt, true
	}
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

func (s *JobStore) recordPaths() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: list records: %v", capture.ErrStore, err)
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != recordExt {
			continue
		}
		paths = append(paths, filepath.Join(s.dir, name))
	}
	return paths, nil
}
