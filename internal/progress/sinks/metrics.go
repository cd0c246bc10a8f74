package sinks

import (
	"context"
	"sync"

	"github.com/TomaszPielecki/Snaply/internal/capture"
	"github.com/TomaszPielecki/Snaply/internal/metrics"
	"github.com/TomaszPielecki/Snaply/internal/progress"
)

// MetricsSink counts job transitions and tracks the running-jobs gauge.
type MetricsSink struct {
	tracker *jobTracker
}

// NewMetricsSink initializes collectors and returns the sink.
func NewMetricsSink() *MetricsSink {
	metrics.Init()
	return &MetricsSink{tracker: newJobTracker()}
}

// Consume updates the collectors for each event. It is safe for concurrent use.
func (s *MetricsSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		metrics.ObserveJob(string(evt.Record.State))
		switch {
		case evt.Record.State == capture.StateStarted:
			if s.tracker.start(evt.JobID) {
				metrics.IncActiveJobs()
			}
		case evt.Terminal():
			if s.tracker.complete(evt.JobID) {
				metrics.DecActiveJobs()
			}
		}
	}
	return nil
}

// Close implements progress.Sink; it performs no action.
func (s *MetricsSink) Close(context.Context) error {
	return nil
}

// Running returns the number of jobs the sink considers active.
func (s *MetricsSink) Running() int {
	s.tracker.mu.Lock()
	defer s.tracker.mu.Unlock()
	return len(s.tracker.running)
}

type jobTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]struct{})}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
