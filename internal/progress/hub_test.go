package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/TomaszPielecki/Snaply/internal/capture"
)

// TestHubFlushesFullBatch verifies the hub flushes once MaxBatch events queue.
func TestHubFlushesFullBatch(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 8, MaxBatch: 2, FlushInterval: time.Hour}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent("job-1", capture.StatePending))
	hub.Emit(sampleEvent("job-1", capture.StateStarted))
	require.Eventually(t, func() bool {
		batches := sink.Batches()
		return len(batches) == 1 && len(batches[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

// TestHubFlushesOnInterval verifies small batches are still delivered.
func TestHubFlushesOnInterval(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 4, MaxBatch: 10, FlushInterval: 20 * time.Millisecond}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent("job-1", capture.StateProcessing))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 10*time.Millisecond)
}

// TestHubCloseDrainsAndClosesSinks ensures buffered events survive Close.
func TestHubCloseDrainsAndClosesSinks(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatch: 100, FlushInterval: time.Hour}, sink)
	hub.Emit(sampleEvent("job-1", capture.StateSuccess))

	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.True(t, sink.Closed())

	hub.Emit(sampleEvent("job-2", capture.StatePending))
	require.Len(t, sink.Batches(), 1)
}

// TestHubEmitDoesNotBlock ensures a full buffer drops instead of blocking.
func TestHubEmitDoesNotBlock(t *testing.T) {
	t.Parallel()

	hub := &Hub{events: make(chan Event), logger: zap.NewNop()}
	start := time.Now()
	hub.Emit(sampleEvent("job-1", capture.StatePending))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.EqualValues(t, 0, hub.dropped.Load(), "warning resets the drop counter")
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatch: 1}, sink)
	hub.Emit(Event{JobID: "job-1", TS: time.Now(), Record: capture.JobRecord{ID: "other"}})
	hub.Emit(Event{JobID: "job-1", Record: capture.JobRecord{ID: "job-1", State: capture.StatePending}})
	hub.Emit(sampleEvent("job-1", capture.StateUnknown))
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
}

func TestNilHubIsSafe(t *testing.T) {
	t.Parallel()

	var hub *Hub
	hub.Emit(sampleEvent("job-1", capture.StatePending))
	require.NoError(t, hub.Close(context.Background()))
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func newStubSink() *stubSink {
	return &stubSink{}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]Event(nil), s.batches...)
}

func (s *stubSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func sampleEvent(id string, state capture.JobState) Event {
	return NewEvent(capture.JobRecord{ID: id, State: state, UpdatedAt: time.Now()}, time.Now(), 0)
}
