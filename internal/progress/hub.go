package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls buffering for the Hub. Zero values take the defaults below.
type Config struct {
	// BufferSize is the capacity of the event channel.
	BufferSize int
	// MaxBatch flushes as soon as this many events are pending.
	MaxBatch int
	// FlushInterval flushes pending events even when the batch is small.
	FlushInterval time.Duration
	// SinkTimeout bounds each Consume and Close call.
	SinkTimeout time.Duration
	Logger      *zap.Logger
}

const (
	defaultBufferSize    = 256
	defaultMaxBatch      = 64
	defaultFlushInterval = 100 * time.Millisecond
	defaultSinkTimeout   = 5 * time.Second
	dropLogInterval      = 5 * time.Second
)

// Hub batches events and hands them to every sink in registration order.
// Emit never blocks; Close drains what is buffered.
type Hub struct {
	cfg    Config
	sinks  []Sink
	events chan Event
	stop   chan struct{}
	done   chan struct{}
	logger *zap.Logger

	closed      atomic.Bool
	dropped     atomic.Int64
	lastDropLog atomic.Int64
	closeOnce   sync.Once
}

// NewHub starts the background flusher for sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = defaultMaxBatch
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:    cfg,
		sinks:  append([]Sink(nil), sinks...),
		events: make(chan Event, cfg.BufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
	go h.run()
	return h
}

// Emit enqueues evt. Invalid events are discarded; when the buffer is full
// the event is dropped and a rate-limited warning is logged.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		h.dropped.Add(1)
		h.warnDropped(time.Now())
	}
}

// Close stops accepting events, flushes the backlog, closes the sinks and
// waits for the flusher to exit or ctx to end.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		close(h.stop)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.done)
	ticker := time.NewTicker(h.cfg.FlushInterval)
	defer ticker.Stop()

	pending := make([]Event, 0, h.cfg.MaxBatch)
	for {
		select {
		case evt := <-h.events:
			pending = append(pending, evt)
			if len(pending) >= h.cfg.MaxBatch {
				pending = h.flush(pending)
			}
		case <-ticker.C:
			pending = h.flush(pending)
		case <-h.stop:
			pending = h.drain(pending)
			h.flush(pending)
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) drain(pending []Event) []Event {
	for {
		select {
		case evt := <-h.events:
			pending = append(pending, evt)
		default:
			return pending
		}
	}
}

// flush delivers pending to every sink and returns the emptied slice.
func (h *Hub) flush(pending []Event) []Event {
	if len(pending) == 0 {
		return pending
	}
	batch := append([]Event(nil), pending...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, batch); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Error(err))
		}
		cancel()
	}
	return pending[:0]
}

func (h *Hub) closeSinks() {
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) warnDropped(now time.Time) {
	last := h.lastDropLog.Load()
	if now.UnixNano()-last < dropLogInterval.Nanoseconds() {
		return
	}
	if !h.lastDropLog.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	h.logger.Warn("progress events dropped due to backpressure", zap.Int64("dropped", h.dropped.Swap(0)))
}
