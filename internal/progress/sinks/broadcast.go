package sinks

import (
	"context"
	"sync"

	"github.com/TomaszPielecki/Snaply/internal/capture"
	"github.com/TomaszPielecki/Snaply/internal/progress"
)

const subscriberBuffer = 16

// Broadcaster delivers job records to live subscribers of that job. A
// subscriber's channel is closed after a terminal record or on Close. Slow
// subscribers miss intermediate records rather than stalling the hub.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[string]map[chan capture.JobRecord]struct{}
	closed bool
}

// NewBroadcaster returns an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[string]map[chan capture.JobRecord]struct{})}
}

// Subscribe registers interest in jobID. The returned func unsubscribes and
// is safe to call more than once.
func (b *Broadcaster) Subscribe(jobID string) (<-chan capture.JobRecord, func()) {
	ch := make(chan capture.JobRecord, subscriberBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	set := b.subs[jobID]
	if set == nil {
		set = make(map[chan capture.JobRecord]struct{})
		b.subs[jobID] = set
	}
	set[ch] = struct{}{}
	return ch, func() { b.remove(jobID, ch) }
}

func (b *Broadcaster) remove(jobID string, ch chan capture.JobRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.subs[jobID]
	if _, ok := set[ch]; !ok {
		return
	}
	delete(set, ch)
	close(ch)
	if len(set) == 0 {
		delete(b.subs, jobID)
	}
}

// Subscribers returns the number of live subscriptions for jobID.
func (b *Broadcaster) Subscribers(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[jobID])
}

// Consume routes each record to the subscribers of its job.
func (b *Broadcaster) Consume(_ context.Context, batch []progress.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, evt := range batch {
		set := b.subs[evt.JobID]
		for ch := range set {
			select {
			case ch <- evt.Record.Clone():
			default:
			}
			if evt.Terminal() {
				close(ch)
			}
		}
		if evt.Terminal() {
			delete(b.subs, evt.JobID)
		}
	}
	return nil
}

// Close ends every subscription.
func (b *Broadcaster) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, set := range b.subs {
		for ch := range set {
			close(ch)
		}
		delete(b.subs, id)
	}
	return nil
}
