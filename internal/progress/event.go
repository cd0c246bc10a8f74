package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/TomaszPielecki/Snaply/internal/capture"
)

// Event reports that a job record was written.
type Event struct {
	// JobID identifies the job; it always equals Record.ID.
	JobID string
	// TS is the UTC time the emitter observed the transition.
	TS time.Time
	// Record is a snapshot of the record as persisted.
	Record capture.JobRecord
	// Elapsed is the time since submission, set on terminal transitions.
	Elapsed time.Duration
}

// NewEvent snapshots rec into an Event stamped at ts.
func NewEvent(rec capture.JobRecord, ts time.Time, elapsed time.Duration) Event {
	return Event{
		JobID:   rec.ID,
		TS:      ts,
		Record:  rec.Clone(),
		Elapsed: elapsed,
	}
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.Record.ID != e.JobID {
		return fmt.Errorf("record id %q does not match job id %q", e.Record.ID, e.JobID)
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Record.State {
	case capture.StatePending, capture.StateStarted, capture.StateProcessing,
		capture.StateSuccess, capture.StateFailure, capture.StateCanceled:
	default:
		return fmt.Errorf("unexpected state %q", e.Record.State)
	}
	if e.Elapsed < 0 {
		return errors.New("elapsed must be >= 0")
	}
	return nil
}

// Terminal reports whether the event closes the job.
func (e Event) Terminal() bool {
	return e.Record.State.Terminal()
}
