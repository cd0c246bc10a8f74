package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/TomaszPielecki/Snaply/internal/capture"
	"github.com/TomaszPielecki/Snaply/internal/progress"
)

// Notification is the payload published when a job finishes.
type Notification struct {
	JobID          string            `json:"job_id"`
	State          capture.JobState  `json:"state"`
	UpdatedAt      time.Time         `json:"updated_at"`
	Info           map[string]string `json:"info"`
	ElapsedSeconds float64           `json:"elapsed_seconds"`
}

// PublishSink forwards terminal job records to a topic.
type PublishSink struct {
	publisher capture.Publisher
	topic     string
	logger    *zap.Logger
}

// NewPublishSink returns a sink publishing to topic. A nil publisher or empty
// topic makes the sink a no-op.
func NewPublishSink(publisher capture.Publisher, topic string, logger *zap.Logger) *PublishSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublishSink{publisher: publisher, topic: topic, logger: logger}
}

// Consume publishes every terminal event in the batch. All events are
// attempted; failures are joined into the returned error.
func (s *PublishSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.publisher == nil || s.topic == "" {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		if !evt.Terminal() {
			continue
		}
		payload := Notification{
			JobID:          evt.JobID,
			State:          evt.Record.State,
			UpdatedAt:      evt.Record.UpdatedAt,
			Info:           evt.Record.Info,
			ElapsedSeconds: evt.Elapsed.Seconds(),
		}
		msgID, err := s.publisher.Publish(ctx, s.topic, payload)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish job %s: %w", evt.JobID, err))
			continue
		}
		s.logger.Debug("published job notification",
			zap.String("job_id", evt.JobID),
			zap.String("message_id", msgID),
		)
	}
	return errors.Join(errs...)
}

// Close implements progress.Sink; the publisher is owned by the caller.
func (s *PublishSink) Close(context.Context) error {
	return nil
}
