package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// Publisher provides typed methods for publishing engine events to JetStream.
type Publisher struct {
	js jetstream.JetStream
}

// NewPublisher creates a new Publisher.
func NewPublisher(js jetstream.JetStream) *Publisher {
	return &Publisher{js: js}
}

// PublishUsageRecorded publishes a usage-recorded event.
func (p *Publisher) PublishUsageRecorded(ctx context.Context, event UsageRecordedEvent) error {
	return p.publish(ctx, SubjectUsageRecorded, event)
}

// PublishQuotaDenied publishes a quota denial event.
func (p *Publisher) PublishQuotaDenied(ctx context.Context, event QuotaDeniedEvent) error {
	return p.publish(ctx, SubjectQuotaDenied, event)
}

// PublishQuotaReset publishes a quota window reset event.
func (p *Publisher) PublishQuotaReset(ctx context.Context, event QuotaResetEvent) error {
	return p.publish(ctx, SubjectQuotaReset, event)
}

// PublishCheckIn publishes an activity check-in event.
func (p *Publisher) PublishCheckIn(ctx context.Context, event CheckInEvent) error {
	return p.publish(ctx, SubjectCheckIn, event)
}

func (p *Publisher) publish(ctx context.Context, subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling event for %s: %w", subject, err)
	}
	_, err = p.js.Publish(ctx, subject, payload)
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}
