package nop

import (
	"context"

	"github.com/papercomputeco/ollamabridge/pkg/eventstream"
)

// Publisher is a no-op eventstream publisher used for tests and disabled mode.
type Publisher struct{}

// NewPublisher creates a new no-op eventstream publisher.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// PublishUsage validates input and otherwise does nothing.
func (p *Publisher) PublishUsage(_ context.Context, event *eventstream.UsageRecordedEvent) error {
	if event == nil {
		return eventstream.ErrNilUsageEvent
	}

	return nil
}

// Close is a no-op.
func (p *Publisher) Close() error {
	return nil
}
