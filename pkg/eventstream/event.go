package eventstream

import (
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/ollamabridge/pkg/usage"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeUsageRecorded is emitted after a completion's usage is recorded.
	EventTypeUsageRecorded = "bridge.usage.recorded"
)

// UsageRecordedEvent is a transport-neutral event payload for one completed
// chat request.
type UsageRecordedEvent struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	EventID       string       `json:"event_id"`
	EmittedAt     time.Time    `json:"emitted_at"`
	Source        EventSource  `json:"source"`
	Usage         usage.Record `json:"usage"`
}

// EventSource identifies the bridge instance and backend that served the
// request.
type EventSource struct {
	Instance string `json:"instance,omitempty"`
	Upstream string `json:"upstream"`
}

// NewUsageRecordedEvent wraps record in a fresh event envelope.
func NewUsageRecordedEvent(source EventSource, record *usage.Record) *UsageRecordedEvent {
	return &UsageRecordedEvent{
		SchemaVersion: SchemaVersionV1,
		EventType:     EventTypeUsageRecorded,
		EventID:       uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		Source:        source,
		Usage:         *record,
	}
}
