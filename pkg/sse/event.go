// Package sse writes and reads the Server-Sent Events framing used by the
// OpenAI-compatible chat completion stream.
//
// The bridge only ever emits "data:" events: one JSON chunk per event and a
// final "[DONE]" sentinel. The reader side parses the same framing so the
// bundled chat client can consume the bridge's own output.
//
// See the SSE specification:
// https://html.spec.whatwg.org/multipage/server-sent-events.html
package sse

// DoneSentinel is the data payload that terminates a completion stream.
const DoneSentinel = "[DONE]"

// Event is a single parsed SSE event, delimited by a blank line.
type Event struct {
	// Type is the "event:" field. Empty means the default "message" type.
	Type string

	// Data is every "data:" line of the event joined with "\n".
	Data string

	// ID is the "id:" field, if present.
	ID string
}

// IsDone reports whether the event carries the end-of-stream sentinel.
func (e *Event) IsDone() bool {
	return e != nil && e.Data == DoneSentinel
}
