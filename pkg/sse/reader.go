package sse

import (
	"bufio"
	"io"
	"strings"
)

// Reader parses SSE events from a source io.Reader.
//
// ┌──────────────────┐    ┌──────────────────┐    ┌─────────┐
// │ source io.Reader │───▶│  Reader.Next()   │───▶│  Event  │
// └──────────────────┘    └──────────────────┘    └─────────┘
//
// When built with NewTeeReader every raw line is also copied to a destination
// writer, which the chat client uses to dump the wire transcript.
type Reader struct {
	scanner *bufio.Scanner
	dest    io.Writer

	current *Event
	hasData bool
}

// NewReader returns a Reader that parses SSE events from src.
func NewReader(src io.Reader) *Reader {
	return NewTeeReader(src, io.Discard)
}

// NewTeeReader returns a Reader that parses SSE events from src and writes all
// raw lines through to dest.
func NewTeeReader(src io.Reader, dest io.Writer) *Reader {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	return &Reader{
		scanner: scanner,
		dest:    dest,
		current: &Event{},
	}
}

// Next blocks until a complete event is available (terminated by a blank
// line) and returns it. Next returns nil, nil once the source is exhausted.
func (r *Reader) Next() (*Event, error) {
	for r.scanner.Scan() {
		raw := r.scanner.Text()

		if _, err := io.WriteString(r.dest, raw+"\n"); err != nil {
			return nil, err
		}

		if raw == "" {
			if r.hasData {
				ev := r.current
				r.reset()
				return ev, nil
			}
			continue
		}

		// Comment line.
		if strings.HasPrefix(raw, ":") {
			continue
		}

		r.parseLine(raw)
	}

	if err := r.scanner.Err(); err != nil {
		return nil, err
	}

	// Stream ended without a trailing blank line.
	if r.hasData {
		ev := r.current
		r.reset()
		return ev, nil
	}

	return nil, nil
}

// parseLine accumulates a single "field:value" line into the current event.
// One leading space after the colon is stripped.
func (r *Reader) parseLine(line string) {
	field, value, _ := strings.Cut(line, ":")
	value = strings.TrimPrefix(value, " ")

	switch field {
	case "data":
		if r.hasData && r.current.Data != "" {
			r.current.Data += "\n"
		}
		r.current.Data += value
		r.hasData = true
	case "event":
		r.current.Type = value
		r.hasData = true
	case "id":
		r.current.ID = value
		r.hasData = true
	}
}

func (r *Reader) reset() {
	r.current = &Event{}
	r.hasData = false
}
