// Package stream implements the newline-delimited JSON transport that carries
// story turns between server and client. The server writes one Event per
// line; clients consume them either incrementally from the raw byte stream or
// by polling the accumulated response text, with identical observable
// behavior either way.
package stream

import (
	"encoding/json"
)

// Event types. Any number of chunk events, and at most one retry run per
// attempt, precede exactly one terminal complete or error event.
const (
	EventChunk    = "chunk"
	EventRetry    = "retry"
	EventComplete = "complete"
	EventError    = "error"
)

// Event is one framed message on the wire.
type Event struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// marshal renders an event as a single NDJSON line including the trailing
// newline.
func marshal(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
