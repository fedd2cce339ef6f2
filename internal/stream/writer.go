package stream

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// ContentType signals newline-delimited JSON to clients.
const ContentType = "application/x-ndjson"

// ErrStreamingUnsupported is returned when the response writer cannot flush.
var ErrStreamingUnsupported = errors.New("response writer does not support streaming")

// Writer serializes events onto a long-lived HTTP response, flushing after
// every event. It guarantees that exactly one terminal event reaches the
// client: once a terminal has been written all further events are dropped,
// and Close emits an error terminal if none was sent on the happy path.
type Writer struct {
	mu       sync.Mutex
	w        io.Writer
	flush    func()
	terminal bool
}

// NewWriter prepares an HTTP response for NDJSON streaming.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	w.Header().Set("Content-Type", ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	return &Writer{w: w, flush: flusher.Flush}, nil
}

// NewWriterTo wraps a plain io.Writer, for tests and non-HTTP transports.
func NewWriterTo(w io.Writer) *Writer {
	return &Writer{w: w, flush: func() {}}
}

// Chunk emits an incremental content event.
func (s *Writer) Chunk(content string) error {
	return s.emit(Event{Type: EventChunk, Content: content}, false)
}

// Retry tells the client to discard everything streamed so far; a fresh
// attempt is about to begin.
func (s *Writer) Retry() error {
	return s.emit(Event{Type: EventRetry}, false)
}

// Complete emits the terminal success event carrying the full text.
func (s *Writer) Complete(content string) error {
	return s.emit(Event{Type: EventComplete, Content: content}, true)
}

// Error emits the terminal failure event.
func (s *Writer) Error(message string) error {
	return s.emit(Event{Type: EventError, Content: message}, true)
}

// Close guarantees a terminal event on every exit path. If the stream ends
// without one, the given message is sent as an error terminal. Safe to defer
// unconditionally.
func (s *Writer) Close(message string) {
	s.mu.Lock()
	already := s.terminal
	s.mu.Unlock()
	if !already {
		_ = s.Error(message)
	}
}

func (s *Writer) emit(ev Event, terminal bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.terminal {
		if terminal {
			return nil // terminal already sent; drop silently
		}
		return fmt.Errorf("event after terminal: %s", ev.Type)
	}

	line, err := marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal stream event: %w", err)
	}
	if _, err := s.w.Write(line); err != nil {
		return fmt.Errorf("write stream event: %w", err)
	}
	s.flush()

	if terminal {
		s.terminal = true
	}
	return nil
}
