package stream

import (
	"encoding/json"
	"io"
	"log/slog"
	"strings"
)

// Callbacks receives parsed stream events. Exactly one of OnComplete or
// OnError fires, exactly once, per consumed stream.
type Callbacks struct {
	OnChunk    func(content string)
	OnRetry    func()
	OnComplete func(content string)
	OnError    func(message string)
}

// parser holds the line-reassembly and dispatch logic shared by the
// incremental and polling readers. A partial trailing line is buffered until
// its newline arrives, so frames split across reads are never lost or
// duplicated.
type parser struct {
	cb          Callbacks
	logger      *slog.Logger
	partial     strings.Builder
	accumulated strings.Builder
	terminal    bool
}

func newParser(cb Callbacks, logger *slog.Logger) *parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &parser{cb: cb, logger: logger}
}

// feed consumes a fragment of the byte stream. Complete lines are parsed and
// dispatched; an unterminated tail is carried into the next call.
func (p *parser) feed(data string) {
	if p.terminal || data == "" {
		return
	}
	p.partial.WriteString(data)

	buffered := p.partial.String()
	lines := strings.Split(buffered, "\n")
	// The final element is either empty (data ended on a newline) or an
	// incomplete line; either way it goes back in the buffer.
	p.partial.Reset()
	p.partial.WriteString(lines[len(lines)-1])

	for _, line := range lines[:len(lines)-1] {
		p.dispatchLine(line)
		if p.terminal {
			return
		}
	}
}

// finish applies end-of-stream rules: a buffered tail is processed as a final
// line, and if no terminal event arrived, a completion is synthesized from
// accumulated content (or an error when there is none).
func (p *parser) finish() {
	if p.terminal {
		return
	}
	if tail := p.partial.String(); strings.TrimSpace(tail) != "" {
		p.partial.Reset()
		p.dispatchLine(tail)
		if p.terminal {
			return
		}
	}

	if p.accumulated.Len() > 0 {
		p.logger.Debug("stream closed without terminal event, synthesizing completion")
		p.complete(p.accumulated.String())
		return
	}
	p.fail("stream ended without a terminal event")
}

func (p *parser) dispatchLine(line string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}

	if !strings.HasPrefix(trimmed, "{") {
		// Not a framed event at all; treat as raw narrative text.
		p.chunk(trimmed)
		return
	}

	var ev Event
	if err := json.Unmarshal([]byte(trimmed), &ev); err != nil {
		p.logger.Warn("unparseable stream line skipped", "error", err, "line_length", len(trimmed))
		return
	}

	switch ev.Type {
	case EventChunk:
		p.chunk(ev.Content)
	case EventRetry:
		p.accumulated.Reset()
		if p.cb.OnRetry != nil {
			p.cb.OnRetry()
		}
	case EventComplete:
		p.complete(ev.Content)
	case EventError:
		p.fail(ev.Content)
	default:
		p.logger.Warn("unknown stream event type skipped", "type", ev.Type)
	}
}

func (p *parser) chunk(content string) {
	p.accumulated.WriteString(content)
	if p.cb.OnChunk != nil {
		p.cb.OnChunk(content)
	}
}

func (p *parser) complete(content string) {
	p.terminal = true
	if p.cb.OnComplete != nil {
		p.cb.OnComplete(content)
	}
}

func (p *parser) fail(message string) {
	p.terminal = true
	if p.cb.OnError != nil {
		p.cb.OnError(message)
	}
}

// Reader consumes a stream incrementally from raw bytes as they arrive.
type Reader struct {
	p *parser
}

// NewReader creates an incremental stream reader.
func NewReader(cb Callbacks, logger *slog.Logger) *Reader {
	return &Reader{p: newParser(cb, logger)}
}

// Consume reads r until EOF, dispatching events as their lines complete.
// The returned error reports transport-level read failures only; parse
// problems on individual lines are logged and skipped.
func (r *Reader) Consume(rd io.Reader) error {
	buf := make([]byte, 4096)
	for {
		n, err := rd.Read(buf)
		if n > 0 {
			r.p.feed(string(buf[:n]))
		}
		if err == io.EOF {
			r.p.finish()
			return nil
		}
		if err != nil {
			r.p.finish()
			return err
		}
		if r.p.terminal {
			return nil
		}
	}
}

// PollingReader consumes a stream in environments without incremental byte
// access: the caller periodically observes the full response text received so
// far and the reader processes only the delta since the previous observation.
type PollingReader struct {
	p      *parser
	offset int
}

// NewPollingReader creates a polling stream reader.
func NewPollingReader(cb Callbacks, logger *slog.Logger) *PollingReader {
	return &PollingReader{p: newParser(cb, logger)}
}

// Observe inspects the accumulated response text. Bytes before the previous
// observation point are never reprocessed; a line split across observations
// is buffered until its newline arrives.
func (pr *PollingReader) Observe(text string) {
	if len(text) <= pr.offset {
		return
	}
	delta := text[pr.offset:]
	pr.offset = len(text)
	pr.p.feed(delta)
}

// Finish signals that the response ended. Applies the same defensive
// completion rules as the incremental reader.
func (pr *PollingReader) Finish() {
	pr.p.finish()
}

// Done reports whether a terminal event has been observed.
func (pr *PollingReader) Done() bool {
	return pr.p.terminal
}
