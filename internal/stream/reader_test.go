package stream

import (
	"io"
	"strings"
	"testing"
)

type capture struct {
	chunks    []string
	retries   int
	completes []string
	errors    []string
}

func (c *capture) callbacks() Callbacks {
	return Callbacks{
		OnChunk:    func(s string) { c.chunks = append(c.chunks, s) },
		OnRetry:    func() { c.retries++ },
		OnComplete: func(s string) { c.completes = append(c.completes, s) },
		OnError:    func(s string) { c.errors = append(c.errors, s) },
	}
}

func (c *capture) terminalCount() int {
	return len(c.completes) + len(c.errors)
}

// chunkedReader yields its segments one per Read call, simulating arbitrary
// network fragmentation.
type chunkedReader struct {
	segments []string
	idx      int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if r.idx >= len(r.segments) {
		return 0, io.EOF
	}
	n := copy(p, r.segments[r.idx])
	r.idx++
	return n, nil
}

func TestReaderParsesWellFormedStream(t *testing.T) {
	t.Parallel()

	var c capture
	r := NewReader(c.callbacks(), nil)

	body := `{"type":"chunk","content":"You creak "}` + "\n" +
		`{"type":"chunk","content":"the door open."}` + "\n" +
		`{"type":"complete","content":"You creak the door open."}` + "\n"

	if err := r.Consume(strings.NewReader(body)); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if got := strings.Join(c.chunks, ""); got != "You creak the door open." {
		t.Errorf("chunk concatenation mismatch: %q", got)
	}
	if len(c.completes) != 1 || c.terminalCount() != 1 {
		t.Errorf("expected exactly one complete, got %+v", c)
	}
}

func TestReaderReassemblesLineSplitAcrossReads(t *testing.T) {
	t.Parallel()

	var c capture
	r := NewReader(c.callbacks(), nil)

	rd := &chunkedReader{segments: []string{
		`{"type":"ch`,
		`unk","content":"x"}` + "\n",
		`{"type":"complete","content":"x"}` + "\n",
	}}

	if err := r.Consume(rd); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if len(c.chunks) != 1 || c.chunks[0] != "x" {
		t.Errorf("expected exactly one chunk %q, got %v", "x", c.chunks)
	}
}

func TestReaderTreatsNonJSONLineAsRawChunk(t *testing.T) {
	t.Parallel()

	var c capture
	r := NewReader(c.callbacks(), nil)

	body := "The torch gutters in the dark.\n" +
		`{"type":"complete","content":"The torch gutters in the dark."}` + "\n"

	if err := r.Consume(strings.NewReader(body)); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if len(c.chunks) != 1 || c.chunks[0] != "The torch gutters in the dark." {
		t.Errorf("raw line should surface as a chunk, got %v", c.chunks)
	}
}

func TestReaderSkipsMalformedJSONLine(t *testing.T) {
	t.Parallel()

	var c capture
	r := NewReader(c.callbacks(), nil)

	body := `{"type":"chunk","content":"ok"}` + "\n" +
		`{"type":"chunk","content":` + "\n" + // truncated frame
		`{"type":"complete","content":"ok"}` + "\n"

	if err := r.Consume(strings.NewReader(body)); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if len(c.chunks) != 1 {
		t.Errorf("malformed line should be skipped, got chunks %v", c.chunks)
	}
	if c.terminalCount() != 1 {
		t.Errorf("expected one terminal, got %+v", c)
	}
}

func TestReaderSynthesizesDefensiveCompletion(t *testing.T) {
	t.Parallel()

	var c capture
	r := NewReader(c.callbacks(), nil)

	body := `{"type":"chunk","content":"A hush "}` + "\n" +
		`{"type":"chunk","content":"falls."}` + "\n" // stream cut before terminal

	if err := r.Consume(strings.NewReader(body)); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if len(c.completes) != 1 || c.completes[0] != "A hush falls." {
		t.Errorf("expected synthesized completion with accumulated content, got %+v", c)
	}
}

func TestReaderErrorsOnEmptyTruncatedStream(t *testing.T) {
	t.Parallel()

	var c capture
	r := NewReader(c.callbacks(), nil)

	if err := r.Consume(strings.NewReader("")); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if len(c.errors) != 1 || c.terminalCount() != 1 {
		t.Errorf("empty stream should end in exactly one error, got %+v", c)
	}
}

func TestReaderRetryClearsAccumulated(t *testing.T) {
	t.Parallel()

	var c capture
	r := NewReader(c.callbacks(), nil)

	body := `{"type":"chunk","content":"discarded attempt"}` + "\n" +
		`{"type":"retry","content":""}` + "\n" +
		`{"type":"chunk","content":"fresh text"}` + "\n" // cut before terminal

	if err := r.Consume(strings.NewReader(body)); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if c.retries != 1 {
		t.Errorf("expected one retry callback, got %d", c.retries)
	}
	// Defensive completion must only carry post-retry content.
	if len(c.completes) != 1 || c.completes[0] != "fresh text" {
		t.Errorf("retry should clear accumulated content, got %+v", c.completes)
	}
}

func TestReaderIgnoresEventsAfterTerminal(t *testing.T) {
	t.Parallel()

	var c capture
	r := NewReader(c.callbacks(), nil)

	body := `{"type":"complete","content":"done"}` + "\n" +
		`{"type":"chunk","content":"late"}` + "\n"

	if err := r.Consume(strings.NewReader(body)); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if len(c.chunks) != 0 {
		t.Errorf("no chunk may follow the terminal event, got %v", c.chunks)
	}
	if c.terminalCount() != 1 {
		t.Errorf("expected exactly one terminal, got %+v", c)
	}
}

func TestPollingReaderConsumesDeltas(t *testing.T) {
	t.Parallel()

	var c capture
	pr := NewPollingReader(c.callbacks(), nil)

	full := `{"type":"chunk","content":"You creak "}` + "\n" +
		`{"type":"chunk","content":"the door open."}` + "\n" +
		`{"type":"complete","content":"You creak the door open."}` + "\n"

	// Poll boundaries land mid-line on purpose.
	pr.Observe(full[:15])
	pr.Observe(full[:15]) // repeated observation of the same text
	pr.Observe(full[:47])
	pr.Observe(full[:90])
	pr.Observe(full)
	pr.Finish()

	if got := strings.Join(c.chunks, ""); got != "You creak the door open." {
		t.Errorf("polling reader lost or duplicated bytes: %q", got)
	}
	if len(c.completes) != 1 || c.terminalCount() != 1 {
		t.Errorf("expected exactly one complete, got %+v", c)
	}
	if !pr.Done() {
		t.Error("Done should report true after the terminal event")
	}
}

func TestPollingReaderDefensiveCompletion(t *testing.T) {
	t.Parallel()

	var c capture
	pr := NewPollingReader(c.callbacks(), nil)

	pr.Observe(`{"type":"chunk","content":"cut short"}` + "\n")
	pr.Finish()

	if len(c.completes) != 1 || c.completes[0] != "cut short" {
		t.Errorf("expected synthesized completion, got %+v", c)
	}
}
