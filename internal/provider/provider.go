// Package provider defines the adapter contract for external text-generation
// backends and a registry that routes requests to one of them. Adapters are
// stateless after construction and safe for concurrent use.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Modality names a generation capability an adapter may support.
type Modality string

// ModalityText is the only modality the storytelling pipeline uses today.
const ModalityText Modality = "text"

var (
	// ErrProviderNotFound is returned when an explicitly named adapter is
	// not registered.
	ErrProviderNotFound = errors.New("provider not found")

	// ErrNoProviderForModality is returned when no registered adapter
	// supports the requested modality.
	ErrNoProviderForModality = errors.New("no provider supports modality")

	// ErrUnsupportedModality is returned when a selected adapter lacks the
	// requested capability. This indicates misconfiguration and is not
	// retried.
	ErrUnsupportedModality = errors.New("unsupported modality")
)

// Message is one turn of conversation context, oldest-first.
type Message struct {
	Role    string // "user", "assistant" or "system"
	Content string
}

// Request carries everything a backend needs to produce a continuation.
// A request is built fresh per call and never shared across concurrent calls.
type Request struct {
	// System is the instruction text prepended to the conversation.
	System string

	// Messages is the ordered conversation history, oldest first.
	// Must be non-empty.
	Messages []Message

	// Temperature controls randomness. Zero means the adapter default.
	Temperature float64

	// MaxTokens caps the response length. Zero means the adapter default.
	MaxTokens int

	// Stop holds optional stop sequences.
	Stop []string
}

// Usage holds token accounting returned by the backend, when available.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Result is the outcome of one generation call.
type Result struct {
	// Content is the full generated text after post-processing.
	Content string

	// Usage is token accounting, nil when the backend does not report it.
	Usage *Usage

	// FinishReason is the backend's stop reason, empty when unknown.
	FinishReason string
}

// Adapter is one concrete integration with a text-generation backend.
type Adapter interface {
	// Name returns the adapter identifier, e.g. "openai" or "offline".
	Name() string

	// Supports reports whether the adapter can serve the given modality.
	Supports(m Modality) bool

	// Generate issues one call to the backend and returns the full result.
	// On error no content was produced.
	Generate(ctx context.Context, req Request) (*Result, error)
}

// Streamer is implemented by adapters whose backend delivers incremental
// output. onChunk is invoked zero or more times with substrings that
// concatenate, in call order, to exactly the returned Result.Content.
type Streamer interface {
	GenerateStream(ctx context.Context, req Request, onChunk func(string)) (*Result, error)
}

// Error is a typed provider failure. Callers must not assume any content was
// produced when one is returned.
type Error struct {
	Provider   string
	Modality   Modality
	Message    string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s (%s): %s (status %d)", e.Provider, e.Modality, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("provider %s (%s): %s", e.Provider, e.Modality, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// newError wraps a backend failure in a typed provider error.
func newError(name string, statusCode int, message string, err error) *Error {
	return &Error{
		Provider:   name,
		Modality:   ModalityText,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// Stream emits req through adapter a, preferring native streaming. Adapters
// without native streaming are simulated by slicing the completed text into
// word-sized pieces with a short inter-chunk delay to emulate live typing.
func Stream(ctx context.Context, a Adapter, req Request, onChunk func(string), delay time.Duration) (*Result, error) {
	if s, ok := a.(Streamer); ok {
		return s.GenerateStream(ctx, req, onChunk)
	}

	res, err := a.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := simulateStream(ctx, res.Content, onChunk, delay); err != nil {
		return nil, err
	}
	return res, nil
}

// simulateStream replays content as word-sized chunks. Word boundaries and
// whitespace are preserved exactly: the concatenation of all chunks equals
// content byte for byte.
func simulateStream(ctx context.Context, content string, onChunk func(string), delay time.Duration) error {
	for _, piece := range sliceWords(content) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		onChunk(piece)
		if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return nil
}

// sliceWords splits s into pieces of one word plus its trailing whitespace
// run. Concatenating the pieces reproduces s exactly.
func sliceWords(s string) []string {
	if s == "" {
		return nil
	}
	var pieces []string
	var b strings.Builder
	inSpace := false
	for _, r := range s {
		isSpace := unicode.IsSpace(r)
		if inSpace && !isSpace && b.Len() > 0 {
			pieces = append(pieces, b.String())
			b.Reset()
		}
		b.WriteRune(r)
		inSpace = isSpace
	}
	if b.Len() > 0 {
		pieces = append(pieces, b.String())
	}
	return pieces
}
