// Package story drives one user turn end to end: prompt assembly, provider
// invocation with retry discipline, output validation, streaming, and
// post-turn persistence.
package story

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidOutput marks a generation attempt whose content failed the
// quality gate. It counts against the same attempt budget as provider errors.
var ErrInvalidOutput = errors.New("generated output failed validation")

// Length bounds for the quality gate. The non-streaming path is looser since
// callers there can inspect the whole response before showing it.
const (
	streamMinLen = 30
	streamMaxLen = 2000
	blockMinLen  = 1
	blockMaxLen  = 8000
)

// errorSentinels are substrings that indicate an upstream failure leaked into
// the output instead of being raised as an error.
var errorSentinels = []string{
	"[ERROR]",
	"Internal Server Error",
	"502 Bad Gateway",
	"503 Service Unavailable",
}

// bareToken matches "undefined"/"null" as standalone words, the classic
// shape of a serialization bug upstream.
var bareToken = regexp.MustCompile(`\b(undefined|null)\b`)

// metaOpeners are tells that the model is narrating its own reasoning
// instead of the story.
var metaOpeners = []string{
	"Okay, so I",
	"Okay, I",
	"The player says",
	"The user wants",
	"As an AI",
	"I cannot fulfill",
}

// sentenceEnd requires at least one completed sentence.
var sentenceEnd = regexp.MustCompile(`[.!?]["')\]]?(\s|$)`)

// validate is a heuristic content-quality firewall against malformed model
// output, not a semantic correctness check. A failed attempt is retried.
func validate(content string, streaming bool) error {
	trimmed := strings.TrimSpace(content)

	minLen, maxLen := blockMinLen, blockMaxLen
	if streaming {
		minLen, maxLen = streamMinLen, streamMaxLen
	}
	if len(trimmed) < minLen {
		return fmt.Errorf("%w: too short (%d chars)", ErrInvalidOutput, len(trimmed))
	}
	if len(trimmed) > maxLen {
		return fmt.Errorf("%w: too long (%d chars)", ErrInvalidOutput, len(trimmed))
	}

	for _, s := range errorSentinels {
		if strings.Contains(trimmed, s) {
			return fmt.Errorf("%w: contains error sentinel %q", ErrInvalidOutput, s)
		}
	}
	if m := bareToken.FindString(trimmed); m != "" {
		return fmt.Errorf("%w: contains bare %q token", ErrInvalidOutput, m)
	}

	for _, opener := range metaOpeners {
		if strings.HasPrefix(trimmed, opener) {
			return fmt.Errorf("%w: starts with meta commentary %q", ErrInvalidOutput, opener)
		}
	}

	if !sentenceEnd.MatchString(trimmed) {
		return fmt.Errorf("%w: no complete sentence", ErrInvalidOutput)
	}
	return nil
}
