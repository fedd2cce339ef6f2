package provider

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"
)

// defaultTypingDelay paces simulated streaming to feel like live typing.
const defaultTypingDelay = 30 * time.Millisecond

// offlineNarrations are canned continuations used when no hosted backend is
// configured or reachable. Each obeys the narrative contract, including the
// three-choice block, so output passes the same validation as real backends.
var offlineNarrations = []string{
	"Your action echoes through the world around you. Something stirs in response, " +
		"half-seen at the edge of the light, and the air grows tense with possibility.\n\n" +
		"You steady yourself and weigh what comes next.\n" +
		"1) Press forward carefully\n2) Call out to whatever stirred\n3) Hold still and listen",
	"The world shifts subtly as you make your choice. A distant sound answers you, " +
		"rolling over the landscape like a held breath finally released.\n\n" +
		"The path divides before you.\n" +
		"1) Follow the sound to its source\n2) Take the quieter route\n3) Mark this place and rest",
	"Your decision creates ripples of change. The story bends around you, and " +
		"something that was hidden a moment ago now waits plainly in view.\n\n" +
		"It watches, patient, while you decide.\n" +
		"1) Approach it directly\n2) Circle for a better look\n3) Back away slowly",
	"The adventure takes an unexpected turn. What you meant as a small act has " +
		"consequences that spread outward, and the people of this place take notice.\n\n" +
		"Eyes turn toward you from every side.\n" +
		"1) Explain yourself openly\n2) Slip away into the crowd\n3) Stand your ground in silence",
}

// Offline is the always-available fallback adapter. It produces deterministic
// canned narration and never fails, so the registry is never empty even when
// no hosted provider is configured.
type Offline struct {
	// Delay is the simulated inter-chunk typing delay. Zero uses the
	// default; negative disables pacing entirely.
	Delay time.Duration
}

// NewOffline creates the offline fallback adapter.
func NewOffline() *Offline { return &Offline{} }

// Name returns the adapter identifier.
func (o *Offline) Name() string { return "offline" }

// Supports reports text-only capability.
func (o *Offline) Supports(m Modality) bool { return m == ModalityText }

// Generate returns a canned narration chosen deterministically from the last
// user message.
func (o *Offline) Generate(ctx context.Context, req Request) (*Result, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("%w: request has no messages", ErrInvalidConfig)
	}
	last := req.Messages[len(req.Messages)-1].Content

	h := fnv.New32a()
	h.Write([]byte(last))
	content := offlineNarrations[int(h.Sum32())%len(offlineNarrations)]

	return &Result{Content: content, FinishReason: "stop"}, nil
}

// GenerateStream replays the canned narration as word-sized chunks with an
// artificial typing delay. Chunk concatenation equals the returned content
// exactly.
func (o *Offline) GenerateStream(ctx context.Context, req Request, onChunk func(string)) (*Result, error) {
	res, err := o.Generate(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := simulateStream(ctx, res.Content, onChunk, o.delay()); err != nil {
		return nil, err
	}
	return res, nil
}

func (o *Offline) delay() time.Duration {
	switch {
	case o.Delay < 0:
		return 0
	case o.Delay == 0:
		return defaultTypingDelay
	default:
		return o.Delay
	}
}
