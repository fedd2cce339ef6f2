package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odisseyhq/odissey/internal/domain"
	"github.com/odisseyhq/odissey/internal/provider"
)

const (
	// adaptiveWindow is how many recent turns the director inspects.
	adaptiveWindow = 4

	// adaptiveTimeout bounds the secondary call so a slow backend cannot
	// delay prompt assembly noticeably.
	adaptiveTimeout = 6 * time.Second
)

// staticDirectives is the rule-based fallback used whenever the secondary
// call fails. It must never be empty.
func staticDirectives(phase domain.StoryPhase) []string {
	switch phase {
	case domain.PhaseOpening:
		return []string{
			"Pacing: take time to establish the scene before raising tension.",
			"Elements: introduce one memorable detail of the world and let the player explore it.",
			"Engagement: end on a question the player will want answered.",
		}
	case domain.PhaseResolution:
		return []string{
			"Pacing: slow down and let consequences land.",
			"Elements: call back to something established earlier in the story.",
			"Engagement: give the player's past choices visible weight.",
		}
	default:
		return []string{
			"Pacing: keep the story moving; avoid repeating established description.",
			"Elements: build on something the player already interacted with.",
			"Engagement: make at least one choice feel risky.",
		}
	}
}

// Director produces short adaptive directives from recent turns via a
// secondary low-temperature model call. Any failure degrades to the static
// rule-based set; the director never returns an error.
type Director struct {
	registry *provider.Registry
	name     string // explicit adapter name, empty for registry default
	logger   *slog.Logger
}

// NewDirector creates an adaptive directive director.
func NewDirector(registry *provider.Registry, providerName string, logger *slog.Logger) *Director {
	if logger == nil {
		logger = slog.Default()
	}
	return &Director{registry: registry, name: providerName, logger: logger}
}

// Directives returns exactly three terse directives (pacing, element use,
// engagement) derived from the last few turns, or the static fallback.
func (d *Director) Directives(ctx context.Context, phase domain.StoryPhase, turns []*domain.Message) []string {
	if d.registry == nil {
		return staticDirectives(phase)
	}

	adapter, err := d.registry.SelectFor(provider.ModalityText, d.name)
	if err != nil {
		d.logger.Warn("adaptive directives: no adapter, using static fallback", "error", err)
		return staticDirectives(phase)
	}

	ctx, cancel := context.WithTimeout(ctx, adaptiveTimeout)
	defer cancel()

	res, err := adapter.Generate(ctx, provider.Request{
		System:      adaptiveSystem,
		Messages:    []provider.Message{{Role: "user", Content: renderTurns(turns)}},
		Temperature: 0.2,
		MaxTokens:   150,
	})
	if err != nil {
		d.logger.Warn("adaptive directives: generation failed, using static fallback", "error", err)
		return staticDirectives(phase)
	}

	directives, ok := parseDirectives(res.Content)
	if !ok {
		d.logger.Warn("adaptive directives: malformed output, using static fallback", "output_length", len(res.Content))
		return staticDirectives(phase)
	}
	return directives
}

const adaptiveSystem = "You tune an interactive story. Given the recent exchange, reply with exactly three short " +
	"directives, one per line, no numbering:\n" +
	"line 1: a pacing directive\n" +
	"line 2: a directive about which established story elements to use\n" +
	"line 3: an engagement directive\n" +
	"Each line under 20 words. No other text."

func renderTurns(turns []*domain.Message) string {
	if len(turns) > adaptiveWindow {
		turns = turns[len(turns)-adaptiveWindow:]
	}
	var sb strings.Builder
	sb.WriteString("Recent exchange:\n")
	for _, m := range turns {
		sb.WriteString(fmt.Sprintf("%s: %s\n", m.Role, m.Content))
	}
	return sb.String()
}

// parseDirectives accepts output only when it yields exactly three non-empty
// lines after stripping blank lines and leading list markers.
func parseDirectives(raw string) ([]string, bool) {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*0123456789.) ")
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	if len(out) != 3 {
		return nil, false
	}
	return out, true
}
