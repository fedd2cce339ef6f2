// Package prompt assembles the instruction context for one story turn.
// Assembly is layered: a fixed narrative contract, phase-specific guidance
// derived from how far the story has progressed, adaptive directives from a
// secondary model call, and a closing reminder block.
package prompt

import (
	"github.com/odisseyhq/odissey/internal/domain"
)

// Guidance is the per-phase instruction bundle appended after the base layer.
type Guidance struct {
	Description string
	Structure   string
	Length      string
	Focus       []string
}

// phaseGuidance covers every story phase. Climax guidance exists for world
// templates that pin it explicitly; turn-count detection never lands there.
var phaseGuidance = map[domain.StoryPhase]Guidance{
	domain.PhaseOpening: {
		Description: "The story is just beginning. Establish the world, the protagonist's situation and the first stakes.",
		Structure:   "Ground the reader in place and atmosphere before introducing tension. End on an invitation to act.",
		Length:      "Lean toward the upper end of the word band to build the scene.",
		Focus:       []string{"sensory detail", "world introduction", "a reason to care"},
	},
	domain.PhaseRising: {
		Description: "Early complications are forming. Consequences of the opening choices start to surface.",
		Structure:   "Escalate one existing thread rather than opening new ones. Let earlier choices visibly matter.",
		Length:      "Stay mid-band; momentum matters more than description now.",
		Focus:       []string{"escalation", "consequences of prior choices", "emerging obstacles"},
	},
	domain.PhaseDevelopment: {
		Description: "The story is in full motion. Deepen relationships, reveal hidden structure, raise the cost of failure.",
		Structure:   "Alternate action with revelation. Every scene should change what the protagonist knows or can do.",
		Length:      "Full range of the word band as the scene demands.",
		Focus:       []string{"deepening stakes", "revelations", "character pressure"},
	},
	domain.PhaseClimax: {
		Description: "The central conflict comes to a head. Everything established so far converges here.",
		Structure:   "Short paragraphs, high tension. Choices should feel decisive and irreversible.",
		Length:      "Lean shorter and sharper; cut anything that slows the confrontation.",
		Focus:       []string{"confrontation", "decisive choices", "payoff of setup"},
	},
	domain.PhaseResolution: {
		Description: "The story is winding toward its end. Threads resolve and the world settles into its new shape.",
		Structure:   "Reflective pacing. Show the changed world and what the protagonist's journey cost or won.",
		Length:      "Mid-band; leave room for the reader to breathe.",
		Focus:       []string{"closure", "consequences made visible", "emotional landing"},
	},
}

// DetectPhase maps a completed-exchange count to a story phase. It is a pure
// function: phases are recomputed each turn and never stored.
func DetectPhase(exchanges int) domain.StoryPhase {
	switch {
	case exchanges <= 3:
		return domain.PhaseOpening
	case exchanges <= 8:
		return domain.PhaseRising
	case exchanges <= 16:
		return domain.PhaseDevelopment
	default:
		return domain.PhaseResolution
	}
}

// GuidanceFor returns the instruction bundle for a phase, falling back to
// development guidance for unknown phase values.
func GuidanceFor(phase domain.StoryPhase) Guidance {
	if g, ok := phaseGuidance[phase]; ok {
		return g
	}
	return phaseGuidance[domain.PhaseDevelopment]
}
