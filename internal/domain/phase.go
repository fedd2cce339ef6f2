package domain

// StoryPhase is a coarse narrative-progress bucket derived from the number of
// completed exchanges in a session. It is recomputed on every turn and never
// stored.
type StoryPhase string

const (
	PhaseOpening     StoryPhase = "opening"
	PhaseRising      StoryPhase = "rising"
	PhaseDevelopment StoryPhase = "development"
	PhaseClimax      StoryPhase = "climax"
	PhaseResolution  StoryPhase = "resolution"
)
