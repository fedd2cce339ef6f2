package domain

import (
	"time"
)

// StorySession is one player/world pairing. WorldState is an opaque narrative
// memory string owned exclusively by the generation orchestrator's post-turn
// update; nothing else mutates it.
type StorySession struct {
	ID         string    `json:"session_id"`
	WorldID    string    `json:"world_id"`
	WorldState string    `json:"world_state,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
