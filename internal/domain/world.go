// Package domain contains core domain types for the Odissey storytelling service.
package domain

import (
	"time"
)

// World describes a story setting that sessions play inside. Worlds are
// created by content authoring and are read-only to the generation pipeline.
type World struct {
	ID           string    `json:"world_id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Genre        string    `json:"genre"`
	InitialState string    `json:"initial_state,omitempty"`
	IsDemo       bool      `json:"is_demo,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
