// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/odisseyhq/odissey/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Repository defines the interface for persisting worlds, sessions and
// transcript messages.
type Repository interface {
	// CreateWorld inserts a new world.
	CreateWorld(ctx context.Context, world *domain.World) error

	// GetWorld retrieves a world by id. Returns ErrNotFound if absent.
	GetWorld(ctx context.Context, worldID string) (*domain.World, error)

	// ListWorlds retrieves the most recently created worlds, newest first.
	ListWorlds(ctx context.Context, limit int) ([]*domain.World, error)

	// ListDemoWorlds retrieves worlds flagged for instant demo access.
	ListDemoWorlds(ctx context.Context, limit int) ([]*domain.World, error)

	// CreateSession inserts a new story session.
	CreateSession(ctx context.Context, session *domain.StorySession) error

	// GetSession retrieves a session by id. Returns ErrNotFound if absent.
	GetSession(ctx context.Context, sessionID string) (*domain.StorySession, error)

	// AppendMessage appends a message to a session transcript and returns
	// the stored row.
	AppendMessage(ctx context.Context, sessionID, role, content string) (*domain.Message, error)

	// RecentMessages retrieves the last n messages of a session in
	// chronological order.
	RecentMessages(ctx context.Context, sessionID string, n int) ([]*domain.Message, error)

	// ListMessages retrieves the full transcript in chronological order.
	ListMessages(ctx context.Context, sessionID string) ([]*domain.Message, error)

	// CountMessages counts transcript messages with the given role.
	CountMessages(ctx context.Context, sessionID, role string) (int, error)

	// GetWorldState retrieves the narrative memory string for a session.
	GetWorldState(ctx context.Context, sessionID string) (string, error)

	// SetWorldState replaces the narrative memory string for a session.
	SetWorldState(ctx context.Context, sessionID, state string) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
