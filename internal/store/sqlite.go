package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/odisseyhq/odissey/internal/domain"
	_ "modernc.org/sqlite"
)

// busyRetries is how many times a write is retried on SQLITE_BUSY before
// the error is surfaced.
const busyRetries = 3

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS worlds (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		genre TEXT NOT NULL DEFAULT 'adventure',
		initial_state TEXT NOT NULL DEFAULT '',
		is_demo INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_worlds_created ON worlds(created_at);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		world_id TEXT NOT NULL REFERENCES worlds(id),
		world_state TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		role TEXT NOT NULL CHECK (role IN ('user', 'narrator')),
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// execRetry runs a write statement, retrying on SQLite concurrency errors.
func (s *SQLiteStore) execRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	var err error
	for attempt := 0; attempt <= busyRetries; attempt++ {
		res, err = s.db.ExecContext(ctx, query, args...)
		if err == nil || !isSQLiteConflict(err) {
			return res, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
		}
	}
	return res, err
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateWorld inserts a new world.
func (s *SQLiteStore) CreateWorld(ctx context.Context, world *domain.World) error {
	if world.ID == "" {
		world.ID = uuid.NewString()
	}
	if world.CreatedAt.IsZero() {
		world.CreatedAt = time.Now()
	}

	query := `
	INSERT INTO worlds (id, title, description, genre, initial_state, is_demo, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := s.execRetry(ctx, query,
		world.ID, world.Title, world.Description, world.Genre,
		world.InitialState, boolToInt(world.IsDemo), world.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert world: %w", err)
	}
	return nil
}

// GetWorld retrieves a world by id.
func (s *SQLiteStore) GetWorld(ctx context.Context, worldID string) (*domain.World, error) {
	query := `
		SELECT id, title, description, genre, initial_state, is_demo, created_at
		FROM worlds WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, worldID)
	world, err := scanWorld(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("world %s: %w", worldID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan world row: %w", err)
	}
	return world, nil
}

// ListWorlds retrieves the most recently created worlds, newest first.
func (s *SQLiteStore) ListWorlds(ctx context.Context, limit int) ([]*domain.World, error) {
	return s.queryWorlds(ctx, `
		SELECT id, title, description, genre, initial_state, is_demo, created_at
		FROM worlds ORDER BY created_at DESC LIMIT ?`, limit)
}

// ListDemoWorlds retrieves worlds flagged for instant demo access.
func (s *SQLiteStore) ListDemoWorlds(ctx context.Context, limit int) ([]*domain.World, error) {
	return s.queryWorlds(ctx, `
		SELECT id, title, description, genre, initial_state, is_demo, created_at
		FROM worlds WHERE is_demo = 1 ORDER BY created_at DESC LIMIT ?`, limit)
}

func (s *SQLiteStore) queryWorlds(ctx context.Context, query string, args ...any) ([]*domain.World, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query worlds: %w", err)
	}
	defer rows.Close()

	var worlds []*domain.World
	for rows.Next() {
		world, err := scanWorld(rows)
		if err != nil {
			return nil, fmt.Errorf("scan world row: %w", err)
		}
		worlds = append(worlds, world)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate world rows: %w", err)
	}
	return worlds, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorld(row rowScanner) (*domain.World, error) {
	var world domain.World
	var isDemo int
	var createdAt int64
	err := row.Scan(
		&world.ID, &world.Title, &world.Description, &world.Genre,
		&world.InitialState, &isDemo, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	world.IsDemo = isDemo != 0
	world.CreatedAt = time.Unix(createdAt, 0)
	return &world, nil
}

// CreateSession inserts a new story session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.StorySession) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = now
	}

	query := `
	INSERT INTO sessions (id, world_id, world_state, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)`

	_, err := s.execRetry(ctx, query,
		session.ID, session.WorldID, session.WorldState,
		session.CreatedAt.Unix(), session.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.StorySession, error) {
	query := `
		SELECT id, world_id, world_state, created_at, updated_at
		FROM sessions WHERE id = ?`

	row := s.db.QueryRowContext(ctx, query, sessionID)

	var session domain.StorySession
	var createdAt, updatedAt int64
	err := row.Scan(&session.ID, &session.WorldID, &session.WorldState, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	session.CreatedAt = time.Unix(createdAt, 0)
	session.UpdatedAt = time.Unix(updatedAt, 0)
	return &session, nil
}

// AppendMessage appends a message to a session transcript.
// Creation timestamps use nanosecond precision so that rapid consecutive
// appends within one turn keep a total order.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID, role, content string) (*domain.Message, error) {
	msg := &domain.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}

	query := `
	INSERT INTO messages (id, session_id, role, content, created_at)
	VALUES (?, ?, ?, ?, ?)`

	_, err := s.execRetry(ctx, query,
		msg.ID, msg.SessionID, msg.Role, msg.Content, msg.CreatedAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

// RecentMessages retrieves the last n messages of a session in chronological order.
func (s *SQLiteStore) RecentMessages(ctx context.Context, sessionID string, n int) ([]*domain.Message, error) {
	query := `
		SELECT id, session_id, role, content, created_at
		FROM messages WHERE session_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`

	messages, err := s.queryMessages(ctx, query, sessionID, n)
	if err != nil {
		return nil, err
	}
	// Rows arrive newest-first; flip back to chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// ListMessages retrieves the full transcript in chronological order.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]*domain.Message, error) {
	query := `
		SELECT id, session_id, role, content, created_at
		FROM messages WHERE session_id = ?
		ORDER BY created_at ASC, rowid ASC`

	return s.queryMessages(ctx, query, sessionID)
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]*domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		var msg domain.Message
		var createdAt int64
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.CreatedAt = time.Unix(0, createdAt)
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return messages, nil
}

// CountMessages counts transcript messages with the given role.
func (s *SQLiteStore) CountMessages(ctx context.Context, sessionID, role string) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_id = ? AND role = ?`, sessionID, role)

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// GetWorldState retrieves the narrative memory string for a session.
func (s *SQLiteStore) GetWorldState(ctx context.Context, sessionID string) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT world_state FROM sessions WHERE id = ?`, sessionID)

	var state string
	err := row.Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("scan world state: %w", err)
	}
	return state, nil
}

// SetWorldState replaces the narrative memory string for a session.
func (s *SQLiteStore) SetWorldState(ctx context.Context, sessionID, state string) error {
	query := `UPDATE sessions SET world_state = ?, updated_at = ? WHERE id = ?`
	res, err := s.execRetry(ctx, query, state, time.Now().Unix(), sessionID)
	if err != nil {
		return fmt.Errorf("update world state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update world state rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
