package store

import "strings"

// isSQLiteConflict reports whether err is a SQLite concurrency error that
// warrants retrying the write. The modernc driver surfaces these as
// SQLITE_BUSY or "database is locked" message text rather than typed errors.
func isSQLiteConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
