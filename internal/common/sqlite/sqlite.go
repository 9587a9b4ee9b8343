// Package sqlite provides common SQLite helpers shared by the persistence
// layers.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Open opens (creating if necessary) the SQLite database at dbPath with
// foreign keys enabled and a single connection, which is the safe
// configuration for the sqlite3 driver under concurrent use.
func Open(dbPath string) (*sql.DB, error) {
	normalized := normalizePath(dbPath)
	if err := ensureDir(normalized); err != nil {
		return nil, fmt.Errorf("failed to prepare database path: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_mode=rwc", normalized)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

// BoolToInt converts a boolean to an integer (for SQLite).
func BoolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func ensureDir(dbPath string) error {
	dir := filepath.Dir(dbPath)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func normalizePath(dbPath string) string {
	if dbPath == "" {
		return dbPath
	}
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return dbPath
	}
	return abs
}
