package manager

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/systempromptio/systemprompt-os/internal/common/errors"
	"github.com/systempromptio/systemprompt-os/internal/common/sqlite"
	"github.com/systempromptio/systemprompt-os/internal/module"
)

// SQLiteStore persists module records in a SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the module record table on the given
// database handle.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize module schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS modules (
		name TEXT PRIMARY KEY,
		version TEXT NOT NULL,
		type TEXT NOT NULL,
		path TEXT NOT NULL DEFAULT '',
		dependencies TEXT NOT NULL DEFAULT '[]',
		enabled INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Upsert inserts or updates a record by name.
func (s *SQLiteStore) Upsert(ctx context.Context, record *Record) error {
	deps, err := json.Marshal(record.Dependencies)
	if err != nil {
		return fmt.Errorf("failed to marshal dependencies: %w", err)
	}

	now := time.Now().UTC()
	record.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO modules (name, version, type, path, dependencies, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			version = excluded.version,
			type = excluded.type,
			path = excluded.path,
			dependencies = excluded.dependencies,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at`,
		record.Name, record.Version, string(record.Type), record.Path,
		string(deps), sqlite.BoolToInt(record.Enabled), now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert module record: %w", err)
	}
	return nil
}

// Get returns the record for name, or nil if absent.
func (s *SQLiteStore) Get(ctx context.Context, name string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, version, type, path, dependencies, enabled, created_at, updated_at
		FROM modules WHERE name = ?`, name)

	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get module record: %w", err)
	}
	return record, nil
}

// List returns all records.
func (s *SQLiteStore) List(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, version, type, path, dependencies, enabled, created_at, updated_at
		FROM modules ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list module records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, record)
	}
	return result, rows.Err()
}

// SetEnabled toggles the enabled flag for name. Unknown names are an error.
func (s *SQLiteStore) SetEnabled(ctx context.Context, name string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE modules SET enabled = ?, updated_at = ? WHERE name = ?`,
		sqlite.BoolToInt(enabled), time.Now().UTC(), name)
	if err != nil {
		return fmt.Errorf("failed to update enabled flag: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update enabled flag: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", errors.ErrModuleNotFound, name)
	}
	return nil
}

// Close is a no-op; the shared database handle is owned by the caller.
func (s *SQLiteStore) Close() error {
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var record Record
	var moduleType, depsJSON string
	var enabled int

	if err := row.Scan(&record.Name, &record.Version, &moduleType, &record.Path,
		&depsJSON, &enabled, &record.CreatedAt, &record.UpdatedAt); err != nil {
		return nil, err
	}

	record.Type = module.Type(moduleType)
	record.Enabled = enabled != 0
	if err := json.Unmarshal([]byte(depsJSON), &record.Dependencies); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dependencies for %s: %w", record.Name, err)
	}
	return &record, nil
}
