package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/systempromptio/systemprompt-os/internal/common/errors"
	"github.com/systempromptio/systemprompt-os/internal/task/models"
)

// SQLiteStore persists tasks and their logs in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore initializes the task tables on the given database handle.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize task schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		instructions TEXT NOT NULL,
		status TEXT NOT NULL,
		assigned_to TEXT NOT NULL DEFAULT '',
		mcp_session_id TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL,
		started_at DATETIME,
		completed_at DATETIME,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS task_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		session_id TEXT NOT NULL DEFAULT '',
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_task_logs_task_id ON task_logs(task_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close is a no-op; the shared database handle is owned by the caller.
func (s *SQLiteStore) Close() error {
	return nil
}

// CreateTask creates a new task.
func (s *SQLiteStore) CreateTask(ctx context.Context, task *models.Task) error {
	if task.ID == "" {
		task.ID = "task-" + uuid.New().String()
	}
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	if task.Status == "" {
		task.Status = models.StatusPending
	}

	meta, err := json.Marshal(task.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, instructions, status, assigned_to, mcp_session_id, metadata, created_at, started_at, completed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Instructions, string(task.Status), task.AssignedTo,
		task.MCPSessionID, string(meta), task.CreatedAt, task.StartedAt,
		task.CompletedAt, task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, instructions, status, assigned_to, mcp_session_id, metadata, created_at, started_at, completed_at, updated_at
		FROM tasks WHERE id = ?`, id)

	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", errors.ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// GetAllTasks returns all tasks ordered by creation time.
func (s *SQLiteStore) GetAllTasks(ctx context.Context) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, instructions, status, assigned_to, mcp_session_id, metadata, created_at, started_at, completed_at, updated_at
		FROM tasks ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, task)
	}
	return result, rows.Err()
}

// UpdateTask updates an existing task.
func (s *SQLiteStore) UpdateTask(ctx context.Context, task *models.Task) error {
	task.UpdatedAt = time.Now().UTC()

	meta, err := json.Marshal(task.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET instructions = ?, status = ?, assigned_to = ?, mcp_session_id = ?, metadata = ?, started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ?`,
		task.Instructions, string(task.Status), task.AssignedTo, task.MCPSessionID,
		string(meta), task.StartedAt, task.CompletedAt, task.UpdatedAt, task.ID)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", errors.ErrTaskNotFound, task.ID)
	}
	return nil
}

// UpdateTaskStatus transitions a task's status, stamping started/completed
// timestamps on the relevant transitions.
func (s *SQLiteStore) UpdateTaskStatus(ctx context.Context, id string, status models.Status, sessionID string) error {
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	task.Status = status
	if sessionID != "" {
		task.AssignedTo = sessionID
	}
	if status == models.StatusInProgress && task.StartedAt == nil {
		task.StartedAt = &now
	}
	if status.IsTerminal() && task.CompletedAt == nil {
		task.CompletedAt = &now
	}
	return s.UpdateTask(ctx, task)
}

// AddTaskLog appends a log entry to a task.
func (s *SQLiteStore) AddTaskLog(ctx context.Context, entry *models.LogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Level == "" {
		entry.Level = models.LogLevelInfo
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO task_logs (task_id, session_id, level, message, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		entry.TaskID, entry.SessionID, string(entry.Level), entry.Message, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert task log: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// GetTaskLogs returns a task's log entries in insertion order.
func (s *SQLiteStore) GetTaskLogs(ctx context.Context, taskID string) ([]*models.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, session_id, level, message, created_at
		FROM task_logs WHERE task_id = ? ORDER BY id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list task logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*models.LogEntry
	for rows.Next() {
		var entry models.LogEntry
		var level string
		if err := rows.Scan(&entry.ID, &entry.TaskID, &entry.SessionID, &level, &entry.Message, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.Level = models.LogLevel(level)
		result = append(result, &entry)
	}
	return result, rows.Err()
}

// DeleteTask removes a task and its logs.
func (s *SQLiteStore) DeleteTask(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", errors.ErrTaskNotFound, id)
	}
	_, _ = s.db.ExecContext(ctx, `DELETE FROM task_logs WHERE task_id = ?`, id)
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var task models.Task
	var status, metaJSON string
	var startedAt, completedAt sql.NullTime

	if err := row.Scan(&task.ID, &task.Instructions, &status, &task.AssignedTo,
		&task.MCPSessionID, &metaJSON, &task.CreatedAt, &startedAt, &completedAt,
		&task.UpdatedAt); err != nil {
		return nil, err
	}

	task.Status = models.Status(status)
	if startedAt.Valid {
		task.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}
	if metaJSON != "" && metaJSON != "{}" {
		if err := json.Unmarshal([]byte(metaJSON), &task.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata for %s: %w", task.ID, err)
		}
	}
	return &task, nil
}
