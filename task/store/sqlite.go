package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store.
//
// It keeps tasks, checkpoints, and state payloads in a single-file database.
// Designed for:
//   - The default durable backend with zero setup
//   - Single-process deployments
//   - Surviving process restarts and crashes
//
// SQLiteStore uses WAL mode for concurrent reads and a busy timeout for
// writer contention.
//
// Schema:
//   - tasks: one row per task (metadata, status, progress, retry bookkeeping)
//   - checkpoints: append-only progress snapshots
//   - task_state: latest mutable state payload per task
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore creates a new SQLite-backed store.
//
// The path parameter specifies the database file location:
//   - "./tasks.db" - file in current directory
//   - ":memory:" - in-memory database (data lost on close)
//
// The store automatically creates the database file and required tables,
// enables WAL mode, and configures a busy timeout.
//
// Example:
//
//	st, err := store.NewSQLiteStore("./tasks.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:   db,
		path: path,
	}

	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return s, nil
}

// createTables creates the required database schema if it doesn't exist.
func (s *SQLiteStore) createTables(ctx context.Context) error {
	tasksTable := `
		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			status TEXT NOT NULL,
			priority TEXT NOT NULL,
			created_at TEXT NOT NULL,
			started_at TEXT,
			completed_at TEXT,
			current_step INTEGER DEFAULT 0,
			total_steps INTEGER DEFAULT 0,
			result TEXT,
			error TEXT,
			max_retries INTEGER DEFAULT 3,
			retry_count INTEGER DEFAULT 0
		)
	`
	if _, err := s.db.ExecContext(ctx, tasksTable); err != nil {
		return fmt.Errorf("failed to create tasks table: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)"); err != nil {
		return fmt.Errorf("failed to create idx_tasks_status: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_tasks_completed ON tasks(status, completed_at)"); err != nil {
		return fmt.Errorf("failed to create idx_tasks_completed: %w", err)
	}

	checkpointsTable := `
		CREATE TABLE IF NOT EXISTS checkpoints (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			step_index INTEGER NOT NULL,
			snapshot TEXT NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY (task_id) REFERENCES tasks (id)
		)
	`
	if _, err := s.db.ExecContext(ctx, checkpointsTable); err != nil {
		return fmt.Errorf("failed to create checkpoints table: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_checkpoints_task ON checkpoints(task_id, step_index)"); err != nil {
		return fmt.Errorf("failed to create idx_checkpoints_task: %w", err)
	}

	stateTable := `
		CREATE TABLE IF NOT EXISTS task_state (
			task_id TEXT PRIMARY KEY,
			state_data TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			FOREIGN KEY (task_id) REFERENCES tasks (id)
		)
	`
	if _, err := s.db.ExecContext(ctx, stateTable); err != nil {
		return fmt.Errorf("failed to create task_state table: %w", err)
	}

	return nil
}

// SaveTask inserts or replaces a task record.
func (s *SQLiteStore) SaveTask(ctx context.Context, rec TaskRecord) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	query := `
		INSERT INTO tasks
		(id, name, description, status, priority, created_at, started_at, completed_at,
		 current_step, total_steps, result, error, max_retries, retry_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			status = excluded.status,
			priority = excluded.priority,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			current_step = excluded.current_step,
			total_steps = excluded.total_steps,
			result = excluded.result,
			error = excluded.error,
			max_retries = excluded.max_retries,
			retry_count = excluded.retry_count
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Name,
		rec.Description,
		rec.Status,
		rec.Priority,
		formatTime(rec.CreatedAt),
		formatTimePtr(rec.StartedAt),
		formatTimePtr(rec.CompletedAt),
		rec.CurrentStep,
		rec.TotalSteps,
		rec.Result,
		rec.Error,
		rec.MaxRetries,
		rec.RetryCount,
	)
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	return nil
}

// LoadTask retrieves a task record by ID.
func (s *SQLiteStore) LoadTask(ctx context.Context, taskID string) (TaskRecord, error) {
	if err := s.checkOpen(); err != nil {
		return TaskRecord{}, err
	}

	query := `
		SELECT id, name, description, status, priority, created_at, started_at, completed_at,
		       current_step, total_steps, result, error, max_retries, retry_count
		FROM tasks
		WHERE id = ?
	`

	rec, err := scanTask(s.db.QueryRowContext(ctx, query, taskID))
	if err == sql.ErrNoRows {
		return TaskRecord{}, ErrNotFound
	}
	if err != nil {
		return TaskRecord{}, fmt.Errorf("failed to load task: %w", err)
	}
	return rec, nil
}

// ListByStatus returns all task records whose status is in the given set.
func (s *SQLiteStore) ListByStatus(ctx context.Context, statuses ...string) ([]TaskRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := ""
	args := make([]interface{}, len(statuses))
	for i, status := range statuses {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args[i] = status
	}

	// #nosec G201 -- placeholders are "?" marks for a parameterized query
	query := fmt.Sprintf(`
		SELECT id, name, description, status, priority, created_at, started_at, completed_at,
		       current_step, total_steps, result, error, max_retries, retry_count
		FROM tasks
		WHERE status IN (%s)
	`, placeholders)

	return s.queryTasks(ctx, query, args...)
}

// ListCompletedBefore returns completed tasks finished before the cutoff.
func (s *SQLiteStore) ListCompletedBefore(ctx context.Context, cutoff time.Time) ([]TaskRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := `
		SELECT id, name, description, status, priority, created_at, started_at, completed_at,
		       current_step, total_steps, result, error, max_retries, retry_count
		FROM tasks
		WHERE status = 'completed' AND completed_at IS NOT NULL AND completed_at < ?
	`
	return s.queryTasks(ctx, query, formatTime(cutoff))
}

func (s *SQLiteStore) queryTasks(ctx context.Context, query string, args ...interface{}) ([]TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []TaskRecord
	for rows.Next() {
		rec, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}
	return out, nil
}

// SaveCheckpoint appends an immutable checkpoint record.
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, rec CheckpointRecord) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	query := `
		INSERT INTO checkpoints (id, task_id, step_index, snapshot, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.TaskID,
		rec.StepIndex,
		string(rec.Snapshot),
		formatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadLatestCheckpoint retrieves the checkpoint with the greatest step index.
func (s *SQLiteStore) LoadLatestCheckpoint(ctx context.Context, taskID string) (CheckpointRecord, error) {
	if err := s.checkOpen(); err != nil {
		return CheckpointRecord{}, err
	}

	query := `
		SELECT id, task_id, step_index, snapshot, created_at
		FROM checkpoints
		WHERE task_id = ?
		ORDER BY step_index DESC, created_at DESC
		LIMIT 1
	`

	var (
		rec          CheckpointRecord
		snapshot     string
		createdAtStr string
	)

	err := s.db.QueryRowContext(ctx, query, taskID).Scan(
		&rec.ID, &rec.TaskID, &rec.StepIndex, &snapshot, &createdAtStr,
	)
	if err == sql.ErrNoRows {
		return CheckpointRecord{}, ErrNotFound
	}
	if err != nil {
		return CheckpointRecord{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	rec.Snapshot = json.RawMessage(snapshot)
	rec.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return CheckpointRecord{}, fmt.Errorf("failed to parse checkpoint timestamp: %w", err)
	}
	return rec, nil
}

// SaveState inserts or replaces the latest state payload for a task.
func (s *SQLiteStore) SaveState(ctx context.Context, taskID string, state json.RawMessage) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	query := `
		INSERT INTO task_state (task_id, state_data, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			state_data = excluded.state_data,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query, taskID, string(state), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// LoadState retrieves the latest state payload for a task.
func (s *SQLiteStore) LoadState(ctx context.Context, taskID string) (StateRecord, error) {
	if err := s.checkOpen(); err != nil {
		return StateRecord{}, err
	}

	query := `SELECT task_id, state_data, updated_at FROM task_state WHERE task_id = ?`

	var (
		rec          StateRecord
		stateJSON    string
		updatedAtStr string
	)

	err := s.db.QueryRowContext(ctx, query, taskID).Scan(&rec.TaskID, &stateJSON, &updatedAtStr)
	if err == sql.ErrNoRows {
		return StateRecord{}, ErrNotFound
	}
	if err != nil {
		return StateRecord{}, fmt.Errorf("failed to load state: %w", err)
	}

	rec.State = json.RawMessage(stateJSON)
	rec.UpdatedAt, err = parseTime(updatedAtStr)
	if err != nil {
		return StateRecord{}, fmt.Errorf("failed to parse state timestamp: %w", err)
	}
	return rec, nil
}

// DeleteTask removes a task record along with its checkpoints and state.
//
// Performed in a transaction so a partial delete cannot orphan rows.
func (s *SQLiteStore) DeleteTask(ctx context.Context, taskID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM checkpoints WHERE task_id = ?", taskID); err != nil {
		return fmt.Errorf("failed to delete checkpoints: %w", err)
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM task_state WHERE task_id = ?", taskID); err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", taskID); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the database connection.
//
// Calling Close multiple times is safe.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}

func (s *SQLiteStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (TaskRecord, error) {
	var (
		rec          TaskRecord
		createdAt    string
		startedAt    sql.NullString
		completedAt  sql.NullString
		descr        sql.NullString
		result       sql.NullString
		errMsg       sql.NullString
	)

	err := row.Scan(
		&rec.ID, &rec.Name, &descr, &rec.Status, &rec.Priority,
		&createdAt, &startedAt, &completedAt,
		&rec.CurrentStep, &rec.TotalSteps, &result, &errMsg,
		&rec.MaxRetries, &rec.RetryCount,
	)
	if err != nil {
		return TaskRecord{}, err
	}

	rec.Description = descr.String
	rec.Result = result.String
	rec.Error = errMsg.String

	rec.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return TaskRecord{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	rec.StartedAt, err = parseTimePtr(startedAt)
	if err != nil {
		return TaskRecord{}, fmt.Errorf("failed to parse started_at: %w", err)
	}
	rec.CompletedAt, err = parseTimePtr(completedAt)
	if err != nil {
		return TaskRecord{}, fmt.Errorf("failed to parse completed_at: %w", err)
	}
	return rec, nil
}

// timeLayout is RFC 3339 in UTC with fixed-width nanoseconds. The TEXT
// columns are compared lexicographically, so every timestamp must render
// at the same width; RFC3339Nano trims trailing fractional zeros and would
// mis-order whole-second values against sub-second cutoffs.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	// RFC3339Nano also accepts the fixed-width form, plus rows written
	// before the layout was pinned.
	return time.Parse(time.RFC3339Nano, s)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
