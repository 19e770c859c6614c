package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB implementation of Store.
//
// Designed for:
//   - Deployments where several hosts share one durable store
//   - Long-lived audit trails of task history
//
// MySQLStore uses connection pooling and transactions for reliability.
// Note that the engine still assumes single-writer-per-task; a shared
// database does not add cross-process task coordination.
//
// The DSN format is the standard go-sql-driver form:
//
//	user:password@tcp(localhost:3306)/tasks?parseTime=true
//
// Never hardcode credentials; read the DSN from the environment or config.
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore creates a new MySQL-backed store.
//
// The store verifies connectivity and creates the required tables if they
// don't exist.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	m := &MySQLStore{db: db}

	if err := m.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return m, nil
}

// createTables creates the required database schema if it doesn't exist.
func (m *MySQLStore) createTables(ctx context.Context) error {
	tasksTable := `
		CREATE TABLE IF NOT EXISTS tasks (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			description TEXT,
			status VARCHAR(32) NOT NULL,
			priority VARCHAR(16) NOT NULL,
			created_at VARCHAR(64) NOT NULL,
			started_at VARCHAR(64),
			completed_at VARCHAR(64),
			current_step INT DEFAULT 0,
			total_steps INT DEFAULT 0,
			result TEXT,
			error TEXT,
			max_retries INT DEFAULT 3,
			retry_count INT DEFAULT 0,
			INDEX idx_tasks_status (status),
			INDEX idx_tasks_completed (status, completed_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, tasksTable); err != nil {
		return fmt.Errorf("failed to create tasks table: %w", err)
	}

	checkpointsTable := `
		CREATE TABLE IF NOT EXISTS checkpoints (
			id VARCHAR(64) PRIMARY KEY,
			task_id VARCHAR(64) NOT NULL,
			step_index INT NOT NULL,
			snapshot JSON NOT NULL,
			created_at VARCHAR(64) NOT NULL,
			INDEX idx_checkpoints_task (task_id, step_index)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, checkpointsTable); err != nil {
		return fmt.Errorf("failed to create checkpoints table: %w", err)
	}

	stateTable := `
		CREATE TABLE IF NOT EXISTS task_state (
			task_id VARCHAR(64) PRIMARY KEY,
			state_data JSON NOT NULL,
			updated_at VARCHAR(64) NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, stateTable); err != nil {
		return fmt.Errorf("failed to create task_state table: %w", err)
	}

	return nil
}

// SaveTask inserts or replaces a task record.
func (m *MySQLStore) SaveTask(ctx context.Context, rec TaskRecord) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	query := `
		INSERT INTO tasks
		(id, name, description, status, priority, created_at, started_at, completed_at,
		 current_step, total_steps, result, error, max_retries, retry_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			name = VALUES(name),
			description = VALUES(description),
			status = VALUES(status),
			priority = VALUES(priority),
			started_at = VALUES(started_at),
			completed_at = VALUES(completed_at),
			current_step = VALUES(current_step),
			total_steps = VALUES(total_steps),
			result = VALUES(result),
			error = VALUES(error),
			max_retries = VALUES(max_retries),
			retry_count = VALUES(retry_count)
	`

	_, err := m.db.ExecContext(ctx, query,
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
func (m *MySQLStore) LoadTask(ctx context.Context, taskID string) (TaskRecord, error) {
	if err := m.checkOpen(); err != nil {
		return TaskRecord{}, err
	}

	query := `
		SELECT id, name, description, status, priority, created_at, started_at, completed_at,
		       current_step, total_steps, result, error, max_retries, retry_count
		FROM tasks
		WHERE id = ?
	`

	rec, err := scanTask(m.db.QueryRowContext(ctx, query, taskID))
	if err == sql.ErrNoRows {
		return TaskRecord{}, ErrNotFound
	}
	if err != nil {
		return TaskRecord{}, fmt.Errorf("failed to load task: %w", err)
	}
	return rec, nil
}

// ListByStatus returns all task records whose status is in the given set.
func (m *MySQLStore) ListByStatus(ctx context.Context, statuses ...string) ([]TaskRecord, error) {
	if err := m.checkOpen(); err != nil {
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

	return m.queryTasks(ctx, query, args...)
}

// ListCompletedBefore returns completed tasks finished before the cutoff.
func (m *MySQLStore) ListCompletedBefore(ctx context.Context, cutoff time.Time) ([]TaskRecord, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	query := `
		SELECT id, name, description, status, priority, created_at, started_at, completed_at,
		       current_step, total_steps, result, error, max_retries, retry_count
		FROM tasks
		WHERE status = 'completed' AND completed_at IS NOT NULL AND completed_at < ?
	`
	return m.queryTasks(ctx, query, formatTime(cutoff))
}

func (m *MySQLStore) queryTasks(ctx context.Context, query string, args ...interface{}) ([]TaskRecord, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
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
func (m *MySQLStore) SaveCheckpoint(ctx context.Context, rec CheckpointRecord) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	query := `
		INSERT INTO checkpoints (id, task_id, step_index, snapshot, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := m.db.ExecContext(ctx, query,
		rec.ID, rec.TaskID, rec.StepIndex, string(rec.Snapshot), formatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadLatestCheckpoint retrieves the checkpoint with the greatest step index.
func (m *MySQLStore) LoadLatestCheckpoint(ctx context.Context, taskID string) (CheckpointRecord, error) {
	if err := m.checkOpen(); err != nil {
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

	err := m.db.QueryRowContext(ctx, query, taskID).Scan(
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
func (m *MySQLStore) SaveState(ctx context.Context, taskID string, state json.RawMessage) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	query := `
		INSERT INTO task_state (task_id, state_data, updated_at)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE
			state_data = VALUES(state_data),
			updated_at = VALUES(updated_at)
	`

	_, err := m.db.ExecContext(ctx, query, taskID, string(state), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// LoadState retrieves the latest state payload for a task.
func (m *MySQLStore) LoadState(ctx context.Context, taskID string) (StateRecord, error) {
	if err := m.checkOpen(); err != nil {
		return StateRecord{}, err
	}

	query := `SELECT task_id, state_data, updated_at FROM task_state WHERE task_id = ?`

	var (
		rec          StateRecord
		stateJSON    string
		updatedAtStr string
	)

	err := m.db.QueryRowContext(ctx, query, taskID).Scan(&rec.TaskID, &stateJSON, &updatedAtStr)
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
func (m *MySQLStore) DeleteTask(ctx context.Context, taskID string) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	tx, err := m.db.BeginTx(ctx, nil)
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
func (m *MySQLStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}

// Ping verifies the database connection is alive.
func (m *MySQLStore) Ping(ctx context.Context) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	return m.db.PingContext(ctx)
}

func (m *MySQLStore) checkOpen() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}
