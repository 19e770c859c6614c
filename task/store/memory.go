package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemStore is an in-memory implementation of Store.
//
// Designed for:
//   - Testing and development
//   - Single-process runs where durability isn't required
//
// MemStore is thread-safe. Data is lost when the process terminates; use
// SQLiteStore or MySQLStore for durable deployments.
type MemStore struct {
	mu          sync.RWMutex
	tasks       map[string]TaskRecord
	checkpoints map[string][]CheckpointRecord // taskID -> append-only list
	states      map[string]StateRecord
}

// NewMemStore creates a new in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		tasks:       make(map[string]TaskRecord),
		checkpoints: make(map[string][]CheckpointRecord),
		states:      make(map[string]StateRecord),
	}
}

// SaveTask inserts or replaces a task record.
func (m *MemStore) SaveTask(_ context.Context, rec TaskRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tasks[rec.ID] = rec
	return nil
}

// LoadTask retrieves a task record by ID.
func (m *MemStore) LoadTask(_ context.Context, taskID string) (TaskRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, exists := m.tasks[taskID]
	if !exists {
		return TaskRecord{}, ErrNotFound
	}
	return rec, nil
}

// ListByStatus returns all task records whose status is in the given set.
func (m *MemStore) ListByStatus(_ context.Context, statuses ...string) ([]TaskRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wanted := make(map[string]bool, len(statuses))
	for _, s := range statuses {
		wanted[s] = true
	}

	var out []TaskRecord
	for _, rec := range m.tasks {
		if wanted[rec.Status] {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ListCompletedBefore returns completed tasks finished before the cutoff.
func (m *MemStore) ListCompletedBefore(_ context.Context, cutoff time.Time) ([]TaskRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []TaskRecord
	for _, rec := range m.tasks {
		if rec.Status == "completed" && rec.CompletedAt != nil && rec.CompletedAt.Before(cutoff) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// SaveCheckpoint appends an immutable checkpoint record.
func (m *MemStore) SaveCheckpoint(_ context.Context, rec CheckpointRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.checkpoints[rec.TaskID] = append(m.checkpoints[rec.TaskID], rec)
	return nil
}

// LoadLatestCheckpoint retrieves the checkpoint with the greatest step index.
//
// This handles out-of-order saves correctly, though the engine only ever
// writes checkpoints with strictly increasing step indexes.
func (m *MemStore) LoadLatestCheckpoint(_ context.Context, taskID string) (CheckpointRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.checkpoints[taskID]
	if len(records) == 0 {
		return CheckpointRecord{}, ErrNotFound
	}

	latest := records[0]
	for _, rec := range records[1:] {
		if rec.StepIndex > latest.StepIndex {
			latest = rec
		}
	}
	return latest, nil
}

// SaveState inserts or replaces the latest state payload for a task.
func (m *MemStore) SaveState(_ context.Context, taskID string, state json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.states[taskID] = StateRecord{
		TaskID:    taskID,
		State:     append(json.RawMessage(nil), state...),
		UpdatedAt: time.Now(),
	}
	return nil
}

// LoadState retrieves the latest state payload for a task.
func (m *MemStore) LoadState(_ context.Context, taskID string) (StateRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, exists := m.states[taskID]
	if !exists {
		return StateRecord{}, ErrNotFound
	}
	return rec, nil
}

// DeleteTask removes a task record along with its checkpoints and state.
func (m *MemStore) DeleteTask(_ context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.tasks, taskID)
	delete(m.checkpoints, taskID)
	delete(m.states, taskID)
	return nil
}

// Close is a no-op for MemStore.
func (m *MemStore) Close() error {
	return nil
}
