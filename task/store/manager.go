package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// resumableStatuses is the status set that marks incomplete work which can
// be continued after a restart. These are the persisted wire values.
var resumableStatuses = []string{"pending", "in_progress", "checkpointed", "suspended", "interrupted"}

// snapshotSuffix names the per-task flat snapshot files in the snapshot
// directory: <taskID>_state.json.
const snapshotSuffix = "_state.json"

// snapshot is the on-disk layout of a flat task snapshot. It mirrors the
// structured store's view of a task and serves as a human-inspectable audit
// trail and fallback read path.
type snapshot struct {
	Task    snapshotTask    `json:"task"`
	State   json.RawMessage `json:"state"`
	SavedAt time.Time       `json:"saved_at"`
}

type snapshotTask struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CurrentStep int        `json:"current_step"`
	TotalSteps  int        `json:"total_steps"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	MaxRetries  int        `json:"max_retries"`
	RetryCount  int        `json:"retry_count"`
}

// Manager is the persistence facade used by the engine and by recovery
// tooling.
//
// It combines:
//   - a structured Store (the source of truth) holding task rows,
//     checkpoints, and state payloads
//   - a directory of flat JSON snapshots, one per task, written as a
//     derived view on every task save
//
// The snapshots give operators a readable audit trail and let
// ResumableTaskIDs recover tasks whose structured rows were lost to a
// partial write.
type Manager struct {
	store       Store
	snapshotDir string
	mu          sync.Mutex
}

// NewManager creates a persistence manager over the given store.
//
// snapshotDir is created if it doesn't exist. An empty snapshotDir disables
// the flat snapshot mirror; the structured store then stands alone.
func NewManager(st Store, snapshotDir string) (*Manager, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if snapshotDir != "" {
		if err := os.MkdirAll(snapshotDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
		}
	}
	return &Manager{store: st, snapshotDir: snapshotDir}, nil
}

// SaveTask persists a task record and its state payload, then refreshes the
// flat snapshot.
//
// The structured store write is authoritative; a snapshot write failure is
// returned but the durable record is already committed.
func (m *Manager) SaveTask(ctx context.Context, rec TaskRecord, state json.RawMessage) error {
	if err := m.store.SaveTask(ctx, rec); err != nil {
		return err
	}
	if state != nil {
		if err := m.store.SaveState(ctx, rec.ID, state); err != nil {
			return err
		}
	}
	return m.writeSnapshot(rec, state)
}

// LoadTask retrieves a task record and its latest state payload.
//
// The structured store is tried first; if the task row is missing, the flat
// snapshot becomes the fallback read path. Returns ErrNotFound when neither
// holds the task.
func (m *Manager) LoadTask(ctx context.Context, taskID string) (TaskRecord, json.RawMessage, error) {
	rec, err := m.store.LoadTask(ctx, taskID)
	if err == nil {
		var state json.RawMessage
		if st, serr := m.store.LoadState(ctx, taskID); serr == nil {
			state = st.State
		} else if !errors.Is(serr, ErrNotFound) {
			return TaskRecord{}, nil, serr
		}
		return rec, state, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return TaskRecord{}, nil, err
	}

	snap, serr := m.readSnapshot(taskID)
	if serr != nil {
		return TaskRecord{}, nil, ErrNotFound
	}
	return snapshotToRecord(snap), snap.State, nil
}

// SaveCheckpoint allocates a checkpoint ID and appends the checkpoint to
// the structured store. The returned record carries the assigned ID and
// timestamp.
func (m *Manager) SaveCheckpoint(ctx context.Context, taskID string, stepIndex int, snap json.RawMessage) (CheckpointRecord, error) {
	rec := CheckpointRecord{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		StepIndex: stepIndex,
		Snapshot:  snap,
		CreatedAt: time.Now(),
	}
	if err := m.store.SaveCheckpoint(ctx, rec); err != nil {
		return CheckpointRecord{}, err
	}
	return rec, nil
}

// LoadLatestCheckpoint retrieves the checkpoint with the greatest step
// index for a task. Returns ErrNotFound if none exists.
func (m *Manager) LoadLatestCheckpoint(ctx context.Context, taskID string) (CheckpointRecord, error) {
	return m.store.LoadLatestCheckpoint(ctx, taskID)
}

// SaveState persists the latest state payload for a task.
func (m *Manager) SaveState(ctx context.Context, taskID string, state json.RawMessage) error {
	return m.store.SaveState(ctx, taskID, state)
}

// LoadState retrieves the latest state payload for a task.
func (m *Manager) LoadState(ctx context.Context, taskID string) (json.RawMessage, error) {
	rec, err := m.store.LoadState(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return rec.State, nil
}

// ResumableTaskIDs enumerates tasks with incomplete work after a restart.
//
// The result is the union of the structured store's status-filtered scan
// and any snapshot files whose last-known status is resumable but whose
// task row is absent from the structured store. The latter covers tasks
// lost to a partial write of the structured store.
func (m *Manager) ResumableTaskIDs(ctx context.Context) ([]string, error) {
	recs, err := m.store.ListByStatus(ctx, resumableStatuses...)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(recs))
	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		seen[rec.ID] = true
		ids = append(ids, rec.ID)
	}

	if m.snapshotDir == "" {
		return ids, nil
	}

	entries, err := os.ReadDir(m.snapshotDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot directory: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, snapshotSuffix) {
			continue
		}
		taskID := strings.TrimSuffix(name, snapshotSuffix)
		if seen[taskID] {
			continue
		}
		snap, err := m.readSnapshot(taskID)
		if err != nil {
			// Corrupt or unreadable snapshot; skip rather than fail the sweep.
			continue
		}
		if isResumableStatus(snap.Task.Status) {
			seen[taskID] = true
			ids = append(ids, taskID)
		}
	}

	return ids, nil
}

// PurgeOlderThan deletes completed tasks whose completion time predates the
// cutoff, cascading their checkpoints, state rows, and snapshot files.
// Returns the number of tasks removed.
//
// Failed and active tasks are never purged.
func (m *Manager) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	recs, err := m.store.ListCompletedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, rec := range recs {
		if err := m.store.DeleteTask(ctx, rec.ID); err != nil {
			return removed, err
		}
		m.removeSnapshot(rec.ID)
		removed++
	}
	return removed, nil
}

// PurgeSnapshotsOlderThan removes snapshot files whose modification time
// predates the cutoff, regardless of whether a task row still exists.
// Returns the number of files removed.
//
// This is retention for the derived view only; the structured store is
// untouched.
func (m *Manager) PurgeSnapshotsOlderThan(cutoff time.Time) (int, error) {
	if m.snapshotDir == "" {
		return 0, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := os.ReadDir(m.snapshotDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), snapshotSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(m.snapshotDir, entry.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// Store exposes the underlying structured store.
func (m *Manager) Store() Store {
	return m.store
}

// Close closes the underlying store.
func (m *Manager) Close() error {
	return m.store.Close()
}

func (m *Manager) snapshotPath(taskID string) string {
	return filepath.Join(m.snapshotDir, taskID+snapshotSuffix)
}

func (m *Manager) writeSnapshot(rec TaskRecord, state json.RawMessage) error {
	if m.snapshotDir == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snap := snapshot{
		Task:    recordToSnapshot(rec),
		State:   state,
		SavedAt: time.Now(),
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	// Write-then-rename so a crash mid-write never leaves a torn snapshot.
	path := m.snapshotPath(rec.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

func (m *Manager) readSnapshot(taskID string) (snapshot, error) {
	if m.snapshotDir == "" {
		return snapshot{}, ErrNotFound
	}

	data, err := os.ReadFile(m.snapshotPath(taskID))
	if err != nil {
		return snapshot{}, ErrNotFound
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return snapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snap, nil
}

func (m *Manager) removeSnapshot(taskID string) {
	if m.snapshotDir == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_ = os.Remove(m.snapshotPath(taskID))
}

func isResumableStatus(status string) bool {
	for _, s := range resumableStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func recordToSnapshot(rec TaskRecord) snapshotTask {
	return snapshotTask{
		ID:          rec.ID,
		Name:        rec.Name,
		Description: rec.Description,
		Status:      rec.Status,
		Priority:    rec.Priority,
		CreatedAt:   rec.CreatedAt,
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
		CurrentStep: rec.CurrentStep,
		TotalSteps:  rec.TotalSteps,
		Result:      rec.Result,
		Error:       rec.Error,
		MaxRetries:  rec.MaxRetries,
		RetryCount:  rec.RetryCount,
	}
}

func snapshotToRecord(snap snapshot) TaskRecord {
	return TaskRecord{
		ID:          snap.Task.ID,
		Name:        snap.Task.Name,
		Description: snap.Task.Description,
		Status:      snap.Task.Status,
		Priority:    snap.Task.Priority,
		CreatedAt:   snap.Task.CreatedAt,
		StartedAt:   snap.Task.StartedAt,
		CompletedAt: snap.Task.CompletedAt,
		CurrentStep: snap.Task.CurrentStep,
		TotalSteps:  snap.Task.TotalSteps,
		Result:      snap.Task.Result,
		Error:       snap.Task.Error,
		MaxRetries:  snap.Task.MaxRetries,
		RetryCount:  snap.Task.RetryCount,
	}
}
