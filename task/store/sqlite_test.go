package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSQLiteStore(t *testing.T) {
	storeUnderTest(t, newTestSQLite(t))
}

func TestSQLiteStore_TimestampsSurviveRoundTrip(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	started := time.Now().Add(-time.Hour).Round(time.Microsecond)
	rec := sampleRecord("ts", "in_progress")
	rec.StartedAt = &started

	if err := st.SaveTask(ctx, rec); err != nil {
		t.Fatalf("SaveTask failed: %v", err)
	}
	got, err := st.LoadTask(ctx, "ts")
	if err != nil {
		t.Fatalf("LoadTask failed: %v", err)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(started) {
		t.Errorf("started_at = %v, want %v", got.StartedAt, started)
	}
	if got.CompletedAt != nil {
		t.Errorf("completed_at = %v, want nil", got.CompletedAt)
	}
}

// TestSQLiteStore_SubSecondCutoff pins the timestamp encoding: the TEXT
// columns compare lexicographically, so a whole-second completion time must
// order correctly against a sub-second cutoff.
func TestSQLiteStore_SubSecondCutoff(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	done := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	rec := sampleRecord("whole-second", "completed")
	rec.CompletedAt = &done
	if err := st.SaveTask(ctx, rec); err != nil {
		t.Fatalf("SaveTask failed: %v", err)
	}

	recs, err := st.ListCompletedBefore(ctx, done.Add(500*time.Millisecond))
	if err != nil {
		t.Fatalf("ListCompletedBefore failed: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "whole-second" {
		t.Errorf("cutoff 500ms after completion: recs = %+v, want the task included", recs)
	}

	recs, err = st.ListCompletedBefore(ctx, done.Add(-500*time.Millisecond))
	if err != nil {
		t.Fatalf("ListCompletedBefore failed: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("cutoff 500ms before completion: recs = %+v, want empty", recs)
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tasks.db")

	st, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	if err := st.SaveTask(ctx, sampleRecord("durable", "suspended")); err != nil {
		t.Fatalf("SaveTask failed: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	st2, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer st2.Close()

	got, err := st2.LoadTask(ctx, "durable")
	if err != nil {
		t.Fatalf("LoadTask after reopen failed: %v", err)
	}
	if got.Status != "suspended" {
		t.Errorf("status = %q, want suspended", got.Status)
	}
}

func TestSQLiteStore_ClosedRejectsOperations(t *testing.T) {
	st := newTestSQLite(t)
	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := st.SaveTask(context.Background(), sampleRecord("x", "pending")); err == nil {
		t.Fatal("SaveTask on closed store succeeded")
	}
	if _, err := st.LoadTask(context.Background(), "x"); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("LoadTask on closed store err = %v, want store-closed error", err)
	}
}
