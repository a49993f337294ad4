package store

import (
	"context"
	"testing"

	"taskchat/internal/config"
	"taskchat/internal/types"
)

func newTestStore(t *testing.T, refPolicy string) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(":memory:", refPolicy)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetTask(t *testing.T) {
	s := newTestStore(t, config.TaskRefTitleFallback)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, "u1", "buy groceries", "milk and eggs")
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if task.ID == "" {
		t.Fatal("Task should get an id")
	}
	if task.Completed {
		t.Error("New task should not be completed")
	}

	got, err := s.GetTask(ctx, "u1", task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Title != "buy groceries" || got.Description != "milk and eggs" {
		t.Errorf("Round trip mismatch: %+v", got)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("Timestamps should be set")
	}
}

func TestGetTaskOwnershipBlind(t *testing.T) {
	s := newTestStore(t, config.TaskRefTitleFallback)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, "u1", "private", "")
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	_, err = s.GetTask(ctx, "u2", task.ID)
	if !types.IsNotFound(err) {
		t.Fatalf("Foreign task must look absent, got %v", err)
	}
	_, missingErr := s.GetTask(ctx, "u1", "no-such-id")
	if !types.IsNotFound(missingErr) {
		t.Fatalf("Missing task must be not-found, got %v", missingErr)
	}
	if err.Error() == "" || missingErr.Error() == "" {
		t.Fatal("Errors should carry messages")
	}
}

func TestListTasksScopedToOwner(t *testing.T) {
	s := newTestStore(t, config.TaskRefTitleFallback)
	ctx := context.Background()

	s.CreateTask(ctx, "u1", "one", "")
	s.CreateTask(ctx, "u1", "two", "")
	s.CreateTask(ctx, "u2", "other", "")

	tasks, err := s.ListTasks(ctx, "u1", "")
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("Expected 2 tasks, got %d", len(tasks))
	}
	for _, task := range tasks {
		if task.OwnerID != "u1" {
			t.Errorf("Leaked foreign task %+v", task)
		}
	}
}

func TestListTasksStatusFilter(t *testing.T) {
	s := newTestStore(t, config.TaskRefTitleFallback)
	ctx := context.Background()

	a, _ := s.CreateTask(ctx, "u1", "done soon", "")
	s.CreateTask(ctx, "u1", "still open", "")
	if _, err := s.CompleteTask(ctx, "u1", a.ID); err != nil {
		t.Fatalf("CompleteTask failed: %v", err)
	}

	completed, err := s.ListTasks(ctx, "u1", "completed")
	if err != nil {
		t.Fatalf("ListTasks completed failed: %v", err)
	}
	if len(completed) != 1 || completed[0].ID != a.ID {
		t.Errorf("Unexpected completed set: %+v", completed)
	}

	pending, err := s.ListTasks(ctx, "u1", "pending")
	if err != nil {
		t.Fatalf("ListTasks pending failed: %v", err)
	}
	if len(pending) != 1 || pending[0].Title != "still open" {
		t.Errorf("Unexpected pending set: %+v", pending)
	}
}

func TestCompleteTaskByID(t *testing.T) {
	s := newTestStore(t, config.TaskRefStrictID)
	ctx := context.Background()

	task, _ := s.CreateTask(ctx, "u1", "water plants", "")
	got, err := s.CompleteTask(ctx, "u1", task.ID)
	if err != nil {
		t.Fatalf("CompleteTask failed: %v", err)
	}
	if !got.Completed {
		t.Error("Returned record should be completed")
	}

	persisted, _ := s.GetTask(ctx, "u1", task.ID)
	if !persisted.Completed {
		t.Error("Completion should persist")
	}
}

func TestResolveByTitleFragment(t *testing.T) {
	s := newTestStore(t, config.TaskRefTitleFallback)
	ctx := context.Background()

	s.CreateTask(ctx, "u1", "water the plants", "")
	got, err := s.CompleteTask(ctx, "u1", "plants")
	if err != nil {
		t.Fatalf("Fragment resolution failed: %v", err)
	}
	if got.Title != "water the plants" {
		t.Errorf("Resolved wrong task: %+v", got)
	}
}

func TestResolveFragmentCaseInsensitive(t *testing.T) {
	s := newTestStore(t, config.TaskRefTitleFallback)
	ctx := context.Background()

	s.CreateTask(ctx, "u1", "Call Mom", "")
	if _, err := s.CompleteTask(ctx, "u1", "call mom"); err != nil {
		t.Fatalf("Case-insensitive resolution failed: %v", err)
	}
}

func TestStrictPolicyRejectsFragments(t *testing.T) {
	s := newTestStore(t, config.TaskRefStrictID)
	ctx := context.Background()

	s.CreateTask(ctx, "u1", "water the plants", "")
	_, err := s.CompleteTask(ctx, "u1", "plants")
	if !types.IsNotFound(err) {
		t.Fatalf("Strict policy must not resolve fragments, got %v", err)
	}
}

func TestResolveNeverCrossesOwners(t *testing.T) {
	s := newTestStore(t, config.TaskRefTitleFallback)
	ctx := context.Background()

	s.CreateTask(ctx, "u1", "secret plans", "")
	_, err := s.CompleteTask(ctx, "u2", "secret")
	if !types.IsNotFound(err) {
		t.Fatalf("Fragment resolution leaked across owners: %v", err)
	}
}

func TestUpdateTaskFields(t *testing.T) {
	s := newTestStore(t, config.TaskRefTitleFallback)
	ctx := context.Background()

	task, _ := s.CreateTask(ctx, "u1", "old title", "old desc")

	title := "new title"
	got, err := s.UpdateTask(ctx, "u1", task.ID, &title, nil)
	if err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}
	if got.Title != "new title" || got.Description != "old desc" {
		t.Errorf("Partial update wrong: %+v", got)
	}

	desc := "new desc"
	got, err = s.UpdateTask(ctx, "u1", task.ID, nil, &desc)
	if err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}
	if got.Title != "new title" || got.Description != "new desc" {
		t.Errorf("Description update wrong: %+v", got)
	}

	// Both fields nil: the task resolves and nothing changes.
	got, err = s.UpdateTask(ctx, "u1", task.ID, nil, nil)
	if err != nil {
		t.Fatalf("No-op update failed: %v", err)
	}
	if got.Title != "new title" || got.Description != "new desc" {
		t.Errorf("No-op update changed fields: %+v", got)
	}
}

func TestDeleteTask(t *testing.T) {
	s := newTestStore(t, config.TaskRefTitleFallback)
	ctx := context.Background()

	task, _ := s.CreateTask(ctx, "u1", "old chore", "")
	got, err := s.DeleteTask(ctx, "u1", task.ID)
	if err != nil {
		t.Fatalf("DeleteTask failed: %v", err)
	}
	if got.Title != "old chore" {
		t.Errorf("Deleted record should be returned, got %+v", got)
	}

	if _, err := s.GetTask(ctx, "u1", task.ID); !types.IsNotFound(err) {
		t.Errorf("Task should be gone, got %v", err)
	}
}
