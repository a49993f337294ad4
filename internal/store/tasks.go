package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskchat/internal/config"
	"taskchat/internal/logging"
	"taskchat/internal/types"
)

// CreateTask inserts a new task for the owner. Field validation is the
// dispatcher's job; the store persists what it is given.
func (s *LocalStore) CreateTask(ctx context.Context, ownerID, title, description string) (types.TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	task := types.TaskRecord{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Title:       title,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, owner_id, title, description, completed, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?)`,
		task.ID, task.OwnerID, task.Title, task.Description, task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return types.TaskRecord{}, fmt.Errorf("failed to insert task: %w", err)
	}

	logging.StoreDebug("Created task %s for owner %s", task.ID, ownerID)
	return task, nil
}

// ListTasks returns the owner's tasks, newest first. Status filters by
// completion: "completed", "pending", or "" for all.
func (s *LocalStore) ListTasks(ctx context.Context, ownerID, status string) ([]types.TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, owner_id, title, description, completed, created_at, updated_at
		FROM tasks WHERE owner_id = ?`
	args := []interface{}{ownerID}
	switch status {
	case "completed":
		query += " AND completed = 1"
	case "pending":
		query += " AND completed = 0"
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []types.TaskRecord
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// GetTask returns one task by exact id, scoped to the owner.
func (s *LocalStore) GetTask(ctx context.Context, ownerID, id string) (types.TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getTaskByID(ctx, ownerID, id)
}

// CompleteTask resolves the reference and marks the task completed.
func (s *LocalStore) CompleteTask(ctx context.Context, ownerID, ref string) (types.TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := s.resolveTask(ctx, ownerID, ref)
	if err != nil {
		return types.TaskRecord{}, err
	}

	task.Completed = true
	task.UpdatedAt = time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`UPDATE tasks SET completed = 1, updated_at = ? WHERE id = ?`,
		task.UpdatedAt, task.ID)
	if err != nil {
		return types.TaskRecord{}, fmt.Errorf("failed to complete task: %w", err)
	}
	return task, nil
}

// UpdateTask resolves the reference and applies the non-nil fields.
func (s *LocalStore) UpdateTask(ctx context.Context, ownerID, ref string, title, description *string) (types.TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := s.resolveTask(ctx, ownerID, ref)
	if err != nil {
		return types.TaskRecord{}, err
	}

	if title != nil {
		task.Title = *title
	}
	if description != nil {
		task.Description = *description
	}
	task.UpdatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		`UPDATE tasks SET title = ?, description = ?, updated_at = ? WHERE id = ?`,
		task.Title, task.Description, task.UpdatedAt, task.ID)
	if err != nil {
		return types.TaskRecord{}, fmt.Errorf("failed to update task: %w", err)
	}
	return task, nil
}

// DeleteTask resolves the reference and removes the task. The deleted
// record is returned so the caller can name it in the confirmation.
func (s *LocalStore) DeleteTask(ctx context.Context, ownerID, ref string) (types.TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := s.resolveTask(ctx, ownerID, ref)
	if err != nil {
		return types.TaskRecord{}, err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, task.ID); err != nil {
		return types.TaskRecord{}, fmt.Errorf("failed to delete task: %w", err)
	}
	logging.StoreDebug("Deleted task %s for owner %s", task.ID, ownerID)
	return task, nil
}

// resolveTask maps a reference to a concrete task. Exact id match comes
// first; when the configured policy permits, an unmatched reference falls
// back to a case-insensitive title-fragment search, most recently updated
// wins. Ownership mismatch and absence are indistinguishable: both are
// NotFound. Callers hold the mutex.
func (s *LocalStore) resolveTask(ctx context.Context, ownerID, ref string) (types.TaskRecord, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return types.TaskRecord{}, types.NotFound("task", ref)
	}

	if _, err := uuid.Parse(ref); err == nil {
		return s.getTaskByID(ctx, ownerID, ref)
	}
	// Non-UUID references may still be exact ids in hand-seeded stores.
	if task, err := s.getTaskByID(ctx, ownerID, ref); err == nil {
		return task, nil
	}

	if s.refPolicy != config.TaskRefTitleFallback {
		return types.TaskRecord{}, types.NotFound("task", ref)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, title, description, completed, created_at, updated_at
		 FROM tasks WHERE owner_id = ? AND title LIKE ? COLLATE NOCASE
		 ORDER BY updated_at DESC LIMIT 1`,
		ownerID, "%"+ref+"%")
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.TaskRecord{}, types.NotFound("task", ref)
	}
	if err != nil {
		return types.TaskRecord{}, err
	}
	logging.StoreDebug("Resolved ref %q to task %s by title fragment", ref, task.ID)
	return task, nil
}

func (s *LocalStore) getTaskByID(ctx context.Context, ownerID, id string) (types.TaskRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, title, description, completed, created_at, updated_at
		 FROM tasks WHERE id = ? AND owner_id = ?`, id, ownerID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.TaskRecord{}, types.NotFound("task", id)
	}
	return task, err
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(r rowScanner) (types.TaskRecord, error) {
	var task types.TaskRecord
	var completed int
	err := r.Scan(&task.ID, &task.OwnerID, &task.Title, &task.Description,
		&completed, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.TaskRecord{}, err
		}
		return types.TaskRecord{}, fmt.Errorf("failed to scan task: %w", err)
	}
	task.Completed = completed != 0
	return task, nil
}
