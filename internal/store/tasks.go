package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/canon/internal/ir"
	"github.com/roach88/canon/internal/query"
)

// Tasks is the query descriptor for projection_tasks.
var Tasks = query.Table{
	Name: "projection_tasks",
	Columns: []string{
		"id", "reference_id", "version", "view_name", "status",
		"attempts", "last_error", "created_at", "updated_at",
	},
	OrderBy: "created_at ASC, id COLLATE BINARY ASC",
}

// PutTask creates a projection task.
// Uses ON CONFLICT DO NOTHING: the id is content-addressed from
// (reference, version, view), so a second create for the same triple is a
// no-op. Returns whether a new task was inserted.
func (s *Store) PutTask(ctx context.Context, task ir.ProjectionTask) (bool, error) {
	if task.ID != ir.ProjectionTaskID(task.ReferenceID, task.Version, task.View) {
		return false, fmt.Errorf("put task: id %s does not match (%s, %d, %s)",
			task.ID, task.ReferenceID, task.Version, task.View)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO projection_tasks
		(id, reference_id, version, view_name, status, attempts, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		task.ID,
		task.ReferenceID,
		task.Version,
		task.View,
		string(task.Status),
		task.Attempts,
		task.LastError,
		toNanos(task.CreatedAt),
		toNanos(task.UpdatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("put task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("put task: rows affected: %w", err)
	}
	return n > 0, nil
}

// GetTask retrieves a task by id. Returns ErrNotFound (wrapped) if absent.
func (s *Store) GetTask(ctx context.Context, id string) (ir.ProjectionTask, error) {
	tasks, err := s.QueryTasks(ctx, query.Equals{Field: "id", Value: ir.String(id)}, 1)
	if err != nil {
		return ir.ProjectionTask{}, err
	}
	if len(tasks) == 0 {
		return ir.ProjectionTask{}, fmt.Errorf("get task %s: %w", id, ErrNotFound)
	}
	return tasks[0], nil
}

// QueryTasks lists tasks matching filter, oldest first.
func (s *Store) QueryTasks(ctx context.Context, filter query.Predicate, limit int) ([]ir.ProjectionTask, error) {
	stmt, params, err := query.Compile(query.Select{Table: Tasks, Filter: filter, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, stmt, params...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []ir.ProjectionTask{}
	for rows.Next() {
		var task ir.ProjectionTask
		var status string
		var created, updated int64
		if err := rows.Scan(
			&task.ID, &task.ReferenceID, &task.Version, &task.View, &status,
			&task.Attempts, &task.LastError, &created, &updated,
		); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		task.Status = ir.TaskStatus(status)
		task.CreatedAt = fromNanos(created)
		task.UpdatedAt = fromNanos(updated)
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

// CompleteTask marks a task done.
func (s *Store) CompleteTask(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE projection_tasks
		SET status = ?, last_error = '', attempts = attempts + 1, updated_at = ?
		WHERE id = ?
	`, string(ir.TaskDone), toNanos(at), id)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	return nil
}

// FailTask records a failed attempt. The task returns to pending while
// attempts < maxAttempts and becomes failed after that.
func (s *Store) FailTask(ctx context.Context, id string, cause string, maxAttempts int, at time.Time) (ir.TaskStatus, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE projection_tasks
		SET attempts = attempts + 1,
		    last_error = ?,
		    status = CASE WHEN attempts + 1 >= ? THEN ? ELSE ? END,
		    updated_at = ?
		WHERE id = ?
	`, cause, maxAttempts, string(ir.TaskFailed), string(ir.TaskPending), toNanos(at), id)
	if err != nil {
		return "", fmt.Errorf("fail task: %w", err)
	}

	task, err := s.GetTask(ctx, id)
	if err != nil {
		return "", fmt.Errorf("fail task: %w", err)
	}
	return task.Status, nil
}
