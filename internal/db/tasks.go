package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ldi/taskdeck/pkg/models"
)

// CreateTask inserts a new task. The owning feature must exist, and the
// parent task, if given, must already exist. New tasks always start in todo
// with no assignee and no block reason.
func (db *DB) CreateTask(ctx context.Context, t *models.Task) error {
	if err := db.createTask(ctx, db.DB, t); err != nil {
		return err
	}

	db.triggerChange(ctx)
	return nil
}

func (db *DB) createTask(ctx context.Context, exec executor, t *models.Task) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}

	ok, err := db.featureExists(ctx, exec, t.FeatureID)
	if err != nil {
		return err
	}
	if !ok {
		return &NotFoundError{Kind: "feature", Ref: t.FeatureID}
	}

	if t.ParentID != nil {
		ok, err := db.taskExists(ctx, exec, *t.ParentID)
		if err != nil {
			return err
		}
		if !ok {
			return &NotFoundError{Kind: "parent task", Ref: *t.ParentID}
		}
	}

	t.Status = models.TaskStatusTodo
	t.AssignedTo = nil
	t.BlockedReason = nil

	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	query := `
		INSERT INTO tasks (id, feature_id, parent_id, title, description, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'todo', ?, ?)
	`
	if _, err := exec.ExecContext(ctx, query,
		t.ID, t.FeatureID, t.ParentID, t.Title, t.Description, t.CreatedAt, t.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

func (db *DB) featureExists(ctx context.Context, exec executor, id string) (bool, error) {
	var one int
	err := exec.QueryRowContext(ctx, "SELECT 1 FROM features WHERE id = ?", id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check feature %s: %w", id, err)
	}
	return true, nil
}

func (db *DB) taskExists(ctx context.Context, exec executor, id string) (bool, error) {
	var one int
	err := exec.QueryRowContext(ctx, "SELECT 1 FROM tasks WHERE id = ?", id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check task %s: %w", id, err)
	}
	return true, nil
}

// GetTask retrieves a task by its ID. Returns nil if none exists.
func (db *DB) GetTask(ctx context.Context, id string) (*models.Task, error) {
	query := `
		SELECT t.id, t.feature_id, t.parent_id, t.title, t.description, t.status,
		       t.assigned_to, t.blocked_reason, t.created_at, t.updated_at,
		       f.name as feature_name
		FROM tasks t
		LEFT JOIN features f ON t.feature_id = f.id
		WHERE t.id = ?
	`
	t := &models.Task{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&t.ID, &t.FeatureID, &t.ParentID, &t.Title, &t.Description, &t.Status,
		&t.AssignedTo, &t.BlockedReason, &t.CreatedAt, &t.UpdatedAt,
		&t.FeatureName,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	return t, nil
}

// GetTaskDetail returns a task together with the ids it depends on and the
// ids of tasks it is blocking.
func (db *DB) GetTaskDetail(ctx context.Context, id string) (*models.TaskDetail, error) {
	t, err := db.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, &NotFoundError{Kind: "task", Ref: id}
	}

	dependsOn, err := db.edgeIDs(ctx, "SELECT depends_on_id FROM task_dependencies WHERE task_id = ?", id)
	if err != nil {
		return nil, err
	}

	blocking, err := db.edgeIDs(ctx, "SELECT task_id FROM task_dependencies WHERE depends_on_id = ?", id)
	if err != nil {
		return nil, err
	}

	return &models.TaskDetail{Task: *t, DependsOn: dependsOn, Blocking: blocking}, nil
}

func (db *DB) edgeIDs(ctx context.Context, query, id string) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var edge string
		if err := rows.Scan(&edge); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		ids = append(ids, edge)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return ids, nil
}

// ListTasks returns tasks, optionally filtered by status or feature name.
func (db *DB) ListTasks(ctx context.Context, status *models.TaskStatus, featureName *string) ([]*models.Task, error) {
	query := `
		SELECT t.id, t.feature_id, t.parent_id, t.title, t.description, t.status,
		       t.assigned_to, t.blocked_reason, t.created_at, t.updated_at,
		       f.name as feature_name
		FROM tasks t
		LEFT JOIN features f ON t.feature_id = f.id
		WHERE 1=1
	`
	args := []any{}

	if status != nil {
		query += " AND t.status = ?"
		args = append(args, *status)
	}

	if featureName != nil {
		query += " AND f.name = ?"
		args = append(args, *featureName)
	}

	query += " ORDER BY t.created_at, t.id"

	return db.queryTasks(ctx, query, args...)
}

// queryTasks is a helper to execute a query that returns a list of tasks.
func (db *DB) queryTasks(ctx context.Context, query string, args ...any) ([]*models.Task, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t := &models.Task{}
		err := rows.Scan(
			&t.ID, &t.FeatureID, &t.ParentID, &t.Title, &t.Description, &t.Status,
			&t.AssignedTo, &t.BlockedReason, &t.CreatedAt, &t.UpdatedAt,
			&t.FeatureName,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return tasks, nil
}

// GetReadyTasks returns todo tasks whose dependencies are all done, oldest
// first, optionally restricted to one feature.
func (db *DB) GetReadyTasks(ctx context.Context, featureID *string) ([]*models.Task, error) {
	query := `
		SELECT t.id, t.feature_id, t.parent_id, t.title, t.description, t.status,
		       t.assigned_to, t.blocked_reason, t.created_at, t.updated_at,
		       f.name as feature_name
		FROM tasks t
		LEFT JOIN features f ON t.feature_id = f.id
		WHERE t.status = 'todo'
		AND NOT EXISTS (
			SELECT 1 FROM task_dependencies td
			JOIN tasks dep ON td.depends_on_id = dep.id
			WHERE td.task_id = t.id AND dep.status != 'done'
		)
	`
	args := []any{}

	if featureID != nil {
		query += " AND t.feature_id = ?"
		args = append(args, *featureID)
	}

	query += " ORDER BY t.created_at, t.id"

	return db.queryTasks(ctx, query, args...)
}

const taskReturning = `
	RETURNING id, feature_id, parent_id, title, description, status,
	          assigned_to, blocked_reason, created_at, updated_at
`

func scanTaskRow(row *sql.Row) (*models.Task, error) {
	t := &models.Task{}
	err := row.Scan(
		&t.ID, &t.FeatureID, &t.ParentID, &t.Title, &t.Description, &t.Status,
		&t.AssignedTo, &t.BlockedReason, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// transitionFailure turns a missed conditional update into the right error:
// the task either does not exist or is in the wrong status.
func (db *DB) transitionFailure(ctx context.Context, id string, want models.TaskStatus) error {
	t, err := db.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if t == nil {
		return &NotFoundError{Kind: "task", Ref: id}
	}
	return &TransitionError{TaskID: id, Status: t.Status, Want: want}
}

// ClaimTask moves a todo task to in_progress and records the agent working
// on it. The status guard lives in the UPDATE itself so concurrent claims
// cannot both win.
func (db *DB) ClaimTask(ctx context.Context, id string, agent *string) (*models.Task, error) {
	query := `
		UPDATE tasks SET status = 'in_progress', assigned_to = ?, updated_at = ?
		WHERE id = ? AND status = 'todo'
	` + taskReturning

	t, err := scanTaskRow(db.QueryRowContext(ctx, query, agent, time.Now().UTC(), id))
	if err == sql.ErrNoRows {
		return nil, db.transitionFailure(ctx, id, models.TaskStatusTodo)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim task: %w", err)
	}

	db.triggerChange(ctx)
	return t, nil
}

// CompleteTask moves an in_progress task to done.
func (db *DB) CompleteTask(ctx context.Context, id string) (*models.Task, error) {
	query := `
		UPDATE tasks SET status = 'done', updated_at = ?
		WHERE id = ? AND status = 'in_progress'
	` + taskReturning

	t, err := scanTaskRow(db.QueryRowContext(ctx, query, time.Now().UTC(), id))
	if err == sql.ErrNoRows {
		return nil, db.transitionFailure(ctx, id, models.TaskStatusInProgress)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to complete task: %w", err)
	}

	db.triggerChange(ctx)
	return t, nil
}

// BlockTask marks a task blocked with a reason. There is no status guard:
// blocking is an escape hatch that must work from any state, and it leaves
// assigned_to untouched.
func (db *DB) BlockTask(ctx context.Context, id string, reason string) (*models.Task, error) {
	query := `
		UPDATE tasks SET status = 'blocked', blocked_reason = ?, updated_at = ?
		WHERE id = ?
	` + taskReturning

	t, err := scanTaskRow(db.QueryRowContext(ctx, query, reason, time.Now().UTC(), id))
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Kind: "task", Ref: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to block task: %w", err)
	}

	db.triggerChange(ctx)
	return t, nil
}

// UnblockTask moves a blocked task back to todo and clears the reason.
func (db *DB) UnblockTask(ctx context.Context, id string) (*models.Task, error) {
	query := `
		UPDATE tasks SET status = 'todo', blocked_reason = NULL, updated_at = ?
		WHERE id = ? AND status = 'blocked'
	` + taskReturning

	t, err := scanTaskRow(db.QueryRowContext(ctx, query, time.Now().UTC(), id))
	if err == sql.ErrNoRows {
		return nil, db.transitionFailure(ctx, id, models.TaskStatusBlocked)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unblock task: %w", err)
	}

	db.triggerChange(ctx)
	return t, nil
}

// ReleaseTask returns an in_progress task to todo and clears the assignee.
func (db *DB) ReleaseTask(ctx context.Context, id string) (*models.Task, error) {
	query := `
		UPDATE tasks SET status = 'todo', assigned_to = NULL, updated_at = ?
		WHERE id = ? AND status = 'in_progress'
	` + taskReturning

	t, err := scanTaskRow(db.QueryRowContext(ctx, query, time.Now().UTC(), id))
	if err == sql.ErrNoRows {
		return nil, db.transitionFailure(ctx, id, models.TaskStatusInProgress)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to release task: %w", err)
	}

	db.triggerChange(ctx)
	return t, nil
}
