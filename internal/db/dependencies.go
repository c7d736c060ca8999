package db

import (
	"context"
	"fmt"

	"github.com/ldi/taskdeck/pkg/models"
)

// CreateDependency records that taskID depends on dependsOnID. Both tasks
// must exist, the edge must not close a cycle, and inserting an edge that is
// already present is a no-op.
func (db *DB) CreateDependency(ctx context.Context, taskID, dependsOnID string) error {
	ok, err := db.taskExists(ctx, db.DB, taskID)
	if err != nil {
		return err
	}
	if !ok {
		return &NotFoundError{Kind: "task", Ref: taskID}
	}

	ok, err = db.taskExists(ctx, db.DB, dependsOnID)
	if err != nil {
		return err
	}
	if !ok {
		return &NotFoundError{Kind: "dependency task", Ref: dependsOnID}
	}

	if taskID == dependsOnID {
		return ErrSelfDependency
	}

	cyclic, err := db.wouldCreateCycle(ctx, taskID, dependsOnID)
	if err != nil {
		return err
	}
	if cyclic {
		return ErrCycle
	}

	if err := db.createDependency(ctx, db.DB, taskID, dependsOnID); err != nil {
		return err
	}

	db.triggerChange(ctx)
	return nil
}

func (db *DB) createDependency(ctx context.Context, exec executor, taskID, dependsOnID string) error {
	query := `INSERT OR IGNORE INTO task_dependencies (task_id, depends_on_id) VALUES (?, ?)`
	if _, err := exec.ExecContext(ctx, query, taskID, dependsOnID); err != nil {
		return fmt.Errorf("failed to create dependency: %w", err)
	}
	return nil
}

// wouldCreateCycle reports whether taskID is reachable from dependsOnID
// through the stored edge set. The candidate edge is not in the store yet,
// so a breadth-first walk from dependsOnID suffices.
func (db *DB) wouldCreateCycle(ctx context.Context, taskID, dependsOnID string) (bool, error) {
	visited := map[string]bool{}
	queue := []string{dependsOnID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current == taskID {
			return true, nil
		}
		if visited[current] {
			continue
		}
		visited[current] = true

		next, err := db.edgeIDs(ctx, "SELECT depends_on_id FROM task_dependencies WHERE task_id = ?", current)
		if err != nil {
			return false, err
		}
		queue = append(queue, next...)
	}

	return false, nil
}

// DeleteDependency removes an edge.
func (db *DB) DeleteDependency(ctx context.Context, taskID, dependsOnID string) error {
	query := `DELETE FROM task_dependencies WHERE task_id = ? AND depends_on_id = ?`
	res, err := db.ExecContext(ctx, query, taskID, dependsOnID)
	if err != nil {
		return fmt.Errorf("failed to delete dependency: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return &NotFoundError{Kind: "dependency", Ref: fmt.Sprintf("%s -> %s", taskID, dependsOnID)}
	}

	db.triggerChange(ctx)
	return nil
}

// GetDependencies returns the tasks that taskID depends on.
func (db *DB) GetDependencies(ctx context.Context, taskID string) ([]*models.Task, error) {
	query := `
		SELECT t.id, t.feature_id, t.parent_id, t.title, t.description, t.status,
		       t.assigned_to, t.blocked_reason, t.created_at, t.updated_at,
		       f.name as feature_name
		FROM tasks t
		JOIN task_dependencies td ON t.id = td.depends_on_id
		LEFT JOIN features f ON t.feature_id = f.id
		WHERE td.task_id = ?
		ORDER BY t.created_at, t.id
	`
	return db.queryTasks(ctx, query, taskID)
}

// GetDependents returns the tasks that depend on taskID.
func (db *DB) GetDependents(ctx context.Context, taskID string) ([]*models.Task, error) {
	query := `
		SELECT t.id, t.feature_id, t.parent_id, t.title, t.description, t.status,
		       t.assigned_to, t.blocked_reason, t.created_at, t.updated_at,
		       f.name as feature_name
		FROM tasks t
		JOIN task_dependencies td ON t.id = td.task_id
		LEFT JOIN features f ON t.feature_id = f.id
		WHERE td.depends_on_id = ?
		ORDER BY t.created_at, t.id
	`
	return db.queryTasks(ctx, query, taskID)
}
