package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ldi/taskdeck/pkg/models"
)

// CreateFeature inserts a new feature. If f.ID is empty, a new UUID is
// generated; status defaults to active and both timestamps are set to the
// same instant.
func (db *DB) CreateFeature(ctx context.Context, f *models.Feature) error {
	if err := db.createFeature(ctx, db.DB, f); err != nil {
		return err
	}

	db.triggerChange(ctx)
	return nil
}

func (db *DB) createFeature(ctx context.Context, exec executor, f *models.Feature) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.Status == "" {
		f.Status = models.FeatureStatusActive
	}

	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now

	query := `
		INSERT INTO features (id, name, description, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := exec.ExecContext(ctx, query,
		f.ID, f.Name, f.Description, f.Status, f.CreatedAt, f.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to create feature: %w", err)
	}
	return nil
}

// GetFeature retrieves a feature by its ID. Returns nil if none exists.
func (db *DB) GetFeature(ctx context.Context, id string) (*models.Feature, error) {
	query := `
		SELECT id, name, description, status, created_at, updated_at
		FROM features
		WHERE id = ?
	`
	f := &models.Feature{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&f.ID, &f.Name, &f.Description, &f.Status, &f.CreatedAt, &f.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feature: %w", err)
	}

	return f, nil
}

// GetFeatureByName retrieves a feature by exact name. Names are not unique;
// the oldest match wins.
func (db *DB) GetFeatureByName(ctx context.Context, name string) (*models.Feature, error) {
	return db.getFeatureByName(ctx, db.DB, name)
}

func (db *DB) getFeatureByName(ctx context.Context, exec executor, name string) (*models.Feature, error) {
	query := `
		SELECT id, name, description, status, created_at, updated_at
		FROM features
		WHERE name = ?
		ORDER BY created_at
		LIMIT 1
	`
	f := &models.Feature{}
	err := exec.QueryRowContext(ctx, query, name).Scan(
		&f.ID, &f.Name, &f.Description, &f.Status, &f.CreatedAt, &f.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feature by name: %w", err)
	}

	return f, nil
}

// ResolveFeatureID turns a human-supplied reference into a feature ID.
// Anything that parses as a UUID is returned verbatim without an existence
// check; everything else is looked up as a feature name.
func (db *DB) ResolveFeatureID(ctx context.Context, nameOrID string) (string, error) {
	if uuid.Validate(nameOrID) == nil {
		return nameOrID, nil
	}

	f, err := db.GetFeatureByName(ctx, nameOrID)
	if err != nil {
		return "", err
	}
	if f == nil {
		return "", &NotFoundError{Kind: "feature", Ref: nameOrID}
	}
	return f.ID, nil
}

// ListFeatures returns features with their task counts, newest first,
// optionally filtered by status.
func (db *DB) ListFeatures(ctx context.Context, status *models.FeatureStatus) ([]*models.FeatureSummary, error) {
	query := `
		SELECT id, name, description, status, created_at, updated_at
		FROM features
	`
	args := []any{}

	if status != nil {
		query += " WHERE status = ?"
		args = append(args, *status)
	}

	query += " ORDER BY created_at DESC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list features: %w", err)
	}
	defer rows.Close()

	var features []*models.FeatureSummary
	for rows.Next() {
		s := &models.FeatureSummary{}
		err := rows.Scan(
			&s.ID, &s.Name, &s.Description, &s.Status, &s.CreatedAt, &s.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feature: %w", err)
		}
		features = append(features, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	for _, s := range features {
		counts, err := db.featureTaskCounts(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		s.TaskCounts = counts
	}

	return features, nil
}

func (db *DB) featureTaskCounts(ctx context.Context, featureID string) (models.TaskCounts, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'todo' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'in_progress' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'done' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'blocked' THEN 1 ELSE 0 END), 0)
		FROM tasks
		WHERE feature_id = ?
	`
	var c models.TaskCounts
	err := db.QueryRowContext(ctx, query, featureID).Scan(
		&c.Total, &c.Todo, &c.InProgress, &c.Done, &c.Blocked,
	)
	if err != nil {
		return c, fmt.Errorf("failed to count tasks: %w", err)
	}
	return c, nil
}

// GetFeatureDetail resolves a feature reference and returns the feature with
// its task counts and its tasks assembled into a tree. Tasks whose parent is
// missing or outside the feature become roots.
func (db *DB) GetFeatureDetail(ctx context.Context, nameOrID string) (*models.FeatureDetail, error) {
	id, err := db.ResolveFeatureID(ctx, nameOrID)
	if err != nil {
		return nil, err
	}

	f, err := db.GetFeature(ctx, id)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, &NotFoundError{Kind: "feature", Ref: nameOrID}
	}

	counts, err := db.featureTaskCounts(ctx, f.ID)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, feature_id, parent_id, title, description, status,
		       assigned_to, blocked_reason, created_at, updated_at
		FROM tasks
		WHERE feature_id = ?
		ORDER BY created_at, id
	`
	rows, err := db.QueryContext(ctx, query, f.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list feature tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.TaskNode
	for rows.Next() {
		n := &models.TaskNode{Children: []*models.TaskNode{}}
		err := rows.Scan(
			&n.ID, &n.FeatureID, &n.ParentID, &n.Title, &n.Description, &n.Status,
			&n.AssignedTo, &n.BlockedReason, &n.CreatedAt, &n.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if err := db.attachDependencies(ctx, f.ID, tasks); err != nil {
		return nil, err
	}

	return &models.FeatureDetail{
		Feature:    *f,
		TaskCounts: counts,
		Tasks:      buildTaskTree(tasks),
	}, nil
}

// attachDependencies fills each node's direct dependency ids with a single
// edge query over the feature.
func (db *DB) attachDependencies(ctx context.Context, featureID string, tasks []*models.TaskNode) error {
	query := `
		SELECT td.task_id, td.depends_on_id
		FROM task_dependencies td
		JOIN tasks t ON td.task_id = t.id
		WHERE t.feature_id = ?
	`
	rows, err := db.QueryContext(ctx, query, featureID)
	if err != nil {
		return fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()

	deps := make(map[string][]string)
	for rows.Next() {
		var taskID, dependsOnID string
		if err := rows.Scan(&taskID, &dependsOnID); err != nil {
			return fmt.Errorf("failed to scan dependency: %w", err)
		}
		deps[taskID] = append(deps[taskID], dependsOnID)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}

	for _, n := range tasks {
		n.Dependencies = deps[n.ID]
		if n.Dependencies == nil {
			n.Dependencies = []string{}
		}
	}
	return nil
}

// buildTaskTree nests tasks under their parents in one pass over an id map.
func buildTaskTree(tasks []*models.TaskNode) []*models.TaskNode {
	byID := make(map[string]*models.TaskNode, len(tasks))
	for _, n := range tasks {
		byID[n.ID] = n
	}

	roots := []*models.TaskNode{}
	for _, n := range tasks {
		if n.ParentID != nil {
			if parent, ok := byID[*n.ParentID]; ok {
				parent.Children = append(parent.Children, n)
				continue
			}
		}
		roots = append(roots, n)
	}
	return roots
}

// UpdateFeature updates a feature's name, description, and status. Feature
// status carries no transition rules; callers set it directly.
func (db *DB) UpdateFeature(ctx context.Context, f *models.Feature) error {
	if !f.Status.Valid() {
		return &ValidationError{Msg: fmt.Sprintf("invalid feature status: %q", f.Status)}
	}

	f.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE features
		SET name = ?, description = ?, status = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := db.ExecContext(ctx, query, f.Name, f.Description, f.Status, f.UpdatedAt, f.ID)
	if err != nil {
		return fmt.Errorf("failed to update feature: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return &NotFoundError{Kind: "feature", Ref: f.ID}
	}

	db.triggerChange(ctx)
	return nil
}
