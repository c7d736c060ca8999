package db

import (
	"context"
	"fmt"

	"github.com/ldi/taskdeck/pkg/models"
)

// ImportTasks creates a whole batch of tasks in one transaction. Each
// descriptor may name its parent and its dependencies by batch position
// instead of by identifier: parent references resolve only backward (a
// parent_index at or past the item's own position is treated as absent),
// while dependency indices may point anywhere in the batch, which is why ids
// are allocated in a first pass and edges recorded in a second. Dependency
// indices outside the batch are skipped. A batch whose dependency indices
// describe a cycle is rejected before anything is written.
func (db *DB) ImportTasks(ctx context.Context, featureID string, batch []models.TaskImport) ([]*models.Task, error) {
	ok, err := db.featureExists(ctx, db.DB, featureID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &NotFoundError{Kind: "feature", Ref: featureID}
	}

	if batchHasCycle(batch) {
		return nil, ErrCycle
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	created := make([]*models.Task, 0, len(batch))
	for i, item := range batch {
		t := &models.Task{
			FeatureID:   featureID,
			Title:       item.Title,
			Description: item.Description,
		}

		if item.ParentIndex != nil && *item.ParentIndex >= 0 && *item.ParentIndex < i {
			parentID := created[*item.ParentIndex].ID
			t.ParentID = &parentID
		}

		if err := db.createTask(ctx, tx, t); err != nil {
			return nil, fmt.Errorf("failed to import task %q: %w", item.Title, err)
		}
		created = append(created, t)
	}

	for i, item := range batch {
		for _, dep := range item.DependsOnIndices {
			if dep < 0 || dep >= len(created) {
				continue
			}
			if err := db.createDependency(ctx, tx, created[i].ID, created[dep].ID); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	db.triggerChange(ctx)
	return created, nil
}

// batchHasCycle runs a depth-first walk over the index graph formed by the
// batch's in-range dependency references. Batch tasks are brand new, so no
// stored edge can take part in such a cycle.
func batchHasCycle(batch []models.TaskImport) bool {
	const (
		unvisited = iota
		visiting
		done
	)

	state := make([]int, len(batch))

	var visit func(i int) bool
	visit = func(i int) bool {
		state[i] = visiting
		for _, dep := range batch[i].DependsOnIndices {
			if dep < 0 || dep >= len(batch) {
				continue
			}
			switch state[dep] {
			case visiting:
				return true
			case unvisited:
				if visit(dep) {
					return true
				}
			}
		}
		state[i] = done
		return false
	}

	for i := range batch {
		if state[i] == unvisited && visit(i) {
			return true
		}
	}
	return false
}

// CommitPlan imports the batch staged under sessionID and clears it.
func (db *DB) CommitPlan(ctx context.Context, featureID, sessionID string) ([]*models.Task, error) {
	batch := db.Staging.GetAndClear(sessionID)
	if len(batch) == 0 {
		return []*models.Task{}, nil
	}
	return db.ImportTasks(ctx, featureID, batch)
}
