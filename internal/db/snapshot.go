package db

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/ldi/taskdeck/pkg/models"
)

// EnableAutoSnapshot sets up a hook that automatically exports a snapshot
// to the given path after every successful write operation.
func (db *DB) EnableAutoSnapshot(path string) {
	db.SetOnChange(func(ctx context.Context) {
		// Hooks are best-effort; an export failure must not fail the
		// original write.
		_ = db.ExportSnapshot(ctx, path)
	})
}

type snapshotMeta struct {
	RecordType string    `json:"record_type"`
	Version    int       `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
}

type snapshotFeature struct {
	RecordType  string               `json:"record_type"`
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Description *string              `json:"description"`
	Status      models.FeatureStatus `json:"status"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

type snapshotTask struct {
	RecordType    string            `json:"record_type"`
	ID            string            `json:"id"`
	FeatureName   string            `json:"feature_name"`
	ParentID      *string           `json:"parent_id"`
	Title         string            `json:"title"`
	Description   *string           `json:"description"`
	Status        models.TaskStatus `json:"status"`
	AssignedTo    *string           `json:"assigned_to"`
	BlockedReason *string           `json:"blocked_reason"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

type snapshotDependency struct {
	RecordType       string `json:"record_type"`
	TaskID           string `json:"task_id"`
	DependsOnID      string `json:"depends_on_id"`
	TaskFeature      string `json:"task_feature"`
	TaskTitle        string `json:"task_title"`
	DependsOnFeature string `json:"depends_on_feature"`
	DependsOnTitle   string `json:"depends_on_title"`
}

// ExportSnapshot writes the whole store as JSONL to the given path,
// atomically via a temporary file. Record order is meta, features, tasks,
// dependencies so imports can resolve references in a single read.
func (db *DB) ExportSnapshot(ctx context.Context, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, "snapshot-*.jsonl")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if tempFile != nil {
			tempFile.Close()
			os.Remove(tempFile.Name())
		}
	}()

	writeLine := func(record any) error {
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to marshal snapshot record: %w", err)
		}
		if _, err := tempFile.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("failed to write snapshot line: %w", err)
		}
		return nil
	}

	if err := writeLine(snapshotMeta{RecordType: "meta", Version: 1, ExportedAt: time.Now().UTC()}); err != nil {
		return err
	}

	if err := db.exportFeatures(ctx, writeLine); err != nil {
		return err
	}
	if err := db.exportTasks(ctx, writeLine); err != nil {
		return err
	}
	if err := db.exportDependencies(ctx, writeLine); err != nil {
		return err
	}

	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	filename := tempFile.Name()
	tempFile = nil // Prevent defer from removing it

	if err := os.Rename(filename, path); err != nil {
		os.Remove(filename)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

func (db *DB) exportFeatures(ctx context.Context, writeLine func(any) error) error {
	rows, err := db.QueryContext(ctx, `
		SELECT id, name, description, status, created_at, updated_at
		FROM features
		ORDER BY created_at, id
	`)
	if err != nil {
		return fmt.Errorf("failed to query features: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r := snapshotFeature{RecordType: "feature"}
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.Status, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return fmt.Errorf("failed to scan feature: %w", err)
		}
		if err := writeLine(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (db *DB) exportTasks(ctx context.Context, writeLine func(any) error) error {
	rows, err := db.QueryContext(ctx, `
		SELECT t.id, f.name, t.parent_id, t.title, t.description, t.status,
		       t.assigned_to, t.blocked_reason, t.created_at, t.updated_at
		FROM tasks t
		JOIN features f ON t.feature_id = f.id
		ORDER BY t.created_at, t.id
	`)
	if err != nil {
		return fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r := snapshotTask{RecordType: "task"}
		if err := rows.Scan(
			&r.ID, &r.FeatureName, &r.ParentID, &r.Title, &r.Description, &r.Status,
			&r.AssignedTo, &r.BlockedReason, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to scan task: %w", err)
		}
		if err := writeLine(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (db *DB) exportDependencies(ctx context.Context, writeLine func(any) error) error {
	rows, err := db.QueryContext(ctx, `
		SELECT td.task_id, td.depends_on_id,
		       tf.name, t.title, df.name, d.title
		FROM task_dependencies td
		JOIN tasks t ON td.task_id = t.id
		JOIN features tf ON t.feature_id = tf.id
		JOIN tasks d ON td.depends_on_id = d.id
		JOIN features df ON d.feature_id = df.id
		ORDER BY td.task_id, td.depends_on_id
	`)
	if err != nil {
		return fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r := snapshotDependency{RecordType: "dependency"}
		if err := rows.Scan(
			&r.TaskID, &r.DependsOnID,
			&r.TaskFeature, &r.TaskTitle, &r.DependsOnFeature, &r.DependsOnTitle,
		); err != nil {
			return fmt.Errorf("failed to scan dependency: %w", err)
		}
		if err := writeLine(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// ImportSnapshot reads a JSONL snapshot and populates the database inside a
// single transaction. Features are matched by name and tasks by
// feature/title, so snapshots can be merged into stores whose local ids
// differ; snapshot ids are remapped as records are read.
func (db *DB) ImportSnapshot(ctx context.Context, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer file.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Maps to translate snapshot IDs to local IDs
	featureIDMap := make(map[string]string)
	taskIDMap := make(map[string]string)

	// Maps to look up existing records by name
	featureNameMap := make(map[string]string)
	taskKeyMap := make(map[string]string)

	if err := func() error {
		rows, err := tx.QueryContext(ctx, "SELECT id, name FROM features")
		if err != nil {
			return fmt.Errorf("failed to query features: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id, name string
			if err := rows.Scan(&id, &name); err != nil {
				return err
			}
			featureNameMap[name] = id
		}
		return rows.Err()
	}(); err != nil {
		return err
	}

	if err := func() error {
		rows, err := tx.QueryContext(ctx, "SELECT t.id, t.title, f.name FROM tasks t JOIN features f ON t.feature_id = f.id")
		if err != nil {
			return fmt.Errorf("failed to query tasks: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id, title, featureName string
			if err := rows.Scan(&id, &title, &featureName); err != nil {
				return err
			}
			taskKeyMap[featureName+"/"+title] = id
		}
		return rows.Err()
	}(); err != nil {
		return err
	}

	// Parent links are fixed up after all tasks exist, since siblings
	// created in one batch share a timestamp and may arrive in any order.
	type parentLink struct {
		localID          string
		parentSnapshotID string
	}
	var parentLinks []parentLink

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var base struct {
			RecordType string `json:"record_type"`
		}
		if err := json.Unmarshal(line, &base); err != nil {
			return fmt.Errorf("failed to unmarshal base record: %w", err)
		}

		switch base.RecordType {
		case "meta":
			// Skip meta
		case "feature":
			var f snapshotFeature
			if err := json.Unmarshal(line, &f); err != nil {
				return fmt.Errorf("failed to unmarshal feature: %w", err)
			}

			localID, exists := featureNameMap[f.Name]
			if exists {
				_, err = tx.ExecContext(ctx, `
					UPDATE features
					SET description = ?, status = ?, created_at = ?, updated_at = ?
					WHERE id = ?`,
					f.Description, f.Status, f.CreatedAt, f.UpdatedAt, localID)
			} else {
				if f.ID == "" {
					f.ID = uuid.New().String()
				}
				localID = f.ID
				_, err = tx.ExecContext(ctx, `
					INSERT INTO features (id, name, description, status, created_at, updated_at)
					VALUES (?, ?, ?, ?, ?, ?)`,
					f.ID, f.Name, f.Description, f.Status, f.CreatedAt, f.UpdatedAt)
			}
			if err != nil {
				return fmt.Errorf("failed to sync feature %s: %w", f.Name, err)
			}
			if f.ID != "" {
				featureIDMap[f.ID] = localID
			}
			featureNameMap[f.Name] = localID

		case "task":
			var t snapshotTask
			if err := json.Unmarshal(line, &t); err != nil {
				return fmt.Errorf("failed to unmarshal task: %w", err)
			}

			featureID, ok := featureNameMap[t.FeatureName]
			if !ok {
				return fmt.Errorf("feature not found for task %s: %s", t.Title, t.FeatureName)
			}

			localID, exists := taskKeyMap[t.FeatureName+"/"+t.Title]
			if exists {
				_, err = tx.ExecContext(ctx, `
					UPDATE tasks
					SET feature_id = ?, description = ?, status = ?, assigned_to = ?,
					    blocked_reason = ?, created_at = ?, updated_at = ?
					WHERE id = ?`,
					featureID, t.Description, t.Status, t.AssignedTo,
					t.BlockedReason, t.CreatedAt, t.UpdatedAt, localID)
			} else {
				if t.ID == "" {
					t.ID = uuid.New().String()
				}
				localID = t.ID
				_, err = tx.ExecContext(ctx, `
					INSERT INTO tasks (id, feature_id, parent_id, title, description, status,
					                   assigned_to, blocked_reason, created_at, updated_at)
					VALUES (?, ?, NULL, ?, ?, ?, ?, ?, ?, ?)`,
					t.ID, featureID, t.Title, t.Description, t.Status,
					t.AssignedTo, t.BlockedReason, t.CreatedAt, t.UpdatedAt)
			}
			if err != nil {
				return fmt.Errorf("failed to sync task %s: %w", t.Title, err)
			}
			if t.ID != "" {
				taskIDMap[t.ID] = localID
			}
			taskKeyMap[t.FeatureName+"/"+t.Title] = localID

			if t.ParentID != nil {
				parentLinks = append(parentLinks, parentLink{localID: localID, parentSnapshotID: *t.ParentID})
			}

		case "dependency":
			var d snapshotDependency
			if err := json.Unmarshal(line, &d); err != nil {
				return fmt.Errorf("failed to unmarshal dependency: %w", err)
			}

			localTaskID, ok := taskIDMap[d.TaskID]
			if !ok {
				localTaskID, ok = taskKeyMap[d.TaskFeature+"/"+d.TaskTitle]
			}
			if !ok {
				return fmt.Errorf("task not found for dependency: %s/%s", d.TaskFeature, d.TaskTitle)
			}

			localDependsOnID, ok := taskIDMap[d.DependsOnID]
			if !ok {
				localDependsOnID, ok = taskKeyMap[d.DependsOnFeature+"/"+d.DependsOnTitle]
			}
			if !ok {
				return fmt.Errorf("dependency target not found: %s/%s", d.DependsOnFeature, d.DependsOnTitle)
			}

			_, err = tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO task_dependencies (task_id, depends_on_id) VALUES (?, ?)",
				localTaskID, localDependsOnID)
			if err != nil {
				return fmt.Errorf("failed to insert dependency %s -> %s: %w", d.TaskTitle, d.DependsOnTitle, err)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}

	for _, link := range parentLinks {
		parentID, ok := taskIDMap[link.parentSnapshotID]
		if !ok {
			return fmt.Errorf("parent task not found for %s: %s", link.localID, link.parentSnapshotID)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE tasks SET parent_id = ? WHERE id = ?", parentID, link.localID); err != nil {
			return fmt.Errorf("failed to link parent for %s: %w", link.localID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	db.triggerChange(ctx)
	return nil
}
