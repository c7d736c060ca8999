package models

import "time"

type TaskStatus string

const (
	TaskStatusTodo       TaskStatus = "todo"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusDone       TaskStatus = "done"
	TaskStatusBlocked    TaskStatus = "blocked"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusTodo, TaskStatusInProgress, TaskStatusDone, TaskStatusBlocked:
		return true
	}
	return false
}

type Task struct {
	ID            string     `json:"id"`
	FeatureID     string     `json:"feature_id"`
	ParentID      *string    `json:"parent_id"`
	Title         string     `json:"title"`
	Description   *string    `json:"description"`
	Status        TaskStatus `json:"status"`
	AssignedTo    *string    `json:"assigned_to"`
	BlockedReason *string    `json:"blocked_reason"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	// FeatureName is a helper field for joined queries
	FeatureName string `json:"feature_name,omitempty"`
}

// TaskDetail is a task viewed together with both directions of its
// dependency edges.
type TaskDetail struct {
	Task
	DependsOn []string `json:"depends_on"`
	Blocking  []string `json:"blocking"`
}

// TaskNode is a task as it appears in a feature's task tree: nested under
// its parent and annotated with its direct dependency ids.
type TaskNode struct {
	Task
	Dependencies []string    `json:"dependencies"`
	Children     []*TaskNode `json:"children"`
}
