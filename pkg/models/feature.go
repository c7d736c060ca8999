package models

import "time"

type FeatureStatus string

const (
	FeatureStatusActive    FeatureStatus = "active"
	FeatureStatusCompleted FeatureStatus = "completed"
	FeatureStatusArchived  FeatureStatus = "archived"
)

func (s FeatureStatus) Valid() bool {
	switch s {
	case FeatureStatusActive, FeatureStatusCompleted, FeatureStatusArchived:
		return true
	}
	return false
}

type Feature struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description *string       `json:"description"`
	Status      FeatureStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// TaskCounts aggregates a feature's tasks per status.
type TaskCounts struct {
	Total      int `json:"total"`
	Todo       int `json:"todo"`
	InProgress int `json:"in_progress"`
	Done       int `json:"done"`
	Blocked    int `json:"blocked"`
}

// FeatureSummary is a feature annotated with its task counts, as returned
// by list queries.
type FeatureSummary struct {
	Feature
	TaskCounts TaskCounts `json:"task_counts"`
}

// FeatureDetail additionally carries the feature's task tree.
type FeatureDetail struct {
	Feature
	TaskCounts TaskCounts  `json:"task_counts"`
	Tasks      []*TaskNode `json:"tasks"`
}
