package models

// Dependency records that TaskID is not ready until DependsOnID is done.
type Dependency struct {
	TaskID      string `json:"task_id"`
	DependsOnID string `json:"depends_on_id"`
}

// TaskImport describes one task in a bulk-import batch. Positional indices
// stand in for identifiers that do not exist yet: ParentIndex must point at
// an earlier batch entry, DependsOnIndices may point anywhere in the batch.
type TaskImport struct {
	Title            string  `json:"title"`
	Description      *string `json:"description,omitempty"`
	ParentIndex      *int    `json:"parent_index,omitempty"`
	DependsOnIndices []int   `json:"depends_on_indices,omitempty"`
}
