package db

import (
	"sync"

	"github.com/ldi/taskdeck/pkg/models"
)

// StagingManager provides thread-safe in-memory storage for import plans
// that agents build up incrementally before committing them as one batch.
// Descriptors keep their staging order, so the positional references inside
// a plan mean the same thing they will mean to the importer.
type StagingManager struct {
	mu    sync.RWMutex
	plans map[string][]models.TaskImport
}

func NewStagingManager() *StagingManager {
	return &StagingManager{
		plans: make(map[string][]models.TaskImport),
	}
}

// Add appends a descriptor to a session's plan and returns the batch index
// it was assigned.
func (sm *StagingManager) Add(sessionID string, item models.TaskImport) int {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.plans[sessionID] = append(sm.plans[sessionID], item)
	return len(sm.plans[sessionID]) - 1
}

// Peek returns a copy of a session's plan without clearing it.
func (sm *StagingManager) Peek(sessionID string) []models.TaskImport {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	plan := make([]models.TaskImport, len(sm.plans[sessionID]))
	copy(plan, sm.plans[sessionID])
	return plan
}

// GetAndClear removes and returns a session's plan.
func (sm *StagingManager) GetAndClear(sessionID string) []models.TaskImport {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	plan := sm.plans[sessionID]
	delete(sm.plans, sessionID)
	return plan
}
