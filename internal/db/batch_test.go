package db

import (
	"context"
	"errors"
	"testing"

	"github.com/ldi/taskdeck/pkg/models"
)

func intPtr(i int) *int { return &i }

func TestImportTasks(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	f := testFeature(t, db, "import")

	batch := []models.TaskImport{
		{Title: "Design schema"},
		{Title: "Write migrations", ParentIndex: intPtr(0)},
		{Title: "Wire the API", DependsOnIndices: []int{1}},
	}

	created, err := db.ImportTasks(ctx, f.ID, batch)
	if err != nil {
		t.Fatalf("Failed to import: %v", err)
	}
	if len(created) != 3 {
		t.Fatalf("Expected 3 tasks, got %d", len(created))
	}

	// 1. Batch order is preserved
	for i, want := range []string{"Design schema", "Write migrations", "Wire the API"} {
		if created[i].Title != want {
			t.Errorf("Position %d: expected %s, got %s", i, want, created[i].Title)
		}
	}

	// 2. parent_index resolved to the earlier task's id
	if created[1].ParentID == nil || *created[1].ParentID != created[0].ID {
		t.Errorf("Expected migrations under schema, got %v", created[1].ParentID)
	}

	// 3. depends_on_indices became a stored edge
	detail, err := db.GetTaskDetail(ctx, created[2].ID)
	if err != nil {
		t.Fatalf("Failed to get detail: %v", err)
	}
	if len(detail.DependsOn) != 1 || detail.DependsOn[0] != created[1].ID {
		t.Errorf("Expected API to depend on migrations, got %v", detail.DependsOn)
	}
}

func TestImportTasksForwardDependency(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	f := testFeature(t, db, "forward")

	batch := []models.TaskImport{
		{Title: "first", DependsOnIndices: []int{1}},
		{Title: "second"},
	}

	created, err := db.ImportTasks(ctx, f.ID, batch)
	if err != nil {
		t.Fatalf("Failed to import: %v", err)
	}

	detail, err := db.GetTaskDetail(ctx, created[0].ID)
	if err != nil {
		t.Fatalf("Failed to get detail: %v", err)
	}
	if len(detail.DependsOn) != 1 || detail.DependsOn[0] != created[1].ID {
		t.Errorf("Expected forward dependency to resolve, got %v", detail.DependsOn)
	}
}

func TestImportTasksIgnoresBadIndices(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	f := testFeature(t, db, "bad-indices")

	batch := []models.TaskImport{
		// parent_index pointing at itself or forward is treated as absent
		{Title: "a", ParentIndex: intPtr(0)},
		{Title: "b", ParentIndex: intPtr(2)},
		// out-of-range dependency indices are skipped
		{Title: "c", DependsOnIndices: []int{-1, 99, 0}},
	}

	created, err := db.ImportTasks(ctx, f.ID, batch)
	if err != nil {
		t.Fatalf("Failed to import: %v", err)
	}

	if created[0].ParentID != nil {
		t.Errorf("Expected no parent for a, got %v", created[0].ParentID)
	}
	if created[1].ParentID != nil {
		t.Errorf("Expected no parent for b, got %v", created[1].ParentID)
	}

	detail, err := db.GetTaskDetail(ctx, created[2].ID)
	if err != nil {
		t.Fatalf("Failed to get detail: %v", err)
	}
	if len(detail.DependsOn) != 1 || detail.DependsOn[0] != created[0].ID {
		t.Errorf("Expected only the in-range dependency, got %v", detail.DependsOn)
	}
}

func TestImportTasksRejectsCycle(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	f := testFeature(t, db, "cyclic")

	batch := []models.TaskImport{
		{Title: "a", DependsOnIndices: []int{1}},
		{Title: "b", DependsOnIndices: []int{0}},
	}

	_, err := db.ImportTasks(ctx, f.ID, batch)
	if !errors.Is(err, ErrCycle) {
		t.Fatalf("Expected cycle error, got: %v", err)
	}

	// Nothing was written
	tasks, err := db.ListTasks(ctx, nil, nil)
	if err != nil {
		t.Fatalf("Failed to list tasks: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("Expected no tasks after rejected batch, got %d", len(tasks))
	}
}

func TestImportTasksMissingFeature(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	batch := []models.TaskImport{
		{Title: "fine"},
		{Title: "also fine"},
	}

	_, err := db.ImportTasks(ctx, "no-such-feature", batch)
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("Expected not found error, got: %v", err)
	}

	tasks, err := db.ListTasks(ctx, nil, nil)
	if err != nil {
		t.Fatalf("Failed to list tasks: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("Expected no tasks, got %d", len(tasks))
	}
}

func TestBatchHasCycle(t *testing.T) {
	cases := []struct {
		name  string
		batch []models.TaskImport
		want  bool
	}{
		{"empty", nil, false},
		{"chain", []models.TaskImport{
			{Title: "a"},
			{Title: "b", DependsOnIndices: []int{0}},
			{Title: "c", DependsOnIndices: []int{1}},
		}, false},
		{"self", []models.TaskImport{
			{Title: "a", DependsOnIndices: []int{0}},
		}, true},
		{"two-cycle", []models.TaskImport{
			{Title: "a", DependsOnIndices: []int{1}},
			{Title: "b", DependsOnIndices: []int{0}},
		}, true},
		{"long-cycle", []models.TaskImport{
			{Title: "a", DependsOnIndices: []int{1}},
			{Title: "b", DependsOnIndices: []int{2}},
			{Title: "c", DependsOnIndices: []int{0}},
		}, true},
		{"out-of-range-ignored", []models.TaskImport{
			{Title: "a", DependsOnIndices: []int{5, -2}},
		}, false},
		{"diamond", []models.TaskImport{
			{Title: "a"},
			{Title: "b", DependsOnIndices: []int{0}},
			{Title: "c", DependsOnIndices: []int{0}},
			{Title: "d", DependsOnIndices: []int{1, 2}},
		}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := batchHasCycle(tc.batch); got != tc.want {
				t.Errorf("batchHasCycle = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCommitPlan(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	f := testFeature(t, db, "plans")

	// 1. Empty plan commits to nothing
	created, err := db.CommitPlan(ctx, f.ID, "empty-session")
	if err != nil {
		t.Fatalf("Failed to commit empty plan: %v", err)
	}
	if len(created) != 0 {
		t.Errorf("Expected no tasks, got %d", len(created))
	}

	// 2. Staged descriptors import in order with their references intact
	idx := db.Staging.Add("s1", models.TaskImport{Title: "root"})
	db.Staging.Add("s1", models.TaskImport{Title: "child", ParentIndex: intPtr(idx)})

	created, err = db.CommitPlan(ctx, f.ID, "s1")
	if err != nil {
		t.Fatalf("Failed to commit plan: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("Expected 2 tasks, got %d", len(created))
	}
	if created[1].ParentID == nil || *created[1].ParentID != created[0].ID {
		t.Errorf("Expected child under root, got %v", created[1].ParentID)
	}

	// 3. The plan is cleared by the commit
	if staged := db.Staging.Peek("s1"); len(staged) != 0 {
		t.Errorf("Expected plan to be cleared, got %d items", len(staged))
	}
}
