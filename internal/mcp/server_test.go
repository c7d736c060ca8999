package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/ldi/taskdeck/internal/db"
	"github.com/ldi/taskdeck/pkg/models"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func testServer(t *testing.T) (*server.MCPServer, *db.DB) {
	t.Helper()

	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := database.Init(context.Background()); err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}

	return NewServer(database), database
}

func callTool(t *testing.T, s *server.MCPServer, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()

	tool := s.GetTool(name)
	if tool == nil {
		t.Fatalf("Tool %s not found", name)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := tool.Handler(context.Background(), req)
	if err != nil {
		t.Fatalf("Handler %s failed: %v", name, err)
	}
	return result
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	return result.Content[0].(mcp.TextContent).Text
}

func TestFeatureTools(t *testing.T) {
	s, database := testServer(t)
	ctx := context.Background()

	t.Run("create_feature", func(t *testing.T) {
		result := callTool(t, s, "create_feature", map[string]interface{}{
			"name":        "auth",
			"description": "authentication work",
		})
		if result.IsError {
			t.Fatalf("Tool returned error: %v", result.Content[0])
		}

		f, err := database.GetFeatureByName(ctx, "auth")
		if err != nil {
			t.Fatalf("Failed to get feature: %v", err)
		}
		if f == nil {
			t.Fatal("Feature not found in DB")
		}
		if f.Description == nil || *f.Description != "authentication work" {
			t.Errorf("Expected description, got %v", f.Description)
		}
	})

	t.Run("list_features", func(t *testing.T) {
		result := callTool(t, s, "list_features", map[string]interface{}{})
		if result.IsError {
			t.Fatalf("Tool returned error: %v", result.Content[0])
		}

		var resp struct {
			Features []interface{} `json:"features"`
		}
		if err := json.Unmarshal([]byte(resultText(t, result)), &resp); err != nil {
			t.Fatalf("Failed to unmarshal response: %v", err)
		}
		if len(resp.Features) != 1 {
			t.Errorf("Expected 1 feature, got %d", len(resp.Features))
		}
	})

	t.Run("get_feature", func(t *testing.T) {
		result := callTool(t, s, "get_feature", map[string]interface{}{
			"feature": "auth",
		})
		if result.IsError {
			t.Fatalf("Tool returned error: %v", result.Content[0])
		}

		var detail models.FeatureDetail
		if err := json.Unmarshal([]byte(resultText(t, result)), &detail); err != nil {
			t.Fatalf("Failed to unmarshal response: %v", err)
		}
		if detail.Name != "auth" {
			t.Errorf("Expected auth, got %s", detail.Name)
		}
	})

	t.Run("get_feature_missing", func(t *testing.T) {
		result := callTool(t, s, "get_feature", map[string]interface{}{
			"feature": "no-such-feature",
		})
		if !result.IsError {
			t.Fatal("Expected error for missing feature")
		}
	})

	t.Run("set_feature_status", func(t *testing.T) {
		result := callTool(t, s, "set_feature_status", map[string]interface{}{
			"feature": "auth",
			"status":  "completed",
		})
		if result.IsError {
			t.Fatalf("Tool returned error: %v", result.Content[0])
		}

		f, err := database.GetFeatureByName(ctx, "auth")
		if err != nil {
			t.Fatalf("Failed to get feature: %v", err)
		}
		if f.Status != models.FeatureStatusCompleted {
			t.Errorf("Expected completed, got %s", f.Status)
		}
	})
}

func TestTaskTools(t *testing.T) {
	s, database := testServer(t)
	ctx := context.Background()

	callTool(t, s, "create_feature", map[string]interface{}{"name": "pipeline"})

	var taskID string

	t.Run("add_task", func(t *testing.T) {
		result := callTool(t, s, "add_task", map[string]interface{}{
			"feature":     "pipeline",
			"title":       "build the worker",
			"description": "pull jobs off the queue",
		})
		if result.IsError {
			t.Fatalf("Tool returned error: %v", result.Content[0])
		}

		var task models.Task
		if err := json.Unmarshal([]byte(resultText(t, result)), &task); err != nil {
			t.Fatalf("Failed to unmarshal response: %v", err)
		}
		if task.Status != models.TaskStatusTodo {
			t.Errorf("Expected todo, got %s", task.Status)
		}
		taskID = task.ID
	})

	t.Run("claim_task", func(t *testing.T) {
		result := callTool(t, s, "claim_task", map[string]interface{}{
			"id":    taskID,
			"agent": "worker-1",
		})
		if result.IsError {
			t.Fatalf("Tool returned error: %v", result.Content[0])
		}

		var task models.Task
		if err := json.Unmarshal([]byte(resultText(t, result)), &task); err != nil {
			t.Fatalf("Failed to unmarshal response: %v", err)
		}
		if task.Status != models.TaskStatusInProgress {
			t.Errorf("Expected in_progress, got %s", task.Status)
		}
		if task.AssignedTo == nil || *task.AssignedTo != "worker-1" {
			t.Errorf("Expected worker-1, got %v", task.AssignedTo)
		}
	})

	t.Run("claim_task_twice", func(t *testing.T) {
		result := callTool(t, s, "claim_task", map[string]interface{}{
			"id": taskID,
		})
		if !result.IsError {
			t.Fatal("Expected error for double claim")
		}
		if !strings.Contains(resultText(t, result), "not available") {
			t.Errorf("Unexpected error text: %s", resultText(t, result))
		}
	})

	t.Run("complete_task", func(t *testing.T) {
		result := callTool(t, s, "complete_task", map[string]interface{}{
			"id": taskID,
		})
		if result.IsError {
			t.Fatalf("Tool returned error: %v", result.Content[0])
		}

		task, err := database.GetTask(ctx, taskID)
		if err != nil {
			t.Fatalf("Failed to get task: %v", err)
		}
		if task.Status != models.TaskStatusDone {
			t.Errorf("Expected done, got %s", task.Status)
		}
	})

	t.Run("block_and_unblock", func(t *testing.T) {
		result := callTool(t, s, "add_task", map[string]interface{}{
			"feature": "pipeline",
			"title":   "stuck task",
		})
		var task models.Task
		if err := json.Unmarshal([]byte(resultText(t, result)), &task); err != nil {
			t.Fatalf("Failed to unmarshal response: %v", err)
		}

		result = callTool(t, s, "block_task", map[string]interface{}{
			"id":     task.ID,
			"reason": "waiting on infra",
		})
		if result.IsError {
			t.Fatalf("Tool returned error: %v", result.Content[0])
		}

		result = callTool(t, s, "unblock_task", map[string]interface{}{
			"id": task.ID,
		})
		if result.IsError {
			t.Fatalf("Tool returned error: %v", result.Content[0])
		}

		fetched, err := database.GetTask(ctx, task.ID)
		if err != nil {
			t.Fatalf("Failed to get task: %v", err)
		}
		if fetched.Status != models.TaskStatusTodo || fetched.BlockedReason != nil {
			t.Errorf("Expected clean todo, got %+v", fetched)
		}
	})
}

func TestDependencyAndReadyTools(t *testing.T) {
	s, database := testServer(t)
	ctx := context.Background()

	callTool(t, s, "create_feature", map[string]interface{}{"name": "graph"})

	addTask := func(title string) string {
		result := callTool(t, s, "add_task", map[string]interface{}{
			"feature": "graph",
			"title":   title,
		})
		var task models.Task
		if err := json.Unmarshal([]byte(resultText(t, result)), &task); err != nil {
			t.Fatalf("Failed to unmarshal task: %v", err)
		}
		return task.ID
	}

	a := addTask("a")
	b := addTask("b")

	t.Run("add_dependency", func(t *testing.T) {
		result := callTool(t, s, "add_dependency", map[string]interface{}{
			"task_id":       a,
			"depends_on_id": b,
		})
		if result.IsError {
			t.Fatalf("Tool returned error: %v", result.Content[0])
		}
	})

	t.Run("cycle_rejected", func(t *testing.T) {
		result := callTool(t, s, "add_dependency", map[string]interface{}{
			"task_id":       b,
			"depends_on_id": a,
		})
		if !result.IsError {
			t.Fatal("Expected cycle error")
		}
		if !strings.Contains(resultText(t, result), "cycle") {
			t.Errorf("Unexpected error text: %s", resultText(t, result))
		}
	})

	t.Run("ready_tasks", func(t *testing.T) {
		result := callTool(t, s, "ready_tasks", map[string]interface{}{
			"feature": "graph",
		})
		if result.IsError {
			t.Fatalf("Tool returned error: %v", result.Content[0])
		}

		var resp struct {
			Tasks []models.Task `json:"tasks"`
		}
		if err := json.Unmarshal([]byte(resultText(t, result)), &resp); err != nil {
			t.Fatalf("Failed to unmarshal response: %v", err)
		}
		if len(resp.Tasks) != 1 || resp.Tasks[0].ID != b {
			t.Errorf("Expected only b ready, got %+v", resp.Tasks)
		}
	})

	t.Run("remove_dependency", func(t *testing.T) {
		result := callTool(t, s, "remove_dependency", map[string]interface{}{
			"task_id":       a,
			"depends_on_id": b,
		})
		if result.IsError {
			t.Fatalf("Tool returned error: %v", result.Content[0])
		}

		detail, err := database.GetTaskDetail(ctx, a)
		if err != nil {
			t.Fatalf("Failed to get detail: %v", err)
		}
		if len(detail.DependsOn) != 0 {
			t.Errorf("Expected no dependencies, got %v", detail.DependsOn)
		}
	})
}

func TestImportTool(t *testing.T) {
	s, database := testServer(t)
	ctx := context.Background()

	callTool(t, s, "create_feature", map[string]interface{}{"name": "bulk"})

	t.Run("import_tasks", func(t *testing.T) {
		payload := `[
			{"title": "schema"},
			{"title": "migrations", "parent_index": 0},
			{"title": "api", "depends_on_indices": [1]}
		]`
		result := callTool(t, s, "import_tasks", map[string]interface{}{
			"feature": "bulk",
			"tasks":   payload,
		})
		if result.IsError {
			t.Fatalf("Tool returned error: %v", result.Content[0])
		}

		var resp struct {
			Tasks []models.Task `json:"tasks"`
		}
		if err := json.Unmarshal([]byte(resultText(t, result)), &resp); err != nil {
			t.Fatalf("Failed to unmarshal response: %v", err)
		}
		if len(resp.Tasks) != 3 {
			t.Fatalf("Expected 3 tasks, got %d", len(resp.Tasks))
		}
		if resp.Tasks[1].ParentID == nil || *resp.Tasks[1].ParentID != resp.Tasks[0].ID {
			t.Errorf("Expected migrations under schema")
		}

		detail, err := database.GetTaskDetail(ctx, resp.Tasks[2].ID)
		if err != nil {
			t.Fatalf("Failed to get detail: %v", err)
		}
		if len(detail.DependsOn) != 1 || detail.DependsOn[0] != resp.Tasks[1].ID {
			t.Errorf("Expected api to depend on migrations, got %v", detail.DependsOn)
		}
	})

	t.Run("import_rejects_non_array", func(t *testing.T) {
		result := callTool(t, s, "import_tasks", map[string]interface{}{
			"feature": "bulk",
			"tasks":   `{"title": "not an array"}`,
		})
		if !result.IsError {
			t.Fatal("Expected error for non-array payload")
		}
	})
}

func TestPlanTools(t *testing.T) {
	s, database := testServer(t)
	ctx := context.Background()

	callTool(t, s, "create_feature", map[string]interface{}{"name": "planned"})

	// 1. Stage two tasks, child referencing the parent's returned index
	result := callTool(t, s, "plan_task", map[string]interface{}{
		"title":      "root",
		"session_id": "s1",
	})
	if result.IsError {
		t.Fatalf("Tool returned error: %v", result.Content[0])
	}
	var staged struct {
		Index int `json:"index"`
	}
	if err := json.Unmarshal([]byte(resultText(t, result)), &staged); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if staged.Index != 0 {
		t.Errorf("Expected index 0, got %d", staged.Index)
	}

	result = callTool(t, s, "plan_task", map[string]interface{}{
		"title":        "child",
		"parent_index": float64(staged.Index),
		"session_id":   "s1",
	})
	if result.IsError {
		t.Fatalf("Tool returned error: %v", result.Content[0])
	}

	// 2. The plan is visible before committing
	result = callTool(t, s, "list_plan", map[string]interface{}{"session_id": "s1"})
	var plan struct {
		Tasks []models.TaskImport `json:"tasks"`
	}
	if err := json.Unmarshal([]byte(resultText(t, result)), &plan); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if len(plan.Tasks) != 2 {
		t.Fatalf("Expected 2 staged tasks, got %d", len(plan.Tasks))
	}

	// 3. Commit writes the batch and clears the plan
	result = callTool(t, s, "commit_plan", map[string]interface{}{
		"feature":    "planned",
		"session_id": "s1",
	})
	if result.IsError {
		t.Fatalf("Tool returned error: %v", result.Content[0])
	}

	tasks, err := database.ListTasks(ctx, nil, nil)
	if err != nil {
		t.Fatalf("Failed to list tasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Errorf("Expected 2 tasks after commit, got %d", len(tasks))
	}

	result = callTool(t, s, "list_plan", map[string]interface{}{"session_id": "s1"})
	if err := json.Unmarshal([]byte(resultText(t, result)), &plan); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if len(plan.Tasks) != 0 {
		t.Errorf("Expected empty plan after commit, got %d", len(plan.Tasks))
	}
}
