package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ldi/taskdeck/internal/db"
	"github.com/ldi/taskdeck/pkg/models"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewServer creates a new MCP server exposing the task tracker to agents.
func NewServer(database *db.DB) *server.MCPServer {
	s := server.NewMCPServer("Taskdeck", "0.1.0")

	// Feature Management
	s.AddTool(mcp.NewTool("create_feature",
		mcp.WithDescription("Create a new feature."),
		mcp.WithString("name", mcp.Description("Feature name"), mcp.Required()),
		mcp.WithString("description", mcp.Description("Feature description")),
	), createFeatureHandler(database))

	s.AddTool(mcp.NewTool("list_features",
		mcp.WithDescription("List features with task counts."),
		mcp.WithString("status", mcp.Description("Filter by status (active|completed|archived)")),
	), listFeaturesHandler(database))

	s.AddTool(mcp.NewTool("get_feature",
		mcp.WithDescription("Get a feature by name or id, including its task tree."),
		mcp.WithString("feature", mcp.Description("Feature name or id"), mcp.Required()),
	), getFeatureHandler(database))

	s.AddTool(mcp.NewTool("set_feature_status",
		mcp.WithDescription("Set a feature's status (active|completed|archived)."),
		mcp.WithString("feature", mcp.Description("Feature name or id"), mcp.Required()),
		mcp.WithString("status", mcp.Description("New status"), mcp.Required()),
	), setFeatureStatusHandler(database))

	// Task Management
	s.AddTool(mcp.NewTool("add_task",
		mcp.WithDescription("Add a single task to a feature."),
		mcp.WithString("feature", mcp.Description("Feature name or id"), mcp.Required()),
		mcp.WithString("title", mcp.Description("Task title"), mcp.Required()),
		mcp.WithString("description", mcp.Description("Task description")),
		mcp.WithString("parent_id", mcp.Description("Id of an existing parent task")),
	), addTaskHandler(database))

	s.AddTool(mcp.NewTool("get_task",
		mcp.WithDescription("Get a task with its depends_on and blocking edges."),
		mcp.WithString("id", mcp.Description("Task id"), mcp.Required()),
	), getTaskHandler(database))

	s.AddTool(mcp.NewTool("claim_task",
		mcp.WithDescription("Claim a todo task, moving it to in_progress."),
		mcp.WithString("id", mcp.Description("Task id"), mcp.Required()),
		mcp.WithString("agent", mcp.Description("Agent identifier")),
	), claimTaskHandler(database))

	s.AddTool(mcp.NewTool("complete_task",
		mcp.WithDescription("Complete an in_progress task."),
		mcp.WithString("id", mcp.Description("Task id"), mcp.Required()),
	), completeTaskHandler(database))

	s.AddTool(mcp.NewTool("block_task",
		mcp.WithDescription("Block a task with a reason. Works from any status."),
		mcp.WithString("id", mcp.Description("Task id"), mcp.Required()),
		mcp.WithString("reason", mcp.Description("Why the task is blocked"), mcp.Required()),
	), blockTaskHandler(database))

	s.AddTool(mcp.NewTool("unblock_task",
		mcp.WithDescription("Return a blocked task to todo."),
		mcp.WithString("id", mcp.Description("Task id"), mcp.Required()),
	), unblockTaskHandler(database))

	s.AddTool(mcp.NewTool("release_task",
		mcp.WithDescription("Release an in_progress task back to todo."),
		mcp.WithString("id", mcp.Description("Task id"), mcp.Required()),
	), releaseTaskHandler(database))

	s.AddTool(mcp.NewTool("ready_tasks",
		mcp.WithDescription("List todo tasks whose dependencies are all done."),
		mcp.WithString("feature", mcp.Description("Restrict to one feature (name or id)")),
	), readyTasksHandler(database))

	// Dependency Management
	s.AddTool(mcp.NewTool("add_dependency",
		mcp.WithDescription("Record that one task depends on another. Rejected if it would create a cycle."),
		mcp.WithString("task_id", mcp.Description("Dependent task id"), mcp.Required()),
		mcp.WithString("depends_on_id", mcp.Description("Prerequisite task id"), mcp.Required()),
	), addDependencyHandler(database))

	s.AddTool(mcp.NewTool("remove_dependency",
		mcp.WithDescription("Remove a dependency edge."),
		mcp.WithString("task_id", mcp.Description("Dependent task id"), mcp.Required()),
		mcp.WithString("depends_on_id", mcp.Description("Prerequisite task id"), mcp.Required()),
	), removeDependencyHandler(database))

	// Bulk Import
	s.AddTool(mcp.NewTool("import_tasks",
		mcp.WithDescription("Import a JSON array of task descriptors into a feature in one transaction. Descriptors may use parent_index (backward) and depends_on_indices (any position) to reference other batch entries."),
		mcp.WithString("feature", mcp.Description("Feature name or id"), mcp.Required()),
		mcp.WithString("tasks", mcp.Description("JSON array of task descriptors"), mcp.Required()),
	), importTasksHandler(database))

	// Plan Staging
	s.AddTool(mcp.NewTool("plan_task",
		mcp.WithDescription("Stage a task descriptor onto a session's plan. Returns the batch index assigned, usable as parent_index/depends_on_indices by later descriptors. Commit with 'commit_plan'."),
		mcp.WithString("title", mcp.Description("Task title"), mcp.Required()),
		mcp.WithString("description", mcp.Description("Task description")),
		mcp.WithNumber("parent_index", mcp.Description("Batch index of an earlier staged task")),
		mcp.WithArray("depends_on_indices", mcp.Description("Batch indices of tasks this one depends on")),
		mcp.WithString("session_id", mcp.Description("Session ID for staging (defaults to 'default').")),
	), planTaskHandler(database))

	s.AddTool(mcp.NewTool("list_plan",
		mcp.WithDescription("List the staged plan for a session."),
		mcp.WithString("session_id", mcp.Description("Session ID (defaults to 'default').")),
	), listPlanHandler(database))

	s.AddTool(mcp.NewTool("commit_plan",
		mcp.WithDescription("Import all staged tasks for a session into a feature as one batch."),
		mcp.WithString("feature", mcp.Description("Feature name or id"), mcp.Required()),
		mcp.WithString("session_id", mcp.Description("Session ID (defaults to 'default').")),
	), commitPlanHandler(database))

	return s
}

// Serve starts the MCP server on stdio.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func createFeatureHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		f := &models.Feature{
			Name: mcp.ParseString(request, "name", ""),
		}

		args, _ := request.Params.Arguments.(map[string]any)
		if description, ok := args["description"].(string); ok {
			f.Description = &description
		}

		if err := database.CreateFeature(ctx, f); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return jsonResult(f)
	}
}

func listFeaturesHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var status *models.FeatureStatus
		args, _ := request.Params.Arguments.(map[string]any)
		if s, ok := args["status"].(string); ok {
			fs := models.FeatureStatus(s)
			status = &fs
		}

		features, err := database.ListFeatures(ctx, status)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return jsonResult(map[string]any{"features": features})
	}
}

func getFeatureHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ref := mcp.ParseString(request, "feature", "")

		detail, err := database.GetFeatureDetail(ctx, ref)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return jsonResult(detail)
	}
}

func setFeatureStatusHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ref := mcp.ParseString(request, "feature", "")
		status := mcp.ParseString(request, "status", "")

		id, err := database.ResolveFeatureID(ctx, ref)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		f, err := database.GetFeature(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if f == nil {
			return mcp.NewToolResultError(fmt.Sprintf("feature %q not found", ref)), nil
		}

		f.Status = models.FeatureStatus(status)
		if err := database.UpdateFeature(ctx, f); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return jsonResult(f)
	}
}

func addTaskHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ref := mcp.ParseString(request, "feature", "")

		featureID, err := database.ResolveFeatureID(ctx, ref)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		t := &models.Task{
			FeatureID: featureID,
			Title:     mcp.ParseString(request, "title", ""),
		}

		args, _ := request.Params.Arguments.(map[string]any)
		if description, ok := args["description"].(string); ok {
			t.Description = &description
		}
		if parentID, ok := args["parent_id"].(string); ok {
			t.ParentID = &parentID
		}

		if err := database.CreateTask(ctx, t); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return jsonResult(t)
	}
}

func getTaskHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := mcp.ParseString(request, "id", "")

		detail, err := database.GetTaskDetail(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return jsonResult(detail)
	}
}

func claimTaskHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := mcp.ParseString(request, "id", "")

		var agent *string
		args, _ := request.Params.Arguments.(map[string]any)
		if a, ok := args["agent"].(string); ok {
			agent = &a
		}

		t, err := database.ClaimTask(ctx, id, agent)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return jsonResult(t)
	}
}

func completeTaskHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		t, err := database.CompleteTask(ctx, mcp.ParseString(request, "id", ""))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return jsonResult(t)
	}
}

func blockTaskHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := mcp.ParseString(request, "id", "")
		reason := mcp.ParseString(request, "reason", "")

		t, err := database.BlockTask(ctx, id, reason)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return jsonResult(t)
	}
}

func unblockTaskHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		t, err := database.UnblockTask(ctx, mcp.ParseString(request, "id", ""))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return jsonResult(t)
	}
}

func releaseTaskHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		t, err := database.ReleaseTask(ctx, mcp.ParseString(request, "id", ""))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return jsonResult(t)
	}
}

func readyTasksHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var featureID *string
		args, _ := request.Params.Arguments.(map[string]any)
		if ref, ok := args["feature"].(string); ok {
			id, err := database.ResolveFeatureID(ctx, ref)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			featureID = &id
		}

		tasks, err := database.GetReadyTasks(ctx, featureID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return jsonResult(map[string]any{"tasks": tasks})
	}
}

func addDependencyHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID := mcp.ParseString(request, "task_id", "")
		dependsOnID := mcp.ParseString(request, "depends_on_id", "")

		if err := database.CreateDependency(ctx, taskID, dependsOnID); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return jsonResult(models.Dependency{TaskID: taskID, DependsOnID: dependsOnID})
	}
}

func removeDependencyHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID := mcp.ParseString(request, "task_id", "")
		dependsOnID := mcp.ParseString(request, "depends_on_id", "")

		if err := database.DeleteDependency(ctx, taskID, dependsOnID); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return jsonResult(map[string]any{"removed": models.Dependency{TaskID: taskID, DependsOnID: dependsOnID}})
	}
}

func importTasksHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ref := mcp.ParseString(request, "feature", "")
		payload := mcp.ParseString(request, "tasks", "")

		featureID, err := database.ResolveFeatureID(ctx, ref)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var batch []models.TaskImport
		if err := json.Unmarshal([]byte(payload), &batch); err != nil {
			return mcp.NewToolResultError("tasks must be a JSON array of task descriptors"), nil
		}

		created, err := database.ImportTasks(ctx, featureID, batch)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return jsonResult(map[string]any{"tasks": created})
	}
}

func planTaskHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID := mcp.ParseString(request, "session_id", "default")

		item := models.TaskImport{
			Title: mcp.ParseString(request, "title", ""),
		}

		args, _ := request.Params.Arguments.(map[string]any)
		if description, ok := args["description"].(string); ok {
			item.Description = &description
		}
		if parentIndex, ok := args["parent_index"].(float64); ok {
			idx := int(parentIndex)
			item.ParentIndex = &idx
		}
		if indices, ok := args["depends_on_indices"].([]any); ok {
			for _, v := range indices {
				if n, ok := v.(float64); ok {
					item.DependsOnIndices = append(item.DependsOnIndices, int(n))
				}
			}
		}

		index := database.Staging.Add(sessionID, item)
		return jsonResult(map[string]any{"index": index, "session_id": sessionID})
	}
}

func listPlanHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID := mcp.ParseString(request, "session_id", "default")
		return jsonResult(map[string]any{"tasks": database.Staging.Peek(sessionID)})
	}
}

func commitPlanHandler(database *db.DB) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ref := mcp.ParseString(request, "feature", "")
		sessionID := mcp.ParseString(request, "session_id", "default")

		featureID, err := database.ResolveFeatureID(ctx, ref)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		created, err := database.CommitPlan(ctx, featureID, sessionID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return jsonResult(map[string]any{"tasks": created})
	}
}
