package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/ldi/taskdeck/internal/db"
	"github.com/ldi/taskdeck/internal/mcp"
	"github.com/ldi/taskdeck/internal/server"
	"github.com/ldi/taskdeck/pkg/models"
)

var (
	dbPath       string
	snapshotPath string
)

func main() {
	if err := execute(os.Args[1:], os.Stderr); err != nil {
		if err != flag.ErrHelp {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func execute(args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("taskdeck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&dbPath, "db-path", ".taskdeck/taskdeck.db", "Path to database file")
	fs.StringVar(&snapshotPath, "snapshot-path", ".taskdeck/snapshot.jsonl", "Path to snapshot file")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: taskdeck [flags] <command> [arguments]")
		fmt.Fprintln(stderr, "\nCommands:")
		fmt.Fprintln(stderr, "  init [dir]   Initialize a .taskdeck/ directory")
		fmt.Fprintln(stderr, "  mcp          Serve the MCP interface on stdio")
		fmt.Fprintln(stderr, "  web          Serve the read-only JSON API")
		fmt.Fprintln(stderr, "  status       Show a project summary")
		fmt.Fprintln(stderr, "  feature      Manage features (create, show, status)")
		fmt.Fprintln(stderr, "  features     List features with task counts")
		fmt.Fprintln(stderr, "  task         Manage tasks (add, show, claim, complete, block, unblock, release, depend, undepend)")
		fmt.Fprintln(stderr, "  tasks        Query tasks (list, ready, import)")
		fmt.Fprintln(stderr, "  snapshot     Export or import a JSONL snapshot")
		fmt.Fprintln(stderr, "\nFlags:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() == 0 {
		fs.Usage()
		return fmt.Errorf("no command given")
	}

	command := fs.Arg(0)
	rest := fs.Args()[1:]

	switch command {
	case "init":
		return runInit(rest)
	case "mcp":
		return runMCP(rest)
	case "web":
		return runWeb(rest)
	case "status":
		return runStatus(rest)
	case "feature":
		return runFeature(rest)
	case "features":
		return runFeatures(rest)
	case "task":
		return runTask(rest)
	case "tasks":
		return runTasks(rest)
	case "snapshot":
		return runSnapshot(rest)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func openDB(ctx context.Context) (*db.DB, error) {
	database, err := db.Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := database.Init(ctx); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runInit(args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}

	deckDir := filepath.Join(targetDir, ".taskdeck")
	if err := os.MkdirAll(deckDir, 0755); err != nil {
		return fmt.Errorf("failed to create .taskdeck directory: %w", err)
	}
	fmt.Println("✓ Created .taskdeck/ directory")

	gitignorePath := filepath.Join(deckDir, ".gitignore")
	if err := os.WriteFile(gitignorePath, []byte("taskdeck.db*\n"), 0644); err != nil {
		return fmt.Errorf("failed to create .gitignore: %w", err)
	}
	fmt.Println("✓ Created .taskdeck/.gitignore")

	// Default paths if not overridden by flags
	finalDBPath := dbPath
	if dbPath == ".taskdeck/taskdeck.db" {
		finalDBPath = filepath.Join(deckDir, "taskdeck.db")
	}

	finalSnapshotPath := snapshotPath
	if snapshotPath == ".taskdeck/snapshot.jsonl" {
		finalSnapshotPath = filepath.Join(deckDir, "snapshot.jsonl")
	}

	database, err := db.Open(finalDBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := context.Background()
	if err := database.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	fmt.Printf("✓ Initialized database at %s\n", finalDBPath)

	if _, err := os.Stat(finalSnapshotPath); err == nil {
		if err := database.ImportSnapshot(ctx, finalSnapshotPath); err != nil {
			return fmt.Errorf("failed to import snapshot: %w", err)
		}
		fmt.Printf("✓ Imported snapshot from %s\n", finalSnapshotPath)
	}

	fmt.Println("✓ Taskdeck initialized successfully")
	return nil
}

func runMCP(args []string) error {
	ctx := context.Background()
	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	database.EnableAutoSnapshot(snapshotPath)

	s := mcp.NewServer(database)
	return mcp.Serve(s)
}

func runWeb(args []string) error {
	webFlags := flag.NewFlagSet("web", flag.ContinueOnError)
	port := webFlags.String("port", "8000", "Port to listen on")
	if err := webFlags.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	srv := server.NewServer(database)
	return srv.Start(fmt.Sprintf(":%s", *port))
}

var (
	titleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	labelStyle = lipgloss.NewStyle().PaddingLeft(2)
	countStyle = lipgloss.NewStyle().Bold(true)
)

func runStatus(args []string) error {
	ctx := context.Background()
	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	features, err := database.ListFeatures(ctx, nil)
	if err != nil {
		return err
	}

	tasks, err := database.ListTasks(ctx, nil, nil)
	if err != nil {
		return err
	}

	ready, err := database.GetReadyTasks(ctx, nil)
	if err != nil {
		return err
	}

	statusCounts := make(map[models.TaskStatus]int)
	for _, t := range tasks {
		statusCounts[t.Status]++
	}

	fmt.Println(titleStyle.Render("Taskdeck Project Status"))
	fmt.Println(labelStyle.Render(fmt.Sprintf("Features:    %s", countStyle.Render(fmt.Sprintf("%d", len(features))))))
	fmt.Println(labelStyle.Render(fmt.Sprintf("Total Tasks: %s", countStyle.Render(fmt.Sprintf("%d", len(tasks))))))
	fmt.Println(labelStyle.Render(fmt.Sprintf("Ready Tasks: %s", countStyle.Render(fmt.Sprintf("%d", len(ready))))))

	fmt.Println()
	fmt.Println(titleStyle.Render("Task Breakdown"))
	fmt.Println(labelStyle.Render(fmt.Sprintf("Todo:        %d", statusCounts[models.TaskStatusTodo])))
	fmt.Println(labelStyle.Render(fmt.Sprintf("In Progress: %d", statusCounts[models.TaskStatusInProgress])))
	fmt.Println(labelStyle.Render(fmt.Sprintf("Done:        %d", statusCounts[models.TaskStatusDone])))
	fmt.Println(labelStyle.Render(fmt.Sprintf("Blocked:     %d", statusCounts[models.TaskStatusBlocked])))

	if len(ready) > 0 {
		fmt.Println()
		fmt.Println(titleStyle.Render("Next Ready Tasks"))
		for i, t := range ready {
			if i >= 5 {
				break
			}
			fmt.Println(labelStyle.Render(fmt.Sprintf("- %s (%s)", t.Title, t.FeatureName)))
		}
	}

	return nil
}

func runFeature(args []string) error {
	if len(args) == 0 {
		fmt.Println("Usage: taskdeck feature <command> [arguments]")
		fmt.Println("\nCommands:")
		fmt.Println("  create <name> [description]   Create a feature")
		fmt.Println("  show <name-or-id>             Show a feature with its task tree")
		fmt.Println("  status <name-or-id> <status>  Set a feature's status")
		return nil
	}

	ctx := context.Background()
	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	switch args[0] {
	case "create":
		if len(args) < 2 {
			return fmt.Errorf("usage: taskdeck feature create <name> [description]")
		}
		f := &models.Feature{Name: args[1]}
		if len(args) > 2 {
			f.Description = &args[2]
		}
		if err := database.CreateFeature(ctx, f); err != nil {
			return err
		}
		return printJSON(f)
	case "show":
		if len(args) < 2 {
			return fmt.Errorf("usage: taskdeck feature show <name-or-id>")
		}
		detail, err := database.GetFeatureDetail(ctx, args[1])
		if err != nil {
			return err
		}
		return printJSON(detail)
	case "status":
		if len(args) < 3 {
			return fmt.Errorf("usage: taskdeck feature status <name-or-id> <status>")
		}
		id, err := database.ResolveFeatureID(ctx, args[1])
		if err != nil {
			return err
		}
		f, err := database.GetFeature(ctx, id)
		if err != nil {
			return err
		}
		if f == nil {
			return &db.NotFoundError{Kind: "feature", Ref: args[1]}
		}
		f.Status = models.FeatureStatus(args[2])
		if err := database.UpdateFeature(ctx, f); err != nil {
			return err
		}
		return printJSON(f)
	default:
		return fmt.Errorf("unknown feature command: %s", args[0])
	}
}

func runFeatures(args []string) error {
	listFlags := flag.NewFlagSet("features", flag.ContinueOnError)
	statusFilter := listFlags.String("status", "", "Filter by status (active, completed, archived)")
	if err := listFlags.Parse(args); err != nil {
		return err
	}

	var status *models.FeatureStatus
	if *statusFilter != "" {
		s := models.FeatureStatus(*statusFilter)
		status = &s
	}

	ctx := context.Background()
	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	features, err := database.ListFeatures(ctx, status)
	if err != nil {
		return err
	}
	return printJSON(features)
}

func runTask(args []string) error {
	if len(args) == 0 {
		fmt.Println("Usage: taskdeck task <command> [arguments]")
		fmt.Println("\nCommands:")
		fmt.Println("  add -f <feature> [-desc text] [-parent id] <title>")
		fmt.Println("  show <id>")
		fmt.Println("  claim [-agent name] <id>")
		fmt.Println("  complete <id>")
		fmt.Println("  block <id> <reason>")
		fmt.Println("  unblock <id>")
		fmt.Println("  release <id>")
		fmt.Println("  depend <task-id> <depends-on-id>")
		fmt.Println("  undepend <task-id> <depends-on-id>")
		return nil
	}

	ctx := context.Background()
	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	command := args[0]
	rest := args[1:]

	switch command {
	case "add":
		addFlags := flag.NewFlagSet("task add", flag.ContinueOnError)
		feature := addFlags.String("f", "", "Feature name or id")
		desc := addFlags.String("desc", "", "Task description")
		parent := addFlags.String("parent", "", "Parent task id")
		if err := addFlags.Parse(rest); err != nil {
			return err
		}
		if *feature == "" || addFlags.NArg() == 0 {
			return fmt.Errorf("usage: taskdeck task add -f <feature> [-desc text] [-parent id] <title>")
		}

		featureID, err := database.ResolveFeatureID(ctx, *feature)
		if err != nil {
			return err
		}

		t := &models.Task{
			FeatureID: featureID,
			Title:     addFlags.Arg(0),
		}
		if *desc != "" {
			t.Description = desc
		}
		if *parent != "" {
			t.ParentID = parent
		}

		if err := database.CreateTask(ctx, t); err != nil {
			return err
		}
		return printJSON(t)
	case "show":
		if len(rest) == 0 {
			return fmt.Errorf("usage: taskdeck task show <id>")
		}
		detail, err := database.GetTaskDetail(ctx, rest[0])
		if err != nil {
			return err
		}
		return printJSON(detail)
	case "claim":
		claimFlags := flag.NewFlagSet("task claim", flag.ContinueOnError)
		agent := claimFlags.String("agent", "", "Agent identifier")
		if err := claimFlags.Parse(rest); err != nil {
			return err
		}
		if claimFlags.NArg() == 0 {
			return fmt.Errorf("usage: taskdeck task claim [-agent name] <id>")
		}
		var assignee *string
		if *agent != "" {
			assignee = agent
		}
		t, err := database.ClaimTask(ctx, claimFlags.Arg(0), assignee)
		if err != nil {
			return err
		}
		return printJSON(t)
	case "complete":
		if len(rest) == 0 {
			return fmt.Errorf("usage: taskdeck task complete <id>")
		}
		t, err := database.CompleteTask(ctx, rest[0])
		if err != nil {
			return err
		}
		return printJSON(t)
	case "block":
		if len(rest) < 2 {
			return fmt.Errorf("usage: taskdeck task block <id> <reason>")
		}
		t, err := database.BlockTask(ctx, rest[0], rest[1])
		if err != nil {
			return err
		}
		return printJSON(t)
	case "unblock":
		if len(rest) == 0 {
			return fmt.Errorf("usage: taskdeck task unblock <id>")
		}
		t, err := database.UnblockTask(ctx, rest[0])
		if err != nil {
			return err
		}
		return printJSON(t)
	case "release":
		if len(rest) == 0 {
			return fmt.Errorf("usage: taskdeck task release <id>")
		}
		t, err := database.ReleaseTask(ctx, rest[0])
		if err != nil {
			return err
		}
		return printJSON(t)
	case "depend":
		if len(rest) < 2 {
			return fmt.Errorf("usage: taskdeck task depend <task-id> <depends-on-id>")
		}
		if err := database.CreateDependency(ctx, rest[0], rest[1]); err != nil {
			return err
		}
		return printJSON(models.Dependency{TaskID: rest[0], DependsOnID: rest[1]})
	case "undepend":
		if len(rest) < 2 {
			return fmt.Errorf("usage: taskdeck task undepend <task-id> <depends-on-id>")
		}
		if err := database.DeleteDependency(ctx, rest[0], rest[1]); err != nil {
			return err
		}
		fmt.Println("Dependency removed")
		return nil
	default:
		return fmt.Errorf("unknown task command: %s", command)
	}
}

func runTasks(args []string) error {
	if len(args) == 0 {
		fmt.Println("Usage: taskdeck tasks <command> [arguments]")
		fmt.Println("\nCommands:")
		fmt.Println("  list [-status s] [-feature name]   List tasks")
		fmt.Println("  ready [-f feature]                 List tasks ready to claim")
		fmt.Println("  import -f <feature>                Import a JSON array of tasks from stdin")
		return nil
	}

	ctx := context.Background()
	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	command := args[0]
	rest := args[1:]

	switch command {
	case "list":
		listFlags := flag.NewFlagSet("tasks list", flag.ContinueOnError)
		statusFilter := listFlags.String("status", "", "Filter by status (todo, in_progress, done, blocked)")
		featureFilter := listFlags.String("feature", "", "Filter by feature name")
		if err := listFlags.Parse(rest); err != nil {
			return err
		}

		var status *models.TaskStatus
		if *statusFilter != "" {
			s := models.TaskStatus(*statusFilter)
			status = &s
		}
		var featureName *string
		if *featureFilter != "" {
			featureName = featureFilter
		}

		tasks, err := database.ListTasks(ctx, status, featureName)
		if err != nil {
			return err
		}
		return printJSON(tasks)
	case "ready":
		readyFlags := flag.NewFlagSet("tasks ready", flag.ContinueOnError)
		feature := readyFlags.String("f", "", "Feature name or id")
		if err := readyFlags.Parse(rest); err != nil {
			return err
		}

		var featureID *string
		if *feature != "" {
			id, err := database.ResolveFeatureID(ctx, *feature)
			if err != nil {
				return err
			}
			featureID = &id
		}

		tasks, err := database.GetReadyTasks(ctx, featureID)
		if err != nil {
			return err
		}
		return printJSON(tasks)
	case "import":
		importFlags := flag.NewFlagSet("tasks import", flag.ContinueOnError)
		feature := importFlags.String("f", "", "Feature name or id")
		if err := importFlags.Parse(rest); err != nil {
			return err
		}
		if *feature == "" {
			return fmt.Errorf("usage: taskdeck tasks import -f <feature> < tasks.json")
		}

		featureID, err := database.ResolveFeatureID(ctx, *feature)
		if err != nil {
			return err
		}

		input, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}

		var batch []models.TaskImport
		if err := json.Unmarshal(input, &batch); err != nil {
			return &db.ValidationError{Msg: "input must be a JSON array of tasks"}
		}

		created, err := database.ImportTasks(ctx, featureID, batch)
		if err != nil {
			return err
		}
		return printJSON(created)
	default:
		return fmt.Errorf("unknown tasks command: %s", command)
	}
}

func runSnapshot(args []string) error {
	if len(args) == 0 {
		fmt.Println("Usage: taskdeck snapshot <command>")
		fmt.Println("\nCommands:")
		fmt.Println("  export   Write the current state to the snapshot file")
		fmt.Println("  import   Merge the snapshot file into the database")
		return nil
	}

	ctx := context.Background()
	database, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer database.Close()

	switch args[0] {
	case "export":
		if err := database.ExportSnapshot(ctx, snapshotPath); err != nil {
			return err
		}
		fmt.Printf("✓ Exported snapshot to %s\n", snapshotPath)
		return nil
	case "import":
		if err := database.ImportSnapshot(ctx, snapshotPath); err != nil {
			return err
		}
		fmt.Printf("✓ Imported snapshot from %s\n", snapshotPath)
		return nil
	default:
		return fmt.Errorf("unknown snapshot command: %s", args[0])
	}
}
