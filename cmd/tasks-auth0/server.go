package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/harborlane/mcpserver/mcp"
	"github.com/harborlane/mcpserver/mcpservice"
	"github.com/harborlane/mcpserver/storage"
)

type createTaskArgs struct {
	Title    string `json:"title" jsonschema:"required,description=Task title (e.g. \"Fix login bug\")"`
	Status   string `json:"status,omitempty" jsonschema:"description=Task status: \"todo\" / \"in_progress\" / \"done\""`
	Priority string `json:"priority,omitempty" jsonschema:"description=Priority level: \"low\" / \"medium\" / \"high\""`
}

type listTasksArgs struct {
	Status string `json:"status,omitempty" jsonschema:"description=Filter by status; empty for all"`
}

// nextTaskID returns one past the highest numeric id in the store.
func nextTaskID(records []storage.Record) string {
	maxID := 0
	for _, r := range records {
		if n, err := strconv.Atoi(r.ID); err == nil && n > maxID {
			maxID = n
		}
	}
	return strconv.Itoa(maxID + 1)
}

func taskJSON(rec storage.Record) map[string]string {
	return map[string]string{
		"id":       rec.ID,
		"title":    rec.Fields["title"],
		"status":   rec.Fields["status"],
		"priority": rec.Fields["priority"],
	}
}

// newServer builds the task-manager capability surface over the given store.
func newServer(store storage.Store) *mcpservice.Server {
	tools := mcpservice.NewToolsContainer(
		mcpservice.NewTool("create_task", func(ctx context.Context, args createTaskArgs) (*mcp.CallToolResult, error) {
			status := args.Status
			if status == "" {
				status = "todo"
			}
			priority := args.Priority
			if priority == "" {
				priority = "medium"
			}
			records, err := store.List(ctx)
			if err != nil {
				return nil, err
			}
			id := nextTaskID(records)
			err = store.Put(ctx, storage.Record{
				ID: id,
				Fields: map[string]string{
					"title":    args.Title,
					"status":   status,
					"priority": priority,
				},
				CreatedAt: time.Now().UTC(),
			})
			if err != nil {
				return nil, err
			}
			return mcpservice.TextResult(fmt.Sprintf(
				"Task '%s' created with id %s (status=%s, priority=%s).",
				args.Title, id, status, priority,
			)), nil
		}, mcpservice.WithToolDescription("Create a new task.")),

		mcpservice.NewTool("list_tasks", func(ctx context.Context, args listTasksArgs) (*mcp.CallToolResult, error) {
			records, err := store.List(ctx)
			if err != nil {
				return nil, err
			}
			if len(records) == 0 {
				return mcpservice.TextResult("No tasks found."), nil
			}
			var lines []string
			for _, r := range records {
				if args.Status != "" && r.Fields["status"] != args.Status {
					continue
				}
				lines = append(lines, fmt.Sprintf("- [%s] %s (%s, %s)",
					r.ID, r.Fields["title"], r.Fields["status"], r.Fields["priority"]))
			}
			if len(lines) == 0 {
				return mcpservice.TextResult(fmt.Sprintf("No tasks with status '%s'.", args.Status)), nil
			}
			return mcpservice.TextResult(fmt.Sprintf("Found %d task(s):\n%s",
				len(lines), strings.Join(lines, "\n"))), nil
		}, mcpservice.WithToolDescription("List tasks, optionally filtered by status.")),
	)

	resources := mcpservice.NewResourcesContainer()
	resources.AddStatic(mcpservice.StaticResource{
		Descriptor: mcp.Resource{
			URI:         "tasks://all",
			Name:        "All tasks",
			Description: "List all tasks.",
			MimeType:    "text/plain",
		},
		Handler: func(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
			records, err := store.List(ctx)
			if err != nil {
				return nil, err
			}
			if len(records) == 0 {
				return mcpservice.TextResourceResult(uri, "text/plain", "No tasks yet."), nil
			}
			lines := make([]string, 0, len(records))
			for _, r := range records {
				lines = append(lines, fmt.Sprintf("[%s] %s — %s (%s)",
					r.ID, r.Fields["title"], r.Fields["status"], r.Fields["priority"]))
			}
			return mcpservice.TextResourceResult(uri, "text/plain", strings.Join(lines, "\n")), nil
		},
	})
	resources.AddTemplate(mcpservice.TemplatedResource{
		Descriptor: mcp.ResourceTemplate{
			URITemplate: "tasks://{task_id}",
			Name:        "Task by id",
			Description: "Get details for a specific task.",
			MimeType:    "application/json",
		},
		Handler: func(ctx context.Context, uri string, params map[string]string) (*mcp.ReadResourceResult, error) {
			id := params["task_id"]
			rec, err := store.Get(ctx, id)
			if err != nil {
				if err == storage.ErrNotFound {
					return mcpservice.TextResourceResult(uri, "text/plain",
						fmt.Sprintf("Task '%s' not found.", id)), nil
				}
				return nil, err
			}
			doc, err := json.MarshalIndent(taskJSON(*rec), "", "  ")
			if err != nil {
				return nil, err
			}
			return mcpservice.TextResourceResult(uri, "application/json", string(doc)), nil
		},
	})

	prompts := mcpservice.NewPromptsContainer(mcpservice.StaticPrompt{
		Descriptor: mcp.Prompt{
			Name:        "prioritize_tasks",
			Description: "Generate a prompt to prioritize tasks.",
			Arguments: []mcp.PromptArgument{
				{Name: "focus", Description: `Prioritization focus — "urgency" for deadline-driven, "impact" for value-driven analysis`},
			},
		},
		Handler: func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			records, err := store.List(ctx)
			if err != nil {
				return nil, err
			}
			if len(records) == 0 {
				return &mcp.GetPromptResult{
					Messages: []mcp.PromptMessage{mcpservice.UserMessage("No tasks to prioritize.")},
				}, nil
			}

			tasks := make([]map[string]string, 0, len(records))
			for _, r := range records {
				tasks = append(tasks, taskJSON(r))
			}
			tasksText, err := json.MarshalIndent(tasks, "", "  ")
			if err != nil {
				return nil, err
			}

			instruction := "Analyze these tasks and prioritize them by urgency. " +
				"Consider current status, priority level, and dependencies. " +
				"Suggest which tasks to tackle first and why."
			if req.Arguments["focus"] == "impact" {
				instruction = "Analyze these tasks and prioritize them by business impact. " +
					"Consider which tasks deliver the most value, unblock other work, " +
					"or reduce technical debt. Suggest a ranked order with reasoning."
			}
			return &mcp.GetPromptResult{
				Messages: []mcp.PromptMessage{
					mcpservice.UserMessage(instruction + "\n\nTask data:\n" + string(tasksText)),
				},
			}, nil
		},
	})

	return mcpservice.NewServer(
		mcpservice.WithServerInfo("tasks", "1.0.0"),
		mcpservice.WithToolsContainer(tools),
		mcpservice.WithResourcesContainer(resources),
		mcpservice.WithPromptsContainer(prompts),
	)
}
