package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/harborlane/mcpserver/mcp"
	"github.com/harborlane/mcpserver/mcpservice"
	"github.com/harborlane/mcpserver/storage"
)

type addNoteArgs struct {
	Name    string `json:"name" jsonschema:"required,description=Short identifier for the note (e.g. \"meeting-2025-02-07\")"`
	Content string `json:"content" jsonschema:"required,description=The text content of the note"`
}

type searchNotesArgs struct {
	Query string `json:"query" jsonschema:"required,description=The search term to look for in note names and content"`
}

// newServer builds the notes capability surface over the given store.
func newServer(store storage.Store) (*mcpservice.Server, *mcpservice.ResourcesContainer) {
	tools := mcpservice.NewToolsContainer(
		mcpservice.NewTool("add_note", func(ctx context.Context, args addNoteArgs) (*mcp.CallToolResult, error) {
			err := store.Put(ctx, storage.Record{
				ID:        args.Name,
				Fields:    map[string]string{"content": args.Content},
				CreatedAt: time.Now().UTC(),
			})
			if err != nil {
				return nil, err
			}
			return mcpservice.TextResult(fmt.Sprintf("Note '%s' saved (%d chars).", args.Name, len(args.Content))), nil
		}, mcpservice.WithToolDescription("Add a new note or update an existing one.")),

		mcpservice.NewTool("search_notes", func(ctx context.Context, args searchNotesArgs) (*mcp.CallToolResult, error) {
			notes, err := store.List(ctx)
			if err != nil {
				return nil, err
			}
			q := strings.ToLower(args.Query)
			var matches []string
			for _, n := range notes {
				content := n.Fields["content"]
				if strings.Contains(strings.ToLower(n.ID), q) || strings.Contains(strings.ToLower(content), q) {
					preview := strings.ReplaceAll(content, "\n", " ")
					if len(preview) > 120 {
						preview = preview[:120]
					}
					matches = append(matches, fmt.Sprintf("- **%s**: %s", n.ID, preview))
				}
			}
			if len(matches) == 0 {
				return mcpservice.TextResult(fmt.Sprintf("No notes matching '%s'.", args.Query)), nil
			}
			return mcpservice.TextResult(fmt.Sprintf("Found %d note(s):\n%s", len(matches), strings.Join(matches, "\n"))), nil
		}, mcpservice.WithToolDescription("Search notes by keyword (case-insensitive substring match).")),
	)

	resources := mcpservice.NewResourcesContainer()
	resources.AddStatic(mcpservice.StaticResource{
		Descriptor: mcp.Resource{
			URI:         "notes://list",
			Name:        "All notes",
			Description: "List all stored notes.",
			MimeType:    "text/plain",
		},
		Handler: func(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
			notes, err := store.List(ctx)
			if err != nil {
				return nil, err
			}
			if len(notes) == 0 {
				return mcpservice.TextResourceResult(uri, "text/plain", "No notes stored yet."), nil
			}
			names := make([]string, 0, len(notes))
			for _, n := range notes {
				names = append(names, n.ID)
			}
			sort.Strings(names)
			var sb strings.Builder
			for _, name := range names {
				fmt.Fprintf(&sb, "- %s\n", name)
			}
			return mcpservice.TextResourceResult(uri, "text/plain", strings.TrimSuffix(sb.String(), "\n")), nil
		},
	})
	resources.AddTemplate(mcpservice.TemplatedResource{
		Descriptor: mcp.ResourceTemplate{
			URITemplate: "notes://{name}",
			Name:        "Note by name",
			Description: "Read the full content of a specific note.",
			MimeType:    "text/plain",
		},
		Handler: func(ctx context.Context, uri string, params map[string]string) (*mcp.ReadResourceResult, error) {
			name := params["name"]
			note, err := store.Get(ctx, name)
			if err != nil {
				if err == storage.ErrNotFound {
					return mcpservice.TextResourceResult(uri, "text/plain", fmt.Sprintf("Note '%s' not found.", name)), nil
				}
				return nil, err
			}
			return mcpservice.TextResourceResult(uri, "text/plain", note.Fields["content"]), nil
		},
	})

	prompts := mcpservice.NewPromptsContainer(mcpservice.StaticPrompt{
		Descriptor: mcp.Prompt{
			Name:        "summarize_notes",
			Description: "Generate a prompt that asks the LLM to summarize all stored notes.",
			Arguments: []mcp.PromptArgument{
				{Name: "style", Description: `Summary style — "brief" for a short overview, "detailed" for an in-depth analysis`},
			},
		},
		Handler: func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			notes, err := store.List(ctx)
			if err != nil {
				return nil, err
			}
			if len(notes) == 0 {
				return &mcp.GetPromptResult{
					Messages: []mcp.PromptMessage{mcpservice.UserMessage("There are no notes to summarize.")},
				}, nil
			}

			var sb strings.Builder
			for _, n := range notes {
				fmt.Fprintf(&sb, "## %s\n%s\n\n", n.ID, n.Fields["content"])
			}

			instruction := "Provide a brief summary of the following notes in a few sentences."
			if req.Arguments["style"] == "detailed" {
				instruction = "Provide a detailed analysis of the following notes. " +
					"Include key themes, action items, and connections between notes."
			}
			return &mcp.GetPromptResult{
				Messages: []mcp.PromptMessage{
					mcpservice.UserMessage(instruction + "\n\n" + strings.TrimSpace(sb.String())),
				},
			}, nil
		},
	})

	server := mcpservice.NewServer(
		mcpservice.WithServerInfo("notes", "1.0.0"),
		mcpservice.WithToolsContainer(tools),
		mcpservice.WithResourcesContainer(resources),
		mcpservice.WithPromptsContainer(prompts),
	)
	return server, resources
}
