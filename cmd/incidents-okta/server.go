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

type createIncidentArgs struct {
	Title    string `json:"title" jsonschema:"required,description=Incident title (e.g. \"Database connection timeout\")"`
	Severity string `json:"severity,omitempty" jsonschema:"description=Severity level: \"low\" / \"medium\" / \"high\" / \"critical\""`
	Status   string `json:"status,omitempty" jsonschema:"description=Incident status: \"open\" / \"investigating\" / \"resolved\""`
}

type listIncidentsArgs struct {
	Severity string `json:"severity,omitempty" jsonschema:"description=Filter by severity; empty for all"`
	Status   string `json:"status,omitempty" jsonschema:"description=Filter by status; empty for all"`
}

// nextIncidentID returns one past the highest numeric id in the store.
func nextIncidentID(records []storage.Record) string {
	maxID := 0
	for _, r := range records {
		if n, err := strconv.Atoi(r.ID); err == nil && n > maxID {
			maxID = n
		}
	}
	return strconv.Itoa(maxID + 1)
}

func incidentJSON(rec storage.Record) map[string]string {
	return map[string]string{
		"id":       rec.ID,
		"title":    rec.Fields["title"],
		"severity": rec.Fields["severity"],
		"status":   rec.Fields["status"],
	}
}

// newServer builds the incident-tracker capability surface over the given store.
func newServer(store storage.Store) *mcpservice.Server {
	tools := mcpservice.NewToolsContainer(
		mcpservice.NewTool("create_incident", func(ctx context.Context, args createIncidentArgs) (*mcp.CallToolResult, error) {
			severity := args.Severity
			if severity == "" {
				severity = "medium"
			}
			status := args.Status
			if status == "" {
				status = "open"
			}
			records, err := store.List(ctx)
			if err != nil {
				return nil, err
			}
			id := nextIncidentID(records)
			err = store.Put(ctx, storage.Record{
				ID: id,
				Fields: map[string]string{
					"title":    args.Title,
					"severity": severity,
					"status":   status,
				},
				CreatedAt: time.Now().UTC(),
			})
			if err != nil {
				return nil, err
			}
			return mcpservice.TextResult(fmt.Sprintf(
				"Incident '%s' created with id %s (severity=%s, status=%s).",
				args.Title, id, severity, status,
			)), nil
		}, mcpservice.WithToolDescription("Create a new incident.")),

		mcpservice.NewTool("list_incidents", func(ctx context.Context, args listIncidentsArgs) (*mcp.CallToolResult, error) {
			records, err := store.List(ctx)
			if err != nil {
				return nil, err
			}
			if len(records) == 0 {
				return mcpservice.TextResult("No incidents found."), nil
			}
			var lines []string
			for _, r := range records {
				if args.Severity != "" && r.Fields["severity"] != args.Severity {
					continue
				}
				if args.Status != "" && r.Fields["status"] != args.Status {
					continue
				}
				lines = append(lines, fmt.Sprintf("- [%s] %s (%s, %s)",
					r.ID, r.Fields["title"], r.Fields["severity"], r.Fields["status"]))
			}
			if len(lines) == 0 {
				var filters []string
				if args.Severity != "" {
					filters = append(filters, fmt.Sprintf("severity='%s'", args.Severity))
				}
				if args.Status != "" {
					filters = append(filters, fmt.Sprintf("status='%s'", args.Status))
				}
				return mcpservice.TextResult(fmt.Sprintf("No incidents matching %s.",
					strings.Join(filters, ", "))), nil
			}
			return mcpservice.TextResult(fmt.Sprintf("Found %d incident(s):\n%s",
				len(lines), strings.Join(lines, "\n"))), nil
		}, mcpservice.WithToolDescription("List incidents, optionally filtered by severity or status.")),
	)

	resources := mcpservice.NewResourcesContainer()
	resources.AddStatic(mcpservice.StaticResource{
		Descriptor: mcp.Resource{
			URI:         "incidents://all",
			Name:        "All incidents",
			Description: "List all incidents.",
			MimeType:    "text/plain",
		},
		Handler: func(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
			records, err := store.List(ctx)
			if err != nil {
				return nil, err
			}
			if len(records) == 0 {
				return mcpservice.TextResourceResult(uri, "text/plain", "No incidents yet."), nil
			}
			lines := make([]string, 0, len(records))
			for _, r := range records {
				lines = append(lines, fmt.Sprintf("[%s] %s — %s (%s)",
					r.ID, r.Fields["title"], r.Fields["severity"], r.Fields["status"]))
			}
			return mcpservice.TextResourceResult(uri, "text/plain", strings.Join(lines, "\n")), nil
		},
	})
	resources.AddTemplate(mcpservice.TemplatedResource{
		Descriptor: mcp.ResourceTemplate{
			URITemplate: "incidents://{incident_id}",
			Name:        "Incident by id",
			Description: "Get details for a specific incident.",
			MimeType:    "application/json",
		},
		Handler: func(ctx context.Context, uri string, params map[string]string) (*mcp.ReadResourceResult, error) {
			id := params["incident_id"]
			rec, err := store.Get(ctx, id)
			if err != nil {
				if err == storage.ErrNotFound {
					return mcpservice.TextResourceResult(uri, "text/plain",
						fmt.Sprintf("Incident '%s' not found.", id)), nil
				}
				return nil, err
			}
			doc, err := json.MarshalIndent(incidentJSON(*rec), "", "  ")
			if err != nil {
				return nil, err
			}
			return mcpservice.TextResourceResult(uri, "application/json", string(doc)), nil
		},
	})

	prompts := mcpservice.NewPromptsContainer(mcpservice.StaticPrompt{
		Descriptor: mcp.Prompt{
			Name:        "triage_incidents",
			Description: "Generate a prompt to triage and analyze incidents.",
			Arguments: []mcp.PromptArgument{
				{Name: "focus", Description: `Triage focus — "severity" for severity-based prioritization, "patterns" for root-cause pattern analysis`},
			},
		},
		Handler: func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			records, err := store.List(ctx)
			if err != nil {
				return nil, err
			}
			if len(records) == 0 {
				return &mcp.GetPromptResult{
					Messages: []mcp.PromptMessage{mcpservice.UserMessage("No incidents to triage.")},
				}, nil
			}

			incidents := make([]map[string]string, 0, len(records))
			for _, r := range records {
				incidents = append(incidents, incidentJSON(r))
			}
			incidentsText, err := json.MarshalIndent(incidents, "", "  ")
			if err != nil {
				return nil, err
			}

			instruction := "Triage these incidents by severity and recommend an action plan. " +
				"Identify which incidents need immediate attention, which can wait, " +
				"and suggest an order of resolution with reasoning."
			if req.Arguments["focus"] == "patterns" {
				instruction = "Analyze these incidents for common patterns and root causes. " +
					"Group related incidents, identify systemic issues, and suggest " +
					"preventive measures to reduce future incidents."
			}
			return &mcp.GetPromptResult{
				Messages: []mcp.PromptMessage{
					mcpservice.UserMessage(instruction + "\n\nIncident data:\n" + string(incidentsText)),
				},
			}, nil
		},
	})

	return mcpservice.NewServer(
		mcpservice.WithServerInfo("incidents", "1.0.0"),
		mcpservice.WithToolsContainer(tools),
		mcpservice.WithResourcesContainer(resources),
		mcpservice.WithPromptsContainer(prompts),
	)
}
