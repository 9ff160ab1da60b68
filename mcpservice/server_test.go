package mcpservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/harborlane/mcpserver/mcp"
	"github.com/harborlane/mcpserver/sessions"
)

type addNoteArgs struct {
	Name    string `json:"name" jsonschema:"required,description=Note name"`
	Content string `json:"content" jsonschema:"required,description=Note body"`
}

func testServer() (*Server, sessions.Handler) {
	tools := NewToolsContainer(
		NewTool("add_note", func(ctx context.Context, args addNoteArgs) (*mcp.CallToolResult, error) {
			return TextResult(fmt.Sprintf("added %s", args.Name)), nil
		}, WithToolDescription("Add a note")),
	)

	resources := NewResourcesContainer()
	resources.AddStatic(StaticResource{
		Descriptor: mcp.Resource{URI: "notes://list", Name: "All notes", MimeType: "text/plain"},
		Handler: func(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
			return TextResourceResult(uri, "text/plain", "- alpha\n- beta"), nil
		},
	})
	resources.AddTemplate(TemplatedResource{
		Descriptor: mcp.ResourceTemplate{URITemplate: "notes://{name}", Name: "Note by name"},
		Handler: func(ctx context.Context, uri string, params map[string]string) (*mcp.ReadResourceResult, error) {
			return TextResourceResult(uri, "text/plain", "note "+params["name"]), nil
		},
	})

	prompts := NewPromptsContainer(StaticPrompt{
		Descriptor: mcp.Prompt{
			Name: "summarize_notes",
			Arguments: []mcp.PromptArgument{
				{Name: "style", Required: true},
			},
		},
		Handler: func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			return &mcp.GetPromptResult{
				Messages: []mcp.PromptMessage{UserMessage("Summarize in style " + req.Arguments["style"])},
			}, nil
		},
	})

	srv := NewServer(
		WithServerInfo("notes-server", "1.0.0"),
		WithToolsContainer(tools),
		WithResourcesContainer(resources),
		WithPromptsContainer(prompts),
	)
	h, _ := srv.SessionFactory()(context.Background(), nil)
	return srv, h
}

func mustParams(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	return b
}

func TestInitializeAdvertisesCapabilities(t *testing.T) {
	_, h := testServer()
	res, err := h.Initialize(context.Background(), &mcp.InitializeRequest{
		ProtocolVersion: "2024-11-05",
		ClientInfo:      mcp.Implementation{Name: "test", Version: "0"},
	})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if res.ProtocolVersion != "2024-11-05" {
		t.Errorf("supported version must be echoed, got %s", res.ProtocolVersion)
	}
	if res.ServerInfo.Name != "notes-server" {
		t.Errorf("server info not applied: %+v", res.ServerInfo)
	}
	if res.Capabilities.Tools == nil || !res.Capabilities.Tools.ListChanged {
		t.Error("tools capability must advertise listChanged")
	}
	if res.Capabilities.Resources == nil || res.Capabilities.Prompts == nil {
		t.Error("resources and prompts capabilities must be present")
	}
}

func TestInitializeUnknownVersionAnswersNewest(t *testing.T) {
	_, h := testServer()
	res, err := h.Initialize(context.Background(), &mcp.InitializeRequest{ProtocolVersion: "1999-01-01"})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if res.ProtocolVersion != mcp.LatestProtocolVersion {
		t.Fatalf("unknown version must negotiate to newest, got %s", res.ProtocolVersion)
	}
}

func TestDispatchPing(t *testing.T) {
	_, h := testServer()
	res, err := h.Dispatch(context.Background(), mcp.PingMethod, nil)
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	b, _ := json.Marshal(res)
	if string(b) != "{}" {
		t.Fatalf("ping result must be an empty object, got %s", b)
	}
}

func TestDispatchUnknownMethod(t *testing.T) {
	_, h := testServer()
	_, err := h.Dispatch(context.Background(), "tools/destroy", nil)
	if !errors.Is(err, sessions.ErrMethodNotFound) {
		t.Fatalf("want ErrMethodNotFound, got %v", err)
	}
}

func TestToolsListAndCall(t *testing.T) {
	_, h := testServer()
	ctx := context.Background()

	res, err := h.Dispatch(ctx, mcp.ToolsListMethod, nil)
	if err != nil {
		t.Fatalf("tools/list: %v", err)
	}
	list := res.(*mcp.ListToolsResult)
	if len(list.Tools) != 1 || list.Tools[0].Name != "add_note" {
		t.Fatalf("unexpected tool list: %+v", list.Tools)
	}
	schema := list.Tools[0].InputSchema
	if schema.Type != "object" || len(schema.Properties) != 2 {
		t.Fatalf("reflected schema mismatch: %+v", schema)
	}
	if schema.AdditionalProperties {
		t.Error("schema must reject additional properties by default")
	}

	call, err := h.Dispatch(ctx, mcp.ToolsCallMethod, mustParams(t, mcp.CallToolRequest{
		Name:      "add_note",
		Arguments: mustParams(t, map[string]string{"name": "alpha", "content": "hi"}),
	}))
	if err != nil {
		t.Fatalf("tools/call: %v", err)
	}
	out := call.(*mcp.CallToolResult)
	if out.IsError || out.Content[0].Text != "added alpha" {
		t.Fatalf("unexpected call result: %+v", out)
	}
}

func TestToolCallRejectsUnknownFields(t *testing.T) {
	_, h := testServer()
	call, err := h.Dispatch(context.Background(), mcp.ToolsCallMethod, mustParams(t, mcp.CallToolRequest{
		Name:      "add_note",
		Arguments: json.RawMessage(`{"name":"a","content":"b","extra":true}`),
	}))
	if err != nil {
		t.Fatalf("tools/call: %v", err)
	}
	out := call.(*mcp.CallToolResult)
	if !out.IsError {
		t.Fatal("unknown argument fields must produce a tool error result")
	}
}

func TestResourcesReadStaticAndTemplate(t *testing.T) {
	_, h := testServer()
	ctx := context.Background()

	res, err := h.Dispatch(ctx, mcp.ResourcesReadMethod, mustParams(t, mcp.ReadResourceRequest{URI: "notes://list"}))
	if err != nil {
		t.Fatalf("read static: %v", err)
	}
	static := res.(*mcp.ReadResourceResult)
	if static.Contents[0].Text != "- alpha\n- beta" {
		t.Fatalf("static content mismatch: %+v", static.Contents)
	}

	res, err = h.Dispatch(ctx, mcp.ResourcesReadMethod, mustParams(t, mcp.ReadResourceRequest{URI: "notes://alpha"}))
	if err != nil {
		t.Fatalf("read template: %v", err)
	}
	templ := res.(*mcp.ReadResourceResult)
	if templ.Contents[0].Text != "note alpha" {
		t.Fatalf("template content mismatch: %+v", templ.Contents)
	}

	if _, err := h.Dispatch(ctx, mcp.ResourcesReadMethod, mustParams(t, mcp.ReadResourceRequest{URI: "bogus://x"})); err == nil {
		t.Fatal("unknown resource must fail")
	}
}

func TestResourcesTemplatesList(t *testing.T) {
	_, h := testServer()
	res, err := h.Dispatch(context.Background(), mcp.ResourcesTemplatesListMethod, nil)
	if err != nil {
		t.Fatalf("templates/list: %v", err)
	}
	list := res.(*mcp.ListResourceTemplatesResult)
	if len(list.ResourceTemplates) != 1 || list.ResourceTemplates[0].URITemplate != "notes://{name}" {
		t.Fatalf("unexpected templates: %+v", list.ResourceTemplates)
	}
}

func TestPromptsGetValidatesRequiredArgs(t *testing.T) {
	_, h := testServer()
	ctx := context.Background()

	if _, err := h.Dispatch(ctx, mcp.PromptsGetMethod, mustParams(t, mcp.GetPromptRequest{Name: "summarize_notes"})); err == nil {
		t.Fatal("missing required argument must fail")
	}

	res, err := h.Dispatch(ctx, mcp.PromptsGetMethod, mustParams(t, mcp.GetPromptRequest{
		Name:      "summarize_notes",
		Arguments: map[string]string{"style": "brief"},
	}))
	if err != nil {
		t.Fatalf("prompts/get: %v", err)
	}
	out := res.(*mcp.GetPromptResult)
	if out.Messages[0].Content.Text != "Summarize in style brief" {
		t.Fatalf("prompt expansion mismatch: %+v", out.Messages)
	}
}

func TestDispatchInvalidParams(t *testing.T) {
	_, h := testServer()
	_, err := h.Dispatch(context.Background(), mcp.ToolsCallMethod, json.RawMessage(`{"name":42}`))
	var he *sessions.HandlerError
	if !errors.As(err, &he) || he.Code != -32602 {
		t.Fatalf("want invalid params error, got %v", err)
	}
}

func TestListPagination(t *testing.T) {
	tc := NewToolsContainer()
	defs := make([]StaticTool, 0, 7)
	for i := 0; i < 7; i++ {
		name := fmt.Sprintf("tool-%d", i)
		defs = append(defs, NewTool(name, func(ctx context.Context, args struct{}) (*mcp.CallToolResult, error) {
			return TextResult("ok"), nil
		}))
	}
	tc.Replace(defs...)
	tc.SetPageSize(3)

	var got []string
	cursor := ""
	for {
		page, err := tc.List(cursor)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		for _, tool := range page.Tools {
			got = append(got, tool.Name)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	if len(got) != 7 {
		t.Fatalf("pagination must walk all 7 tools, got %d: %v", len(got), got)
	}

	if _, err := tc.List("not-a-cursor"); err == nil {
		t.Fatal("invalid cursor must fail")
	}
}

func TestContainerChangeNotification(t *testing.T) {
	tc := NewToolsContainer()
	fired := 0
	tc.OnChange(func() { fired++ })

	tc.Add(NewTool("t1", func(ctx context.Context, args struct{}) (*mcp.CallToolResult, error) {
		return TextResult("ok"), nil
	}))
	if fired != 1 {
		t.Fatalf("add must notify once, got %d", fired)
	}
	// duplicate names are refused and do not notify
	if tc.Add(NewTool("t1", func(ctx context.Context, args struct{}) (*mcp.CallToolResult, error) {
		return TextResult("ok"), nil
	})) {
		t.Fatal("duplicate tool name must be refused")
	}
	if fired != 1 {
		t.Fatalf("refused add must not notify, got %d", fired)
	}
}

func TestMatchURITemplate(t *testing.T) {
	cases := []struct {
		template string
		uri      string
		want     map[string]string
		ok       bool
	}{
		{"notes://{name}", "notes://alpha", map[string]string{"name": "alpha"}, true},
		{"notes://{name}", "notes://", nil, false},
		{"notes://{name}", "notes://a/b", nil, false},
		{"tasks://{task_id}", "tasks://T-42", map[string]string{"task_id": "T-42"}, true},
		{"products://all", "products://all", map[string]string{}, true},
		{"products://all", "products://one", nil, false},
		{"db://{table}/{id}", "db://users/7", map[string]string{"table": "users", "id": "7"}, true},
	}
	for _, tc := range cases {
		got, ok := matchURITemplate(tc.template, tc.uri)
		if ok != tc.ok {
			t.Errorf("%s vs %s: want ok=%v, got %v", tc.template, tc.uri, tc.ok, ok)
			continue
		}
		for k, v := range tc.want {
			if got[k] != v {
				t.Errorf("%s vs %s: param %s = %q, want %q", tc.template, tc.uri, k, got[k], v)
			}
		}
	}
}
