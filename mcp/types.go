// Package mcp defines the Model Context Protocol types exchanged between
// clients and servers: lifecycle, tools, resources, and prompts.
package mcp

import "encoding/json"

// Method names spoken over the protocol.
const (
	InitializeMethod              = "initialize"
	InitializedNotificationMethod = "notifications/initialized"
	PingMethod                    = "ping"

	ToolsListMethod = "tools/list"
	ToolsCallMethod = "tools/call"

	ResourcesListMethod          = "resources/list"
	ResourcesTemplatesListMethod = "resources/templates/list"
	ResourcesReadMethod          = "resources/read"

	PromptsListMethod = "prompts/list"
	PromptsGetMethod  = "prompts/get"

	ToolsListChangedNotificationMethod     = "notifications/tools/list_changed"
	ResourcesListChangedNotificationMethod = "notifications/resources/list_changed"
	PromptsListChangedNotificationMethod   = "notifications/prompts/list_changed"
)

// SupportedProtocolVersions lists the protocol revisions this implementation
// speaks, newest first. Initialize echoes the client's requested version when
// it is supported and answers with the newest version otherwise.
var SupportedProtocolVersions = []string{"2025-06-18", "2025-03-26", "2024-11-05"}

// LatestProtocolVersion is the newest supported protocol revision.
const LatestProtocolVersion = "2025-06-18"

// Implementation identifies a client or server implementation.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Title   string `json:"title,omitempty"`
}

// ClientCapabilities carries the capability sets offered by a client. The
// server treats them as opaque; they are retained for diagnostics.
type ClientCapabilities map[string]json.RawMessage

// ServerCapabilities advertises the capability sets offered by a server.
type ServerCapabilities struct {
	Tools     *ToolsServerCapability     `json:"tools,omitempty"`
	Resources *ResourcesServerCapability `json:"resources,omitempty"`
	Prompts   *PromptsServerCapability   `json:"prompts,omitempty"`
}

type ToolsServerCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

type ResourcesServerCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

type PromptsServerCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// InitializeRequest is the params payload of the initialize request.
type InitializeRequest struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities,omitempty"`
	ClientInfo      Implementation     `json:"clientInfo"`
}

// InitializeResult is the result payload of the initialize response.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// NegotiateProtocolVersion picks the protocol version to answer with for the
// version requested by a client.
func NegotiateProtocolVersion(requested string) string {
	for _, v := range SupportedProtocolVersions {
		if v == requested {
			return v
		}
	}
	return LatestProtocolVersion
}

// Tool describes a callable tool.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema ToolInputSchema `json:"inputSchema"`
}

// ToolInputSchema is the simplified JSON-Schema object shape used for tool
// arguments.
type ToolInputSchema struct {
	Type                 string                    `json:"type"`
	Properties           map[string]SchemaProperty `json:"properties"`
	Required             []string                  `json:"required,omitempty"`
	AdditionalProperties bool                      `json:"additionalProperties"`
}

// SchemaProperty is one property within a ToolInputSchema.
type SchemaProperty struct {
	Type        string                    `json:"type,omitempty"`
	Description string                    `json:"description,omitempty"`
	Enum        []any                     `json:"enum,omitempty"`
	Default     any                       `json:"default,omitempty"`
	Items       *SchemaProperty           `json:"items,omitempty"`
	Properties  map[string]SchemaProperty `json:"properties,omitempty"`
}

// ListToolsResult is the result of tools/list.
type ListToolsResult struct {
	Tools      []Tool `json:"tools"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// CallToolRequest is the params payload of tools/call.
type CallToolRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult is the result of tools/call.
type CallToolResult struct {
	Content           []ContentBlock `json:"content"`
	StructuredContent map[string]any `json:"structuredContent,omitempty"`
	IsError           bool           `json:"isError,omitempty"`
}

// ContentBlock is one unit of tool or prompt content.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TextContent builds a text content block.
func TextContent(text string) ContentBlock { return ContentBlock{Type: "text", Text: text} }

// Resource describes a concrete readable resource.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceTemplate describes a parameterized resource URI.
type ResourceTemplate struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ListResourcesResult is the result of resources/list.
type ListResourcesResult struct {
	Resources  []Resource `json:"resources"`
	NextCursor string     `json:"nextCursor,omitempty"`
}

// ListResourceTemplatesResult is the result of resources/templates/list.
type ListResourceTemplatesResult struct {
	ResourceTemplates []ResourceTemplate `json:"resourceTemplates"`
	NextCursor        string             `json:"nextCursor,omitempty"`
}

// ReadResourceRequest is the params payload of resources/read.
type ReadResourceRequest struct {
	URI string `json:"uri"`
}

// ResourceContents is one block of resource content.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// ReadResourceResult is the result of resources/read.
type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}

// Prompt describes an offerable prompt template.
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// PromptArgument describes one argument accepted by a prompt.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// ListPromptsResult is the result of prompts/list.
type ListPromptsResult struct {
	Prompts    []Prompt `json:"prompts"`
	NextCursor string   `json:"nextCursor,omitempty"`
}

// GetPromptRequest is the params payload of prompts/get.
type GetPromptRequest struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

// PromptMessage is one message within an expanded prompt.
type PromptMessage struct {
	Role    string       `json:"role"`
	Content ContentBlock `json:"content"`
}

// GetPromptResult is the result of prompts/get.
type GetPromptResult struct {
	Description string          `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages"`
}
