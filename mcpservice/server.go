package mcpservice

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/harborlane/mcpserver/internal/jsonrpc"
	"github.com/harborlane/mcpserver/mcp"
	"github.com/harborlane/mcpserver/sessions"
)

// Server holds the shared capability containers advertised to every session.
// Per-session protocol state lives in the handler built by SessionFactory,
// so one Server safely backs many concurrent sessions.
type Server struct {
	info         mcp.Implementation
	instructions string
	log          *slog.Logger

	tools     *ToolsContainer
	resources *ResourcesContainer
	prompts   *PromptsContainer
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerInfo sets the implementation identity reported on initialize.
func WithServerInfo(name, version string) ServerOption {
	return func(s *Server) { s.info = mcp.Implementation{Name: name, Version: version} }
}

// WithInstructions sets the free-text usage instructions reported on
// initialize.
func WithInstructions(instructions string) ServerOption {
	return func(s *Server) { s.instructions = instructions }
}

// WithToolsContainer attaches the tools capability.
func WithToolsContainer(tc *ToolsContainer) ServerOption {
	return func(s *Server) { s.tools = tc }
}

// WithResourcesContainer attaches the resources capability.
func WithResourcesContainer(rc *ResourcesContainer) ServerOption {
	return func(s *Server) { s.resources = rc }
}

// WithPromptsContainer attaches the prompts capability.
func WithPromptsContainer(pc *PromptsContainer) ServerOption {
	return func(s *Server) { s.prompts = pc }
}

// WithLogger sets the logger used for dispatch diagnostics.
func WithLogger(log *slog.Logger) ServerOption {
	return func(s *Server) { s.log = log }
}

// NewServer constructs a Server from the given options.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		info: mcp.Implementation{Name: "mcp-server", Version: "0.0.0"},
		log:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SessionFactory returns the factory handed to the session registry. Each
// session gets a fresh handler bound to the shared containers.
func (s *Server) SessionFactory() sessions.Factory {
	return func(ctx context.Context, sess *sessions.Session) (sessions.Handler, error) {
		return &sessionHandler{srv: s}, nil
	}
}

// ConnectRegistry wires container mutations to list_changed notifications
// broadcast across every live session.
func (s *Server) ConnectRegistry(reg *sessions.Registry) {
	if s.tools != nil {
		s.tools.OnChange(func() {
			reg.Broadcast(context.Background(), mcp.ToolsListChangedNotificationMethod, nil)
		})
	}
	if s.resources != nil {
		s.resources.OnChange(func() {
			reg.Broadcast(context.Background(), mcp.ResourcesListChangedNotificationMethod, nil)
		})
	}
	if s.prompts != nil {
		s.prompts.OnChange(func() {
			reg.Broadcast(context.Background(), mcp.PromptsListChangedNotificationMethod, nil)
		})
	}
}

func (s *Server) capabilities() mcp.ServerCapabilities {
	var caps mcp.ServerCapabilities
	if s.tools != nil {
		caps.Tools = &mcp.ToolsServerCapability{ListChanged: true}
	}
	if s.resources != nil {
		caps.Resources = &mcp.ResourcesServerCapability{ListChanged: true}
	}
	if s.prompts != nil {
		caps.Prompts = &mcp.PromptsServerCapability{ListChanged: true}
	}
	return caps
}

// sessionHandler is the per-session dispatch surface over the shared Server.
type sessionHandler struct {
	srv *Server
}

var _ sessions.Handler = (*sessionHandler)(nil)

func (h *sessionHandler) Initialize(ctx context.Context, req *mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	return &mcp.InitializeResult{
		ProtocolVersion: mcp.NegotiateProtocolVersion(req.ProtocolVersion),
		Capabilities:    h.srv.capabilities(),
		ServerInfo:      h.srv.info,
		Instructions:    h.srv.instructions,
	}, nil
}

// listParams is the shared optional-cursor params shape of the list methods.
type listParams struct {
	Cursor string `json:"cursor,omitempty"`
}

func (h *sessionHandler) Dispatch(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case mcp.PingMethod:
		return struct{}{}, nil

	case mcp.ToolsListMethod:
		if h.srv.tools == nil {
			return nil, sessions.ErrMethodNotFound
		}
		var p listParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return h.srv.tools.List(p.Cursor)

	case mcp.ToolsCallMethod:
		if h.srv.tools == nil {
			return nil, sessions.ErrMethodNotFound
		}
		var p mcp.CallToolRequest
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return h.srv.tools.Call(ctx, &p)

	case mcp.ResourcesListMethod:
		if h.srv.resources == nil {
			return nil, sessions.ErrMethodNotFound
		}
		var p listParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return h.srv.resources.List(p.Cursor)

	case mcp.ResourcesTemplatesListMethod:
		if h.srv.resources == nil {
			return nil, sessions.ErrMethodNotFound
		}
		var p listParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return h.srv.resources.ListTemplates(p.Cursor)

	case mcp.ResourcesReadMethod:
		if h.srv.resources == nil {
			return nil, sessions.ErrMethodNotFound
		}
		var p mcp.ReadResourceRequest
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		if p.URI == "" {
			return nil, &sessions.HandlerError{Code: jsonrpc.ErrorCodeInvalidParams, Message: "missing resource uri"}
		}
		return h.srv.resources.Read(ctx, p.URI)

	case mcp.PromptsListMethod:
		if h.srv.prompts == nil {
			return nil, sessions.ErrMethodNotFound
		}
		var p listParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return h.srv.prompts.List(p.Cursor)

	case mcp.PromptsGetMethod:
		if h.srv.prompts == nil {
			return nil, sessions.ErrMethodNotFound
		}
		var p mcp.GetPromptRequest
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return h.srv.prompts.Get(ctx, &p)
	}

	return nil, sessions.ErrMethodNotFound
}

func (h *sessionHandler) DispatchNotification(ctx context.Context, method string, params json.RawMessage) error {
	switch method {
	case mcp.InitializedNotificationMethod:
		h.srv.log.DebugContext(ctx, "session.initialized")
		return nil
	}
	return sessions.ErrMethodNotFound
}

func (h *sessionHandler) Close(ctx context.Context) error { return nil }

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &sessions.HandlerError{
			Code:    jsonrpc.ErrorCodeInvalidParams,
			Message: fmt.Sprintf("invalid params: %v", err),
		}
	}
	return nil
}
