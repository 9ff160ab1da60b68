package mcpservice

import (
	"context"
	"fmt"
	"sync"

	"github.com/harborlane/mcpserver/mcp"
)

// PromptHandler expands one prompt into concrete messages.
type PromptHandler func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error)

// StaticPrompt pairs a prompt descriptor with its handler.
type StaticPrompt struct {
	Descriptor mcp.Prompt
	Handler    PromptHandler
}

// PromptsContainer owns a mutable, threadsafe set of prompts shared across
// sessions.
type PromptsContainer struct {
	mu       sync.RWMutex
	prompts  []mcp.Prompt
	handlers map[string]PromptHandler

	notifier ChangeNotifier

	pageSize int
}

// NewPromptsContainer constructs a PromptsContainer with the given prompts.
func NewPromptsContainer(defs ...StaticPrompt) *PromptsContainer {
	pc := &PromptsContainer{pageSize: defaultPageSize}
	pc.Replace(defs...)
	return pc
}

// Replace atomically replaces the entire prompt set.
func (pc *PromptsContainer) Replace(defs ...StaticPrompt) {
	pc.mu.Lock()
	pc.prompts = make([]mcp.Prompt, 0, len(defs))
	pc.handlers = make(map[string]PromptHandler, len(defs))
	for _, d := range defs {
		pc.prompts = append(pc.prompts, d.Descriptor)
		if d.Handler != nil {
			pc.handlers[d.Descriptor.Name] = d.Handler
		}
	}
	pc.mu.Unlock()
	pc.notifier.Changed()
}

// OnChange registers a callback invoked whenever the prompt set mutates.
func (pc *PromptsContainer) OnChange(fn func()) { pc.notifier.Subscribe(fn) }

// List returns one page of prompt descriptors.
func (pc *PromptsContainer) List(cursor string) (*mcp.ListPromptsResult, error) {
	pc.mu.RLock()
	all := make([]mcp.Prompt, len(pc.prompts))
	copy(all, pc.prompts)
	pageSize := pc.pageSize
	pc.mu.RUnlock()

	start, end, next, err := paginate(cursor, pageSize, len(all))
	if err != nil {
		return nil, err
	}
	return &mcp.ListPromptsResult{Prompts: all[start:end], NextCursor: next}, nil
}

// Get expands the named prompt, validating required arguments first.
func (pc *PromptsContainer) Get(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	pc.mu.RLock()
	h := pc.handlers[req.Name]
	var desc *mcp.Prompt
	for i := range pc.prompts {
		if pc.prompts[i].Name == req.Name {
			desc = &pc.prompts[i]
			break
		}
	}
	pc.mu.RUnlock()

	if h == nil || desc == nil {
		return nil, fmt.Errorf("prompt not found: %s", req.Name)
	}
	for _, arg := range desc.Arguments {
		if arg.Required {
			if _, ok := req.Arguments[arg.Name]; !ok {
				return nil, fmt.Errorf("missing required argument: %s", arg.Name)
			}
		}
	}
	return h(ctx, req)
}

// UserMessage builds a single user-role text prompt message.
func UserMessage(text string) mcp.PromptMessage {
	return mcp.PromptMessage{Role: "user", Content: mcp.TextContent(text)}
}
