package mcpservice

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/harborlane/mcpserver/mcp"
)

// ResourceHandler produces the contents of a concrete resource.
type ResourceHandler func(ctx context.Context, uri string) (*mcp.ReadResourceResult, error)

// TemplateHandler produces the contents of a templated resource. params maps
// each template variable name to the value extracted from the requested URI.
type TemplateHandler func(ctx context.Context, uri string, params map[string]string) (*mcp.ReadResourceResult, error)

// StaticResource pairs a concrete resource descriptor with its handler.
type StaticResource struct {
	Descriptor mcp.Resource
	Handler    ResourceHandler
}

// TemplatedResource pairs a URI-template descriptor with its handler.
// Templates use RFC 6570 level-1 expansion: `{name}` matches one
// slash-and-brace-free path segment.
type TemplatedResource struct {
	Descriptor mcp.ResourceTemplate
	Handler    TemplateHandler
}

// TextResourceResult builds a single-text resource read result.
func TextResourceResult(uri, mimeType, text string) *mcp.ReadResourceResult {
	return &mcp.ReadResourceResult{Contents: []mcp.ResourceContents{{
		URI: uri, MimeType: mimeType, Text: text,
	}}}
}

// ResourcesContainer owns a mutable, threadsafe set of static and templated
// resources shared across sessions.
type ResourcesContainer struct {
	mu        sync.RWMutex
	static    []StaticResource
	templates []TemplatedResource

	notifier ChangeNotifier

	pageSize int
}

// NewResourcesContainer constructs a ResourcesContainer.
func NewResourcesContainer() *ResourcesContainer {
	return &ResourcesContainer{pageSize: defaultPageSize}
}

// AddStatic registers a concrete resource.
func (rc *ResourcesContainer) AddStatic(res StaticResource) {
	rc.mu.Lock()
	rc.static = append(rc.static, res)
	rc.mu.Unlock()
	rc.notifier.Changed()
}

// AddTemplate registers a templated resource.
func (rc *ResourcesContainer) AddTemplate(res TemplatedResource) {
	rc.mu.Lock()
	rc.templates = append(rc.templates, res)
	rc.mu.Unlock()
	rc.notifier.Changed()
}

// ReplaceStatic atomically replaces the static resource set. Used when a
// backing store changes the set of addressable items.
func (rc *ResourcesContainer) ReplaceStatic(resources ...StaticResource) {
	rc.mu.Lock()
	rc.static = append(rc.static[:0:0], resources...)
	rc.mu.Unlock()
	rc.notifier.Changed()
}

// OnChange registers a callback invoked whenever the resource set mutates.
func (rc *ResourcesContainer) OnChange(fn func()) { rc.notifier.Subscribe(fn) }

// NotifyChanged signals a change in the underlying data without mutating the
// descriptor set, e.g. when a backing store was edited out of band.
func (rc *ResourcesContainer) NotifyChanged() { rc.notifier.Changed() }

// List returns one page of concrete resource descriptors.
func (rc *ResourcesContainer) List(cursor string) (*mcp.ListResourcesResult, error) {
	rc.mu.RLock()
	all := make([]mcp.Resource, 0, len(rc.static))
	for _, r := range rc.static {
		all = append(all, r.Descriptor)
	}
	pageSize := rc.pageSize
	rc.mu.RUnlock()

	start, end, next, err := paginate(cursor, pageSize, len(all))
	if err != nil {
		return nil, err
	}
	return &mcp.ListResourcesResult{Resources: all[start:end], NextCursor: next}, nil
}

// ListTemplates returns one page of resource template descriptors.
func (rc *ResourcesContainer) ListTemplates(cursor string) (*mcp.ListResourceTemplatesResult, error) {
	rc.mu.RLock()
	all := make([]mcp.ResourceTemplate, 0, len(rc.templates))
	for _, r := range rc.templates {
		all = append(all, r.Descriptor)
	}
	pageSize := rc.pageSize
	rc.mu.RUnlock()

	start, end, next, err := paginate(cursor, pageSize, len(all))
	if err != nil {
		return nil, err
	}
	return &mcp.ListResourceTemplatesResult{ResourceTemplates: all[start:end], NextCursor: next}, nil
}

// Read resolves a URI against static resources first, then templates.
func (rc *ResourcesContainer) Read(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	rc.mu.RLock()
	var handler func(context.Context) (*mcp.ReadResourceResult, error)
	for _, r := range rc.static {
		if r.Descriptor.URI == uri {
			h := r.Handler
			handler = func(ctx context.Context) (*mcp.ReadResourceResult, error) { return h(ctx, uri) }
			break
		}
	}
	if handler == nil {
		for _, r := range rc.templates {
			params, ok := matchURITemplate(r.Descriptor.URITemplate, uri)
			if !ok {
				continue
			}
			h := r.Handler
			handler = func(ctx context.Context) (*mcp.ReadResourceResult, error) { return h(ctx, uri, params) }
			break
		}
	}
	rc.mu.RUnlock()

	if handler == nil {
		return nil, fmt.Errorf("resource not found: %s", uri)
	}
	return handler(ctx)
}

// matchURITemplate matches a concrete URI against a `{name}` template.
// Variables match greedily-free: one segment, no `/` and no `{`.
func matchURITemplate(template, uri string) (map[string]string, bool) {
	params := make(map[string]string)
	t, u := template, uri
	for {
		open := strings.IndexByte(t, '{')
		if open < 0 {
			if t == u {
				return params, true
			}
			return nil, false
		}
		// literal prefix before the variable
		if !strings.HasPrefix(u, t[:open]) {
			return nil, false
		}
		u = u[open:]
		t = t[open:]

		closeIdx := strings.IndexByte(t, '}')
		if closeIdx < 0 {
			return nil, false
		}
		name := t[1:closeIdx]
		t = t[closeIdx+1:]

		// the variable value runs until the next literal character
		var value string
		if t == "" {
			value, u = u, ""
		} else {
			nextLit := t[0]
			end := strings.IndexByte(u, nextLit)
			if end < 0 {
				return nil, false
			}
			value, u = u[:end], u[end:]
		}
		if value == "" || strings.ContainsAny(value, "/{") {
			return nil, false
		}
		params[name] = value
	}
}
