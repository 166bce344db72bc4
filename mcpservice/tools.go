// Package mcpservice hosts the server-side tool collection: typed tool
// construction with reflected input schemas, a threadsafe container with
// paginated listing, and call dispatch.
package mcpservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/agentskills/skillhost/auth"
	"github.com/agentskills/skillhost/mcp"
)

// ErrUnknownTool is returned by CallTool for names the container does not hold.
var ErrUnknownTool = errors.New("unknown tool")

// ToolHandler handles one tool invocation on behalf of the authenticated
// caller. Returning an error signals a protocol-level fault; tool-level
// failures should be reported through an IsError result instead.
type ToolHandler func(ctx context.Context, caller *auth.Principal, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error)

// StaticTool pairs an MCP tool descriptor with its handler.
type StaticTool struct {
	Descriptor mcp.Tool
	Handler    ToolHandler
}

// ToolRequest carries the typed arguments and raw payload of a tool call.
type ToolRequest[A any] struct {
	name string
	raw  json.RawMessage
	args A
}

func (r *ToolRequest[A]) Name() string                  { return r.name }
func (r *ToolRequest[A]) RawArguments() json.RawMessage { return r.raw }
func (r *ToolRequest[A]) Args() A                       { return r.args }

// ToolOption configures NewTool behavior.
type ToolOption func(*toolConfig)

type toolConfig struct {
	description               string
	allowAdditionalProperties bool
}

// WithToolDescription sets the tool description used in listings.
func WithToolDescription(desc string) ToolOption {
	return func(c *toolConfig) { c.description = desc }
}

// WithToolAllowAdditionalProperties controls whether unknown argument fields
// are tolerated. When false (the default), the generated schema sets
// additionalProperties=false and decoding rejects unknown fields.
func WithToolAllowAdditionalProperties(allow bool) ToolOption {
	return func(c *toolConfig) { c.allowAdditionalProperties = allow }
}

// NewTool builds a StaticTool from a typed argument struct A. The input
// schema is reflected from A's JSON tags; arguments are decoded strictly
// unless additional properties are allowed.
func NewTool[A any](name string, fn func(ctx context.Context, caller *auth.Principal, w ToolResponseWriter, r *ToolRequest[A]) error, opts ...ToolOption) StaticTool {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	desc := mcp.Tool{
		Name:        name,
		Description: cfg.description,
		InputSchema: reflectInputSchema[A](cfg.allowAdditionalProperties),
	}

	handler := func(ctx context.Context, caller *auth.Principal, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
		var a A
		if len(req.Arguments) > 0 {
			if cfg.allowAdditionalProperties {
				if err := json.Unmarshal(req.Arguments, &a); err != nil {
					return Errorf("invalid arguments: %v", err), nil
				}
			} else {
				dec := json.NewDecoder(bytes.NewReader(req.Arguments))
				dec.DisallowUnknownFields()
				if err := dec.Decode(&a); err != nil {
					return Errorf("invalid arguments: %v", err), nil
				}
			}
		}
		w := newToolResponseWriter()
		r := &ToolRequest[A]{name: req.Name, raw: req.Arguments, args: a}
		if err := fn(ctx, caller, w, r); err != nil {
			return nil, err
		}
		return w.Result(), nil
	}

	return StaticTool{Descriptor: desc, Handler: handler}
}

// reflectInputSchema reflects A into the simplified MCP input schema.
func reflectInputSchema[A any](allowAdditional bool) mcp.ToolInputSchema {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: allowAdditional,
	}
	s := r.Reflect(new(A))
	if s == nil || s.Type != "object" {
		return mcp.ToolInputSchema{
			Type:                 "object",
			Properties:           map[string]mcp.SchemaProperty{},
			AdditionalProperties: allowAdditional,
		}
	}

	props := make(map[string]mcp.SchemaProperty)
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			props[el.Key] = toSchemaProperty(el.Value)
		}
	}
	var required []string
	if len(s.Required) > 0 {
		required = append(required, s.Required...)
	}

	return mcp.ToolInputSchema{
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: allowAdditional,
	}
}

func toSchemaProperty(s *jsonschema.Schema) mcp.SchemaProperty {
	if s == nil {
		return mcp.SchemaProperty{}
	}
	p := mcp.SchemaProperty{
		Type:        s.Type,
		Description: s.Description,
	}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	if s.Type == "array" && s.Items != nil {
		item := toSchemaProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" && s.Properties != nil {
		m := make(map[string]mcp.SchemaProperty, s.Properties.Len())
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			m[el.Key] = toSchemaProperty(el.Value)
		}
		p.Properties = m
	}
	return p
}

// ToolsContainer owns a mutable, threadsafe set of tool descriptors and
// handlers with cursor-based pagination for listings.
type ToolsContainer struct {
	mu       sync.RWMutex
	tools    []mcp.Tool
	handlers map[string]ToolHandler
	pageSize int
}

// NewToolsContainer constructs a container holding the given tools.
func NewToolsContainer(defs ...StaticTool) *ToolsContainer {
	c := &ToolsContainer{pageSize: 50}
	c.Replace(defs...)
	return c
}

// SetPageSize overrides the listing page size. Non-positive values are ignored.
func (c *ToolsContainer) SetPageSize(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	c.pageSize = n
	c.mu.Unlock()
}

// Replace swaps the whole tool set atomically.
func (c *ToolsContainer) Replace(defs ...StaticTool) {
	tools := make([]mcp.Tool, 0, len(defs))
	handlers := make(map[string]ToolHandler, len(defs))
	for _, d := range defs {
		tools = append(tools, d.Descriptor)
		handlers[d.Descriptor.Name] = d.Handler
	}
	c.mu.Lock()
	c.tools = tools
	c.handlers = handlers
	c.mu.Unlock()
}

// ListTools returns one page of tool descriptors starting at cursor.
func (c *ToolsContainer) ListTools(cursor string) ([]mcp.Tool, string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return nil, "", fmt.Errorf("invalid cursor: %q", cursor)
		}
		start = n
	}
	if start >= len(c.tools) {
		return []mcp.Tool{}, "", nil
	}
	end := start + c.pageSize
	next := ""
	if end < len(c.tools) {
		next = strconv.Itoa(end)
	} else {
		end = len(c.tools)
	}
	page := make([]mcp.Tool, end-start)
	copy(page, c.tools[start:end])
	return page, next, nil
}

// CallTool dispatches a call to the named tool's handler.
func (c *ToolsContainer) CallTool(ctx context.Context, caller *auth.Principal, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
	c.mu.RLock()
	handler, ok := c.handlers[req.Name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, req.Name)
	}
	return handler(ctx, caller, req)
}

// TextResult builds a single-text-block tool result.
func TextResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: "text", Text: s}}}
}

// Errorf builds an IsError tool result with a formatted message.
func Errorf(format string, a ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.ContentBlock{{Type: "text", Text: fmt.Sprintf(format, a...)}},
		IsError: true,
	}
}
