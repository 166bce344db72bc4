// Package mcp defines the Model Context Protocol wire types the server
// speaks. Only the tools surface of the protocol is implemented; the type
// shapes follow the 2025-06-18 protocol revision.
package mcp

// LatestProtocolVersion is the newest protocol revision this server speaks.
const LatestProtocolVersion = "2025-06-18"

// SupportedProtocolVersions lists revisions the server will negotiate,
// newest first.
var SupportedProtocolVersions = []string{LatestProtocolVersion, "2025-03-26"}

// ClientCapabilities advertises client features.
type ClientCapabilities struct {
	Roots       *ListChangedCapability `json:"roots,omitempty"`
	Sampling    *struct{}              `json:"sampling,omitempty"`
	Elicitation *struct{}              `json:"elicitation,omitempty"`
}

// ServerCapabilities advertises server features.
type ServerCapabilities struct {
	Logging *struct{}              `json:"logging,omitempty"`
	Tools   *ListChangedCapability `json:"tools,omitempty"`
}

// ListChangedCapability marks a capability whose list may change at runtime.
type ListChangedCapability struct {
	ListChanged bool `json:"listChanged"`
}

// ImplementationInfo describes an implementation name and version.
type ImplementationInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Title   string `json:"title,omitzero"`
}

// ContentBlock is a typed content part of a tool result.
type ContentBlock struct {
	Type string `json:"type"`
	// For text content
	Text string `json:"text,omitzero"`
	// For image and audio content
	Data     string `json:"data,omitzero"`
	MimeType string `json:"mimeType,omitzero"`
}

// Tool describes a callable tool and its input schema.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema ToolInputSchema `json:"inputSchema"`
}

// ToolInputSchema is a JSON-schema-like description of tool input.
type ToolInputSchema struct {
	Type                 string                    `json:"type"`
	Properties           map[string]SchemaProperty `json:"properties,omitempty"`
	Required             []string                  `json:"required,omitempty"`
	AdditionalProperties bool                      `json:"additionalProperties,omitzero"`
}

// SchemaProperty is a simplified schema node used in tool schemas.
type SchemaProperty struct {
	Type        string                    `json:"type,omitempty"`
	Description string                    `json:"description,omitzero"`
	Items       *SchemaProperty           `json:"items,omitempty"`
	Properties  map[string]SchemaProperty `json:"properties,omitempty"`
	Enum        []any                     `json:"enum,omitempty"`
}
