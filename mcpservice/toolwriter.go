package mcpservice

import "github.com/agentskills/skillhost/mcp"

// ToolResponseWriter accumulates the parts of a tool result.
type ToolResponseWriter interface {
	// AppendText adds a text content block to the result.
	AppendText(text string)
	// SetStructured attaches structured content to the result.
	SetStructured(v map[string]any)
	// SetError marks the result as a tool-level failure.
	SetError(isError bool)
}

type toolResponseWriter struct {
	content    []mcp.ContentBlock
	structured map[string]any
	isError    bool
}

func newToolResponseWriter() *toolResponseWriter {
	return &toolResponseWriter{}
}

func (w *toolResponseWriter) AppendText(text string) {
	w.content = append(w.content, mcp.ContentBlock{Type: "text", Text: text})
}

func (w *toolResponseWriter) SetStructured(v map[string]any) { w.structured = v }

func (w *toolResponseWriter) SetError(isError bool) { w.isError = isError }

func (w *toolResponseWriter) Result() *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content:           w.content,
		StructuredContent: w.structured,
		IsError:           w.isError,
	}
}
