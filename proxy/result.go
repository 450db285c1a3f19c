package proxy

import (
	"encoding/json"
	"fmt"
)

// codeInternalError is the JSON-RPC internal error code used for wrapper-side
// failures surfaced to the upstream client.
const codeInternalError = -32603

// ContentBlock is one content item in a tool result.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// ToolResult is the structured success payload of a tool call as exposed to
// the upstream client.
type ToolResult struct {
	Content           []ContentBlock `json:"content,omitempty"`
	StructuredContent map[string]any `json:"structuredContent,omitempty"`
	IsError           bool           `json:"isError,omitempty"`
}

// TextResult wraps plain text as a tool result.
func TextResult(text string) *ToolResult {
	return &ToolResult{Content: []ContentBlock{{Type: "text", Text: text}}}
}

// ToolError is a structured tool-call failure carried to the upstream client.
type ToolError struct {
	Code    int
	Message string
	Data    json.RawMessage
}

func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("proxy: tool error %d: %s", e.Code, e.Message)
}
