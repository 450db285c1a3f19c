package proxy

import (
	"encoding/json"
	"fmt"

	"github.com/petal-labs/mcpwrap/logstore"
	"github.com/petal-labs/mcpwrap/wrappee"
)

// Reserved names of the wrapper's own tools. They are always exposed
// alongside the wrappee's tools and are dispatched before the forward path.
const (
	ToolShowLog  = "show_log"
	ToolClearLog = "clear_log"
	ToolRestart  = "restart_wrapped_server"
)

var builtinTools = []wrappee.Tool{
	{
		Name:        ToolShowLog,
		Description: "Display recorded request/response logs from the wrapper",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of log entries to show (default: 20)",
					"default":     20,
				},
				"tool_name": map[string]any{
					"type":        "string",
					"description": "Filter logs by tool name",
				},
				"entry_type": map[string]any{
					"type":        "string",
					"enum":        []string{"request", "response", "error", "stderr"},
					"description": "Filter logs by entry type",
				},
				"keyword": map[string]any{
					"type":        "string",
					"description": "Regular expression pattern to search in log content (fallback to literal search if invalid regex)",
				},
				"format": map[string]any{
					"type":        "string",
					"enum":        []string{"ai", "text", "json"},
					"description": "Output format (default: ai)",
					"default":     "ai",
				},
			},
		},
	},
	{
		Name:        ToolClearLog,
		Description: "Clear all recorded logs",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
	},
	{
		Name:        ToolRestart,
		Description: "Restart the wrapped MCP server while preserving logs",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
	},
}

// BuiltinTools returns the three fixed built-in descriptors.
func BuiltinTools() []wrappee.Tool {
	out := make([]wrappee.Tool, len(builtinTools))
	copy(out, builtinTools)
	return out
}

// IsBuiltin reports whether name is reserved for a wrapper built-in.
func IsBuiltin(name string) bool {
	return name == ToolShowLog || name == ToolClearLog || name == ToolRestart
}

// ShowLogRequest holds the parsed show_log arguments.
type ShowLogRequest struct {
	Limit     int    `json:"limit"`
	ToolName  string `json:"tool_name"`
	EntryType string `json:"entry_type"`
	Keyword   string `json:"keyword"`
	Format    string `json:"format"`
}

const defaultShowLogLimit = 20

// ShowLog renders filtered log entries in the requested format.
func ShowLog(store *logstore.Store, arguments json.RawMessage) (*ToolResult, error) {
	req := ShowLogRequest{Limit: defaultShowLogLimit}
	if len(arguments) > 0 {
		if err := json.Unmarshal(arguments, &req); err != nil {
			return nil, &ToolError{Code: codeInvalidParams, Message: fmt.Sprintf("invalid parameters: %v", err)}
		}
	}
	if req.Limit <= 0 {
		req.Limit = defaultShowLogLimit
	}

	entries := store.Entries(req.Limit, logstore.Filter{
		Tool:    req.ToolName,
		Kind:    logstore.Kind(req.EntryType),
		Keyword: req.Keyword,
	})
	return TextResult(logstore.Render(entries, logstore.Format(req.Format))), nil
}

// ClearLog empties the store and reports how many entries were removed.
func ClearLog(store *logstore.Store) (*ToolResult, error) {
	count := store.Clear()
	return TextResult(fmt.Sprintf("Cleared %d log entries", count)), nil
}

// codeInvalidParams is the JSON-RPC invalid params error code.
const codeInvalidParams = -32602
