// Package server exposes the merged tool surface upstream over MCP. It is the
// composition point between the mcp-go server, the proxy's tool cache, and
// the supervisor's lifecycle operations.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/petal-labs/mcpwrap/logstore"
	"github.com/petal-labs/mcpwrap/proxy"
	"github.com/petal-labs/mcpwrap/supervisor"
	"github.com/petal-labs/mcpwrap/wrappee"
)

// Name identifies the wrapper to upstream MCP peers.
const Name = "mcpwrap"

// Config assembles a Server.
type Config struct {
	Supervisor *supervisor.Supervisor
	Proxy      *proxy.Proxy
	Store      *logstore.Store
	Version    string
	Logger     *slog.Logger
}

// Server owns the upstream MCP endpoint. Wrappee tools are mirrored into the
// mcp-go registry by SyncTools; built-in tools are registered once and never
// removed.
type Server struct {
	mcp        *mcpserver.MCPServer
	supervisor *supervisor.Supervisor
	proxy      *proxy.Proxy
	store      *logstore.Store
	logger     *slog.Logger

	mu         sync.Mutex
	registered map[string]bool
}

// New builds the MCP server and registers the three built-in tools. Wrappee
// tools appear after the first SyncTools.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		supervisor: cfg.Supervisor,
		proxy:      cfg.Proxy,
		store:      cfg.Store,
		logger:     logger,
		registered: make(map[string]bool),
	}
	s.mcp = mcpserver.NewMCPServer(
		Name,
		cfg.Version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
	)

	for _, tool := range proxy.BuiltinTools() {
		s.mcp.AddTool(toMCPTool(tool), s.builtinHandler(tool.Name))
	}
	return s
}

// SyncTools reconciles the mcp-go registry with the proxy's current wrappee
// tool cache. Registrations and deletions both push a tools/list_changed
// notification to connected peers.
func (s *Server) SyncTools() {
	current := s.proxy.WrappeeTools()

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(current))
	for _, tool := range current {
		seen[tool.Name] = true
	}

	var removed []string
	for name := range s.registered {
		if !seen[name] {
			removed = append(removed, name)
			delete(s.registered, name)
		}
	}
	if len(removed) > 0 {
		s.mcp.DeleteTools(removed...)
	}

	for _, tool := range current {
		if proxy.IsBuiltin(tool.Name) {
			// A wrappee tool may not shadow a built-in.
			s.logger.Warn("wrappee tool shadows built-in, skipping", "tool", tool.Name)
			continue
		}
		s.mcp.AddTool(toMCPTool(tool), s.forwardHandler(tool.Name))
		s.registered[tool.Name] = true
	}
	s.logger.Debug("tool registry synced", "wrappee_tools", len(current), "removed", len(removed))
}

// ServeStdio blocks serving the upstream peer over stdin/stdout.
func (s *Server) ServeStdio() error {
	return mcpserver.ServeStdio(s.mcp)
}

// ServeHTTP blocks serving the upstream peer over streamable HTTP at
// addr/mcp.
func (s *Server) ServeHTTP(addr string) error {
	httpServer := mcpserver.NewStreamableHTTPServer(s.mcp,
		mcpserver.WithEndpointPath("/mcp"),
	)
	s.logger.Info("serving streamable http", "addr", addr, "path", "/mcp")
	return httpServer.Start(addr)
}

// forwardHandler adapts one wrappee tool into an mcp-go handler that routes
// through the supervisor's call path.
func (s *Server) forwardHandler(name string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		arguments, err := marshalArguments(request.Params.Arguments)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		result, err := s.supervisor.Call(name, arguments)
		if err != nil {
			return toolErrorResult(err), nil
		}
		return toCallResult(result), nil
	}
}

func (s *Server) builtinHandler(name string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		switch name {
		case proxy.ToolShowLog:
			arguments, err := marshalArguments(request.Params.Arguments)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
			}
			result, err := proxy.ShowLog(s.store, arguments)
			if err != nil {
				return toolErrorResult(err), nil
			}
			return toCallResult(result), nil

		case proxy.ToolClearLog:
			result, err := proxy.ClearLog(s.store)
			if err != nil {
				return toolErrorResult(err), nil
			}
			return toCallResult(result), nil

		case proxy.ToolRestart:
			if err := s.supervisor.Restart(); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("restart failed: %v", err)), nil
			}
			return mcp.NewToolResultText(fmt.Sprintf("Successfully restarted the wrapped server (pid %d)", s.supervisor.PID())), nil

		default:
			return mcp.NewToolResultError(fmt.Sprintf("unknown built-in tool %q", name)), nil
		}
	}
}

// marshalArguments turns the upstream's decoded arguments back into the raw
// JSON the downstream wire format carries.
func marshalArguments(arguments any) (json.RawMessage, error) {
	if arguments == nil {
		return nil, nil
	}
	raw, err := json.Marshal(arguments)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func toMCPTool(tool wrappee.Tool) mcp.Tool {
	schema := json.RawMessage(`{"type":"object"}`)
	if tool.InputSchema != nil {
		if raw, err := json.Marshal(tool.InputSchema); err == nil {
			schema = raw
		}
	}
	return mcp.NewToolWithRawSchema(tool.Name, tool.Description, schema)
}

// toCallResult maps the proxy's result shape onto mcp-go content blocks.
func toCallResult(result *proxy.ToolResult) *mcp.CallToolResult {
	out := &mcp.CallToolResult{IsError: result.IsError}
	for _, block := range result.Content {
		switch block.Type {
		case "image":
			out.Content = append(out.Content, mcp.NewImageContent(block.Data, block.MimeType))
		default:
			out.Content = append(out.Content, mcp.NewTextContent(block.Text))
		}
	}
	if len(result.StructuredContent) > 0 {
		out.StructuredContent = result.StructuredContent
	}
	return out
}

// toolErrorResult renders a call failure as an in-band tool error so the
// upstream session survives wrappee faults.
func toolErrorResult(err error) *mcp.CallToolResult {
	var toolErr *proxy.ToolError
	if errors.As(err, &toolErr) {
		return mcp.NewToolResultError(toolErr.Message)
	}
	return mcp.NewToolResultError(err.Error())
}
