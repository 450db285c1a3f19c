package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/petal-labs/mcpwrap/logstore"
	"github.com/petal-labs/mcpwrap/wrappee"
)

// Caller is the slice of the wrappee transport the proxy needs. Callers must
// serialize access: one outstanding request per transport.
type Caller interface {
	ListTools() (wrappee.Message, error)
	CallTool(name string, arguments json.RawMessage) (wrappee.Message, error)
}

// Observation describes one completed proxied call for observability hooks.
type Observation struct {
	Tool     string
	Duration time.Duration
	Success  bool
	// ErrorKind is a short classification for failed calls.
	ErrorKind string
}

// Observer receives call observations. Implementations must be safe for
// concurrent use; a nil observer disables observation.
type Observer interface {
	ObserveCall(Observation)
}

// Config configures a Proxy.
type Config struct {
	Store    *logstore.Store
	Observer Observer
	Logger   *slog.Logger
}

// Proxy caches the wrappee's discovered tools, merges them with the wrapper's
// built-ins, and forwards calls while recording every exchange in the log
// store.
type Proxy struct {
	mu       sync.RWMutex
	tools    []wrappee.Tool
	store    *logstore.Store
	observer Observer
	logger   *slog.Logger
}

// New creates a Proxy with an empty tool cache.
func New(cfg Config) *Proxy {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Proxy{
		store:    cfg.Store,
		observer: cfg.Observer,
		logger:   logger,
	}
}

// Discover asks the transport for its tool list and replaces the cached
// wrappee tool set wholesale. The cache is never merged incrementally.
func (p *Proxy) Discover(transport Caller) error {
	response, err := transport.ListTools()
	if err != nil {
		return fmt.Errorf("proxy: discover tools: %w", err)
	}
	if response.Error != nil {
		return fmt.Errorf("proxy: discover tools: %w", response.Error)
	}

	var result wrappee.ToolsListResult
	if err := json.Unmarshal(response.Result, &result); err != nil {
		return fmt.Errorf("proxy: decode tools/list result: %w", err)
	}

	p.mu.Lock()
	p.tools = result.Tools
	p.mu.Unlock()

	p.logger.Info("discovered wrappee tools", "count", len(result.Tools))
	return nil
}

// WrappeeTools returns a copy of the cached wrappee tool set.
func (p *Proxy) WrappeeTools() []wrappee.Tool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]wrappee.Tool, len(p.tools))
	copy(out, p.tools)
	return out
}

// AllTools returns the cached wrappee tools followed by the three fixed
// built-ins, which exist regardless of wrappee state.
func (p *Proxy) AllTools() []wrappee.Tool {
	p.mu.RLock()
	all := make([]wrappee.Tool, 0, len(p.tools)+len(builtinTools))
	all = append(all, p.tools...)
	p.mu.RUnlock()
	return append(all, builtinTools...)
}

// ClearTools empties the cached wrappee tool set, used before rediscovery
// during a restart.
func (p *Proxy) ClearTools() {
	p.mu.Lock()
	p.tools = nil
	p.mu.Unlock()
	p.logger.Info("cleared discovered tools")
}

// Call forwards one tool invocation through the transport. It records the
// request and exactly one terminal entry (response or error); no call
// completes silently. Transport failures and wrappee error payloads both come
// back as *ToolError.
func (p *Proxy) Call(name string, arguments json.RawMessage, transport Caller) (*ToolResult, error) {
	requestID := p.store.AddRequest(name, arguments)
	start := time.Now()

	response, err := transport.CallTool(name, arguments)
	if err != nil {
		message := fmt.Sprintf("failed to call tool: %v", err)
		p.store.AddError(requestID, name, message)
		p.observe(Observation{Tool: name, Duration: time.Since(start), ErrorKind: errorKind(err)})
		return nil, &ToolError{Code: codeInternalError, Message: message}
	}

	if response.Error != nil {
		p.store.AddError(requestID, name, response.Error.Message)
		p.observe(Observation{Tool: name, Duration: time.Since(start), ErrorKind: "tool_error"})
		return nil, &ToolError{
			Code:    response.Error.Code,
			Message: response.Error.Message,
			Data:    response.Error.Data,
		}
	}

	raw, marshalErr := json.Marshal(response)
	if marshalErr != nil {
		raw = response.Result
	}
	p.store.AddResponse(requestID, name, raw)
	p.observe(Observation{Tool: name, Duration: time.Since(start), Success: true})

	return interpretResult(response), nil
}

// interpretResult maps a wrappee result payload to a structured tool result,
// wrapping anything it cannot interpret as plain text content.
func interpretResult(response wrappee.Message) *ToolResult {
	if len(response.Result) > 0 {
		var result ToolResult
		if err := json.Unmarshal(response.Result, &result); err == nil && (len(result.Content) > 0 || len(result.StructuredContent) > 0) {
			return &result
		}
		return TextResult(string(response.Result))
	}

	raw, err := json.Marshal(response)
	if err != nil {
		return TextResult("")
	}
	return TextResult(string(raw))
}

func (p *Proxy) observe(obs Observation) {
	if p.observer != nil {
		p.observer.ObserveCall(obs)
	}
}

func errorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, wrappee.ErrTimeout):
		return "timeout"
	case errors.Is(err, wrappee.ErrClosed):
		return "closed"
	default:
		return "transport"
	}
}
