package proxy

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/petal-labs/mcpwrap/logstore"
	"github.com/petal-labs/mcpwrap/wrappee"
)

type fakeCaller struct {
	listResult wrappee.Message
	listErr    error
	callResult wrappee.Message
	callErr    error
	lastTool   string
	lastArgs   json.RawMessage
	callCount  int
}

func (f *fakeCaller) ListTools() (wrappee.Message, error) {
	return f.listResult, f.listErr
}

func (f *fakeCaller) CallTool(name string, arguments json.RawMessage) (wrappee.Message, error) {
	f.callCount++
	f.lastTool = name
	f.lastArgs = arguments
	return f.callResult, f.callErr
}

func toolsListMessage(t *testing.T, names ...string) wrappee.Message {
	t.Helper()
	tools := make([]wrappee.Tool, 0, len(names))
	for _, name := range names {
		tools = append(tools, wrappee.Tool{Name: name, Description: name + " tool"})
	}
	result, err := json.Marshal(wrappee.ToolsListResult{Tools: tools})
	if err != nil {
		t.Fatalf("marshal tools list: %v", err)
	}
	return wrappee.Message{JSONRPC: "2.0", ID: 2, Result: result}
}

func newTestProxy() (*Proxy, *logstore.Store) {
	store := logstore.NewStore(logstore.Config{Capacity: 100})
	return New(Config{Store: store}), store
}

func TestDiscoverReplacesToolSet(t *testing.T) {
	p, _ := newTestProxy()

	if err := p.Discover(&fakeCaller{listResult: toolsListMessage(t, "alpha", "beta")}); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if err := p.Discover(&fakeCaller{listResult: toolsListMessage(t, "gamma")}); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	all := p.AllTools()
	if len(all) != 1+3 {
		t.Fatalf("AllTools() len = %d, want 4", len(all))
	}
	if all[0].Name != "gamma" {
		t.Fatalf("first tool = %q, want gamma (set B only)", all[0].Name)
	}
	for _, tool := range all {
		if tool.Name == "alpha" || tool.Name == "beta" {
			t.Fatalf("tool %q from set A survived rediscovery", tool.Name)
		}
	}
}

func TestAllToolsAlwaysIncludesBuiltins(t *testing.T) {
	p, _ := newTestProxy()

	names := make(map[string]bool)
	for _, tool := range p.AllTools() {
		names[tool.Name] = true
	}
	for _, want := range []string{ToolShowLog, ToolClearLog, ToolRestart} {
		if !names[want] {
			t.Fatalf("AllTools() missing built-in %q", want)
		}
	}
}

func TestClearTools(t *testing.T) {
	p, _ := newTestProxy()
	if err := p.Discover(&fakeCaller{listResult: toolsListMessage(t, "alpha")}); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	p.ClearTools()
	if got := len(p.AllTools()); got != 3 {
		t.Fatalf("AllTools() after clear = %d tools, want the 3 built-ins", got)
	}
}

func TestCallSuccessLogsRequestAndResponse(t *testing.T) {
	p, store := newTestProxy()
	resultBody := `{"content":[{"type":"text","text":"done"}]}`
	caller := &fakeCaller{callResult: wrappee.Message{
		JSONRPC: "2.0",
		ID:      3,
		Result:  json.RawMessage(resultBody),
	}}

	result, err := p.Call("alpha", json.RawMessage(`{"x":1}`), caller)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Text != "done" {
		t.Fatalf("result = %+v, want structured text content", result)
	}

	entries := store.Entries(0, logstore.Filter{})
	if len(entries) != 2 {
		t.Fatalf("log entries = %d, want request + response", len(entries))
	}
	if entries[0].Kind != logstore.KindResponse || entries[1].Kind != logstore.KindRequest {
		t.Fatalf("entry kinds = %s, %s", entries[0].Kind, entries[1].Kind)
	}
	if entries[0].RequestID != entries[1].ID {
		t.Fatalf("response.RequestID = %d, want %d", entries[0].RequestID, entries[1].ID)
	}
}

func TestCallWrapsUnstructuredResultAsText(t *testing.T) {
	p, _ := newTestProxy()
	caller := &fakeCaller{callResult: wrappee.Message{
		JSONRPC: "2.0",
		ID:      3,
		Result:  json.RawMessage(`{"rows":[1,2,3]}`),
	}}

	result, err := p.Call("alpha", nil, caller)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Type != "text" {
		t.Fatalf("result = %+v, want single text block", result)
	}
	if !strings.Contains(result.Content[0].Text, `"rows"`) {
		t.Fatalf("text = %q, want raw JSON", result.Content[0].Text)
	}
}

func TestCallErrorPayload(t *testing.T) {
	p, store := newTestProxy()
	caller := &fakeCaller{callResult: wrappee.Message{
		JSONRPC: "2.0",
		ID:      3,
		Error:   &wrappee.RPCError{Code: -32000, Message: "boom", Data: json.RawMessage(`{"hint":"x"}`)},
	}}

	_, err := p.Call("alpha", nil, caller)
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("Call() error = %v, want *ToolError", err)
	}
	if toolErr.Message != "boom" || toolErr.Code != -32000 {
		t.Fatalf("ToolError = %+v", toolErr)
	}
	if string(toolErr.Data) != `{"hint":"x"}` {
		t.Fatalf("ToolError.Data = %s", toolErr.Data)
	}

	entries := store.Entries(0, logstore.Filter{Kind: logstore.KindError})
	if len(entries) != 1 {
		t.Fatalf("error entries = %d, want 1", len(entries))
	}
	requests := store.Entries(0, logstore.Filter{Kind: logstore.KindRequest})
	if entries[0].RequestID != requests[0].ID {
		t.Fatalf("error.RequestID = %d, want original request id %d", entries[0].RequestID, requests[0].ID)
	}
}

func TestCallTransportFailure(t *testing.T) {
	p, store := newTestProxy()
	caller := &fakeCaller{callErr: wrappee.ErrTimeout}

	_, err := p.Call("alpha", nil, caller)
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("Call() error = %v, want *ToolError", err)
	}
	if !strings.Contains(toolErr.Message, "timed out") {
		t.Fatalf("ToolError.Message = %q, want timeout text", toolErr.Message)
	}

	// One request entry plus exactly one terminal error entry.
	if got := store.Count(); got != 2 {
		t.Fatalf("log entries = %d, want 2", got)
	}
}

type captureObserver struct {
	observations []Observation
}

func (c *captureObserver) ObserveCall(obs Observation) {
	c.observations = append(c.observations, obs)
}

func TestObserverSeesOutcomes(t *testing.T) {
	store := logstore.NewStore(logstore.Config{Capacity: 10})
	observer := &captureObserver{}
	p := New(Config{Store: store, Observer: observer})

	okCaller := &fakeCaller{callResult: wrappee.Message{JSONRPC: "2.0", ID: 3, Result: json.RawMessage(`{"content":[]}`)}}
	if _, err := p.Call("good", json.RawMessage(`{}`), okCaller); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if _, err := p.Call("bad", nil, &fakeCaller{callErr: wrappee.ErrClosed}); err == nil {
		t.Fatal("Call() with closed transport should fail")
	}

	if len(observer.observations) != 2 {
		t.Fatalf("observations = %d, want 2", len(observer.observations))
	}
	if !observer.observations[0].Success || observer.observations[0].Tool != "good" {
		t.Fatalf("first observation = %+v", observer.observations[0])
	}
	if observer.observations[1].ErrorKind != "closed" {
		t.Fatalf("second observation kind = %q, want closed", observer.observations[1].ErrorKind)
	}
}

func TestShowLogBuiltin(t *testing.T) {
	store := logstore.NewStore(logstore.Config{Capacity: 10})
	reqID := store.AddRequest("alpha", json.RawMessage(`{"x":1}`))
	store.AddError(reqID, "alpha", "boom")

	result, err := ShowLog(store, json.RawMessage(`{"entry_type":"error","format":"ai"}`))
	if err != nil {
		t.Fatalf("ShowLog() error = %v", err)
	}
	text := result.Content[0].Text
	if !strings.Contains(text, "[ERROR #1] boom") {
		t.Fatalf("ShowLog output = %q", text)
	}
	if strings.Contains(text, "[REQUEST") {
		t.Fatalf("entry_type filter leaked request entries: %q", text)
	}
}

func TestShowLogRejectsBadArguments(t *testing.T) {
	store := logstore.NewStore(logstore.Config{Capacity: 10})
	_, err := ShowLog(store, json.RawMessage(`{"limit":"twenty"}`))
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("ShowLog() error = %v, want *ToolError", err)
	}
}

func TestClearLogBuiltin(t *testing.T) {
	store := logstore.NewStore(logstore.Config{Capacity: 10})
	store.AddRequest("alpha", nil)
	store.AddRequest("beta", nil)

	result, err := ClearLog(store)
	if err != nil {
		t.Fatalf("ClearLog() error = %v", err)
	}
	if !strings.Contains(result.Content[0].Text, "Cleared 2 log entries") {
		t.Fatalf("ClearLog output = %q", result.Content[0].Text)
	}
	if store.Count() != 0 {
		t.Fatalf("store count = %d, want 0", store.Count())
	}
}

func TestIsBuiltin(t *testing.T) {
	for _, name := range []string{ToolShowLog, ToolClearLog, ToolRestart} {
		if !IsBuiltin(name) {
			t.Fatalf("IsBuiltin(%q) = false", name)
		}
	}
	if IsBuiltin("alpha") {
		t.Fatal("IsBuiltin(alpha) = true")
	}
}
