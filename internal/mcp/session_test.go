package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// mockTransport is a test double for the Transport interface.
type mockTransport struct {
	mu        sync.Mutex
	responses map[string]*Response // method -> canned response
	sent      []Request            // captured requests
	notifs    []Notification       // captured notifications
	started   bool
	closed    int
	startErr  error
	notifyErr error
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		responses: make(map[string]*Response),
	}
}

func (m *mockTransport) addResponse(method string, result any) {
	data, _ := json.Marshal(result)
	m.responses[method] = &Response{
		JSONRPC: jsonrpcVersion,
		Result:  json.RawMessage(data),
	}
}

func (m *mockTransport) addError(method string, code int, msg string) {
	m.responses[method] = &Response{
		JSONRPC: jsonrpcVersion,
		Error:   &RPCError{Code: code, Message: msg},
	}
}

func (m *mockTransport) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return m.startErr
	}
	m.started = true
	return nil
}

func (m *mockTransport) Send(_ context.Context, req *Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, *req)
	resp, ok := m.responses[req.Method]
	if !ok {
		return nil, fmt.Errorf("unexpected method: %s", req.Method)
	}
	// Copy response and set matching ID.
	out := *resp
	out.ID = req.ID
	return &out, nil
}

func (m *mockTransport) Notify(_ context.Context, notif *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.notifyErr != nil {
		return m.notifyErr
	}
	m.notifs = append(m.notifs, *notif)
	return nil
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

// newTestSession returns a disconnected session whose dial function
// hands out the given mock transport.
func newTestSession(mt *mockTransport) *Session {
	s := NewSession("test", StdioConfig{Command: "unused"}, nil)
	s.dial = func() Transport { return mt }
	return s
}

// addInitialize installs a successful handshake response.
func (m *mockTransport) addInitialize() {
	m.addResponse("initialize", initializeResult{
		ProtocolVersion: protocolVersion,
		ServerInfo:      serverInfo{Name: "test-server", Version: "1.0.0"},
	})
}

func TestSession_Connect(t *testing.T) {
	mt := newMockTransport()
	mt.addInitialize()

	s := newTestSession(mt)
	if s.Connected() {
		t.Fatal("new session reports connected")
	}

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !s.Connected() {
		t.Error("session not connected after Connect")
	}

	// The initialize request was sent first.
	if len(mt.sent) != 1 {
		t.Fatalf("sent %d requests, want 1", len(mt.sent))
	}
	if mt.sent[0].Method != "initialize" {
		t.Errorf("method = %q, want %q", mt.sent[0].Method, "initialize")
	}

	// The initialized notification completed the handshake.
	if len(mt.notifs) != 1 {
		t.Fatalf("sent %d notifications, want 1", len(mt.notifs))
	}
	if mt.notifs[0].Method != "notifications/initialized" {
		t.Errorf("notification method = %q, want %q", mt.notifs[0].Method, "notifications/initialized")
	}

	// Server info was captured.
	name, ver := s.ServerInfo()
	if name != "test-server" || ver != "1.0.0" {
		t.Errorf("ServerInfo() = %q, %q; want test-server, 1.0.0", name, ver)
	}
}

func TestSession_ConnectTwice(t *testing.T) {
	mt := newMockTransport()
	mt.addInitialize()

	s := newTestSession(mt)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	err := s.Connect(context.Background())
	if !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect = %v, want ErrAlreadyConnected", err)
	}
}

func TestSession_ConnectAfterDisconnect(t *testing.T) {
	mt := newMockTransport()
	mt.addInitialize()

	s := newTestSession(mt)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	// The cycle can repeat.
	if err := s.Connect(context.Background()); err != nil {
		t.Errorf("reconnect after Disconnect: %v", err)
	}
}

func TestSession_ConnectHandshakeFailure(t *testing.T) {
	mt := newMockTransport()
	mt.addError("initialize", -32603, "server exploded")

	s := newTestSession(mt)
	err := s.Connect(context.Background())
	if err == nil {
		t.Fatal("expected handshake error, got nil")
	}
	if s.Connected() {
		t.Error("session reports connected after failed handshake")
	}
	if mt.closed != 1 {
		t.Errorf("transport closed %d times, want 1 (released on failure)", mt.closed)
	}
}

func TestSession_ConnectNotifyFailure(t *testing.T) {
	mt := newMockTransport()
	mt.addInitialize()
	mt.notifyErr = errors.New("broken pipe")

	s := newTestSession(mt)
	if err := s.Connect(context.Background()); err == nil {
		t.Fatal("expected error when initialized notification fails")
	}
	if s.Connected() {
		t.Error("session reports connected after failed notification")
	}
	if mt.closed != 1 {
		t.Errorf("transport closed %d times, want 1", mt.closed)
	}
}

func TestSession_DisconnectIdempotent(t *testing.T) {
	mt := newMockTransport()
	mt.addInitialize()

	s := newTestSession(mt)

	// Disconnect before any Connect is a no-op, not an error.
	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect before Connect: %v", err)
	}

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := s.Disconnect(); err != nil {
			t.Fatalf("Disconnect #%d: %v", i+1, err)
		}
	}
	if s.Connected() {
		t.Error("session reports connected after Disconnect")
	}
	if mt.closed != 1 {
		t.Errorf("transport closed %d times, want exactly 1", mt.closed)
	}
}

func TestSession_OperationsRequireConnection(t *testing.T) {
	s := newTestSession(newMockTransport())
	ctx := context.Background()

	checks := []struct {
		name string
		call func() error
	}{
		{"ListTools", func() error { _, err := s.ListTools(ctx); return err }},
		{"ListResources", func() error { _, err := s.ListResources(ctx); return err }},
		{"ListResourceTemplates", func() error { _, err := s.ListResourceTemplates(ctx); return err }},
		{"ListPrompts", func() error { _, err := s.ListPrompts(ctx); return err }},
		{"CallTool", func() error { _, err := s.CallTool(ctx, "add", nil); return err }},
		{"ReadResource", func() error { _, err := s.ReadResource(ctx, "resource://x"); return err }},
		{"GetPrompt", func() error { _, err := s.GetPrompt(ctx, "p", nil); return err }},
		{"Ping", func() error { return s.Ping(ctx) }},
	}

	for _, c := range checks {
		if err := c.call(); !errors.Is(err, ErrNotConnected) {
			t.Errorf("%s before Connect = %v, want ErrNotConnected", c.name, err)
		}
	}
}

func connectedSession(t *testing.T, mt *mockTransport) *Session {
	t.Helper()
	mt.addInitialize()
	s := newTestSession(mt)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return s
}

func TestSession_ListTools(t *testing.T) {
	mt := newMockTransport()
	mt.addResponse("tools/list", toolsListResult{
		Tools: []ToolDefinition{
			{
				Name:        "add",
				Description: "Add two numbers",
				InputSchema: map[string]any{"type": "object"},
			},
			{
				Name:        "subtract",
				Description: "Subtract two numbers",
				InputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"a": map[string]any{"type": "number"},
					},
				},
			},
		},
	})
	s := connectedSession(t, mt)

	tools, err := s.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("got %d tools, want 2", len(tools))
	}
	if tools[0].Name != "add" || tools[1].Name != "subtract" {
		t.Errorf("tool order = %q, %q; want add, subtract", tools[0].Name, tools[1].Name)
	}

	// Discovery is a point-in-time snapshot: a second call hits the
	// server again rather than returning a cached list.
	if _, err := s.ListTools(context.Background()); err != nil {
		t.Fatalf("ListTools (second): %v", err)
	}
	listCalls := 0
	for _, req := range mt.sent {
		if req.Method == "tools/list" {
			listCalls++
		}
	}
	if listCalls != 2 {
		t.Errorf("tools/list sent %d times, want 2 (no caching)", listCalls)
	}
}

func TestSession_ListToolsEmpty(t *testing.T) {
	mt := newMockTransport()
	mt.addResponse("tools/list", toolsListResult{})
	s := connectedSession(t, mt)

	tools, err := s.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 0 {
		t.Errorf("got %d tools, want 0", len(tools))
	}
}

func TestSession_ListResources(t *testing.T) {
	mt := newMockTransport()
	mt.addResponse("resources/list", resourcesListResult{
		Resources: []Resource{
			{URI: "resource://math-constants", Name: "math-constants", MimeType: "text/plain"},
		},
	})
	s := connectedSession(t, mt)

	resources, err := s.ListResources(context.Background())
	if err != nil {
		t.Fatalf("ListResources: %v", err)
	}
	if len(resources) != 1 {
		t.Fatalf("got %d resources, want 1", len(resources))
	}
	if resources[0].URI != "resource://math-constants" {
		t.Errorf("URI = %q", resources[0].URI)
	}
}

func TestSession_ListResourceTemplates(t *testing.T) {
	mt := newMockTransport()
	mt.addResponse("resources/templates/list", resourceTemplatesListResult{
		ResourceTemplates: []ResourceTemplate{
			{URITemplate: "file://{path}", Name: "file"},
		},
	})
	s := connectedSession(t, mt)

	templates, err := s.ListResourceTemplates(context.Background())
	if err != nil {
		t.Fatalf("ListResourceTemplates: %v", err)
	}
	if len(templates) != 1 || templates[0].URITemplate != "file://{path}" {
		t.Errorf("templates = %+v", templates)
	}
}

func TestSession_ListPrompts(t *testing.T) {
	mt := newMockTransport()
	mt.addResponse("prompts/list", promptsListResult{
		Prompts: []Prompt{
			{
				Name:        "calculate_operation",
				Description: "Guide a calculation",
				Arguments:   []PromptArgument{{Name: "operation", Required: true}},
			},
		},
	})
	s := connectedSession(t, mt)

	prompts, err := s.ListPrompts(context.Background())
	if err != nil {
		t.Fatalf("ListPrompts: %v", err)
	}
	if len(prompts) != 1 {
		t.Fatalf("got %d prompts, want 1", len(prompts))
	}
	if prompts[0].Name != "calculate_operation" {
		t.Errorf("prompt name = %q", prompts[0].Name)
	}
	if len(prompts[0].Arguments) != 1 || !prompts[0].Arguments[0].Required {
		t.Errorf("prompt arguments = %+v", prompts[0].Arguments)
	}
}

func TestSession_CallTool_TextResult(t *testing.T) {
	mt := newMockTransport()
	mt.addResponse("tools/call", callToolResult{
		Content: []ContentBlock{
			{Type: "text", Text: "4 + 4 = 8"},
		},
	})
	s := connectedSession(t, mt)

	results, err := s.CallTool(context.Background(), "add", map[string]any{"a": 4, "b": 4})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if len(results) != 1 || results[0] != "4 + 4 = 8" {
		t.Errorf("results = %q, want [\"4 + 4 = 8\"]", results)
	}
}

func TestSession_CallTool_MixedContent(t *testing.T) {
	mt := newMockTransport()
	mt.addResponse("tools/call", callToolResult{
		Content: []ContentBlock{
			{Type: "text", Text: "line 1"},
			{Type: "image", Data: "aW1hZ2VkYXRh", MimeType: "image/png"},
			{Type: "audio", Data: "YXVkaW9kYXRh", MimeType: "audio/wav"},
			{Type: "resource", Resource: &ResourceContents{URI: "resource://a", Text: "embedded", hasText: true}},
			{Type: "resource", Resource: &ResourceContents{URI: "resource://b", Blob: "YmxvYg=="}},
		},
	})
	s := connectedSession(t, mt)

	results, err := s.CallTool(context.Background(), "mixed", nil)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}

	want := []string{"line 1", "aW1hZ2VkYXRh", "YXVkaW9kYXRh", "embedded", "YmxvYg=="}
	if len(results) != len(want) {
		t.Fatalf("got %d results, want %d", len(results), len(want))
	}
	for i := range want {
		if results[i] != want[i] {
			t.Errorf("results[%d] = %q, want %q", i, results[i], want[i])
		}
	}
}

func TestSession_CallTool_EmptyContent(t *testing.T) {
	mt := newMockTransport()
	mt.addResponse("tools/call", callToolResult{})
	s := connectedSession(t, mt)

	results, err := s.CallTool(context.Background(), "noop", nil)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %q, want empty", results)
	}
}

func TestSession_CallTool_UnknownContentType(t *testing.T) {
	mt := newMockTransport()
	mt.addResponse("tools/call", callToolResult{
		Content: []ContentBlock{
			{Type: "text", Text: "ok"},
			{Type: "video", Data: "..."},
		},
	})
	s := connectedSession(t, mt)

	_, err := s.CallTool(context.Background(), "weird", nil)
	if err == nil {
		t.Fatal("expected error for unknown content type, got nil")
	}
}

// Domain-level tool errors (isError results) are ordinary text to the
// caller — the model reads and reacts to them.
func TestSession_CallTool_DomainError(t *testing.T) {
	mt := newMockTransport()
	mt.addResponse("tools/call", callToolResult{
		Content: []ContentBlock{
			{Type: "text", Text: "Error: Cannot divide by zero"},
		},
		IsError: true,
	})
	s := connectedSession(t, mt)

	results, err := s.CallTool(context.Background(), "divide", map[string]any{"a": 1, "b": 0})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if len(results) != 1 || results[0] != "Error: Cannot divide by zero" {
		t.Errorf("results = %q", results)
	}
}

func TestSession_CallTool_RPCError(t *testing.T) {
	mt := newMockTransport()
	mt.addError("tools/call", -32601, "Method not found")
	s := connectedSession(t, mt)

	_, err := s.CallTool(context.Background(), "nonexistent", nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Errorf("error = %v, want wrapped *RPCError", err)
	}
}

func TestSession_ReadResource(t *testing.T) {
	mt := newMockTransport()
	mt.addResponse("resources/read", readResourceResult{
		Contents: []ResourceContents{
			TextContents("resource://math-constants", "text/plain", "pi = 3.14159"),
		},
	})
	s := connectedSession(t, mt)

	contents, err := s.ReadResource(context.Background(), "resource://math-constants")
	if err != nil {
		t.Fatalf("ReadResource: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("got %d contents, want 1", len(contents))
	}
	if !contents[0].IsText() || contents[0].Text != "pi = 3.14159" {
		t.Errorf("contents[0] = %+v", contents[0])
	}
}

func TestSession_GetPrompt(t *testing.T) {
	mt := newMockTransport()
	mt.addResponse("prompts/get", getPromptResult{
		Messages: []PromptMessage{
			{Role: "user", Content: ContentBlock{Type: "text", Text: "Please calculate 2+2"}},
		},
	})
	s := connectedSession(t, mt)

	messages, err := s.GetPrompt(context.Background(), "calculate_operation", map[string]string{"operation": "2+2"})
	if err != nil {
		t.Fatalf("GetPrompt: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(messages))
	}
	if messages[0].Role != "user" || messages[0].Content.Text != "Please calculate 2+2" {
		t.Errorf("messages[0] = %+v", messages[0])
	}

	// Arguments travel on the wire.
	var sent *Request
	for i := range mt.sent {
		if mt.sent[i].Method == "prompts/get" {
			sent = &mt.sent[i]
		}
	}
	if sent == nil {
		t.Fatal("prompts/get was never sent")
	}
	params, ok := sent.Params.(map[string]any)
	if !ok {
		t.Fatalf("params = %T, want map", sent.Params)
	}
	if params["name"] != "calculate_operation" {
		t.Errorf("params[name] = %v", params["name"])
	}
}

func TestSession_Name(t *testing.T) {
	s := NewSession("calculator", StdioConfig{Command: "unused"}, nil)
	if got := s.Name(); got != "calculator" {
		t.Errorf("Name() = %q, want %q", got, "calculator")
	}
}
