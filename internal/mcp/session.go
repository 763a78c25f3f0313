package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/courier-agent/courier/internal/buildinfo"
)

// protocolVersion is the MCP protocol version we advertise during initialization.
const protocolVersion = "2024-11-05"

// Lifecycle precondition errors. These indicate caller bugs, not
// transient failures, and are never retried.
var (
	// ErrAlreadyConnected is returned by Connect when the session is
	// already connected.
	ErrAlreadyConnected = errors.New("mcp: session already connected")

	// ErrNotConnected is returned by protocol operations invoked
	// before Connect (or after Disconnect).
	ErrNotConnected = errors.New("mcp: session not connected")
)

// ToolDefinition is an MCP tool as returned by tools/list. The three
// fields are exactly the shape the LLM tool-calling contract expects.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Result payloads for the protocol operations.
type (
	toolsListResult struct {
		Tools []ToolDefinition `json:"tools"`
	}

	callToolResult struct {
		Content []ContentBlock `json:"content"`
		IsError bool           `json:"isError,omitempty"`
	}

	resourcesListResult struct {
		Resources []Resource `json:"resources"`
	}

	resourceTemplatesListResult struct {
		ResourceTemplates []ResourceTemplate `json:"resourceTemplates"`
	}

	readResourceResult struct {
		Contents []ResourceContents `json:"contents"`
	}

	promptsListResult struct {
		Prompts []Prompt `json:"prompts"`
	}

	getPromptResult struct {
		Description string          `json:"description,omitempty"`
		Messages    []PromptMessage `json:"messages"`
	}
)

// serverInfo is returned in the initialize response.
type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// serverCapabilities describes what an MCP server supports.
type serverCapabilities struct {
	Tools     *struct{} `json:"tools,omitempty"`
	Resources *struct{} `json:"resources,omitempty"`
	Prompts   *struct{} `json:"prompts,omitempty"`
}

// initializeResult is the full initialize response result.
type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ServerInfo      serverInfo         `json:"serverInfo"`
	Capabilities    serverCapabilities `json:"capabilities"`
}

// Session owns one MCP server connection: the subprocess-backed
// transport and the protocol state on top of it. A Session is created
// disconnected; Connect establishes everything in order and Disconnect
// releases it all. At most one connection exists at a time.
//
// Discovery results are never cached — every List call is a fresh
// point-in-time snapshot from the server.
type Session struct {
	name   string
	logger *slog.Logger

	// dial builds the transport for a connection attempt. Overridden
	// in tests to substitute a mock transport.
	dial func() Transport

	nextID atomic.Int64

	mu         sync.Mutex
	transport  Transport
	connected  bool
	serverName string
	serverVer  string
}

// NewSession creates a disconnected session for the MCP server
// described by cfg. The server subprocess is not launched until
// Connect.
func NewSession(name string, cfg StdioConfig, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("mcp_server", name)
	if cfg.Logger == nil {
		cfg.Logger = logger
	}
	return &Session{
		name:   name,
		logger: logger,
		dial:   func() Transport { return NewStdioTransport(cfg) },
	}
}

// Name returns the friendly label for this server connection.
func (s *Session) Name() string {
	return s.name
}

// Connected reports whether the session is currently connected.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Connect launches the server subprocess, opens the stdio channel, and
// performs the MCP handshake (initialize request followed by the
// notifications/initialized notification).
//
// Calling Connect on a connected session is a programming error and
// returns ErrAlreadyConnected. If any step fails, everything acquired
// so far is released and the session remains disconnected.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	transport := s.dial()
	s.mu.Unlock()

	if err := transport.Start(ctx); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}

	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "courier",
			"version": buildinfo.Version,
		},
	}

	req := NewRequest(s.nextID.Add(1), "initialize", params)
	resp, err := transport.Send(ctx, req)
	if err == nil && resp.Error != nil {
		err = resp.Error
	}
	if err != nil {
		transport.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	var result initializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		transport.Close()
		return fmt.Errorf("unmarshal initialize result: %w", err)
	}

	// Complete the handshake before the session is usable.
	if err := transport.Notify(ctx, NewNotification("notifications/initialized", nil)); err != nil {
		transport.Close()
		return fmt.Errorf("send initialized notification: %w", err)
	}

	s.mu.Lock()
	s.transport = transport
	s.connected = true
	s.serverName = result.ServerInfo.Name
	s.serverVer = result.ServerInfo.Version
	s.mu.Unlock()

	s.logger.Info("MCP server initialized",
		"server_name", result.ServerInfo.Name,
		"server_version", result.ServerInfo.Version,
		"protocol_version", result.ProtocolVersion,
	)

	return nil
}

// Disconnect releases the protocol state, closes the channel, and lets
// the subprocess terminate, in that order. It is idempotent: calling
// it on a disconnected session (including one that never connected) is
// a no-op. Callers should `defer session.Disconnect()` right after a
// successful Connect so teardown runs on every exit path.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	transport := s.transport
	s.transport = nil
	s.connected = false
	s.serverName = ""
	s.serverVer = ""
	s.mu.Unlock()

	if transport == nil {
		return nil
	}

	s.logger.Info("disconnecting MCP session")
	return transport.Close()
}

// ServerInfo returns the server name and version reported during the
// handshake, or empty strings when disconnected.
func (s *Session) ServerInfo() (name, version string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverName, s.serverVer
}

// ListTools calls tools/list and returns the available tool
// definitions. An empty list is valid and only logged as a warning.
func (s *Session) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	resp, err := s.send(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}

	var result toolsListResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("unmarshal tools/list result: %w", err)
	}

	if len(result.Tools) == 0 {
		s.logger.Warn("no tools found on server")
	}
	return result.Tools, nil
}

// ListResources calls resources/list. An empty list is valid and only
// logged as a warning.
func (s *Session) ListResources(ctx context.Context) ([]Resource, error) {
	resp, err := s.send(ctx, "resources/list", nil)
	if err != nil {
		return nil, fmt.Errorf("resources/list: %w", err)
	}

	var result resourcesListResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("unmarshal resources/list result: %w", err)
	}

	if len(result.Resources) == 0 {
		s.logger.Warn("no resources found on server")
	}
	return result.Resources, nil
}

// ListResourceTemplates calls resources/templates/list. An empty list
// is valid and only logged as a warning.
func (s *Session) ListResourceTemplates(ctx context.Context) ([]ResourceTemplate, error) {
	resp, err := s.send(ctx, "resources/templates/list", nil)
	if err != nil {
		return nil, fmt.Errorf("resources/templates/list: %w", err)
	}

	var result resourceTemplatesListResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("unmarshal resources/templates/list result: %w", err)
	}

	if len(result.ResourceTemplates) == 0 {
		s.logger.Warn("no resource templates found on server")
	}
	return result.ResourceTemplates, nil
}

// ListPrompts calls prompts/list. An empty list is valid and only
// logged as a warning.
func (s *Session) ListPrompts(ctx context.Context) ([]Prompt, error) {
	resp, err := s.send(ctx, "prompts/list", nil)
	if err != nil {
		return nil, fmt.Errorf("prompts/list: %w", err)
	}

	var result promptsListResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("unmarshal prompts/list result: %w", err)
	}

	if len(result.Prompts) == 0 {
		s.logger.Warn("no prompts found on server")
	}
	return result.Prompts, nil
}

// CallTool invokes a tool by name and flattens the result content
// blocks to strings, preserving order (see FlattenContent for the
// mapping). An empty content list is valid and yields an empty result.
//
// Servers encode domain-level failures (bad input, missing entity) as
// ordinary text results flagged isError; those flow through unchanged
// so the model can read and react to them.
func (s *Session) CallTool(ctx context.Context, name string, args map[string]any) ([]string, error) {
	params := map[string]any{
		"name":      name,
		"arguments": args,
	}
	if args == nil {
		params["arguments"] = map[string]any{}
	}

	s.logger.Debug("calling tool", "tool", name, "args", args)

	resp, err := s.send(ctx, "tools/call", params)
	if err != nil {
		return nil, fmt.Errorf("tools/call %s: %w", name, err)
	}

	var result callToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("unmarshal tools/call result: %w", err)
	}

	if len(result.Content) == 0 {
		s.logger.Warn("no content in tool call result", "tool", name)
		return nil, nil
	}

	if result.IsError {
		s.logger.Debug("tool reported a domain-level error", "tool", name)
	}

	texts, err := FlattenContent(result.Content)
	if err != nil {
		return nil, fmt.Errorf("tools/call %s: %w", name, err)
	}
	return texts, nil
}

// ReadResource fetches the contents of a resource by URI. An empty
// contents list is valid and only logged as a warning.
func (s *Session) ReadResource(ctx context.Context, uri string) ([]ResourceContents, error) {
	s.logger.Debug("reading resource", "uri", uri)

	resp, err := s.send(ctx, "resources/read", map[string]any{"uri": uri})
	if err != nil {
		return nil, fmt.Errorf("resources/read %s: %w", uri, err)
	}

	var result readResourceResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("unmarshal resources/read result: %w", err)
	}

	if len(result.Contents) == 0 {
		s.logger.Warn("no content returned for resource", "uri", uri)
	}
	return result.Contents, nil
}

// GetPrompt fetches a prompt template with the given arguments
// substituted, returning its rendered role-tagged messages. An empty
// message list is valid and only logged as a warning.
func (s *Session) GetPrompt(ctx context.Context, name string, args map[string]string) ([]PromptMessage, error) {
	if args == nil {
		args = map[string]string{}
	}

	s.logger.Debug("loading prompt", "prompt", name, "args", args)

	params := map[string]any{
		"name":      name,
		"arguments": args,
	}

	resp, err := s.send(ctx, "prompts/get", params)
	if err != nil {
		return nil, fmt.Errorf("prompts/get %s: %w", name, err)
	}

	var result getPromptResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("unmarshal prompts/get result: %w", err)
	}

	if len(result.Messages) == 0 {
		s.logger.Warn("no messages returned for prompt", "prompt", name)
	}
	return result.Messages, nil
}

// Ping checks whether the MCP server is responsive.
func (s *Session) Ping(ctx context.Context) error {
	_, err := s.send(ctx, "ping", nil)
	return err
}

// send issues a JSON-RPC request and checks for protocol-level errors.
// All protocol operations require a connected session.
func (s *Session) send(ctx context.Context, method string, params any) (*Response, error) {
	s.mu.Lock()
	transport := s.transport
	connected := s.connected
	s.mu.Unlock()

	if !connected {
		return nil, ErrNotConnected
	}

	req := NewRequest(s.nextID.Add(1), method, params)

	resp, err := transport.Send(ctx, req)
	if err != nil {
		return nil, err
	}

	if resp.Error != nil {
		return nil, resp.Error
	}

	return resp, nil
}
