// Package llm provides the LLM client contract and the Anthropic
// Messages API implementation.
//
// The message model preserves raw content blocks end to end: the
// agentic loop must feed the assistant's response content back
// verbatim (including tool_use blocks) for the tool-calling protocol
// to work, so nothing here flattens content prematurely.
package llm

import (
	"context"
	"log/slog"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// StopReasonToolUse signals that the model stopped to request tool
// execution and expects tool results before continuing.
const StopReasonToolUse = "tool_use"

// Content block type tags.
const (
	TypeText       = "text"
	TypeImage      = "image"
	TypeToolUse    = "tool_use"
	TypeToolResult = "tool_result"
)

// ContentBlock is a single content item in a message or response.
// Type selects which fields are meaningful:
//
//	text        → Text
//	image       → Source
//	tool_use    → ID, Name, Input
//	tool_result → ToolUseID, Content, IsError
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// tool_use fields (model → caller).
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result fields (caller → model).
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// image fields.
	Source *ImageSource `json:"source,omitempty"`
}

// ImageSource carries an inline base64-encoded image.
type ImageSource struct {
	Type      string `json:"type"` // always "base64"
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// TextBlock constructs a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: TypeText, Text: text}
}

// ImageBlock constructs an inline base64 image content block.
func ImageBlock(mediaType, data string) ContentBlock {
	return ContentBlock{
		Type: TypeImage,
		Source: &ImageSource{
			Type:      "base64",
			MediaType: mediaType,
			Data:      data,
		},
	}
}

// ToolResultBlock constructs a tool_result content block answering the
// tool_use block identified by toolUseID.
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{
		Type:      TypeToolResult,
		ToolUseID: toolUseID,
		Content:   content,
		IsError:   isError,
	}
}

// Message is one role-tagged entry in the conversation.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// UserMessage constructs a user message from content blocks.
func UserMessage(blocks ...ContentBlock) Message {
	return Message{Role: RoleUser, Content: blocks}
}

// Tool is a tool definition in the shape the Messages API expects:
// exactly name, description, and input schema.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToolChoice controls how the model selects tools.
type ToolChoice struct {
	Type string `json:"type"` // "auto", "any", "tool"
}

// Request is a Messages API request. The struct is wire-shaped; it
// marshals directly to the Anthropic JSON payload.
type Request struct {
	Model      string      `json:"model"`
	MaxTokens  int         `json:"max_tokens"`
	System     string      `json:"system,omitempty"`
	Messages   []Message   `json:"messages"`
	Tools      []Tool      `json:"tools,omitempty"`
	ToolChoice *ToolChoice `json:"tool_choice,omitempty"`
}

// Usage reports token consumption for one request.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is a Messages API response.
type Response struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Model      string         `json:"model"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// ToolUses returns the tool_use blocks of the response, in order.
func (r *Response) ToolUses() []ContentBlock {
	var uses []ContentBlock
	for _, b := range r.Content {
		if b.Type == TypeToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}

// FirstText returns the first non-blank text block of the response,
// or ok=false when the response contains none.
func (r *Response) FirstText() (text string, ok bool) {
	for _, b := range r.Content {
		if b.Type == TypeText && len(b.Text) > 0 && !isBlank(b.Text) {
			return b.Text, true
		}
	}
	return "", false
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}

// Client is the interface the agent loop consumes.
type Client interface {
	// CreateMessage sends one request and returns the full response.
	CreateMessage(ctx context.Context, req *Request) (*Response, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
