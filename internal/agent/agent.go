// Package agent implements the agentic loop: it builds each turn's
// input from the user's text plus server-provided context, calls the
// LLM, dispatches requested tool calls back to the MCP session, and
// repeats until the model produces a final answer.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/courier-agent/courier/internal/config"
	"github.com/courier-agent/courier/internal/llm"
	"github.com/courier-agent/courier/internal/mcp"
	"github.com/courier-agent/courier/internal/usage"
)

// DefaultSystemPrompt is used when no server prompt matches the user's
// input and no override is configured.
const DefaultSystemPrompt = "You are a helpful assistant."

// NoAnswer is returned as the final answer when the model's last
// response contains no non-blank text block.
const NoAnswer = "[no text response available]"

// Provider is the capability surface the agent consumes from an MCP
// session. *mcp.Session satisfies it; tests substitute fakes.
type Provider interface {
	ListTools(ctx context.Context) ([]mcp.ToolDefinition, error)
	ListResources(ctx context.Context) ([]mcp.Resource, error)
	ListResourceTemplates(ctx context.Context) ([]mcp.ResourceTemplate, error)
	ListPrompts(ctx context.Context) ([]mcp.Prompt, error)
	CallTool(ctx context.Context, name string, args map[string]any) ([]string, error)
	ReadResource(ctx context.Context, uri string) ([]mcp.ResourceContents, error)
	GetPrompt(ctx context.Context, name string, args map[string]string) ([]mcp.PromptMessage, error)
}

// Options configures an Agent.
type Options struct {
	// Model is the LLM model identifier.
	Model string

	// MaxTokens caps the model's output per request.
	MaxTokens int

	// SystemPrompt is the default system instruction. Empty selects
	// DefaultSystemPrompt.
	SystemPrompt string

	// MaxToolRounds bounds tool-use rounds per turn. Zero means
	// unlimited: the loop ends only when the model stops requesting
	// tools.
	MaxToolRounds int

	// Intents select server prompts by input pattern. See
	// CompileIntents.
	Intents []Intent

	// SessionID labels usage records for this process run.
	SessionID string

	// Usage, when non-nil, receives a token usage record per LLM
	// call. Pricing maps model names to per-token costs.
	Usage   *usage.Store
	Pricing map[string]config.PricingEntry
}

// Agent drives the agentic loop against one LLM client and one MCP
// provider. It holds a point-in-time snapshot of the provider's
// capabilities, taken by Discover; call Discover again to refresh.
//
// An Agent is single-threaded: one turn at a time, one outstanding
// request at a time.
type Agent struct {
	llm      llm.Client
	provider Provider
	logger   *slog.Logger
	opts     Options

	tools     []llm.Tool
	resources []mcp.Resource
	templates []mcp.ResourceTemplate
	prompts   []mcp.Prompt
}

// New creates an agent. The provider must already be connected before
// Discover or RunTurn are called.
func New(llmClient llm.Client, provider Provider, opts Options, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	return &Agent{
		llm:      llmClient,
		provider: provider,
		logger:   logger,
		opts:     opts,
	}
}

// Discover takes a snapshot of the provider's tools, resources,
// resource templates, and prompts. Tool definitions are reshaped into
// the three fields the LLM tool contract expects.
func (a *Agent) Discover(ctx context.Context) error {
	tools, err := a.provider.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("discover tools: %w", err)
	}

	resources, err := a.provider.ListResources(ctx)
	if err != nil {
		return fmt.Errorf("discover resources: %w", err)
	}

	templates, err := a.provider.ListResourceTemplates(ctx)
	if err != nil {
		return fmt.Errorf("discover resource templates: %w", err)
	}

	prompts, err := a.provider.ListPrompts(ctx)
	if err != nil {
		return fmt.Errorf("discover prompts: %w", err)
	}

	a.tools = reshapeTools(tools)
	a.resources = resources
	a.templates = templates
	a.prompts = prompts

	a.logger.Info("discovered server capabilities",
		"tools", len(a.tools),
		"resources", len(a.resources),
		"resource_templates", len(a.templates),
		"prompts", len(a.prompts),
	)
	return nil
}

// reshapeTools converts MCP tool definitions to the LLM tool shape:
// exactly name, description, and input schema.
func reshapeTools(defs []mcp.ToolDefinition) []llm.Tool {
	tools := make([]llm.Tool, 0, len(defs))
	for _, d := range defs {
		schema := d.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		tools = append(tools, llm.Tool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: schema,
		})
	}
	return tools
}

// ToolNames returns the discovered tool names, in discovery order.
func (a *Agent) ToolNames() []string {
	names := make([]string, 0, len(a.tools))
	for _, t := range a.tools {
		names = append(names, t.Name)
	}
	return names
}

// PromptNames returns the discovered prompt names, in discovery order.
func (a *Agent) PromptNames() []string {
	names := make([]string, 0, len(a.prompts))
	for _, p := range a.prompts {
		names = append(names, p.Name)
	}
	return names
}

// ResourceCount returns the number of discovered resources.
func (a *Agent) ResourceCount() int { return len(a.resources) }

// ResourceTemplateCount returns the number of discovered resource templates.
func (a *Agent) ResourceTemplateCount() int { return len(a.templates) }

// RunTurn executes one user turn: build the input, call the model,
// execute any requested tools, and repeat until the model stops
// requesting tools. Returns the first non-blank text block of the
// final response, or NoAnswer when there is none.
//
// The conversation built here lives only for the duration of the turn.
func (a *Agent) RunTurn(ctx context.Context, input string) (string, error) {
	requestID := uuid.NewString()
	logger := a.logger.With("request_id", requestID)

	// Build the user content: the input text plus, when the server
	// exposes resources, every resource's contents as context. No
	// relevance filtering — all discovered resources are injected.
	content := []llm.ContentBlock{llm.TextBlock(input)}
	if len(a.resources) > 0 {
		content = append(content, a.loadResourceContext(ctx, logger)...)
	}

	system := a.systemInstruction(ctx, logger, input)

	messages := []llm.Message{llm.UserMessage(content...)}

	rounds := 0
	for {
		req := &llm.Request{
			Model:     a.opts.Model,
			MaxTokens: a.opts.MaxTokens,
			System:    system,
			Messages:  messages,
		}
		if len(a.tools) > 0 {
			req.Tools = a.tools
			req.ToolChoice = &llm.ToolChoice{Type: "auto"}
		}

		resp, err := a.llm.CreateMessage(ctx, req)
		if err != nil {
			return "", fmt.Errorf("llm request: %w", err)
		}

		a.recordUsage(ctx, logger, requestID, resp)

		// The assistant's raw content is appended unconditionally,
		// including tool_use blocks — the next round needs the exact
		// conversational context.
		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})

		if resp.StopReason != llm.StopReasonToolUse {
			if text, ok := resp.FirstText(); ok {
				return text, nil
			}
			logger.Warn("model response contained no text blocks")
			return NoAnswer, nil
		}

		rounds++
		if a.opts.MaxToolRounds > 0 && rounds > a.opts.MaxToolRounds {
			return "", fmt.Errorf("turn exceeded %d tool-use rounds", a.opts.MaxToolRounds)
		}

		results := a.executeToolUses(ctx, logger, resp.ToolUses())
		messages = append(messages, llm.UserMessage(results...))
	}
}

// executeToolUses runs the requested tool calls strictly in order —
// calls may depend on shared server-side state, so a later call must
// not be issued before the prior one's result is known. A failed call
// becomes an is_error tool_result so the model can react; it never
// aborts the turn.
func (a *Agent) executeToolUses(ctx context.Context, logger *slog.Logger, uses []llm.ContentBlock) []llm.ContentBlock {
	results := make([]llm.ContentBlock, 0, len(uses))
	for _, use := range uses {
		logger.Info("using tool", "tool", use.Name, "tool_use_id", use.ID)

		texts, err := a.provider.CallTool(ctx, use.Name, use.Input)
		if err != nil {
			logger.Error("tool execution failed", "tool", use.Name, "error", err)
			results = append(results, llm.ToolResultBlock(use.ID, "tool execution failed: "+err.Error(), true))
			continue
		}

		results = append(results, llm.ToolResultBlock(use.ID, strings.Join(texts, "\n"), false))
	}
	return results
}

// recordUsage persists a token usage record when a store is attached.
// Accounting failures are logged, never fatal to the turn.
func (a *Agent) recordUsage(ctx context.Context, logger *slog.Logger, requestID string, resp *llm.Response) {
	if a.opts.Usage == nil {
		return
	}

	rec := usage.Record{
		RequestID:    requestID,
		SessionID:    a.opts.SessionID,
		Model:        resp.Model,
		Provider:     "anthropic",
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		CostUSD:      usage.ComputeCost(resp.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens, a.opts.Pricing),
	}
	if err := a.opts.Usage.Record(ctx, rec); err != nil {
		logger.Warn("failed to record token usage", "error", err)
	}
}
