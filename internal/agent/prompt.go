package agent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/courier-agent/courier/internal/config"
	"github.com/courier-agent/courier/internal/mcp"
)

// Intent binds a server prompt to a compiled input recognizer. When
// the user's input matches the pattern and the server exposes the
// prompt, the rendered prompt becomes the turn's system instruction.
type Intent struct {
	// Prompt is the server-side prompt name.
	Prompt string

	// Pattern is tested against the raw user input. Nil matches
	// every input.
	Pattern *regexp.Regexp

	// Argument is the prompt argument that receives the user input.
	// Empty renders the prompt without arguments.
	Argument string
}

// CompileIntents compiles configured prompt intents. An invalid
// pattern is a configuration error.
func CompileIntents(cfgs []config.PromptIntent) ([]Intent, error) {
	intents := make([]Intent, 0, len(cfgs))
	for _, c := range cfgs {
		var re *regexp.Regexp
		if c.Pattern != "" {
			var err error
			re, err = regexp.Compile(c.Pattern)
			if err != nil {
				return nil, fmt.Errorf("prompt intent %q: bad pattern: %w", c.Prompt, err)
			}
		}
		intents = append(intents, Intent{
			Prompt:   c.Prompt,
			Pattern:  re,
			Argument: c.Argument,
		})
	}
	return intents, nil
}

// systemInstruction selects the system instruction for one turn: the
// first configured intent whose prompt the server exposes and whose
// pattern matches the input is rendered; otherwise the default
// instruction is used. A render failure falls back to the default as
// well — an empty rendering never silences the system prompt.
func (a *Agent) systemInstruction(ctx context.Context, logger *slog.Logger, input string) string {
	for _, intent := range a.opts.Intents {
		if !a.hasPrompt(intent.Prompt) {
			continue
		}
		if intent.Pattern != nil && !intent.Pattern.MatchString(input) {
			continue
		}

		args := map[string]string{}
		if intent.Argument != "" {
			args[intent.Argument] = input
		}

		if text := a.renderPromptAsSystem(ctx, logger, intent.Prompt, args); text != "" {
			return text
		}
		break
	}
	return a.opts.SystemPrompt
}

// hasPrompt reports whether the discovery snapshot contains the named
// prompt.
func (a *Agent) hasPrompt(name string) bool {
	for _, p := range a.prompts {
		if p.Name == name {
			return true
		}
	}
	return false
}

// renderPromptAsSystem fetches the named prompt and flattens the
// textual content of its messages, in order, joined by blank lines.
// Any error yields an empty string so the caller falls back to the
// default system instruction rather than failing the turn.
func (a *Agent) renderPromptAsSystem(ctx context.Context, logger *slog.Logger, name string, args map[string]string) string {
	messages, err := a.provider.GetPrompt(ctx, name, args)
	if err != nil {
		logger.Warn("failed to load prompt, using default system instruction",
			"prompt", name,
			"error", err,
		)
		return ""
	}

	var parts []string
	for _, m := range messages {
		if m.Content.Type == mcp.ContentTypeText && m.Content.Text != "" {
			parts = append(parts, m.Content.Text)
		}
	}

	return strings.Join(parts, "\n\n")
}
