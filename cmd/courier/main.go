// Courier is a terminal chat assistant backed by an MCP server.
//
// It launches the configured MCP (Model Context Protocol) server as a
// subprocess, discovers the server's tools, resources, and prompts,
// and drives a multi-round agentic conversation against the Anthropic
// Messages API: the model may request tool calls, inspect their
// results, and repeat before answering. Configuration is loaded from a
// single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	courier                  Start an interactive chat (default)
//	courier chat             Same as above
//	courier usage            Print token usage for the last 30 days
//	courier version          Print version and build information
//	courier -o json version  Output version information as JSON
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/courier-agent/courier/internal/agent"
	"github.com/courier-agent/courier/internal/buildinfo"
	"github.com/courier-agent/courier/internal/config"
	"github.com/courier-agent/courier/internal/llm"
	"github.com/courier-agent/courier/internal/mcp"
	"github.com/courier-agent/courier/internal/usage"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdin, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		stop()
		os.Exit(1)
	}
}

// run is the real entry point for the courier command. All OS-level
// dependencies are injected as parameters: ctx controls the process
// lifetime, stdin supplies user input, stdout receives chat output,
// stderr receives structured logs, and args is os.Args[1:].
//
// Arguments are parsed by hand. The flag package relies on
// package-level globals (flag.CommandLine), which makes it impossible
// to call run() concurrently from tests, and the argument surface here
// is small enough that manual parsing is clearer than a CLI framework.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			return fmt.Errorf("unknown argument: %s (try -help)", args[i])
		}
	}

	switch command {
	case "", "chat":
		return runChat(ctx, stdin, stdout, stderr, configPath)
	case "usage":
		return runUsage(stdout, configPath)
	case "version":
		return runVersion(stdout, outputFmt)
	default:
		return fmt.Errorf("unknown command: %s (try -help)", command)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprintf(w, `courier — MCP-backed chat assistant

Usage:
  courier [chat]           Start an interactive chat (default)
  courier usage            Print token usage for the last 30 days
  courier version          Print version and build information

Options:
  -config <path>           Config file (default: search %v)
  -o, --output <fmt>       Output format for version: text or json
`, config.DefaultSearchPaths())
	return nil
}

func runVersion(w io.Writer, outputFmt string) error {
	if outputFmt == "json" {
		return json.NewEncoder(w).Encode(buildinfo.Info())
	}
	fmt.Fprintf(w, "courier %s (%s, built %s)\n",
		buildinfo.Version, buildinfo.GitCommit, buildinfo.BuildTime)
	return nil
}

// runChat connects to the MCP server, discovers its capabilities, and
// runs the interactive read-eval-respond loop until the user exits or
// the context is cancelled. The session is released via a deferred
// Disconnect so teardown happens on every exit path, including errors
// mid-conversation.
func runChat(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, configPath string) error {
	cfg, path, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(stderr, cfg.LogLevel)
	if err != nil {
		return err
	}
	logger.Info("courier starting", "version", buildinfo.Version, "config", path)

	intents, err := agent.CompileIntents(cfg.Agent.PromptIntents)
	if err != nil {
		return err
	}

	store, err := usage.NewStore(filepath.Join(cfg.DataDir, "usage.db"))
	if err != nil {
		return fmt.Errorf("open usage store: %w", err)
	}
	defer store.Close()

	session := mcp.NewSession(cfg.Server.Name, mcp.StdioConfig{
		Command: cfg.Server.Command,
		Args:    cfg.Server.Args,
		Env:     cfg.Server.Env,
		Logger:  logger,
	}, logger)

	if err := session.Connect(ctx); err != nil {
		return fmt.Errorf("connect to MCP server: %w", err)
	}
	defer session.Disconnect()

	llmClient := llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger)

	a := agent.New(llmClient, session, agent.Options{
		Model:         cfg.Anthropic.Model,
		MaxTokens:     cfg.Anthropic.MaxTokens,
		SystemPrompt:  cfg.Agent.SystemPrompt,
		MaxToolRounds: cfg.Agent.MaxToolRounds,
		Intents:       intents,
		SessionID:     uuid.NewString(),
		Usage:         store,
		Pricing:       cfg.Pricing,
	}, logger)

	if err := a.Discover(ctx); err != nil {
		return err
	}

	printCapabilities(stdout, session, a)

	fmt.Fprintln(stdout, "Welcome to courier. Type your message and press Enter to chat.")
	fmt.Fprintln(stdout, "Type 'quit' or 'exit' to end the conversation.")
	fmt.Fprintln(stdout)

	scanner := bufio.NewScanner(stdin)
	for {
		// Turns run to completion; cancellation is only observed
		// between turns (and inside a turn via the ctx passed down).
		if ctx.Err() != nil {
			fmt.Fprintln(stdout, "\nAssistant: Goodbye!")
			return nil
		}

		fmt.Fprint(stdout, "You: ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			return nil // EOF
		}

		input := strings.TrimSpace(scanner.Text())

		switch strings.ToLower(input) {
		case "quit", "exit", "goodbye":
			fmt.Fprintln(stdout, "\nAssistant: Goodbye! Have a great day!")
			return nil
		case "":
			continue
		}

		answer, err := a.RunTurn(ctx, input)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				fmt.Fprintln(stdout, "\nAssistant: Goodbye!")
				return nil
			}
			logger.Error("turn failed", "error", err)
			fmt.Fprintf(stdout, "\n[Error: %v]\n\n", err)
			continue
		}

		fmt.Fprintf(stdout, "\nAssistant: %s\n\n", answer)
	}
}

// printCapabilities summarizes what the connected server offers.
func printCapabilities(w io.Writer, session *mcp.Session, a *agent.Agent) {
	serverName, serverVer := session.ServerInfo()
	fmt.Fprintf(w, "Connected to MCP server %s (%s %s)\n", session.Name(), serverName, serverVer)

	toolNames := a.ToolNames()
	if len(toolNames) > 0 {
		fmt.Fprintf(w, "  Tools: %s\n", strings.Join(toolNames, ", "))
	} else {
		fmt.Fprintf(w, "  Tools: none\n")
	}
	fmt.Fprintf(w, "  Resources: %d available (%d templates)\n",
		a.ResourceCount(), a.ResourceTemplateCount())

	promptNames := a.PromptNames()
	fmt.Fprintf(w, "  Prompts: %d available\n", len(promptNames))
	if len(promptNames) > 0 {
		fmt.Fprintf(w, "    Available prompts: %s\n", strings.Join(promptNames, ", "))
	}
	fmt.Fprintln(w)
}

// runUsage prints a token usage summary for the last 30 days.
func runUsage(stdout io.Writer, configPath string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	store, err := usage.NewStore(filepath.Join(cfg.DataDir, "usage.db"))
	if err != nil {
		return fmt.Errorf("open usage store: %w", err)
	}
	defer store.Close()

	end := time.Now()
	start := end.AddDate(0, 0, -30)

	sum, err := store.Summary(start, end)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Token usage, last 30 days:\n")
	fmt.Fprintf(stdout, "  Requests:      %d\n", sum.TotalRecords)
	fmt.Fprintf(stdout, "  Input tokens:  %d\n", sum.TotalInputTokens)
	fmt.Fprintf(stdout, "  Output tokens: %d\n", sum.TotalOutputTokens)
	fmt.Fprintf(stdout, "  Cost:          $%.4f\n", sum.TotalCostUSD)

	byModel, err := store.SummaryByModel(start, end)
	if err != nil {
		return err
	}
	if len(byModel) > 0 {
		fmt.Fprintf(stdout, "\nBy model:\n")
		for model, s := range byModel {
			fmt.Fprintf(stdout, "  %-40s %d requests, $%.4f\n", model, s.TotalRecords, s.TotalCostUSD)
		}
	}
	return nil
}

func loadConfig(explicit string) (*config.Config, string, error) {
	path, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// newLogger builds the process logger writing to w at the configured
// level. Logs go to stderr so chat output on stdout stays clean.
func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	lvl, err := config.ParseLogLevel(level)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       lvl,
		ReplaceAttr: config.ReplaceLogLevelNames,
	})), nil
}
