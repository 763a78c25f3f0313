// Package config handles courier configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./courier.yaml, ~/.config/courier/courier.yaml, /etc/courier/courier.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"courier.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "courier", "courier.yaml"))
	}

	paths = append(paths, "/etc/courier/courier.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all courier configuration.
type Config struct {
	Anthropic AnthropicConfig         `yaml:"anthropic"`
	Server    ServerConfig            `yaml:"server"`
	Agent     AgentConfig             `yaml:"agent"`
	Pricing   map[string]PricingEntry `yaml:"pricing"`
	DataDir   string                  `yaml:"data_dir"`
	LogLevel  string                  `yaml:"log_level"`
}

// AnthropicConfig defines Anthropic API settings. The API key may be
// left empty in the file and supplied via the ANTHROPIC_API_KEY
// environment variable instead; Load applies the override once, so
// nothing downstream reads the environment directly.
type AnthropicConfig struct {
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// ServerConfig describes how to launch the MCP server subprocess.
type ServerConfig struct {
	// Name is a friendly label for the connection, used in logs.
	Name string `yaml:"name"`
	// Command is the executable to run (e.g., "uv", "python", "node").
	Command string `yaml:"command"`
	// Args are command-line arguments passed to the executable.
	Args []string `yaml:"args"`
	// Env are additional environment variables for the subprocess
	// (format: "KEY=VALUE"). Appended to the parent environment.
	Env []string `yaml:"env"`
}

// AgentConfig tunes the agentic loop.
type AgentConfig struct {
	// SystemPrompt is the default system instruction used when no
	// server prompt matches the user's input. Empty selects a
	// built-in default.
	SystemPrompt string `yaml:"system_prompt"`

	// MaxToolRounds bounds the number of tool-use rounds per turn.
	// Zero (the default) means unlimited — the loop ends only when
	// the model stops requesting tools.
	MaxToolRounds int `yaml:"max_tool_rounds"`

	// PromptIntents map discovered server prompts to input patterns.
	// The first intent whose prompt exists on the server and whose
	// pattern matches the user input is rendered as this turn's
	// system instruction.
	PromptIntents []PromptIntent `yaml:"prompt_intents"`
}

// PromptIntent binds a server prompt to a recognizer pattern.
type PromptIntent struct {
	// Prompt is the server-side prompt name.
	Prompt string `yaml:"prompt"`
	// Pattern is a regular expression tested against the user input.
	// Empty matches every input.
	Pattern string `yaml:"pattern"`
	// Argument is the prompt argument that receives the user input.
	Argument string `yaml:"argument"`
}

// PricingEntry defines per-model token pricing in USD per million tokens.
type PricingEntry struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// Defaults applied when fields are unset.
const (
	DefaultModel     = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens = 4096
)

// Load reads and parses the config file at path, then applies
// environment overrides and defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	// Environment wins over the file for the API key so the key can
	// stay out of config files checked into dotfiles repos.
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		cfg.Anthropic.APIKey = key
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Anthropic.Model == "" {
		c.Anthropic.Model = DefaultModel
	}
	if c.Anthropic.MaxTokens == 0 {
		c.Anthropic.MaxTokens = DefaultMaxTokens
	}
	if c.Server.Name == "" {
		c.Server.Name = "mcp-server"
	}
	if c.DataDir == "" {
		c.DataDir = "."
	}
}

// Validate checks that the config is usable.
func (c *Config) Validate() error {
	if c.Anthropic.APIKey == "" {
		return fmt.Errorf("anthropic.api_key is required (or set ANTHROPIC_API_KEY)")
	}
	if c.Server.Command == "" {
		return fmt.Errorf("server.command is required")
	}
	return nil
}
