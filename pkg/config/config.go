// Package config implements the priority chain from spec.md §6: a .env
// file overlay, then the process environment, then an on-disk config.toml,
// then hard defaults. Each layer only fills fields the layer above it left
// empty.
package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	DiscordBotToken     string `env:"DISCORD_BOT_TOKEN" toml:"discord_bot_token"`
	DiscordSelfbotToken string `env:"DISCORD_SELFBOT_TOKEN" toml:"discord_selfbot_token"`
	TelegramToken       string `env:"TELEGRAM_TOKEN" toml:"telegram_token"`

	AgentName string `env:"PA_AGENT_NAME" toml:"agent_name"`
	LogLevel  string `env:"PA_LOG_LEVEL" toml:"log_level"`
	Persona   string `env:"PA_PERSONA" toml:"persona"`
	CliUser   string `env:"PA_CLI_USER" toml:"cli_user"`

	LanceDBPath string `env:"LANCE_DB_PATH" toml:"episodic_store_path"`
	JournalPath string `env:"JOURNAL_PATH" toml:"journal_path"`
	GraphPath   string `env:"GRAPH_PATH" toml:"graph_path"`

	APIBase  string `env:"API_BASE" toml:"api_base"`
	APIKey   string `env:"API_KEY" toml:"api_key"`
	Model    string `env:"MODEL" toml:"model"`

	Sys2APIBase string `env:"SYS2_API_BASE" toml:"sys2_api_base"`
	Sys2APIKey  string `env:"SYS2_API_KEY" toml:"sys2_api_key"`
	Sys2Model   string `env:"SYS2_MODEL" toml:"sys2_model"`

	Sys1APIBase string `env:"SYS1_API_BASE" toml:"sys1_api_base"`
	Sys1APIKey  string `env:"SYS1_API_KEY" toml:"sys1_api_key"`
	Sys1Model   string `env:"SYS1_MODEL" toml:"sys1_model"`

	// ClaudeAPIKey, if set, wires an Anthropic-backed fallback leg behind
	// the System-2 OpenAI-compatible provider (spec.md §6's ChatCompletion
	// interface permits any backend; this is the one the teacher carries).
	ClaudeAPIKey string `env:"CLAUDE_API_KEY" toml:"claude_api_key"`
	ClaudeModel  string `env:"CLAUDE_MODEL" toml:"claude_model"`

	ChatMaxTokens     int `env:"CHAT_MAX_TOKENS" toml:"chat_max_tokens"`
	SemanticMaxTokens int `env:"SEMANTIC_MAX_TOKENS" toml:"semantic_max_tokens"`

	BaseSessionTimeout time.Duration `toml:"base_session_timeout"`
}

func defaults() Config {
	return Config{
		AgentName:          "ryuuko",
		LogLevel:           "info",
		Persona:            "You are ryuuko, a terse, observant chat companion. Speak in short, natural lines.",
		CliUser:            "operator",
		LanceDBPath:        "./data/episodic",
		JournalPath:        "./data/journal.sqlite",
		GraphPath:          "./data/graph.bbolt",
		ChatMaxTokens:      2048,
		SemanticMaxTokens:  4096,
		ClaudeModel:        "claude-3-5-sonnet-latest",
		BaseSessionTimeout: 20 * time.Minute,
	}
}

// Load resolves the configuration chain: .env overlay -> process env ->
// config.toml (path from PA_CONFIG, default "config.toml") -> defaults.
func Load() (*Config, error) {
	// .env overlay: Overload (not Load) so a key already present in the
	// process environment is replaced, matching spec.md §6's priority order
	// of .env above process environment. A missing .env file is not an error.
	_ = godotenv.Overload()

	cfg := defaults()

	tomlPath := os.Getenv("PA_CONFIG")
	if tomlPath == "" {
		tomlPath = "config.toml"
	}
	if data, err := os.ReadFile(tomlPath); err == nil {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	// Process environment (including the .env overlay applied above)
	// takes priority over config.toml values just parsed.
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate reports the minimal set of conditions that make the config
// ConfigInvalid per spec.md §7: the System-2 endpoint must be resolvable
// (falls back to API_BASE/KEY/MODEL). No platform token is required — with
// none configured, the process falls back to the local CLI adapter.
func (c *Config) Validate() []string {
	var problems []string
	if c.effectiveSys2Base() == "" {
		problems = append(problems, "no chat-completion endpoint configured (API_BASE or SYS2_API_BASE)")
	}
	return problems
}

func (c *Config) effectiveSys2Base() string {
	if c.Sys2APIBase != "" {
		return c.Sys2APIBase
	}
	return c.APIBase
}

// Sys2 returns the resolved System-2 (streaming LLM worker) endpoint triple,
// falling back to the generic API_BASE/API_KEY/MODEL values.
func (c *Config) Sys2() (base, key, model string) {
	base, key, model = c.Sys2APIBase, c.Sys2APIKey, c.Sys2Model
	if base == "" {
		base = c.APIBase
	}
	if key == "" {
		key = c.APIKey
	}
	if model == "" {
		model = c.Model
	}
	return base, key, model
}

// Sys1 returns the resolved System-1 (evaluator) endpoint triple, falling
// back to the generic API_BASE/API_KEY/MODEL values.
func (c *Config) Sys1() (base, key, model string) {
	base, key, model = c.Sys1APIBase, c.Sys1APIKey, c.Sys1Model
	if base == "" {
		base = c.APIBase
	}
	if key == "" {
		key = c.APIKey
	}
	if model == "" {
		model = c.Model
	}
	return base, key, model
}
