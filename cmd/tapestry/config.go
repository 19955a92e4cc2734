// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
	"github.com/zalando/go-keyring"
)

const (
	// ServiceName for keyring storage.
	ServiceName = "tapestry"
	// DefaultConfigFileName is the config file name without extension.
	DefaultConfigFileName = "tapestry"
)

// Config holds all configuration for the engine.
// Priority: CLI flags > config file > env vars > keyring > defaults.
type Config struct {
	State   StateConfig   `mapstructure:"state"`
	Forge   ForgeConfig   `mapstructure:"forge"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Decide  DecideConfig  `mapstructure:"decide"`
	Pacer   PacerConfig   `mapstructure:"pacer"`
	Runner  RunnerConfig  `mapstructure:"runner"`
	Git     GitConfig     `mapstructure:"git"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// StateConfig locates the state directory.
type StateConfig struct {
	// Dir is the flat-JSON state directory, which is also the git work
	// tree the safe commit operates on. STATE_DIR overrides.
	Dir string `mapstructure:"dir"`
}

// ForgeConfig identifies the community repository.
type ForgeConfig struct {
	Owner string `mapstructure:"owner"`
	Repo  string `mapstructure:"repo"`

	// Token is the bot account token. From GITHUB_TOKEN or keyring only;
	// never put it in the config file.
	Token string `mapstructure:"token"`

	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// LLMConfig configures the provider chain.
type LLMConfig struct {
	// Order is the failover order. Providers without credentials are
	// skipped at startup.
	Order []string `mapstructure:"order"`

	AnthropicAPIKey string `mapstructure:"anthropic_api_key"` // From env/keyring only
	AnthropicModel  string `mapstructure:"anthropic_model"`

	OpenAIAPIKey string `mapstructure:"openai_api_key"` // From env/keyring only
	OpenAIModel  string `mapstructure:"openai_model"`

	GeminiAPIKey string `mapstructure:"gemini_api_key"` // From env/keyring only
	GeminiModel  string `mapstructure:"gemini_model"`

	MistralAPIKey string `mapstructure:"mistral_api_key"` // From env/keyring only
	MistralModel  string `mapstructure:"mistral_model"`

	OllamaEndpoint string `mapstructure:"ollama_endpoint"`
	OllamaModel    string `mapstructure:"ollama_model"`

	MaxTokens      int     `mapstructure:"max_tokens"`
	Temperature    float64 `mapstructure:"temperature"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	Attempts       int     `mapstructure:"attempts"`
}

// EngineConfig tunes the cycle orchestrator.
type EngineConfig struct {
	Streams    int   `mapstructure:"streams"`
	Agents     int   `mapstructure:"agents"`
	Seed       int64 `mapstructure:"seed"`
	SoulBudget int   `mapstructure:"soul_budget"`
}

// DecideConfig locates the archetype registry.
type DecideConfig struct {
	// ArchetypeDir holds archetype YAML files. Empty loads the built-in
	// default set.
	ArchetypeDir string `mapstructure:"archetype_dir"`
}

// PacerConfig tunes the mutation pacer.
type PacerConfig struct {
	GapSeconds int `mapstructure:"gap_seconds"`
}

// RunnerConfig tunes the continuous loop.
type RunnerConfig struct {
	IntervalSeconds int    `mapstructure:"interval_seconds"`
	Cycles          int    `mapstructure:"cycles"`
	TrendingEvery   int    `mapstructure:"trending_every"`
	StopFile        string `mapstructure:"stop_file"`

	// HistoryDB is the cycle-history SQLite path. Empty disables the
	// history store.
	HistoryDB string `mapstructure:"history_db"`
}

// GitConfig tunes the safe-commit protocol.
type GitConfig struct {
	Remote      string `mapstructure:"remote"`
	Branch      string `mapstructure:"branch"`
	MaxAttempts int    `mapstructure:"max_attempts"`
	AuthorName  string `mapstructure:"author_name"`
	AuthorEmail string `mapstructure:"author_email"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig resolves the configuration from defaults, config file,
// environment, and keyring.
func LoadConfig(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		if dir := os.Getenv("STATE_DIR"); dir != "" {
			viper.AddConfigPath(dir)
		}
		viper.SetConfigName(DefaultConfigFileName)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file %s: %w", viper.ConfigFileUsed(), err)
		}
		// No config file; defaults + env + flags carry the day.
	}

	viper.SetEnvPrefix("TAPESTRY")
	viper.AutomaticEnv()

	// Conventional provider environment names, bound verbatim so the
	// usual exports work without a TAPESTRY_ prefix.
	_ = viper.BindEnv("state.dir", "STATE_DIR")
	_ = viper.BindEnv("forge.token", "GITHUB_TOKEN")
	_ = viper.BindEnv("llm.anthropic_api_key", "ANTHROPIC_API_KEY")
	_ = viper.BindEnv("llm.openai_api_key", "OPENAI_API_KEY")
	_ = viper.BindEnv("llm.gemini_api_key", "GEMINI_API_KEY")
	_ = viper.BindEnv("llm.mistral_api_key", "MISTRAL_API_KEY")
	_ = viper.BindEnv("llm.ollama_endpoint", "OLLAMA_ENDPOINT")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Keyring fallback for secrets not provided via env/flags.
	// Non-fatal: headless hosts often have no keyring.
	loadSecretsFromKeyring(&config)

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("state.dir", "./state")

	viper.SetDefault("forge.base_url", "https://api.github.com")
	viper.SetDefault("forge.timeout_seconds", 30)

	viper.SetDefault("llm.anthropic_model", "claude-sonnet-4-5-20250929")
	viper.SetDefault("llm.openai_model", "gpt-4.1")
	viper.SetDefault("llm.gemini_model", "gemini-2.5-flash")
	viper.SetDefault("llm.mistral_model", "mistral-large-latest")
	viper.SetDefault("llm.ollama_model", "llama3.1:8b")
	viper.SetDefault("llm.max_tokens", 1024)
	viper.SetDefault("llm.temperature", 1.0)
	viper.SetDefault("llm.timeout_seconds", 60)
	viper.SetDefault("llm.attempts", 3)

	viper.SetDefault("engine.streams", 3)
	viper.SetDefault("engine.agents", 12)

	viper.SetDefault("pacer.gap_seconds", 20)

	viper.SetDefault("runner.interval_seconds", 1800)
	viper.SetDefault("runner.cycles", 0)
	viper.SetDefault("runner.trending_every", 2)

	viper.SetDefault("git.remote", "origin")
	viper.SetDefault("git.branch", "main")
	viper.SetDefault("git.max_attempts", 5)
	viper.SetDefault("git.author_name", "tapestry")
	viper.SetDefault("git.author_email", "tapestry@localhost")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
}

// loadSecretsFromKeyring fills empty secrets from the OS keyring.
func loadSecretsFromKeyring(config *Config) {
	secrets := []struct {
		key  string
		dest *string
	}{
		{"github_token", &config.Forge.Token},
		{"anthropic_api_key", &config.LLM.AnthropicAPIKey},
		{"openai_api_key", &config.LLM.OpenAIAPIKey},
		{"gemini_api_key", &config.LLM.GeminiAPIKey},
		{"mistral_api_key", &config.LLM.MistralAPIKey},
	}
	for _, s := range secrets {
		if *s.dest != "" {
			continue
		}
		if v, err := keyring.Get(ServiceName, s.key); err == nil && v != "" {
			*s.dest = v
		}
	}
}

// Redacted returns a copy safe to print: secrets are masked, presence
// preserved.
func (c *Config) Redacted() Config {
	out := *c
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	out.Forge.Token = mask(c.Forge.Token)
	out.LLM.AnthropicAPIKey = mask(c.LLM.AnthropicAPIKey)
	out.LLM.OpenAIAPIKey = mask(c.LLM.OpenAIAPIKey)
	out.LLM.GeminiAPIKey = mask(c.LLM.GeminiAPIKey)
	out.LLM.MistralAPIKey = mask(c.LLM.MistralAPIKey)
	return out
}
