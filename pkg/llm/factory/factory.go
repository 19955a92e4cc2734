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

// Package factory builds LLM providers from configuration and assembles
// them into the failover chain. A provider with no credentials is
// skipped, not an error; a chain with zero providers is.
package factory

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/tapestry/pkg/llm"
	"github.com/teradata-labs/tapestry/pkg/llm/anthropic"
	"github.com/teradata-labs/tapestry/pkg/llm/gemini"
	"github.com/teradata-labs/tapestry/pkg/llm/mistral"
	"github.com/teradata-labs/tapestry/pkg/llm/ollama"
	"github.com/teradata-labs/tapestry/pkg/llm/openai"
)

// DefaultOrder is the default failover order. Cloud providers first,
// the local daemon as the fallback of last resort.
var DefaultOrder = []string{"anthropic", "openai", "gemini", "mistral", "ollama"}

// ProviderFactory creates LLM providers based on configuration.
type ProviderFactory struct {
	config FactoryConfig
	logger *zap.Logger
}

// FactoryConfig holds configuration for creating LLM providers.
type FactoryConfig struct {
	// Order is the failover order. Defaults to DefaultOrder.
	Order []string

	// Anthropic configuration
	AnthropicAPIKey string
	AnthropicModel  string

	// OpenAI configuration
	OpenAIAPIKey string
	OpenAIModel  string

	// Gemini configuration
	GeminiAPIKey string
	GeminiModel  string

	// Mistral configuration
	MistralAPIKey string
	MistralModel  string

	// Ollama configuration. The endpoint doubles as the availability
	// signal: no endpoint, no local provider.
	OllamaEndpoint string
	OllamaModel    string

	// Common settings
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration

	// Chain tuning
	Attempts int
	Backoff  time.Duration

	Logger *zap.Logger
}

// NewProviderFactory creates a new provider factory.
func NewProviderFactory(config FactoryConfig) *ProviderFactory {
	if len(config.Order) == 0 {
		config.Order = DefaultOrder
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 4096
	}
	if config.Temperature == 0 {
		config.Temperature = 1.0
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ProviderFactory{
		config: config,
		logger: logger,
	}
}

// CreateProvider creates the named provider, or an error when its
// credentials are not configured.
func (f *ProviderFactory) CreateProvider(provider string) (llm.Provider, error) {
	switch provider {
	case "anthropic":
		return f.createAnthropicProvider()
	case "openai":
		return f.createOpenAIProvider()
	case "gemini":
		return f.createGeminiProvider()
	case "mistral":
		return f.createMistralProvider()
	case "ollama":
		return f.createOllamaProvider()
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

// IsProviderAvailable reports whether the named provider has enough
// configuration to be constructed.
func (f *ProviderFactory) IsProviderAvailable(provider string) bool {
	_, err := f.CreateProvider(provider)
	return err == nil
}

// BuildChain walks the configured order, constructs every available
// provider, and assembles the failover chain. Providers without
// credentials are skipped with a log line. An empty chain is an error:
// the caller cannot generate anything without at least one backend.
func (f *ProviderFactory) BuildChain() (*llm.Chain, error) {
	var providers []llm.Provider
	for _, name := range f.config.Order {
		p, err := f.CreateProvider(name)
		if err != nil {
			f.logger.Info("skipping provider",
				zap.String("provider", name),
				zap.String("reason", err.Error()))
			continue
		}
		providers = append(providers, p)
		f.logger.Info("provider configured",
			zap.String("provider", p.Name()),
			zap.String("model", p.Model()))
	}

	if len(providers) == 0 {
		return nil, fmt.Errorf("%w: no provider has credentials configured", llm.ErrNoProviders)
	}

	return llm.NewChain(llm.ChainConfig{
		Providers: providers,
		Attempts:  f.config.Attempts,
		Backoff:   f.config.Backoff,
		Timeout:   f.config.Timeout,
		Logger:    f.logger,
	}), nil
}

func (f *ProviderFactory) createAnthropicProvider() (llm.Provider, error) {
	apiKey := f.config.AnthropicAPIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key not configured (set llm.anthropic_api_key or ANTHROPIC_API_KEY)")
	}

	return anthropic.NewClient(anthropic.Config{
		APIKey:      apiKey,
		Model:       f.config.AnthropicModel,
		MaxTokens:   f.config.MaxTokens,
		Temperature: f.config.Temperature,
		Timeout:     f.config.Timeout,
	}), nil
}

func (f *ProviderFactory) createOpenAIProvider() (llm.Provider, error) {
	apiKey := f.config.OpenAIAPIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key not configured (set llm.openai_api_key or OPENAI_API_KEY)")
	}

	return openai.NewClient(openai.Config{
		APIKey:      apiKey,
		Model:       f.config.OpenAIModel,
		MaxTokens:   f.config.MaxTokens,
		Temperature: f.config.Temperature,
		Timeout:     f.config.Timeout,
	}), nil
}

func (f *ProviderFactory) createGeminiProvider() (llm.Provider, error) {
	apiKey := f.config.GeminiAPIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key not configured (set llm.gemini_api_key or GEMINI_API_KEY)")
	}

	return gemini.NewClient(gemini.Config{
		APIKey:      apiKey,
		Model:       f.config.GeminiModel,
		MaxTokens:   f.config.MaxTokens,
		Temperature: f.config.Temperature,
		Timeout:     f.config.Timeout,
	}), nil
}

func (f *ProviderFactory) createMistralProvider() (llm.Provider, error) {
	apiKey := f.config.MistralAPIKey
	if apiKey == "" {
		apiKey = os.Getenv("MISTRAL_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("mistral API key not configured (set llm.mistral_api_key or MISTRAL_API_KEY)")
	}

	return mistral.NewClient(mistral.Config{
		APIKey:      apiKey,
		Model:       f.config.MistralModel,
		MaxTokens:   f.config.MaxTokens,
		Temperature: f.config.Temperature,
		Timeout:     f.config.Timeout,
	}), nil
}

func (f *ProviderFactory) createOllamaProvider() (llm.Provider, error) {
	endpoint := f.config.OllamaEndpoint
	if endpoint == "" {
		endpoint = os.Getenv("OLLAMA_ENDPOINT")
	}
	if endpoint == "" {
		return nil, fmt.Errorf("ollama endpoint not configured (set llm.ollama_endpoint or OLLAMA_ENDPOINT)")
	}

	return ollama.NewClient(ollama.Config{
		Endpoint:    endpoint,
		Model:       f.config.OllamaModel,
		MaxTokens:   f.config.MaxTokens,
		Temperature: f.config.Temperature,
		// Local inference gets extra headroom over the cloud timeout.
		Timeout: f.config.Timeout * 2,
	}), nil
}
