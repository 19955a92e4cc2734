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
package mistral

import (
	"context"
	"time"

	"github.com/teradata-labs/tapestry/pkg/llm"
	"github.com/teradata-labs/tapestry/pkg/llm/openai"
)

const (
	// DefaultModel is the default Mistral model.
	DefaultModel = "mistral-large-latest"
	// DefaultEndpoint is the Mistral chat completions endpoint.
	DefaultEndpoint = "https://api.mistral.ai/v1/chat/completions"
)

// Client talks to Mistral AI. Mistral serves an OpenAI-compatible API,
// so the client wraps the OpenAI client with a different endpoint.
type Client struct {
	openai *openai.Client
	model  string
}

// Config holds configuration for the Mistral AI client.
type Config struct {
	// Required: Mistral API key from https://console.mistral.ai/
	APIKey string

	// Model to use (default: "mistral-large-latest")
	Model string

	// Endpoint overrides the API endpoint, mainly for tests.
	Endpoint string

	MaxTokens   int           // Default: 4096
	Temperature float64       // Default: 1.0
	Timeout     time.Duration // Default: 60s
}

// NewClient creates a new Mistral AI client.
func NewClient(config Config) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Endpoint == "" {
		config.Endpoint = DefaultEndpoint
	}

	openaiClient := openai.NewClient(openai.Config{
		APIKey:      config.APIKey,
		Model:       config.Model,
		Endpoint:    config.Endpoint,
		MaxTokens:   config.MaxTokens,
		Temperature: config.Temperature,
		Timeout:     config.Timeout,
	})

	return &Client{
		openai: openaiClient,
		model:  config.Model,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return "mistral"
}

// Model returns the model identifier.
func (c *Client) Model() string {
	return c.model
}

// Complete delegates to the OpenAI client since Mistral uses the same
// API format, then relabels the response.
func (c *Client) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	resp, err := c.openai.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	resp.Provider = c.Name()
	if resp.Model == "" {
		resp.Model = c.model
	}
	return resp, nil
}

// Ensure Client implements the Provider interface.
var _ llm.Provider = (*Client)(nil)
