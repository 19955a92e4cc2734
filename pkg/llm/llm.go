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

// Package llm defines the provider interface and the ordered failover
// chain that turns a prompt bundle into generated content. Providers are
// raw HTTP clients under pkg/llm/<name>; the chain owns retry, backoff,
// structured-output parsing, and the guarantee that an empty response is
// never surfaced as success.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/teradata-labs/tapestry/pkg/types"
)

// Provider is one LLM backend in the failover chain.
type Provider interface {
	// Complete sends the prompt bundle and returns the generated text.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Name returns the provider name ("anthropic", "openai", ...).
	Name() string

	// Model returns the model identifier in use.
	Model() string
}

// Request is a prompt bundle.
type Request struct {
	// System is the system prompt.
	System string

	// Prompt is the user turn.
	Prompt string

	// MaxTokens caps the response length. Providers apply their own
	// default when zero.
	MaxTokens int

	// Schema, when non-empty, is a JSON Schema source the response
	// content must validate against. The chain parses and validates;
	// providers just generate.
	Schema string
}

// Usage reports token consumption for one completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Response is one provider completion.
type Response struct {
	Content string
	Usage   Usage

	// Provider and Model identify which backend produced the response.
	Provider string
	Model    string

	// Parsed holds the extracted JSON once schema validation passed.
	Parsed json.RawMessage
}

// ErrEmptyResponse marks a completion with no usable content. An empty
// string is never success: the documented silent-failure mode is an
// upstream 429 masked as OK empty text.
var ErrEmptyResponse = errors.New("provider returned empty content")

// ErrChainExhausted marks a chain where every provider failed.
var ErrChainExhausted = errors.New("all providers exhausted")

// ErrNoProviders marks a chain configured with zero available providers.
var ErrNoProviders = errors.New("no providers available")

// throttleFragments are the substrings that identify an upstream rate
// limit across the provider APIs.
var throttleFragments = []string{
	"429",
	"throttl",
	"too many requests",
	"toomanyrequests",
	"rate limit",
	"rate_limit",
	"quota exceeded",
	"resource_exhausted",
}

// IsThrottlingError reports whether the error looks like an upstream
// rate limit, either by tag or by message.
func IsThrottlingError(err error) bool {
	if err == nil {
		return false
	}
	var te *types.TaggedError
	if errors.As(err, &te) && te.Kind == types.ErrKindRateLimited {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, frag := range throttleFragments {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

// authFragments identify credential failures.
var authFragments = []string{
	"401",
	"unauthorized",
	"invalid api key",
	"invalid x-api-key",
	"authentication",
	"permission denied",
	"forbidden",
}

// IsAuthError reports whether the error looks like a credential failure.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	var te *types.TaggedError
	if errors.As(err, &te) && te.Kind == types.ErrKindAuth {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, frag := range authFragments {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

// Classify maps a provider error onto the failure taxonomy. Tagged
// errors win; untagged errors are classified by message.
func Classify(err error) types.ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return types.ErrKindCancelled
	case IsThrottlingError(err):
		return types.ErrKindRateLimited
	case IsAuthError(err):
		return types.ErrKindAuth
	default:
		var te *types.TaggedError
		if errors.As(err, &te) {
			return te.Kind
		}
		return types.ErrKindTransient
	}
}

// ExtractJSON pulls the first JSON object or array out of completion
// content. Handles bare JSON, fenced ```json blocks, and prose around a
// JSON body.
func ExtractJSON(content string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(content)

	// Fenced block first.
	if idx := strings.Index(trimmed, "```"); idx >= 0 {
		rest := trimmed[idx+3:]
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end >= 0 {
			trimmed = strings.TrimSpace(rest[:end])
		}
	}

	start := strings.IndexAny(trimmed, "{[")
	if start < 0 {
		return nil, fmt.Errorf("no JSON found in content")
	}
	var closer byte
	if trimmed[start] == '{' {
		closer = '}'
	} else {
		closer = ']'
	}
	end := strings.LastIndexByte(trimmed, closer)
	if end <= start {
		return nil, fmt.Errorf("unterminated JSON in content")
	}

	candidate := json.RawMessage(trimmed[start : end+1])
	if !json.Valid(candidate) {
		return nil, fmt.Errorf("extracted candidate is not valid JSON")
	}
	return candidate, nil
}

// TagStatus maps a non-200 HTTP status onto the failure taxonomy so the
// chain can tell throttling, bad credentials, and transient outages
// apart without parsing provider-specific error envelopes.
func TagStatus(status int, body string) error {
	err := fmt.Errorf("API error (status %d): %s", status, body)
	switch {
	case status == 429:
		return types.Tag(types.ErrKindRateLimited, err)
	case status == 401 || status == 403:
		return types.Tag(types.ErrKindAuth, err)
	case status == 408 || status >= 500:
		return types.Tag(types.ErrKindTransient, err)
	default:
		return types.Tag(types.ErrKindUnavailable, err)
	}
}

// TagTransport maps an http.Client.Do failure onto the failure taxonomy.
// Context errors pass through untouched so cancellation stays visible.
func TagTransport(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if strings.Contains(err.Error(), "connection refused") {
		return types.Tag(types.ErrKindUnavailable, fmt.Errorf("HTTP request failed: %w", err))
	}
	return types.Tag(types.ErrKindTransient, fmt.Errorf("HTTP request failed: %w", err))
}

// ParseStructured extracts JSON from content and validates it against
// the schema source. Returns the raw JSON on success.
func ParseStructured(content, schema string) (json.RawMessage, error) {
	raw, err := ExtractJSON(content)
	if err != nil {
		return nil, types.Tag(types.ErrKindSchema, err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return nil, types.Tag(types.ErrKindSchema, fmt.Errorf("schema validation failed: %w", err))
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, e := range result.Errors() {
			errs[i] = e.String()
		}
		return nil, types.Tagf(types.ErrKindSchema, "response does not match schema: %v", errs)
	}
	return raw, nil
}
