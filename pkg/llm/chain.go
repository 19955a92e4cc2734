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

package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/tapestry/pkg/types"
)

const (
	// DefaultAttempts is the per-provider retry budget.
	DefaultAttempts = 3

	// DefaultBackoff is the initial retry delay. It doubles per retry.
	DefaultBackoff = 2 * time.Second

	// DefaultTimeout bounds a single completion attempt.
	DefaultTimeout = 60 * time.Second
)

// ChainConfig configures the failover chain.
type ChainConfig struct {
	Providers []Provider
	Attempts  int
	Backoff   time.Duration
	Timeout   time.Duration
	Logger    *zap.Logger
}

// Chain tries providers in order. Each provider gets a bounded retry
// budget with doubling backoff for throttle and transient failures;
// credential and hard failures skip straight to the next provider.
type Chain struct {
	providers []Provider
	attempts  int
	backoff   time.Duration
	timeout   time.Duration
	logger    *zap.Logger
}

// NewChain creates a failover chain, applying defaults for zero fields.
func NewChain(cfg ChainConfig) *Chain {
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Chain{
		providers: cfg.Providers,
		attempts:  cfg.Attempts,
		backoff:   cfg.Backoff,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger,
	}
}

// Providers returns the configured provider order.
func (c *Chain) Providers() []Provider {
	return c.providers
}

// Names returns the provider names in chain order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}

// Complete runs the request down the chain until a provider produces a
// usable response. Empty content is never success. When req.Schema is
// set the content must parse and validate; one re-prompt with a schema
// reminder is spent before failing over.
func (c *Chain) Complete(ctx context.Context, req *Request) (*Response, error) {
	if len(c.providers) == 0 {
		return nil, types.Tag(types.ErrKindUnavailable, ErrNoProviders)
	}

	var (
		lastErr        error
		lastKind       types.ErrorKind
		allRateLimited = true
	)

	for _, provider := range c.providers {
		resp, err := c.tryProvider(ctx, provider, req)
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return nil, err
		}

		kind := Classify(err)
		lastErr = err
		lastKind = kind
		if kind != types.ErrKindRateLimited {
			allRateLimited = false
		}
		c.logger.Warn("provider exhausted, failing over",
			zap.String("provider", provider.Name()),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}

	if allRateLimited {
		return nil, types.Tag(types.ErrKindRateLimited,
			fmt.Errorf("%w: every provider is throttling", ErrChainExhausted))
	}
	return nil, types.Tag(lastKind,
		fmt.Errorf("%w: last failure: %v", ErrChainExhausted, lastErr))
}

// tryProvider spends the retry budget on a single provider.
func (c *Chain) tryProvider(ctx context.Context, provider Provider, req *Request) (*Response, error) {
	var (
		lastErr       error
		backoff       = c.backoff
		schemaRetried = false
		attemptReq    = req
	)

	for attempt := 1; attempt <= c.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := c.attemptOnce(ctx, provider, attemptReq)
		if err == nil && strings.TrimSpace(resp.Content) == "" {
			// Empty content with 200 OK is the masked-throttle mode.
			err = types.Tag(types.ErrKindRateLimited, ErrEmptyResponse)
		}

		if err == nil && req.Schema != "" {
			parsed, perr := ParseStructured(resp.Content, req.Schema)
			if perr != nil {
				if !schemaRetried {
					schemaRetried = true
					lastErr = perr
					attemptReq = repromptRequest(req, perr)
					c.logger.Debug("re-prompting for schema compliance",
						zap.String("provider", provider.Name()),
						zap.Int("attempt", attempt),
						zap.Error(perr))
					continue
				}
				return nil, perr
			}
			resp.Parsed = parsed
		}

		if err == nil {
			if resp.Provider == "" {
				resp.Provider = provider.Name()
			}
			if resp.Model == "" {
				resp.Model = provider.Model()
			}
			return resp, nil
		}

		lastErr = err
		kind := Classify(err)
		switch kind {
		case types.ErrKindCancelled:
			return nil, err
		case types.ErrKindAuth, types.ErrKindUnavailable, types.ErrKindSchema:
			// Retrying the same provider will not help.
			return nil, err
		}

		if attempt == c.attempts {
			break
		}
		c.logger.Debug("retrying provider",
			zap.String("provider", provider.Name()),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}

	return nil, lastErr
}

// attemptOnce runs one completion under the per-attempt timeout.
func (c *Chain) attemptOnce(ctx context.Context, provider Provider, req *Request) (*Response, error) {
	actx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := provider.Complete(actx, req)
	if err != nil {
		// A per-attempt deadline is a transient failure of this
		// attempt, not a caller cancellation.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, types.Tagf(types.ErrKindTransient,
				"completion timed out after %s: %v", c.timeout, err)
		}
		return nil, err
	}
	return resp, nil
}

// repromptRequest builds the one-shot schema reminder follow-up.
func repromptRequest(req *Request, cause error) *Request {
	clone := *req
	clone.Prompt = fmt.Sprintf(
		"%s\n\nYour previous reply could not be used: %v.\nRespond with ONLY a single JSON object that matches this schema, no prose, no code fences:\n%s",
		req.Prompt, cause, req.Schema)
	return &clone
}
