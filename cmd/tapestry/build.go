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
	"context"
	"fmt"
	"time"

	"github.com/teradata-labs/tapestry/internal/log"
	"github.com/teradata-labs/tapestry/pkg/decide"
	"github.com/teradata-labs/tapestry/pkg/engine"
	"github.com/teradata-labs/tapestry/pkg/forge"
	"github.com/teradata-labs/tapestry/pkg/gitops"
	"github.com/teradata-labs/tapestry/pkg/llm"
	"github.com/teradata-labs/tapestry/pkg/llm/factory"
	"github.com/teradata-labs/tapestry/pkg/pacer"
	"github.com/teradata-labs/tapestry/pkg/reconcile"
	"github.com/teradata-labs/tapestry/pkg/state"
)

func buildStore() (*state.Store, error) {
	store, err := state.New(state.Config{Dir: config.State.Dir, Logger: log.Logger()})
	if err != nil {
		return nil, exitWith(exitConfig, err)
	}
	return store, nil
}

func buildReconciler(store *state.Store) (*reconcile.Reconciler, error) {
	rec, err := reconcile.New(reconcile.Config{Store: store, Logger: log.Logger()})
	if err != nil {
		return nil, exitWith(exitConfig, err)
	}
	return rec, nil
}

// buildForge constructs the forge client and runs the startup
// preflight: unresolvable repository or categories means the forge is
// unreachable (exit code 3).
func buildForge(ctx context.Context) (*forge.Client, error) {
	client, err := forge.New(forge.Config{
		Token:   config.Forge.Token,
		Owner:   config.Forge.Owner,
		Repo:    config.Forge.Repo,
		BaseURL: config.Forge.BaseURL,
		Timeout: time.Duration(config.Forge.TimeoutSeconds) * time.Second,
		Logger:  log.Logger(),
	})
	if err != nil {
		return nil, exitWith(exitConfig, err)
	}
	if err := client.Ping(ctx); err != nil {
		return nil, exitWith(exitForgeUnreachable, fmt.Errorf("forge unreachable: %w", err))
	}
	if err := client.ResolveRepo(ctx); err != nil {
		return nil, exitWith(exitForgeUnreachable, fmt.Errorf("forge repository resolution failed: %w", err))
	}
	return client, nil
}

// buildChain constructs the provider failover chain. No configured
// provider at all is exit code 2.
func buildChain() (*llm.Chain, error) {
	f := factory.NewProviderFactory(factory.FactoryConfig{
		Order:           config.LLM.Order,
		AnthropicAPIKey: config.LLM.AnthropicAPIKey,
		AnthropicModel:  config.LLM.AnthropicModel,
		OpenAIAPIKey:    config.LLM.OpenAIAPIKey,
		OpenAIModel:     config.LLM.OpenAIModel,
		GeminiAPIKey:    config.LLM.GeminiAPIKey,
		GeminiModel:     config.LLM.GeminiModel,
		MistralAPIKey:   config.LLM.MistralAPIKey,
		MistralModel:    config.LLM.MistralModel,
		OllamaEndpoint:  config.LLM.OllamaEndpoint,
		OllamaModel:     config.LLM.OllamaModel,
		MaxTokens:       config.LLM.MaxTokens,
		Temperature:     config.LLM.Temperature,
		Timeout:         time.Duration(config.LLM.TimeoutSeconds) * time.Second,
		Attempts:        config.LLM.Attempts,
		Logger:          log.Logger(),
	})
	chain, err := f.BuildChain()
	if err != nil {
		return nil, exitWith(exitNoProviders, fmt.Errorf("no LLM backend available: %w", err))
	}
	return chain, nil
}

func buildKernel() (*decide.Kernel, error) {
	registry, err := decide.LoadRegistry(config.Decide.ArchetypeDir)
	if err != nil {
		return nil, exitWith(exitConfig, err)
	}
	kernel, err := decide.New(decide.Config{Registry: registry, Logger: log.Logger()})
	if err != nil {
		return nil, exitWith(exitConfig, err)
	}
	return kernel, nil
}

func buildPacer(dryRun bool) pacer.Pacer {
	if dryRun {
		return pacer.NewNull()
	}
	return pacer.New(pacer.Config{
		Gap:    time.Duration(config.Pacer.GapSeconds) * time.Second,
		Logger: log.Logger(),
	})
}

func buildEngine(ctx context.Context, store *state.Store, rec *reconcile.Reconciler, dryRun bool, streams, agents int) (*engine.Engine, *forge.Client, error) {
	kernel, err := buildKernel()
	if err != nil {
		return nil, nil, err
	}
	chain, err := buildChain()
	if err != nil {
		return nil, nil, err
	}
	client, err := buildForge(ctx)
	if err != nil {
		return nil, nil, err
	}

	eng, err := engine.New(engine.Config{
		Store:      store,
		Forge:      client,
		Chain:      chain,
		Pacer:      buildPacer(dryRun),
		Kernel:     kernel,
		Reconciler: rec,
		Streams:    streams,
		Agents:     agents,
		SoulBudget: config.Engine.SoulBudget,
		Seed:       config.Engine.Seed,
		DryRun:     dryRun,
		Logger:     log.Logger(),
	})
	if err != nil {
		return nil, nil, exitWith(exitConfig, err)
	}
	return eng, client, nil
}

func buildCommitter(store *state.Store, noPush bool) (*gitops.Committer, error) {
	committer, err := gitops.New(gitops.Config{
		Store:       store,
		Remote:      config.Git.Remote,
		Branch:      config.Git.Branch,
		MaxAttempts: config.Git.MaxAttempts,
		NoPush:      noPush,
		AuthorName:  config.Git.AuthorName,
		AuthorEmail: config.Git.AuthorEmail,
		Logger:      log.Logger(),
	})
	if err != nil {
		return nil, exitWith(exitConfig, err)
	}
	return committer, nil
}
