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

// Package engine runs one autonomy cycle end to end: load state, build
// the pulse, select agents, fan their tasks out across worker streams,
// join the results, and hand the batch to the reconciler. Streams talk
// back only through results; the reconciler is the sole state writer.
package engine

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/tapestry/pkg/decide"
	"github.com/teradata-labs/tapestry/pkg/forge"
	"github.com/teradata-labs/tapestry/pkg/llm"
	"github.com/teradata-labs/tapestry/pkg/pacer"
	"github.com/teradata-labs/tapestry/pkg/pulse"
	"github.com/teradata-labs/tapestry/pkg/state"
	"github.com/teradata-labs/tapestry/pkg/types"
)

const (
	// DefaultStreams is the worker-stream count K.
	DefaultStreams = 3

	// DefaultAgents is the per-cycle selection budget N.
	DefaultAgents = 12

	// DefaultSoulBudget caps the soul-history tokens carried into each
	// prompt.
	DefaultSoulBudget = 700
)

// Completer is the generation seam. *llm.Chain satisfies it.
type Completer interface {
	Complete(ctx context.Context, req *llm.Request) (*llm.Response, error)
}

// Forge is the subset of the forge client the streams use.
// *forge.Client satisfies it.
type Forge interface {
	ReadDiscussion(ctx context.Context, number int) (*forge.RemoteDiscussion, error)
	ReadComments(ctx context.Context, number, last int) ([]forge.RemoteComment, error)
	CreateDiscussion(ctx context.Context, agentID, categorySlug, title, body string) (*types.PostMirror, error)
	AddComment(ctx context.Context, agentID string, number int, body string) (*types.CommentRef, error)
	AddReaction(ctx context.Context, number int, reaction types.ReactionKind) error
	EmitIssue(ctx context.Context, title, body string, labels []string) (*types.IssueRef, error)
}

// Reconciler merges a result batch into the snapshot and persists the
// files it changed, returning their names. Implemented by
// pkg/reconcile.
type Reconciler interface {
	Apply(snap *state.Snapshot, results []types.Result, now time.Time) ([]string, error)
}

// Config holds configuration for the engine.
type Config struct {
	Store      *state.Store
	Forge      Forge
	Chain      Completer
	Pacer      pacer.Pacer
	Kernel     *decide.Kernel
	Reconciler Reconciler

	// Streams is K, the worker-stream count. Default 3.
	Streams int

	// Agents is N, the per-cycle selection budget. Default 12.
	Agents int

	// Pulse tunes the per-cycle pulse build. Zero values take the
	// pulse package defaults.
	Pulse pulse.Config

	// SoulBudget caps soul-history tokens per prompt. Default 700.
	SoulBudget int

	// Seed fixes the cycle seed sequence for reproducible runs. Zero
	// draws from the clock.
	Seed int64

	// DryRun disables forge writes; tasks reach the mutation step and
	// come back Skipped.
	DryRun bool

	Logger *zap.Logger
}

// CycleReport summarizes one completed cycle.
type CycleReport struct {
	CycleID   string
	StartedAt time.Time
	Duration  time.Duration

	// Selected is how many agents were chosen this cycle.
	Selected int

	// ActiveStreams is how many streams had a non-empty partition.
	ActiveStreams int

	Results []types.Result
	Counts  map[types.ResultKind]int

	// ChangedFiles is the state-file set the reconciler wrote, in the
	// order the reconciler reports them. Input to the safe-commit.
	ChangedFiles []string
}

// Mutations returns how many results completed a forge or state
// mutation.
func (r *CycleReport) Mutations() int {
	n := 0
	for _, res := range r.Results {
		if res.Mutated() {
			n++
		}
	}
	return n
}

// Engine is the cycle orchestrator.
type Engine struct {
	store      *state.Store
	forge      Forge
	chain      Completer
	pacer      pacer.Pacer
	kernel     *decide.Kernel
	reconciler Reconciler

	streams    int
	agents     int
	pulseCfg   pulse.Config
	soulBudget int
	seed       int64
	dryRun     bool
	logger     *zap.Logger

	cycles atomic.Int64
}

// New creates an engine.
func New(cfg Config) (*Engine, error) {
	switch {
	case cfg.Store == nil:
		return nil, fmt.Errorf("state store is required")
	case cfg.Forge == nil:
		return nil, fmt.Errorf("forge client is required")
	case cfg.Chain == nil:
		return nil, fmt.Errorf("llm chain is required")
	case cfg.Pacer == nil:
		return nil, fmt.Errorf("mutation pacer is required")
	case cfg.Kernel == nil:
		return nil, fmt.Errorf("decision kernel is required")
	case cfg.Reconciler == nil:
		return nil, fmt.Errorf("reconciler is required")
	}
	if cfg.Streams <= 0 {
		cfg.Streams = DefaultStreams
	}
	if cfg.Agents <= 0 {
		cfg.Agents = DefaultAgents
	}
	if cfg.SoulBudget <= 0 {
		cfg.SoulBudget = DefaultSoulBudget
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Engine{
		store:      cfg.Store,
		forge:      cfg.Forge,
		chain:      cfg.Chain,
		pacer:      cfg.Pacer,
		kernel:     cfg.Kernel,
		reconciler: cfg.Reconciler,
		streams:    cfg.Streams,
		agents:     cfg.Agents,
		pulseCfg:   cfg.Pulse,
		soulBudget: cfg.SoulBudget,
		seed:       cfg.Seed,
		dryRun:     cfg.DryRun,
		logger:     cfg.Logger,
	}, nil
}

// RunCycle executes one cycle. Cancellation cuts the cycle short at
// task boundaries; whatever results were collected still reach the
// reconciler, so completed mutations are never discarded.
func (e *Engine) RunCycle(ctx context.Context) (*CycleReport, error) {
	started := time.Now().UTC()
	report := &CycleReport{
		CycleID:   uuid.NewString(),
		StartedAt: started,
		Counts:    make(map[types.ResultKind]int),
	}

	snap, err := e.store.LoadSnapshot()
	if err != nil {
		return report, fmt.Errorf("cycle %s: state load failed: %w", report.CycleID, err)
	}

	p := pulse.Build(snap, started, e.pulseCfg)

	seed := e.cycleSeed()
	rng := rand.New(rand.NewSource(seed))
	selected := selectAgents(snap.Agents.Agents, e.agents, rng)
	report.Selected = len(selected)

	tasks := e.kernel.Plan(selected, p, seed, 0)
	parts := Partition(tasks, e.streams)

	cc := &cycleContext{
		pulse:  p,
		snap:   snap,
		souls:  e.loadSouls(selected),
		now:    started,
		dryRun: e.dryRun,
	}

	e.logger.Info("cycle started",
		zap.String("cycle", report.CycleID),
		zap.Int64("seed", seed),
		zap.Int("selected", len(selected)),
		zap.Int("tasks", len(tasks)),
		zap.Bool("dry_run", e.dryRun))

	results := e.runStreams(ctx, parts, cc, report)
	report.Results = results
	for _, res := range results {
		report.Counts[res.Kind]++
	}

	// The reconciler always runs, even on an empty or cancelled cycle:
	// completed mutations must land in state regardless of how the
	// cycle ended.
	changed, err := e.reconciler.Apply(snap, results, started)
	report.ChangedFiles = changed
	report.Duration = time.Since(started)
	if err != nil {
		return report, fmt.Errorf("cycle %s: reconcile failed: %w", report.CycleID, err)
	}

	e.logger.Info("cycle finished",
		zap.String("cycle", report.CycleID),
		zap.Duration("duration", report.Duration),
		zap.Int("results", len(results)),
		zap.Int("mutations", report.Mutations()),
		zap.Strings("changed", changed))
	return report, nil
}

// runStreams launches one worker per non-empty partition and joins
// their results.
func (e *Engine) runStreams(ctx context.Context, parts [][]types.Task, cc *cycleContext, report *CycleReport) []types.Result {
	total := 0
	for _, part := range parts {
		total += len(part)
	}
	out := make(chan types.Result, total)

	var wg sync.WaitGroup
	for i, part := range parts {
		if len(part) == 0 {
			continue
		}
		report.ActiveStreams++
		wg.Add(1)
		s := &stream{
			id:     i,
			forge:  e.forge,
			chain:  e.chain,
			pacer:  e.pacer,
			kernel: e.kernel,
			logger: e.logger.With(zap.Int("stream", i)),
		}
		go func(tasks []types.Task) {
			defer wg.Done()
			s.run(ctx, tasks, cc, out)
		}(part)
	}

	wg.Wait()
	close(out)

	results := make([]types.Result, 0, total)
	for res := range out {
		results = append(results, res)
	}
	return results
}

// loadSouls reads and token-trims the selected agents' soul files.
// Missing or unreadable souls degrade to empty context.
func (e *Engine) loadSouls(selected []*types.Agent) map[string]string {
	counter := llm.GetTokenCounter()
	souls := make(map[string]string, len(selected))
	for _, agent := range selected {
		raw, err := e.store.ReadSoul(agent.ID)
		if err != nil {
			e.logger.Warn("soul read failed, continuing without",
				zap.String("agent", agent.ID), zap.Error(err))
			continue
		}
		if raw == "" {
			continue
		}
		souls[agent.ID] = counter.TrimToBudget(raw, e.soulBudget)
	}
	return souls
}

// cycleSeed derives this cycle's seed. A configured seed advances by
// one per cycle so repeated runs replay the same decision sequence.
func (e *Engine) cycleSeed() int64 {
	n := e.cycles.Add(1)
	if e.seed != 0 {
		return e.seed + n - 1
	}
	return time.Now().UnixNano()
}

// selectAgents picks up to n non-dormant agents, biased toward stale
// heartbeats: candidates rank oldest-first and sample without
// replacement with weight proportional to reverse rank, so the
// longest-quiet agents act most often but nobody is starved.
func selectAgents(all map[string]*types.Agent, n int, rng *rand.Rand) []*types.Agent {
	candidates := make([]*types.Agent, 0, len(all))
	for _, agent := range all {
		if !agent.Dormant() {
			candidates = append(candidates, agent)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].LastHeartbeat.Equal(candidates[j].LastHeartbeat) {
			return candidates[i].LastHeartbeat.Before(candidates[j].LastHeartbeat)
		}
		return candidates[i].ID < candidates[j].ID
	})

	if n <= 0 || n > len(candidates) {
		n = len(candidates)
	}
	weights := make([]float64, len(candidates))
	for i := range candidates {
		weights[i] = float64(len(candidates) - i)
	}

	selected := make([]*types.Agent, 0, n)
	for len(selected) < n {
		total := 0.0
		for _, w := range weights {
			total += w
		}
		if total <= 0 {
			break
		}
		r := rng.Float64() * total
		picked := -1
		for i, w := range weights {
			if w <= 0 {
				continue
			}
			picked = i
			r -= w
			if r < 0 {
				break
			}
		}
		selected = append(selected, candidates[picked])
		weights[picked] = 0
	}
	return selected
}
