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

package decide

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/tapestry/pkg/types"
)

const (
	// DefaultSimilarityThreshold blocks near-duplicate post titles.
	DefaultSimilarityThreshold = 0.82

	// DefaultSelfThreadWindow is how long an agent stays out of a
	// thread it already commented under.
	DefaultSelfThreadWindow = 24 * time.Hour

	// DefaultMaxPerAgent caps intended mutations per agent per cycle.
	DefaultMaxPerAgent = 10
)

// Lurk sub-branch shares: half of lurks vote, a quarter poke, the rest
// stay silent.
const (
	lurkVoteShare = 0.50
	lurkPokeShare = 0.25
)

// reactionWeights biases lurk votes toward warm reactions while
// keeping occasional dissent in the mix. Sums to 1 over the canonical
// vocabulary.
var reactionWeights = map[types.ReactionKind]float64{
	types.ReactionThumbsUp:   0.30,
	types.ReactionHeart:      0.20,
	types.ReactionEyes:       0.15,
	types.ReactionRocket:     0.12,
	types.ReactionLaugh:      0.10,
	types.ReactionHooray:     0.06,
	types.ReactionConfused:   0.04,
	types.ReactionThumbsDown: 0.03,
}

// Config holds configuration for the kernel.
type Config struct {
	// Registry is the loaded archetype registry. Required.
	Registry *Registry

	SimilarityThreshold float64       // Default: 0.82
	SelfThreadWindow    time.Duration // Default: 24h
	MaxPerAgent         int           // Default: 10
	Logger              *zap.Logger
}

// Kernel selects actions for agents. Selection is deterministic given
// (agent, pulse, seed) and never returns an error: when nothing is
// possible the task is a noop carrying the reason.
type Kernel struct {
	registry    *Registry
	threshold   float64
	selfWindow  time.Duration
	maxPerAgent int
	logger      *zap.Logger
}

// New creates a kernel. The registry is required.
func New(cfg Config) (*Kernel, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("archetype registry is required")
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if cfg.SelfThreadWindow <= 0 {
		cfg.SelfThreadWindow = DefaultSelfThreadWindow
	}
	if cfg.MaxPerAgent <= 0 {
		cfg.MaxPerAgent = DefaultMaxPerAgent
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Kernel{
		registry:    cfg.Registry,
		threshold:   cfg.SimilarityThreshold,
		selfWindow:  cfg.SelfThreadWindow,
		maxPerAgent: cfg.MaxPerAgent,
		logger:      cfg.Logger,
	}, nil
}

// Plan produces the cycle's task set: one decision per agent, capped
// globally at maxTasks and per agent at the mutation cap. Each agent's
// decision derives its own seed from the cycle seed and the agent id,
// so an agent's outcome does not depend on selection order.
func (k *Kernel) Plan(agents []*types.Agent, p *types.Pulse, seed int64, maxTasks int) []types.Task {
	if maxTasks <= 0 {
		maxTasks = len(agents)
	}
	mutations := make(map[string]int)
	tasks := make([]types.Task, 0, len(agents))
	for _, agent := range agents {
		if len(tasks) >= maxTasks {
			break
		}
		if mutations[agent.ID] >= k.maxPerAgent {
			tasks = append(tasks, types.Task{
				AgentID: agent.ID,
				Action:  types.ActionNoop,
				Reason:  "per-agent mutation cap reached",
			})
			continue
		}
		task := k.Decide(agent, p, agentSeed(seed, agent.ID))
		if task.Action != types.ActionNoop {
			mutations[agent.ID]++
		}
		tasks = append(tasks, task)
	}
	return tasks
}

// Decide selects one action for the agent against the pulse.
func (k *Kernel) Decide(agent *types.Agent, p *types.Pulse, seed int64) types.Task {
	rng := rand.New(rand.NewSource(seed))
	task := types.Task{AgentID: agent.ID}

	arch, ok := k.registry.Get(agent.Archetype)
	if !ok {
		task.Action = types.ActionNoop
		task.Reason = fmt.Sprintf("unknown archetype %q", agent.Archetype)
		return task
	}

	roll := rng.Float64()
	switch {
	case roll < arch.ActionWeights.Post:
		return k.decidePost(task, agent, arch, p, rng)
	case roll < arch.ActionWeights.Post+arch.ActionWeights.Comment:
		return k.decideComment(task, agent, p)
	default:
		return k.decideLurk(task, agent, p, rng)
	}
}

// AlreadyCommented reports whether the agent commented under the post
// within the self-thread window. Streams re-check this before writing.
func (k *Kernel) AlreadyCommented(agentID string, number int, p *types.Pulse) bool {
	return p.CommentedRecently(agentID, number, k.selfWindow)
}

func (k *Kernel) decidePost(task types.Task, agent *types.Agent, arch *Archetype, p *types.Pulse, rng *rand.Rand) types.Task {
	slug, ok := pickChannel(agent, arch, p, rng)
	if !ok {
		task.Action = types.ActionNoop
		task.Reason = "no postable channel"
		return task
	}
	task.Action = types.ActionPost
	task.Channel = slug
	if len(arch.Modes) > 0 {
		task.Mode = arch.Modes[rng.Intn(len(arch.Modes))]
	}
	return task
}

func (k *Kernel) decideComment(task types.Task, agent *types.Agent, p *types.Pulse) types.Task {
	target := k.pickCommentTarget(agent, p)
	if target == nil {
		task.Action = types.ActionNoop
		task.Reason = "no comment target"
		return task
	}
	task.Action = types.ActionComment
	task.Target = target.Number
	task.TargetAgent = target.Author
	task.Channel = target.Channel
	return task
}

func (k *Kernel) decideLurk(task types.Task, agent *types.Agent, p *types.Pulse, rng *rand.Rand) types.Task {
	roll := rng.Float64()
	switch {
	case roll < lurkVoteShare:
		if target := pickVoteTarget(agent, p); target != nil {
			task.Action = types.ActionVote
			task.Target = target.Number
			task.Channel = target.Channel
			task.Reaction = pickReaction(rng)
			return task
		}
	case roll < lurkVoteShare+lurkPokeShare:
		if target := pickPokeTarget(agent, p, rng); target != "" {
			task.Action = types.ActionPoke
			task.TargetAgent = target
			return task
		}
	}
	task.Action = types.ActionNoop
	task.Reason = "lurked"
	return task
}

// pickChannel draws a post destination weighted by archetype affinity
// times a cold-channel boost. Candidates are the agent's subscriptions
// when present, otherwise every pulse channel. Channels the archetype
// weighs at zero are never picked.
func pickChannel(agent *types.Agent, arch *Archetype, p *types.Pulse, rng *rand.Rand) (string, bool) {
	var slugs []string
	if len(agent.Channels) > 0 {
		for _, slug := range agent.Channels {
			if p.Activity(slug) != nil {
				slugs = append(slugs, slug)
			}
		}
	} else {
		for slug := range p.Channels {
			slugs = append(slugs, slug)
		}
	}
	// Map iteration order must not leak into the draw.
	sort.Strings(slugs)
	if len(slugs) == 0 {
		return "", false
	}

	weights := make([]float64, len(slugs))
	total := 0.0
	for i, slug := range slugs {
		affinity, ok := arch.ChannelAffinity[slug]
		if !ok {
			affinity = 1.0
		}
		weights[i] = affinity * (1 + p.Activity(slug).Deficit)
		total += weights[i]
	}
	if total <= 0 {
		return "", false
	}

	r := rng.Float64() * total
	for i, w := range weights {
		r -= w
		if r < 0 {
			return slugs[i], true
		}
	}
	return slugs[len(slugs)-1], true
}

// pickCommentTarget walks the under-discussed list, subscribed
// channels first, then everywhere. The list is ordered by ratio gap,
// so the first eligible entry wins.
func (k *Kernel) pickCommentTarget(agent *types.Agent, p *types.Pulse) *types.UnderDiscussed {
	passes := []bool{true, false}
	if len(agent.Channels) == 0 {
		passes = []bool{false}
	}
	for _, subscribedOnly := range passes {
		for i := range p.UnderDiscussed {
			u := &p.UnderDiscussed[i]
			if u.Author == agent.ID {
				continue
			}
			if subscribedOnly && !agent.SubscribedTo(u.Channel) {
				continue
			}
			if p.CommentedRecently(agent.ID, u.Number, k.selfWindow) {
				continue
			}
			return u
		}
	}
	return nil
}

// pickVoteTarget returns the highest-gap under-discussed post the
// agent did not author.
func pickVoteTarget(agent *types.Agent, p *types.Pulse) *types.UnderDiscussed {
	for i := range p.UnderDiscussed {
		if p.UnderDiscussed[i].Author != agent.ID {
			return &p.UnderDiscussed[i]
		}
	}
	return nil
}

// pickPokeTarget prefers a dormant agent one poker short of a summon,
// falling back to a random dormant agent.
func pickPokeTarget(agent *types.Agent, p *types.Pulse, rng *rand.Rand) string {
	for _, id := range p.NearSummons {
		if id != agent.ID {
			return id
		}
	}
	candidates := make([]string, 0, len(p.Dormant))
	for _, id := range p.Dormant {
		if id != agent.ID {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	return candidates[rng.Intn(len(candidates))]
}

func pickReaction(rng *rand.Rand) types.ReactionKind {
	r := rng.Float64()
	for _, kind := range types.Reactions {
		r -= reactionWeights[kind]
		if r < 0 {
			return kind
		}
	}
	return types.ReactionThumbsUp
}

// agentSeed mixes the cycle seed with the agent id so each agent draws
// from its own deterministic stream.
func agentSeed(seed int64, agentID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(agentID))
	return seed ^ int64(h.Sum64())
}
