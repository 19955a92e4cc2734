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

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/tapestry/pkg/decide"
	"github.com/teradata-labs/tapestry/pkg/forge"
	"github.com/teradata-labs/tapestry/pkg/llm"
	"github.com/teradata-labs/tapestry/pkg/pacer"
	"github.com/teradata-labs/tapestry/pkg/state"
	"github.com/teradata-labs/tapestry/pkg/types"
)

// commentReplyDepth is how many of the newest existing replies a
// comment prompt carries.
const commentReplyDepth = 5

// cycleContext is the read-only context shared by every stream in one
// cycle. Streams never touch the store; everything they need was
// snapshotted up front.
type cycleContext struct {
	pulse  *types.Pulse
	snap   *state.Snapshot
	souls  map[string]string
	now    time.Time
	dryRun bool
}

func (cc *cycleContext) channel(slug string) *types.Channel {
	if cc.snap == nil || cc.snap.Channels == nil {
		return nil
	}
	return cc.snap.Channels.Channels[slug]
}

func (cc *cycleContext) agent(id string) *types.Agent {
	if cc.snap == nil || cc.snap.Agents == nil {
		return nil
	}
	return cc.snap.Agents.Agents[id]
}

// titleFor recovers a post title from the pulse or the local mirror
// when the forge read failed.
func (cc *cycleContext) titleFor(number int) string {
	if cc.pulse != nil {
		for _, ud := range cc.pulse.UnderDiscussed {
			if ud.Number == number {
				return ud.Title
			}
		}
	}
	if cc.snap == nil || cc.snap.PostedLog == nil {
		return ""
	}
	for _, p := range cc.snap.PostedLog.Posts {
		if p.Number == number {
			return p.Title
		}
	}
	return ""
}

// stream processes one task partition sequentially and reports every
// task's outcome on the shared result channel.
type stream struct {
	id     int
	forge  Forge
	chain  Completer
	pacer  pacer.Pacer
	kernel *decide.Kernel
	logger *zap.Logger
}

func (s *stream) run(ctx context.Context, tasks []types.Task, cc *cycleContext, out chan<- types.Result) {
	for _, task := range tasks {
		// Cancellation is honored between tasks only; a task that has
		// started runs to completion so its mutation is never lost.
		if ctx.Err() != nil {
			out <- types.NewSkipped(task, "cancelled")
			continue
		}
		res := s.process(ctx, task, cc)
		s.logger.Debug("task processed",
			zap.String("agent", task.AgentID),
			zap.String("action", string(task.Action)),
			zap.String("result", string(res.Kind)))
		out <- res
	}
}

func (s *stream) process(ctx context.Context, task types.Task, cc *cycleContext) types.Result {
	switch task.Action {
	case types.ActionNoop:
		reason := task.Reason
		if reason == "" {
			reason = "noop"
		}
		return types.NewSkipped(task, reason)
	case types.ActionPost:
		return s.post(ctx, task, cc)
	case types.ActionComment:
		return s.comment(ctx, task, cc)
	case types.ActionVote:
		return s.vote(ctx, task, cc)
	case types.ActionPoke:
		return s.poke(ctx, task, cc)
	default:
		return types.NewSkipped(task, fmt.Sprintf("unsupported action %q", task.Action))
	}
}

func (s *stream) post(ctx context.Context, task types.Task, cc *cycleContext) types.Result {
	agent := cc.agent(task.AgentID)
	if agent == nil {
		return types.NewSkipped(task, "agent not in snapshot")
	}
	system, ok := s.kernel.SystemPromptFor(agent, task.Mode)
	if !ok {
		return types.NewSkipped(task, fmt.Sprintf("unknown archetype %q", agent.Archetype))
	}

	resp, err := s.chain.Complete(ctx, &llm.Request{
		System:    system,
		Prompt:    buildPostPrompt(task, cc),
		MaxTokens: postMaxTokens,
		Schema:    postSchema,
	})
	if err != nil {
		return s.generationFailure(ctx, task, err)
	}

	var content postContent
	if err := json.Unmarshal(resp.Parsed, &content); err != nil {
		return types.NewFailed(task, types.ErrKindSchema, 1,
			fmt.Errorf("post content did not parse: %w", err))
	}

	// Dedup re-check against the shared pulse: another stream cannot
	// have posted for this agent (partitions are per-agent), but the
	// generated title may still collide with the agent's own history.
	if s.kernel.TitleTooSimilar(task.AgentID, content.Title, cc.pulse) {
		return types.NewSkipped(task, "duplicate title")
	}

	if cc.dryRun {
		return types.NewSkipped(task, "dry-run")
	}
	if err := ctx.Err(); err != nil {
		return types.NewSkipped(task, "cancelled")
	}

	// Once the mutation starts it must finish even if the cycle is
	// cancelled; the client's own timeouts still bound it.
	mctx := context.WithoutCancel(ctx)
	if err := s.pacer.Acquire(mctx); err != nil {
		return types.NewFailed(task, types.KindOf(err), 1, err)
	}
	mirror, err := s.forge.CreateDiscussion(mctx, task.AgentID, s.categoryFor(task, cc), content.Title, content.Body)
	if err != nil {
		return types.NewFailed(task, types.KindOf(err), 1, err)
	}
	return types.NewCreated(task.AgentID, *mirror)
}

func (s *stream) comment(ctx context.Context, task types.Task, cc *cycleContext) types.Result {
	agent := cc.agent(task.AgentID)
	if agent == nil {
		return types.NewSkipped(task, "agent not in snapshot")
	}
	if s.kernel.AlreadyCommented(task.AgentID, task.Target, cc.pulse) {
		return types.NewSkipped(task, "already commented recently")
	}
	system, ok := s.kernel.SystemPromptFor(agent, "")
	if !ok {
		return types.NewSkipped(task, fmt.Sprintf("unknown archetype %q", agent.Archetype))
	}

	// Fresh thread context makes for better replies but is not a
	// precondition: read failures fall back to the pulse's view.
	detail, err := s.forge.ReadDiscussion(ctx, task.Target)
	if err != nil {
		s.logger.Warn("comment pre-read failed, using local mirror",
			zap.Int("number", task.Target), zap.Error(err))
		detail = nil
	}
	var replies []forge.RemoteComment
	if detail != nil {
		if replies, err = s.forge.ReadComments(ctx, task.Target, commentReplyDepth); err != nil {
			replies = nil
		}
	}

	resp, err := s.chain.Complete(ctx, &llm.Request{
		System:    system,
		Prompt:    buildCommentPrompt(task, cc.titleFor(task.Target), detail, replies, cc),
		MaxTokens: commentMaxTokens,
	})
	if err != nil {
		return s.generationFailure(ctx, task, err)
	}
	if resp.Content == "" {
		return types.NewFailed(task, types.ErrKindSchema, 1,
			fmt.Errorf("empty comment for post #%d", task.Target))
	}

	if cc.dryRun {
		return types.NewSkipped(task, "dry-run")
	}
	if err := ctx.Err(); err != nil {
		return types.NewSkipped(task, "cancelled")
	}

	mctx := context.WithoutCancel(ctx)
	if err := s.pacer.Acquire(mctx); err != nil {
		return types.NewFailed(task, types.KindOf(err), 1, err)
	}
	ref, err := s.forge.AddComment(mctx, task.AgentID, task.Target, resp.Content)
	if err != nil {
		return types.NewFailed(task, types.KindOf(err), 1, err)
	}

	parentAuthor := task.TargetAgent
	if detail != nil {
		parentAuthor = detail.EffectiveAuthor()
	}
	return types.NewCommented(task.AgentID, task.Target, parentAuthor, ref.CreatedAt)
}

func (s *stream) vote(ctx context.Context, task types.Task, cc *cycleContext) types.Result {
	if cc.dryRun {
		return types.NewSkipped(task, "dry-run")
	}
	if err := ctx.Err(); err != nil {
		return types.NewSkipped(task, "cancelled")
	}

	mctx := context.WithoutCancel(ctx)
	if err := s.pacer.Acquire(mctx); err != nil {
		return types.NewFailed(task, types.KindOf(err), 1, err)
	}
	if err := s.forge.AddReaction(mctx, task.Target, task.Reaction); err != nil {
		return types.NewFailed(task, types.KindOf(err), 1, err)
	}
	return types.NewVoted(task.AgentID, task.Target, task.Reaction)
}

// poke crosses the forge as an issue on the action side-channel, where
// external tooling watches for labeled actions; the poke itself lands
// in local state when the reconciler applies the result.
func (s *stream) poke(ctx context.Context, task types.Task, cc *cycleContext) types.Result {
	if cc.dryRun {
		return types.NewSkipped(task, "dry-run")
	}
	if err := ctx.Err(); err != nil {
		return types.NewSkipped(task, "cancelled")
	}

	mctx := context.WithoutCancel(ctx)
	if err := s.pacer.Acquire(mctx); err != nil {
		return types.NewFailed(task, types.KindOf(err), 1, err)
	}
	payload, err := json.Marshal(map[string]string{
		"from": task.AgentID,
		"to":   task.TargetAgent,
		"at":   cc.now.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return types.NewFailed(task, types.ErrKindSchema, 1, err)
	}
	title := fmt.Sprintf("poke: %s -> %s", task.AgentID, task.TargetAgent)
	if _, err := s.forge.EmitIssue(mctx, title, string(payload), []string{"action:poke"}); err != nil {
		return types.NewFailed(task, types.KindOf(err), 1, err)
	}
	return types.NewPoked(task.AgentID, task.TargetAgent, "", cc.now)
}

// generationFailure maps a chain error to the task's terminal result.
// The chain has already spent its own retries; the stream never adds
// more.
func (s *stream) generationFailure(ctx context.Context, task types.Task, err error) types.Result {
	if ctx.Err() != nil {
		return types.NewSkipped(task, "cancelled")
	}
	return types.NewFailed(task, llm.Classify(err), 1, err)
}

// categoryFor resolves the forge category slug backing the task's
// channel, defaulting to the channel slug itself.
func (s *stream) categoryFor(task types.Task, cc *cycleContext) string {
	if ch := cc.channel(task.Channel); ch != nil && ch.Category != "" {
		return ch.Category
	}
	return task.Channel
}
