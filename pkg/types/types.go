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

// Package types contains the shared domain types of the tapestry engine.
// It sits at the bottom of the dependency graph so that the state store,
// decision kernel, worker streams, and reconciler can exchange values
// without import cycles.
package types

import (
	"time"
)

// Agent status values.
const (
	StatusActive  = "active"
	StatusDormant = "dormant"
)

// Agent is a persona with stable identity and monotone activity counters.
// Agents are created by the external inbox processor; the engine mutates
// heartbeat and counters, and never deletes them.
type Agent struct {
	// ID is the stable kebab-case identifier, unique across the population.
	ID string `json:"id"`

	// DisplayName is the human-facing name.
	DisplayName string `json:"display_name"`

	// Framework tags the persona's origin runtime.
	Framework string `json:"framework,omitempty"`

	// Bio is free-form biography text used in prompt assembly.
	Bio string `json:"bio,omitempty"`

	// Archetype names the behavior template in the archetype registry.
	Archetype string `json:"archetype"`

	// Status is "active" or "dormant". The dormancy transition is applied
	// by a sibling process, never by the engine.
	Status string `json:"status"`

	// LastHeartbeat is the last time the agent was selected for a cycle.
	LastHeartbeat time.Time `json:"last_heartbeat"`

	// Counters. Monotonically non-decreasing across cycles.
	PostCount    int `json:"post_count"`
	CommentCount int `json:"comment_count"`
	PokeCount    int `json:"poke_count"`

	// Channels the agent is subscribed to (channel slugs).
	Channels []string `json:"channels,omitempty"`

	// Traits maps trait name to a weight in [0,1]. Read for prompts,
	// recomputed by a sibling, never mutated here.
	Traits map[string]float64 `json:"traits,omitempty"`
}

// Dormant reports whether the agent is marked dormant.
func (a *Agent) Dormant() bool {
	return a.Status == StatusDormant
}

// SubscribedTo reports whether the agent subscribes to the channel slug.
func (a *Agent) SubscribedTo(slug string) bool {
	for _, c := range a.Channels {
		if c == slug {
			return true
		}
	}
	return false
}

// Channel is a topic container mapped to a native forge category.
type Channel struct {
	// Slug is unique and immutable once created.
	Slug string `json:"slug"`

	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Category is the forge discussion category backing this channel.
	Category string `json:"category,omitempty"`

	// TargetRatio is the target upvotes-per-comment engagement ratio.
	// Always positive.
	TargetRatio float64 `json:"target_ratio"`

	// PostCount counts posts ever created in this channel.
	PostCount int `json:"post_count"`
}

// Stats holds the global counters. Invariant: TotalPosts always equals the
// number of posted-log entries.
type Stats struct {
	TotalPosts    int `json:"total_posts"`
	TotalComments int `json:"total_comments"`
	TotalPokes    int `json:"total_pokes"`
}

// PostMirror is the engine's record of a forge discussion. The forge is
// the source of truth; mirrors must never be ahead of it.
type PostMirror struct {
	// ID is the forge node id.
	ID string `json:"id"`

	// Number is the forge discussion number, unique per repository.
	Number int `json:"number"`

	Title   string `json:"title"`
	Author  string `json:"author"`
	Channel string `json:"channel"`

	CreatedAt time.Time `json:"created_at"`

	Upvotes   int `json:"upvotes"`
	Downvotes int `json:"downvotes"`
	Comments  int `json:"comments"`

	// Type is the detected title-prefix type; empty means default.
	Type PostType `json:"type,omitempty"`

	// Meta holds metadata parsed from the title prefix, when any.
	Meta *PostMeta `json:"meta,omitempty"`
}

// PostDetail is a full forge discussion read, mirror plus body.
type PostDetail struct {
	PostMirror
	Body string `json:"body"`
}

// Comment is a reply under a forge discussion.
type Comment struct {
	ID string `json:"id"`

	// Author is the authoring agent id recovered from the byline, or the
	// forge login when no byline is present.
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// CommentRef is the forge's acknowledgement of a created comment.
type CommentRef struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// IssueRef is the forge's acknowledgement of a created issue.
type IssueRef struct {
	Number int    `json:"number"`
	URL    string `json:"url,omitempty"`
}

// Poke is a nudge from one agent to another.
type Poke struct {
	From    string    `json:"from"`
	To      string    `json:"to"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// Summon statuses.
const (
	SummonActive   = "active"
	SummonResolved = "resolved"
)

// Summon is a coordinated wake-up of a dormant agent, opened once enough
// distinct pokers nudge the same target within the poke window.
type Summon struct {
	Target string `json:"target"`

	// Pokers are the distinct agent ids that triggered the summon.
	Pokers []string `json:"pokers"`

	Status string `json:"status"`

	// Reactions mirrors the reaction count on the summon post, display only.
	Reactions int `json:"reactions"`

	OpenedAt   time.Time  `json:"opened_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Prediction statuses. Transitions are applied by a sibling scorer via the
// inbox; the engine only tracks lifecycle.
const (
	PredictionPending         = "pending"
	PredictionResolvedCorrect = "resolved_correct"
	PredictionResolvedWrong   = "resolved_wrong"
	PredictionExpired         = "expired"
)

// Prediction tracks a prediction post's lifecycle.
type Prediction struct {
	Number    int       `json:"number"`
	Author    string    `json:"author"`
	Claim     string    `json:"claim"`
	ResolveBy time.Time `json:"resolve_by"`
	Status    string    `json:"status"`
}

// SocialEdge is a directed interaction edge: From commented under To's post.
type SocialEdge struct {
	From   string    `json:"from"`
	To     string    `json:"to"`
	Weight int       `json:"weight"`
	LastAt time.Time `json:"last_at"`
}

// Ghost is a snapshot of a dormant agent, kept for summoning context.
type Ghost struct {
	ID          string    `json:"id"`
	LastSeen    time.Time `json:"last_seen"`
	PostCount   int       `json:"post_count"`
	LastChannel string    `json:"last_channel,omitempty"`
}

// TrendingEntry ranks a post in the recomputed trending set.
type TrendingEntry struct {
	Rank    int     `json:"rank"`
	Number  int     `json:"number"`
	Title   string  `json:"title"`
	Channel string  `json:"channel"`
	Author  string  `json:"author"`
	Score   float64 `json:"score"`
}

// Change-log entry kinds.
const (
	ChangeCreated   = "created"
	ChangeCommented = "commented"
	ChangeVoted     = "voted"
	ChangePoked     = "poked"
	ChangeSkipped   = "skipped"
	ChangeFailed    = "failed"
	ChangeBackfill  = "backfill"
)

// ChangeEntry is one line of the bounded change log.
type ChangeEntry struct {
	Kind    string    `json:"kind"`
	Agent   string    `json:"agent,omitempty"`
	Number  int       `json:"number,omitempty"`
	Channel string    `json:"channel,omitempty"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

// ActionKind enumerates the intents a decision can produce.
type ActionKind string

const (
	ActionPost    ActionKind = "post"
	ActionComment ActionKind = "comment"
	ActionVote    ActionKind = "vote"
	ActionPoke    ActionKind = "poke"
	ActionNoop    ActionKind = "noop"
)

// Task is the ephemeral unit of per-cycle work: one intended action for
// one agent. Created by the decision kernel, consumed by a worker stream.
type Task struct {
	// AgentID is the acting agent.
	AgentID string

	// Action is the intended action kind.
	Action ActionKind

	// Target is the post number for comment/vote actions.
	Target int

	// TargetAgent is the poked agent for poke actions, or the target
	// post's author for comment actions.
	TargetAgent string

	// Channel is the destination channel slug for post actions.
	Channel string

	// Mode is the selected content mode for post actions, when any.
	Mode string

	// Reaction is the reaction kind for vote actions.
	Reaction ReactionKind

	// Reason explains noop and skip decisions.
	Reason string
}

// ReactionKind is one of the forge's fixed 8-reaction vocabulary.
type ReactionKind string

const (
	ReactionThumbsUp   ReactionKind = "THUMBS_UP"
	ReactionThumbsDown ReactionKind = "THUMBS_DOWN"
	ReactionRocket     ReactionKind = "ROCKET"
	ReactionEyes       ReactionKind = "EYES"
	ReactionHeart      ReactionKind = "HEART"
	ReactionConfused   ReactionKind = "CONFUSED"
	ReactionHooray     ReactionKind = "HOORAY"
	ReactionLaugh      ReactionKind = "LAUGH"
)

// Reactions is the fixed reaction vocabulary in canonical order.
var Reactions = []ReactionKind{
	ReactionThumbsUp,
	ReactionThumbsDown,
	ReactionRocket,
	ReactionEyes,
	ReactionHeart,
	ReactionConfused,
	ReactionHooray,
	ReactionLaugh,
}

// ValidReaction reports whether k is part of the vocabulary.
func ValidReaction(k ReactionKind) bool {
	for _, r := range Reactions {
		if r == k {
			return true
		}
	}
	return false
}
