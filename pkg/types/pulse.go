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

package types

import (
	"time"
)

// Momentum buckets a channel's recent activity.
type Momentum string

const (
	MomentumOnFire Momentum = "on-fire"
	MomentumHot    Momentum = "hot"
	MomentumWarm   Momentum = "warm"
	MomentumCold   Momentum = "cold"
)

// ChannelActivity summarizes one channel's recent velocity.
type ChannelActivity struct {
	Slug string

	// Posts in the 24h and 72h windows ending at the pulse build time.
	Count24h int
	Count72h int

	Momentum Momentum

	// TargetRatio copies the channel record's target for convenience.
	TargetRatio float64

	// Deficit is how far the channel's recent actual engagement ratio
	// runs below target; positive values mark cold channels that the
	// kernel's channel selection boosts.
	Deficit float64
}

// UnderDiscussed is a comment-target candidate: a recent post whose
// upvotes-to-comments ratio exceeds its channel's target.
type UnderDiscussed struct {
	Number    int
	Title     string
	Channel   string
	Author    string
	Ratio     float64
	Gap       float64
	CreatedAt time.Time
}

// Pulse is the immutable per-cycle snapshot the decision kernel and all
// worker streams share. It is built once per cycle and never mutated;
// every collection it holds is freshly allocated by the builder.
type Pulse struct {
	BuiltAt time.Time

	// Channels maps slug to activity summary.
	Channels map[string]*ChannelActivity

	// UnderDiscussed is ordered by ratio gap descending, then recency
	// descending.
	UnderDiscussed []UnderDiscussed

	// DuePredictions lists pending prediction numbers whose resolve-by
	// date has passed.
	DuePredictions []int

	// NearSummons lists dormant agent ids one poker short of the summon
	// threshold.
	NearSummons []string

	// Dormant lists all dormant agent ids, sorted, as poke candidates.
	Dormant []string

	// RecentTitles maps agent id to that agent's most recent post titles,
	// newest first, for dedup checks.
	RecentTitles map[string][]string

	// RecentThreads maps agent id to the post numbers the agent recently
	// commented under, with the time of the latest comment.
	RecentThreads map[string]map[int]time.Time
}

// Activity returns the channel's activity, or nil when unknown.
func (p *Pulse) Activity(slug string) *ChannelActivity {
	if p == nil || p.Channels == nil {
		return nil
	}
	return p.Channels[slug]
}

// CommentedRecently reports whether the agent commented under the post
// within the window ending at the pulse build time.
func (p *Pulse) CommentedRecently(agentID string, number int, window time.Duration) bool {
	if p == nil {
		return false
	}
	threads, ok := p.RecentThreads[agentID]
	if !ok {
		return false
	}
	at, ok := threads[number]
	if !ok {
		return false
	}
	return p.BuiltAt.Sub(at) < window
}
