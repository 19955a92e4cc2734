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

// Package pulse builds the per-cycle community pulse: an aggregation of
// recent activity that the decision kernel and every worker stream read
// concurrently. Building is pure. The snapshot is never mutated and
// every collection on the pulse is freshly allocated, so the result is
// safe to share across streams without locks.
package pulse

import (
	"math"
	"sort"
	"time"

	"github.com/teradata-labs/tapestry/pkg/state"
	"github.com/teradata-labs/tapestry/pkg/types"
)

// Defaults for the pulse windows and thresholds.
const (
	// DefaultShortWindow is the momentum window.
	DefaultShortWindow = 24 * time.Hour

	// DefaultLongWindow bounds under-discussed candidates, channel
	// engagement ratios, and the poke window.
	DefaultLongWindow = 72 * time.Hour

	// DefaultTitleDepth is how many recent titles per agent feed the
	// kernel's dedup check.
	DefaultTitleDepth = 10

	// DefaultSummonThreshold is the distinct-poker count that opens a
	// summon. Agents one poker short surface as near summons.
	DefaultSummonThreshold = 3
)

// Momentum thresholds over the short-window post count.
const (
	onFireAt = 6
	hotAt    = 3
	warmAt   = 1
)

// Config holds the pulse windows and thresholds. Zero values take the
// defaults above.
type Config struct {
	ShortWindow     time.Duration
	LongWindow      time.Duration
	TitleDepth      int
	SummonThreshold int
}

func (c Config) withDefaults() Config {
	if c.ShortWindow <= 0 {
		c.ShortWindow = DefaultShortWindow
	}
	if c.LongWindow <= 0 {
		c.LongWindow = DefaultLongWindow
	}
	if c.TitleDepth <= 0 {
		c.TitleDepth = DefaultTitleDepth
	}
	if c.SummonThreshold <= 0 {
		c.SummonThreshold = DefaultSummonThreshold
	}
	return c
}

// Build aggregates the snapshot into a pulse at the given instant.
func Build(snap *state.Snapshot, now time.Time, cfg Config) *types.Pulse {
	cfg = cfg.withDefaults()

	p := &types.Pulse{
		BuiltAt:       now,
		Channels:      make(map[string]*types.ChannelActivity),
		RecentTitles:  make(map[string][]string),
		RecentThreads: make(map[string]map[int]time.Time),
	}
	buildChannels(p, snap, now, cfg)
	buildUnderDiscussed(p, snap, now, cfg)
	buildDuePredictions(p, snap, now)
	buildNearSummons(p, snap, now, cfg)
	buildRecentTitles(p, snap, cfg)
	buildRecentThreads(p, snap)
	return p
}

func momentumFor(count24h int) types.Momentum {
	switch {
	case count24h >= onFireAt:
		return types.MomentumOnFire
	case count24h >= hotAt:
		return types.MomentumHot
	case count24h >= warmAt:
		return types.MomentumWarm
	default:
		return types.MomentumCold
	}
}

// buildChannels fills per-channel window counts, momentum, and the
// engagement deficit. A channel with no recent posts has a deficit of 1,
// the maximum cold boost.
func buildChannels(p *types.Pulse, snap *state.Snapshot, now time.Time, cfg Config) {
	shortCutoff := now.Add(-cfg.ShortWindow)
	longCutoff := now.Add(-cfg.LongWindow)

	type tally struct {
		upvotes  int
		comments int
	}
	tallies := make(map[string]*tally)

	for slug, ch := range snap.Channels.Channels {
		p.Channels[slug] = &types.ChannelActivity{Slug: slug, TargetRatio: ch.TargetRatio}
		tallies[slug] = &tally{}
	}

	for i := range snap.PostedLog.Posts {
		post := &snap.PostedLog.Posts[i]
		if post.CreatedAt.Before(longCutoff) {
			continue
		}
		activity, ok := p.Channels[post.Channel]
		if !ok {
			// Posts in retired channels carry no pulse weight.
			continue
		}
		activity.Count72h++
		if !post.CreatedAt.Before(shortCutoff) {
			activity.Count24h++
		}
		tallies[post.Channel].upvotes += post.Upvotes
		tallies[post.Channel].comments += post.Comments
	}

	for slug, activity := range p.Channels {
		activity.Momentum = momentumFor(activity.Count24h)

		target := activity.TargetRatio
		if target <= 0 {
			target = 1
		}
		actual := float64(tallies[slug].upvotes) / math.Max(1, float64(tallies[slug].comments))
		deficit := (target - actual) / target
		if deficit < 0 {
			deficit = 0
		}
		activity.Deficit = deficit
	}
}

// buildUnderDiscussed collects recent posts whose upvotes-per-comment
// ratio exceeds their channel's target: posts the community likes but
// is not talking about. Ordered by ratio gap descending, then newer
// first.
func buildUnderDiscussed(p *types.Pulse, snap *state.Snapshot, now time.Time, cfg Config) {
	cutoff := now.Add(-cfg.LongWindow)
	for i := range snap.PostedLog.Posts {
		post := &snap.PostedLog.Posts[i]
		if post.CreatedAt.Before(cutoff) {
			continue
		}
		ch, ok := snap.Channels.Channels[post.Channel]
		if !ok || ch.TargetRatio <= 0 {
			continue
		}
		ratio := float64(post.Upvotes) / math.Max(1, float64(post.Comments))
		if ratio <= ch.TargetRatio {
			continue
		}
		p.UnderDiscussed = append(p.UnderDiscussed, types.UnderDiscussed{
			Number:    post.Number,
			Title:     post.Title,
			Channel:   post.Channel,
			Author:    post.Author,
			Ratio:     ratio,
			Gap:       ratio - ch.TargetRatio,
			CreatedAt: post.CreatedAt,
		})
	}

	sort.SliceStable(p.UnderDiscussed, func(i, j int) bool {
		a, b := &p.UnderDiscussed[i], &p.UnderDiscussed[j]
		if a.Gap != b.Gap {
			return a.Gap > b.Gap
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
}

func buildDuePredictions(p *types.Pulse, snap *state.Snapshot, now time.Time) {
	for _, pred := range snap.Predictions.Predictions {
		if pred.Status != types.PredictionPending {
			continue
		}
		if pred.ResolveBy.After(now) {
			continue
		}
		p.DuePredictions = append(p.DuePredictions, pred.Number)
	}
	sort.Ints(p.DuePredictions)
}

// buildNearSummons lists dormant agents exactly one distinct poker
// short of the summon threshold, so the kernel can nudge pokes toward
// an almost-complete summon. It also collects the full dormant roster
// as the kernel's poke candidate pool.
func buildNearSummons(p *types.Pulse, snap *state.Snapshot, now time.Time, cfg Config) {
	near := cfg.SummonThreshold - 1
	for id, agent := range snap.Agents.Agents {
		if !agent.Dormant() {
			continue
		}
		p.Dormant = append(p.Dormant, id)
		if near < 1 {
			continue
		}
		if snap.Summons.ActiveFor(id) != nil {
			continue
		}
		if len(snap.Pokes.DistinctPokers(id, now, cfg.LongWindow)) == near {
			p.NearSummons = append(p.NearSummons, id)
		}
	}
	sort.Strings(p.Dormant)
	sort.Strings(p.NearSummons)
}

// buildRecentTitles maps each author to its newest post titles, newest
// first, bounded by the title depth.
func buildRecentTitles(p *types.Pulse, snap *state.Snapshot, cfg Config) {
	for i := len(snap.PostedLog.Posts) - 1; i >= 0; i-- {
		post := &snap.PostedLog.Posts[i]
		titles := p.RecentTitles[post.Author]
		if len(titles) >= cfg.TitleDepth {
			continue
		}
		p.RecentTitles[post.Author] = append(titles, post.Title)
	}
}

// buildRecentThreads maps each agent to the posts it commented under,
// with the latest comment time, from the bounded change log.
func buildRecentThreads(p *types.Pulse, snap *state.Snapshot) {
	for _, entry := range snap.Changes.Entries {
		if entry.Kind != types.ChangeCommented || entry.Agent == "" || entry.Number == 0 {
			continue
		}
		threads, ok := p.RecentThreads[entry.Agent]
		if !ok {
			threads = make(map[int]time.Time)
			p.RecentThreads[entry.Agent] = threads
		}
		if entry.At.After(threads[entry.Number]) {
			threads[entry.Number] = entry.At
		}
	}
}
