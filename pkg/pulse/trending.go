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

package pulse

import (
	"sort"
	"time"

	"github.com/teradata-labs/tapestry/pkg/state"
	"github.com/teradata-labs/tapestry/pkg/types"
)

// DefaultTrendingLimit is the number of entries a trending recompute
// keeps.
const DefaultTrendingLimit = 10

// Trending recomputes the trending ranking from the posted log.
//
// Score is engagement decayed by age: (upvotes + 2*comments - downvotes)
// divided by (1 + ageDays). Comments weigh double because a reply costs
// more than a reaction. Posts with no positive engagement never trend.
func Trending(snap *state.Snapshot, now time.Time, limit int) []types.TrendingEntry {
	if limit <= 0 {
		limit = DefaultTrendingLimit
	}

	type scored struct {
		post  *types.PostMirror
		score float64
	}
	var candidates []scored
	for i := range snap.PostedLog.Posts {
		post := &snap.PostedLog.Posts[i]
		engagement := float64(post.Upvotes + 2*post.Comments - post.Downvotes)
		if engagement <= 0 {
			continue
		}
		age := now.Sub(post.CreatedAt)
		if age < 0 {
			age = 0
		}
		candidates = append(candidates, scored{
			post:  post,
			score: engagement / (1 + age.Hours()/24),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].post.CreatedAt.After(candidates[j].post.CreatedAt)
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]types.TrendingEntry, len(candidates))
	for i, c := range candidates {
		out[i] = types.TrendingEntry{
			Rank:    i + 1,
			Number:  c.post.Number,
			Title:   c.post.Title,
			Channel: c.post.Channel,
			Author:  c.post.Author,
			Score:   c.score,
		}
	}
	return out
}
