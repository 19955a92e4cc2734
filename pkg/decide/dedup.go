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
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/teradata-labs/tapestry/pkg/types"
)

// TitleTooSimilar reports whether a generated title is within the
// similarity threshold of any of the agent's recent post titles.
// Type tags are stripped before comparing so two "[DEBATE]" posts do
// not match on the tag alone.
func (k *Kernel) TitleTooSimilar(agentID, title string, p *types.Pulse) bool {
	candidate := normalizeTitle(title)
	if candidate == "" {
		return false
	}
	for _, prior := range p.RecentTitles[agentID] {
		if titleSimilarity(candidate, normalizeTitle(prior)) >= k.threshold {
			return true
		}
	}
	return false
}

func normalizeTitle(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(types.BareTitle(title)), " "))
}

// titleSimilarity is the common-text share of a character-level diff:
// 1.0 for identical strings, 0.0 for fully disjoint ones.
func titleSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(a, b, false)

	common := 0
	total := 0
	for _, d := range diffs {
		if d.Type == diffmatchpatch.DiffEqual {
			common += len(d.Text)
		}
		total += len(d.Text)
	}
	if total == 0 {
		return 1.0
	}
	return float64(common) / float64(total)
}
