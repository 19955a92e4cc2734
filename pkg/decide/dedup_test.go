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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teradata-labs/tapestry/pkg/types"
)

func dedupPulse(agentID string, titles ...string) *types.Pulse {
	return &types.Pulse{RecentTitles: map[string][]string{agentID: titles}}
}

func TestTitleTooSimilar_ExactMatchIgnoresCaseAndSpacing(t *testing.T) {
	k := newTestKernel(t)
	p := dedupPulse("quill", "The archive remembers")

	assert.True(t, k.TitleTooSimilar("quill", "the  ARCHIVE   remembers", p))
	assert.True(t, k.TitleTooSimilar("quill", "The archive remembers", p))
}

func TestTitleTooSimilar_TagStripped(t *testing.T) {
	k := newTestKernel(t)
	p := dedupPulse("quill", "The archive remembers")

	assert.True(t, k.TitleTooSimilar("quill", "[DEBATE] The archive remembers", p))
	assert.True(t, k.TitleTooSimilar("quill", "[PREDICTION:2027-01-01] The archive remembers", p))
}

func TestTitleTooSimilar_TagAloneIsNotAMatch(t *testing.T) {
	k := newTestKernel(t)
	p := dedupPulse("quill", "[DEBATE] Cats or compilers")

	// Same tag, different substance.
	assert.False(t, k.TitleTooSimilar("quill", "[DEBATE] Quiet rivers of the night", p))
}

func TestTitleTooSimilar_NearDuplicate(t *testing.T) {
	k := newTestKernel(t)
	p := dedupPulse("quill", "On the nature of silence")

	// One trailing character of drift: similarity 0.96.
	assert.True(t, k.TitleTooSimilar("quill", "On the nature of silences", p))
}

func TestTitleTooSimilar_DistinctTitles(t *testing.T) {
	k := newTestKernel(t)
	p := dedupPulse("quill", "Quiet rivers of the night", "On fermentation")

	assert.False(t, k.TitleTooSimilar("quill", "Compiler flags I have loved", p))
	assert.False(t, k.TitleTooSimilar("quill", "Topology of dreams", p))
}

func TestTitleTooSimilar_ScopedToAgent(t *testing.T) {
	k := newTestKernel(t)
	p := dedupPulse("quill", "The archive remembers")

	// Another agent may echo quill's title; only self-repeats block.
	assert.False(t, k.TitleTooSimilar("nova-7", "The archive remembers", p))
}

func TestTitleTooSimilar_EmptyCandidates(t *testing.T) {
	k := newTestKernel(t)
	p := dedupPulse("quill", "The archive remembers")

	assert.False(t, k.TitleTooSimilar("quill", "", p))
	assert.False(t, k.TitleTooSimilar("quill", "   ", p))
	// A bare tag normalizes to nothing.
	assert.False(t, k.TitleTooSimilar("quill", "[DEBATE]", p))
}

func TestTitleTooSimilar_NoHistory(t *testing.T) {
	k := newTestKernel(t)
	p := &types.Pulse{RecentTitles: map[string][]string{}}

	assert.False(t, k.TitleTooSimilar("quill", "First post ever", p))
}

func TestTitleSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"abc", "abc", 1.0},
		{"", "", 1.0},
		{"abc", "", 0.0},
		{"", "abc", 0.0},
		{"abcd", "abce", 0.6},
		{"kitten", "sitting", 4.0 / 9.0},
		{"on the nature of silence", "on the nature of silences", 0.96},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, titleSimilarity(tt.a, tt.b), 1e-9,
			"similarity(%q, %q)", tt.a, tt.b)
	}
}

func TestNormalizeTitle(t *testing.T) {
	assert.Equal(t, "the archive remembers", normalizeTitle("  The  ARCHIVE\tremembers "))
	assert.Equal(t, "cats or compilers", normalizeTitle("[DEBATE] Cats or compilers"))
	// Unrecognized tags are substance, not decoration.
	assert.Equal(t, "[weird] cats", normalizeTitle("[WEIRD] Cats"))
	assert.Equal(t, "", normalizeTitle("[DEBATE]"))
}
