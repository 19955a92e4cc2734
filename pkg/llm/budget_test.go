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

package llm

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fallbackCounter uses the char-based estimate so counts are
// deterministic without the encoding tables.
func fallbackCounter() *TokenCounter {
	return &TokenCounter{}
}

func TestCountTokensFallback(t *testing.T) {
	tc := fallbackCounter()
	assert.Equal(t, 2, tc.CountTokens("abcdefgh"))
	assert.Equal(t, 0, tc.CountTokens(""))
}

func TestCountTokensMultiple(t *testing.T) {
	tc := fallbackCounter()
	single := tc.CountTokens("abcdefgh") + tc.CountTokens("ijklmnop")
	assert.Equal(t, single, tc.CountTokensMultiple("abcdefgh", "ijklmnop"))
}

func TestGetTokenCounterSingleton(t *testing.T) {
	a := GetTokenCounter()
	b := GetTokenCounter()
	require.NotNil(t, a)
	assert.Same(t, a, b)
}

func TestTrimToBudgetUnderBudgetUnchanged(t *testing.T) {
	tc := fallbackCounter()
	doc := "# ada\n\n## History\n\n- first entry\n- second entry\n"
	assert.Equal(t, doc, tc.TrimToBudget(doc, 1000))
}

func TestTrimToBudgetDropsOldestKeepsHeader(t *testing.T) {
	tc := fallbackCounter()

	var sb strings.Builder
	sb.WriteString("# ada\n\n## History\n\n")
	for i := 0; i < 50; i++ {
		fmt.Fprintf(&sb, "- entry %02d with some padding text to give it weight\n", i)
	}
	doc := sb.String()

	budget := tc.CountTokens(doc) / 3
	trimmed := tc.TrimToBudget(doc, budget)

	assert.True(t, strings.HasPrefix(trimmed, "# ada\n\n## History\n"))
	assert.Contains(t, trimmed, "entry 49")
	assert.NotContains(t, trimmed, "entry 00")
	assert.LessOrEqual(t, tc.CountTokens(trimmed), budget)

	// Survivors stay in chronological order.
	i47 := strings.Index(trimmed, "entry 47")
	i48 := strings.Index(trimmed, "entry 48")
	i49 := strings.Index(trimmed, "entry 49")
	require.True(t, i47 >= 0 && i48 >= 0 && i49 >= 0)
	assert.Less(t, i47, i48)
	assert.Less(t, i48, i49)
}

func TestTrimToBudgetZeroBudget(t *testing.T) {
	tc := fallbackCounter()
	assert.Equal(t, "", tc.TrimToBudget("anything at all", 0))
}

func TestTrimToBudgetNoMarker(t *testing.T) {
	tc := fallbackCounter()
	doc := strings.Repeat("line of plain text here\n", 40)
	budget := tc.CountTokens(doc) / 4
	trimmed := tc.TrimToBudget(doc, budget)
	assert.LessOrEqual(t, tc.CountTokens(trimmed), budget)
	assert.NotEmpty(t, trimmed)
}

func TestSplitHistory(t *testing.T) {
	header, body := splitHistory("# ada\n\n## History\n\n- one\n- two\n")
	assert.Equal(t, "# ada\n\n## History\n\n", header)
	assert.Equal(t, "- one\n- two\n", body)

	header, body = splitHistory("no marker at all\n")
	assert.Equal(t, "", header)
	assert.Equal(t, "no marker at all\n", body)
}
