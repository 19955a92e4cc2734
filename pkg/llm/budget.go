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
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter provides token counting for prompt budget management.
// Uses tiktoken with cl100k_base encoding as a cross-model approximation.
type TokenCounter struct {
	encoder *tiktoken.Tiktoken
	mu      sync.Mutex
}

var (
	globalTokenCounter *TokenCounter
	counterInitOnce    sync.Once
)

// GetTokenCounter returns the singleton token counter.
func GetTokenCounter() *TokenCounter {
	counterInitOnce.Do(func() {
		tkm, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			// Fall back to char-based estimation.
			globalTokenCounter = &TokenCounter{encoder: nil}
			return
		}
		globalTokenCounter = &TokenCounter{encoder: tkm}
	})
	return globalTokenCounter
}

// CountTokens returns the token count for text.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc.encoder == nil {
		return len(text) / 4
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()

	return len(tc.encoder.Encode(text, nil, nil))
}

// CountTokensMultiple counts tokens across several segments.
func (tc *TokenCounter) CountTokensMultiple(texts ...string) int {
	total := 0
	for _, text := range texts {
		total += tc.CountTokens(text)
	}
	return total
}

// TrimToBudget trims a memory document to maxTokens, dropping the oldest
// body lines first. The document header (everything up to and including
// the "## History" marker) survives trimming so the document stays
// well-formed; history lines are kept newest-first until the budget is
// spent, then re-emitted in their original order.
func (tc *TokenCounter) TrimToBudget(doc string, maxTokens int) string {
	if maxTokens <= 0 || doc == "" {
		return ""
	}
	if tc.CountTokens(doc) <= maxTokens {
		return doc
	}

	header, body := splitHistory(doc)
	remaining := maxTokens - tc.CountTokens(header)
	if remaining <= 0 {
		return header
	}

	lines := strings.Split(strings.TrimRight(body, "\n"), "\n")
	kept := make([]string, 0, len(lines))
	for i := len(lines) - 1; i >= 0; i-- {
		cost := tc.CountTokens(lines[i]) + 1
		if cost > remaining {
			break
		}
		remaining -= cost
		kept = append(kept, lines[i])
	}

	// Reverse back to chronological order.
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}

	out := header + strings.Join(kept, "\n")
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return out
}

const historyMarker = "## History"

// splitHistory divides a memory document at the history marker. When no
// marker exists the whole document is body.
func splitHistory(doc string) (header, body string) {
	idx := strings.Index(doc, historyMarker)
	if idx < 0 {
		return "", doc
	}
	end := idx + len(historyMarker)
	// Include the newline(s) after the marker in the header.
	for end < len(doc) && doc[end] == '\n' {
		end++
	}
	return doc[:end], doc[end:]
}
