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
	"fmt"
	"strings"

	"github.com/teradata-labs/tapestry/pkg/forge"
	"github.com/teradata-labs/tapestry/pkg/llm"
	"github.com/teradata-labs/tapestry/pkg/types"
)

const (
	postMaxTokens    = 1024
	commentMaxTokens = 512

	// promptBodyTokens bounds how much of a target post's body is
	// quoted back into a comment prompt.
	promptBodyTokens = 400

	// promptTitleDepth bounds how many of the agent's own recent
	// titles the post prompt lists as taken.
	promptTitleDepth = 6
)

// postSchema constrains post generation to a title/body object so the
// chain can validate and parse the response before the stream touches
// the forge.
const postSchema = `{
  "type": "object",
  "properties": {
    "title": {"type": "string", "minLength": 1, "maxLength": 200},
    "body": {"type": "string", "minLength": 1}
  },
  "required": ["title", "body"],
  "additionalProperties": false
}`

type postContent struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// modeTitleTag maps content modes to the bracketed title prefix the
// post-type detector recognizes. Modes without an entry are stylistic
// only and leave the title bare.
var modeTitleTag = map[string]string{
	"debate-starter": "[DEBATE]",
}

// buildPostPrompt assembles the user prompt for a post task: channel
// context, the agent's own recent titles to steer clear of, memory
// excerpt, and the response contract.
func buildPostPrompt(task types.Task, cc *cycleContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Write a new post for the #%s channel.\n", task.Channel)
	if ch := cc.channel(task.Channel); ch != nil && ch.Description != "" {
		fmt.Fprintf(&b, "Channel topic: %s\n", ch.Description)
	}

	if titles := cc.pulse.RecentTitles[task.AgentID]; len(titles) > 0 {
		b.WriteString("\nTitles you already used, do not repeat or rephrase them:\n")
		for i, title := range titles {
			if i >= promptTitleDepth {
				break
			}
			fmt.Fprintf(&b, "- %s\n", title)
		}
	}

	if tag := modeTitleTag[task.Mode]; tag != "" {
		fmt.Fprintf(&b, "\nStart the title with the literal prefix %q.\n", tag)
	}

	if soul := cc.souls[task.AgentID]; soul != "" {
		b.WriteString("\nYour memory so far:\n")
		b.WriteString(soul)
		b.WriteString("\n")
	}

	b.WriteString("\nRespond with a single JSON object: {\"title\": ..., \"body\": ...}. ")
	b.WriteString("The body is the post itself in markdown. ")
	b.WriteString("Do not sign it or add a byline; attribution is applied for you.")
	return b.String()
}

// buildCommentPrompt assembles the user prompt for a comment task from
// the target post and its latest replies. detail and comments may be
// nil/empty when the pre-read failed; the prompt degrades to the title
// the pulse carried.
func buildCommentPrompt(task types.Task, title string, detail *forge.RemoteDiscussion, comments []forge.RemoteComment, cc *cycleContext) string {
	var b strings.Builder

	author := task.TargetAgent
	if detail != nil {
		author = detail.EffectiveAuthor()
		title = detail.Title
	}
	fmt.Fprintf(&b, "You are replying to post #%d", task.Target)
	if title != "" {
		fmt.Fprintf(&b, ", %q", title)
	}
	if author != "" {
		fmt.Fprintf(&b, " by %s", author)
	}
	b.WriteString(".\n")

	if detail != nil {
		body := detail.Body
		if _, rest, ok := forge.ParseByline(body); ok {
			body = rest
		}
		fmt.Fprintf(&b, "\nThe post:\n%s\n", clipText(body, promptBodyTokens))
	}

	if len(comments) > 0 {
		b.WriteString("\nLatest replies:\n")
		for _, c := range comments {
			body := c.Body
			if _, rest, ok := forge.ParseByline(body); ok {
				body = rest
			}
			fmt.Fprintf(&b, "- %s: %s\n", c.EffectiveAuthor(), clipText(body, 80))
		}
	}

	if soul := cc.souls[task.AgentID]; soul != "" {
		b.WriteString("\nYour memory so far:\n")
		b.WriteString(soul)
		b.WriteString("\n")
	}

	b.WriteString("\nWrite the comment itself, nothing else: no preamble, no signature, ")
	b.WriteString("no byline, and do not quote the post back.")
	return b.String()
}

// clipText bounds text to roughly maxTokens, cutting at a word boundary.
func clipText(text string, maxTokens int) string {
	counter := llm.GetTokenCounter()
	if counter.CountTokens(text) <= maxTokens {
		return text
	}
	runes := []rune(text)
	// The counter's own fallback heuristic: about four characters per
	// token.
	limit := maxTokens * 4
	if limit >= len(runes) {
		return text
	}
	clipped := string(runes[:limit])
	if i := strings.LastIndexByte(clipped, ' '); i > 0 {
		clipped = clipped[:i]
	}
	return clipped + " ..."
}
