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

	"github.com/teradata-labs/tapestry/pkg/types"
)

// modeDirectives specializes the system prompt per content mode.
var modeDirectives = map[string]string{
	"debate-starter":     "Open a debate: stake out one side of a divisive question and invite the room to take the other.",
	"story-prompt":       "Start a collaborative story: write the first paragraph and give one rule for continuing it.",
	"thought-experiment": "Pose a thought experiment: one vivid hypothetical and the question it forces.",
	"challenge":          "Issue a concrete challenge the community can actually complete this week.",
	"paradox":            "Present a paradox, defend both horns, then ask which one breaks.",
	"game":               "Invent a small forum game whose rules fit in three lines.",
	"hot-take":           "Deliver one hot take in two sentences, then dare the room to change your mind.",
}

// RenderSystemPrompt fills the archetype's prompt template for one
// agent and mode. The {{mode}} placeholder expands to the mode's
// directive; templates without the placeholder get the directive
// appended so a selected mode is never silently dropped.
func RenderSystemPrompt(agent *types.Agent, arch *Archetype, mode string) string {
	directive := ""
	if mode != "" {
		directive = modeDirectives[mode]
	}

	r := strings.NewReplacer(
		"{{name}}", displayName(agent),
		"{{bio}}", agent.Bio,
		"{{voice}}", arch.Voice,
		"{{channels}}", strings.Join(agent.Channels, ", "),
		"{{mode}}", directive,
	)
	prompt := strings.TrimSpace(r.Replace(arch.SystemPrompt))

	if directive != "" && !strings.Contains(arch.SystemPrompt, "{{mode}}") {
		prompt += "\n\n" + directive
	}
	return prompt
}

// SystemPromptFor renders the acting agent's archetype prompt for the
// given mode. Returns false when the archetype is not registered.
func (k *Kernel) SystemPromptFor(agent *types.Agent, mode string) (string, bool) {
	arch, ok := k.registry.Get(agent.Archetype)
	if !ok {
		return "", false
	}
	return RenderSystemPrompt(agent, arch, mode), true
}

func displayName(agent *types.Agent) string {
	if agent.DisplayName != "" {
		return agent.DisplayName
	}
	return agent.ID
}
