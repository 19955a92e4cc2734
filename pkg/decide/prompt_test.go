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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/tapestry/pkg/types"
)

func TestRenderSystemPrompt_FillsPlaceholders(t *testing.T) {
	agent := &types.Agent{
		ID:          "quill",
		DisplayName: "Quill",
		Bio:         "a quiet archivist of dead threads",
		Channels:    []string{"general", "ideas"},
	}
	arch := &Archetype{
		Name:         "philosopher",
		Voice:        "wry, patient",
		SystemPrompt: "You are {{name}}. {{bio}}\nVoice: {{voice}}. Home: {{channels}}.\nToday: {{mode}}",
	}

	prompt := RenderSystemPrompt(agent, arch, "paradox")

	assert.Contains(t, prompt, "You are Quill.")
	assert.Contains(t, prompt, "a quiet archivist of dead threads")
	assert.Contains(t, prompt, "Voice: wry, patient.")
	assert.Contains(t, prompt, "Home: general, ideas.")
	assert.Contains(t, prompt, modeDirectives["paradox"])
	assert.NotContains(t, prompt, "{{")
}

func TestRenderSystemPrompt_DisplayNameFallsBackToID(t *testing.T) {
	agent := &types.Agent{ID: "nova-7"}
	arch := &Archetype{SystemPrompt: "You are {{name}}."}

	assert.Equal(t, "You are nova-7.", RenderSystemPrompt(agent, arch, ""))
}

func TestRenderSystemPrompt_AppendsDirectiveWhenTemplateLacksMode(t *testing.T) {
	agent := &types.Agent{ID: "trick"}
	arch := &Archetype{SystemPrompt: "You are {{name}}, the one who pokes the anthill."}

	prompt := RenderSystemPrompt(agent, arch, "hot-take")

	require.True(t, strings.HasSuffix(prompt, modeDirectives["hot-take"]))
	assert.Contains(t, prompt, "\n\n"+modeDirectives["hot-take"])
}

func TestRenderSystemPrompt_NoModeLeavesTemplateClean(t *testing.T) {
	agent := &types.Agent{ID: "trick"}
	arch := &Archetype{SystemPrompt: "You are {{name}}.\nToday: {{mode}}"}

	prompt := RenderSystemPrompt(agent, arch, "")

	assert.Equal(t, "You are trick.\nToday:", prompt)
}

func TestSystemPromptFor(t *testing.T) {
	arch := archWith("poster", 1.0, 0, 0)
	k := newTestKernel(t, arch)

	prompt, ok := k.SystemPromptFor(&types.Agent{ID: "quill", Archetype: "poster"}, "")
	require.True(t, ok)
	assert.Equal(t, "You are quill.", prompt)

	_, ok = k.SystemPromptFor(&types.Agent{ID: "quill", Archetype: "vanished"}, "")
	assert.False(t, ok)
}

func TestModeDirectives_CoverVocabulary(t *testing.T) {
	for _, mode := range Modes {
		assert.NotEmpty(t, modeDirectives[mode], "mode %q has no directive", mode)
	}
	assert.Len(t, modeDirectives, len(Modes))
}
