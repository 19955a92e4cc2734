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

// Package decide is the decision kernel: archetype-driven, seeded,
// deterministic action selection for one agent against the shared
// cycle pulse. Selection never fails; unsatisfiable constraints
// degrade to a noop task carrying the reason.
package decide

import (
	_ "embed"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// weightTolerance is how far from 1.0 an archetype's action weights may
// sum.
const weightTolerance = 0.01

// Modes is the content-mode vocabulary for chaos-style archetypes.
var Modes = []string{
	"debate-starter",
	"story-prompt",
	"thought-experiment",
	"challenge",
	"paradox",
	"game",
	"hot-take",
}

// ActionWeights is the archetype's action distribution. Post and
// comment produce content; lurk covers the light touches (votes,
// pokes) and plain silence.
type ActionWeights struct {
	Post    float64 `yaml:"post"`
	Comment float64 `yaml:"comment"`
	Lurk    float64 `yaml:"lurk"`
}

// Sum returns the total weight.
func (w ActionWeights) Sum() float64 {
	return w.Post + w.Comment + w.Lurk
}

// Archetype is a behavior template shared by groups of agents: action
// weights, channel affinity, content modes, and a system-prompt voice.
// Archetypes are data, not code; they load from YAML.
type Archetype struct {
	Name string `yaml:"name"`

	// Voice is a short style description substituted into prompts.
	Voice string `yaml:"voice"`

	ActionWeights ActionWeights `yaml:"action_weights"`

	// ChannelAffinity weights channel slugs for post routing. Channels
	// absent from the map weigh 1.0 for subscribers.
	ChannelAffinity map[string]float64 `yaml:"channel_affinity"`

	// Modes lists the content modes this archetype may use. Empty means
	// the archetype never specializes its prompts by mode.
	Modes []string `yaml:"modes"`

	// SystemPrompt is the prompt template. Recognized placeholders:
	// {{name}}, {{bio}}, {{voice}}, {{channels}}, {{mode}}.
	SystemPrompt string `yaml:"system_prompt"`
}

// registryFile is the YAML document shape: one file holds a list of
// archetypes.
type registryFile struct {
	Archetypes []*Archetype `yaml:"archetypes"`
}

// Registry holds the loaded archetypes by name.
type Registry struct {
	archetypes map[string]*Archetype
}

//go:embed defaults.yaml
var defaultArchetypes []byte

// LoadRegistry loads every *.yaml / *.yml file under dir. An empty dir
// argument loads the built-in default set.
func LoadRegistry(dir string) (*Registry, error) {
	reg := &Registry{archetypes: make(map[string]*Archetype)}

	if dir == "" {
		if err := reg.addDocument("builtin defaults", defaultArchetypes); err != nil {
			return nil, err
		}
		return reg, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read archetype dir %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read archetype file %s: %w", path, err)
		}
		if err := reg.addDocument(entry.Name(), data); err != nil {
			return nil, err
		}
	}

	if len(reg.archetypes) == 0 {
		return nil, fmt.Errorf("no archetypes found in %s", dir)
	}
	return reg, nil
}

func (r *Registry) addDocument(source string, data []byte) error {
	var doc registryFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse %s: %w", source, err)
	}
	if len(doc.Archetypes) == 0 {
		return fmt.Errorf("%s: archetypes cannot be empty", source)
	}
	for i, arch := range doc.Archetypes {
		if err := validateArchetype(arch, i); err != nil {
			return fmt.Errorf("invalid archetype in %s: %w", source, err)
		}
		if _, exists := r.archetypes[arch.Name]; exists {
			return fmt.Errorf("%s: duplicate archetype %q", source, arch.Name)
		}
		r.archetypes[arch.Name] = arch
	}
	return nil
}

func validateArchetype(arch *Archetype, index int) error {
	if arch.Name == "" {
		return fmt.Errorf("archetypes[%d].name is required", index)
	}
	if arch.Voice == "" {
		return fmt.Errorf("archetypes[%d] (%s): voice is required", index, arch.Name)
	}
	if arch.SystemPrompt == "" {
		return fmt.Errorf("archetypes[%d] (%s): system_prompt is required", index, arch.Name)
	}

	w := arch.ActionWeights
	if w.Post < 0 || w.Comment < 0 || w.Lurk < 0 {
		return fmt.Errorf("archetypes[%d] (%s): action weights must be non-negative", index, arch.Name)
	}
	if diff := math.Abs(w.Sum() - 1.0); diff > weightTolerance {
		return fmt.Errorf("archetypes[%d] (%s): action weights sum to %.3f, must be 1.0 within %.2f",
			index, arch.Name, w.Sum(), weightTolerance)
	}

	for slug, affinity := range arch.ChannelAffinity {
		if affinity < 0 {
			return fmt.Errorf("archetypes[%d] (%s): channel_affinity[%s] must be non-negative",
				index, arch.Name, slug)
		}
	}

	valid := make(map[string]bool, len(Modes))
	for _, m := range Modes {
		valid[m] = true
	}
	for _, m := range arch.Modes {
		if !valid[m] {
			return fmt.Errorf("archetypes[%d] (%s): unknown mode %q (must be one of: %s)",
				index, arch.Name, m, strings.Join(Modes, ", "))
		}
	}
	return nil
}

// Get returns the archetype by name.
func (r *Registry) Get(name string) (*Archetype, bool) {
	arch, ok := r.archetypes[name]
	return arch, ok
}

// Names returns the loaded archetype names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.archetypes))
	for name := range r.archetypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of loaded archetypes.
func (r *Registry) Len() int {
	return len(r.archetypes)
}
