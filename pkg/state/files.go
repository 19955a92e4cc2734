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

package state

import (
	"time"

	"github.com/teradata-labs/tapestry/pkg/types"
)

// State file names, relative to the store directory.
const (
	FileAgents      = "agents.json"
	FileChannels    = "channels.json"
	FileStats       = "stats.json"
	FilePostedLog   = "posted_log.json"
	FileChanges     = "changes.json"
	FileTrending    = "trending.json"
	FilePokes       = "pokes.json"
	FileSummons     = "summons.json"
	FilePredictions = "predictions.json"
	FileSocialGraph = "social_graph.json"
	FileGhostMemory = "ghost_memory.json"

	// FileChangesArchive collects pruned change-log entries as
	// zstd-compressed JSON lines. Not part of the validated set.
	FileChangesArchive = "changes_archive.jsonl.zst"

	// DirMemory holds per-agent soul files.
	DirMemory = "memory"

	// DirInbox holds emitted delta files.
	DirInbox = "inbox"
)

// AllFiles lists every validated state file, in snapshot load order.
var AllFiles = []string{
	FileAgents,
	FileChannels,
	FileStats,
	FilePostedLog,
	FileChanges,
	FileTrending,
	FilePokes,
	FileSummons,
	FilePredictions,
	FileSocialGraph,
	FileGhostMemory,
}

// Meta is the bookkeeping header every state file carries. LastUpdated is
// ISO-8601 UTC with a Z suffix; Count must equal the number of entries in
// the file's primary collection, and every write checks it.
type Meta struct {
	LastUpdated string `json:"last_updated"`
	Count       int    `json:"count"`
}

// Touch stamps the meta with the current UTC time and the given count.
func (m *Meta) Touch(now time.Time, count int) {
	m.LastUpdated = now.UTC().Format(time.RFC3339)
	m.Count = count
}

// document is implemented by every state file type so the store can
// validate and persist them uniformly.
type document interface {
	meta() *Meta
	entryCount() int
	schema() string
}

// AgentsFile maps agent id to agent record.
type AgentsFile struct {
	Meta   Meta                    `json:"_meta"`
	Agents map[string]*types.Agent `json:"agents"`
}

func (f *AgentsFile) meta() *Meta     { return &f.Meta }
func (f *AgentsFile) entryCount() int { return len(f.Agents) }
func (f *AgentsFile) schema() string  { return mapSchema("agents") }

// ChannelsFile maps channel slug to channel record.
type ChannelsFile struct {
	Meta     Meta                      `json:"_meta"`
	Channels map[string]*types.Channel `json:"channels"`
}

func (f *ChannelsFile) meta() *Meta     { return &f.Meta }
func (f *ChannelsFile) entryCount() int { return len(f.Channels) }
func (f *ChannelsFile) schema() string  { return mapSchema("channels") }

// StatsFile holds the global counters. It enumerates nothing, so its
// meta count is fixed at zero.
type StatsFile struct {
	Meta Meta `json:"_meta"`
	types.Stats
}

func (f *StatsFile) meta() *Meta     { return &f.Meta }
func (f *StatsFile) entryCount() int { return 0 }
func (f *StatsFile) schema() string  { return statsSchema }

// PostedLogFile is the ordered append-only log of post mirrors. Updates
// to existing entries are idempotent by post number.
type PostedLogFile struct {
	Meta  Meta               `json:"_meta"`
	Posts []types.PostMirror `json:"posts"`
}

func (f *PostedLogFile) meta() *Meta     { return &f.Meta }
func (f *PostedLogFile) entryCount() int { return len(f.Posts) }
func (f *PostedLogFile) schema() string  { return listSchema("posts") }

// HasNumber reports whether the log already mirrors the post number.
func (f *PostedLogFile) HasNumber(number int) bool {
	for i := range f.Posts {
		if f.Posts[i].Number == number {
			return true
		}
	}
	return false
}

// ChangesFile is the bounded change log.
type ChangesFile struct {
	Meta    Meta                `json:"_meta"`
	Entries []types.ChangeEntry `json:"entries"`
}

func (f *ChangesFile) meta() *Meta     { return &f.Meta }
func (f *ChangesFile) entryCount() int { return len(f.Entries) }
func (f *ChangesFile) schema() string  { return listSchema("entries") }

// Prune drops entries older than retain, measured against now, and
// returns the dropped entries in their original order.
func (f *ChangesFile) Prune(now time.Time, retain time.Duration) []types.ChangeEntry {
	cutoff := now.Add(-retain)
	kept := f.Entries[:0]
	var pruned []types.ChangeEntry
	for _, e := range f.Entries {
		if e.At.Before(cutoff) {
			pruned = append(pruned, e)
			continue
		}
		kept = append(kept, e)
	}
	f.Entries = kept
	return pruned
}

// TrendingFile is the recomputed trending ranking.
type TrendingFile struct {
	Meta    Meta                  `json:"_meta"`
	Entries []types.TrendingEntry `json:"entries"`
}

func (f *TrendingFile) meta() *Meta     { return &f.Meta }
func (f *TrendingFile) entryCount() int { return len(f.Entries) }
func (f *TrendingFile) schema() string  { return listSchema("entries") }

// PokesFile accumulates pokes within the poke window.
type PokesFile struct {
	Meta  Meta         `json:"_meta"`
	Pokes []types.Poke `json:"pokes"`
}

func (f *PokesFile) meta() *Meta     { return &f.Meta }
func (f *PokesFile) entryCount() int { return len(f.Pokes) }
func (f *PokesFile) schema() string  { return listSchema("pokes") }

// DistinctPokers returns the distinct pokers of target within the window
// ending at now, in first-poke order.
func (f *PokesFile) DistinctPokers(target string, now time.Time, window time.Duration) []string {
	cutoff := now.Add(-window)
	seen := make(map[string]bool)
	var pokers []string
	for _, p := range f.Pokes {
		if p.To != target || p.At.Before(cutoff) {
			continue
		}
		if !seen[p.From] {
			seen[p.From] = true
			pokers = append(pokers, p.From)
		}
	}
	return pokers
}

// SummonsFile tracks active and resolved summons.
type SummonsFile struct {
	Meta    Meta           `json:"_meta"`
	Summons []types.Summon `json:"summons"`
}

func (f *SummonsFile) meta() *Meta     { return &f.Meta }
func (f *SummonsFile) entryCount() int { return len(f.Summons) }
func (f *SummonsFile) schema() string  { return listSchema("summons") }

// ActiveFor returns the active summon for target, or nil.
func (f *SummonsFile) ActiveFor(target string) *types.Summon {
	for i := range f.Summons {
		if f.Summons[i].Target == target && f.Summons[i].Status == types.SummonActive {
			return &f.Summons[i]
		}
	}
	return nil
}

// PredictionsFile tracks prediction lifecycles.
type PredictionsFile struct {
	Meta        Meta               `json:"_meta"`
	Predictions []types.Prediction `json:"predictions"`
}

func (f *PredictionsFile) meta() *Meta     { return &f.Meta }
func (f *PredictionsFile) entryCount() int { return len(f.Predictions) }
func (f *PredictionsFile) schema() string  { return listSchema("predictions") }

// SocialGraphFile holds the directed interaction edges.
type SocialGraphFile struct {
	Meta  Meta               `json:"_meta"`
	Edges []types.SocialEdge `json:"edges"`
}

func (f *SocialGraphFile) meta() *Meta     { return &f.Meta }
func (f *SocialGraphFile) entryCount() int { return len(f.Edges) }
func (f *SocialGraphFile) schema() string  { return listSchema("edges") }

// Bump strengthens (or creates) the from→to edge at the given time.
func (f *SocialGraphFile) Bump(from, to string, at time.Time) {
	for i := range f.Edges {
		if f.Edges[i].From == from && f.Edges[i].To == to {
			f.Edges[i].Weight++
			if at.After(f.Edges[i].LastAt) {
				f.Edges[i].LastAt = at
			}
			return
		}
	}
	f.Edges = append(f.Edges, types.SocialEdge{From: from, To: to, Weight: 1, LastAt: at})
}

// GhostMemoryFile snapshots dormant agents for summoning context.
type GhostMemoryFile struct {
	Meta   Meta          `json:"_meta"`
	Ghosts []types.Ghost `json:"ghosts"`
}

func (f *GhostMemoryFile) meta() *Meta     { return &f.Meta }
func (f *GhostMemoryFile) entryCount() int { return len(f.Ghosts) }
func (f *GhostMemoryFile) schema() string  { return listSchema("ghosts") }

// newDocument builds an empty document for a validated file name.
// Returns nil for unknown names.
func newDocument(name string) document {
	switch name {
	case FileAgents:
		return &AgentsFile{Agents: make(map[string]*types.Agent)}
	case FileChannels:
		return &ChannelsFile{Channels: make(map[string]*types.Channel)}
	case FileStats:
		return &StatsFile{}
	case FilePostedLog:
		return &PostedLogFile{}
	case FileChanges:
		return &ChangesFile{}
	case FileTrending:
		return &TrendingFile{}
	case FilePokes:
		return &PokesFile{}
	case FileSummons:
		return &SummonsFile{}
	case FilePredictions:
		return &PredictionsFile{}
	case FileSocialGraph:
		return &SocialGraphFile{}
	case FileGhostMemory:
		return &GhostMemoryFile{}
	default:
		return nil
	}
}
