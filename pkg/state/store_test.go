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
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/tapestry/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{Dir: t.TempDir(), Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	return s
}

func TestNewCreatesDirectories(t *testing.T) {
	dir := t.TempDir()
	_, err := New(Config{Dir: filepath.Join(dir, "state")})
	require.NoError(t, err)

	for _, sub := range []string{"state", "state/memory", "state/inbox"} {
		info, err := os.Stat(filepath.Join(dir, sub))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestNewRequiresDir(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestAgentsRoundTrip(t *testing.T) {
	s := newTestStore(t)

	doc := &AgentsFile{Agents: map[string]*types.Agent{
		"a1": {
			ID:            "a1",
			DisplayName:   "Agent One",
			Archetype:     "philosopher",
			Status:        types.StatusActive,
			LastHeartbeat: time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
			PostCount:     5,
			Channels:      []string{"code"},
			Traits:        map[string]float64{"curiosity": 0.8},
		},
	}}
	doc.Meta.Touch(time.Now(), len(doc.Agents))

	require.NoError(t, s.SaveAgents(doc))

	loaded, err := s.LoadAgents()
	require.NoError(t, err)
	require.Contains(t, loaded.Agents, "a1")
	assert.Equal(t, "Agent One", loaded.Agents["a1"].DisplayName)
	assert.Equal(t, 5, loaded.Agents["a1"].PostCount)
	assert.Equal(t, 1, loaded.Meta.Count)
	assert.True(t, strings.HasSuffix(loaded.Meta.LastUpdated, "Z"), "timestamps must be UTC with Z suffix")
}

func TestSaveRejectsCountMismatch(t *testing.T) {
	s := newTestStore(t)

	doc := &PostedLogFile{Posts: []types.PostMirror{{Number: 1, Title: "x"}}}
	doc.Meta.Touch(time.Now(), 7) // wrong on purpose

	err := s.SavePostedLog(doc)
	require.Error(t, err)
	assert.Equal(t, types.ErrKindIntegrity, types.KindOf(err))

	// Nothing may reach disk on a refused write.
	_, statErr := os.Stat(s.Path(FilePostedLog))
	assert.True(t, os.IsNotExist(statErr))
}

func TestLoadRejectsTamperedCount(t *testing.T) {
	s := newTestStore(t)

	raw := `{"_meta": {"last_updated": "2026-08-20T00:00:00Z", "count": 3}, "posts": [{"number": 1}]}` + "\n"
	require.NoError(t, os.WriteFile(s.Path(FilePostedLog), []byte(raw), 0o644))

	_, err := s.LoadPostedLog()
	require.Error(t, err)
	assert.Equal(t, types.ErrKindSchema, types.KindOf(err))
}

func TestLoadRejectsCorruptJSON(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, os.WriteFile(s.Path(FileStats), []byte("{not json"), 0o644))

	_, err := s.LoadStats()
	require.Error(t, err)
	assert.Equal(t, types.ErrKindSchema, types.KindOf(err))
}

func TestLoadRejectsMissingMeta(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, os.WriteFile(s.Path(FileAgents), []byte(`{"agents": {}}`), 0o644))

	_, err := s.LoadAgents()
	require.Error(t, err)
	assert.Equal(t, types.ErrKindSchema, types.KindOf(err))
}

func TestLoadRejectsConflictMarkers(t *testing.T) {
	s := newTestStore(t)

	raw := "{\n<<<<<<< HEAD\n  \"_meta\": {\"last_updated\": \"x\", \"count\": 0},\n=======\n>>>>>>> theirs\n}\n"
	require.NoError(t, os.WriteFile(s.Path(FileStats), []byte(raw), 0o644))

	_, err := s.LoadStats()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conflict markers")
}

func TestLoadMissingIsNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.LoadChannels()
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestAtomicWriteLeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)

	doc := &StatsFile{}
	doc.Stats.TotalPosts = 0
	doc.Meta.Touch(time.Now(), 0)
	require.NoError(t, s.SaveStats(doc))

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-", "temp file left behind: %s", e.Name())
	}
}

func TestLoadSnapshotOnFreshDir(t *testing.T) {
	s := newTestStore(t)

	snap, err := s.LoadSnapshot()
	require.NoError(t, err)
	assert.NotNil(t, snap.Agents)
	assert.NotNil(t, snap.Channels)
	assert.NotNil(t, snap.Stats)
	assert.NotNil(t, snap.PostedLog)
	assert.Empty(t, snap.PostedLog.Posts)
	assert.Empty(t, snap.Agents.Agents)
	assert.False(t, snap.LoadedAt.IsZero())
}

func TestLoadSnapshotPropagatesCorruption(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, os.WriteFile(s.Path(FilePokes), []byte("]["), 0o644))

	_, err := s.LoadSnapshot()
	require.Error(t, err)
	assert.Equal(t, types.ErrKindSchema, types.KindOf(err))
}

func TestSaveFiles(t *testing.T) {
	s := newTestStore(t)

	snap, err := s.LoadSnapshot()
	require.NoError(t, err)

	now := time.Now().UTC()
	snap.Stats.TotalPosts = 1
	snap.Stats.Meta.Touch(now, 0)
	snap.PostedLog.Posts = append(snap.PostedLog.Posts, types.PostMirror{Number: 9, Title: "t", Author: "a1", Channel: "code", CreatedAt: now})
	snap.PostedLog.Meta.Touch(now, 1)

	require.NoError(t, s.SaveFiles(snap, []string{FileStats, FilePostedLog}))

	stats, err := s.LoadStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalPosts)

	log, err := s.LoadPostedLog()
	require.NoError(t, err)
	require.Len(t, log.Posts, 1)
	assert.Equal(t, 9, log.Posts[0].Number)

	assert.Error(t, s.SaveFiles(snap, []string{"nope.json"}))
}

func TestValidateFile(t *testing.T) {
	s := newTestStore(t)

	doc := &ChannelsFile{Channels: map[string]*types.Channel{
		"code": {Slug: "code", Name: "Code", TargetRatio: 2.5, PostCount: 3},
	}}
	doc.Meta.Touch(time.Now(), 1)
	require.NoError(t, s.SaveChannels(doc))

	assert.NoError(t, s.ValidateFile(FileChannels))
	assert.NoError(t, s.ValidateFile(FileAgents), "missing file is fine")
	assert.NoError(t, s.ValidateFile("memory/a1.md"), "non-JSON artifacts are not validated")

	// Tamper with the count behind the store's back.
	raw, err := os.ReadFile(s.Path(FileChannels))
	require.NoError(t, err)
	tampered := strings.Replace(string(raw), `"count": 1`, `"count": 5`, 1)
	require.NoError(t, os.WriteFile(s.Path(FileChannels), []byte(tampered), 0o644))

	assert.Error(t, s.ValidateFile(FileChannels))
}

func TestHasConflictMarkers(t *testing.T) {
	assert.True(t, HasConflictMarkers([]byte("a\n<<<<<<< HEAD\nb")))
	assert.True(t, HasConflictMarkers([]byte("=======\n")))
	assert.True(t, HasConflictMarkers([]byte(">>>>>>> branch")))
	assert.False(t, HasConflictMarkers([]byte(`{"sep": "== not a marker =="}`)))
	assert.False(t, HasConflictMarkers([]byte("plain text")))
}

func TestPostedLogHasNumber(t *testing.T) {
	f := &PostedLogFile{Posts: []types.PostMirror{{Number: 4}, {Number: 9}}}
	assert.True(t, f.HasNumber(4))
	assert.False(t, f.HasNumber(5))
}

func TestDistinctPokers(t *testing.T) {
	now := time.Now().UTC()
	f := &PokesFile{Pokes: []types.Poke{
		{From: "a1", To: "ghost", At: now.Add(-1 * time.Hour)},
		{From: "a2", To: "ghost", At: now.Add(-2 * time.Hour)},
		{From: "a1", To: "ghost", At: now.Add(-30 * time.Minute)}, // duplicate poker
		{From: "a3", To: "ghost", At: now.Add(-100 * time.Hour)},  // outside window
		{From: "a4", To: "other", At: now.Add(-1 * time.Hour)},    // different target
	}}

	pokers := f.DistinctPokers("ghost", now, 72*time.Hour)
	assert.Equal(t, []string{"a1", "a2"}, pokers)
}

func TestSocialGraphBump(t *testing.T) {
	now := time.Now().UTC()
	f := &SocialGraphFile{}

	f.Bump("a1", "a2", now)
	f.Bump("a1", "a2", now.Add(time.Minute))
	f.Bump("a2", "a1", now)

	require.Len(t, f.Edges, 2)
	assert.Equal(t, 2, f.Edges[0].Weight)
	assert.Equal(t, now.Add(time.Minute), f.Edges[0].LastAt)
	assert.Equal(t, 1, f.Edges[1].Weight)
}
