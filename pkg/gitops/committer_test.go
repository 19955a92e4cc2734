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

package gitops

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/tapestry/pkg/state"
	"github.com/teradata-labs/tapestry/pkg/types"
)

func git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	full := append([]string{
		"-C", dir,
		"-c", "user.name=test",
		"-c", "user.email=test@localhost",
	}, args...)
	out, err := exec.Command("git", full...).CombinedOutput()
	require.NoError(t, err, "git %v:\n%s", args, out)
	return strings.TrimSpace(string(out))
}

// fixture is a state work tree wired to a local bare remote, with one
// initial commit pushed to main.
type fixture struct {
	store  *state.Store
	work   string
	remote string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	remote := filepath.Join(t.TempDir(), "remote.git")
	require.NoError(t, os.MkdirAll(remote, 0o755))
	git(t, remote, "init", "--bare")
	git(t, remote, "symbolic-ref", "HEAD", "refs/heads/main")

	work := filepath.Join(t.TempDir(), "state")
	store, err := state.New(state.Config{Dir: work, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	git(t, work, "init")
	git(t, work, "symbolic-ref", "HEAD", "refs/heads/main")
	git(t, work, "remote", "add", "origin", remote)

	f := &fixture{store: store, work: work, remote: remote}
	f.saveStats(t, 0)
	git(t, work, "add", "-A")
	git(t, work, "commit", "-m", "initial state")
	git(t, work, "push", "origin", "HEAD:main")
	return f
}

func (f *fixture) saveStats(t *testing.T, totalPosts int) {
	t.Helper()
	doc := &state.StatsFile{Stats: types.Stats{TotalPosts: totalPosts}}
	doc.Meta.Touch(time.Now(), 0)
	require.NoError(t, f.store.SaveStats(doc))
}

func (f *fixture) committer(t *testing.T, mutate func(cfg *Config)) *Committer {
	t.Helper()
	cfg := Config{Store: f.store, Logger: zaptest.NewLogger(t)}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

// remoteCommits counts commits on the remote's main branch.
func (f *fixture) remoteCommits(t *testing.T) int {
	t.Helper()
	n, err := strconv.Atoi(git(t, f.remote, "rev-list", "--count", "main"))
	require.NoError(t, err)
	return n
}

// remoteStats reads stats.json as committed on the remote.
func (f *fixture) remoteStats(t *testing.T) types.Stats {
	t.Helper()
	raw := git(t, f.remote, "show", "main:"+state.FileStats)
	assert.False(t, state.HasConflictMarkers([]byte(raw)), "committed stats.json carries conflict markers")
	var doc state.StatsFile
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	return doc.Stats
}

// sibling clones the remote so a second writer can race the committer.
func (f *fixture) sibling(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "sibling")
	git(t, filepath.Dir(dir), "clone", f.remote, dir)
	return dir
}

func TestCommitPushes(t *testing.T) {
	f := newFixture(t)
	c := f.committer(t, nil)

	f.saveStats(t, 7)
	require.NoError(t, c.Commit(context.Background(), []string{state.FileStats}, "bump stats", nil))

	assert.Equal(t, 2, f.remoteCommits(t))
	assert.Equal(t, 7, f.remoteStats(t).TotalPosts)
}

func TestCommitEmptyFileSetIsNoop(t *testing.T) {
	f := newFixture(t)
	c := f.committer(t, nil)

	require.NoError(t, c.Commit(context.Background(), nil, "nothing", nil))
	assert.Equal(t, 1, f.remoteCommits(t))
}

func TestCommitUnchangedFileIsNoop(t *testing.T) {
	f := newFixture(t)
	c := f.committer(t, nil)

	require.NoError(t, c.Commit(context.Background(), []string{state.FileStats}, "no change", nil))
	assert.Equal(t, 1, f.remoteCommits(t))
}

func TestCommitRefusesConflictMarkers(t *testing.T) {
	f := newFixture(t)
	c := f.committer(t, nil)

	damaged := "<<<<<<< HEAD\n{\"_meta\":{}}\n=======\n{}\n>>>>>>> theirs\n"
	require.NoError(t, os.WriteFile(f.store.Path(state.FileStats), []byte(damaged), 0o644))

	err := c.Commit(context.Background(), []string{state.FileStats}, "damaged", nil)
	require.Error(t, err)
	assert.Equal(t, 1, f.remoteCommits(t), "a corrupt file must never reach a commit")
}

func TestCommitRefusesInvalidJSON(t *testing.T) {
	f := newFixture(t)
	c := f.committer(t, nil)

	require.NoError(t, os.WriteFile(f.store.Path(state.FileStats), []byte("{not json"), 0o644))

	err := c.Commit(context.Background(), []string{state.FileStats}, "damaged", nil)
	require.Error(t, err)
	assert.Equal(t, 1, f.remoteCommits(t))
}

func TestRejectedPushRebasesCleanly(t *testing.T) {
	f := newFixture(t)
	c := f.committer(t, nil)

	// A sibling pushes an unrelated file before our push lands.
	sib := f.sibling(t)
	require.NoError(t, os.WriteFile(filepath.Join(sib, "notes.md"), []byte("sibling was here\n"), 0o644))
	git(t, sib, "add", "notes.md")
	git(t, sib, "commit", "-m", "sibling change")
	git(t, sib, "push", "origin", "HEAD:main")

	f.saveStats(t, 3)
	require.NoError(t, c.Commit(context.Background(), []string{state.FileStats}, "bump stats", nil))

	// Both the sibling's commit and ours are on the remote.
	assert.Equal(t, 3, f.remoteCommits(t))
	assert.Equal(t, 3, f.remoteStats(t).TotalPosts)
	assert.Equal(t, "sibling was here", git(t, f.remote, "show", "main:notes.md"))
}

func TestConflictRecoversByReapply(t *testing.T) {
	f := newFixture(t)

	// The sibling and this process both rewrite stats.json, so the
	// rebase cannot resolve it as text.
	sib := f.sibling(t)
	sibStats := &state.StatsFile{Stats: types.Stats{TotalPosts: 5}}
	sibStats.Meta.Touch(time.Now(), 0)
	raw, err := json.MarshalIndent(sibStats, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(sib, state.FileStats), raw, 0o644))
	git(t, sib, "add", state.FileStats)
	git(t, sib, "commit", "-m", "sibling bump")
	git(t, sib, "push", "origin", "HEAD:main")

	reapplied := 0
	c := f.committer(t, nil)
	f.saveStats(t, 1)

	// Reapply plays this cycle's one new post on top of whatever the
	// fetched remote carries, the way the runner re-runs the reconciler.
	reapply := func() ([]string, error) {
		reapplied++
		onDisk, err := f.store.LoadStats()
		if err != nil {
			return nil, err
		}
		f.saveStats(t, onDisk.TotalPosts+1)
		return []string{state.FileStats}, nil
	}

	require.NoError(t, c.Commit(context.Background(), []string{state.FileStats}, "bump stats", reapply))

	assert.Equal(t, 1, reapplied)
	assert.Equal(t, 6, f.remoteStats(t).TotalPosts, "remote must reflect both the sibling's and this cycle's additions")
}

func TestConflictWithoutReapplyIsTerminal(t *testing.T) {
	f := newFixture(t)

	sib := f.sibling(t)
	sibStats := &state.StatsFile{Stats: types.Stats{TotalPosts: 5}}
	sibStats.Meta.Touch(time.Now(), 0)
	raw, err := json.MarshalIndent(sibStats, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(sib, state.FileStats), raw, 0o644))
	git(t, sib, "add", state.FileStats)
	git(t, sib, "commit", "-m", "sibling bump")
	git(t, sib, "push", "origin", "HEAD:main")

	c := f.committer(t, nil)
	f.saveStats(t, 1)

	err = c.Commit(context.Background(), []string{state.FileStats}, "bump stats", nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrKindConflict, types.KindOf(err))
	assert.Equal(t, 5, f.remoteStats(t).TotalPosts, "sibling's push stays untouched")
}

func TestReapplyWithNoChangeMeansConverged(t *testing.T) {
	f := newFixture(t)

	// Sibling pushes exactly the state we were about to push.
	sib := f.sibling(t)
	sibStats := &state.StatsFile{Stats: types.Stats{TotalPosts: 9}}
	sibStats.Meta.Touch(time.Now(), 0)
	raw, err := json.MarshalIndent(sibStats, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(sib, state.FileStats), raw, 0o644))
	git(t, sib, "add", state.FileStats)
	git(t, sib, "commit", "-m", "sibling bump")
	git(t, sib, "push", "origin", "HEAD:main")

	c := f.committer(t, nil)
	f.saveStats(t, 9)

	reapply := func() ([]string, error) { return nil, nil }
	require.NoError(t, c.Commit(context.Background(), []string{state.FileStats}, "bump stats", reapply))
	assert.Equal(t, 9, f.remoteStats(t).TotalPosts)
}

func TestPushExhaustionSurfacesTerminalError(t *testing.T) {
	f := newFixture(t)

	// A pre-receive hook that refuses everything simulates a remote
	// that never accepts our push.
	hook := filepath.Join(f.remote, "hooks", "pre-receive")
	require.NoError(t, os.WriteFile(hook, []byte("#!/bin/sh\nexit 1\n"), 0o755))

	c := f.committer(t, func(cfg *Config) { cfg.MaxAttempts = 2 })
	f.saveStats(t, 2)

	err := c.Commit(context.Background(), []string{state.FileStats}, "bump stats", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPushExhausted)
	assert.Equal(t, types.ErrKindConflict, types.KindOf(err))
}

func TestNoPushCommitsLocallyOnly(t *testing.T) {
	f := newFixture(t)
	c := f.committer(t, func(cfg *Config) { cfg.NoPush = true })

	f.saveStats(t, 4)
	require.NoError(t, c.Commit(context.Background(), []string{state.FileStats}, "bump stats", nil))

	assert.Equal(t, "2", git(t, f.work, "rev-list", "--count", "HEAD"))
	assert.Equal(t, 1, f.remoteCommits(t), "remote untouched with NoPush")
}
