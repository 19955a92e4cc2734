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

package runner

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teradata-labs/tapestry/pkg/engine"
	"github.com/teradata-labs/tapestry/pkg/forge"
	"github.com/teradata-labs/tapestry/pkg/gitops"
	"github.com/teradata-labs/tapestry/pkg/reconcile"
	"github.com/teradata-labs/tapestry/pkg/state"
	"github.com/teradata-labs/tapestry/pkg/types"
)

var runnerNow = time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

// fakeCycler returns canned reports, one per call.
type fakeCycler struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) (*engine.CycleReport, error)
}

func (c *fakeCycler) RunCycle(ctx context.Context) (*engine.CycleReport, error) {
	c.mu.Lock()
	c.calls++
	call := c.calls
	c.mu.Unlock()
	if c.fn != nil {
		return c.fn(call)
	}
	return emptyReport(call), nil
}

func (c *fakeCycler) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func emptyReport(call int) *engine.CycleReport {
	return &engine.CycleReport{
		CycleID:   fmt.Sprintf("cycle-%04d", call),
		StartedAt: runnerNow,
		Counts:    map[types.ResultKind]int{},
	}
}

type commitCall struct {
	files   []string
	message string
	reapply gitops.ReapplyFunc
}

type fakeCommitter struct {
	mu      sync.Mutex
	commits []commitCall
	err     error
}

func (c *fakeCommitter) Commit(ctx context.Context, files []string, message string, reapply gitops.ReapplyFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commits = append(c.commits, commitCall{files: files, message: message, reapply: reapply})
	return c.err
}

func (c *fakeCommitter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.commits)
}

func (c *fakeCommitter) last() commitCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commits[len(c.commits)-1]
}

func newTestStore(t *testing.T) *state.Store {
	t.Helper()
	store, err := state.New(state.Config{Dir: t.TempDir(), Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	return store
}

func newTestReconciler(t *testing.T, store *state.Store) *reconcile.Reconciler {
	t.Helper()
	rec, err := reconcile.New(reconcile.Config{Store: store, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	return rec
}

func newTestRunner(t *testing.T, store *state.Store, mutate func(cfg *Config)) (*Runner, *fakeCycler, *fakeCommitter) {
	t.Helper()
	cycler := &fakeCycler{}
	committer := &fakeCommitter{}
	cfg := Config{
		Store:      store,
		Engine:     cycler,
		Reconciler: newTestReconciler(t, store),
		Committer:  committer,
		Interval:   time.Millisecond,
		Cycles:     1,
		Logger:     zaptest.NewLogger(t),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	r, err := New(cfg)
	require.NoError(t, err)
	return r, cycler, committer
}

func TestRunBoundedCycles(t *testing.T) {
	store := newTestStore(t)
	r, cycler, committer := newTestRunner(t, store, func(cfg *Config) { cfg.Cycles = 3 })

	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, 3, cycler.count())
	assert.Equal(t, 0, committer.count(), "no changed files means no commit")
}

func TestRunCommitsChangedFiles(t *testing.T) {
	store := newTestStore(t)
	r, _, committer := newTestRunner(t, store, func(cfg *Config) {
		cfg.Engine = &fakeCycler{fn: func(call int) (*engine.CycleReport, error) {
			rep := emptyReport(call)
			rep.ChangedFiles = []string{state.FileStats, state.FileChanges}
			return rep, nil
		}}
	})

	require.NoError(t, r.Run(context.Background()))

	require.Equal(t, 1, committer.count())
	call := committer.last()
	assert.Equal(t, []string{state.FileStats, state.FileChanges}, call.files)
	assert.Contains(t, call.message, "cycle cycle-00")
	assert.NotNil(t, call.reapply)
}

func TestCommitDeduplicatesFileSet(t *testing.T) {
	store := newTestStore(t)
	r, _, committer := newTestRunner(t, store, func(cfg *Config) {
		cfg.Engine = &fakeCycler{fn: func(call int) (*engine.CycleReport, error) {
			rep := emptyReport(call)
			rep.ChangedFiles = []string{state.FileStats, state.FileStats, state.FileChanges}
			return rep, nil
		}}
	})

	require.NoError(t, r.Run(context.Background()))

	require.Equal(t, 1, committer.count())
	assert.Equal(t, []string{state.FileStats, state.FileChanges}, committer.last().files)
}

func TestReapplyRunsReconcilerOverCycleResults(t *testing.T) {
	store := newTestStore(t)

	task := types.Task{AgentID: "a1", Action: types.ActionPost, Channel: "general"}
	failed := types.NewFailed(task, types.ErrKindRateLimited, 3, fmt.Errorf("429"))

	r, _, committer := newTestRunner(t, store, func(cfg *Config) {
		cfg.Engine = &fakeCycler{fn: func(call int) (*engine.CycleReport, error) {
			rep := emptyReport(call)
			rep.Results = []types.Result{failed}
			rep.ChangedFiles = []string{state.FileChanges}
			return rep, nil
		}}
	})

	require.NoError(t, r.Run(context.Background()))
	require.Equal(t, 1, committer.count())

	// Replaying the batch through the hook produces the same change
	// entries from a fresh snapshot read, the reset-and-reapply seam of
	// the safe commit.
	files, err := committer.last().reapply()
	require.NoError(t, err)
	assert.Contains(t, files, state.FileChanges)

	changes, err := store.LoadChanges()
	require.NoError(t, err)
	require.NotEmpty(t, changes.Entries)
	assert.Equal(t, types.ChangeFailed, changes.Entries[len(changes.Entries)-1].Kind)
}

func TestStopFileStopsBeforeFirstCycle(t *testing.T) {
	store := newTestStore(t)
	r, cycler, _ := newTestRunner(t, store, func(cfg *Config) { cfg.Cycles = 0 })

	require.NoError(t, os.WriteFile(r.stopFile, []byte(""), 0o644))
	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, 0, cycler.count())
}

func TestStopFileFinishesCurrentCycle(t *testing.T) {
	store := newTestStore(t)
	var r *Runner
	cycler := &fakeCycler{fn: func(call int) (*engine.CycleReport, error) {
		// The stop file appears mid-cycle; this cycle must complete and
		// no further cycle may start.
		require.NoError(t, os.WriteFile(r.stopFile, []byte(""), 0o644))
		return emptyReport(call), nil
	}}
	r, _, _ = newTestRunner(t, store, func(cfg *Config) {
		cfg.Engine = cycler
		cfg.Cycles = 0
	})

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, 1, cycler.count())
}

func TestContextCancellationStops(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cycler := &fakeCycler{fn: func(call int) (*engine.CycleReport, error) {
		cancel()
		return emptyReport(call), nil
	}}
	r, _, _ := newTestRunner(t, store, func(cfg *Config) {
		cfg.Engine = cycler
		cfg.Cycles = 0
	})

	require.NoError(t, r.Run(ctx))
	assert.Equal(t, 1, cycler.count())
}

func TestTrendingRecomputedEverySecondCycle(t *testing.T) {
	store := newTestStore(t)

	posted := &state.PostedLogFile{Posts: []types.PostMirror{{
		ID: "D_1", Number: 1, Title: "hot take", Author: "a1", Channel: "general",
		CreatedAt: runnerNow.Add(-2 * time.Hour), Upvotes: 9, Comments: 2,
	}}}
	posted.Meta.Touch(runnerNow, 1)
	require.NoError(t, store.SavePostedLog(posted))

	r, _, committer := newTestRunner(t, store, func(cfg *Config) { cfg.Cycles = 2 })
	require.NoError(t, r.Run(context.Background()))

	// Cycle 1 changes nothing; cycle 2 recomputes trending.
	require.Equal(t, 1, committer.count())
	assert.Contains(t, committer.last().files, state.FileTrending)

	trending, err := store.LoadTrending()
	require.NoError(t, err)
	require.Len(t, trending.Entries, 1)
	assert.Equal(t, 1, trending.Entries[0].Number)
}

func TestResurrectionPromotesSummonedAgent(t *testing.T) {
	store := newTestStore(t)

	agents := &state.AgentsFile{Agents: map[string]*types.Agent{
		"ghost-1": {
			ID: "ghost-1", Archetype: "poster", Status: types.StatusDormant,
			LastHeartbeat: runnerNow.Add(-30 * 24 * time.Hour),
		},
	}}
	agents.Meta.Touch(runnerNow, 1)
	require.NoError(t, store.SaveAgents(agents))

	summons := &state.SummonsFile{Summons: []types.Summon{{
		Target: "ghost-1",
		Pokers: []string{"a1", "a2", "a3"},
		Status: types.SummonActive,
		OpenedAt: runnerNow.Add(-time.Hour),
	}}}
	summons.Meta.Touch(runnerNow, 1)
	require.NoError(t, store.SaveSummons(summons))

	r, _, committer := newTestRunner(t, store, nil)
	require.NoError(t, r.Run(context.Background()))

	loaded, err := store.LoadAgents()
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, loaded.Agents["ghost-1"].Status)

	resolved, err := store.LoadSummons()
	require.NoError(t, err)
	assert.Equal(t, types.SummonResolved, resolved.Summons[0].Status)

	require.Equal(t, 1, committer.count())
	assert.Contains(t, committer.last().files, state.FileAgents)
	assert.Contains(t, committer.last().files, state.FileSummons)
}

func TestGhostSnapshotRunsWhenDue(t *testing.T) {
	store := newTestStore(t)

	agents := &state.AgentsFile{Agents: map[string]*types.Agent{
		"ghost-1": {
			ID: "ghost-1", Archetype: "poster", Status: types.StatusDormant,
			LastHeartbeat: runnerNow.Add(-30 * 24 * time.Hour),
		},
	}}
	agents.Meta.Touch(runnerNow, 1)
	require.NoError(t, store.SaveAgents(agents))

	r, _, committer := newTestRunner(t, store, nil)
	r.ghostDue.Store(true)
	require.NoError(t, r.Run(context.Background()))

	ghosts, err := store.LoadGhostMemory()
	require.NoError(t, err)
	require.Len(t, ghosts.Ghosts, 1)
	assert.Equal(t, "ghost-1", ghosts.Ghosts[0].ID)

	require.Equal(t, 1, committer.count())
	assert.Contains(t, committer.last().files, state.FileGhostMemory)
}

type fakeDriftSource struct {
	remote []forge.RemoteDiscussion
}

func (f *fakeDriftSource) ListRecentDiscussions(ctx context.Context, since time.Time, max int) ([]forge.RemoteDiscussion, error) {
	return f.remote, nil
}

func TestDriftRepairRunsWhenDue(t *testing.T) {
	store := newTestStore(t)

	drift := &fakeDriftSource{remote: []forge.RemoteDiscussion{{
		ID: "D_9", Number: 9, Title: "missed post",
		Category: "general", CreatedAt: runnerNow.Add(-time.Hour),
	}}}

	r, _, committer := newTestRunner(t, store, func(cfg *Config) { cfg.Forge = drift })
	r.driftDue.Store(true)
	require.NoError(t, r.Run(context.Background()))

	posted, err := store.LoadPostedLog()
	require.NoError(t, err)
	assert.True(t, posted.HasNumber(9), "drift repair backfills the missed post")

	stats, err := store.LoadStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalPosts)

	require.Equal(t, 1, committer.count())
	assert.Contains(t, committer.last().files, state.FilePostedLog)
}

func TestCycleErrorSkipsCommitAndContinues(t *testing.T) {
	store := newTestStore(t)
	r, cycler, committer := newTestRunner(t, store, func(cfg *Config) {
		cfg.Cycles = 2
		cfg.Engine = &fakeCycler{fn: func(call int) (*engine.CycleReport, error) {
			if call == 1 {
				rep := emptyReport(call)
				rep.ChangedFiles = []string{state.FileStats}
				return rep, types.Tagf(types.ErrKindIntegrity, "counter went backwards")
			}
			return emptyReport(call), nil
		}}
	})
	cycler = r.engine.(*fakeCycler)

	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, 2, cycler.count(), "the loop survives a failed cycle")
	assert.Equal(t, 0, committer.count(), "a failed cycle must not commit")
}

func TestAuthErrorTerminatesRunner(t *testing.T) {
	store := newTestStore(t)
	r, _, _ := newTestRunner(t, store, func(cfg *Config) {
		cfg.Cycles = 5
		cfg.Engine = &fakeCycler{fn: func(call int) (*engine.CycleReport, error) {
			return emptyReport(call), types.Tagf(types.ErrKindAuth, "token revoked")
		}}
	})

	err := r.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrKindAuth, types.KindOf(err))
}

func TestPushExhaustionTerminatesRunner(t *testing.T) {
	store := newTestStore(t)
	committer := &fakeCommitter{err: types.Tag(types.ErrKindConflict,
		fmt.Errorf("%w after 5 attempts", gitops.ErrPushExhausted))}

	r, _, _ := newTestRunner(t, store, func(cfg *Config) {
		cfg.Cycles = 5
		cfg.Committer = committer
		cfg.Engine = &fakeCycler{fn: func(call int) (*engine.CycleReport, error) {
			rep := emptyReport(call)
			rep.ChangedFiles = []string{state.FileStats}
			return rep, nil
		}}
	})

	err := r.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, gitops.ErrPushExhausted)
	assert.Equal(t, 1, committer.count())
}

func TestTransientCommitErrorContinues(t *testing.T) {
	store := newTestStore(t)
	committer := &fakeCommitter{err: types.Tagf(types.ErrKindUnavailable, "remote unreachable")}

	r, cycler, _ := newTestRunner(t, store, func(cfg *Config) {
		cfg.Cycles = 2
		cfg.Committer = committer
		cfg.Engine = &fakeCycler{fn: func(call int) (*engine.CycleReport, error) {
			rep := emptyReport(call)
			rep.ChangedFiles = []string{state.FileStats}
			return rep, nil
		}}
	})
	cycler = r.engine.(*fakeCycler)

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, 2, cycler.count(), "an unreachable remote does not stop the loop")
	assert.Equal(t, 2, committer.count())
}

func TestHistoryRecordsCycleRows(t *testing.T) {
	store := newTestStore(t)
	history, err := NewHistory(context.Background(), store.Path("history.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer history.Close()

	r, _, _ := newTestRunner(t, store, func(cfg *Config) {
		cfg.Cycles = 2
		cfg.History = history
	})
	require.NoError(t, r.Run(context.Background()))

	records, err := history.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestNewRequiresCore(t *testing.T) {
	store := newTestStore(t)
	rec := newTestReconciler(t, store)

	_, err := New(Config{Engine: &fakeCycler{}, Reconciler: rec})
	assert.Error(t, err)
	_, err = New(Config{Store: store, Reconciler: rec})
	assert.Error(t, err)
	_, err = New(Config{Store: store, Engine: &fakeCycler{}})
	assert.Error(t, err)
}
