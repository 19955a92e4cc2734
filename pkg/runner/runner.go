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

// Package runner drives the engine continuously: one cycle every
// interval, periodic maintenance chores between cycles (resurrection,
// trending recompute, drift repair, ghost snapshots), a safe commit of
// whatever changed, and graceful shutdown on a stop file or signal.
// Sibling schedulers contend on the same remote; the runner knows
// nothing about them beyond the commit protocol.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/teradata-labs/tapestry/pkg/engine"
	"github.com/teradata-labs/tapestry/pkg/forge"
	"github.com/teradata-labs/tapestry/pkg/gitops"
	"github.com/teradata-labs/tapestry/pkg/pulse"
	"github.com/teradata-labs/tapestry/pkg/state"
	"github.com/teradata-labs/tapestry/pkg/types"
)

const (
	// DefaultInterval between cycle starts.
	DefaultInterval = 30 * time.Minute

	// DefaultTrendingEvery recomputes trending every J-th cycle.
	DefaultTrendingEvery = 2

	// DefaultStopFile is the stop-file name inside the state dir.
	DefaultStopFile = "STOP"

	// DefaultDriftLimit caps how many forge discussions one drift
	// repair pass reads.
	DefaultDriftLimit = 500

	// stopPollInterval is the stat fallback for filesystems fsnotify
	// cannot watch.
	stopPollInterval = 5 * time.Second

	// Cron cadences for the slow chores. Drift repair reads the whole
	// recent forge history, so it runs off-peak; ghost snapshots are
	// cheap.
	driftRepairSpec   = "17 4 * * *"
	ghostSnapshotSpec = "@hourly"
)

// Cycler runs one orchestrator cycle. *engine.Engine satisfies it.
type Cycler interface {
	RunCycle(ctx context.Context) (*engine.CycleReport, error)
}

// Committer pushes a changed file set. *gitops.Committer satisfies it.
type Committer interface {
	Commit(ctx context.Context, files []string, message string, reapply gitops.ReapplyFunc) error
}

// Maintainer is the reconciler surface the runner's chores use.
// *reconcile.Reconciler satisfies it.
type Maintainer interface {
	Apply(snap *state.Snapshot, results []types.Result, now time.Time) ([]string, error)
	Resurrect(snap *state.Snapshot, now time.Time) ([]string, error)
	SnapshotGhosts(snap *state.Snapshot, now time.Time) ([]string, error)
	ReconcileWithRemote(snap *state.Snapshot, remote []forge.RemoteDiscussion, now time.Time) ([]string, error)
}

// DriftSource lists forge truth for the periodic drift repair.
// *forge.Client satisfies it.
type DriftSource interface {
	ListRecentDiscussions(ctx context.Context, since time.Time, max int) ([]forge.RemoteDiscussion, error)
}

// Config holds configuration for the runner.
type Config struct {
	Store      *state.Store
	Engine     Cycler
	Reconciler Maintainer

	// Committer pushes after each iteration. Nil skips commits
	// entirely (dry runs).
	Committer Committer

	// Forge feeds drift repair. Nil disables the repair cadence.
	Forge DriftSource

	// History records per-cycle execution rows. Optional.
	History *History

	// Interval between cycle starts. Default 30m.
	Interval time.Duration

	// Cycles bounds the run; 0 means run until stopped.
	Cycles int

	// TrendingEvery recomputes trending every J-th cycle. Default 2.
	TrendingEvery int

	// StopFile is the graceful-shutdown path. Default <state-dir>/STOP.
	StopFile string

	// DriftLimit caps discussions read per drift repair. Default 500.
	DriftLimit int

	Logger *zap.Logger
}

// Runner is the continuous outer loop around the engine.
type Runner struct {
	store      *state.Store
	engine     Cycler
	reconciler Maintainer
	committer  Committer
	forge      DriftSource
	history    *History

	interval      time.Duration
	cycles        int
	trendingEvery int
	stopFile      string
	driftLimit    int
	logger        *zap.Logger

	cronEngine *cron.Cron
	driftDue   atomic.Bool
	ghostDue   atomic.Bool
	stopSeen   atomic.Bool
}

// New creates a runner.
func New(cfg Config) (*Runner, error) {
	switch {
	case cfg.Store == nil:
		return nil, fmt.Errorf("state store is required")
	case cfg.Engine == nil:
		return nil, fmt.Errorf("engine is required")
	case cfg.Reconciler == nil:
		return nil, fmt.Errorf("reconciler is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.TrendingEvery <= 0 {
		cfg.TrendingEvery = DefaultTrendingEvery
	}
	if cfg.StopFile == "" {
		cfg.StopFile = filepath.Join(cfg.Store.Dir(), DefaultStopFile)
	}
	if cfg.DriftLimit <= 0 {
		cfg.DriftLimit = DefaultDriftLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	r := &Runner{
		store:         cfg.Store,
		engine:        cfg.Engine,
		reconciler:    cfg.Reconciler,
		committer:     cfg.Committer,
		forge:         cfg.Forge,
		history:       cfg.History,
		interval:      cfg.Interval,
		cycles:        cfg.Cycles,
		trendingEvery: cfg.TrendingEvery,
		stopFile:      cfg.StopFile,
		driftLimit:    cfg.DriftLimit,
		logger:        cfg.Logger,
	}

	// The chores only raise flags; the loop runs them between cycles so
	// the reconciler stays the single writer.
	r.cronEngine = cron.New()
	if _, err := r.cronEngine.AddFunc(driftRepairSpec, func() { r.driftDue.Store(true) }); err != nil {
		return nil, fmt.Errorf("failed to schedule drift repair: %w", err)
	}
	if _, err := r.cronEngine.AddFunc(ghostSnapshotSpec, func() { r.ghostDue.Store(true) }); err != nil {
		return nil, fmt.Errorf("failed to schedule ghost snapshot: %w", err)
	}
	return r, nil
}

// Run loops until the cycle budget is spent, the context is cancelled,
// or the stop file appears. Cancellation and stop are graceful: the
// in-flight cycle finishes, its results are reconciled and committed,
// then Run returns nil.
func (r *Runner) Run(ctx context.Context) error {
	watcher := r.watchStopFile(ctx)
	if watcher != nil {
		defer watcher.Close()
	}

	r.cronEngine.Start()
	defer r.cronEngine.Stop()

	r.logger.Info("runner started",
		zap.Duration("interval", r.interval),
		zap.Int("cycles", r.cycles),
		zap.String("stop_file", r.stopFile))

	for i := 1; ; i++ {
		if r.shouldStop(ctx) {
			r.logger.Info("stop requested, exiting before cycle", zap.Int("iteration", i))
			return nil
		}

		if err := r.iterate(ctx, i); err != nil {
			return err
		}

		if r.cycles > 0 && i >= r.cycles {
			r.logger.Info("cycle budget spent", zap.Int("cycles", i))
			return nil
		}
		if stopped := r.sleep(ctx); stopped {
			r.logger.Info("stop requested during sleep")
			return nil
		}
	}
}

// iterate runs one cycle plus the maintenance due this iteration and
// commits everything that changed. Cycle-level failures are logged and
// absorbed; auth failures and push exhaustion terminate the runner.
func (r *Runner) iterate(ctx context.Context, iteration int) error {
	report, runErr := r.engine.RunCycle(ctx)
	if runErr != nil {
		if types.KindOf(runErr) == types.ErrKindAuth {
			return runErr
		}
		// Load failures, integrity violations, reconcile errors: skip
		// the commit, retry from a clean state read next cycle.
		r.logger.Error("cycle failed", zap.Int("iteration", iteration), zap.Error(runErr))
		r.record(ctx, report, false, runErr)
		return nil
	}

	changed := append([]string{}, report.ChangedFiles...)
	maintChanged, maintErr := r.maintain(ctx, iteration)
	if maintErr != nil {
		r.logger.Error("maintenance failed, continuing", zap.Error(maintErr))
	}
	changed = append(changed, maintChanged...)

	committed := false
	var commitErr error
	if r.committer != nil && len(changed) > 0 {
		commitErr = r.commit(ctx, report, changed)
		committed = commitErr == nil
	}
	r.record(ctx, report, committed, commitErr)

	if commitErr != nil {
		if errors.Is(commitErr, gitops.ErrPushExhausted) || types.KindOf(commitErr) == types.ErrKindAuth {
			return commitErr
		}
		r.logger.Error("commit failed, state kept locally", zap.Error(commitErr))
	}
	return nil
}

// maintain runs the chores due this iteration against a fresh snapshot
// and returns the files they changed. Every chore is idempotent, so a
// failed run simply repeats next time.
func (r *Runner) maintain(ctx context.Context, iteration int) ([]string, error) {
	snap, err := r.store.LoadSnapshot()
	if err != nil {
		return nil, fmt.Errorf("maintenance snapshot load failed: %w", err)
	}
	now := time.Now().UTC()
	var changed []string

	files, err := r.reconciler.Resurrect(snap, now)
	if err != nil {
		return changed, fmt.Errorf("resurrection check failed: %w", err)
	}
	changed = append(changed, files...)

	if iteration%r.trendingEvery == 0 {
		files, err := r.recomputeTrending(snap, now)
		if err != nil {
			return changed, err
		}
		changed = append(changed, files...)
	}

	if r.ghostDue.Swap(false) {
		files, err := r.reconciler.SnapshotGhosts(snap, now)
		if err != nil {
			return changed, fmt.Errorf("ghost snapshot failed: %w", err)
		}
		changed = append(changed, files...)
	}

	if r.forge != nil && r.driftDue.Swap(false) {
		remote, err := r.forge.ListRecentDiscussions(ctx, time.Time{}, r.driftLimit)
		if err != nil {
			// Leave the flag down; tomorrow's run repairs both days.
			return changed, fmt.Errorf("drift repair listing failed: %w", err)
		}
		files, err := r.reconciler.ReconcileWithRemote(snap, remote, now)
		if err != nil {
			return changed, fmt.Errorf("drift repair failed: %w", err)
		}
		changed = append(changed, files...)
	}
	return changed, nil
}

// recomputeTrending rewrites trending.json from the posted log, skipping
// the write when the ranking is unchanged.
func (r *Runner) recomputeTrending(snap *state.Snapshot, now time.Time) ([]string, error) {
	entries := pulse.Trending(snap, now, 0)
	if reflect.DeepEqual(entries, snap.Trending.Entries) {
		return nil, nil
	}
	snap.Trending.Entries = entries
	snap.Touch(state.FileTrending, now)
	if err := r.store.SaveFiles(snap, []string{state.FileTrending}); err != nil {
		return nil, fmt.Errorf("trending save failed: %w", err)
	}
	r.logger.Info("trending recomputed", zap.Int("entries", len(entries)))
	return []string{state.FileTrending}, nil
}

// commit pushes the changed set. The reapply hook re-runs the
// reconciler over this cycle's results on a freshly loaded snapshot, so
// a conflicted push converges on whatever the sibling left behind.
// Maintenance output is not replayed; each chore recomputes from state
// on its next run.
func (r *Runner) commit(ctx context.Context, report *engine.CycleReport, changed []string) error {
	message := fmt.Sprintf("cycle %.8s: %d results, %d mutations",
		report.CycleID, len(report.Results), report.Mutations())

	reapply := func() ([]string, error) {
		snap, err := r.store.LoadSnapshot()
		if err != nil {
			return nil, err
		}
		return r.reconciler.Apply(snap, report.Results, report.StartedAt)
	}
	return r.committer.Commit(ctx, dedupe(changed), message, reapply)
}

func (r *Runner) record(ctx context.Context, report *engine.CycleReport, committed bool, err error) {
	if r.history == nil || report == nil {
		return
	}
	if recErr := r.history.Record(ctx, NewCycleRecord(report, committed, err)); recErr != nil {
		r.logger.Warn("history record failed", zap.Error(recErr))
	}
}

// shouldStop checks the context and the stop file. The fsnotify watcher
// raises stopSeen between checks; the stat covers pre-existing files
// and unwatchable filesystems.
func (r *Runner) shouldStop(ctx context.Context) bool {
	if ctx.Err() != nil || r.stopSeen.Load() {
		return true
	}
	if _, err := os.Stat(r.stopFile); err == nil {
		r.stopSeen.Store(true)
		return true
	}
	return false
}

// watchStopFile watches the stop file's directory. Best effort: when
// the watcher cannot start, the polling in shouldStop and sleep still
// notices the file.
func (r *Runner) watchStopFile(ctx context.Context) *fsnotify.Watcher {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.logger.Warn("stop-file watcher unavailable, polling only", zap.Error(err))
		return nil
	}
	if err := watcher.Add(filepath.Dir(r.stopFile)); err != nil {
		r.logger.Warn("stop-file watch failed, polling only", zap.Error(err))
		watcher.Close()
		return nil
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name == r.stopFile && event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
					r.logger.Info("stop file detected", zap.String("path", r.stopFile))
					r.stopSeen.Store(true)
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return watcher
}

// sleep waits out the interval, returning true when a stop arrived.
func (r *Runner) sleep(ctx context.Context) bool {
	deadline := time.NewTimer(r.interval)
	defer deadline.Stop()
	poll := time.NewTicker(stopPollInterval)
	defer poll.Stop()

	for {
		select {
		case <-deadline.C:
			return r.shouldStop(ctx)
		case <-poll.C:
			if r.shouldStop(ctx) {
				return true
			}
		case <-ctx.Done():
			return true
		}
	}
}

func dedupe(files []string) []string {
	seen := make(map[string]bool, len(files))
	out := files[:0]
	for _, f := range files {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}
