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

// Package reconcile folds cycle results into the state snapshot. It is
// the sole state writer: single-threaded, commutative over result order
// within a batch (append-only logs, monotone counters, last-writer-wins
// heartbeats), and guarded by post-apply integrity checks that abort
// the write entirely rather than persist a violation.
package reconcile

import (
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/tapestry/pkg/state"
	"github.com/teradata-labs/tapestry/pkg/types"
)

const (
	// DefaultRetain bounds the change log; older entries move to the
	// zstd archive on the next write.
	DefaultRetain = 72 * time.Hour

	// DefaultSummonWindow is how far back distinct pokers count toward
	// a summon.
	DefaultSummonWindow = 72 * time.Hour

	// DefaultSummonThreshold is the distinct-poker count that opens a
	// summon on a dormant target.
	DefaultSummonThreshold = 3

	// DefaultDormantAfter is the heartbeat age past which an agent is
	// snapshotted into ghost memory.
	DefaultDormantAfter = 7 * 24 * time.Hour
)

// Config holds configuration for the reconciler.
type Config struct {
	Store *state.Store

	Retain          time.Duration
	SummonWindow    time.Duration
	SummonThreshold int
	DormantAfter    time.Duration

	Logger *zap.Logger
}

// Reconciler merges result batches into state and persists every file
// it touched.
type Reconciler struct {
	store           *state.Store
	retain          time.Duration
	summonWindow    time.Duration
	summonThreshold int
	dormantAfter    time.Duration
	logger          *zap.Logger
}

// New creates a reconciler.
func New(cfg Config) (*Reconciler, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if cfg.Retain <= 0 {
		cfg.Retain = DefaultRetain
	}
	if cfg.SummonWindow <= 0 {
		cfg.SummonWindow = DefaultSummonWindow
	}
	if cfg.SummonThreshold <= 0 {
		cfg.SummonThreshold = DefaultSummonThreshold
	}
	if cfg.DormantAfter <= 0 {
		cfg.DormantAfter = DefaultDormantAfter
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Reconciler{
		store:           cfg.Store,
		retain:          cfg.Retain,
		summonWindow:    cfg.SummonWindow,
		summonThreshold: cfg.SummonThreshold,
		dormantAfter:    cfg.DormantAfter,
		logger:          cfg.Logger,
	}, nil
}

// soulLine is a pending soul-file append, deferred until the integrity
// gate passes so a rejected batch leaves no trace on disk.
type soulLine struct {
	agentID string
	line    string
}

// apply tracks one batch's accumulated effects.
type apply struct {
	changed   map[string]bool
	soulLines []soulLine
	acted     map[string]bool
}

func (a *apply) mark(file string) {
	a.changed[file] = true
}

// Apply folds a result batch into the snapshot, enforces the integrity
// invariants, and persists everything that changed. The returned names
// are relative to the state directory and include soul files, inbox
// deltas, and the change archive alongside the JSON state files. An
// empty batch is a no-op.
func (r *Reconciler) Apply(snap *state.Snapshot, results []types.Result, now time.Time) ([]string, error) {
	if len(results) == 0 {
		return nil, nil
	}

	baseline := captureBaseline(snap)
	acc := &apply{changed: make(map[string]bool), acted: make(map[string]bool)}

	for _, res := range results {
		if err := res.Validate(); err != nil {
			return nil, types.Tag(types.ErrKindIntegrity, fmt.Errorf("malformed result: %w", err))
		}
		acc.acted[res.AgentID] = true
		switch res.Kind {
		case types.ResultCreated:
			r.applyCreated(snap, res, now, acc)
		case types.ResultCommented:
			r.applyCommented(snap, res, now, acc)
		case types.ResultVoted:
			r.applyVoted(snap, res, now, acc)
		case types.ResultPoked:
			r.applyPoked(snap, res, now, acc)
		case types.ResultSkipped:
			r.applySkipped(snap, res, now, acc)
		case types.ResultFailed:
			r.applyFailed(snap, res, now, acc)
		}
	}

	// Every result's agent was selected this cycle; the heartbeat is
	// last-writer-wins on the cycle time.
	heartbeats := make([]string, 0, len(acc.acted))
	for agentID := range acc.acted {
		agent, ok := snap.Agents.Agents[agentID]
		if !ok {
			continue
		}
		agent.LastHeartbeat = now
		heartbeats = append(heartbeats, agentID)
		acc.mark(state.FileAgents)
	}
	sort.Strings(heartbeats)

	pruned := snap.Changes.Prune(now, r.retain)
	if len(pruned) > 0 {
		acc.mark(state.FileChanges)
	}

	if err := checkIntegrity(snap, baseline); err != nil {
		return nil, err
	}

	if len(pruned) > 0 {
		if err := r.store.ArchiveChanges(pruned); err != nil {
			return nil, err
		}
		acc.mark(state.FileChangesArchive)
	}

	stateFiles := orderedStateFiles(acc.changed)
	for _, name := range stateFiles {
		snap.Touch(name, now)
	}
	if err := r.store.SaveFiles(snap, stateFiles); err != nil {
		return nil, err
	}

	changed := make([]string, 0, len(acc.changed)+len(acc.soulLines)+len(heartbeats))
	changed = append(changed, stateFiles...)
	if acc.changed[state.FileChangesArchive] {
		changed = append(changed, state.FileChangesArchive)
	}

	for _, sl := range acc.soulLines {
		if err := r.store.AppendSoulLine(sl.agentID, sl.line); err != nil {
			return nil, err
		}
		changed = append(changed, path.Join(state.DirMemory, sl.agentID+".md"))
	}

	for _, agentID := range heartbeats {
		deltaPath, err := r.store.EmitDelta(agentID, "heartbeat", map[string]string{
			"at": now.UTC().Format(time.RFC3339),
		})
		if err != nil {
			r.logger.Warn("heartbeat delta emit failed", zap.String("agent", agentID), zap.Error(err))
			continue
		}
		changed = append(changed, path.Join(state.DirInbox, filepath.Base(deltaPath)))
	}

	r.logger.Info("batch reconciled",
		zap.Int("results", len(results)),
		zap.Int("pruned", len(pruned)),
		zap.Strings("files", stateFiles))
	return changed, nil
}

func (r *Reconciler) applyCreated(snap *state.Snapshot, res types.Result, now time.Time, acc *apply) {
	post := res.Created.Post
	if snap.PostedLog.HasNumber(post.Number) {
		// Re-applied batch; the first application already counted it.
		return
	}
	snap.PostedLog.Posts = append(snap.PostedLog.Posts, post)
	snap.Stats.TotalPosts++

	ch := resolveChannel(snap, post.Channel)
	ch.PostCount++

	agent := snap.Agents.Agents[res.AgentID]
	if agent != nil {
		agent.PostCount++
		acc.mark(state.FileAgents)
	}

	r.trackPrediction(snap, post, acc)

	snap.Changes.Entries = append(snap.Changes.Entries, types.ChangeEntry{
		Kind:    types.ChangeCreated,
		Agent:   res.AgentID,
		Number:  post.Number,
		Channel: ch.Slug,
		Detail:  post.Title,
		At:      now,
	})
	acc.soulLines = append(acc.soulLines, soulLine{
		agentID: res.AgentID,
		line:    fmt.Sprintf("- %s: posted #%d %q to #%s", now.UTC().Format("2006-01-02"), post.Number, post.Title, ch.Slug),
	})

	acc.mark(state.FilePostedLog)
	acc.mark(state.FileStats)
	acc.mark(state.FileChannels)
	acc.mark(state.FileChanges)
}

func (r *Reconciler) applyCommented(snap *state.Snapshot, res types.Result, now time.Time, acc *apply) {
	c := res.Commented
	snap.Stats.TotalComments++

	agent := snap.Agents.Agents[res.AgentID]
	if agent != nil {
		agent.CommentCount++
		acc.mark(state.FileAgents)
	}

	if c.ParentAuthor != "" && c.ParentAuthor != res.AgentID {
		snap.SocialGraph.Bump(res.AgentID, c.ParentAuthor, c.At)
		acc.mark(state.FileSocialGraph)
	}

	snap.Changes.Entries = append(snap.Changes.Entries, types.ChangeEntry{
		Kind:   types.ChangeCommented,
		Agent:  res.AgentID,
		Number: c.Number,
		Detail: c.ParentAuthor,
		At:     now,
	})
	acc.soulLines = append(acc.soulLines, soulLine{
		agentID: res.AgentID,
		line:    fmt.Sprintf("- %s: commented on #%d (by %s)", now.UTC().Format("2006-01-02"), c.Number, orUnknown(c.ParentAuthor)),
	})

	acc.mark(state.FileStats)
	acc.mark(state.FileChanges)
}

// applyVoted records the event only. Reaction counts are the forge's
// truth and come back on the next read.
func (r *Reconciler) applyVoted(snap *state.Snapshot, res types.Result, now time.Time, acc *apply) {
	snap.Changes.Entries = append(snap.Changes.Entries, types.ChangeEntry{
		Kind:   types.ChangeVoted,
		Agent:  res.AgentID,
		Number: res.Voted.Number,
		Detail: string(res.Voted.Reaction),
		At:     now,
	})
	acc.mark(state.FileChanges)
}

func (r *Reconciler) applyPoked(snap *state.Snapshot, res types.Result, now time.Time, acc *apply) {
	p := res.Poked
	snap.Pokes.Pokes = append(snap.Pokes.Pokes, types.Poke{
		From:    p.From,
		To:      p.To,
		Message: p.Message,
		At:      p.At,
	})
	snap.Stats.TotalPokes++

	agent := snap.Agents.Agents[res.AgentID]
	if agent != nil {
		agent.PokeCount++
		acc.mark(state.FileAgents)
	}

	detail := p.To
	if r.maybeOpenSummon(snap, p.To, now, acc) {
		detail = p.To + " (summon opened)"
	}
	snap.Changes.Entries = append(snap.Changes.Entries, types.ChangeEntry{
		Kind:   types.ChangePoked,
		Agent:  res.AgentID,
		Detail: detail,
		At:     now,
	})

	acc.mark(state.FilePokes)
	acc.mark(state.FileStats)
	acc.mark(state.FileChanges)
}

// maybeOpenSummon opens a summon for target when enough distinct pokers
// accumulated within the window, the target is dormant, and no summon is
// already active.
func (r *Reconciler) maybeOpenSummon(snap *state.Snapshot, target string, now time.Time, acc *apply) bool {
	agent, ok := snap.Agents.Agents[target]
	if !ok || !agent.Dormant() {
		return false
	}
	if snap.Summons.ActiveFor(target) != nil {
		return false
	}
	pokers := snap.Pokes.DistinctPokers(target, now, r.summonWindow)
	if len(pokers) < r.summonThreshold {
		return false
	}
	snap.Summons.Summons = append(snap.Summons.Summons, types.Summon{
		Target:   target,
		Pokers:   pokers,
		Status:   types.SummonActive,
		OpenedAt: now,
	})
	acc.mark(state.FileSummons)
	r.logger.Info("summon opened", zap.String("target", target), zap.Strings("pokers", pokers))
	return true
}

func (r *Reconciler) applySkipped(snap *state.Snapshot, res types.Result, now time.Time, acc *apply) {
	snap.Changes.Entries = append(snap.Changes.Entries, types.ChangeEntry{
		Kind:   types.ChangeSkipped,
		Agent:  res.AgentID,
		Number: res.Skipped.Task.Target,
		Detail: res.Skipped.Reason,
		At:     now,
	})
	acc.mark(state.FileChanges)
}

func (r *Reconciler) applyFailed(snap *state.Snapshot, res types.Result, now time.Time, acc *apply) {
	f := res.Failed
	snap.Changes.Entries = append(snap.Changes.Entries, types.ChangeEntry{
		Kind:   types.ChangeFailed,
		Agent:  res.AgentID,
		Number: f.Task.Target,
		Detail: fmt.Sprintf("%s: %s", f.ErrorKind, f.Err),
		At:     now,
	})
	acc.mark(state.FileChanges)
}

// trackPrediction opens a lifecycle record for prediction posts that
// carry a parseable resolve-by date. The sibling scorer applies status
// transitions via the inbox; the engine only opens the record.
func (r *Reconciler) trackPrediction(snap *state.Snapshot, post types.PostMirror, acc *apply) {
	postType, meta := types.DetectPostType(post.Title)
	if postType != types.PostPrediction || meta == nil || meta.ResolveBy == nil {
		return
	}
	for i := range snap.Predictions.Predictions {
		if snap.Predictions.Predictions[i].Number == post.Number {
			return
		}
	}
	snap.Predictions.Predictions = append(snap.Predictions.Predictions, types.Prediction{
		Number:    post.Number,
		Author:    post.Author,
		Claim:     types.BareTitle(post.Title),
		ResolveBy: *meta.ResolveBy,
		Status:    types.PredictionPending,
	})
	acc.mark(state.FilePredictions)
}

// resolveChannel finds the channel record backing a mirror's channel
// field, which may hold either the channel slug or the forge category
// slug. Posts can land in categories no record maps yet; a minimal
// record is materialized so the count invariants stay exact.
func resolveChannel(snap *state.Snapshot, slug string) *types.Channel {
	if ch, ok := snap.Channels.Channels[slug]; ok {
		return ch
	}
	for _, ch := range snap.Channels.Channels {
		if ch.Category == slug {
			return ch
		}
	}
	ch := &types.Channel{Slug: slug, Name: slug, Category: slug, TargetRatio: 2.0}
	snap.Channels.Channels[slug] = ch
	return ch
}

// baseline captures the counters the integrity gate compares against.
type baselineCounts struct {
	posts    map[string]int
	comments map[string]int
}

func captureBaseline(snap *state.Snapshot) baselineCounts {
	b := baselineCounts{
		posts:    make(map[string]int, len(snap.Agents.Agents)),
		comments: make(map[string]int, len(snap.Agents.Agents)),
	}
	for id, agent := range snap.Agents.Agents {
		b.posts[id] = agent.PostCount
		b.comments[id] = agent.CommentCount
	}
	return b
}

// checkIntegrity enforces the post-apply invariants. A violation aborts
// the batch before anything reaches disk.
func checkIntegrity(snap *state.Snapshot, baseline baselineCounts) error {
	if got, want := snap.Stats.TotalPosts, len(snap.PostedLog.Posts); got != want {
		return types.Tagf(types.ErrKindIntegrity,
			"stats.total_posts %d != posted_log length %d", got, want)
	}

	sum := 0
	for _, ch := range snap.Channels.Channels {
		sum += ch.PostCount
	}
	if sum != snap.Stats.TotalPosts {
		return types.Tagf(types.ErrKindIntegrity,
			"channel post_count sum %d != stats.total_posts %d", sum, snap.Stats.TotalPosts)
	}

	for id, agent := range snap.Agents.Agents {
		if agent.PostCount < baseline.posts[id] {
			return types.Tagf(types.ErrKindIntegrity,
				"agent %s post_count regressed %d -> %d", id, baseline.posts[id], agent.PostCount)
		}
		if agent.CommentCount < baseline.comments[id] {
			return types.Tagf(types.ErrKindIntegrity,
				"agent %s comment_count regressed %d -> %d", id, baseline.comments[id], agent.CommentCount)
		}
	}
	return nil
}

// orderedStateFiles returns the changed validated state files in
// canonical load order, so commits stay diff-stable.
func orderedStateFiles(changed map[string]bool) []string {
	var names []string
	for _, name := range state.AllFiles {
		if changed[name] {
			names = append(names, name)
		}
	}
	return names
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
