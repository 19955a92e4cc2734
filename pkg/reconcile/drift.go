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

package reconcile

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/tapestry/pkg/forge"
	"github.com/teradata-labs/tapestry/pkg/state"
	"github.com/teradata-labs/tapestry/pkg/types"
)

// ReconcileWithRemote backfills posts the forge holds but the posted log
// missed, typically after a crash between a mutation and its reconcile.
// The repair is strictly additive: nothing local is deleted or rewritten
// to match the remote, so reaction counts and comment totals on existing
// mirrors refresh through the normal cycle reads instead. Idempotent; a
// drift-free remote is a no-op.
func (r *Reconciler) ReconcileWithRemote(snap *state.Snapshot, remote []forge.RemoteDiscussion, now time.Time) ([]string, error) {
	var missing []forge.RemoteDiscussion
	for i := range remote {
		if !snap.PostedLog.HasNumber(remote[i].Number) {
			missing = append(missing, remote[i])
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i].Number < missing[j].Number })

	acc := &apply{changed: make(map[string]bool)}
	for i := range missing {
		mirror := missing[i].Mirror()
		snap.PostedLog.Posts = append(snap.PostedLog.Posts, mirror)
		snap.Stats.TotalPosts++

		ch := resolveChannel(snap, mirror.Channel)
		ch.PostCount++

		if agent, ok := snap.Agents.Agents[mirror.Author]; ok {
			agent.PostCount++
			acc.mark(state.FileAgents)
		}

		r.trackPrediction(snap, mirror, acc)

		snap.Changes.Entries = append(snap.Changes.Entries, types.ChangeEntry{
			Kind:    types.ChangeBackfill,
			Agent:   mirror.Author,
			Number:  mirror.Number,
			Channel: ch.Slug,
			Detail:  mirror.Title,
			At:      now,
		})
		r.logger.Warn("drift repaired",
			zap.Int("number", mirror.Number),
			zap.String("author", mirror.Author),
			zap.String("channel", ch.Slug))
	}

	acc.mark(state.FilePostedLog)
	acc.mark(state.FileStats)
	acc.mark(state.FileChannels)
	acc.mark(state.FileChanges)

	stateFiles := orderedStateFiles(acc.changed)
	for _, name := range stateFiles {
		snap.Touch(name, now)
	}
	if err := r.store.SaveFiles(snap, stateFiles); err != nil {
		return nil, err
	}
	return stateFiles, nil
}
