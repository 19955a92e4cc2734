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
	"fmt"
	"path"
	"reflect"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/tapestry/pkg/state"
	"github.com/teradata-labs/tapestry/pkg/types"
)

// SnapshotGhosts rebuilds ghost memory from the current agent roster:
// every agent that is dormant or whose heartbeat is older than the
// dormancy horizon gets a ghost record preserving what the decision
// layer needs to talk about the departed. Skips the write when the
// ghost set is unchanged.
func (r *Reconciler) SnapshotGhosts(snap *state.Snapshot, now time.Time) ([]string, error) {
	var ghosts []types.Ghost
	for id, agent := range snap.Agents.Agents {
		if !agent.Dormant() && now.Sub(agent.LastHeartbeat) < r.dormantAfter {
			continue
		}
		ghosts = append(ghosts, types.Ghost{
			ID:          id,
			LastSeen:    agent.LastHeartbeat,
			PostCount:   agent.PostCount,
			LastChannel: lastChannelOf(snap, id),
		})
	}
	sort.Slice(ghosts, func(i, j int) bool { return ghosts[i].ID < ghosts[j].ID })

	if reflect.DeepEqual(ghosts, snap.GhostMemory.Ghosts) {
		return nil, nil
	}
	snap.GhostMemory.Ghosts = ghosts

	snap.Touch(state.FileGhostMemory, now)
	if err := r.store.SaveFiles(snap, []string{state.FileGhostMemory}); err != nil {
		return nil, err
	}
	r.logger.Info("ghost memory refreshed", zap.Int("ghosts", len(ghosts)))
	return []string{state.FileGhostMemory}, nil
}

// lastChannelOf returns the channel of the agent's most recent post, or
// empty when it never posted.
func lastChannelOf(snap *state.Snapshot, agentID string) string {
	for i := len(snap.PostedLog.Posts) - 1; i >= 0; i-- {
		if snap.PostedLog.Posts[i].Author == agentID {
			return snap.PostedLog.Posts[i].Channel
		}
	}
	return ""
}

// Resurrect resolves active summons that gathered enough distinct
// pokers, promoting each target back to active with a fresh heartbeat.
// The poker list on an open summon is refreshed first, so pokes that
// landed after the summon opened still count toward the threshold.
func (r *Reconciler) Resurrect(snap *state.Snapshot, now time.Time) ([]string, error) {
	acc := &apply{changed: make(map[string]bool)}

	for i := range snap.Summons.Summons {
		summon := &snap.Summons.Summons[i]
		if summon.Status != types.SummonActive {
			continue
		}

		if pokers := snap.Pokes.DistinctPokers(summon.Target, now, r.summonWindow); len(pokers) > len(summon.Pokers) {
			summon.Pokers = pokers
			acc.mark(state.FileSummons)
		}
		if len(summon.Pokers) < r.summonThreshold {
			continue
		}

		agent, ok := snap.Agents.Agents[summon.Target]
		if !ok {
			// The roster no longer carries the target; resolve the
			// summon so it does not linger forever.
			resolved := now
			summon.Status = types.SummonResolved
			summon.ResolvedAt = &resolved
			acc.mark(state.FileSummons)
			r.logger.Warn("summon target missing, resolving", zap.String("target", summon.Target))
			continue
		}

		agent.Status = types.StatusActive
		agent.LastHeartbeat = now
		resolved := now
		summon.Status = types.SummonResolved
		summon.ResolvedAt = &resolved

		acc.mark(state.FileAgents)
		acc.mark(state.FileSummons)
		acc.soulLines = append(acc.soulLines, soulLine{
			agentID: summon.Target,
			line: fmt.Sprintf("- %s: resurrected by %d pokers (%s)",
				now.UTC().Format("2006-01-02"), len(summon.Pokers), strings.Join(summon.Pokers, ", ")),
		})
		r.logger.Info("agent resurrected",
			zap.String("agent", summon.Target),
			zap.Int("pokers", len(summon.Pokers)))
	}

	if len(acc.changed) == 0 {
		return nil, nil
	}

	stateFiles := orderedStateFiles(acc.changed)
	for _, name := range stateFiles {
		snap.Touch(name, now)
	}
	if err := r.store.SaveFiles(snap, stateFiles); err != nil {
		return nil, err
	}

	changed := stateFiles
	for _, sl := range acc.soulLines {
		if err := r.store.AppendSoulLine(sl.agentID, sl.line); err != nil {
			return nil, err
		}
		changed = append(changed, path.Join(state.DirMemory, sl.agentID+".md"))
	}
	return changed, nil
}
