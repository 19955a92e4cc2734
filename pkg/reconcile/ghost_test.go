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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/tapestry/pkg/state"
	"github.com/teradata-labs/tapestry/pkg/types"
)

func TestSnapshotGhostsCapturesDepartedAgents(t *testing.T) {
	r, s := newTestReconciler(t)
	snap := seedSnapshot(t, s)

	// a2 went quiet past the dormancy horizon without a status flip.
	snap.Agents.Agents["a2"].LastHeartbeat = reconcileNow.Add(-10 * 24 * time.Hour)

	changed, err := r.SnapshotGhosts(snap, reconcileNow)
	require.NoError(t, err)
	assert.Equal(t, []string{state.FileGhostMemory}, changed)

	require.Len(t, snap.GhostMemory.Ghosts, 2)
	assert.Equal(t, "a2", snap.GhostMemory.Ghosts[0].ID)
	assert.Equal(t, "sleeper", snap.GhostMemory.Ghosts[1].ID)

	a2 := snap.GhostMemory.Ghosts[0]
	assert.Equal(t, reconcileNow.Add(-10*24*time.Hour), a2.LastSeen)
	assert.Equal(t, 1, a2.PostCount)
	assert.Equal(t, "general", a2.LastChannel, "from the most recent posted_log entry")

	assert.Empty(t, snap.GhostMemory.Ghosts[1].LastChannel, "sleeper never posted")
}

func TestSnapshotGhostsSkipsWriteWhenUnchanged(t *testing.T) {
	r, s := newTestReconciler(t)
	snap := seedSnapshot(t, s)

	changed, err := r.SnapshotGhosts(snap, reconcileNow)
	require.NoError(t, err)
	require.NotEmpty(t, changed)

	changed, err = r.SnapshotGhosts(snap, reconcileNow)
	require.NoError(t, err)
	assert.Empty(t, changed)
}

func TestSnapshotGhostsDropsReturnedAgents(t *testing.T) {
	r, s := newTestReconciler(t)
	snap := seedSnapshot(t, s)

	snap.GhostMemory.Ghosts = []types.Ghost{
		{ID: "a1", LastSeen: reconcileNow.Add(-20 * 24 * time.Hour), PostCount: 5},
		{ID: "sleeper", LastSeen: reconcileNow.Add(-30 * 24 * time.Hour), PostCount: 9},
	}

	_, err := r.SnapshotGhosts(snap, reconcileNow)
	require.NoError(t, err)

	require.Len(t, snap.GhostMemory.Ghosts, 1)
	assert.Equal(t, "sleeper", snap.GhostMemory.Ghosts[0].ID)
}

func TestResurrectPromotesSummonedAgent(t *testing.T) {
	r, s := newTestReconciler(t)
	snap := seedSnapshot(t, s)

	snap.Summons.Summons = []types.Summon{{
		Target: "sleeper", Pokers: []string{"a1", "a2", "a3"},
		Status: types.SummonActive, OpenedAt: reconcileNow.Add(-2 * time.Hour),
	}}

	changed, err := r.Resurrect(snap, reconcileNow)
	require.NoError(t, err)

	sleeper := snap.Agents.Agents["sleeper"]
	assert.Equal(t, types.StatusActive, sleeper.Status)
	assert.Equal(t, reconcileNow, sleeper.LastHeartbeat)

	summon := snap.Summons.Summons[0]
	assert.Equal(t, types.SummonResolved, summon.Status)
	require.NotNil(t, summon.ResolvedAt)
	assert.Equal(t, reconcileNow, *summon.ResolvedAt)

	soul, err := s.ReadSoul("sleeper")
	require.NoError(t, err)
	assert.Contains(t, soul, "resurrected by 3 pokers (a1, a2, a3)")

	assert.Contains(t, changed, state.FileAgents)
	assert.Contains(t, changed, state.FileSummons)
	assert.Contains(t, changed, "memory/sleeper.md")
}

func TestResurrectRefreshesPokerList(t *testing.T) {
	r, s := newTestReconciler(t)
	snap := seedSnapshot(t, s)

	// Opened with two pokers under an older, lower threshold; a third
	// poke landed after opening.
	snap.Summons.Summons = []types.Summon{{
		Target: "sleeper", Pokers: []string{"a1", "a2"},
		Status: types.SummonActive, OpenedAt: reconcileNow.Add(-3 * time.Hour),
	}}
	snap.Pokes.Pokes = []types.Poke{
		{From: "a1", To: "sleeper", At: reconcileNow.Add(-4 * time.Hour)},
		{From: "a2", To: "sleeper", At: reconcileNow.Add(-3 * time.Hour)},
		{From: "a3", To: "sleeper", At: reconcileNow.Add(-time.Hour)},
	}

	_, err := r.Resurrect(snap, reconcileNow)
	require.NoError(t, err)

	summon := snap.Summons.Summons[0]
	assert.Equal(t, []string{"a1", "a2", "a3"}, summon.Pokers)
	assert.Equal(t, types.SummonResolved, summon.Status)
	assert.Equal(t, types.StatusActive, snap.Agents.Agents["sleeper"].Status)
}

func TestResurrectBelowThresholdWaits(t *testing.T) {
	r, s := newTestReconciler(t)
	snap := seedSnapshot(t, s)

	snap.Summons.Summons = []types.Summon{{
		Target: "sleeper", Pokers: []string{"a1", "a2"},
		Status: types.SummonActive, OpenedAt: reconcileNow.Add(-time.Hour),
	}}

	changed, err := r.Resurrect(snap, reconcileNow)
	require.NoError(t, err)
	assert.Empty(t, changed)
	assert.Equal(t, types.StatusDormant, snap.Agents.Agents["sleeper"].Status)
	assert.Equal(t, types.SummonActive, snap.Summons.Summons[0].Status)
}

func TestResurrectIgnoresResolvedSummons(t *testing.T) {
	r, s := newTestReconciler(t)
	snap := seedSnapshot(t, s)

	resolvedAt := reconcileNow.Add(-24 * time.Hour)
	snap.Summons.Summons = []types.Summon{{
		Target: "sleeper", Pokers: []string{"a1", "a2", "a3"},
		Status: types.SummonResolved, OpenedAt: reconcileNow.Add(-48 * time.Hour), ResolvedAt: &resolvedAt,
	}}

	changed, err := r.Resurrect(snap, reconcileNow)
	require.NoError(t, err)
	assert.Empty(t, changed)
	assert.Equal(t, types.StatusDormant, snap.Agents.Agents["sleeper"].Status)
}

func TestResurrectMissingTargetResolvesSummon(t *testing.T) {
	r, s := newTestReconciler(t)
	snap := seedSnapshot(t, s)

	snap.Summons.Summons = []types.Summon{{
		Target: "deleted-agent", Pokers: []string{"a1", "a2", "a3"},
		Status: types.SummonActive, OpenedAt: reconcileNow.Add(-time.Hour),
	}}

	changed, err := r.Resurrect(snap, reconcileNow)
	require.NoError(t, err)

	assert.Equal(t, types.SummonResolved, snap.Summons.Summons[0].Status)
	assert.Contains(t, changed, state.FileSummons)
	assert.NotContains(t, changed, state.FileAgents)
}
