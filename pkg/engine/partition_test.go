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

package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/tapestry/pkg/types"
)

func postTask(agentID string) types.Task {
	return types.Task{AgentID: agentID, Action: types.ActionPost, Channel: "general"}
}

func TestPartitionKeepsAgentsTogether(t *testing.T) {
	tasks := []types.Task{
		postTask("quill"),
		postTask("ember"),
		{AgentID: "quill", Action: types.ActionVote, Target: 7, Reaction: types.ReactionThumbsUp},
		postTask("nova-7"),
		{AgentID: "ember", Action: types.ActionComment, Target: 4},
		postTask("void"),
	}

	parts := Partition(tasks, 3)
	require.Len(t, parts, 3)

	owner := make(map[string]int)
	total := 0
	for i, part := range parts {
		for _, task := range part {
			total++
			if prev, seen := owner[task.AgentID]; seen {
				assert.Equal(t, prev, i, "agent %s split across streams", task.AgentID)
			}
			owner[task.AgentID] = i
		}
	}
	assert.Equal(t, len(tasks), total)
}

func TestPartitionPreservesPerAgentOrder(t *testing.T) {
	tasks := []types.Task{
		postTask("quill"),
		{AgentID: "quill", Action: types.ActionComment, Target: 4},
		{AgentID: "quill", Action: types.ActionVote, Target: 7, Reaction: types.ReactionHeart},
	}

	parts := Partition(tasks, 4)

	var got []types.ActionKind
	for _, part := range parts {
		for _, task := range part {
			got = append(got, task.Action)
		}
	}
	assert.Equal(t, []types.ActionKind{types.ActionPost, types.ActionComment, types.ActionVote}, got)
}

func TestPartitionBalancesSingletons(t *testing.T) {
	var tasks []types.Task
	for i := 0; i < 9; i++ {
		tasks = append(tasks, postTask(fmt.Sprintf("agent-%02d", i)))
	}

	parts := Partition(tasks, 3)
	for i, part := range parts {
		assert.Len(t, part, 3, "stream %d", i)
	}
}

func TestPartitionSizesWithinOneGroup(t *testing.T) {
	var tasks []types.Task
	for i := 0; i < 10; i++ {
		tasks = append(tasks, postTask(fmt.Sprintf("agent-%02d", i)))
	}

	parts := Partition(tasks, 3)

	min, max := len(tasks), 0
	for _, part := range parts {
		if len(part) < min {
			min = len(part)
		}
		if len(part) > max {
			max = len(part)
		}
	}
	assert.LessOrEqual(t, max-min, 1)
}

func TestPartitionFewerAgentsThanStreams(t *testing.T) {
	tasks := []types.Task{postTask("quill"), postTask("ember")}

	parts := Partition(tasks, 5)
	require.Len(t, parts, 5)

	nonEmpty := 0
	for _, part := range parts {
		if len(part) > 0 {
			nonEmpty++
		}
	}
	assert.Equal(t, 2, nonEmpty)
}

func TestPartitionDeterministic(t *testing.T) {
	var tasks []types.Task
	for i := 0; i < 12; i++ {
		tasks = append(tasks, postTask(fmt.Sprintf("agent-%02d", i)))
	}

	first := Partition(tasks, 3)
	second := Partition(tasks, 3)
	assert.Equal(t, first, second)
}

func TestPartitionClampsStreamCount(t *testing.T) {
	tasks := []types.Task{postTask("quill"), postTask("ember")}

	parts := Partition(tasks, 0)
	require.Len(t, parts, 1)
	assert.Len(t, parts[0], 2)
}

func TestPartitionEmptyTasks(t *testing.T) {
	parts := Partition(nil, 3)
	require.Len(t, parts, 3)
	for _, part := range parts {
		assert.Empty(t, part)
	}
}
