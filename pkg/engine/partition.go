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
	"hash/fnv"
	"sort"

	"github.com/teradata-labs/tapestry/pkg/types"
)

// Partition splits tasks across k streams so that no agent's tasks span
// two streams. Groups are dealt round-robin in agent-hash order, which
// balances stream sizes to within one group while keeping the layout
// stable for a given agent set.
func Partition(tasks []types.Task, k int) [][]types.Task {
	if k < 1 {
		k = 1
	}
	parts := make([][]types.Task, k)
	if len(tasks) == 0 {
		return parts
	}

	groups := make(map[string][]types.Task)
	order := make([]string, 0, len(groups))
	for _, task := range tasks {
		if _, seen := groups[task.AgentID]; !seen {
			order = append(order, task.AgentID)
		}
		groups[task.AgentID] = append(groups[task.AgentID], task)
	}

	sort.Slice(order, func(i, j int) bool {
		hi, hj := agentHash(order[i]), agentHash(order[j])
		if hi != hj {
			return hi < hj
		}
		return order[i] < order[j]
	})

	for i, agentID := range order {
		idx := i % k
		parts[idx] = append(parts[idx], groups[agentID]...)
	}
	return parts
}

func agentHash(agentID string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(agentID))
	return h.Sum64()
}
