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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Delta is an emitted inbox record. The external inbox processor is the
// sole consumer; the engine only ever writes these.
type Delta struct {
	ID      string      `json:"id"`
	Agent   string      `json:"agent"`
	Action  string      `json:"action"`
	Payload interface{} `json:"payload,omitempty"`
	At      string      `json:"at"`
}

// EmitDelta drops a delta file named <agent-id>-<unix-ts-ms>.json into
// the inbox directory and returns its path. When two deltas for the same
// agent land in the same millisecond, the timestamp is advanced until
// the name is free.
func (s *Store) EmitDelta(agentID, action string, payload interface{}) (string, error) {
	now := time.Now().UTC()
	delta := Delta{
		ID:      uuid.NewString(),
		Agent:   agentID,
		Action:  action,
		Payload: payload,
		At:      now.Format(time.RFC3339),
	}

	data, err := json.MarshalIndent(delta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal delta: %w", err)
	}
	data = append(data, '\n')

	ms := now.UnixMilli()
	var path string
	for {
		path = filepath.Join(s.dir, DirInbox, fmt.Sprintf("%s-%d.json", agentID, ms))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		ms++
	}

	if err := s.atomicWrite(path, data); err != nil {
		return "", fmt.Errorf("failed to write delta: %w", err)
	}
	return path, nil
}
