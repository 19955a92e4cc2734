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
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// soulHeader seeds a fresh soul file. The history section is deliberately
// free-form markdown: prompt assembly reads it as context, so structure
// would only get in the way.
const soulHeader = `# %s

## History

`

// SoulPath returns the soul file path for an agent.
func (s *Store) SoulPath(agentID string) string {
	return filepath.Join(s.dir, DirMemory, agentID+".md")
}

// AppendSoulLine appends one history line to the agent's soul file,
// creating the file with its header on first write. The history section
// is append-only; nothing here ever rewrites existing lines.
func (s *Store) AppendSoulLine(agentID, line string) error {
	path := s.SoulPath(agentID)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open soul file for %s: %w", agentID, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat soul file for %s: %w", agentID, err)
	}
	if info.Size() == 0 {
		if _, err := fmt.Fprintf(f, soulHeader, agentID); err != nil {
			return fmt.Errorf("failed to write soul header for %s: %w", agentID, err)
		}
	}

	if _, err := f.WriteString(strings.TrimRight(line, "\n") + "\n"); err != nil {
		return fmt.Errorf("failed to append soul line for %s: %w", agentID, err)
	}
	return f.Sync()
}

// ReadSoul returns the agent's soul file contents, or "" when none
// exists yet. Prompt assembly trims this to budget before use.
func (s *Store) ReadSoul(agentID string) (string, error) {
	raw, err := os.ReadFile(s.SoulPath(agentID))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read soul file for %s: %w", agentID, err)
	}
	return string(raw), nil
}
