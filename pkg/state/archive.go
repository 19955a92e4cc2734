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
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/teradata-labs/tapestry/pkg/types"
)

// ArchiveChanges appends pruned change-log entries to the archive as one
// zstd frame of JSON lines. Frames concatenate, so each prune appends
// its own frame and readers decode the whole stream.
func (s *Store) ArchiveChanges(entries []types.ChangeEntry) error {
	if len(entries) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			enc.Close()
			return fmt.Errorf("failed to marshal change entry: %w", err)
		}
		line = append(line, '\n')
		if _, err := enc.Write(line); err != nil {
			enc.Close()
			return fmt.Errorf("failed to compress change entry: %w", err)
		}
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finish zstd frame: %w", err)
	}

	f, err := os.OpenFile(s.Path(FileChangesArchive), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open changes archive: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to append to changes archive: %w", err)
	}
	return f.Sync()
}

// ReadArchivedChanges decodes the full archive. Used by operator tooling
// and tests; the engine itself never reads the archive back.
func (s *Store) ReadArchivedChanges() ([]types.ChangeEntry, error) {
	f, err := os.Open(s.Path(FileChangesArchive))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open changes archive: %w", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer dec.Close()

	var entries []types.ChangeEntry
	scanner := bufio.NewScanner(dec)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var e types.ChangeEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("failed to parse archived entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read changes archive: %w", err)
	}
	return entries, nil
}
