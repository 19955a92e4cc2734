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

// Package state implements the flat-JSON state store: typed readers and
// writers for the engine's state files, schema validation, and atomic
// file replacement. The reconciler is the sole writer of every file here
// except inbox deltas.
package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/tapestry/pkg/types"
)

// ErrNotFound is returned when a state file does not exist yet.
var ErrNotFound = errors.New("state file not found")

// Config holds configuration for the store.
type Config struct {
	// Dir is the state directory root. Created if missing.
	Dir string

	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// Store reads and writes the state directory.
type Store struct {
	dir    string
	logger *zap.Logger
}

// New creates a store rooted at cfg.Dir, creating the directory tree
// (including memory/ and inbox/) when absent.
func New(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("state dir is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	for _, dir := range []string{cfg.Dir, filepath.Join(cfg.Dir, DirMemory), filepath.Join(cfg.Dir, DirInbox)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state dir %s: %w", dir, err)
		}
	}

	return &Store{dir: cfg.Dir, logger: cfg.Logger}, nil
}

// Dir returns the state directory root.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the absolute path of a state file name.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// load reads, schema-validates, and unmarshals one file into doc.
// A missing file returns ErrNotFound; everything malformed is tagged as
// a schema error so the cycle fails instead of propagating corruption.
func (s *Store) load(name string, doc document) error {
	raw, err := os.ReadFile(s.Path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return fmt.Errorf("failed to read %s: %w", name, err)
	}

	if HasConflictMarkers(raw) {
		return types.Tagf(types.ErrKindSchema, "%s contains merge conflict markers", name)
	}
	if err := validateSchema(doc, raw); err != nil {
		return types.Tag(types.ErrKindSchema, fmt.Errorf("%s: %w", name, err))
	}
	if err := json.Unmarshal(raw, doc); err != nil {
		return types.Tag(types.ErrKindSchema, fmt.Errorf("failed to parse %s: %w", name, err))
	}
	if doc.meta().Count != doc.entryCount() {
		return types.Tagf(types.ErrKindSchema, "%s: _meta.count %d does not match %d entries",
			name, doc.meta().Count, doc.entryCount())
	}
	return nil
}

// save validates doc and atomically replaces the file. The caller must
// have stamped the meta; a count mismatch fails fast before any bytes
// reach disk.
func (s *Store) save(name string, doc document) error {
	if doc.meta().Count != doc.entryCount() {
		return types.Tagf(types.ErrKindIntegrity, "%s: _meta.count %d does not match %d entries",
			name, doc.meta().Count, doc.entryCount())
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	data = append(data, '\n')

	if err := validateSchema(doc, data); err != nil {
		return types.Tag(types.ErrKindIntegrity, fmt.Errorf("%s: %w", name, err))
	}

	if err := s.atomicWrite(s.Path(name), data); err != nil {
		return err
	}
	s.logger.Debug("state file written", zap.String("file", name), zap.Int("entries", doc.entryCount()))
	return nil
}

// atomicWrite writes data to a sibling temp file, fsyncs it, and renames
// it over path. Readers in other processes see either the fully previous
// or the fully new contents, never a torn write.
func (s *Store) atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	// Best effort: persist the rename itself.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// Typed loaders. Missing files surface ErrNotFound.

func (s *Store) LoadAgents() (*AgentsFile, error) {
	doc := &AgentsFile{}
	if err := s.load(FileAgents, doc); err != nil {
		return nil, err
	}
	if doc.Agents == nil {
		doc.Agents = make(map[string]*types.Agent)
	}
	return doc, nil
}

func (s *Store) LoadChannels() (*ChannelsFile, error) {
	doc := &ChannelsFile{}
	if err := s.load(FileChannels, doc); err != nil {
		return nil, err
	}
	if doc.Channels == nil {
		doc.Channels = make(map[string]*types.Channel)
	}
	return doc, nil
}

func (s *Store) LoadStats() (*StatsFile, error) {
	doc := &StatsFile{}
	if err := s.load(FileStats, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) LoadPostedLog() (*PostedLogFile, error) {
	doc := &PostedLogFile{}
	if err := s.load(FilePostedLog, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) LoadChanges() (*ChangesFile, error) {
	doc := &ChangesFile{}
	if err := s.load(FileChanges, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) LoadTrending() (*TrendingFile, error) {
	doc := &TrendingFile{}
	if err := s.load(FileTrending, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) LoadPokes() (*PokesFile, error) {
	doc := &PokesFile{}
	if err := s.load(FilePokes, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) LoadSummons() (*SummonsFile, error) {
	doc := &SummonsFile{}
	if err := s.load(FileSummons, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) LoadPredictions() (*PredictionsFile, error) {
	doc := &PredictionsFile{}
	if err := s.load(FilePredictions, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) LoadSocialGraph() (*SocialGraphFile, error) {
	doc := &SocialGraphFile{}
	if err := s.load(FileSocialGraph, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) LoadGhostMemory() (*GhostMemoryFile, error) {
	doc := &GhostMemoryFile{}
	if err := s.load(FileGhostMemory, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Typed writers.

func (s *Store) SaveAgents(doc *AgentsFile) error           { return s.save(FileAgents, doc) }
func (s *Store) SaveChannels(doc *ChannelsFile) error       { return s.save(FileChannels, doc) }
func (s *Store) SaveStats(doc *StatsFile) error             { return s.save(FileStats, doc) }
func (s *Store) SavePostedLog(doc *PostedLogFile) error     { return s.save(FilePostedLog, doc) }
func (s *Store) SaveChanges(doc *ChangesFile) error         { return s.save(FileChanges, doc) }
func (s *Store) SaveTrending(doc *TrendingFile) error       { return s.save(FileTrending, doc) }
func (s *Store) SavePokes(doc *PokesFile) error             { return s.save(FilePokes, doc) }
func (s *Store) SaveSummons(doc *SummonsFile) error         { return s.save(FileSummons, doc) }
func (s *Store) SavePredictions(doc *PredictionsFile) error { return s.save(FilePredictions, doc) }
func (s *Store) SaveSocialGraph(doc *SocialGraphFile) error { return s.save(FileSocialGraph, doc) }
func (s *Store) SaveGhostMemory(doc *GhostMemoryFile) error { return s.save(FileGhostMemory, doc) }

// Snapshot is one consistent read group of all state files, loaded at
// the start of a cycle. The reconciler mutates the snapshot in memory
// and saves only the files it changed.
type Snapshot struct {
	Agents      *AgentsFile
	Channels    *ChannelsFile
	Stats       *StatsFile
	PostedLog   *PostedLogFile
	Changes     *ChangesFile
	Trending    *TrendingFile
	Pokes       *PokesFile
	Summons     *SummonsFile
	Predictions *PredictionsFile
	SocialGraph *SocialGraphFile
	GhostMemory *GhostMemoryFile

	LoadedAt time.Time
}

// LoadSnapshot loads every state file. Files that do not exist yet load
// as empty documents so a fresh state directory works; anything
// malformed fails the load.
func (s *Store) LoadSnapshot() (*Snapshot, error) {
	snap := &Snapshot{LoadedAt: time.Now().UTC()}

	for _, name := range AllFiles {
		doc := newDocument(name)
		if err := s.load(name, doc); err != nil {
			if errors.Is(err, ErrNotFound) {
				s.logger.Debug("state file absent, starting empty", zap.String("file", name))
			} else {
				return nil, err
			}
		}
		snap.attach(name, doc)
	}
	return snap, nil
}

func (snap *Snapshot) attach(name string, doc document) {
	switch name {
	case FileAgents:
		snap.Agents = doc.(*AgentsFile)
	case FileChannels:
		snap.Channels = doc.(*ChannelsFile)
	case FileStats:
		snap.Stats = doc.(*StatsFile)
	case FilePostedLog:
		snap.PostedLog = doc.(*PostedLogFile)
	case FileChanges:
		snap.Changes = doc.(*ChangesFile)
	case FileTrending:
		snap.Trending = doc.(*TrendingFile)
	case FilePokes:
		snap.Pokes = doc.(*PokesFile)
	case FileSummons:
		snap.Summons = doc.(*SummonsFile)
	case FilePredictions:
		snap.Predictions = doc.(*PredictionsFile)
	case FileSocialGraph:
		snap.SocialGraph = doc.(*SocialGraphFile)
	case FileGhostMemory:
		snap.GhostMemory = doc.(*GhostMemoryFile)
	}
}

// doc returns the snapshot's document for a file name, or nil.
func (snap *Snapshot) doc(name string) document {
	switch name {
	case FileAgents:
		return snap.Agents
	case FileChannels:
		return snap.Channels
	case FileStats:
		return snap.Stats
	case FilePostedLog:
		return snap.PostedLog
	case FileChanges:
		return snap.Changes
	case FileTrending:
		return snap.Trending
	case FilePokes:
		return snap.Pokes
	case FileSummons:
		return snap.Summons
	case FilePredictions:
		return snap.Predictions
	case FileSocialGraph:
		return snap.SocialGraph
	case FileGhostMemory:
		return snap.GhostMemory
	default:
		return nil
	}
}

// Touch stamps the named file's meta with now and its current entry
// count. Every save checks the stamp, so mutators call this on each
// file they changed before SaveFiles.
func (snap *Snapshot) Touch(name string, now time.Time) {
	if doc := snap.doc(name); doc != nil {
		doc.meta().Touch(now, doc.entryCount())
	}
}

// SaveFiles persists the named files from the snapshot. Used by the
// reconciler after apply and by the safe-commit re-apply path.
func (s *Store) SaveFiles(snap *Snapshot, files []string) error {
	for _, name := range files {
		doc := snap.doc(name)
		if doc == nil {
			return fmt.Errorf("unknown state file %q", name)
		}
		if err := s.save(name, doc); err != nil {
			return err
		}
	}
	return nil
}

// ValidateFile re-reads a state file from disk and checks that it
// parses, satisfies its schema and meta count, and carries no merge
// conflict markers. The safe-commit protocol calls this after a rebase.
func (s *Store) ValidateFile(name string) error {
	doc := newDocument(name)
	if doc == nil {
		// Non-JSON artifacts (soul files, archives) are not validated.
		return nil
	}
	err := s.load(name, doc)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// Conflict marker prefixes git writes into files on a failed merge.
var conflictMarkers = [][]byte{
	[]byte("<<<<<<<"),
	[]byte("======="),
	[]byte(">>>>>>>"),
}

// HasConflictMarkers reports whether data carries a git conflict marker
// at the start of any line.
func HasConflictMarkers(data []byte) bool {
	for _, line := range bytes.Split(data, []byte("\n")) {
		for _, marker := range conflictMarkers {
			if bytes.HasPrefix(line, marker) {
				return true
			}
		}
	}
	return false
}
