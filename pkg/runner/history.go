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

package runner

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	_ "github.com/teradata-labs/tapestry/internal/sqlitedriver" // registers "sqlite3"
	"github.com/teradata-labs/tapestry/pkg/engine"
	"github.com/teradata-labs/tapestry/pkg/types"
)

// CycleRecord is one row of the cycle history.
type CycleRecord struct {
	ID        string
	StartedAt time.Time
	Duration  time.Duration

	Selected  int
	Streams   int
	Results   int
	Mutations int

	Created   int
	Commented int
	Voted     int
	Poked     int
	Skipped   int
	Failed    int

	ChangedFiles []string
	Committed    bool
	Error        string
}

// NewCycleRecord flattens a cycle report into a history row.
func NewCycleRecord(report *engine.CycleReport, committed bool, err error) *CycleRecord {
	rec := &CycleRecord{
		ID:           report.CycleID,
		StartedAt:    report.StartedAt,
		Duration:     report.Duration,
		Selected:     report.Selected,
		Streams:      report.ActiveStreams,
		Results:      len(report.Results),
		Mutations:    report.Mutations(),
		Created:      report.Counts[types.ResultCreated],
		Commented:    report.Counts[types.ResultCommented],
		Voted:        report.Counts[types.ResultVoted],
		Poked:        report.Counts[types.ResultPoked],
		Skipped:      report.Counts[types.ResultSkipped],
		Failed:       report.Counts[types.ResultFailed],
		ChangedFiles: report.ChangedFiles,
		Committed:    committed,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	return rec
}

// History persists per-cycle execution rows to SQLite. Uses WAL mode
// for concurrent read access while the runner writes.
type History struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewHistory opens (or creates) the history database.
func NewHistory(ctx context.Context, dbPath string, logger *zap.Logger) (*History, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	h := &History{db: db, logger: logger}
	if err := h.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return h, nil
}

func (h *History) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS cycle_history (
		id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		selected INTEGER NOT NULL,
		streams INTEGER NOT NULL,
		results INTEGER NOT NULL,
		mutations INTEGER NOT NULL,
		created INTEGER NOT NULL DEFAULT 0,
		commented INTEGER NOT NULL DEFAULT 0,
		voted INTEGER NOT NULL DEFAULT 0,
		poked INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		changed_files TEXT,
		committed INTEGER NOT NULL DEFAULT 0,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_cycle_started ON cycle_history(started_at);
	`
	if _, err := h.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	return nil
}

// Record inserts one cycle row. Re-recording the same cycle id replaces
// the row, so a retried commit updates its outcome in place.
func (h *History) Record(ctx context.Context, rec *CycleRecord) error {
	_, err := h.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO cycle_history (
			id, started_at, duration_ms, selected, streams, results, mutations,
			created, commented, voted, poked, skipped, failed,
			changed_files, committed, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.StartedAt.UnixMilli(),
		rec.Duration.Milliseconds(),
		rec.Selected,
		rec.Streams,
		rec.Results,
		rec.Mutations,
		rec.Created,
		rec.Commented,
		rec.Voted,
		rec.Poked,
		rec.Skipped,
		rec.Failed,
		strings.Join(rec.ChangedFiles, ","),
		boolToInt(rec.Committed),
		rec.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record cycle: %w", err)
	}
	return nil
}

// Recent returns the latest rows, newest first.
func (h *History) Recent(ctx context.Context, limit int) ([]*CycleRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, started_at, duration_ms, selected, streams, results, mutations,
		       created, commented, voted, poked, skipped, failed,
		       changed_files, committed, error
		FROM cycle_history
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var records []*CycleRecord
	for rows.Next() {
		var (
			rec        CycleRecord
			startedMS  int64
			durationMS int64
			files      string
			committed  int
		)
		if err := rows.Scan(
			&rec.ID, &startedMS, &durationMS, &rec.Selected, &rec.Streams,
			&rec.Results, &rec.Mutations,
			&rec.Created, &rec.Commented, &rec.Voted, &rec.Poked, &rec.Skipped, &rec.Failed,
			&files, &committed, &rec.Error,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		rec.StartedAt = time.UnixMilli(startedMS).UTC()
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		if files != "" {
			rec.ChangedFiles = strings.Split(files, ",")
		}
		rec.Committed = committed != 0
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// Close closes the database.
func (h *History) Close() error {
	return h.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
