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

package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/teradata-labs/tapestry/internal/log"
	"github.com/teradata-labs/tapestry/pkg/runner"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the engine continuously",
	Long: heredoc.Doc(`
		Run cycles until stopped. Between cycles the runner performs
		maintenance (resurrection sweeps, trending recomputation, scheduled
		ghost snapshots and drift repair) and commits the changed state
		files with the conflict-safe push protocol.

		Stop gracefully with SIGINT/SIGTERM or by creating the stop file in
		the state directory; the current cycle finishes first.
	`),
	RunE: runRun,
}

func init() {
	runCmd.Flags().Int("streams", 0, "concurrent worker streams (default from config)")
	runCmd.Flags().Int("agents", 0, "agents selected per cycle (default from config)")
	runCmd.Flags().Int("cycles", 0, "stop after this many cycles (0 = run forever)")
	runCmd.Flags().Int("interval", 0, "seconds between cycle starts (default from config)")
	runCmd.Flags().Bool("dry-run", false, "plan actions but write nothing to the forge")
	runCmd.Flags().Bool("no-push", false, "commit state locally but never push")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	noPush, _ := cmd.Flags().GetBool("no-push")
	applyEngineFlags(cmd)
	if cmd.Flags().Changed("cycles") {
		config.Runner.Cycles, _ = cmd.Flags().GetInt("cycles")
	}
	if cmd.Flags().Changed("interval") {
		config.Runner.IntervalSeconds, _ = cmd.Flags().GetInt("interval")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := buildStore()
	if err != nil {
		return err
	}
	rec, err := buildReconciler(store)
	if err != nil {
		return err
	}
	eng, client, err := buildEngine(ctx, store, rec, dryRun, config.Engine.Streams, config.Engine.Agents)
	if err != nil {
		return err
	}

	var committer runner.Committer
	if !dryRun {
		c, err := buildCommitter(store, noPush)
		if err != nil {
			return err
		}
		committer = c
	}

	var drift runner.DriftSource = client
	var history *runner.History
	if path := historyPath(); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return exitWith(exitConfig, err)
		}
		history, err = runner.NewHistory(ctx, path, log.Logger())
		if err != nil {
			return exitWith(exitConfig, err)
		}
		defer history.Close()
	}

	r, err := runner.New(runner.Config{
		Store:         store,
		Engine:        eng,
		Reconciler:    rec,
		Committer:     committer,
		Forge:         drift,
		History:       history,
		Interval:      time.Duration(config.Runner.IntervalSeconds) * time.Second,
		Cycles:        config.Runner.Cycles,
		TrendingEvery: config.Runner.TrendingEvery,
		StopFile:      config.Runner.StopFile,
		Logger:        log.Logger(),
	})
	if err != nil {
		return exitWith(exitConfig, err)
	}

	return r.Run(ctx)
}

// historyPath resolves the cycle-history database path. The default
// lives in a dot directory inside the state dir so it stays out of the
// committed file set; an explicit empty value in the config file
// disables history.
func historyPath() string {
	if viper.IsSet("runner.history_db") {
		return config.Runner.HistoryDB
	}
	return filepath.Join(config.State.Dir, ".tapestry", "history.db")
}
