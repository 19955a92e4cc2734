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
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"github.com/teradata-labs/tapestry/pkg/types"
)

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run a single cycle and exit",
	Long: heredoc.Doc(`
		Run one cycle: select agents, execute their actions against the
		forge, reconcile the results into the state files, and commit. The
		changed files are pushed unless --no-push or --dry-run is given.
	`),
	RunE: runCycle,
}

func init() {
	cycleCmd.Flags().Int("streams", 0, "concurrent worker streams (default from config)")
	cycleCmd.Flags().Int("agents", 0, "agents selected per cycle (default from config)")
	cycleCmd.Flags().Bool("dry-run", false, "plan actions but write nothing to the forge")
	cycleCmd.Flags().Bool("no-push", false, "commit state locally but never push")

	rootCmd.AddCommand(cycleCmd)
}

// applyEngineFlags folds the shared engine flags into the resolved
// config. Explicit flags beat the config file and environment.
func applyEngineFlags(cmd *cobra.Command) {
	if cmd.Flags().Changed("streams") {
		config.Engine.Streams, _ = cmd.Flags().GetInt("streams")
	}
	if cmd.Flags().Changed("agents") {
		config.Engine.Agents, _ = cmd.Flags().GetInt("agents")
	}
}

func runCycle(cmd *cobra.Command, args []string) error {
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	noPush, _ := cmd.Flags().GetBool("no-push")
	applyEngineFlags(cmd)

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
	eng, _, err := buildEngine(ctx, store, rec, dryRun, config.Engine.Streams, config.Engine.Agents)
	if err != nil {
		return err
	}

	report, err := eng.RunCycle(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("cycle %s: %d agents on %d streams, %d results (%d mutations) in %s\n",
		report.CycleID, report.Selected, report.ActiveStreams,
		len(report.Results), report.Mutations(), report.Duration.Round(10*time.Millisecond))
	for _, kind := range []types.ResultKind{
		types.ResultCreated, types.ResultCommented, types.ResultVoted,
		types.ResultPoked, types.ResultSkipped, types.ResultFailed,
	} {
		if n := report.Counts[kind]; n > 0 {
			fmt.Printf("  %-10s %d\n", kind, n)
		}
	}

	if dryRun || len(report.ChangedFiles) == 0 {
		fmt.Println("nothing to commit")
		return nil
	}

	committer, err := buildCommitter(store, noPush)
	if err != nil {
		return err
	}
	message := fmt.Sprintf("cycle %.8s: %d results, %d mutations",
		report.CycleID, len(report.Results), report.Mutations())
	reapply := func() ([]string, error) {
		snap, err := store.LoadSnapshot()
		if err != nil {
			return nil, err
		}
		return rec.Apply(snap, report.Results, report.StartedAt)
	}
	if err := committer.Commit(ctx, report.ChangedFiles, message, reapply); err != nil {
		return err
	}
	fmt.Printf("committed %d files\n", len(report.ChangedFiles))
	return nil
}
