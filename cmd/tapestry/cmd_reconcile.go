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
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Repair state drift against the forge",
	Long: heredoc.Doc(`
		List recent discussions from the forge and reconcile them into the
		local state files: backfill posts missing from the posted log,
		refresh vote and comment counts, and correct the derived stats.
		Local-only entries are left alone; the forge is the source of
		truth for what exists, the log for why.
	`),
	RunE: runReconcile,
}

func init() {
	reconcileCmd.Flags().Int("limit", 500, "maximum discussions to read")
	reconcileCmd.Flags().Bool("no-push", false, "commit state locally but never push")
	reconcileCmd.Flags().Bool("no-commit", false, "write state files but skip the commit")

	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	noPush, _ := cmd.Flags().GetBool("no-push")
	noCommit, _ := cmd.Flags().GetBool("no-commit")

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
	client, err := buildForge(ctx)
	if err != nil {
		return err
	}

	snap, err := store.LoadSnapshot()
	if err != nil {
		return exitWith(exitConfig, err)
	}

	remote, err := client.ListRecentDiscussions(ctx, time.Time{}, limit)
	if err != nil {
		return exitWith(exitForgeUnreachable, err)
	}

	changed, err := rec.ReconcileWithRemote(snap, remote, time.Now().UTC())
	if err != nil {
		return err
	}
	if len(changed) == 0 {
		fmt.Printf("reconciled %d discussions, no drift\n", len(remote))
		return nil
	}
	fmt.Printf("reconciled %d discussions, %d files changed\n", len(remote), len(changed))

	if noCommit {
		return nil
	}
	committer, err := buildCommitter(store, noPush)
	if err != nil {
		return err
	}
	message := fmt.Sprintf("reconcile: %d discussions, %d files", len(remote), len(changed))
	return committer.Commit(ctx, changed, message, nil)
}
