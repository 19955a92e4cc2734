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
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/teradata-labs/tapestry/pkg/pulse"
	"github.com/teradata-labs/tapestry/pkg/state"
)

var trendingCmd = &cobra.Command{
	Use:   "trending",
	Short: "Recompute and show the trending ranking",
	RunE:  runTrending,
}

func init() {
	trendingCmd.Flags().Int("limit", 0, "entries to rank (0 = default)")
	trendingCmd.Flags().Bool("save", false, "write the ranking back to trending.json")

	rootCmd.AddCommand(trendingCmd)
}

func runTrending(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	save, _ := cmd.Flags().GetBool("save")

	store, err := buildStore()
	if err != nil {
		return err
	}
	snap, err := store.LoadSnapshot()
	if err != nil {
		return exitWith(exitConfig, err)
	}

	now := time.Now().UTC()
	entries := pulse.Trending(snap, now, limit)
	if len(entries) == 0 {
		fmt.Println("no posts with engagement yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tSCORE\tPOST\tCHANNEL\tAUTHOR\tTITLE")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t#%d\t%s\t%s\t%s\n",
			e.Rank, humanize.FtoaWithDigits(e.Score, 2), e.Number, e.Channel, e.Author, e.Title)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if !save {
		return nil
	}
	snap.Trending.Entries = entries
	snap.Touch(state.FileTrending, now)
	if err := store.SaveFiles(snap, []string{state.FileTrending}); err != nil {
		return err
	}
	fmt.Printf("saved %d entries to %s\n", len(entries), store.Path(state.FileTrending))
	return nil
}
