package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"crest/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and store counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var resp api.StatusResponse
			if err := client.get("/api/status", &resp); err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, resp)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Daemon:      running (pid %d)\n", resp.PID)
			fmt.Fprintf(out, "Trend DB:    %s\n", resp.TrendDBPath)
			fmt.Fprintf(out, "Lock file:   %s\n", resp.LockFilePath)

			headers := []string{"Records", "Count"}
			rows := [][]string{
				{"total", strconv.Itoa(resp.Records.Total)},
				{"saved", strconv.Itoa(resp.Records.Saved)},
				{"pending rescan", strconv.Itoa(resp.Records.Pending)},
				{"reconciled", strconv.Itoa(resp.Records.Reconciled)},
			}
			fmt.Fprintln(out, renderTable(headers, rows, []columnAlignment{alignLeft, alignRight}))

			if len(resp.Batches) > 0 {
				states := make([]string, 0, len(resp.Batches))
				for state := range resp.Batches {
					states = append(states, state)
				}
				sort.Strings(states)
				rows = rows[:0]
				for _, state := range states {
					rows = append(rows, []string{state, strconv.Itoa(resp.Batches[state])})
				}
				fmt.Fprintln(out, renderTable([]string{"Batches", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON output")
	return cmd
}
