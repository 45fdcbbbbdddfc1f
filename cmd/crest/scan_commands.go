package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"crest/internal/api"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	var owner string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "scan <keyword>...",
		Short: "Run a quick scan and rank hits without persisting them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var resp api.QuickScanResponse
			req := api.SearchRequest{Owner: owner, Keywords: args}
			if err := client.post("/api/scan/quick", req, &resp); err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, resp)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, keywordHeading("Quick scan", args))
			if len(resp.Hits) == 0 {
				fmt.Fprintln(out, "No hits")
				return nil
			}
			colorize := shouldColorize(out)
			rows := make([][]string, 0, len(resp.Hits))
			for _, hit := range resp.Hits {
				rows = append(rows, []string{
					hit.PlatformID,
					truncate(hit.Description, 50),
					hit.AuthorUsername,
					formatCount(hit.Views),
					formatScore(hit.Score, colorize),
				})
			}
			headers := []string{"Video", "Description", "Author", "Views", "Score"}
			aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight}
			fmt.Fprintln(out, renderTable(headers, rows, aligns))
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Owner context for the scan")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON output")
	return cmd
}

func newDeepScanCommand(ctx *commandContext) *cobra.Command {
	var owner string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "deep-scan <keyword>...",
		Short: "Run a deep scan, persist records, and schedule a rescan",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner == "" {
				return errors.New("--owner is required for deep scans")
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var resp api.DeepScanResponse
			req := api.SearchRequest{Owner: owner, Keywords: args}
			if err := client.post("/api/scan/deep", req, &resp); err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, resp)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, keywordHeading("Deep scan", args))
			printRecordTable(out, resp.Records)
			if len(resp.Clusters) > 0 {
				rows := make([][]string, 0, len(resp.Clusters))
				colorize := shouldColorize(out)
				for _, cluster := range resp.Clusters {
					rows = append(rows, []string{
						strconv.Itoa(cluster.ClusterID),
						strconv.Itoa(cluster.Size),
						cluster.TopPlatformID,
						formatScore(cluster.TopScore, colorize),
					})
				}
				headers := []string{"Cluster", "Size", "Top Video", "Top Score"}
				aligns := []columnAlignment{alignRight, alignRight, alignLeft, alignRight}
				fmt.Fprintln(out, renderTable(headers, rows, aligns))
			}
			if resp.BatchID != "" {
				fmt.Fprintf(out, "Rescan batch %s scheduled\n", resp.BatchID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Owner context for the scan")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON output")
	return cmd
}
