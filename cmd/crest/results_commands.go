package main

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"crest/internal/api"
)

func newResultsCommand(ctx *commandContext) *cobra.Command {
	var owner string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "results",
		Short: "Read the result buffer; reconciled records are consumed",
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner == "" {
				return errors.New("--owner is required")
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var resp api.ResultsResponse
			if err := client.get("/api/results?owner="+url.QueryEscape(owner), &resp); err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, resp)
			}
			printRecordTable(cmd.OutOrStdout(), resp.Records)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Owner context to read")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON output")
	return cmd
}

func newSavedCommand(ctx *commandContext) *cobra.Command {
	var owner string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "saved",
		Short: "List records saved to the persistent collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner == "" {
				return errors.New("--owner is required")
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			var resp api.SavedResponse
			if err := client.get("/api/saved?owner="+url.QueryEscape(owner), &resp); err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, resp)
			}
			printRecordTable(cmd.OutOrStdout(), resp.Records)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Owner context to read")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON output")
	return cmd
}

func newSaveCommand(ctx *commandContext) *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "save <platform-id>",
		Short: "Exempt a record from buffer consumption and clearing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner == "" {
				return errors.New("--owner is required")
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			payload := struct {
				Owner      string `json:"owner"`
				PlatformID string `json:"platformId"`
			}{Owner: owner, PlatformID: args[0]}
			if err := client.post("/api/save", payload, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Record %s saved\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Owner context of the record")
	return cmd
}

func newClearCommand(ctx *commandContext) *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Discard unsaved records from the result buffer",
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner == "" {
				return errors.New("--owner is required")
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			if err := client.post("/api/clear?owner="+url.QueryEscape(owner), nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared unsaved records for %s\n", owner)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Owner context to clear")
	return cmd
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <batch-id>",
		Short: "Cancel a pending rescan batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			payload := struct {
				BatchID string `json:"batchId"`
			}{BatchID: args[0]}
			if err := client.post("/api/batches/cancel", payload, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Batch %s cancelled\n", args[0])
			return nil
		},
	}
	return cmd
}
