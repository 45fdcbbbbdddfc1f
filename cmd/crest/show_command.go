package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"crest/internal/logging"
	"crest/internal/logtail"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show recent daemon log output",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := logging.FilePath(cfg)
			if path == "" {
				return errors.New("file logging is disabled; set paths.log_dir")
			}

			out := cmd.OutOrStdout()
			recent, offset, err := logtail.Last(path, lines)
			if err != nil {
				return err
			}
			for _, line := range recent {
				fmt.Fprintln(out, line)
			}
			if !follow {
				return nil
			}

			for {
				appended, newOffset, err := logtail.Wait(cmd.Context(), path, offset)
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return nil
					}
					return err
				}
				for _, line := range appended {
					fmt.Fprintln(out, line)
				}
				offset = newOffset
			}
		},
	}

	cmd.Flags().IntVar(&lines, "lines", 25, "Number of trailing lines to print")
	cmd.Flags().BoolVar(&follow, "follow", false, "Keep printing lines as they are written")
	return cmd
}
