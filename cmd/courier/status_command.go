package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"courier/internal/ipc"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				status, err := client.Status()
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "State:          %s\n", status.State)
				fmt.Fprintf(out, "Pending:        %d\n", status.Progress.Pending)
				fmt.Fprintf(out, "Delivered:      %d\n", status.Progress.Success)
				fmt.Fprintf(out, "Failed:         %d\n", status.Progress.Failed)
				fmt.Fprintf(out, "Spillover:      %d\n", status.SpilloverCount)
				if status.RateLimitHits > 0 {
					fmt.Fprintf(out, "Rate limits:    %d consecutive\n", status.RateLimitHits)
				}
				if status.ResumeAt != nil {
					fmt.Fprintf(out, "Resumes in:     %s\n", time.Until(*status.ResumeAt).Round(time.Second))
				}
				return nil
			})
		},
	}
}
