package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"courier/internal/api"
	"courier/internal/ipc"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the upload queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newQueueListCommand(ctx))
	cmd.AddCommand(newQueueProgressCommand(ctx))
	cmd.AddCommand(newQueueRetryCommand(ctx))
	cmd.AddCommand(newQueueClearCommand(ctx))
	cmd.AddCommand(newQueueResumeCommand(ctx))
	return cmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queued items in delivery order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				items, err := client.QueueList()
				if err != nil {
					return err
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderQueueTable(items))
				return nil
			})
		},
	}
}

func renderQueueTable(items []api.QueueItemView) string {
	headers := []string{"ID", "Label", "Status", "Retries", "Size", "Error"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft}

	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			shortID(item.ID),
			item.Label,
			item.Status,
			formatCount(item.RetryCount),
			fmt.Sprintf("%d B", item.PayloadBytes),
			item.ErrorMessage,
		})
	}
	return renderTable(headers, rows, aligns)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func newQueueProgressCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "progress",
		Short: "Show the delivery tally",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				progress, err := client.QueueProgress()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d delivered, %d failed, %d pending (%d total)\n",
					progress.Success, progress.Failed, progress.Pending, progress.Total)
				return nil
			})
		},
	}
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Reset permanently failed items for another round of attempts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				count, err := client.QueueRetry()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset %d failed item(s)\n", count)
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every queued item and all durable spillover records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear without --yes")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				count, err := client.QueueClear()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d item(s)\n", count)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the destructive clear")
	return cmd
}

func newQueueResumeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Lift a rate-limit pause or halt immediately",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resumed, err := client.QueueResume()
				if err != nil {
					return err
				}
				if resumed {
					fmt.Fprintln(cmd.OutOrStdout(), "Delivery resumed")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "Delivery was not paused")
				}
				return nil
			})
		},
	}
}
