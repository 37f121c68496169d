package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"courier/internal/config"
	"courier/internal/ipc"
	"courier/internal/queue"
)

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	var (
		label     string
		phase     string
		sequence  int
		sessionID string
		device    string
	)

	cmd := &cobra.Command{
		Use:   "enqueue <file>",
		Short: "Queue a payload file for upload ('-' reads stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(args[0])
			if err != nil {
				return err
			}
			if label == "" && args[0] != "-" {
				label = args[0]
			}

			return ctx.withClient(func(client *ipc.Client) error {
				item, err := client.Enqueue(payload, queue.Metadata{
					Label:      label,
					Phase:      phase,
					Sequence:   sequence,
					SessionID:  sessionID,
					Device:     device,
					CapturedAt: time.Now().UTC(),
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued %s (%d bytes) as %s\n", item.Label, item.PayloadBytes, item.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&label, "label", "", "Human-readable label (defaults to the file name)")
	cmd.Flags().StringVar(&phase, "phase", "", "Capture phase the payload belongs to")
	cmd.Flags().IntVar(&sequence, "sequence", 0, "Sequence number within the session")
	cmd.Flags().StringVar(&sessionID, "session", "", "Session identifier")
	cmd.Flags().StringVar(&device, "device", "", "Originating device name")
	return cmd
}

func readPayload(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	expanded, err := config.ExpandPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return data, nil
}
