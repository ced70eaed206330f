package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"genflow/internal/api"
	"genflow/internal/notifications"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		lines  int
		follow bool
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				out := cmd.OutOrStdout()
				resp, err := client.Logs(cmd.Context(), -1, lines, false)
				if err != nil {
					return err
				}
				for _, line := range resp.Lines {
					fmt.Fprintln(out, line)
				}
				offset := resp.Offset
				for follow {
					resp, err := client.Logs(cmd.Context(), offset, 0, true)
					if err != nil {
						if cmd.Context().Err() != nil {
							return nil
						}
						return err
					}
					for _, line := range resp.Lines {
						fmt.Fprintln(out, line)
					}
					offset = resp.Offset
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines as the daemon writes them")
	return cmd
}

func newNotifyTestCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "notify-test",
		Short: "Send a test notification to the configured ntfy topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			notifier := notifications.New(cfg.Notifications, nil)
			if notifier == nil {
				return fmt.Errorf("notifications.ntfy_topic is not set")
			}
			if err := notifier.Test(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Test notification sent to %s\n", notifier.Endpoint())
			return nil
		},
	}
}
