package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"talkreel/internal/daemon"
	"talkreel/internal/logging"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			d, err := daemon.New(cfg, logging.NewNop())
			if err != nil {
				return err
			}
			defer d.Close()

			sent, err := d.TestNotification(cmd.Context())
			if err != nil {
				return fmt.Errorf("send test notification: %w", err)
			}
			if !sent {
				fmt.Fprintln(cmd.OutOrStdout(), "Notifications disabled (set notifications.ntfy_topic)")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Test notification sent")
			return nil
		},
	}
}
