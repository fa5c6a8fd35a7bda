package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"arbiter/internal/ipc"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test message through the daemon's ntfy and mail notifiers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TestNotification()
				if err != nil {
					return fmt.Errorf("test notification: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), notifyOutcome(resp))
				return nil
			})
		},
	}
}

// notifyOutcome prefers the daemon's explanation, which names the notifier
// that is missing when nothing was sent.
func notifyOutcome(resp *ipc.TestNotificationResponse) string {
	switch {
	case resp == nil:
		return "Notification not sent"
	case resp.Message != "":
		return resp.Message
	case resp.Sent:
		return "Test notification sent"
	}
	return "Notification not sent"
}
