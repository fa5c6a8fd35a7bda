package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"arbiter/internal/gateway"
	"arbiter/internal/ipc"
	"arbiter/internal/logging"
	"arbiter/internal/submission"
	"arbiter/internal/textutil"
	"arbiter/internal/track"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var emails []string
	var scan bool
	cmd := &cobra.Command{
		Use:   "submit <track> <team> <archive.zip>",
		Short: "Validate a zip archive and publish it as a new submission",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			id, err := track.Parse(args[0])
			if err != nil {
				return err
			}
			var contacts []string
			for _, raw := range emails {
				contacts = append(contacts, textutil.SplitContacts(raw)...)
			}

			intake := gateway.NewIntake(cfg, submission.NewStore(cfg.Paths.SubmissionsDir), logging.NewNop())
			inst, err := intake.Accept(cmd.Context(), id, args[1], contacts, args[2])
			var verr *gateway.ValidationError
			if errors.As(err, &verr) {
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, "Submission rejected:")
				for _, problem := range verr.Problems {
					fmt.Fprintf(out, "  - %s\n", problem)
				}
				return errors.New("submission rejected")
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Published %s\n", inst.Dir)

			if !scan {
				return nil
			}
			client, err := ipc.Dial(ctx.socketPath())
			if err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Daemon not reachable; the next poll will pick it up")
				return nil
			}
			defer client.Close()
			if _, err := client.Scan(string(id)); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Scan requested")
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&emails, "email", "e", nil, "Contact address for score mails (repeatable)")
	cmd.Flags().BoolVar(&scan, "scan", true, "Ask a running daemon to scan right away")
	return cmd
}
