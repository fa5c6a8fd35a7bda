package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"arbiter/internal/preflight"
	"arbiter/internal/staging"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check directories, ground truth and metric helpers without a daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			failures := 0

			results := preflight.RunAll(cmd.Context(), cfg)
			rows := make([][]string, 0, len(results))
			for _, r := range results {
				if !r.Passed {
					failures++
				}
				rows = append(rows, []string{r.Name, readyLabel(r.Passed, colorize), r.Detail})
			}
			fmt.Fprintln(out, renderTable([]string{"Check", "State", "Detail"}, rows, nil))

			statuses := preflight.CheckSystemDeps(cmd.Context(), cfg)
			rows = rows[:0]
			for _, s := range statuses {
				state := readyLabel(s.Available, colorize)
				if !s.Available && s.Optional {
					state = warnText("optional", colorize)
				} else if !s.Available {
					failures++
				}
				detail := s.Detail
				if detail == "" {
					detail = s.Path
				}
				rows = append(rows, []string{s.Name, state, s.Command, detail})
			}
			fmt.Fprintln(out, renderTable([]string{"Helper", "State", "Command", "Detail"}, rows, nil))

			if spool, err := staging.List(cfg.SpoolDir()); err == nil && len(spool) > 0 {
				var size int64
				oldest := time.Now()
				for _, e := range spool {
					size += e.Size
					if e.ModTime.Before(oldest) {
						oldest = e.ModTime
					}
				}
				fmt.Fprintf(out, "Upload spool: %d entries, %d bytes, oldest %s\n", len(spool), size, oldest.Format(time.RFC3339))
			}

			if failures > 0 {
				return fmt.Errorf("%d checks failed", failures)
			}
			fmt.Fprintln(out, "All checks passed")
			return nil
		},
	}
}
