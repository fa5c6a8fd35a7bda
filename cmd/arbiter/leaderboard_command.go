package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"arbiter/internal/ipc"
	"arbiter/internal/track"
)

func newLeaderboardCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "leaderboard <track>",
		Aliases: []string{"lb"},
		Short:   "Show the ranked leaderboard of a track",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := track.Parse(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Leaderboard(string(id), limit)
				if err != nil {
					return fmt.Errorf("leaderboard: %w", err)
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if len(resp.Rows) == 0 {
					fmt.Fprintf(out, "No teams on the %s leaderboard yet\n", resp.Label)
					return nil
				}
				fmt.Fprintf(out, "%s (%s, %s is better)\n", resp.Label, resp.Primary, resp.Direction)
				fmt.Fprint(out, renderLeaderboard(resp))
				fmt.Fprintln(out)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Number of rows to show (0 shows every team)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func renderLeaderboard(resp *ipc.LeaderboardResponse) string {
	headers := append([]string{"#", "Team"}, resp.Columns...)
	aligns := make([]columnAlignment, len(headers))
	aligns[0] = alignRight
	for i := 2; i < len(aligns); i++ {
		aligns[i] = alignRight
	}
	rows := make([][]string, 0, len(resp.Rows))
	for _, row := range resp.Rows {
		line := []string{strconv.Itoa(row.Rank), row.Team}
		for _, col := range resp.Columns {
			if !row.Scored {
				line = append(line, "-")
				continue
			}
			line = append(line, formatScore(row.Values[col]))
		}
		rows = append(rows, line)
	}
	return renderTable(headers, rows, aligns)
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
