package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"arbiter/internal/daemon"
	"arbiter/internal/logging"
	"arbiter/internal/submission"
	"arbiter/internal/track"
)

// scoreOutput is printed by `arbiter score`.
type scoreOutput struct {
	Track  string         `json:"track"`
	Folder string         `json:"folder"`
	Scores map[string]any `json:"scores"`
}

func newScoreCommand(ctx *commandContext) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "score <track> <folder>",
		Short: "Score a submission folder without touching metadata or the leaderboard",
		Long: "Score a submission folder offline. The folder may be an instance " +
			"directory (containing images/) or the images directory itself.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			id, err := track.Parse(args[0])
			if err != nil {
				return err
			}
			inst, err := submission.NewStore(cfg.Paths.SubmissionsDir).InstanceAt(args[1])
			if err != nil {
				return fmt.Errorf("resolve folder: %w", err)
			}
			imagesDir := inst.Dir
			if info, err := os.Stat(inst.ImagesPath()); err == nil && info.IsDir() {
				imagesDir = inst.ImagesPath()
			}

			logger := logging.NewNop()
			if verbose {
				logger, err = logging.New(logging.Options{
					Level:       "debug",
					Format:      cfg.Logging.Format,
					OutputPaths: []string{"stderr"},
				})
				if err != nil {
					return fmt.Errorf("init logger: %w", err)
				}
			}

			metrics := daemon.NewMetrics(cfg, logger)
			defer func() {
				if metrics.Network != nil {
					_ = metrics.Network.Close()
				}
			}()
			scorers, err := metrics.Scorers(cfg, logger)
			if err != nil {
				return err
			}
			scorer, ok := scorers[id]
			if !ok {
				return fmt.Errorf("%w: %s is not enabled", track.ErrUnknown, id)
			}
			result, err := scorer.Score(cmd.Context(), imagesDir)
			if err != nil {
				return fmt.Errorf("score %s: %w", filepath.Base(inst.Dir), err)
			}
			return writeJSON(cmd, scoreOutput{
				Track:  string(id),
				Folder: imagesDir,
				Scores: result.Scores(),
			})
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log scoring progress to stderr")
	return cmd
}
