package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"arbiter/internal/daemonctl"
	"arbiter/internal/ipc"
	"arbiter/internal/track"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	var launch launchFlags
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the arbiter daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			result, err := daemonctl.EnsureStarted(ctx.socketPath(), exe, launch.options(ctx), startTimeout)
			if err != nil {
				return err
			}
			if result.AlreadyRunning {
				fmt.Fprintln(cmd.OutOrStdout(), "Daemon already running")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Daemon started (pid %d)\n", result.PID)
			return nil
		},
	}
	launch.register(startCmd)

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the arbiter daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return stopDaemon(cmd, ctx)
		},
	}

	var relaunch launchFlags
	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the arbiter daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := stopDaemon(cmd, ctx); err != nil {
				return err
			}
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			result, err := daemonctl.EnsureStarted(ctx.socketPath(), exe, relaunch.options(ctx), startTimeout)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Daemon restarted (pid %d)\n", result.PID)
			return nil
		},
	}
	relaunch.register(restartCmd)

	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, lane and dependency status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Status()
				if err != nil {
					return fmt.Errorf("status: %w", err)
				}
				if statusJSON {
					return writeJSON(cmd, resp)
				}
				renderStatus(cmd, resp)
				return nil
			})
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")

	scanCmd := &cobra.Command{
		Use:   "scan [track]",
		Short: "Ask the daemon to scan submissions now",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var name string
			if len(args) == 1 {
				id, err := track.Parse(args[0])
				if err != nil {
					return err
				}
				name = string(id)
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Scan(name)
				if err != nil {
					return fmt.Errorf("scan: %w", err)
				}
				out := cmd.OutOrStdout()
				if resp.Accepted {
					fmt.Fprintf(out, "Scan requested for %s\n", strings.Join(resp.Tracks, ", "))
				} else {
					fmt.Fprintln(out, "Scan already pending")
				}
				return nil
			})
		},
	}

	return []*cobra.Command{startCmd, stopCmd, restartCmd, statusCmd, scanCmd}
}

const (
	startTimeout    = 15 * time.Second
	stopGracePeriod = 15 * time.Second
)

type launchFlags struct {
	logLevel  string
	noGateway bool
}

func (f *launchFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "Override the configured log level")
	cmd.Flags().BoolVar(&f.noGateway, "no-gateway", false, "Do not start the upload gateway")
}

func (f *launchFlags) options(ctx *commandContext) daemonctl.LaunchOptions {
	return daemonctl.LaunchOptions{
		ConfigPath: ctx.configPath(),
		LogLevel:   f.logLevel,
		NoGateway:  f.noGateway,
	}
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func stopDaemon(cmd *cobra.Command, ctx *commandContext) error {
	stdout := cmd.OutOrStdout()
	cfg, _ := ctx.ensureConfig()
	result, err := daemonctl.StopAndTerminate(ctx.socketPath(), cfg, stopGracePeriod)
	if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		fmt.Fprintln(stdout, "Daemon is not running")
		return nil
	}
	if err != nil {
		return err
	}
	if result.ForcedKill {
		fmt.Fprintf(stdout, "Daemon ignored the stop request; killed pid %d\n", result.PID)
		return nil
	}
	fmt.Fprintln(stdout, "Daemon stopped")
	return nil
}

func renderStatus(cmd *cobra.Command, resp *ipc.StatusResponse) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	fmt.Fprintf(out, "Running:       %s\n", yesNo(resp.Running))
	if resp.PID > 0 {
		fmt.Fprintf(out, "PID:           %d\n", resp.PID)
	}
	fmt.Fprintf(out, "Watching:      %s\n", yesNo(resp.Watching))
	fmt.Fprintf(out, "Poll interval: %s\n", resp.PollInterval)
	fmt.Fprintf(out, "Database:      %s\n", resp.DatabasePath)
	if resp.GatewayAddr != "" {
		fmt.Fprintf(out, "Gateway:       http://%s\n", resp.GatewayAddr)
	}
	if resp.LastError != "" {
		fmt.Fprintf(out, "Last error:    %s\n", warnText(resp.LastError, colorize))
	}
	fmt.Fprintln(out)

	rows := make([][]string, 0, len(resp.Lanes))
	for _, lane := range resp.Lanes {
		rows = append(rows, []string{
			lane.Track,
			readyLabel(lane.Health.Ready, colorize),
			formatTick(lane.LastTick),
			strconv.Itoa(lane.Ticks),
			strconv.Itoa(lane.Scored),
			strconv.Itoa(lane.Failed),
			strconv.Itoa(lane.Pending),
			warnText(firstNonEmpty(lane.LastError, lane.Health.Detail), colorize),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Track", "Truth", "Last tick", "Ticks", "Scored", "Failed", "Pending", "Note"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft},
	))

	if len(resp.Dependencies) == 0 {
		return
	}
	fmt.Fprintln(out)
	for _, dep := range resp.Dependencies {
		line := fmt.Sprintf("  %-10s %s", dep.Name+":", readyLabel(dep.Ready, colorize))
		if dep.Detail != "" {
			line += " (" + dep.Detail + ")"
		}
		fmt.Fprintln(out, line)
	}
}

func formatTick(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
