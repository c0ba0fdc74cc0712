package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"atticqueue/internal/daemonctl"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the atticqueue daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.EnsureStarted(ctx.socketPath(), exe, daemonLaunchOptions(ctx), 10*time.Second)
			if err != nil {
				return err
			}
			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintln(stdout, "Daemon started")
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			}
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the atticqueue daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(ctx.socketPath(), 10*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill {
				fmt.Fprintf(stdout, "Daemon did not exit in time; killed pid %d\n", result.PID)
				return nil
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, dependency and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			snapshot, err := daemonctl.BuildStatusSnapshot(cmd.Context(), ctx.socketPath(), cfg)
			if err != nil {
				return err
			}
			if statusJSON {
				return writeJSON(cmd, snapshot)
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			for _, line := range renderSectionHeader("Daemon", colorize) {
				fmt.Fprintln(stdout, line)
			}
			if snapshot.Running {
				status := snapshot.Daemon
				fmt.Fprintln(stdout, renderStatusLine("Daemon", statusOK, "Running (pid "+strconv.Itoa(status.PID)+")", colorize))
				fmt.Fprintln(stdout, renderStatusLine("Started", statusInfo, status.StartedAt, colorize))
				fmt.Fprintln(stdout, renderStatusLine("Cache", statusInfo, fmt.Sprintf("%s at %s", status.Cache, status.Endpoint), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Store", statusInfo, fmt.Sprintf("%s (%s)", status.StorePath, status.StoreBackend), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Queue pipe", statusInfo, status.QueuePipe, colorize))
				dispatcher := status.Dispatcher
				kind := statusOK
				detail := fmt.Sprintf("%d/%d uploads in flight", dispatcher.Inflight, dispatcher.MaxConcurrent)
				if dispatcher.LastError != "" {
					kind = statusWarn
					detail += "; last scan failed: " + dispatcher.LastError
				}
				fmt.Fprintln(stdout, renderStatusLine("Dispatcher", kind, detail, colorize))
				recovered := status.Recovery
				fmt.Fprintln(stdout, renderStatusLine("Boot recovery", statusInfo,
					fmt.Sprintf("%d scanned, %d removed, %d requeued, %d repaired", recovered.Scanned, recovered.Removed, recovered.Requeued, recovered.Repaired),
					colorize))
			} else {
				fmt.Fprintln(stdout, renderStatusLine("Daemon", statusWarn, "Not running", colorize))
				for _, check := range snapshot.Checks {
					fmt.Fprintln(stdout, renderStatusLine(check.Name, statusKindFromBool(check.Passed), check.Detail, colorize))
				}
			}
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Dependencies", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, line := range dependencyLines(snapshot.Dependencies, colorize) {
				fmt.Fprintln(stdout, line)
			}
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Queue Status", colorize) {
				fmt.Fprintln(stdout, line)
			}
			if snapshot.QueueError != "" {
				fmt.Fprintln(stdout, renderStatusLine("Work store", statusError, snapshot.QueueError, colorize))
				return nil
			}
			rows := buildQueueStatsRows(snapshot.Queue)
			if len(rows) == 0 {
				fmt.Fprintln(stdout, "Queue is empty")
				return nil
			}
			fmt.Fprint(stdout, renderTable([]string{"State", "Count"}, rows, []columnAlignment{alignLeft, alignRight}, colorize))
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the status snapshot as JSON")

	return []*cobra.Command{startCmd, stopCmd, statusCmd}
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func daemonLaunchOptions(ctx *commandContext) daemonctl.LaunchOptions {
	return daemonctl.LaunchOptions{
		SocketPath: ctx.socketOverride(),
		ConfigPath: ctx.configPath(),
	}
}
