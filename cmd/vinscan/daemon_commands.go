package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"vinscan/internal/api"
	"vinscan/internal/daemonctl"
	"vinscan/internal/daemonrun"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the vinscan daemon",
	}

	var development bool
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    ctx.logLevel(),
				Development: development,
			})
		},
	}
	runCmd.Flags().BoolVar(&development, "dev", false, "Use development logging output")

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			result, err := daemonctl.EnsureStarted(cmd.Context(), client, exe, daemonctl.LaunchOptions{
				ConfigPath: ctx.configPath,
				LogLevel:   ctx.flagValue(ctx.logLevelFlag),
			}, 10*time.Second)
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintf(stdout, "Daemon started (pid %d)\n", result.PID)
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintf(stdout, "Daemon already running (pid %d)\n", result.PID)
			}
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon process",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(cmd.Context(), client, ctx.configValue().DaemonPIDPath(), 5*time.Second)
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
		Short: "Show daemon, session and dependency status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				if statusJSON {
					return writeJSON(cmd, api.DaemonStatus{})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderStatusLine("Daemon", statusWarn, "Not running", interactive(cmd.OutOrStdout())))
				return nil
			}
			if err != nil {
				return err
			}
			if statusJSON {
				return writeJSON(cmd, status)
			}
			renderDaemonStatus(cmd.OutOrStdout(), client.BaseURL(), status)
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Emit JSON")

	cmd.AddCommand(runCmd, startCmd, stopCmd, statusCmd)
	return cmd
}

func renderDaemonStatus(out io.Writer, baseURL string, status *api.DaemonStatus) {
	colorize := interactive(out)
	printLines := func(lines []string) {
		for _, line := range lines {
			fmt.Fprintln(out, line)
		}
	}

	printLines(renderSectionHeader("Daemon", colorize))
	fmt.Fprintln(out, renderStatusLine("Daemon", statusOK, "Running (pid "+strconv.Itoa(status.PID)+")", colorize))
	fmt.Fprintln(out, renderStatusLine("API", statusInfo, baseURL, colorize))
	watchKind, watchText := statusOK, "Watching for camera hotplug"
	if !status.Watching {
		watchKind, watchText = statusWarn, "Hotplug watcher inactive"
	}
	fmt.Fprintln(out, renderStatusLine("Device watcher", watchKind, watchText, colorize))
	if status.HistoryDBPath != "" {
		fmt.Fprintln(out, renderStatusLine("History", statusInfo, status.HistoryDBPath, colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("History", statusWarn, "Disabled", colorize))
	}
	fmt.Fprintln(out)

	printLines(renderSectionHeader("Session", colorize))
	if s := status.Session; s != nil {
		fmt.Fprintln(out, renderStatusLine("Session", statusOK, fmt.Sprintf("%s on %s (%s)", shortID(s.ID), s.DeviceID, s.State), colorize))
		fmt.Fprintln(out, renderStatusLine("Tasks", statusInfo,
			fmt.Sprintf("%d accepted, %d delivered, %d in flight, %d found", s.Accepted, s.Delivered, s.InFlight, s.Found), colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("Session", statusInfo, "Idle", colorize))
	}
	if r := status.LastResult; r != nil {
		text := "No barcode"
		kind := statusWarn
		if r.Found {
			text = r.Barcode
			if r.VIN != nil && r.VIN.IsValid {
				kind = statusOK
				text += " (valid VIN)"
			} else {
				text += " (invalid VIN)"
			}
		}
		fmt.Fprintln(out, renderStatusLine("Last result", kind, text, colorize))
	}
	fmt.Fprintln(out)

	printLines(renderSectionHeader("Dependencies", colorize))
	for _, dep := range status.Dependencies {
		switch {
		case dep.Available:
			fmt.Fprintln(out, renderStatusLine(dep.Name, statusOK, "Ready (command: "+dep.Command+")", colorize))
		case dep.Optional:
			fmt.Fprintln(out, renderStatusLine(dep.Name, statusWarn, "Optional, not found: "+dep.Detail, colorize))
		default:
			fmt.Fprintln(out, renderStatusLine(dep.Name, statusError, "Missing: "+dep.Detail, colorize))
		}
	}
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return exe, nil
}
