package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"genflow/internal/api"
	"genflow/internal/daemonctl"
	"genflow/internal/daemonrun"
	"genflow/internal/preflight"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	var development bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the genflow daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    logLevel,
				Development: development,
				Version:     version,
			})
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level for this run")
	cmd.Flags().BoolVar(&development, "dev", false, "Include source locations in log output")
	return cmd
}

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	var startLogLevel string
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the genflow daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable: %w", err)
			}

			result, err := daemonctl.EnsureStarted(cmd.Context(), ctx.client(), exe, daemonctl.LaunchOptions{
				ConfigPath: ctx.configPath(),
				LogLevel:   startLogLevel,
			}, 10*time.Second)
			if err != nil {
				return err
			}

			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintf(stdout, "Daemon started (pid %d) on %s\n", result.PID, ctx.apiBind())
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintf(stdout, "Daemon already running (pid %d)\n", result.PID)
			}
			return nil
		},
	}
	startCmd.Flags().StringVar(&startLogLevel, "log-level", "", "Override logging.level for the launched daemon")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the genflow daemon (cancels in-flight generations)",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			pidPath := ""
			if cfg := ctx.configValue(); cfg != nil {
				pidPath = filepath.Join(cfg.Paths.DataDir, daemonrun.PIDFileName)
			}
			result, err := daemonctl.Stop(cmd.Context(), ctx.client(), pidPath, 25*time.Second)
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
	var skipChecks bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and engine status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				status, err := client.Status(cmd.Context())
				if err != nil {
					return err
				}
				if statusJSON {
					return writeJSON(cmd, status)
				}
				printDaemonStatus(cmd, status)
				if cfg := ctx.configValue(); cfg != nil && !skipChecks {
					printReadiness(cmd, preflight.RunAll(cmd.Context(), cfg))
				}
				return nil
			})
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
	statusCmd.Flags().BoolVar(&skipChecks, "skip-checks", false, "Do not run readiness checks against the local config")

	return []*cobra.Command{startCmd, stopCmd, statusCmd}
}

func printDaemonStatus(cmd *cobra.Command, status api.DaemonStatus) {
	stdout := cmd.OutOrStdout()
	colorize := shouldColorize(stdout)

	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(stdout, line)
	}
	fmt.Fprintln(stdout, renderKeyValue("Running", yesNo(status.Running)))
	fmt.Fprintln(stdout, renderKeyValue("PID", strconv.Itoa(status.PID)))
	if status.StartedAt != "" {
		fmt.Fprintln(stdout, renderKeyValue("Started", formatDisplayTime(status.StartedAt)))
	}
	if status.HistoryDBPath != "" {
		fmt.Fprintln(stdout, renderKeyValue("History DB", status.HistoryDBPath))
	}
	fmt.Fprintln(stdout, renderKeyValue("Lock file", status.LockFilePath))
	fmt.Fprintln(stdout, renderKeyValue("Redis publisher", yesNo(status.RedisPublisher)))
	fmt.Fprintln(stdout, renderKeyValue("Notifications", yesNo(status.Notifications)))
	if status.LogPath != "" {
		fmt.Fprintln(stdout, renderKeyValue("Log file", status.LogPath))
	}
	fmt.Fprintln(stdout)

	eng := status.Engine
	for _, line := range renderSectionHeader("Engine", colorize) {
		fmt.Fprintln(stdout, line)
	}
	fmt.Fprintln(stdout, renderKeyValue("Active", fmt.Sprintf("%d / %d", eng.Active, eng.ConcurrencyLimit)))
	fmt.Fprintln(stdout, renderKeyValue("Queued", strconv.Itoa(eng.Queued)))
	fmt.Fprintln(stdout, renderKeyValue("History", fmt.Sprintf("%d / %d", eng.History, eng.HistoryLimit)))
	timeout := "none"
	if eng.JobTimeoutSeconds > 0 {
		timeout = (time.Duration(eng.JobTimeoutSeconds) * time.Second).String()
	}
	fmt.Fprintln(stdout, renderKeyValue("Job timeout", timeout))
	providers := "none"
	if len(eng.Providers) > 0 {
		providers = strings.Join(eng.Providers, ", ")
	}
	fmt.Fprintln(stdout, renderKeyValue("Providers", providers))
	if eng.Closed {
		fmt.Fprintln(stdout, renderKeyValue("State", "shutting down"))
	}
}

func printReadiness(cmd *cobra.Command, results []preflight.Result) {
	if len(results) == 0 {
		return
	}
	stdout := cmd.OutOrStdout()
	colorize := shouldColorize(stdout)

	fmt.Fprintln(stdout)
	for _, line := range renderSectionHeader("Readiness", colorize) {
		fmt.Fprintln(stdout, line)
	}
	for _, r := range results {
		state := "ok"
		color := ansiGreen
		if !r.Passed {
			state = "FAIL"
			color = ansiRed
		}
		if colorize {
			state = color + state + ansiReset
		}
		fmt.Fprintln(stdout, renderKeyValue(r.Name, fmt.Sprintf("%s %s", state, r.Detail)))
	}
}
