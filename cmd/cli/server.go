// Package cli provides the command-line interface of livescan.
// This file implements the API server command with PID file management.
package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/livescan/internal/api"
	"github.com/anstrom/livescan/internal/logging"
)

// Timeout constants.
const (
	serverShutdownTimeout = 30 * time.Second
	serverStopTimeout     = 10 * time.Second
	serverStopPoll        = 100 * time.Millisecond
	livenessTimeout       = 2 * time.Second
)

// File permission constants.
const (
	dirPermissions  = 0750
	filePermissions = 0600
)

const defaultPIDFile = "livescan.pid"

var serverPIDFile string

// serverCmd represents the server command and its subcommands.
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "API server lifecycle management",
	Long: `Manage the livescan API server.

The server exposes the scan controls, the live hosts and a WebSocket event
stream over HTTP. Scheduled scans run while the server is up.`,
	Example: `  livescan server start
  livescan server start --host 0.0.0.0 --port 8080
  livescan server status
  livescan server stop`,
}

// serverStartCmd represents the server start command.
var serverStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the API server",
	Long: `Start the livescan API server in the foreground. SIGINT or SIGTERM
stops any running scan and shuts the server down gracefully.`,
	RunE: runServerStart,
}

// serverStopCmd represents the server stop command.
var serverStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the API server",
	Long:  "Stop the running livescan API server identified by its PID file.",
	RunE:  runServerStop,
}

// serverStatusCmd represents the server status command.
var serverStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long:  "Display whether the livescan API server is running and answering.",
	RunE:  runServerStatus,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.AddCommand(serverStartCmd)
	serverCmd.AddCommand(serverStopCmd)
	serverCmd.AddCommand(serverStatusCmd)

	serverCmd.PersistentFlags().StringVar(&serverPIDFile, "pid-file", defaultPIDFile, "PID file path")
	serverCmd.PersistentFlags().String("host", "", "Override API listen address")
	serverCmd.PersistentFlags().Int("port", 0, "Override API port")

	err := bindFlags(viper.GetViper(), serverCmd.PersistentFlags(), map[string]string{
		"host": "api.listen_addr",
		"port": "api.port",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

func runServerStart(cmd *cobra.Command, _ []string) error {
	if pid, running := pidFileExists(serverPIDFile); running {
		return fmt.Errorf("server is already running (PID %d)", pid)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	logger := logging.Default()
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer shutdownCancel()
		rt.Close(shutdownCtx)
	}()

	if err := rt.startScheduler(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	apiServer, err := api.New(cfg, serverDeps(rt))
	if err != nil {
		return err
	}

	if rt.metrics != nil && cfg.Metrics.UpdateInterval > 0 {
		go rt.metrics.StartPeriodicUpdates(ctx, cfg.Metrics.UpdateInterval)
	}

	if err := writePIDFile(serverPIDFile, os.Getpid()); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer func() {
		if err := removePIDFile(serverPIDFile); err != nil {
			logger.Warn("Failed to remove PID file", "file", serverPIDFile, "error", err)
		}
	}()

	return waitForShutdown(ctx, cancel, apiServer, logger)
}

// serverDeps exposes the runtime to the API. Optional parts stay nil
// interfaces when they are not configured.
func serverDeps(rt *runtime) api.Deps {
	deps := api.Deps{
		Controller: rt.controller,
		Hub:        rt.hub,
		Metrics:    rt.metrics,
		Logger:     rt.logger,
		Version:    version,
	}
	if rt.recorder != nil {
		deps.Sessions = rt.recorder.Sessions()
		deps.Hosts = rt.recorder.Hosts()
	}
	if rt.database != nil {
		deps.DB = rt.database
	}
	if rt.scheduler != nil {
		deps.Scheduler = rt.scheduler
	}
	return deps
}

// waitForShutdown serves until a signal arrives or the server fails.
func waitForShutdown(ctx context.Context, cancel context.CancelFunc, server *api.Server, logger *logging.Logger) error {
	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", "signal", sig.String())
		cancel()
		return <-errChan
	case err := <-errChan:
		if err != nil {
			logger.Error("API server failed", "error", err)
		}
		return err
	}
}

func runServerStop(_ *cobra.Command, _ []string) error {
	pid, running := pidFileExists(serverPIDFile)
	if !running {
		fmt.Println("Server is not running")
		return removePIDFile(serverPIDFile)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal process %d: %w", pid, err)
	}

	deadline := time.Now().Add(serverStopTimeout)
	for time.Now().Before(deadline) {
		if _, running := pidFileExists(serverPIDFile); !running {
			fmt.Printf("Server stopped (PID %d)\n", pid)
			return nil
		}
		time.Sleep(serverStopPoll)
	}
	return fmt.Errorf("server (PID %d) did not stop within %s", pid, serverStopTimeout)
}

func runServerStatus(_ *cobra.Command, _ []string) error {
	pid, running := pidFileExists(serverPIDFile)
	if !running {
		fmt.Println("Server is not running")
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	address := cfg.GetAPIAddress()
	if err := checkServerLiveness(address); err != nil {
		fmt.Printf("Server process is running (PID %d) but not answering at %s: %v\n", pid, address, err)
		return nil
	}
	fmt.Printf("Server is running at http://%s (PID %d)\n", address, pid)
	return nil
}

// checkServerLiveness performs a quick liveness check against the server.
func checkServerLiveness(address string) error {
	client := &http.Client{Timeout: livenessTimeout}
	resp, err := client.Get(fmt.Sprintf("http://%s/api/v1/liveness", address))
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("liveness returned %s", resp.Status)
	}
	return nil
}

// pidFileExists checks if a PID file exists and if the process is running.
// Returns the PID and whether the process is actually running.
func pidFileExists(pidFile string) (int, bool) {
	data, err := os.ReadFile(pidFile) //nolint:gosec // pidFile is controlled, not user input
	if err != nil {
		return 0, false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return pid, false
	}

	// On Unix, Signal(0) tests if we can send a signal to the process
	if err := process.Signal(syscall.Signal(0)); err != nil {
		return pid, false
	}
	return pid, true
}

// writePIDFile writes the process ID to a file.
func writePIDFile(pidFile string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(pidFile), dirPermissions); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}
	return os.WriteFile(pidFile, []byte(strconv.Itoa(pid)), filePermissions)
}

// removePIDFile removes the PID file.
func removePIDFile(pidFile string) error {
	if _, err := os.Stat(pidFile); os.IsNotExist(err) {
		return nil
	}
	return os.Remove(pidFile)
}
