// Package cli provides the command-line interface of livescan.
// This file implements the interactive operator console.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/livescan/internal/dispatch"
	"github.com/anstrom/livescan/internal/hosts"
	"github.com/anstrom/livescan/internal/lifecycle"
	"github.com/anstrom/livescan/internal/logging"
)

const consoleShutdownTimeout = 10 * time.Second

var scanAutoStart bool

// scanCmd represents the console command.
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run the interactive scan console",
	Long: `Run the interactive scan console.

Commands are read from standard input, one per line:
  s [threads] [timeout-ms] [range...]  start a scan
  p                                    pause the running scan
  r                                    resume a paused scan
  x                                    stop the scan
  h                                    show the live hosts
  q                                    quit

SIGINT or SIGTERM stops the running scan and quits. The live hosts of the
last session are printed per range when a scan finishes and on exit.
With --start the console keeps running after end of input until the scan
finishes, so it can run unattended.`,
	Example: `  livescan scan
  livescan scan --range 10.0.0.0/24 --range 10.0.1.0/24 --threads 100
  livescan scan --start --timeout 500`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().Int("threads", 0, "Parallel probes (default from config)")
	scanCmd.Flags().Int("timeout", 0, "Per-probe timeout in milliseconds (default from config)")
	scanCmd.Flags().StringSlice("range", nil, "Range to scan, repeatable (default from config)")
	scanCmd.Flags().Bool("debug", false, "Pass --debug to the scan script")
	scanCmd.Flags().BoolVar(&scanAutoStart, "start", false, "Start a scan immediately")

	err := bindFlags(viper.GetViper(), scanCmd.Flags(), map[string]string{
		"threads": "scanner.threads",
		"timeout": "scanner.timeout_ms",
		"range":   "scanner.ranges",
		"debug":   "scanner.debug",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
}

// consoleController is the part of the lifecycle controller the console
// drives.
type consoleController interface {
	Start(ctx context.Context, opts lifecycle.Options) error
	Pause() error
	Resume() error
	Stop() error
	State() lifecycle.State
	Registry() *hosts.Registry
}

// console executes operator commands against a controller.
type console struct {
	ctx      context.Context
	ctrl     consoleController
	defaults lifecycle.Options
	out      io.Writer

	// holdOnEOF keeps the console running after end of input until the
	// session returns to idle.
	holdOnEOF bool
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := logging.Default()

	if os.Geteuid() != 0 {
		logger.Warn("Not running as root; the scan script may miss MAC addresses and vendors")
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}

	events, unsubscribe := rt.hub.Subscribe()
	defer unsubscribe()

	c := &console{
		ctx:       ctx,
		ctrl:      rt.controller,
		defaults:  cfg.Options(),
		out:       cmd.OutOrStdout(),
		holdOnEOF: scanAutoStart,
	}
	c.printHelp()
	if scanAutoStart {
		c.execute("s")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	c.loop(cmd.InOrStdin(), events, sigChan)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), consoleShutdownTimeout)
	defer shutdownCancel()
	rt.Close(shutdownCtx)

	renderHosts(c.out, rt.controller.Registry())
	return nil
}

// loop reads commands until quit, end of input or a signal. A finished
// session prints its hosts. With holdOnEOF, end of input while a session
// is active waits for that session to finish instead of quitting.
func (c *console) loop(in io.Reader, events <-chan dispatch.Event, signals <-chan os.Signal) {
	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()

	input := (<-chan string)(lines)
	for {
		select {
		case line, ok := <-input:
			if !ok {
				if !c.holdOnEOF || c.ctrl.State() == lifecycle.StateIdle {
					return
				}
				logging.Info("End of input, waiting for the scan to finish")
				input = nil
				continue
			}
			if c.execute(line) {
				return
			}
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Type == dispatch.EventState && e.State == string(lifecycle.StateIdle) {
				// the caller renders the final tables
				if input == nil {
					return
				}
				renderHosts(c.out, c.ctrl.Registry())
			}
		case sig := <-signals:
			logging.Info("Received signal, stopping", "signal", sig.String())
			return
		case <-c.ctx.Done():
			return
		}
	}
}

// execute runs one command line and reports whether the console should
// quit. Control errors are printed, never fatal.
func (c *console) execute(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	var err error
	switch strings.ToLower(fields[0]) {
	case "s", "start":
		err = c.ctrl.Start(c.ctx, c.startOptions(fields[1:]))
	case "p", "pause":
		err = c.ctrl.Pause()
	case "r", "resume":
		err = c.ctrl.Resume()
	case "x", "stop":
		err = c.ctrl.Stop()
	case "h", "hosts":
		renderHosts(c.out, c.ctrl.Registry())
	case "q", "quit", "exit":
		return true
	case "?", "help":
		c.printHelp()
	default:
		fmt.Fprintf(c.out, "Unknown command %q, type ? for help\n", fields[0])
	}

	if err != nil {
		fmt.Fprintf(c.out, "%s: %v\n", fields[0], err)
	}
	return false
}

// startOptions parses "[threads] [timeout-ms] [range...]". Missing values
// come from the console defaults.
func (c *console) startOptions(args []string) lifecycle.Options {
	if len(args) == 0 {
		return c.defaults
	}

	threads := args[0]
	timeout := strconv.Itoa(c.defaults.TimeoutMS)
	ranges := c.defaults.Ranges
	if len(args) > 1 {
		timeout = args[1]
	}
	if len(args) > 2 {
		ranges = args[2:]
	}
	return lifecycle.ParseOptions(threads, timeout, ranges, c.defaults.Debug)
}

func (c *console) printHelp() {
	fmt.Fprintf(c.out, "State: %s. Commands: s)tart p)ause r)esume x) stop h)osts q)uit\n", c.ctrl.State())
}

// hostTables is the registry view rendered by renderHosts.
type hostTables interface {
	Buckets() int
	Ranges() []string
	Bucket(index int) []hosts.Record
}

// renderHosts prints one table per bucket. Absent fields show as "-".
func renderHosts(w io.Writer, reg hostTables) {
	ranges := reg.Ranges()
	for i := 0; i < reg.Buckets(); i++ {
		title := "Unrouted"
		if i < len(ranges) {
			title = ranges[i]
		}
		records := reg.Bucket(i)
		fmt.Fprintf(w, "\n%s (%d live)\n", title, len(records))
		if len(records) == 0 {
			continue
		}

		table := tablewriter.NewWriter(w)
		table.Header("IP", "Hostname", "MAC", "Vendor", "Ports", "Latency", "Last Seen")
		for j := range records {
			rec := &records[j]
			_ = table.Append([]string{
				rec.IP,
				rec.Hostname.String(),
				rec.MAC.String(),
				rec.Vendor.String(),
				rec.Ports.String(),
				rec.Latency.String(),
				rec.LastSeen.Format("15:04:05"),
			})
		}
		_ = table.Render()
	}
}
