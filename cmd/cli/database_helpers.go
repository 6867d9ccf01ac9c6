// Package cli provides the command-line interface of livescan.
// This file implements the database commands: migrations and session
// history.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/livescan/internal/db"
	"github.com/anstrom/livescan/internal/logging"
	"github.com/anstrom/livescan/internal/metrics"
)

const (
	databaseTimeout     = 30 * time.Second
	defaultHistoryLimit = 20
)

var historyLimit int

// DatabaseOperation represents a function that operates on a database connection.
type DatabaseOperation func(ctx context.Context, database *db.DB) error

// dbCmd represents the db command group.
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Session history database",
	Long: `Manage the optional PostgreSQL session history.

The database is used only when database.enabled is true.`,
	Run: func(cmd *cobra.Command, _ []string) {
		_ = cmd.Help()
	},
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withDatabase(func(ctx context.Context, database *db.DB) error {
			applied, err := db.NewMigrator(database.DB, logging.Default()).Up(ctx)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied: %s\n", strings.Join(applied, ", "))
			return nil
		})
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withDatabase(func(ctx context.Context, database *db.DB) error {
			status, err := db.NewMigrator(database.DB, logging.Default()).Status(ctx)
			if err != nil {
				return err
			}
			renderMigrations(cmd.OutOrStdout(), status)
			return nil
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [session-id]",
	Short: "List recorded scan sessions or the hosts of one",
	Example: `  livescan db history
  livescan db history --limit 5
  livescan db history 3f0c9a52-1d7e-4e55-9a4f-8c1b2f7f3e10`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(func(ctx context.Context, database *db.DB) error {
			if len(args) == 1 {
				rows, err := db.NewHostRepository(database, metrics.Nop{}).ListBySession(ctx, args[0])
				if err != nil {
					return err
				}
				renderHostRows(cmd.OutOrStdout(), rows)
				return nil
			}

			sessions, err := db.NewSessionRepository(database, metrics.Nop{}).List(ctx, historyLimit)
			if err != nil {
				return err
			}
			renderSessions(cmd.OutOrStdout(), sessions)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVar(&historyLimit, "limit", defaultHistoryLimit, "Number of sessions to show")
}

// withDatabase executes the given operation with a database connection.
// It handles all database setup and cleanup, returning any errors that occur.
func withDatabase(operation DatabaseOperation) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if !cfg.Database.Enabled {
		return fmt.Errorf("database is disabled, set database.enabled to use session history")
	}

	ctx, cancel := context.WithTimeout(context.Background(), databaseTimeout)
	defer cancel()

	dbConfig := cfg.GetDatabaseConfig()
	database, err := db.Connect(ctx, &dbConfig, logging.Default())
	if err != nil {
		return fmt.Errorf("error connecting to database: %w", err)
	}
	defer func() {
		if closeErr := database.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close database connection: %v\n", closeErr)
		}
	}()

	return operation(ctx, database)
}

func renderMigrations(w io.Writer, status []db.MigrationStatus) {
	table := tablewriter.NewWriter(w)
	table.Header("Migration", "Applied", "Applied At")
	for _, s := range status {
		appliedAt := "-"
		if s.AppliedAt != nil {
			appliedAt = s.AppliedAt.Local().Format(time.DateTime)
		}
		_ = table.Append([]string{s.Name, fmt.Sprintf("%t", s.Applied), appliedAt})
	}
	_ = table.Render()
}

func renderSessions(w io.Writer, sessions []*db.SessionRow) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions recorded")
		return
	}

	table := tablewriter.NewWriter(w)
	table.Header("ID", "Started", "Duration", "Outcome", "Hosts", "Ranges")
	for _, s := range sessions {
		duration, outcome := "-", "running"
		if s.FinishedAt != nil {
			duration = s.FinishedAt.Sub(s.StartedAt).Round(time.Second).String()
		}
		if s.Outcome != nil {
			outcome = *s.Outcome
		}
		_ = table.Append([]string{
			s.ID,
			s.StartedAt.Local().Format(time.DateTime),
			duration,
			outcome,
			fmt.Sprintf("%d", s.HostCount),
			strings.Join(s.Ranges, ", "),
		})
	}
	_ = table.Render()
}

func renderHostRows(w io.Writer, rows []*db.HostRow) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No hosts recorded for this session")
		return
	}

	table := tablewriter.NewWriter(w)
	table.Header("IP", "Hostname", "MAC", "Vendor", "Ports", "Latency", "Bucket")
	for _, row := range rows {
		rec := row.Record()
		_ = table.Append([]string{
			rec.IP,
			rec.Hostname.String(),
			rec.MAC.String(),
			rec.Vendor.String(),
			rec.Ports.String(),
			rec.Latency.String(),
			fmt.Sprintf("%d", rec.Bucket),
		})
	}
	_ = table.Render()
}
