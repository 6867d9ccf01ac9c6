package db

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/anstrom/livescan/internal/errors"
	"github.com/anstrom/livescan/internal/logging"
)

//go:embed *.sql
var migrationFiles embed.FS

// Migration is a row of the schema_migrations table.
type Migration struct {
	ID        int       `db:"id"`
	Name      string    `db:"name"`
	AppliedAt time.Time `db:"applied_at"`
	Checksum  string    `db:"checksum"`
}

// MigrationStatus reports whether one embedded migration has been applied.
type MigrationStatus struct {
	Name      string     `json:"name"`
	Applied   bool       `json:"applied"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
}

// Migrator applies the embedded migrations in file name order.
type Migrator struct {
	db     *sqlx.DB
	logger *logging.Logger
	files  fs.FS
}

// NewMigrator creates a new migrator instance.
func NewMigrator(db *sqlx.DB, logger *logging.Logger) *Migrator {
	if logger == nil {
		logger = logging.Default()
	}
	return &Migrator{db: db, logger: logger.WithComponent("migrate"), files: migrationFiles}
}

func (m *Migrator) ensureMigrationsTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id SERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ DEFAULT NOW(),
			checksum VARCHAR(64) NOT NULL
		)`

	if _, err := m.db.ExecContext(ctx, query); err != nil {
		return errors.WrapDatabaseError(errors.CodeDatabaseMigration, "Failed to create migrations table", err)
	}
	return nil
}

func (m *Migrator) appliedMigrations(ctx context.Context) (map[string]Migration, error) {
	var migrations []Migration
	query := `SELECT id, name, applied_at, checksum FROM schema_migrations ORDER BY id`

	if err := m.db.SelectContext(ctx, &migrations, query); err != nil {
		return nil, errors.WrapDatabaseError(errors.CodeDatabaseMigration, "Failed to read applied migrations", err)
	}

	applied := make(map[string]Migration, len(migrations))
	for _, migration := range migrations {
		applied[migration.Name] = migration
	}
	return applied, nil
}

func (m *Migrator) migrationFiles() ([]string, error) {
	var files []string
	err := fs.WalkDir(m.files, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".sql") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.WrapDatabaseError(errors.CodeDatabaseMigration, "Failed to read migration files", err)
	}

	sort.Strings(files)
	return files, nil
}

func checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func migrationName(file string) string {
	return strings.TrimSuffix(filepath.Base(file), ".sql")
}

func (m *Migrator) executeMigration(ctx context.Context, file string) error {
	content, err := fs.ReadFile(m.files, file)
	if err != nil {
		return errors.WrapDatabaseError(errors.CodeDatabaseMigration, "Failed to read migration "+file, err)
	}

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.WrapDatabaseError(errors.CodeDatabaseMigration, "Failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return errors.WrapDatabaseError(errors.CodeDatabaseMigration, "Failed to execute migration "+file, err)
	}

	insertQuery := `INSERT INTO schema_migrations (name, checksum) VALUES ($1, $2)`
	if _, err := tx.ExecContext(ctx, insertQuery, migrationName(file), checksum(content)); err != nil {
		return errors.WrapDatabaseError(errors.CodeDatabaseMigration, "Failed to record migration "+file, err)
	}

	if err := tx.Commit(); err != nil {
		return errors.WrapDatabaseError(errors.CodeDatabaseMigration, "Failed to commit migration "+file, err)
	}
	return nil
}

// Up runs all pending migrations and returns the names it applied.
func (m *Migrator) Up(ctx context.Context) ([]string, error) {
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.appliedMigrations(ctx)
	if err != nil {
		return nil, err
	}
	files, err := m.migrationFiles()
	if err != nil {
		return nil, err
	}

	var done []string
	for _, file := range files {
		name := migrationName(file)
		if _, exists := applied[name]; exists {
			m.logger.Debug("Migration already applied, skipping", "migration", name)
			continue
		}

		m.logger.Info("Applying migration", "migration", name)
		if err := m.executeMigration(ctx, file); err != nil {
			return done, err
		}
		done = append(done, name)
	}
	return done, nil
}

// Status lists every embedded migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.appliedMigrations(ctx)
	if err != nil {
		return nil, err
	}
	files, err := m.migrationFiles()
	if err != nil {
		return nil, err
	}

	out := make([]MigrationStatus, 0, len(files))
	for _, file := range files {
		name := migrationName(file)
		status := MigrationStatus{Name: name}
		if migration, ok := applied[name]; ok {
			at := migration.AppliedAt
			status.Applied = true
			status.AppliedAt = &at
		}
		out = append(out, status)
	}
	return out, nil
}
