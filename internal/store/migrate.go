package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/httpfs"
)

// LatestMigrationVersion is the newest schema version this build knows.
// It must be bumped together with every new version in migrations/, which
// holds one directory per dialect with the same version numbers.
const LatestMigrationVersion uint = 1

// ErrMigrationDowngrade is returned when the database was written by a
// newer build.
var ErrMigrationDowngrade = errors.New("database downgrade detected")

//go:embed migrations/*/*.sql
var sqlSchemas embed.FS

// migrationLogger adapts slog to migrate.Logger.
type migrationLogger struct {
	log *slog.Logger
}

// Printf implements migrate.Logger.
func (m *migrationLogger) Printf(format string, v ...any) {
	format = strings.TrimRight(format, "\n")
	m.log.Info(fmt.Sprintf(format, v...))
}

// Verbose implements migrate.Logger.
func (m *migrationLogger) Verbose() bool {
	return false
}

// applySQLiteMigrations brings db up to LatestMigrationVersion. The
// migrate instance is not closed because that would close db.
func applySQLiteMigrations(db *sql.DB, log *slog.Logger) error {
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}

	_, err = applyMigrations(driver, "sqlite", log)
	return err
}

// applyPostgresMigrations brings db up to LatestMigrationVersion. db is
// closed on return.
func applyPostgresMigrations(db *sql.DB, log *slog.Logger) error {
	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		db.Close()
		return fmt.Errorf("creating migration driver: %w", err)
	}

	m, err := applyMigrations(driver, "postgres", log)
	if m == nil {
		driver.Close()
		return err
	}

	srcErr, dbErr := m.Close()
	return errors.Join(err, srcErr, dbErr)
}

// applyMigrations runs the migrations of dialect against driver. The
// returned instance is nil if it could not be created.
func applyMigrations(
	driver database.Driver,
	dialect string,
	log *slog.Logger,
) (*migrate.Migrate, error) {
	src, err := httpfs.New(http.FS(sqlSchemas), "migrations/"+dialect)
	if err != nil {
		return nil, fmt.Errorf("opening migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("migrations", src, dialect, driver)
	if err != nil {
		return nil, fmt.Errorf("creating migrator: %w", err)
	}
	m.Log = &migrationLogger{log: log}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return m, fmt.Errorf("reading schema version: %w", err)
	}
	if dirty {
		return m, fmt.Errorf("database is dirty at version %d, manual "+
			"intervention required", version)
	}
	if version > LatestMigrationVersion {
		return m, fmt.Errorf("%w: db_version=%d latest=%d",
			ErrMigrationDowngrade, version, LatestMigrationVersion)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return m, fmt.Errorf("applying migrations: %w", err)
	}

	log.Debug("Schema up to date", "dialect", dialect, "from", version,
		"to", LatestMigrationVersion)

	return m, nil
}
