package database

import (
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"

	"github.com/platinummonkey/flock/pkg/observability"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// goose keeps its base FS, dialect and logger in package globals
var gooseMu sync.Mutex

type gooseLogger struct {
	logger *observability.Logger
}

func (l gooseLogger) Printf(format string, v ...interface{}) {
	if l.logger != nil {
		l.logger.Infof(format, v...)
	}
}

func (l gooseLogger) Fatalf(format string, v ...interface{}) {
	if l.logger != nil {
		l.logger.Errorf(format, v...)
	}
}

func prepareGoose(driver string, logger *observability.Logger) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(gooseLogger{logger: logger})
	if err := goose.SetDialect(driver); err != nil {
		return fmt.Errorf("failed to set migration dialect %q: %w", driver, err)
	}
	return nil
}

// Migrate applies every pending schema migration
func Migrate(db *sql.DB, driver string, logger *observability.Logger) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := prepareGoose(driver, logger); err != nil {
		return err
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// MigrationStatus logs the applied state of each migration and returns the
// current schema version
func MigrationStatus(db *sql.DB, driver string, logger *observability.Logger) (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := prepareGoose(driver, logger); err != nil {
		return 0, err
	}
	if err := goose.Status(db, "migrations"); err != nil {
		return 0, fmt.Errorf("failed to read migration status: %w", err)
	}
	version, err := goose.GetDBVersion(db)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}
