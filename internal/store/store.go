// Package store manages the CNCMate database layer.
// It initializes GORM with SQLite (default), MySQL or Postgres, runs
// AutoMigrate, and exposes the record operations the REST API and the
// telemetry path share.
package store

import (
	"errors"
	"fmt"
	"log"

	"github.com/glebarez/sqlite"
	"github.com/vesaa/cncmate/internal/config"
	"github.com/vesaa/cncmate/internal/models"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when the addressed record does not exist.
var ErrNotFound = errors.New("store: record not found")

// Store is the persisted source of truth for machines, jobs, defects,
// alerts, users and shift reports.
type Store struct {
	db *gorm.DB
}

// Open connects to the configured database and runs AutoMigrate.
func Open(cfg *config.Config) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DBPath)
	case "mysql":
		if cfg.DBDSN == "" {
			return nil, fmt.Errorf("db_dsn is required for db_driver %q", cfg.DBDriver)
		}
		dialector = mysql.Open(cfg.DBDSN)
	case "postgres":
		if cfg.DBDSN == "" {
			return nil, fmt.Errorf("db_dsn is required for db_driver %q", cfg.DBDriver)
		}
		dialector = postgres.Open(cfg.DBDSN)
	default:
		return nil, fmt.Errorf("unsupported db_driver %q (use 'sqlite', 'mysql' or 'postgres')", cfg.DBDriver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if cfg.DBDriver == "sqlite" || cfg.DBDriver == "" {
		// SQLite allows one writer; a single connection also keeps
		// ":memory:" databases alive for the life of the process.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	s := New(db)
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	log.Printf("[db] opened %s %s", driverName(cfg.DBDriver), cfg.DBPath)
	return s, nil
}

// New wraps an already-open connection without migrating it.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates every table.
func (s *Store) Migrate() error {
	err := s.db.AutoMigrate(
		&models.User{},
		&models.Machine{},
		&models.Job{},
		&models.Defect{},
		&models.Alert{},
		&models.ShiftReport{},
	)
	if err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func driverName(d string) string {
	if d == "" {
		return "sqlite"
	}
	return d
}

// notFound maps gorm's sentinel onto ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// affected turns a zero-row update into ErrNotFound.
func affected(tx *gorm.DB) error {
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
