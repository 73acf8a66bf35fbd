package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"waste-ops-service/config"
	"waste-ops-service/models"

	"github.com/apex/log"
	_ "github.com/go-sql-driver/mysql"
)

// Database handles all database operations
type Database struct {
	db           *sql.DB
	queryTimeout time.Duration
}

// NewDatabase creates a new database connection
func NewDatabase(cfg *config.Config) (*Database, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&multiStatements=true",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	log.Infof("Database connected to %s:%s/%s", cfg.DBHost, cfg.DBPort, cfg.DBName)

	return &Database{db: db, queryTimeout: cfg.QueryTimeout}, nil
}

// New wraps an existing connection; used by tests.
func New(db *sql.DB, queryTimeout time.Duration) *Database {
	return &Database{db: db, queryTimeout: queryTimeout}
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// opCtx bounds every storage call so no operation blocks indefinitely.
func (d *Database) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.queryTimeout)
}

// dbErr wraps storage failures; timeouts surface as the retryable
// Unavailable kind.
func dbErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %v", op, models.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// logResult warns when a write affected an unexpected number of rows.
func logResult(msgPrefix string, r sql.Result, e error) {
	if e != nil {
		log.Errorf("Query failed: %v", e)
		return
	}
	rows, err := r.RowsAffected()
	if err != nil {
		log.Errorf("Failed to get status of db op: %v", err)
		return
	}
	if rows != 1 {
		log.Warnf("%s: Expected to affect 1 row, affected %d", msgPrefix, rows)
	}
}
