package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a record is not found
var ErrNotFound = errors.New("record not found")

// ErrDuplicateKey is returned when a message is marked processed twice
var ErrDuplicateKey = errors.New("duplicate key")

// DB wraps sqlx.DB
type DB struct {
	*sqlx.DB
}

// New creates a new database connection.
// A postgres:// or postgresql:// URL selects Postgres, anything else is a SQLite file path.
func New(url string) (*DB, error) {
	if isPostgresURL(url) {
		db, err := sqlx.Connect("pgx", url)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return &DB{db}, nil
	}

	// Ensure directory exists
	dir := filepath.Dir(url)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Connect with WAL mode so the dashboard can read while the pipeline writes
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", url)
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &DB{db}, nil
}

// Migrate runs database migrations
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	return nil
}

func isPostgresURL(url string) bool {
	return strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://")
}
