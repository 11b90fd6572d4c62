package sqlitex

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/danghamo/geotrack/pkg/logger"
)

// DB wraps sql.DB opened on a SQLite file in WAL mode
type DB struct {
	*sql.DB
	path   string
	logger *logger.Logger
}

// Migration is one named, idempotent schema step
type Migration struct {
	Name   string
	Schema string
}

// Open opens (creating if needed) the SQLite database at path.
// A single connection serialises writers so statements never hit SQLITE_BUSY.
func Open(path string, log *logger.Logger) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=FULL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	d := &DB{DB: db, path: path, logger: log.WithComponent("sqlitex")}
	if _, err := d.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		name TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	d.logger.Info("SQLite database opened", zap.String("path", path))
	return d, nil
}

// Path returns the file the database was opened on
func (d *DB) Path() string {
	return d.path
}

// Migrate applies every migration not yet recorded, each in its own transaction
func (d *DB) Migrate(ctx context.Context, migrations ...Migration) error {
	for _, m := range migrations {
		var applied int
		err := d.QueryRowContext(ctx, `SELECT COUNT(1) FROM schema_migrations WHERE name = ?`, m.Name).Scan(&applied)
		if err != nil {
			return fmt.Errorf("failed to check migration %s: %w", m.Name, err)
		}
		if applied > 0 {
			continue
		}

		tx, err := d.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %s: %w", m.Name, err)
		}
		if _, err := tx.ExecContext(ctx, m.Schema); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %s: %w", m.Name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`,
			m.Name, time.Now().UnixMilli(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", m.Name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", m.Name, err)
		}

		d.logger.Info("Applied migration", zap.String("migration", m.Name))
	}
	return nil
}

// HealthCheck pings the database
func (d *DB) HealthCheck(ctx context.Context) error {
	return d.PingContext(ctx)
}

// Close closes the database
func (d *DB) Close() error {
	d.logger.Info("Closing SQLite database", zap.String("path", d.path))
	return d.DB.Close()
}
