package settings

import (
	"context"
	"fmt"
	"strconv"

	"github.com/danghamo/geotrack/internal/domain/shared"
	"github.com/danghamo/geotrack/pkg/sqlitex"
)

var prefsMigration = sqlitex.Migration{
	Name: "002_prefs",
	Schema: `
CREATE TABLE IF NOT EXISTS prefs (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`,
}

// SQLiteStore implements Store on a key/value prefs table
type SQLiteStore struct {
	db *sqlitex.DB
}

// NewSQLiteStore migrates the prefs table and returns a store over it
func NewSQLiteStore(ctx context.Context, db *sqlitex.DB) (*SQLiteStore, error) {
	if err := db.Migrate(ctx, prefsMigration); err != nil {
		return nil, fmt.Errorf("failed to migrate prefs: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (TrackingConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM prefs`)
	if err != nil {
		return TrackingConfig{}, shared.ErrStorage(err, "load_prefs")
	}
	defer rows.Close()

	prefs := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return TrackingConfig{}, shared.ErrStorage(err, "load_prefs")
		}
		prefs[k] = v
	}
	if err := rows.Err(); err != nil {
		return TrackingConfig{}, shared.ErrStorage(err, "load_prefs")
	}

	return FromPrefs(prefs), nil
}

func (s *SQLiteStore) Save(ctx context.Context, cfg TrackingConfig) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return shared.ErrStorage(err, "save_prefs")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO prefs (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`)
	if err != nil {
		return shared.ErrStorage(err, "save_prefs")
	}
	defer stmt.Close()

	for k, v := range cfg.ToPrefs() {
		if _, err := stmt.ExecContext(ctx, k, v); err != nil {
			return shared.ErrStorage(err, "save_prefs")
		}
	}

	if err := tx.Commit(); err != nil {
		return shared.ErrStorage(err, "save_prefs")
	}
	return nil
}

func (s *SQLiteStore) SetTrackingEnabled(ctx context.Context, enabled bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO prefs (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		KeyTrackingRunning, strconv.FormatBool(enabled),
	)
	if err != nil {
		return shared.ErrStorage(err, "save_prefs")
	}
	return nil
}
