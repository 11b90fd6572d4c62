package position

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/danghamo/geotrack/internal/domain/shared"
	"github.com/danghamo/geotrack/pkg/logger"
	"github.com/danghamo/geotrack/pkg/sqlitex"
)

var locationsMigration = sqlitex.Migration{
	Name: "001_locations",
	Schema: `
CREATE TABLE IF NOT EXISTS locations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	latitude REAL NOT NULL,
	longitude REAL NOT NULL,
	accuracy REAL NOT NULL DEFAULT 0,
	captured_at INTEGER NOT NULL,
	sync_status INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_locations_status_captured ON locations(sync_status, captured_at, id);
`,
}

// SQLiteQueue implements Queue on the locations table
type SQLiteQueue struct {
	db     *sqlitex.DB
	logger *logger.Logger
}

// NewSQLiteQueue migrates the locations table and returns a queue over it
func NewSQLiteQueue(ctx context.Context, db *sqlitex.DB, log *logger.Logger) (*SQLiteQueue, error) {
	if err := db.Migrate(ctx, locationsMigration); err != nil {
		return nil, fmt.Errorf("failed to migrate locations: %w", err)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &SQLiteQueue{db: db, logger: log.WithComponent("position-queue")}, nil
}

func (q *SQLiteQueue) Insert(ctx context.Context, fix Fix) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO locations (latitude, longitude, accuracy, captured_at, sync_status) VALUES (?, ?, ?, ?, ?)`,
		fix.Latitude, fix.Longitude, fix.Accuracy, fix.CapturedAtMillis, int(Pending),
	)
	if err != nil {
		return 0, shared.ErrStorage(err, "insert")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, shared.ErrStorage(err, "insert")
	}

	q.logger.Debug("Location inserted",
		zap.Int64("id", id),
		zap.Int64("captured_at", fix.CapturedAtMillis),
	)
	return id, nil
}

func (q *SQLiteQueue) MarkSynced(ctx context.Context, id int64) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE locations SET sync_status = ? WHERE id = ? AND sync_status = ?`,
		int(Synced), id, int(Pending),
	)
	if err != nil {
		return shared.ErrStorage(err, "mark_synced")
	}

	if n, _ := res.RowsAffected(); n == 0 {
		q.logger.Debug("MarkSynced was a no-op", zap.Int64("id", id))
	}
	return nil
}

func (q *SQLiteQueue) PendingInOrder(ctx context.Context) ([]Record, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, latitude, longitude, accuracy, captured_at, sync_status
		 FROM locations WHERE sync_status = ? ORDER BY captured_at ASC, id ASC`,
		int(Pending),
	)
	if err != nil {
		return nil, shared.ErrStorage(err, "pending")
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, shared.ErrStorage(err, "pending")
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.ErrStorage(err, "pending")
	}
	return records, nil
}

func (q *SQLiteQueue) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := q.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN sync_status = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN sync_status = 1 THEN 1 ELSE 0 END), 0)
		 FROM locations`,
	).Scan(&stats.Pending, &stats.Synced)
	if err != nil {
		return Stats{}, shared.ErrStorage(err, "stats")
	}

	row := q.db.QueryRowContext(ctx,
		`SELECT id, latitude, longitude, accuracy, captured_at, sync_status
		 FROM locations ORDER BY captured_at DESC, id DESC LIMIT 1`,
	)
	latest, err := scanRecord(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return Stats{}, shared.ErrStorage(err, "stats")
	default:
		stats.Latest = &latest
	}

	return stats, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (Record, error) {
	var r Record
	var status int
	if err := s.Scan(&r.ID, &r.Latitude, &r.Longitude, &r.Accuracy, &r.CapturedAtMillis, &status); err != nil {
		return Record{}, err
	}
	r.SyncStatus = SyncStatus(status)
	return r, nil
}
