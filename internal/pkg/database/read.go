package database

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/anicoll/lacrosse-integration/internal/pkg/model"
)

const selectRecords = `
	SELECT r.id, r.device_id, d.name, r.kind, r.value, r.observed_at, r.recorded_at
	FROM reading r
	JOIN device d ON d.id = r.device_id`

const defaultWindow = 48 * time.Hour

// GetReadings returns the history of one kind for a device, newest first.
// Missing bounds default independently, see readWindow.
func (db *Database) GetReadings(ctx context.Context, deviceID string, kind model.ServiceKind, from, to *time.Time) (model.Records, error) {
	start, end := readWindow(from, to, time.Now())
	rows, err := db.pool.Query(ctx, selectRecords+`
	WHERE r.device_id = $1 AND r.kind = $2 AND r.recorded_at BETWEEN $3 AND $4
	ORDER BY r.recorded_at DESC`, deviceID, kind.String(), start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// GetLatestReadings returns the newest record of every device and kind.
func (db *Database) GetLatestReadings(ctx context.Context) (model.Records, error) {
	rows, err := db.pool.Query(ctx, `
	SELECT DISTINCT ON (r.device_id, r.kind) r.id, r.device_id, d.name, r.kind, r.value, r.observed_at, r.recorded_at
	FROM reading r
	JOIN device d ON d.id = r.device_id
	ORDER BY r.device_id, r.kind, r.recorded_at DESC, r.id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// readWindow resolves the history range. A missing end is now and a missing
// start is two days before the end.
func readWindow(from, to *time.Time, now time.Time) (time.Time, time.Time) {
	end := now
	if to != nil {
		end = *to
	}
	start := end.Add(-defaultWindow)
	if from != nil {
		start = *from
	}
	return start, end
}

func scanRecords(rows pgx.Rows) (model.Records, error) {
	records := model.Records{}
	for rows.Next() {
		var (
			r    model.Record
			kind string
		)
		if err := rows.Scan(&r.ID, &r.DeviceID, &r.Name, &kind, &r.Value, &r.ObservedAt, &r.RecordedAt); err != nil {
			return nil, err
		}
		r.Kind = model.ServiceKind(kind)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return records, nil
		}
		return nil, err
	}
	return records, nil
}
