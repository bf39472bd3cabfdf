package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/anicoll/lacrosse-integration/internal/pkg/model"
)

const upsertDeviceSQL = `
	INSERT INTO device (id, name)
	VALUES ($1, $2)
	ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, updated_at = now()`

func (db *Database) PublishInitialDevices(ctx context.Context, devices []model.DeviceConfig) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, d := range devices {
		if _, err := tx.Exec(ctx, upsertDeviceSQL, d.DeviceID, d.Name); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (db *Database) UpdateReading(ctx context.Context, device model.DeviceConfig, kind model.ServiceKind, value *float64) error {
	var observedAt *time.Time
	if device.LastObservation > 0 {
		t := time.Unix(device.LastObservation, 0).UTC()
		observedAt = &t
	}

	batch := &pgx.Batch{}
	batch.Queue(upsertDeviceSQL, device.DeviceID, device.Name)
	batch.Queue(`
		INSERT INTO reading (device_id, kind, value, observed_at)
		VALUES ($1, $2, $3, $4)`, device.DeviceID, kind.String(), value, observedAt)
	return db.pool.SendBatch(ctx, batch).Close()
}
