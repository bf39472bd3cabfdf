package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/anicoll/lacrosse-integration/internal/pkg/database/migration"
	"github.com/anicoll/lacrosse-integration/internal/pkg/model"
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("lacrosse"),
		tcpostgres.WithUsername("lacrosse"),
		tcpostgres.WithPassword("lacrosse"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, migration.Migrate(dsn))
	// second run is a no-op
	require.NoError(t, migration.Migrate(dsn))

	db, err := NewDatabase(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestDatabase_Readings(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	device := model.DeviceConfig{
		DeviceID:        "0001A2",
		Name:            "Garage",
		LastObservation: time.Now().Add(-time.Minute).Unix(),
	}
	require.NoError(t, db.PublishInitialDevices(ctx, []model.DeviceConfig{device}))

	first, second := 18.5, 19.0
	require.NoError(t, db.UpdateReading(ctx, device, model.AmbientTemperature, &first))
	require.NoError(t, db.UpdateReading(ctx, device, model.AmbientTemperature, &second))
	require.NoError(t, db.UpdateReading(ctx, device, model.CurrentHumidity, nil))

	latest, err := db.GetLatestReadings(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	for _, r := range latest {
		assert.Equal(t, "Garage", r.Name)
		switch r.Kind {
		case model.AmbientTemperature:
			require.NotNil(t, r.Value)
			assert.Equal(t, 19.0, *r.Value)
			require.NotNil(t, r.ObservedAt)
			assert.Equal(t, device.LastObservation, r.ObservedAt.Unix())
		case model.CurrentHumidity:
			assert.Nil(t, r.Value)
		default:
			t.Errorf("unexpected kind %s", r.Kind)
		}
	}

	history, err := db.GetReadings(ctx, device.DeviceID, model.AmbientTemperature, nil, nil)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	from, to := time.Now().Add(-48*time.Hour), time.Now().Add(-24*time.Hour)
	history, err = db.GetReadings(ctx, device.DeviceID, model.AmbientTemperature, &from, &to)
	require.NoError(t, err)
	assert.Empty(t, history)

	// an open-ended range keeps the given bound.
	since := time.Now().Add(-time.Hour)
	history, err = db.GetReadings(ctx, device.DeviceID, model.AmbientTemperature, &since, nil)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	history, err = db.GetReadings(ctx, device.DeviceID, model.AmbientTemperature, nil, &to)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestDatabase_RenamedDevice(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	v := 1.0
	require.NoError(t, db.UpdateReading(ctx, model.DeviceConfig{DeviceID: "X", Name: "Old"}, model.LowBattery, &v))
	require.NoError(t, db.PublishInitialDevices(ctx, []model.DeviceConfig{{DeviceID: "X", Name: "New"}}))

	latest, err := db.GetLatestReadings(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "New", latest[0].Name)
	assert.Nil(t, latest[0].ObservedAt)
}

func TestDatabase_Cleanup(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	device := model.DeviceConfig{DeviceID: "0001A2", Name: "Garage"}
	v := 20.0
	require.NoError(t, db.UpdateReading(ctx, device, model.AmbientTemperature, &v))
	_, err := db.pool.Exec(ctx, "UPDATE reading SET recorded_at = now() - interval '10 days'")
	require.NoError(t, err)
	require.NoError(t, db.UpdateReading(ctx, device, model.AmbientTemperature, &v))

	deleted, err := db.Cleanup(ctx, 8*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	latest, err := db.GetLatestReadings(ctx)
	require.NoError(t, err)
	assert.Len(t, latest, 1)
}
