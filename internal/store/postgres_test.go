package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tripwatch/geosentry/internal/config"
	"github.com/tripwatch/geosentry/internal/models"
)

func setupMockStore(t *testing.T) (pgxmock.PgxPoolIface, *PostgresStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE INDEX").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE INDEX").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	s, err := newWithExecutor(context.Background(), mock, mock.Close, config.StoreConfig{RetentionDays: 30}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(s.Close)

	return mock, s
}

func TestSaveZoneExecutesUpsert(t *testing.T) {
	mock, s := setupMockStore(t)
	mock.ExpectExec("INSERT INTO zones").WillReturnResult(pgxmock.NewResult("INSERT", 1))

	z := &models.Zone{ID: "z1", Name: "Zone", Type: models.ZoneSafe, Status: models.ZoneStatusActive, RiskLevel: 2, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, s.SaveZone(context.Background(), z))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveLocationExecutesInsert(t *testing.T) {
	mock, s := setupMockStore(t)
	mock.ExpectExec("INSERT INTO locations").WillReturnResult(pgxmock.NewResult("INSERT", 1))

	loc := &models.LocationUpdate{UserID: "u1", Coordinate: models.Coordinate{Latitude: 1, Longitude: 2}, Timestamp: time.Now()}
	require.NoError(t, s.SaveLocation(context.Background(), loc))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveEventExecutesInsert(t *testing.T) {
	mock, s := setupMockStore(t)
	mock.ExpectExec("INSERT INTO geofence_events").WillReturnResult(pgxmock.NewResult("INSERT", 1))

	e := &models.GeofenceEvent{ID: "e1", UserID: "u1", ZoneID: "z1", EventType: models.EventEnter, Timestamp: time.Now()}
	require.NoError(t, s.SaveEvent(context.Background(), e))
	require.NoError(t, mock.ExpectationsWereMet())
}
