// Package store implements the durable relational sink: a trailing log of
// zones, locations, and geofence events, written from the hot path but
// never read back for live state (live state always lives in the spatial
// index and the in-memory caches). Grounded on the tracking service's
// TimescaleRepository (internal/repository/timescale.go) — the same
// schema-init-then-insert shape and retention-policy idea, narrowed from a
// TimescaleDB hypertable over database/sql+lib/pq to a pgxpool-backed
// plain Postgres schema with a periodic DELETE-based retention sweep
// instead of a TimescaleDB-specific compression/retention policy.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/tripwatch/geosentry/internal/config"
	"github.com/tripwatch/geosentry/internal/models"
)

const (
	zonesTable          = "zones"
	locationsTable      = "locations"
	geofenceEventsTable = "geofence_events"
)

// Store is the durable sink surface the rest of the engine depends on.
type Store interface {
	SaveZone(ctx context.Context, z *models.Zone) error
	SaveLocation(ctx context.Context, loc *models.LocationUpdate) error
	SaveEvent(ctx context.Context, e *models.GeofenceEvent) error
	Close()
}

// dbExecutor is the subset of *pgxpool.Pool the store needs, narrowed so
// tests can substitute github.com/pashagolub/pgxmock/v4's PgxPoolIface
// instead of dialing a live Postgres instance.
type dbExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is the pgxpool-backed Store implementation.
type PostgresStore struct {
	db            dbExecutor
	closer        func()
	retentionDays int
	logger        *zap.Logger

	cancel context.CancelFunc
}

// NewPostgresStore connects, initializes schema, and starts the retention
// sweep goroutine.
func NewPostgresStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	s, err := newWithExecutor(ctx, pool, pool.Close, cfg, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// newWithExecutor backs both NewPostgresStore and the test suite: db is
// whatever speaks dbExecutor, closer releases the underlying connection
// (may be a no-op for a mock pool).
func newWithExecutor(ctx context.Context, db dbExecutor, closer func(), cfg config.StoreConfig, logger *zap.Logger) (*PostgresStore, error) {
	s := &PostgresStore{db: db, closer: closer, retentionDays: cfg.RetentionDays, logger: logger}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}

	sweepCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.retentionLoop(sweepCtx)

	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + zonesTable + ` (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			risk_level INT NOT NULL,
			created_by TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ` + locationsTable + ` (
			user_id TEXT NOT NULL,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL,
			source TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_locations_recorded_at ON ` + locationsTable + ` (recorded_at)`,
		`CREATE TABLE IF NOT EXISTS ` + geofenceEventsTable + ` (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			zone_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			alert_level TEXT NOT NULL,
			latitude DOUBLE PRECISION,
			longitude DOUBLE PRECISION,
			occurred_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_occurred_at ON ` + geofenceEventsTable + ` (occurred_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store: init schema: %w", err)
		}
	}
	return nil
}

// SaveZone upserts a zone row. The orchestrator calls it after CreateZone
// succeeds; zone updates do not call it.
func (s *PostgresStore) SaveZone(ctx context.Context, z *models.Zone) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO `+zonesTable+` (id, name, type, status, risk_level, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, type = EXCLUDED.type, status = EXCLUDED.status,
			risk_level = EXCLUDED.risk_level, updated_at = EXCLUDED.updated_at
	`, z.ID, z.Name, string(z.Type), string(z.Status), z.RiskLevel, z.CreatedBy, z.CreatedAt, z.UpdatedAt)
	return err
}

// SaveLocation appends a trailing-log row; never read back for live state.
func (s *PostgresStore) SaveLocation(ctx context.Context, loc *models.LocationUpdate) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO `+locationsTable+` (user_id, latitude, longitude, recorded_at, source)
		VALUES ($1, $2, $3, $4, $5)
	`, loc.UserID, loc.Coordinate.Latitude, loc.Coordinate.Longitude, loc.Timestamp, loc.Source)
	return err
}

// SaveEvent appends a geofence event row.
func (s *PostgresStore) SaveEvent(ctx context.Context, e *models.GeofenceEvent) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO `+geofenceEventsTable+` (id, user_id, zone_id, event_type, alert_level, latitude, longitude, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, e.ID, e.UserID, e.ZoneID, string(e.EventType), string(e.Metadata.AlertLevel), e.Coordinate.Latitude, e.Coordinate.Longitude, e.Timestamp)
	return err
}

func (s *PostgresStore) retentionLoop(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepExpired(ctx)
		}
	}
}

func (s *PostgresStore) sweepExpired(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	if _, err := s.db.Exec(ctx, `DELETE FROM `+locationsTable+` WHERE recorded_at < $1`, cutoff); err != nil {
		s.logger.Warn("retention sweep failed for locations", zap.Error(err))
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM `+geofenceEventsTable+` WHERE occurred_at < $1`, cutoff); err != nil {
		s.logger.Warn("retention sweep failed for geofence_events", zap.Error(err))
	}
}

// Close stops the retention loop and releases the pool.
func (s *PostgresStore) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.closer != nil {
		s.closer()
	}
}
