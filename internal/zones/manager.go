// Package zones implements C4, the zone manager: validated polygon CRUD
// over the spatial index with an in-memory active-zone cache used for
// overlap checks and fast search. Grounded on the circular-geofence
// validation/lifecycle shape of the tracking service's
// internal/services/geofence.go (ValidateGeofenceParameters, NewGeofence,
// ContainsPoint, UpdateRadius, Deactivate), generalized from a circle
// defined by (center, radius) to an arbitrary polygon ring via
// internal/geo.
package zones

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tripwatch/geosentry/internal/cache"
	"github.com/tripwatch/geosentry/internal/config"
	"github.com/tripwatch/geosentry/internal/engine"
	"github.com/tripwatch/geosentry/internal/geo"
	"github.com/tripwatch/geosentry/internal/governor"
	"github.com/tripwatch/geosentry/internal/models"
	"github.com/tripwatch/geosentry/internal/observability"
	"github.com/tripwatch/geosentry/internal/spatialindex"
)

// Manager is C4. All writes are serialized through the primary connection;
// the in-memory zone cache is mutated only here, per §5 "The zone
// in-memory cache is mutated under a single guarding discipline (all writes
// happen from C4)".
type Manager struct {
	pool  *spatialindex.Pool
	gov   *governor.Governor
	cache *cache.Cache
	cfg   config.ZoneConfig

	mu    sync.RWMutex
	zones map[string]*models.Zone

	logger  *zap.Logger
	metrics *observability.Metrics
	sink    observability.ObservationSink
}

// New constructs the zone manager with an empty in-memory index; zones
// enter it only when created through this Manager, and nothing is loaded
// back from the spatial index.
func New(pool *spatialindex.Pool, gov *governor.Governor, c *cache.Cache, cfg config.ZoneConfig, logger *zap.Logger, metrics *observability.Metrics, sink observability.ObservationSink) *Manager {
	return &Manager{
		pool: pool, gov: gov, cache: c, cfg: cfg,
		zones: make(map[string]*models.Zone),
		logger: logger, metrics: metrics, sink: sink,
	}
}

// ZoneInput is the admin-supplied payload for CreateZone/UpdateZone.
type ZoneInput struct {
	Name             string
	Type             models.ZoneType
	Description      string
	Coordinates      []models.Coordinate
	AlertMessage     string
	EmergencyContact []string
	CreatedBy        string
	RiskLevel        *int
}

// CreateZone implements the "Creation contract" (§4.4): validate, auto-close,
// reject on overlap, assign UUID, persist, cache.
func (m *Manager) CreateZone(ctx context.Context, in ZoneInput) (*models.Zone, error) {
	if !models.ValidNameFormat(in.Name) {
		return nil, engine.New(engine.KindZoneValidation, "zone name must be 3-100 chars of [A-Za-z0-9 _-]")
	}
	if !models.ValidZoneType(in.Type) {
		return nil, engine.New(engine.KindZoneValidation, fmt.Sprintf("unknown zone type %q", in.Type))
	}
	closed, _, err := geo.ValidateRing(in.Coordinates)
	if err != nil {
		return nil, engine.Wrap(engine.KindZoneValidation, "invalid zone polygon", err)
	}

	riskLevel := models.DefaultRiskLevels[in.Type]
	if in.RiskLevel != nil {
		riskLevel = *in.RiskLevel
	}
	if riskLevel < 1 || riskLevel > 10 {
		return nil, engine.New(engine.KindZoneValidation, "riskLevel must be in [1,10]")
	}

	now := time.Now()
	z := &models.Zone{
		ID: models.NewZoneID(), Name: in.Name, Type: in.Type, Status: models.ZoneStatusActive,
		Description: in.Description, Coordinates: closed, BoundingBox: models.CalculateBoundingBox(closed),
		RiskLevel: riskLevel, AlertMessage: in.AlertMessage, EmergencyContact: in.EmergencyContact,
		CreatedBy: in.CreatedBy, CreatedAt: now, UpdatedAt: now,
	}

	if overlap := m.findOverlapping(closed, ""); overlap != nil {
		return nil, engine.New(engine.KindZoneOverlap, fmt.Sprintf("overlaps active zone %s", overlap.ID)).
			WithDetails(map[string]any{"overlapsZoneId": overlap.ID})
	}

	if err := m.persist(ctx, z); err != nil {
		return nil, err
	}

	z.BumpVersion()
	m.mu.Lock()
	m.zones[z.ID] = z
	m.mu.Unlock()
	m.refreshActiveGauge()
	_ = m.cache.Set(cache.ZoneKey(z.ID), z, m.cfg.CacheTTL)

	return z, nil
}

func (m *Manager) persist(ctx context.Context, z *models.Zone) error {
	geoJSON, err := toGeoJSON(z.Coordinates)
	if err != nil {
		return engine.Wrap(engine.KindValidation, "encode zone geometry", err)
	}
	fields := spatialindex.ZoneFields(z)
	_, err = governor.Execute(ctx, m.gov, 0, func(ctx context.Context) (any, error) {
		return m.pool.ExecuteWrite(ctx, spatialindex.SetObject(spatialindex.CollectionZones, z.ID, fields, geoJSON))
	})
	if err != nil {
		return engine.Wrap(engine.KindPrimaryUnavailable, "persist zone", err)
	}
	return nil
}

// findOverlapping returns an active zone overlapping ring, excluding
// excludeID (used by UpdateZone to skip self-comparison).
func (m *Manager) findOverlapping(ring []models.Coordinate, excludeID string) *models.Zone {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, existing := range m.zones {
		if id == excludeID || existing.Status != models.ZoneStatusActive {
			continue
		}
		if geo.Overlaps(ring, existing.Coordinates) {
			return existing
		}
	}
	return nil
}

// ZonePatch carries the optional fields UpdateZone may change.
type ZonePatch struct {
	Name        *string
	Description *string
	Coordinates []models.Coordinate // nil means unchanged
	Status      *models.ZoneStatus
	RiskLevel   *int
	AlertMessage *string
}

// UpdateZone applies a partial update; when Coordinates changes, full
// validation and overlap check (excluding self) repeat, per §4.4
// "Update/Delete".
func (m *Manager) UpdateZone(ctx context.Context, id string, patch ZonePatch) (*models.Zone, error) {
	m.mu.Lock()
	existing, ok := m.zones[id]
	if !ok {
		m.mu.Unlock()
		return nil, engine.New(engine.KindValidation, "zone not found").WithDetails(map[string]any{"zoneId": id})
	}
	updated := *existing
	m.mu.Unlock()

	if patch.Name != nil {
		if !models.ValidNameFormat(*patch.Name) {
			return nil, engine.New(engine.KindZoneValidation, "zone name must be 3-100 chars of [A-Za-z0-9 _-]")
		}
		updated.Name = *patch.Name
	}
	if patch.Description != nil {
		updated.Description = *patch.Description
	}
	if patch.Status != nil {
		if !models.ValidZoneStatus(*patch.Status) {
			return nil, engine.New(engine.KindZoneValidation, "invalid zone status")
		}
		updated.Status = *patch.Status
	}
	if patch.RiskLevel != nil {
		if *patch.RiskLevel < 1 || *patch.RiskLevel > 10 {
			return nil, engine.New(engine.KindZoneValidation, "riskLevel must be in [1,10]")
		}
		updated.RiskLevel = *patch.RiskLevel
	}
	if patch.AlertMessage != nil {
		updated.AlertMessage = *patch.AlertMessage
	}
	if patch.Coordinates != nil {
		closed, _, err := geo.ValidateRing(patch.Coordinates)
		if err != nil {
			return nil, engine.Wrap(engine.KindZoneValidation, "invalid zone polygon", err)
		}
		if overlap := m.findOverlapping(closed, id); overlap != nil {
			return nil, engine.New(engine.KindZoneOverlap, fmt.Sprintf("overlaps active zone %s", overlap.ID))
		}
		updated.Coordinates = closed
		updated.BoundingBox = models.CalculateBoundingBox(closed)
	}
	updated.UpdatedAt = time.Now()

	if err := m.persist(ctx, &updated); err != nil {
		return nil, err
	}
	updated.BumpVersion()

	m.mu.Lock()
	m.zones[id] = &updated
	m.mu.Unlock()
	m.refreshActiveGauge()
	_ = m.cache.Set(cache.ZoneKey(id), &updated, m.cfg.CacheTTL)

	return &updated, nil
}

// DeleteZone removes the zone from the index and both caches; repeat calls
// are a no-op (§8 "Idempotence").
func (m *Manager) DeleteZone(ctx context.Context, id string) error {
	_, err := governor.Execute(ctx, m.gov, 0, func(ctx context.Context) (any, error) {
		return m.pool.ExecuteWrite(ctx, spatialindex.Del(spatialindex.CollectionZones, id))
	})
	if err != nil {
		m.logger.Warn("zone delete from index failed", zap.String("zoneId", id), zap.Error(err))
	}
	m.mu.Lock()
	delete(m.zones, id)
	m.mu.Unlock()
	m.cache.Delete(cache.ZoneKey(id))
	m.refreshActiveGauge()
	return nil
}

// GetZone consults the in-memory cache first, then the local index.
func (m *Manager) GetZone(ctx context.Context, id string) (*models.Zone, error) {
	var cached models.Zone
	if m.cache.Get(cache.ZoneKey(id), &cached) {
		return &cached, nil
	}
	m.mu.RLock()
	z, ok := m.zones[id]
	m.mu.RUnlock()
	if !ok {
		return nil, engine.New(engine.KindValidation, "zone not found").WithDetails(map[string]any{"zoneId": id})
	}
	_ = m.cache.Set(cache.ZoneKey(id), z, m.cfg.CacheTTL)
	return z, nil
}

func (m *Manager) refreshActiveGauge() {
	if m.metrics == nil {
		return
	}
	m.mu.RLock()
	count := 0
	for _, z := range m.zones {
		if z.Status == models.ZoneStatusActive {
			count++
		}
	}
	m.mu.RUnlock()
	m.metrics.ZonesActive.Set(float64(count))
}

// ActiveZones returns a snapshot slice of every active zone, used by C7's
// sweep (§4.7 "Pull up to batchSize active zones").
func (m *Manager) ActiveZones() []*models.Zone {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Zone, 0, len(m.zones))
	for _, z := range m.zones {
		if z.Status == models.ZoneStatusActive {
			out = append(out, z)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
