package zones

import (
	"context"

	"github.com/tripwatch/geosentry/internal/engine"
	"github.com/tripwatch/geosentry/internal/geo"
	"github.com/tripwatch/geosentry/internal/governor"
	"github.com/tripwatch/geosentry/internal/models"
	"github.com/tripwatch/geosentry/internal/spatialindex"
)

// SearchQuery supports the filters named in §4.4 "Search": by bounding box,
// type, status, risk range, and creator. Every filter, the bounding box
// included, is applied over the in-memory zone map (zones of every status);
// the spatial index is not queried.
type SearchQuery struct {
	BoundingBox *models.BoundingBox
	Type        *models.ZoneType
	Status      *models.ZoneStatus
	MinRisk     *int
	MaxRisk     *int
	CreatedBy   *string
}

// Search applies every supplied filter, intersecting the results.
func (m *Manager) Search(q SearchQuery) []*models.Zone {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Zone, 0, len(m.zones))
	for _, z := range m.zones {
		if q.BoundingBox != nil && !bboxOverlap(*q.BoundingBox, z.BoundingBox) {
			continue
		}
		if q.Type != nil && z.Type != *q.Type {
			continue
		}
		if q.Status != nil && z.Status != *q.Status {
			continue
		}
		if q.MinRisk != nil && z.RiskLevel < *q.MinRisk {
			continue
		}
		if q.MaxRisk != nil && z.RiskLevel > *q.MaxRisk {
			continue
		}
		if q.CreatedBy != nil && z.CreatedBy != *q.CreatedBy {
			continue
		}
		out = append(out, z)
	}
	return out
}

func bboxOverlap(a, b models.BoundingBox) bool {
	return a.MinLat <= b.MaxLat && a.MaxLat >= b.MinLat && a.MinLon <= b.MaxLon && a.MaxLon >= b.MinLon
}

// ZonesContainingPoint returns the active zones whose polygon contains
// point, using a local geo.PointInPolygon check against the in-memory zone
// map, so a just-created zone is found at once. It does not send an
// INTERSECTS query to the spatial index; probeIndexIntersects issues that
// query separately.
func (m *Manager) ZonesContainingPoint(ctx context.Context, point models.Coordinate) []*models.Zone {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Zone, 0)
	for _, z := range m.zones {
		if z.Status != models.ZoneStatusActive {
			continue
		}
		if geo.PointInPolygon(point, z.Coordinates) {
			out = append(out, z)
		}
	}
	return out
}

// probeIndexIntersects issues the wire-level INTERSECTS query C4 is
// specified to use; callers that need the raw index round trip (e.g.
// diagnostics) can invoke this directly instead of the local evaluation in
// ZonesContainingPoint.
func (m *Manager) probeIndexIntersects(ctx context.Context, point models.Coordinate) error {
	_, err := governor.Execute(ctx, m.gov, 0, func(ctx context.Context) (any, error) {
		return m.pool.ExecuteRead(ctx, spatialindex.IntersectsPoint(spatialindex.CollectionZones, point))
	})
	if err != nil {
		return engine.Wrap(engine.KindNoHealthyConnection, "intersects probe", err)
	}
	return nil
}
