package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/tripwatch/geosentry/internal/models"
)

var (
	ErrTooFewVertices   = errors.New("geo: polygon needs at least 3 distinct vertices")
	ErrTooManyVertices  = errors.New("geo: polygon exceeds 100 vertices")
	ErrSelfIntersecting = errors.New("geo: polygon ring self-intersects")
	ErrAreaOutOfRange   = errors.New("geo: polygon area outside [100,1e9] square meters")
)

// ValidateRing enforces the ring-shape invariants from §3 "Zone" and §8
// "Boundary behaviors": at least 3 and at most 100 distinct vertices (the
// closed ring then holds up to 101 points), each vertex individually valid, no
// self-intersection, and area within [100, 1e9] m^2. It returns the closed
// ring and its area in square meters.
func ValidateRing(ring []models.Coordinate) (closed []models.Coordinate, areaSqMeters float64, err error) {
	distinct := dedupeConsecutive(ring)
	if len(distinct) < models.MinZoneVertices {
		return nil, 0, fmt.Errorf("%w: got %d", ErrTooFewVertices, len(distinct))
	}
	for _, c := range distinct {
		if err := c.Validate(); err != nil {
			return nil, 0, err
		}
	}
	closed = models.ClosedRing(distinct)
	if len(closed) > models.MaxZoneVertices+1 {
		return nil, 0, fmt.Errorf("%w: got %d", ErrTooManyVertices, len(closed)-1)
	}
	if SelfIntersects(closed) {
		return nil, 0, ErrSelfIntersecting
	}
	area := SphericalArea(closed)
	if area < models.MinZoneAreaSqMeters || area > models.MaxZoneAreaSqMeters {
		return nil, 0, fmt.Errorf("%w: got %.3f", ErrAreaOutOfRange, area)
	}
	return closed, area, nil
}

func dedupeConsecutive(ring []models.Coordinate) []models.Coordinate {
	out := make([]models.Coordinate, 0, len(ring))
	for i, c := range ring {
		if i > 0 {
			prev := out[len(out)-1]
			if prev.Latitude == c.Latitude && prev.Longitude == c.Longitude {
				continue
			}
		}
		out = append(out, c)
	}
	// Drop a trailing vertex equal to the first — that's closure, handled
	// separately by ClosedRing, not a "distinct vertex" for the count.
	if len(out) > 1 {
		first, last := out[0], out[len(out)-1]
		if first.Latitude == last.Latitude && first.Longitude == last.Longitude {
			out = out[:len(out)-1]
		}
	}
	return out
}

// SphericalArea computes the polygon area on the WGS-84 sphere via the
// spherical excess (shoelace) formula (§6 "Polygon area").
func SphericalArea(ring []models.Coordinate) float64 {
	if len(ring) < 4 {
		return 0
	}
	const R = EarthRadiusMeters
	var total float64
	for i := 0; i < len(ring)-1; i++ {
		p1, p2 := ring[i], ring[i+1]
		lambda1, lambda2 := degToRad(p1.Longitude), degToRad(p2.Longitude)
		phi1, phi2 := degToRad(p1.Latitude), degToRad(p2.Latitude)
		total += (lambda2 - lambda1) * (2 + math.Sin(phi1) + math.Sin(phi2))
	}
	area := math.Abs(total) * R * R / 2
	return area
}

// PointInPolygon implements ray-casting in (lon, lat) space (§6
// "Point-in-polygon").
func PointInPolygon(point models.Coordinate, ring []models.Coordinate) bool {
	inside := false
	n := len(ring)
	if n < 4 {
		return false
	}
	x, y := point.Longitude, point.Latitude
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i].Longitude, ring[i].Latitude
		xj, yj := ring[j].Longitude, ring[j].Latitude
		intersects := ((yi > y) != (yj > y)) &&
			(x < (xj-xi)*(y-yi)/(yj-yi)+xi)
		if intersects {
			inside = !inside
		}
	}
	return inside
}

// segmentsIntersect reports whether segments p1p2 and p3p4 properly
// intersect or are collinear-overlapping, per the "collinearity check" note
// in §6 "Self-intersection".
func segmentsIntersect(p1, p2, p3, p4 models.Coordinate) bool {
	d1 := cross(p3, p4, p1)
	d2 := cross(p3, p4, p2)
	d3 := cross(p1, p2, p3)
	d4 := cross(p1, p2, p4)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	if d1 == 0 && onSegment(p3, p4, p1) {
		return true
	}
	if d2 == 0 && onSegment(p3, p4, p2) {
		return true
	}
	if d3 == 0 && onSegment(p1, p2, p3) {
		return true
	}
	if d4 == 0 && onSegment(p1, p2, p4) {
		return true
	}
	return false
}

func cross(a, b, c models.Coordinate) float64 {
	return (b.Longitude-a.Longitude)*(c.Latitude-a.Latitude) -
		(c.Longitude-a.Longitude)*(b.Latitude-a.Latitude)
}

func onSegment(a, b, p models.Coordinate) bool {
	return math.Min(a.Longitude, b.Longitude) <= p.Longitude && p.Longitude <= math.Max(a.Longitude, b.Longitude) &&
		math.Min(a.Latitude, b.Latitude) <= p.Latitude && p.Latitude <= math.Max(a.Latitude, b.Latitude)
}

// SelfIntersects runs the segment-intersection sweep over a closed ring,
// skipping adjacent edges (which legitimately share an endpoint).
func SelfIntersects(closedRing []models.Coordinate) bool {
	n := len(closedRing) - 1 // last == first
	if n < 4 {
		return false
	}
	for i := 0; i < n; i++ {
		a1, a2 := closedRing[i], closedRing[i+1]
		for j := i + 1; j < n; j++ {
			if j == i || j == i+1 || (i == 0 && j == n-1) {
				continue
			}
			b1, b2 := closedRing[j], closedRing[j+1]
			if segmentsIntersect(a1, a2, b1, b2) {
				return true
			}
		}
	}
	return false
}

// Overlaps implements "Polygon overlap" (§6): any vertex of one ring inside
// the other, or any edge pair intersects.
func Overlaps(a, b []models.Coordinate) bool {
	for _, v := range a {
		if PointInPolygon(v, b) {
			return true
		}
	}
	for _, v := range b {
		if PointInPolygon(v, a) {
			return true
		}
	}
	na, nb := len(a)-1, len(b)-1
	for i := 0; i < na; i++ {
		for j := 0; j < nb; j++ {
			if segmentsIntersect(a[i], a[i+1], b[j], b[j+1]) {
				return true
			}
		}
	}
	return false
}

// Centroid returns the arithmetic mean of a ring's distinct vertices, used
// for cheap "center of zone" reporting (not a true spherical centroid).
func Centroid(ring []models.Coordinate) models.Coordinate {
	distinct := dedupeConsecutive(ring)
	if len(distinct) == 0 {
		return models.Coordinate{}
	}
	var sumLat, sumLon float64
	for _, c := range distinct {
		sumLat += c.Latitude
		sumLon += c.Longitude
	}
	n := float64(len(distinct))
	return models.Coordinate{Latitude: sumLat / n, Longitude: sumLon / n}
}
