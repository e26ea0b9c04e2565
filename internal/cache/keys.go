package cache

import (
	"fmt"

	"github.com/tripwatch/geosentry/internal/models"
)

// LocationKey returns "location:<userId>" (§3 "Cache entries").
func LocationKey(userID string) string {
	return PrefixLocation + userID
}

// ZoneKey returns "zone:<zoneId>".
func ZoneKey(zoneID string) string {
	return PrefixZone + zoneID
}

// NearbyKey returns "nearby:<lat6>:<lon6>:<radius>", quantizing the center
// to 6 decimal places. radius is included in the key as specified; per the
// open question in §9 DESIGN NOTES about key collisions across differing
// radii, radius itself is also effectively quantized by formatting with a
// fixed precision, so two floating radii that round to the same value share
// a cache entry (the NEARBY query's own precision never exceeds this).
func NearbyKey(center models.Coordinate, radiusMeters float64) string {
	q := center.Quantize()
	return fmt.Sprintf("%s%.6f:%.6f:%.2f", PrefixNearby, q.Latitude, q.Longitude, radiusMeters)
}

// GeofenceKey returns "geofence:<userId>:<lat6>:<lon6>".
func GeofenceKey(userID string, point models.Coordinate) string {
	q := point.Quantize()
	return fmt.Sprintf("%s%s:%.6f:%.6f", PrefixGeofence, userID, q.Latitude, q.Longitude)
}
