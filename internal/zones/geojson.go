package zones

import (
	"encoding/json"

	"github.com/tripwatch/geosentry/internal/models"
)

// geoJSONPolygon is the minimal GeoJSON Polygon representation the
// spatial-index server accepts for `SET zones <id> OBJECT <GeoJSON-Polygon>`
// (§6 "Spatial-index command vocabulary").
type geoJSONPolygon struct {
	Type        string        `json:"type"`
	Coordinates [][][2]float64 `json:"coordinates"`
}

// toGeoJSON serializes a closed ring (lat/lon pairs) into GeoJSON's
// required (lon, lat) coordinate order.
func toGeoJSON(ring []models.Coordinate) (string, error) {
	outer := make([][2]float64, len(ring))
	for i, c := range ring {
		outer[i] = [2]float64{c.Longitude, c.Latitude}
	}
	poly := geoJSONPolygon{Type: "Polygon", Coordinates: [][][2]float64{outer}}
	data, err := json.Marshal(poly)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// fromGeoJSON parses a stored polygon back into a coordinate ring.
func fromGeoJSON(raw string) ([]models.Coordinate, error) {
	var poly geoJSONPolygon
	if err := json.Unmarshal([]byte(raw), &poly); err != nil {
		return nil, err
	}
	if len(poly.Coordinates) == 0 {
		return nil, nil
	}
	ring := make([]models.Coordinate, len(poly.Coordinates[0]))
	for i, pt := range poly.Coordinates[0] {
		ring[i] = models.Coordinate{Longitude: pt[0], Latitude: pt[1]}
	}
	return ring, nil
}
