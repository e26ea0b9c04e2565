// Package models holds the wire/storage types shared by every component of
// the geofencing engine: coordinates, zones, location updates, geofence
// events and webhook subscriptions.
package models

import (
	"errors"
	"fmt"
	"math"
)

// Coordinate is a WGS-84 point. Most spatial-index protocols exchange
// (lon, lat) order; conversion to that order happens only at the command
// builders in internal/spatialindex, never here.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

var (
	ErrLatitudeOutOfRange  = errors.New("models: latitude out of range [-90,90]")
	ErrLongitudeOutOfRange = errors.New("models: longitude out of range [-180,180]")
)

// Validate checks the coordinate lies on the WGS-84 sphere's valid domain.
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Latitude) || c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("%w: got %f", ErrLatitudeOutOfRange, c.Latitude)
	}
	if math.IsNaN(c.Longitude) || c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("%w: got %f", ErrLongitudeOutOfRange, c.Longitude)
	}
	return nil
}

// Quantize rounds both axes to 6 decimal places, the precision the cache key
// scheme (§ Cache entries) requires so that semantically-equal lookups share
// a key.
func (c Coordinate) Quantize() Coordinate {
	return Coordinate{
		Latitude:  math.Round(c.Latitude*1e6) / 1e6,
		Longitude: math.Round(c.Longitude*1e6) / 1e6,
	}
}

// BoundingBox is a zone's box derived from its polygon ring, or a box a
// caller supplies directly to a within query.
type BoundingBox struct {
	MinLat float64 `json:"minLat"`
	MaxLat float64 `json:"maxLat"`
	MinLon float64 `json:"minLon"`
	MaxLon float64 `json:"maxLon"`
}

// Valid reports whether the box satisfies min <= max on both axes.
func (b BoundingBox) Valid() bool {
	return b.MinLat <= b.MaxLat && b.MinLon <= b.MaxLon
}

// CalculateBoundingBox derives the smallest axis-aligned box enclosing ring.
func CalculateBoundingBox(ring []Coordinate) BoundingBox {
	if len(ring) == 0 {
		return BoundingBox{}
	}
	bbox := BoundingBox{
		MinLat: ring[0].Latitude, MaxLat: ring[0].Latitude,
		MinLon: ring[0].Longitude, MaxLon: ring[0].Longitude,
	}
	for _, p := range ring[1:] {
		bbox.MinLat = math.Min(bbox.MinLat, p.Latitude)
		bbox.MaxLat = math.Max(bbox.MaxLat, p.Latitude)
		bbox.MinLon = math.Min(bbox.MinLon, p.Longitude)
		bbox.MaxLon = math.Max(bbox.MaxLon, p.Longitude)
	}
	return bbox
}
