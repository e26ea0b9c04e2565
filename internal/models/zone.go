package models

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

// ZoneType classifies the safety posture of a zone.
type ZoneType string

const (
	ZoneSafe            ZoneType = "safe"
	ZoneCaution         ZoneType = "caution"
	ZoneRestricted      ZoneType = "restricted"
	ZoneHighRisk        ZoneType = "high_risk"
	ZoneEmergency       ZoneType = "emergency"
	ZoneTouristFriendly ZoneType = "tourist_friendly"
)

// ZoneStatus is the lifecycle state of a zone record.
type ZoneStatus string

const (
	ZoneStatusActive      ZoneStatus = "active"
	ZoneStatusInactive    ZoneStatus = "inactive"
	ZoneStatusMaintenance ZoneStatus = "maintenance"
)

// DefaultRiskLevels implements the "Default risk-level table" (§4.4).
var DefaultRiskLevels = map[ZoneType]int{
	ZoneSafe:            2,
	ZoneTouristFriendly: 3,
	ZoneCaution:         5,
	ZoneRestricted:      7,
	ZoneHighRisk:        9,
	ZoneEmergency:       10,
}

var zoneNamePattern = regexp.MustCompile(`^[A-Za-z0-9 _-]{3,100}$`)

const (
	MinZoneAreaSqMeters = 100.0
	MaxZoneAreaSqMeters = 1e9
	MinZoneVertices     = 3
	MaxZoneVertices     = 100
)

// Zone is a persistent polygonal region, per §3 "Zone".
type Zone struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	Type             ZoneType     `json:"type"`
	Status           ZoneStatus   `json:"status"`
	Description      string       `json:"description,omitempty"`
	Coordinates      []Coordinate `json:"coordinates"`
	BoundingBox      BoundingBox  `json:"boundingBox"`
	RiskLevel        int          `json:"riskLevel"`
	AlertMessage     string       `json:"alertMessage,omitempty"`
	EmergencyContact []string     `json:"emergencyContacts,omitempty"`
	CreatedBy        string       `json:"createdBy"`
	CreatedAt        time.Time    `json:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`

	// version is bumped on every mutation; used only for optimistic
	// invalidation of the in-memory zone cache, never exposed on the wire.
	version int
}

// NewZoneID mints an opaque zone identifier.
func NewZoneID() string {
	return uuid.NewString()
}

// Version returns the zone's internal optimistic-concurrency counter.
func (z *Zone) Version() int { return z.version }

// BumpVersion increments the optimistic-concurrency counter; called by the
// zone manager on every successful create/update.
func (z *Zone) BumpVersion() { z.version++ }

// ValidNameFormat reports whether name satisfies the 3-100 char
// [A-Za-z0-9 _-] pattern required by §3 "Zone".
func ValidNameFormat(name string) bool {
	return zoneNamePattern.MatchString(name)
}

// ValidZoneType reports membership in the fixed type enum.
func ValidZoneType(t ZoneType) bool {
	_, ok := DefaultRiskLevels[t]
	return ok
}

// ValidZoneStatus reports membership in the fixed status enum.
func ValidZoneStatus(s ZoneStatus) bool {
	switch s {
	case ZoneStatusActive, ZoneStatusInactive, ZoneStatusMaintenance:
		return true
	default:
		return false
	}
}

// ClosedRing returns ring with the first vertex appended if it isn't already
// equal to the last, auto-closing the polygon per the Zone invariant.
func ClosedRing(ring []Coordinate) []Coordinate {
	if len(ring) == 0 {
		return ring
	}
	first, last := ring[0], ring[len(ring)-1]
	if first.Latitude == last.Latitude && first.Longitude == last.Longitude {
		return ring
	}
	closed := make([]Coordinate, len(ring)+1)
	copy(closed, ring)
	closed[len(ring)] = first
	return closed
}
