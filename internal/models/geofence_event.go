package models

import (
	"time"

	"github.com/google/uuid"
)

// GeofenceEventType enumerates the zone-intersection transitions §3 defines.
type GeofenceEventType string

const (
	EventEnter  GeofenceEventType = "enter"
	EventExit   GeofenceEventType = "exit"
	EventInside GeofenceEventType = "inside"
	EventOutside GeofenceEventType = "outside"
)

// AlertLevel is derived from a zone's risk_level per §3 "Derivation".
type AlertLevel string

const (
	AlertLow      AlertLevel = "low"
	AlertMedium   AlertLevel = "medium"
	AlertHigh     AlertLevel = "high"
	AlertCritical AlertLevel = "critical"
)

// AlertLevelForRisk implements the {>=9: critical, >=7: high, >=5: medium,
// else: low} table from §3 "GeofenceEvent".
func AlertLevelForRisk(riskLevel int) AlertLevel {
	switch {
	case riskLevel >= 9:
		return AlertCritical
	case riskLevel >= 7:
		return AlertHigh
	case riskLevel >= 5:
		return AlertMedium
	default:
		return AlertLow
	}
}

// EventMetadata carries the derived/contextual fields of a GeofenceEvent.
type EventMetadata struct {
	AlertLevel     AlertLevel `json:"alertLevel"`
	EventSource    string     `json:"eventSource,omitempty"`
	PreviousZoneID string     `json:"previousZoneId,omitempty"`
	TimeInZone     *float64   `json:"timeInZone,omitempty"`
}

// GeofenceEvent is a detected zone intersection, produced by C7 and routed
// through C8 (§3 "GeofenceEvent").
type GeofenceEvent struct {
	ID               string            `json:"id"`
	UserID           string            `json:"userId"`
	ZoneID           string            `json:"zoneId"`
	ZoneName         string            `json:"zoneName"`
	ZoneType         ZoneType          `json:"zoneType"`
	EventType        GeofenceEventType `json:"eventType"`
	Coordinate       Coordinate        `json:"coordinate"`
	Timestamp        time.Time         `json:"timestamp"`
	Processed        bool              `json:"processed"`
	WebhookDelivered bool              `json:"webhookDelivered"`
	Metadata         EventMetadata     `json:"metadata"`
}

// NewGeofenceEventID mints an opaque event identifier.
func NewGeofenceEventID() string {
	return uuid.NewString()
}
