package models

import "time"

// RetryConfig controls a webhook's delivery retry behavior.
type RetryConfig struct {
	MaxRetries         int           `json:"maxRetries"`
	RetryDelay         time.Duration `json:"retryDelay"`
	ExponentialBackoff bool          `json:"exponentialBackoff"`
}

// DefaultRetryConfig mirrors C8's defaults (§4.8 "Delivery loop").
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, RetryDelay: 500 * time.Millisecond, ExponentialBackoff: false}
}

// WebhookConfig is a subscriber record (§3 "WebhookConfig").
type WebhookConfig struct {
	ID            string              `json:"id"`
	Name          string              `json:"name"`
	URL           string              `json:"url"`
	Secret        string              `json:"secret,omitempty"`
	Enabled       bool                `json:"enabled"`
	ZoneIDs       map[string]struct{} `json:"-"`
	ZoneTypes     map[ZoneType]struct{} `json:"-"`
	EventTypes    map[GeofenceEventType]struct{} `json:"-"`
	Retry         RetryConfig         `json:"retry"`
	CustomHeaders map[string]string   `json:"customHeaders,omitempty"`
	CreatedAt     time.Time           `json:"createdAt"`
	UpdatedAt     time.Time           `json:"updatedAt"`

	// LastDeliveryAt and ConsecutiveFailures back the per-webhook circuit
	// breaker in the dispatcher; they are bookkeeping, never serialized.
	LastDeliveryAt      time.Time `json:"-"`
	ConsecutiveFailures int       `json:"-"`
}

// Matches implements the matching rule from §3 "WebhookConfig":
// enabled AND eventType in eventTypes AND (zoneIds empty OR event.zoneId in
// zoneIds) AND (zoneTypes empty OR event.zoneType in zoneTypes).
func (w *WebhookConfig) Matches(e *GeofenceEvent) bool {
	if !w.Enabled {
		return false
	}
	if _, ok := w.EventTypes[e.EventType]; !ok {
		return false
	}
	if len(w.ZoneIDs) > 0 {
		if _, ok := w.ZoneIDs[e.ZoneID]; !ok {
			return false
		}
	}
	if len(w.ZoneTypes) > 0 {
		if _, ok := w.ZoneTypes[e.ZoneType]; !ok {
			return false
		}
	}
	return true
}

// WebhookPayload is the wire body POSTed to a subscriber (§6 "Webhook wire
// format").
type WebhookPayload struct {
	Event     GeofenceEvent `json:"event"`
	Zone      Zone          `json:"zone"`
	User      WebhookUser   `json:"user"`
	Timestamp time.Time     `json:"timestamp"`
	Signature string        `json:"signature,omitempty"`
}

type WebhookUser struct {
	ID string `json:"id"`
}
