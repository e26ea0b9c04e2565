package store

import (
	"context"

	"github.com/tripwatch/geosentry/internal/models"
)

// NoopStore discards everything; used when the durable sink is disabled so
// the orchestrator always has a Store to call without nil checks.
type NoopStore struct{}

func (NoopStore) SaveZone(ctx context.Context, z *models.Zone) error             { return nil }
func (NoopStore) SaveLocation(ctx context.Context, loc *models.LocationUpdate) error { return nil }
func (NoopStore) SaveEvent(ctx context.Context, e *models.GeofenceEvent) error   { return nil }
func (NoopStore) Close()                                                        {}

var _ Store = NoopStore{}
