package spatialindex

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripwatch/geosentry/internal/models"
)

func TestSetPointBuildsExpectedArgs(t *testing.T) {
	point := models.Coordinate{Latitude: 28.6139, Longitude: 77.2090}
	cmd := SetPoint(CollectionTourists, "user-1", map[string]string{"speed": "1.2"}, 1*time.Hour, point)

	require.Equal(t, "SET", cmd.Name)
	args := cmd.Args()
	assert.Equal(t, "SET", args[0])
	assert.Equal(t, CollectionTourists, args[1])
	assert.Equal(t, "user-1", args[2])
	assert.Contains(t, args, "FIELD")
	assert.Contains(t, args, "EX")
	assert.Contains(t, args, "POINT")
	assert.Equal(t, point.Latitude, args[len(args)-2])
	assert.Equal(t, point.Longitude, args[len(args)-1])
}

func TestWithinPolygonOrdersLonLat(t *testing.T) {
	ring := []models.Coordinate{
		{Latitude: 1, Longitude: 2},
		{Latitude: 3, Longitude: 4},
	}
	cmd := WithinPolygon(CollectionZones, 10, ring)
	args := cmd.Args()
	assert.Equal(t, "WITHIN", args[0])
	assert.Equal(t, CollectionZones, args[1])
	assert.Equal(t, "LIMIT", args[2])
	assert.Equal(t, 10, args[3])
	assert.Equal(t, "POLYGON", args[4])
	assert.Equal(t, 2.0, args[5]) // lon first
	assert.Equal(t, 1.0, args[6]) // then lat
}

func TestZoneFieldsIncludesRiskLevel(t *testing.T) {
	z := &models.Zone{
		Name: "Red Fort", Type: models.ZoneTouristFriendly, Status: models.ZoneStatusActive,
		RiskLevel: 3, CreatedBy: "admin",
	}
	fields := ZoneFields(z)
	assert.Equal(t, "3", fields["riskLevel"])
	assert.Equal(t, "tourist_friendly", fields["type"])
}
