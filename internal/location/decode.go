package location

import (
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tripwatch/geosentry/internal/geo"
	"github.com/tripwatch/geosentry/internal/models"
)

// decodeLocation reconstructs a LocationUpdate from a `GET ... WITHFIELDS`
// reply. The spatial-index wire format returns a generic RESP array; the
// shape decoded here is ["POINT", [lat, lon], "FIELDS", [k, v, k, v, ...]],
// matching the field layout SetPoint writes in internal/spatialindex.
func decodeLocation(userID string, cmd *redis.Cmd) (*models.LocationUpdate, error) {
	raw, err := cmd.Result()
	if err != nil {
		return nil, fmt.Errorf("location: decode GET reply: %w", err)
	}
	items, ok := raw.([]interface{})
	if !ok || len(items) < 2 {
		return nil, fmt.Errorf("location: unexpected GET reply shape")
	}

	loc := &models.LocationUpdate{UserID: userID, Timestamp: time.Now()}
	for i := 0; i < len(items)-1; i++ {
		tag, _ := items[i].(string)
		switch tag {
		case "POINT":
			if pt, ok := items[i+1].([]interface{}); ok && len(pt) == 2 {
				lat, _ := toFloat(pt[0])
				lon, _ := toFloat(pt[1])
				loc.Coordinate = models.Coordinate{Latitude: lat, Longitude: lon}
			}
		case "FIELDS":
			if kv, ok := items[i+1].([]interface{}); ok {
				applyFields(loc, kv)
			}
		}
	}
	return loc, nil
}

func applyFields(loc *models.LocationUpdate, kv []interface{}) {
	for i := 0; i+1 < len(kv); i += 2 {
		k, _ := kv[i].(string)
		v, _ := kv[i+1].(string)
		switch k {
		case "timestamp":
			if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
				loc.Timestamp = ts
			}
		case "deviceId":
			loc.DeviceID = v
		case "networkType":
			loc.NetworkType = v
		case "source":
			loc.Source = v
		}
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// decodeNearbyResults parses a NEARBY/WITHIN reply of repeated
// id, [lat, lon] pairs into NearbyResult values, computing
// distance from origin via haversine when origin is non-zero.
func decodeNearbyResults(cmd *redis.Cmd, origin models.Coordinate) ([]NearbyResult, error) {
	raw, err := cmd.Result()
	if err != nil {
		return nil, fmt.Errorf("location: decode spatial query reply: %w", err)
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, nil
	}

	out := make([]NearbyResult, 0, len(items))
	for i := 0; i+1 < len(items); i += 2 {
		id, _ := items[i].(string)
		pt, ok := items[i+1].([]interface{})
		if !ok || len(pt) != 2 {
			continue
		}
		lat, _ := toFloat(pt[0])
		lon, _ := toFloat(pt[1])
		coord := models.Coordinate{Latitude: lat, Longitude: lon}

		result := NearbyResult{UserID: id, Coordinate: coord}
		if origin.Latitude != 0 || origin.Longitude != 0 {
			d := geo.HaversineMeters(origin, coord)
			result.DistanceM = &d
		}
		out = append(out, result)
	}
	return out, nil
}
