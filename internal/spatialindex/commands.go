package spatialindex

import (
	"fmt"
	"time"

	"github.com/tripwatch/geosentry/internal/models"
)

// Command vocabulary consumed by the spatial-index server (§6 "Spatial-index
// command vocabulary"). Collections used: tourists (points), zones
// (polygons), events (optional).
const (
	CollectionTourists = "tourists"
	CollectionZones    = "zones"
	CollectionEvents   = "events"
)

// Command is a fully built, typed spatial-index command. It replaces the
// "dynamic positional argument arrays" anti-pattern named in the design
// notes: callers never assemble []interface{} themselves, only these typed
// constructors do, and the result is consumed solely by Pool.execute via
// client.Do(ctx, cmd.Args()...).
type Command struct {
	Name string
	args []interface{}
}

func (c Command) Args() []interface{} { return c.args }

func build(name string, args ...interface{}) Command {
	full := append([]interface{}{name}, args...)
	return Command{Name: name, args: full}
}

// Ping builds PING.
func Ping() Command { return build("PING") }

// SetPoint builds `SET <coll> <id> [FIELD k v]... [EX ttl] POINT lat lon`.
func SetPoint(coll, id string, fields map[string]string, ttl time.Duration, point models.Coordinate) Command {
	args := []interface{}{coll, id}
	for k, v := range fields {
		args = append(args, "FIELD", k, v)
	}
	if ttl > 0 {
		args = append(args, "EX", int(ttl.Seconds()))
	}
	args = append(args, "POINT", point.Latitude, point.Longitude)
	return build("SET", args...)
}

// SetObject builds `SET <coll> <id> [FIELD k v]... OBJECT <GeoJSON-Polygon>`
// for persisting a zone's polygon with its side fields.
func SetObject(coll, id string, fields map[string]string, geoJSON string) Command {
	args := []interface{}{coll, id}
	for k, v := range fields {
		args = append(args, "FIELD", k, v)
	}
	args = append(args, "OBJECT", geoJSON)
	return build("SET", args...)
}

// Get builds `GET <coll> <id> WITHFIELDS`.
func Get(coll, id string) Command {
	return build("GET", coll, id, "WITHFIELDS")
}

// Del builds `DEL <coll> <id>`.
func Del(coll, id string) Command {
	return build("DEL", coll, id)
}

// Nearby builds `NEARBY <coll> [LIMIT n] POINT lat lon radius-m`.
func Nearby(coll string, limit int, point models.Coordinate, radiusMeters float64) Command {
	args := []interface{}{coll}
	if limit > 0 {
		args = append(args, "LIMIT", limit)
	}
	args = append(args, "POINT", point.Latitude, point.Longitude, radiusMeters)
	return build("NEARBY", args...)
}

// WithinBounds builds `WITHIN <coll> [LIMIT n] BOUNDS minLat minLon maxLat maxLon`.
func WithinBounds(coll string, limit int, box models.BoundingBox) Command {
	args := []interface{}{coll}
	if limit > 0 {
		args = append(args, "LIMIT", limit)
	}
	args = append(args, "BOUNDS", box.MinLat, box.MinLon, box.MaxLat, box.MaxLon)
	return build("WITHIN", args...)
}

// WithinPolygon builds `WITHIN <coll> [LIMIT n] POLYGON lon lat...`.
func WithinPolygon(coll string, limit int, ring []models.Coordinate) Command {
	args := []interface{}{coll}
	if limit > 0 {
		args = append(args, "LIMIT", limit)
	}
	args = append(args, "POLYGON")
	args = append(args, polygonArgs(ring)...)
	return build("WITHIN", args...)
}

// IntersectsPoint builds `INTERSECTS <coll> POINT lat lon`.
func IntersectsPoint(coll string, point models.Coordinate) Command {
	return build("INTERSECTS", coll, "POINT", point.Latitude, point.Longitude)
}

// IntersectsPolygon builds `INTERSECTS <coll> POLYGON lon lat...`.
func IntersectsPolygon(coll string, ring []models.Coordinate) Command {
	args := []interface{}{coll, "POLYGON"}
	args = append(args, polygonArgs(ring)...)
	return build("INTERSECTS", args...)
}

func polygonArgs(ring []models.Coordinate) []interface{} {
	args := make([]interface{}, 0, len(ring)*2)
	for _, c := range ring {
		args = append(args, c.Longitude, c.Latitude)
	}
	return args
}

// SetHook builds `SETHOOK <name> <URL> WITHIN <coll> POLYGON lon lat...`.
func SetHook(name, url, coll string, ring []models.Coordinate) Command {
	args := []interface{}{name, url, "WITHIN", coll, "POLYGON"}
	args = append(args, polygonArgs(ring)...)
	return build("SETHOOK", args...)
}

// DelHook builds `PDELHOOK <name>`.
func DelHook(name string) Command {
	return build("PDELHOOK", name)
}

// Stats builds `STATS <coll>`.
func Stats(coll string) Command { return build("STATS", coll) }

// Server builds `SERVER`.
func Server() Command { return build("SERVER") }

// Scan builds `SCAN <coll> [LIMIT n] [WITHFIELDS]`.
func Scan(coll string, limit int, withFields bool) Command {
	args := []interface{}{coll}
	if limit > 0 {
		args = append(args, "LIMIT", limit)
	}
	if withFields {
		args = append(args, "WITHFIELDS")
	}
	return build("SCAN", args...)
}

// BGRewriteAOF builds the `BGREWRITEAOF` optimization command.
func BGRewriteAOF() Command { return build("BGREWRITEAOF") }

// ZoneFields formats a zone's side fields per §4.4 "Creation contract":
// {name, type, status, description, riskLevel, createdBy, createdAt,
// updatedAt}.
func ZoneFields(z *models.Zone) map[string]string {
	return map[string]string{
		"name":        z.Name,
		"type":        string(z.Type),
		"status":      string(z.Status),
		"description": z.Description,
		"riskLevel":   fmt.Sprintf("%d", z.RiskLevel),
		"createdBy":   z.CreatedBy,
		"createdAt":   z.CreatedAt.Format(time.RFC3339),
		"updatedAt":   z.UpdatedAt.Format(time.RFC3339),
	}
}
