// Package geo implements the pure geospatial primitives shared by the zone
// manager, location indexer and orchestrator: distance, area,
// self-intersection, point-in-polygon, overlap and unit conversion. None of
// it performs I/O; it is grounded on the haversine implementation in the
// dog-walking tracking service's internal/utils/distance.go, generalized
// from a single "walk route" use case to the full primitive table.
package geo

import (
	"errors"
	"math"

	"github.com/tripwatch/geosentry/internal/models"
)

// EarthRadiusMeters is the WGS-84 equatorial radius (semi-major axis) used
// by the haversine formula.
const EarthRadiusMeters = 6378137.0

// WGS-84 ellipsoid parameters used by the Vincenty inverse formula.
const (
	wgs84SemiMajorAxis   = 6378137.0
	wgs84SemiMinorAxis   = 6356752.314245
	wgs84Flattening      = 1 / 298.257223563
	vincentyMaxIterations = 100
	vincentyTolerance     = 1e-12
)

// Unit is a supported length unit (§6 "Supported length units").
type Unit string

const (
	UnitMeters     Unit = "m"
	UnitKilometers Unit = "km"
	UnitMiles      Unit = "mi"
	UnitFeet       Unit = "ft"
	UnitNauticalMi Unit = "nmi"
)

// metersPerUnit are the fixed conversion factors from §6.
var metersPerUnit = map[Unit]float64{
	UnitMeters:     1,
	UnitKilometers: 1000,
	UnitMiles:      1609.344,
	UnitFeet:       0.3048,
	UnitNauticalMi: 1852,
}

var ErrUnknownUnit = errors.New("geo: unknown length unit")

// ConvertFromMeters rescales a distance in meters to the unit to;
// ConvertBetween converts between any two supported units.
func ConvertFromMeters(meters float64, to Unit) (float64, error) {
	factor, ok := metersPerUnit[to]
	if !ok {
		return 0, ErrUnknownUnit
	}
	return meters / factor, nil
}

// ConvertBetween converts a distance expressed in "from" units into "to"
// units; ConvertBetween(ConvertBetween(d,a,b),b,a) ≈ d (§8 "Unit
// conversion" law).
func ConvertBetween(d float64, from, to Unit) (float64, error) {
	fFactor, ok := metersPerUnit[from]
	if !ok {
		return 0, ErrUnknownUnit
	}
	tFactor, ok := metersPerUnit[to]
	if !ok {
		return 0, ErrUnknownUnit
	}
	meters := d * fFactor
	return meters / tFactor, nil
}

func degToRad(d float64) float64 { return d * math.Pi / 180 }

// HaversineMeters computes the great-circle distance between a and b in
// meters using the formula in §6 "Geospatial primitives".
func HaversineMeters(a, b models.Coordinate) float64 {
	phi1, phi2 := degToRad(a.Latitude), degToRad(b.Latitude)
	dPhi := degToRad(b.Latitude - a.Latitude)
	dLambda := degToRad(b.Longitude - a.Longitude)

	sinDPhi := math.Sin(dPhi / 2)
	sinDLambda := math.Sin(dLambda / 2)
	h := sinDPhi*sinDPhi + math.Cos(phi1)*math.Cos(phi2)*sinDLambda*sinDLambda
	h = math.Min(1, math.Max(0, h))
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

// VincentyMeters computes the geodesic distance between a and b on the
// WGS-84 ellipsoid using the inverse formula, falling back to
// HaversineMeters when the series fails to converge within
// vincentyMaxIterations (§6 "Vincenty distance").
func VincentyMeters(a, b models.Coordinate) float64 {
	L := degToRad(b.Longitude - a.Longitude)
	U1 := math.Atan((1 - wgs84Flattening) * math.Tan(degToRad(a.Latitude)))
	U2 := math.Atan((1 - wgs84Flattening) * math.Tan(degToRad(b.Latitude)))
	sinU1, cosU1 := math.Sin(U1), math.Cos(U1)
	sinU2, cosU2 := math.Sin(U2), math.Cos(U2)

	lambda := L
	var sinSigma, cosSigma, sigma, cosSqAlpha, cos2SigmaM float64

	for i := 0; i < vincentyMaxIterations; i++ {
		sinLambda, cosLambda := math.Sin(lambda), math.Cos(lambda)
		sinSigma = math.Sqrt(
			(cosU2*sinLambda)*(cosU2*sinLambda) +
				(cosU1*sinU2-sinU1*cosU2*cosLambda)*(cosU1*sinU2-sinU1*cosU2*cosLambda))
		if sinSigma == 0 {
			return 0 // coincident points
		}
		cosSigma = sinU1*sinU2 + cosU1*cosU2*cosLambda
		sigma = math.Atan2(sinSigma, cosSigma)
		sinAlpha := cosU1 * cosU2 * sinLambda / sinSigma
		cosSqAlpha = 1 - sinAlpha*sinAlpha
		if cosSqAlpha != 0 {
			cos2SigmaM = cosSigma - 2*sinU1*sinU2/cosSqAlpha
		} else {
			cos2SigmaM = 0 // equatorial line
		}
		C := wgs84Flattening / 16 * cosSqAlpha * (4 + wgs84Flattening*(4-3*cosSqAlpha))
		lambdaPrev := lambda
		lambda = L + (1-C)*wgs84Flattening*sinAlpha*
			(sigma + C*sinSigma*(cos2SigmaM+C*cosSigma*(-1+2*cos2SigmaM*cos2SigmaM)))
		if math.Abs(lambda-lambdaPrev) < vincentyTolerance {
			uSq := cosSqAlpha * (wgs84SemiMajorAxis*wgs84SemiMajorAxis - wgs84SemiMinorAxis*wgs84SemiMinorAxis) / (wgs84SemiMinorAxis * wgs84SemiMinorAxis)
			A := 1 + uSq/16384*(4096+uSq*(-768+uSq*(320-175*uSq)))
			B := uSq / 1024 * (256 + uSq*(-128+uSq*(74-47*uSq)))
			deltaSigma := B * sinSigma * (cos2SigmaM + B/4*(cosSigma*(-1+2*cos2SigmaM*cos2SigmaM)-
				B/6*cos2SigmaM*(-3+4*sinSigma*sinSigma)*(-3+4*cos2SigmaM*cos2SigmaM)))
			return wgs84SemiMinorAxis * A * (sigma - deltaSigma)
		}
	}
	// Failed to converge (e.g. near-antipodal points): fall back to
	// haversine per §6 "Vincenty distance".
	return HaversineMeters(a, b)
}

// Algorithm names the distance algorithm picked by AutoDistance.
type Algorithm string

const (
	AlgorithmHaversine Algorithm = "haversine"
	AlgorithmVincenty   Algorithm = "vincenty"
)

// AutoDistance implements the "Algorithm selection (auto)" rule from §6:
// rough distance <100m uses haversine, 100m-20km uses vincenty; beyond that
// the reference behavior "falls back to Vincenty" as documented, since no
// index-distance backend is wired here.
func AutoDistance(a, b models.Coordinate) (meters float64, alg Algorithm) {
	rough := HaversineMeters(a, b)
	if rough < 100 {
		return rough, AlgorithmHaversine
	}
	return VincentyMeters(a, b), AlgorithmVincenty
}

// DistanceWithAlgorithm computes distance in meters using an explicitly
// chosen algorithm, used by calculateDistance when a caller pins alg.
func DistanceWithAlgorithm(a, b models.Coordinate, alg Algorithm) float64 {
	switch alg {
	case AlgorithmVincenty:
		return VincentyMeters(a, b)
	default:
		return HaversineMeters(a, b)
	}
}

// NearestPoint returns the index and distance (meters) of the point in
// candidates closest to origin.
func NearestPoint(origin models.Coordinate, candidates []models.Coordinate) (index int, meters float64) {
	index = -1
	meters = math.Inf(1)
	for i, c := range candidates {
		d := HaversineMeters(origin, c)
		if d < meters {
			meters = d
			index = i
		}
	}
	return index, meters
}

// DistanceMatrix computes the pairwise haversine distance (meters) between
// every coordinate in points.
func DistanceMatrix(points []models.Coordinate) [][]float64 {
	n := len(points)
	matrix := make([][]float64, n)
	for i := range matrix {
		matrix[i] = make([]float64, n)
		for j := range matrix[i] {
			if i == j {
				continue
			}
			matrix[i][j] = HaversineMeters(points[i], points[j])
		}
	}
	return matrix
}
