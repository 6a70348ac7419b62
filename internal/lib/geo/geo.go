package geo

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-polyline"
)

// EarthRadiusMeters is the mean Earth radius used by the haversine formula
const EarthRadiusMeters = 6371000.0

// ErrInvalidCoordinate is returned when a latitude or longitude is out of range
var ErrInvalidCoordinate = eris.New("invalid coordinates: latitude must be [-90, 90], longitude must be [-180, 180]")

// NewPoint creates a Point from latitude and longitude values with validation
func NewPoint(latitude, longitude float64) (Point, error) {
	point := Point{Latitude: latitude, Longitude: longitude}
	if !point.Valid() || math.IsNaN(latitude) || math.IsNaN(longitude) {
		return Point{}, eris.Wrapf(ErrInvalidCoordinate, "got (%f, %f)", latitude, longitude)
	}
	return point, nil
}

// ValidatePoints returns an error naming the first invalid point in the sequence
func ValidatePoints(points []Point) error {
	for i, p := range points {
		if !p.Valid() || math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude) {
			return eris.Wrapf(ErrInvalidCoordinate, "point %d (%f, %f)", i, p.Latitude, p.Longitude)
		}
	}
	return nil
}

// Distance calculates great-circle distance between two points in meters using the Haversine formula
func Distance(p1, p2 Point) float64 {
	if p1 == p2 {
		return 0
	}

	lat1 := p1.Latitude * math.Pi / 180
	lon1 := p1.Longitude * math.Pi / 180
	lat2 := p2.Latitude * math.Pi / 180
	lon2 := p2.Longitude * math.Pi / 180

	dlat := lat2 - lat1
	dlon := lon2 - lon1

	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	// Rounding can push a a hair past 1 for antipodal points
	a = math.Min(1, math.Max(0, a))
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// Interpolate returns the point a fraction t along the segment start->end.
//
// The interpolation is linear in (lon, lat) space. For city-scale segments
// (well under 10km) the error against the true great-circle point is far below
// the sampling spacing, so this is not geodesically exact but adequate.
func Interpolate(start, end Point, t float64) Point {
	switch {
	case t <= 0:
		return start
	case t >= 1:
		return end
	}
	return Point{
		Latitude:  start.Latitude + t*(end.Latitude-start.Latitude),
		Longitude: start.Longitude + t*(end.Longitude-start.Longitude),
	}
}

// PolylineLength sums the haversine length of every segment
func PolylineLength(points []Point) float64 {
	total := 0.0
	for i := 1; i < len(points); i++ {
		total += Distance(points[i-1], points[i])
	}
	return total
}

// PointToPolyline returns the distance from point to the closest vertex of the polyline.
// Callers that need segment accuracy should resample the polyline first.
func PointToPolyline(point Point, points []Point) float64 {
	minDistance := math.Inf(1)
	for _, p := range points {
		if d := Distance(point, p); d < minDistance {
			minDistance = d
		}
	}
	return minDistance
}

// DecodePolyline decodes Google polyline string to point sequence
func DecodePolyline(encoded string) ([]Point, error) {
	if encoded == "" {
		return nil, eris.New("encoded polyline string is empty")
	}

	coords, _, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, eris.Wrap(err, "failed to decode polyline")
	}

	points := make([]Point, len(coords))
	for i, coord := range coords {
		points[i] = Point{
			Latitude:  coord[0],
			Longitude: coord[1],
		}
	}

	if err := ValidatePoints(points); err != nil {
		return nil, eris.Wrap(err, "decoded polyline contains invalid coordinates")
	}

	return points, nil
}

// EncodePolyline encodes points using the Google polyline algorithm
func EncodePolyline(points []Point) string {
	coords := make([][]float64, len(points))
	for i, p := range points {
		coords[i] = []float64{p.Latitude, p.Longitude}
	}
	return string(polyline.EncodeCoords(coords))
}
