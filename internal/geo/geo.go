// Package geo provides the geometric primitives used by routing, green-wave
// coordination and tracking: great-circle distances, line-string
// interpolation and the deterministic grid fallback path.
package geo

import "math"

const earthRadiusM = 6371000.0

// Point is a geographic coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// LineString is an ordered list of [lon, lat] pairs, GeoJSON coordinate order.
type LineString [][2]float64

// LineStringFromPoints builds a LineString from lat/lon points.
func LineStringFromPoints(pts ...Point) LineString {
	ls := make(LineString, 0, len(pts))
	for _, p := range pts {
		ls = append(ls, [2]float64{p.Lon, p.Lat})
	}
	return ls
}

// Point returns the i-th vertex as a lat/lon point.
func (ls LineString) Point(i int) Point {
	return Point{Lat: ls[i][1], Lon: ls[i][0]}
}

// Clone returns a deep copy of the line string.
func (ls LineString) Clone() LineString {
	if ls == nil {
		return nil
	}
	out := make(LineString, len(ls))
	copy(out, ls)
	return out
}

// HaversineMeters returns the great-circle distance between two points in metres.
func HaversineMeters(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusM * c
}

// HaversineKm returns the great-circle distance in kilometres.
func HaversineKm(a, b Point) float64 {
	return HaversineMeters(a, b) / 1000
}

// Length returns the total length of the line string in metres.
func (ls LineString) Length() float64 {
	var total float64
	for i := 1; i < len(ls); i++ {
		total += HaversineMeters(ls.Point(i-1), ls.Point(i))
	}
	return total
}

// Interpolate walks the line string until the covered length equals
// progress * total and returns that point. Progress is clamped to [0, 1].
// A line with a single vertex yields that vertex for any progress.
func (ls LineString) Interpolate(progress float64) Point {
	if len(ls) == 0 {
		return Point{}
	}
	if len(ls) == 1 {
		return ls.Point(0)
	}
	if progress <= 0 {
		return ls.Point(0)
	}
	if progress >= 1 {
		return ls.Point(len(ls) - 1)
	}

	total := ls.Length()
	if total <= 0 {
		return ls.Point(0)
	}
	target := progress * total

	var covered float64
	for i := 1; i < len(ls); i++ {
		a, b := ls.Point(i-1), ls.Point(i)
		seg := HaversineMeters(a, b)
		if covered+seg >= target {
			if seg == 0 {
				return a
			}
			f := (target - covered) / seg
			return Point{
				Lat: a.Lat + (b.Lat-a.Lat)*f,
				Lon: a.Lon + (b.Lon-a.Lon)*f,
			}
		}
		covered += seg
	}
	return ls.Point(len(ls) - 1)
}

// PointToSegmentMeters returns the perpendicular distance in metres from p
// to the segment a-b, using an equirectangular projection around the
// segment. Distances in a city-scale bounding box stay well within the
// approximation error of the projection.
func PointToSegmentMeters(p, a, b Point) float64 {
	refLat := (a.Lat + b.Lat) / 2 * math.Pi / 180
	mPerDegLat := earthRadiusM * math.Pi / 180
	mPerDegLon := mPerDegLat * math.Cos(refLat)

	ax, ay := a.Lon*mPerDegLon, a.Lat*mPerDegLat
	bx, by := b.Lon*mPerDegLon, b.Lat*mPerDegLat
	px, py := p.Lon*mPerDegLon, p.Lat*mPerDegLat

	dx, dy := bx-ax, by-ay
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return math.Hypot(px-ax, py-ay)
	}
	t := ((px-ax)*dx + (py-ay)*dy) / lenSq
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return math.Hypot(px-(ax+t*dx), py-(ay+t*dy))
}

// gridOffsetDeg is roughly 100 m of latitude.
const gridOffsetDeg = 0.001

// GridPath produces the deterministic fallback geometry between two points:
// a six-vertex zig-zag that alternates lateral offsets so downstream code
// never receives a trivial straight line.
func GridPath(start, end Point) LineString {
	ls := make(LineString, 0, 6)
	ls = append(ls, [2]float64{start.Lon, start.Lat})

	fractions := [4]float64{0.2, 0.4, 0.6, 0.8}
	for i, f := range fractions {
		lat := start.Lat + (end.Lat-start.Lat)*f
		lon := start.Lon + (end.Lon-start.Lon)*f
		// Alternate latitude and longitude offsets to mimic a street grid.
		if i%2 == 0 {
			lat += gridOffsetDeg
		} else {
			lon += gridOffsetDeg
		}
		ls = append(ls, [2]float64{lon, lat})
	}

	ls = append(ls, [2]float64{end.Lon, end.Lat})
	return ls
}
