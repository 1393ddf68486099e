// Package geo holds the point-in-polygon primitive used for area
// filtering, export scoping and bulk status reset.
package geo

// Point is a [lng, lat] vertex.
type Point struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// PointInRing reports whether pt lies inside the polygon described by
// ring, using ray casting with the even-odd rule. The ring may be open or
// closed (first vertex repeated at the end); both forms give the same
// answer. Rings with fewer than 3 distinct vertices never contain
// anything. A point exactly on an edge is implementation-defined.
func PointInRing(pt Point, ring []Point) bool {
	// Drop the closing vertex so the wrap-around edge is not counted twice.
	n := len(ring)
	if n > 1 && ring[0] == ring[n-1] {
		n--
	}
	if n < 3 {
		return false
	}

	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		vi, vj := ring[i], ring[j]
		if (vi.Lat > pt.Lat) == (vj.Lat > pt.Lat) {
			continue
		}
		// Lng of the edge at the ray's latitude.
		x := (vj.Lng-vi.Lng)*(pt.Lat-vi.Lat)/(vj.Lat-vi.Lat) + vi.Lng
		if pt.Lng < x {
			inside = !inside
		}
	}
	return inside
}

// PointInAnyRing reports whether pt is contained in at least one ring.
func PointInAnyRing(pt Point, rings [][]Point) bool {
	for _, ring := range rings {
		if PointInRing(pt, ring) {
			return true
		}
	}
	return false
}

// CloseRing appends the first vertex to the end when the ring is not
// already closed. It returns the input unchanged for empty rings.
func CloseRing(ring []Point) []Point {
	if len(ring) == 0 {
		return ring
	}
	if ring[0] == ring[len(ring)-1] {
		return ring
	}
	return append(ring, ring[0])
}
