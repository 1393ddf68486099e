package models

import "canvass-bknd/internal/geo"

// Boundary is a named polygonal area drawn on the map. The ring is closed:
// the first vertex is repeated at the end.
type Boundary struct {
	AreaNumber string      `json:"areaNumber"`
	Ring       []geo.Point `json:"ring"`
}

// BoundaryDocument is the persisted shape of a boundary. Rings are stored
// GeoJSON-style as [lng, lat] pairs.
type BoundaryDocument struct {
	AreaNumber string       `json:"areaNumber"`
	Ring       [][2]float64 `json:"ring"`
}

// ToDocument converts a boundary to its persisted shape.
func (b *Boundary) ToDocument() *BoundaryDocument {
	doc := &BoundaryDocument{
		AreaNumber: b.AreaNumber,
		Ring:       make([][2]float64, len(b.Ring)),
	}
	for i, p := range b.Ring {
		doc.Ring[i] = [2]float64{p.Lng, p.Lat}
	}
	return doc
}

// ToBoundary converts a persisted document back to a boundary.
func (d *BoundaryDocument) ToBoundary() *Boundary {
	b := &Boundary{
		AreaNumber: d.AreaNumber,
		Ring:       make([]geo.Point, len(d.Ring)),
	}
	for i, v := range d.Ring {
		b.Ring[i] = geo.Point{Lng: v[0], Lat: v[1]}
	}
	return b
}
