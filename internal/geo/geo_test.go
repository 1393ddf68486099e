package geo

import "testing"

var square = []Point{
	{Lng: 0, Lat: 0},
	{Lng: 10, Lat: 0},
	{Lng: 10, Lat: 10},
	{Lng: 0, Lat: 10},
}

func TestPointInRing_Square(t *testing.T) {
	tests := []struct {
		name string
		pt   Point
		want bool
	}{
		{"center", Point{5, 5}, true},
		{"outside right", Point{15, 5}, false},
		{"outside above", Point{5, 15}, false},
		{"outside negative", Point{-1, -1}, false},
		{"near corner inside", Point{0.1, 0.1}, true},
		{"near corner outside", Point{-0.1, 0.1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PointInRing(tt.pt, square); got != tt.want {
				t.Errorf("PointInRing(%v) = %v, want %v", tt.pt, got, tt.want)
			}
		})
	}
}

func TestPointInRing_ClosedRingSameAsOpen(t *testing.T) {
	closed := CloseRing(append([]Point(nil), square...))
	pts := []Point{{5, 5}, {15, 5}, {-3, 2}, {9.9, 9.9}}
	for _, pt := range pts {
		if PointInRing(pt, square) != PointInRing(pt, closed) {
			t.Errorf("open/closed disagree for %v", pt)
		}
	}
}

func TestPointInRing_Concave(t *testing.T) {
	// U-shape: the notch between the arms is outside.
	u := []Point{
		{0, 0}, {10, 0}, {10, 10}, {7, 10}, {7, 3}, {3, 3}, {3, 10}, {0, 10},
	}
	if !PointInRing(Point{1, 5}, u) {
		t.Error("left arm should be inside")
	}
	if !PointInRing(Point{8, 5}, u) {
		t.Error("right arm should be inside")
	}
	if PointInRing(Point{5, 5}, u) {
		t.Error("notch should be outside")
	}
	if !PointInRing(Point{5, 1}, u) {
		t.Error("base should be inside")
	}
}

func TestPointInRing_Degenerate(t *testing.T) {
	pt := Point{1, 1}
	degenerate := [][]Point{
		nil,
		{},
		{{0, 0}},
		{{0, 0}, {5, 5}},
		{{0, 0}, {5, 5}, {0, 0}}, // closed two-vertex ring
	}
	for _, ring := range degenerate {
		if PointInRing(pt, ring) {
			t.Errorf("degenerate ring %v should contain nothing", ring)
		}
	}
}

func TestPointInAnyRing(t *testing.T) {
	far := []Point{{100, 100}, {110, 100}, {110, 110}, {100, 110}}
	if !PointInAnyRing(Point{5, 5}, [][]Point{far, square}) {
		t.Error("expected containment via second ring")
	}
	if PointInAnyRing(Point{50, 50}, [][]Point{far, square}) {
		t.Error("expected no containment")
	}
}

func TestCloseRing(t *testing.T) {
	ring := []Point{{0, 0}, {1, 0}, {1, 1}}
	closed := CloseRing(append([]Point(nil), ring...))
	if len(closed) != 4 || closed[3] != ring[0] {
		t.Fatalf("CloseRing = %v", closed)
	}
	// Already closed: unchanged.
	again := CloseRing(append([]Point(nil), closed...))
	if len(again) != 4 {
		t.Fatalf("CloseRing on closed ring = %v", again)
	}
}
