package geometry

import (
	"testing"
)

func TestPointDivFloor(t *testing.T) {
	tests := []struct {
		name string
		p    Point
		size Size
		want Point
	}{
		{"origin", Point{0, 0}, Size{256, 256}, Point{0, 0}},
		{"inside first tile", Point{255, 255}, Size{256, 256}, Point{0, 0}},
		{"tile boundary", Point{256, 256}, Size{256, 256}, Point{1, 1}},
		{"negative", Point{-1, -1}, Size{256, 256}, Point{-1, -1}},
		{"asymmetric", Point{513, 100}, Size{256, 128}, Point{2, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.DivFloor(tt.size); got != tt.want {
				t.Errorf("%v.DivFloor(%v) = %v, want %v", tt.p, tt.size, got, tt.want)
			}
		})
	}
}

func TestSizeDivCeil(t *testing.T) {
	tests := []struct {
		name string
		s    Size
		t    Size
		want Size
	}{
		{"exact", Size{512, 512}, Size{256, 256}, Size{2, 2}},
		{"partial", Size{513, 511}, Size{256, 256}, Size{3, 2}},
		{"single pixel", Size{1, 1}, Size{256, 256}, Size{1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.s.DivCeil(tt.t); got != tt.want {
				t.Errorf("%v.DivCeil(%v) = %v, want %v", tt.s, tt.t, got, tt.want)
			}
		})
	}
}

// The last covered tile computed from an exclusive end must agree with the
// tile count: floor((end-1)/ts) == ceil(end/ts)-1 for end > 0.
func TestTileEndEquivalence(t *testing.T) {
	ts := Size{256, 256}
	for end := 1; end <= 1024; end++ {
		fromFloor := Point{end - 1, end - 1}.DivFloor(ts)
		fromCeil := Size{end, end}.DivCeil(ts).ToPoint().Sub(Point{1, 1})
		if fromFloor != fromCeil {
			t.Fatalf("end=%d: floor form %v != ceil form %v", end, fromFloor, fromCeil)
		}
	}
}

func TestRegionIsInside(t *testing.T) {
	bounds := Region{Size: Size{1000, 800}}
	tests := []struct {
		name   string
		region Region
		want   bool
	}{
		{"full", Region{Size: Size{1000, 800}}, true},
		{"interior", Region{Point{10, 10}, Size{100, 100}}, true},
		{"touching end", Region{Point{900, 700}, Size{100, 100}}, true},
		{"past right", Region{Point{901, 0}, Size{100, 100}}, false},
		{"negative start", Region{Point{-1, 0}, Size{10, 10}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.region.IsInside(bounds); got != tt.want {
				t.Errorf("IsInside = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRegionInsideCrop(t *testing.T) {
	tileSize := Size{256, 256}

	// A region fully covering an interior tile keeps the whole tile.
	region := Region{Point{0, 0}, Size{1024, 1024}}
	crop := region.InsideCrop(Point{1, 1}, tileSize)
	if crop.Position != (Point{0, 0}) || crop.Size != tileSize {
		t.Errorf("interior crop = %v, want full tile", crop)
	}

	// An image edge cuts the last tile short.
	image := Region{Point{0, 0}, Size{1000, 1000}}
	crop = image.InsideCrop(Point{3, 3}, tileSize)
	want := Size{1000 - 3*256, 1000 - 3*256}
	if crop.Position != (Point{0, 0}) || crop.Size != want {
		t.Errorf("edge crop = %v, want size %v at origin", crop, want)
	}

	// A region starting mid-tile crops from the tile-local offset.
	region = Region{Point{300, 300}, Size{100, 100}}
	crop = region.InsideCrop(Point{1, 1}, tileSize)
	if crop.Position != (Point{44, 44}) || crop.Size != (Size{100, 100}) {
		t.Errorf("mid-tile crop = %v", crop)
	}
}

func TestRegionIntersection(t *testing.T) {
	a := Region{Point{0, 0}, Size{100, 100}}
	b := Region{Point{50, 60}, Size{100, 100}}
	got := a.Intersection(b)
	want := Region{Point{50, 60}, Size{50, 40}}
	if got != want {
		t.Errorf("Intersection = %v, want %v", got, want)
	}

	// Disjoint regions intersect to zero size.
	c := Region{Point{200, 200}, Size{10, 10}}
	if got := a.Intersection(c); !got.Size.IsZero() {
		t.Errorf("disjoint Intersection = %v, want zero size", got)
	}
}

func TestRegionPointsRowMajor(t *testing.T) {
	r := Region{Point{1, 1}, Size{2, 2}}
	got := r.Points(false)
	want := []Point{{1, 1}, {2, 1}, {1, 2}, {2, 2}}
	if len(got) != len(want) {
		t.Fatalf("Points = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Points[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	// Inclusive iteration visits the end coordinates too.
	inclusive := (Region{Point{0, 0}, Size{1, 1}}).Points(true)
	if len(inclusive) != 4 {
		t.Errorf("inclusive Points = %v, want 4 points", inclusive)
	}
}

func TestMmConversionRoundTrip(t *testing.T) {
	spacing := SizeMm{0.0005, 0.0005}
	p := Point{2048, 1024}
	mm := p.ToMm(spacing)
	if mm.X != 1.024 || mm.Y != 0.512 {
		t.Errorf("ToMm = %v", mm)
	}
	back := mm.ToPixel(spacing)
	if back != p {
		t.Errorf("round trip = %v, want %v", back, p)
	}
}
