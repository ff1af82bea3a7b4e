// Package geometry provides the integer pixel-space and floating-point
// millimeter-space primitives used to address tiles and regions in a
// whole-slide image.
//
// Pixel-space types (Point, Size, Region) use component-wise integer
// arithmetic. Division comes in two flavors: DivFloor rounds toward negative
// infinity and is used to map pixel positions to tile coordinates, DivCeil
// rounds up and is used to count the tiles covering an image. Millimeter
// types convert to pixel space through a pixel spacing (mm per pixel,
// independent per axis).
package geometry

import (
	"fmt"
	"image"
)

// Point is a position in pixel space.
type Point struct {
	X, Y int
}

// Size is an extent in pixel space. Components are expected to be
// non-negative.
type Size struct {
	Width, Height int
}

// Region is a rectangular pixel area defined by its upper-left position and
// its size.
type Region struct {
	Position Point
	Size     Size
}

// floorDiv divides a by b rounding toward negative infinity.
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// ceilDiv divides a by b rounding away from zero for positive operands.
func ceilDiv(a, b int) int {
	return floorDiv(a+b-1, b)
}

func (p Point) String() string { return fmt.Sprintf("(%d, %d)", p.X, p.Y) }

// Add returns the component-wise sum of p and q.
func (p Point) Add(q Point) Point { return Point{p.X + q.X, p.Y + q.Y} }

// Sub returns the component-wise difference of p and q.
func (p Point) Sub(q Point) Point { return Point{p.X - q.X, p.Y - q.Y} }

// Mul returns p scaled by a scalar.
func (p Point) Mul(s int) Point { return Point{p.X * s, p.Y * s} }

// MulSize returns p scaled component-wise by a size.
func (p Point) MulSize(s Size) Point { return Point{p.X * s.Width, p.Y * s.Height} }

// DivFloor returns p floor-divided component-wise by a size.
func (p Point) DivFloor(s Size) Point {
	return Point{floorDiv(p.X, s.Width), floorDiv(p.Y, s.Height)}
}

// Mod returns p reduced component-wise modulo a size.
func (p Point) Mod(s Size) Point {
	return Point{p.X - floorDiv(p.X, s.Width)*s.Width, p.Y - floorDiv(p.Y, s.Height)*s.Height}
}

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Width, s.Height) }

// Add returns the component-wise sum of s and t.
func (s Size) Add(t Size) Size { return Size{s.Width + t.Width, s.Height + t.Height} }

// Sub returns the component-wise difference of s and t.
func (s Size) Sub(t Size) Size { return Size{s.Width - t.Width, s.Height - t.Height} }

// Mul returns s scaled by a scalar.
func (s Size) Mul(f int) Size { return Size{s.Width * f, s.Height * f} }

// DivCeil returns s ceiling-divided component-wise by t. Used to count the
// tiles of size t needed to cover an area of size s.
func (s Size) DivCeil(t Size) Size {
	return Size{ceilDiv(s.Width, t.Width), ceilDiv(s.Height, t.Height)}
}

// DivFloor returns s floor-divided component-wise by t.
func (s Size) DivFloor(t Size) Size {
	return Size{floorDiv(s.Width, t.Width), floorDiv(s.Height, t.Height)}
}

// Area returns the number of pixels covered by s.
func (s Size) Area() int { return s.Width * s.Height }

// IsZero reports whether either component is zero.
func (s Size) IsZero() bool { return s.Width == 0 || s.Height == 0 }

// ToPoint returns the size as a point offset.
func (s Size) ToPoint() Point { return Point{s.Width, s.Height} }

// SizeFromPoint returns the point interpreted as a size.
func SizeFromPoint(p Point) Size { return Size{p.X, p.Y} }

func (r Region) String() string {
	return fmt.Sprintf("from %v to %v", r.Start(), r.End())
}

// RegionFromPoints returns the region spanning start (inclusive) to end.
func RegionFromPoints(start, end Point) Region {
	return Region{Position: start, Size: SizeFromPoint(end.Sub(start))}
}

// Start returns the upper-left corner of the region.
func (r Region) Start() Point { return r.Position }

// End returns the lower-right corner of the region (position plus size).
func (r Region) End() Point { return r.Position.Add(r.Size.ToPoint()) }

// Rect returns the region as an image.Rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.Start().X, r.Start().Y, r.End().X, r.End().Y)
}

// IsInside reports whether r lies fully inside the bounding region.
func (r Region) IsInside(bounds Region) bool {
	return r.Start().X >= bounds.Start().X &&
		r.Start().Y >= bounds.Start().Y &&
		r.End().X <= bounds.End().X &&
		r.End().Y <= bounds.End().Y
}

// Intersection returns the overlap of r and other. The result has zero size
// components where the regions do not overlap.
func (r Region) Intersection(other Region) Region {
	start := Point{max(r.Start().X, other.Start().X), max(r.Start().Y, other.Start().Y)}
	end := Point{min(r.End().X, other.End().X), min(r.End().Y, other.End().Y)}
	if end.X < start.X {
		end.X = start.X
	}
	if end.Y < start.Y {
		end.Y = start.Y
	}
	return RegionFromPoints(start, end)
}

// InsideCrop returns the part of the tile at tile coordinate tile (with the
// given tile size) that overlaps r, expressed in tile-local coordinates.
func (r Region) InsideCrop(tile Point, tileSize Size) Region {
	origin := tile.MulSize(tileSize)
	tileRegion := Region{Position: origin, Size: tileSize}
	cropped := tileRegion.Intersection(r)
	cropped.Position = cropped.Position.Sub(origin)
	return cropped
}

// Points returns the points of the region in row-major order (x varies
// fastest). If includeEnd is true the end coordinates are included, so a
// zero-size region yields its single anchor point.
func (r Region) Points(includeEnd bool) []Point {
	end := r.End()
	if includeEnd {
		end = end.Add(Point{1, 1})
	}
	points := make([]Point, 0, (end.X-r.Position.X)*(end.Y-r.Position.Y))
	for y := r.Position.Y; y < end.Y; y++ {
		for x := r.Position.X; x < end.X; x++ {
			points = append(points, Point{x, y})
		}
	}
	return points
}

// PointMm is a position in millimeter slide space.
type PointMm struct {
	X, Y float64
}

// SizeMm is an extent in millimeter slide space. Also used for pixel spacing
// expressed as mm per pixel.
type SizeMm struct {
	Width, Height float64
}

// RegionMm is a rectangular millimeter area.
type RegionMm struct {
	Position PointMm
	Size     SizeMm
}

func (p PointMm) String() string { return fmt.Sprintf("(%g mm, %g mm)", p.X, p.Y) }

func (s SizeMm) String() string { return fmt.Sprintf("%g mm x %g mm", s.Width, s.Height) }

// Add returns the component-wise sum of p and q.
func (p PointMm) Add(q PointMm) PointMm { return PointMm{p.X + q.X, p.Y + q.Y} }

// Sub returns the component-wise difference of p and q.
func (p PointMm) Sub(q PointMm) PointMm { return PointMm{p.X - q.X, p.Y - q.Y} }

// ToPixel converts a millimeter position to a pixel position using the
// given pixel spacing (mm per pixel).
func (p PointMm) ToPixel(spacing SizeMm) Point {
	return Point{int(p.X / spacing.Width), int(p.Y / spacing.Height)}
}

// ToMm converts a pixel position to a millimeter position using the given
// pixel spacing (mm per pixel).
func (p Point) ToMm(spacing SizeMm) PointMm {
	return PointMm{float64(p.X) * spacing.Width, float64(p.Y) * spacing.Height}
}

// ToPixel converts a millimeter extent to a pixel extent.
func (s SizeMm) ToPixel(spacing SizeMm) Size {
	return Size{int(s.Width / spacing.Width), int(s.Height / spacing.Height)}
}

// ToMm converts a pixel extent to a millimeter extent.
func (s Size) ToMm(spacing SizeMm) SizeMm {
	return SizeMm{float64(s.Width) * spacing.Width, float64(s.Height) * spacing.Height}
}

// ToPixel converts a millimeter region to a pixel region.
func (r RegionMm) ToPixel(spacing SizeMm) Region {
	return Region{Position: r.Position.ToPixel(spacing), Size: r.Size.ToPixel(spacing)}
}

// ToMm converts a pixel region to a millimeter region.
func (r Region) ToMm(spacing SizeMm) RegionMm {
	return RegionMm{Position: r.Position.ToMm(spacing), Size: r.Size.ToMm(spacing)}
}
