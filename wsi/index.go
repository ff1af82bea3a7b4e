package wsi

import (
	"fmt"
	"sort"

	"github.com/mrjoshuak/go-wsidicom/geometry"
)

// BlankFrame is the frame index of a tile position no frame covers. The
// tile engine renders such tiles as blank.
const BlankFrame = -1

// TileIndex maps a tile coordinate, focal plane and optical path to an
// instance-global frame index. Indexes are built once and never mutated, so
// lookups are safe for concurrent use.
type TileIndex interface {
	// FrameAt returns the frame covering the tile, or BlankFrame when the
	// position is valid but no frame covers it.
	FrameAt(tile geometry.Point, z float64, path string) (int, error)

	// TiledSize returns the tile grid dimensions.
	TiledSize() geometry.Size

	// FocalPlanes returns the focal plane depths in micrometers, ascending.
	FocalPlanes() []float64

	// OpticalPaths returns the optical path identifiers.
	OpticalPaths() []string

	// FrameCount returns the total number of addressable frames.
	FrameCount() int
}

// NewTileIndex builds the index matching the tiling of the datasets, which
// must be the ordered parts of one instance.
func NewTileIndex(datasets []*Dataset) (TileIndex, error) {
	if len(datasets) == 0 {
		return nil, fmt.Errorf("%w: no datasets", ErrValidation)
	}
	if datasets[0].Tiling == TilingFull {
		return NewFullTileIndex(datasets)
	}
	return NewSparseTileIndex(datasets)
}

// FullTileIndex addresses instances whose frames cover every tile position
// in a fixed row-major order: x fastest, then y, then focal plane, then
// optical path.
type FullTileIndex struct {
	tiledSize   geometry.Size
	focalPlanes []float64
	paths       []string
}

// NewFullTileIndex derives the index from the dataset geometry. Focal plane
// depths are enumerated from the spacing between slices.
func NewFullTileIndex(datasets []*Dataset) (*FullTileIndex, error) {
	d := datasets[0]
	planes := make([]float64, d.FocalPlaneCount)
	if d.FocalPlaneCount > 1 {
		spacing := d.SpacingBetweenSlicesMicrometers()
		if spacing == 0 {
			return nil, fmt.Errorf("%w: %d focal planes without spacing between slices",
				ErrValidation, d.FocalPlaneCount)
		}
		for i := range planes {
			planes[i] = roundMicrometers(float64(i) * spacing)
		}
	}
	paths := collectPaths(datasets)
	return &FullTileIndex{
		tiledSize:   d.TiledSize(),
		focalPlanes: planes,
		paths:       paths,
	}, nil
}

func (x *FullTileIndex) TiledSize() geometry.Size { return x.tiledSize }

func (x *FullTileIndex) FocalPlanes() []float64 { return x.focalPlanes }

func (x *FullTileIndex) OpticalPaths() []string { return x.paths }

func (x *FullTileIndex) FrameCount() int {
	return x.tiledSize.Area() * len(x.focalPlanes) * len(x.paths)
}

// FrameAt computes the frame index arithmetically; every tile position maps
// to a frame.
func (x *FullTileIndex) FrameAt(tile geometry.Point, z float64, path string) (int, error) {
	if tile.X < 0 || tile.Y < 0 || tile.X >= x.tiledSize.Width || tile.Y >= x.tiledSize.Height {
		return 0, fmt.Errorf("%w: tile %v outside %v", ErrOutOfBounds, tile, x.tiledSize)
	}
	zi, err := planeIndex(x.focalPlanes, z)
	if err != nil {
		return 0, err
	}
	pi, err := pathIndex(x.paths, path)
	if err != nil {
		return 0, err
	}
	tilesPerPlane := x.tiledSize.Area()
	return tile.X +
		x.tiledSize.Width*tile.Y +
		zi*tilesPerPlane +
		pi*len(x.focalPlanes)*tilesPerPlane, nil
}

// sparseTilePlane maps the tile grid of one (focal plane, optical path)
// pair to frame indexes, BlankFrame where no frame covers the position.
type sparseTilePlane struct {
	size   geometry.Size
	frames []int
}

func newSparseTilePlane(size geometry.Size) *sparseTilePlane {
	frames := make([]int, size.Area())
	for i := range frames {
		frames[i] = BlankFrame
	}
	return &sparseTilePlane{size: size, frames: frames}
}

func (p *sparseTilePlane) at(tile geometry.Point) int {
	return p.frames[tile.X+tile.Y*p.size.Width]
}

func (p *sparseTilePlane) set(tile geometry.Point, frame int) {
	p.frames[tile.X+tile.Y*p.size.Width] = frame
}

type planeKey struct {
	z    float64
	path string
}

// SparseTileIndex addresses instances whose frames carry explicit
// positions. Positions are applied in file order, so a later frame at the
// same position wins.
type SparseTileIndex struct {
	tiledSize   geometry.Size
	planes      map[planeKey]*sparseTilePlane
	focalPlanes []float64
	paths       []string
	frameCount  int
}

// NewSparseTileIndex builds per-plane tile maps from the frame entries of
// the ordered instance parts.
func NewSparseTileIndex(datasets []*Dataset) (*SparseTileIndex, error) {
	tiledSize := datasets[0].TiledSize()
	x := &SparseTileIndex{
		tiledSize: tiledSize,
		planes:    make(map[planeKey]*sparseTilePlane),
	}
	seenZ := make(map[float64]bool)
	seenPath := make(map[string]bool)
	for _, d := range datasets {
		for i, fe := range d.Frames {
			tile := fe.Tile
			if tile.X < 0 || tile.Y < 0 || tile.X >= tiledSize.Width || tile.Y >= tiledSize.Height {
				return nil, fmt.Errorf("%w: frame %d at tile %v outside %v",
					ErrFormat, d.FrameOffset+i, tile, tiledSize)
			}
			key := planeKey{z: fe.Z, path: fe.Path}
			plane, ok := x.planes[key]
			if !ok {
				plane = newSparseTilePlane(tiledSize)
				x.planes[key] = plane
			}
			plane.set(tile, d.FrameOffset+i)
			if !seenZ[fe.Z] {
				seenZ[fe.Z] = true
				x.focalPlanes = append(x.focalPlanes, fe.Z)
			}
			if !seenPath[fe.Path] {
				seenPath[fe.Path] = true
				x.paths = append(x.paths, fe.Path)
			}
			x.frameCount++
		}
	}
	sort.Float64s(x.focalPlanes)
	return x, nil
}

func (x *SparseTileIndex) TiledSize() geometry.Size { return x.tiledSize }

func (x *SparseTileIndex) FocalPlanes() []float64 { return x.focalPlanes }

func (x *SparseTileIndex) OpticalPaths() []string { return x.paths }

func (x *SparseTileIndex) FrameCount() int { return x.frameCount }

// FrameAt looks the tile up in the plane map. A valid position with no
// frame returns BlankFrame.
func (x *SparseTileIndex) FrameAt(tile geometry.Point, z float64, path string) (int, error) {
	if tile.X < 0 || tile.Y < 0 || tile.X >= x.tiledSize.Width || tile.Y >= x.tiledSize.Height {
		return 0, fmt.Errorf("%w: tile %v outside %v", ErrOutOfBounds, tile, x.tiledSize)
	}
	plane, ok := x.planes[planeKey{z: roundMicrometers(z), path: path}]
	if !ok {
		return 0, fmt.Errorf("%w: no plane at z=%g path=%q", ErrNotFound, z, path)
	}
	return plane.at(tile), nil
}

func planeIndex(planes []float64, z float64) (int, error) {
	z = roundMicrometers(z)
	for i, plane := range planes {
		if plane == z {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: no focal plane at z=%g", ErrNotFound, z)
}

func pathIndex(paths []string, path string) (int, error) {
	for i, p := range paths {
		if p == path {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: no optical path %q", ErrNotFound, path)
}

func collectPaths(datasets []*Dataset) []string {
	seen := make(map[string]bool)
	var paths []string
	for _, d := range datasets {
		for _, id := range d.OpticalPathIDs {
			if !seen[id] {
				seen[id] = true
				paths = append(paths, id)
			}
		}
	}
	if len(paths) == 0 {
		paths = []string{datasets[0].DefaultPath()}
	}
	return paths
}
