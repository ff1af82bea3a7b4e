package wsi

import (
	"errors"
	"testing"

	"github.com/mrjoshuak/go-wsidicom/geometry"
)

func fullDataset() *Dataset {
	return &Dataset{
		Tiling:               TilingFull,
		ImageSize:            geometry.Size{Width: 1000, Height: 500},
		TileSize:             geometry.Size{Width: 256, Height: 256},
		FocalPlaneCount:      3,
		SpacingBetweenSlices: 0.0005, // 0.5 um
		OpticalPathCount:     2,
		OpticalPathIDs:       []string{"0", "1"},
	}
}

// Frame indexes of a full tiling must enumerate tiles row-major, then focal
// planes, then optical paths, and cover [0, frameCount) exactly once.
func TestFullTileIndexBijection(t *testing.T) {
	index, err := NewFullTileIndex([]*Dataset{fullDataset()})
	if err != nil {
		t.Fatalf("NewFullTileIndex: %v", err)
	}
	tiled := index.TiledSize()
	if tiled != (geometry.Size{Width: 4, Height: 2}) {
		t.Fatalf("TiledSize = %v", tiled)
	}
	planes := index.FocalPlanes()
	if len(planes) != 3 || planes[1] != 0.5 || planes[2] != 1 {
		t.Fatalf("FocalPlanes = %v", planes)
	}

	seen := make(map[int]bool)
	next := 0
	for _, path := range index.OpticalPaths() {
		for _, z := range planes {
			for y := 0; y < tiled.Height; y++ {
				for x := 0; x < tiled.Width; x++ {
					frame, err := index.FrameAt(geometry.Point{X: x, Y: y}, z, path)
					if err != nil {
						t.Fatalf("FrameAt(%d,%d,%g,%s): %v", x, y, z, path, err)
					}
					if frame != next {
						t.Fatalf("frame = %d, want %d", frame, next)
					}
					if seen[frame] {
						t.Fatalf("frame %d assigned twice", frame)
					}
					seen[frame] = true
					next++
				}
			}
		}
	}
	if next != index.FrameCount() {
		t.Errorf("enumerated %d frames, FrameCount = %d", next, index.FrameCount())
	}
}

func TestFullTileIndexLookupErrors(t *testing.T) {
	index, err := NewFullTileIndex([]*Dataset{fullDataset()})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := index.FrameAt(geometry.Point{X: 4, Y: 0}, 0, "0"); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("tile out of grid err = %v, want ErrOutOfBounds", err)
	}
	if _, err := index.FrameAt(geometry.Point{}, 0.7, "0"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown z err = %v, want ErrNotFound", err)
	}
	if _, err := index.FrameAt(geometry.Point{}, 0, "2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown path err = %v, want ErrNotFound", err)
	}
}

func TestFullTileIndexMissingSpacing(t *testing.T) {
	d := fullDataset()
	d.SpacingBetweenSlices = 0
	if _, err := NewFullTileIndex([]*Dataset{d}); !errors.Is(err, ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func sparseDataset(offset int, frames []FrameEntry) *Dataset {
	return &Dataset{
		Tiling:      TilingSparse,
		ImageSize:   geometry.Size{Width: 1000, Height: 500},
		TileSize:    geometry.Size{Width: 256, Height: 256},
		FrameOffset: offset,
		FrameCount:  len(frames),
		Frames:      frames,
	}
}

func TestSparseTileIndex(t *testing.T) {
	d := sparseDataset(0, []FrameEntry{
		{Tile: geometry.Point{X: 0, Y: 0}, Z: 0, Path: "0"},
		{Tile: geometry.Point{X: 2, Y: 1}, Z: 0, Path: "0"},
		{Tile: geometry.Point{X: 1, Y: 0}, Z: 0.5, Path: "0"},
	})
	index, err := NewSparseTileIndex([]*Dataset{d})
	if err != nil {
		t.Fatalf("NewSparseTileIndex: %v", err)
	}

	frame, err := index.FrameAt(geometry.Point{X: 2, Y: 1}, 0, "0")
	if err != nil || frame != 1 {
		t.Errorf("FrameAt = %d, %v; want 1", frame, err)
	}

	// A valid but uncovered position is blank, not an error.
	frame, err = index.FrameAt(geometry.Point{X: 3, Y: 1}, 0, "0")
	if err != nil || frame != BlankFrame {
		t.Errorf("uncovered FrameAt = %d, %v; want BlankFrame", frame, err)
	}

	if _, err := index.FrameAt(geometry.Point{}, 0.25, "0"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown plane err = %v, want ErrNotFound", err)
	}
	if _, err := index.FrameAt(geometry.Point{X: 9, Y: 0}, 0, "0"); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("out of grid err = %v, want ErrOutOfBounds", err)
	}

	planes := index.FocalPlanes()
	if len(planes) != 2 || planes[0] != 0 || planes[1] != 0.5 {
		t.Errorf("FocalPlanes = %v", planes)
	}
}

// When two frames claim the same position, the one later in file order
// wins.
func TestSparseTileIndexLastWriteWins(t *testing.T) {
	d := sparseDataset(0, []FrameEntry{
		{Tile: geometry.Point{X: 1, Y: 1}, Z: 0, Path: "0"},
		{Tile: geometry.Point{X: 1, Y: 1}, Z: 0, Path: "0"},
	})
	index, err := NewSparseTileIndex([]*Dataset{d})
	if err != nil {
		t.Fatal(err)
	}
	frame, err := index.FrameAt(geometry.Point{X: 1, Y: 1}, 0, "0")
	if err != nil || frame != 1 {
		t.Errorf("FrameAt = %d, %v; want the later frame 1", frame, err)
	}
}

// Concatenation parts contribute instance-global frame indexes.
func TestSparseTileIndexConcatenation(t *testing.T) {
	first := sparseDataset(0, []FrameEntry{
		{Tile: geometry.Point{X: 0, Y: 0}, Z: 0, Path: "0"},
	})
	second := sparseDataset(1, []FrameEntry{
		{Tile: geometry.Point{X: 1, Y: 0}, Z: 0, Path: "0"},
	})
	index, err := NewSparseTileIndex([]*Dataset{first, second})
	if err != nil {
		t.Fatal(err)
	}
	frame, err := index.FrameAt(geometry.Point{X: 1, Y: 0}, 0, "0")
	if err != nil || frame != 1 {
		t.Errorf("FrameAt = %d, %v; want 1", frame, err)
	}
	if index.FrameCount() != 2 {
		t.Errorf("FrameCount = %d, want 2", index.FrameCount())
	}
}

func TestSparseTileIndexPositionOutsideGrid(t *testing.T) {
	d := sparseDataset(0, []FrameEntry{
		{Tile: geometry.Point{X: 10, Y: 0}, Z: 0, Path: "0"},
	})
	if _, err := NewSparseTileIndex([]*Dataset{d}); !errors.Is(err, ErrFormat) {
		t.Errorf("err = %v, want ErrFormat", err)
	}
}

func TestDefaultZ(t *testing.T) {
	tests := []struct {
		name   string
		planes []float64
		want   float64
	}{
		{"empty", nil, 0},
		{"single", []float64{3}, 3},
		{"odd count", []float64{0, 0.5, 1}, 0.5},
		{"skewed", []float64{0, 0.25, 2}, 0.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DefaultZ(tt.planes); got != tt.want {
				t.Errorf("DefaultZ(%v) = %g, want %g", tt.planes, got, tt.want)
			}
		})
	}
}
