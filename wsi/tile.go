package wsi

import (
	"fmt"
	"image"
	"image/draw"
	"strings"

	xdraw "golang.org/x/image/draw"

	"github.com/mrjoshuak/go-wsidicom/codec"
	"github.com/mrjoshuak/go-wsidicom/geometry"
)

// imageRegion returns the pixel region covered by the source.
func imageRegion(src TileSource) geometry.Region {
	return geometry.Region{Size: src.ImageSize()}
}

// newCanvas allocates a drawable image matching the source's photometric
// interpretation.
func newCanvas(src TileSource, size geometry.Size) draw.Image {
	rect := image.Rect(0, 0, size.Width, size.Height)
	if strings.EqualFold(src.Photometric(), "MONOCHROME2") {
		return image.NewGray(rect)
	}
	return image.NewNRGBA(rect)
}

// ReadTile returns the decoded tile, cropped to the image bounds. Interior
// tiles keep the full tile size; tiles on the right or bottom edge are
// cropped to the pixels the image actually covers.
func ReadTile(src TileSource, tile geometry.Point, z float64, path string) (image.Image, error) {
	img, err := src.Tile(tile, z, path)
	if err != nil {
		return nil, err
	}
	crop := imageRegion(src).InsideCrop(tile, src.TileSize())
	if crop.Size.IsZero() {
		return nil, fmt.Errorf("%w: tile %v outside image", ErrOutOfBounds, tile)
	}
	if crop.Size == src.TileSize() {
		return img, nil
	}
	out := newCanvas(src, crop.Size)
	draw.Draw(out, out.Bounds(), img,
		img.Bounds().Min.Add(image.Pt(crop.Position.X, crop.Position.Y)), draw.Src)
	return out, nil
}

// EncodedTile returns the encoded tile payload. Interior tiles pass through
// as stored; edge tiles that extend past the image bounds are decoded,
// cropped and re-encoded.
func EncodedTile(src TileSource, tile geometry.Point, z float64, path string) ([]byte, error) {
	return encodedTile(src, tile, z, path, defaultEncodeOptions)
}

func encodedTile(src TileSource, tile geometry.Point, z float64, path string, opts codec.Options) ([]byte, error) {
	crop := imageRegion(src).InsideCrop(tile, src.TileSize())
	if crop.Size.IsZero() {
		return nil, fmt.Errorf("%w: tile %v outside image", ErrOutOfBounds, tile)
	}
	if crop.Size == src.TileSize() {
		return src.EncodedTile(tile, z, path)
	}
	img, err := ReadTile(src, tile, z, path)
	if err != nil {
		return nil, err
	}
	return src.Codec().Encode(img, opts)
}

// TileRange returns the inclusive range of tile coordinates covering the
// pixel region: Start is the first tile and End the last. The region must
// lie inside the image. A zero-area region yields the single tile
// containing its origin.
func TileRange(src TileSource, region geometry.Region) (geometry.Region, error) {
	if !region.IsInside(imageRegion(src)) {
		return geometry.Region{}, fmt.Errorf("%w: region %v outside image %v",
			ErrOutOfBounds, region, src.ImageSize())
	}
	tileSize := src.TileSize()
	start := region.Start().DivFloor(tileSize)
	end := start
	if !region.Size.IsZero() {
		end = region.End().Sub(geometry.Point{X: 1, Y: 1}).DivFloor(tileSize)
	}
	return geometry.RegionFromPoints(start, end), nil
}

// StitchTiles assembles the pixel region from its covering tiles. Tiles are
// visited in row-major order and pasted at a write cursor that advances by
// the previous tile's cropped width, wrapping to the next row when the
// region width is filled.
func StitchTiles(src TileSource, region geometry.Region, z float64, path string) (image.Image, error) {
	tiles, err := TileRange(src, region)
	if err != nil {
		return nil, err
	}
	tileSize := src.TileSize()
	out := newCanvas(src, region.Size)
	cursor := geometry.Point{}
	for _, tile := range tiles.Points(true) {
		img, err := src.Tile(tile, z, path)
		if err != nil {
			return nil, err
		}
		crop := region.InsideCrop(tile, tileSize)
		rect := image.Rect(cursor.X, cursor.Y, cursor.X+crop.Size.Width, cursor.Y+crop.Size.Height)
		draw.Draw(out, rect, img,
			img.Bounds().Min.Add(image.Pt(crop.Position.X, crop.Position.Y)), draw.Src)

		cursor.X += crop.Size.Width
		if cursor.X >= region.Size.Width {
			cursor.X = 0
			cursor.Y += crop.Size.Height
		}
	}
	return out, nil
}

// ScaledTile synthesizes the tile of a pyramid level scale times coarser
// than the source by stitching the covered native region and downscaling it
// bilinearly. Edge tiles come back cropped to the covered pixels.
func ScaledTile(src TileSource, tile geometry.Point, z float64, path string, scale int) (image.Image, error) {
	if scale < 1 {
		return nil, fmt.Errorf("%w: scale %d", ErrOutOfBounds, scale)
	}
	tileSize := src.TileSize()
	native := geometry.Region{
		Position: tile.MulSize(tileSize).Mul(scale),
		Size:     tileSize.Mul(scale),
	}
	cropped := native.Intersection(imageRegion(src))
	if cropped.Size.IsZero() {
		return nil, fmt.Errorf("%w: scaled tile %v outside image", ErrOutOfBounds, tile)
	}
	stitched, err := StitchTiles(src, cropped, z, path)
	if err != nil {
		return nil, err
	}
	target := cropped.Size.DivCeil(geometry.Size{Width: scale, Height: scale})
	out := newCanvas(src, target)
	xdraw.ApproxBiLinear.Scale(out, out.Bounds(), stitched, stitched.Bounds(), xdraw.Src, nil)
	return out, nil
}
