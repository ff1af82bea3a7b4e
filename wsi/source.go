package wsi

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"sync"

	"github.com/mrjoshuak/go-wsidicom/codec"
	"github.com/mrjoshuak/go-wsidicom/geometry"
)

// TileSource provides the tiles of one pyramid level. Implementations must
// be safe for concurrent reads.
type TileSource interface {
	// ImageSize returns the total pixel matrix size.
	ImageSize() geometry.Size

	// TileSize returns the size of a full tile.
	TileSize() geometry.Size

	// TiledSize returns the tile grid dimensions.
	TiledSize() geometry.Size

	// PixelSpacing returns the mm per pixel spacing.
	PixelSpacing() geometry.SizeMm

	// Photometric returns the photometric interpretation.
	Photometric() string

	// Codec returns the tile codec.
	Codec() codec.Codec

	// FocalPlanes returns the available focal plane depths, ascending.
	FocalPlanes() []float64

	// OpticalPaths returns the available optical path identifiers.
	OpticalPaths() []string

	// Tile returns the decoded tile, blank when no frame covers the
	// position. The returned image always has the full tile size; callers
	// crop edge tiles themselves.
	Tile(tile geometry.Point, z float64, path string) (image.Image, error)

	// EncodedTile returns the stored payload of the tile, or the encoded
	// blank tile when no frame covers the position.
	EncodedTile(tile geometry.Point, z float64, path string) ([]byte, error)
}

// DefaultZ returns the focal plane closest to the middle of the available
// range.
func DefaultZ(planes []float64) float64 {
	if len(planes) == 0 {
		return 0
	}
	middle := (planes[0] + planes[len(planes)-1]) / 2
	best := planes[0]
	for _, z := range planes[1:] {
		if abs(z-middle) < abs(best-middle) {
			best = z
		}
	}
	return best
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// blankCache lazily builds the tile returned for positions no frame covers.
// Monochrome instances get a black tile, color instances a white one. Both
// the decoded image and its encoded payload are built once and shared.
type blankCache struct {
	once    sync.Once
	img     image.Image
	encoded []byte
	err     error
}

func (b *blankCache) get(size geometry.Size, photometric string, c codec.Codec) (image.Image, []byte, error) {
	b.once.Do(func() {
		rect := image.Rect(0, 0, size.Width, size.Height)
		if strings.EqualFold(photometric, "MONOCHROME2") {
			b.img = image.NewGray(rect)
		} else {
			img := image.NewNRGBA(rect)
			draw.Draw(img, rect, image.NewUniform(color.NRGBA{255, 255, 255, 255}), image.Point{}, draw.Src)
			b.img = img
		}
		b.encoded, b.err = c.Encode(b.img, codec.Options{})
	})
	return b.img, b.encoded, b.err
}

// DICOMSource reads tiles from the opened files of one instance.
type DICOMSource struct {
	files   []*File
	dataset *Dataset
	index   TileIndex
	codec   codec.Codec
	blank   blankCache
}

// NewDICOMSource builds a source over the ordered files of one instance.
// The tile codec is resolved from the transfer syntax.
func NewDICOMSource(files []*File) (*DICOMSource, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no files", ErrValidation)
	}
	datasets := make([]*Dataset, len(files))
	for i, f := range files {
		datasets[i] = f.Dataset
	}
	index, err := NewTileIndex(datasets)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, d := range datasets {
		total += d.FrameCount
	}
	if total != index.FrameCount() {
		return nil, fmt.Errorf("%w: files hold %d frames, tiling addresses %d",
			ErrValidation, total, index.FrameCount())
	}
	c, err := codec.Get(datasets[0].TransferSyntax)
	if err != nil {
		return nil, fmt.Errorf("%w: transfer syntax %s", ErrNotFound, datasets[0].TransferSyntax)
	}
	return &DICOMSource{
		files:   files,
		dataset: datasets[0],
		index:   index,
		codec:   c,
	}, nil
}

// Dataset returns the metadata record of the first instance part.
func (s *DICOMSource) Dataset() *Dataset { return s.dataset }

// Index returns the tile index.
func (s *DICOMSource) Index() TileIndex { return s.index }

func (s *DICOMSource) ImageSize() geometry.Size      { return s.dataset.ImageSize }
func (s *DICOMSource) TileSize() geometry.Size       { return s.dataset.TileSize }
func (s *DICOMSource) TiledSize() geometry.Size      { return s.index.TiledSize() }
func (s *DICOMSource) PixelSpacing() geometry.SizeMm { return s.dataset.PixelSpacing }
func (s *DICOMSource) Photometric() string           { return s.dataset.Photometric }
func (s *DICOMSource) Codec() codec.Codec            { return s.codec }
func (s *DICOMSource) FocalPlanes() []float64        { return s.index.FocalPlanes() }
func (s *DICOMSource) OpticalPaths() []string        { return s.index.OpticalPaths() }

// SuggestedMinimumChunkSize asks writers to chunk by whole tile rows, which
// keeps frame reads mostly sequential.
func (s *DICOMSource) SuggestedMinimumChunkSize() int {
	return s.index.TiledSize().Width
}

// ReadFrame reads the encoded payload of an instance-global frame from
// whichever file stores it.
func (s *DICOMSource) ReadFrame(frame int) ([]byte, error) {
	for _, f := range s.files {
		if f.Contains(frame) {
			return f.ReadFrame(frame)
		}
	}
	return nil, fmt.Errorf("%w: frame %d not in any file", ErrNotFound, frame)
}

// EncodedTile returns the stored payload of the tile.
func (s *DICOMSource) EncodedTile(tile geometry.Point, z float64, path string) ([]byte, error) {
	frame, err := s.index.FrameAt(tile, z, path)
	if err != nil {
		return nil, err
	}
	if frame == BlankFrame {
		_, encoded, err := s.blank.get(s.TileSize(), s.Photometric(), s.codec)
		return encoded, err
	}
	return s.ReadFrame(frame)
}

// Tile returns the decoded tile.
func (s *DICOMSource) Tile(tile geometry.Point, z float64, path string) (image.Image, error) {
	frame, err := s.index.FrameAt(tile, z, path)
	if err != nil {
		return nil, err
	}
	if frame == BlankFrame {
		img, _, err := s.blank.get(s.TileSize(), s.Photometric(), s.codec)
		return img, err
	}
	data, err := s.ReadFrame(frame)
	if err != nil {
		return nil, err
	}
	return s.codec.Decode(data)
}

// Close closes the underlying files.
func (s *DICOMSource) Close() error {
	var first error
	for _, f := range s.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type memKey struct {
	tile geometry.Point
	z    float64
	path string
}

// MemorySource holds encoded tiles in memory. It backs tests and staging
// data for the writer.
type MemorySource struct {
	imageSize   geometry.Size
	tileSize    geometry.Size
	spacing     geometry.SizeMm
	photometric string
	codec       codec.Codec

	mu     sync.RWMutex
	tiles  map[memKey][]byte
	planes []float64
	paths  []string
	blank  blankCache
}

// NewMemorySource creates an empty in-memory tile source.
func NewMemorySource(imageSize, tileSize geometry.Size, spacing geometry.SizeMm, photometric string, c codec.Codec) *MemorySource {
	return &MemorySource{
		imageSize:   imageSize,
		tileSize:    tileSize,
		spacing:     spacing,
		photometric: photometric,
		codec:       c,
		tiles:       make(map[memKey][]byte),
	}
}

func (m *MemorySource) ImageSize() geometry.Size      { return m.imageSize }
func (m *MemorySource) TileSize() geometry.Size       { return m.tileSize }
func (m *MemorySource) TiledSize() geometry.Size      { return m.imageSize.DivCeil(m.tileSize) }
func (m *MemorySource) PixelSpacing() geometry.SizeMm { return m.spacing }
func (m *MemorySource) Photometric() string           { return m.photometric }
func (m *MemorySource) Codec() codec.Codec            { return m.codec }

func (m *MemorySource) FocalPlanes() []float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.planes) == 0 {
		return []float64{0}
	}
	return m.planes
}

func (m *MemorySource) OpticalPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.paths) == 0 {
		return []string{"0"}
	}
	return m.paths
}

// SetEncodedTile stores an already encoded tile payload.
func (m *MemorySource) SetEncodedTile(tile geometry.Point, z float64, path string, data []byte) error {
	tiled := m.TiledSize()
	if tile.X < 0 || tile.Y < 0 || tile.X >= tiled.Width || tile.Y >= tiled.Height {
		return fmt.Errorf("%w: tile %v outside %v", ErrOutOfBounds, tile, tiled)
	}
	z = roundMicrometers(z)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiles[memKey{tile: tile, z: z, path: path}] = data
	if !containsFloat(m.planes, z) {
		m.planes = insertSorted(m.planes, z)
	}
	if !containsString(m.paths, path) {
		m.paths = append(m.paths, path)
	}
	return nil
}

// SetTile encodes and stores a tile image.
func (m *MemorySource) SetTile(tile geometry.Point, z float64, path string, img image.Image) error {
	data, err := m.codec.Encode(img, codec.Options{})
	if err != nil {
		return err
	}
	return m.SetEncodedTile(tile, z, path, data)
}

// EncodedTile returns the stored payload, or the encoded blank tile when
// the position holds no tile.
func (m *MemorySource) EncodedTile(tile geometry.Point, z float64, path string) ([]byte, error) {
	tiled := m.TiledSize()
	if tile.X < 0 || tile.Y < 0 || tile.X >= tiled.Width || tile.Y >= tiled.Height {
		return nil, fmt.Errorf("%w: tile %v outside %v", ErrOutOfBounds, tile, tiled)
	}
	m.mu.RLock()
	data, ok := m.tiles[memKey{tile: tile, z: roundMicrometers(z), path: path}]
	m.mu.RUnlock()
	if ok {
		return data, nil
	}
	_, encoded, err := m.blank.get(m.tileSize, m.photometric, m.codec)
	return encoded, err
}

// Tile returns the decoded tile, blank when the position holds no tile.
func (m *MemorySource) Tile(tile geometry.Point, z float64, path string) (image.Image, error) {
	tiled := m.TiledSize()
	if tile.X < 0 || tile.Y < 0 || tile.X >= tiled.Width || tile.Y >= tiled.Height {
		return nil, fmt.Errorf("%w: tile %v outside %v", ErrOutOfBounds, tile, tiled)
	}
	m.mu.RLock()
	data, ok := m.tiles[memKey{tile: tile, z: roundMicrometers(z), path: path}]
	m.mu.RUnlock()
	if ok {
		return m.codec.Decode(data)
	}
	img, _, err := m.blank.get(m.tileSize, m.photometric, m.codec)
	return img, err
}

func containsFloat(s []float64, v float64) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func containsString(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func insertSorted(s []float64, v float64) []float64 {
	i := 0
	for i < len(s) && s[i] < v {
		i++
	}
	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}
