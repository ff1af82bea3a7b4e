package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/draw"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/mrjoshuak/go-wsidicom/uid"
)

// deflate payload layout: a 9-byte header (width uint32, height uint32,
// channels uint8, little endian) followed by a zlib stream of the raw
// samples, row by row.
const deflateHeaderSize = 9

// Deflate implements a lossless tile codec backed by zlib compression of
// raw samples. It round-trips pixel values exactly, which the lossy DICOM
// syntaxes cannot guarantee.
type Deflate struct{}

func (Deflate) UID() string    { return uid.DeflateTiles }
func (Deflate) Name() string   { return "deflate" }
func (Deflate) Lossless() bool { return true }

// Decode decodes a deflate frame payload into a grayscale or NRGBA image.
func (Deflate) Decode(data []byte) (image.Image, error) {
	if len(data) < deflateHeaderSize {
		return nil, fmt.Errorf("%w: short deflate header", ErrCorrupt)
	}
	width := int(binary.LittleEndian.Uint32(data[0:4]))
	height := int(binary.LittleEndian.Uint32(data[4:8]))
	channels := int(data[8])
	if width <= 0 || height <= 0 || (channels != 1 && channels != 4) {
		return nil, fmt.Errorf("%w: invalid deflate header", ErrCorrupt)
	}
	zr, err := zlib.NewReader(bytes.NewReader(data[deflateHeaderSize:]))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer zr.Close()
	pixels := make([]byte, width*height*channels)
	if _, err := io.ReadFull(zr, pixels); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	rect := image.Rect(0, 0, width, height)
	if channels == 1 {
		return &image.Gray{Pix: pixels, Stride: width, Rect: rect}, nil
	}
	return &image.NRGBA{Pix: pixels, Stride: width * 4, Rect: rect}, nil
}

// Encode encodes an image losslessly. Grayscale images keep one channel;
// everything else is stored as NRGBA.
func (Deflate) Encode(img image.Image, opts Options) ([]byte, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	var pixels []byte
	var channels byte
	switch src := img.(type) {
	case *image.Gray:
		channels = 1
		pixels = make([]byte, width*height)
		for y := 0; y < height; y++ {
			row := src.Pix[y*src.Stride : y*src.Stride+width]
			copy(pixels[y*width:], row)
		}
	default:
		channels = 4
		nrgba := image.NewNRGBA(image.Rect(0, 0, width, height))
		draw.Draw(nrgba, nrgba.Bounds(), img, bounds.Min, draw.Src)
		pixels = nrgba.Pix
	}

	var buf bytes.Buffer
	var header [deflateHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(width))
	binary.LittleEndian.PutUint32(header[4:8], uint32(height))
	header[8] = channels
	buf.Write(header[:])

	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(pixels); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func init() {
	Register(Deflate{})
}
