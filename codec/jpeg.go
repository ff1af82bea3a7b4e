package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/mrjoshuak/go-wsidicom/uid"
)

const defaultJPEGQuality = 80

// JPEG implements baseline 8-bit JPEG using the standard library encoder.
type JPEG struct{}

func (JPEG) UID() string    { return uid.JPEGBaseline8Bit }
func (JPEG) Name() string   { return "jpeg" }
func (JPEG) Lossless() bool { return false }

// Decode decodes a JPEG frame payload.
func (JPEG) Decode(data []byte) (image.Image, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return img, nil
}

// Encode encodes an image as baseline JPEG.
func (JPEG) Encode(img image.Image, opts Options) ([]byte, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	quality := opts.Quality
	if quality == 0 {
		quality = defaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func init() {
	Register(JPEG{})
}
