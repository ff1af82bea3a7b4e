// Package codec provides the pluggable tile codecs that turn encoded frame
// payloads into images and back. Codecs register under both a human-readable
// name and the DICOM transfer syntax UID they implement.
package codec

import (
	"errors"
	"image"
	"sync"
)

var (
	// ErrNotFound is returned when no codec is registered for a name or UID.
	ErrNotFound = errors.New("codec: not found")

	// ErrInvalidQuality is returned for quality values outside 1..100.
	ErrInvalidQuality = errors.New("codec: quality must be in 1..100")

	// ErrCorrupt is returned when encoded data cannot be decoded.
	ErrCorrupt = errors.New("codec: corrupt data")
)

// Options carries encoder settings shared by all codecs. Lossless codecs
// ignore Quality.
type Options struct {
	// Quality is the lossy quality factor, 1..100. Zero selects the codec
	// default.
	Quality int
}

// Validate checks the option values.
func (o Options) Validate() error {
	if o.Quality < 0 || o.Quality > 100 {
		return ErrInvalidQuality
	}
	return nil
}

// Codec encodes and decodes tile images.
type Codec interface {
	// Decode decodes an encoded frame payload.
	Decode(data []byte) (image.Image, error)

	// Encode encodes an image with the given options.
	Encode(img image.Image, opts Options) ([]byte, error)

	// UID returns the transfer syntax UID the codec implements.
	UID() string

	// Name returns a short human-readable name.
	Name() string

	// Lossless reports whether encode followed by decode reproduces pixel
	// values exactly.
	Lossless() bool
}

// Registry maps names and transfer syntax UIDs to codecs.
type Registry struct {
	mu     sync.RWMutex
	codecs map[string]Codec
}

var defaultRegistry = &Registry{codecs: make(map[string]Codec)}

// Register adds a codec to the default registry under both its name and UID.
func Register(c Codec) {
	defaultRegistry.Register(c)
}

// Get retrieves a codec from the default registry by name or UID.
func Get(nameOrUID string) (Codec, error) {
	return defaultRegistry.Get(nameOrUID)
}

// Register adds a codec under both its name and UID.
func (r *Registry) Register(c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[c.Name()] = c
	r.codecs[c.UID()] = c
}

// Get retrieves a codec by name or UID.
func (r *Registry) Get(nameOrUID string) (Codec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[nameOrUID]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

// List returns the registered codecs, deduplicated.
func (r *Registry) List() []Codec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[Codec]bool)
	codecs := make([]Codec, 0, len(r.codecs))
	for _, c := range r.codecs {
		if !seen[c] {
			seen[c] = true
			codecs = append(codecs, c)
		}
	}
	return codecs
}
