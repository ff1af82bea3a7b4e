package wsi

import "errors"

// Error kinds returned by the package. Errors are wrapped with context and
// checked with errors.Is.
var (
	// ErrFormat reports a malformed or unsupported file. Parsing stops at
	// the first format error.
	ErrFormat = errors.New("wsi: malformed file")

	// ErrNotFound reports a lookup miss: a tile outside the sparse plane
	// map, an unknown focal plane or optical path, or a missing attribute.
	ErrNotFound = errors.New("wsi: not found")

	// ErrOutOfBounds reports a requested region outside the image.
	ErrOutOfBounds = errors.New("wsi: region out of bounds")

	// ErrDuplicateUID reports two datasets carrying the same instance
	// identity.
	ErrDuplicateUID = errors.New("wsi: duplicate instance UID")

	// ErrValidation reports metadata that parses but violates an instance
	// invariant.
	ErrValidation = errors.New("wsi: invalid metadata")
)
