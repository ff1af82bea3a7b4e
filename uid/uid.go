// Package uid defines the DICOM unique identifiers used by whole-slide
// image instances and generates new ones.
package uid

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// Well-known UIDs.
const (
	// VLWholeSlideMicroscopyImageStorage is the SOP class of WSI instances.
	VLWholeSlideMicroscopyImageStorage = "1.2.840.10008.5.1.4.1.1.77.1.6"

	// Transfer syntaxes commonly carried by WSI pixel data.
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"
	JPEGBaseline8Bit       = "1.2.840.10008.1.2.4.50"
	JPEG2000Lossless       = "1.2.840.10008.1.2.4.90"
	JPEG2000               = "1.2.840.10008.1.2.4.91"

	// DeflateTiles is the transfer syntax of the lossless deflate tile
	// codec. Frames ride under the registered JPIP Referenced Deflate UID:
	// it is a recognized explicit VR little endian syntax, so datasets
	// carrying it pass dictionary validation on write and re-open, while
	// no pixel data decoder claims it.
	DeflateTiles = "1.2.840.10008.1.2.4.95"
)

// BaseUIDs identifies the series an instance belongs to. Two instances are
// part of the same image pyramid only when all three match.
type BaseUIDs struct {
	StudyInstance    string
	SeriesInstance   string
	FrameOfReference string
}

// Matches reports whether both identities name the same series.
func (b BaseUIDs) Matches(other BaseUIDs) bool {
	return b == other
}

// FileUIDs is the full identity of a single file: its series identity plus
// its SOP instance UID and, if the file is part of a multi-file
// concatenation, the concatenation UID shared by the parts.
type FileUIDs struct {
	Base          BaseUIDs
	Instance      string
	Concatenation string
}

// Identifier returns the UID under which files group into one logical
// instance: the concatenation UID when present, the instance UID otherwise.
func (f FileUIDs) Identifier() string {
	if f.Concatenation != "" {
		return f.Concatenation
	}
	return f.Instance
}

// Matches reports whether two files belong to the same logical instance.
func (f FileUIDs) Matches(other FileUIDs) bool {
	return f.Base.Matches(other.Base) && f.Identifier() == other.Identifier()
}

// New generates a UID under the UUID-derived 2.25 root.
func New() string {
	id := uuid.New()
	n := new(big.Int).SetBytes(id[:])
	return fmt.Sprintf("2.25.%s", n.String())
}
