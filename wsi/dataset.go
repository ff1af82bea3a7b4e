package wsi

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/mrjoshuak/go-wsidicom/geometry"
	"github.com/mrjoshuak/go-wsidicom/uid"
)

// Tiling is the frame organization of an instance.
type Tiling int

const (
	// TilingFull means frames cover every tile position in a fixed
	// row-major order and no per-frame positions are stored.
	TilingFull Tiling = iota

	// TilingSparse means each frame carries its own position and only a
	// subset of tile positions may be present.
	TilingSparse
)

func (t Tiling) String() string {
	if t == TilingFull {
		return "full"
	}
	return "sparse"
}

// FrameEntry is the parsed position of one frame of a sparsely tiled
// instance.
type FrameEntry struct {
	// Tile is the tile coordinate the frame covers.
	Tile geometry.Point

	// Z is the focal plane in micrometers, rounded to three decimals.
	Z float64

	// Path is the optical path identifier.
	Path string
}

// Dataset is the metadata record of one whole-slide image file, parsed once
// at open and immutable afterwards.
type Dataset struct {
	UIDs           uid.FileUIDs
	SOPClass       string
	TransferSyntax string
	InstanceNumber int
	ImageType      []string

	// FrameOffset is the instance-global index of the file's first frame,
	// nonzero only for concatenation parts.
	FrameOffset int

	// FrameCount is the number of frames stored in this file.
	FrameCount int

	TileSize  geometry.Size
	ImageSize geometry.Size

	PixelSpacing geometry.SizeMm
	MmSize       geometry.SizeMm
	MmDepth      float64

	SliceThickness       float64
	SpacingBetweenSlices float64

	SamplesPerPixel int
	BitsAllocated   int
	Photometric     string

	Tiling Tiling

	// FocalPlaneCount and OpticalPathCount size the full tiling order.
	FocalPlaneCount  int
	OpticalPathCount int
	OpticalPathIDs   []string

	FocusMethod          string
	ExtendedDepthOfField bool
	EDOFPlaneCount       int
	EDOFPlaneDistance    float64

	// Frames holds per-frame positions for sparse tiling, in file order.
	Frames []FrameEntry
}

// roundMicrometers rounds a focal plane depth to three decimals, the
// resolution at which focal planes are considered equal.
func roundMicrometers(z float64) float64 {
	return math.Round(z*1000) / 1000
}

// ParseDataset builds the metadata record from a parsed dataset. A format
// error means the file cannot be used at all.
func ParseDataset(ds dicom.Dataset) (*Dataset, error) {
	d := &Dataset{}

	d.SOPClass, _ = findString(ds, tagSOPClassUID)
	d.TransferSyntax, _ = findString(ds, tagTransferSyntaxUID)
	d.ImageType, _ = findStrings(ds, tagImageType)
	d.InstanceNumber, _ = findInt(ds, tagInstanceNumber)

	d.UIDs.Instance, _ = findString(ds, tagSOPInstanceUID)
	if d.UIDs.Instance == "" {
		return nil, fmt.Errorf("%w: missing SOP instance UID", ErrFormat)
	}
	d.UIDs.Base.StudyInstance, _ = findString(ds, tagStudyInstanceUID)
	d.UIDs.Base.SeriesInstance, _ = findString(ds, tagSeriesInstanceUID)
	d.UIDs.Base.FrameOfReference, _ = findString(ds, tagFrameOfReferenceUID)

	d.UIDs.Concatenation, _ = findString(ds, tagConcatenationUID)
	if d.UIDs.Concatenation != "" {
		offset, ok := findInt(ds, tagConcatenationOffset)
		if !ok {
			return nil, fmt.Errorf("%w: concatenation part without frame offset", ErrValidation)
		}
		d.FrameOffset = offset
	}

	d.FrameCount = 1
	if n, ok := findInt(ds, tagNumberOfFrames); ok {
		d.FrameCount = n
	}
	if d.FrameCount < 1 {
		return nil, fmt.Errorf("%w: frame count %d", ErrFormat, d.FrameCount)
	}

	rows, _ := findInt(ds, tagRows)
	cols, _ := findInt(ds, tagColumns)
	d.TileSize = geometry.Size{Width: cols, Height: rows}
	if d.TileSize.IsZero() {
		return nil, fmt.Errorf("%w: zero tile size %v", ErrValidation, d.TileSize)
	}

	matrixCols, _ := findInt(ds, tagMatrixColumns)
	matrixRows, _ := findInt(ds, tagMatrixRows)
	d.ImageSize = geometry.Size{Width: matrixCols, Height: matrixRows}
	if d.ImageSize.IsZero() {
		return nil, fmt.Errorf("%w: zero image size %v", ErrValidation, d.ImageSize)
	}

	spacing, err := parsePixelSpacing(ds)
	if err != nil {
		return nil, err
	}
	d.PixelSpacing = spacing

	if shared, ok := findSequenceItem(ds, tagSharedFunctionalGroups, 0); ok {
		if measures, ok := itemSequenceItem(shared, tagPixelMeasures, 0); ok {
			d.SliceThickness, _ = itemFloat(measures, tagSliceThickness)
			d.SpacingBetweenSlices, _ = itemFloat(measures, tagSpacingBetweenSlices)
		}
	}
	if d.SpacingBetweenSlices == 0 {
		d.SpacingBetweenSlices, _ = findFloat(ds, tagSpacingBetweenSlices)
	}

	d.MmSize.Width, _ = findFloat(ds, tagImagedVolumeWidth)
	d.MmSize.Height, _ = findFloat(ds, tagImagedVolumeHeight)
	d.MmDepth, _ = findFloat(ds, tagImagedVolumeDepth)

	d.SamplesPerPixel, _ = findInt(ds, tagSamplesPerPixel)
	d.BitsAllocated, _ = findInt(ds, tagBitsAllocated)
	d.Photometric, _ = findString(ds, tagPhotometric)

	d.FocusMethod, _ = findString(ds, tagFocusMethod)
	if edof, ok := findString(ds, tagExtendedDepthField); ok {
		d.ExtendedDepthOfField = strings.EqualFold(edof, "YES")
	}
	d.EDOFPlaneCount, _ = findInt(ds, tagFocalPlaneCount)
	d.EDOFPlaneDistance, _ = findFloat(ds, tagFocalPlaneDistance)

	d.OpticalPathIDs = parseOpticalPaths(ds)
	d.OpticalPathCount = len(d.OpticalPathIDs)
	if n, ok := findInt(ds, tagNumberOfOpticalPaths); ok && n > 0 {
		d.OpticalPathCount = n
	}
	if d.OpticalPathCount == 0 {
		d.OpticalPathCount = 1
	}

	d.FocalPlaneCount = 1
	if n, ok := findInt(ds, tagMatrixFocalPlanes); ok && n > 0 {
		d.FocalPlaneCount = n
	}

	if org, _ := findString(ds, tagDimensionOrganization); org == "TILED_FULL" {
		d.Tiling = TilingFull
	} else {
		d.Tiling = TilingSparse
		frames, err := parseFrameEntries(ds, d)
		if err != nil {
			return nil, err
		}
		d.Frames = frames
	}

	return d, nil
}

// TiledSize returns the number of tile columns and rows covering the image.
func (d *Dataset) TiledSize() geometry.Size {
	return d.ImageSize.DivCeil(d.TileSize)
}

// DefaultPath returns the first declared optical path identifier.
func (d *Dataset) DefaultPath() string {
	if len(d.OpticalPathIDs) > 0 {
		return d.OpticalPathIDs[0]
	}
	return "0"
}

// MatchesSeries reports whether the dataset belongs to the given series.
func (d *Dataset) MatchesSeries(base uid.BaseUIDs) bool {
	return d.UIDs.Base.Matches(base)
}

// MatchesInstance reports whether two datasets are parts of the same
// logical instance. Parts must share identity, tile size and total pixel
// matrix size.
func (d *Dataset) MatchesInstance(other *Dataset) bool {
	return d.UIDs.Matches(other.UIDs) &&
		d.TileSize == other.TileSize &&
		d.ImageSize == other.ImageSize
}

// SpacingBetweenSlicesMicrometers returns the focal plane spacing in
// micrometers. Focal plane depths are expressed in micrometers so full
// tiling can enumerate them without per-frame positions.
func (d *Dataset) SpacingBetweenSlicesMicrometers() float64 {
	return d.SpacingBetweenSlices * 1000
}

func parsePixelSpacing(ds dicom.Dataset) (geometry.SizeMm, error) {
	shared, ok := findSequenceItem(ds, tagSharedFunctionalGroups, 0)
	if !ok {
		return geometry.SizeMm{}, fmt.Errorf("%w: missing shared functional groups", ErrFormat)
	}
	measures, ok := itemSequenceItem(shared, tagPixelMeasures, 0)
	if !ok {
		return geometry.SizeMm{}, fmt.Errorf("%w: missing pixel measures", ErrFormat)
	}
	values, ok := itemFloats(measures, tagPixelSpacing)
	if !ok || len(values) != 2 {
		return geometry.SizeMm{}, fmt.Errorf("%w: missing pixel spacing", ErrFormat)
	}
	// Pixel spacing is stored row spacing first.
	spacing := geometry.SizeMm{Width: values[1], Height: values[0]}
	if spacing.Width == 0 || spacing.Height == 0 {
		return geometry.SizeMm{}, fmt.Errorf("%w: zero pixel spacing", ErrValidation)
	}
	return spacing, nil
}

func parseOpticalPaths(ds dicom.Dataset) []string {
	e, err := ds.FindElementByTag(tagOpticalPathSequence)
	if err != nil {
		return nil
	}
	var ids []string
	for _, item := range sequenceItems(e) {
		if id, ok := itemString(item, tagOpticalPathID); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// parseFrameEntries reads the per-frame positions of a sparsely tiled
// instance. Positions are stored one-based in total pixel matrix pixels.
func parseFrameEntries(ds dicom.Dataset, d *Dataset) ([]FrameEntry, error) {
	e, err := ds.FindElementByTag(tagPerFrameFunctionalGroups)
	if err != nil {
		return nil, fmt.Errorf("%w: sparse tiling without per-frame functional groups", ErrFormat)
	}
	items := sequenceItems(e)
	if len(items) != d.FrameCount {
		return nil, fmt.Errorf("%w: %d per-frame groups for %d frames",
			ErrFormat, len(items), d.FrameCount)
	}
	defaultPath := d.DefaultPath()
	frames := make([]FrameEntry, 0, len(items))
	for i, item := range items {
		plane, ok := itemSequenceItem(item, tagPlanePositionSlide, 0)
		if !ok {
			return nil, fmt.Errorf("%w: frame %d missing plane position", ErrFormat, i)
		}
		col, okC := itemInt(plane, tagColumnPosition)
		row, okR := itemInt(plane, tagRowPosition)
		if !okC || !okR || col < 1 || row < 1 {
			return nil, fmt.Errorf("%w: frame %d invalid matrix position", ErrFormat, i)
		}
		z, _ := itemFloat(plane, tagZOffsetInSlide)

		path := defaultPath
		if pathItem, ok := itemSequenceItem(item, tagOpticalPathIDSeq, 0); ok {
			if id, ok := itemString(pathItem, tagOpticalPathID); ok {
				path = id
			}
		}

		frames = append(frames, FrameEntry{
			Tile: geometry.Point{X: col - 1, Y: row - 1}.DivFloor(d.TileSize),
			Z:    roundMicrometers(z),
			Path: path,
		})
	}
	return frames, nil
}

// Element value helpers. The parser stores DS and IS values as strings and
// US/UL values as ints, so numeric lookups accept both representations.

func findElement(ds dicom.Dataset, t tag.Tag) (*dicom.Element, bool) {
	e, err := ds.FindElementByTag(t)
	if err != nil {
		return nil, false
	}
	return e, true
}

func findString(ds dicom.Dataset, t tag.Tag) (string, bool) {
	e, ok := findElement(ds, t)
	if !ok {
		return "", false
	}
	return elementString(e)
}

func findStrings(ds dicom.Dataset, t tag.Tag) ([]string, bool) {
	e, ok := findElement(ds, t)
	if !ok {
		return nil, false
	}
	s, ok := e.Value.GetValue().([]string)
	return s, ok
}

func findInt(ds dicom.Dataset, t tag.Tag) (int, bool) {
	e, ok := findElement(ds, t)
	if !ok {
		return 0, false
	}
	return elementInt(e)
}

func findFloat(ds dicom.Dataset, t tag.Tag) (float64, bool) {
	e, ok := findElement(ds, t)
	if !ok {
		return 0, false
	}
	return elementFloat(e)
}

func elementString(e *dicom.Element) (string, bool) {
	s, ok := e.Value.GetValue().([]string)
	if !ok || len(s) == 0 {
		return "", false
	}
	return strings.TrimSpace(s[0]), true
}

func elementInt(e *dicom.Element) (int, bool) {
	switch v := e.Value.GetValue().(type) {
	case []int:
		if len(v) > 0 {
			return v[0], true
		}
	case []string:
		if len(v) > 0 {
			n, err := strconv.Atoi(strings.TrimSpace(v[0]))
			if err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

func elementFloat(e *dicom.Element) (float64, bool) {
	switch v := e.Value.GetValue().(type) {
	case []float64:
		if len(v) > 0 {
			return v[0], true
		}
	case []int:
		if len(v) > 0 {
			return float64(v[0]), true
		}
	case []string:
		if len(v) > 0 {
			f, err := strconv.ParseFloat(strings.TrimSpace(v[0]), 64)
			if err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func elementFloats(e *dicom.Element) ([]float64, bool) {
	switch v := e.Value.GetValue().(type) {
	case []float64:
		return v, true
	case []string:
		out := make([]float64, 0, len(v))
		for _, s := range v {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil, false
			}
			out = append(out, f)
		}
		return out, true
	}
	return nil, false
}

// sequenceItems returns the per-item element lists of a sequence element.
func sequenceItems(e *dicom.Element) [][]*dicom.Element {
	items, ok := e.Value.GetValue().([]*dicom.SequenceItemValue)
	if !ok {
		return nil
	}
	out := make([][]*dicom.Element, 0, len(items))
	for _, item := range items {
		elems, ok := item.GetValue().([]*dicom.Element)
		if !ok {
			continue
		}
		out = append(out, elems)
	}
	return out
}

func findSequenceItem(ds dicom.Dataset, t tag.Tag, i int) ([]*dicom.Element, bool) {
	e, ok := findElement(ds, t)
	if !ok {
		return nil, false
	}
	items := sequenceItems(e)
	if i >= len(items) {
		return nil, false
	}
	return items[i], true
}

func itemElement(item []*dicom.Element, t tag.Tag) (*dicom.Element, bool) {
	for _, e := range item {
		if e.Tag == t {
			return e, true
		}
	}
	return nil, false
}

func itemSequenceItem(item []*dicom.Element, t tag.Tag, i int) ([]*dicom.Element, bool) {
	e, ok := itemElement(item, t)
	if !ok {
		return nil, false
	}
	items := sequenceItems(e)
	if i >= len(items) {
		return nil, false
	}
	return items[i], true
}

func itemString(item []*dicom.Element, t tag.Tag) (string, bool) {
	e, ok := itemElement(item, t)
	if !ok {
		return "", false
	}
	return elementString(e)
}

func itemInt(item []*dicom.Element, t tag.Tag) (int, bool) {
	e, ok := itemElement(item, t)
	if !ok {
		return 0, false
	}
	return elementInt(e)
}

func itemFloat(item []*dicom.Element, t tag.Tag) (float64, bool) {
	e, ok := itemElement(item, t)
	if !ok {
		return 0, false
	}
	return elementFloat(e)
}

func itemFloats(item []*dicom.Element, t tag.Tag) ([]float64, bool) {
	e, ok := itemElement(item, t)
	if !ok {
		return nil, false
	}
	return elementFloats(e)
}
