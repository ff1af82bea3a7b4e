// Package encaps reads and writes DICOM encapsulated pixel data: the item
// framing that wraps each compressed frame, the basic (32-bit) and extended
// (64-bit) offset tables that index frames, and the element-level scanning
// needed to locate the pixel data inside an explicit VR little endian
// stream.
//
// All multi-byte values are little endian. Every item is an 8-byte header
// (4-byte tag, 4-byte length) followed by an even-length payload.
package encaps

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Element tags used by the encapsulated pixel data layout, encoded as
// group<<16 | element.
const (
	TagItem                       = 0xFFFEE000
	TagItemDelimiter              = 0xFFFEE00D
	TagSequenceDelimiter          = 0xFFFEE0DD
	TagExtendedOffsetTable        = 0x7FE00001
	TagExtendedOffsetTableLengths = 0x7FE00002
	TagPixelData                  = 0x7FE00010
)

const (
	// ItemHeaderSize is the size of an item tag plus its 4-byte length.
	ItemHeaderSize = 8

	// BasicEntrySize is the size of one basic offset table entry.
	BasicEntrySize = 4

	// ExtendedEntrySize is the size of one extended offset table entry.
	ExtendedEntrySize = 8

	// HeaderOffset is the position of the first data element, after the
	// 128-byte preamble and the "DICM" magic.
	HeaderOffset = 132

	undefinedLength = 0xFFFFFFFF
)

// Format errors.
var (
	ErrFormat            = errors.New("encaps: malformed stream")
	ErrFragmentedFrames  = errors.New("encaps: fragmented frames are not supported")
	ErrBothTablesPresent = errors.New("encaps: both basic and extended offset table present")
	ErrNoDelimiter       = errors.New("encaps: missing sequence delimiter")
	ErrTableOverflow     = errors.New("encaps: frame offset exceeds basic offset table range")
)

var byteOrder = binary.LittleEndian

// FramePosition locates one frame payload inside a file.
type FramePosition struct {
	// Offset is the absolute byte position of the frame payload (after the
	// item header).
	Offset int64

	// Length is the payload length in bytes.
	Length uint32
}

// TableType selects the offset table encoding of a pixel data stream.
type TableType int

const (
	// TableBasic uses the 32-bit basic offset table as the first item of
	// the frame stream.
	TableBasic TableType = iota

	// TableExtended uses the 64-bit extended offset table element before
	// the pixel data element.
	TableExtended

	// TableNone writes an empty basic offset table; readers must discover
	// frames by linear scan.
	TableNone
)

func (t TableType) String() string {
	switch t {
	case TableBasic:
		return "basic"
	case TableExtended:
		return "extended"
	case TableNone:
		return "none"
	}
	return fmt.Sprintf("TableType(%d)", int(t))
}

// long-form VRs carry a 2-byte reserved field and a 4-byte length.
var longFormVRs = map[string]bool{
	"OB": true, "OD": true, "OF": true, "OL": true, "OV": true,
	"OW": true, "SQ": true, "UC": true, "UN": true, "UR": true, "UT": true,
}

func readFull(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	return err
}

func readTag(r io.Reader) (uint32, error) {
	var buf [4]byte
	if err := readFull(r, buf[:]); err != nil {
		return 0, err
	}
	group := byteOrder.Uint16(buf[0:2])
	elem := byteOrder.Uint16(buf[2:4])
	return uint32(group)<<16 | uint32(elem), nil
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if err := readFull(r, buf[:]); err != nil {
		return 0, err
	}
	return byteOrder.Uint32(buf[:]), nil
}

func skip(r io.Seeker, n int64) error {
	_, err := r.Seek(n, io.SeekCurrent)
	return err
}

func position(r io.Seeker) (int64, error) {
	return r.Seek(0, io.SeekCurrent)
}

// CheckPreamble verifies the 128-byte preamble and "DICM" magic, leaving r
// positioned at the first data element.
func CheckPreamble(r io.ReadSeeker) error {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return err
	}
	header := make([]byte, HeaderOffset)
	if err := readFull(r, header); err != nil {
		return fmt.Errorf("%w: short preamble: %v", ErrFormat, err)
	}
	if string(header[128:132]) != "DICM" {
		return fmt.Errorf("%w: missing DICM magic", ErrFormat)
	}
	return nil
}

// readElementLength reads the VR and length fields of an explicit VR
// element, returning the value length.
func readElementLength(r io.ReadSeeker) (uint32, error) {
	var vr [2]byte
	if err := readFull(r, vr[:]); err != nil {
		return 0, err
	}
	if longFormVRs[string(vr[:])] {
		if err := skip(r, 2); err != nil {
			return 0, err
		}
		return readUint32(r)
	}
	var buf [2]byte
	if err := readFull(r, buf[:]); err != nil {
		return 0, err
	}
	return uint32(byteOrder.Uint16(buf[:])), nil
}

// skipUndefinedValue skips an undefined-length element value (a sequence of
// items terminated by a sequence delimiter). Items may themselves have
// undefined length, in which case their nested datasets are walked.
func skipUndefinedValue(r io.ReadSeeker) error {
	for {
		tag, err := readTag(r)
		if err != nil {
			return err
		}
		length, err := readUint32(r)
		if err != nil {
			return err
		}
		switch tag {
		case TagSequenceDelimiter:
			return nil
		case TagItem:
			if length == undefinedLength {
				if err := skipUndefinedItem(r); err != nil {
					return err
				}
			} else if err := skip(r, int64(length)); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: unexpected tag %08X in sequence", ErrFormat, tag)
		}
	}
}

// skipUndefinedItem skips the nested dataset of an undefined-length item up
// to its item delimiter.
func skipUndefinedItem(r io.ReadSeeker) error {
	for {
		tag, err := readTag(r)
		if err != nil {
			return err
		}
		if tag == TagItemDelimiter {
			_, err := readUint32(r)
			return err
		}
		length, err := readElementLength(r)
		if err != nil {
			return err
		}
		if length == undefinedLength {
			if err := skipUndefinedValue(r); err != nil {
				return err
			}
		} else if err := skip(r, int64(length)); err != nil {
			return err
		}
	}
}

// SeekPixelData advances r from the first data element to the extended
// offset table element or, if absent, the pixel data element, returning the
// tag found. The reader is left positioned just after the tag.
func SeekPixelData(r io.ReadSeeker) (uint32, error) {
	if _, err := r.Seek(HeaderOffset, io.SeekStart); err != nil {
		return 0, err
	}
	for {
		tag, err := readTag(r)
		if err != nil {
			return 0, fmt.Errorf("%w: no pixel data element: %v", ErrFormat, err)
		}
		if tag == TagExtendedOffsetTable || tag == TagPixelData {
			return tag, nil
		}
		length, err := readElementLength(r)
		if err != nil {
			return 0, err
		}
		if length == undefinedLength {
			if err := skipUndefinedValue(r); err != nil {
				return 0, err
			}
		} else if err := skip(r, int64(length)); err != nil {
			return 0, err
		}
	}
}

// readExtendedTable reads the extended offset table value and skips the
// parallel lengths element. r must be positioned after the table tag.
func readExtendedTable(r io.ReadSeeker) ([]byte, error) {
	length, err := readElementLength(r)
	if err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, fmt.Errorf("%w: extended offset table present but empty", ErrFormat)
	}
	if length%ExtendedEntrySize != 0 {
		return nil, fmt.Errorf("%w: extended offset table length %d not a multiple of %d",
			ErrFormat, length, ExtendedEntrySize)
	}
	table := make([]byte, length)
	if err := readFull(r, table); err != nil {
		return nil, err
	}
	tag, err := readTag(r)
	if err != nil {
		return nil, err
	}
	if tag != TagExtendedOffsetTableLengths {
		return nil, fmt.Errorf("%w: expected extended offset table lengths, found %08X", ErrFormat, tag)
	}
	lengthsLen, err := readElementLength(r)
	if err != nil {
		return nil, err
	}
	// The lengths sub-block duplicates information derivable from the
	// offsets and the item headers, so it is skipped.
	if err := skip(r, int64(lengthsLen)); err != nil {
		return nil, err
	}
	return table, nil
}

// readBasicTable reads the basic offset table item that starts the frame
// stream. Returns nil if the table is empty.
func readBasicTable(r io.ReadSeeker) ([]byte, error) {
	tag, err := readTag(r)
	if err != nil {
		return nil, err
	}
	if tag != TagItem {
		return nil, fmt.Errorf("%w: basic offset table did not start with an item tag", ErrFormat)
	}
	length, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, nil
	}
	if length%BasicEntrySize != 0 {
		return nil, fmt.Errorf("%w: basic offset table length %d not a multiple of %d",
			ErrFormat, length, BasicEntrySize)
	}
	table := make([]byte, length)
	if err := readFull(r, table); err != nil {
		return nil, err
	}
	return table, nil
}

// parseTable converts an offset table (basic or extended) to frame
// positions. Offsets are relative to pixelsStart, the first byte after the
// basic offset table item. The final frame's length is read from its item
// header.
func parseTable(r io.ReadSeeker, table []byte, entrySize int, pixelsStart int64) ([]FramePosition, error) {
	entryAt := func(i int) int64 {
		if entrySize == BasicEntrySize {
			return int64(byteOrder.Uint32(table[i*entrySize:]))
		}
		return int64(byteOrder.Uint64(table[i*entrySize:]))
	}
	count := len(table) / entrySize
	positions := make([]FramePosition, 0, count)
	this := entryAt(0)
	for i := 1; i < count; i++ {
		next := entryAt(i)
		length := next - this - ItemHeaderSize
		if length <= 0 || length%2 != 0 {
			return nil, fmt.Errorf("%w: invalid frame length %d", ErrFormat, length)
		}
		positions = append(positions, FramePosition{
			Offset: pixelsStart + this + ItemHeaderSize,
			Length: uint32(length),
		})
		this = next
	}
	// The table holds no entry past the last frame; read its length from
	// the item header at the computed position.
	if _, err := r.Seek(pixelsStart+this, io.SeekStart); err != nil {
		return nil, err
	}
	tag, err := readTag(r)
	if err != nil {
		return nil, err
	}
	if tag != TagItem {
		return nil, fmt.Errorf("%w: expected item tag in pixel data, found %08X", ErrFormat, tag)
	}
	length, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if length == 0 || length%2 != 0 {
		return nil, fmt.Errorf("%w: invalid frame length %d", ErrFormat, length)
	}
	positions = append(positions, FramePosition{
		Offset: pixelsStart + this + ItemHeaderSize,
		Length: length,
	})
	return positions, nil
}

// scanFrames discovers frame positions by walking item headers until the
// sequence delimiter. r must be positioned at the first frame item.
func scanFrames(r io.ReadSeeker) ([]FramePosition, error) {
	var positions []FramePosition
	for {
		pos, err := position(r)
		if err != nil {
			return nil, err
		}
		tag, err := readTag(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoDelimiter, err)
		}
		length, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		switch tag {
		case TagItem:
			if length == 0 || length%2 != 0 {
				return nil, fmt.Errorf("%w: invalid frame length %d", ErrFormat, length)
			}
			positions = append(positions, FramePosition{
				Offset: pos + ItemHeaderSize,
				Length: length,
			})
			if err := skip(r, int64(length)); err != nil {
				return nil, err
			}
		case TagSequenceDelimiter:
			return positions, nil
		default:
			return nil, fmt.Errorf("%w: found tag %08X", ErrNoDelimiter, tag)
		}
	}
}

// ParseFrames locates every frame of the encapsulated pixel data in r. The
// stream may carry an extended offset table element before the pixel data
// element, a non-empty basic offset table as the first frame-stream item, or
// neither (linear scan); carrying both is an error. The parsed frame count
// must equal declaredFrames, otherwise the frames are fragmented and
// ErrFragmentedFrames is returned.
func ParseFrames(r io.ReadSeeker, declaredFrames int) ([]FramePosition, error) {
	tag, err := SeekPixelData(r)
	if err != nil {
		return nil, err
	}

	var extended []byte
	if tag == TagExtendedOffsetTable {
		extended, err = readExtendedTable(r)
		if err != nil {
			return nil, err
		}
		tag, err = readTag(r)
		if err != nil {
			return nil, err
		}
	}
	if tag != TagPixelData {
		return nil, fmt.Errorf("%w: expected pixel data element, found %08X", ErrFormat, tag)
	}
	length, err := readElementLength(r)
	if err != nil {
		return nil, err
	}
	if length != undefinedLength {
		return nil, fmt.Errorf("%w: expected undefined pixel data length", ErrFormat)
	}

	basic, err := readBasicTable(r)
	if err != nil {
		return nil, err
	}
	if basic != nil && extended != nil {
		return nil, ErrBothTablesPresent
	}

	pixelsStart, err := position(r)
	if err != nil {
		return nil, err
	}

	var positions []FramePosition
	switch {
	case basic != nil:
		positions, err = parseTable(r, basic, BasicEntrySize, pixelsStart)
	case extended != nil:
		positions, err = parseTable(r, extended, ExtendedEntrySize, pixelsStart)
	default:
		positions, err = scanFrames(r)
	}
	if err != nil {
		return nil, err
	}

	if len(positions) != declaredFrames {
		return nil, fmt.Errorf("%w: frame count %d != items %d",
			ErrFragmentedFrames, declaredFrames, len(positions))
	}
	return positions, nil
}
