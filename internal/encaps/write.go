package encaps

import (
	"fmt"
	"io"
)

func writeTag(w io.Writer, tag uint32) error {
	var buf [4]byte
	byteOrder.PutUint16(buf[0:2], uint16(tag>>16))
	byteOrder.PutUint16(buf[2:4], uint16(tag))
	_, err := w.Write(buf[:])
	return err
}

func writeUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	byteOrder.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeZeros(w io.Writer, n int) error {
	zeros := make([]byte, min(n, 64*1024))
	for n > 0 {
		chunk := min(n, len(zeros))
		if _, err := w.Write(zeros[:chunk]); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// writeElementHeader writes an explicit VR element header with a long-form
// VR and a 4-byte length.
func writeElementHeader(w io.Writer, tag uint32, vr string, length uint32) error {
	if err := writeTag(w, tag); err != nil {
		return err
	}
	if _, err := w.Write([]byte(vr)); err != nil {
		return err
	}
	if _, err := w.Write([]byte{0, 0}); err != nil {
		return err
	}
	return writeUint32(w, length)
}

// BeginPixelData writes the offset table reservation and the pixel data
// element header for a stream of frames frames. For TableExtended the
// extended table and its lengths element are zero-filled before the pixel
// data element; for TableBasic the first item reserves a zero-filled table;
// for TableNone the first item is empty. It returns the position of the
// reservation to backpatch (the table element or item tag) and the position
// of the first byte after the basic offset table item, to which all table
// offsets are relative.
func BeginPixelData(w io.WriteSeeker, frames int, table TableType) (tableStart, pixelsStart int64, err error) {
	if table == TableExtended {
		tableStart, err = position(w)
		if err != nil {
			return 0, 0, err
		}
		if err = writeElementHeader(w, TagExtendedOffsetTable, "OV", uint32(frames*ExtendedEntrySize)); err != nil {
			return 0, 0, err
		}
		if err = writeZeros(w, frames*ExtendedEntrySize); err != nil {
			return 0, 0, err
		}
		if err = writeElementHeader(w, TagExtendedOffsetTableLengths, "OV", uint32(frames*ExtendedEntrySize)); err != nil {
			return 0, 0, err
		}
		if err = writeZeros(w, frames*ExtendedEntrySize); err != nil {
			return 0, 0, err
		}
	}

	if err = writeElementHeader(w, TagPixelData, "OB", undefinedLength); err != nil {
		return 0, 0, err
	}

	// The basic offset table is the first item of the frame stream, empty
	// unless reserved.
	botLength := 0
	if table == TableBasic {
		botLength = frames * BasicEntrySize
		tableStart, err = position(w)
		if err != nil {
			return 0, 0, err
		}
	}
	if err = writeTag(w, TagItem); err != nil {
		return 0, 0, err
	}
	if err = writeUint32(w, uint32(botLength)); err != nil {
		return 0, 0, err
	}
	if err = writeZeros(w, botLength); err != nil {
		return 0, 0, err
	}

	pixelsStart, err = position(w)
	if err != nil {
		return 0, 0, err
	}
	return tableStart, pixelsStart, nil
}

// WriteFrameItem writes one frame as an item, padding odd payloads to even
// length, and returns the position of the item tag.
func WriteFrameItem(w io.WriteSeeker, payload []byte) (int64, error) {
	pos, err := position(w)
	if err != nil {
		return 0, err
	}
	length := len(payload)
	padded := length%2 != 0
	if padded {
		length++
	}
	if err := writeTag(w, TagItem); err != nil {
		return 0, err
	}
	if err := writeUint32(w, uint32(length)); err != nil {
		return 0, err
	}
	if _, err := w.Write(payload); err != nil {
		return 0, err
	}
	if padded {
		if _, err := w.Write([]byte{0}); err != nil {
			return 0, err
		}
	}
	return pos, nil
}

// WriteDelimiter ends the frame stream with a sequence delimiter.
func WriteDelimiter(w io.Writer) error {
	if err := writeTag(w, TagSequenceDelimiter); err != nil {
		return err
	}
	return writeUint32(w, 0)
}

// checkReservation re-reads the header at tableStart and verifies it still
// matches the expected tag and length before overwriting the value.
func checkReservation(w io.WriteSeeker, tableStart int64, wantTag uint32, wantLength uint32, headerSize int64) error {
	r, ok := w.(io.Reader)
	if !ok {
		return nil
	}
	if _, err := w.Seek(tableStart, io.SeekStart); err != nil {
		return err
	}
	tag, err := readTag(r)
	if err != nil {
		return err
	}
	if tag != wantTag {
		return fmt.Errorf("%w: reservation tag %08X, want %08X", ErrFormat, tag, wantTag)
	}
	if _, err := w.Seek(tableStart+headerSize-4, io.SeekStart); err != nil {
		return err
	}
	length, err := readUint32(r)
	if err != nil {
		return err
	}
	if length != wantLength {
		return fmt.Errorf("%w: reservation length %d, want %d", ErrFormat, length, wantLength)
	}
	return nil
}

// BackpatchBasicTable fills the reserved basic offset table with the item
// tag positions of the written frames, relative to pixelsStart. Offsets
// beyond the 32-bit range cannot be represented in a basic table and return
// ErrTableOverflow.
func BackpatchBasicTable(w io.WriteSeeker, tableStart, pixelsStart int64, itemPositions []int64) error {
	last := itemPositions[len(itemPositions)-1] - pixelsStart
	if last > int64(^uint32(0)) {
		return fmt.Errorf("%w: offset %d", ErrTableOverflow, last)
	}
	want := uint32(len(itemPositions) * BasicEntrySize)
	if err := checkReservation(w, tableStart, TagItem, want, ItemHeaderSize); err != nil {
		return err
	}
	if _, err := w.Seek(tableStart+ItemHeaderSize, io.SeekStart); err != nil {
		return err
	}
	buf := make([]byte, len(itemPositions)*BasicEntrySize)
	for i, pos := range itemPositions {
		byteOrder.PutUint32(buf[i*BasicEntrySize:], uint32(pos-pixelsStart))
	}
	_, err := w.Write(buf)
	return err
}

// extendedHeaderSize is the size of a long-form explicit VR element header.
const extendedHeaderSize = 12

// BackpatchExtendedTable fills the reserved extended offset table and its
// lengths element. Offsets are item tag positions relative to pixelsStart.
// Length entries for all but the last frame are the distances between
// successive item tags; the last entry is the final frame's payload length.
func BackpatchExtendedTable(w io.WriteSeeker, tableStart, pixelsStart int64, itemPositions []int64, lastLength uint32) error {
	n := len(itemPositions)
	want := uint32(n * ExtendedEntrySize)
	if err := checkReservation(w, tableStart, TagExtendedOffsetTable, want, extendedHeaderSize); err != nil {
		return err
	}

	offsets := make([]byte, n*ExtendedEntrySize)
	lengths := make([]byte, n*ExtendedEntrySize)
	for i, pos := range itemPositions {
		byteOrder.PutUint64(offsets[i*ExtendedEntrySize:], uint64(pos-pixelsStart))
		if i < n-1 {
			byteOrder.PutUint64(lengths[i*ExtendedEntrySize:], uint64(itemPositions[i+1]-pos))
		} else {
			byteOrder.PutUint64(lengths[i*ExtendedEntrySize:], uint64(lastLength))
		}
	}

	if _, err := w.Seek(tableStart+extendedHeaderSize, io.SeekStart); err != nil {
		return err
	}
	if _, err := w.Write(offsets); err != nil {
		return err
	}
	// Skip the lengths element header between the two values.
	if _, err := w.Seek(extendedHeaderSize, io.SeekCurrent); err != nil {
		return err
	}
	_, err := w.Write(lengths)
	return err
}
