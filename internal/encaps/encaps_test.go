package encaps

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

// memFile is an in-memory io.ReadWriteSeeker.
type memFile struct {
	buf []byte
	pos int64
}

func (m *memFile) Read(p []byte) (int, error) {
	if m.pos >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[m.pos:])
	m.pos += int64(n)
	return n, nil
}

func (m *memFile) Write(p []byte) (int, error) {
	end := m.pos + int64(len(p))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[m.pos:], p)
	m.pos = end
	return len(p), nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		m.pos = offset
	case io.SeekCurrent:
		m.pos += offset
	case io.SeekEnd:
		m.pos = int64(len(m.buf)) + offset
	}
	return m.pos, nil
}

// newTestFile writes a preamble, the DICM magic and a couple of data
// elements (one short form, one undefined-length sequence) so that the
// element scanner has something to skip.
func newTestFile(t *testing.T) *memFile {
	t.Helper()
	m := &memFile{}
	m.Write(make([]byte, 128))
	m.Write([]byte("DICM"))

	// (0008,0018) UI, length 2.
	m.Write([]byte{0x08, 0x00, 0x18, 0x00, 'U', 'I', 0x02, 0x00, '1', 0x00})

	// (0040,0555) SQ with undefined length: one empty defined-length item,
	// one undefined-length item holding a nested element and closed by the
	// item delimitation tag (FFFE,E00D), then the sequence delimitation tag
	// (FFFE,E0DD). Byte literals so the scanner is held to the wire values.
	m.Write([]byte{0x40, 0x00, 0x55, 0x05, 'S', 'Q', 0x00, 0x00, 0xFF, 0xFF, 0xFF, 0xFF})
	m.Write([]byte{0xFE, 0xFF, 0x00, 0xE0, 0x00, 0x00, 0x00, 0x00})
	m.Write([]byte{0xFE, 0xFF, 0x00, 0xE0, 0xFF, 0xFF, 0xFF, 0xFF})
	m.Write([]byte{0x08, 0x00, 0x18, 0x00, 'U', 'I', 0x02, 0x00, '1', 0x00})
	m.Write([]byte{0xFE, 0xFF, 0x0D, 0xE0, 0x00, 0x00, 0x00, 0x00})
	m.Write([]byte{0xFE, 0xFF, 0xDD, 0xE0, 0x00, 0x00, 0x00, 0x00})
	return m
}

var testFrames = [][]byte{
	bytes.Repeat([]byte{0xAB}, 64),
	bytes.Repeat([]byte{0xCD}, 128),
	bytes.Repeat([]byte{0xEF}, 31), // odd, padded on write
}

// writeTestStream writes the frames with the given table type, including
// the backpatch, and returns the file.
func writeTestStream(t *testing.T, table TableType) *memFile {
	t.Helper()
	m := newTestFile(t)
	tableStart, pixelsStart, err := BeginPixelData(m, len(testFrames), table)
	if err != nil {
		t.Fatalf("BeginPixelData: %v", err)
	}
	positions := make([]int64, 0, len(testFrames))
	var lastLength uint32
	for _, frame := range testFrames {
		pos, err := WriteFrameItem(m, frame)
		if err != nil {
			t.Fatalf("WriteFrameItem: %v", err)
		}
		positions = append(positions, pos)
		lastLength = uint32(len(frame) + len(frame)%2)
	}
	if err := WriteDelimiter(m); err != nil {
		t.Fatalf("WriteDelimiter: %v", err)
	}
	switch table {
	case TableBasic:
		err = BackpatchBasicTable(m, tableStart, pixelsStart, positions)
	case TableExtended:
		err = BackpatchExtendedTable(m, tableStart, pixelsStart, positions, lastLength)
	}
	if err != nil {
		t.Fatalf("backpatch: %v", err)
	}
	return m
}

func readPayload(t *testing.T, m *memFile, pos FramePosition) []byte {
	t.Helper()
	if _, err := m.Seek(pos.Offset, io.SeekStart); err != nil {
		t.Fatalf("seek: %v", err)
	}
	buf := make([]byte, pos.Length)
	if _, err := io.ReadFull(m, buf); err != nil {
		t.Fatalf("read payload: %v", err)
	}
	return buf
}

// All three table encodings must locate the same frames.
func TestParseFramesTableEquivalence(t *testing.T) {
	for _, table := range []TableType{TableBasic, TableExtended, TableNone} {
		t.Run(table.String(), func(t *testing.T) {
			m := writeTestStream(t, table)
			positions, err := ParseFrames(m, len(testFrames))
			if err != nil {
				t.Fatalf("ParseFrames: %v", err)
			}
			if len(positions) != len(testFrames) {
				t.Fatalf("got %d frames, want %d", len(positions), len(testFrames))
			}
			for i, want := range testFrames {
				padded := len(want) + len(want)%2
				if int(positions[i].Length) != padded {
					t.Errorf("frame %d length = %d, want %d", i, positions[i].Length, padded)
				}
				got := readPayload(t, m, positions[i])
				if !bytes.Equal(got[:len(want)], want) {
					t.Errorf("frame %d payload mismatch", i)
				}
			}
		})
	}
}

func TestParseFramesFragmented(t *testing.T) {
	m := writeTestStream(t, TableNone)
	_, err := ParseFrames(m, len(testFrames)-1)
	if !errors.Is(err, ErrFragmentedFrames) {
		t.Fatalf("err = %v, want ErrFragmentedFrames", err)
	}
}

func TestParseFramesBothTables(t *testing.T) {
	m := newTestFile(t)
	// Extended table element with one entry.
	if err := writeElementHeader(m, TagExtendedOffsetTable, "OV", ExtendedEntrySize); err != nil {
		t.Fatal(err)
	}
	m.Write(make([]byte, ExtendedEntrySize))
	if err := writeElementHeader(m, TagExtendedOffsetTableLengths, "OV", ExtendedEntrySize); err != nil {
		t.Fatal(err)
	}
	m.Write(make([]byte, ExtendedEntrySize))
	// Pixel data with a non-empty basic table.
	if err := writeElementHeader(m, TagPixelData, "OB", undefinedLength); err != nil {
		t.Fatal(err)
	}
	writeTag(m, TagItem)
	writeUint32(m, BasicEntrySize)
	m.Write(make([]byte, BasicEntrySize))
	if _, err := WriteFrameItem(m, testFrames[0]); err != nil {
		t.Fatal(err)
	}
	WriteDelimiter(m)

	_, err := ParseFrames(m, 1)
	if !errors.Is(err, ErrBothTablesPresent) {
		t.Fatalf("err = %v, want ErrBothTablesPresent", err)
	}
}

func TestParseFramesMissingDelimiter(t *testing.T) {
	m := newTestFile(t)
	if _, _, err := BeginPixelData(m, 1, TableNone); err != nil {
		t.Fatal(err)
	}
	if _, err := WriteFrameItem(m, testFrames[0]); err != nil {
		t.Fatal(err)
	}
	// No delimiter: the scan runs off the end.
	_, err := ParseFrames(m, 1)
	if !errors.Is(err, ErrNoDelimiter) {
		t.Fatalf("err = %v, want ErrNoDelimiter", err)
	}
}

func TestParseFramesOddItemLength(t *testing.T) {
	m := newTestFile(t)
	if _, _, err := BeginPixelData(m, 1, TableNone); err != nil {
		t.Fatal(err)
	}
	writeTag(m, TagItem)
	writeUint32(m, 7)
	m.Write([]byte{1, 2, 3, 4, 5, 6, 7})
	WriteDelimiter(m)

	_, err := ParseFrames(m, 1)
	if !errors.Is(err, ErrFormat) {
		t.Fatalf("err = %v, want ErrFormat", err)
	}
}

func TestParseFramesDefinedPixelDataLength(t *testing.T) {
	m := newTestFile(t)
	if err := writeElementHeader(m, TagPixelData, "OB", 16); err != nil {
		t.Fatal(err)
	}
	m.Write(make([]byte, 16))
	_, err := ParseFrames(m, 1)
	if !errors.Is(err, ErrFormat) {
		t.Fatalf("err = %v, want ErrFormat", err)
	}
}

func TestBackpatchBasicTableOverflow(t *testing.T) {
	m := newTestFile(t)
	tableStart, pixelsStart, err := BeginPixelData(m, 1, TableBasic)
	if err != nil {
		t.Fatal(err)
	}
	err = BackpatchBasicTable(m, tableStart, pixelsStart, []int64{pixelsStart + 1<<32})
	if !errors.Is(err, ErrTableOverflow) {
		t.Fatalf("err = %v, want ErrTableOverflow", err)
	}
}

func TestExtendedTableLengths(t *testing.T) {
	m := writeTestStream(t, TableExtended)
	if _, err := SeekPixelData(m); err != nil {
		t.Fatal(err)
	}
	// Skip the offsets value, then read the lengths entries directly.
	length, err := readElementLength(m)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Seek(int64(length), io.SeekCurrent); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Seek(extendedHeaderSize, io.SeekCurrent); err != nil {
		t.Fatal(err)
	}
	lengths := make([]uint64, len(testFrames))
	if err := binary.Read(m, binary.LittleEndian, lengths); err != nil {
		t.Fatal(err)
	}
	// Entries for all but the last frame span item header to item header;
	// the last entry is the padded payload length.
	for i := 0; i < len(testFrames)-1; i++ {
		padded := len(testFrames[i]) + len(testFrames[i])%2
		want := uint64(padded + ItemHeaderSize)
		if lengths[i] != want {
			t.Errorf("lengths[%d] = %d, want %d", i, lengths[i], want)
		}
	}
	last := testFrames[len(testFrames)-1]
	if want := uint64(len(last) + len(last)%2); lengths[len(lengths)-1] != want {
		t.Errorf("last length = %d, want %d", lengths[len(lengths)-1], want)
	}
}

// The frame stream must end with the sequence delimitation tag
// (FFFE,E0DD), checked against the wire bytes.
func TestWriteDelimiterBytes(t *testing.T) {
	m := &memFile{}
	if err := WriteDelimiter(m); err != nil {
		t.Fatal(err)
	}
	want := []byte{0xFE, 0xFF, 0xDD, 0xE0, 0x00, 0x00, 0x00, 0x00}
	if !bytes.Equal(m.buf, want) {
		t.Fatalf("delimiter bytes = % X, want % X", m.buf, want)
	}
}

func TestCheckPreamble(t *testing.T) {
	m := &memFile{}
	m.Write(make([]byte, 128))
	m.Write([]byte("DICX"))
	if err := CheckPreamble(m); !errors.Is(err, ErrFormat) {
		t.Fatalf("err = %v, want ErrFormat", err)
	}

	good := newTestFile(t)
	if err := CheckPreamble(good); err != nil {
		t.Fatalf("CheckPreamble: %v", err)
	}
}
