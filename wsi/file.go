package wsi

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/suyashkumar/dicom"

	"github.com/mrjoshuak/go-wsidicom/geometry"
	"github.com/mrjoshuak/go-wsidicom/internal/encaps"
	"github.com/mrjoshuak/go-wsidicom/uid"
)

// File is an opened whole-slide image file: the parsed metadata record plus
// a frame position table built once at open. Frame reads are safe for
// concurrent use; a mutex serializes the seek and read on the shared handle.
type File struct {
	Path    string
	Dataset *Dataset

	mu     sync.Mutex
	handle *os.File
	frames []encaps.FramePosition
}

// OpenFile parses the file metadata and builds the frame position table.
func OpenFile(path string) (*File, error) {
	ds, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFormat, path, err)
	}
	record, err := ParseDataset(ds)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	handle, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if err := encaps.CheckPreamble(handle); err != nil {
		handle.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrFormat, path, err)
	}
	frames, err := encaps.ParseFrames(handle, record.FrameCount)
	if err != nil {
		handle.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrFormat, path, err)
	}

	if record.Tiling == TilingSparse && len(record.Frames) != len(frames) {
		handle.Close()
		return nil, fmt.Errorf("%w: %s: %d frame positions for %d frames",
			ErrFormat, path, len(record.Frames), len(frames))
	}

	return &File{
		Path:    path,
		Dataset: record,
		handle:  handle,
		frames:  frames,
	}, nil
}

// Close releases the file handle.
func (f *File) Close() error {
	return f.handle.Close()
}

// FrameCount returns the number of frames stored in this file.
func (f *File) FrameCount() int {
	return len(f.frames)
}

// Contains reports whether the instance-global frame index is stored in
// this file.
func (f *File) Contains(frame int) bool {
	local := frame - f.Dataset.FrameOffset
	return local >= 0 && local < len(f.frames)
}

// ReadFrame reads the encoded payload of the given instance-global frame.
func (f *File) ReadFrame(frame int) ([]byte, error) {
	local := frame - f.Dataset.FrameOffset
	if local < 0 || local >= len(f.frames) {
		return nil, fmt.Errorf("%w: frame %d not in file %s", ErrNotFound, frame, f.Path)
	}
	pos := f.frames[local]
	buf := make([]byte, pos.Length)

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.handle.Seek(pos.Offset, io.SeekStart); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(f.handle, buf); err != nil {
		return nil, fmt.Errorf("%w: frame %d in %s: %v", ErrFormat, frame, f.Path, err)
	}
	return buf, nil
}

// FilterFiles keeps the files that belong to the given series and share the
// given tile size. Non-matching files are closed and reported as a warning;
// they never fail the open.
func FilterFiles(files []*File, base uid.BaseUIDs, tileSize geometry.Size) []*File {
	kept := files[:0]
	for _, f := range files {
		switch {
		case f.Dataset.SOPClass != uid.VLWholeSlideMicroscopyImageStorage:
			slog.Warn("excluding file with unexpected SOP class",
				"path", f.Path, "sopClass", f.Dataset.SOPClass)
			f.Close()
		case !f.Dataset.MatchesSeries(base):
			slog.Warn("excluding file from different series", "path", f.Path)
			f.Close()
		case f.Dataset.TileSize != tileSize:
			slog.Warn("excluding file with different tile size",
				"path", f.Path, "tileSize", f.Dataset.TileSize)
			f.Close()
		default:
			kept = append(kept, f)
		}
	}
	return kept
}

// GroupFiles groups files by instance identifier (concatenation UID when
// present, SOP instance UID otherwise) and orders each group by frame
// offset. Two files carrying the same SOP instance UID are an error.
func GroupFiles(files []*File) (map[string][]*File, error) {
	seen := make(map[string]string)
	groups := make(map[string][]*File)
	for _, f := range files {
		instance := f.Dataset.UIDs.Instance
		if prev, ok := seen[instance]; ok {
			return nil, fmt.Errorf("%w: %s in %s and %s",
				ErrDuplicateUID, instance, prev, f.Path)
		}
		seen[instance] = f.Path
		id := f.Dataset.UIDs.Identifier()
		groups[id] = append(groups[id], f)
	}
	for _, group := range groups {
		sort.Slice(group, func(i, j int) bool {
			return group[i].Dataset.FrameOffset < group[j].Dataset.FrameOffset
		})
	}
	return groups, nil
}
