package wsi

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/mrjoshuak/go-wsidicom/codec"
	"github.com/mrjoshuak/go-wsidicom/internal/encaps"
)

var defaultEncodeOptions = codec.Options{}

// OffsetTable selects the frame offset table encoding of a written file.
type OffsetTable string

const (
	// OffsetTableBasic writes the 32-bit basic offset table. Fails when
	// any frame starts beyond the 32-bit range.
	OffsetTableBasic OffsetTable = "basic"

	// OffsetTableExtended writes the 64-bit extended offset table.
	OffsetTableExtended OffsetTable = "extended"

	// OffsetTableNone writes no table; readers fall back to a linear scan.
	OffsetTableNone OffsetTable = "none"
)

func (t OffsetTable) tableType() (encaps.TableType, error) {
	switch t {
	case OffsetTableBasic, "":
		return encaps.TableBasic, nil
	case OffsetTableExtended:
		return encaps.TableExtended, nil
	case OffsetTableNone:
		return encaps.TableNone, nil
	}
	return 0, fmt.Errorf("%w: offset table %q", ErrValidation, string(t))
}

// WriterOptions configures how an instance file is written.
type WriterOptions struct {
	// Workers is the number of goroutines encoding tile chunks.
	Workers int `yaml:"workers"`

	// ChunkSize is the number of tiles submitted to a worker at once. It
	// is rounded down to a multiple of the source's minimum chunk size.
	ChunkSize int `yaml:"chunkSize"`

	// OffsetTable selects the frame offset table encoding.
	OffsetTable OffsetTable `yaml:"offsetTable"`

	// Quality is the lossy encode quality, 1..100. Zero uses the codec
	// default. Lossless codecs ignore it.
	Quality int `yaml:"quality"`

	// Scale downsamples the source by this factor, producing a pyramid
	// level scale times coarser. One writes the source as is.
	Scale int `yaml:"scale"`
}

// DefaultWriterOptions returns options suitable for most writes: one worker
// per CPU, moderate chunks and a basic offset table.
func DefaultWriterOptions() WriterOptions {
	return WriterOptions{
		Workers:     runtime.NumCPU(),
		ChunkSize:   16,
		OffsetTable: OffsetTableBasic,
		Scale:       1,
	}
}

// LoadWriterOptions reads options from a YAML file. Absent fields keep
// their defaults.
func LoadWriterOptions(path string) (WriterOptions, error) {
	opts := DefaultWriterOptions()
	data, err := os.ReadFile(path)
	if err != nil {
		return opts, err
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("%w: %s: %v", ErrValidation, path, err)
	}
	if _, err := opts.OffsetTable.tableType(); err != nil {
		return opts, err
	}
	return opts, nil
}

// normalize fills zero fields with defaults and clamps the chunk size to a
// multiple of the minimum.
func (o WriterOptions) normalize(minimumChunk int) WriterOptions {
	defaults := DefaultWriterOptions()
	if o.Workers < 1 {
		o.Workers = defaults.Workers
	}
	if o.ChunkSize < 1 {
		o.ChunkSize = defaults.ChunkSize
	}
	if minimumChunk > 1 {
		o.ChunkSize = max(minimumChunk, o.ChunkSize/minimumChunk*minimumChunk)
	}
	if o.OffsetTable == "" {
		o.OffsetTable = defaults.OffsetTable
	}
	if o.Scale < 1 {
		o.Scale = 1
	}
	return o
}
