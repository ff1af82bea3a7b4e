package wsi

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/mrjoshuak/go-wsidicom/codec"
	"github.com/mrjoshuak/go-wsidicom/geometry"
	"github.com/mrjoshuak/go-wsidicom/internal/encaps"
	"github.com/mrjoshuak/go-wsidicom/uid"
)

// chunkHinter lets a tile source suggest the minimum number of tiles per
// worker chunk. Sources that read sequentially benefit from row-sized
// chunks.
type chunkHinter interface {
	SuggestedMinimumChunkSize() int
}

// Writer writes one whole-slide image instance to a file. Frames are
// encoded by a worker pool but written strictly in index order, so the
// output is deterministic regardless of worker count.
type Writer struct {
	file *os.File
	opts WriterOptions
}

// NewWriter creates the output file.
func NewWriter(path string, opts WriterOptions) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &Writer{file: f, opts: opts}, nil
}

// Close closes the output file.
func (w *Writer) Close() error {
	return w.file.Close()
}

// WriteInstance writes a full instance file from the source and returns the
// SOP instance UID of the written instance.
func WriteInstance(path string, base uid.BaseUIDs, src TileSource, opts WriterOptions) (string, error) {
	w, err := NewWriter(path, opts)
	if err != nil {
		return "", err
	}
	instanceUID, err := w.Write(base, src)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", err
	}
	return instanceUID, nil
}

// Write writes the instance: the dataset with a fresh SOP instance UID,
// the reserved offset table, every frame in full tiling order (tiles
// row-major, then focal plane, then optical path), the sequence delimiter,
// and finally the backpatched table.
func (w *Writer) Write(base uid.BaseUIDs, src TileSource) (string, error) {
	minimumChunk := 1
	if h, ok := src.(chunkHinter); ok {
		minimumChunk = h.SuggestedMinimumChunkSize()
	}
	opts := w.opts.normalize(minimumChunk)
	table, err := opts.OffsetTable.tableType()
	if err != nil {
		return "", err
	}

	planes := src.FocalPlanes()
	paths := src.OpticalPaths()
	imageSize := src.ImageSize()
	spacing := src.PixelSpacing()
	tiled := src.TiledSize()
	if opts.Scale > 1 {
		imageSize = imageSize.DivCeil(geometry.Size{Width: opts.Scale, Height: opts.Scale})
		spacing = geometry.SizeMm{
			Width:  spacing.Width * float64(opts.Scale),
			Height: spacing.Height * float64(opts.Scale),
		}
		tiled = imageSize.DivCeil(src.TileSize())
	}
	frameCount := tiled.Area() * len(planes) * len(paths)

	instanceUID := uid.New()
	ds, err := buildDataset(base, src, instanceUID, frameCount, imageSize, spacing)
	if err != nil {
		return "", err
	}
	if err := dicom.Write(w.file, ds, dicom.SkipVRVerification()); err != nil {
		return "", fmt.Errorf("writing dataset: %w", err)
	}

	tableStart, pixelsStart, err := encaps.BeginPixelData(w.file, frameCount, table)
	if err != nil {
		return "", err
	}

	encodeOpts := codec.Options{Quality: opts.Quality}
	itemPositions := make([]int64, 0, frameCount)
	var lastLength uint32
	for _, path := range paths {
		for _, z := range planes {
			positions, length, err := w.writePlane(src, z, path, tiled, opts, encodeOpts)
			if err != nil {
				return "", err
			}
			itemPositions = append(itemPositions, positions...)
			lastLength = length
		}
	}
	if err := encaps.WriteDelimiter(w.file); err != nil {
		return "", err
	}

	switch table {
	case encaps.TableBasic:
		err = encaps.BackpatchBasicTable(w.file, tableStart, pixelsStart, itemPositions)
	case encaps.TableExtended:
		err = encaps.BackpatchExtendedTable(w.file, tableStart, pixelsStart, itemPositions, lastLength)
	}
	if err != nil {
		return "", err
	}
	if err := w.file.Sync(); err != nil {
		return "", err
	}
	return instanceUID, nil
}

// writePlane encodes and writes every tile of one (focal plane, optical
// path) pair. Chunks are encoded in parallel into indexed slots and drained
// in submission order. Returns the item tag positions and the padded length
// of the last written frame.
func (w *Writer) writePlane(src TileSource, z float64, path string, tiled geometry.Size, opts WriterOptions, encodeOpts codec.Options) ([]int64, uint32, error) {
	tiles := (geometry.Region{Size: tiled}).Points(false)
	chunks := chunkTilePoints(tiles, opts.ChunkSize)

	encoded, err := parallelChunks(opts.Workers, len(chunks), func(i int) ([][]byte, error) {
		out := make([][]byte, len(chunks[i]))
		for j, tile := range chunks[i] {
			data, err := encodeWriterTile(src, tile, z, path, opts.Scale, encodeOpts)
			if err != nil {
				return nil, err
			}
			out[j] = data
		}
		return out, nil
	})
	if err != nil {
		return nil, 0, err
	}

	positions := make([]int64, 0, len(tiles))
	var lastLength uint32
	for _, chunk := range encoded {
		for _, payload := range chunk {
			pos, err := encaps.WriteFrameItem(w.file, payload)
			if err != nil {
				return nil, 0, err
			}
			positions = append(positions, pos)
			lastLength = uint32(len(payload) + len(payload)%2)
		}
	}
	return positions, lastLength, nil
}

// encodeWriterTile produces one output frame: the stored payload (or its
// cropped re-encode) at native scale, or a downscaled tile synthesized from
// the finer level when a scale factor is set.
func encodeWriterTile(src TileSource, tile geometry.Point, z float64, path string, scale int, opts codec.Options) ([]byte, error) {
	if scale <= 1 {
		return encodedTile(src, tile, z, path, opts)
	}
	img, err := ScaledTile(src, tile, z, path, scale)
	if err != nil {
		return nil, err
	}
	return src.Codec().Encode(img, opts)
}

// chunkTilePoints splits the row-major tile points into chunks of at most
// size tiles, preserving order.
func chunkTilePoints(tiles []geometry.Point, size int) [][]geometry.Point {
	chunks := make([][]geometry.Point, 0, (len(tiles)+size-1)/size)
	for start := 0; start < len(tiles); start += size {
		end := min(start+size, len(tiles))
		chunks = append(chunks, tiles[start:end])
	}
	return chunks
}

// parallelChunks runs fn(i) for i in [0, n) on a fixed pool of workers,
// collecting results into index order.
func parallelChunks(workers, n int, fn func(i int) ([][]byte, error)) ([][][]byte, error) {
	results := make([][][]byte, n)
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		for i := 0; i < n; i++ {
			out, err := fn(i)
			if err != nil {
				return nil, err
			}
			results[i] = out
		}
		return results, nil
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	var errOnce sync.Once
	var firstErr error
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				out, err := fn(i)
				if err != nil {
					errOnce.Do(func() { firstErr = err })
					continue
				}
				results[i] = out
			}
		}()
	}
	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

// buildDataset assembles the output dataset for a full tiling instance.
// imageSize and spacing describe the written level, which differs from the
// source when a scale factor is set.
func buildDataset(base uid.BaseUIDs, src TileSource, instanceUID string, frameCount int, imageSize geometry.Size, spacing geometry.SizeMm) (dicom.Dataset, error) {
	planes := src.FocalPlanes()
	paths := src.OpticalPaths()
	tileSize := src.TileSize()
	photometric := src.Photometric()
	if photometric == "" {
		photometric = "RGB"
	}
	samples := 3
	if photometric == "MONOCHROME2" {
		samples = 1
	}
	now := time.Now()

	b := &datasetBuilder{}
	b.add(tagMediaStorageSOPClassUID, []string{uid.VLWholeSlideMicroscopyImageStorage})
	b.add(tagMediaStorageSOPInstanceUID, []string{instanceUID})
	b.add(tagTransferSyntaxUID, []string{src.Codec().UID()})

	b.add(tagImageType, []string{"ORIGINAL", "PRIMARY", "VOLUME", "NONE"})
	b.add(tagSOPClassUID, []string{uid.VLWholeSlideMicroscopyImageStorage})
	b.add(tagSOPInstanceUID, []string{instanceUID})
	b.add(tagContentDate, []string{now.Format("20060102")})
	b.add(tagContentTime, []string{now.Format("150405")})
	b.add(tagStudyInstanceUID, []string{base.StudyInstance})
	b.add(tagSeriesInstanceUID, []string{base.SeriesInstance})
	b.add(tagInstanceNumber, []string{"1"})
	b.add(tagFrameOfReferenceUID, []string{base.FrameOfReference})
	b.add(tagDimensionOrganization, []string{"TILED_FULL"})
	b.add(tagSamplesPerPixel, []int{samples})
	b.add(tagPhotometric, []string{photometric})
	b.add(tagNumberOfFrames, []string{strconv.Itoa(frameCount)})
	b.add(tagRows, []int{tileSize.Height})
	b.add(tagColumns, []int{tileSize.Width})
	b.add(tagBitsAllocated, []int{8})

	mm := imageSize.ToMm(spacing)
	b.add(tagImagedVolumeWidth, []float64{mm.Width})
	b.add(tagImagedVolumeHeight, []float64{mm.Height})
	b.add(tagImagedVolumeDepth, []float64{planeRange(planes) / 1000})
	b.add(tagMatrixColumns, []int{imageSize.Width})
	b.add(tagMatrixRows, []int{imageSize.Height})
	b.add(tagNumberOfOpticalPaths, []int{len(paths)})
	b.add(tagMatrixFocalPlanes, []int{len(planes)})

	pathItems := make([][]*dicom.Element, 0, len(paths))
	for _, id := range paths {
		item, err := buildItem(tagOpticalPathID, []string{id})
		if err != nil {
			return dicom.Dataset{}, err
		}
		pathItems = append(pathItems, item)
	}
	b.add(tagOpticalPathSequence, pathItems)

	measures := []*dicom.Element{}
	spacingElem, err := dicom.NewElement(tagPixelSpacing, []string{
		formatDS(spacing.Height), formatDS(spacing.Width),
	})
	if err != nil {
		return dicom.Dataset{}, err
	}
	measures = append(measures, spacingElem)
	if len(planes) > 1 {
		sliceSpacing := (planes[1] - planes[0]) / 1000
		e, err := dicom.NewElement(tagSpacingBetweenSlices, []string{formatDS(sliceSpacing)})
		if err != nil {
			return dicom.Dataset{}, err
		}
		measures = append(measures, e)
	}
	measuresSeq, err := dicom.NewElement(tagPixelMeasures, [][]*dicom.Element{measures})
	if err != nil {
		return dicom.Dataset{}, err
	}
	b.add(tagSharedFunctionalGroups, [][]*dicom.Element{{measuresSeq}})

	if b.err != nil {
		return dicom.Dataset{}, b.err
	}
	sort.Slice(b.elements, func(i, j int) bool {
		a, c := b.elements[i].Tag, b.elements[j].Tag
		if a.Group != c.Group {
			return a.Group < c.Group
		}
		return a.Element < c.Element
	})
	return dicom.Dataset{Elements: b.elements}, nil
}

type datasetBuilder struct {
	elements []*dicom.Element
	err      error
}

func (b *datasetBuilder) add(t tag.Tag, value interface{}) {
	if b.err != nil {
		return
	}
	e, err := dicom.NewElement(t, value)
	if err != nil {
		b.err = fmt.Errorf("building element %v: %w", t, err)
		return
	}
	b.elements = append(b.elements, e)
}

func buildItem(t tag.Tag, value interface{}) ([]*dicom.Element, error) {
	e, err := dicom.NewElement(t, value)
	if err != nil {
		return nil, err
	}
	return []*dicom.Element{e}, nil
}

func formatDS(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// planeRange returns the depth covered by the focal planes in micrometers.
func planeRange(planes []float64) float64 {
	if len(planes) < 2 {
		return 0
	}
	return planes[len(planes)-1] - planes[0]
}
