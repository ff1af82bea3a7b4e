package wsi

import (
	"fmt"

	"github.com/mrjoshuak/go-wsidicom/geometry"
	"github.com/mrjoshuak/go-wsidicom/uid"
)

// Instance is one logical pyramid level: the ordered parts of a (possibly
// concatenated) instance behind a tile source.
type Instance struct {
	source   *DICOMSource
	datasets []*Dataset
}

// NewInstance validates that the files form one consistent instance and
// builds its tile source.
func NewInstance(files []*File) (*Instance, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: instance without files", ErrValidation)
	}
	datasets := make([]*Dataset, len(files))
	for i, f := range files {
		datasets[i] = f.Dataset
	}
	first := datasets[0]
	for _, d := range datasets[1:] {
		if !d.MatchesInstance(first) {
			return nil, fmt.Errorf("%w: file parts do not form one instance", ErrValidation)
		}
	}
	if first.ExtendedDepthOfField {
		if first.EDOFPlaneCount == 0 || first.EDOFPlaneDistance == 0 {
			return nil, fmt.Errorf("%w: extended depth of field without plane count or distance",
				ErrValidation)
		}
	}
	source, err := NewDICOMSource(files)
	if err != nil {
		return nil, err
	}
	return &Instance{source: source, datasets: datasets}, nil
}

// Source returns the instance's tile source.
func (i *Instance) Source() *DICOMSource { return i.source }

// Dataset returns the metadata record of the first part.
func (i *Instance) Dataset() *Dataset { return i.datasets[0] }

// UIDs returns the instance identity.
func (i *Instance) UIDs() uid.FileUIDs { return i.datasets[0].UIDs }

// ImageSize returns the total pixel matrix size.
func (i *Instance) ImageSize() geometry.Size { return i.source.ImageSize() }

// TileSize returns the tile size.
func (i *Instance) TileSize() geometry.Size { return i.source.TileSize() }

// DefaultZ returns the focal plane closest to the middle of the range.
func (i *Instance) DefaultZ() float64 { return DefaultZ(i.source.FocalPlanes()) }

// DefaultPath returns the first declared optical path.
func (i *Instance) DefaultPath() string { return i.datasets[0].DefaultPath() }

// Close closes the underlying files.
func (i *Instance) Close() error { return i.source.Close() }

// OpenInstances opens the given files and assembles them into instances.
// The first file defines the series identity and tile size; files not
// matching it are excluded with a warning. Files sharing a concatenation
// UID become parts of one instance.
func OpenInstances(paths []string) ([]*Instance, error) {
	files := make([]*File, 0, len(paths))
	closeFiles := func(files []*File) {
		for _, f := range files {
			f.Close()
		}
	}
	for _, path := range paths {
		f, err := OpenFile(path)
		if err != nil {
			closeFiles(files)
			return nil, err
		}
		files = append(files, f)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no files", ErrValidation)
	}

	base := files[0].Dataset.UIDs.Base
	tileSize := files[0].Dataset.TileSize
	files = FilterFiles(files, base, tileSize)
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no files match the series", ErrValidation)
	}

	groups, err := GroupFiles(files)
	if err != nil {
		closeFiles(files)
		return nil, err
	}

	instances := make([]*Instance, 0, len(groups))
	for _, group := range groups {
		instance, err := NewInstance(group)
		if err != nil {
			for _, i := range instances {
				i.Close()
			}
			closeFiles(group)
			return nil, err
		}
		instances = append(instances, instance)
	}
	return instances, nil
}
